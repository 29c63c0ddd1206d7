package datalog

import (
	"fmt"
	"log"
	"time"

	"github.com/sweeney/greenhouse-controller/internal/flash"
	"github.com/sweeney/greenhouse-controller/internal/flashlog"
)

// Query selects records by inclusive Unix-second range and type. A zero Type
// matches everything and Max <= 0 means no limit.
type Query struct {
	Start time.Time
	End   time.Time
	Type  Type
	Max   int
}

// Info summarizes the log contents.
type Info struct {
	Total     int
	Sensor    int
	Operation int
	Alarm     int
	Torn      int
	Oldest    time.Time
	Newest    time.Time
	Page      int
	Offset    int
	Capacity  int
}

// DailyStats aggregates one local calendar day.
type DailyStats struct {
	Date           time.Time
	SensorCount    int
	AvgTemperature uint8
	AvgHumidity    uint8
	AvgLight       uint8
	MinTemperature uint8
	MaxTemperature uint8
	OperationCount int
	AlarmCount     int
}

// Logger writes and reads greenhouse records. It is not safe for concurrent
// use; the controller owns it.
type Logger struct {
	store *flashlog.Store
	now   func() time.Time
}

// Open loads the log from region. now stamps new records.
func Open(region flash.Region, now func() time.Time) (*Logger, error) {
	store, err := flashlog.Open(region, flashlog.Options{
		RecordSize: RecordSize,
		ValidType:  func(t byte) bool { return Type(t).Valid() },
	})
	if err != nil {
		return nil, fmt.Errorf("open data log: %w", err)
	}
	if now == nil {
		now = time.Now
	}
	l := &Logger{store: store, now: now}
	info := l.Info()
	log.Printf("datalog: %d records (%d sensor, %d operation, %d alarm), %d torn, cursor page %d slot %d",
		info.Total, info.Sensor, info.Operation, info.Alarm, info.Torn, info.Page, info.Offset)
	return l, nil
}

func (l *Logger) stamp() uint32 {
	return uint32(l.now().Unix())
}

// Write appends r as given, including its timestamp.
func (l *Logger) Write(r Record) error {
	if err := l.store.Append(Encode(r)); err != nil {
		return fmt.Errorf("log %s record: %w", r.Kind(), err)
	}
	return nil
}

// WriteSensor logs a sensor snapshot stamped with the current time.
func (l *Logger) WriteSensor(r SensorRecord) error {
	r.Timestamp = l.stamp()
	return l.Write(r)
}

// WriteOperation logs a device or mode change stamped with the current time.
func (l *Logger) WriteOperation(op Op, old, new uint8, trigger Trigger) error {
	return l.Write(OperationRecord{
		Timestamp: l.stamp(),
		Op:        op,
		Old:       old,
		New:       new,
		Trigger:   trigger,
	})
}

// WriteAlarm logs an alarm bitset change stamped with the current time.
func (l *Logger) WriteAlarm(flags, active, temp, humi, light uint8) error {
	return l.Write(AlarmRecord{
		Timestamp:   l.stamp(),
		Flags:       flags,
		Active:      active,
		Temperature: temp,
		Humidity:    humi,
		Light:       light,
	})
}

// Query returns matching records, newest first.
func (l *Logger) Query(q Query) ([]Record, error) {
	f := flashlog.Filter{
		Start: unixSeconds(q.Start, 0),
		End:   unixSeconds(q.End, ^uint32(0)),
		Type:  byte(q.Type),
		Max:   q.Max,
	}
	raw, err := l.store.Query(f)
	if err != nil {
		return nil, fmt.Errorf("query data log: %w", err)
	}

	out := make([]Record, 0, len(raw))
	for _, b := range raw {
		r, err := Decode(b)
		if err != nil {
			// The store only returns slots with a valid type byte.
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Recent returns up to n of the newest records.
func (l *Logger) Recent(n int) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}
	return l.Query(Query{Max: n})
}

// DailyStats aggregates every record stamped within the local calendar day
// containing day.
func (l *Logger) DailyStats(day time.Time) (DailyStats, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1).Add(-time.Second)

	recs, err := l.Query(Query{Start: start, End: end})
	if err != nil {
		return DailyStats{}, err
	}

	stats := DailyStats{Date: start}
	var sumT, sumH, sumL int
	for _, r := range recs {
		switch r := r.(type) {
		case SensorRecord:
			if stats.SensorCount == 0 || r.Temperature < stats.MinTemperature {
				stats.MinTemperature = r.Temperature
			}
			if stats.SensorCount == 0 || r.Temperature > stats.MaxTemperature {
				stats.MaxTemperature = r.Temperature
			}
			stats.SensorCount++
			sumT += int(r.Temperature)
			sumH += int(r.Humidity)
			sumL += int(r.Light)
		case OperationRecord:
			stats.OperationCount++
		case AlarmRecord:
			stats.AlarmCount++
		}
	}
	if stats.SensorCount > 0 {
		stats.AvgTemperature = uint8(sumT / stats.SensorCount)
		stats.AvgHumidity = uint8(sumH / stats.SensorCount)
		stats.AvgLight = uint8(sumL / stats.SensorCount)
	}
	return stats, nil
}

// Info returns record counts and the write position.
func (l *Logger) Info() Info {
	si := l.store.Info()
	info := Info{
		Total:     si.Total,
		Sensor:    si.ByType[byte(TypeSensor)],
		Operation: si.ByType[byte(TypeOperation)],
		Alarm:     si.ByType[byte(TypeAlarm)],
		Torn:      si.Torn,
		Page:      si.Page,
		Offset:    si.Offset,
		Capacity:  l.store.Capacity(),
	}
	if si.Total > 0 {
		info.Oldest = time.Unix(int64(si.Oldest), 0)
		info.Newest = time.Unix(int64(si.Newest), 0)
	}
	return info
}

// EraseAll clears the whole log.
func (l *Logger) EraseAll() error {
	if err := l.store.EraseAll(); err != nil {
		return fmt.Errorf("erase data log: %w", err)
	}
	log.Printf("datalog: erased")
	return nil
}

func unixSeconds(t time.Time, zero uint32) uint32 {
	if t.IsZero() {
		return zero
	}
	s := t.Unix()
	switch {
	case s < 0:
		return 0
	case s > int64(^uint32(0)):
		return ^uint32(0)
	}
	return uint32(s)
}
