package web

import (
	"time"

	"github.com/sweeney/greenhouse-controller/internal/datalog"
	"github.com/sweeney/greenhouse-controller/internal/logic"
)

// ErrorJSON is returned with every non-2xx API response.
type ErrorJSON struct {
	Error string `json:"error"`
}

// RecordsJSON is the /records response, newest first.
type RecordsJSON struct {
	Count   int          `json:"count"`
	Records []RecordJSON `json:"records"`
}

// RecordJSON is one log record. Exactly one of the detail fields is set.
type RecordJSON struct {
	Timestamp string         `json:"timestamp"`
	Type      string         `json:"type"`
	Sensor    *SensorJSON    `json:"sensor,omitempty"`
	Operation *OperationJSON `json:"operation,omitempty"`
	Alarm     *AlarmJSON     `json:"alarm,omitempty"`
}

// SensorJSON is a periodic sample.
type SensorJSON struct {
	Temperature uint8    `json:"temperature"`
	Humidity    uint8    `json:"humidity"`
	Light       uint8    `json:"light"`
	Fan         bool     `json:"fan"`
	Pump        bool     `json:"pump"`
	GrowLight   bool     `json:"grow_light"`
	Mode        string   `json:"mode"`
	Alarms      []string `json:"alarms"`
}

// OperationJSON is a device or mode change.
type OperationJSON struct {
	Op      string `json:"op"`
	Old     uint8  `json:"old"`
	New     uint8  `json:"new"`
	Trigger string `json:"trigger"`
}

// AlarmJSON is a change of the alarm set.
type AlarmJSON struct {
	Alarms      []string `json:"alarms"`
	Active      string   `json:"active"`
	Temperature uint8    `json:"temperature"`
	Humidity    uint8    `json:"humidity"`
	Light       uint8    `json:"light"`
}

// StatsJSON is the /stats/{date} response.
type StatsJSON struct {
	Date           string `json:"date"`
	SensorCount    int    `json:"sensor_count"`
	AvgTemperature uint8  `json:"avg_temperature"`
	AvgHumidity    uint8  `json:"avg_humidity"`
	AvgLight       uint8  `json:"avg_light"`
	MinTemperature uint8  `json:"min_temperature"`
	MaxTemperature uint8  `json:"max_temperature"`
	OperationCount int    `json:"operation_count"`
	AlarmCount     int    `json:"alarm_count"`
}

func alarmNames(flags uint8) []string {
	names := logic.AlarmFlags(flags).Names()
	if names == nil {
		return []string{}
	}
	return names
}

func formatRecord(r datalog.Record) RecordJSON {
	out := RecordJSON{
		Timestamp: time.Unix(int64(r.Time()), 0).UTC().Format(time.RFC3339),
		Type:      r.Kind().String(),
	}
	switch r := r.(type) {
	case datalog.SensorRecord:
		out.Sensor = &SensorJSON{
			Temperature: r.Temperature,
			Humidity:    r.Humidity,
			Light:       r.Light,
			Fan:         r.Fan,
			Pump:        r.Pump,
			GrowLight:   r.LightDev,
			Mode:        logic.Mode(r.Mode).String(),
			Alarms:      alarmNames(r.AlarmFlags),
		}
	case datalog.OperationRecord:
		out.Operation = &OperationJSON{
			Op:      r.Op.String(),
			Old:     r.Old,
			New:     r.New,
			Trigger: r.Trigger.String(),
		}
	case datalog.AlarmRecord:
		out.Alarm = &AlarmJSON{
			Alarms:      alarmNames(r.Flags),
			Active:      logic.AlarmKind(r.Active).String(),
			Temperature: r.Temperature,
			Humidity:    r.Humidity,
			Light:       r.Light,
		}
	}
	return out
}

func formatRecords(recs []datalog.Record) RecordsJSON {
	out := RecordsJSON{Count: len(recs), Records: make([]RecordJSON, 0, len(recs))}
	for _, r := range recs {
		out.Records = append(out.Records, formatRecord(r))
	}
	return out
}

func formatStats(date string, s datalog.DailyStats) StatsJSON {
	return StatsJSON{
		Date:           date,
		SensorCount:    s.SensorCount,
		AvgTemperature: s.AvgTemperature,
		AvgHumidity:    s.AvgHumidity,
		AvgLight:       s.AvgLight,
		MinTemperature: s.MinTemperature,
		MaxTemperature: s.MaxTemperature,
		OperationCount: s.OperationCount,
		AlarmCount:     s.AlarmCount,
	}
}
