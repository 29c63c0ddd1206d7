// Package datalog records sensor samples, device operations and alarm changes
// as 16-byte records in the circular flash log.
package datalog

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sweeney/greenhouse-controller/internal/flashlog"
)

// RecordSize is the on-flash size of every record.
const RecordSize = 16

// Type identifies the kind of record, stored at byte 4.
type Type byte

const (
	TypeSensor    Type = 1
	TypeOperation Type = 2
	TypeAlarm     Type = 3
)

func (t Type) String() string {
	switch t {
	case TypeSensor:
		return "sensor"
	case TypeOperation:
		return "operation"
	case TypeAlarm:
		return "alarm"
	}
	return fmt.Sprintf("type(%d)", byte(t))
}

// Valid reports whether t is a known record type.
func (t Type) Valid() bool {
	return t >= TypeSensor && t <= TypeAlarm
}

// ParseType maps a name such as "sensor" to its Type.
func ParseType(s string) (Type, error) {
	for _, t := range []Type{TypeSensor, TypeOperation, TypeAlarm} {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown record type %q", s)
}

// Op is an operation code in an operation record.
type Op byte

const (
	OpFanOn Op = iota + 1
	OpFanOff
	OpPumpOn
	OpPumpOff
	OpLightOn
	OpLightOff
	OpModeAuto
	OpModeManual
)

var opNames = map[Op]string{
	OpFanOn:      "FAN_ON",
	OpFanOff:     "FAN_OFF",
	OpPumpOn:     "PUMP_ON",
	OpPumpOff:    "PUMP_OFF",
	OpLightOn:    "LIGHT_ON",
	OpLightOff:   "LIGHT_OFF",
	OpModeAuto:   "MODE_AUTO",
	OpModeManual: "MODE_MANUAL",
}

func (o Op) String() string {
	if n, ok := opNames[o]; ok {
		return n
	}
	return fmt.Sprintf("OP_%d", byte(o))
}

// Trigger says what caused an operation.
type Trigger byte

const (
	TriggerAuto   Trigger = 0
	TriggerManual Trigger = 1
	TriggerTimed  Trigger = 2
)

func (t Trigger) String() string {
	switch t {
	case TriggerAuto:
		return "auto"
	case TriggerManual:
		return "manual"
	case TriggerTimed:
		return "timed"
	}
	return fmt.Sprintf("trigger(%d)", byte(t))
}

var (
	ErrShortRecord = errors.New("datalog: short record")
	ErrUnknownType = errors.New("datalog: unknown record type")
)

// Record is one decoded log entry.
type Record interface {
	Kind() Type
	Time() uint32
	encode(b []byte)
}

// SensorRecord is a periodic snapshot of readings and device states.
type SensorRecord struct {
	Timestamp   uint32
	Temperature uint8
	Humidity    uint8
	Light       uint8
	Fan         bool
	Pump        bool
	LightDev    bool
	Mode        uint8
	AlarmFlags  uint8
}

// OperationRecord is a device or mode change.
type OperationRecord struct {
	Timestamp uint32
	Op        Op
	Old       uint8
	New       uint8
	Trigger   Trigger
}

// AlarmRecord captures the alarm bitset after a change.
type AlarmRecord struct {
	Timestamp   uint32
	Flags       uint8
	Active      uint8
	Temperature uint8
	Humidity    uint8
	Light       uint8
}

func (r SensorRecord) Kind() Type      { return TypeSensor }
func (r SensorRecord) Time() uint32    { return r.Timestamp }
func (r OperationRecord) Kind() Type   { return TypeOperation }
func (r OperationRecord) Time() uint32 { return r.Timestamp }
func (r AlarmRecord) Kind() Type       { return TypeAlarm }
func (r AlarmRecord) Time() uint32     { return r.Timestamp }

func (r SensorRecord) encode(b []byte) {
	b[5] = r.Temperature
	b[6] = r.Humidity
	b[7] = r.Light
	b[8] = boolByte(r.Fan)
	b[9] = boolByte(r.Pump)
	b[10] = boolByte(r.LightDev)
	b[11] = r.Mode
	b[12] = r.AlarmFlags
}

func (r OperationRecord) encode(b []byte) {
	b[5] = byte(r.Op)
	b[6] = r.Old
	b[7] = r.New
	b[8] = byte(r.Trigger)
}

func (r AlarmRecord) encode(b []byte) {
	b[5] = r.Flags
	b[6] = r.Active
	b[7] = r.Temperature
	b[8] = r.Humidity
	b[9] = r.Light
}

// Encode lays r out in its 16-byte flash form. Unused bytes are zero.
func Encode(r Record) []byte {
	b := make([]byte, RecordSize)
	binary.LittleEndian.PutUint32(b[flashlog.TimestampOffset:], r.Time())
	b[flashlog.TypeOffset] = byte(r.Kind())
	r.encode(b)
	return b
}

// Decode parses a 16-byte flash record.
func Decode(b []byte) (Record, error) {
	if len(b) < RecordSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortRecord, len(b))
	}
	ts := binary.LittleEndian.Uint32(b[flashlog.TimestampOffset:])
	switch Type(b[flashlog.TypeOffset]) {
	case TypeSensor:
		return SensorRecord{
			Timestamp:   ts,
			Temperature: b[5],
			Humidity:    b[6],
			Light:       b[7],
			Fan:         b[8] != 0,
			Pump:        b[9] != 0,
			LightDev:    b[10] != 0,
			Mode:        b[11],
			AlarmFlags:  b[12],
		}, nil
	case TypeOperation:
		return OperationRecord{
			Timestamp: ts,
			Op:        Op(b[5]),
			Old:       b[6],
			New:       b[7],
			Trigger:   Trigger(b[8]),
		}, nil
	case TypeAlarm:
		return AlarmRecord{
			Timestamp:   ts,
			Flags:       b[5],
			Active:      b[6],
			Temperature: b[7],
			Humidity:    b[8],
			Light:       b[9],
		}, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownType, b[flashlog.TypeOffset])
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
