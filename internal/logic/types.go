// Package logic contains the pure decision making for the greenhouse:
// hysteresis control of the fan, pump and grow light, and alarm evaluation.
// This package has NO external dependencies (no GPIO, flash, serial or
// time.Sleep). Time is always injectable via time.Time parameters.
package logic

import (
	"fmt"
	"time"
)

// State is the logical state of a device.
type State string

const (
	StateOn  State = "ON"
	StateOff State = "OFF"
)

// StateOf maps a boolean to a State.
func StateOf(on bool) State {
	if on {
		return StateOn
	}
	return StateOff
}

// Device identifies an actuator.
type Device int

const (
	DeviceFan Device = iota
	DevicePump
	DeviceLight

	NumDevices
)

func (d Device) String() string {
	switch d {
	case DeviceFan:
		return "FAN"
	case DevicePump:
		return "PUMP"
	case DeviceLight:
		return "LIGHT"
	}
	return fmt.Sprintf("DEVICE_%d", int(d))
}

// Mode is the control mode.
type Mode uint8

const (
	ModeAuto   Mode = 0
	ModeManual Mode = 1
)

func (m Mode) String() string {
	if m == ModeManual {
		return "MANUAL"
	}
	return "AUTO"
}

// Trigger is what caused a device or mode change.
type Trigger uint8

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
	return fmt.Sprintf("trigger_%d", uint8(t))
}

// Valid sensor ranges. Readings outside them are treated as failures.
const (
	TempMin  = 0
	TempMax  = 50
	HumiMin  = 20
	HumiMax  = 90
	LightMax = 100
)

// SensorError flags which sensor reads failed since the last good read.
type SensorError uint8

const (
	SensorErrClimate SensorError = 0x01
	SensorErrLight   SensorError = 0x02
)

// Snapshot is one set of readings. When a sensor fails the last valid value
// is carried forward and the matching SensorError bit is set.
type Snapshot struct {
	Time        time.Time
	Temperature uint8 // °C
	Humidity    uint8 // %RH
	Light       uint8 // %
	SensorError SensorError
}

// Outputs are the current on/off states of the devices.
type Outputs struct {
	Fan   bool
	Pump  bool
	Light bool
}

// Band is a switching threshold with its hysteresis width.
type Band struct {
	On         uint8
	Hysteresis uint8
}

// Thresholds are the control bands for all three devices.
type Thresholds struct {
	Temperature Band
	Humidity    Band
	Light       Band
}

// AlarmLimits are the alarm thresholds.
type AlarmLimits struct {
	TempHigh uint8
	TempLow  uint8
	HumiHigh uint8
	HumiLow  uint8
	LightLow uint8
}

// EventType names a published change.
type EventType string

const (
	EventFanOn      EventType = "FAN_ON"
	EventFanOff     EventType = "FAN_OFF"
	EventPumpOn     EventType = "PUMP_ON"
	EventPumpOff    EventType = "PUMP_OFF"
	EventLightOn    EventType = "LIGHT_ON"
	EventLightOff   EventType = "LIGHT_OFF"
	EventModeAuto   EventType = "MODE_AUTO"
	EventModeManual EventType = "MODE_MANUAL"
	EventAlarm      EventType = "ALARM"
)

// DeviceEvent returns the event type for switching d on or off.
func DeviceEvent(d Device, on bool) EventType {
	return EventType(fmt.Sprintf("%s_%s", d, StateOf(on)))
}

// Event is a change worth telling the outside world about.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Trigger   Trigger
	// FanSpeed is set on fan events.
	FanSpeed uint8
	// Alarms and Active are set on alarm events.
	Alarms AlarmFlags
	Active AlarmKind
	// Readings at the time of the event.
	Temperature uint8
	Humidity    uint8
	Light       uint8
}

// RunStatus tracks on-time for one device. It only changes on real edges.
type RunStatus struct {
	On          bool
	LastOn      time.Time
	LastOff     time.Time
	TotalRun    time.Duration
	SwitchCount int
}

// Switch records a change to on at now. It returns false, leaving the status
// untouched, when the device is already in that state.
func (r *RunStatus) Switch(on bool, now time.Time) bool {
	if r.On == on {
		return false
	}
	r.On = on
	r.SwitchCount++
	if on {
		r.LastOn = now
	} else {
		r.LastOff = now
		if !r.LastOn.IsZero() {
			r.TotalRun += now.Sub(r.LastOn)
		}
	}
	return true
}

// RunTime returns total on-time including the current on period.
func (r RunStatus) RunTime(now time.Time) time.Duration {
	total := r.TotalRun
	if r.On && !r.LastOn.IsZero() {
		total += now.Sub(r.LastOn)
	}
	return total
}

// SwitchCounts holds per-device edge counts since startup.
type SwitchCounts struct {
	Fan   int
	Pump  int
	Light int
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    SwitchCounts
	Alarms    AlarmFlags
}
