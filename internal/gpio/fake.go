package gpio

import (
	"fmt"

	"github.com/sweeney/greenhouse-controller/internal/logic"
)

// FakeActuators is a test double that records output changes.
type FakeActuators struct {
	Fan      bool
	FanSpeed uint8
	Pump     bool
	Light    bool
	Alarm    logic.AlarmKind
	Sound    bool

	// Calls records every call as a short string, e.g. "fan on 35".
	Calls []string

	// Closed tracks if Close was called
	Closed bool

	// Err, if set, is returned by every setter after recording the call.
	Err error
}

// NewFakeActuators creates a FakeActuators with everything off.
func NewFakeActuators() *FakeActuators {
	return &FakeActuators{}
}

func (f *FakeActuators) SetFan(on bool, speed uint8) error {
	f.Calls = append(f.Calls, fmt.Sprintf("fan %s %d", onOff(on), speed))
	if f.Err != nil {
		return f.Err
	}
	f.Fan, f.FanSpeed = on, speed
	return nil
}

func (f *FakeActuators) SetPump(on bool) error {
	f.Calls = append(f.Calls, "pump "+onOff(on))
	if f.Err != nil {
		return f.Err
	}
	f.Pump = on
	return nil
}

func (f *FakeActuators) SetLight(on bool) error {
	f.Calls = append(f.Calls, "light "+onOff(on))
	if f.Err != nil {
		return f.Err
	}
	f.Light = on
	return nil
}

func (f *FakeActuators) SetAlarm(kind logic.AlarmKind, sound bool) error {
	f.Calls = append(f.Calls, fmt.Sprintf("alarm %s sound=%v", kind, sound))
	if f.Err != nil {
		return f.Err
	}
	f.Alarm, f.Sound = kind, sound
	return nil
}

// Close switches everything off and marks the fake closed.
func (f *FakeActuators) Close() error {
	f.Fan, f.FanSpeed, f.Pump, f.Light = false, 0, false, false
	f.Alarm, f.Sound = logic.AlarmNone, false
	f.Closed = true
	return nil
}

// Reset clears recorded calls.
func (f *FakeActuators) Reset() {
	f.Calls = nil
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
