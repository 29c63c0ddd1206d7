// Package gpio drives the greenhouse actuators with hardware abstraction.
// The real implementation uses the Linux GPIO character device for on/off
// outputs and sysfs PWM for fan speed.
// The fake implementation allows testing without hardware.
package gpio

import "github.com/sweeney/greenhouse-controller/internal/logic"

// Actuators switches the greenhouse outputs.
type Actuators interface {
	// SetFan switches the fan and sets its duty in percent (0-100).
	SetFan(on bool, speed uint8) error

	SetPump(on bool) error

	SetLight(on bool) error

	// SetAlarm lights the alarm LED for any kind other than AlarmNone and
	// sounds the buzzer when sound is also true.
	SetAlarm(kind logic.AlarmKind, sound bool) error

	// Close switches every output off and releases resources.
	Close() error
}

// Pins holds output line offsets (BCM numbering).
type Pins struct {
	Fan    int
	Pump   int
	Light  int
	Alarm  int
	Buzzer int
}

// DefaultPins is the reference wiring.
var DefaultPins = Pins{
	Fan:    17,
	Pump:   27,
	Light:  22,
	Alarm:  23,
	Buzzer: 24,
}
