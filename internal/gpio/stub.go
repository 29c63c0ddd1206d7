//go:build !linux

package gpio

import (
	"errors"

	"github.com/sweeney/greenhouse-controller/internal/logic"
)

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// RealActuators is not available on non-Linux platforms.
type RealActuators struct{}

// NewRealActuators returns an error on non-Linux platforms.
func NewRealActuators(chipName string, pins Pins, pwmChip string) (*RealActuators, error) {
	return nil, errUnsupported
}

func (a *RealActuators) SetFan(on bool, speed uint8) error { return errUnsupported }

func (a *RealActuators) SetPump(on bool) error { return errUnsupported }

func (a *RealActuators) SetLight(on bool) error { return errUnsupported }

func (a *RealActuators) SetAlarm(kind logic.AlarmKind, sound bool) error { return errUnsupported }

// Close is a no-op on non-Linux platforms.
func (a *RealActuators) Close() error {
	return nil
}
