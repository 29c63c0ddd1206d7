//go:build linux

package gpio

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/warthog618/go-gpiocdev"

	"github.com/sweeney/greenhouse-controller/internal/logic"
)

// pwmPeriodNs gives a 25kHz fan PWM, above the audible range.
const pwmPeriodNs = 40000

// RealActuators drives outputs on actual hardware using the Linux GPIO
// character device, with fan speed on a sysfs PWM channel.
type RealActuators struct {
	chip   *gpiocdev.Chip
	fan    *gpiocdev.Line
	pump   *gpiocdev.Line
	light  *gpiocdev.Line
	alarm  *gpiocdev.Line
	buzzer *gpiocdev.Line

	// pwmDir is e.g. /sys/class/pwm/pwmchip0/pwm0; empty disables speed control.
	pwmDir string
}

// NewRealActuators requests every output line, driven low, and exports
// channel 0 of pwmChip when one is given.
func NewRealActuators(chipName string, pins Pins, pwmChip string) (*RealActuators, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	a := &RealActuators{chip: chip}
	requests := []struct {
		name string
		pin  int
		dst  **gpiocdev.Line
	}{
		{"fan", pins.Fan, &a.fan},
		{"pump", pins.Pump, &a.pump},
		{"light", pins.Light, &a.light},
		{"alarm", pins.Alarm, &a.alarm},
		{"buzzer", pins.Buzzer, &a.buzzer},
	}
	for _, r := range requests {
		line, err := chip.RequestLine(r.pin, gpiocdev.AsOutput(0), gpiocdev.WithConsumer("greenhouse-"+r.name))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("request %s pin %d: %w", r.name, r.pin, err)
		}
		*r.dst = line
	}

	if pwmChip != "" {
		dir, err := exportPWM(pwmChip)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.pwmDir = dir
	}
	return a, nil
}

func exportPWM(chipDir string) (string, error) {
	dir := filepath.Join(chipDir, "pwm0")
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.WriteFile(filepath.Join(chipDir, "export"), []byte("0"), 0o200); err != nil {
			return "", fmt.Errorf("export pwm: %w", err)
		}
	}
	if err := writeSysfs(dir, "period", pwmPeriodNs); err != nil {
		return "", err
	}
	if err := writeSysfs(dir, "duty_cycle", 0); err != nil {
		return "", err
	}
	if err := writeSysfs(dir, "enable", 1); err != nil {
		return "", err
	}
	return dir, nil
}

func writeSysfs(dir, attr string, v int) error {
	if err := os.WriteFile(filepath.Join(dir, attr), []byte(strconv.Itoa(v)), 0o644); err != nil {
		return fmt.Errorf("write pwm %s: %w", attr, err)
	}
	return nil
}

func setLine(l *gpiocdev.Line, on bool) error {
	v := 0
	if on {
		v = 1
	}
	return l.SetValue(v)
}

// SetFan drives the fan enable line and the PWM duty.
func (a *RealActuators) SetFan(on bool, speed uint8) error {
	if speed > 100 {
		speed = 100
	}
	if !on {
		speed = 0
	}
	if a.pwmDir != "" {
		if err := writeSysfs(a.pwmDir, "duty_cycle", pwmPeriodNs*int(speed)/100); err != nil {
			return err
		}
	}
	if err := setLine(a.fan, on); err != nil {
		return fmt.Errorf("set fan: %w", err)
	}
	return nil
}

func (a *RealActuators) SetPump(on bool) error {
	if err := setLine(a.pump, on); err != nil {
		return fmt.Errorf("set pump: %w", err)
	}
	return nil
}

func (a *RealActuators) SetLight(on bool) error {
	if err := setLine(a.light, on); err != nil {
		return fmt.Errorf("set light: %w", err)
	}
	return nil
}

func (a *RealActuators) SetAlarm(kind logic.AlarmKind, sound bool) error {
	active := kind != logic.AlarmNone
	if err := setLine(a.alarm, active); err != nil {
		return fmt.Errorf("set alarm led: %w", err)
	}
	if err := setLine(a.buzzer, active && sound); err != nil {
		return fmt.Errorf("set buzzer: %w", err)
	}
	return nil
}

// Close drives every output low and reconfigures the lines as inputs with
// pull-down, matching Pi boot defaults, before releasing them.
func (a *RealActuators) Close() error {
	var errs []error

	if a.pwmDir != "" {
		if err := writeSysfs(a.pwmDir, "duty_cycle", 0); err != nil {
			errs = append(errs, err)
		}
		if err := writeSysfs(a.pwmDir, "enable", 0); err != nil {
			errs = append(errs, err)
		}
	}

	for _, l := range []*gpiocdev.Line{a.fan, a.pump, a.light, a.alarm, a.buzzer} {
		if l == nil {
			continue
		}
		if err := l.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("drive line %d low: %w", l.Offset(), err))
		}
		if err := l.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure line %d: %w", l.Offset(), err))
		}
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close line %d: %w", l.Offset(), err))
		}
	}
	if a.chip != nil {
		if err := a.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		log.Printf("gpio: %d errors on close", len(errs))
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
