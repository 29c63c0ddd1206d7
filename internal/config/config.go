// Package config holds the controller's tunable thresholds and their
// persistent form: a 48-byte little-endian block at the start of the
// configuration page, guarded by a magic number, a version and an additive
// checksum.
package config

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sweeney/greenhouse-controller/internal/logic"
)

const (
	Magic   uint32 = 0x5A5A5A5A
	Version uint8  = 1

	// Size is the persisted block length; the checksum covers the bytes
	// before it.
	Size           = 48
	checksumOffset = 44
)

var (
	ErrMagic    = errors.New("config: bad magic")
	ErrVersion  = errors.New("config: unsupported version")
	ErrChecksum = errors.New("config: checksum mismatch")
)

// SystemConfig is the full set of tunables.
type SystemConfig struct {
	TempFanOn      uint8
	TempHighAlarm  uint8
	TempLowAlarm   uint8
	TempHysteresis uint8

	HumiPumpOn     uint8
	HumiHighAlarm  uint8
	HumiLowAlarm   uint8
	HumiHysteresis uint8

	LightAutoOn     uint8
	LightLowAlarm   uint8
	LightHysteresis uint8

	MorningStart  uint8
	NightStart    uint8
	AutoLightTime uint16

	SensorInterval uint8  // seconds
	LogInterval    uint16 // seconds

	AutoModeDefault uint8
	AlarmSound      uint8
	LEDBrightness   uint8
	AutoShutdown    uint8
}

// Defaults returns the factory configuration.
func Defaults() SystemConfig {
	return SystemConfig{
		TempFanOn:       30,
		TempHighAlarm:   35,
		TempLowAlarm:    15,
		TempHysteresis:  2,
		HumiPumpOn:      30,
		HumiHighAlarm:   80,
		HumiLowAlarm:    20,
		HumiHysteresis:  5,
		LightAutoOn:     30,
		LightLowAlarm:   20,
		LightHysteresis: 10,
		MorningStart:    6,
		NightStart:      22,
		AutoLightTime:   480,
		SensorInterval:  2,
		LogInterval:     10,
		AutoModeDefault: 0,
		AlarmSound:      1,
		LEDBrightness:   255,
		AutoShutdown:    0,
	}
}

// Marshal encodes c into its persisted block.
func (c SystemConfig) Marshal() []byte {
	b := make([]byte, Size)
	binary.LittleEndian.PutUint32(b[0:], Magic)
	b[4] = Version
	b[5] = c.TempFanOn
	b[6] = c.TempHighAlarm
	b[7] = c.TempLowAlarm
	b[8] = c.TempHysteresis
	b[9] = c.HumiPumpOn
	b[10] = c.HumiHighAlarm
	b[11] = c.HumiLowAlarm
	b[12] = c.HumiHysteresis
	b[13] = c.LightAutoOn
	b[14] = c.LightLowAlarm
	b[15] = c.LightHysteresis
	b[16] = c.MorningStart
	b[17] = c.NightStart
	binary.LittleEndian.PutUint16(b[18:], c.AutoLightTime)
	b[20] = c.SensorInterval
	binary.LittleEndian.PutUint16(b[21:], c.LogInterval)
	b[23] = c.AutoModeDefault
	b[24] = c.AlarmSound
	b[25] = c.LEDBrightness
	b[26] = c.AutoShutdown
	binary.LittleEndian.PutUint32(b[checksumOffset:], Checksum(b[:checksumOffset]))
	return b
}

// Unmarshal decodes a persisted block, checking magic, version and checksum
// in that order.
func Unmarshal(b []byte) (SystemConfig, error) {
	if len(b) < Size {
		return SystemConfig{}, fmt.Errorf("config: short block of %d bytes", len(b))
	}
	if m := binary.LittleEndian.Uint32(b[0:]); m != Magic {
		return SystemConfig{}, fmt.Errorf("%w: 0x%08x", ErrMagic, m)
	}
	if b[4] != Version {
		return SystemConfig{}, fmt.Errorf("%w: %d", ErrVersion, b[4])
	}
	want := binary.LittleEndian.Uint32(b[checksumOffset:])
	if got := Checksum(b[:checksumOffset]); got != want {
		return SystemConfig{}, fmt.Errorf("%w: stored 0x%08x, computed 0x%08x", ErrChecksum, want, got)
	}

	return SystemConfig{
		TempFanOn:       b[5],
		TempHighAlarm:   b[6],
		TempLowAlarm:    b[7],
		TempHysteresis:  b[8],
		HumiPumpOn:      b[9],
		HumiHighAlarm:   b[10],
		HumiLowAlarm:    b[11],
		HumiHysteresis:  b[12],
		LightAutoOn:     b[13],
		LightLowAlarm:   b[14],
		LightHysteresis: b[15],
		MorningStart:    b[16],
		NightStart:      b[17],
		AutoLightTime:   binary.LittleEndian.Uint16(b[18:]),
		SensorInterval:  b[20],
		LogInterval:     binary.LittleEndian.Uint16(b[21:]),
		AutoModeDefault: b[23],
		AlarmSound:      b[24],
		LEDBrightness:   b[25],
		AutoShutdown:    b[26],
	}, nil
}

// Checksum is the unsigned sum of b.
func Checksum(b []byte) uint32 {
	var sum uint32
	for _, c := range b {
		sum += uint32(c)
	}
	return sum
}

// Thresholds returns the control bands used by the auto engine.
func (c SystemConfig) Thresholds() logic.Thresholds {
	return logic.Thresholds{
		Temperature: logic.Band{On: c.TempFanOn, Hysteresis: c.TempHysteresis},
		Humidity:    logic.Band{On: c.HumiPumpOn, Hysteresis: c.HumiHysteresis},
		Light:       logic.Band{On: c.LightAutoOn, Hysteresis: c.LightHysteresis},
	}
}

// AlarmLimits returns the alarm thresholds.
func (c SystemConfig) AlarmLimits() logic.AlarmLimits {
	return logic.AlarmLimits{
		TempHigh: c.TempHighAlarm,
		TempLow:  c.TempLowAlarm,
		HumiHigh: c.HumiHighAlarm,
		HumiLow:  c.HumiLowAlarm,
		LightLow: c.LightLowAlarm,
	}
}

// Problems lists threshold pairs that are individually in range but
// contradict each other.
func (c SystemConfig) Problems() []string {
	var out []string
	if c.TempLowAlarm >= c.TempHighAlarm {
		out = append(out, "temp_low_alarm must be below temp_high_alarm")
	}
	if c.HumiLowAlarm >= c.HumiHighAlarm {
		out = append(out, "humi_low_alarm must be below humi_high_alarm")
	}
	if c.MorningStart >= c.NightStart {
		out = append(out, "morning_start must be before night_start")
	}
	return out
}

// Validate returns the number of contradictory threshold pairs.
func Validate(c SystemConfig) int {
	return len(c.Problems())
}
