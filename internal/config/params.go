package config

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownParam = errors.New("config: unknown parameter")
	ErrOutOfRange   = errors.New("config: value out of range")
)

// ParamID identifies one addressable configuration field.
type ParamID int

const (
	ParamTempFanOn ParamID = iota
	ParamTempHighAlarm
	ParamTempLowAlarm
	ParamHumiPumpOn
	ParamHumiHighAlarm
	ParamHumiLowAlarm
	ParamLightAutoOn
	ParamLightLowAlarm
	ParamSensorInterval
	ParamLogInterval
	ParamAutoMode
	ParamAlarmSound
	ParamLEDBrightness
	ParamMorningStart
	ParamNightStart
	ParamAutoLightTime
	ParamTempHysteresis
	ParamHumiHysteresis
	ParamLightHysteresis
	ParamAutoShutdown

	numParams
)

// Param describes a parameter for the command protocol and range checks.
type Param struct {
	ID          ParamID
	Name        string
	Min         int
	Max         int
	Default     int
	Unit        string
	Description string
}

var params = [numParams]Param{
	{ParamTempFanOn, "temp_fan_on", 10, 50, 30, "C", "fan switches on at this temperature"},
	{ParamTempHighAlarm, "temp_high_alarm", 25, 60, 35, "C", "high temperature alarm"},
	{ParamTempLowAlarm, "temp_low_alarm", 0, 25, 15, "C", "low temperature alarm"},
	{ParamHumiPumpOn, "humi_pump_on", 10, 80, 30, "%", "pump switches on at or below this humidity"},
	{ParamHumiHighAlarm, "humi_high_alarm", 60, 100, 80, "%", "high humidity alarm"},
	{ParamHumiLowAlarm, "humi_low_alarm", 0, 40, 20, "%", "low humidity alarm"},
	{ParamLightAutoOn, "light_auto_on", 10, 90, 30, "%", "grow light switches on below this level"},
	{ParamLightLowAlarm, "light_low_alarm", 0, 50, 20, "%", "low light alarm"},
	{ParamSensorInterval, "sensor_interval", 1, 60, 2, "s", "seconds between sensor reads"},
	{ParamLogInterval, "log_interval", 5, 300, 10, "s", "seconds between sensor log records"},
	{ParamAutoMode, "auto_mode", 0, 1, 0, "", "startup mode, 0 auto 1 manual"},
	{ParamAlarmSound, "alarm_sound", 0, 1, 1, "", "sound the buzzer on alarms"},
	{ParamLEDBrightness, "led_brightness", 0, 255, 255, "", "status LED brightness"},
	{ParamMorningStart, "morning_start", 0, 23, 6, "h", "hour the day period starts"},
	{ParamNightStart, "night_start", 0, 23, 22, "h", "hour the night period starts"},
	{ParamAutoLightTime, "auto_light_time", 0, 1440, 480, "min", "daily grow light budget"},
	{ParamTempHysteresis, "temp_hysteresis", 1, 10, 2, "C", "fan off band below temp_fan_on"},
	{ParamHumiHysteresis, "humi_hysteresis", 1, 20, 5, "%", "pump off band above humi_pump_on"},
	{ParamLightHysteresis, "light_hysteresis", 1, 30, 10, "%", "light off band above light_auto_on"},
	{ParamAutoShutdown, "auto_shutdown", 0, 1, 0, "", "switch devices off on sensor failure"},
}

// Params returns every parameter descriptor in table order.
func Params() []Param {
	out := make([]Param, len(params))
	copy(out, params[:])
	return out
}

// Describe returns the descriptor for id.
func Describe(id ParamID) (Param, bool) {
	if id < 0 || id >= numParams {
		return Param{}, false
	}
	return params[id], true
}

func (id ParamID) String() string {
	if p, ok := Describe(id); ok {
		return p.Name
	}
	return fmt.Sprintf("param(%d)", int(id))
}

// Lookup finds a parameter by exact name, then by unique prefix. Matching is
// case-insensitive.
func Lookup(name string) (ParamID, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return 0, fmt.Errorf("%w: empty name", ErrUnknownParam)
	}

	match := ParamID(-1)
	for _, p := range params {
		if p.Name == name {
			return p.ID, nil
		}
		if strings.HasPrefix(p.Name, name) {
			if match >= 0 {
				return 0, fmt.Errorf("%w: %q is ambiguous", ErrUnknownParam, name)
			}
			match = p.ID
		}
	}
	if match < 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnknownParam, name)
	}
	return match, nil
}

// Get returns the value of a parameter.
func (c *SystemConfig) Get(id ParamID) (int, error) {
	switch id {
	case ParamTempFanOn:
		return int(c.TempFanOn), nil
	case ParamTempHighAlarm:
		return int(c.TempHighAlarm), nil
	case ParamTempLowAlarm:
		return int(c.TempLowAlarm), nil
	case ParamHumiPumpOn:
		return int(c.HumiPumpOn), nil
	case ParamHumiHighAlarm:
		return int(c.HumiHighAlarm), nil
	case ParamHumiLowAlarm:
		return int(c.HumiLowAlarm), nil
	case ParamLightAutoOn:
		return int(c.LightAutoOn), nil
	case ParamLightLowAlarm:
		return int(c.LightLowAlarm), nil
	case ParamSensorInterval:
		return int(c.SensorInterval), nil
	case ParamLogInterval:
		return int(c.LogInterval), nil
	case ParamAutoMode:
		return int(c.AutoModeDefault), nil
	case ParamAlarmSound:
		return int(c.AlarmSound), nil
	case ParamLEDBrightness:
		return int(c.LEDBrightness), nil
	case ParamMorningStart:
		return int(c.MorningStart), nil
	case ParamNightStart:
		return int(c.NightStart), nil
	case ParamAutoLightTime:
		return int(c.AutoLightTime), nil
	case ParamTempHysteresis:
		return int(c.TempHysteresis), nil
	case ParamHumiHysteresis:
		return int(c.HumiHysteresis), nil
	case ParamLightHysteresis:
		return int(c.LightHysteresis), nil
	case ParamAutoShutdown:
		return int(c.AutoShutdown), nil
	}
	return 0, fmt.Errorf("%w: id %d", ErrUnknownParam, int(id))
}

// Set range-checks v against the parameter table and stores it. c is left
// unchanged on error.
func (c *SystemConfig) Set(id ParamID, v int) error {
	p, ok := Describe(id)
	if !ok {
		return fmt.Errorf("%w: id %d", ErrUnknownParam, int(id))
	}
	if v < p.Min || v > p.Max {
		return fmt.Errorf("%w: %s=%d, want %d..%d", ErrOutOfRange, p.Name, v, p.Min, p.Max)
	}

	switch id {
	case ParamTempFanOn:
		c.TempFanOn = uint8(v)
	case ParamTempHighAlarm:
		c.TempHighAlarm = uint8(v)
	case ParamTempLowAlarm:
		c.TempLowAlarm = uint8(v)
	case ParamHumiPumpOn:
		c.HumiPumpOn = uint8(v)
	case ParamHumiHighAlarm:
		c.HumiHighAlarm = uint8(v)
	case ParamHumiLowAlarm:
		c.HumiLowAlarm = uint8(v)
	case ParamLightAutoOn:
		c.LightAutoOn = uint8(v)
	case ParamLightLowAlarm:
		c.LightLowAlarm = uint8(v)
	case ParamSensorInterval:
		c.SensorInterval = uint8(v)
	case ParamLogInterval:
		c.LogInterval = uint16(v)
	case ParamAutoMode:
		c.AutoModeDefault = uint8(v)
	case ParamAlarmSound:
		c.AlarmSound = uint8(v)
	case ParamLEDBrightness:
		c.LEDBrightness = uint8(v)
	case ParamMorningStart:
		c.MorningStart = uint8(v)
	case ParamNightStart:
		c.NightStart = uint8(v)
	case ParamAutoLightTime:
		c.AutoLightTime = uint16(v)
	case ParamTempHysteresis:
		c.TempHysteresis = uint8(v)
	case ParamHumiHysteresis:
		c.HumiHysteresis = uint8(v)
	case ParamLightHysteresis:
		c.LightHysteresis = uint8(v)
	case ParamAutoShutdown:
		c.AutoShutdown = uint8(v)
	}
	return nil
}
