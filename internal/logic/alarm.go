package logic

import "strings"

// AlarmFlags is the set of active alarm conditions.
type AlarmFlags uint8

const (
	AlarmHighTemp    AlarmFlags = 0x01
	AlarmLowTemp     AlarmFlags = 0x02
	AlarmHighHumi    AlarmFlags = 0x04
	AlarmLowHumi     AlarmFlags = 0x08
	AlarmLowLight    AlarmFlags = 0x10
	AlarmSensorError AlarmFlags = 0x20
)

var alarmNames = []struct {
	flag AlarmFlags
	name string
}{
	{AlarmHighTemp, "HIGH_TEMP"},
	{AlarmLowTemp, "LOW_TEMP"},
	{AlarmHighHumi, "HIGH_HUMI"},
	{AlarmLowHumi, "LOW_HUMI"},
	{AlarmLowLight, "LOW_LIGHT"},
	{AlarmSensorError, "SENSOR_ERROR"},
}

func (f AlarmFlags) Has(flag AlarmFlags) bool { return f&flag != 0 }

// Names lists the set flags in bit order.
func (f AlarmFlags) Names() []string {
	var out []string
	for _, a := range alarmNames {
		if f.Has(a.flag) {
			out = append(out, a.name)
		}
	}
	return out
}

func (f AlarmFlags) String() string {
	if f == 0 {
		return "NONE"
	}
	return strings.Join(f.Names(), "|")
}

// AlarmKind is the single alarm that drives the buzzer and alarm LED.
type AlarmKind uint8

const (
	AlarmNone AlarmKind = iota
	AlarmKindHighTemp
	AlarmKindLowTemp
	AlarmKindHighHumi
	AlarmKindLowHumi
	AlarmKindLowLight
	AlarmKindSensorError
)

func (k AlarmKind) String() string {
	switch k {
	case AlarmKindHighTemp:
		return "HIGH_TEMP"
	case AlarmKindLowTemp:
		return "LOW_TEMP"
	case AlarmKindHighHumi:
		return "HIGH_HUMI"
	case AlarmKindLowHumi:
		return "LOW_HUMI"
	case AlarmKindLowLight:
		return "LOW_LIGHT"
	case AlarmKindSensorError:
		return "SENSOR_ERROR"
	}
	return "NONE"
}

// alarmPriority is ordered most urgent first.
var alarmPriority = []struct {
	flag AlarmFlags
	kind AlarmKind
}{
	{AlarmSensorError, AlarmKindSensorError},
	{AlarmHighTemp, AlarmKindHighTemp},
	{AlarmLowTemp, AlarmKindLowTemp},
	{AlarmLowHumi, AlarmKindLowHumi},
	{AlarmHighHumi, AlarmKindHighHumi},
	{AlarmLowLight, AlarmKindLowLight},
}

// Active returns the most urgent alarm in f.
func (f AlarmFlags) Active() AlarmKind {
	for _, p := range alarmPriority {
		if f.Has(p.flag) {
			return p.kind
		}
	}
	return AlarmNone
}

// CheckAlarms computes the alarm bitset for a snapshot.
func CheckAlarms(s Snapshot, lim AlarmLimits) AlarmFlags {
	var f AlarmFlags
	if s.Temperature > lim.TempHigh {
		f |= AlarmHighTemp
	}
	if s.Temperature < lim.TempLow {
		f |= AlarmLowTemp
	}
	if s.Humidity > lim.HumiHigh {
		f |= AlarmHighHumi
	}
	if s.Humidity < lim.HumiLow {
		f |= AlarmLowHumi
	}
	if s.Light < lim.LightLow {
		f |= AlarmLowLight
	}
	if s.SensorError != 0 {
		f |= AlarmSensorError
	}
	return f
}

// AlarmResult is the outcome of one evaluation.
type AlarmResult struct {
	Flags    AlarmFlags
	Previous AlarmFlags
	Changed  bool
	Active   AlarmKind
}

// AlarmEvaluator detects changes in the alarm bitset between ticks.
type AlarmEvaluator struct {
	last AlarmFlags
}

// Evaluate computes the current alarms and compares them with the previous
// call. The first call compares against an empty set.
func (a *AlarmEvaluator) Evaluate(s Snapshot, lim AlarmLimits) AlarmResult {
	flags := CheckAlarms(s, lim)
	res := AlarmResult{
		Flags:    flags,
		Previous: a.last,
		Changed:  flags != a.last,
		Active:   flags.Active(),
	}
	a.last = flags
	return res
}

// Current returns the bitset from the last evaluation.
func (a *AlarmEvaluator) Current() AlarmFlags {
	return a.last
}
