package logic

// Target is the engine's request for one device.
type Target int

const (
	NoChange Target = iota
	TurnOn
	TurnOff
)

func (t Target) String() string {
	switch t {
	case TurnOn:
		return "on"
	case TurnOff:
		return "off"
	}
	return "hold"
}

// SpeedTier maps temperatures at or above AtLeast to a fan duty in percent.
type SpeedTier struct {
	AtLeast uint8
	Percent uint8
}

// SpeedTable picks a fan duty from the first matching tier, highest first.
type SpeedTable struct {
	Tiers []SpeedTier
	Floor uint8
}

// Speed returns the duty for temp.
func (t SpeedTable) Speed(temp uint8) uint8 {
	for _, tier := range t.Tiers {
		if temp >= tier.AtLeast {
			return tier.Percent
		}
	}
	return t.Floor
}

var (
	// PrimarySpeeds apply when the temperature is at or above the fan threshold.
	PrimarySpeeds = SpeedTable{
		Tiers: []SpeedTier{{40, 70}, {35, 50}, {30, 35}},
		Floor: 25,
	}

	// DampingSpeeds apply to a running fan inside the hysteresis band.
	DampingSpeeds = SpeedTable{
		Tiers: []SpeedTier{{40, 70}, {35, 50}, {30, 35}},
		Floor: 20,
	}
)

// Decision is the engine output for one tick.
type Decision struct {
	Fan   Target
	Pump  Target
	Light Target

	// FanSpeed is the duty to apply when SetSpeed is true. It is set
	// whenever the fan is or will be running.
	FanSpeed uint8
	SetSpeed bool
}

// Engine implements three-band hysteresis control.
type Engine struct {
	Primary SpeedTable
	Damping SpeedTable
}

// NewEngine creates an engine with the standard fan speed tables.
func NewEngine() *Engine {
	return &Engine{Primary: PrimarySpeeds, Damping: DampingSpeeds}
}

// Evaluate decides what each device should do given the readings, the
// configured bands and the current outputs. Inside a band the current state
// is kept.
func (e *Engine) Evaluate(s Snapshot, th Thresholds, cur Outputs) Decision {
	var d Decision

	// Fan: on at or above the threshold, off below threshold minus band.
	temp := int(s.Temperature)
	fanOn := int(th.Temperature.On)
	fanOff := fanOn - int(th.Temperature.Hysteresis)
	switch {
	case temp >= fanOn:
		if !cur.Fan {
			d.Fan = TurnOn
		}
		d.FanSpeed = e.Primary.Speed(s.Temperature)
		d.SetSpeed = true
	case temp < fanOff:
		if cur.Fan {
			d.Fan = TurnOff
		}
	default:
		if cur.Fan {
			d.FanSpeed = e.Damping.Speed(s.Temperature)
			d.SetSpeed = true
		}
	}

	// Pump: on at or below the threshold, off above threshold plus band.
	humi := int(s.Humidity)
	pumpOn := int(th.Humidity.On)
	switch {
	case humi <= pumpOn:
		if !cur.Pump {
			d.Pump = TurnOn
		}
	case humi > pumpOn+int(th.Humidity.Hysteresis):
		if cur.Pump {
			d.Pump = TurnOff
		}
	}

	// Light: on below the threshold, off above threshold plus band.
	light := int(s.Light)
	lightOn := int(th.Light.On)
	switch {
	case light < lightOn:
		if !cur.Light {
			d.Light = TurnOn
		}
	case light > lightOn+int(th.Light.Hysteresis):
		if cur.Light {
			d.Light = TurnOff
		}
	}

	return d
}
