package sensor

import "errors"

// Fake is a test double that returns scripted readings.
type Fake struct {
	// Samples contains scripted readings. ReadClimate returns the current
	// sample; ReadLight returns its light value and moves to the next one.
	// Once exhausted the last sample repeats.
	Samples []Sample

	index int

	// ClimateReads and LightReads count calls.
	ClimateReads int
	LightReads   int
}

// Sample is one scripted reading.
type Sample struct {
	Temperature uint8
	Humidity    uint8
	Light       uint8

	// ClimateErr and LightErr, if set, are returned instead of values.
	ClimateErr error
	LightErr   error
}

// NewFake creates a Fake with the given samples.
func NewFake(samples ...Sample) *Fake {
	return &Fake{Samples: samples}
}

func (f *Fake) current() (Sample, error) {
	if len(f.Samples) == 0 {
		return Sample{}, errors.New("no samples configured")
	}
	return f.Samples[f.index], nil
}

// ReadClimate returns the current sample's temperature and humidity.
func (f *Fake) ReadClimate() (uint8, uint8, error) {
	f.ClimateReads++
	s, err := f.current()
	if err != nil {
		return 0, 0, err
	}
	if s.ClimateErr != nil {
		return 0, 0, s.ClimateErr
	}
	return s.Temperature, s.Humidity, nil
}

// ReadLight returns the current sample's light level and advances.
func (f *Fake) ReadLight() (uint8, error) {
	f.LightReads++
	s, err := f.current()
	if err != nil {
		return 0, err
	}
	if f.index < len(f.Samples)-1 {
		f.index++
	}
	if s.LightErr != nil {
		return 0, s.LightErr
	}
	return s.Light, nil
}

// Set replaces the script with a single repeating sample.
func (f *Fake) Set(s Sample) {
	f.Samples = []Sample{s}
	f.index = 0
}
