// Package sensor reads temperature, humidity and light levels.
// The real implementation reads Linux IIO sysfs attributes exposed by the
// dht11 driver and an ADC channel wired to a light-dependent resistor.
// The fake implementation allows testing without hardware.
package sensor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Reader reads the greenhouse sensors.
type Reader interface {
	// ReadClimate returns temperature in °C and relative humidity in %.
	ReadClimate() (temp, humi uint8, err error)

	// ReadLight returns the light level in % of full scale.
	ReadLight() (uint8, error)
}

// IIO sysfs attribute names.
const (
	attrTemperature = "in_temp_input"
	attrHumidity    = "in_humidityrelative_input"
	attrLight       = "in_voltage0_raw"
)

// DefaultLightFullScale is the full-scale reading of a 12-bit ADC.
const DefaultLightFullScale = 4095

// IIO reads an IIO climate device and an IIO ADC.
type IIO struct {
	// ClimateDir is the dht11 device directory, e.g.
	// /sys/bus/iio/devices/iio:device0.
	ClimateDir string

	// LightDir is the ADC device directory.
	LightDir string

	// LightFullScale is the raw ADC value for full brightness reaching the
	// divider. The LDR pulls the voltage down as light rises, so the reading
	// is inverted.
	LightFullScale int
}

// NewIIO creates a reader for the given device directories.
func NewIIO(climateDir, lightDir string, fullScale int) *IIO {
	if fullScale <= 0 {
		fullScale = DefaultLightFullScale
	}
	return &IIO{ClimateDir: climateDir, LightDir: lightDir, LightFullScale: fullScale}
}

// ReadClimate reads temperature and humidity in milli-units and rounds to
// whole units. The dht11 driver reports checksum and timing failures as read
// errors.
func (r *IIO) ReadClimate() (uint8, uint8, error) {
	mTemp, err := readInt(filepath.Join(r.ClimateDir, attrTemperature))
	if err != nil {
		return 0, 0, fmt.Errorf("read temperature: %w", err)
	}
	mHumi, err := readInt(filepath.Join(r.ClimateDir, attrHumidity))
	if err != nil {
		return 0, 0, fmt.Errorf("read humidity: %w", err)
	}

	temp := roundMilli(mTemp)
	humi := roundMilli(mHumi)
	if temp < 0 || temp > 255 || humi < 0 || humi > 255 {
		return 0, 0, fmt.Errorf("climate reading out of range: %d°C %d%%", temp, humi)
	}
	return uint8(temp), uint8(humi), nil
}

// ReadLight reads the raw ADC value and scales it to an inverted percentage.
func (r *IIO) ReadLight() (uint8, error) {
	raw, err := readInt(filepath.Join(r.LightDir, attrLight))
	if err != nil {
		return 0, fmt.Errorf("read light: %w", err)
	}
	if raw < 0 {
		raw = 0
	}
	if raw > r.LightFullScale {
		raw = r.LightFullScale
	}
	return uint8(100 - raw*100/r.LightFullScale), nil
}

func readInt(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return v, nil
}

func roundMilli(v int) int {
	if v < 0 {
		return (v - 500) / 1000
	}
	return (v + 500) / 1000
}
