package main

import (
	"flag"
	"fmt"
	"log"

	"gopkg.in/ini.v1"
)

// settingKeys maps flag names to their "section.key" in the settings file.
var settingKeys = map[string][2]string{
	"name":             {"controller", "name"},
	"flash":            {"controller", "flash"},
	"tick":             {"controller", "tick"},
	"serial":           {"serial", "port"},
	"baud":             {"serial", "baud"},
	"http":             {"http", "addr"},
	"broker":           {"mqtt", "broker"},
	"heartbeat":        {"mqtt", "heartbeat"},
	"climate-dir":      {"sensors", "climate_dir"},
	"light-dir":        {"sensors", "light_dir"},
	"light-full-scale": {"sensors", "light_full_scale"},
	"gpio-chip":        {"gpio", "chip"},
	"pin-fan":          {"gpio", "fan"},
	"pin-pump":         {"gpio", "pump"},
	"pin-light":        {"gpio", "light"},
	"pin-alarm":        {"gpio", "alarm"},
	"pin-buzzer":       {"gpio", "buzzer"},
	"pwm-chip":         {"gpio", "pwm_chip"},
}

// applySettings loads an ini file and applies its values to every flag in fs
// that was not given on the command line. Section and key names are
// case-insensitive.
func applySettings(fs *flag.FlagSet, path string) error {
	cfg, err := ini.InsensitiveLoad(path)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	explicit := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	for name, sk := range settingKeys {
		if explicit[name] || fs.Lookup(name) == nil {
			continue
		}
		sec := cfg.Section(sk[0])
		if !sec.HasKey(sk[1]) {
			continue
		}
		v := sec.Key(sk[1]).MustString("")
		if err := fs.Set(name, v); err != nil {
			return fmt.Errorf("settings %s.%s: %w", sk[0], sk[1], err)
		}
	}
	log.Printf("settings loaded from %s", path)
	return nil
}
