// Package mqtt publishes greenhouse events to a broker, with a fake for tests.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/greenhouse-controller/internal/config"
	"github.com/sweeney/greenhouse-controller/internal/logic"
)

// TopicPrefix is the root of every topic this controller publishes on.
const TopicPrefix = "greenhouse"

// Topics are the per-controller topics.
type Topics struct {
	Events string
	System string
}

// TopicsFor returns the topics for a controller called name.
func TopicsFor(name string) Topics {
	if name == "" {
		name = "default"
	}
	base := TopicPrefix + "/" + name
	return Topics{Events: base + "/events", System: base + "/system"}
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a device, mode or alarm event. Errors are logged by the
	// caller and never stop the control loop.
	Publish(event logic.Event) error

	// PublishSystem sends a lifecycle event.
	PublishSystem(event SystemEvent) error

	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent is a lifecycle event: STARTUP, SHUTDOWN, HEARTBEAT or
// RECONNECTED.
type SystemEvent struct {
	Timestamp time.Time
	Event     string
	Reason    string // shutdown only
	Config    *ConfigInfo
	Heartbeat *HeartbeatInfo
	Retained  bool
}

// Payload is the message published for a logic.Event.
type Payload struct {
	Greenhouse EventPayload `json:"greenhouse"`
}

// EventPayload contains the event details.
type EventPayload struct {
	Timestamp   string   `json:"timestamp"`
	Event       string   `json:"event"`
	Trigger     string   `json:"trigger"`
	FanSpeed    uint8    `json:"fan_speed,omitempty"`
	Alarms      []string `json:"alarms,omitempty"`
	Active      string   `json:"active,omitempty"`
	Temperature uint8    `json:"temperature"`
	Humidity    uint8    `json:"humidity"`
	Light       uint8    `json:"light"`
}

// FormatPayload creates the JSON payload for an event.
func FormatPayload(event logic.Event) ([]byte, error) {
	p := EventPayload{
		Timestamp:   event.Timestamp.UTC().Format(time.RFC3339),
		Event:       string(event.Type),
		Trigger:     event.Trigger.String(),
		FanSpeed:    event.FanSpeed,
		Temperature: event.Temperature,
		Humidity:    event.Humidity,
		Light:       event.Light,
	}
	if event.Type == logic.EventAlarm {
		p.Alarms = event.Alarms.Names()
		p.Active = event.Active.String()
	}
	return json.Marshal(Payload{Greenhouse: p})
}

// SystemPayload is the message published for a SystemEvent.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string         `json:"timestamp"`
	Event     string         `json:"event"`
	Reason    string         `json:"reason,omitempty"`
	Config    *ConfigInfo    `json:"config,omitempty"`
	Heartbeat *HeartbeatInfo `json:"heartbeat,omitempty"`
}

// ConfigInfo is the subset of the configuration announced at startup.
type ConfigInfo struct {
	Mode           string `json:"mode"`
	TempFanOn      uint8  `json:"temp_fan_on"`
	HumiPumpOn     uint8  `json:"humi_pump_on"`
	LightAutoOn    uint8  `json:"light_auto_on"`
	SensorInterval uint8  `json:"sensor_interval_s"`
	LogInterval    uint16 `json:"log_interval_s"`
}

// NewConfigInfo summarizes cfg for a STARTUP event.
func NewConfigInfo(cfg config.SystemConfig, mode logic.Mode) *ConfigInfo {
	return &ConfigInfo{
		Mode:           mode.String(),
		TempFanOn:      cfg.TempFanOn,
		HumiPumpOn:     cfg.HumiPumpOn,
		LightAutoOn:    cfg.LightAutoOn,
		SensorInterval: cfg.SensorInterval,
		LogInterval:    cfg.LogInterval,
	}
}

// HeartbeatInfo is carried by HEARTBEAT events.
type HeartbeatInfo struct {
	UptimeSeconds int64           `json:"uptime_s"`
	Switches      HeartbeatCounts `json:"switches"`
	Alarms        []string        `json:"alarms"`
}

// HeartbeatCounts holds per-device switch counts since startup.
type HeartbeatCounts struct {
	Fan   int `json:"fan"`
	Pump  int `json:"pump"`
	Light int `json:"light"`
}

// NewHeartbeatInfo converts controller heartbeat data for publishing.
func NewHeartbeatInfo(hb logic.HeartbeatData) *HeartbeatInfo {
	alarms := hb.Alarms.Names()
	if alarms == nil {
		alarms = []string{}
	}
	return &HeartbeatInfo{
		UptimeSeconds: int64(hb.Uptime / time.Second),
		Switches: HeartbeatCounts{
			Fan:   hb.Counts.Fan,
			Pump:  hb.Counts.Pump,
			Light: hb.Counts.Light,
		},
		Alarms: alarms,
	}
}

// FormatSystemPayload creates the JSON payload for a system event.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
			Config:    event.Config,
			Heartbeat: event.Heartbeat,
		},
	})
}
