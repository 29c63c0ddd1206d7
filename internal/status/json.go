package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/greenhouse-controller/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Ready         bool         `json:"ready"`
	Mode          string       `json:"mode"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	Readings      ReadingsJSON `json:"readings"`
	Devices       DevicesJSON  `json:"devices"`
	Alarms        []string     `json:"alarms"`
	ActiveAlarm   string       `json:"active_alarm"`
	Log           LogJSON      `json:"log"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Config        ConfigJSON   `json:"config"`
}

// ReadingsJSON holds the latest sensor values.
type ReadingsJSON struct {
	Temperature uint8 `json:"temperature"`
	Humidity    uint8 `json:"humidity"`
	Light       uint8 `json:"light"`
	SensorError uint8 `json:"sensor_error"`
}

// DevicesJSON holds the actuator states.
type DevicesJSON struct {
	Fan   DeviceJSON `json:"fan"`
	Pump  DeviceJSON `json:"pump"`
	Light DeviceJSON `json:"light"`
}

// DeviceJSON is one actuator.
type DeviceJSON struct {
	State      string `json:"state"`
	Speed      uint8  `json:"speed,omitempty"`
	Switches   int    `json:"switches"`
	RunSeconds int64  `json:"run_seconds"`
}

// LogJSON summarizes the record log.
type LogJSON struct {
	Total     int    `json:"total"`
	Capacity  int    `json:"capacity"`
	Sensor    int    `json:"sensor"`
	Operation int    `json:"operation"`
	Alarm     int    `json:"alarm"`
	Torn      int    `json:"torn,omitempty"`
	Oldest    string `json:"oldest,omitempty"`
	Newest    string `json:"newest,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// ConfigJSON is the daemon configuration.
type ConfigJSON struct {
	Name        string `json:"name"`
	TickMs      int64  `json:"tick_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
	SerialPort  string `json:"serial_port,omitempty"`
	FlashPath   string `json:"flash_path"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func buildInner(snap Snapshot) StatusInner {
	st := snap.Controller
	alarms := st.Alarms.Names()
	if alarms == nil {
		alarms = []string{}
	}

	device := func(d logic.Device) DeviceJSON {
		ds := st.Devices[d]
		return DeviceJSON{
			State:      string(logic.StateOf(ds.On)),
			Speed:      ds.Speed,
			Switches:   ds.Run.SwitchCount,
			RunSeconds: int64(ds.RunTime / time.Second),
		}
	}

	return StatusInner{
		Ready:         snap.Ready,
		Mode:          st.Mode.String(),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     formatTime(snap.StartTime),
		Timestamp:     formatTime(snap.Now),
		Readings: ReadingsJSON{
			Temperature: st.Snapshot.Temperature,
			Humidity:    st.Snapshot.Humidity,
			Light:       st.Snapshot.Light,
			SensorError: uint8(st.Snapshot.SensorError),
		},
		Devices: DevicesJSON{
			Fan:   device(logic.DeviceFan),
			Pump:  device(logic.DevicePump),
			Light: device(logic.DeviceLight),
		},
		Alarms:      alarms,
		ActiveAlarm: st.Active.String(),
		Log: LogJSON{
			Total:     st.Log.Total,
			Capacity:  st.Log.Capacity,
			Sensor:    st.Log.Sensor,
			Operation: st.Log.Operation,
			Alarm:     st.Log.Alarm,
			Torn:      st.Log.Torn,
			Oldest:    formatTime(st.Log.Oldest),
			Newest:    formatTime(st.Log.Newest),
		},
		MQTT: MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			Name:        snap.Config.Name,
			TickMs:      snap.Config.TickMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
			SerialPort:  snap.Config.SerialPort,
			FlashPath:   snap.Config.FlashPath,
		},
	}
}

// FormatJSON returns the indented JSON status for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}
