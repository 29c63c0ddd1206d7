// Package controller owns the greenhouse state and runs one control cycle per
// tick: read sensors, apply automatic control, evaluate alarms, then log.
// It is not safe for concurrent use; the daemon calls it from one goroutine.
package controller

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sweeney/greenhouse-controller/internal/config"
	"github.com/sweeney/greenhouse-controller/internal/datalog"
	"github.com/sweeney/greenhouse-controller/internal/gpio"
	"github.com/sweeney/greenhouse-controller/internal/logic"
	"github.com/sweeney/greenhouse-controller/internal/sensor"
)

// ErrNotManual is returned for device commands outside manual mode.
var ErrNotManual = errors.New("controller: device commands require manual mode")

// DefaultSensorRetries bounds climate sensor reads per tick.
const DefaultSensorRetries = 3

// ManualFanSpeed is the duty used when the fan is switched on by command.
const ManualFanSpeed = 45

// Options wires a Controller to its collaborators.
type Options struct {
	Sensors       sensor.Reader
	Actuators     gpio.Actuators
	Config        *config.Store
	Log           *datalog.Logger
	Now           func() time.Time
	SensorRetries int
}

type deviceState struct {
	speed uint8
	run   logic.RunStatus
}

type lastGood struct {
	temp, humi, light uint8
}

// Controller is the top-level owner of configuration, device and alarm state.
type Controller struct {
	sensors  sensor.Reader
	act      gpio.Actuators
	cfgStore *config.Store
	log      *datalog.Logger
	now      func() time.Time
	retries  int

	cfg     config.SystemConfig
	engine  *logic.Engine
	alarms  logic.AlarmEvaluator
	mode    logic.Mode
	devices [logic.NumDevices]deviceState

	snap     logic.Snapshot
	last     lastGood
	sampled  bool
	lastTick time.Time

	sensorLogged  bool
	lastSensorLog time.Time

	startTime     time.Time
	lastHeartbeat time.Time
}

// New loads the configuration (restoring defaults if the stored copy is
// damaged), drives every output off and enters the configured startup mode.
func New(opts Options) (*Controller, error) {
	if opts.Sensors == nil || opts.Actuators == nil || opts.Config == nil || opts.Log == nil {
		return nil, errors.New("controller: sensors, actuators, config and log are required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SensorRetries <= 0 {
		opts.SensorRetries = DefaultSensorRetries
	}

	cfg, recovered, err := opts.Config.Init()
	if err != nil {
		log.Printf("controller: config init: %v (running on defaults)", err)
	} else if recovered {
		log.Printf("controller: stored config invalid, defaults restored")
	}
	for _, p := range cfg.Problems() {
		log.Printf("controller: config warning: %s", p)
	}

	now := opts.Now()
	c := &Controller{
		sensors:       opts.Sensors,
		act:           opts.Actuators,
		cfgStore:      opts.Config,
		log:           opts.Log,
		now:           opts.Now,
		retries:       opts.SensorRetries,
		cfg:           cfg,
		engine:        logic.NewEngine(),
		mode:          logic.Mode(cfg.AutoModeDefault),
		startTime:     now,
		lastHeartbeat: now,
	}
	if c.mode != logic.ModeManual {
		c.mode = logic.ModeAuto
	}

	for d := logic.Device(0); d < logic.NumDevices; d++ {
		c.drive(d, false, 0)
	}
	if err := c.act.SetAlarm(logic.AlarmNone, false); err != nil {
		log.Printf("controller: clear alarm outputs: %v", err)
	}

	log.Printf("controller: started in %s mode", c.mode)
	return c, nil
}

// Tick runs a control cycle if sensor_interval has elapsed since the last
// one. It returns the events produced.
func (c *Controller) Tick(now time.Time) []logic.Event {
	interval := time.Duration(c.cfg.SensorInterval) * time.Second
	if c.sampled && now.Sub(c.lastTick) < interval {
		return nil
	}
	return c.Cycle(now)
}

// Cycle runs one control cycle unconditionally. The order is fixed: sensor
// read, control (auto mode only), alarms, periodic sensor log.
func (c *Controller) Cycle(now time.Time) []logic.Event {
	c.sampled = true
	c.lastTick = now

	snap := c.readSensors(now)
	c.snap = snap

	var events []logic.Event
	if c.mode == logic.ModeAuto {
		events = append(events, c.autoControl(snap, now)...)
	}
	if ev, ok := c.checkAlarms(snap, now); ok {
		events = append(events, ev)
	}
	c.logSensors(now)
	return events
}

func validClimate(temp, humi uint8) bool {
	return temp >= logic.TempMin && temp <= logic.TempMax &&
		humi >= logic.HumiMin && humi <= logic.HumiMax
}

// readSensors takes a snapshot. A failed or out-of-range read keeps the last
// valid value and sets the sensor's error bit until the next good read.
func (c *Controller) readSensors(now time.Time) logic.Snapshot {
	snap := logic.Snapshot{Time: now}

	var err error
	good := false
	for i := 0; i < c.retries; i++ {
		var temp, humi uint8
		temp, humi, err = c.sensors.ReadClimate()
		if err == nil && validClimate(temp, humi) {
			c.last.temp, c.last.humi = temp, humi
			good = true
			break
		}
		if err == nil {
			err = fmt.Errorf("reading out of range: %d°C %d%%", temp, humi)
		}
	}
	if !good {
		snap.SensorError |= logic.SensorErrClimate
		if c.snap.SensorError&logic.SensorErrClimate == 0 {
			log.Printf("controller: climate sensor failed after %d attempts: %v", c.retries, err)
		}
	}

	light, err := c.sensors.ReadLight()
	if err == nil && light > logic.LightMax {
		err = fmt.Errorf("reading out of range: %d%%", light)
	}
	if err == nil {
		c.last.light = light
	} else {
		snap.SensorError |= logic.SensorErrLight
		if c.snap.SensorError&logic.SensorErrLight == 0 {
			log.Printf("controller: light sensor failed: %v", err)
		}
	}

	if c.snap.SensorError != 0 && snap.SensorError == 0 {
		log.Printf("controller: sensors recovered")
	}

	snap.Temperature = c.last.temp
	snap.Humidity = c.last.humi
	snap.Light = c.last.light
	return snap
}

func (c *Controller) outputs() logic.Outputs {
	return logic.Outputs{
		Fan:   c.devices[logic.DeviceFan].run.On,
		Pump:  c.devices[logic.DevicePump].run.On,
		Light: c.devices[logic.DeviceLight].run.On,
	}
}

func (c *Controller) autoControl(snap logic.Snapshot, now time.Time) []logic.Event {
	cur := c.outputs()
	d := c.engine.Evaluate(snap, c.cfg.Thresholds(), cur)

	// With auto_shutdown set, a failed sensor switches its devices off
	// rather than acting on stale readings.
	if c.cfg.AutoShutdown != 0 {
		if snap.SensorError&logic.SensorErrClimate != 0 {
			d.Fan, d.Pump, d.SetSpeed = offIf(cur.Fan), offIf(cur.Pump), false
		}
		if snap.SensorError&logic.SensorErrLight != 0 {
			d.Light = offIf(cur.Light)
		}
	}

	var events []logic.Event
	targets := [logic.NumDevices]logic.Target{d.Fan, d.Pump, d.Light}
	for dev, t := range targets {
		var speed uint8
		if logic.Device(dev) == logic.DeviceFan {
			speed = d.FanSpeed
		}
		switch t {
		case logic.TurnOn:
			events = append(events, c.transition(logic.Device(dev), true, speed, logic.TriggerAuto, now))
		case logic.TurnOff:
			events = append(events, c.transition(logic.Device(dev), false, 0, logic.TriggerAuto, now))
		}
	}

	fan := &c.devices[logic.DeviceFan]
	if d.Fan == logic.NoChange && d.SetSpeed && fan.run.On && fan.speed != d.FanSpeed {
		fan.speed = d.FanSpeed
		c.drive(logic.DeviceFan, true, d.FanSpeed)
	}
	return events
}

func offIf(on bool) logic.Target {
	if on {
		return logic.TurnOff
	}
	return logic.NoChange
}

var ops = [logic.NumDevices][2]datalog.Op{
	logic.DeviceFan:   {datalog.OpFanOff, datalog.OpFanOn},
	logic.DevicePump:  {datalog.OpPumpOff, datalog.OpPumpOn},
	logic.DeviceLight: {datalog.OpLightOff, datalog.OpLightOn},
}

// transition drives a device, updates its run status on a real edge and
// logs one operation record.
func (c *Controller) transition(dev logic.Device, on bool, speed uint8, trig logic.Trigger, now time.Time) logic.Event {
	st := &c.devices[dev]
	old := st.run.On
	st.run.Switch(on, now)
	if !on {
		speed = 0
	}
	if dev == logic.DeviceFan {
		st.speed = speed
	}
	c.drive(dev, on, speed)

	if err := c.log.WriteOperation(ops[dev][b2i(on)], uint8(b2i(old)), uint8(b2i(on)), datalog.Trigger(trig)); err != nil {
		log.Printf("controller: log operation: %v", err)
	}

	ev := logic.Event{
		Timestamp:   now,
		Type:        logic.DeviceEvent(dev, on),
		Trigger:     trig,
		Temperature: c.snap.Temperature,
		Humidity:    c.snap.Humidity,
		Light:       c.snap.Light,
	}
	if dev == logic.DeviceFan {
		ev.FanSpeed = speed
	}
	log.Printf("event: %s trigger=%s temp=%d humi=%d light=%d", ev.Type, trig, ev.Temperature, ev.Humidity, ev.Light)
	return ev
}

func (c *Controller) drive(dev logic.Device, on bool, speed uint8) {
	var err error
	switch dev {
	case logic.DeviceFan:
		err = c.act.SetFan(on, speed)
	case logic.DevicePump:
		err = c.act.SetPump(on)
	case logic.DeviceLight:
		err = c.act.SetLight(on)
	}
	if err != nil {
		log.Printf("controller: drive %s %s: %v", dev, logic.StateOf(on), err)
	}
}

func (c *Controller) checkAlarms(snap logic.Snapshot, now time.Time) (logic.Event, bool) {
	res := c.alarms.Evaluate(snap, c.cfg.AlarmLimits())
	if !res.Changed {
		return logic.Event{}, false
	}

	if err := c.act.SetAlarm(res.Active, c.cfg.AlarmSound != 0); err != nil {
		log.Printf("controller: set alarm outputs: %v", err)
	}
	if err := c.log.WriteAlarm(uint8(res.Flags), uint8(res.Active), snap.Temperature, snap.Humidity, snap.Light); err != nil {
		log.Printf("controller: log alarm: %v", err)
	}
	log.Printf("alarm: %s (was %s) active=%s", res.Flags, res.Previous, res.Active)

	return logic.Event{
		Timestamp:   now,
		Type:        logic.EventAlarm,
		Trigger:     logic.TriggerAuto,
		Alarms:      res.Flags,
		Active:      res.Active,
		Temperature: snap.Temperature,
		Humidity:    snap.Humidity,
		Light:       snap.Light,
	}, true
}

func (c *Controller) logSensors(now time.Time) {
	interval := time.Duration(c.cfg.LogInterval) * time.Second
	if c.sensorLogged && now.Sub(c.lastSensorLog) < interval {
		return
	}
	c.sensorLogged = true
	c.lastSensorLog = now

	out := c.outputs()
	err := c.log.WriteSensor(datalog.SensorRecord{
		Temperature: c.snap.Temperature,
		Humidity:    c.snap.Humidity,
		Light:       c.snap.Light,
		Fan:         out.Fan,
		Pump:        out.Pump,
		LightDev:    out.Light,
		Mode:        uint8(c.mode),
		AlarmFlags:  uint8(c.alarms.Current()),
	})
	if err != nil {
		log.Printf("controller: log sensors: %v", err)
	}
}

// Manual switches a device on operator command. It is only allowed in manual
// mode and always logs one operation record, even when the device is already
// in the requested state. An event is returned only for a real change.
func (c *Controller) Manual(dev logic.Device, on bool) ([]logic.Event, error) {
	if dev < 0 || dev >= logic.NumDevices {
		return nil, fmt.Errorf("controller: unknown device %d", int(dev))
	}
	if c.mode != logic.ModeManual {
		return nil, ErrNotManual
	}

	changed := c.devices[dev].run.On != on
	var speed uint8
	if on && dev == logic.DeviceFan {
		speed = ManualFanSpeed
	}
	ev := c.transition(dev, on, speed, logic.TriggerManual, c.now())
	if !changed {
		return nil, nil
	}
	return []logic.Event{ev}, nil
}

// SetMode switches between automatic and manual control. Entering auto mode
// switches off every device left on, each logged as a manual operation,
// before the mode change itself is logged.
func (c *Controller) SetMode(m logic.Mode) []logic.Event {
	if m == c.mode {
		return nil
	}
	now := c.now()

	var events []logic.Event
	if m == logic.ModeAuto {
		for d := logic.Device(0); d < logic.NumDevices; d++ {
			if c.devices[d].run.On {
				events = append(events, c.transition(d, false, 0, logic.TriggerManual, now))
			}
		}
	}

	old := c.mode
	c.mode = m
	op, evType := datalog.OpModeManual, logic.EventModeManual
	if m == logic.ModeAuto {
		op, evType = datalog.OpModeAuto, logic.EventModeAuto
	}
	if err := c.log.WriteOperation(op, uint8(old), uint8(m), datalog.TriggerManual); err != nil {
		log.Printf("controller: log mode change: %v", err)
	}
	log.Printf("event: %s trigger=manual", evType)

	return append(events, logic.Event{
		Timestamp:   now,
		Type:        evType,
		Trigger:     logic.TriggerManual,
		Temperature: c.snap.Temperature,
		Humidity:    c.snap.Humidity,
		Light:       c.snap.Light,
	})
}

// Mode returns the current control mode.
func (c *Controller) Mode() logic.Mode { return c.mode }

// Snapshot returns the readings from the last cycle.
func (c *Controller) Snapshot() logic.Snapshot { return c.snap }

// CheckHeartbeat returns heartbeat data if interval has elapsed since the
// last heartbeat (or startup). Returns nil if interval <= 0 (disabled).
func (c *Controller) CheckHeartbeat(now time.Time, interval time.Duration) *logic.HeartbeatData {
	if interval <= 0 {
		return nil
	}
	if now.Sub(c.lastHeartbeat) < interval {
		return nil
	}

	c.lastHeartbeat = now
	return &logic.HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(c.startTime),
		Counts: logic.SwitchCounts{
			Fan:   c.devices[logic.DeviceFan].run.SwitchCount,
			Pump:  c.devices[logic.DevicePump].run.SwitchCount,
			Light: c.devices[logic.DeviceLight].run.SwitchCount,
		},
		Alarms: c.alarms.Current(),
	}
}

func b2i(v bool) int {
	if v {
		return 1
	}
	return 0
}
