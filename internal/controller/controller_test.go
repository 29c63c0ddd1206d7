package controller

import (
	"errors"
	"testing"
	"time"

	"github.com/sweeney/greenhouse-controller/internal/config"
	"github.com/sweeney/greenhouse-controller/internal/datalog"
	"github.com/sweeney/greenhouse-controller/internal/flash"
	"github.com/sweeney/greenhouse-controller/internal/gpio"
	"github.com/sweeney/greenhouse-controller/internal/logic"
	"github.com/sweeney/greenhouse-controller/internal/sensor"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

type harness struct {
	dev      *flash.Fake
	sensors  *sensor.Fake
	act      *gpio.FakeActuators
	clk      *clock
	cfgStore *config.Store
	log      *datalog.Logger
	ctrl     *Controller
}

func newHarness(t *testing.T, cfg *config.SystemConfig) *harness {
	t.Helper()
	h := &harness{
		dev:     flash.NewFakeImage(),
		sensors: sensor.NewFake(sensor.Sample{Temperature: 25, Humidity: 50, Light: 50}),
		act:     gpio.NewFakeActuators(),
		clk:     &clock{time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)},
	}

	var err error
	h.cfgStore, err = config.NewStore(flash.ConfigRegion(h.dev))
	if err != nil {
		t.Fatalf("config store: %v", err)
	}
	if cfg != nil {
		if err := h.cfgStore.Save(*cfg); err != nil {
			t.Fatalf("save config: %v", err)
		}
	}
	h.log, err = datalog.Open(flash.LogRegion(h.dev), h.clk.now)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	h.ctrl, err = New(Options{
		Sensors:   h.sensors,
		Actuators: h.act,
		Config:    h.cfgStore,
		Log:       h.log,
		Now:       h.clk.now,
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	return h
}

// cycle sets the readings, advances the clock and runs one control cycle.
func (h *harness) cycle(temp, humi, light uint8) []logic.Event {
	h.clk.t = h.clk.t.Add(2 * time.Second)
	h.sensors.Set(sensor.Sample{Temperature: temp, Humidity: humi, Light: light})
	return h.ctrl.Cycle(h.clk.t)
}

func (h *harness) records(t *testing.T, typ datalog.Type) []datalog.Record {
	t.Helper()
	recs, err := h.log.Query(datalog.Query{Type: typ})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	return recs
}

func opCodes(recs []datalog.Record) []datalog.Op {
	var out []datalog.Op
	for _, r := range recs {
		out = append(out, r.(datalog.OperationRecord).Op)
	}
	return out
}

func TestStartup(t *testing.T) {
	h := newHarness(t, nil)

	if h.ctrl.Mode() != logic.ModeAuto {
		t.Errorf("expected AUTO mode, got %s", h.ctrl.Mode())
	}
	if h.act.Fan || h.act.Pump || h.act.Light || h.act.Alarm != logic.AlarmNone {
		t.Errorf("expected all outputs off, got %+v", h.act)
	}
	if h.ctrl.Config() != config.Defaults() {
		t.Error("expected default config")
	}
	if _, err := h.cfgStore.Load(); err != nil {
		t.Errorf("defaults should have been persisted: %v", err)
	}
}

func TestStartupManualFromConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.AutoModeDefault = 1
	h := newHarness(t, &cfg)

	if h.ctrl.Mode() != logic.ModeManual {
		t.Errorf("expected MANUAL mode, got %s", h.ctrl.Mode())
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("expected error with missing collaborators")
	}
}

func TestFanTemperatureSequence(t *testing.T) {
	h := newHarness(t, nil)

	steps := []struct {
		temp  uint8
		fan   bool
		speed uint8
	}{
		{20, false, 0},
		{32, true, 35},
		{40, true, 70},
		{32, true, 35},
		{24, false, 0},
		{14, false, 0},
	}

	for i, s := range steps {
		h.cycle(s.temp, 60, 60)
		if h.act.Fan != s.fan || h.act.FanSpeed != s.speed {
			t.Errorf("step %d (temp=%d): expected fan=%v speed=%d, got fan=%v speed=%d",
				i, s.temp, s.fan, s.speed, h.act.Fan, h.act.FanSpeed)
		}
	}

	ops := h.records(t, datalog.TypeOperation)
	if len(ops) != 2 {
		t.Fatalf("expected exactly 2 operation records, got %d: %v", len(ops), opCodes(ops))
	}
	off := ops[0].(datalog.OperationRecord)
	on := ops[1].(datalog.OperationRecord)
	if on.Op != datalog.OpFanOn || on.Old != 0 || on.New != 1 || on.Trigger != datalog.TriggerAuto {
		t.Errorf("unexpected ON record %+v", on)
	}
	if off.Op != datalog.OpFanOff || off.Trigger != datalog.TriggerAuto {
		t.Errorf("unexpected OFF record %+v", off)
	}
}

func TestPumpAndLightAutoControl(t *testing.T) {
	h := newHarness(t, nil)

	events := h.cycle(25, 30, 20)
	if !h.act.Pump || !h.act.Light {
		t.Fatalf("expected pump and light on, got %+v", h.act)
	}
	if len(events) < 2 || events[0].Type != logic.EventPumpOn || events[1].Type != logic.EventLightOn {
		t.Errorf("expected PUMP_ON then LIGHT_ON events, got %+v", events)
	}

	// Inside both bands nothing changes.
	h.cycle(25, 35, 40)
	if !h.act.Pump || !h.act.Light {
		t.Error("expected devices held inside band")
	}

	h.cycle(25, 36, 41)
	if h.act.Pump || h.act.Light {
		t.Error("expected devices off above band")
	}
}

func TestAlarmLoggedOncePerChange(t *testing.T) {
	h := newHarness(t, nil)

	var alarmEvents int
	for i := 0; i < 3; i++ {
		for _, ev := range h.cycle(36, 50, 50) {
			if ev.Type == logic.EventAlarm {
				alarmEvents++
			}
		}
	}
	if alarmEvents != 1 {
		t.Errorf("expected 1 alarm event, got %d", alarmEvents)
	}

	alarms := h.records(t, datalog.TypeAlarm)
	if len(alarms) != 1 {
		t.Fatalf("expected 1 alarm record, got %d", len(alarms))
	}
	rec := alarms[0].(datalog.AlarmRecord)
	if logic.AlarmFlags(rec.Flags) != logic.AlarmHighTemp || logic.AlarmKind(rec.Active) != logic.AlarmKindHighTemp {
		t.Errorf("expected HIGH_TEMP record, got %+v", rec)
	}
	if rec.Temperature != 36 || rec.Humidity != 50 || rec.Light != 50 {
		t.Errorf("expected triggering readings in record, got %+v", rec)
	}
	if h.act.Alarm != logic.AlarmKindHighTemp || !h.act.Sound {
		t.Errorf("expected sounding HIGH_TEMP alarm, got %v sound=%v", h.act.Alarm, h.act.Sound)
	}

	h.cycle(25, 50, 50)
	alarms = h.records(t, datalog.TypeAlarm)
	if len(alarms) != 2 || alarms[0].(datalog.AlarmRecord).Flags != 0 {
		t.Errorf("expected clearing record, got %+v", alarms)
	}
	if h.act.Alarm != logic.AlarmNone || h.act.Sound {
		t.Error("expected alarm outputs cleared")
	}
}

func TestAlarmSoundDisabled(t *testing.T) {
	cfg := config.Defaults()
	cfg.AlarmSound = 0
	h := newHarness(t, &cfg)

	h.cycle(10, 50, 50)
	if h.act.Alarm != logic.AlarmKindLowTemp || h.act.Sound {
		t.Errorf("expected silent LOW_TEMP, got %v sound=%v", h.act.Alarm, h.act.Sound)
	}
}

func TestManualCommandsAlwaysLog(t *testing.T) {
	h := newHarness(t, nil)

	if _, err := h.ctrl.Manual(logic.DeviceFan, true); !errors.Is(err, ErrNotManual) {
		t.Fatalf("expected ErrNotManual in auto mode, got %v", err)
	}
	if n := len(h.records(t, datalog.TypeOperation)); n != 0 {
		t.Errorf("rejected command must not log, got %d records", n)
	}

	h.ctrl.SetMode(logic.ModeManual)

	events, err := h.ctrl.Manual(logic.DeviceFan, true)
	if err != nil {
		t.Fatalf("manual fan on: %v", err)
	}
	if len(events) != 1 || events[0].Type != logic.EventFanOn || events[0].FanSpeed != ManualFanSpeed {
		t.Errorf("expected FAN_ON at manual speed, got %+v", events)
	}
	if !h.act.Fan || h.act.FanSpeed != 45 {
		t.Errorf("expected fan on at 45%%, got %v %d", h.act.Fan, h.act.FanSpeed)
	}

	events, err = h.ctrl.Manual(logic.DeviceFan, true)
	if err != nil || len(events) != 0 {
		t.Errorf("repeat command: expected no event, got %+v %v", events, err)
	}
	h.ctrl.Manual(logic.DeviceFan, false)

	ops := h.records(t, datalog.TypeOperation)
	want := []datalog.Op{datalog.OpFanOff, datalog.OpFanOn, datalog.OpFanOn, datalog.OpModeManual}
	got := opCodes(ops)
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("record %d: expected %v, got %v", i, want[i], got[i])
		}
		if tr := ops[i].(datalog.OperationRecord).Trigger; tr != datalog.TriggerManual {
			t.Errorf("record %d: expected manual trigger, got %v", i, tr)
		}
	}

	// Only real edges count.
	if sc := h.ctrl.Status().Devices[logic.DeviceFan].Run.SwitchCount; sc != 2 {
		t.Errorf("expected 2 switches, got %d", sc)
	}
}

func TestSwitchToAutoForcesOff(t *testing.T) {
	h := newHarness(t, nil)
	h.ctrl.SetMode(logic.ModeManual)
	h.ctrl.Manual(logic.DevicePump, true)
	h.ctrl.Manual(logic.DeviceLight, true)

	events := h.ctrl.SetMode(logic.ModeAuto)

	wantEvents := []logic.EventType{logic.EventPumpOff, logic.EventLightOff, logic.EventModeAuto}
	if len(events) != len(wantEvents) {
		t.Fatalf("expected %v, got %+v", wantEvents, events)
	}
	for i, w := range wantEvents {
		if events[i].Type != w || events[i].Trigger != logic.TriggerManual {
			t.Errorf("event %d: expected %s/manual, got %s/%s", i, w, events[i].Type, events[i].Trigger)
		}
	}
	if h.act.Pump || h.act.Light {
		t.Error("expected pump and light off")
	}

	ops := opCodes(h.records(t, datalog.TypeOperation))
	if ops[0] != datalog.OpModeAuto || ops[1] != datalog.OpLightOff || ops[2] != datalog.OpPumpOff {
		t.Errorf("expected MODE_AUTO after forced offs, got %v", ops)
	}

	if ev := h.ctrl.SetMode(logic.ModeAuto); ev != nil {
		t.Errorf("setting the current mode should be a no-op, got %+v", ev)
	}
}

func TestManualModeSkipsAutoControl(t *testing.T) {
	h := newHarness(t, nil)
	h.ctrl.SetMode(logic.ModeManual)

	events := h.cycle(45, 25, 5)
	if h.act.Fan || h.act.Pump || h.act.Light {
		t.Error("auto control must not run in manual mode")
	}
	if len(events) != 1 || events[0].Type != logic.EventAlarm {
		t.Errorf("expected only an alarm event, got %+v", events)
	}
}

func TestSensorFailureKeepsLastValid(t *testing.T) {
	h := newHarness(t, nil)
	h.cycle(25, 50, 50)

	reads := h.sensors.ClimateReads
	h.clk.t = h.clk.t.Add(2 * time.Second)
	h.sensors.Set(sensor.Sample{ClimateErr: errors.New("checksum"), Light: 55})
	events := h.ctrl.Cycle(h.clk.t)

	if got := h.sensors.ClimateReads - reads; got != DefaultSensorRetries {
		t.Errorf("expected %d climate attempts, got %d", DefaultSensorRetries, got)
	}
	snap := h.ctrl.Snapshot()
	if snap.Temperature != 25 || snap.Humidity != 50 || snap.Light != 55 {
		t.Errorf("expected last valid climate with fresh light, got %+v", snap)
	}
	if snap.SensorError != logic.SensorErrClimate {
		t.Errorf("expected climate error flag, got %v", snap.SensorError)
	}
	if len(events) != 1 || events[0].Alarms != logic.AlarmSensorError || events[0].Active != logic.AlarmKindSensorError {
		t.Errorf("expected SENSOR_ERROR alarm, got %+v", events)
	}

	// Out of range counts as a failure too.
	h.cycle(25, 95, 50)
	if h.ctrl.Snapshot().SensorError&logic.SensorErrClimate == 0 {
		t.Error("expected out-of-range humidity to set error flag")
	}

	h.cycle(26, 51, 50)
	if snap := h.ctrl.Snapshot(); snap.SensorError != 0 || snap.Temperature != 26 {
		t.Errorf("expected recovery, got %+v", snap)
	}
	if h.act.Alarm != logic.AlarmNone {
		t.Errorf("expected alarm cleared, got %v", h.act.Alarm)
	}
}

func TestAutoShutdownOnSensorFailure(t *testing.T) {
	cfg := config.Defaults()
	cfg.AutoShutdown = 1
	h := newHarness(t, &cfg)

	h.cycle(35, 25, 50)
	if !h.act.Fan || !h.act.Pump {
		t.Fatal("expected fan and pump on")
	}

	h.clk.t = h.clk.t.Add(2 * time.Second)
	h.sensors.Set(sensor.Sample{ClimateErr: errors.New("timeout"), Light: 50})
	h.ctrl.Cycle(h.clk.t)
	if h.act.Fan || h.act.Pump {
		t.Error("expected fan and pump off on climate failure")
	}
}

func TestTickHonorsSensorInterval(t *testing.T) {
	h := newHarness(t, nil)
	t0 := h.clk.t

	h.ctrl.Tick(t0)
	h.ctrl.Tick(t0.Add(time.Second))
	if h.sensors.LightReads != 1 {
		t.Errorf("expected 1 read within interval, got %d", h.sensors.LightReads)
	}
	h.ctrl.Tick(t0.Add(2 * time.Second))
	if h.sensors.LightReads != 2 {
		t.Errorf("expected 2 reads after interval, got %d", h.sensors.LightReads)
	}
}

func TestSensorLogInterval(t *testing.T) {
	h := newHarness(t, nil)
	t0 := h.clk.t

	for s := 0; s <= 20; s += 2 {
		h.clk.t = t0.Add(time.Duration(s) * time.Second)
		h.ctrl.Tick(h.clk.t)
	}

	recs := h.records(t, datalog.TypeSensor)
	if len(recs) != 3 {
		t.Fatalf("expected sensor records at 0s, 10s and 20s, got %d", len(recs))
	}
	s := recs[0].(datalog.SensorRecord)
	if s.Temperature != 25 || s.Humidity != 50 || s.Light != 50 || s.Mode != 0 {
		t.Errorf("unexpected sensor record %+v", s)
	}
}

func TestSetParam(t *testing.T) {
	h := newHarness(t, nil)

	_, before, _ := h.ctrl.GetParam("temp_fan_on")
	if _, err := h.ctrl.SetParam("temp_fan_on", 99); !errors.Is(err, config.ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if _, after, _ := h.ctrl.GetParam("temp_fan_on"); after != before {
		t.Errorf("rejected set changed value from %d to %d", before, after)
	}

	if _, err := h.ctrl.SetParam("nope", 1); !errors.Is(err, config.ErrUnknownParam) {
		t.Errorf("expected ErrUnknownParam, got %v", err)
	}

	p, err := h.ctrl.SetParam("temp_fan", 25)
	if err != nil || p.ID != config.ParamTempFanOn {
		t.Fatalf("set by prefix: %+v %v", p, err)
	}
	h.cycle(26, 50, 50)
	if !h.act.Fan {
		t.Error("new threshold should apply on the next cycle")
	}

	if stored, _ := h.cfgStore.Load(); stored.TempFanOn != 30 {
		t.Errorf("unsaved change must not be persisted, got %d", stored.TempFanOn)
	}
	if err := h.ctrl.SaveConfig(); err != nil {
		t.Fatalf("save: %v", err)
	}
	if stored, _ := h.cfgStore.Load(); stored.TempFanOn != 25 {
		t.Errorf("expected 25 persisted, got %d", stored.TempFanOn)
	}

	if err := h.ctrl.ResetConfig(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if stored, _ := h.cfgStore.Load(); stored != config.Defaults() {
		t.Errorf("expected defaults persisted, got %+v", stored)
	}
}

func TestRunStatusAndHeartbeat(t *testing.T) {
	h := newHarness(t, nil)
	start := h.clk.t

	h.clk.t = start.Add(time.Minute)
	h.ctrl.Cycle(h.clk.t)
	h.sensors.Set(sensor.Sample{Temperature: 31, Humidity: 50, Light: 50})
	h.ctrl.Cycle(h.clk.t)

	h.clk.t = start.Add(6 * time.Minute)
	h.sensors.Set(sensor.Sample{Temperature: 20, Humidity: 50, Light: 50})
	h.ctrl.Cycle(h.clk.t)

	fan := h.ctrl.Status().Devices[logic.DeviceFan]
	if fan.Run.TotalRun != 5*time.Minute || fan.Run.SwitchCount != 2 || fan.On {
		t.Errorf("unexpected fan status %+v", fan)
	}

	if hb := h.ctrl.CheckHeartbeat(start.Add(time.Minute), 15*time.Minute); hb != nil {
		t.Error("heartbeat before interval")
	}
	if hb := h.ctrl.CheckHeartbeat(start, 0); hb != nil {
		t.Error("zero interval disables heartbeat")
	}
	hb := h.ctrl.CheckHeartbeat(start.Add(15*time.Minute), 15*time.Minute)
	if hb == nil {
		t.Fatal("expected heartbeat at interval")
	}
	if hb.Uptime != 15*time.Minute || hb.Counts.Fan != 2 || hb.Counts.Pump != 0 {
		t.Errorf("unexpected heartbeat %+v", hb)
	}
	if again := h.ctrl.CheckHeartbeat(start.Add(16*time.Minute), 15*time.Minute); again != nil {
		t.Error("heartbeat should reset its interval")
	}
}

func TestFlashFailureDoesNotStopControl(t *testing.T) {
	h := newHarness(t, nil)
	h.dev.FailProgram = func(uint32) bool { return true }

	events := h.cycle(35, 50, 50)
	if !h.act.Fan {
		t.Error("expected fan on despite log failure")
	}
	if len(events) == 0 || events[0].Type != logic.EventFanOn {
		t.Errorf("expected FAN_ON event, got %+v", events)
	}
}

func TestLogAccess(t *testing.T) {
	h := newHarness(t, nil)
	h.cycle(32, 50, 50)

	info := h.ctrl.LoggerInfo()
	if info.Operation != 1 || info.Sensor != 1 {
		t.Errorf("unexpected info %+v", info)
	}
	recent, err := h.ctrl.Recent(1)
	if err != nil || len(recent) != 1 {
		t.Fatalf("recent: %v %v", recent, err)
	}
	stats, err := h.ctrl.DailyStats(h.clk.t)
	if err != nil || stats.SensorCount != 1 || stats.AvgTemperature != 32 {
		t.Errorf("unexpected stats %+v %v", stats, err)
	}

	if err := h.ctrl.EraseLog(); err != nil {
		t.Fatalf("erase: %v", err)
	}
	if h.ctrl.LoggerInfo().Total != 0 {
		t.Error("expected empty log")
	}
}
