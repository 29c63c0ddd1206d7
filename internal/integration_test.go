package internal

import (
	"strings"
	"testing"
	"time"

	"github.com/sweeney/greenhouse-controller/internal/command"
	"github.com/sweeney/greenhouse-controller/internal/config"
	"github.com/sweeney/greenhouse-controller/internal/controller"
	"github.com/sweeney/greenhouse-controller/internal/datalog"
	"github.com/sweeney/greenhouse-controller/internal/flash"
	"github.com/sweeney/greenhouse-controller/internal/gpio"
	"github.com/sweeney/greenhouse-controller/internal/logic"
	"github.com/sweeney/greenhouse-controller/internal/mqtt"
	"github.com/sweeney/greenhouse-controller/internal/sensor"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

// system is one boot of the controller on a given flash device.
type system struct {
	clk     *clock
	sensors *sensor.Fake
	act     *gpio.FakeActuators
	store   *config.Store
	log     *datalog.Logger
	ctrl    *controller.Controller
	disp    *command.Dispatcher
	pub     *mqtt.FakePublisher
}

func boot(t *testing.T, dev flash.Device, clk *clock) *system {
	t.Helper()
	s := &system{
		clk:     clk,
		sensors: sensor.NewFake(sensor.Sample{Temperature: 25, Humidity: 50, Light: 50}),
		act:     gpio.NewFakeActuators(),
		pub:     mqtt.NewFakePublisher(),
	}

	var err error
	s.store, err = config.NewStore(flash.ConfigRegion(dev))
	if err != nil {
		t.Fatalf("config store: %v", err)
	}
	s.log, err = datalog.Open(flash.LogRegion(dev), clk.now)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	s.ctrl, err = controller.New(controller.Options{
		Sensors:   s.sensors,
		Actuators: s.act,
		Config:    s.store,
		Log:       s.log,
		Now:       clk.now,
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	s.disp = command.New(s.ctrl, time.UTC)
	return s
}

// cycle advances two seconds, runs a cycle and publishes its events.
func (s *system) cycle(t *testing.T, temp, humi, light uint8) []logic.Event {
	t.Helper()
	s.clk.t = s.clk.t.Add(2 * time.Second)
	s.sensors.Set(sensor.Sample{Temperature: temp, Humidity: humi, Light: light})
	events := s.ctrl.Tick(s.clk.t)
	for _, ev := range events {
		if err := s.pub.Publish(ev); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	return events
}

func (s *system) exec(t *testing.T, line string) []string {
	t.Helper()
	res := s.disp.Execute(line)
	for _, ev := range res.Events {
		s.pub.Publish(ev)
	}
	return res.Lines
}

func opNames(t *testing.T, l *datalog.Logger) []string {
	t.Helper()
	recs, err := l.Query(datalog.Query{Type: datalog.TypeOperation})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	var out []string
	for _, r := range recs {
		out = append(out, r.(datalog.OperationRecord).Op.String())
	}
	return out
}

func TestIntegrationFullFlow(t *testing.T) {
	dev := flash.NewFakeImage()
	clk := &clock{time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC)}
	s := boot(t, dev, clk)

	if got := s.exec(t, "CONFIG_SET temp_fan_on 28"); got[0] != "OK: temp_fan_on = 28" {
		t.Fatalf("CONFIG_SET: %q", got)
	}
	if got := s.exec(t, "CONFIG_SAVE"); got[0] != "Config saved" {
		t.Fatalf("CONFIG_SAVE: %q", got)
	}

	s.cycle(t, 25, 50, 50)
	s.cycle(t, 29, 50, 50)
	s.cycle(t, 37, 50, 50)
	s.cycle(t, 25, 50, 50)

	want := []logic.EventType{logic.EventFanOn, logic.EventAlarm, logic.EventFanOff, logic.EventAlarm}
	got := s.pub.EventTypes()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if s.pub.Events[0].FanSpeed != 25 {
		t.Errorf("expected fan at floor speed 25, got %d", s.pub.Events[0].FanSpeed)
	}
	if !strings.Contains(string(s.pub.Payloads[1]), `"alarms":["HIGH_TEMP"]`) {
		t.Errorf("unexpected alarm payload %s", s.pub.Payloads[1])
	}
	if s.pub.Events[3].Alarms != 0 {
		t.Errorf("expected alarm clear event, got %s", s.pub.Events[3].Alarms)
	}
	if s.act.Fan || s.act.Alarm != logic.AlarmNone {
		t.Errorf("expected fan off and alarm cleared, got fan=%v alarm=%s", s.act.Fan, s.act.Alarm)
	}

	ops := opNames(t, s.log)
	if len(ops) != 2 || ops[0] != "FAN_OFF" || ops[1] != "FAN_ON" {
		t.Errorf("expected [FAN_OFF FAN_ON], got %v", ops)
	}
	if info := s.log.Info(); info.Alarm != 2 || info.Sensor == 0 {
		t.Errorf("unexpected log info %+v", info)
	}
}

func TestIntegrationStatePersistsAcrossReboot(t *testing.T) {
	dev := flash.NewFakeImage()
	clk := &clock{time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC)}

	first := boot(t, dev, clk)
	first.exec(t, "CONFIG_SET humi_pump_on 40")
	first.exec(t, "CONFIG_SAVE")
	first.exec(t, "CONFIG_SET temp_high_alarm 40") // not saved
	first.cycle(t, 25, 35, 50)
	first.cycle(t, 25, 60, 50)
	before := first.log.Info()

	clk.t = clk.t.Add(time.Hour)
	second := boot(t, dev, clk)

	cfg := second.ctrl.Config()
	if cfg.HumiPumpOn != 40 {
		t.Errorf("expected saved humi_pump_on 40, got %d", cfg.HumiPumpOn)
	}
	if cfg.TempHighAlarm != config.Defaults().TempHighAlarm {
		t.Errorf("unsaved change should be lost, got temp_high_alarm %d", cfg.TempHighAlarm)
	}

	after := second.log.Info()
	if after.Total != before.Total || after.Page != before.Page || after.Offset != before.Offset {
		t.Errorf("log position not recovered: before %+v, after %+v", before, after)
	}
	if after.Torn != 0 {
		t.Errorf("expected no torn slots, got %d", after.Torn)
	}

	if ev := second.cycle(t, 25, 35, 50); len(ev) != 1 || ev[0].Type != logic.EventPumpOn {
		t.Fatalf("expected PUMP_ON, got %+v", ev)
	}
	ops := opNames(t, second.log)
	want := []string{"PUMP_ON", "PUMP_OFF", "PUMP_ON"}
	if len(ops) != len(want) {
		t.Fatalf("expected %v, got %v", want, ops)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Errorf("op %d: expected %s, got %s", i, want[i], ops[i])
		}
	}

	if got := second.log.Info(); !got.Newest.After(before.Newest) || !got.Oldest.Equal(before.Oldest) {
		t.Errorf("expected log to continue after reboot: before %+v, after %+v", before, got)
	}
}

func TestIntegrationCorruptConfigRestoresDefaults(t *testing.T) {
	dev := flash.NewFakeImage()
	clk := &clock{time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC)}

	first := boot(t, dev, clk)
	first.exec(t, "CONFIG_SET light_auto_on 50")
	first.exec(t, "CONFIG_SAVE")
	first.cycle(t, 25, 50, 50)
	total := first.log.Info().Total

	// Flip bits in a threshold byte without fixing the checksum.
	dev.Poke(8, 0x00)

	second := boot(t, dev, clk)
	if got := second.ctrl.Config(); got != config.Defaults() {
		t.Errorf("expected defaults after corruption, got %+v", got)
	}
	stored, err := second.store.Load()
	if err != nil {
		t.Fatalf("expected repaired config, got %v", err)
	}
	if stored != config.Defaults() {
		t.Errorf("expected defaults written back, got %+v", stored)
	}
	if got := second.log.Info().Total; got != total {
		t.Errorf("log should be untouched, expected %d records, got %d", total, got)
	}
}

func TestIntegrationLogWrapsUnderLongRun(t *testing.T) {
	dev := flash.NewFakeImage()
	clk := &clock{time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)}
	s := boot(t, dev, clk)
	s.exec(t, "CONFIG_SET log_interval 5")
	s.exec(t, "CONFIG_SET sensor_interval 5")

	capacity := s.log.Info().Capacity
	perPage := flash.PageSize / datalog.RecordSize

	for i := 0; i < capacity+perPage/2; i++ {
		clk.t = clk.t.Add(5 * time.Second)
		s.ctrl.Tick(clk.t)
	}

	info := s.log.Info()
	if info.Total > capacity || info.Total < capacity-perPage {
		t.Errorf("expected total within one page of capacity %d, got %d", capacity, info.Total)
	}
	if !info.Newest.Equal(clk.t) {
		t.Errorf("newest: got %v, want %v", info.Newest, clk.t)
	}
	first := time.Date(2026, 4, 1, 0, 0, 5, 0, time.UTC)
	if !info.Oldest.After(first) {
		t.Errorf("oldest records should have been erased, oldest is %v", info.Oldest)
	}

	again := boot(t, dev, clk)
	if got := again.log.Info(); got.Total != info.Total || !got.Oldest.Equal(info.Oldest) {
		t.Errorf("wrapped log not recovered: before %+v, after %+v", info, got)
	}
}

func TestIntegrationManualOverrideAndReturnToAuto(t *testing.T) {
	dev := flash.NewFakeImage()
	clk := &clock{time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC)}
	s := boot(t, dev, clk)

	s.exec(t, "MANUAL")
	s.exec(t, "LIGHT_ON")
	s.exec(t, "FAN_ON")
	if !s.act.Light || !s.act.Fan || s.act.FanSpeed != controller.ManualFanSpeed {
		t.Fatalf("expected manual outputs on, got %+v", s.act)
	}

	// Auto control must not touch devices in manual mode.
	s.cycle(t, 20, 50, 90)
	if !s.act.Fan || !s.act.Light {
		t.Error("manual outputs changed by a cycle")
	}

	s.exec(t, "AUTO")
	if s.act.Fan || s.act.Light {
		t.Error("expected outputs off after returning to auto")
	}

	want := []logic.EventType{
		logic.EventModeManual, logic.EventLightOn, logic.EventFanOn,
		logic.EventFanOff, logic.EventLightOff, logic.EventModeAuto,
	}
	got := s.pub.EventTypes()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	lines := s.exec(t, "LOG 3")
	if len(lines) != 3 || !strings.Contains(lines[0], "OP MODE_AUTO 1->0 manual") {
		t.Errorf("unexpected log output %q", lines)
	}
}
