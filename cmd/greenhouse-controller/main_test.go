package main

import (
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"
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
	"github.com/sweeney/greenhouse-controller/internal/serial"
	"github.com/sweeney/greenhouse-controller/internal/status"
	"github.com/sweeney/greenhouse-controller/internal/web"
)

var _ web.Backend = loopBackend{}
var _ mqtt.Publisher = nopPublisher{}

// testClock is read by the controller and advanced by the loop, once per
// tick.
type testClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(c.step)
	return c.t
}

type loopHarness struct {
	clk     *testClock
	sensors *sensor.Fake
	act     *gpio.FakeActuators
	pub     *mqtt.FakePublisher
	link    *serial.FakeLink
	tracker *status.Tracker
	ctrl    *controller.Controller

	tick  chan time.Time
	sig   chan os.Signal
	calls chan func()
	errCh chan error
}

func startLoop(t *testing.T, heartbeat time.Duration, samples ...sensor.Sample) *loopHarness {
	t.Helper()
	if len(samples) == 0 {
		samples = []sensor.Sample{{Temperature: 25, Humidity: 50, Light: 50}}
	}
	h := &loopHarness{
		clk:     &testClock{t: time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC), step: 2 * time.Second},
		sensors: sensor.NewFake(samples...),
		act:     gpio.NewFakeActuators(),
		pub:     mqtt.NewFakePublisher(),
		link:    serial.NewFakeLink(0),
		tick:    make(chan time.Time),
		sig:     make(chan os.Signal, 1),
		calls:   make(chan func()),
		errCh:   make(chan error, 1),
	}

	dev := flash.NewFakeImage()
	store, err := config.NewStore(flash.ConfigRegion(dev))
	if err != nil {
		t.Fatalf("config store: %v", err)
	}
	dlog, err := datalog.Open(flash.LogRegion(dev), h.clk.now)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	h.ctrl, err = controller.New(controller.Options{
		Sensors:   h.sensors,
		Actuators: h.act,
		Config:    store,
		Log:       dlog,
		Now:       h.clk.now,
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	h.tracker = status.NewTracker(h.clk.now(), status.Config{Name: "test"})

	go func() {
		h.errCh <- runLoop(loopDeps{
			ctrl:       h.ctrl,
			dispatcher: command.New(h.ctrl, time.UTC),
			link:       h.link,
			publisher:  h.pub,
			mqttStatus: h.pub,
			tracker:    h.tracker,
			heartbeat:  heartbeat,
			now:        h.clk.advance,
			tick:       h.tick,
			sig:        h.sig,
			calls:      h.calls,
		})
	}()
	return h
}

// sync returns once the loop has finished whatever it was doing.
func (h *loopHarness) sync() {
	done := make(chan struct{})
	h.calls <- func() { close(done) }
	<-done
}

func (h *loopHarness) ticks(n int) {
	for i := 0; i < n; i++ {
		h.tick <- time.Time{}
	}
	h.sync()
}

func (h *loopHarness) send(line string) {
	h.link.Send(line)
	h.sync()
}

func (h *loopHarness) stop(t *testing.T, s os.Signal) {
	t.Helper()
	h.sig <- s
	select {
	case err := <-h.errCh:
		if err != nil {
			t.Fatalf("runLoop returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runLoop did not stop")
	}
}

func TestRunLoopTicksDriveControl(t *testing.T) {
	h := startLoop(t, 0,
		sensor.Sample{Temperature: 25, Humidity: 50, Light: 50},
		sensor.Sample{Temperature: 31, Humidity: 50, Light: 50},
	)
	h.ticks(3)
	h.stop(t, syscall.SIGTERM)

	types := h.pub.EventTypes()
	if len(types) != 1 || types[0] != logic.EventFanOn {
		t.Fatalf("expected [FAN_ON], got %v", types)
	}
	if h.pub.Events[0].FanSpeed != 35 || h.pub.Events[0].Trigger != logic.TriggerAuto {
		t.Errorf("unexpected event %+v", h.pub.Events[0])
	}
	if !h.act.Fan || h.act.FanSpeed != 35 {
		t.Errorf("expected fan on at 35%%, got %v %d", h.act.Fan, h.act.FanSpeed)
	}

	names := h.pub.SystemEventNames()
	if len(names) != 1 || names[0] != "SHUTDOWN" {
		t.Fatalf("expected [SHUTDOWN], got %v", names)
	}
	if h.pub.SystemEvents[0].Reason != "SIGTERM" || !h.pub.SystemEvents[0].Retained {
		t.Errorf("unexpected shutdown event %+v", h.pub.SystemEvents[0])
	}
}

func TestRunLoopSerialCommands(t *testing.T) {
	h := startLoop(t, 0)
	h.send("MANUAL")
	h.send("pump_on")
	h.send("FROB")
	h.send("")
	h.stop(t, syscall.SIGINT)

	want := []string{"Mode: MANUAL", "OK: PUMP ON", "Unknown command: FROB"}
	got := h.link.Written()
	if len(got) != len(want) {
		t.Fatalf("expected %q, got %q", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d: expected %q, got %q", i, want[i], got[i])
		}
	}

	types := h.pub.EventTypes()
	if len(types) != 2 || types[0] != logic.EventModeManual || types[1] != logic.EventPumpOn {
		t.Errorf("expected [MODE_MANUAL PUMP_ON], got %v", types)
	}
	if !h.act.Pump {
		t.Error("expected pump on")
	}
}

func TestRunLoopSerialClosed(t *testing.T) {
	h := startLoop(t, 0)
	h.link.Close()
	h.ticks(2)
	h.stop(t, syscall.SIGTERM)

	if names := h.pub.SystemEventNames(); len(names) != 1 || names[0] != "SHUTDOWN" {
		t.Errorf("expected loop to keep running after console closed, got %v", names)
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	h := startLoop(t, 4*time.Second)
	h.ticks(3)
	h.stop(t, syscall.SIGTERM)

	var heartbeats int
	for _, se := range h.pub.SystemEvents {
		if se.Event != "HEARTBEAT" {
			continue
		}
		heartbeats++
		if se.Heartbeat == nil {
			t.Fatal("HEARTBEAT event missing heartbeat info")
		}
		if se.Heartbeat.UptimeSeconds != 4 {
			t.Errorf("expected 4s uptime, got %d", se.Heartbeat.UptimeSeconds)
		}
	}
	if heartbeats != 1 {
		t.Errorf("expected 1 HEARTBEAT event, got %d", heartbeats)
	}
}

func TestRunLoopHeartbeatDisabled(t *testing.T) {
	h := startLoop(t, 0)
	h.ticks(5)
	h.stop(t, syscall.SIGTERM)

	for _, se := range h.pub.SystemEvents {
		if se.Event == "HEARTBEAT" {
			t.Error("heartbeat should be disabled")
		}
	}
}

func TestRunLoopPublishError(t *testing.T) {
	h := startLoop(t, 0, sensor.Sample{Temperature: 31, Humidity: 50, Light: 50})
	h.pub.PublishError = errors.New("broker unavailable")
	h.ticks(2)
	h.stop(t, syscall.SIGTERM)

	if len(h.pub.Events) != 0 {
		t.Errorf("expected no recorded events, got %d", len(h.pub.Events))
	}
	if !h.act.Fan {
		t.Error("control should continue despite publish errors")
	}
	if names := h.pub.SystemEventNames(); len(names) != 1 || names[0] != "SHUTDOWN" {
		t.Errorf("expected SHUTDOWN despite publish errors, got %v", names)
	}
}

func TestRunLoopUpdatesTracker(t *testing.T) {
	h := startLoop(t, 0, sensor.Sample{Temperature: 36, Humidity: 50, Light: 50})
	h.pub.Connected = true
	h.ticks(1)
	h.stop(t, syscall.SIGTERM)

	snap := h.tracker.Snapshot()
	if !snap.Ready {
		t.Error("expected tracker ready after a cycle")
	}
	if !snap.MQTTConnected {
		t.Error("expected MQTT connection status copied")
	}
	if snap.Controller.Alarms != logic.AlarmHighTemp {
		t.Errorf("expected HIGH_TEMP, got %s", snap.Controller.Alarms)
	}
}

func TestLoopBackend(t *testing.T) {
	h := startLoop(t, 0)
	h.ticks(1)

	be := loopBackend{ctrl: h.ctrl, calls: h.calls, timeout: time.Second}
	recs, err := be.Query(datalog.Query{Type: datalog.TypeSensor})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("expected 1 sensor record, got %d", len(recs))
	}

	stats, err := be.DailyStats(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("daily stats: %v", err)
	}
	if stats.SensorCount != 1 || stats.AvgTemperature != 25 {
		t.Errorf("unexpected stats %+v", stats)
	}

	h.stop(t, syscall.SIGTERM)
}

func TestLoopBackendBusy(t *testing.T) {
	be := loopBackend{calls: make(chan func()), timeout: 10 * time.Millisecond}
	if _, err := be.Query(datalog.Query{}); !errors.Is(err, errLoopBusy) {
		t.Errorf("expected errLoopBusy, got %v", err)
	}
}

func TestSignalName(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGHUP, "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := signalName(tt.sig); got != tt.want {
			t.Errorf("signalName(%v) = %q, want %q", tt.sig, got, tt.want)
		}
	}
}

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestParseFlagsDefaults(t *testing.T) {
	o, err := parseFlags(newFlagSet(), nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if o.name != "main" || o.tick != 500*time.Millisecond || o.broker != "" || o.httpAddr != ":8080" {
		t.Errorf("unexpected defaults %+v", o)
	}
	if o.pins != gpio.DefaultPins {
		t.Errorf("expected default pins, got %+v", o.pins)
	}
}

func TestSettingsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "greenhouse.ini")
	content := `[Controller]
Name = north
tick = 1s

[mqtt]
broker = tcp://settings:1883
heartbeat = 5m

[gpio]
fan = 5
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}

	o, err := parseFlags(newFlagSet(), []string{"-settings", path, "-broker", "tcp://flag:1883"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if o.name != "north" {
		t.Errorf("name: got %q, want north", o.name)
	}
	if o.tick != time.Second {
		t.Errorf("tick: got %v, want 1s", o.tick)
	}
	if o.broker != "tcp://flag:1883" {
		t.Errorf("explicit flag should win, got %q", o.broker)
	}
	if o.heartbeat != 5*time.Minute {
		t.Errorf("heartbeat: got %v, want 5m", o.heartbeat)
	}
	if o.pins.Fan != 5 || o.pins.Pump != gpio.DefaultPins.Pump {
		t.Errorf("unexpected pins %+v", o.pins)
	}
}

func TestSettingsFileErrors(t *testing.T) {
	if _, err := parseFlags(newFlagSet(), []string{"-settings", filepath.Join(t.TempDir(), "missing.ini")}); err == nil {
		t.Error("expected error for missing settings file")
	}

	path := filepath.Join(t.TempDir(), "bad.ini")
	os.WriteFile(path, []byte("[controller]\ntick = soon\n"), 0o644)
	if _, err := parseFlags(newFlagSet(), []string{"-settings", path}); err == nil {
		t.Error("expected error for invalid duration")
	}
}
