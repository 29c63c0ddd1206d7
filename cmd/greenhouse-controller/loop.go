package main

import (
	"errors"
	"log"
	"os"
	"syscall"
	"time"

	"github.com/sweeney/greenhouse-controller/internal/command"
	"github.com/sweeney/greenhouse-controller/internal/controller"
	"github.com/sweeney/greenhouse-controller/internal/datalog"
	"github.com/sweeney/greenhouse-controller/internal/logic"
	"github.com/sweeney/greenhouse-controller/internal/mqtt"
	"github.com/sweeney/greenhouse-controller/internal/serial"
	"github.com/sweeney/greenhouse-controller/internal/status"
)

// loopDeps is everything runLoop touches. The controller is only ever used
// from the loop goroutine; other goroutines reach it through calls.
type loopDeps struct {
	ctrl       *controller.Controller
	dispatcher *command.Dispatcher
	link       serial.Link // nil when no console is configured
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus // nil when unknown
	tracker    *status.Tracker
	heartbeat  time.Duration
	now        func() time.Time
	tick       <-chan time.Time
	sig        <-chan os.Signal
	calls      <-chan func()
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

func runLoop(d loopDeps) error {
	var lines <-chan string
	if d.link != nil {
		lines = d.link.Lines()
	}

	for {
		select {
		case s := <-d.sig:
			log.Printf("received %v, shutting down", s)
			d.refresh()
			event := mqtt.SystemEvent{
				Timestamp: d.now(),
				Event:     "SHUTDOWN",
				Reason:    signalName(s),
				Retained:  true,
			}
			if err := d.publisher.PublishSystem(event); err != nil {
				log.Printf("failed to publish shutdown event: %v", err)
			} else {
				log.Printf("published shutdown event")
			}
			return nil

		case <-d.tick:
			t := d.now()
			d.publish(d.ctrl.Tick(t))

			if hb := d.ctrl.CheckHeartbeat(t, d.heartbeat); hb != nil {
				log.Printf("heartbeat: uptime=%v fan=%d pump=%d light=%d alarms=%s",
					hb.Uptime, hb.Counts.Fan, hb.Counts.Pump, hb.Counts.Light, hb.Alarms)
				err := d.publisher.PublishSystem(mqtt.SystemEvent{
					Timestamp: hb.Timestamp,
					Event:     "HEARTBEAT",
					Heartbeat: mqtt.NewHeartbeatInfo(*hb),
				})
				if err != nil {
					log.Printf("heartbeat publish error: %v", err)
				}
			}
			d.refresh()

		case line, ok := <-lines:
			if !ok {
				log.Printf("serial console closed")
				lines = nil
				continue
			}
			res := d.dispatcher.Execute(line)
			for _, out := range res.Lines {
				if err := d.link.WriteLine(out); err != nil {
					log.Printf("serial write: %v", err)
					break
				}
			}
			d.publish(res.Events)
			d.refresh()

		case fn := <-d.calls:
			fn()
		}
	}
}

func (d loopDeps) publish(events []logic.Event) {
	for _, ev := range events {
		if err := d.publisher.Publish(ev); err != nil {
			log.Printf("publish error: %v", err)
		}
	}
}

// refresh copies the controller state into the tracker for HTTP readers.
func (d loopDeps) refresh() {
	if d.tracker == nil {
		return
	}
	d.tracker.Update(d.ctrl.Status())
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
}

var errLoopBusy = errors.New("control loop did not accept the request in time")

// loopBackend serves web queries by running them inside the control loop.
type loopBackend struct {
	ctrl    *controller.Controller
	calls   chan<- func()
	timeout time.Duration
}

// do runs fn on the loop goroutine and waits for it to finish.
func (b loopBackend) do(fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}
	select {
	case b.calls <- wrapped:
	case <-time.After(b.timeout):
		return errLoopBusy
	}
	<-done
	return nil
}

func (b loopBackend) Query(q datalog.Query) ([]datalog.Record, error) {
	var recs []datalog.Record
	var qerr error
	if err := b.do(func() { recs, qerr = b.ctrl.Query(q) }); err != nil {
		return nil, err
	}
	return recs, qerr
}

func (b loopBackend) DailyStats(day time.Time) (datalog.DailyStats, error) {
	var stats datalog.DailyStats
	var serr error
	if err := b.do(func() { stats, serr = b.ctrl.DailyStats(day) }); err != nil {
		return datalog.DailyStats{}, err
	}
	return stats, serr
}

// nopPublisher is used when no broker is configured.
type nopPublisher struct{}

func (nopPublisher) Publish(logic.Event) error             { return nil }
func (nopPublisher) PublishSystem(mqtt.SystemEvent) error { return nil }
func (nopPublisher) Close() error                         { return nil }
