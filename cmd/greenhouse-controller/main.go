// Command greenhouse-controller runs the greenhouse control loop: it reads the
// climate and light sensors, drives the fan, pump and grow light, raises
// alarms, logs to flash and serves a serial console, HTTP and MQTT.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/greenhouse-controller/internal/command"
	"github.com/sweeney/greenhouse-controller/internal/config"
	"github.com/sweeney/greenhouse-controller/internal/controller"
	"github.com/sweeney/greenhouse-controller/internal/datalog"
	"github.com/sweeney/greenhouse-controller/internal/flash"
	"github.com/sweeney/greenhouse-controller/internal/gpio"
	"github.com/sweeney/greenhouse-controller/internal/mqtt"
	"github.com/sweeney/greenhouse-controller/internal/sensor"
	"github.com/sweeney/greenhouse-controller/internal/serial"
	"github.com/sweeney/greenhouse-controller/internal/status"
	"github.com/sweeney/greenhouse-controller/internal/web"
)

type options struct {
	name       string
	flashPath  string
	tick       time.Duration
	serialPort string
	baud       int
	httpAddr   string
	broker     string
	heartbeat  time.Duration
	climateDir string
	lightDir   string
	lightScale int
	gpioChip   string
	pins       gpio.Pins
	pwmChip    string
	printState bool
}

func parseFlags(fs *flag.FlagSet, args []string) (options, error) {
	var o options
	settings := fs.String("settings", "", "ini settings file (command-line flags take precedence)")
	fs.StringVar(&o.name, "name", "main", "controller name used in MQTT topics")
	fs.StringVar(&o.flashPath, "flash", "/var/lib/greenhouse/flash.img", "flash image file")
	fs.DurationVar(&o.tick, "tick", 500*time.Millisecond, "control loop tick (sensor_interval gates the cycle)")
	fs.StringVar(&o.serialPort, "serial", "", "serial console device (empty to disable)")
	fs.IntVar(&o.baud, "baud", 115200, "serial console baud rate")
	fs.StringVar(&o.httpAddr, "http", ":8080", "HTTP status address (empty to disable)")
	fs.StringVar(&o.broker, "broker", "", "MQTT broker address (empty to disable)")
	fs.DurationVar(&o.heartbeat, "heartbeat", 15*time.Minute, "heartbeat interval (0 to disable)")
	fs.StringVar(&o.climateDir, "climate-dir", "/sys/bus/iio/devices/iio:device0", "IIO temperature/humidity device")
	fs.StringVar(&o.lightDir, "light-dir", "/sys/bus/iio/devices/iio:device1", "IIO ADC for the light sensor")
	fs.IntVar(&o.lightScale, "light-full-scale", sensor.DefaultLightFullScale, "ADC full-scale reading")
	fs.StringVar(&o.gpioChip, "gpio-chip", "gpiochip0", "GPIO character device")
	fs.IntVar(&o.pins.Fan, "pin-fan", gpio.DefaultPins.Fan, "BCM pin for the fan relay")
	fs.IntVar(&o.pins.Pump, "pin-pump", gpio.DefaultPins.Pump, "BCM pin for the pump relay")
	fs.IntVar(&o.pins.Light, "pin-light", gpio.DefaultPins.Light, "BCM pin for the grow light relay")
	fs.IntVar(&o.pins.Alarm, "pin-alarm", gpio.DefaultPins.Alarm, "BCM pin for the alarm LED")
	fs.IntVar(&o.pins.Buzzer, "pin-buzzer", gpio.DefaultPins.Buzzer, "BCM pin for the buzzer")
	fs.StringVar(&o.pwmChip, "pwm-chip", "/sys/class/pwm/pwmchip0", "sysfs PWM chip for fan speed (empty to disable)")
	fs.BoolVar(&o.printState, "print-state", false, "print sensor readings and exit")

	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if *settings != "" {
		if err := applySettings(fs, *settings); err != nil {
			return o, err
		}
	}
	return o, nil
}

func main() {
	o, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	if err := run(o); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(o options) error {
	sensors := sensor.NewIIO(o.climateDir, o.lightDir, o.lightScale)

	if o.printState {
		temp, humi, err := sensors.ReadClimate()
		if err != nil {
			return fmt.Errorf("read climate: %w", err)
		}
		light, err := sensors.ReadLight()
		if err != nil {
			return fmt.Errorf("read light: %w", err)
		}
		fmt.Printf("Temp: %dC Humi: %d%% Light: %d%%\n", temp, humi, light)
		return nil
	}

	dev, err := flash.OpenFile(o.flashPath, flash.ImagePages, flash.PageSize)
	if err != nil {
		return fmt.Errorf("open flash: %w", err)
	}
	defer dev.Close()

	cfgStore, err := config.NewStore(flash.ConfigRegion(dev))
	if err != nil {
		return fmt.Errorf("config store: %w", err)
	}
	dlog, err := datalog.Open(flash.LogRegion(dev), time.Now)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}

	act, err := gpio.NewRealActuators(o.gpioChip, o.pins, o.pwmChip)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer act.Close()

	ctrl, err := controller.New(controller.Options{
		Sensors:   sensors,
		Actuators: act,
		Config:    cfgStore,
		Log:       dlog,
	})
	if err != nil {
		return err
	}

	var publisher mqtt.Publisher = nopPublisher{}
	var mqttStatus mqtt.ConnectionStatus
	if o.broker != "" {
		p, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:   o.broker,
			ClientID: "greenhouse-" + o.name,
			Topics:   mqtt.TopicsFor(o.name),
		})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer p.Close()
		publisher, mqttStatus = p, p
	}

	var link serial.Link
	if o.serialPort != "" {
		port, err := serial.Open(o.serialPort, o.baud)
		if err != nil {
			return fmt.Errorf("open serial console: %w", err)
		}
		defer port.Close()
		link = port
	}

	tracker := status.NewTracker(time.Now(), status.Config{
		Name:        o.name,
		TickMs:      o.tick.Milliseconds(),
		HeartbeatMs: o.heartbeat.Milliseconds(),
		Broker:      o.broker,
		HTTPAddr:    o.httpAddr,
		SerialPort:  o.serialPort,
		FlashPath:   o.flashPath,
	})
	tracker.Update(ctrl.Status())

	startup := mqtt.SystemEvent{
		Timestamp: time.Now(),
		Event:     "STARTUP",
		Config:    mqtt.NewConfigInfo(ctrl.Config(), ctrl.Mode()),
		Retained:  true,
	}
	if err := publisher.PublishSystem(startup); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	}

	calls := make(chan func())
	if o.httpAddr != "" {
		srv := web.New(o.httpAddr, tracker, loopBackend{ctrl: ctrl, calls: calls, timeout: 5 * time.Second}, time.Local)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", o.httpAddr)
	}

	log.Printf("started: name=%s tick=%v serial=%q broker=%q heartbeat=%v", o.name, o.tick, o.serialPort, o.broker, o.heartbeat)

	ticker := time.NewTicker(o.tick)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(loopDeps{
		ctrl:       ctrl,
		dispatcher: command.New(ctrl, time.Local),
		link:       link,
		publisher:  publisher,
		mqttStatus: mqttStatus,
		tracker:    tracker,
		heartbeat:  o.heartbeat,
		now:        time.Now,
		tick:       ticker.C,
		sig:        sigCh,
		calls:      calls,
	})
}
