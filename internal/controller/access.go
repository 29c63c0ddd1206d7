package controller

import (
	"fmt"
	"log"
	"time"

	"github.com/sweeney/greenhouse-controller/internal/config"
	"github.com/sweeney/greenhouse-controller/internal/datalog"
	"github.com/sweeney/greenhouse-controller/internal/logic"
)

// DeviceStatus describes one actuator.
type DeviceStatus struct {
	Device  logic.Device
	On      bool
	Speed   uint8
	Run     logic.RunStatus
	RunTime time.Duration
}

// Status is a point-in-time copy of the controller state.
type Status struct {
	Time     time.Time
	Started  time.Time
	Mode     logic.Mode
	Snapshot logic.Snapshot
	Devices  [logic.NumDevices]DeviceStatus
	Alarms   logic.AlarmFlags
	Active   logic.AlarmKind
	Log      datalog.Info
	Config   config.SystemConfig
}

// Status returns a copy of the current state.
func (c *Controller) Status() Status {
	now := c.now()
	st := Status{
		Time:     now,
		Started:  c.startTime,
		Mode:     c.mode,
		Snapshot: c.snap,
		Alarms:   c.alarms.Current(),
		Active:   c.alarms.Current().Active(),
		Log:      c.log.Info(),
		Config:   c.cfg,
	}
	for d := logic.Device(0); d < logic.NumDevices; d++ {
		ds := c.devices[d]
		st.Devices[d] = DeviceStatus{
			Device:  d,
			On:      ds.run.On,
			Speed:   ds.speed,
			Run:     ds.run,
			RunTime: ds.run.RunTime(now),
		}
	}
	return st
}

// Config returns the active configuration.
func (c *Controller) Config() config.SystemConfig { return c.cfg }

// GetParam looks a parameter up by name and returns its descriptor and value.
func (c *Controller) GetParam(name string) (config.Param, int, error) {
	id, err := config.Lookup(name)
	if err != nil {
		return config.Param{}, 0, err
	}
	p, _ := config.Describe(id)
	v, err := c.cfg.Get(id)
	return p, v, err
}

// SetParam changes a parameter in the active configuration. The change takes
// effect on the next cycle but is only persisted by SaveConfig.
func (c *Controller) SetParam(name string, value int) (config.Param, error) {
	id, err := config.Lookup(name)
	if err != nil {
		return config.Param{}, err
	}
	p, _ := config.Describe(id)
	if err := c.cfg.Set(id, value); err != nil {
		return p, err
	}
	log.Printf("controller: config %s=%d", p.Name, value)
	return p, nil
}

// SaveConfig persists the active configuration.
func (c *Controller) SaveConfig() error {
	if err := c.cfgStore.Save(c.cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	log.Printf("controller: config saved")
	return nil
}

// ResetConfig restores and persists the defaults.
func (c *Controller) ResetConfig() error {
	c.cfg = config.Defaults()
	if err := c.cfgStore.Save(c.cfg); err != nil {
		return fmt.Errorf("save default config: %w", err)
	}
	log.Printf("controller: config reset to defaults")
	return nil
}

// Query returns matching log records, newest first.
func (c *Controller) Query(q datalog.Query) ([]datalog.Record, error) {
	return c.log.Query(q)
}

// Recent returns the n newest log records.
func (c *Controller) Recent(n int) ([]datalog.Record, error) {
	return c.log.Recent(n)
}

// DailyStats aggregates the log for the calendar day containing day.
func (c *Controller) DailyStats(day time.Time) (datalog.DailyStats, error) {
	return c.log.DailyStats(day)
}

// LoggerInfo summarizes the log.
func (c *Controller) LoggerInfo() datalog.Info {
	return c.log.Info()
}

// EraseLog clears the record log.
func (c *Controller) EraseLog() error {
	return c.log.EraseAll()
}
