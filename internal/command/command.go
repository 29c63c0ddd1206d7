// Package command implements the text command protocol spoken over the
// serial link. Each line is one command; the reply is a list of status lines.
package command

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/greenhouse-controller/internal/config"
	"github.com/sweeney/greenhouse-controller/internal/controller"
	"github.com/sweeney/greenhouse-controller/internal/datalog"
	"github.com/sweeney/greenhouse-controller/internal/logic"
)

const (
	defaultLogLines = 10
	maxLogLines     = 100
	dateLayout      = "2006-01-02"
	timeLayout      = "2006-01-02 15:04:05"
)

// Result is the reply to one command plus any events it caused.
type Result struct {
	Lines  []string
	Events []logic.Event
}

func reply(lines ...string) Result { return Result{Lines: lines} }

type handler struct {
	usage string
	help  string
	run   func(d *Dispatcher, args []string) Result
}

// Dispatcher parses command lines and applies them to a controller.
type Dispatcher struct {
	ctrl     *controller.Controller
	loc      *time.Location
	handlers map[string]handler
}

// New creates a dispatcher. Timestamps are shown, and DAILY dates are
// interpreted, in loc.
func New(ctrl *controller.Controller, loc *time.Location) *Dispatcher {
	if loc == nil {
		loc = time.Local
	}
	d := &Dispatcher{ctrl: ctrl, loc: loc}
	d.handlers = map[string]handler{
		"CONFIG_GET":   {"CONFIG_GET [name]", "show one or all parameters", (*Dispatcher).configGet},
		"CONFIG_SET":   {"CONFIG_SET <name> <value>", "change a parameter", (*Dispatcher).configSet},
		"CONFIG_SAVE":  {"CONFIG_SAVE", "persist the configuration", (*Dispatcher).configSave},
		"CONFIG_RESET": {"CONFIG_RESET", "restore and persist defaults", (*Dispatcher).configReset},
		"CONFIG_HELP":  {"CONFIG_HELP", "list parameters and ranges", (*Dispatcher).configHelp},
		"FAN_ON":       {"FAN_ON", "fan on (manual mode)", device(logic.DeviceFan, true)},
		"FAN_OFF":      {"FAN_OFF", "fan off (manual mode)", device(logic.DeviceFan, false)},
		"PUMP_ON":      {"PUMP_ON", "pump on (manual mode)", device(logic.DevicePump, true)},
		"PUMP_OFF":     {"PUMP_OFF", "pump off (manual mode)", device(logic.DevicePump, false)},
		"LIGHT_ON":     {"LIGHT_ON", "grow light on (manual mode)", device(logic.DeviceLight, true)},
		"LIGHT_OFF":    {"LIGHT_OFF", "grow light off (manual mode)", device(logic.DeviceLight, false)},
		"AUTO":         {"AUTO", "automatic control", mode(logic.ModeAuto)},
		"MANUAL":       {"MANUAL", "manual control", mode(logic.ModeManual)},
		"STATUS":       {"STATUS", "readings, devices and alarms", (*Dispatcher).status},
		"STATS":        {"STATS", "device run statistics", (*Dispatcher).stats},
		"LOG":          {"LOG [n]", "show the newest n records", (*Dispatcher).log},
		"LOG_INFO":     {"LOG_INFO", "log usage", (*Dispatcher).logInfo},
		"LOG_ERASE":    {"LOG_ERASE", "erase the whole log", (*Dispatcher).logErase},
		"DAILY":        {"DAILY <YYYY-MM-DD>", "daily averages", (*Dispatcher).daily},
		"HELP":         {"HELP", "this list", (*Dispatcher).help},
	}
	return d
}

// Execute runs one command line. Blank lines produce no reply.
func (d *Dispatcher) Execute(line string) Result {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Result{}
	}
	name := strings.ToUpper(fields[0])
	h, ok := d.handlers[name]
	if !ok {
		return reply("Unknown command: " + fields[0])
	}
	return h.run(d, fields[1:])
}

func device(dev logic.Device, on bool) func(*Dispatcher, []string) Result {
	return func(d *Dispatcher, _ []string) Result {
		events, err := d.ctrl.Manual(dev, on)
		if errors.Is(err, controller.ErrNotManual) {
			return reply("Error: switch to MANUAL mode first")
		}
		if err != nil {
			return reply("Error: " + err.Error())
		}
		return Result{
			Lines:  []string{fmt.Sprintf("OK: %s %s", dev, logic.StateOf(on))},
			Events: events,
		}
	}
}

func mode(m logic.Mode) func(*Dispatcher, []string) Result {
	return func(d *Dispatcher, _ []string) Result {
		if d.ctrl.Mode() == m {
			return reply(fmt.Sprintf("Already in %s mode", m))
		}
		events := d.ctrl.SetMode(m)
		return Result{Lines: []string{"Mode: " + m.String()}, Events: events}
	}
}

func formatParam(p config.Param, v int) string {
	return fmt.Sprintf("%s = %d%s (%d-%d)", p.Name, v, p.Unit, p.Min, p.Max)
}

// paramLines renders one line per parameter. A parameter that cannot be read
// gets an error line instead of a value.
func paramLines(cfg config.SystemConfig, params []config.Param) []string {
	lines := make([]string, 0, len(params))
	for _, p := range params {
		v, err := cfg.Get(p.ID)
		if err != nil {
			lines = append(lines, fmt.Sprintf("Error: %s: %v", p.Name, err))
			continue
		}
		lines = append(lines, formatParam(p, v))
	}
	return lines
}

func unknownParam(name string, err error) Result {
	if errors.Is(err, config.ErrUnknownParam) {
		return reply("Unknown parameter: " + name)
	}
	return reply("Error: " + err.Error())
}

func (d *Dispatcher) configGet(args []string) Result {
	if len(args) == 0 {
		return reply(paramLines(d.ctrl.Config(), config.Params())...)
	}
	p, v, err := d.ctrl.GetParam(args[0])
	if err != nil {
		return unknownParam(args[0], err)
	}
	return reply(formatParam(p, v))
}

func (d *Dispatcher) configSet(args []string) Result {
	if len(args) != 2 {
		return reply("Usage: " + d.handlers["CONFIG_SET"].usage)
	}
	v, err := strconv.Atoi(args[1])
	if err != nil {
		return reply("Error: invalid value: " + args[1])
	}
	p, err := d.ctrl.SetParam(args[0], v)
	switch {
	case errors.Is(err, config.ErrOutOfRange):
		return reply(fmt.Sprintf("Error: %s must be %d-%d", p.Name, p.Min, p.Max))
	case err != nil:
		return unknownParam(args[0], err)
	}
	lines := []string{fmt.Sprintf("OK: %s = %d", p.Name, v)}
	for _, problem := range d.ctrl.Config().Problems() {
		lines = append(lines, "Warning: "+problem)
	}
	return reply(lines...)
}

func (d *Dispatcher) configSave([]string) Result {
	if err := d.ctrl.SaveConfig(); err != nil {
		return reply("Error: " + err.Error())
	}
	return reply("Config saved")
}

func (d *Dispatcher) configReset([]string) Result {
	if err := d.ctrl.ResetConfig(); err != nil {
		return reply("Config reset to defaults (not saved: " + err.Error() + ")")
	}
	return reply("Config reset to defaults")
}

func (d *Dispatcher) configHelp([]string) Result {
	var lines []string
	for _, p := range config.Params() {
		lines = append(lines, fmt.Sprintf("%-17s %d-%d%s  %s", p.Name, p.Min, p.Max, p.Unit, p.Description))
	}
	return reply(lines...)
}

func (d *Dispatcher) status([]string) Result {
	st := d.ctrl.Status()
	s := st.Snapshot
	lines := []string{
		"Mode: " + st.Mode.String(),
		fmt.Sprintf("Temp: %dC Humi: %d%% Light: %d%%", s.Temperature, s.Humidity, s.Light),
	}

	var devs []string
	for _, ds := range st.Devices {
		v := fmt.Sprintf("%s: %s", ds.Device, logic.StateOf(ds.On))
		if ds.Device == logic.DeviceFan && ds.On {
			v += fmt.Sprintf(" (%d%%)", ds.Speed)
		}
		devs = append(devs, v)
	}
	lines = append(lines, strings.Join(devs, " "))
	lines = append(lines, fmt.Sprintf("Alarms: %s", st.Alarms))
	if s.SensorError != 0 {
		lines = append(lines, fmt.Sprintf("Sensor error: 0x%02x", uint8(s.SensorError)))
	}
	return reply(lines...)
}

func (d *Dispatcher) stats([]string) Result {
	st := d.ctrl.Status()
	var lines []string
	for _, ds := range st.Devices {
		lines = append(lines, fmt.Sprintf("%s: %s switches=%d run=%s",
			ds.Device, logic.StateOf(ds.On), ds.Run.SwitchCount, ds.RunTime.Round(time.Second)))
	}
	lines = append(lines, fmt.Sprintf("Uptime: %s", st.Time.Sub(st.Started).Round(time.Second)))
	return reply(lines...)
}

func (d *Dispatcher) log(args []string) Result {
	n := defaultLogLines
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			return reply("Usage: " + d.handlers["LOG"].usage)
		}
		n = v
	}
	if n > maxLogLines {
		n = maxLogLines
	}

	recs, err := d.ctrl.Recent(n)
	if err != nil {
		return reply("Error: " + err.Error())
	}
	if len(recs) == 0 {
		return reply("Log empty")
	}
	lines := make([]string, 0, len(recs))
	for _, r := range recs {
		lines = append(lines, FormatRecord(r, d.loc))
	}
	return reply(lines...)
}

func (d *Dispatcher) logInfo([]string) Result {
	info := d.ctrl.LoggerInfo()
	lines := []string{
		fmt.Sprintf("Records: %d/%d (sensor %d, operation %d, alarm %d)",
			info.Total, info.Capacity, info.Sensor, info.Operation, info.Alarm),
	}
	if info.Total > 0 {
		lines = append(lines, fmt.Sprintf("Range: %s to %s",
			info.Oldest.In(d.loc).Format(timeLayout), info.Newest.In(d.loc).Format(timeLayout)))
	}
	lines = append(lines, fmt.Sprintf("Write position: page %d slot %d", info.Page, info.Offset))
	if info.Torn > 0 {
		lines = append(lines, fmt.Sprintf("Torn slots: %d", info.Torn))
	}
	return reply(lines...)
}

func (d *Dispatcher) logErase([]string) Result {
	if err := d.ctrl.EraseLog(); err != nil {
		return reply("Error: " + err.Error())
	}
	return reply("Log erased")
}

func (d *Dispatcher) daily(args []string) Result {
	if len(args) != 1 {
		return reply("Usage: " + d.handlers["DAILY"].usage)
	}
	day, err := time.ParseInLocation(dateLayout, args[0], d.loc)
	if err != nil {
		return reply("Error: invalid date: " + args[0])
	}
	stats, err := d.ctrl.DailyStats(day)
	if err != nil {
		return reply("Error: " + err.Error())
	}
	if stats.SensorCount == 0 {
		return reply(fmt.Sprintf("%s: no sensor records, %d operations, %d alarms",
			args[0], stats.OperationCount, stats.AlarmCount))
	}
	return reply(
		fmt.Sprintf("%s: %d samples", args[0], stats.SensorCount),
		fmt.Sprintf("Temp avg %dC (min %d, max %d)", stats.AvgTemperature, stats.MinTemperature, stats.MaxTemperature),
		fmt.Sprintf("Humi avg %d%% Light avg %d%%", stats.AvgHumidity, stats.AvgLight),
		fmt.Sprintf("Operations: %d Alarms: %d", stats.OperationCount, stats.AlarmCount),
	)
}

func (d *Dispatcher) help([]string) Result {
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		h := d.handlers[name]
		lines = append(lines, fmt.Sprintf("%-26s %s", h.usage, h.help))
	}
	return reply(lines...)
}

// FormatRecord renders a log record as one line.
func FormatRecord(r datalog.Record, loc *time.Location) string {
	ts := time.Unix(int64(r.Time()), 0).In(loc).Format(timeLayout)
	switch r := r.(type) {
	case datalog.SensorRecord:
		return fmt.Sprintf("%s SENSOR T=%dC H=%d%% L=%d%% fan=%s pump=%s light=%s mode=%s alarms=%s",
			ts, r.Temperature, r.Humidity, r.Light,
			logic.StateOf(r.Fan), logic.StateOf(r.Pump), logic.StateOf(r.LightDev),
			logic.Mode(r.Mode), logic.AlarmFlags(r.AlarmFlags))
	case datalog.OperationRecord:
		return fmt.Sprintf("%s OP %s %d->%d %s", ts, r.Op, r.Old, r.New, r.Trigger)
	case datalog.AlarmRecord:
		return fmt.Sprintf("%s ALARM %s active=%s T=%dC H=%d%% L=%d%%",
			ts, logic.AlarmFlags(r.Flags), logic.AlarmKind(r.Active), r.Temperature, r.Humidity, r.Light)
	}
	return ts + " " + r.Kind().String()
}
