// Package status provides a thread-safe copy of the controller state for the
// web server and other readers outside the control loop.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/greenhouse-controller/internal/controller"
)

// Config contains daemon settings for display.
type Config struct {
	Name        string
	TickMs      int64
	HeartbeatMs int64
	Broker      string
	HTTPAddr    string
	SerialPort  string
	FlashPath   string
}

// Snapshot is a point-in-time view of daemon state. It is a value type and
// safe to use after the lock is released.
type Snapshot struct {
	Controller    controller.Status
	Ready         bool
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds the latest snapshot behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{StartTime: startTime, Config: cfg},
		now:  time.Now,
	}
}

// Update replaces the controller state. Called from the run loop after every
// cycle or command.
func (t *Tracker) Update(st controller.Status) {
	t.mu.Lock()
	t.snap.Controller = st
	t.snap.Ready = !st.Snapshot.Time.IsZero()
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a copy of the daemon state with Now set to the time of
// the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
