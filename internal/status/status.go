// Package status provides a thread-safe status tracker for the sousvide daemon.
// It is written by the control loop and read by HTTP handlers and MQTT
// lifecycle events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/sousvide/internal/control"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	TickMs      int64
	SampleMs    int64
	WindowMs    int64
	HeartbeatMs int64
	Broker      string
	HTTPPort    string
	WSBroker    string
	ConfigPath  string
}

// Snapshot is a point-in-time view of daemon state.
// It is a copy and stays valid after the lock is released.
type Snapshot struct {
	Control       control.Snapshot
	Ready         bool // at least one control tick has run
	Session       string
	Ticks         uint64
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// Update stores the control snapshot taken after a tick.
// Called from runLoop on every tick.
func (t *Tracker) Update(snap control.Snapshot) {
	t.mu.Lock()
	t.snap.Control = snap
	t.snap.Ready = true
	t.snap.Ticks++
	t.mu.Unlock()
}

// SetSession records the current cook session ID. Empty means no session.
func (t *Tracker) SetSession(id string) {
	t.mu.Lock()
	t.snap.Session = id
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
