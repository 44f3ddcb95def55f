// Package rtmon is the real-time monitor extension point: a registry
// of hooks invoked on every packet the accounting core accepts. It
// ships with no registered monitors, same as the project it is
// grounded on; it exists so a future monitor can plug in without
// touching the engine.
package rtmon

import (
	"time"

	"github.com/obsrvbl/pnaflowd/internal/flowtable"
)

// Monitor is a real-time hook. The engine calls Hook (through the
// Registry) for every accepted packet and Release on shutdown. Init and
// Clean are exposed on Registry, but the engine never calls them.
type Monitor interface {
	Init() error
	Hook(key flowtable.Key, direction int, pktLen uint32, ts time.Time)
	Clean()
	Release()
}

// Registry runs a fixed set of Monitors. The zero Registry has none
// registered and its methods are no-ops.
type Registry struct {
	monitors []Monitor
}

// New returns a Registry running monitors, in order.
func New(monitors ...Monitor) *Registry {
	return &Registry{monitors: monitors}
}

// Init initializes every registered monitor, returning the first error.
func (r *Registry) Init() error {
	for _, m := range r.monitors {
		if err := m.Init(); err != nil {
			return err
		}
	}
	return nil
}

// Hook fans a packet out to every registered monitor.
func (r *Registry) Hook(key flowtable.Key, direction int, pktLen uint32, ts time.Time) {
	for _, m := range r.monitors {
		m.Hook(key, direction, pktLen, ts)
	}
}

// Clean asks every registered monitor to reset its window.
func (r *Registry) Clean() {
	for _, m := range r.monitors {
		m.Clean()
	}
}

// Release tears down every registered monitor.
func (r *Registry) Release() {
	for _, m := range r.monitors {
		m.Release()
	}
}
