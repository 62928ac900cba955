// Package runtime defines Runtime, the explicit handle this module
// passes into constructors in place of the source's process-wide
// singletons — a logger registry, a database session, a default audio
// ring (spec.md §9, "Global mutable state"). Nothing in the core calls
// a module-level accessor; every component that needs the bus, the
// controller, the ring, or time, receives it through this struct.
package runtime

import (
	"github.com/HunterSees/sourcesync/audioring"
	"github.com/HunterSees/sourcesync/bus"
	"github.com/HunterSees/sourcesync/sync"
)

// Runtime bundles the shared collaborators a transmitter process wires
// together. A receiver process typically only needs Bus and Clock; it
// constructs its own receiver.Agent directly rather than through this
// struct, since it has no Controller or Ring of its own.
type Runtime struct {
	Bus        bus.Bus
	Controller *sync.Controller
	Ring       *audioring.Ring
	Clock      sync.Clock
}

// New returns a Runtime wrapping the given collaborators. clock may be
// nil, in which case Controller's own default (real wall-clock time) is
// used.
func New(b bus.Bus, controller *sync.Controller, ring *audioring.Ring, clock sync.Clock) *Runtime {
	return &Runtime{Bus: b, Controller: controller, Ring: ring, Clock: clock}
}
