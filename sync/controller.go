// Package sync implements SyncController: group membership, periodic
// sync passes, reference-drift selection, and gradual offset
// adjustment across a sync group (spec.md §4.F).
//
// The device map is owned exclusively by Controller; all mutation
// funnels through a single mutex-guarded write path, mirroring
// container/mts/meta.Data's guarded-map-with-copy-out-accessors shape
// generalized here from a string/string map to per-device records.
package sync

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/HunterSees/sourcesync/devicestate"
)

const defaultGroup = "default"

// Config holds controller-wide tunables (spec.md §6).
type Config struct {
	Device          devicestate.Config
	SyncToleranceMS float32       // default 10.
	AdjustmentRate  float32       // alpha, default 0.1.
	MinSyncInterval time.Duration // default 1s.
	SweepInterval   time.Duration // default 5s.
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		Device:          devicestate.DefaultConfig(),
		SyncToleranceMS: 10,
		AdjustmentRate:  0.1,
		MinSyncInterval: time.Second,
		SweepInterval:   5 * time.Second,
	}
}

// Clock abstracts wall time so tests can control elapsed time without
// sleeping (spec.md §9, generalizing "Global mutable state" away from
// a hidden time.Now()).
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// DeviceConfig carries per-device registration parameters
// (spec.md §4.F "register_device").
type DeviceConfig struct {
	BaseLatencyMS float32
	SyncGroup     string
}

// Event is a tagged union of the events the controller emits
// (spec.md §3, "SyncEvent"). The core never requires these to be
// stored; callers may log, publish, or discard them.
type Event struct {
	Kind      EventKind
	DeviceID  string
	Group     string
	OffsetMS  float32
	Timestamp time.Time
}

type EventKind string

const (
	EventDriftReported  EventKind = "DriftReported"
	EventOffsetApplied  EventKind = "OffsetApplied"
	EventDeviceRegistered EventKind = "DeviceRegistered"
	EventDeviceTimedOut EventKind = "DeviceTimedOut"
	EventGroupSynced    EventKind = "GroupSynced"
)

// ErrUnknownDevice is returned by operations on an id that was never
// registered (spec.md §7, "UnknownDevice").
type ErrUnknownDevice struct{ DeviceID string }

func (e *ErrUnknownDevice) Error() string {
	return fmt.Sprintf("sync: unknown device %q", e.DeviceID)
}

// Controller is the group synchronization controller. The zero value
// is not usable; construct with New.
type Controller struct {
	mu sync.Mutex

	cfg   Config
	clock Clock

	devices  map[string]*devicestate.State
	groups   map[string]map[string]struct{} // group -> set of device ids.
	lastSync map[string]time.Time           // group -> time of last sync pass.

	events chan Event

	stats stats
}

type stats struct {
	adjustments int
	syncPasses  int
}

// New returns a Controller ready to register devices. events, if
// non-nil, receives every emitted Event; sends are non-blocking — a
// slow or absent consumer never stalls the controller's write path.
func New(cfg Config, clock Clock, events chan Event) *Controller {
	if clock == nil {
		clock = realClock{}
	}
	c := &Controller{
		cfg:      cfg,
		clock:    clock,
		devices:  make(map[string]*devicestate.State),
		groups:   map[string]map[string]struct{}{defaultGroup: {}},
		lastSync: make(map[string]time.Time),
		events:   events,
	}
	return c
}

// lock/unlock cover the critical section of any one public operation
// (spec.md §5, "Shared-resource policy").
func (c *Controller) lock()   { c.mu.Lock() }
func (c *Controller) unlock() { c.mu.Unlock() }

func (c *Controller) emit(e Event) {
	if c.events == nil {
		return
	}
	select {
	case c.events <- e:
	default:
	}
}

// RegisterDevice creates a DeviceState for id with the given config,
// assigning it to cfg.SyncGroup (or "default" if empty).
func (c *Controller) RegisterDevice(id string, cfg DeviceConfig) {
	group := cfg.SyncGroup
	if group == "" {
		group = defaultGroup
	}

	c.lock()
	defer c.unlock()

	c.devices[id] = devicestate.New(id, cfg.BaseLatencyMS, group, c.cfg.Device)
	if c.groups[group] == nil {
		c.groups[group] = make(map[string]struct{})
	}
	c.groups[group][id] = struct{}{}

	c.emit(Event{Kind: EventDeviceRegistered, DeviceID: id, Group: group, Timestamp: c.clock.Now()})
}

// DeregisterDevice removes a device and its group membership.
// Deregistration is explicit; the controller never does this
// automatically (spec.md §3, "Lifecycle").
func (c *Controller) DeregisterDevice(id string) {
	c.lock()
	defer c.unlock()

	d, ok := c.devices[id]
	if !ok {
		return
	}
	if g, ok := c.groups[d.SyncGroup]; ok {
		delete(g, id)
	}
	delete(c.devices, id)
}

// UpdateDeviceDrift routes an accepted measurement into the device's
// history, then runs a rate-limited sync pass for its group.
// UnknownDevice ids are dropped, never auto-registered (spec.md §7).
func (c *Controller) UpdateDeviceDrift(id string, driftMS, correlation, signalStrength float32, capturedAt time.Time) error {
	c.lock()
	d, ok := c.devices[id]
	if !ok {
		c.unlock()
		return &ErrUnknownDevice{DeviceID: id}
	}
	d.UpdateDrift(devicestate.DriftSample{
		DriftMS:           driftMS,
		Correlation:       correlation,
		SignalStrengthDBM: signalStrength,
		CapturedAt:        capturedAt,
	})
	group := d.SyncGroup
	c.emit(Event{Kind: EventDriftReported, DeviceID: id, Group: group, Timestamp: capturedAt})
	c.unlock()

	c.maybeSyncGroup(group)
	return nil
}

// GetDeviceOffset returns the device's current applied offset.
func (c *Controller) GetDeviceOffset(id string) (float32, error) {
	c.lock()
	defer c.unlock()
	d, ok := c.devices[id]
	if !ok {
		return 0, &ErrUnknownDevice{DeviceID: id}
	}
	return d.CurrentOffsetMS, nil
}

// ForceResync runs an immediate sync pass, bypassing the rate limit.
// If group is empty, every known group is resynced.
func (c *Controller) ForceResync(group string) []Adjustment {
	if group != "" {
		return c.syncGroup(group, true)
	}
	c.lock()
	groups := make([]string, 0, len(c.groups))
	for g := range c.groups {
		groups = append(groups, g)
	}
	c.unlock()

	var all []Adjustment
	for _, g := range groups {
		all = append(all, c.syncGroup(g, true)...)
	}
	return all
}

// maybeSyncGroup runs a sync pass for group unless one ran within
// MinSyncInterval (spec.md §4.F, rate limiting).
func (c *Controller) maybeSyncGroup(group string) {
	c.syncGroup(group, false)
}

// Adjustment records one device's offset change from a sync pass.
type Adjustment struct {
	DeviceID      string
	NewOffsetMS   float32
	NewTargetMS   float32
}

// syncGroup implements spec.md §4.F's per-group sync pass. If force is
// false, the pass is skipped unless MinSyncInterval has elapsed since
// the group's last pass.
func (c *Controller) syncGroup(group string, force bool) []Adjustment {
	c.lock()
	now := c.clock.Now()
	if !force {
		if last, ok := c.lastSync[group]; ok && now.Sub(last) < c.cfg.MinSyncInterval {
			c.unlock()
			return nil
		}
	}

	memberIDs, ok := c.groups[group]
	if !ok || len(memberIDs) == 0 {
		c.unlock()
		return nil
	}

	var stableDrifts []float64
	members := make([]*devicestate.State, 0, len(memberIDs))
	for id := range memberIDs {
		d := c.devices[id]
		if d == nil {
			continue
		}
		members = append(members, d)
		if d.IsStable() {
			stableDrifts = append(stableDrifts, float64(d.AvgDriftMS))
		}
	}

	if len(stableDrifts) < 2 {
		// Not enough consensus to synchronize this group yet.
		c.unlock()
		return nil
	}

	sort.Float64s(stableDrifts)
	referenceDrift := float32(median(stableDrifts))

	var adjustments []Adjustment
	for _, d := range members {
		newTarget := d.CalculateTargetOffset(referenceDrift)
		if absf32(newTarget-d.TargetOffsetMS) > c.cfg.SyncToleranceMS {
			d.CurrentOffsetMS += c.cfg.AdjustmentRate * (newTarget - d.CurrentOffsetMS)
			d.TargetOffsetMS = newTarget
			c.stats.adjustments++
			adjustments = append(adjustments, Adjustment{
				DeviceID:    d.DeviceID,
				NewOffsetMS: d.CurrentOffsetMS,
				NewTargetMS: newTarget,
			})
		}
	}
	c.lastSync[group] = now
	c.stats.syncPasses++
	c.unlock()

	for _, a := range adjustments {
		c.emit(Event{Kind: EventOffsetApplied, DeviceID: a.DeviceID, Group: group, OffsetMS: a.NewOffsetMS, Timestamp: now})
	}
	if len(adjustments) > 0 {
		c.emit(Event{Kind: EventGroupSynced, Group: group, Timestamp: now})
	}
	return adjustments
}

func absf32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

// median returns the statistical median of a sorted slice: the middle
// element for an odd count, the average of the two middle elements for
// an even count. gonum's stat.Quantile with the Empirical cumulant
// kind is the inverse empirical CDF, not this — it returns a sample,
// never an interpolated average, so it cannot stand in here.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	mid := n / 2
	if n%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// SweepOffline marks devices offline after T_offline with no update
// (spec.md §4.F, "Offline detection"). It should be called
// periodically (every SweepInterval) by the owner of the Controller.
func (c *Controller) SweepOffline() []string {
	c.lock()
	now := c.clock.Now()
	var timedOut []string
	for id, d := range c.devices {
		if d.MarkOfflineIfTimedOut(now) {
			timedOut = append(timedOut, id)
		}
	}
	c.unlock()

	for _, id := range timedOut {
		c.emit(Event{Kind: EventDeviceTimedOut, DeviceID: id, Timestamp: now})
	}
	return timedOut
}

// Snapshot is a point-in-time, copied-out view of the controller's
// state (spec.md §4.F, "snapshot").
type Snapshot struct {
	Devices     map[string]devicestate.Snapshot
	Groups      map[string][]string
	Adjustments int
	SyncPasses  int
}

// Snapshot returns all device statuses, the group map, and stats.
func (c *Controller) Snapshot() Snapshot {
	c.lock()
	defer c.unlock()

	devices := make(map[string]devicestate.Snapshot, len(c.devices))
	for id, d := range c.devices {
		devices[id] = d.Snapshot()
	}
	groups := make(map[string][]string, len(c.groups))
	for g, members := range c.groups {
		ids := make([]string, 0, len(members))
		for id := range members {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		groups[g] = ids
	}
	return Snapshot{
		Devices:     devices,
		Groups:      groups,
		Adjustments: c.stats.adjustments,
		SyncPasses:  c.stats.syncPasses,
	}
}
