// Package registry implements the device registry (§4.2): device
// registration and lookup, capability-filtered listing, exclusive
// staging leases, and coalesced background publication of device state.
//
// The device map plus a (capability tag -> device ids) index follows a
// capKey/capIndex pattern (`dev map[string]Device` and
// `capIndex map[capKey]string`), generalized from a single bus-addressed
// HAL to an arbitrary number of capability tags per device. The
// ticker-driven coalesced publication loop is grounded on a
// checkpointLoop style: a buffered, interval-flushed background goroutine
// fed by a bounded channel, stopped via Close-style teardown.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/easternanemone/rudaq/capability"
	"github.com/easternanemone/rudaq/rudaqerr"
)

// StateProvider is optionally implemented by a device driver to expose a
// point-in-time snapshot for background publication. Drivers that don't
// implement it are simply skipped by the publication loop.
type StateProvider interface {
	State(ctx context.Context) (map[string]any, error)
}

// StatePublisher receives coalesced per-device state snapshots. package
// publisher's Publisher does not implement it; callers supply their own.
type StatePublisher interface {
	PublishDeviceState(deviceId string, state map[string]any)
}

// DeviceInfo is the read-only view of a registered device returned by List.
type DeviceInfo struct {
	Id          string
	Kind        string
	Tags        []capability.Tag
	Staged      bool
	Lessee      string // engine/run identifier holding the stage lease, if any
	Faulted     bool
	FaultReason string
}

type entry struct {
	mu     sync.Mutex
	id     string
	kind   string
	tags   map[capability.Tag]bool
	driver any
	params map[string]any

	staged bool
	lessee string

	faulted     bool
	faultReason string

	lastState map[string]any
}

func (e *entry) info() DeviceInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	tags := make([]capability.Tag, 0, len(e.tags))
	for t := range e.tags {
		tags = append(tags, t)
	}
	return DeviceInfo{Id: e.id, Kind: e.kind, Tags: tags, Staged: e.staged, Lessee: e.lessee, Faulted: e.faulted, FaultReason: e.faultReason}
}

// Lease is a held, exclusive claim on a device's Stageable capability,
// enforcing the one-engine-per-staged-device invariant (§4.2, §5). A Lease
// is issued by Stage and released by Release or Unstage; it carries no
// capability views itself — callers re-Acquire views against the device id
// while the lease is held.
type Lease struct {
	DeviceId string
	owner    string
	reg      *Registry
}

// Release relinquishes the lease. Safe to call once; subsequent calls are
// no-ops.
func (l *Lease) Release() {
	if l == nil || l.reg == nil {
		return
	}
	l.reg.releaseLease(l)
	l.reg = nil
}

// Registry tracks registered devices, the capability index, and drives
// coalesced background state publication.
type Registry struct {
	mu       sync.RWMutex
	devices  map[string]*entry
	capIndex map[capability.Tag]map[string]bool

	publisher StatePublisher
	rate      time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a registry. rate is the background publication period; a
// zero or negative rate defaults to 10Hz per §4.2. publisher may be nil, in
// which case background publication is a no-op loop that never fires reads.
func New(publisher StatePublisher, rate time.Duration) *Registry {
	if rate <= 0 {
		rate = 100 * time.Millisecond
	}
	return &Registry{
		devices:   make(map[string]*entry),
		capIndex:  make(map[capability.Tag]map[string]bool),
		publisher: publisher,
		rate:      rate,
	}
}

// Register adds a device under id, declaring kind (the driver family name,
// e.g. "serial.scpi") and the capability tags it satisfies. id must be
// non-empty lowercase ASCII. driver must implement each declared tag's Ops
// interface; neither Register nor Acquire verifies that (Stage does for
// Stageable), so a mismatch surfaces when the capability.As* helpers fail
// closed on the returned view.
func (r *Registry) Register(id, kind string, tags []capability.Tag, driver any, params map[string]any) error {
	if id == "" {
		return rudaqerr.Configuration("registry.Register", errEmptyID)
	}
	for i := 0; i < len(id); i++ {
		if c := id[i]; c > 0x7f || (c >= 'A' && c <= 'Z') {
			return rudaqerr.Configuration("registry.Register", errInvalidID(id))
		}
	}
	for _, t := range tags {
		if !capability.Valid(t) {
			return rudaqerr.Configuration("registry.Register", errInvalidTag(t))
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.devices[id]; exists {
		return rudaqerr.Configuration("registry.Register", errDuplicateID(id))
	}

	tagSet := make(map[capability.Tag]bool, len(tags))
	for _, t := range tags {
		tagSet[t] = true
	}
	e := &entry{id: id, kind: kind, tags: tagSet, driver: driver, params: params}
	r.devices[id] = e
	for t := range tagSet {
		if r.capIndex[t] == nil {
			r.capIndex[t] = make(map[string]bool)
		}
		r.capIndex[t][id] = true
	}
	return nil
}

// Deregister removes a device. It fails if the device currently carries a
// stage lease.
func (r *Registry) Deregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.devices[id]
	if !ok {
		return rudaqerr.Validation("registry.Deregister", errUnknownDevice(id))
	}
	e.mu.Lock()
	staged := e.staged
	e.mu.Unlock()
	if staged {
		return rudaqerr.Invariant("registry.Deregister", errStillStaged(id))
	}
	delete(r.devices, id)
	for t := range e.tags {
		delete(r.capIndex[t], id)
	}
	return nil
}

// List enumerates devices, optionally filtered to those declaring every tag
// in filter.
func (r *Registry) List(filter ...capability.Tag) []DeviceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids map[string]bool
	if len(filter) == 0 {
		ids = make(map[string]bool, len(r.devices))
		for id := range r.devices {
			ids[id] = true
		}
	} else {
		for i, t := range filter {
			matched := r.capIndex[t]
			if i == 0 {
				ids = make(map[string]bool, len(matched))
				for id := range matched {
					ids[id] = true
				}
				continue
			}
			for id := range ids {
				if !matched[id] {
					delete(ids, id)
				}
			}
		}
	}

	out := make([]DeviceInfo, 0, len(ids))
	for id := range ids {
		out = append(out, r.devices[id].info())
	}
	return out
}

// Stage takes the exclusive stage lease for deviceId on behalf of owner
// (typically a run uid), enforcing the one-engine-per-staged-device
// invariant: a second Stage by a different owner fails until the first
// releases. Staging the same device twice by the same owner is idempotent.
func (r *Registry) Stage(ctx context.Context, deviceId, owner string) (*Lease, error) {
	r.mu.RLock()
	e, ok := r.devices[deviceId]
	r.mu.RUnlock()
	if !ok {
		return nil, rudaqerr.Validation("registry.Stage", errUnknownDevice(deviceId))
	}
	e.mu.Lock()
	faulted := e.faulted
	e.mu.Unlock()
	if faulted {
		return nil, rudaqerr.Invariant("registry.Stage", errFaulted(deviceId))
	}
	if !e.tags[capability.Stageable] {
		return nil, rudaqerr.Configuration("registry.Stage", errNotStageable(deviceId))
	}
	ops, ok := capability.AsStageable(capability.NewView(capability.Stageable, deviceId, e.driver))
	if !ok {
		return nil, rudaqerr.Configuration("registry.Stage", errNotStageable(deviceId))
	}

	e.mu.Lock()
	if e.staged && e.lessee != owner {
		held := e.lessee
		e.mu.Unlock()
		return nil, rudaqerr.Invariant("registry.Stage", errAlreadyStaged(deviceId, held))
	}
	alreadyOwned := e.staged && e.lessee == owner
	e.mu.Unlock()

	if !alreadyOwned {
		if err := ops.Stage(ctx); err != nil {
			return nil, rudaqerr.Transport("registry.Stage", err, true)
		}
	}

	e.mu.Lock()
	e.staged = true
	e.lessee = owner
	e.mu.Unlock()

	return &Lease{DeviceId: deviceId, owner: owner, reg: r}, nil
}

func (r *Registry) releaseLease(l *Lease) {
	r.mu.RLock()
	e, ok := r.devices[l.DeviceId]
	r.mu.RUnlock()
	if !ok {
		return
	}
	e.mu.Lock()
	if e.lessee != l.owner {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	ops, _ := capability.AsStageable(capability.NewView(capability.Stageable, l.DeviceId, e.driver))
	if ops != nil {
		_ = ops.Unstage(context.Background())
	}

	e.mu.Lock()
	e.staged = false
	e.lessee = ""
	e.mu.Unlock()
}

// Fault marks deviceId Faulted (§3 device lifecycle): it drops any stage
// lease unconditionally (no Unstage call — the device is assumed
// unrecoverable) and refuses further Stage/Acquire until explicitly
// re-registered, per the registry's "requires explicit re-registration"
// contract.
func (r *Registry) Fault(deviceId, reason string) error {
	r.mu.RLock()
	e, ok := r.devices[deviceId]
	r.mu.RUnlock()
	if !ok {
		return rudaqerr.Validation("registry.Fault", errUnknownDevice(deviceId))
	}
	e.mu.Lock()
	e.faulted = true
	e.faultReason = reason
	e.staged = false
	e.lessee = ""
	e.mu.Unlock()
	return nil
}

// requiresStaged names the capability tags Acquire treats as requiring the
// device to be Staged (§4.1): Acquire refuses to hand out a view for these
// tags while the device is not staged.
var requiresStaged = map[capability.Tag]bool{
	capability.Movable:       true,
	capability.Settable:      true,
	capability.Triggerable:   true,
	capability.FrameProducer: true,
}

// Acquire hands out a capability view for deviceId's tag. If the device is
// currently staged by an owner other than requester, Acquire of any tag
// other than Readable fails: readback remains available to everyone while a
// device is in use, but control operations are exclusive to the lessee. Tags
// in requiresStaged additionally fail if the device is not currently staged.
func (r *Registry) Acquire(deviceId string, tag capability.Tag, requester string) (capability.View, error) {
	r.mu.RLock()
	e, ok := r.devices[deviceId]
	r.mu.RUnlock()
	if !ok {
		return capability.View{}, rudaqerr.Validation("registry.Acquire", errUnknownDevice(deviceId))
	}
	if !e.tags[tag] {
		return capability.View{}, rudaqerr.Configuration("registry.Acquire", errCapabilityNotDeclared(deviceId, tag))
	}

	e.mu.Lock()
	staged, lessee, faulted := e.staged, e.lessee, e.faulted
	e.mu.Unlock()
	if faulted {
		return capability.View{}, rudaqerr.Invariant("registry.Acquire", errFaulted(deviceId))
	}
	if staged && lessee != requester && tag != capability.Readable {
		return capability.View{}, rudaqerr.Invariant("registry.Acquire", errAlreadyStaged(deviceId, lessee))
	}
	if !staged && requiresStaged[tag] {
		return capability.View{}, rudaqerr.Invariant("registry.Acquire", errNotStaged(deviceId, tag))
	}

	return capability.NewView(tag, deviceId, e.driver), nil
}

// Run starts the coalesced background publication loop. It blocks until ctx
// is cancelled or Stop is called, and should be run in its own goroutine.
func (r *Registry) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	ticker := time.NewTicker(r.rate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.publishTick(ctx)
		}
	}
}

// Stop halts the background publication loop started by Run.
func (r *Registry) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *Registry) publishTick(ctx context.Context) {
	if r.publisher == nil {
		return
	}
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.devices))
	for _, e := range r.devices {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	for _, e := range entries {
		provider, ok := e.driver.(StateProvider)
		if !ok {
			continue
		}
		state, err := provider.State(ctx)
		if err != nil {
			continue
		}
		e.mu.Lock()
		changed := !statesEqual(e.lastState, state)
		if changed {
			e.lastState = state
		}
		e.mu.Unlock()
		if changed {
			r.publisher.PublishDeviceState(e.id, state)
		}
	}
}

func statesEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
