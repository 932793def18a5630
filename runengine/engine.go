// Package runengine implements the RunEngine (§4.6, C6): the state
// machine, Msg dispatch loop, checkpointing, pause/resume, cancellation,
// and document emission at the center of the system.
//
// The facade shape (Queue/Start/Pause/Resume/Abort/Halt/State/CurrentRun,
// a mutex-guarded struct with a background driving goroutine) generalizes
// a crawl facade's Start/state-snapshot/health-probe wiring together with
// a worker-dispatch pipeline's WaitGroup-staged shutdown discipline, from
// a multi-stage worker pool processing crawl results to a single-tasked
// Msg interpreter. Every Msg addresses one device, so device operations
// run one at a time; there are no concurrent multi-detector reads.
package runengine

import (
	"context"
	"sync"

	"github.com/easternanemone/rudaq/document"
	"github.com/easternanemone/rudaq/ids"
	"github.com/easternanemone/rudaq/plan"
	"github.com/easternanemone/rudaq/publisher"
	"github.com/easternanemone/rudaq/registry"
	"github.com/easternanemone/rudaq/rudaqerr"
	"github.com/easternanemone/rudaq/ticket"
)

// State is the engine's closed set of run states.
type State string

const (
	StateIdle           State = "idle"
	StateRunning        State = "running"
	StatePauseRequested State = "pause_requested"
	StatePaused         State = "paused"
	StateAborting       State = "aborting"
	StateHalted         State = "halted"
)

type queuedPlan struct {
	runUid ids.RunUid
	plan   plan.Plan
}

// Engine is the single-engine, single-active-run state machine. Construct
// with New and drive it by calling Run in its own goroutine; Queue/Start/
// Pause/Resume/Abort/Halt/State/CurrentRun/Progress are safe to call from
// any goroutine.
type Engine struct {
	cfg Config

	registry *registry.Registry
	pub      *publisher.Publisher
	tickets  *ticket.Store

	mu             sync.Mutex
	cond           *sync.Cond
	state          State
	queue          []queuedPlan
	startRequested bool
	current        *runHandle

	lastStop *document.Stop
}

// runHandle tracks the in-flight run's control flags and progress, read by
// State()/CurrentRun()/Progress() while dispatch.go drives it.
type runHandle struct {
	runUid      ids.RunUid
	planName    string
	pauseReq    bool
	abortReq    bool
	abortReason string
	haltReq     bool
	totalMsgs   int // best-effort, 0 if unknown (plans are lazy)
	doneMsgs    int
	stagedOrder []string // device ids staged this run, in stage order
	leases      map[string]*registry.Lease
}

// New constructs an Engine. reg, pub and tickets must be non-nil; they are
// injected, not created, honoring a "no ambient global references"
// shared-state policy.
func New(cfg Config, reg *registry.Registry, pub *publisher.Publisher, tickets *ticket.Store) *Engine {
	e := &Engine{
		cfg:      cfg.withDefaults(),
		registry: reg,
		pub:      pub,
		tickets:  tickets,
		state:    StateIdle,
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Queue enqueues p and returns the RunUid it will execute under once its
// turn comes. Fails with KindConfiguration if the queue is at capacity.
func (e *Engine) Queue(p plan.Plan) (ids.RunUid, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) >= e.cfg.QueueCapacity {
		return "", rudaqerr.Configuration("runengine.Queue", errQueueFull(e.cfg.QueueCapacity))
	}
	runUid := ids.NewRunUid()
	e.queue = append(e.queue, queuedPlan{runUid: runUid, plan: p})
	e.cond.Broadcast()
	return runUid, nil
}

// Start signals the engine to begin processing the queue if it is Idle.
// If a run is already active the request stays set, so plans queued later
// run after it without a further Start.
func (e *Engine) Start() {
	e.mu.Lock()
	e.startRequested = true
	e.cond.Broadcast()
	e.mu.Unlock()
}

// Pause requests a transition to Paused at the next Checkpoint. A no-op if
// no run is active.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return
	}
	e.current.pauseReq = true
	if e.state == StateRunning {
		e.state = StatePauseRequested
	}
	e.cond.Broadcast()
}

// Resume releases a Paused run to continue running. A no-op if the engine
// is not Paused.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StatePaused || e.current == nil {
		return
	}
	e.current.pauseReq = false
	e.state = StateRunning
	e.cond.Broadcast()
}

// Abort requests graceful termination of the active run: the current Msg
// finishes, then every device the run staged is unstaged in reverse order.
// A no-op if no run is active.
func (e *Engine) Abort(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return
	}
	e.current.abortReq = true
	e.current.abortReason = reason
	e.state = StateAborting
	e.cond.Broadcast()
}

// Halt requests emergency termination: a Sleep or a paused Checkpoint in
// progress returns early; any other Msg in flight is not cancelled and
// finishes first. No further Msg is dispatched, and the unstage sweep runs with a
// per-device timeout; devices that time out are marked Faulted. A no-op if
// no run is active.
func (e *Engine) Halt() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return
	}
	e.current.haltReq = true
	e.state = StateAborting
	e.cond.Broadcast()
}

// State reports the engine's current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// CurrentRun reports the active run's uid, if any.
func (e *Engine) CurrentRun() (ids.RunUid, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return "", false
	}
	return e.current.runUid, true
}

// LastStop reports the most recently emitted Stop document, if any run has
// completed yet.
func (e *Engine) LastStop() *document.Stop {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastStop
}

// Progress reports a best-effort 0..100 completion estimate for the active
// run. Plans are lazy sequences with no known length in general, so this is
// 0 whenever the total Msg count isn't known ahead of time.
func (e *Engine) Progress() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil || e.current.totalMsgs == 0 {
		return 0
	}
	pct := e.current.doneMsgs * 100 / e.current.totalMsgs
	if pct > 100 {
		pct = 100
	}
	return pct
}

// Run drives the engine loop until ctx is cancelled. It should be started
// exactly once, typically in its own goroutine ("the RunEngine
// is one long-lived task").
func (e *Engine) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		e.mu.Lock()
		e.cond.Broadcast()
		e.mu.Unlock()
	}()

	for {
		e.mu.Lock()
		for (len(e.queue) == 0 || !e.startRequested || e.state == StateHalted) && ctx.Err() == nil {
			e.cond.Wait()
		}
		if ctx.Err() != nil {
			e.mu.Unlock()
			return
		}
		qp := e.queue[0]
		e.queue = e.queue[1:]
		if len(e.queue) == 0 {
			e.startRequested = false
		}
		e.state = StateRunning
		e.current = &runHandle{runUid: qp.runUid, planName: qp.plan.Name(), leases: make(map[string]*registry.Lease)}
		e.mu.Unlock()

		halted := e.executeRun(ctx, qp)

		e.mu.Lock()
		e.current = nil
		if halted {
			e.state = StateHalted
		} else {
			e.state = StateIdle
		}
		e.mu.Unlock()
	}
}

// Reset clears a Halted engine back to Idle so queued plans can resume
// processing. A no-op unless the engine is currently Halted.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateHalted {
		return
	}
	e.state = StateIdle
	e.cond.Broadcast()
}
