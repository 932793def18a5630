package runengine

import (
	"context"
	"fmt"
	"time"

	"github.com/easternanemone/rudaq/capability"
	"github.com/easternanemone/rudaq/document"
	"github.com/easternanemone/rudaq/plan"
	"github.com/easternanemone/rudaq/rudaqerr"
)

// runState carries the per-run scratch the dispatch loop needs beyond what
// runHandle exposes to external callers: the emitter and a buffered-reads
// map (see the Read case in dispatchMsg).
type runState struct {
	rh *runHandle
	em *emitter

	pendingReads map[string]float64
}

// executeRun runs one queued plan to completion (or abort/halt), emitting
// Start (lazily, on first use — see emitter.ensureStarted) and Stop on the
// way out, and unstaging every device the run staged regardless of how it
// ended. Returns true if the run ended via Halt, in which case the engine
// surfaces as Halted rather than Idle afterward.
func (e *Engine) executeRun(ctx context.Context, qp queuedPlan) (halted bool) {
	e.mu.Lock()
	rh := e.current
	e.mu.Unlock()

	em := newEmitter(e.pub, rh.runUid, qp.plan.Name(), qp.plan.Metadata())
	rs := &runState{rh: rh, em: em, pendingReads: make(map[string]float64)}

	status := document.ExitSuccess
	reason := ""

	flat := plan.Flatten(qp.plan)
	var msgCount int
	runStart := time.Now()
loop:
	for msg, err := range flat.Msgs(ctx) {
		if err != nil {
			status, reason = document.ExitFail, err.Error()
			break
		}
		msgCount++

		e.mu.Lock()
		halt := rh.haltReq
		abortReq, abortReason := rh.abortReq, rh.abortReason
		e.mu.Unlock()
		switch {
		case halt:
			status, reason, halted = document.ExitAbort, "halted", true
			break loop
		case abortReq:
			status, reason = document.ExitAbort, abortReason
			break loop
		}

		if err := e.dispatchMsgTraced(ctx, rs, msg); err != nil {
			if isAbort, r := isAbortMsg(err); isAbort {
				status, reason = document.ExitAbort, r
				if r == "halted" {
					halted = true
				}
				break loop
			}
			if rudaqerr.Is(err, rudaqerr.KindCancellation) {
				status, reason = document.ExitAbort, err.Error()
				break loop
			}
			status, reason = document.ExitFail, err.Error()
			break loop
		}

		// The engine does not detect infinite plans; it instead enforces a
		// configurable wall-clock ceiling and event-count ceiling per run
		// (§9). Either ceiling exceeded fails the run rather than letting it
		// run forever.
		if e.cfg.WallClockTimeout > 0 && time.Since(runStart) > e.cfg.WallClockTimeout {
			status, reason = document.ExitFail, "wall_clock_timeout exceeded"
			break loop
		}
		if e.cfg.MaxEvents > 0 && em.numEvents > e.cfg.MaxEvents {
			status, reason = document.ExitFail, "max_events ceiling exceeded"
			break loop
		}

		e.mu.Lock()
		rh.doneMsgs = msgCount
		e.mu.Unlock()
	}

	if halted {
		e.unstageAllWithTimeout(rh, e.cfg.HaltUnstageTimeout)
	} else {
		e.unstageAll(rh)
	}
	stop := em.stop(status, reason)
	e.cfg.Metrics.ObserveRunStop(string(status))

	e.mu.Lock()
	e.lastStop = stop
	e.mu.Unlock()

	return halted
}

type abortSignal struct{ reason string }

func (a abortSignal) Error() string { return "run aborted: " + a.reason }

func isAbortMsg(err error) (bool, string) {
	a, ok := err.(abortSignal)
	if !ok {
		return false, ""
	}
	return true, a.reason
}

func (e *Engine) unstageAll(rh *runHandle) {
	e.mu.Lock()
	leases := rh.leases
	rh.leases = nil
	e.mu.Unlock()
	for i := len(rh.stagedOrder) - 1; i >= 0; i-- {
		id := rh.stagedOrder[i]
		if lease, ok := leases[id]; ok {
			lease.Release()
		}
	}
}

// unstageAllWithTimeout is unstageAll's Halt variant: each device gets at
// most timeout to release before it is marked Faulted and abandoned, rather
// than letting one stuck device block the whole sweep indefinitely.
func (e *Engine) unstageAllWithTimeout(rh *runHandle, timeout time.Duration) {
	e.mu.Lock()
	leases := rh.leases
	rh.leases = nil
	e.mu.Unlock()

	for i := len(rh.stagedOrder) - 1; i >= 0; i-- {
		id := rh.stagedOrder[i]
		lease, ok := leases[id]
		if !ok {
			continue
		}
		done := make(chan struct{})
		go func() {
			lease.Release()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(timeout):
			_ = e.registry.Fault(id, "unstage timed out during halt")
		}
	}
}

// checkpoint is the sole safe preemption point: it honors a pending pause by
// blocking until Resume or an abort/halt request arrives.
func (e *Engine) checkpoint(rs *runState) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for rs.rh.pauseReq && !rs.rh.abortReq && !rs.rh.haltReq {
		e.state = StatePaused
		e.cond.Wait()
	}
	if e.state == StatePaused {
		e.state = StateRunning
	}
	if rs.rh.abortReq {
		return abortSignal{reason: rs.rh.abortReason}
	}
	if rs.rh.haltReq {
		return abortSignal{reason: "halted"}
	}
	return nil
}

// dispatchMsgTraced wraps dispatchMsg with a span and a correlated log line
// per the engine's telemetry ambient stack: every Msg the engine
// executes is one traced unit of work, named by its Kind.
func (e *Engine) dispatchMsgTraced(ctx context.Context, rs *runState, m plan.Msg) error {
	ctx, span := e.cfg.Tracer.StartSpan(ctx, "runengine.dispatch."+string(m.Kind()))
	defer span.End()
	start := time.Now()
	err := e.dispatchMsg(ctx, rs, m)
	e.cfg.Metrics.ObserveMsg(string(m.Kind()), time.Since(start), err)
	if err != nil {
		span.SetAttribute("error", err.Error())
		e.cfg.Logger.ErrorCtx(ctx, "msg dispatch failed", "kind", m.Kind(), "run_uid", rs.rh.runUid, "error", err)
	} else {
		e.cfg.Logger.InfoCtx(ctx, "msg dispatched", "kind", m.Kind(), "run_uid", rs.rh.runUid)
	}
	return err
}

func (e *Engine) dispatchMsg(ctx context.Context, rs *runState, m plan.Msg) error {
	if m.Kind() != plan.KindDeclare {
		rs.em.ensureStarted()
	}
	switch m.Kind() {
	case plan.KindCheckpoint:
		return e.checkpoint(rs)

	case plan.KindStage:
		lease, err := e.registry.Stage(ctx, m.Stage.Device, string(rs.rh.runUid))
		if err != nil {
			return err
		}
		e.mu.Lock()
		rs.rh.leases[m.Stage.Device] = lease
		rs.rh.stagedOrder = append(rs.rh.stagedOrder, m.Stage.Device)
		e.mu.Unlock()
		return nil

	case plan.KindUnstage:
		e.mu.Lock()
		lease, ok := rs.rh.leases[m.Unstage.Device]
		delete(rs.rh.leases, m.Unstage.Device)
		e.mu.Unlock()
		if ok {
			lease.Release()
		}
		return nil

	case plan.KindSet:
		view, err := e.registry.Acquire(m.Set.Device, capability.Settable, string(rs.rh.runUid))
		if err != nil {
			return err
		}
		ops, ok := capability.AsSettable(view)
		if !ok {
			return rudaqerr.Configuration("runengine.Set", fmt.Errorf("device %q is not settable", m.Set.Device))
		}
		cctx, cancel := context.WithTimeout(ctx, e.cfg.DefaultMsgTimeout)
		defer cancel()
		return ops.Set(cctx, m.Set.Key, m.Set.Value)

	case plan.KindRead:
		view, err := e.registry.Acquire(m.Read.Device, capability.Readable, string(rs.rh.runUid))
		if err != nil {
			return err
		}
		ops, ok := capability.AsReadable(view)
		if !ok {
			return rudaqerr.Configuration("runengine.Read", fmt.Errorf("device %q is not readable", m.Read.Device))
		}
		cctx, cancel := context.WithTimeout(ctx, e.cfg.DefaultMsgTimeout)
		defer cancel()
		v, err := ops.Read(cctx)
		if err != nil {
			return err
		}
		// Buffered under the device id; the next EmitEvent merges it in under
		// that key unless the plan already supplied a non-nil value there (the Msg
		// set has no direct Read->Event wiring, so this is the engine's own
		// bookkeeping bridge between the two).
		rs.pendingReads[m.Read.Device] = v
		return nil

	case plan.KindTrigger:
		view, err := e.registry.Acquire(m.Trigger.Device, capability.Triggerable, string(rs.rh.runUid))
		if err != nil {
			return err
		}
		ops, ok := capability.AsTriggerable(view)
		if !ok {
			return rudaqerr.Configuration("runengine.Trigger", fmt.Errorf("device %q is not triggerable", m.Trigger.Device))
		}
		cctx, cancel := context.WithTimeout(ctx, e.cfg.DefaultMsgTimeout)
		defer cancel()
		if err := ops.Arm(cctx); err != nil {
			return err
		}
		return ops.Trigger(cctx)

	case plan.KindMoveAbs:
		view, err := e.registry.Acquire(m.MoveAbs.Device, capability.Movable, string(rs.rh.runUid))
		if err != nil {
			return err
		}
		ops, ok := capability.AsMovable(view)
		if !ok {
			return rudaqerr.Configuration("runengine.MoveAbs", fmt.Errorf("device %q is not movable", m.MoveAbs.Device))
		}
		cctx, cancel := context.WithTimeout(ctx, e.cfg.DefaultMsgTimeout)
		defer cancel()
		return ops.MoveAbs(cctx, m.MoveAbs.Value)

	case plan.KindMoveRel:
		view, err := e.registry.Acquire(m.MoveRel.Device, capability.Movable, string(rs.rh.runUid))
		if err != nil {
			return err
		}
		ops, ok := capability.AsMovable(view)
		if !ok {
			return rudaqerr.Configuration("runengine.MoveRel", fmt.Errorf("device %q is not movable", m.MoveRel.Device))
		}
		cctx, cancel := context.WithTimeout(ctx, e.cfg.DefaultMsgTimeout)
		defer cancel()
		return ops.MoveRel(cctx, m.MoveRel.Delta)

	case plan.KindWaitSettled:
		return e.waitSettled(ctx, rs, m.WaitSettled.Device, m.WaitSettled.Timeout)

	case plan.KindDeclare:
		rs.em.declare(m.Declare.Key, m.Declare.Value)
		return nil

	case plan.KindSleep:
		return e.sleep(ctx, rs, m.Sleep.Duration)

	case plan.KindEmitEvent:
		return e.emitEvent(ctx, rs, m.EmitEvent)

	case plan.KindAbort:
		return abortSignal{reason: m.Abort.Reason}

	case plan.KindSubPlan:
		// plan.Flatten inlines SubPlan before the engine ever sees a Msg
		// stream; reaching this case means a Plan implementation yielded one
		// directly without going through Flatten.
		return rudaqerr.Invariant("runengine.dispatch", fmt.Errorf("unflattened sub_plan reached the engine"))

	default:
		return rudaqerr.Invariant("runengine.dispatch", fmt.Errorf("unknown msg kind"))
	}
}

// waitSettled polls Position until two consecutive samples agree (within a
// small epsilon) or timeout elapses. MovableOps has no direct "settled"
// signal, so this is the closest approximation the capability surface
// allows; drivers for which settling truly matters should keep their own
// internal wait inside MoveAbs/MoveRel and make Position report the final
// value immediately, which makes this resolve on the first pair of reads.
func (e *Engine) waitSettled(ctx context.Context, rs *runState, device string, timeout time.Duration) error {
	view, err := e.registry.Acquire(device, capability.Movable, string(rs.rh.runUid))
	if err != nil {
		return err
	}
	ops, ok := capability.AsMovable(view)
	if !ok {
		return rudaqerr.Configuration("runengine.WaitSettled", fmt.Errorf("device %q is not movable", device))
	}

	cctx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		cctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	const epsilon = 1e-9
	const pollInterval = 20 * time.Millisecond
	last, err := ops.Position(cctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-cctx.Done():
			return rudaqerr.Transport("runengine.WaitSettled", cctx.Err(), false)
		case <-time.After(pollInterval):
		}
		cur, err := ops.Position(cctx)
		if err != nil {
			return err
		}
		if absDiff(cur, last) < epsilon {
			return nil
		}
		last = cur
	}
}

func absDiff(a, b float64) float64 {
	if a < b {
		return b - a
	}
	return a - b
}

func (e *Engine) sleep(ctx context.Context, rs *runState, d time.Duration) error {
	e.mu.Lock()
	halt := rs.rh.haltReq
	e.mu.Unlock()
	if halt {
		return abortSignal{reason: "halted"}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	poll := time.NewTicker(20 * time.Millisecond)
	defer poll.Stop()
	for {
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return rudaqerr.Cancellation("runengine.Sleep", ctx.Err())
		case <-poll.C:
			e.mu.Lock()
			halt := rs.rh.haltReq
			e.mu.Unlock()
			if halt {
				return abortSignal{reason: "halted"}
			}
		}
	}
}

func (e *Engine) emitEvent(ctx context.Context, rs *runState, ev *plan.EmitEvent) error {
	scalars := make(map[string]any, len(ev.Scalars)+len(rs.pendingReads))
	for device, v := range rs.pendingReads {
		scalars[device] = v
	}
	for k, v := range ev.Scalars {
		if _, buffered := rs.pendingReads[k]; buffered && v == nil {
			continue // nil is a placeholder for the buffered Read
		}
		scalars[k] = v
	}
	rs.pendingReads = make(map[string]float64)

	var bulk map[string]document.Ticket
	if len(ev.BulkKeys) > 0 {
		bulk = make(map[string]document.Ticket, len(ev.BulkKeys))
		for key, src := range ev.BulkKeys {
			t, err := e.snapBulk(ctx, rs, src.Device)
			if err != nil {
				return err
			}
			bulk[key] = t
		}
	}

	desc := rs.em.ensureDescriptor(ev.SchemaId, scalars, bulk)
	rs.em.emitEvent(desc, ev.SchemaId, scalars, bulk)
	return nil
}

func (e *Engine) snapBulk(ctx context.Context, rs *runState, device string) (document.Ticket, error) {
	view, err := e.registry.Acquire(device, capability.FrameProducer, string(rs.rh.runUid))
	if err != nil {
		return document.Ticket{}, err
	}
	ops, ok := capability.AsFrameProducer(view)
	if !ok {
		return document.Ticket{}, rudaqerr.Configuration("runengine.EmitEvent", fmt.Errorf("device %q is not a frame producer", device))
	}
	cctx, cancel := context.WithTimeout(ctx, e.cfg.DefaultMsgTimeout)
	defer cancel()
	frame, err := ops.Snap(cctx)
	if err != nil {
		return document.Ticket{}, err
	}
	if e.tickets == nil {
		return document.Ticket{}, rudaqerr.Configuration("runengine.EmitEvent", fmt.Errorf("no ticket store configured for bulk data"))
	}
	t, err := e.tickets.Put("mem", frame.Data, nil)
	if err != nil {
		return document.Ticket{}, err
	}
	return document.Ticket{Endpoint: t.Endpoint, TicketId: t.TicketId, ExpiresAt: t.ExpiresAt}, nil
}
