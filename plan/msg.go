// Package plan implements the Plan/Msg command stream (§4.5): a closed set
// of device-control instructions produced lazily by a Plan and consumed by
// the RunEngine. A Plan is pure and replayable — calling Msgs twice yields
// two independent streams of the same instructions — which keeps a crashed
// or aborted run's plan safe to restart as a fresh run.
//
// The pull-iterator shape generalizes the discovery-stage pattern in
// internal/pipeline/pipeline.go, where work items are produced one at a
// time onto a bounded channel and consumed by a worker loop; here the
// channel is replaced by the standard library's range-over-func iterator
// (iter.Seq2) so a Plan can be driven without spinning up a goroutine for
// every run.
package plan

import "time"

// MsgKind identifies which variant of the closed Msg set is populated.
type MsgKind string

const (
	KindSet         MsgKind = "set"
	KindRead        MsgKind = "read"
	KindTrigger     MsgKind = "trigger"
	KindWaitSettled MsgKind = "wait_settled"
	KindMoveAbs     MsgKind = "move_abs"
	KindMoveRel     MsgKind = "move_rel"
	KindDeclare     MsgKind = "declare"
	KindSleep       MsgKind = "sleep"
	KindCheckpoint  MsgKind = "checkpoint"
	KindStage       MsgKind = "stage"
	KindUnstage     MsgKind = "unstage"
	KindEmitEvent   MsgKind = "emit_event"
	KindSubPlan     MsgKind = "sub_plan"
	KindAbort       MsgKind = "abort"
)

// Set assigns a named parameter on a Settable device.
type Set struct {
	Device string
	Key    string
	Value  any
}

// Read samples a Readable device's current value.
type Read struct {
	Device string
}

// Trigger arms and fires a Triggerable device.
type Trigger struct {
	Device string
}

// WaitSettled blocks until a Movable device reports it has reached its
// commanded position, or Timeout elapses (zero means no timeout).
type WaitSettled struct {
	Device  string
	Timeout time.Duration
}

// MoveAbs commands a Movable device to an absolute position.
type MoveAbs struct {
	Device string
	Value  float64
}

// MoveRel commands a Movable device by a relative delta.
type MoveRel struct {
	Device string
	Delta  float64
}

// Declare merges one key/value pair into the run's metadata (§4.6): if
// dispatched before the Start document has been emitted it merges into
// Start.Metadata, otherwise it attaches to the current Descriptor's Hints.
// Schema declaration is a separate concern, carried by EmitEvent's SchemaId.
type Declare struct {
	Key   string
	Value any
}

// Sleep pauses plan progress for Duration. Unlike Checkpoint, Sleep is not a
// safe preemption point; a pause request during Sleep takes effect only
// once the sleep completes and the next Checkpoint is reached.
type Sleep struct {
	Duration time.Duration
}

// Checkpoint is the sole point at which the RunEngine honors a pending
// pause request (§4.6, §5); a pending abort is honored before the next Msg
// of any kind. Plans should emit one between
// every logically resumable unit of work.
type Checkpoint struct{}

// Stage acquires the exclusive stage lease on a device for the run's
// duration (§4.2 one-engine-per-staged-device invariant).
type Stage struct {
	Device string
}

// Unstage releases a previously acquired stage lease.
type Unstage struct {
	Device string
}

// EmitEvent appends one Event document under the Descriptor declared for
// SchemaId, synthesizing that Descriptor from the payload's keys the first
// time SchemaId is seen in the run (§4.5 "EmitEvent(schema_id, payload)").
// BulkKeys names payload fields whose value is supplied out-of-band via a
// ticket rather than inline.
type EmitEvent struct {
	SchemaId string
	Scalars  map[string]any
	BulkKeys map[string]BulkSource
}

// BulkSource names where a bulk-valued event field's payload comes from: a
// capability-bearing device (e.g. a FrameProducer) to snap at emission time.
type BulkSource struct {
	Device string
}

// SubPlan inlines another plan's message stream at this point. The
// RunEngine flattens SubPlan transparently (see Flatten); RunUid and
// descriptor context are inherited from the parent run.
type SubPlan struct {
	Plan Plan
}

// Abort ends the run immediately with ExitStatus abort, bypassing any
// remaining messages including pending Unstage — the RunEngine performs
// device unstaging itself during abort teardown.
type Abort struct {
	Reason string
}

// Msg is the closed instruction set a Plan emits. Exactly one field is
// non-nil; Kind reports which.
type Msg struct {
	Set         *Set
	Read        *Read
	Trigger     *Trigger
	WaitSettled *WaitSettled
	MoveAbs     *MoveAbs
	MoveRel     *MoveRel
	Declare     *Declare
	Sleep       *Sleep
	Checkpoint  *Checkpoint
	Stage       *Stage
	Unstage     *Unstage
	EmitEvent   *EmitEvent
	SubPlan     *SubPlan
	Abort       *Abort
}

// Kind reports which variant of Msg is populated.
func (m Msg) Kind() MsgKind {
	switch {
	case m.Set != nil:
		return KindSet
	case m.Read != nil:
		return KindRead
	case m.Trigger != nil:
		return KindTrigger
	case m.WaitSettled != nil:
		return KindWaitSettled
	case m.MoveAbs != nil:
		return KindMoveAbs
	case m.MoveRel != nil:
		return KindMoveRel
	case m.Declare != nil:
		return KindDeclare
	case m.Sleep != nil:
		return KindSleep
	case m.Checkpoint != nil:
		return KindCheckpoint
	case m.Stage != nil:
		return KindStage
	case m.Unstage != nil:
		return KindUnstage
	case m.EmitEvent != nil:
		return KindEmitEvent
	case m.SubPlan != nil:
		return KindSubPlan
	case m.Abort != nil:
		return KindAbort
	default:
		return ""
	}
}

// Msg constructors, one per variant, for concise plan authoring.

func MsgSet(device, key string, value any) Msg { return Msg{Set: &Set{Device: device, Key: key, Value: value}} }
func MsgRead(device string) Msg                { return Msg{Read: &Read{Device: device}} }
func MsgTrigger(device string) Msg             { return Msg{Trigger: &Trigger{Device: device}} }
func MsgWaitSettled(device string, timeout time.Duration) Msg {
	return Msg{WaitSettled: &WaitSettled{Device: device, Timeout: timeout}}
}
func MsgMoveAbs(device string, value float64) Msg { return Msg{MoveAbs: &MoveAbs{Device: device, Value: value}} }
func MsgMoveRel(device string, delta float64) Msg { return Msg{MoveRel: &MoveRel{Device: device, Delta: delta}} }
func MsgDeclare(key string, value any) Msg { return Msg{Declare: &Declare{Key: key, Value: value}} }
func MsgSleep(d time.Duration) Msg { return Msg{Sleep: &Sleep{Duration: d}} }
func MsgCheckpoint() Msg           { return Msg{Checkpoint: &Checkpoint{}} }
func MsgStage(device string) Msg   { return Msg{Stage: &Stage{Device: device}} }
func MsgUnstage(device string) Msg { return Msg{Unstage: &Unstage{Device: device}} }
func MsgEmitEvent(schemaId string, scalars map[string]any, bulk map[string]BulkSource) Msg {
	return Msg{EmitEvent: &EmitEvent{SchemaId: schemaId, Scalars: scalars, BulkKeys: bulk}}
}
func MsgSubPlan(p Plan) Msg    { return Msg{SubPlan: &SubPlan{Plan: p}} }
func MsgAbort(reason string) Msg { return Msg{Abort: &Abort{Reason: reason}} }
