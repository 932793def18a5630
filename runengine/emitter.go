package runengine

import (
	"github.com/easternanemone/rudaq/document"
	"github.com/easternanemone/rudaq/ids"
	"github.com/easternanemone/rudaq/publisher"
)

// emitter owns one run's document bookkeeping: the lazily-emitted Start, the
// schema_id-keyed Descriptors synthesized along the way, and the
// per-descriptor monotonic seq_num counters the strict-monotonicity
// invariant requires. One emitter exists per run; it is discarded when the
// run ends.
type emitter struct {
	pub      *publisher.Publisher
	runUid   ids.RunUid
	planName string

	started     bool
	start       *document.Start
	pendingMeta map[string]any

	descByScheme  map[string]*document.Descriptor
	seqBySchema   map[string]int64
	currentSchema string
	pendingHints  map[string]any

	numEvents int64
}

func newEmitter(pub *publisher.Publisher, runUid ids.RunUid, planName string, metadata map[string]any) *emitter {
	meta := make(map[string]any, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}
	return &emitter{
		pub:          pub,
		runUid:       runUid,
		planName:     planName,
		pendingMeta:  meta,
		descByScheme: make(map[string]*document.Descriptor),
		seqBySchema:  make(map[string]int64),
	}
}

func (e *emitter) publish(d document.Document) {
	if e.pub != nil {
		e.pub.Publish(d)
	}
}

// ensureStarted emits the Start document the first time it is needed,
// folding in whatever metadata accumulated from the plan itself and any
// Declare messages dispatched before this point.
func (e *emitter) ensureStarted() *document.Start {
	if !e.started {
		e.start = document.NewStart(e.runUid, e.planName, e.pendingMeta)
		e.started = true
		e.publish(document.Document{Start: e.start})
	}
	return e.start
}

// declare handles plan.Declare (§4.6): before Start it merges key/value into
// Start.Metadata; afterward it attaches to the current descriptor's hints,
// buffering until one is synthesized if none is active yet.
func (e *emitter) declare(key string, value any) {
	if !e.started {
		e.pendingMeta[key] = value
		return
	}
	if e.currentSchema == "" {
		if e.pendingHints == nil {
			e.pendingHints = make(map[string]any)
		}
		e.pendingHints[key] = value
		return
	}
	d := e.descByScheme[e.currentSchema]
	if d.Hints == nil {
		d.Hints = make(map[string]any)
	}
	d.Hints[key] = value
	e.publish(document.Document{Descriptor: d})
}

// ensureDescriptor returns the Descriptor declared for schemaId, synthesizing
// one from the payload's keys the first time schemaId is seen in the run
// (EmitEvent semantics: "if a matching Descriptor has not yet been declared
// for this schema, synthesize one from the payload's keys").
func (e *emitter) ensureDescriptor(schemaId string, scalars map[string]any, bulk map[string]document.Ticket) *document.Descriptor {
	e.currentSchema = schemaId
	if d, ok := e.descByScheme[schemaId]; ok {
		return d
	}
	keys := make(map[string]document.DataKey, len(scalars)+len(bulk))
	for k, v := range scalars {
		keys[k] = document.DataKey{Dtype: dtypeOf(v)}
	}
	for k := range bulk {
		keys[k] = document.DataKey{Dtype: document.DtypeString, Shape: []int{-1}}
	}
	d := document.NewDescriptor(e.start.Uid, keys)
	if e.pendingHints != nil {
		d.Hints = e.pendingHints
		e.pendingHints = nil
	}
	e.descByScheme[schemaId] = d
	e.seqBySchema[schemaId] = 0
	e.publish(document.Document{Descriptor: d})
	return d
}

func dtypeOf(v any) document.Dtype {
	switch v.(type) {
	case float32, float64:
		return document.DtypeFloat
	case int, int8, int16, int32, int64:
		return document.DtypeInt
	case uint, uint8, uint16, uint32, uint64:
		return document.DtypeUint
	case bool:
		return document.DtypeBool
	default:
		return document.DtypeString
	}
}

// emitEvent appends one Event under desc, incrementing schemaId's seq_num.
func (e *emitter) emitEvent(desc *document.Descriptor, schemaId string, scalars map[string]any, bulk map[string]document.Ticket) *document.Event {
	seq := e.seqBySchema[schemaId]
	e.seqBySchema[schemaId] = seq + 1
	ev := document.NewEvent(desc.Uid, seq, scalars, bulk)
	e.numEvents++
	e.publish(document.Document{Event: ev})
	return ev
}

func (e *emitter) stop(status document.ExitStatus, reason string) *document.Stop {
	e.ensureStarted() // a plan that never dispatched real work still gets a Start
	s := document.NewStop(e.start.Uid, status, reason, e.numEvents)
	e.publish(document.Document{Stop: s})
	return s
}
