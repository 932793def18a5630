// Package document implements the Start/Descriptor/Event/Stop model (§3–§4.4):
// immutable value objects linked by a uid chain, carrying provenance for
// every scalar a run produces. Binary payloads never live inside a
// document; only their tickets do (see package ticket).
//
// Structurally these mirror a value-object style seen in crawl result
// records (models.Page, models.CrawlResult): plain structs with JSON tags,
// no behavior, safe to copy and to hand across goroutine boundaries
// without synchronization.
package document

import (
	"time"

	"github.com/easternanemone/rudaq/ids"
)

// Dtype is the closed set of scalar field types a descriptor may declare.
type Dtype string

const (
	DtypeInt       Dtype = "int"
	DtypeUint      Dtype = "uint"
	DtypeFloat     Dtype = "float"
	DtypeBool      Dtype = "bool"
	DtypeString    Dtype = "string"
	DtypeTimestamp Dtype = "timestamp_ns"
)

// ExitStatus is the closed set of terminal run outcomes.
type ExitStatus string

const (
	ExitSuccess ExitStatus = "success"
	ExitAbort   ExitStatus = "abort"
	ExitFail    ExitStatus = "fail"
)

// Start opens a run. Exactly one precedes every Descriptor/Event of the run,
// and every run has exactly one.
type Start struct {
	Uid      ids.DocumentUid        `json:"uid"`
	RunUid   ids.RunUid             `json:"run_uid"`
	PlanName string                 `json:"plan_name"`
	Metadata map[string]any         `json:"metadata,omitempty"`
	Hints    map[string]any         `json:"hints,omitempty"`
	TsNs     int64                  `json:"ts_ns"`
}

// DataKey describes a single field a Descriptor's events will carry.
type DataKey struct {
	Dtype        Dtype  `json:"dtype"`
	Shape        []int  `json:"shape,omitempty"` // empty for scalars
	Units        string `json:"units,omitempty"`
	SourceDevice string `json:"source_device,omitempty"`
	Nullable     bool   `json:"nullable"`
}

// Descriptor declares the schema shared by a family of related events.
type Descriptor struct {
	Uid      ids.DocumentUid     `json:"uid"`
	StartUid ids.DocumentUid     `json:"start_uid"`
	DataKeys map[string]DataKey  `json:"data_keys"`
	Hints    map[string]any      `json:"hints,omitempty"`
	TsNs     int64               `json:"ts_ns"`
}

// Event carries one row of data for a Descriptor's schema. Bulk fields are
// never inlined; BulkRefs holds a ticket per bulk field name instead.
type Event struct {
	Uid           ids.DocumentUid `json:"uid"`
	DescriptorUid ids.DocumentUid `json:"descriptor_uid"`
	SeqNum        int64           `json:"seq_num"`
	TsNs          int64           `json:"ts_ns"`
	Scalars       map[string]any  `json:"scalars,omitempty"`
	BulkRefs      map[string]Ticket `json:"bulk_refs,omitempty"`
}

// Ticket is the document-plane view of a bulk payload handle (package ticket
// owns resolution semantics; this is the wire-shape embedded in an Event).
type Ticket struct {
	Endpoint  string    `json:"endpoint"`
	TicketId  ids.TicketId `json:"ticket_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Stop closes a run. Exactly one per Start.
type Stop struct {
	Uid        ids.DocumentUid `json:"uid"`
	StartUid   ids.DocumentUid `json:"start_uid"`
	ExitStatus ExitStatus      `json:"exit_status"`
	Reason     string          `json:"reason,omitempty"`
	NumEvents  int64           `json:"num_events"`
	TsNs       int64           `json:"ts_ns"`
}

// Document is the sum type flowing through the publisher and the ring.
// Exactly one of the fields is non-nil.
type Document struct {
	Start      *Start      `json:"start,omitempty"`
	Descriptor *Descriptor `json:"descriptor,omitempty"`
	Event      *Event      `json:"event,omitempty"`
	Stop       *Stop       `json:"stop,omitempty"`
}

// Kind returns the variant name, used for subscriber filters and ring entry
// tagging.
func (d Document) Kind() string {
	switch {
	case d.Start != nil:
		return "start"
	case d.Descriptor != nil:
		return "descriptor"
	case d.Event != nil:
		return "event"
	case d.Stop != nil:
		return "stop"
	default:
		return "unknown"
	}
}

// RunUid returns the run uid carried by a Start document. The other variants
// do not carry one and return the empty uid; they are linked to their run
// through StartUid/DescriptorUid instead.
func (d Document) RunUid() ids.RunUid {
	if d.Start != nil {
		return d.Start.RunUid
	}
	return ""
}

func nowNs() int64 { return time.Now().UnixNano() }

// NewStart constructs a Start document, stamping uid and ts_ns.
func NewStart(runUid ids.RunUid, planName string, metadata map[string]any) *Start {
	return &Start{
		Uid:      ids.NewDocumentUid(),
		RunUid:   runUid,
		PlanName: planName,
		Metadata: metadata,
		TsNs:     nowNs(),
	}
}

// NewDescriptor constructs a Descriptor document for the given Start.
func NewDescriptor(startUid ids.DocumentUid, keys map[string]DataKey) *Descriptor {
	return &Descriptor{
		Uid:      ids.NewDocumentUid(),
		StartUid: startUid,
		DataKeys: keys,
		TsNs:     nowNs(),
	}
}

// NewEvent constructs an Event document. seqNum must be supplied by the
// caller (the emitter tracks per-descriptor monotonic sequence numbers; see
// runengine.emitter) so that strict monotonicity
// holds across concurrent emission paths.
func NewEvent(descriptorUid ids.DocumentUid, seqNum int64, scalars map[string]any, bulk map[string]Ticket) *Event {
	return &Event{
		Uid:           ids.NewDocumentUid(),
		DescriptorUid: descriptorUid,
		SeqNum:        seqNum,
		TsNs:          nowNs(),
		Scalars:       scalars,
		BulkRefs:      bulk,
	}
}

// NewStop constructs a Stop document for the given Start.
func NewStop(startUid ids.DocumentUid, status ExitStatus, reason string, numEvents int64) *Stop {
	return &Stop{
		Uid:        ids.NewDocumentUid(),
		StartUid:   startUid,
		ExitStatus: status,
		Reason:     reason,
		NumEvents:  numEvents,
		TsNs:       nowNs(),
	}
}
