// Package writer implements the ring buffer's format backends (§4.8, C8):
// independent consumers that each translate the same ring document stream
// into their own on-disk schema. Every writer preserves the invariants
// requires: one artifact root per Start, one schema
// population per Descriptor, events appended in seq_num order, and a flush
// + close on Stop.
//
// The Writer interface and the drive loop generalize
// internal/output.OutputSink / output.CompositeSink's Write/Flush/Close/
// Name contract (internal/output/sink.go, output/composite_sink.go) from a
// single CrawlResult sink fed by one producer to a ring-fed consumer that
// owns its own read cursor, so that "each writer maintains its
// own read_cursor in private memory".
package writer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/easternanemone/rudaq/document"
	"github.com/easternanemone/rudaq/ids"
	"github.com/easternanemone/rudaq/ring"
	"github.com/easternanemone/rudaq/rudaqerr"
)

// EntryKind tags a ring entry's payload shape. The RunEngine always writes
// KindDocument; bulk frame bytes travel through package ticket instead, so
// a document's BulkRefs entries are resolved separately by writers that
// care about them (see ChunkedArrayWriter).
const KindDocument byte = 1

// EncodeDocument serializes d for ring storage. JSON keeps the wire shape
// human-inspectable.
func EncodeDocument(d document.Document) ([]byte, error) {
	return json.Marshal(d)
}

// DecodeDocument is EncodeDocument's inverse.
func DecodeDocument(b []byte) (document.Document, error) {
	var d document.Document
	if err := json.Unmarshal(b, &d); err != nil {
		return document.Document{}, rudaqerr.Invariant("writer.DecodeDocument", err)
	}
	return d, nil
}

// Writer is implemented by every format backend. HandleEvent receives
// events strictly in seq_num order for the descriptor they belong to — Run
// enforces this and fails fast (KindInvariant) on a violation rather than
// silently reordering.
type Writer interface {
	Name() string
	HandleStart(*document.Start) error
	HandleDescriptor(*document.Descriptor) error
	HandleEvent(*document.Event) error
	HandleStop(*document.Stop) error
	Close() error
}

// Run registers consumerName against buf with policy, then drives w with
// every document until ctx is cancelled, which is the steady-state daemon
// mode: it keeps running across runs and does not return when every Start
// it has seen has been closed out by a Stop. It returns early only when a
// document fails to read, decode or dispatch.
func Run(ctx context.Context, buf *ring.Buffer, consumerName string, w Writer, policy ring.OverflowPolicy) error {
	buf.RegisterConsumer(consumerName, policy)
	defer buf.UnregisterConsumer(consumerName)

	lastSeq := make(map[ids.DocumentUid]int64)

	for {
		entry, err := buf.Next(ctx, consumerName)
		if err != nil {
			if rudaqerr.Is(err, rudaqerr.KindCancellation) {
				return nil
			}
			return err
		}
		if entry.Kind != KindDocument {
			continue
		}
		d, err := DecodeDocument(entry.Payload)
		if err != nil {
			return err
		}
		if err := dispatch(w, d, lastSeq); err != nil {
			return err
		}
	}
}

func dispatch(w Writer, d document.Document, lastSeq map[ids.DocumentUid]int64) error {
	switch {
	case d.Start != nil:
		return w.HandleStart(d.Start)
	case d.Descriptor != nil:
		return w.HandleDescriptor(d.Descriptor)
	case d.Event != nil:
		key := d.Event.DescriptorUid
		prev, seen := lastSeq[key]
		if seen && d.Event.SeqNum != prev+1 {
			return rudaqerr.Invariant("writer.dispatch", fmt.Errorf(
				"descriptor %s: out-of-order seq_num %d after %d", d.Event.DescriptorUid, d.Event.SeqNum, prev))
		}
		lastSeq[key] = d.Event.SeqNum
		return w.HandleEvent(d.Event)
	case d.Stop != nil:
		delete(lastSeq, d.Stop.StartUid)
		return w.HandleStop(d.Stop)
	}
	return nil
}
