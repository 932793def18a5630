package writer

import (
	"fmt"
	"os"

	"github.com/easternanemone/rudaq/document"
	"github.com/easternanemone/rudaq/rudaqerr"
	"github.com/easternanemone/rudaq/ticket"
)

// Resolver fetches a ticket's payload on the writer's behalf. A
// *ticket.Store satisfies it; a caller supplies one when wiring a writer that needs
// bulk fields (images, waveforms); writers that only care about scalars
// (CSVWriter, TabularWriter) don't need one.
type Resolver interface {
	Resolve(t ticket.Ticket, consumer ticket.Token) (ticket.Payload, error)
}

// ChunkedArrayWriter lands each bulk-valued event field as one chunk file
// under <dir>/<run_uid>/<field>/<seq_num>.bin, the minimal on-disk shape
// that satisfies a "chunked N-dimensional array" backend without depending
// on a chunked-array library (see DESIGN.md).
type ChunkedArrayWriter struct {
	dir      string
	resolver Resolver
	token    ticket.Token

	runDir string
}

// NewChunkedArrayWriter creates a writer rooted at dir, resolving bulk
// fields via resolver using the given consumer token (see package ticket's
// per-consumer exactly-once semantics).
func NewChunkedArrayWriter(dir string, resolver Resolver, token ticket.Token) *ChunkedArrayWriter {
	return &ChunkedArrayWriter{dir: dir, resolver: resolver, token: token}
}

func (c *ChunkedArrayWriter) Name() string { return "chunked-array" }

func (c *ChunkedArrayWriter) HandleStart(s *document.Start) error {
	c.runDir = fmt.Sprintf("%s/%s", c.dir, s.RunUid)
	return os.MkdirAll(c.runDir, 0o755)
}

func (c *ChunkedArrayWriter) HandleDescriptor(*document.Descriptor) error { return nil }

func (c *ChunkedArrayWriter) HandleEvent(e *document.Event) error {
	for field, t := range e.BulkRefs {
		fieldDir := fmt.Sprintf("%s/%s", c.runDir, field)
		if err := os.MkdirAll(fieldDir, 0o755); err != nil {
			return err
		}
		payload, err := c.resolver.Resolve(ticket.Ticket(t), c.token)
		if err != nil {
			return err
		}
		path := fmt.Sprintf("%s/%d.bin", fieldDir, e.SeqNum)
		if err := os.WriteFile(path, payload.Data, 0o644); err != nil {
			return rudaqerr.Invariant("ChunkedArrayWriter.HandleEvent", err)
		}
	}
	return nil
}

func (c *ChunkedArrayWriter) HandleStop(*document.Stop) error { return nil }

func (c *ChunkedArrayWriter) Close() error { return nil }
