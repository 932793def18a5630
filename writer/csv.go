package writer

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"

	"github.com/easternanemone/rudaq/document"
)

// CSVWriter appends one row per Event to a single CSV file per run,
// implementing a CSV format backend. Columns are the
// descriptor's data_keys in sorted name order, fixed once at Descriptor
// time; bulk fields render as their ticket id rather than raw bytes.
type CSVWriter struct {
	dir string

	root    *os.File
	w       *csv.Writer
	columns []string
}

// NewCSVWriter creates a writer rooted at dir. HandleStart creates
// <dir>/<run_uid>.csv as the artifact root.
func NewCSVWriter(dir string) *CSVWriter {
	return &CSVWriter{dir: dir}
}

func (c *CSVWriter) Name() string { return "csv" }

func (c *CSVWriter) HandleStart(s *document.Start) error {
	f, err := os.Create(fmt.Sprintf("%s/%s.csv", c.dir, s.RunUid))
	if err != nil {
		return err
	}
	c.root = f
	c.w = csv.NewWriter(f)
	return nil
}

func (c *CSVWriter) HandleDescriptor(d *document.Descriptor) error {
	cols := make([]string, 0, len(d.DataKeys))
	for k := range d.DataKeys {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	c.columns = cols
	return c.w.Write(append([]string{"seq_num", "ts_ns"}, cols...))
}

func (c *CSVWriter) HandleEvent(e *document.Event) error {
	row := make([]string, 0, len(c.columns)+2)
	row = append(row, fmt.Sprintf("%d", e.SeqNum), fmt.Sprintf("%d", e.TsNs))
	for _, col := range c.columns {
		if v, ok := e.Scalars[col]; ok {
			row = append(row, fmt.Sprintf("%v", v))
			continue
		}
		if t, ok := e.BulkRefs[col]; ok {
			row = append(row, string(t.TicketId))
			continue
		}
		row = append(row, "")
	}
	return c.w.Write(row)
}

func (c *CSVWriter) HandleStop(*document.Stop) error {
	c.w.Flush()
	return c.w.Error()
}

func (c *CSVWriter) Close() error {
	if c.w != nil {
		c.w.Flush()
	}
	if c.root != nil {
		return c.root.Close()
	}
	return nil
}
