package writer

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/easternanemone/rudaq/document"
)

// HierarchicalWriter lays out one directory tree per run:
//
//	<dir>/<run_uid>/start.json
//	<dir>/<run_uid>/<descriptor_uid>/schema.json
//	<dir>/<run_uid>/<descriptor_uid>/events/<seq_num>.json
//	<dir>/<run_uid>/stop.json
//
// the minimal nested-group/dataset shape that satisfies a
// "hierarchical container" backend (the HDF5/NeXus-style grouping) without
// binding to a specific container library (see DESIGN.md).
type HierarchicalWriter struct {
	dir string

	runDir        string
	currentDescUid string
}

func NewHierarchicalWriter(dir string) *HierarchicalWriter { return &HierarchicalWriter{dir: dir} }

func (h *HierarchicalWriter) Name() string { return "hierarchical" }

func (h *HierarchicalWriter) HandleStart(s *document.Start) error {
	h.runDir = fmt.Sprintf("%s/%s", h.dir, s.RunUid)
	if err := os.MkdirAll(h.runDir, 0o755); err != nil {
		return err
	}
	return writeJSON(fmt.Sprintf("%s/start.json", h.runDir), s)
}

func (h *HierarchicalWriter) HandleDescriptor(d *document.Descriptor) error {
	h.currentDescUid = string(d.Uid)
	descDir := fmt.Sprintf("%s/%s", h.runDir, d.Uid)
	if err := os.MkdirAll(fmt.Sprintf("%s/events", descDir), 0o755); err != nil {
		return err
	}
	return writeJSON(fmt.Sprintf("%s/schema.json", descDir), d)
}

func (h *HierarchicalWriter) HandleEvent(e *document.Event) error {
	path := fmt.Sprintf("%s/%s/events/%d.json", h.runDir, e.DescriptorUid, e.SeqNum)
	return writeJSON(path, e)
}

func (h *HierarchicalWriter) HandleStop(s *document.Stop) error {
	return writeJSON(fmt.Sprintf("%s/stop.json", h.runDir), s)
}

func (h *HierarchicalWriter) Close() error { return nil }

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
