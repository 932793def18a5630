package writer

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easternanemone/rudaq/document"
	"github.com/easternanemone/rudaq/ids"
	"github.com/easternanemone/rudaq/ring"
)

func sampleRun(t *testing.T) (*document.Start, *document.Descriptor, []*document.Event, *document.Stop) {
	t.Helper()
	start := document.NewStart(ids.NewRunUid(), "demo-scan", nil)
	desc := document.NewDescriptor(start.Uid, map[string]document.DataKey{
		"position": {Dtype: document.DtypeFloat, Units: "mm"},
	})
	var events []*document.Event
	for i := int64(0); i < 3; i++ {
		events = append(events, document.NewEvent(desc.Uid, i, map[string]any{"position": float64(i)}, nil))
	}
	stop := document.NewStop(start.Uid, document.ExitSuccess, "", int64(len(events)))
	return start, desc, events, stop
}

func TestCSVWriter_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	w := NewCSVWriter(dir)
	start, desc, events, stop := sampleRun(t)

	require.NoError(t, w.HandleStart(start))
	require.NoError(t, w.HandleDescriptor(desc))
	for _, e := range events {
		require.NoError(t, w.HandleEvent(e))
	}
	require.NoError(t, w.HandleStop(stop))
	require.NoError(t, w.Close())

	b, err := os.ReadFile(dir + "/" + string(start.RunUid) + ".csv")
	require.NoError(t, err)
	assert.Contains(t, string(b), "seq_num,ts_ns,position")
}

func TestTabularWriter_FlushesGobArtifact(t *testing.T) {
	dir := t.TempDir()
	w := NewTabularWriter(dir)
	start, desc, events, stop := sampleRun(t)

	require.NoError(t, w.HandleStart(start))
	require.NoError(t, w.HandleDescriptor(desc))
	for _, e := range events {
		require.NoError(t, w.HandleEvent(e))
	}
	require.NoError(t, w.HandleStop(stop))

	info, err := os.Stat(dir + "/" + string(start.RunUid) + ".gob")
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestHierarchicalWriter_LaysOutTree(t *testing.T) {
	dir := t.TempDir()
	w := NewHierarchicalWriter(dir)
	start, desc, events, stop := sampleRun(t)

	require.NoError(t, w.HandleStart(start))
	require.NoError(t, w.HandleDescriptor(desc))
	for _, e := range events {
		require.NoError(t, w.HandleEvent(e))
	}
	require.NoError(t, w.HandleStop(stop))

	runDir := dir + "/" + string(start.RunUid)
	_, err := os.Stat(runDir + "/start.json")
	require.NoError(t, err)
	_, err = os.Stat(runDir + "/" + string(desc.Uid) + "/schema.json")
	require.NoError(t, err)
	_, err = os.Stat(runDir + "/" + string(desc.Uid) + "/events/2.json")
	require.NoError(t, err)
	_, err = os.Stat(runDir + "/stop.json")
	require.NoError(t, err)
}

type fakeWriter struct {
	starts, descs, stops int
	events               []*document.Event
}

func (f *fakeWriter) Name() string                                { return "fake" }
func (f *fakeWriter) HandleStart(*document.Start) error           { f.starts++; return nil }
func (f *fakeWriter) HandleDescriptor(*document.Descriptor) error { f.descs++; return nil }
func (f *fakeWriter) HandleEvent(e *document.Event) error         { f.events = append(f.events, e); return nil }
func (f *fakeWriter) HandleStop(*document.Stop) error             { f.stops++; return nil }
func (f *fakeWriter) Close() error                                { return nil }

func TestRun_DispatchesInOrderAndStopsOnCancel(t *testing.T) {
	buf, err := ring.Open(ring.Config{CapacityBytes: 1 << 16})
	require.NoError(t, err)
	defer buf.Close()

	start, desc, events, stop := sampleRun(t)
	ctx, cancel := context.WithCancel(context.Background())
	buf.RegisterConsumer("fake-0", ring.OverflowBlockProducer)

	write := func(d document.Document) {
		b, err := EncodeDocument(d)
		require.NoError(t, err)
		_, err = buf.Write(ctx, KindDocument, b)
		require.NoError(t, err)
	}
	write(document.Document{Start: start})
	write(document.Document{Descriptor: desc})
	for _, e := range events {
		write(document.Document{Event: e})
	}
	write(document.Document{Stop: stop})

	fw := &fakeWriter{}
	done := make(chan error, 1)
	go func() { done <- Run(ctx, buf, "fake-0", fw, ring.OverflowBlockProducer) }()

	require.Eventually(t, func() bool { return fw.stops == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 1, fw.starts)
	assert.Equal(t, 1, fw.descs)
	assert.Len(t, fw.events, 3)
	for i, e := range fw.events {
		assert.Equal(t, int64(i), e.SeqNum)
	}
}

func TestRun_RejectsOutOfOrderSeqNum(t *testing.T) {
	buf, err := ring.Open(ring.Config{CapacityBytes: 1 << 16})
	require.NoError(t, err)
	defer buf.Close()

	start, desc, _, _ := sampleRun(t)
	ctx := context.Background()
	buf.RegisterConsumer("fake-1", ring.OverflowBlockProducer)

	write := func(d document.Document) {
		b, err := EncodeDocument(d)
		require.NoError(t, err)
		_, err = buf.Write(ctx, KindDocument, b)
		require.NoError(t, err)
	}
	write(document.Document{Start: start})
	write(document.Document{Descriptor: desc})
	write(document.Document{Event: document.NewEvent(desc.Uid, 0, nil, nil)})
	write(document.Document{Event: document.NewEvent(desc.Uid, 2, nil, nil)}) // skips 1

	fw := &fakeWriter{}
	err = Run(ctx, buf, "fake-1", fw, ring.OverflowBlockProducer)
	require.Error(t, err)
}
