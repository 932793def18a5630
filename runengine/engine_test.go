package runengine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/easternanemone/rudaq/capability"
	"github.com/easternanemone/rudaq/document"
	"github.com/easternanemone/rudaq/plan"
	"github.com/easternanemone/rudaq/publisher"
	"github.com/easternanemone/rudaq/registry"
	"github.com/easternanemone/rudaq/ticket"
	"github.com/stretchr/testify/require"
)

// fakeDetector satisfies Stageable, Readable and Triggerable: the smallest
// device shape a linear scan plan needs.
type fakeDetector struct {
	mu      sync.Mutex
	staged  bool
	counter float64
}

func (d *fakeDetector) Stage(ctx context.Context) error   { d.mu.Lock(); defer d.mu.Unlock(); d.staged = true; return nil }
func (d *fakeDetector) Unstage(ctx context.Context) error { d.mu.Lock(); defer d.mu.Unlock(); d.staged = false; return nil }
func (d *fakeDetector) Read(ctx context.Context) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.counter++
	return d.counter, nil
}
func (d *fakeDetector) Units(ctx context.Context) (string, error) { return "counts", nil }
func (d *fakeDetector) Arm(ctx context.Context) error              { return nil }
func (d *fakeDetector) Trigger(ctx context.Context) error          { return nil }

func newTestEngine(t *testing.T, det *fakeDetector) (*Engine, *publisher.Publisher) {
	t.Helper()
	reg := registry.New(nil, 0)
	require.NoError(t, reg.Register("det0", "fake.detector", []capability.Tag{capability.Stageable, capability.Readable, capability.Triggerable}, det, nil))
	pub := publisher.New()
	tickets := ticket.New(ticket.Config{})
	e := New(Config{}, reg, pub, tickets)
	return e, pub
}

func linearScanPlan(n int) plan.Plan {
	msgs := []plan.Msg{
		plan.MsgStage("det0"),
	}
	for i := 0; i < n; i++ {
		msgs = append(msgs,
			plan.MsgTrigger("det0"),
			plan.MsgRead("det0"),
			plan.MsgEmitEvent("scan", nil, nil),
			plan.MsgCheckpoint(),
		)
	}
	msgs = append(msgs, plan.MsgUnstage("det0"))
	return plan.Of("linear_scan", msgs)
}

// pausablePlan is like linearScanPlan but sleeps briefly before each
// Checkpoint, giving a test enough wall-clock room to call Pause before the
// run races to completion.
func pausablePlan(n int) plan.Plan {
	msgs := []plan.Msg{
		plan.MsgStage("det0"),
	}
	for i := 0; i < n; i++ {
		msgs = append(msgs,
			plan.MsgTrigger("det0"),
			plan.MsgRead("det0"),
			plan.MsgEmitEvent("scan", nil, nil),
			plan.MsgSleep(30*time.Millisecond),
			plan.MsgCheckpoint(),
		)
	}
	msgs = append(msgs, plan.MsgUnstage("det0"))
	return plan.Of("pausable_scan", msgs)
}

func drainDocs(t *testing.T, sub publisher.Subscription, timeout time.Duration) []document.Document {
	t.Helper()
	var out []document.Document
	deadline := time.After(timeout)
	for {
		select {
		case d, ok := <-sub.Stream():
			if !ok {
				return out
			}
			out = append(out, d)
			if d.Stop != nil {
				return out
			}
		case <-deadline:
			return out
		}
	}
}

func TestLinearScan_EmitsStartDescriptorElevenEventsStop(t *testing.T) {
	det := &fakeDetector{}
	e, pub := newTestEngine(t, det)
	sub := pub.Subscribe(publisher.Filter{}, publisher.BlockProducer, 64)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go e.Run(ctx)

	runUid, err := e.Queue(linearScanPlan(11))
	require.NoError(t, err)
	e.Start()

	docs := drainDocs(t, sub, 3*time.Second)
	require.NotEmpty(t, docs)

	var starts, descriptors, events, stops int
	for _, d := range docs {
		switch d.Kind() {
		case "start":
			starts++
			require.Equal(t, runUid, d.Start.RunUid)
		case "descriptor":
			descriptors++
		case "event":
			events++
		case "stop":
			stops++
			require.Equal(t, document.ExitSuccess, d.Stop.ExitStatus)
			require.Equal(t, int64(11), d.Stop.NumEvents)
		}
	}
	require.Equal(t, 1, starts)
	require.Equal(t, 1, descriptors)
	require.Equal(t, 11, events)
	require.Equal(t, 1, stops)

	require.False(t, det.staged, "detector should be unstaged by the plan's own Unstage msg")
}

func TestPause_BlocksAtCheckpointThenResumes(t *testing.T) {
	det := &fakeDetector{}
	e, pub := newTestEngine(t, det)
	sub := pub.Subscribe(publisher.Filter{}, publisher.BlockProducer, 64)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go e.Run(ctx)

	_, err := e.Queue(pausablePlan(5))
	require.NoError(t, err)
	e.Start()

	require.Eventually(t, func() bool { return e.State() == StateRunning }, time.Second, time.Millisecond)
	e.Pause()
	require.Eventually(t, func() bool { return e.State() == StatePaused }, time.Second, time.Millisecond)

	// While paused, no Stop should arrive.
	select {
	case d := <-sub.Stream():
		require.Nil(t, d.Stop)
	case <-time.After(100 * time.Millisecond):
	}

	e.Resume()
	docs := drainDocs(t, sub, 3*time.Second)
	var stops int
	for _, d := range docs {
		if d.Stop != nil {
			stops++
			require.Equal(t, document.ExitSuccess, d.Stop.ExitStatus)
		}
	}
	require.Equal(t, 1, stops)
}

func TestAbort_UnstagesDeviceAndEmitsAbortStop(t *testing.T) {
	det := &fakeDetector{}
	e, pub := newTestEngine(t, det)
	sub := pub.Subscribe(publisher.Filter{}, publisher.BlockProducer, 64)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go e.Run(ctx)

	_, err := e.Queue(pausablePlan(100))
	require.NoError(t, err)
	e.Start()

	require.Eventually(t, func() bool { return e.State() == StateRunning }, time.Second, time.Millisecond)
	e.Abort("operator requested stop")

	docs := drainDocs(t, sub, 3*time.Second)
	require.NotEmpty(t, docs)
	last := docs[len(docs)-1]
	require.NotNil(t, last.Stop)
	require.Equal(t, document.ExitAbort, last.Stop.ExitStatus)
	require.Equal(t, "operator requested stop", last.Stop.Reason)
	require.Less(t, last.Stop.NumEvents, int64(100))

	require.Eventually(t, func() bool { return !det.staged }, time.Second, time.Millisecond,
		"abort teardown must unstage every device the run staged")
}

func TestQueue_RejectsBeyondCapacity(t *testing.T) {
	det := &fakeDetector{}
	reg := registry.New(nil, 0)
	require.NoError(t, reg.Register("det0", "fake.detector", []capability.Tag{capability.Stageable, capability.Readable, capability.Triggerable}, det, nil))
	e := New(Config{QueueCapacity: 1}, reg, publisher.New(), ticket.New(ticket.Config{}))

	_, err := e.Queue(linearScanPlan(1))
	require.NoError(t, err)
	_, err = e.Queue(linearScanPlan(1))
	require.Error(t, err)
}
