package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easternanemone/rudaq/capability"
	"github.com/easternanemone/rudaq/rudaqerr"
)

type fakeMotor struct {
	pos   float64
	staged bool
}

func (f *fakeMotor) Stage(_ context.Context) error   { f.staged = true; return nil }
func (f *fakeMotor) Unstage(_ context.Context) error { f.staged = false; return nil }
func (f *fakeMotor) MoveAbs(_ context.Context, v float64) error { f.pos = v; return nil }
func (f *fakeMotor) MoveRel(_ context.Context, d float64) error { f.pos += d; return nil }
func (f *fakeMotor) Position(_ context.Context) (float64, error) { return f.pos, nil }
func (f *fakeMotor) Limits(_ context.Context) (float64, float64, error) { return -1, 1, nil }
func (f *fakeMotor) State(_ context.Context) (map[string]any, error) {
	return map[string]any{"position": f.pos}, nil
}

func TestRegister_RejectsDuplicateAndInvalidTag(t *testing.T) {
	r := New(nil, 0)
	motor := &fakeMotor{}
	require.NoError(t, r.Register("stage0", "motor.demo", []capability.Tag{capability.Movable, capability.Stageable}, motor, nil))

	err := r.Register("stage0", "motor.demo", []capability.Tag{capability.Movable}, motor, nil)
	assert.True(t, rudaqerr.Is(err, rudaqerr.KindConfiguration))

	err = r.Register("stage1", "motor.demo", []capability.Tag{capability.Tag("bogus")}, motor, nil)
	assert.True(t, rudaqerr.Is(err, rudaqerr.KindConfiguration))
}

func TestList_FiltersByCapability(t *testing.T) {
	r := New(nil, 0)
	motor := &fakeMotor{}
	require.NoError(t, r.Register("stage0", "motor.demo", []capability.Tag{capability.Movable, capability.Stageable}, motor, nil))
	require.NoError(t, r.Register("det0", "det.demo", []capability.Tag{capability.Readable}, motor, nil))

	movable := r.List(capability.Movable)
	require.Len(t, movable, 1)
	assert.Equal(t, "stage0", movable[0].Id)

	all := r.List()
	assert.Len(t, all, 2)
}

func TestStage_EnforcesOneEnginePerDevice(t *testing.T) {
	r := New(nil, 0)
	motor := &fakeMotor{}
	require.NoError(t, r.Register("stage0", "motor.demo", []capability.Tag{capability.Movable, capability.Stageable}, motor, nil))

	ctx := context.Background()
	lease, err := r.Stage(ctx, "stage0", "run-a")
	require.NoError(t, err)
	assert.True(t, motor.staged)

	_, err = r.Stage(ctx, "stage0", "run-b")
	assert.True(t, rudaqerr.Is(err, rudaqerr.KindInvariant))

	_, err = r.Acquire("stage0", capability.Movable, "run-b")
	assert.True(t, rudaqerr.Is(err, rudaqerr.KindInvariant))

	// The lessee itself can still acquire control capabilities.
	_, err = r.Acquire("stage0", capability.Movable, "run-a")
	assert.NoError(t, err)

	lease.Release()
	assert.False(t, motor.staged)

	_, err = r.Stage(ctx, "stage0", "run-b")
	assert.NoError(t, err)
}

func TestAcquire_RequiresStagedForMovable(t *testing.T) {
	r := New(nil, 0)
	motor := &fakeMotor{}
	require.NoError(t, r.Register("stage0", "motor.demo", []capability.Tag{capability.Movable, capability.Stageable}, motor, nil))

	_, err := r.Acquire("stage0", capability.Movable, "run-a")
	assert.True(t, rudaqerr.Is(err, rudaqerr.KindInvariant))

	_, err = r.Stage(context.Background(), "stage0", "run-a")
	require.NoError(t, err)

	_, err = r.Acquire("stage0", capability.Movable, "run-a")
	assert.NoError(t, err)
}

func TestRun_PublishesCoalescedState(t *testing.T) {
	pub := &recordingPublisher{}
	r := New(pub, 5*time.Millisecond)
	motor := &fakeMotor{pos: 1}
	require.NoError(t, r.Register("stage0", "motor.demo", []capability.Tag{capability.Movable}, motor, nil))

	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	defer cancel()

	time.Sleep(20 * time.Millisecond)
	assert.GreaterOrEqual(t, pub.count(), 1)

	before := pub.count()
	time.Sleep(20 * time.Millisecond)
	// Unchanged position should not trigger repeated publication.
	assert.Equal(t, before, pub.count())
}

type recordingPublisher struct {
	mu sync.Mutex
	n  int
}

func (p *recordingPublisher) PublishDeviceState(_ string, _ map[string]any) {
	p.mu.Lock()
	p.n++
	p.mu.Unlock()
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}
