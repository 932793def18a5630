package capability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValid(t *testing.T) {
	assert.True(t, Valid(Movable))
	assert.True(t, Valid(Commandable))
	assert.False(t, Valid(Tag("not_a_capability")))
}

func TestAll_MatchesCanonicalSet(t *testing.T) {
	assert.Len(t, All(), 7)
	assert.Contains(t, All(), FrameProducer)
}

type fakeStage struct{ pos float64 }

func (f *fakeStage) MoveAbs(_ context.Context, v float64) error { f.pos = v; return nil }
func (f *fakeStage) MoveRel(_ context.Context, d float64) error { f.pos += d; return nil }
func (f *fakeStage) Position(_ context.Context) (float64, error) { return f.pos, nil }
func (f *fakeStage) Limits(_ context.Context) (float64, float64, error) { return -10, 10, nil }

func TestView_AsMovable(t *testing.T) {
	v := NewView(Movable, "stage0", &fakeStage{})
	ops, ok := AsMovable(v)
	assert.True(t, ok)
	assert.NoError(t, ops.MoveAbs(context.Background(), 1.5))

	_, ok = AsReadable(v)
	assert.False(t, ok)
}
