package plan

import (
	"context"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, p Plan) []Msg {
	t.Helper()
	var out []Msg
	for m, err := range p.Msgs(context.Background()) {
		require.NoError(t, err)
		out = append(out, m)
	}
	return out
}

func TestOf_ReplayIsIdentical(t *testing.T) {
	p := Of("demo", []Msg{MsgCheckpoint(), MsgTrigger("cam0")})
	first := collect(t, p)
	second := collect(t, p)
	assert.Equal(t, first, second)
	assert.Len(t, first, 2)
}

func TestFlatten_InlinesSubPlan(t *testing.T) {
	inner := Of("inner", []Msg{MsgRead("det0")})
	outer := Of("outer", []Msg{MsgStage("det0"), MsgSubPlan(inner), MsgUnstage("det0")})

	msgs := collect(t, Flatten(outer))
	require.Len(t, msgs, 3)
	assert.Equal(t, KindStage, msgs[0].Kind())
	assert.Equal(t, KindRead, msgs[1].Kind())
	assert.Equal(t, KindUnstage, msgs[2].Kind())
}

func TestFlatten_NestedSubPlans(t *testing.T) {
	innermost := Of("innermost", []Msg{MsgCheckpoint()})
	middle := Of("middle", []Msg{MsgSubPlan(innermost)})
	outer := Of("outer", []Msg{MsgSubPlan(middle)})

	msgs := collect(t, Flatten(outer))
	require.Len(t, msgs, 1)
	assert.Equal(t, KindCheckpoint, msgs[0].Kind())
}

func TestFlatten_PreservesMetadata(t *testing.T) {
	p := Func{
		PlanName:     "demo",
		PlanMetadata: map[string]any{"operator": "alice"},
		Seq: func(ctx context.Context) iter.Seq2[Msg, error] {
			return func(yield func(Msg, error) bool) {}
		},
	}
	assert.Equal(t, map[string]any{"operator": "alice"}, Flatten(p).Metadata())
}

func TestFlatten_StopsEarlyOnYieldFalse(t *testing.T) {
	p := Flatten(Of("demo", []Msg{MsgCheckpoint(), MsgTrigger("cam0"), MsgTrigger("cam1")}))
	var seen int
	for range p.Msgs(context.Background()) {
		seen++
		if seen == 1 {
			break
		}
	}
	assert.Equal(t, 1, seen)
}
