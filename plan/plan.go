package plan

import (
	"context"
	"iter"
)

// Plan produces a pure, replayable stream of Msg values. Msgs must not
// mutate state visible across calls; two concurrent iterations of the same
// Plan must observe identical messages in identical order.
type Plan interface {
	// Name identifies the plan for the Start document's plan_name field.
	Name() string
	// Metadata returns the plan's optional metadata dictionary, merged into
	// the engine's Start document at run start (§4.5). May be nil.
	Metadata() map[string]any
	// Msgs returns a fresh message sequence. The yield function's bool
	// return (standard iter.Seq2 stop signal) is honored for early exit on
	// context cancellation or engine abort.
	Msgs(ctx context.Context) iter.Seq2[Msg, error]
}

// Func adapts a plain function into a Plan, for inline/ad-hoc plans that
// don't warrant a named type.
type Func struct {
	PlanName     string
	PlanMetadata map[string]any
	Seq          func(ctx context.Context) iter.Seq2[Msg, error]
}

func (f Func) Name() string              { return f.PlanName }
func (f Func) Metadata() map[string]any  { return f.PlanMetadata }
func (f Func) Msgs(ctx context.Context) iter.Seq2[Msg, error] {
	return f.Seq(ctx)
}

// Of builds a Plan from a fixed, already-materialized slice of messages.
// Useful for tests and for the simplest builtin plans.
func Of(name string, msgs []Msg) Plan {
	return Func{
		PlanName: name,
		Seq: func(ctx context.Context) iter.Seq2[Msg, error] {
			return func(yield func(Msg, error) bool) {
				for _, m := range msgs {
					if ctx.Err() != nil {
						yield(Msg{}, ctx.Err())
						return
					}
					if !yield(m, nil) {
						return
					}
				}
			}
		},
	}
}

// Flatten wraps p so that its message stream has every SubPlan transparently
// inlined: consumers of Flatten(p).Msgs never observe a KindSubPlan message,
// only the flattened messages of the nested plan, recursively. The RunEngine
// always drives plans through Flatten (§4.5, §4.6).
func Flatten(p Plan) Plan {
	return Func{
		PlanName:     p.Name(),
		PlanMetadata: p.Metadata(),
		Seq: func(ctx context.Context) iter.Seq2[Msg, error] {
			return func(yield func(Msg, error) bool) {
				flattenInto(ctx, p, yield)
			}
		},
	}
}

func flattenInto(ctx context.Context, p Plan, yield func(Msg, error) bool) bool {
	cont := true
	p.Msgs(ctx)(func(m Msg, err error) bool {
		if err != nil {
			cont = yield(Msg{}, err)
			return false
		}
		if m.Kind() == KindSubPlan {
			cont = flattenInto(ctx, m.SubPlan.Plan, yield)
			return cont
		}
		cont = yield(m, nil)
		return cont
	})
	return cont
}
