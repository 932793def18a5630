// Package builtin provides the canonical plans named in §4.5: count, a
// single-axis linear scan, a two-axis grid scan, its snake (boustrophedon)
// variant, and a scan over an explicit list of positions. Each is built from
// plan.Msg primitives; the grid and snake scans compose one LinearScan per
// outer position with plan.SubPlan, the same recursive
// composition internal/pipeline/pipeline.go's discovery stage uses to expand
// one page's links into further crawl work, generalized here from URL
// expansion to axis expansion.
package builtin

import (
	"context"
	"iter"
	"time"

	"github.com/easternanemone/rudaq/plan"
)

// Count arms and reads detectors num times with no motion. The "primary"
// schema's Descriptor is synthesized by the engine from the first Event's
// keys (§4.5).
func Count(detectors []string, num int, period time.Duration) plan.Plan {
	return plan.Func{
		PlanName: "count",
		Seq: func(ctx context.Context) iter.Seq2[plan.Msg, error] {
			return func(yield func(plan.Msg, error) bool) {
				for i := 0; i < num; i++ {
					if ctx.Err() != nil {
						yield(plan.Msg{}, ctx.Err())
						return
					}
					scalars := map[string]any{}
					for _, d := range detectors {
						if !yield(plan.MsgTrigger(d), nil) {
							return
						}
						if !yield(plan.MsgRead(d), nil) {
							return
						}
						scalars[d] = nil // resolved by the RunEngine from the preceding Read
					}
					if !yield(plan.MsgEmitEvent("primary", scalars, nil), nil) {
						return
					}
					if !yield(plan.MsgCheckpoint(), nil) {
						return
					}
					if period > 0 && i < num-1 {
						if !yield(plan.MsgSleep(period), nil) {
							return
						}
					}
				}
			}
		},
	}
}

// axisPositions computes the inclusive position list for a linear sweep
// from start to stop in steps of step (step's sign is normalized to match
// the sweep direction).
func axisPositions(start, stop, step float64) []float64 {
	if step == 0 {
		return []float64{start}
	}
	if (stop-start >= 0) != (step > 0) {
		step = -step
	}
	var out []float64
	if step > 0 {
		for v := start; v <= stop+1e-9; v += step {
			out = append(out, v)
		}
	} else {
		for v := start; v >= stop-1e-9; v += step {
			out = append(out, v)
		}
	}
	return out
}

// LinearScan moves motor through an inclusive range, reading detectors at
// each point.
func LinearScan(motor string, start, stop, step float64, detectors []string, settleTimeout time.Duration) plan.Plan {
	return List(motor, axisPositions(start, stop, step), detectors, settleTimeout)
}

// List moves motor through an explicit, caller-supplied list of positions,
// reading detectors at each point. The "primary" schema's Descriptor is
// synthesized by the engine from the first Event's keys (§4.5).
func List(motor string, positions []float64, detectors []string, settleTimeout time.Duration) plan.Plan {
	return plan.Func{
		PlanName: "list_scan",
		Seq: func(ctx context.Context) iter.Seq2[plan.Msg, error] {
			return func(yield func(plan.Msg, error) bool) {
				if !yield(plan.MsgStage(motor), nil) {
					return
				}
				for _, pos := range positions {
					if ctx.Err() != nil {
						yield(plan.Msg{}, ctx.Err())
						return
					}
					if !yield(plan.MsgMoveAbs(motor, pos), nil) {
						return
					}
					if !yield(plan.MsgWaitSettled(motor, settleTimeout), nil) {
						return
					}
					scalars := map[string]any{motor: pos}
					for _, d := range detectors {
						if !yield(plan.MsgTrigger(d), nil) {
							return
						}
						if !yield(plan.MsgRead(d), nil) {
							return
						}
					}
					if !yield(plan.MsgEmitEvent("primary", scalars, nil), nil) {
						return
					}
					if !yield(plan.MsgCheckpoint(), nil) {
						return
					}
				}
				if !yield(plan.MsgUnstage(motor), nil) {
					return
				}
			}
		},
	}
}

// Axis describes one dimension of a GridScan or SnakeScan.
type Axis struct {
	Motor            string
	Start, Stop, Step float64
}

// GridScan sweeps Outer once per position, running a full Inner linear scan
// as a SubPlan at each outer position — the composition is expressed with
// plan.SubPlan, so the RunEngine sees a single flattened stream regardless
// of nesting depth.
func GridScan(outer, inner Axis, detectors []string, settleTimeout time.Duration) plan.Plan {
	return gridScan(outer, inner, detectors, settleTimeout, false)
}

// SnakeScan behaves like GridScan but reverses the inner axis direction on
// alternating outer positions, halving net inner-axis travel.
func SnakeScan(outer, inner Axis, detectors []string, settleTimeout time.Duration) plan.Plan {
	return gridScan(outer, inner, detectors, settleTimeout, true)
}

func gridScan(outer, inner Axis, detectors []string, settleTimeout time.Duration, snake bool) plan.Plan {
	name := "grid_scan"
	if snake {
		name = "snake_scan"
	}
	return plan.Func{
		PlanName: name,
		Seq: func(ctx context.Context) iter.Seq2[plan.Msg, error] {
			return func(yield func(plan.Msg, error) bool) {
				if !yield(plan.MsgStage(outer.Motor), nil) {
					return
				}
				outerPositions := axisPositions(outer.Start, outer.Stop, outer.Step)
				for i, pos := range outerPositions {
					if ctx.Err() != nil {
						yield(plan.Msg{}, ctx.Err())
						return
					}
					if !yield(plan.MsgMoveAbs(outer.Motor, pos), nil) {
						return
					}
					if !yield(plan.MsgWaitSettled(outer.Motor, settleTimeout), nil) {
						return
					}

					innerStart, innerStop := inner.Start, inner.Stop
					if snake && i%2 == 1 {
						innerStart, innerStop = inner.Stop, inner.Start
					}
					row := LinearScan(inner.Motor, innerStart, innerStop, inner.Step, detectors, settleTimeout)
					if !yield(plan.MsgSubPlan(row), nil) {
						return
					}
					if !yield(plan.MsgCheckpoint(), nil) {
						return
					}
				}
				if !yield(plan.MsgUnstage(outer.Motor), nil) {
					return
				}
			}
		},
	}
}
