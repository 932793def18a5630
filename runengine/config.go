package runengine

import (
	"time"

	"github.com/easternanemone/rudaq/publisher"
	"github.com/easternanemone/rudaq/telemetry/logging"
	"github.com/easternanemone/rudaq/telemetry/metrics"
	"github.com/easternanemone/rudaq/telemetry/tracing"
)

// Config collects the RunEngine's recognized configuration surface
// (engine configuration section).
type Config struct {
	QueueCapacity                 int
	SubscriberDefaultQueue         int
	SubscriberDefaultOverflow      publisher.OverflowPolicy
	CheckpointRequiredBetweenPlans bool
	DefaultMsgTimeout              time.Duration
	MaxEvents                      int64         // per-run ceiling guarding undetected infinite plans
	WallClockTimeout               time.Duration // per-run wall-clock ceiling
	HaltUnstageTimeout             time.Duration

	// Logger and Tracer correlate each dispatched Msg with the structured
	// log line and span that cover it (telemetry/logging, telemetry/tracing).
	// Logger defaults to one over slog.Default() and Tracer to a no-op, so a
	// bare Config{} remains usable in tests.
	Logger logging.Logger
	Tracer tracing.Tracer

	// Metrics is optional; a nil Recorder is safe to call through
	// (telemetry/metrics.Recorder's methods are all nil-receiver-safe).
	Metrics *metrics.Recorder
}

func (c Config) withDefaults() Config {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 64
	}
	if c.SubscriberDefaultQueue <= 0 {
		c.SubscriberDefaultQueue = publisher.DefaultQueueDepth
	}
	if c.DefaultMsgTimeout <= 0 {
		c.DefaultMsgTimeout = 30 * time.Second
	}
	if c.HaltUnstageTimeout <= 0 {
		c.HaltUnstageTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = logging.New(nil)
	}
	if c.Tracer == nil {
		c.Tracer = tracing.NewTracer(false)
	}
	return c
}
