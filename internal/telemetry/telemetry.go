// Package telemetry exposes the OpenTelemetry instruments the engine
// records. No exporter is installed here: the global providers are no-op
// unless the embedding process configures them.
package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationScope = "github.com/asnar00/firefly"

// Meter returns the engine's meter.
func Meter() metric.Meter {
	return otel.GetMeterProvider().Meter(instrumentationScope)
}

// Instruments holds the counters recorded by the matcher, judge and
// notifier.
var Instruments struct {
	JudgeCalls     metric.Int64Counter
	JudgeCacheHits metric.Int64Counter
	JudgeInTokens  metric.Int64Counter
	JudgeOutTokens metric.Int64Counter
	MatcherRuns    metric.Int64Counter
	PushesSent     metric.Int64Counter
}

var initOnce sync.Once

// Init creates the instruments. Idempotent; errors are ignored because a
// failed instrument is a no-op.
func Init() {
	initOnce.Do(func() {
		m := Meter()
		Instruments.JudgeCalls, _ = m.Int64Counter("firefly.judge.calls",
			metric.WithDescription("Chat-completion calls issued by the relevance judge"))
		Instruments.JudgeCacheHits, _ = m.Int64Counter("firefly.judge.cache_hits",
			metric.WithDescription("Judge calls answered from the prompt cache"))
		Instruments.JudgeInTokens, _ = m.Int64Counter("firefly.judge.input_tokens",
			metric.WithDescription("Input tokens consumed by judge calls"),
			metric.WithUnit("{token}"))
		Instruments.JudgeOutTokens, _ = m.Int64Counter("firefly.judge.output_tokens",
			metric.WithDescription("Output tokens generated by judge calls"),
			metric.WithUnit("{token}"))
		Instruments.MatcherRuns, _ = m.Int64Counter("firefly.matcher.runs",
			metric.WithDescription("Matcher invocations, by direction"))
		Instruments.PushesSent, _ = m.Int64Counter("firefly.push.sent",
			metric.WithDescription("Push notifications handed to the transport"))
	})
}
