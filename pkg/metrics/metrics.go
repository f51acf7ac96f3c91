// Package metrics holds the process's Prometheus collectors. They are
// registered against the default registry so pkg/server's /metrics
// handler can serve them with promhttp.Handler() unmodified.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// AcknowledgementFailures counts per-chain Acknowledger failures that
	// left an on-chain creation event, or one of its oracles, unprocessed.
	// The scanners advance the checkpoint past the block regardless, so
	// the event is not retried; this counter is what makes such a loss
	// visible from the outside (see the corresponding Open Question
	// decision in DESIGN.md).
	AcknowledgementFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_acknowledgement_failures_total",
		Help: "Count of Acknowledger failures, labeled by chain id.",
	}, []string{"chain_id"})

	// AnswerRetries counts per-chain Answerer ticks that deferred an
	// oracle to the next tick instead of progressing it (provider
	// failure, submission failure) — observability for rows that never
	// make progress.
	AnswerRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_answer_retry_total",
		Help: "Count of Answerer per-oracle deferrals, labeled by chain id.",
	}, []string{"chain_id"})
)

func init() {
	prometheus.MustRegister(AcknowledgementFailures, AnswerRetries)
}
