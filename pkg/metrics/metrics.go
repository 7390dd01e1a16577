// Package metrics exposes the engine's Prometheus collectors. Everything is
// registered on the default registry and served via promhttp on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	FetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "commsync_fetch_total",
		Help: "Feed fetches issued, by channel and direction.",
	}, []string{"channel", "direction"})

	FetchFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "commsync_fetch_failures_total",
		Help: "Fetches that failed after the retry was exhausted.",
	}, []string{"channel"})

	FetchRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "commsync_fetch_retries_total",
		Help: "Single-shot retries triggered by a transport failure.",
	}, []string{"channel"})

	EntriesAdded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "commsync_entries_added_total",
		Help: "Previously-unseen entries merged into the store.",
	}, []string{"channel"})

	EntriesDuplicate = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "commsync_entries_duplicate_total",
		Help: "Entries skipped by id-based dedup.",
	}, []string{"channel"})

	EntriesMalformed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "commsync_entries_malformed_total",
		Help: "Entries skipped because they could not be parsed.",
	}, []string{"channel"})

	ViewportResets = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "commsync_viewport_resets_total",
		Help: "Viewport moves that cleared the viewport-scoped channels.",
	})

	StoredMessages = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "commsync_stored_messages",
		Help: "Messages currently stored, by channel.",
	}, []string{"channel"})

	SendTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "commsync_send_total",
		Help: "Outbound send attempts, by channel and outcome.",
	}, []string{"channel", "outcome"})
)

func init() {
	prometheus.MustRegister(
		FetchTotal,
		FetchFailures,
		FetchRetries,
		EntriesAdded,
		EntriesDuplicate,
		EntriesMalformed,
		ViewportResets,
		StoredMessages,
		SendTotal,
	)
}
