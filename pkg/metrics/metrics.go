// Package metrics exposes the small set of counters/gauges the core
// increments; exposition over HTTP is the admin server's job.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesRelayed counts mesh messages forwarded to other peers, by type.
	MessagesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "openclaw_mesh",
		Name:      "messages_relayed_total",
		Help:      "Mesh messages relayed to peers, by message type.",
	}, []string{"type"})

	// MessagesDropped counts inbound messages dropped by the dedup/hops gate
	// or an overflowing dispatcher queue.
	MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "openclaw_mesh",
		Name:      "messages_dropped_total",
		Help:      "Mesh messages dropped, by reason.",
	}, []string{"reason"})

	// ActivePeers reports the current connected-peer count.
	ActivePeers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "openclaw_mesh",
		Name:      "active_peers",
		Help:      "Number of currently connected mesh peers.",
	})

	// LedgerEntriesAppended counts ledger rows appended, by entry type.
	LedgerEntriesAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "openclaw_mesh",
		Name:      "ledger_entries_appended_total",
		Help:      "Ledger entries appended, by entry type.",
	}, []string{"entry_type"})
)
