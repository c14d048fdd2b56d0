package mempool

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "mempool"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of transactions in the pool.
	Size metrics.Gauge
	// Total payload bytes in the pool.
	SizeBytes metrics.Gauge
	// Histogram of admitted transaction sizes, in bytes.
	TxSizeBytes metrics.Histogram
	// Number of rejected transactions, labeled by reason.
	RejectedTxs metrics.Counter
	// Number of transactions evicted to make room for higher priority ones.
	EvictedTxs metrics.Counter
	// Number of transactions replaced by a higher priority resubmission.
	ReplacedTxs metrics.Counter
	// Number of transactions removed after expiring.
	ExpiredTxs metrics.Counter
	// Number of transactions removed after being committed.
	CommittedTxs metrics.Counter

	// Number of broadcast batches sent to peers.
	BroadcastBatches metrics.Counter
	// Number of transactions sent in broadcast batches.
	BroadcastTxs metrics.Counter
	// Number of broadcast attempts that failed (timeout, busy or send error).
	BroadcastFailures metrics.Counter
	// Number of times a peer was moved to an alternate network instance.
	Failovers metrics.Counter
	// Number of peers with a broadcast in flight.
	InflightBroadcasts metrics.Gauge
	// Number of peers currently in backoff.
	PeersInBackoff metrics.Gauge

	// Number of inbound broadcasts rejected because the limiter was full.
	InboundBusy metrics.Counter
	// Number of inbound broadcasts being processed.
	InboundInflight metrics.Gauge
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		Size: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "size",
			Help:      "Number of transactions in the mempool.",
		}, labels).With(labelsAndValues...),
		SizeBytes: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "size_bytes",
			Help:      "Total payload bytes of the transactions in the mempool.",
		}, labels).With(labelsAndValues...),
		TxSizeBytes: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "tx_size_bytes",
			Help:      "Admitted transaction sizes in bytes.",
			Buckets:   stdprometheus.ExponentialBuckets(1, 3, 17),
		}, labels).With(labelsAndValues...),
		RejectedTxs: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "rejected_txs",
			Help:      "Number of rejected transactions.",
		}, append(labels, "reason")).With(labelsAndValues...),
		EvictedTxs: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "evicted_txs",
			Help:      "Number of transactions evicted for higher priority ones.",
		}, labels).With(labelsAndValues...),
		ReplacedTxs: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "replaced_txs",
			Help:      "Number of transactions replaced by a higher priority resubmission.",
		}, labels).With(labelsAndValues...),
		ExpiredTxs: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "expired_txs",
			Help:      "Number of transactions garbage collected after expiring.",
		}, labels).With(labelsAndValues...),
		CommittedTxs: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "committed_txs",
			Help:      "Number of transactions removed after being committed.",
		}, labels).With(labelsAndValues...),
		BroadcastBatches: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "broadcast_batches",
			Help:      "Number of broadcast batches sent to peers.",
		}, labels).With(labelsAndValues...),
		BroadcastTxs: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "broadcast_txs",
			Help:      "Number of transactions sent in broadcast batches.",
		}, labels).With(labelsAndValues...),
		BroadcastFailures: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "broadcast_failures",
			Help:      "Number of broadcast attempts that were not acknowledged.",
		}, labels).With(labelsAndValues...),
		Failovers: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "failovers",
			Help:      "Number of times a peer was moved to an alternate network instance.",
		}, labels).With(labelsAndValues...),
		InflightBroadcasts: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "inflight_broadcasts",
			Help:      "Number of peers with a broadcast batch in flight.",
		}, labels).With(labelsAndValues...),
		PeersInBackoff: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "peers_in_backoff",
			Help:      "Number of peers waiting out a broadcast backoff.",
		}, labels).With(labelsAndValues...),
		InboundBusy: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "inbound_busy",
			Help:      "Number of inbound broadcasts rejected as busy.",
		}, labels).With(labelsAndValues...),
		InboundInflight: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "inbound_inflight",
			Help:      "Number of inbound broadcasts being processed.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Size:               discard.NewGauge(),
		SizeBytes:          discard.NewGauge(),
		TxSizeBytes:        discard.NewHistogram(),
		RejectedTxs:        discard.NewCounter(),
		EvictedTxs:         discard.NewCounter(),
		ReplacedTxs:        discard.NewCounter(),
		ExpiredTxs:         discard.NewCounter(),
		CommittedTxs:       discard.NewCounter(),
		BroadcastBatches:   discard.NewCounter(),
		BroadcastTxs:       discard.NewCounter(),
		BroadcastFailures:  discard.NewCounter(),
		Failovers:          discard.NewCounter(),
		InflightBroadcasts: discard.NewGauge(),
		PeersInBackoff:     discard.NewGauge(),
		InboundBusy:        discard.NewCounter(),
		InboundInflight:    discard.NewGauge(),
	}
}
