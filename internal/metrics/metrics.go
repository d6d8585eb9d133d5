// Package metrics exports every field of a bridge's ConnectionCounters
// (§5) plus its current state as Prometheus collectors, wired through
// promhttp the way canonical-redis_exporter/exporter/exporter.go wires
// its own scrape metrics: a custom prometheus.Collector whose Collect
// method reads a caller-supplied snapshot on every scrape (no periodic
// background poller — the multiplexer's bridges are already the source
// of truth, polled lazily rather than pushed).
package metrics

import (
	"net/http"

	"github.com/boomballa/redismux/internal/bridge"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Snapshot is one bridge's identity plus a live pointer to its counters,
// read fresh on every Collect.
type Snapshot struct {
	Endpoint string // server address
	Role     string // "interactive" | "subscription"
	State    string // Disconnected/Connecting/ConnectedEstablishing/ConnectedEstablished
	Counters *bridge.Counters
}

// Source is called once per scrape to obtain the current set of bridges.
type Source func() []Snapshot

// Exporter is a prometheus.Collector over a Source.
type Exporter struct {
	namespace string
	source    Source

	state                *prometheus.Desc
	sentAwaitingResponse *prometheus.Desc
	pendingUnsent        *prometheus.Desc
	completedSync        *prometheus.Desc
	completedAsync       *prometheus.Desc
	failedAsync          *prometheus.Desc
	subscriptions        *prometheus.Desc
	socketCount          *prometheus.Desc
	operationCount       *prometheus.Desc
}

// New builds an Exporter; namespace prefixes every metric name
// ("redismux" is the sensible default for Multiplexer.MetricsHandler).
func New(namespace string, source Source) *Exporter {
	labels := []string{"endpoint", "role"}
	return &Exporter{
		namespace: namespace,
		source:    source,
		state: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "bridge", "state"),
			"Current bridge state, carried in the state label; the value is always 1",
			append(labels, "state"), nil,
		),
		sentAwaitingResponse: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "bridge", "sent_awaiting_response"),
			"Commands written to the wire whose reply has not yet arrived", labels, nil,
		),
		pendingUnsent: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "bridge", "pending_unsent"),
			"Commands queued in the backlog, not yet written", labels, nil,
		),
		completedSync: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "bridge", "completed_sync_total"),
			"Commands whose reply was matched off the wire", labels, nil,
		),
		completedAsync: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "bridge", "completed_async_total"),
			"Fire-and-forget commands fulfilled without waiting for a reply", labels, nil,
		),
		failedAsync: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "bridge", "failed_async_total"),
			"In-flight commands failed by disconnect, timeout, or close", labels, nil,
		),
		subscriptions: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "bridge", "subscriptions"),
			"Active pub/sub subscriptions carried by this bridge", labels, nil,
		),
		socketCount: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "bridge", "socket_count_total"),
			"Number of times this bridge has established a new TCP connection", labels, nil,
		),
		operationCount: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "bridge", "operation_count_total"),
			"Commands written to the wire on this bridge", labels, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.state
	ch <- e.sentAwaitingResponse
	ch <- e.pendingUnsent
	ch <- e.completedSync
	ch <- e.completedAsync
	ch <- e.failedAsync
	ch <- e.subscriptions
	ch <- e.socketCount
	ch <- e.operationCount
}

// Collect implements prometheus.Collector, reading each bridge's counters
// fresh on every scrape.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	for _, snap := range e.source() {
		labels := []string{snap.Endpoint, snap.Role}
		ch <- prometheus.MustNewConstMetric(e.state, prometheus.GaugeValue, 1, append(labels, snap.State)...)
		ch <- prometheus.MustNewConstMetric(e.sentAwaitingResponse, prometheus.GaugeValue, float64(snap.Counters.SentAwaitingResponse.Load()), labels...)
		ch <- prometheus.MustNewConstMetric(e.pendingUnsent, prometheus.GaugeValue, float64(snap.Counters.PendingUnsent.Load()), labels...)
		ch <- prometheus.MustNewConstMetric(e.completedSync, prometheus.CounterValue, float64(snap.Counters.CompletedSync.Load()), labels...)
		ch <- prometheus.MustNewConstMetric(e.completedAsync, prometheus.CounterValue, float64(snap.Counters.CompletedAsync.Load()), labels...)
		ch <- prometheus.MustNewConstMetric(e.failedAsync, prometheus.CounterValue, float64(snap.Counters.FailedAsync.Load()), labels...)
		ch <- prometheus.MustNewConstMetric(e.subscriptions, prometheus.GaugeValue, float64(snap.Counters.Subscriptions.Load()), labels...)
		ch <- prometheus.MustNewConstMetric(e.socketCount, prometheus.CounterValue, float64(snap.Counters.SocketCount.Load()), labels...)
		ch <- prometheus.MustNewConstMetric(e.operationCount, prometheus.CounterValue, float64(snap.Counters.OperationCount.Load()), labels...)
	}
}

// Handler returns an http.Handler serving this Exporter on its own
// private registry, suitable for Multiplexer.MetricsHandler().
func (e *Exporter) Handler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(e)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError})
}
