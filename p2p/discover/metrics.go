package discover

import "github.com/prometheus/client_golang/prometheus"

// Metric name prefix, grouping related gauges.
const discoverPrefix = "discover_"

var (
	sessionsEstablishedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: discoverPrefix + "sessions_established_total",
		Help: "total v5 sessions established",
	})
	kbucketNodesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: discoverPrefix + "kbucket_nodes",
		Help: "current count of nodes across all k-buckets",
	})
)

// InitMetrics registers the discover package's Prometheus collectors. Call
// once per process.
func InitMetrics() {
	prometheus.MustRegister(sessionsEstablishedTotal)
	prometheus.MustRegister(kbucketNodesGauge)
}
