package executor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric name prefix, matching zk/metrics/metrics_xlayer.go's
// SeqPrefix/RpcPrefix grouping convention.
const executorPrefix = "executor_"

// Stats exposes the Prometheus counters/gauges backing
// BlockExecutor.Stats: blocks/batches/transactions executed and the time
// spent per batch.
type Stats struct {
	blocksExecuted   prometheus.Counter
	batchesExecuted  prometheus.Counter
	txExecuted       prometheus.Counter
	batchExecSeconds prometheus.Histogram
}

// NewStats constructs a fresh, unregistered Stats. Call Init once per
// process to register its collectors.
func NewStats() *Stats {
	return &Stats{
		blocksExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: executorPrefix + "blocks_executed_total",
			Help: "total blocks successfully executed",
		}),
		batchesExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: executorPrefix + "batches_executed_total",
			Help: "total transaction batches executed",
		}),
		txExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: executorPrefix + "tx_executed_total",
			Help: "total transactions executed",
		}),
		batchExecSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    executorPrefix + "batch_exec_seconds",
			Help:    "wall-clock seconds spent executing one batch",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Init registers s's collectors. Call once per process.
func (s *Stats) Init() {
	prometheus.MustRegister(s.blocksExecuted)
	prometheus.MustRegister(s.batchesExecuted)
	prometheus.MustRegister(s.txExecuted)
	prometheus.MustRegister(s.batchExecSeconds)
}

func (s *Stats) observeBatch(txCount int, d time.Duration) {
	if s == nil {
		return
	}
	s.batchesExecuted.Inc()
	s.txExecuted.Add(float64(txCount))
	s.batchExecSeconds.Observe(d.Seconds())
}

func (s *Stats) observeBlock() {
	if s == nil {
		return
	}
	s.blocksExecuted.Inc()
}
