package dispatcher

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "rrf",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Current number of items queued, by queue name.",
	}, []string{"queue"})

	queueCapacity = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "rrf",
		Subsystem: "queue",
		Name:      "capacity",
		Help:      "Configured capacity, by queue name.",
	}, []string{"queue"})

	workerRestarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rrf",
		Subsystem: "worker",
		Name:      "restarts_total",
		Help:      "Number of times a worker has been restarted by the supervisor.",
	}, []string{"worker"})
)

func init() {
	prometheus.MustRegister(queueDepth, queueCapacity, workerRestarts)
}
