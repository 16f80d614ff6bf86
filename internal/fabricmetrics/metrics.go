// Package fabricmetrics wires the coordinator's admission outcomes into
// Prometheus, in the promauto style used across this codebase's other
// metrics.
package fabricmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "devicefabric"

var (
	// TransfersTotal counts every Execute call by how it was resolved:
	// rejected, admitted_immediate, admitted_cycle, admitted_remove, or
	// queued (queued is counted once on enqueue, the others once on
	// admission).
	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Total transfers processed, by outcome",
		},
		[]string{"outcome"},
	)

	// QueueDepth tracks how many transfers are currently waiting on
	// each device.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Number of transfers waiting for a device",
		},
		[]string{"device"},
	)

	// QueueWaitSeconds measures how long a transfer sat in a device's
	// wait queue before being woken, by destination device.
	QueueWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_wait_seconds",
			Help:      "Time a transfer spent queued for a device before admission",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"device"},
	)
)

// PrometheusRecorder implements fabric.Recorder over the package's
// default Prometheus registry. Its zero value is ready to use.
type PrometheusRecorder struct{}

func (PrometheusRecorder) ObserveOutcome(outcome string) {
	TransfersTotal.WithLabelValues(outcome).Inc()
}

func (PrometheusRecorder) SetQueueDepth(device string, depth int) {
	QueueDepth.WithLabelValues(device).Set(float64(depth))
}

func (PrometheusRecorder) ObserveQueueWait(device string, waited time.Duration) {
	QueueWaitSeconds.WithLabelValues(device).Observe(waited.Seconds())
}
