package guda

import (
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/xerrors"
)

type metrics struct {
	launches  prometheus.Counter
	threads   prometheus.Counter
	failures  prometheus.Counter
	duration  prometheus.Histogram
	allocated prometheus.Gauge
}

// newMetrics creates the per-context collectors. With a nil registerer the
// collectors are live but not exported. Contexts created on the same device
// against the same registerer share their collectors.
func newMetrics(reg prometheus.Registerer, dev *Device) *metrics {
	labels := prometheus.Labels{
		"device":      dev.Name,
		"device_uuid": dev.UUID.String(),
	}
	return &metrics{
		launches: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "guda_kernel_launches_total",
			Help:        "The total number of kernel launches submitted to the device",
			ConstLabels: labels,
		})),
		threads: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "guda_kernel_threads_total",
			Help:        "The total number of kernel threads executed on the device",
			ConstLabels: labels,
		})),
		failures: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "guda_kernel_failures_total",
			Help:        "The total number of kernel launches that failed during execution",
			ConstLabels: labels,
		})),
		duration: register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "guda_kernel_duration_seconds",
			Help:        "Wall time spent executing kernel launches",
			Buckets:     prometheus.ExponentialBuckets(1e-6, 4, 12),
			ConstLabels: labels,
		})),
		allocated: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "guda_memory_allocated_bytes",
			Help:        "Bytes of device memory currently allocated",
			ConstLabels: labels,
		})),
	}
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if xerrors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}
