package store

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the store's Prometheus collectors. A nil *metrics records nothing.
type metrics struct {
	operations *prometheus.CounterVec
	chunks     *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}

	m := &metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dlx",
				Subsystem: "database",
				Name:      "operations_total",
				Help:      "Total number of store operations by outcome status",
			},
			[]string{"operation", "status"},
		),
		chunks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dlx",
				Subsystem: "database",
				Name:      "batch_chunks_total",
				Help:      "Total number of physical bulk requests dispatched",
			},
			[]string{"operation"},
		),
	}
	m.operations = register(reg, m.operations)
	m.chunks = register(reg, m.chunks)
	return m
}

// register registers c, reusing an identical collector registered by another Store.
func register(reg prometheus.Registerer, c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return c
}

func (m *metrics) observe(operation string, status int) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, strconv.Itoa(status)).Inc()
}

func (m *metrics) chunk(operation string) {
	if m == nil {
		return
	}
	m.chunks.WithLabelValues(operation).Inc()
}
