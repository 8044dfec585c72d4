package index

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pachyderm/seekidx/src/internal/errors"
)

var (
	opsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "seekidx",
		Subsystem: "index",
		Name:      "operations_total",
		Help:      "The number of index operations, by component, operation and outcome.",
	}, []string{"component", "op", "outcome"})
	entriesWrittenMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "seekidx",
		Subsystem: "index",
		Name:      "entries_written_total",
		Help:      "The number of entries written.",
	})
	stateBytesWrittenMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "seekidx",
		Subsystem: "index",
		Name:      "state_bytes_written_total",
		Help:      "The number of decompressor state bytes written.",
	})
	entriesReadMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "seekidx",
		Subsystem: "index",
		Name:      "entries_read_total",
		Help:      "The number of entries read.",
	})
)

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrLockContention):
		return "contention"
	case errors.Is(err, ErrOverwriteRefused):
		return "overwrite_refused"
	case errors.Is(err, ErrFormat):
		return "format"
	case errors.Is(err, ErrPrecondition):
		return "precondition"
	}
	return "backend"
}

func observe(component, op string, err error) {
	opsMetric.WithLabelValues(component, op, outcome(err)).Inc()
}
