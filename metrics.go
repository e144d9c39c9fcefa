package mcp

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "mcpsse"

type metrics struct {
	frames          *prometheus.CounterVec
	requests        *prometheus.CounterVec
	requestFailures *prometheus.CounterVec
	droppedEvents   prometheus.Counter
	pendingRequests prometheus.Gauge
}

// newMetrics creates the client collectors. They are always updated; they are only exported when
// reg is not nil. Clients sharing a registerer share collectors.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_total",
			Help:      "SSE frames received, by event type.",
		}, []string{"event"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "JSON-RPC messages posted to the session endpoint, by method.",
		}, []string{"method"}),
		requestFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "request_failures_total",
			Help:      "JSON-RPC posts that failed at the HTTP level, by method.",
		}, []string{"method"}),
		droppedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_dropped_total",
			Help:      "Public events dropped because the event channel stayed full.",
		}),
		pendingRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "pending_requests",
			Help:      "Requests awaiting a correlated response.",
		}),
	}
	if reg == nil {
		return m
	}

	m.frames = register(reg, m.frames)
	m.requests = register(reg, m.requests)
	m.requestFailures = register(reg, m.requestFailures)
	m.droppedEvents = register(reg, m.droppedEvents)
	m.pendingRequests = register(reg, m.pendingRequests)
	return m
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	err := reg.Register(c)
	if err == nil {
		return c
	}

	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing
		}
	}
	return c
}

func frameLabel(typ string) string {
	switch typ {
	case "":
		return "message"
	case sseEventEndpoint, "message":
		return typ
	default:
		return "other"
	}
}
