package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Handler owns the agent's collectors. Every method is safe on a nil Handler
// so packages can run without metrics in tests.
type Handler struct {
	registry *prometheus.Registry

	RequestsReceived      *prometheus.CounterVec
	EventsNormalizedTotal *prometheus.CounterVec
	MaskedValuesTotal     *prometheus.CounterVec
	MaskRuleErrorsTotal   *prometheus.CounterVec
	BatchFlushesTotal     *prometheus.CounterVec
	BatchBytes            prometheus.Histogram
	DeliveryAttemptsTotal *prometheus.CounterVec
	DeliveryRetriesTotal  prometheus.Counter
	EndpointsUnhealthy    prometheus.Counter
	DeliveryLatency       *prometheus.HistogramVec
	QueryRunLatency       *prometheus.HistogramVec
}

// New registers the agent collectors on a fresh registry namespaced by name
func New(name string) (*Handler, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}
	factory := promauto.With(reg)

	return &Handler{
		registry: reg,
		RequestsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: name,
			Name:      "http_requests_received",
			Help:      "The total number of http requests received",
		}, []string{"status"}),
		EventsNormalizedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: name,
			Name:      "events_normalized_total",
			Help:      "The total number of events built from raw records",
		}, []string{"kind"}),
		MaskedValuesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: name,
			Name:      "masked_values_total",
			Help:      "The total number of column values rewritten by mask rules",
		}, []string{"rule"}),
		MaskRuleErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: name,
			Name:      "mask_rule_errors_total",
			Help:      "The total number of mask rules or patterns skipped",
		}, []string{"reason"}),
		BatchFlushesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: name,
			Name:      "batch_flushes_total",
			Help:      "The total number of batch flush attempts",
		}, []string{"status"}),
		BatchBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: name,
			Name:      "batch_bytes",
			Help:      "Size of flushed batch bodies",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
		}),
		DeliveryAttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: name,
			Name:      "delivery_attempts_total",
			Help:      "The total number of collector requests by outcome",
		}, []string{"outcome"}),
		DeliveryRetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: name,
			Name:      "delivery_retries_total",
			Help:      "The total number of retry sleeps taken",
		}),
		EndpointsUnhealthy: factory.NewCounter(prometheus.CounterOpts{
			Namespace: name,
			Name:      "endpoints_unhealthy_total",
			Help:      "The total number of endpoints excluded from a session",
		}),
		DeliveryLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: name,
			Name:      "delivery_latency_seconds",
			Help:      "The latency of a full deliver call across endpoints",
			Buckets:   prometheus.DefBuckets,
		}, []string{"success"}),
		QueryRunLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: name,
			Name:      "query_run_latency_seconds",
			Help:      "The latency of individual engine queries",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
	}, nil
}

// Registry returns the registry backing the handler
func (h *Handler) Registry() *prometheus.Registry {
	if h == nil {
		return nil
	}
	return h.registry
}

// IncRequestsReceived counts an http request by status code
func (h *Handler) IncRequestsReceived(status int) {
	if h == nil {
		return
	}
	h.RequestsReceived.WithLabelValues(strconv.Itoa(status)).Inc()
}

// IncEventsNormalized counts events built for a record kind
func (h *Handler) IncEventsNormalized(kind string, n int) {
	if h == nil || n == 0 {
		return
	}
	h.EventsNormalizedTotal.WithLabelValues(kind).Add(float64(n))
}

// IncMaskedValues counts values rewritten by a rule type
func (h *Handler) IncMaskedValues(rule string) {
	if h == nil {
		return
	}
	h.MaskedValuesTotal.WithLabelValues(rule).Inc()
}

// IncMaskRuleErrors counts skipped rules or patterns
func (h *Handler) IncMaskRuleErrors(reason string) {
	if h == nil {
		return
	}
	h.MaskRuleErrorsTotal.WithLabelValues(reason).Inc()
}

// ObserveFlush records a flush attempt and its body size
func (h *Handler) ObserveFlush(bytes int, success bool) {
	if h == nil {
		return
	}
	h.BatchFlushesTotal.WithLabelValues(successLabel(success)).Inc()
	h.BatchBytes.Observe(float64(bytes))
}

// IncDeliveryAttempt counts one collector request by outcome
func (h *Handler) IncDeliveryAttempt(outcome string) {
	if h == nil {
		return
	}
	h.DeliveryAttemptsTotal.WithLabelValues(outcome).Inc()
}

// IncDeliveryRetry counts one retry sleep
func (h *Handler) IncDeliveryRetry() {
	if h == nil {
		return
	}
	h.DeliveryRetriesTotal.Inc()
}

// IncEndpointUnhealthy counts one endpoint excluded from its session
func (h *Handler) IncEndpointUnhealthy() {
	if h == nil {
		return
	}
	h.EndpointsUnhealthy.Inc()
}

// ObserveDeliveryLatency records the latency of a deliver call
func (h *Handler) ObserveDeliveryLatency(duration time.Duration, success bool) {
	if h == nil {
		return
	}
	h.DeliveryLatency.WithLabelValues(successLabel(success)).Observe(duration.Seconds())
}

// ObserveQueryRun records the latency of a single engine query
func (h *Handler) ObserveQueryRun(duration time.Duration, success bool) {
	if h == nil {
		return
	}
	h.QueryRunLatency.WithLabelValues(successLabel(success)).Observe(duration.Seconds())
}

func successLabel(ok bool) string {
	if ok {
		return "true"
	}
	return "false"
}
