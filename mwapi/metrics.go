package mwapi

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "mwapi"

// clientMetrics is nil-safe; a client without WithMetrics records nothing.
type clientMetrics struct {
	requests     *prometheus.CounterVec
	retries      *prometheus.CounterVec
	pages        prometheus.Counter
	tokenFetches *prometheus.CounterVec
	logins       *prometheus.CounterVec
}

func newClientMetrics(reg prometheus.Registerer) (*clientMetrics, error) {
	var errs []error
	r := registerer{Registerer: reg, errs: &errs}
	m := &clientMetrics{
		requests: register(r, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "Total number of API requests sent, by method and outcome.",
		}, []string{"method", "outcome"})),
		retries: register(r, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "retries_total",
			Help:      "Total number of request retries, by reason.",
		}, []string{"reason"})),
		pages: register(r, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "continuation_pages_total",
			Help:      "Total number of continuation pages fetched.",
		})),
		tokenFetches: register(r, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "token_fetches_total",
			Help:      "Total number of token fetch requests, by token type.",
		}, []string{"type"})),
		logins: register(r, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "logins_total",
			Help:      "Total number of login attempts, by result.",
		}, []string{"result"})),
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	return m, nil
}

// registerer collects registration failures so newClientMetrics can report them together.
type registerer struct {
	prometheus.Registerer
	errs *[]error
}

// register reuses an identical collector already registered by another client.
func register[T prometheus.Collector](reg registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		*reg.errs = append(*reg.errs, err)
	}
	return c
}

func (m *clientMetrics) request(method, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, outcome).Inc()
}

func (m *clientMetrics) retry(reason string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(reason).Inc()
}

func (m *clientMetrics) page() {
	if m == nil {
		return
	}
	m.pages.Inc()
}

func (m *clientMetrics) tokenFetch(t TokenType) {
	if m == nil {
		return
	}
	m.tokenFetches.WithLabelValues(string(t)).Inc()
}

func (m *clientMetrics) login(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}
