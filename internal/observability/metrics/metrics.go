package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Config configures metric registration labels.
type Config struct {
	ServiceName string
	Environment string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	funnelEvents     *prometheus.CounterVec
	duplicateEvents  *prometheus.CounterVec
	priceDivergences *prometheus.CounterVec
	dispatchAttempts *prometheus.CounterVec
	dripSends        *prometheus.CounterVec
}

// New registers the domain instruments on the default registerer.
func New(cfg Config) (*Metrics, error) {
	return newMetrics(prometheus.DefaultRegisterer, cfg)
}

func newMetrics(registerer prometheus.Registerer, cfg Config) (*Metrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := constLabelsFor(cfg)

	funnelEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "dripflow_funnel_events_total",
		Help:        "Funnel events processed by provider, kind, and outcome.",
		ConstLabels: constLabels,
	}, []string{"provider", "event_kind", "outcome"})
	duplicateEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "dripflow_duplicate_events_total",
		Help:        "Webhook deliveries rejected as duplicates, by guard tier.",
		ConstLabels: constLabels,
	}, []string{"event_kind", "tier"})
	priceDivergences := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "dripflow_price_divergences_total",
		Help:        "Charges whose amount diverged from the last shown offer.",
		ConstLabels: constLabels,
	}, []string{"event_kind"})
	dispatchAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "dripflow_dispatch_attempts_total",
		Help:        "Conversion dispatch attempts by sink and outcome.",
		ConstLabels: constLabels,
	}, []string{"sink", "outcome"})
	dripSends := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "dripflow_drip_sends_total",
		Help:        "Drip step sends by outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"})

	for _, collector := range []prometheus.Collector{
		funnelEvents,
		duplicateEvents,
		priceDivergences,
		dispatchAttempts,
		dripSends,
	} {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}

	return &Metrics{
		funnelEvents:     funnelEvents,
		duplicateEvents:  duplicateEvents,
		priceDivergences: priceDivergences,
		dispatchAttempts: dispatchAttempts,
		dripSends:        dripSends,
	}, nil
}

// RecordFunnelEvent increments processed funnel event counts.
func (m *Metrics) RecordFunnelEvent(provider, eventKind, outcome string) {
	if m == nil {
		return
	}
	m.funnelEvents.WithLabelValues(
		strings.TrimSpace(provider),
		strings.TrimSpace(eventKind),
		strings.TrimSpace(outcome),
	).Inc()
}

// RecordDuplicateEvent increments duplicate rejection counts. Tier is either
// "cache" or "ledger" depending on which guard layer caught the replay.
func (m *Metrics) RecordDuplicateEvent(eventKind, tier string) {
	if m == nil {
		return
	}
	m.duplicateEvents.WithLabelValues(strings.TrimSpace(eventKind), strings.TrimSpace(tier)).Inc()
}

// RecordPriceDivergence increments the divergence counter.
func (m *Metrics) RecordPriceDivergence(eventKind string) {
	if m == nil {
		return
	}
	m.priceDivergences.WithLabelValues(strings.TrimSpace(eventKind)).Inc()
}

// RecordDispatchAttempt increments dispatch attempt counts.
func (m *Metrics) RecordDispatchAttempt(sink, outcome string) {
	if m == nil {
		return
	}
	m.dispatchAttempts.WithLabelValues(strings.TrimSpace(sink), strings.TrimSpace(outcome)).Inc()
}

// RecordDripSend increments drip send counts.
func (m *Metrics) RecordDripSend(outcome string) {
	if m == nil {
		return
	}
	m.dripSends.WithLabelValues(strings.TrimSpace(outcome)).Inc()
}

func constLabelsFor(cfg Config) prometheus.Labels {
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "dripflow"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	return prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}
}
