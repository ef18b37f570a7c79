// Package metrics holds the process statistics. Nothing here is global: the server creates one
// DocumentStats at startup and passes it to the components that record into it.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

const namespace = "docledger"

// Snapshot is a point-in-time copy of the document statistics
type Snapshot struct {
	Since           time.Time                  `json:"since"`
	Documents       int                        `json:"documents"`
	ByCurrency      map[string]int             `json:"by_currency"`
	ByStatus        map[string]int             `json:"by_status"`
	LowConfidence   int                        `json:"low_confidence"`
	Ambiguous       int                        `json:"ambiguous"`
	GrossByCurrency map[string]decimal.Decimal `json:"gross_by_currency"`
}

func newSnapshot(now time.Time) Snapshot {
	return Snapshot{
		Since:           now,
		ByCurrency:      make(map[string]int),
		ByStatus:        make(map[string]int),
		GrossByCurrency: make(map[string]decimal.Decimal),
	}
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.ByCurrency = make(map[string]int, len(s.ByCurrency))
	for k, v := range s.ByCurrency {
		out.ByCurrency[k] = v
	}
	out.ByStatus = make(map[string]int, len(s.ByStatus))
	for k, v := range s.ByStatus {
		out.ByStatus[k] = v
	}
	out.GrossByCurrency = make(map[string]decimal.Decimal, len(s.GrossByCurrency))
	for k, v := range s.GrossByCurrency {
		out.GrossByCurrency[k] = v
	}
	return out
}

// Document describes one processed document for the statistics
type Document struct {
	Currency      string
	Status        string
	Gross         decimal.Decimal
	LowConfidence bool
	Ambiguous     bool
}

// DocumentStats counts processed documents and HTTP traffic. It owns a private Prometheus
// registry and an exact in-process snapshot; Reset clears both.
type DocumentStats struct {
	registry      *prometheus.Registry
	documents     *prometheus.CounterVec
	lowConfidence *prometheus.CounterVec
	ambiguous     *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec

	now func() time.Time

	mu   sync.Mutex
	snap Snapshot
}

// NewDocumentStats creates the statistics with a fresh registry including Go runtime collectors
func NewDocumentStats() *DocumentStats {
	s := &DocumentStats{
		registry: prometheus.NewRegistry(),
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_processed_total",
			Help:      "Documents processed, by currency and status",
		}, []string{"currency", "status"}),
		lowConfidence: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_low_confidence_total",
			Help:      "Documents whose amounts were resolved with low confidence",
		}, []string{"currency"}),
		ambiguous: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_ambiguous_total",
			Help:      "Documents whose total was ambiguous",
		}, []string{"currency"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		now: time.Now,
	}
	s.registry.MustRegister(
		s.documents, s.lowConfidence, s.ambiguous, s.httpRequests, s.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.snap = newSnapshot(s.now())
	return s
}

// RecordDocument counts one processed document
func (s *DocumentStats) RecordDocument(d Document) {
	currency := d.Currency
	if currency == "" {
		currency = "none"
	}
	s.documents.WithLabelValues(currency, d.Status).Inc()
	if d.LowConfidence {
		s.lowConfidence.WithLabelValues(currency).Inc()
	}
	if d.Ambiguous {
		s.ambiguous.WithLabelValues(currency).Inc()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Documents++
	s.snap.ByCurrency[currency]++
	s.snap.ByStatus[d.Status]++
	if d.LowConfidence {
		s.snap.LowConfidence++
	}
	if d.Ambiguous {
		s.snap.Ambiguous++
	}
	s.snap.GrossByCurrency[currency] = s.snap.GrossByCurrency[currency].Add(d.Gross)
}

// ObserveHTTP records one served request
func (s *DocumentStats) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	s.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	s.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Snapshot returns a copy of the current statistics
func (s *DocumentStats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.clone()
}

// Reset clears all document counters and returns what they held. HTTP metrics are kept.
func (s *DocumentStats) Reset() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	flushed := s.snap
	s.snap = newSnapshot(s.now())
	s.documents.Reset()
	s.lowConfidence.Reset()
	s.ambiguous.Reset()
	return flushed
}

// Registry exposes the private registry, mainly for tests
func (s *DocumentStats) Registry() *prometheus.Registry {
	return s.registry
}

// Handler serves the registry in the Prometheus exposition format
func (s *DocumentStats) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}
