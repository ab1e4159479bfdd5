package crawl

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the crawl counters of one process. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	pages            prometheus.Counter
	linksFound       prometheus.Counter
	articles         *prometheus.CounterVec
	extractFailures  *prometheus.CounterVec
	flushes          prometheus.Counter
	flushedRecords   prometheus.Counter
	errorQueueLength prometheus.Gauge
}

// NewMetrics registers the crawl counters on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "harvester",
			Name:      "pages_processed_total",
			Help:      "Catalog pages whose articles were all attempted",
		}),
		linksFound: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "harvester",
			Name:      "links_found_total",
			Help:      "New article links found on catalog pages",
		}),
		articles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "harvester",
			Name:      "articles_ingested_total",
			Help:      "Articles extracted and buffered for persistence",
		}, []string{"source"}),
		extractFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "harvester",
			Name:      "extraction_failures_total",
			Help:      "Articles whose extraction failed",
		}, []string{"source"}),
		flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "harvester",
			Name:      "flushes_total",
			Help:      "Successful record store flushes",
		}),
		flushedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "harvester",
			Name:      "flushed_records_total",
			Help:      "Records written by flushes",
		}),
		errorQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "harvester",
			Name:      "error_queue_length",
			Help:      "URLs left in the error queue",
		}),
	}
	m.registry.MustRegister(
		m.pages,
		m.linksFound,
		m.articles,
		m.extractFailures,
		m.flushes,
		m.flushedRecords,
		m.errorQueueLength,
	)
	return m
}

// WriteTextfile writes the counters in the node-exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

func (m *Metrics) pageProcessed(newLinks int) {
	if m == nil {
		return
	}
	m.pages.Inc()
	m.linksFound.Add(float64(newLinks))
}

func (m *Metrics) articleIngested(source string) {
	if m == nil {
		return
	}
	m.articles.WithLabelValues(source).Inc()
}

func (m *Metrics) extractionFailed(source string) {
	if m == nil {
		return
	}
	m.extractFailures.WithLabelValues(source).Inc()
}

func (m *Metrics) flushed(records int) {
	if m == nil {
		return
	}
	m.flushes.Inc()
	m.flushedRecords.Add(float64(records))
}

func (m *Metrics) setErrorQueueLength(n int) {
	if m == nil {
		return
	}
	m.errorQueueLength.Set(float64(n))
}

const (
	sourceCrawl     = "crawl"
	sourceReprocess = "reprocess"
)
