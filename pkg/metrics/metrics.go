package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const Namespace = "learning_rag"

var (
	defaultRegistry     *prometheus.Registry
	onceDefaultRegistry sync.Once

	defaultBusiness     *BusinessMetrics
	onceDefaultBusiness sync.Once
)

func DefaultRegistry() *prometheus.Registry {
	onceDefaultRegistry.Do(func() {
		r := prometheus.NewRegistry()
		r.MustRegister(collectors.NewGoCollector())
		r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		defaultRegistry = r
	})
	return defaultRegistry
}

// Business returns the process-wide business metrics bound to DefaultRegistry.
func Business() *BusinessMetrics {
	onceDefaultBusiness.Do(func() {
		defaultBusiness = NewBusinessMetrics(DefaultRegistry(), Namespace)
	})
	return defaultBusiness
}

type HTTPMetrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	InflightRequests *prometheus.GaugeVec
}

var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

func NewHTTPMetrics(reg prometheus.Registerer, namespace, service string) *HTTPMetrics {
	reqTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"service", "route", "method", "status"})
	reqDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   durationBuckets,
	}, []string{"service", "route", "method", "status"})
	inflight := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "http_inflight_requests",
		Help:      "Current number of inflight HTTP requests",
	}, []string{"service"})

	reg.MustRegister(reqTotal, reqDur, inflight)
	inflight.WithLabelValues(service).Set(0)

	return &HTTPMetrics{
		RequestsTotal:    reqTotal,
		RequestDuration:  reqDur,
		InflightRequests: inflight,
	}
}

type BusinessMetrics struct {
	UploadTotal       *prometheus.CounterVec
	IngestionTotal    *prometheus.CounterVec
	IngestionDuration *prometheus.HistogramVec
	ChunksIndexed     prometheus.Counter
	EmbedTotal        *prometheus.CounterVec
	EmbedDuration     *prometheus.HistogramVec
	EmbedCache        *prometheus.CounterVec
	QueryTotal        *prometheus.CounterVec
	QueryDuration     *prometheus.HistogramVec
	QueryFallback     prometheus.Counter
	IngestionInflight prometheus.Gauge
}

func NewBusinessMetrics(reg prometheus.Registerer, namespace string) *BusinessMetrics {
	mkCounter := func(name, help string, labels ...string) *prometheus.CounterVec {
		c := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
		reg.MustRegister(c)
		return c
	}
	mkHist := func(name, help string, labels ...string) *prometheus.HistogramVec {
		h := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: name, Help: help, Buckets: durationBuckets}, labels)
		reg.MustRegister(h)
		return h
	}
	chunks := prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "chunks_indexed_total", Help: "Chunks written to the vector index"})
	fallback := prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "query_fallback_total", Help: "Queries that retried with the subject filter"})
	inflight := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "ingestion_inflight", Help: "Ingestion jobs currently running"})
	reg.MustRegister(chunks, fallback, inflight)

	return &BusinessMetrics{
		UploadTotal:       mkCounter("upload_total", "Total uploads", "status"),
		IngestionTotal:    mkCounter("ingestion_total", "Total ingestion runs", "status"),
		IngestionDuration: mkHist("ingestion_duration_seconds", "Ingestion run duration in seconds", "status"),
		ChunksIndexed:     chunks,
		EmbedTotal:        mkCounter("embed_requests_total", "Embedding provider calls", "provider", "status"),
		EmbedDuration:     mkHist("embed_duration_seconds", "Embedding provider latency in seconds", "provider", "status"),
		EmbedCache:        mkCounter("embed_cache_total", "Embedding cache lookups", "result"),
		QueryTotal:        mkCounter("query_total", "Total retrieval queries", "outcome"),
		QueryDuration:     mkHist("query_duration_seconds", "Retrieval query duration in seconds", "outcome"),
		QueryFallback:     fallback,
		IngestionInflight: inflight,
	}
}
