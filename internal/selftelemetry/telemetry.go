// Copyright The Ioamp Authors
// SPDX-License-Identifier: Apache-2.0

// Package selftelemetry provides self-monitoring Prometheus metrics for the
// tracer's own runtime transient errors and loader lifecycle, in the style
// of the teacher codebase's internal/selftelemetry package: a single
// Metrics struct of promauto-registered collectors plus an HTTP handler
// installer for /metrics and /healthz.
package selftelemetry

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every self-telemetry collector the tracer registers.
type Metrics struct {
	ready atomic.Bool

	// eBPF loader lifecycle (internal/ebpf).
	EBPFCollectionsLoaded prometheus.Counter
	EBPFLoadErrors        prometheus.Counter
	EBPFAttachErrors      prometheus.Counter
	EBPFLinksActive       prometheus.Gauge
	EBPFSimulated         prometheus.Gauge

	// Event ring (internal/ring).
	RingEventsReceived prometheus.Counter
	RingEventsDropped  prometheus.Counter

	// Kernel-side table saturation (internal/ebpf), spec.md §4.2/§8 S6.
	// Backed by an atomic counter (not a bare prometheus.Counter) so the
	// count can also be read back locally for the shutdown summary
	// (spec.md §8 scenario S6), not only scraped over /metrics.
	requestTableSaturated atomic.Uint64
	bioTableSaturated     atomic.Uint64

	// Correlator (internal/correlator), spec.md §4.6 eviction.
	FlowTableEvictions prometheus.Counter
}

// NewMetrics builds and registers the tracer's self-telemetry metrics under
// the given namespace (defaults to "ioamp").
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "ioamp"
	}

	m := &Metrics{}

	m.EBPFCollectionsLoaded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "ebpf_collections_loaded_total",
		Help: "Number of eBPF collections successfully loaded.",
	})
	m.EBPFLoadErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "ebpf_load_errors_total",
		Help: "Number of eBPF collection load failures.",
	})
	m.EBPFAttachErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "ebpf_attach_errors_total",
		Help: "Number of probe attach failures.",
	})
	m.EBPFLinksActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "ebpf_links_active",
		Help: "Number of currently attached probe links.",
	})
	m.EBPFSimulated = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "ebpf_simulated",
		Help: "1 if the tracer fell back to the in-process event simulator, 0 if real probes attached.",
	})

	m.RingEventsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "ring_events_received_total",
		Help: "Number of events popped from the ring by the consumer.",
	})
	m.RingEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "ring_events_dropped_total",
		Help: "Number of events dropped because the ring was full.",
	})

	promauto.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Name: "request_table_saturated_total",
		Help: "Number of application-layer entries that found the request-context table full.",
	}, func() float64 { return float64(m.requestTableSaturated.Load()) })
	promauto.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Name: "bio_table_saturated_total",
		Help: "Number of submit_bio entries that found the bio-timing table full.",
	}, func() float64 { return float64(m.bioTableSaturated.Load()) })

	m.FlowTableEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "flow_table_evictions_total",
		Help: "Number of flow records evicted because the flow table was full.",
	})

	return m
}

// InstallHandlers registers /metrics and /healthz (and /readyz) on mux and
// returns the Metrics instance for the caller to wire into the rest of the
// tracer, mirroring the teacher's selftelemetry.InstallHandlers.
func InstallHandlers(mux *http.ServeMux, namespace string) *Metrics {
	m := NewMetrics(namespace)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if m.ready.Load() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		http.Error(w, "not ready", http.StatusServiceUnavailable)
	})
	return m
}

// SetReady marks the tracer ready/not-ready for /readyz.
func (m *Metrics) SetReady(v bool) { m.ready.Store(v) }

// IncRequestTableSaturated records one application-layer request that found
// the request-context table full (spec.md §4.2/§8 scenario S6).
func (m *Metrics) IncRequestTableSaturated() { m.requestTableSaturated.Add(1) }

// IncBioTableSaturated records one submit_bio event that found the
// bio-timing table full.
func (m *Metrics) IncBioTableSaturated() { m.bioTableSaturated.Add(1) }

// RequestTableSaturatedCount returns the current request-table saturation
// count, read back for the shutdown summary as well as /metrics.
func (m *Metrics) RequestTableSaturatedCount() uint64 { return m.requestTableSaturated.Load() }

// BioTableSaturatedCount returns the current bio-table saturation count.
func (m *Metrics) BioTableSaturatedCount() uint64 { return m.bioTableSaturated.Load() }
