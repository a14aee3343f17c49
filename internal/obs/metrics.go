// Package obs holds Prometheus instrumentation for the folder engine.
// Collectors live on an explicit Metrics value (no default-registry
// globals) so tests can construct isolated instances. A nil *Metrics is
// valid everywhere and records nothing.
package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the engine's collectors with their registry.
type Metrics struct {
	registry *prometheus.Registry

	provisions     *prometheus.CounterVec
	lockAcquires   *prometheus.CounterVec
	tokenRefreshes *prometheus.CounterVec
	syncItems      *prometheus.CounterVec
	auditFindings  *prometheus.CounterVec
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		provisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "folder_provisions_total",
			Help: "Provisioning attempts by outcome.",
		}, []string{"outcome"}),
		lockAcquires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "folder_lock_acquisitions_total",
			Help: "Distributed lock acquisition attempts by result.",
		}, []string{"result"}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "folder_token_refreshes_total",
			Help: "OAuth token refreshes by result.",
		}, []string{"result"}),
		syncItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "folder_sync_items_total",
			Help: "Sync batch items by result.",
		}, []string{"result"}),
		auditFindings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "folder_audit_findings_total",
			Help: "Audit findings by kind.",
		}, []string{"kind"}),
	}

	m.registry.MustRegister(m.provisions, m.lockAcquires, m.tokenRefreshes,
		m.syncItems, m.auditFindings)

	return m
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Provision(outcome string) {
	if m == nil {
		return
	}

	m.provisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) LockAcquire(result string) {
	if m == nil {
		return
	}

	m.lockAcquires.WithLabelValues(result).Inc()
}

func (m *Metrics) TokenRefresh(result string) {
	if m == nil {
		return
	}

	m.tokenRefreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) SyncItem(result string) {
	if m == nil {
		return
	}

	m.syncItems.WithLabelValues(result).Inc()
}

func (m *Metrics) AuditFinding(kind string) {
	if m == nil {
		return
	}

	m.auditFindings.WithLabelValues(kind).Inc()
}
