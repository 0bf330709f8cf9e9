// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes Prometheus instrumentation for the namespace
// registry and the control surface. Every method is safe on a nil *Registry,
// so components can run uninstrumented in tests.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pernet"

// Registry holds the collectors on a private Prometheus registry.
type Registry struct {
	reg *prometheus.Registry

	Namespaces       prometheus.Gauge
	SysctlTables     prometheus.Gauge
	LiveAllocations  prometheus.Gauge
	PublishFailures  *prometheus.CounterVec
	SysctlOps        *prometheus.CounterVec
	NamespaceEvents  *prometheus.CounterVec
	BootInitDuration prometheus.Gauge
}

// New creates a registry with all collectors registered, plus the Go and
// process collectors.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		Namespaces: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "namespaces",
			Help:      "Live network namespaces, including the default one.",
		}),
		SysctlTables: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sysctl_tables",
			Help:      "Control tables currently registered on the control surface.",
		}),
		LiveAllocations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memacct_live_allocations",
			Help:      "Outstanding accounted allocations.",
		}),
		PublishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Control table publish failures by reason.",
		}, []string{"reason"}),
		SysctlOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sysctl_ops_total",
			Help:      "Control surface reads and writes by result.",
		}, []string{"op", "result"}),
		NamespaceEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "namespace_events_total",
			Help:      "Namespace lifecycle events.",
		}, []string{"event"}),
		BootInitDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "boot_init_seconds",
			Help:      "Duration of the one-time global initialization.",
		}),
	}

	r.reg.MustRegister(
		r.Namespaces,
		r.SysctlTables,
		r.LiveAllocations,
		r.PublishFailures,
		r.SysctlOps,
		r.NamespaceEvents,
		r.BootInitDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Get returns the process-wide registry, creating it on first use.
func Get() *Registry {
	defaultOnce.Do(func() { defaultReg = New() })
	return defaultReg
}

// Gatherer returns the underlying gatherer, or nil for a nil registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return nil
	}
	return r.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

func (r *Registry) SetNamespaces(n int) {
	if r == nil {
		return
	}
	r.Namespaces.Set(float64(n))
}

func (r *Registry) SetSysctlTables(n int) {
	if r == nil {
		return
	}
	r.SysctlTables.Set(float64(n))
}

func (r *Registry) SetLiveAllocations(n int) {
	if r == nil {
		return
	}
	r.LiveAllocations.Set(float64(n))
}

// PublishFailed counts a failed publish; reason is "allocation" or "registration".
func (r *Registry) PublishFailed(reason string) {
	if r == nil {
		return
	}
	r.PublishFailures.WithLabelValues(reason).Inc()
}

// SysctlOp counts one control surface access.
func (r *Registry) SysctlOp(op, result string) {
	if r == nil {
		return
	}
	r.SysctlOps.WithLabelValues(op, result).Inc()
}

// NamespaceEvent counts create, destroy and create_failed events.
func (r *Registry) NamespaceEvent(event string) {
	if r == nil {
		return
	}
	r.NamespaceEvents.WithLabelValues(event).Inc()
}

func (r *Registry) SetBootInitSeconds(s float64) {
	if r == nil {
		return
	}
	r.BootInitDuration.Set(s)
}
