// Package metrics provides the Prometheus collectors exported at /metrics.
// Collectors register on the registry passed to New, never on the global
// default registry, so tests and multiple servers in one process do not clash.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 镜像查询结果状态。
const (
	MirrorLocal       = "local"
	MirrorUpstreamHit = "upstream_hit"
	MirrorAbsent      = "absent"
)

// Metrics 聚合服务暴露的全部指标。方法允许 nil 接收者，便于测试中省略指标。
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	MirrorLookupsTotal *prometheus.CounterVec
	MirrorFetchErrors  prometheus.Counter

	PackageDownloadsTotal prometheus.Counter

	ImportBatchesTotal         prometheus.Counter
	ImportPackagesUpdatedTotal prometheus.Counter
}

// New 在 reg 上创建并注册全部指标。
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{}

	m.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nugethub_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	m.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nugethub_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	m.MirrorLookupsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nugethub_mirror_lookups_total",
			Help: "Mirror lookups by outcome (local, upstream_hit, absent)",
		},
		[]string{"state"},
	)

	m.MirrorFetchErrors = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "nugethub_mirror_fetch_errors_total",
			Help: "Upstream fetches that failed with a retryable error",
		},
	)

	m.PackageDownloadsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "nugethub_package_downloads_total",
			Help: "Package content downloads served",
		},
	)

	m.ImportBatchesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "nugethub_import_batches_total",
			Help: "Downloads importer batches committed",
		},
	)

	m.ImportPackagesUpdatedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "nugethub_import_packages_updated_total",
			Help: "Packages whose download count was overwritten by the importer",
		},
	)

	return m
}

// RecordHTTPRequest 记录一次 HTTP 请求。route 应为路由模板而非实际路径，避免标签爆炸。
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (m *Metrics) RecordMirrorLookup(state string) {
	if m == nil {
		return
	}
	m.MirrorLookupsTotal.WithLabelValues(state).Inc()
}

func (m *Metrics) RecordMirrorFetchError() {
	if m == nil {
		return
	}
	m.MirrorFetchErrors.Inc()
}

func (m *Metrics) RecordDownload() {
	if m == nil {
		return
	}
	m.PackageDownloadsTotal.Inc()
}

// RecordImportBatch 记录一个已提交的批次及其更新的包数量。
func (m *Metrics) RecordImportBatch(updated int) {
	if m == nil {
		return
	}
	m.ImportBatchesTotal.Inc()
	m.ImportPackagesUpdatedTotal.Add(float64(updated))
}
