package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "overture_lists_requests_total",
		Help: "Total HTTP requests by route and status class",
	}, []string{"route", "code"})
	RequestDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "overture_lists_request_duration_ms",
		Help:    "HTTP request duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 5000},
	}, []string{"route"})
	SourceQueriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "overture_lists_source_queries_total",
		Help: "Boundary dataset queries by operation and outcome",
	}, []string{"op", "outcome"})
	SourceDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "overture_lists_source_duration_ms",
		Help:    "Boundary dataset query duration in milliseconds",
		Buckets: []float64{10, 50, 100, 500, 1000, 5000, 15000, 60000},
	}, []string{"op"})
	QueryCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "overture_lists_query_cache_hits_total",
		Help: "Total query result cache hits",
	})
	QueryCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "overture_lists_query_cache_misses_total",
		Help: "Total query result cache misses",
	})
	GeometryFetchTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "overture_lists_geometry_fetch_total",
		Help: "Total geometry backfills fetched from the boundary dataset",
	})
	StoreOpsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "overture_lists_store_ops_total",
		Help: "Service mutations by operation and outcome kind",
	}, []string{"op", "outcome"})
	LocateTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "overture_lists_locate_total",
		Help: "Point lookups over cached geometry by outcome",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDurationMs)
	prometheus.MustRegister(SourceQueriesTotal)
	prometheus.MustRegister(SourceDurationMs)
	prometheus.MustRegister(QueryCacheHitsTotal)
	prometheus.MustRegister(QueryCacheMissesTotal)
	prometheus.MustRegister(GeometryFetchTotal)
	prometheus.MustRegister(StoreOpsTotal)
	prometheus.MustRegister(LocateTotal)
}

// 文档注释：返回 Prometheus 指标监听器
// 背景：统一暴露注册指标到 /metrics 路径，供 Prometheus 抓取；在主入口挂载。
func Handler() http.Handler { return promhttp.Handler() }
