// Package metrics exposes Prometheus counters/gauges for the engine,
// grounded on cuemby-warren's pkg/metrics: package-level collectors
// registered in init(), an http.Handler for scraping. Observability
// only — nothing here affects commit/abort semantics, and §1's
// Non-goals don't exclude metrics (only durable storage, network
// transport, distributed clocks, membership, schema evolution, range
// scans, and secondary indices are out of scope).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CommitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "availkv_commits_total",
		Help: "Total number of transactions that committed.",
	})

	AbortsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "availkv_aborts_total",
		Help: "Total number of transactions aborted, by reason.",
	}, []string{"reason"})

	WaitingReads = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "availkv_waiting_reads",
		Help: "Current depth of the waiting-read queue.",
	})

	SiteUp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "availkv_site_up",
		Help: "Whether a site is currently up (1) or down (0).",
	}, []string{"site"})

	ReadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "availkv_reads_total",
		Help: "Total number of reads, by outcome.",
	}, []string{"outcome"}) // hit, buffered, cached, waited

	WritesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "availkv_writes_total",
		Help: "Total number of writes buffered.",
	})
)

func init() {
	prometheus.MustRegister(CommitsTotal)
	prometheus.MustRegister(AbortsTotal)
	prometheus.MustRegister(WaitingReads)
	prometheus.MustRegister(SiteUp)
	prometheus.MustRegister(ReadsTotal)
	prometheus.MustRegister(WritesTotal)
}

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
