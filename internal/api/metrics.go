// ABOUTME: Prometheus collector exposing the number of jobs per lifecycle status.
// ABOUTME: Queried live on each /metrics scrape with a short timeout.
package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/statisticsnorway/rawdata-converter-boss/internal/store"
)

var jobStatusDesc = prometheus.NewDesc(
	"converter_boss_jobs",
	"Number of jobs per lifecycle status.",
	[]string{"status"},
	nil,
)

// jobStatusCollector reads job counts from the store at scrape time.
type jobStatusCollector struct {
	store *store.Store
}

func newJobStatusCollector(s *store.Store) *jobStatusCollector {
	return &jobStatusCollector{store: s}
}

func (c *jobStatusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- jobStatusDesc
}

// Collect queries the per-status counts. A scrape must not hang on a slow
// database, so the query gets its own short deadline; on error the metric is
// simply absent from this scrape.
func (c *jobStatusCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	counts, err := c.store.CountByStatus(ctx)
	if err != nil {
		slog.Warn("metrics: count jobs by status failed", "error", err)
		return
	}
	for status, n := range counts {
		ch <- prometheus.MustNewConstMetric(
			jobStatusDesc, prometheus.GaugeValue, float64(n), string(status))
	}
}
