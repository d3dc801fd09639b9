package server

import (
	"math/big"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"lendbook/internal/book"
	"lendbook/internal/wad"
)

// Metrics carries the server's own registry so tests can run handlers side
// by side without duplicate-registration panics.
type Metrics struct {
	Registry   *prometheus.Registry
	Operations *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lendbook_operations_total",
		Help: "Ledger operations by name and outcome.",
	}, []string{"op", "result"})
	reg.MustRegister(ops)
	return &Metrics{Registry: reg, Operations: ops}
}

// RegisterPoolStats exposes per-pool balances, read fresh at scrape time.
func (m *Metrics) RegisterPoolStats(pools func() []book.PoolView) {
	m.Registry.MustRegister(&poolCollector{
		pools: pools,
		deposits: prometheus.NewDesc("lendbook_pool_deposits",
			"Pool deposits in whole tokens.", []string{"pool", "side"}, nil),
		borrows: prometheus.NewDesc("lendbook_pool_borrows",
			"Pool borrows in whole tokens.", []string{"pool", "side"}, nil),
	})
}

type poolCollector struct {
	pools    func() []book.PoolView
	deposits *prometheus.Desc
	borrows  *prometheus.Desc
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.deposits
	ch <- c.borrows
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	for _, p := range c.pools() {
		id := strconv.FormatInt(p.ID, 10)
		ch <- prometheus.MustNewConstMetric(c.deposits, prometheus.GaugeValue,
			wadToFloat(p.Deposits), id, p.Side)
		ch <- prometheus.MustNewConstMetric(c.borrows, prometheus.GaugeValue,
			wadToFloat(p.Borrows), id, p.Side)
	}
}

// wadToFloat is for gauges only; the precision loss is fine for dashboards.
func wadToFloat(s string) float64 {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v), new(big.Float).SetInt(wad.One)).Float64()
	return f
}
