package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector 帳本的 Prometheus 指標，使用獨立的 registry
type Collector struct {
	registry        *prometheus.Registry
	movements       *prometheus.CounterVec
	movementLatency *prometheus.HistogramVec
	accountBalance  *prometheus.GaugeVec

	// mu 保護 lastMovement：每個帳戶最後寫入 gauge 的異動流水號
	mu           sync.Mutex
	lastMovement map[int64]int64
}

func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Collector{
		registry:     registry,
		lastMovement: make(map[int64]int64),
		movements: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "movements_total",
			Help:      "Movements handled, by kind and outcome",
		}, []string{"kind", "outcome"}),
		movementLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ledger",
			Name:      "movement_duration_seconds",
			Help:      "Time taken to validate and apply a movement",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"outcome"}),
		accountBalance: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ledger",
			Name:      "account_balance",
			Help:      "Balance after the last applied movement",
		}, []string{"account_id"}),
	}
}

// ObserveMovement 記錄一筆異動的結果與耗時
func (c *Collector) ObserveMovement(kind string, outcome string, seconds float64) {
	c.movements.WithLabelValues(kind, outcome).Inc()
	c.movementLatency.WithLabelValues(outcome).Observe(seconds)
}

// SetBalance 更新帳戶餘額 gauge；比已記錄的異動還舊的結果直接丟掉
func (c *Collector) SetBalance(accountID int64, movementID int64, balance int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if movementID < c.lastMovement[accountID] {
		return
	}
	c.lastMovement[accountID] = movementID
	c.accountBalance.WithLabelValues(strconv.FormatInt(accountID, 10)).Set(float64(balance))
}

// Registry 給測試或其他 exporter 使用
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
