// Package metrics collects Prometheus metrics for the ledger, the store
// writers and the advice collaborator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the repository and the service report to.
type Recorder interface {
	RecordActionApplied(actionType string)
	RecordPurchase(result string)
	RecordStoreWrite(collection, result string)
	RecordAdviceFallback(operation string)
}

// Purchase and store write results.
const (
	ResultOK                 = "ok"
	ResultRetried            = "retried"
	ResultDropped            = "dropped"
	ResultInsufficientPoints = "insufficient_points"
	ResultOutOfStock         = "out_of_stock"
)

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	actionsApplied  *prometheus.CounterVec
	purchases       *prometheus.CounterVec
	storeWrites     *prometheus.CounterVec
	adviceFallbacks *prometheus.CounterVec
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		actionsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "points_actions_applied_total",
			Help: "Point rules applied to users, by rule type.",
		}, []string{"type"}),
		purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "points_purchases_total",
			Help: "Shop purchases, by outcome.",
		}, []string{"result"}),
		storeWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "points_store_writes_total",
			Help: "Collection snapshot writes, by collection and outcome.",
		}, []string{"collection", "result"}),
		adviceFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "points_advice_fallbacks_total",
			Help: "Advice or suggestion calls that fell back, by operation.",
		}, []string{"operation"}),
	}

	reg.MustRegister(
		c.actionsApplied,
		c.purchases,
		c.storeWrites,
		c.adviceFallbacks,
	)
	return c
}

func (c *Collector) RecordActionApplied(actionType string) {
	c.actionsApplied.WithLabelValues(actionType).Inc()
}

func (c *Collector) RecordPurchase(result string) {
	c.purchases.WithLabelValues(result).Inc()
}

func (c *Collector) RecordStoreWrite(collection, result string) {
	c.storeWrites.WithLabelValues(collection, result).Inc()
}

func (c *Collector) RecordAdviceFallback(operation string) {
	c.adviceFallbacks.WithLabelValues(operation).Inc()
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordActionApplied(string)      {}
func (Nop) RecordPurchase(string)           {}
func (Nop) RecordStoreWrite(string, string) {}
func (Nop) RecordAdviceFallback(string)     {}
