// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package metrics holds the prometheus collectors exported by feewalletd.
//
// All Observe methods are safe to call on a nil *Metrics, which lets
// components run without a registry in tests.
package metrics

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "feewallet"

// Metrics groups every collector feewalletd exports.
type Metrics struct {
	balance        *prometheus.GaugeVec
	chainHeight    prometheus.Gauge
	peers          prometheus.Gauge
	windowSize     prometheus.Gauge
	readFailures   *prometheus.CounterVec
	feeTransfers   *prometheus.CounterVec
	feeTransferred prometheus.Counter
	faucet         *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		balance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "balance_satoshis",
			Help:      "Spendable wallet balance observed at the last poll tick.",
		}, []string{"wallet"}),
		chainHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chain_height",
			Help:      "Best chain height observed at the last poll tick.",
		}),
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_peers",
			Help:      "Connected peer count observed at the last poll tick.",
		}),
		windowSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recent_transactions",
			Help:      "Incoming transactions inside the recency window.",
		}),
		readFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metric_read_failures_total",
			Help:      "Poll tick metric reads that failed, by metric.",
		}, []string{"metric"}),
		feeTransfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fee_transfers_total",
			Help:      "Fee transfer evaluations, by outcome.",
		}, []string{"outcome"}),
		feeTransferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fee_transferred_satoshis_total",
			Help:      "Total amount moved to the fee wallet.",
		}),
		faucet: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "faucet_requests_total",
			Help:      "Faucet deposit requests, by result.",
		}, []string{"result"}),
	}

	collectors := []prometheus.Collector{
		m.balance, m.chainHeight, m.peers, m.windowSize,
		m.readFailures, m.feeTransfers, m.feeTransferred, m.faucet,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// ObserveBalance records the balance of the named wallet.
func (m *Metrics) ObserveBalance(wallet string, amt btcutil.Amount) {
	if m == nil {
		return
	}
	m.balance.WithLabelValues(wallet).Set(float64(amt))
}

// ObserveChainHeight records the best chain height.
func (m *Metrics) ObserveChainHeight(height int32) {
	if m == nil {
		return
	}
	m.chainHeight.Set(float64(height))
}

// ObservePeers records the connected peer count.
func (m *Metrics) ObservePeers(peers int32) {
	if m == nil {
		return
	}
	m.peers.Set(float64(peers))
}

// ObserveWindowSize records the number of tracked recent transactions.
func (m *Metrics) ObserveWindowSize(n int) {
	if m == nil {
		return
	}
	m.windowSize.Set(float64(n))
}

// ObserveReadFailure counts a failed poll tick read of metric.
func (m *Metrics) ObserveReadFailure(metric string) {
	if m == nil {
		return
	}
	m.readFailures.WithLabelValues(metric).Inc()
}

// ObserveFeeTransfer counts a fee transfer evaluation and, when it moved
// funds, the amount transferred.
func (m *Metrics) ObserveFeeTransfer(outcome string, moved btcutil.Amount) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.feeTransfers.WithLabelValues(outcome).Inc()
	if moved > 0 {
		m.feeTransferred.Add(float64(moved))
	}
}

// ObserveFaucet counts a faucet request.
func (m *Metrics) ObserveFaucet(ok bool) {
	if m == nil {
		return
	}
	result := "failed"
	if ok {
		result = "ok"
	}
	m.faucet.WithLabelValues(result).Inc()
}
