// Package metrics exposes the prometheus gauges and counters the node
// and keeper update from their tick loops. Grounded on the original
// source's keeper/src/metrics.rs gauge/counter facade, realized with
// github.com/prometheus/client_golang the way the example pack's
// consensus packages register metrics against a prometheus.Registerer.
package metrics

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every metric both binaries update. A nil *Registry is
// not valid; construct one with New and pass it by reference into the
// supervisor and keeper loops.
type Registry struct {
	L2BlockHeight prometheus.Gauge
	L2BalanceWei  prometheus.Gauge
	L1BalanceWei  prometheus.Gauge

	VerifiedHTXTotal          prometheus.Counter
	RewardDistributionsTotal  prometheus.Counter
	JailingEnforcementsTotal  prometheus.Counter
	EscalationsTotal          prometheus.Counter
}

// New builds a Registry and registers every metric against registerer.
func New(registerer prometheus.Registerer) (*Registry, error) {
	r := &Registry{
		L2BlockHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "certen_validator_l2_block_height",
			Help: "Latest L2 block height observed",
		}),
		L2BalanceWei: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "certen_validator_l2_balance_wei",
			Help: "Signer's L2 ETH balance in wei",
		}),
		L1BalanceWei: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "certen_validator_l1_balance_wei",
			Help: "Signer's L1 ETH balance in wei",
		}),
		VerifiedHTXTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "certen_validator_verified_htx_total",
			Help: "Total number of HTX assignments verified since boot",
		}),
		RewardDistributionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "certen_validator_reward_distributions_total",
			Help: "Total number of rounds the keeper distributed rewards for",
		}),
		JailingEnforcementsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "certen_validator_jailing_enforcements_total",
			Help: "Total number of rounds the keeper enforced jailing for",
		}),
		EscalationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "certen_validator_escalations_total",
			Help: "Total number of heartbeats the keeper escalated past deadline",
		}),
	}

	for _, c := range []prometheus.Collector{
		r.L2BlockHeight, r.L2BalanceWei, r.L1BalanceWei,
		r.VerifiedHTXTotal, r.RewardDistributionsTotal,
		r.JailingEnforcementsTotal, r.EscalationsTotal,
	} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// SetL2Balance records a *big.Int wei balance into the L2 balance gauge,
// converting through float64 the way prometheus gauges require.
func (r *Registry) SetL2Balance(wei *big.Int) {
	r.L2BalanceWei.Set(weiToFloat(wei))
}

// SetL1Balance records a *big.Int wei balance into the L1 balance gauge.
func (r *Registry) SetL1Balance(wei *big.Int) {
	r.L1BalanceWei.Set(weiToFloat(wei))
}

func weiToFloat(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f := new(big.Float).SetInt(wei)
	v, _ := f.Float64()
	return v
}
