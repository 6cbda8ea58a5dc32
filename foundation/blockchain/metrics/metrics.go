// Package metrics provides the prometheus collectors of the node. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chainnode"

// Metrics holds the collectors updated by the coordinator.
type Metrics struct {
	height      prometheus.Gauge
	work        prometheus.Gauge
	peers       prometheus.Gauge
	syncing     prometheus.Gauge
	blocks      *prometheus.CounterVec
	reorgs      prometheus.Counter
	penalties   *prometheus.CounterVec
	bans        prometheus.Counter
	syncEpisode prometheus.Counter
}

// New constructs the collectors and registers them.
func New(reg prometheus.Registerer) *Metrics {
	m := Metrics{
		height: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tip_height",
			Help:      "Height of the canonical tip.",
		}),
		work: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tip_accumulated_work",
			Help:      "Accumulated work of the canonical tip.",
		}),
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers",
			Help:      "Number of connected peers.",
		}),
		syncing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "syncing",
			Help:      "1 while a synchronization episode is running.",
		}),
		blocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_total",
			Help:      "Blocks processed by outcome.",
		}, []string{"outcome"}),
		reorgs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reorgs_total",
			Help:      "Number of chain reorganizations.",
		}),
		penalties: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peer_penalties_total",
			Help:      "Penalties given to peers by reason.",
		}, []string{"reason"}),
		bans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peer_bans_total",
			Help:      "Number of banned peers.",
		}),
		syncEpisode: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_episodes_total",
			Help:      "Number of synchronization episodes started.",
		}),
	}

	reg.MustRegister(m.height, m.work, m.peers, m.syncing, m.blocks, m.reorgs, m.penalties, m.bans, m.syncEpisode)

	return &m
}

// SetTip records the canonical tip.
func (m *Metrics) SetTip(height uint64, work uint64) {
	if m == nil {
		return
	}
	m.height.Set(float64(height))
	m.work.Set(float64(work))
}

// SetPeers records the number of connected peers.
func (m *Metrics) SetPeers(n int) {
	if m == nil {
		return
	}
	m.peers.Set(float64(n))
}

// SetSyncing records the syncing flag.
func (m *Metrics) SetSyncing(syncing bool) {
	if m == nil {
		return
	}

	v := 0.0
	if syncing {
		v = 1
		m.syncEpisode.Inc()
	}
	m.syncing.Set(v)
}

// Block counts a processed block. The outcome is one of stored, known,
// rejected or orphan.
func (m *Metrics) Block(outcome string) {
	if m == nil {
		return
	}
	m.blocks.WithLabelValues(outcome).Inc()
}

// Reorg counts a reorganization.
func (m *Metrics) Reorg() {
	if m == nil {
		return
	}
	m.reorgs.Inc()
}

// Penalty counts a penalty and a ban if the peer got banned.
func (m *Metrics) Penalty(reason string, banned bool) {
	if m == nil {
		return
	}
	m.penalties.WithLabelValues(reason).Inc()
	if banned {
		m.bans.Inc()
	}
}
