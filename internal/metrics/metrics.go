// Package metrics wraps the small set of prometheus collectors the round
// engine and receive dispatcher report through, grounded on the
// prometheus/client_golang usage threaded across the teacher's wider pack
// (orbas1-Synnergy, luxfi-genesis, zcash-lightwalletd all import it as an
// ambient observability concern, independent of their domain logic).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every counter this node reports. It is safe for
// concurrent use by the round engine and the receive dispatcher.
type Registry struct {
	reg *prometheus.Registry

	rounds           prometheus.Counter
	blocksSealed     prometheus.Counter
	electionTimeouts prometheus.Counter
	blocksAppended   prometheus.Counter
	blocksRejected   *prometheus.CounterVec
}

// New constructs a Registry with its own prometheus.Registry, so that
// multiple simulated nodes in one test process never collide on the
// default global registry.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshchain_rounds_total",
			Help: "Number of round-engine iterations started.",
		}),
		blocksSealed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshchain_blocks_sealed_total",
			Help: "Number of blocks sealed and broadcast as leader.",
		}),
		electionTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshchain_election_timeouts_total",
			Help: "Number of times the follower path timed out waiting for an election message.",
		}),
		blocksAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshchain_blocks_appended_total",
			Help: "Number of blocks accepted and appended or inserted into the ledger.",
		}),
		blocksRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshchain_blocks_rejected_total",
			Help: "Number of blocks rejected by the receive dispatcher, by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(r.rounds, r.blocksSealed, r.electionTimeouts, r.blocksAppended, r.blocksRejected)
	return r
}

// IncRound records one round-engine iteration.
func (r *Registry) IncRound() { r.rounds.Inc() }

// IncBlockSealed records one block sealed as leader.
func (r *Registry) IncBlockSealed() { r.blocksSealed.Inc() }

// IncElectionTimeout records one follower-path election wait timeout.
func (r *Registry) IncElectionTimeout() { r.electionTimeouts.Inc() }

// IncBlockAppended records one block accepted into the ledger.
func (r *Registry) IncBlockAppended() { r.blocksAppended.Inc() }

// IncBlockRejected records one rejected block, tagged by reason
// ("structural", "integrity", "stale").
func (r *Registry) IncBlockRejected(reason string) { r.blocksRejected.WithLabelValues(reason).Inc() }

// Handler exposes the registry over HTTP for Prometheus scraping.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
