package core

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"meshchain/internal/metrics"
)

// Timings collects the six durations driving the round engine (spec
// §4.3): T_round, T_pulse_timeout, T_election_wait, T_discovery_wait, plus
// the fixed post-broadcast propagation sleep and the empty-mesh retry
// interval of the bootstrap window. They are overridable so
// tests can run full rounds without waiting real wall-clock minutes.
type Timings struct {
	Round                time.Duration
	PulseTimeout         time.Duration
	ElectionWait         time.Duration
	DiscoveryWait        time.Duration
	BroadcastPropagation time.Duration
	EmptyMeshRetry       time.Duration
}

// DefaultTimings returns the constants named in spec §4.3.
func DefaultTimings() Timings {
	return Timings{
		Round:                15 * time.Second,
		PulseTimeout:         5 * time.Second,
		ElectionWait:         70 * time.Second,
		DiscoveryWait:        5 * time.Second,
		BroadcastPropagation: 500 * time.Millisecond,
		EmptyMeshRetry:       5 * time.Second,
	}
}

// Engine is the single long-running round-engine task (spec §4.3, §5): one
// per node, collecting, sealing and broadcasting a block as leader, or
// waiting on the election queue as a follower. Grounded on the teacher's
// SynnergyConsensus ticker-driven loops (core/consensus.go) generalized
// from a fixed-interval proposer into the leader/follower role branch
// spec.md §4.3 describes.
type Engine struct {
	logger    *logrus.Logger
	metrics   *metrics.Registry
	ledger    *Ledger
	transport Transport
	sensor    SensorSource

	sensorQueue   *SensorResponseQueue
	electionQueue *ElectionQueue
	leader        *LeaderCell

	timings Timings
	rng     *rand.Rand
}

// NewEngine wires the round engine's collaborators. logger and metrics may
// be nil, in which case sane defaults are created.
func NewEngine(
	ledger *Ledger,
	transport Transport,
	sensor SensorSource,
	sensorQueue *SensorResponseQueue,
	electionQueue *ElectionQueue,
	leader *LeaderCell,
	timings Timings,
	logger *logrus.Logger,
	reg *metrics.Registry,
) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	if reg == nil {
		reg = metrics.New()
	}
	return &Engine{
		logger:        logger,
		metrics:       reg,
		ledger:        ledger,
		transport:     transport,
		sensor:        sensor,
		sensorQueue:   sensorQueue,
		electionQueue: electionQueue,
		leader:        leader,
		timings:       timings,
		rng:           rand.New(rand.NewSource(seedFor(transport.OwnMAC()))),
	}
}

func seedFor(m MAC) int64 {
	s := int64(binary.LittleEndian.Uint32(m[:4])) << 32
	return s ^ time.Now().UnixNano()
}

// Run drives the round engine until ctx is cancelled. It never holds the
// ledger mutex across network I/O (spec §4.3 Ordering, §5).
func (e *Engine) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		e.metrics.IncRound()

		peers := e.transport.Peers()
		own := e.transport.OwnMAC()

		if len(peers) == 0 {
			e.logger.Debug("round: empty mesh, retrying bootstrap window")
			if !sleepCtx(ctx, e.timings.EmptyMeshRetry) {
				return
			}
			continue
		}
		if len(peers) == 1 && peers[0].MAC == own {
			e.leader.Set(own)
		}

		if e.leader.Get() == own {
			if !e.runLeaderRound(ctx, own) {
				return
			}
		} else {
			if !e.runFollowerRound(ctx, own) {
				return
			}
		}
	}
}

// runLeaderRound implements §4.3.L. It returns false only when ctx was
// cancelled mid-round.
func (e *Engine) runLeaderRound(ctx context.Context, own MAC) bool {
	roundStart := time.Now()

	blk := Block{Timestamp: uint32(roundStart.Unix())}
	if last, ok := e.ledger.GetLast(); ok {
		blk.BlockNum = last.BlockNum + 1
		blk.PrevHash = last.Hash
	}

	temp, err := e.sensor.ReadTemperature()
	if err != nil {
		e.logger.WithError(err).Warn("round: local temperature read failed")
	}
	hum, err := e.sensor.ReadHumidity()
	if err != nil {
		e.logger.WithError(err).Warn("round: local humidity read failed")
	}
	blk.Sensors = append(blk.Sensors, SensorRecord{
		MAC:         own,
		Timestamp:   blk.Timestamp,
		Temperature: temp,
		Humidity:    hum,
	})

	for _, p := range e.transport.Peers() {
		if p.MAC == own {
			continue
		}
		if err := e.transport.Send(p.MAC, EncodeSimple(CmdPulse)); err != nil {
			e.logger.WithError(err).WithField("peer", p.MAC).Warn("round: pulse send failed")
			continue
		}
		rec, ok := e.sensorQueue.WaitFor(ctx, p.MAC, e.timings.PulseTimeout)
		if ctx.Err() != nil {
			return false
		}
		if ok {
			blk.Sensors = append(blk.Sensors, rec)
		}
	}

	blk.NumSensorReadings = uint32(len(blk.Sensors))
	nonce := e.rng.Uint32()
	blk.SetPopProof(fmt.Sprintf("Leader:%s;Time:%d;Nonce:%d", own, blk.Timestamp, nonce))
	ComputeHash(&blk)

	e.ledger.Append(blk)
	e.metrics.IncBlockSealed()
	e.logger.WithField("height", blk.BlockNum).Info("round: sealed block")

	if err := e.transport.Send(BroadcastMAC, EncodeNewBlock(&blk)); err != nil {
		e.logger.WithError(err).Error("round: NEW_BLOCK broadcast failed")
	}

	if !sleepCtx(ctx, e.timings.BroadcastPropagation) {
		return false
	}

	successor := e.pickRandomPeerOrSelf(e.transport.Peers(), own)
	if err := e.transport.Send(BroadcastMAC, EncodeElection(successor)); err != nil {
		e.logger.WithError(err).Error("round: ELECTION broadcast failed")
	}
	e.leader.Set(successor)

	return e.sleepToRoundBoundary(ctx, roundStart)
}

// runFollowerRound implements §4.3.F. It returns false only when ctx was
// cancelled mid-round.
func (e *Engine) runFollowerRound(ctx context.Context, own MAC) bool {
	msg, ok := e.electionQueue.Wait(ctx, e.timings.ElectionWait)
	if ctx.Err() != nil {
		return false
	}
	if ok {
		e.leader.Set(msg.Leader)
		return true
	}

	e.metrics.IncElectionTimeout()
	if e.leader.Get().IsZero() {
		e.leader.Set(own)
	}
	if err := e.transport.Send(BroadcastMAC, EncodeElection(e.leader.Get())); err != nil {
		e.logger.WithError(err).Warn("round: discovery ELECTION broadcast failed")
	}

	if !sleepCtx(ctx, e.timings.DiscoveryWait) {
		return false
	}
	msg2, ok2 := e.electionQueue.Wait(ctx, e.timings.DiscoveryWait)
	if ctx.Err() != nil {
		return false
	}
	if ok2 {
		e.leader.Set(msg2.Leader)
		return true
	}

	if e.transport.OwnLevel() <= RootEligibleLevel {
		successor := e.pickRandomPeerOrSelf(e.transport.Peers(), own)
		if err := e.transport.Send(BroadcastMAC, EncodeElection(successor)); err != nil {
			e.logger.WithError(err).Warn("round: root-retry ELECTION broadcast failed")
		}
		e.leader.Set(successor)
	}
	return true
}

// pickRandomPeerOrSelf draws uniformly from the peer list plus self (spec
// §4.3 L9 — "including possibly self").
func (e *Engine) pickRandomPeerOrSelf(peers []PeerInfo, own MAC) MAC {
	seen := make(map[MAC]bool, len(peers)+1)
	candidates := make([]MAC, 0, len(peers)+1)
	for _, p := range peers {
		if !seen[p.MAC] {
			seen[p.MAC] = true
			candidates = append(candidates, p.MAC)
		}
	}
	if !seen[own] {
		candidates = append(candidates, own)
	}
	if len(candidates) == 0 {
		return own
	}
	return candidates[e.rng.Intn(len(candidates))]
}

func (e *Engine) sleepToRoundBoundary(ctx context.Context, start time.Time) bool {
	remaining := e.timings.Round - time.Since(start)
	if remaining <= 0 {
		return ctx.Err() == nil
	}
	return sleepCtx(ctx, remaining)
}

// sleepCtx sleeps for d or returns early (false) if ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
