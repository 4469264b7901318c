package core

import (
	"time"

	"github.com/sirupsen/logrus"

	"meshchain/internal/metrics"
)

// Dispatcher is the single receive-path handler registered with Transport's
// OnRecv (spec §4.4). It owns no round-timing state: the round engine drives
// when things happen, the dispatcher only reacts to what arrives. Grounded
// on the original firmware's espnow_recv_cb command switch
// (mesh_networking.c), generalized from its single C function into one
// method per command.
type Dispatcher struct {
	logger    *logrus.Logger
	metrics   *metrics.Registry
	ledger    *Ledger
	transport Transport
	sensor    SensorSource

	sensorQueue   *SensorResponseQueue
	electionQueue *ElectionQueue
	leader        *LeaderCell
}

// NewDispatcher wires the dispatcher's collaborators. logger and metrics may
// be nil, in which case sane defaults are created.
func NewDispatcher(
	ledger *Ledger,
	transport Transport,
	sensor SensorSource,
	sensorQueue *SensorResponseQueue,
	electionQueue *ElectionQueue,
	leader *LeaderCell,
	logger *logrus.Logger,
	reg *metrics.Registry,
) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	if reg == nil {
		reg = metrics.New()
	}
	return &Dispatcher{
		logger:        logger,
		metrics:       reg,
		ledger:        ledger,
		transport:     transport,
		sensor:        sensor,
		sensorQueue:   sensorQueue,
		electionQueue: electionQueue,
		leader:        leader,
	}
}

// HandleDatagram is the Transport.OnRecv callback. It never blocks: every
// handler either returns immediately or hands off to a bounded, non-blocking
// queue (spec §4.4, §4.5).
func (d *Dispatcher) HandleDatagram(src MAC, data []byte) {
	if len(data) == 0 {
		return
	}
	cmd := Command(data[0])
	payload := data[1:]

	switch cmd {
	case CmdAck:
		d.handleAck(src)
	case CmdPulse:
		d.handlePulse(src)
	case CmdChainReq:
		d.handleChainReq(src)
	case CmdChainResp:
		d.handleChainResp(src)
	case CmdElection:
		d.handleElection(src, payload)
	case CmdNewBlock:
		d.handleNewBlock(src, payload)
	case CmdSensorData:
		d.handleSensorData(src, payload)
	case CmdResetBlockchain:
		d.handleResetBlockchain(src)
	case CmdRequestSpecificBlock:
		d.handleRequestSpecificBlock(src, payload)
	case CmdHistoricalBlock:
		d.handleHistoricalBlock(src, payload)
	default:
		d.logger.WithFields(logrus.Fields{"peer": src, "cmd": cmd}).Debug("dispatch: unknown command")
	}
}

func (d *Dispatcher) handleAck(src MAC) {
	d.logger.WithField("peer", src).Debug("dispatch: ACK")
}

// handlePulse answers a PULSE by broadcasting a SENSOR_DATA reply, not by
// unicasting back to src — the original firmware's espnow_send_wrapper call
// targets broadcast_mac, not the pulsing peer, so every neighbor observes
// the reading (mesh_networking.c).
func (d *Dispatcher) handlePulse(src MAC) {
	temp, err := d.sensor.ReadTemperature()
	if err != nil {
		d.logger.WithError(err).Warn("dispatch: local temperature read failed")
	}
	hum, err := d.sensor.ReadHumidity()
	if err != nil {
		d.logger.WithError(err).Warn("dispatch: local humidity read failed")
	}
	ts := uint32(time.Now().Unix())
	if err := d.transport.Send(BroadcastMAC, EncodeSensorData(temp, hum, ts)); err != nil {
		d.logger.WithError(err).Warn("dispatch: SENSOR_DATA broadcast failed")
	}
}

// handleChainReq replies with a CHAIN_RESP stub only when this node
// currently believes itself to be the leader (spec §9: CHAIN_REQ/CHAIN_RESP
// kept as a stub, gated on local leadership belief since no peer other than
// the leader holds an authoritative chain view).
func (d *Dispatcher) handleChainReq(src MAC) {
	if d.leader.Get() != d.transport.OwnMAC() {
		return
	}
	if err := d.transport.Send(src, EncodeSimple(CmdChainResp)); err != nil {
		d.logger.WithError(err).WithField("peer", src).Warn("dispatch: CHAIN_RESP send failed")
	}
}

func (d *Dispatcher) handleChainResp(src MAC) {
	d.logger.WithField("peer", src).Debug("dispatch: CHAIN_RESP")
}

// handleElection only ever pushes onto the election queue; it never writes
// LeaderCell directly (that belongs to the round engine alone, per
// core/leader.go).
func (d *Dispatcher) handleElection(src MAC, payload []byte) {
	leader, err := DecodeElection(payload)
	if err != nil {
		d.logger.WithError(err).WithField("peer", src).Debug("dispatch: malformed ELECTION")
		return
	}
	if d.electionQueue.Push(ElectionMessage{From: src, Leader: leader}) {
		d.logger.WithField("peer", src).Warn("dispatch: election queue full, dropped")
	}
}

// handleNewBlock implements the three-way height comparison resolved in
// SPEC_FULL.md §9: equal to last+1 appends; greater appends anyway and
// requests the gap's base block; lower or equal to the current height is
// stale and rejected.
func (d *Dispatcher) handleNewBlock(src MAC, payload []byte) {
	blk, err := ParseFromWire(payload)
	if err != nil {
		d.logger.WithError(err).WithField("peer", src).Error("dispatch: malformed NEW_BLOCK")
		d.metrics.IncBlockRejected("structural")
		return
	}
	if !VerifyHash(blk) {
		d.logger.WithField("peer", src).Warn("dispatch: NEW_BLOCK hash mismatch")
		d.metrics.IncBlockRejected("integrity")
		return
	}

	last, ok := d.ledger.GetLast()
	switch {
	case !ok, blk.BlockNum == last.BlockNum+1:
		// Sequential: with a tail present, Append's renumbering (last+1)
		// agrees with blk.BlockNum here. On an empty ledger Append anchors
		// the block at height 0 whatever its wire height.
		d.ledger.Append(*blk)
		d.metrics.IncBlockAppended()
		d.logger.WithField("height", blk.BlockNum).Info("dispatch: appended NEW_BLOCK")
	case blk.BlockNum > last.BlockNum+1:
		// Insert preserves the wire height verbatim instead of Append's
		// sequential renumbering, leaving the gap in place until the
		// requested backfill (HISTORICAL_BLOCK) lands via Insert too.
		d.ledger.Insert(*blk)
		d.metrics.IncBlockAppended()
		d.logger.WithFields(logrus.Fields{"height": blk.BlockNum, "want": last.BlockNum + 1}).
			Warn("dispatch: NEW_BLOCK leaves a gap, appending and requesting backfill")
		if err := d.transport.Send(BroadcastMAC, EncodeRequestSpecificBlock(last.BlockNum+1)); err != nil {
			d.logger.WithError(err).Warn("dispatch: REQUEST_SPECIFIC_BLOCK broadcast failed")
		}
	default:
		d.logger.WithFields(logrus.Fields{"height": blk.BlockNum, "last": last.BlockNum}).
			Debug("dispatch: rejecting stale NEW_BLOCK")
		d.metrics.IncBlockRejected("stale")
	}
}

func (d *Dispatcher) handleSensorData(src MAC, payload []byte) {
	temp, hum, ts, err := DecodeSensorData(payload)
	if err != nil {
		d.logger.WithError(err).WithField("peer", src).Debug("dispatch: malformed SENSOR_DATA")
		return
	}
	rec := SensorRecord{MAC: src, Timestamp: ts, Temperature: temp, Humidity: hum}
	if d.sensorQueue.Push(SensorResponse{MAC: src, Record: rec}) {
		d.logger.WithField("peer", src).Warn("dispatch: sensor response queue full, dropped")
	}
}

func (d *Dispatcher) handleResetBlockchain(src MAC) {
	d.logger.WithField("peer", src).Info("dispatch: RESET_BLOCKCHAIN")
	d.ledger.Deinit()
}

// handleRequestSpecificBlock answers only when this node is root-eligible
// and actually holds the requested height locally, broadcasting it as
// HISTORICAL_BLOCK (spec §4.4, §4.3 F3).
func (d *Dispatcher) handleRequestSpecificBlock(src MAC, payload []byte) {
	height, err := DecodeRequestSpecificBlock(payload)
	if err != nil {
		d.logger.WithError(err).WithField("peer", src).Debug("dispatch: malformed REQUEST_SPECIFIC_BLOCK")
		return
	}
	if d.transport.OwnLevel() > RootEligibleLevel {
		return
	}
	blk, ok := d.ledger.GetByNumber(height)
	if !ok {
		return
	}
	if err := d.transport.Send(BroadcastMAC, EncodeHistoricalBlock(&blk)); err != nil {
		d.logger.WithError(err).WithField("height", height).Warn("dispatch: HISTORICAL_BLOCK broadcast failed")
	}
}

// handleHistoricalBlock backfills a gap via sorted Insert, rejecting
// duplicates and integrity failures the same way handleNewBlock does.
func (d *Dispatcher) handleHistoricalBlock(src MAC, payload []byte) {
	blk, err := ParseFromWire(payload)
	if err != nil {
		d.logger.WithError(err).WithField("peer", src).Error("dispatch: malformed HISTORICAL_BLOCK")
		d.metrics.IncBlockRejected("structural")
		return
	}
	if !VerifyHash(blk) {
		d.logger.WithField("peer", src).Warn("dispatch: HISTORICAL_BLOCK hash mismatch")
		d.metrics.IncBlockRejected("integrity")
		return
	}
	if d.ledger.Insert(*blk) {
		d.metrics.IncBlockAppended()
		d.logger.WithField("height", blk.BlockNum).Info("dispatch: backfilled HISTORICAL_BLOCK")
	} else {
		d.metrics.IncBlockRejected("stale")
	}
}
