package core

import (
	"context"
	"testing"
	"time"

	"meshchain/internal/metrics"
)

func newTestDispatcher(ledger *Ledger, transport Transport, leader *LeaderCell) (*Dispatcher, *ElectionQueue, *SensorResponseQueue) {
	sensorQueue := NewSensorResponseQueue()
	electionQueue := NewElectionQueue()
	if leader == nil {
		leader = &LeaderCell{}
	}
	d := NewDispatcher(ledger, transport, &fakeSensor{temp: 20, hum: 40}, sensorQueue, electionQueue, leader, nil, metrics.New())
	return d, electionQueue, sensorQueue
}

func TestHandleElectionPushesQueueOnly(t *testing.T) {
	self := MAC{1}
	mesh := newFakeMesh(self)
	leader := &LeaderCell{}
	d, electionQueue, _ := newTestDispatcher(NewLedger(nil), mesh[self], leader)

	src := MAC{2}
	announced := MAC{3}
	d.HandleDatagram(src, EncodeElection(announced))

	if !leader.Get().IsZero() {
		t.Fatal("handleElection wrote LeaderCell directly, want queue-only")
	}
	msg, ok := electionQueue.Wait(context.Background(), 50*time.Millisecond)
	if !ok {
		t.Fatal("electionQueue.Wait() ok = false, want the pushed message")
	}
	if msg.From != src || msg.Leader != announced {
		t.Fatalf("election queue entry = %+v, want From=%v Leader=%v", msg, src, announced)
	}
}

func TestHandleElectionDropsMalformedPayload(t *testing.T) {
	self := MAC{1}
	mesh := newFakeMesh(self)
	d, electionQueue, _ := newTestDispatcher(NewLedger(nil), mesh[self], nil)

	d.HandleDatagram(MAC{2}, append([]byte{byte(CmdElection)}, 0x01, 0x02))

	if _, ok := electionQueue.Wait(context.Background(), 20*time.Millisecond); ok {
		t.Fatal("malformed ELECTION payload was pushed onto the queue")
	}
}

func TestHandleChainReqRepliesOnlyWhenLeader(t *testing.T) {
	self := MAC{1}
	peer := MAC{2}
	mesh := newFakeMesh(self, peer)
	leader := &LeaderCell{}

	d, _, _ := newTestDispatcher(NewLedger(nil), mesh[self], leader)

	d.HandleDatagram(peer, EncodeSimple(CmdChainReq))
	if len(mesh[self].sent) != 0 {
		t.Fatal("handleChainReq replied while not believing itself leader")
	}

	leader.Set(self)
	d.HandleDatagram(peer, EncodeSimple(CmdChainReq))
	if len(mesh[self].sent) != 1 {
		t.Fatal("handleChainReq did not reply once leader")
	}
}

func TestHandleNewBlockExactHeightAppends(t *testing.T) {
	self := MAC{1}
	mesh := newFakeMesh(self)
	ledger := NewLedger(nil)
	ledger.Append(mkBlock(0))

	d, _, _ := newTestDispatcher(ledger, mesh[self], nil)

	next := mkBlock(1)
	d.HandleDatagram(MAC{2}, EncodeNewBlock(&next))

	if ledger.Len() != 2 {
		t.Fatalf("ledger.Len() = %d, want 2", ledger.Len())
	}
}

func TestHandleNewBlockGapAppendsAndRequestsBackfill(t *testing.T) {
	self := MAC{1}
	peer := MAC{2}
	mesh := newFakeMesh(self, peer)
	ledger := NewLedger(nil)
	ledger.Append(mkBlock(0))

	d, _, _ := newTestDispatcher(ledger, mesh[self], nil)

	ahead := mkBlock(5)
	d.HandleDatagram(peer, EncodeNewBlock(&ahead))

	if ledger.Len() != 2 {
		t.Fatalf("ledger.Len() = %d, want 2 (gap still appended)", ledger.Len())
	}
	last, _ := ledger.GetLast()
	if last.BlockNum != 5 {
		t.Fatalf("last.BlockNum = %d, want 5", last.BlockNum)
	}

	found := false
	for _, s := range mesh[self].sent {
		if len(s.data) > 0 && Command(s.data[0]) == CmdRequestSpecificBlock {
			found = true
			if s.dest != BroadcastMAC {
				t.Fatalf("REQUEST_SPECIFIC_BLOCK dest = %v, want BroadcastMAC (unicast to src would be silently dropped by a non-root-eligible relayer)", s.dest)
			}
		}
	}
	if !found {
		t.Fatal("handleNewBlock did not emit REQUEST_SPECIFIC_BLOCK for the gap")
	}
}

func TestHandleNewBlockStaleRejected(t *testing.T) {
	self := MAC{1}
	mesh := newFakeMesh(self)
	ledger := NewLedger(nil)
	ledger.Append(mkBlock(0))
	ledger.Append(mkBlock(1))

	d, _, _ := newTestDispatcher(ledger, mesh[self], nil)

	stale := mkBlock(1)
	d.HandleDatagram(MAC{2}, EncodeNewBlock(&stale))

	if ledger.Len() != 2 {
		t.Fatalf("ledger.Len() = %d, want 2 (stale block must be rejected)", ledger.Len())
	}
}

func TestHandleNewBlockRejectsTamperedHash(t *testing.T) {
	self := MAC{1}
	mesh := newFakeMesh(self)
	ledger := NewLedger(nil)

	d, _, _ := newTestDispatcher(ledger, mesh[self], nil)

	b := mkBlock(0)
	b.Sensors = append(b.Sensors, SensorRecord{Temperature: 99})
	d.HandleDatagram(MAC{2}, EncodeNewBlock(&b))

	if ledger.Len() != 0 {
		t.Fatal("handleNewBlock accepted a block with a hash that doesn't match its contents")
	}
}

func TestHandleSensorDataPushesQueue(t *testing.T) {
	self := MAC{1}
	mesh := newFakeMesh(self)
	d, _, sensorQueue := newTestDispatcher(NewLedger(nil), mesh[self], nil)

	src := MAC{2}
	d.HandleDatagram(src, EncodeSensorData(19.5, 55, 42))

	rec, ok := sensorQueue.WaitFor(context.Background(), src, 50*time.Millisecond)
	if !ok {
		t.Fatal("SENSOR_DATA was not pushed onto the sensor response queue")
	}
	if rec.Temperature != 19.5 || rec.Humidity != 55 {
		t.Fatalf("pushed record = %+v", rec)
	}
}

func TestHandleResetBlockchainClearsLedger(t *testing.T) {
	self := MAC{1}
	mesh := newFakeMesh(self)
	ledger := NewLedger(nil)
	ledger.Append(mkBlock(0))
	d, _, _ := newTestDispatcher(ledger, mesh[self], nil)

	d.HandleDatagram(MAC{2}, EncodeSimple(CmdResetBlockchain))
	if ledger.Len() != 0 {
		t.Fatal("RESET_BLOCKCHAIN did not clear the ledger")
	}
}

func TestHandleRequestSpecificBlockRespondsWhenRootEligible(t *testing.T) {
	self := MAC{1}
	mesh := newFakeMesh(self)
	mesh[self].level = 0
	ledger := NewLedger(nil)
	ledger.Append(mkBlock(0))

	d, _, _ := newTestDispatcher(ledger, mesh[self], nil)
	d.HandleDatagram(MAC{2}, EncodeRequestSpecificBlock(0))

	found := false
	for _, s := range mesh[self].sent {
		if len(s.data) > 0 && Command(s.data[0]) == CmdHistoricalBlock {
			found = true
		}
	}
	if !found {
		t.Fatal("REQUEST_SPECIFIC_BLOCK did not produce a HISTORICAL_BLOCK reply")
	}
}

func TestHandleRequestSpecificBlockIgnoredWhenNotRootEligible(t *testing.T) {
	self := MAC{1}
	mesh := newFakeMesh(self)
	mesh[self].level = RootEligibleLevel + 1
	ledger := NewLedger(nil)
	ledger.Append(mkBlock(0))

	d, _, _ := newTestDispatcher(ledger, mesh[self], nil)
	d.HandleDatagram(MAC{2}, EncodeRequestSpecificBlock(0))

	if len(mesh[self].sent) != 0 {
		t.Fatal("non-root-eligible node answered REQUEST_SPECIFIC_BLOCK")
	}
}

func TestHandleHistoricalBlockBackfills(t *testing.T) {
	self := MAC{1}
	mesh := newFakeMesh(self)
	ledger := NewLedger(nil)
	ledger.Append(mkBlock(0))
	ledger.Insert(mkBlock(2))

	d, _, _ := newTestDispatcher(ledger, mesh[self], nil)

	gap := mkBlock(1)
	d.HandleDatagram(MAC{2}, EncodeHistoricalBlock(&gap))

	if ledger.Len() != 3 {
		t.Fatalf("ledger.Len() = %d, want 3 after backfill", ledger.Len())
	}
	got, ok := ledger.GetByNumber(1)
	if !ok || got.BlockNum != 1 {
		t.Fatalf("GetByNumber(1) = %+v, ok=%v", got, ok)
	}
}

func TestHandleDatagramDropsEmpty(t *testing.T) {
	self := MAC{1}
	mesh := newFakeMesh(self)
	d, _, _ := newTestDispatcher(NewLedger(nil), mesh[self], nil)
	d.HandleDatagram(MAC{2}, nil)
}
