package core

import "testing"

func mkBlock(num uint32) Block {
	b := Block{BlockNum: num, Timestamp: 1000 + num}
	ComputeHash(&b)
	return b
}

func TestLedgerAppendAnchorsGenesisAtZero(t *testing.T) {
	l := NewLedger(nil)
	l.Append(Block{BlockNum: 99})
	last, ok := l.GetLast()
	if !ok {
		t.Fatal("GetLast() ok = false after append")
	}
	if last.BlockNum != 0 {
		t.Fatalf("genesis BlockNum = %d, want 0", last.BlockNum)
	}
}

func TestLedgerAppendChainsHeight(t *testing.T) {
	l := NewLedger(nil)
	l.Append(mkBlock(0))
	l.Append(Block{BlockNum: 77})
	last, _ := l.GetLast()
	if last.BlockNum != 1 {
		t.Fatalf("second append BlockNum = %d, want 1", last.BlockNum)
	}
	if l.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", l.Len())
	}
}

func TestLedgerInsertOrdersAndRejectsDuplicates(t *testing.T) {
	l := NewLedger(nil)
	l.Insert(mkBlock(2))
	l.Insert(mkBlock(0))
	if !l.Insert(mkBlock(1)) {
		t.Fatal("Insert() rejected a fresh height")
	}
	if l.Insert(mkBlock(1)) {
		t.Fatal("Insert() accepted a duplicate height")
	}

	got, ok := l.GetByNumber(1)
	if !ok || got.BlockNum != 1 {
		t.Fatalf("GetByNumber(1) = %+v, ok=%v", got, ok)
	}

	var heights []uint32
	l.Iter(func(b Block) bool {
		heights = append(heights, b.BlockNum)
		return true
	})
	for i := range heights {
		if int(heights[i]) != i {
			t.Fatalf("Iter() order = %v, want ascending from 0", heights)
		}
	}
}

func TestLedgerGetLastEmpty(t *testing.T) {
	l := NewLedger(nil)
	if _, ok := l.GetLast(); ok {
		t.Fatal("GetLast() ok = true on empty ledger")
	}
}

func TestLedgerDeinitClears(t *testing.T) {
	l := NewLedger(nil)
	l.Append(mkBlock(0))
	l.Deinit()
	if l.Len() != 0 {
		t.Fatalf("Len() after Deinit = %d, want 0", l.Len())
	}
}

func TestLedgerSnapshotIsACopy(t *testing.T) {
	l := NewLedger(nil)
	l.Append(mkBlock(0))
	snap := l.Snapshot()
	snap[0].Sensors = append(snap[0].Sensors, SensorRecord{})

	last, _ := l.GetLast()
	if len(last.Sensors) != 0 {
		t.Fatal("mutating a Snapshot() result leaked into the ledger's own storage")
	}
}

func TestLedgerIterStopsEarly(t *testing.T) {
	l := NewLedger(nil)
	l.Append(mkBlock(0))
	l.Append(Block{})
	l.Append(Block{})

	seen := 0
	l.Iter(func(b Block) bool {
		seen++
		return false
	})
	if seen != 1 {
		t.Fatalf("Iter() visited %d blocks after an early false, want 1", seen)
	}
}
