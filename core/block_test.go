package core

import (
	"bytes"
	"testing"
)

func sampleBlock() Block {
	b := Block{
		BlockNum:  3,
		Timestamp: 1_700_000_000,
	}
	b.PrevHash[0] = 0xAB
	b.SetPopProof("Leader:02:00:00:00:00:01;Time:1700000000;Nonce:42")
	b.Heatmap = [HeatmapSize]byte{1, 2, 3}
	b.Sensors = []SensorRecord{
		{MAC: MAC{1, 2, 3, 4, 5, 6}, Timestamp: 1_700_000_000, Temperature: 21.5, Humidity: 48.2, RSSI: [MaxNeighbors]int8{-40, -55, 0, 0, 0}},
		{MAC: MAC{9, 9, 9, 9, 9, 9}, Timestamp: 1_700_000_001, Temperature: 22.1, Humidity: 47.0},
	}
	ComputeHash(&b)
	return b
}

func TestPopProofRoundTrip(t *testing.T) {
	var b Block
	want := "Leader:aa:bb:cc:dd:ee:ff;Time:123;Nonce:9"
	b.SetPopProof(want)
	if got := b.PopProofString(); got != want {
		t.Fatalf("PopProofString() = %q, want %q", got, want)
	}
}

func TestPopProofTruncates(t *testing.T) {
	var b Block
	long := bytes.Repeat([]byte("x"), PopProofSize+10)
	b.SetPopProof(string(long))
	got := b.PopProofString()
	if len(got) != PopProofSize-1 {
		t.Fatalf("PopProofString() len = %d, want %d", len(got), PopProofSize-1)
	}
}

func TestSerializeForWireRoundTrip(t *testing.T) {
	want := sampleBlock()

	wire := SerializeForWire(&want)
	got, err := ParseFromWire(wire)
	if err != nil {
		t.Fatalf("ParseFromWire: %v", err)
	}

	if got.BlockNum != want.BlockNum || got.Timestamp != want.Timestamp {
		t.Fatalf("header mismatch: got %+v, want %+v", got, want)
	}
	if got.PrevHash != want.PrevHash || got.Hash != want.Hash {
		t.Fatalf("hash fields mismatch")
	}
	if got.PopProof != want.PopProof || got.Heatmap != want.Heatmap {
		t.Fatalf("pop_proof/heatmap mismatch")
	}
	if len(got.Sensors) != len(want.Sensors) {
		t.Fatalf("sensor count = %d, want %d", len(got.Sensors), len(want.Sensors))
	}
	for i := range want.Sensors {
		if got.Sensors[i] != want.Sensors[i] {
			t.Fatalf("sensor[%d] = %+v, want %+v", i, got.Sensors[i], want.Sensors[i])
		}
	}
}

func TestParseFromWireRejectsLengthMismatch(t *testing.T) {
	b := sampleBlock()
	wire := SerializeForWire(&b)

	if _, err := ParseFromWire(wire[:len(wire)-1]); err == nil {
		t.Fatal("expected error for truncated datagram, got nil")
	}
	if _, err := ParseFromWire(append(wire, 0x00)); err == nil {
		t.Fatal("expected error for over-length datagram, got nil")
	}
}

func TestComputeHashIsIdempotent(t *testing.T) {
	b := sampleBlock()
	h1 := ComputeHash(&b)
	h2 := ComputeHash(&b)
	if h1 != h2 {
		t.Fatalf("ComputeHash not idempotent: %x != %x", h1, h2)
	}
	if !VerifyHash(&b) {
		t.Fatal("VerifyHash rejected a freshly computed hash")
	}
}

func TestVerifyHashDetectsTampering(t *testing.T) {
	b := sampleBlock()
	b.Sensors[0].Temperature += 1
	if VerifyHash(&b) {
		t.Fatal("VerifyHash accepted a tampered block")
	}
}
