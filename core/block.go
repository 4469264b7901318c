package core

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"math"
)

// HeatmapSize is the length of the opaque heatmap ballast carried in every
// block (spec §3; semantics live outside this core — see SPEC_FULL.md §9).
const HeatmapSize = 3

// PopProofSize is the fixed wire width of the pop_proof field: an
// ASCII-printable, NUL-terminated string of at most 63 printable bytes.
const PopProofSize = 64

// HashSize is the width of a block hash and of prev_hash.
const HashSize = sha256.Size

// blockHeaderSize is the number of bytes preceding the sensor list in the
// hash-input serialization: block_num + timestamp + prev_hash + pop_proof +
// heatmap + num_sensor_readings.
const blockHeaderSize = 4 + 4 + HashSize + PopProofSize + HeatmapSize + 4

// Block is one round's entry in the chain (spec §3). It is immutable once
// sealed (on the leader) or once validated and inserted (on a follower).
type Block struct {
	BlockNum          uint32
	Timestamp         uint32
	PrevHash          [HashSize]byte
	PopProof          [PopProofSize]byte
	Heatmap           [HeatmapSize]byte
	NumSensorReadings uint32
	Sensors           []SensorRecord
	Hash              [HashSize]byte
}

// SetPopProof copies s into the fixed-width pop_proof field, truncating to
// 63 bytes and NUL-terminating, per §4.3 step L4.
func (b *Block) SetPopProof(s string) {
	var buf [PopProofSize]byte
	n := copy(buf[:PopProofSize-1], s)
	buf[n] = 0
	b.PopProof = buf
}

// PopProofString returns the pop_proof field up to its NUL terminator.
func (b *Block) PopProofString() string {
	n := 0
	for n < len(b.PopProof) && b.PopProof[n] != 0 {
		n++
	}
	return string(b.PopProof[:n])
}

// SerializeForHash returns the canonical byte layout used exclusively to
// compute Hash: everything in §4.2's field order, with the hash field
// itself omitted.
func SerializeForHash(b *Block) []byte {
	n := blockHeaderSize + len(b.Sensors)*sensorRecordSize
	buf := make([]byte, n)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], b.BlockNum)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], b.Timestamp)
	off += 4
	copy(buf[off:], b.PrevHash[:])
	off += HashSize
	copy(buf[off:], b.PopProof[:])
	off += PopProofSize
	copy(buf[off:], b.Heatmap[:])
	off += HeatmapSize
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(b.Sensors)))
	off += 4
	for _, s := range b.Sensors {
		off += putSensorRecord(buf[off:], s)
	}
	return buf
}

// SerializeForWire returns the full on-wire layout, including Hash
// immediately after PrevHash, per §4.2.
func SerializeForWire(b *Block) []byte {
	n := blockHeaderSize + HashSize + len(b.Sensors)*sensorRecordSize
	buf := make([]byte, n)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], b.BlockNum)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], b.Timestamp)
	off += 4
	copy(buf[off:], b.PrevHash[:])
	off += HashSize
	copy(buf[off:], b.Hash[:])
	off += HashSize
	copy(buf[off:], b.PopProof[:])
	off += PopProofSize
	copy(buf[off:], b.Heatmap[:])
	off += HeatmapSize
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(b.Sensors)))
	off += 4
	for _, s := range b.Sensors {
		off += putSensorRecord(buf[off:], s)
	}
	return buf
}

// ParseFromWire validates and decodes the wire serialization of a block,
// rejecting any length/count mismatch (§4.2).
func ParseFromWire(data []byte) (*Block, error) {
	fixed := blockHeaderSize + HashSize
	if len(data) < fixed {
		return nil, fmt.Errorf("block: datagram too short: got %d want >= %d", len(data), fixed)
	}
	b := &Block{}
	off := 0
	b.BlockNum = binary.LittleEndian.Uint32(data[off:])
	off += 4
	b.Timestamp = binary.LittleEndian.Uint32(data[off:])
	off += 4
	copy(b.PrevHash[:], data[off:off+HashSize])
	off += HashSize
	copy(b.Hash[:], data[off:off+HashSize])
	off += HashSize
	copy(b.PopProof[:], data[off:off+PopProofSize])
	off += PopProofSize
	copy(b.Heatmap[:], data[off:off+HeatmapSize])
	off += HeatmapSize
	b.NumSensorReadings = binary.LittleEndian.Uint32(data[off:])
	off += 4

	want := off + int(b.NumSensorReadings)*sensorRecordSize
	if want != len(data) {
		return nil, fmt.Errorf("block: length mismatch for %d readings: got %d want %d",
			b.NumSensorReadings, len(data), want)
	}

	b.Sensors = make([]SensorRecord, b.NumSensorReadings)
	for i := range b.Sensors {
		rec, n := getSensorRecord(data[off:])
		b.Sensors[i] = rec
		off += n
	}
	return b, nil
}

// ComputeHash recomputes SHA-256 over the hash-input serialization and
// assigns it into b.Hash.
func ComputeHash(b *Block) [HashSize]byte {
	h := sha256.Sum256(SerializeForHash(b))
	b.Hash = h
	return h
}

// VerifyHash recomputes the hash over b (ignoring the stored Hash field)
// and constant-time compares it against b.Hash.
func VerifyHash(b *Block) bool {
	want := sha256.Sum256(SerializeForHash(b))
	return subtle.ConstantTimeCompare(want[:], b.Hash[:]) == 1
}

func putSensorRecord(buf []byte, s SensorRecord) int {
	off := 0
	copy(buf[off:], s.MAC[:])
	off += MACLen
	binary.LittleEndian.PutUint32(buf[off:], s.Timestamp)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(s.Temperature))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(s.Humidity))
	off += 4
	for _, r := range s.RSSI {
		buf[off] = byte(r)
		off++
	}
	return off
}

func getSensorRecord(buf []byte) (SensorRecord, int) {
	var s SensorRecord
	off := 0
	copy(s.MAC[:], buf[off:off+MACLen])
	off += MACLen
	s.Timestamp = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	s.Temperature = math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	s.Humidity = math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	for i := range s.RSSI {
		s.RSSI[i] = int8(buf[off])
		off++
	}
	return s, off
}
