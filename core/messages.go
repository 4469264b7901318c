package core

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Command is the first byte of every inter-node datagram (spec §4.4, §6).
type Command byte

// Command bytes, preserved verbatim from the original firmware's
// command_set.h (see SPEC_FULL.md §9 on CHAIN_REQ/CHAIN_RESP).
const (
	CmdAck                  Command = 0x01
	CmdPulse                Command = 0x02
	CmdChainReq             Command = 0x03
	CmdChainResp            Command = 0x04
	CmdElection             Command = 0x05
	CmdNewBlock             Command = 0x06
	CmdSensorData           Command = 0x07
	CmdResetBlockchain      Command = 0x08
	CmdRequestSpecificBlock Command = 0x09
	CmdHistoricalBlock      Command = 0x0A
)

func (c Command) String() string {
	switch c {
	case CmdAck:
		return "ACK"
	case CmdPulse:
		return "PULSE"
	case CmdChainReq:
		return "CHAIN_REQ"
	case CmdChainResp:
		return "CHAIN_RESP"
	case CmdElection:
		return "ELECTION"
	case CmdNewBlock:
		return "NEW_BLOCK"
	case CmdSensorData:
		return "SENSOR_DATA"
	case CmdResetBlockchain:
		return "RESET_BLOCKCHAIN"
	case CmdRequestSpecificBlock:
		return "REQUEST_SPECIFIC_BLOCK"
	case CmdHistoricalBlock:
		return "HISTORICAL_BLOCK"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", byte(c))
	}
}

// electionPayloadSize is the exact ELECTION payload width: a 6-byte MAC.
const electionPayloadSize = MACLen

// sensorDataPayloadSize is the exact SENSOR_DATA payload width: two f32s
// and a u32 timestamp, all little-endian (spec §4.4).
const sensorDataPayloadSize = 4 + 4 + 4

// requestSpecificBlockPayloadSize is the exact REQUEST_SPECIFIC_BLOCK
// payload width: a little-endian u32 height.
const requestSpecificBlockPayloadSize = 4

// EncodeElection builds an ELECTION datagram payload naming leader.
func EncodeElection(leader MAC) []byte {
	buf := make([]byte, 1+electionPayloadSize)
	buf[0] = byte(CmdElection)
	copy(buf[1:], leader[:])
	return buf
}

// DecodeElection parses an ELECTION payload (post command byte).
func DecodeElection(payload []byte) (MAC, error) {
	if len(payload) != electionPayloadSize {
		return MAC{}, fmt.Errorf("election: bad payload length %d", len(payload))
	}
	var m MAC
	copy(m[:], payload)
	return m, nil
}

// EncodeSensorData builds a SENSOR_DATA datagram payload.
func EncodeSensorData(temperature, humidity float32, timestamp uint32) []byte {
	buf := make([]byte, 1+sensorDataPayloadSize)
	buf[0] = byte(CmdSensorData)
	binary.LittleEndian.PutUint32(buf[1:], math.Float32bits(temperature))
	binary.LittleEndian.PutUint32(buf[5:], math.Float32bits(humidity))
	binary.LittleEndian.PutUint32(buf[9:], timestamp)
	return buf
}

// DecodeSensorData parses a SENSOR_DATA payload (post command byte).
func DecodeSensorData(payload []byte) (temperature, humidity float32, timestamp uint32, err error) {
	if len(payload) != sensorDataPayloadSize {
		return 0, 0, 0, fmt.Errorf("sensor_data: bad payload length %d", len(payload))
	}
	temperature = math.Float32frombits(binary.LittleEndian.Uint32(payload[0:]))
	humidity = math.Float32frombits(binary.LittleEndian.Uint32(payload[4:]))
	timestamp = binary.LittleEndian.Uint32(payload[8:])
	return temperature, humidity, timestamp, nil
}

// EncodeRequestSpecificBlock builds a REQUEST_SPECIFIC_BLOCK payload.
func EncodeRequestSpecificBlock(height uint32) []byte {
	buf := make([]byte, 1+requestSpecificBlockPayloadSize)
	buf[0] = byte(CmdRequestSpecificBlock)
	binary.LittleEndian.PutUint32(buf[1:], height)
	return buf
}

// DecodeRequestSpecificBlock parses a REQUEST_SPECIFIC_BLOCK payload
// (post command byte).
func DecodeRequestSpecificBlock(payload []byte) (uint32, error) {
	if len(payload) != requestSpecificBlockPayloadSize {
		return 0, fmt.Errorf("request_specific_block: bad payload length %d", len(payload))
	}
	return binary.LittleEndian.Uint32(payload), nil
}

// EncodeSimple builds a datagram carrying only a command byte (ACK, PULSE,
// CHAIN_REQ, RESET_BLOCKCHAIN all have empty payloads per §4.4).
func EncodeSimple(cmd Command) []byte {
	return []byte{byte(cmd)}
}

// EncodeNewBlock wraps the wire serialization of b behind a NEW_BLOCK
// command byte.
func EncodeNewBlock(b *Block) []byte {
	return prependCommand(CmdNewBlock, SerializeForWire(b))
}

// EncodeHistoricalBlock wraps the wire serialization of b behind a
// HISTORICAL_BLOCK command byte.
func EncodeHistoricalBlock(b *Block) []byte {
	return prependCommand(CmdHistoricalBlock, SerializeForWire(b))
}

func prependCommand(cmd Command, body []byte) []byte {
	buf := make([]byte, 1+len(body))
	buf[0] = byte(cmd)
	copy(buf[1:], body)
	return buf
}
