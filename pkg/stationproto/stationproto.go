// Package stationproto implements the wire protocol spoken between the
// scale server and a base-station daemon over TCP. Every packet is a
// length-prefixed record: a 4-byte header (protocol version, request token,
// packet type) followed by an optional JSON body.
package stationproto

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// ProtocolVersion is the only version this codec accepts.
const ProtocolVersion = 1

// Packet types
const (
	TypePing         = 0x00
	TypePong         = 0x01
	TypePingNode     = 0x02
	TypeSamples      = 0x03
	TypeConfigNode   = 0x04
	TypeGroupAdd     = 0x05
	TypeGroupStart   = 0x06
	TypeGroupStop    = 0x07
	TypeBeaconGet    = 0x08
	TypeBeaconSet    = 0x09
	TypeBeaconStatus = 0x0A
	TypeAck          = 0x0B
	TypeNak          = 0x0C
)

// MaxBodySize bounds the JSON body of a single packet.
const MaxBodySize = 65507

// Packet is a decoded wire record.
type Packet struct {
	Version uint8
	Token   uint16
	Type    uint8
	Body    []byte
}

// SampleRecord is one reading inside a TypeSamples body.
type SampleRecord struct {
	NodeID      uint32  `json:"nodeId"`
	Channel     string  `json:"channel"`
	Value       float64 `json:"value"`
	RSSI        int     `json:"rssi"`
	TimestampNS int64   `json:"timestampNs"`
}

// SampleBatch is the body of a TypeSamples packet.
type SampleBatch struct {
	Samples []SampleRecord `json:"samples"`
}

// NodeRequest addresses a single node (TypePingNode, TypeGroupAdd).
type NodeRequest struct {
	NodeID uint32 `json:"nodeId"`
}

// NodeConfig is the body of a TypeConfigNode packet.
type NodeConfig struct {
	NodeID       uint32 `json:"nodeId"`
	SampleRateHz int    `json:"sampleRateHz"`
	Mode         string `json:"mode"`
}

// BeaconState is the body of TypeBeaconSet and TypeBeaconStatus packets.
type BeaconState struct {
	Enabled bool `json:"enabled"`
}

// Status is the body of TypeAck/TypeNak packets.
type Status struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Encode serializes a packet with the given JSON body. A nil body encodes
// an empty payload.
func Encode(typ uint8, token uint16, body interface{}) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
	}
	if len(payload) > MaxBodySize {
		return nil, fmt.Errorf("body too large: %d bytes", len(payload))
	}

	buf := make([]byte, 4+len(payload))
	buf[0] = ProtocolVersion
	binary.BigEndian.PutUint16(buf[1:3], token)
	buf[3] = typ
	copy(buf[4:], payload)
	return buf, nil
}

// Decode parses a raw packet.
func Decode(data []byte) (*Packet, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("packet too short: %d bytes", len(data))
	}
	if data[0] != ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version %d", data[0])
	}

	return &Packet{
		Version: data[0],
		Token:   binary.BigEndian.Uint16(data[1:3]),
		Type:    data[3],
		Body:    data[4:],
	}, nil
}

// UnmarshalBody decodes the packet's JSON body into v.
func (p *Packet) UnmarshalBody(v interface{}) error {
	if len(p.Body) == 0 {
		return fmt.Errorf("packet type %d has no body", p.Type)
	}
	return json.Unmarshal(p.Body, v)
}

// WritePacket writes a length-prefixed packet to a stream.
func WritePacket(w io.Writer, typ uint8, token uint16, body interface{}) error {
	pkt, err := Encode(typ, token, body)
	if err != nil {
		return err
	}

	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(pkt)))
	if _, err := w.Write(length[:]); err != nil {
		return fmt.Errorf("write length: %w", err)
	}
	if _, err := w.Write(pkt); err != nil {
		return fmt.Errorf("write packet: %w", err)
	}
	return nil
}

// ReadPacket reads a single length-prefixed packet from a stream.
func ReadPacket(r io.Reader) (*Packet, error) {
	var length [4]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(length[:])
	if size < 4 || size > MaxBodySize+4 {
		return nil, fmt.Errorf("invalid packet length %d", size)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read packet: %w", err)
	}
	return Decode(data)
}
