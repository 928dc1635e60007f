package stationproto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeHeader(t *testing.T) {
	raw, err := Encode(TypeConfigNode, 0xBEEF, NodeConfig{NodeID: 42, SampleRateHz: 32, Mode: "sync"})
	require.NoError(t, err)

	pkt, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, uint8(ProtocolVersion), pkt.Version)
	assert.Equal(t, uint16(0xBEEF), pkt.Token)
	assert.Equal(t, uint8(TypeConfigNode), pkt.Type)

	var cfg NodeConfig
	require.NoError(t, pkt.UnmarshalBody(&cfg))
	assert.Equal(t, uint32(42), cfg.NodeID)
	assert.Equal(t, 32, cfg.SampleRateHz)
	assert.Equal(t, "sync", cfg.Mode)
}

func TestDecodeRejectsShortPacket(t *testing.T) {
	_, err := Decode([]byte{1, 0})
	assert.Error(t, err)
}

func TestDecodeRejectsWrongVersion(t *testing.T) {
	raw, err := Encode(TypePing, 1, nil)
	require.NoError(t, err)
	raw[0] = 99

	_, err = Decode(raw)
	assert.Error(t, err)
}

func TestEmptyBodyRoundTrip(t *testing.T) {
	raw, err := Encode(TypePing, 7, nil)
	require.NoError(t, err)
	assert.Len(t, raw, 4)

	pkt, err := Decode(raw)
	require.NoError(t, err)
	assert.Empty(t, pkt.Body)
	assert.Error(t, pkt.UnmarshalBody(&Status{}))
}

func TestStreamFraming(t *testing.T) {
	var buf bytes.Buffer

	batch := SampleBatch{Samples: []SampleRecord{
		{NodeID: 101, Channel: "ch1", Value: 12.5, RSSI: -70, TimestampNS: 123456789},
		{NodeID: 102, Channel: "ch1", Value: 13.1, RSSI: -64, TimestampNS: 123456789},
	}}

	require.NoError(t, WritePacket(&buf, TypeSamples, 3, batch))
	require.NoError(t, WritePacket(&buf, TypeAck, 4, Status{OK: true}))

	pkt, err := ReadPacket(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint16(3), pkt.Token)

	var got SampleBatch
	require.NoError(t, pkt.UnmarshalBody(&got))
	require.Len(t, got.Samples, 2)
	assert.Equal(t, uint32(101), got.Samples[0].NodeID)
	assert.Equal(t, int64(123456789), got.Samples[1].TimestampNS)

	pkt, err = ReadPacket(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint8(TypeAck), pkt.Type)
}

func TestReadPacketRejectsBogusLength(t *testing.T) {
	// Length prefix claims 2 bytes, below the minimum header size.
	buf := bytes.NewBuffer([]byte{0, 0, 0, 2, 1, 0})
	_, err := ReadPacket(buf)
	assert.Error(t, err)
}
