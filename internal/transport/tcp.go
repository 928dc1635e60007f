package transport

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/scale-server/scale-server-pro/internal/models"
	"github.com/scale-server/scale-server-pro/pkg/stationproto"
)

// TCPStation talks to a base-station daemon over a single TCP connection
// using the stationproto codec. Every call is a request/response exchange
// matched by token; a mutex serializes exchanges because the keepalive
// monitor runs concurrently with the acquisition loop.
type TCPStation struct {
	mu          sync.Mutex
	conn        net.Conn
	token       uint16
	dialTimeout time.Duration
}

// NewTCPStation creates an unconnected TCP station client.
func NewTCPStation(dialTimeout time.Duration) *TCPStation {
	return &TCPStation{dialTimeout: dialTimeout}
}

// Open implements Transport.
func (t *TCPStation) Open(target string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}

	conn, err := net.DialTimeout("tcp", target, t.dialTimeout)
	if err != nil {
		return fmt.Errorf("dial station %s: %w", target, err)
	}
	t.conn = conn

	log.Debug().Str("addr", target).Msg("station link established")
	return nil
}

// Close implements Transport.
func (t *TCPStation) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

// IsAlive implements Transport.
func (t *TCPStation) IsAlive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// exchange sends one request and reads one response. Callers must not hold
// the mutex.
func (t *TCPStation) exchange(typ uint8, body interface{}, timeout time.Duration) (*stationproto.Packet, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil, fmt.Errorf("station link not open")
	}

	t.token++
	token := t.token

	deadline := time.Now().Add(timeout)
	if err := t.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	if err := stationproto.WritePacket(t.conn, typ, token, body); err != nil {
		return nil, fmt.Errorf("send packet type %d: %w", typ, err)
	}

	for {
		pkt, err := stationproto.ReadPacket(t.conn)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if pkt.Token != token {
			// Stale response from a timed-out exchange; skip it.
			log.Debug().Uint16("token", pkt.Token).Uint16("want", token).Msg("discarding stale station response")
			continue
		}
		if pkt.Type == stationproto.TypeNak {
			var st stationproto.Status
			if err := pkt.UnmarshalBody(&st); err == nil && st.Error != "" {
				return nil, fmt.Errorf("station rejected request: %s", st.Error)
			}
			return nil, fmt.Errorf("station rejected request type %d", typ)
		}
		return pkt, nil
	}
}

// Ping implements Transport.
func (t *TCPStation) Ping() bool {
	pkt, err := t.exchange(stationproto.TypePing, nil, t.dialTimeout)
	return err == nil && pkt.Type == stationproto.TypePong
}

// PingNode implements Transport.
func (t *TCPStation) PingNode(nodeID uint32) bool {
	_, err := t.exchange(stationproto.TypePingNode, stationproto.NodeRequest{NodeID: nodeID}, t.dialTimeout)
	return err == nil
}

// Poll implements Transport. The station answers with whatever synchronized
// sweeps accumulated within the timeout; an empty batch is normal.
func (t *TCPStation) Poll(timeout time.Duration) ([]models.RawSample, error) {
	pkt, err := t.exchange(stationproto.TypeSamples, nil, timeout+time.Second)
	if err != nil {
		return nil, err
	}

	var batch stationproto.SampleBatch
	if err := pkt.UnmarshalBody(&batch); err != nil {
		return nil, fmt.Errorf("decode sample batch: %w", err)
	}

	samples := make([]models.RawSample, 0, len(batch.Samples))
	for _, s := range batch.Samples {
		samples = append(samples, models.RawSample{
			NodeID:      s.NodeID,
			Channel:     s.Channel,
			Value:       s.Value,
			RSSI:        s.RSSI,
			TimestampNS: s.TimestampNS,
		})
	}
	return samples, nil
}

// ConfigureNode implements Transport.
func (t *TCPStation) ConfigureNode(nodeID uint32, sampleRateHz int, mode string) error {
	_, err := t.exchange(stationproto.TypeConfigNode, stationproto.NodeConfig{
		NodeID:       nodeID,
		SampleRateHz: sampleRateHz,
		Mode:         mode,
	}, t.dialTimeout)
	return err
}

// RegisterNode implements Transport.
func (t *TCPStation) RegisterNode(nodeID uint32) error {
	_, err := t.exchange(stationproto.TypeGroupAdd, stationproto.NodeRequest{NodeID: nodeID}, t.dialTimeout)
	return err
}

// StartSampling implements Transport.
func (t *TCPStation) StartSampling() error {
	_, err := t.exchange(stationproto.TypeGroupStart, nil, t.dialTimeout)
	return err
}

// StopSampling implements Transport.
func (t *TCPStation) StopSampling() error {
	_, err := t.exchange(stationproto.TypeGroupStop, nil, t.dialTimeout)
	return err
}

// SetKeepalive implements Transport.
func (t *TCPStation) SetKeepalive(enabled bool) error {
	_, err := t.exchange(stationproto.TypeBeaconSet, stationproto.BeaconState{Enabled: enabled}, t.dialTimeout)
	return err
}

// KeepaliveStatus implements Transport.
func (t *TCPStation) KeepaliveStatus() (bool, error) {
	pkt, err := t.exchange(stationproto.TypeBeaconGet, nil, t.dialTimeout)
	if err != nil {
		return false, err
	}

	var state stationproto.BeaconState
	if err := pkt.UnmarshalBody(&state); err != nil {
		return false, fmt.Errorf("decode beacon status: %w", err)
	}
	return state.Enabled, nil
}
