package transport

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/scale-server/scale-server-pro/internal/models"
)

// Mock simulates a base station with one wireless node per configured load
// cell. Nodes emit noisy readings around a base load with a slow drift, all
// sharing a synchronized timestamp per sampling instant. Test hooks allow
// forcing node dropout and transport I/O failures.
type Mock struct {
	mu sync.Mutex

	nodes     map[uint32]*mockNode
	open      bool
	keepalive bool
	sampling  bool

	failNextPoll bool
}

type mockNode struct {
	def        models.NodeDef
	baseValue  float64
	drift      float64
	registered bool
	offline    bool
	rng        *rand.Rand
}

// NewMock creates a simulated transport for the given node set.
func NewMock(defs []models.NodeDef) *Mock {
	m := &Mock{nodes: make(map[uint32]*mockNode, len(defs))}
	for _, def := range defs {
		rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(def.NodeID)))
		m.nodes[def.NodeID] = &mockNode{
			def:       def,
			baseValue: 5.0 + rng.Float64()*10.0,
			drift:     0.001,
			rng:       rng,
		}
	}
	return m
}

// Open implements Transport.
func (m *Mock) Open(target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = true
	return nil
}

// Close implements Transport.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = false
	m.sampling = false
	m.keepalive = false
	for _, n := range m.nodes {
		n.registered = false
	}
	return nil
}

// IsAlive implements Transport.
func (m *Mock) IsAlive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// Ping implements Transport.
func (m *Mock) Ping() bool {
	return m.IsAlive()
}

// PingNode implements Transport.
func (m *Mock) PingNode(nodeID uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[nodeID]
	return ok && m.open && !n.offline
}

// Poll implements Transport. All online nodes report against the same
// timestamp, matching the synchronized sampling the real network provides.
func (m *Mock) Poll(timeout time.Duration) ([]models.RawSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return nil, fmt.Errorf("transport closed")
	}
	if m.failNextPoll {
		m.failNextPoll = false
		return nil, fmt.Errorf("simulated I/O failure")
	}
	if !m.sampling {
		return nil, nil
	}

	now := time.Now().UnixNano()
	samples := make([]models.RawSample, 0, len(m.nodes))
	for id, n := range m.nodes {
		if n.offline || !n.registered {
			continue
		}

		n.baseValue += n.drift
		if n.rng.Float64() < 0.01 {
			n.drift = -n.drift
		}
		noise := n.rng.NormFloat64() * 0.02 * n.baseValue

		samples = append(samples, models.RawSample{
			NodeID:      id,
			Channel:     n.def.Channel,
			Value:       n.baseValue + noise,
			RSSI:        -75 + n.rng.Intn(30),
			TimestampNS: now,
		})
	}
	return samples, nil
}

// ConfigureNode implements Transport.
func (m *Mock) ConfigureNode(nodeID uint32, sampleRateHz int, mode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[nodeID]
	if !ok {
		return fmt.Errorf("unknown node %d", nodeID)
	}
	if n.offline {
		return fmt.Errorf("node %d not responding", nodeID)
	}
	return nil
}

// RegisterNode implements Transport.
func (m *Mock) RegisterNode(nodeID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[nodeID]
	if !ok {
		return fmt.Errorf("unknown node %d", nodeID)
	}
	if n.offline {
		return fmt.Errorf("node %d not responding", nodeID)
	}
	n.registered = true
	return nil
}

// StartSampling implements Transport.
func (m *Mock) StartSampling() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return fmt.Errorf("transport closed")
	}
	registered := 0
	for _, n := range m.nodes {
		if n.registered {
			registered++
		}
	}
	if registered == 0 {
		return fmt.Errorf("no nodes registered in sampling group")
	}
	m.sampling = true
	m.keepalive = true
	return nil
}

// StopSampling implements Transport.
func (m *Mock) StopSampling() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sampling = false
	return nil
}

// SetKeepalive implements Transport.
func (m *Mock) SetKeepalive(enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return fmt.Errorf("transport closed")
	}
	m.keepalive = enabled
	return nil
}

// KeepaliveStatus implements Transport.
func (m *Mock) KeepaliveStatus() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return false, fmt.Errorf("transport closed")
	}
	return m.keepalive, nil
}

// SetNodeOffline forces a node on or off the air. Test hook.
func (m *Mock) SetNodeOffline(nodeID uint32, offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.nodes[nodeID]; ok {
		n.offline = offline
	}
}

// FailNextPoll makes the next Poll return an I/O error. Test hook.
func (m *Mock) FailNextPoll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNextPoll = true
}

// ApplyLoad shifts a node's base value, simulating weight placed on the
// scale. Test hook.
func (m *Mock) ApplyLoad(nodeID uint32, weight float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.nodes[nodeID]; ok {
		n.baseValue += weight
	}
}
