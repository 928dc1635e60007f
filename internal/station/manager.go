// Package station owns the base-station transport lifecycle: the connection
// state machine, node discovery and forced synchronized-sampling setup, the
// keepalive (beacon) monitor and the bounded reconnection policy.
package station

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/scale-server/scale-server-pro/internal/config"
	"github.com/scale-server/scale-server-pro/internal/models"
	"github.com/scale-server/scale-server-pro/internal/transport"
)

// TargetAuto asks Connect to probe the configured candidate addresses.
const TargetAuto = "auto"

// EventFunc receives discrete manager events (state changes, beacon
// recoveries, node timeouts) for publication and audit.
type EventFunc func(models.EventLog)

// Manager supervises the transport connection and the synchronized sampling
// configuration of all expected nodes. All methods except the keepalive
// monitor run on the acquisition goroutine.
type Manager struct {
	cfg *config.Config
	tr  transport.Transport

	mu     sync.RWMutex
	state  models.ConnectionState
	target string

	nodes map[uint32]*models.NodeStatus

	reconnectCount   uint64
	beaconRecoveries uint64
	connectedAt      time.Time

	keepaliveStop chan struct{}
	keepaliveDone chan struct{}

	// OnEvent, when set, is invoked for every discrete manager event. Must
	// be set before Connect.
	OnEvent EventFunc
}

// NewManager creates a manager for the statically configured node set.
func NewManager(cfg *config.Config, tr transport.Transport) *Manager {
	m := &Manager{
		cfg:   cfg,
		tr:    tr,
		state: models.StateDisconnected,
		nodes: make(map[uint32]*models.NodeStatus, len(cfg.Nodes)),
	}
	for _, def := range cfg.Nodes {
		m.nodes[def.NodeID] = &models.NodeStatus{
			NodeID:  def.NodeID,
			Name:    def.Name,
			Channel: def.Channel,
		}
	}
	return m
}

// State returns the current connection state.
func (m *Manager) State() models.ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected reports whether the station is operational. True only in
// Connected and Sampling.
func (m *Manager) IsConnected() bool {
	s := m.State()
	return s == models.StateConnected || s == models.StateSampling
}

func (m *Manager) setState(next models.ConnectionState) {
	m.mu.Lock()
	prev := m.state
	m.state = next
	m.mu.Unlock()

	if prev != next {
		log.Info().Str("from", string(prev)).Str("to", string(next)).Msg("connection state changed")
	}
}

func (m *Manager) emit(ev models.EventLog) {
	if m.OnEvent != nil {
		m.OnEvent(ev)
	}
}

// Connect establishes the station link and brings up the synchronized
// sampling network. target is an address or TargetAuto. A failure to start
// synchronized sampling across at least one node is fatal and returns a
// *SyncNetworkError.
func (m *Manager) Connect(target string) error {
	m.setState(models.StateConnecting)

	addr, err := m.openTransport(target)
	if err != nil {
		m.setState(models.StateError)
		m.emit(models.EventLog{
			Type: models.EventTypeConnError, Level: models.EventLevelError,
			Description: fmt.Sprintf("connect to %s failed: %v", target, err),
		})
		return err
	}

	m.mu.Lock()
	m.target = addr
	m.mu.Unlock()

	if err := m.setupSyncNetwork(); err != nil {
		m.teardown()
		m.setState(models.StateError)
		m.emit(models.EventLog{
			Type: models.EventTypeSyncError, Level: models.EventLevelError,
			Description: err.Error(),
		})
		return err
	}

	if err := m.tr.SetKeepalive(true); err != nil {
		log.Warn().Err(err).Msg("could not enable beacon")
	}
	m.startKeepaliveMonitor()

	m.mu.Lock()
	m.connectedAt = time.Now()
	m.mu.Unlock()

	m.setState(models.StateSampling)
	m.emit(models.EventLog{
		Type: models.EventTypeConnected, Level: models.EventLevelInfo,
		Description: fmt.Sprintf("synchronized sampling started on %s", addr),
	})
	return nil
}

// openTransport resolves the target (probing candidates for TargetAuto) and
// opens the link. Returns the address actually used.
func (m *Manager) openTransport(target string) (string, error) {
	if target != TargetAuto {
		if err := m.tr.Open(target); err != nil {
			return "", &TransportError{Op: "open", Err: err}
		}
		if !m.tr.Ping() {
			// Some station models do not answer pings; log and continue.
			log.Warn().Str("addr", target).Msg("station did not answer ping, continuing")
		}
		return target, nil
	}

	log.Info().Int("candidates", len(m.cfg.Transport.Candidates)).Msg("probing for base station")
	for _, candidate := range m.cfg.Transport.Candidates {
		if err := m.tr.Open(candidate); err != nil {
			log.Debug().Str("addr", candidate).Err(err).Msg("candidate unreachable")
			continue
		}
		if m.tr.Ping() {
			log.Info().Str("addr", candidate).Msg("base station found")
			return candidate, nil
		}
		m.tr.Close()
	}
	return "", fmt.Errorf("no base station responded on %d candidate addresses", len(m.cfg.Transport.Candidates))
}

// setupSyncNetwork forces the uniform sampling configuration onto every
// expected node and registers it into the synchronized sampling group.
// Per-node failures are recoverable; zero registered nodes or a group start
// failure is fatal.
func (m *Manager) setupSyncNetwork() error {
	ids := make([]uint32, 0, len(m.nodes))
	for id := range m.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	registered := 0
	for _, id := range ids {
		status := m.nodes[id]

		if !m.tr.PingNode(id) {
			log.Warn().Uint32("node", id).Str("name", status.Name).Msg("node did not answer ping")
		}

		if err := m.tr.ConfigureNode(id, m.cfg.Acquisition.SampleRateHz, transport.SyncSamplingMode); err != nil {
			cfgErr := &NodeConfigError{NodeID: id, Err: err}
			log.Warn().Err(cfgErr).Str("name", status.Name).Msg("node kept its existing configuration")
			m.emit(models.EventLog{
				NodeID: &status.NodeID,
				Type:   models.EventTypeNodeConfig, Level: models.EventLevelWarning,
				Description: cfgErr.Error(),
			})
		} else {
			status.Configured = true
		}

		if err := m.tr.RegisterNode(id); err != nil {
			log.Error().Err(err).Uint32("node", id).Msg("node could not join sampling group")
			continue
		}
		registered++
		log.Info().Uint32("node", id).Str("name", status.Name).Msg("node registered in sampling group")
	}

	if registered == 0 {
		return &SyncNetworkError{Reason: "no node joined the sampling group"}
	}
	if registered < len(ids) {
		log.Warn().Int("registered", registered).Int("expected", len(ids)).Msg("sampling group is missing nodes")
	}

	if err := m.tr.StartSampling(); err != nil {
		return &SyncNetworkError{Reason: "group failed to start sampling", Err: err}
	}

	log.Info().Int("nodes", registered).Int("rate_hz", m.cfg.Acquisition.SampleRateHz).
		Msg("synchronized sampling network live")
	return nil
}

// Disconnect stops sampling, stops the keepalive monitor, releases the
// transport and resets node bookkeeping. Idempotent.
func (m *Manager) Disconnect() {
	if m.State() == models.StateDisconnected {
		return
	}

	m.stopKeepaliveMonitor()
	m.teardown()

	m.mu.Lock()
	for _, n := range m.nodes {
		n.Online = false
		n.Configured = false
	}
	m.mu.Unlock()

	m.setState(models.StateDisconnected)
	m.emit(models.EventLog{
		Type: models.EventTypeDisconnected, Level: models.EventLevelInfo,
		Description: "station disconnected",
	})
}

// teardown releases transport resources without touching the state machine.
func (m *Manager) teardown() {
	if m.tr.IsAlive() {
		if err := m.tr.StopSampling(); err != nil {
			log.Debug().Err(err).Msg("stop sampling during teardown")
		}
		if err := m.tr.SetKeepalive(false); err != nil {
			log.Debug().Err(err).Msg("disable beacon during teardown")
		}
	}
	if err := m.tr.Close(); err != nil {
		log.Debug().Err(err).Msg("close transport during teardown")
	}
}

// Poll reads one batch of raw samples and sweeps node timeouts. An I/O
// failure is returned as a *TransportError so the caller can run the
// reconnection policy.
func (m *Manager) Poll() ([]models.RawSample, error) {
	if !m.IsConnected() {
		return nil, nil
	}

	samples, err := m.tr.Poll(m.cfg.Acquisition.PollTimeout)
	if err != nil {
		return nil, &TransportError{Op: "poll", Err: err}
	}

	m.sweepNodeTimeouts(time.Now())
	return samples, nil
}

// Reconnect runs the bounded reconnection sequence after a transport I/O
// failure. It blocks the acquisition loop for the configured delay between
// attempts; acquisition is down anyway. Exhausting the bound parks the
// manager in Error until an explicit external reconnect request.
func (m *Manager) Reconnect() error {
	m.mu.RLock()
	target := m.target
	m.mu.RUnlock()

	m.stopKeepaliveMonitor()
	m.setState(models.StateReconnecting)
	m.emit(models.EventLog{
		Type: models.EventTypeReconnecting, Level: models.EventLevelWarning,
		Description: "transport failure, attempting reconnection",
	})

	m.mu.Lock()
	m.reconnectCount++
	m.mu.Unlock()

	maxAttempts := m.cfg.Acquisition.MaxReconnectAttempts
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		log.Info().Int("attempt", attempt).Int("max", maxAttempts).Msg("reconnection attempt")
		m.teardown()
		time.Sleep(m.cfg.Acquisition.ReconnectDelay)

		if err := m.Connect(target); err != nil {
			log.Error().Err(err).Int("attempt", attempt).Msg("reconnection attempt failed")
			if attempt < maxAttempts {
				m.setState(models.StateReconnecting)
			}
			continue
		}
		log.Info().Int("attempt", attempt).Msg("reconnection succeeded")
		return nil
	}

	m.setState(models.StateError)
	m.emit(models.EventLog{
		Type: models.EventTypeConnError, Level: models.EventLevelError,
		Description: fmt.Sprintf("reconnection abandoned after %d attempts", maxAttempts),
	})
	return fmt.Errorf("reconnection abandoned after %d attempts", maxAttempts)
}

// MarkSeen records a valid sample against a node's bookkeeping. Called by
// the frame aggregator for every accepted sample.
func (m *Manager) MarkSeen(nodeID uint32, value float64, rssi int, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[nodeID]
	if !ok {
		return
	}
	n.LastSeen = now
	n.LastValue = value
	n.PacketCount++
	n.Online = true
	n.ObserveRSSI(rssi)
}

// MarkError counts a rejected sample against a node.
func (m *Manager) MarkError(nodeID uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n, ok := m.nodes[nodeID]; ok {
		n.ErrorCount++
	}
}

// sweepNodeTimeouts marks nodes offline once their last_seen exceeds the
// node timeout. This bookkeeping is for operator diagnostics; the processing
// engine applies its own, shorter connectivity window to the net total.
func (m *Manager) sweepNodeTimeouts(now time.Time) {
	m.mu.Lock()
	var timedOut []models.NodeStatus
	for _, n := range m.nodes {
		if n.Online && now.Sub(n.LastSeen) > m.cfg.Acquisition.NodeTimeout {
			n.Online = false
			timedOut = append(timedOut, *n)
		}
	}
	m.mu.Unlock()

	for i := range timedOut {
		n := timedOut[i]
		log.Warn().Uint32("node", n.NodeID).Str("name", n.Name).
			Dur("timeout", m.cfg.Acquisition.NodeTimeout).Msg("node timed out")
		m.emit(models.EventLog{
			NodeID: &n.NodeID,
			Type:   models.EventTypeNodeTimeout, Level: models.EventLevelWarning,
			Description: fmt.Sprintf("node %s (%d) timed out", n.Name, n.NodeID),
		})
	}
}

// NodeStatuses returns a copy of the per-node bookkeeping, ordered by id.
func (m *Manager) NodeStatuses() []models.NodeStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.NodeStatus, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// Stats returns manager-level counters for the status endpoint.
func (m *Manager) Stats() models.Variables {
	m.mu.RLock()
	defer m.mu.RUnlock()

	online := 0
	configured := 0
	for _, n := range m.nodes {
		if n.Online {
			online++
		}
		if n.Configured {
			configured++
		}
	}

	var uptime float64
	if !m.connectedAt.IsZero() && (m.state == models.StateConnected || m.state == models.StateSampling) {
		uptime = time.Since(m.connectedAt).Seconds()
	}

	return models.Variables{
		"state":             string(m.state),
		"target":            m.target,
		"nodes_expected":    len(m.nodes),
		"nodes_online":      online,
		"nodes_configured":  configured,
		"reconnect_count":   m.reconnectCount,
		"beacon_recoveries": m.beaconRecoveries,
		"uptime_seconds":    uptime,
	}
}

// startKeepaliveMonitor launches the beacon watchdog. It only touches
// transport keepalive state, never frame or filter state.
func (m *Manager) startKeepaliveMonitor() {
	m.mu.Lock()
	if m.keepaliveStop != nil {
		m.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	m.keepaliveStop = stop
	m.keepaliveDone = done
	m.mu.Unlock()

	go m.keepaliveLoop(stop, done)
	log.Debug().Dur("interval", m.cfg.Acquisition.BeaconCheckInterval).Msg("beacon monitor started")
}

func (m *Manager) stopKeepaliveMonitor() {
	m.mu.Lock()
	stop := m.keepaliveStop
	done := m.keepaliveDone
	m.keepaliveStop = nil
	m.keepaliveDone = nil
	m.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

func (m *Manager) keepaliveLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.Acquisition.BeaconCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !m.IsConnected() {
				return
			}

			enabled, err := m.tr.KeepaliveStatus()
			if err == nil && enabled {
				continue
			}
			if err != nil {
				log.Warn().Err(err).Msg("beacon status unreadable, re-enabling")
			} else {
				log.Warn().Msg("beacon found disabled, re-enabling")
			}

			if err := m.tr.SetKeepalive(true); err != nil {
				log.Error().Err(err).Msg("beacon re-enable failed")
				continue
			}

			m.mu.Lock()
			m.beaconRecoveries++
			m.mu.Unlock()

			m.emit(models.EventLog{
				Type: models.EventTypeBeaconRecovery, Level: models.EventLevelWarning,
				Description: "beacon re-enabled by keepalive monitor",
			})
		}
	}
}
