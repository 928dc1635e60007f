// Package acquisition runs the single goroutine that owns all mutable
// per-node state. The loop polls the station manager, feeds the frame
// aggregator and the processing engine, and is the only writer of filter,
// tare and frame state. The API layer talks to it exclusively through the
// command channel and reads back through snapshots.
package acquisition

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/scale-server/scale-server-pro/internal/aggregator"
	"github.com/scale-server/scale-server-pro/internal/config"
	"github.com/scale-server/scale-server-pro/internal/models"
	"github.com/scale-server/scale-server-pro/internal/processing"
	"github.com/scale-server/scale-server-pro/internal/station"
	"github.com/scale-server/scale-server-pro/internal/storage"
)

// Publisher pushes weight results and events onto the message bus. A nil
// Publisher disables publication.
type Publisher interface {
	PublishWeight(result *models.ProcessedResult) error
	PublishEvent(event *models.EventLog) error
}

const commandBuffer = 16

// Loop is the acquisition supervisor. Create with New, start with Run.
type Loop struct {
	cfg   *config.Config
	mgr   *station.Manager
	agg   *aggregator.Aggregator
	proc  *processing.Processor
	store storage.Store
	pub   Publisher

	commands chan models.Command

	mu     sync.RWMutex
	latest models.Snapshot

	subMu sync.Mutex
	subs  map[chan models.Snapshot]struct{}
}

// New wires a loop around its collaborators. store must not be nil (use
// storage.NewNopStore); pub may be nil.
func New(cfg *config.Config, mgr *station.Manager, store storage.Store, pub Publisher) *Loop {
	l := &Loop{
		cfg:      cfg,
		mgr:      mgr,
		agg:      aggregator.New(cfg.ExpectedNodeIDs(), cfg.Acquisition, mgr),
		proc:     processing.New(cfg.Nodes, cfg.Filter),
		store:    store,
		pub:      pub,
		commands: make(chan models.Command, commandBuffer),
		subs:     make(map[chan models.Snapshot]struct{}),
		latest:   models.Snapshot{State: models.StateDisconnected},
	}
	mgr.OnEvent = l.handleEvent
	return l
}

// Send queues a command for the loop. Commands are drained once per poll
// interval, so observation latency is bounded by one interval.
func (l *Loop) Send(cmd models.Command) error {
	select {
	case l.commands <- cmd:
		return nil
	default:
		return fmt.Errorf("command queue full")
	}
}

// Snapshot returns the most recent snapshot.
func (l *Loop) Snapshot() models.Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.latest
}

// Subscribe registers a live snapshot feed. Slow consumers miss snapshots
// rather than stalling acquisition. The returned cancel func must be called.
func (l *Loop) Subscribe() (<-chan models.Snapshot, func()) {
	ch := make(chan models.Snapshot, 4)

	l.subMu.Lock()
	l.subs[ch] = struct{}{}
	l.subMu.Unlock()

	cancel := func() {
		l.subMu.Lock()
		delete(l.subs, ch)
		l.subMu.Unlock()
	}
	return ch, cancel
}

// Run drives the loop until the context is cancelled or a SHUTDOWN command
// arrives. Blocking; callers run it on its own goroutine.
func (l *Loop) Run(ctx context.Context) {
	log.Info().Dur("interval", l.cfg.Acquisition.PollInterval).Msg("acquisition loop started")
	defer log.Info().Msg("acquisition loop stopped")

	ticker := time.NewTicker(l.cfg.Acquisition.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.mgr.Disconnect()
			return
		case <-ticker.C:
			if !l.drainCommands() {
				l.mgr.Disconnect()
				return
			}
			l.cycle()
		}
	}
}

// drainCommands applies every queued command. Returns false on SHUTDOWN.
func (l *Loop) drainCommands() bool {
	for {
		select {
		case cmd := <-l.commands:
			if cmd.Type == models.CommandShutdown {
				return false
			}
			l.apply(cmd)
		default:
			return true
		}
	}
}

func (l *Loop) apply(cmd models.Command) {
	switch cmd.Type {
	case models.CommandConnect:
		target := cmd.Target
		if target == "" {
			target = l.cfg.Transport.Target
		}
		// A fresh connection starts a fresh session: stale frame buckets
		// and filter windows must not bleed into it. Tare offsets survive.
		l.agg.Reset()
		l.proc.Reset()
		if err := l.mgr.Connect(target); err != nil {
			log.Error().Err(err).Str("target", target).Msg("connect failed")
		}

	case models.CommandDisconnect:
		l.mgr.Disconnect()
		l.agg.Reset()

	case models.CommandTare:
		offsets := l.proc.SetTare()
		l.handleEvent(models.EventLog{
			Type: models.EventTypeTareSet, Level: models.EventLevelInfo,
			Description: "tare offsets captured",
			Details:     offsets,
		})

	case models.CommandResetTare:
		l.proc.ResetTare()
		l.handleEvent(models.EventLog{
			Type: models.EventTypeTareReset, Level: models.EventLevelInfo,
			Description: "tare offsets cleared",
		})

	default:
		log.Warn().Str("type", string(cmd.Type)).Msg("unknown command ignored")
	}
}

// cycle runs one poll-aggregate-process pass and publishes the snapshot.
func (l *Loop) cycle() {
	now := time.Now()

	samples, err := l.mgr.Poll()
	if err != nil {
		log.Error().Err(err).Msg("poll failed, entering reconnection")
		l.agg.Reset()
		if rerr := l.mgr.Reconnect(); rerr != nil {
			log.Error().Err(rerr).Msg("reconnection abandoned")
		}
		l.publishSnapshot(models.Snapshot{State: l.mgr.State(), Stats: l.stats()})
		return
	}

	if !l.mgr.IsConnected() {
		l.publishSnapshot(models.Snapshot{State: l.mgr.State(), Stats: l.stats()})
		return
	}

	l.agg.Ingest(samples, now)
	frames := l.agg.Collect(now)
	result := l.proc.Process(frames, now)

	for _, ev := range result.DisconnectEvents {
		nodeID := ev.NodeID
		l.handleEvent(models.EventLog{
			NodeID: &nodeID,
			Type:   models.EventTypeNodeDisconnect, Level: models.EventLevelWarning,
			Description: fmt.Sprintf("node %s stopped reporting", ev.Name),
		})
	}
	for _, ev := range result.ReconnectEvents {
		nodeID := ev.NodeID
		l.handleEvent(models.EventLog{
			NodeID: &nodeID,
			Type:   models.EventTypeNodeReconnect, Level: models.EventLevelInfo,
			Description: fmt.Sprintf("node %s resumed reporting", ev.Name),
		})
	}

	if l.pub != nil && len(frames) > 0 {
		if err := l.pub.PublishWeight(result); err != nil {
			log.Debug().Err(err).Msg("weight publication failed")
		}
	}

	l.publishSnapshot(models.Snapshot{
		State:  l.mgr.State(),
		Result: result,
		Stats:  l.stats(),
	})
}

func (l *Loop) stats() models.Variables {
	stats := l.mgr.Stats()
	for k, v := range l.agg.Stats() {
		stats["agg_"+k] = v
	}
	for k, v := range l.proc.Stats() {
		stats["proc_"+k] = v
	}
	return stats
}

func (l *Loop) publishSnapshot(snap models.Snapshot) {
	l.mu.Lock()
	l.latest = snap
	l.mu.Unlock()

	l.subMu.Lock()
	for ch := range l.subs {
		select {
		case ch <- snap:
		default:
		}
	}
	l.subMu.Unlock()
}

// handleEvent persists and publishes a discrete event. Runs on the
// acquisition goroutine and on the keepalive monitor goroutine; everything
// it touches is safe for that.
func (l *Loop) handleEvent(ev models.EventLog) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := l.store.CreateEventLog(ctx, &ev); err != nil {
		log.Error().Err(err).Str("type", string(ev.Type)).Msg("event not persisted")
	}
	if l.pub != nil {
		if err := l.pub.PublishEvent(&ev); err != nil {
			log.Debug().Err(err).Str("type", string(ev.Type)).Msg("event publication failed")
		}
	}
}

// NodeStatuses exposes the manager's per-node bookkeeping to the API layer.
func (l *Loop) NodeStatuses() []models.NodeStatus {
	return l.mgr.NodeStatuses()
}

// State exposes the connection state to the API layer.
func (l *Loop) State() models.ConnectionState {
	return l.mgr.State()
}
