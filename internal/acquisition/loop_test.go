package acquisition

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scale-server/scale-server-pro/internal/config"
	"github.com/scale-server/scale-server-pro/internal/models"
	"github.com/scale-server/scale-server-pro/internal/station"
	"github.com/scale-server/scale-server-pro/internal/storage"
	"github.com/scale-server/scale-server-pro/internal/transport"
)

type recordingPublisher struct {
	mu      sync.Mutex
	weights int
	events  []models.EventLog
}

func (p *recordingPublisher) PublishWeight(result *models.ProcessedResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.weights++
	return nil
}

func (p *recordingPublisher) PublishEvent(event *models.EventLog) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *event)
	return nil
}

func (p *recordingPublisher) weightCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.weights
}

func (p *recordingPublisher) eventTypes() map[models.EventType]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[models.EventType]int)
	for _, ev := range p.events {
		out[ev.Type]++
	}
	return out
}

func loopConfig() *config.Config {
	cfg := &config.Config{
		Nodes: []models.NodeDef{
			{Name: "front_left", NodeID: 1, Channel: "ch1"},
			{Name: "front_right", NodeID: 2, Channel: "ch1"},
		},
	}
	cfg.ApplyDefaults()
	cfg.Acquisition.PollInterval = 5 * time.Millisecond
	cfg.Acquisition.ReconnectDelay = time.Millisecond
	return cfg
}

func startLoop(t *testing.T, cfg *config.Config) (*Loop, *transport.Mock, *recordingPublisher, context.CancelFunc) {
	t.Helper()

	mock := transport.NewMock(cfg.Nodes)
	mgr := station.NewManager(cfg, mock)
	pub := &recordingPublisher{}
	loop := New(cfg, mgr, storage.NewNopStore(), pub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		loop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return loop, mock, pub, cancel
}

func waitForState(t *testing.T, loop *Loop, want models.ConnectionState) {
	t.Helper()
	require.Eventually(t, func() bool {
		return loop.Snapshot().State == want
	}, 3*time.Second, 5*time.Millisecond, "expected state %s", want)
}

func TestConnectCommandBringsUpPipeline(t *testing.T) {
	loop, _, pub, _ := startLoop(t, loopConfig())

	require.NoError(t, loop.Send(models.Command{Type: models.CommandConnect, Target: "mock"}))
	waitForState(t, loop, models.StateSampling)

	require.Eventually(t, func() bool {
		snap := loop.Snapshot()
		if snap.Result == nil {
			return false
		}
		fl, ok := snap.Result.Readings["front_left"]
		return ok && fl.Connected && snap.Result.Readings["front_right"].Connected
	}, 3*time.Second, 5*time.Millisecond, "both nodes should report")

	snap := loop.Snapshot()
	assert.Greater(t, snap.Result.Total, 0.0, "mock nodes carry a base load")
	assert.False(t, snap.Result.AnyDisconnected)

	assert.Eventually(t, func() bool { return pub.weightCount() > 0 }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, pub.eventTypes()[models.EventTypeConnected])
}

func TestTareCommandZeroesTotal(t *testing.T) {
	loop, _, pub, _ := startLoop(t, loopConfig())

	require.NoError(t, loop.Send(models.Command{Type: models.CommandConnect, Target: "mock"}))
	waitForState(t, loop, models.StateSampling)
	require.Eventually(t, func() bool {
		snap := loop.Snapshot()
		return snap.Result != nil && snap.Result.Total > 0
	}, 3*time.Second, 5*time.Millisecond)

	require.NoError(t, loop.Send(models.Command{Type: models.CommandTare}))

	// After tare, net readings hover around zero within mock noise.
	assert.Eventually(t, func() bool {
		snap := loop.Snapshot()
		return snap.Result != nil && snap.Result.TareTotal > 0 &&
			math.Abs(snap.Result.Total) < 3.0
	}, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, pub.eventTypes()[models.EventTypeTareSet])

	require.NoError(t, loop.Send(models.Command{Type: models.CommandResetTare}))
	assert.Eventually(t, func() bool {
		snap := loop.Snapshot()
		return snap.Result != nil && snap.Result.TareTotal == 0
	}, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, pub.eventTypes()[models.EventTypeTareReset])
}

func TestDisconnectCommandStopsSampling(t *testing.T) {
	loop, _, pub, _ := startLoop(t, loopConfig())

	require.NoError(t, loop.Send(models.Command{Type: models.CommandConnect, Target: "mock"}))
	waitForState(t, loop, models.StateSampling)

	require.NoError(t, loop.Send(models.Command{Type: models.CommandDisconnect}))
	waitForState(t, loop, models.StateDisconnected)
	assert.Equal(t, 1, pub.eventTypes()[models.EventTypeDisconnected])
}

func TestTransportFailureTriggersReconnection(t *testing.T) {
	loop, mock, pub, _ := startLoop(t, loopConfig())

	require.NoError(t, loop.Send(models.Command{Type: models.CommandConnect, Target: "mock"}))
	waitForState(t, loop, models.StateSampling)

	mock.FailNextPoll()

	// The mock accepts a reopen, so the bounded reconnection recovers.
	assert.Eventually(t, func() bool {
		return pub.eventTypes()[models.EventTypeReconnecting] >= 1
	}, 3*time.Second, 5*time.Millisecond)
	waitForState(t, loop, models.StateSampling)
}

func TestShutdownCommandStopsLoop(t *testing.T) {
	cfg := loopConfig()
	mock := transport.NewMock(cfg.Nodes)
	mgr := station.NewManager(cfg, mock)
	loop := New(cfg, mgr, storage.NewNopStore(), nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		loop.Run(context.Background())
	}()

	require.NoError(t, loop.Send(models.Command{Type: models.CommandConnect, Target: "mock"}))
	require.NoError(t, loop.Send(models.Command{Type: models.CommandShutdown}))

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("loop did not stop on shutdown command")
	}
	assert.Equal(t, models.StateDisconnected, loop.State())
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	loop, _, _, _ := startLoop(t, loopConfig())

	ch, cancelSub := loop.Subscribe()
	defer cancelSub()

	require.NoError(t, loop.Send(models.Command{Type: models.CommandConnect, Target: "mock"}))

	deadline := time.After(3 * time.Second)
	for {
		select {
		case snap := <-ch:
			if snap.State == models.StateSampling && snap.Result != nil {
				return
			}
		case <-deadline:
			t.Fatal("no sampling snapshot received on subscription")
		}
	}
}
