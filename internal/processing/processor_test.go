package processing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scale-server/scale-server-pro/internal/config"
	"github.com/scale-server/scale-server-pro/internal/models"
)

func testFilterConfig() config.FilterConfig {
	return config.FilterConfig{
		MedianWindow:  5,
		EMAAlpha:      0.3,
		SensorTimeout: 3 * time.Second,
	}
}

func twoNodes() []models.NodeDef {
	return []models.NodeDef{
		{Name: "front_left", NodeID: 1, Channel: "ch1"},
		{Name: "front_right", NodeID: 2, Channel: "ch1"},
	}
}

func frameAt(received time.Time, values map[uint32]float64) *models.WeightFrame {
	return &models.WeightFrame{
		TimestampNS: received.UnixNano(),
		ReceivedAt:  received,
		Values:      values,
	}
}

// feed runs one single-node frame per value through the processor and
// returns the last result.
func feed(p *Processor, nodeID uint32, values []float64, start time.Time) *models.ProcessedResult {
	var result *models.ProcessedResult
	now := start
	for _, v := range values {
		now = now.Add(50 * time.Millisecond)
		result = p.Process([]*models.WeightFrame{frameAt(now, map[uint32]float64{nodeID: v})}, now)
	}
	return result
}

func TestMedianSuppressesSpike(t *testing.T) {
	p := New([]models.NodeDef{{Name: "cell", NodeID: 1, Channel: "ch1"}}, config.FilterConfig{
		MedianWindow:  5,
		EMAAlpha:      1.0, // pass the median through unchanged
		SensorTimeout: 3 * time.Second,
	})

	result := feed(p, 1, []float64{5, 5, 50, 5, 5}, time.Now())
	assert.InDelta(t, 5.0, result.Readings["cell"].Filtered, 1e-9)
}

func TestEMASmoothing(t *testing.T) {
	p := New([]models.NodeDef{{Name: "cell", NodeID: 1, Channel: "ch1"}}, config.FilterConfig{
		MedianWindow:  1, // median is the identity here
		EMAAlpha:      0.3,
		SensorTimeout: 3 * time.Second,
	})

	now := time.Now()
	// First value seeds the EMA directly.
	result := feed(p, 1, []float64{10}, now)
	assert.InDelta(t, 10.0, result.Readings["cell"].Filtered, 1e-9)

	// Second value blends: 0.3*20 + 0.7*10 = 13.
	result = feed(p, 1, []float64{20}, now.Add(time.Second))
	assert.InDelta(t, 13.0, result.Readings["cell"].Filtered, 1e-9)
}

func TestTareMakesNetRelative(t *testing.T) {
	p := New(twoNodes(), config.FilterConfig{MedianWindow: 1, EMAAlpha: 1.0, SensorTimeout: 3 * time.Second})

	now := time.Now()
	p.Process([]*models.WeightFrame{frameAt(now, map[uint32]float64{1: 100, 2: 200})}, now)

	offsets := p.SetTare()
	assert.InDelta(t, 100.0, offsets["front_left"].(float64), 1e-9)
	assert.InDelta(t, 200.0, offsets["front_right"].(float64), 1e-9)

	now = now.Add(50 * time.Millisecond)
	result := p.Process([]*models.WeightFrame{frameAt(now, map[uint32]float64{1: 105, 2: 203})}, now)
	assert.InDelta(t, 5.0, result.Readings["front_left"].Net, 1e-9)
	assert.InDelta(t, 3.0, result.Readings["front_right"].Net, 1e-9)
	assert.InDelta(t, 8.0, result.Total, 1e-9)
	assert.InDelta(t, 300.0, result.TareTotal, 1e-9)
}

func TestTareReplacesNotStacks(t *testing.T) {
	p := New(twoNodes(), config.FilterConfig{MedianWindow: 1, EMAAlpha: 1.0, SensorTimeout: 3 * time.Second})

	now := time.Now()
	p.Process([]*models.WeightFrame{frameAt(now, map[uint32]float64{1: 100, 2: 200})}, now)
	p.SetTare()
	p.SetTare()

	now = now.Add(50 * time.Millisecond)
	result := p.Process([]*models.WeightFrame{frameAt(now, map[uint32]float64{1: 100, 2: 200})}, now)
	assert.InDelta(t, 0.0, result.Total, 1e-9)

	p.ResetTare()
	now = now.Add(50 * time.Millisecond)
	result = p.Process([]*models.WeightFrame{frameAt(now, map[uint32]float64{1: 100, 2: 200})}, now)
	assert.InDelta(t, 300.0, result.Total, 1e-9)
	assert.InDelta(t, 0.0, result.TareTotal, 1e-9)
}

func TestTareSkipsNodesWithoutFilteredValue(t *testing.T) {
	p := New(twoNodes(), config.FilterConfig{MedianWindow: 1, EMAAlpha: 1.0, SensorTimeout: 3 * time.Second})

	now := time.Now()
	p.Process([]*models.WeightFrame{frameAt(now, map[uint32]float64{1: 100, 2: 200})}, now)
	p.SetTare()
	p.Reset()

	// After the reset only node 1 has reported again. Taring now must not
	// wipe node 2's surviving offset to zero.
	now = now.Add(time.Second)
	p.Process([]*models.WeightFrame{frameAt(now, map[uint32]float64{1: 110})}, now)
	offsets := p.SetTare()
	assert.InDelta(t, 110.0, offsets["front_left"].(float64), 1e-9)
	assert.InDelta(t, 200.0, offsets["front_right"].(float64), 1e-9)

	now = now.Add(50 * time.Millisecond)
	result := p.Process([]*models.WeightFrame{frameAt(now, map[uint32]float64{1: 110, 2: 200})}, now)
	assert.InDelta(t, 200.0, result.Readings["front_right"].Tare, 1e-9)
	assert.InDelta(t, 0.0, result.Readings["front_right"].Net, 1e-9)
}

func TestDisconnectFiresExactlyOnce(t *testing.T) {
	p := New(twoNodes(), testFilterConfig())

	start := time.Now()
	p.Process([]*models.WeightFrame{frameAt(start, map[uint32]float64{1: 10, 2: 20})}, start)

	// Node 2 goes silent; node 1 keeps reporting past the 3s window.
	now := start.Add(3500 * time.Millisecond)
	result := p.Process([]*models.WeightFrame{frameAt(now, map[uint32]float64{1: 10})}, now)
	require.Len(t, result.DisconnectEvents, 1)
	assert.Equal(t, uint32(2), result.DisconnectEvents[0].NodeID)
	assert.True(t, result.AnyDisconnected)
	assert.False(t, result.Readings["front_right"].Connected)

	// Still silent: no second event.
	now = now.Add(time.Second)
	result = p.Process([]*models.WeightFrame{frameAt(now, map[uint32]float64{1: 10})}, now)
	assert.Empty(t, result.DisconnectEvents)
	assert.True(t, result.AnyDisconnected)

	// Data resumes: reconnect logged, liveness restored.
	now = now.Add(time.Second)
	result = p.Process([]*models.WeightFrame{frameAt(now, map[uint32]float64{1: 10, 2: 20})}, now)
	assert.True(t, result.Readings["front_right"].Connected)
	assert.False(t, result.AnyDisconnected)
	require.NotEmpty(t, result.Logs)
	assert.Contains(t, result.Logs[0], "front_right reconnected")
}

func TestTotalExcludesDisconnectedNodes(t *testing.T) {
	p := New(twoNodes(), config.FilterConfig{MedianWindow: 1, EMAAlpha: 1.0, SensorTimeout: 3 * time.Second})

	start := time.Now()
	p.Process([]*models.WeightFrame{frameAt(start, map[uint32]float64{1: 5, 2: 3})}, start)

	// Node 2 drops out. Its stale value stays visible per node but the
	// total counts connected nodes only.
	now := start.Add(4 * time.Second)
	result := p.Process([]*models.WeightFrame{frameAt(now, map[uint32]float64{1: 5})}, now)
	assert.InDelta(t, 5.0, result.Total, 1e-9)
	assert.InDelta(t, 3.0, result.Readings["front_right"].Filtered, 1e-9)
	assert.True(t, result.AnyDisconnected)
}

func TestNeverSeenNodeIsNotConnected(t *testing.T) {
	p := New(twoNodes(), testFilterConfig())

	now := time.Now()
	result := p.Process(nil, now)
	assert.False(t, result.Readings["front_left"].Connected)
	assert.False(t, result.Readings["front_right"].Connected)
	assert.True(t, result.AnyDisconnected)
	// A node that never reported cannot "disconnect".
	assert.Empty(t, result.DisconnectEvents)
	assert.Empty(t, result.Logs)
}

func TestResetClearsFiltersKeepsTare(t *testing.T) {
	p := New(twoNodes(), config.FilterConfig{MedianWindow: 3, EMAAlpha: 0.3, SensorTimeout: 3 * time.Second})

	now := time.Now()
	p.Process([]*models.WeightFrame{frameAt(now, map[uint32]float64{1: 100, 2: 200})}, now)
	p.SetTare()
	p.Reset()

	now = now.Add(time.Second)
	result := p.Process([]*models.WeightFrame{frameAt(now, map[uint32]float64{1: 100, 2: 200})}, now)
	// Fresh EMA seeds from the new value; tare offsets survive.
	assert.InDelta(t, 100.0, result.Readings["front_left"].Filtered, 1e-9)
	assert.InDelta(t, 0.0, result.Readings["front_left"].Net, 1e-9)
	assert.InDelta(t, 100.0, result.Readings["front_left"].Tare, 1e-9)
}
