package aggregator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scale-server/scale-server-pro/internal/config"
	"github.com/scale-server/scale-server-pro/internal/models"
)

type trackerRecorder struct {
	seen   map[uint32]int
	errors map[uint32]int
}

func newTrackerRecorder() *trackerRecorder {
	return &trackerRecorder{seen: make(map[uint32]int), errors: make(map[uint32]int)}
}

func (t *trackerRecorder) MarkSeen(nodeID uint32, value float64, rssi int, now time.Time) {
	t.seen[nodeID]++
}

func (t *trackerRecorder) MarkError(nodeID uint32) {
	t.errors[nodeID]++
}

func testAcqConfig() config.AcquisitionConfig {
	return config.AcquisitionConfig{
		FrameTolerance: 10 * time.Millisecond,
		FrameTimeout:   50 * time.Millisecond,
		ValueMin:       -50000,
		ValueMax:       50000,
	}
}

func sample(nodeID uint32, value float64, tsNS int64) models.RawSample {
	return models.RawSample{NodeID: nodeID, Channel: "ch1", Value: value, RSSI: -70, TimestampNS: tsNS}
}

func TestCompleteFrameEmitted(t *testing.T) {
	expected := map[uint32]bool{1: true, 2: true, 3: true, 4: true}
	agg := New(expected, testAcqConfig(), nil)

	now := time.Now()
	base := int64(1_000_000_000)
	agg.Ingest([]models.RawSample{
		sample(1, 10.0, base),
		sample(2, 20.0, base+2_000_000),
		sample(3, 30.0, base+4_000_000),
		sample(4, 40.0, base+6_000_000),
	}, now)

	frames := agg.Collect(now)
	require.Len(t, frames, 1)

	frame := frames[0]
	assert.Equal(t, base, frame.TimestampNS)
	assert.Equal(t, 100.0, frame.Total)
	assert.Equal(t, 10.0, frame.Values[1])
	assert.Equal(t, 40.0, frame.Values[4])
	assert.Equal(t, -70, frame.RSSI[2])
	assert.Equal(t, 0, agg.OpenFrames())
}

func TestSamplesOutsideToleranceOpenSeparateFrames(t *testing.T) {
	expected := map[uint32]bool{1: true, 2: true}
	agg := New(expected, testAcqConfig(), nil)

	now := time.Now()
	base := int64(1_000_000_000)
	// 15ms apart exceeds the 10ms tolerance.
	agg.Ingest([]models.RawSample{
		sample(1, 10.0, base),
		sample(2, 20.0, base+15_000_000),
	}, now)

	assert.Equal(t, 2, agg.OpenFrames())
	assert.Empty(t, agg.Collect(now))
}

func TestClosestFrameWinsOnOverlap(t *testing.T) {
	expected := map[uint32]bool{1: true, 2: true, 3: true}
	agg := New(expected, testAcqConfig(), nil)

	now := time.Now()
	// Two open frames 16ms apart. A sample at 9ms is within tolerance of
	// both keys (9ms and 7ms away) and must join the closer one.
	agg.Ingest([]models.RawSample{sample(1, 1.0, 0)}, now)
	agg.Ingest([]models.RawSample{sample(2, 2.0, 16_000_000)}, now)
	agg.Ingest([]models.RawSample{sample(3, 3.0, 9_000_000)}, now)

	require.Equal(t, 2, agg.OpenFrames())

	// Complete the second frame: node 3 must have joined it.
	agg.Ingest([]models.RawSample{sample(1, 1.5, 16_000_001)}, now)
	frames := agg.Collect(now)
	require.Len(t, frames, 1)
	assert.Equal(t, int64(16_000_000), frames[0].TimestampNS)
	assert.Equal(t, 3.0, frames[0].Values[3])
}

func TestCollectEmitsFramesInChronologicalOrder(t *testing.T) {
	expected := map[uint32]bool{1: true, 2: true}
	agg := New(expected, testAcqConfig(), nil)

	now := time.Now()
	base := int64(1_000_000_000)
	// Six complete frames 20ms apart, all collected in one batch. The filter
	// chain downstream depends on seeing them oldest-first.
	for i := int64(0); i < 6; i++ {
		ts := base + i*20_000_000
		agg.Ingest([]models.RawSample{
			sample(1, float64(10+i), ts),
			sample(2, float64(20+i), ts),
		}, now)
	}

	frames := agg.Collect(now)
	require.Len(t, frames, 6)
	for i := 1; i < len(frames); i++ {
		assert.Less(t, frames[i-1].TimestampNS, frames[i].TimestampNS)
	}
	assert.Equal(t, base, frames[0].TimestampNS)
	assert.Equal(t, base+100_000_000, frames[5].TimestampNS)
}

func TestIncompleteFrameDroppedAfterTimeout(t *testing.T) {
	expected := map[uint32]bool{1: true, 2: true}
	agg := New(expected, testAcqConfig(), nil)

	start := time.Now()
	agg.Ingest([]models.RawSample{sample(1, 10.0, 1_000_000_000)}, start)

	// Within the timeout the frame stays open.
	assert.Empty(t, agg.Collect(start.Add(20*time.Millisecond)))
	assert.Equal(t, 1, agg.OpenFrames())

	// Past the timeout it is dropped, never emitted partially.
	assert.Empty(t, agg.Collect(start.Add(60*time.Millisecond)))
	assert.Equal(t, 0, agg.OpenFrames())
	assert.Equal(t, uint64(1), agg.Stats()["frames_dropped"])
}

func TestOutOfBoundsValueRejected(t *testing.T) {
	expected := map[uint32]bool{1: true, 2: true}
	rec := newTrackerRecorder()
	agg := New(expected, testAcqConfig(), rec)

	now := time.Now()
	agg.Ingest([]models.RawSample{
		sample(1, 99999.0, 1_000_000_000),
		sample(2, 20.0, 1_000_000_000),
	}, now)

	// The bad reading never entered a frame, so the frame is incomplete.
	assert.Empty(t, agg.Collect(now))
	assert.Equal(t, 1, rec.errors[1])
	assert.Equal(t, 1, rec.seen[2])
	assert.Equal(t, uint64(1), agg.Stats()["samples_invalid"])
}

func TestUnexpectedNodeNeverBlocksCompleteness(t *testing.T) {
	expected := map[uint32]bool{1: true, 2: true}
	rec := newTrackerRecorder()
	agg := New(expected, testAcqConfig(), rec)

	now := time.Now()
	agg.Ingest([]models.RawSample{
		sample(1, 10.0, 1_000_000_000),
		sample(99, 5.0, 1_000_000_000),
		sample(2, 20.0, 1_000_000_000),
	}, now)

	frames := agg.Collect(now)
	require.Len(t, frames, 1)
	assert.Equal(t, 30.0, frames[0].Total)
	assert.NotContains(t, frames[0].Values, uint32(99))
	assert.Equal(t, 0, rec.seen[99])
	assert.Equal(t, 1, agg.Stats()["unexpected_nodes"])
}

func TestDuplicateReadingOverwritesWithinFrame(t *testing.T) {
	expected := map[uint32]bool{1: true, 2: true}
	agg := New(expected, testAcqConfig(), nil)

	now := time.Now()
	agg.Ingest([]models.RawSample{
		sample(1, 10.0, 1_000_000_000),
		sample(1, 11.0, 1_000_000_000),
		sample(2, 20.0, 1_000_000_000),
	}, now)

	frames := agg.Collect(now)
	require.Len(t, frames, 1)
	assert.Equal(t, 11.0, frames[0].Values[1])
	assert.Equal(t, 31.0, frames[0].Total)
}

func TestMarkSeenCalledPerValidSample(t *testing.T) {
	expected := map[uint32]bool{1: true, 2: true}
	rec := newTrackerRecorder()
	agg := New(expected, testAcqConfig(), rec)

	now := time.Now()
	agg.Ingest([]models.RawSample{
		sample(1, 10.0, 1_000_000_000),
		sample(2, 20.0, 1_000_000_000),
		sample(1, 10.5, 1_040_000_000),
	}, now)

	assert.Equal(t, 2, rec.seen[1])
	assert.Equal(t, 1, rec.seen[2])
}

func TestResetClearsOpenFrames(t *testing.T) {
	expected := map[uint32]bool{1: true, 2: true}
	agg := New(expected, testAcqConfig(), nil)

	now := time.Now()
	agg.Ingest([]models.RawSample{sample(1, 10.0, 1_000_000_000)}, now)
	require.Equal(t, 1, agg.OpenFrames())

	agg.Reset()
	assert.Equal(t, 0, agg.OpenFrames())

	// A reconnect-era sample near the stale key opens a fresh bucket.
	agg.Ingest([]models.RawSample{
		sample(1, 12.0, 1_000_000_000),
		sample(2, 22.0, 1_000_000_000),
	}, now.Add(time.Second))
	frames := agg.Collect(now.Add(time.Second))
	require.Len(t, frames, 1)
	assert.Equal(t, 34.0, frames[0].Total)
}
