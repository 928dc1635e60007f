// Package aggregator turns an arbitrarily interleaved stream of per-node raw
// samples into frames representing one synchronized sampling instant across
// all expected nodes. Only complete frames are emitted; incomplete frames
// past the aggregation timeout are dropped and counted, never emitted
// partially.
package aggregator

import (
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/scale-server/scale-server-pro/internal/config"
	"github.com/scale-server/scale-server-pro/internal/models"
)

// NodeTracker receives per-sample bookkeeping side effects. The station
// manager implements it.
type NodeTracker interface {
	MarkSeen(nodeID uint32, value float64, rssi int, now time.Time)
	MarkError(nodeID uint32)
}

// openFrame is a mutable timestamp bucket. It is created on the first sample
// that matches no open frame within tolerance and destroyed either by
// emission (complete) or by expiry (incomplete past the timeout).
type openFrame struct {
	keyNS     int64
	readings  map[uint32]float64
	rssi      map[uint32]int
	createdAt time.Time
}

func (f *openFrame) complete(expected map[uint32]bool) bool {
	if len(f.readings) != len(expected) {
		return false
	}
	for id := range expected {
		if _, ok := f.readings[id]; !ok {
			return false
		}
	}
	return true
}

// Aggregator groups samples by timestamp proximity. It is not safe for
// concurrent use; the acquisition goroutine owns it exclusively.
type Aggregator struct {
	expected    map[uint32]bool
	toleranceNS int64
	timeout     time.Duration
	valueMin    float64
	valueMax    float64
	tracker     NodeTracker

	frames map[int64]*openFrame

	totalSamples    uint64
	validSamples    uint64
	invalidSamples  uint64
	completeFrames  uint64
	droppedFrames   uint64
	unexpectedSeen  map[uint32]uint64
}

// New creates an aggregator for the expected node-id set. tracker may be nil.
func New(expected map[uint32]bool, acq config.AcquisitionConfig, tracker NodeTracker) *Aggregator {
	return &Aggregator{
		expected:       expected,
		toleranceNS:    acq.FrameTolerance.Nanoseconds(),
		timeout:        acq.FrameTimeout,
		valueMin:       acq.ValueMin,
		valueMax:       acq.ValueMax,
		tracker:        tracker,
		frames:         make(map[int64]*openFrame),
		unexpectedSeen: make(map[uint32]uint64),
	}
}

// Ingest feeds a batch of raw samples into the open frames.
func (a *Aggregator) Ingest(samples []models.RawSample, now time.Time) {
	for _, s := range samples {
		a.ingestOne(s, now)
	}
}

func (a *Aggregator) ingestOne(s models.RawSample, now time.Time) {
	a.totalSamples++

	// Readings from nodes outside the expected set are tracked but never
	// enter a frame, so they cannot block completeness.
	if !a.expected[s.NodeID] {
		a.unexpectedSeen[s.NodeID]++
		if a.unexpectedSeen[s.NodeID] == 1 {
			log.Warn().Uint32("node", s.NodeID).Msg("sample from unexpected node")
		}
		return
	}

	if s.Value < a.valueMin || s.Value > a.valueMax {
		a.invalidSamples++
		if a.tracker != nil {
			a.tracker.MarkError(s.NodeID)
		}
		log.Warn().Uint32("node", s.NodeID).Float64("value", s.Value).Msg("sample outside sanity bounds rejected")
		return
	}

	a.validSamples++
	if a.tracker != nil {
		a.tracker.MarkSeen(s.NodeID, s.Value, s.RSSI, now)
	}

	key, found := a.findFrameKey(s.TimestampNS)
	if !found {
		key = s.TimestampNS
		a.frames[key] = &openFrame{
			keyNS:     key,
			readings:  make(map[uint32]float64, len(a.expected)),
			rssi:      make(map[uint32]int, len(a.expected)),
			createdAt: now,
		}
	}

	frame := a.frames[key]
	frame.readings[s.NodeID] = s.Value
	frame.rssi[s.NodeID] = s.RSSI
}

// findFrameKey returns the open frame whose key is within tolerance of the
// timestamp. When several open frames qualify (possible under clock jitter
// near the tolerance boundary) the closest key wins, which makes matching
// deterministic.
func (a *Aggregator) findFrameKey(timestampNS int64) (int64, bool) {
	var bestKey int64
	var bestDist int64 = -1

	for key := range a.frames {
		dist := key - timestampNS
		if dist < 0 {
			dist = -dist
		}
		if dist <= a.toleranceNS && (bestDist < 0 || dist < bestDist) {
			bestKey = key
			bestDist = dist
		}
	}
	return bestKey, bestDist >= 0
}

// Collect emits every complete frame in chronological order and discards
// frames that stayed incomplete past the aggregation timeout. Emitted frames
// are immutable records carrying per-node values, per-node RSSI and the raw
// sum. The ordering matters downstream: the filter chain assumes it sees
// frames oldest-first.
func (a *Aggregator) Collect(now time.Time) []*models.WeightFrame {
	var emitted []*models.WeightFrame
	expiry := now.Add(-a.timeout)

	for key, frame := range a.frames {
		switch {
		case frame.complete(a.expected):
			emitted = append(emitted, a.seal(frame, now))
			a.completeFrames++
			delete(a.frames, key)
		case frame.createdAt.Before(expiry):
			a.droppedFrames++
			delete(a.frames, key)
			log.Debug().Int64("key_ns", key).Int("readings", len(frame.readings)).
				Msg("incomplete frame expired")
		}
	}

	sort.Slice(emitted, func(i, j int) bool {
		return emitted[i].TimestampNS < emitted[j].TimestampNS
	})
	return emitted
}

func (a *Aggregator) seal(frame *openFrame, now time.Time) *models.WeightFrame {
	values := make(map[uint32]float64, len(frame.readings))
	rssi := make(map[uint32]int, len(frame.rssi))
	total := 0.0
	for id, v := range frame.readings {
		values[id] = v
		total += v
	}
	for id, r := range frame.rssi {
		rssi[id] = r
	}

	return &models.WeightFrame{
		TimestampNS: frame.keyNS,
		ReceivedAt:  now,
		Values:      values,
		RSSI:        rssi,
		Total:       total,
	}
}

// Reset discards all open frames. Called on disconnect so a reconnect never
// matches against stale buckets.
func (a *Aggregator) Reset() {
	a.frames = make(map[int64]*openFrame)
}

// OpenFrames returns the number of currently open buckets.
func (a *Aggregator) OpenFrames() int {
	return len(a.frames)
}

// Stats returns aggregation counters for the status endpoint.
func (a *Aggregator) Stats() models.Variables {
	return models.Variables{
		"samples_total":    a.totalSamples,
		"samples_valid":    a.validSamples,
		"samples_invalid":  a.invalidSamples,
		"frames_complete":  a.completeFrames,
		"frames_dropped":   a.droppedFrames,
		"frames_open":      len(a.frames),
		"unexpected_nodes": len(a.unexpectedSeen),
	}
}
