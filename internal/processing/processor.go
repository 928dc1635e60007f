// Package processing implements the per-node filter chain and the tare
// engine. Raw per-node values from complete frames pass through a median
// filter that kills single-sample spikes, then through an exponential moving
// average that smooths the residual noise, then through a subtractive tare
// offset. The processor also tracks per-node connectivity from sample
// arrival times and fires disconnect events exactly once per transition.
package processing

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/scale-server/scale-server-pro/internal/config"
	"github.com/scale-server/scale-server-pro/internal/models"
)

// nodeState is the per-node mutable filter state. Only the acquisition
// goroutine touches it.
type nodeState struct {
	def models.NodeDef

	window    []float64
	windowCap int

	ema    float64
	seeded bool

	tare float64

	lastRaw      float64
	lastFiltered float64
	lastSeen     time.Time
	connected    bool
}

// push appends a raw value to the median window, evicting the oldest entry
// once the window is full.
func (n *nodeState) push(value float64) {
	if len(n.window) == n.windowCap {
		copy(n.window, n.window[1:])
		n.window[len(n.window)-1] = value
		return
	}
	n.window = append(n.window, value)
}

// median computes the median over the values accumulated so far. During
// warm-up the window holds fewer than windowCap entries and the median is
// taken over what is there.
func (n *nodeState) median() float64 {
	sorted := make([]float64, len(n.window))
	copy(sorted, n.window)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// Processor owns the filter chain, tare offsets and connectivity tracking
// for every configured node. It is not safe for concurrent use.
type Processor struct {
	nodes map[uint32]*nodeState
	order []uint32

	alpha         float64
	sensorTimeout time.Duration
}

// New creates a processor for the configured node set.
func New(defs []models.NodeDef, filter config.FilterConfig) *Processor {
	p := &Processor{
		nodes:         make(map[uint32]*nodeState, len(defs)),
		alpha:         filter.EMAAlpha,
		sensorTimeout: filter.SensorTimeout,
	}
	for _, def := range defs {
		p.nodes[def.NodeID] = &nodeState{
			def:       def,
			window:    make([]float64, 0, filter.MedianWindow),
			windowCap: filter.MedianWindow,
		}
		p.order = append(p.order, def.NodeID)
	}
	sort.Slice(p.order, func(i, j int) bool { return p.order[i] < p.order[j] })
	return p
}

// Process feeds zero or more complete frames through the filter chain and
// returns the cycle result. With no frames the filter state is untouched but
// connectivity is still swept, so a silent network keeps producing results
// with decaying node liveness.
func (p *Processor) Process(frames []*models.WeightFrame, now time.Time) *models.ProcessedResult {
	result := &models.ProcessedResult{
		Readings:    make(map[string]models.NodeReading, len(p.nodes)),
		ProcessedAt: now,
	}

	for _, frame := range frames {
		p.applyFrame(frame, result)
	}
	p.sweepConnectivity(now, result)

	for _, id := range p.order {
		n := p.nodes[id]
		net := n.lastFiltered - n.tare

		result.Readings[n.def.Name] = models.NodeReading{
			NodeID:    id,
			Name:      n.def.Name,
			Channel:   n.def.Channel,
			Net:       net,
			Filtered:  n.lastFiltered,
			Raw:       n.lastRaw,
			Tare:      n.tare,
			Connected: n.connected,
		}

		if n.connected {
			result.Total += net
		} else {
			result.AnyDisconnected = true
		}
		result.TareTotal += n.tare
	}
	return result
}

// applyFrame runs one frame's values through median and EMA and refreshes
// per-node liveness.
func (p *Processor) applyFrame(frame *models.WeightFrame, result *models.ProcessedResult) {
	for id, raw := range frame.Values {
		n, ok := p.nodes[id]
		if !ok {
			continue
		}

		n.push(raw)
		med := n.median()

		// The EMA seeds from the first median output rather than zero,
		// otherwise the displayed weight would ramp up from nothing on
		// every connect.
		if !n.seeded {
			n.ema = med
			n.seeded = true
		} else {
			n.ema = p.alpha*med + (1-p.alpha)*n.ema
		}

		seenBefore := !n.lastSeen.IsZero()
		n.lastRaw = raw
		n.lastFiltered = n.ema
		n.lastSeen = frame.ReceivedAt

		if !n.connected {
			// First-ever sample is a plain connect, not a recovery.
			if seenBefore {
				result.Logs = append(result.Logs, fmt.Sprintf("node %s reconnected", n.def.Name))
				result.ReconnectEvents = append(result.ReconnectEvents, models.DisconnectEvent{
					NodeID:    id,
					Name:      n.def.Name,
					Timestamp: frame.ReceivedAt,
				})
				log.Info().Uint32("node", id).Str("name", n.def.Name).Msg("node data resumed")
			}
			n.connected = true
		}
	}
}

// sweepConnectivity marks nodes silent for longer than the sensor timeout as
// disconnected. The transition fires exactly once; a node already marked
// disconnected stays silent until data resumes.
func (p *Processor) sweepConnectivity(now time.Time, result *models.ProcessedResult) {
	for _, id := range p.order {
		n := p.nodes[id]
		if !n.connected {
			continue
		}
		if n.lastSeen.IsZero() || now.Sub(n.lastSeen) <= p.sensorTimeout {
			continue
		}

		n.connected = false
		result.DisconnectEvents = append(result.DisconnectEvents, models.DisconnectEvent{
			NodeID:    id,
			Name:      n.def.Name,
			Timestamp: now,
		})
		result.Logs = append(result.Logs, fmt.Sprintf("node %s disconnected", n.def.Name))
		log.Warn().Uint32("node", id).Str("name", n.def.Name).
			Dur("silent_for", now.Sub(n.lastSeen)).Msg("node data lost")
	}
}

// SetTare captures the current filtered value as the tare offset for every
// node that has produced at least one, making subsequent net readings
// relative to the load present right now. A node with no filtered value yet
// (fresh connect, nothing received) keeps its previous offset instead of
// having it wiped to zero. Setting tare twice without resetting replaces the
// offsets, it does not stack them.
func (p *Processor) SetTare() models.Variables {
	offsets := make(models.Variables, len(p.nodes))
	for _, id := range p.order {
		n := p.nodes[id]
		if n.seeded {
			n.tare = n.lastFiltered
		}
		offsets[n.def.Name] = n.tare
	}
	log.Info().Interface("offsets", offsets).Msg("tare set")
	return offsets
}

// ResetTare clears all tare offsets.
func (p *Processor) ResetTare() {
	for _, n := range p.nodes {
		n.tare = 0
	}
	log.Info().Msg("tare reset")
}

// Reset clears all filter state and connectivity, leaving tare offsets in
// place. Called when a new connection is established so stale windows from a
// previous session never leak into fresh readings.
func (p *Processor) Reset() {
	for _, n := range p.nodes {
		n.window = n.window[:0]
		n.ema = 0
		n.seeded = false
		n.lastRaw = 0
		n.lastFiltered = 0
		n.lastSeen = time.Time{}
		n.connected = false
	}
}

// Stats returns filter counters for the status endpoint.
func (p *Processor) Stats() models.Variables {
	connected := 0
	tared := 0
	for _, n := range p.nodes {
		if n.connected {
			connected++
		}
		if n.tare != 0 {
			tared++
		}
	}
	return models.Variables{
		"nodes_total":     len(p.nodes),
		"nodes_connected": connected,
		"nodes_tared":     tared,
	}
}
