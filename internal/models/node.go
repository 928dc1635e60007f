package models

import (
	"time"
)

// RSSIHistorySize bounds the rolling signal-quality window kept per node.
const RSSIHistorySize = 50

// NodeDef maps a logical load-cell position to a physical wireless node.
// The full set of NodeDefs is fixed at startup and defines the expected
// node-id set used for frame completeness.
type NodeDef struct {
	Name    string `json:"name" yaml:"name"`
	NodeID  uint32 `json:"nodeId" yaml:"id"`
	Channel string `json:"channel" yaml:"channel"`
}

// NodeStatus tracks per-node connectivity bookkeeping owned by the station
// manager. It is informational; the processing engine keeps its own, shorter
// connectivity window for net-weight purposes.
type NodeStatus struct {
	NodeID       uint32    `json:"nodeId"`
	Name         string    `json:"name"`
	Channel      string    `json:"channel"`
	Online       bool      `json:"online"`
	Configured   bool      `json:"configured"`
	LastSeen     time.Time `json:"lastSeen"`
	LastValue    float64   `json:"lastValue"`
	LastRSSI     int       `json:"lastRSSI"`
	AvgRSSI      float64   `json:"avgRSSI"`
	PacketCount  uint64    `json:"packetCount"`
	ErrorCount   uint64    `json:"errorCount"`
	rssiHistory  []int
	rssiHistSize int
}

// ObserveRSSI records a signal-quality reading and refreshes the rolling
// average.
func (n *NodeStatus) ObserveRSSI(rssi int) {
	if n.rssiHistSize == 0 {
		n.rssiHistSize = RSSIHistorySize
	}
	n.rssiHistory = append(n.rssiHistory, rssi)
	if len(n.rssiHistory) > n.rssiHistSize {
		n.rssiHistory = n.rssiHistory[1:]
	}

	sum := 0
	for _, v := range n.rssiHistory {
		sum += v
	}
	n.LastRSSI = rssi
	n.AvgRSSI = float64(sum) / float64(len(n.rssiHistory))
}
