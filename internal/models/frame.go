package models

import (
	"time"
)

// WeightFrame is an emitted, immutable record representing one synchronized
// sampling instant across all expected nodes. Only complete frames are ever
// emitted; a frame missing any expected node is dropped by the aggregator.
type WeightFrame struct {
	TimestampNS int64              `json:"timestampNs"`
	ReceivedAt  time.Time          `json:"receivedAt"`
	Values      map[uint32]float64 `json:"values"`
	RSSI        map[uint32]int     `json:"rssi"`
	Total       float64            `json:"total"`
}

// Timestamp returns the frame instant as wall-clock time.
func (f *WeightFrame) Timestamp() time.Time {
	return time.Unix(0, f.TimestampNS)
}
