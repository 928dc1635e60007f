package models

// RawSample is a single hardware-calibrated reading delivered by the
// transport. Samples are ephemeral: the aggregator consumes them immediately
// and never retains them.
type RawSample struct {
	NodeID      uint32  `json:"nodeId"`
	Channel     string  `json:"channel"`
	Value       float64 `json:"value"`
	RSSI        int     `json:"rssi"`
	TimestampNS int64   `json:"timestampNs"`
}
