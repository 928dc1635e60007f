package models

import (
	"time"
)

// ConnectionState represents the process-wide connection state owned by the
// station manager.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateSampling     ConnectionState = "sampling"
	StateReconnecting ConnectionState = "reconnecting"
	StateError        ConnectionState = "error"
)

// CommandType identifies a command sent from the display/API layer to the
// acquisition loop.
type CommandType string

const (
	CommandConnect    CommandType = "CONNECT"
	CommandDisconnect CommandType = "DISCONNECT"
	CommandTare       CommandType = "TARE"
	CommandResetTare  CommandType = "RESET_TARE"
	CommandShutdown   CommandType = "SHUTDOWN"
)

// Command is a single instruction for the acquisition loop. The loop drains
// pending commands once per poll cycle, so a command is observed within one
// poll interval.
type Command struct {
	Type   CommandType `json:"type"`
	Target string      `json:"target,omitempty"`
}

// DisconnectEvent fires exactly once when a node's connectivity transitions
// from connected to disconnected. It is consumed once by the event queue.
type DisconnectEvent struct {
	NodeID    uint32    `json:"nodeId"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
}

// NodeReading is the per-node slice of a processing cycle's output.
type NodeReading struct {
	NodeID    uint32  `json:"nodeId"`
	Name      string  `json:"name"`
	Channel   string  `json:"channel"`
	Net       float64 `json:"net"`
	Filtered  float64 `json:"filtered"`
	Raw       float64 `json:"raw"`
	Tare      float64 `json:"tare"`
	Connected bool    `json:"connected"`
}

// ProcessedResult is the structured output of one processing cycle: per-node
// readings, totals and any newly fired logs/events. The total sums net values
// of connected nodes only; a disconnected node's stale net value is still
// reported individually but never contributes to the total.
type ProcessedResult struct {
	Readings         map[string]NodeReading `json:"readings"`
	Total            float64                `json:"total"`
	TareTotal        float64                `json:"tareTotal"`
	AnyDisconnected  bool                   `json:"anyDisconnected"`
	Logs             []string               `json:"logs,omitempty"`
	DisconnectEvents []DisconnectEvent      `json:"disconnectEvents,omitempty"`
	ReconnectEvents  []DisconnectEvent      `json:"reconnectEvents,omitempty"`
	ProcessedAt      time.Time              `json:"processedAt"`
}

// Snapshot couples a processing result with the connection state at the time
// it was produced. This is the unit pushed to the display layer.
type Snapshot struct {
	State  ConnectionState  `json:"state"`
	Result *ProcessedResult `json:"result,omitempty"`
	Stats  Variables        `json:"stats,omitempty"`
}
