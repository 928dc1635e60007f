package models

import (
	"time"

	"github.com/google/uuid"
)

// EventLog represents a discrete, operator-visible event. Only events are
// persisted; individual weight readings never are.
type EventLog struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	NodeID *uint32 `json:"nodeId,omitempty" db:"node_id"`

	Type        EventType  `json:"type" db:"type"`
	Level       EventLevel `json:"level" db:"level"`
	Description string     `json:"description" db:"description"`

	Details Variables `json:"details,omitempty" db:"details"`
}

// EventType represents event types
type EventType string

const (
	// Connection events
	EventTypeConnected    EventType = "CONNECTED"
	EventTypeDisconnected EventType = "DISCONNECTED"
	EventTypeReconnecting EventType = "RECONNECTING"
	EventTypeConnError    EventType = "CONNECTION_ERROR"
	EventTypeSyncError    EventType = "SYNC_NETWORK_ERROR"

	// Node events
	EventTypeNodeDisconnect EventType = "NODE_DISCONNECT"
	EventTypeNodeReconnect  EventType = "NODE_RECONNECT"
	EventTypeNodeTimeout    EventType = "NODE_TIMEOUT"
	EventTypeNodeConfig     EventType = "NODE_CONFIG"

	// Operation events
	EventTypeTareSet        EventType = "TARE_SET"
	EventTypeTareReset      EventType = "TARE_RESET"
	EventTypeBeaconRecovery EventType = "BEACON_RECOVERY"
)

// EventLevel represents event severity levels
type EventLevel string

const (
	EventLevelDebug   EventLevel = "DEBUG"
	EventLevelInfo    EventLevel = "INFO"
	EventLevelWarning EventLevel = "WARNING"
	EventLevelError   EventLevel = "ERROR"
)
