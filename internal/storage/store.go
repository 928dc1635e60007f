// Package storage persists the event audit trail. Individual weight readings
// are intentionally never stored; only discrete events (connections, node
// losses, tare operations) reach the database.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/scale-server/scale-server-pro/internal/models"
)

// Common errors
var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidData = errors.New("invalid data")
)

// Store defines the event-log storage interface
type Store interface {
	// Transaction support
	BeginTx(ctx context.Context) (Store, error)
	Commit() error
	Rollback() error

	// Event log methods
	CreateEventLog(ctx context.Context, event *models.EventLog) error
	ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error)
	PruneEventLogs(ctx context.Context, before time.Time) (int64, error)

	// Close the store
	Close() error
}

// EventLogFilters represents filters for event logs
type EventLogFilters struct {
	NodeID    *uint32
	Type      *models.EventType
	Level     *models.EventLevel
	StartTime *time.Time
	EndTime   *time.Time
}
