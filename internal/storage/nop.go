package storage

import (
	"context"
	"time"

	"github.com/scale-server/scale-server-pro/internal/models"
)

// NopStore discards all events. Used when no database DSN is configured, so
// the rest of the system never has to check for a nil store.
type NopStore struct{}

// NewNopStore creates a store that drops everything.
func NewNopStore() *NopStore { return &NopStore{} }

func (s *NopStore) BeginTx(ctx context.Context) (Store, error) { return s, nil }
func (s *NopStore) Commit() error                              { return nil }
func (s *NopStore) Rollback() error                            { return nil }

func (s *NopStore) CreateEventLog(ctx context.Context, event *models.EventLog) error {
	return nil
}

func (s *NopStore) ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error) {
	return nil, 0, nil
}

func (s *NopStore) PruneEventLogs(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func (s *NopStore) Close() error { return nil }
