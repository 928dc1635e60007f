// Package transport abstracts the base-station link. The station manager
// never special-cases an implementation: the simulated transport and the TCP
// station client satisfy the same contract.
package transport

import (
	"fmt"
	"time"

	"github.com/scale-server/scale-server-pro/internal/config"
	"github.com/scale-server/scale-server-pro/internal/models"
)

// Transport is the contract the station manager drives. Open/Close bracket
// the connection lifetime; Poll blocks at most for the given timeout and may
// return an empty batch. Node-level calls address individual wireless nodes;
// the sampling-group calls control synchronized acquisition across all
// registered nodes.
type Transport interface {
	Open(target string) error
	Close() error
	IsAlive() bool

	Ping() bool
	PingNode(nodeID uint32) bool

	Poll(timeout time.Duration) ([]models.RawSample, error)

	ConfigureNode(nodeID uint32, sampleRateHz int, mode string) error
	RegisterNode(nodeID uint32) error
	StartSampling() error
	StopSampling() error

	SetKeepalive(enabled bool) error
	KeepaliveStatus() (bool, error)
}

// SyncSamplingMode is the only sampling mode the server forces onto nodes.
const SyncSamplingMode = "sync"

// New builds a transport from configuration.
func New(cfg *config.Config) (Transport, error) {
	switch cfg.Transport.Mode {
	case "mock":
		return NewMock(cfg.Nodes), nil
	case "tcp":
		return NewTCPStation(cfg.Transport.DialTimeout), nil
	default:
		return nil, fmt.Errorf("unknown transport mode %q", cfg.Transport.Mode)
	}
}
