// Package integration connects the acquisition pipeline to the outside
// world: a NATS publisher for the internal bus and a forwarder that relays
// bus traffic to MQTT brokers and HTTP webhooks.
package integration

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/scale-server/scale-server-pro/internal/config"
	"github.com/scale-server/scale-server-pro/internal/models"
)

// NATSPublisher publishes weight results and events to the message bus.
type NATSPublisher struct {
	nc  *nats.Conn
	cfg config.NATSConfig
}

// NewNATSPublisher connects to the bus. The connection auto-reconnects
// within the configured bounds; publishes during an outage are dropped by
// the bus, never blocking acquisition.
func NewNATSPublisher(cfg config.NATSConfig) (*NATSPublisher, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectInterval),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS %s: %w", cfg.URL, err)
	}

	log.Info().Str("url", cfg.URL).Msg("connected to NATS")
	return &NATSPublisher{nc: nc, cfg: cfg}, nil
}

// Conn exposes the underlying connection for the forwarder.
func (p *NATSPublisher) Conn() *nats.Conn { return p.nc }

// PublishWeight publishes a processing result to the weight subject.
func (p *NATSPublisher) PublishWeight(result *models.ProcessedResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal weight result: %w", err)
	}
	return p.nc.Publish(p.cfg.WeightSubject, data)
}

// PublishEvent publishes a discrete event to the event subject.
func (p *NATSPublisher) PublishEvent(event *models.EventLog) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.nc.Publish(p.cfg.EventSubject, data)
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.nc.Drain(); err != nil {
		log.Debug().Err(err).Msg("NATS drain")
	}
}
