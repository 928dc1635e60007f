package integration

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/scale-server/scale-server-pro/internal/config"
)

// ForwarderService relays bus traffic to external systems. Weight results go
// to the MQTT topic, events go to both MQTT and the webhook. Forwarding is
// fire-and-forget; a slow or dead target never backpressures acquisition.
type ForwarderService struct {
	nc      *nats.Conn
	natsCfg config.NATSConfig
	mqttCfg config.MQTTConfig
	hookCfg config.WebhookConfig

	mqttClient mqtt.Client
	httpClient *http.Client

	subs []*nats.Subscription
}

// NewForwarderService creates the forwarder. It does nothing until Start.
func NewForwarderService(nc *nats.Conn, cfg *config.Config) *ForwarderService {
	return &ForwarderService{
		nc:      nc,
		natsCfg: cfg.NATS,
		mqttCfg: cfg.MQTT,
		hookCfg: cfg.Webhook,
		httpClient: &http.Client{
			Timeout: cfg.Webhook.Timeout,
		},
	}
}

// Start subscribes to the bus and blocks until the context is cancelled.
func (s *ForwarderService) Start(ctx context.Context) error {
	if !s.mqttCfg.Enabled && !s.hookCfg.Enabled {
		log.Info().Msg("no integration targets enabled, forwarder idle")
		<-ctx.Done()
		return nil
	}

	if s.mqttCfg.Enabled {
		if err := s.connectMQTT(); err != nil {
			// The client retries in the background; publishing starts
			// once the broker becomes reachable.
			log.Error().Err(err).Str("broker", s.mqttCfg.Broker).Msg("initial MQTT connect failed")
		}
	}

	weightSub, err := s.nc.Subscribe(s.natsCfg.WeightSubject, s.handleWeight)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", s.natsCfg.WeightSubject, err)
	}
	s.subs = append(s.subs, weightSub)

	eventSub, err := s.nc.Subscribe(s.natsCfg.EventSubject, s.handleEvent)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", s.natsCfg.EventSubject, err)
	}
	s.subs = append(s.subs, eventSub)

	log.Info().Bool("mqtt", s.mqttCfg.Enabled).Bool("webhook", s.hookCfg.Enabled).
		Msg("integration forwarder started")

	<-ctx.Done()

	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	if s.mqttClient != nil && s.mqttClient.IsConnected() {
		s.mqttClient.Disconnect(250)
	}
	return nil
}

func (s *ForwarderService) connectMQTT() error {
	clientID := s.mqttCfg.ClientID
	if clientID == "" {
		clientID = "scale-server-forwarder"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.mqttCfg.Broker)
	opts.SetClientID(clientID)
	if s.mqttCfg.Username != "" {
		opts.SetUsername(s.mqttCfg.Username)
		opts.SetPassword(s.mqttCfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Str("broker", s.mqttCfg.Broker).Msg("MQTT client connected")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Error().Err(err).Str("broker", s.mqttCfg.Broker).Msg("MQTT connection lost")
	})

	s.mqttClient = mqtt.NewClient(opts)
	token := s.mqttClient.Connect()
	if token.WaitTimeout(10*time.Second) && token.Error() != nil {
		return token.Error()
	}
	return nil
}

func (s *ForwarderService) handleWeight(msg *nats.Msg) {
	if s.mqttCfg.Enabled {
		s.publishMQTT(s.mqttCfg.Topic+"/weight", msg.Data)
	}
}

func (s *ForwarderService) handleEvent(msg *nats.Msg) {
	if s.mqttCfg.Enabled {
		s.publishMQTT(s.mqttCfg.Topic+"/event", msg.Data)
	}
	if s.hookCfg.Enabled {
		go s.postWebhook(msg.Data)
	}
}

func (s *ForwarderService) publishMQTT(topic string, payload []byte) {
	if s.mqttClient == nil || !s.mqttClient.IsConnected() {
		return
	}

	token := s.mqttClient.Publish(topic, s.mqttCfg.QoS, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		log.Error().Str("topic", topic).Msg("MQTT publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("MQTT publish failed")
	}
}

func (s *ForwarderService) postWebhook(payload []byte) {
	req, err := http.NewRequest(http.MethodPost, s.hookCfg.URL, bytes.NewReader(payload))
	if err != nil {
		log.Error().Err(err).Msg("build webhook request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.hookCfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		log.Error().Err(err).Str("url", s.hookCfg.URL).Msg("webhook delivery failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Error().Int("status", resp.StatusCode).Str("url", s.hookCfg.URL).Msg("webhook rejected event")
		return
	}
	log.Debug().Int("status", resp.StatusCode).Msg("event delivered to webhook")
}
