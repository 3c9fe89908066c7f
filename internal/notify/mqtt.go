// Package notify publishes detection events to an MQTT broker so home
// automation can react to commercial breaks.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/yasunobu-nonaka/abema-cm-muter/internal/conf"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/detection"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/errors"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/logging"
)

const (
	connectTimeout = 30 * time.Second
	publishTimeout = 10 * time.Second
)

// EventPayload is the JSON message published per detection event.
type EventPayload struct {
	Node      string    `json:"node"`
	Event     string    `json:"event"`
	PatternID string    `json:"pattern_id"`
	Score     float64   `json:"score"`
	Timestamp time.Time `json:"timestamp"`
	Duration  float64   `json:"duration_seconds,omitempty"`
}

// Publisher sends detection events to the configured MQTT topic.
type Publisher struct {
	settings *conf.Settings
	client   mqtt.Client
	log      *slog.Logger
}

// NewPublisher creates an unconnected publisher from the settings.
func NewPublisher(settings *conf.Settings) *Publisher {
	return &Publisher{
		settings: settings,
		log:      logging.ForService("notify"),
	}
}

// Connect establishes the broker connection.
func (p *Publisher) Connect(ctx context.Context) error {
	cfg := p.settings.Realtime.MQTT

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID("cm-muter-" + p.settings.Main.Name)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetOnConnectHandler(func(mqtt.Client) {
		p.log.Info("connected to MQTT broker", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.log.Warn("MQTT connection lost", "error", err)
	})

	p.client = mqtt.NewClient(opts)

	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return errors.Newf("timeout connecting to MQTT broker %s", cfg.Broker).
			Component("notify").
			Category(errors.CategoryTimeout).
			Build()
	}
	if err := token.Error(); err != nil {
		return errors.New(err).
			Component("notify").
			Category(errors.CategoryIntegration).
			Context("broker", cfg.Broker).
			Build()
	}
	return nil
}

// Publish sends one detection event. It is safe to call before Connect;
// the event is dropped with an error instead of panicking.
func (p *Publisher) Publish(ctx context.Context, ev detection.Event) error {
	if p.client == nil || !p.client.IsConnected() {
		return errors.Newf("MQTT client not connected").
			Component("notify").
			Category(errors.CategoryIntegration).
			Build()
	}

	payload := EventPayload{
		Node:      p.settings.Main.Name,
		Event:     ev.Type.String(),
		PatternID: ev.PatternID,
		Score:     ev.Score,
		Timestamp: ev.Timestamp,
	}
	if ev.Type == detection.MatchEnd {
		payload.Duration = ev.Duration.Seconds()
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	token := p.client.Publish(p.settings.Realtime.MQTT.Topic, 0, false, data)
	if !token.WaitTimeout(publishTimeout) {
		return errors.Newf("timeout publishing to %s", p.settings.Realtime.MQTT.Topic).
			Component("notify").
			Category(errors.CategoryTimeout).
			Build()
	}
	return token.Error()
}

// Close disconnects from the broker, flushing in-flight messages.
func (p *Publisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}

// Execute lets the publisher run as a dispatched action.
func (p *Publisher) Execute(ctx context.Context, ev detection.Event) error {
	return p.Publish(ctx, ev)
}

// Description identifies the action in logs.
func (p *Publisher) Description() string {
	return "MQTT event publisher"
}
