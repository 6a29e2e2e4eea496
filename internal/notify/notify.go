// Package notify publishes recording status transitions over MQTT so mobile
// clients can learn when processing finishes without polling.
package notify

import (
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Publisher posts one retained JSON message per status transition to
// {topicPrefix}/{recording_id}/status.
type Publisher struct {
	conn        mqtt.Client
	topicPrefix string
	log         zerolog.Logger
}

// Options configures the MQTT publisher.
type Options struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string
	Log         zerolog.Logger
}

// StatusEvent is the wire payload for a status transition.
type StatusEvent struct {
	RecordingID string    `json:"recording_id"`
	Status      string    `json:"status"`
	At          time.Time `json:"at"`
}

// Connect establishes the broker connection. The returned publisher
// auto-reconnects; transient broker outages only delay events.
func Connect(opts Options) (*Publisher, error) {
	p := &Publisher{
		topicPrefix: opts.TopicPrefix,
		log:         opts.Log,
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			p.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
		})

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	p.conn = mqtt.NewClient(clientOpts)
	token := p.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}

	p.log.Info().Str("broker", opts.BrokerURL).Str("topic_prefix", opts.TopicPrefix).Msg("mqtt notifier connected")
	return p, nil
}

// PublishStatus emits a status transition. Publish failures are logged, not
// returned — notifications are best-effort and must never affect a run.
func (p *Publisher) PublishStatus(recordingID uuid.UUID, status string) {
	payload, err := json.Marshal(StatusEvent{
		RecordingID: recordingID.String(),
		Status:      status,
		At:          time.Now().UTC(),
	})
	if err != nil {
		p.log.Error().Err(err).Msg("marshal status event")
		return
	}

	topic := p.topicPrefix + "/" + recordingID.String() + "/status"
	token := p.conn.Publish(topic, 0, true, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			p.log.Warn().Err(err).Str("topic", topic).Msg("mqtt publish failed")
		}
	}()
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.log.Info().Msg("disconnecting mqtt notifier")
	p.conn.Disconnect(1000)
}
