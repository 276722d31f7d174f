package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/pump-doser/internal/logging"
	"github.com/sweeney/pump-doser/internal/pump"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// Options configure a RealClient.
type Options struct {
	Broker   string
	ClientID string
	Topics   Topics

	// Router handles inbound messages. Nil means publish-only.
	Router *Router

	// BufferSize bounds the offline queue. Zero uses DefaultBufferSize.
	BufferSize int
}

// RealClient publishes to and subscribes from an actual MQTT broker.
// Messages published while disconnected are queued and replayed in order
// after the next connect.
type RealClient struct {
	client paho.Client
	topics Topics
	router *Router

	mu     sync.Mutex
	buffer *ringBuffer
}

// NewRealClient connects to the broker. If the broker is unreachable the
// client keeps retrying in the background and NewRealClient still succeeds.
func NewRealClient(o Options) (*RealClient, error) {
	if o.Broker == "" {
		return nil, fmt.Errorf("mqtt: broker address required")
	}
	size := o.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	c := &RealClient{
		topics: o.Topics,
		router: o.Router,
		buffer: newRingBuffer(size),
	}

	will, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE", Reason: "LWT"})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetOrderMatters(false).
		SetWill(o.Topics.System, string(will), 1, true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logging.Warn("mqtt connection lost", "error", err)
		})

	c.client = paho.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		logging.Warn("mqtt broker not reachable yet, retrying in background", "broker", o.Broker)
		return c, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return c, nil
}

func (c *RealClient) onConnect(client paho.Client) {
	logging.Info("mqtt connected")

	if c.router != nil {
		filters := make(map[string]byte)
		for _, f := range c.router.Filters() {
			filters[f] = 1
		}
		token := client.SubscribeMultiple(filters, func(_ paho.Client, m paho.Message) {
			c.router.Handle(m.Topic(), m.Payload())
		})
		if token.WaitTimeout(publishTimeout) && token.Error() != nil {
			logging.Error("mqtt subscribe failed", "error", token.Error())
		}
	}

	c.mu.Lock()
	pending := c.buffer.drainAll()
	c.mu.Unlock()
	for _, m := range pending {
		client.Publish(m.topic, m.qos, m.retained, m.payload)
	}
}

// IsConnected reports whether the broker connection is up.
func (c *RealClient) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Buffered returns how many messages wait for a reconnect.
func (c *RealClient) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffer.len()
}

func (c *RealClient) publish(topic string, qos byte, retained bool, payload []byte) error {
	if !c.client.IsConnectionOpen() {
		c.mu.Lock()
		c.buffer.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		c.mu.Unlock()
		return nil
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// PublishDose sends a dose event with QoS 1.
func (c *RealClient) PublishDose(ev pump.DoseEvent) error {
	payload, err := FormatDosePayload(ev)
	if err != nil {
		return fmt.Errorf("format dose payload: %w", err)
	}
	return c.publish(c.topics.Events, 1, false, payload)
}

// PublishEvaluation sends a control-loop check with QoS 0. Evaluations are
// not buffered while offline.
func (c *RealClient) PublishEvaluation(ev pump.Evaluation) error {
	if !c.client.IsConnectionOpen() {
		return nil
	}
	payload, err := FormatEvaluationPayload(ev)
	if err != nil {
		return fmt.Errorf("format evaluation payload: %w", err)
	}
	return c.publish(c.topics.Evaluations, 0, false, payload)
}

// PublishConfig sends the configuration document, retained.
func (c *RealClient) PublishConfig(doc []byte) error {
	if !json.Valid(doc) {
		return fmt.Errorf("publish config: invalid JSON")
	}
	return c.publish(c.topics.Config, 1, true, doc)
}

// PublishSystem sends a system lifecycle event.
func (c *RealClient) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return c.publish(c.topics.System, 1, event.Retained, payload)
}

// Close disconnects from the broker.
func (c *RealClient) Close() error {
	c.client.Disconnect(1000)
	return nil
}
