package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sweeney/pump-doser/internal/logging"
	"github.com/sweeney/pump-doser/internal/sensor"
)

// ErrBadAction means an action message could not be decoded.
var ErrBadAction = errors.New("mqtt: invalid action message")

// ActionPayload is the action topic message.
type ActionPayload struct {
	Action  *int   `json:"action"`
	Payload string `json:"payload"`
}

// ParseActionPayload decodes {"action":0,"payload":""}. action is required.
func ParseActionPayload(data []byte) (int, string, error) {
	var p ActionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return 0, "", fmt.Errorf("%w: %v", ErrBadAction, err)
	}
	if p.Action == nil {
		return 0, "", fmt.Errorf("%w: missing action", ErrBadAction)
	}
	return *p.Action, p.Payload, nil
}

// ParseSensorTopic splits <prefix>/<sensor>/<parameter>.
func ParseSensorTopic(prefix, topic string) (sensorName, parameter string, ok bool) {
	rest, found := strings.CutPrefix(topic, prefix+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// Handlers receive decoded inbound messages. Nil handlers drop the message.
type Handlers struct {
	Action      func(action int, payload string)
	SetConfig   func(blob string)
	Measurement func(m sensor.Measurement)
}

// Router dispatches inbound messages by topic.
type Router struct {
	topics   Topics
	handlers Handlers
	now      func() time.Time
}

// NewRouter creates a router for topics.
func NewRouter(topics Topics, h Handlers, now func() time.Time) *Router {
	if now == nil {
		now = time.Now
	}
	return &Router{topics: topics, handlers: h, now: now}
}

// Filters returns the subscriptions the router needs.
func (r *Router) Filters() []string {
	return []string{r.topics.Action, r.topics.ConfigSet, r.topics.SensorFilter()}
}

// Handle processes one message. Malformed messages are logged and dropped.
func (r *Router) Handle(topic string, payload []byte) {
	switch topic {
	case r.topics.Action:
		action, arg, err := ParseActionPayload(payload)
		if err != nil {
			logging.Warn("dropping action message", "topic", topic, "error", err)
			return
		}
		if r.handlers.Action != nil {
			r.handlers.Action(action, arg)
		}
		return

	case r.topics.ConfigSet:
		if r.handlers.SetConfig != nil {
			r.handlers.SetConfig(string(payload))
		}
		return
	}

	name, parameter, ok := ParseSensorTopic(r.topics.SensorPrefix, topic)
	if !ok {
		logging.Debug("ignoring message on unexpected topic", "topic", topic)
		return
	}
	value, err := sensor.ParseValue(payload)
	if err != nil {
		logging.Warn("dropping measurement", "topic", topic, "error", err)
		return
	}
	if r.handlers.Measurement != nil {
		r.handlers.Measurement(sensor.Measurement{
			Sensor:    name,
			Parameter: parameter,
			Value:     value,
			Time:      r.now(),
		})
	}
}
