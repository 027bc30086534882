package broker

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Topic layout. Every agent listens on DefaultTopic and on its own
// AgentTopic, and keeps its presence on StatusTopic.
const (
	TopicPrefix  = "archiver/"
	DefaultTopic = TopicPrefix + "default"
)

// AgentTopic is the command topic of the agent identified by machineID.
func AgentTopic(machineID string) string {
	return TopicPrefix + machineID
}

// StatusTopic is where the agent identified by machineID announces whether
// it is online.
func StatusTopic(machineID string) string {
	return AgentTopic(machineID) + "/status"
}

// Presence values carried by Status.
const (
	StatusOnline  = "ONLINE"
	StatusOffline = "OFFLINE"
)

// Status is the presence payload published on StatusTopic.
type Status struct {
	Status    string `json:"status"`
	MachineID string `json:"machine_id,omitempty"`
}

// Broker is the interface to perform async messaging.
type Broker interface {
	Connect() error
	ConnectAndSubscribe(subHandler Handler, subTopics []string) error
	Disconnect() error
	Publish(topic string, payload interface{}) error
	Subscribe(topics []string, h Handler) error
	String() string
}

// Handler handles a message receive from a topic.
type Handler func(Event) error

// Event is the event passed to Handler
type Event struct {
	Topic     string
	Payload   []byte
	Duplicate bool
	Qos       byte
	Retained  bool
	Ack       func()
}

// Message decodes the event payload. A payload without an event type is
// rejected with ErrUnknownEventType.
func (e Event) Message() (Message, error) {
	var msg Message
	if err := json.Unmarshal(e.Payload, &msg); err != nil {
		return msg, fmt.Errorf("decode event on %s: %w", e.Topic, err)
	}
	if msg.EventType == "" {
		return msg, fmt.Errorf("%w: empty event type on %s", ErrUnknownEventType, e.Topic)
	}
	return msg, nil
}
