package mqtt

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-archiver/pkg/broker"
)

const clientDisconnectWaitTimeout = 250

var _ broker.Broker = (*MQTTBroker)(nil)

var ErrNoConnection = errors.New("no connection to broker server")

var tokenWaitTimeout = 3 * time.Second

// MQTTBroker implements broker.Broker interface.
type MQTTBroker struct {
	uri      *url.URL
	username string
	password string
	clientID string
	client   mqtt.Client
	qos      byte
	retained bool
	logger   *zap.Logger

	// Option for resubscribe when OnConnect
	subscribeTopics  []string
	subscribeHandler broker.Handler
}

// NewBroker creates new mqtt broker.
func NewBroker(opts ...Option) (*MQTTBroker, error) {
	m := &MQTTBroker{}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	if m.logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		m.logger = l
	}
	if m.uri == nil {
		return nil, errors.New("broker url is required")
	}
	m.qos = 1
	return m, nil
}

func (m *MQTTBroker) opts() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker("tcp://" + m.uri.Host)
	username := m.username
	if u := m.uri.User.Username(); u != "" {
		username = u
	}
	opts.SetUsername(username)
	password := m.password
	if p, isSet := m.uri.User.Password(); isSet {
		password = p
	}
	opts.SetPassword(password)
	opts.SetClientID(m.clientID)
	opts.SetCleanSession(false)

	var connectHandler mqtt.OnConnectHandler = func(client mqtt.Client) {
		m.logger.Info("Connected to broker", zap.String("broker", m.uri.Host))

		// replaces the retained last will left by a previous session
		if err := m.publishStatus(client, broker.StatusOnline); err != nil {
			m.logger.Error("Publish online status", zap.Error(err), zap.String("topic", broker.StatusTopic(m.clientID)))
		}

		// resubscribe when connected or reconnected with broker
		if m.subscribeHandler != nil && m.subscribeTopics != nil {
			if err := m.Subscribe(m.subscribeTopics, m.subscribeHandler); err != nil {
				m.logger.Error("Subscribe to subscribeTopics return error", zap.Error(err), zap.Strings("subscribeTopics", m.subscribeTopics))
			}
			m.logger.Sugar().Debugf("Agent subscribe to topic %s successful", m.subscribeTopics)
		}
	}

	var connectLostHandler mqtt.ConnectionLostHandler = func(client mqtt.Client, err error) {
		m.logger.Error("Connection lost with broker: ", zap.Error(err))
	}

	var reconnectHandler mqtt.ReconnectHandler = func(client mqtt.Client, opts *mqtt.ClientOptions) {
		m.logger.Error("Trying reconnect with broker")
	}

	opts.OnConnectionLost = connectLostHandler
	opts.OnReconnecting = reconnectHandler
	opts.OnConnect = connectHandler

	opts.SetWill(broker.StatusTopic(m.clientID), string(m.statusPayload(broker.StatusOffline)), m.qos, true)
	return opts
}

func (m *MQTTBroker) statusPayload(status string) []byte {
	data, _ := json.Marshal(broker.Status{Status: status, MachineID: m.clientID})
	return data
}

// publishStatus sets the retained presence of this agent.
func (m *MQTTBroker) publishStatus(client mqtt.Client, status string) error {
	token := client.Publish(broker.StatusTopic(m.clientID), m.qos, true, m.statusPayload(status))
	if !token.WaitTimeout(tokenWaitTimeout) {
		return fmt.Errorf("publish %s status: timed out", status)
	}
	return token.Error()
}

// connect and update option to auto resubscribe with option OnConnect
func (m *MQTTBroker) ConnectAndSubscribe(subHandler broker.Handler, subTopics []string) error {
	// update subscribe option
	m.subscribeHandler = subHandler
	m.subscribeTopics = subTopics

	return m.Connect()
}

func (m *MQTTBroker) Connect() error {
	client := mqtt.NewClient(m.opts())
	err := wait(client.Connect())
	m.client = client
	return err
}

func (m *MQTTBroker) Disconnect() error {
	if m.client == nil {
		return ErrNoConnection
	}

	// a clean disconnect suppresses the last will
	if m.client.IsConnectionOpen() {
		if err := m.publishStatus(m.client, broker.StatusOffline); err != nil {
			m.logger.Warn("Publish offline status", zap.Error(err))
		}
	}
	m.client.Disconnect(clientDisconnectWaitTimeout)

	return nil
}

// Publish sends payload to topic. Strings and byte slices are sent as is,
// anything else is encoded as JSON.
func (m *MQTTBroker) Publish(topic string, payload interface{}) error {
	if m.client == nil {
		return ErrNoConnection
	}
	switch payload.(type) {
	case string, []byte:
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		payload = data
	}
	return wait(m.client.Publish(topic, m.qos, m.retained, payload))
}

func (m *MQTTBroker) Subscribe(topics []string, h broker.Handler) error {
	if m.client == nil {
		return ErrNoConnection
	}
	if len(topics) == 0 {
		return errors.New("no topics provided")
	}
	filters := make(map[string]byte, len(topics))
	for _, topic := range topics {
		filters[topic] = m.qos
	}

	token := m.client.SubscribeMultiple(filters, func(client mqtt.Client, msg mqtt.Message) {
		if err := h(broker.Event{
			Topic:     msg.Topic(),
			Payload:   msg.Payload(),
			Duplicate: msg.Duplicate(),
			Qos:       msg.Qos(),
			Retained:  msg.Retained(),
			Ack:       msg.Ack,
		}); err != nil {
			m.logger.Error(err.Error())
		}
	})
	return wait(token)
}

// wait blocks until the token completes.
func wait(token mqtt.Token) error {
	for !token.WaitTimeout(tokenWaitTimeout) {
	}
	return token.Error()
}

func (m *MQTTBroker) String() string {
	return fmt.Sprintf("Broker [%s]", m.clientID)
}
