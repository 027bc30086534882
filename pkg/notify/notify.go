// Package notify delivers human readable operation reports.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-archiver/pkg/broker"
)

// Attachment is a named blob sent along with a message.
type Attachment struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

// Message is a notification.
type Message struct {
	Subject     string       `json:"subject"`
	Body        string       `json:"body"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Notifier delivers messages. Callers treat delivery errors as non-fatal.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Log writes messages to a logger.
type Log struct {
	logger *zap.Logger
}

// NewLog returns a Notifier logging to logger.
func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Notify(_ context.Context, msg Message) error {
	fields := make([]zap.Field, 0, len(msg.Attachments)+1)
	fields = append(fields, zap.String("body", msg.Body))
	for _, a := range msg.Attachments {
		fields = append(fields, zap.ByteString("attachment."+a.Name, a.Data))
	}
	l.logger.Info(msg.Subject, fields...)
	return nil
}

// Broker publishes messages as status events on a broker topic.
type Broker struct {
	b         broker.Broker
	topic     string
	machineID string
}

// NewBroker returns a Notifier publishing to topic through b.
func NewBroker(b broker.Broker, topic, machineID string) *Broker {
	return &Broker{b: b, topic: topic, machineID: machineID}
}

func (n *Broker) Notify(_ context.Context, msg Message) error {
	var attachments []broker.Attachment
	for _, a := range msg.Attachments {
		attachments = append(attachments, broker.Attachment{Name: a.Name, Data: string(a.Data)})
	}
	return n.b.Publish(n.topic, broker.Message{
		EventType:   broker.StatusNotify,
		MachineID:   n.machineID,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
		Subject:     msg.Subject,
		Body:        msg.Body,
		Attachments: attachments,
	})
}

// Multi fans a message out to several notifiers and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []string
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Send delivers msg through n and logs, instead of returning, any failure.
func Send(ctx context.Context, n Notifier, logger *zap.Logger, msg Message) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, msg); err != nil {
		logger.Warn("Notification delivery failed", zap.String("subject", msg.Subject), zap.Error(err))
	}
}

// Format builds a body from key/value lines.
func Format(lines ...string) string {
	var b strings.Builder
	for i := 0; i+1 < len(lines); i += 2 {
		fmt.Fprintf(&b, "%s: %s\n", lines[i], lines[i+1])
	}
	return b.String()
}
