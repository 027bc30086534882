package notify

import (
	"context"
	"errors"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/bizflycloud/bizfly-archiver/pkg/broker"
)

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.err
}

type fakeBroker struct {
	broker.Broker
	topic   string
	payload interface{}
}

func (f *fakeBroker) Publish(topic string, payload interface{}) error {
	f.topic = topic
	f.payload = payload
	return nil
}

func TestMulti(t *testing.T) {
	ok := &recordingNotifier{}
	bad := &recordingNotifier{err: errors.New("smtp down")}
	m := Multi{ok, nil, bad}

	err := m.Notify(context.Background(), Message{Subject: "Backup succeeded"})
	assert.EqualError(t, err, "smtp down")
	assert.Len(t, ok.msgs, 1)
	assert.Len(t, bad.msgs, 1)
}

func TestSendLogsFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	Send(context.Background(), &recordingNotifier{err: errors.New("boom")}, zap.New(core), Message{Subject: "s"})
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "Notification delivery failed", logs.All()[0].Message)

	Send(context.Background(), nil, zap.New(core), Message{Subject: "s"})
	assert.Equal(t, 1, logs.Len())
}

func TestBrokerNotifier(t *testing.T) {
	fb := &fakeBroker{}
	n := NewBroker(fb, "archiver/events", "machine-1")
	require.NoError(t, n.Notify(context.Background(), Message{Subject: "Backup failed", Body: "pg_dump exited"}))

	assert.Equal(t, "archiver/events", fb.topic)
	msg, ok := fb.payload.(broker.Message)
	require.True(t, ok)
	assert.Equal(t, broker.StatusNotify, msg.EventType)
	assert.Equal(t, "machine-1", msg.MachineID)
	assert.Equal(t, "Backup failed", msg.Subject)
}

func TestSubprocessOutputReachesSinks(t *testing.T) {
	const stderr = "pg_dump: error: connection to server failed: FATAL:  password authentication failed\n"
	msg := Message{
		Subject:     "Database backup failed",
		Body:        "error: pg_dump exited with code 1",
		Attachments: []Attachment{{Name: "backup.log", Data: []byte(stderr)}},
	}

	core, logs := observer.New(zap.InfoLevel)
	require.NoError(t, NewLog(zap.New(core)).Notify(context.Background(), msg))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "Database backup failed", entry.Message)
	assert.Equal(t, stderr, entry.ContextMap()["attachment.backup.log"])

	fb := &fakeBroker{}
	require.NoError(t, NewBroker(fb, "archiver/events", "machine-1").Notify(context.Background(), msg))
	published, ok := fb.payload.(broker.Message)
	require.True(t, ok)
	require.Len(t, published.Attachments, 1)
	assert.Equal(t, "backup.log", published.Attachments[0].Name)
	assert.Equal(t, stderr, published.Attachments[0].Data)
}

func TestWebhook(t *testing.T) {
	var got Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := ioutil.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w, err := NewWebhook(srv.URL)
	require.NoError(t, err)
	msg := Message{Subject: "Backup succeeded", Body: "checksum: abc", Attachments: []Attachment{{Name: "stderr.txt", Data: []byte("warn")}}}
	require.NoError(t, w.Notify(context.Background(), msg))
	assert.Equal(t, msg, got)
}

func TestWebhookRejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	w, err := NewWebhook(srv.URL)
	require.NoError(t, err)
	assert.Error(t, w.Notify(context.Background(), Message{Subject: "s"}))

	_, err = NewWebhook("")
	assert.Error(t, err)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "file: a.zip\nchecksum: ff\n", Format("file", "a.zip", "checksum", "ff", "dangling"))
}
