package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopics(t *testing.T) {
	assert.Equal(t, "archiver/default", DefaultTopic)
	assert.Equal(t, "archiver/node-7", AgentTopic("node-7"))
	assert.Equal(t, "archiver/node-7/status", StatusTopic("node-7"))
}

func TestEventMessage(t *testing.T) {
	e := Event{Topic: "archiver/node-7", Payload: []byte(`{"event_type":"restore_files","artifact_path":"site.zip","files":["site/index.html"]}`)}
	msg, err := e.Message()
	require.NoError(t, err)
	assert.Equal(t, RestoreFiles, msg.EventType)
	assert.Equal(t, "site.zip", msg.ArtifactPath)
	assert.Equal(t, []string{"site/index.html"}, msg.Files)

	_, err = Event{Payload: []byte(`{"machine_id":"node-7"}`)}.Message()
	assert.ErrorIs(t, err, ErrUnknownEventType)

	_, err = Event{Payload: []byte("{")}.Message()
	assert.Error(t, err)
}
