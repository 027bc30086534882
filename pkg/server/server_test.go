package server

import (
	"bytes"
	"errors"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-archiver/pkg/backup"
	"github.com/bizflycloud/bizfly-archiver/pkg/broker"
	"github.com/bizflycloud/bizfly-archiver/pkg/history"
	"github.com/bizflycloud/bizfly-archiver/pkg/scheduler"
)

type fixture struct {
	s      *Server
	root   string
	source string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	root, err := ioutil.TempDir("", "archiver-server-")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(root) })

	source := filepath.Join(root, "site")
	require.NoError(t, os.MkdirAll(filepath.Join(source, "img"), 0700))
	require.NoError(t, ioutil.WriteFile(filepath.Join(source, "index.html"), []byte("<html></html>"), 0600))
	require.NoError(t, ioutil.WriteFile(filepath.Join(source, "img", "logo.png"), []byte("png"), 0600))

	store, err := history.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := zap.NewNop()
	svc, err := backup.New(filepath.Join(root, "artifacts"), store,
		backup.WithLogger(logger),
		backup.WithWorkDir(root),
		backup.WithTempDir(root),
	)
	require.NoError(t, err)

	s, err := New(append([]Option{WithAddr(":0"), WithService(svc), WithLogger(logger)}, opts...)...)
	require.NoError(t, err)
	return &fixture{s: s, root: root, source: source}
}

func (f *fixture) do(t *testing.T, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	f.s.router.ServeHTTP(rec, req)
	return rec
}

func TestNewRequiresService(t *testing.T) {
	_, err := New(WithAddr(":0"))
	assert.Error(t, err)
}

func TestServerRun(t *testing.T) {
	tests := []struct {
		addr string
	}{
		{"unix://" + filepath.Join(os.TempDir(), "bizfly-archiver-test-server.sock")},
		{":1810"},
	}
	for _, tc := range tests {
		f := newFixture(t, WithAddr(tc.addr))
		f.s.testSignalCh = make(chan os.Signal, 1)
		var serverError error
		done := make(chan struct{})
		go func() {
			serverError = f.s.Run()
			close(done)
		}()
		time.Sleep(200 * time.Millisecond)
		f.s.testSignalCh <- syscall.SIGTERM
		<-done
		assert.IsType(t, http.ErrServerClosed, serverError)
	}
}

func TestBackupAndRestoreFiles(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/backups/files", BackupRequest{Folders: []string{"site"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var art backup.Artifact
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &art))
	assert.Equal(t, backup.KindFiles, art.Kind)
	assert.Len(t, art.Checksum, 64)
	assert.FileExists(t, art.LocalPath)

	rec = f.do(t, http.MethodGet, "/backups", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var arts []backup.ArtifactInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &arts))
	require.Len(t, arts, 1)
	assert.Equal(t, art.LocalPath, arts[0].Path)

	dest := filepath.Join(f.root, "restored")
	rec = f.do(t, http.MethodPost, "/restore/files", RestoreRequest{
		ArtifactPath: art.LocalPath,
		DestFolder:   dest,
		Files:        []string{"site/index.html"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data, err := ioutil.ReadFile(filepath.Join(dest, "site", "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", string(data))
	assert.NoFileExists(t, filepath.Join(dest, "site", "img", "logo.png"))

	rec = f.do(t, http.MethodGet, "/history?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var recs []history.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recs))
	assert.Len(t, recs, 2)

	rec = f.do(t, http.MethodGet, "/history?limit=10&offset=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestListEntries(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/backups/files", BackupRequest{Filename: "site.zip", Folders: []string{"site"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/backups/entries?path="+url.QueryEscape("site.zip"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var entries []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	assert.ElementsMatch(t, []string{"site/index.html", "site/img/logo.png"}, entries)

	rec = f.do(t, http.MethodGet, "/backups/entries", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/backups/entries?path=nope.zip", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestErrorStatus(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		method string
		target string
		body   interface{}
		status int
	}{
		{"database backup without datastore", http.MethodPost, "/backups/database", BackupRequest{}, http.StatusBadRequest},
		{"files backup without folders", http.MethodPost, "/backups/files", BackupRequest{}, http.StatusBadRequest},
		{"encrypt without key", http.MethodPost, "/backups/files", BackupRequest{Folders: []string{"site"}, Encrypt: true}, http.StatusBadRequest},
		{"unknown backend", http.MethodPost, "/backups/files", BackupRequest{Folders: []string{"site"}, Backends: []string{"s3"}}, http.StatusBadRequest},
		{"missing artifact", http.MethodPost, "/restore/files", RestoreRequest{ArtifactPath: "nope.zip", DestFolder: "out"}, http.StatusNotFound},
		{"missing database artifact", http.MethodPost, "/restore/database", RestoreRequest{ArtifactPath: "nope.dump"}, http.StatusNotFound},
		{"invalid limit", http.MethodGet, "/history?limit=abc", nil, http.StatusBadRequest},
		{"negative offset", http.MethodGet, "/history?offset=-1", nil, http.StatusBadRequest},
		{"scheduled without scheduler", http.MethodPost, "/backups/scheduled", nil, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, tc.method, tc.target, tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestInvalidBody(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/backups/files", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	f.s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorStatusMapping(t *testing.T) {
	assert.Equal(t, http.StatusConflict, errorStatus(backup.ErrBusy))
	assert.Equal(t, http.StatusConflict, errorStatus(scheduler.ErrJobRunning))
	assert.Equal(t, http.StatusUnprocessableEntity, errorStatus(backup.ErrChecksumMismatch))
	assert.Equal(t, http.StatusInternalServerError, errorStatus(errors.New("boom")))
}

func TestCleanup(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/cleanup", CleanupRequest{MaxAgeDays: 7})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"removed":[]}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/history", nil)
	var recs []history.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, history.TypeRetentionCleanup, recs[0].Type)
}

func TestScheduleEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/schedule", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ScheduleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, scheduler.StateDisabled.String(), resp.State)

	cfg := scheduler.DefaultConfig()
	cfg.Database = false
	cfg.Folders = []string{"site"}
	sch, err := scheduler.New(cfg, f.s.svc, scheduler.WithLogger(zap.NewNop()))
	require.NoError(t, err)
	f.s.scheduler = sch

	rec = f.do(t, http.MethodGet, "/schedule", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, scheduler.StateIdle.String(), resp.State)
	assert.Equal(t, []string{"site"}, resp.Config.Folders)
	assert.Nil(t, resp.Next)

	rec = f.do(t, http.MethodPost, "/backups/scheduled", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res backup.PlanResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res.Artifacts, 1)
	assert.Empty(t, res.Errors)

	cfg.Database = true
	require.NoError(t, sch.Reload(cfg))
	rec = f.do(t, http.MethodPost, "/backups/scheduled", nil)
	require.Equal(t, http.StatusMultiStatus, rec.Code, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServerEventHandler(t *testing.T) {
	f := newFixture(t)

	payload := func(m broker.Message) broker.Event {
		data, err := json.Marshal(m)
		require.NoError(t, err)
		return broker.Event{Topic: "archiver/agent1", Payload: data}
	}

	err := f.s.handleBrokerEvent(payload(broker.Message{EventType: "reboot"}))
	assert.True(t, errors.Is(err, broker.ErrUnknownEventType))

	assert.Error(t, f.s.handleBrokerEvent(broker.Event{Payload: []byte("{")}))

	require.NoError(t, f.s.handleBrokerEvent(payload(broker.Message{EventType: broker.BackupFiles, Folders: []string{"site"}})))
	arts, err := f.s.svc.Artifacts()
	require.NoError(t, err)
	require.Len(t, arts, 1)

	err = f.s.handleBrokerEvent(payload(broker.Message{EventType: broker.BackupDatabase}))
	assert.True(t, errors.Is(err, backup.ErrConfiguration))

	err = f.s.handleBrokerEvent(payload(broker.Message{EventType: broker.BackupScheduled}))
	assert.True(t, errors.Is(err, backup.ErrConfiguration))

	require.NoError(t, f.s.handleBrokerEvent(payload(broker.Message{
		EventType:    broker.RestoreFiles,
		ArtifactPath: arts[0].Name,
		DestFolder:   "restored",
	})))
	assert.FileExists(t, filepath.Join(f.root, "restored", "site", "img", "logo.png"))

	require.NoError(t, f.s.handleBrokerEvent(payload(broker.Message{EventType: broker.Cleanup, MaxAgeDays: 30})))
	require.NoError(t, f.s.handleBrokerEvent(payload(broker.Message{EventType: broker.StatusNotify})))
}
