package cmd

import (
	"io/ioutil"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizflycloud/bizfly-archiver/pkg/backup"
	"github.com/bizflycloud/bizfly-archiver/pkg/history"
	"github.com/bizflycloud/bizfly-archiver/pkg/server"
	"github.com/bizflycloud/bizfly-archiver/pkg/storage"
)

func TestNewAgentClientBaseURL(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"unix:///tmp/a.sock", "http://unix"},
		{":9000", "http://127.0.0.1:9000"},
		{"10.0.0.1:9000", "http://10.0.0.1:9000"},
		{"http://agent:9000/", "http://agent:9000"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, newAgentClient(tc.addr).baseURL, tc.addr)
	}
}

func TestAbsPaths(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)

	got, err := absPaths([]string{"site", "../shared", "/srv/uploads"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(wd, "site"),
		filepath.Join(filepath.Dir(wd), "shared"),
		"/srv/uploads",
	}, got)
}

func TestAgentClientDo(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/backups/files":
			body, _ := ioutil.ReadAll(r.Body)
			assert.JSONEq(t, `{"filename":"","folders":["site"],"encrypt":true,"backends":null}`, string(body))
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"kind":"files","local_path":"/a/files.zip.enc","encrypted":true}`))
		case "/restore/database":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"artifact not found"}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer ts.Close()

	c := newAgentClient(ts.URL)

	var art backup.Artifact
	require.NoError(t, c.do(http.MethodPost, "/backups/files", server.BackupRequest{Folders: []string{"site"}, Encrypt: true}, &art))
	assert.Equal(t, backup.KindFiles, art.Kind)
	assert.True(t, art.Encrypted)

	err := c.do(http.MethodPost, "/restore/database", server.RestoreRequest{ArtifactPath: "x"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "artifact not found")
	assert.Contains(t, err.Error(), "404")

	err = c.do(http.MethodGet, "/other", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestAgentClientUnixSocket(t *testing.T) {
	dir, err := ioutil.TempDir("", "archiver-cmd-")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	sock := filepath.Join(dir, "agent.sock")
	l, err := net.Listen("unix", sock)
	require.NoError(t, err)
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"removed":["a.zip"]}`))
	})}
	go func() { _ = srv.Serve(l) }()
	defer srv.Close()

	var resp struct {
		Removed []string `json:"removed"`
	}
	require.NoError(t, newAgentClient("unix://"+sock).do(http.MethodPost, "/cleanup", server.CleanupRequest{MaxAgeDays: 3}, &resp))
	assert.Equal(t, []string{"a.zip"}, resp.Removed)
}

func TestRows(t *testing.T) {
	path := "/var/lib/a/files.zip"
	recs := []history.Record{{
		ID:         "1",
		Type:       history.TypeFiles,
		FilePath:   &path,
		UploadedTo: []storage.Destination{{Backend: "s3", Key: "bucket/files.zip"}, {Backend: "ftp", Key: "/b/files.zip"}},
		Meta:       map[string]interface{}{history.MetaStatus: history.StatusSuccess},
		CreatedAt:  time.Date(2026, 5, 1, 2, 0, 0, 0, time.UTC),
	}}
	rows := historyRows(recs)
	require.Len(t, rows, 1)
	assert.Equal(t, "files", rows[0][1])
	assert.Equal(t, "success", rows[0][2])
	assert.Equal(t, path, rows[0][3])
	assert.Equal(t, "s3:bucket/files.zip,ftp:/b/files.zip", rows[0][4])

	arows := artifactRows(&backup.Artifact{LocalPath: path, Kind: backup.KindFiles, Size: 2048, Checksum: "abc"})
	require.Len(t, arows, 1)
	assert.Equal(t, "2.0 kB", arows[0][2])

	srows := scheduleRows(server.ScheduleResponse{State: "armed", Expression: "0 2 * * *"})
	assert.Equal(t, "-", srows[0][2])
}
