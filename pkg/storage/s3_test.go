package storage

import (
	"context"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type objectServer struct {
	mu      sync.Mutex
	objects map[string][]byte
	status  int
}

func (o *objectServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status != 0 {
		w.WriteHeader(o.status)
		return
	}
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	o.objects[r.URL.Path] = body
	w.Header().Set("ETag", `"etag"`)
	w.WriteHeader(http.StatusOK)
}

func newTestS3(t *testing.T, srv *httptest.Server, prefix string) *S3 {
	t.Helper()
	s, err := NewS3(S3Config{
		Endpoint:  srv.URL,
		Region:    "us-east-1",
		Bucket:    "backups",
		AccessKey: "key",
		SecretKey: "secret",
		Prefix:    prefix,
	}, WithS3Logger(zap.NewNop()))
	require.NoError(t, err)
	return s
}

func TestS3Upload(t *testing.T) {
	objects := &objectServer{objects: make(map[string][]byte)}
	srv := httptest.NewServer(objects)
	defer srv.Close()

	src := filepath.Join(t.TempDir(), "files.zip.enc")
	require.NoError(t, os.WriteFile(src, []byte("envelope-bytes"), 0600))

	s := newTestS3(t, srv, "/archiver/")
	dst, err := s.Upload(context.Background(), src, "files.zip.enc")
	require.NoError(t, err)
	assert.Equal(t, KindS3, dst.Backend)
	assert.Equal(t, "backups/archiver/files.zip.enc", dst.Key)

	objects.mu.Lock()
	defer objects.mu.Unlock()
	assert.Equal(t, []byte("envelope-bytes"), objects.objects["/backups/archiver/files.zip.enc"])
}

func TestS3UploadFailure(t *testing.T) {
	objects := &objectServer{objects: make(map[string][]byte), status: http.StatusForbidden}
	srv := httptest.NewServer(objects)
	defer srv.Close()

	src := filepath.Join(t.TempDir(), "db.dump")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0600))

	s := newTestS3(t, srv, "")
	_, err := s.Upload(context.Background(), src, "db.dump")
	assert.ErrorIs(t, err, ErrTransport)
	assert.FileExists(t, src)
}

func TestNewS3RequiresCredentials(t *testing.T) {
	_, err := NewS3(S3Config{Bucket: "b"})
	assert.Error(t, err)
	assert.False(t, S3Config{Bucket: "b", AccessKey: "k"}.Configured())
}

func TestS3ObjectKey(t *testing.T) {
	s := &S3{prefix: "nightly"}
	assert.Equal(t, "nightly/db.dump", s.objectKey("db.dump"))
	assert.Equal(t, "nightly/db.dump", s.objectKey("../db.dump"))
	s.prefix = ""
	assert.Equal(t, "a/b.zip", s.objectKey("/a/b.zip"))
}
