// Package storage ships local artifacts to upload targets.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Backend kinds.
const (
	KindLocal = "local"
	KindS3    = "s3"
	KindFTP   = "ftp"
)

var (
	// ErrTransport wraps every failed upload.
	ErrTransport = errors.New("storage: transport failed")
	// ErrUnavailable is returned for a backend kind that is not configured.
	ErrUnavailable = errors.New("storage: backend unavailable")
)

// Destination describes where an artifact was copied to.
type Destination struct {
	Backend string `json:"backend"`
	Key     string `json:"key"`
}

func (d Destination) String() string {
	return d.Backend + ":" + d.Key
}

// Backend uploads a local artifact to a remote key. The local file is never
// modified or removed.
type Backend interface {
	Kind() string
	Upload(ctx context.Context, localPath, remoteKey string) (*Destination, error)
}

func transportError(kind string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrTransport, kind, err)
}

// Registry holds the configured backends by kind.
type Registry struct {
	backends map[string]Backend
}

// NewRegistry returns a registry of backends. A nil backend is ignored so
// callers can pass unconfigured variants unconditionally.
func NewRegistry(backends ...Backend) *Registry {
	r := &Registry{backends: make(map[string]Backend)}
	for _, b := range backends {
		if b == nil {
			continue
		}
		r.backends[b.Kind()] = b
	}
	return r
}

// Get returns the backend of the given kind.
func (r *Registry) Get(kind string) (Backend, error) {
	if r != nil {
		if b, ok := r.backends[kind]; ok {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnavailable, kind)
}

// Resolve returns the backends for kinds, failing on the first unknown one.
func (r *Registry) Resolve(kinds []string) ([]Backend, error) {
	out := make([]Backend, 0, len(kinds))
	seen := make(map[string]struct{}, len(kinds))
	for _, k := range kinds {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		b, err := r.Get(k)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// Kinds lists the configured backend kinds.
func (r *Registry) Kinds() []string {
	if r == nil {
		return nil
	}
	kinds := make([]string, 0, len(r.backends))
	for k := range r.backends {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
