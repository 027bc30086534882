// Package history keeps the append-only audit log of backup, restore and
// cleanup operations.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/bizflycloud/bizfly-archiver/pkg/storage"
)

// Type is the kind of operation a record describes.
type Type string

const (
	TypeDatabase         Type = "database"
	TypeFiles            Type = "files"
	TypeDatabaseRestore  Type = "database_restore"
	TypeFilesRestore     Type = "files_restore"
	TypeRetentionCleanup Type = "retention_cleanup"
)

// Meta keys and status values shared by record producers.
const (
	MetaStatus = "status"
	MetaError  = "error"
	MetaOutput = "output"

	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// ErrNotFound is returned when no record matches a lookup.
var ErrNotFound = errors.New("history: record not found")

// Record is one audit entry. Records are never mutated once appended.
type Record struct {
	ID         string                 `json:"id"`
	Type       Type                   `json:"type"`
	FilePath   *string                `json:"file_path"`
	Checksum   *string                `json:"checksum"`
	UploadedTo []storage.Destination  `json:"uploaded_to"`
	Meta       map[string]interface{} `json:"meta"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Status returns the recorded status, StatusSuccess when none was set.
func (r *Record) Status() string {
	if s, ok := r.Meta[MetaStatus].(string); ok && s != "" {
		return s
	}
	return StatusSuccess
}

// Failed reports whether the record describes a failed operation.
func (r *Record) Failed() bool {
	return r.Status() == StatusFailed
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Store persists records.
type Store interface {
	// Append assigns ID and CreatedAt when unset and stores rec.
	Append(ctx context.Context, rec *Record) error
	// List returns records newest first. A limit <= 0 returns everything
	// after offset.
	List(ctx context.Context, limit, offset int) ([]*Record, error)
	// FindByPath returns the newest successful backup record for filePath.
	FindByPath(ctx context.Context, filePath string) (*Record, error)
	Close() error
}
