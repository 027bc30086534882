package history

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

var recordPrefix = []byte("history:")

// BadgerStore stores records in a badger database keyed by creation time.
type BadgerStore struct {
	db  *badger.DB
	now func() time.Time
}

var _ Store = (*BadgerStore)(nil)

// Open opens or creates the store in dir.
func Open(dir string) (*BadgerStore, error) {
	return NewBadgerStore(badger.DefaultOptions(dir).WithLogger(nil))
}

// OpenInMemory returns a store that lives only as long as the process.
func OpenInMemory() (*BadgerStore, error) {
	return NewBadgerStore(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
}

// NewBadgerStore opens a store with explicit badger options.
func NewBadgerStore(opts badger.Options) (*BadgerStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	return &BadgerStore{db: db, now: time.Now}, nil
}

func recordKey(rec *Record) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", recordPrefix, rec.CreatedAt.UnixNano(), rec.ID))
}

func (s *BadgerStore) Append(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	if rec.Meta == nil {
		rec.Meta = map[string]interface{}{}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(rec), data)
	})
}

// scan walks records newest first until fn returns false.
func (s *BadgerStore) scan(fn func(rec *Record) bool) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = recordPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte{}, recordPrefix...), 0xff)
		for it.Seek(seek); it.ValidForPrefix(recordPrefix); it.Next() {
			var rec Record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("decode record %s: %w", bytes.TrimPrefix(it.Item().Key(), recordPrefix), err)
			}
			if !fn(&rec) {
				return nil
			}
		}
		return nil
	})
}

func (s *BadgerStore) List(ctx context.Context, limit, offset int) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}

	var out []*Record
	skipped := 0
	err := s.scan(func(rec *Record) bool {
		if skipped < offset {
			skipped++
			return true
		}
		out = append(out, rec)
		return limit <= 0 || len(out) < limit
	})
	return out, err
}

func (s *BadgerStore) FindByPath(ctx context.Context, filePath string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var found *Record
	err := s.scan(func(rec *Record) bool {
		if rec.Type != TypeDatabase && rec.Type != TypeFiles {
			return true
		}
		if rec.FilePath == nil || *rec.FilePath != filePath || rec.Failed() {
			return true
		}
		found = rec
		return false
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, filePath)
	}
	return found, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
