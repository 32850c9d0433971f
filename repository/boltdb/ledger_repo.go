package boltdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/fastygo/iamcleaner/domain"
	"github.com/fastygo/iamcleaner/repository"
)

const keySeparator = "\x00"

// LedgerStore keeps ledger rows in a single BoltDB bucket keyed by account and username.
type LedgerStore struct {
	db     *bolt.DB
	bucket []byte
}

var _ repository.LedgerRepository = (*LedgerStore)(nil)

// Open initializes the BoltDB file. The bucket is created by EnsureTable.
func Open(path string, bucket string) (*LedgerStore, error) {
	if bucket == "" {
		bucket = "iam_ledger"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, domain.WrapError(domain.ErrCodeUnavailable, "open ledger file", err)
	}
	return &LedgerStore{db: db, bucket: []byte(bucket)}, nil
}

func (s *LedgerStore) EnsureTable(ctx context.Context) error {
	if s == nil || s.db == nil {
		return bolt.ErrDatabaseNotOpen
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(s.bucket)
		return err
	})
}

func (s *LedgerStore) Get(ctx context.Context, key domain.RecordKey) (*domain.LedgerRecord, error) {
	if s == nil || s.db == nil {
		return nil, bolt.ErrDatabaseNotOpen
	}
	var record *domain.LedgerRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		raw := b.Get(encodeKey(key))
		if raw == nil {
			return nil
		}
		var decoded domain.LedgerRecord
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return err
		}
		record = &decoded
		return nil
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrCodeInternal, fmt.Sprintf("get ledger record %s", key), err)
	}
	if record == nil {
		return nil, domain.ErrRecordNotFound
	}
	return record, nil
}

func (s *LedgerStore) Put(ctx context.Context, record *domain.LedgerRecord) error {
	if s == nil || s.db == nil {
		return bolt.ErrDatabaseNotOpen
	}
	if record == nil || record.AccountID == "" || record.Username == "" {
		return domain.ErrInvalidPayload
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(s.bucket)
		if err != nil {
			return err
		}
		return b.Put(encodeKey(record.Key()), payload)
	})
	if err != nil {
		return domain.WrapError(domain.ErrCodeInternal, fmt.Sprintf("put ledger record %s", record.Key()), err)
	}
	return nil
}

// UpdateFields applies fields inside one read-modify-write transaction.
func (s *LedgerStore) UpdateFields(ctx context.Context, key domain.RecordKey, fields domain.Fields) error {
	if s == nil || s.db == nil {
		return bolt.ErrDatabaseNotOpen
	}
	missing := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			missing = true
			return nil
		}
		k := encodeKey(key)
		raw := b.Get(k)
		if raw == nil {
			missing = true
			return nil
		}
		var record domain.LedgerRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return err
		}
		fields.Apply(&record)
		payload, err := json.Marshal(&record)
		if err != nil {
			return err
		}
		return b.Put(k, payload)
	})
	if err != nil {
		return domain.WrapError(domain.ErrCodeInternal, fmt.Sprintf("update ledger record %s", key), err)
	}
	if missing {
		return domain.ErrRecordNotFound
	}
	return nil
}

func (s *LedgerStore) Scan(ctx context.Context, filter repository.LedgerFilter) ([]domain.LedgerRecord, error) {
	if s == nil || s.db == nil {
		return nil, bolt.ErrDatabaseNotOpen
	}
	var prefix []byte
	if filter.AccountID != "" {
		prefix = []byte(filter.AccountID + keySeparator)
	}

	var out []domain.LedgerRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var record domain.LedgerRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("decode %q: %w", k, err)
			}
			if filter.Match(&record) {
				out = append(out, record)
			}
		}
		return nil
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrCodeInternal, "scan ledger", err)
	}
	return out, nil
}

// Close closes the Bolt database.
func (s *LedgerStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping reports whether the file is open and the ledger bucket exists.
func (s *LedgerStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return bolt.ErrDatabaseNotOpen
	}
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(s.bucket) == nil {
			return bolt.ErrBucketNotFound
		}
		return nil
	})
}

func encodeKey(key domain.RecordKey) []byte {
	return []byte(key.AccountID + keySeparator + key.Username)
}
