package store

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	tableBuckets = map[string][]byte{
		TableToken:    []byte("token"),
		TableUsername: []byte("username"),
		TableStatus:   []byte("status"),
		TableBanner:   []byte("banner"),
		TableID:       []byte("id"),
	}
	chatBucket = []byte("chat")
)

// BoltStore is the bbolt-backed Store. Each table maps to one bucket;
// the transcript lives in its own bucket keyed by insertion sequence.
type BoltStore struct {
	db *bolt.DB
}

var _ Store = (*BoltStore)(nil)

// Open creates or opens the database at path and ensures all buckets exist.
func Open(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range tableBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		_, err := tx.CreateBucketIfNotExists(chatBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close closes the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func bucketFor(table string) ([]byte, error) {
	name, ok := tableBuckets[table]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	return name, nil
}

func (s *BoltStore) Read(table, key string) (string, bool, error) {
	name, err := bucketFor(table)
	if err != nil {
		return "", false, err
	}
	var value string
	var found bool
	err = s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(name).Get([]byte(key)); v != nil {
			value = string(v)
			found = true
		}
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("store: read %s/%s: %w", table, key, err)
	}
	return value, found, nil
}

func (s *BoltStore) Write(table, key, value string) error {
	name, err := bucketFor(table)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(name).Put([]byte(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("store: write %s/%s: %w", table, key, err)
	}
	return nil
}

func (s *BoltStore) ReadOrWriteNew(table, key, fallback string) (string, error) {
	name, err := bucketFor(table)
	if err != nil {
		return "", err
	}
	value := fallback
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(name)
		if v := b.Get([]byte(key)); v != nil {
			value = string(v)
			return nil
		}
		return b.Put([]byte(key), []byte(fallback))
	})
	if err != nil {
		return "", fmt.Errorf("store: read-or-write %s/%s: %w", table, key, err)
	}
	return value, nil
}

func (s *BoltStore) Delete(table, key string) error {
	name, err := bucketFor(table)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(name).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("store: delete %s/%s: %w", table, key, err)
	}
	return nil
}

// ClaimUsername runs the whole check-then-write inside one update
// transaction, so two racing claims for the same name serialize and the
// loser sees ErrUsernameTaken.
func (s *BoltStore) ClaimUsername(token, oldName, newName string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		claims := tx.Bucket(tableBuckets[TableToken])
		if owner := claims.Get([]byte(newName)); owner != nil && string(owner) != token {
			return ErrUsernameTaken
		}
		if err := claims.Put([]byte(newName), []byte(token)); err != nil {
			return err
		}
		if err := tx.Bucket(tableBuckets[TableUsername]).Put([]byte(token), []byte(newName)); err != nil {
			return err
		}
		if oldName != "" && oldName != newName {
			return claims.Delete([]byte(oldName))
		}
		return nil
	})
	if err == ErrUsernameTaken {
		return err
	}
	if err != nil {
		return fmt.Errorf("store: claim username %q: %w", newName, err)
	}
	return nil
}

func (s *BoltStore) AppendChat(text string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(chatBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		var key [8]byte
		binary.BigEndian.PutUint64(key[:], seq)
		return b.Put(key[:], []byte(text))
	})
	if err != nil {
		return fmt.Errorf("store: append chat: %w", err)
	}
	return nil
}

func (s *BoltStore) ReadChat() (string, error) {
	var sb strings.Builder
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(chatBucket).ForEach(func(_, v []byte) error {
			sb.Write(v)
			return nil
		})
	})
	if err != nil {
		return "", fmt.Errorf("store: read chat: %w", err)
	}
	return sb.String(), nil
}
