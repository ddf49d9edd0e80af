// Package store persists the provider credential and serialized
// conversation threads in a local bbolt database. It is the durable
// counterpart to the in-memory session: callers snapshot a session with
// agent.Session.GetMessages, save it here, and seed a later session from
// the stored thread.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/loom-agent/loom/llm"
)

// ErrNotFound is returned when a requested key has no stored value.
var ErrNotFound = errors.New("store: not found")

const (
	bucketCredentials = "credentials"
	bucketThreads     = "threads"

	// credentialKey is the fixed key the API credential lives under.
	credentialKey = "api_key"

	titleRuneLimit = 60
)

// Store is a bbolt-backed key-value store. Safe for concurrent use; bbolt
// serializes writers internally.
type Store struct {
	db *bolt.DB
}

// Open opens the database at path, creating it and its buckets as needed.
// The open blocks up to two seconds when another process holds the file
// lock.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	s := &Store{db: db}
	if err := s.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketCredentials)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketThreads)); err != nil {
			return err
		}
		return nil
	})
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Credential returns the persisted API key, or ErrNotFound when none has
// been saved yet.
func (s *Store) Credential() (string, error) {
	var out string
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketCredentials)).Get([]byte(credentialKey))
		if v == nil {
			return ErrNotFound
		}
		out = string(v)
		return nil
	})
	return out, err
}

// SetCredential persists the API key, replacing any previous value.
func (s *Store) SetCredential(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketCredentials)).Put([]byte(credentialKey), []byte(key))
	})
}

// ThreadInfo summarizes a stored conversation thread.
type ThreadInfo struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  int       `json:"messages"`
	UpdatedAt time.Time `json:"updated_at"`
}

// threadRecord is the stored encoding of a thread. Messages round-trip
// through their llm JSON tags, tool calls and embedded results included.
type threadRecord struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	UpdatedAt time.Time     `json:"updated_at"`
	Messages  []llm.Message `json:"messages"`
}

// SaveThread serializes msgs under id, replacing any previous snapshot.
// The thread title is derived from the first user message.
func (s *Store) SaveThread(id string, msgs []llm.Message) error {
	if id == "" {
		return errors.New("store: empty thread id")
	}
	rec := threadRecord{
		ID:        id,
		Title:     threadTitle(msgs),
		UpdatedAt: time.Now().UTC(),
		Messages:  msgs,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode thread %s: %w", id, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketThreads)).Put([]byte(id), data)
	})
}

// Thread returns the messages stored under id, or ErrNotFound.
func (s *Store) Thread(id string) ([]llm.Message, error) {
	var rec threadRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketThreads)).Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &rec)
	})
	if err != nil {
		return nil, fmt.Errorf("load thread %s: %w", id, err)
	}
	return rec.Messages, nil
}

// Threads lists stored threads, most recently updated first.
func (s *Store) Threads() ([]ThreadInfo, error) {
	var out []ThreadInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketThreads)).ForEach(func(k, v []byte) error {
			var rec threadRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode thread %s: %w", k, err)
			}
			out = append(out, ThreadInfo{
				ID:        rec.ID,
				Title:     rec.Title,
				Messages:  len(rec.Messages),
				UpdatedAt: rec.UpdatedAt,
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// DeleteThread removes the thread stored under id. Deleting an absent
// thread is not an error.
func (s *Store) DeleteThread(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketThreads)).Delete([]byte(id))
	})
}

// threadTitle picks the first line of the first user message, truncated on
// a rune boundary.
func threadTitle(msgs []llm.Message) string {
	for _, m := range msgs {
		if m.Role != llm.RoleUser {
			continue
		}
		title := m.Content
		if i := strings.IndexByte(title, '\n'); i >= 0 {
			title = title[:i]
		}
		title = strings.TrimSpace(title)
		if title == "" {
			continue
		}
		if r := []rune(title); len(r) > titleRuneLimit {
			title = string(r[:titleRuneLimit-3]) + "..."
		}
		return title
	}
	return "(untitled)"
}
