package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	vberrors "github.com/odvcencio/vegabridge/pkg/errors"
)

const bucketWidgets = "widgets"

// BoltStore keeps widget records in a bbolt file. It is an alternative to
// the SQLite store for deployments that want a single pure key-value file.
type BoltStore struct {
	db         *bolt.DB
	observers  []Observer
	observerMu sync.RWMutex
}

type boltRecord struct {
	SpecSource string    `json:"spec"`
	OptSource  string    `json:"opt"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewBolt opens (creating if needed) the bbolt file at path.
func NewBolt(path string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, vberrors.Wrap(err, vberrors.ErrCodeStorageRead, "open bolt store").
			WithContext("path", path).
			WithRetryable(errors.Is(err, bolt.ErrTimeout))
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketWidgets))
		return err
	})
	if err != nil {
		db.Close()
		return nil, vberrors.Wrap(err, vberrors.ErrCodeStorageWrite, "initialize widgets bucket")
	}
	return &BoltStore{db: db}, nil
}

// Close closes the bolt file.
func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	return s.db.Close()
}

// AddObserver registers an observer for storage events.
func (s *BoltStore) AddObserver(observer Observer) {
	s.observerMu.Lock()
	s.observers = append(s.observers, observer)
	s.observerMu.Unlock()
}

func (s *BoltStore) notify(event Event) {
	s.observerMu.RLock()
	observers := append([]Observer(nil), s.observers...)
	s.observerMu.RUnlock()

	for _, observer := range observers {
		go observer.HandleStorageEvent(event)
	}
}

// SaveWidget inserts or replaces the widget's documents, keeping the
// original creation time.
func (s *BoltStore) SaveWidget(rec WidgetRecord) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	now := time.Now().UTC()
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketWidgets))
		stored := boltRecord{SpecSource: rec.SpecSource, OptSource: rec.OptSource, CreatedAt: now, UpdatedAt: now}
		if prev := b.Get([]byte(rec.ID)); prev != nil {
			var old boltRecord
			if err := json.Unmarshal(prev, &old); err == nil {
				stored.CreatedAt = old.CreatedAt
			}
		}
		data, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		return b.Put([]byte(rec.ID), data)
	})
	if err != nil {
		return vberrors.Wrap(err, vberrors.ErrCodeStorageWrite, "save widget").WithContext("widget", rec.ID)
	}
	s.notify(newEvent(EventWidgetSaved, rec.ID))
	return nil
}

// GetWidget loads one widget. A missing widget returns (nil, nil).
func (s *BoltStore) GetWidget(id string) (*WidgetRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	var out *WidgetRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketWidgets)).Get([]byte(id))
		if v == nil {
			return nil
		}
		rec, err := decodeBoltRecord(id, v)
		if err != nil {
			return err
		}
		out = &rec
		return nil
	})
	if err != nil {
		return nil, vberrors.Wrap(err, vberrors.ErrCodeStorageRead, "load widget").WithContext("widget", id)
	}
	return out, nil
}

// ListWidgets returns every stored widget, oldest first.
func (s *BoltStore) ListWidgets() ([]WidgetRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	var out []WidgetRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketWidgets)).ForEach(func(k, v []byte) error {
			rec, err := decodeBoltRecord(string(k), v)
			if err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, vberrors.Wrap(err, vberrors.ErrCodeStorageRead, "list widgets")
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DeleteWidget removes a widget. Deleting a missing widget is not an error.
func (s *BoltStore) DeleteWidget(id string) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketWidgets)).Delete([]byte(id))
	})
	if err != nil {
		return vberrors.Wrap(err, vberrors.ErrCodeStorageWrite, "delete widget").WithContext("widget", id)
	}
	s.notify(newEvent(EventWidgetDeleted, id))
	return nil
}

func decodeBoltRecord(id string, data []byte) (WidgetRecord, error) {
	var stored boltRecord
	if err := json.Unmarshal(data, &stored); err != nil {
		return WidgetRecord{}, fmt.Errorf("decode widget %s: %w", id, err)
	}
	return WidgetRecord{
		ID:         id,
		SpecSource: stored.SpecSource,
		OptSource:  stored.OptSource,
		CreatedAt:  stored.CreatedAt,
		UpdatedAt:  stored.UpdatedAt,
	}, nil
}
