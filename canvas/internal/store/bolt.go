package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/hazyhaar/canvas/canvas/internal/surface"
)

const bucketSurfaces = "surfaces"

// Bolt keeps each surface record as JSON under its id in one bucket.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the bolt file at path.
func OpenBolt(path string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: mkdir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open bolt: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketSurfaces))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init bolt: %w", err)
	}
	return &Bolt{db: db}, nil
}

func (s *Bolt) Save(_ context.Context, st *surface.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", st.SurfaceID, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketSurfaces)).Put([]byte(st.SurfaceID), data)
	})
}

func (s *Bolt) Load(_ context.Context, id string) (*surface.State, error) {
	var st *surface.State
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketSurfaces)).Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		st = &surface.State{}
		return json.Unmarshal(v, st)
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Bolt) Delete(_ context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketSurfaces)).Delete([]byte(id))
	})
}

// ListIDs returns ids in key order.
func (s *Bolt) ListIDs(_ context.Context) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketSurfaces)).ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}

func (s *Bolt) Close() error {
	return s.db.Close()
}
