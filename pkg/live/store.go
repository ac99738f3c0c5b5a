package live

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Store persists the active state, so that restarting the dashboard doesn't
// reset the "time in state" clock
type Store interface {
	LoadActive() (ActiveState, bool, error)
	SaveActive(ActiveState) error
}

const (
	bucketActive = "active_state"
	keyCurrent   = "current"
)

// BoltStore is a Store backed by a bbolt database file
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (or creates) the bbolt database at 'path'
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("could not open state db %q: %v", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketActive))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create bucket %q: %v", bucketActive, err)
	}
	return &BoltStore{db: db}, nil
}

// LoadActive implements Store
func (s *BoltStore) LoadActive() (ActiveState, bool, error) {
	var (
		state ActiveState
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucketActive)).Get([]byte(keyCurrent))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &state)
	})
	if err != nil {
		return ActiveState{}, false, fmt.Errorf("could not read active state: %v", err)
	}
	return state, found, nil
}

// SaveActive implements Store
func (s *BoltStore) SaveActive(state ActiveState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketActive)).Put([]byte(keyCurrent), data)
	})
}

// Close closes the underlying database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// MemStore is an in-memory Store
type MemStore struct {
	mu    sync.Mutex
	state *ActiveState
}

// LoadActive implements Store
func (s *MemStore) LoadActive() (ActiveState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return ActiveState{}, false, nil
	}
	return *s.state, true, nil
}

// SaveActive implements Store
func (s *MemStore) SaveActive(state ActiveState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = &state
	return nil
}
