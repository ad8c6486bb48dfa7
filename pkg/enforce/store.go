package enforce

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var activeBucket = []byte("active_actions")

// ActionStore persists the active-action table so a restart resumes sweeping
// with the original expiries instead of forgetting live enforcement state.
type ActionStore struct {
	db *bolt.DB
}

// OpenActionStore opens (or creates) the store at path.
func OpenActionStore(path string) (*ActionStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open action store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(activeBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init action store: %w", err)
	}
	return &ActionStore{db: db}, nil
}

// Close releases the underlying database.
func (s *ActionStore) Close() error { return s.db.Close() }

// Save upserts the active action for its source.
func (s *ActionStore) Save(a Action) error {
	buf, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(activeBucket).Put([]byte(a.SourceID), buf)
	})
}

// Delete removes the active action for a source. Missing keys are fine.
func (s *ActionStore) Delete(sourceID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(activeBucket).Delete([]byte(sourceID))
	})
}

// LoadAll returns every persisted active action.
func (s *ActionStore) LoadAll() ([]Action, error) {
	var out []Action
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(activeBucket).ForEach(func(k, v []byte) error {
			var a Action
			if err := json.Unmarshal(v, &a); err != nil {
				return nil // skip corrupt entries
			}
			out = append(out, a)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load actions: %w", err)
	}
	return out, nil
}
