package governor

import (
	"encoding/json"

	"github.com/cuemby/ingestengine/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("host_budgets")

// Store persists per-host breaker state across restarts so a process bounce
// does not silently reset every open breaker to closed.
type Store interface {
	LoadAll() map[string]types.HostBudget
	Save(hostKey string, budget types.HostBudget)
}

// BoltStore is a Store backed by a single bbolt file, one key per host_key
// holding a JSON-encoded types.HostBudget.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (creating if absent) a bbolt-backed snapshot store.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

// Close releases the underlying bbolt file handle.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) LoadAll() map[string]types.HostBudget {
	out := make(map[string]types.HostBudget)
	_ = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var budget types.HostBudget
			if err := json.Unmarshal(v, &budget); err != nil {
				return nil // skip a corrupt record rather than fail startup
			}
			out[string(k)] = budget
			return nil
		})
	})
	return out
}

func (s *BoltStore) Save(hostKey string, budget types.HostBudget) {
	budget.HostKey = hostKey
	payload, err := json.Marshal(budget)
	if err != nil {
		return
	}
	_ = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		return b.Put([]byte(hostKey), payload)
	})
}
