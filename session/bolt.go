package session

import (
	"errors"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
)

var (
	boltBucket = []byte("session")
	boltKey    = []byte("current")
)

// BoltStorage persists the session as a single cbor-encoded value inside a
// bbolt database, giving a caller that already keeps other state in bbolt
// (e.g. message or media caches) one transactional store instead of a
// second ad hoc file.
type BoltStorage struct {
	db *bolt.DB
}

// OpenBoltStorage opens (creating if necessary) the bbolt database at path
// and ensures the session bucket exists.
func OpenBoltStorage(path string) (*BoltStorage, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStorage{db: db}, nil
}

func (b *BoltStorage) Load() (*Session, error) {
	s := &Session{}
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(boltBucket).Get(boltKey)
		if raw == nil {
			return nil
		}
		return cbor.Unmarshal(raw, s)
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (b *BoltStorage) Save(s *Session) error {
	raw, err := cbor.Marshal(s)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put(boltKey, raw)
	})
}

func (b *BoltStorage) Delete() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		if bucket == nil {
			return errors.New("session: bucket missing")
		}
		return bucket.Delete(boltKey)
	})
}

// Close releases the underlying database handle.
func (b *BoltStorage) Close() error {
	return b.db.Close()
}
