package storage

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

const filesBucket = "files"

// BoltStore implements Store on a bbolt database file so a node's replicas
// survive a coordinator restart. Records are JSON-encoded under their file
// name in a single bucket.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (or creates) the database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, e := tx.CreateBucketIfNotExists([]byte(filesBucket)); e != nil {
			return fmt.Errorf("create bucket %s: %w", filesBucket, e)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (b *BoltStore) Get(name string) (ValueVersion, error) {
	var vv ValueVersion
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(filesBucket)).Get([]byte(name))
		if raw == nil {
			return ErrKeyNotFound
		}
		return json.Unmarshal(raw, &vv)
	})
	return vv, err
}

func (b *BoltStore) Put(name string, vv ValueVersion) error {
	raw, err := json.Marshal(vv)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(filesBucket)).Put([]byte(name), raw)
	})
}

func (b *BoltStore) Delete(name string) (ValueVersion, error) {
	var vv ValueVersion
	err := b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket([]byte(filesBucket))
		raw := bk.Get([]byte(name))
		if raw == nil {
			return ErrKeyNotFound
		}
		if err := json.Unmarshal(raw, &vv); err != nil {
			return err
		}
		return bk.Delete([]byte(name))
	})
	return vv, err
}

func (b *BoltStore) List() []string {
	var names []string
	_ = b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(filesBucket)).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names
}

func (b *BoltStore) Stats() StoreStats {
	var stats StoreStats
	_ = b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(filesBucket)).ForEach(func(_, v []byte) error {
			var vv ValueVersion
			if err := json.Unmarshal(v, &vv); err != nil {
				return nil
			}
			stats.add(vv)
			return nil
		})
	})
	return stats
}

// Clear drops and recreates the files bucket.
func (b *BoltStore) Clear() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(filesBucket)); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket([]byte(filesBucket))
		return err
	})
}

func (b *BoltStore) Close() error {
	return b.db.Close()
}
