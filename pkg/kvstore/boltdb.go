package kvstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

// dataBucket is the single bucket a partition's runtime database uses. The
// state-machine payload this broker manages has no typed schema of its own
// (that's the BPMN record applier's concern, out of scope per spec.md), so
// unlike the teacher's storage.BoltStore there is exactly one bucket rather
// than one per domain entity.
var dataBucket = []byte("data")

// BoltFactory opens BoltDB-backed DBs, grounded on the teacher's
// storage.NewBoltStore.
type BoltFactory struct{}

// NewBoltFactory returns the default, BoltDB-backed Factory.
func NewBoltFactory() Factory {
	return BoltFactory{}
}

func (BoltFactory) Open(_ context.Context, dir string) (DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("kvstore: create runtime dir %s: %w", dir, err)
	}

	dbPath := filepath.Join(dir, "state.db")
	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open %s: %w", dbPath, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(dataBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("kvstore: create bucket: %w", err)
	}

	return &boltDB{db: db}, nil
}

type boltDB struct {
	db *bolt.DB
}

func (b *boltDB) Get(key []byte) ([]byte, bool, error) {
	var value []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(dataBucket).Get(key)
		if v != nil {
			value = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return value, value != nil, nil
}

func (b *boltDB) Put(key, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(dataBucket).Put(key, value)
	})
}

func (b *boltDB) Delete(key []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(dataBucket).Delete(key)
	})
}

func (b *boltDB) ForEach(fn func(key, value []byte) error) error {
	return b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(dataBucket).ForEach(fn)
	})
}

// CreateSnapshot writes a consistent copy of the database file into dir
// using bbolt's own hot-backup primitive (Tx.CopyFile, invoked inside a
// read-only View so the copy observes a single consistent transaction),
// grounded on the teacher's bolt.Open(dbPath, 0600, nil) usage in
// storage.NewBoltStore.
func (b *boltDB) CreateSnapshot(dir string) error {
	dst := filepath.Join(dir, "state.db")
	return b.db.View(func(tx *bolt.Tx) error {
		return tx.CopyFile(dst, 0o600)
	})
}

func (b *boltDB) Close() error {
	return b.db.Close()
}
