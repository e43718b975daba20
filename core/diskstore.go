package core

import (
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/sirupsen/logrus"
)

// DiskBackend is a LevelDB-backed KVStore (C1's backing layer), so an
// AtomicPointer's commits survive process restarts the way the indexer
// needs them to across blocks. go-ethereum ships its own leveldb binding
// rather than pulling the upstream package directly, which is what this
// adapts.
type DiskBackend struct {
	db *leveldb.Database
}

// OpenDiskBackend opens (creating if absent) a LevelDB database at dir.
// cache and handles follow go-ethereum's own conventions for a
// small-to-medium embedded store.
func OpenDiskBackend(dir string, cache, handles int) (*DiskBackend, error) {
	db, err := leveldb.New(dir, cache, handles, "alkanes/", false)
	if err != nil {
		return nil, err
	}
	return &DiskBackend{db: db}, nil
}

func (d *DiskBackend) Get(key []byte) ([]byte, bool) {
	v, err := d.db.Get(key)
	if err != nil {
		return nil, false
	}
	return v, true
}

func (d *DiskBackend) Set(key, value []byte) {
	if err := d.db.Put(key, value); err != nil {
		logrus.WithError(err).WithField("key", string(key)).Error("disk store: put failed")
	}
}

func (d *DiskBackend) Delete(key []byte) {
	if err := d.db.Delete(key); err != nil {
		logrus.WithError(err).WithField("key", string(key)).Error("disk store: delete failed")
	}
}

// Close flushes and releases the underlying database handles.
func (d *DiskBackend) Close() error { return d.db.Close() }
