package ldb

import (
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	ldbErrors "github.com/syndtr/goleveldb/leveldb/errors"
	ldbutil "github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB defines a thin wrapper around the underlying leveldb database.
type LevelDB struct {
	ldb *leveldb.DB
}

// NewLevelDB opens a leveldb instance defined by the given path.
func NewLevelDB(path string) (*LevelDB, error) {
	// Open leveldb. If it doesn't exist, create it.
	options := Options()
	ldb, err := leveldb.OpenFile(path, options)

	// If the database is corrupted, attempt to recover.
	if _, corrupted := err.(*ldbErrors.ErrCorrupted); corrupted {
		log.Warnf("LevelDB corruption detected for path %s: %s", path, err)
		var recoverErr error
		ldb, recoverErr = leveldb.RecoverFile(path, nil)
		if recoverErr != nil {
			return nil, errors.Wrapf(err, "failed recovering from database "+
				"corruption: %s", recoverErr)
		}
		log.Warnf("LevelDB recovered from corruption for path %s", path)
		err = nil
	}

	// If the database cannot be opened for any other reason, return the
	// error as-is.
	if err != nil {
		return nil, errors.WithStack(err)
	}

	db := &LevelDB{
		ldb: ldb,
	}
	return db, nil
}

// Close closes the leveldb instance.
func (db *LevelDB) Close() error {
	err := db.ldb.Close()
	return errors.WithStack(err)
}

// Put sets the value of the given key. It overwrites any previous value
// for that key.
func (db *LevelDB) Put(key, value []byte) error {
	err := db.ldb.Put(key, value, nil)
	return errors.WithStack(err)
}

// Get gets the value of the given key. It returns ErrNotFound if the given
// key does not exist.
func (db *LevelDB) Get(key []byte) ([]byte, error) {
	data, err := db.ldb.Get(key, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, errors.Wrapf(err, "key %x not found", key)
		}
		return nil, errors.WithStack(err)
	}
	return data, nil
}

// Has returns true if the database does contain the given key.
func (db *LevelDB) Has(key []byte) (bool, error) {
	exists, err := db.ldb.Has(key, nil)
	return exists, errors.WithStack(err)
}

// Delete deletes the value for the given key. Will not return an error if
// the key doesn't exist.
func (db *LevelDB) Delete(key []byte) error {
	err := db.ldb.Delete(key, nil)
	return errors.WithStack(err)
}

// IsNotFoundError checks whether an error is an ErrNotFound.
func IsNotFoundError(err error) bool {
	return errors.Is(err, leveldb.ErrNotFound)
}

// Batch returns a new write batch. The batch is not applied until Write is
// called.
func (db *LevelDB) Batch() *Batch {
	return &Batch{
		db:    db,
		batch: new(leveldb.Batch),
	}
}

// ForEachPrefixed invokes fn for every key/value pair whose key carries the
// given prefix, in key order. Iteration stops at the first error.
func (db *LevelDB) ForEachPrefixed(prefix []byte,
	fn func(key, value []byte) error) error {

	iterator := db.ldb.NewIterator(ldbutil.BytesPrefix(prefix), nil)
	defer iterator.Release()

	for iterator.Next() {
		err := fn(iterator.Key(), iterator.Value())
		if err != nil {
			return err
		}
	}
	return errors.WithStack(iterator.Error())
}

// Batch is a set of keyspace mutations applied atomically.
type Batch struct {
	db    *LevelDB
	batch *leveldb.Batch
}

// Put schedules setting the value of the given key in the batch.
func (b *Batch) Put(key, value []byte) {
	b.batch.Put(key, value)
}

// Delete schedules deleting the value of the given key in the batch.
func (b *Batch) Delete(key []byte) {
	b.batch.Delete(key)
}

// Write atomically applies all batched mutations. When sync is set the
// write is flushed to stable storage before returning.
func (b *Batch) Write(sync bool) error {
	options := WriteOptions(sync)
	err := b.db.ldb.Write(b.batch, options)
	return errors.WithStack(err)
}
