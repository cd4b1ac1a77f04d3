package store

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// dbOptions keeps the state database small: it only ever holds one record
// per backend.
var dbOptions = &opt.Options{
	BlockCacheCapacity: 1 * opt.MiB,
	WriteBuffer:        1 * opt.MiB,
}

// openLevelDB opens the state database at path, or an in-memory one when path
// is empty. A corrupted manifest is rebuilt from the table files.
func openLevelDB(path string) (*leveldb.DB, error) {
	if path == "" {
		return leveldb.Open(storage.NewMemStorage(), dbOptions)
	}

	db, err := leveldb.OpenFile(path, dbOptions)
	if lerrors.IsCorrupted(err) {
		log.Warn().Err(err).Str("path", path).Msg("state database corrupted, recovering")
		db, err = leveldb.RecoverFile(path, dbOptions)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open state database %s: %w", path, err)
	}
	return db, nil
}
