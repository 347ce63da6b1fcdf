package replica

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"poolselect/pkg/types"
	"poolselect/pkg/utils"
)

const badgerKeyPrefix = "state/"

// BadgerOptions configures a BadgerStore
type BadgerOptions struct {
	Path       string
	InMemory   bool
	SyncWrites bool
	Logger     *zap.Logger

	// ValueLogFileSize overrides the badger default when positive
	ValueLogFileSize int64
}

// BadgerStore keeps control records in a badger database, one key per
// replica. Values are the same text as the control files.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens or creates the database described by opts
func OpenBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	if !opts.InMemory && opts.Path == "" {
		return nil, errors.New("badger store path is required")
	}

	var bo badger.Options
	if opts.InMemory {
		bo = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(opts.Path, 0750); err != nil {
			return nil, fmt.Errorf("failed to create badger directory: %w", err)
		}
		bo = badger.DefaultOptions(opts.Path)
	}
	bo = bo.WithSyncWrites(opts.SyncWrites).WithNumVersionsToKeep(1)
	if opts.ValueLogFileSize > 0 {
		bo = bo.WithValueLogFileSize(opts.ValueLogFileSize)
	}
	if opts.Logger != nil {
		bo = bo.WithLogger(&badgerLogger{opts.Logger.Sugar()})
	} else {
		bo = bo.WithLogger(nil)
	}

	db, err := badger.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}
	if opts.Logger != nil {
		opts.Logger.Debug("Opened badger replica store",
			zap.String("path", opts.Path),
			zap.Bool("in_memory", opts.InMemory),
			zap.String("value_log_file_size", utils.FormatDataSize(bo.ValueLogFileSize)))
	}
	return &BadgerStore{db: db}, nil
}

func badgerKey(id types.PnfsID) []byte {
	return []byte(badgerKeyPrefix + string(id))
}

func (s *BadgerStore) Load(id types.PnfsID) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state record: %w", err)
	}
	return data, nil
}

func (s *BadgerStore) Store(id types.PnfsID, data []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(id), data)
	})
	if err != nil {
		return fmt.Errorf("failed to write state record: %w", err)
	}
	return nil
}

func (s *BadgerStore) Remove(id types.PnfsID) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(id))
	})
	if err != nil {
		return fmt.Errorf("failed to delete state record: %w", err)
	}
	return nil
}

func (s *BadgerStore) List() ([]types.PnfsID, error) {
	var ids []types.PnfsID
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(badgerKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := strings.TrimPrefix(string(it.Item().Key()), badgerKeyPrefix)
			if id, err := types.ParsePnfsID(key); err == nil {
				ids = append(ids, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list state records: %w", err)
	}
	return ids, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// badgerLogger routes badger's internal logging to zap
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{})   { l.s.Errorf(format, args...) }
func (l *badgerLogger) Warningf(format string, args ...interface{}) { l.s.Warnf(format, args...) }
func (l *badgerLogger) Infof(format string, args ...interface{})    { l.s.Infof(format, args...) }
func (l *badgerLogger) Debugf(format string, args ...interface{})   { l.s.Debugf(format, args...) }
