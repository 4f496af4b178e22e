package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/rzbill/lambdeploy/pkg/log"
	"github.com/rzbill/lambdeploy/pkg/types"
)

var _ Store = (*BadgerStore)(nil)

// BadgerStore keeps history in a BadgerDB directory under the state dir.
type BadgerStore struct {
	db     *badger.DB
	path   string
	logger log.Logger
}

// OpenBadger opens (or creates) the store at path.
func OpenBadger(path string, logger log.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = log.WithComponent("history")
	} else {
		logger = logger.WithComponent("history")
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history dir: %w", err)
	}
	opts := badger.DefaultOptions(path)
	opts.Logger = &badgerLogAdapter{logger: logger}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}
	logger.Debug("History store opened", log.Str("path", path))
	return &BadgerStore{db: db, path: path, logger: logger}, nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	if s.db == nil {
		return nil
	}
	s.logger.Debug("Closing history store", log.Str("path", s.path))
	return s.db.Close()
}

func (s *BadgerStore) Record(ctx context.Context, run types.DeploymentResult) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to serialize run: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(runKey(run), data)
	})
}

func (s *BadgerStore) List(ctx context.Context, target string, limit int) ([]types.DeploymentResult, error) {
	prefix := runPrefix(target)
	var runs []types.DeploymentResult

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seekEnd(prefix)); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				var run types.DeploymentResult
				if err := json.Unmarshal(val, &run); err != nil {
					return fmt.Errorf("failed to deserialize run: %w", err)
				}
				runs = append(runs, run)
				return nil
			})
			if err != nil {
				return err
			}
			if limit > 0 && len(runs) >= limit && target != "" {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if target == "" {
		sortNewestFirst(runs)
		if limit > 0 && len(runs) > limit {
			runs = runs[:limit]
		}
	}
	return runs, nil
}

func (s *BadgerStore) SetPending(ctx context.Context, p Pending) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to serialize pending activation: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(pendingKey(p.Target), data)
	})
}

func (s *BadgerStore) GetPending(ctx context.Context, target string) (Pending, error) {
	var p Pending
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(pendingKey(target))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &p)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Pending{}, ErrNotFound
	}
	return p, err
}

func (s *BadgerStore) ClearPending(ctx context.Context, target string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(pendingKey(target))
	})
}

func (s *BadgerStore) SaveArtifact(ctx context.Context, target string, art types.Artifact) error {
	data, err := json.Marshal(art)
	if err != nil {
		return fmt.Errorf("failed to serialize artifact: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(artifactKey(target), data)
	})
}

func (s *BadgerStore) LastArtifact(ctx context.Context, target string) (types.Artifact, error) {
	var art types.Artifact
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(artifactKey(target))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &art)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return types.Artifact{}, ErrNotFound
	}
	return art, err
}

// badgerLogAdapter adapts our logger to BadgerDB's logger interface.
type badgerLogAdapter struct {
	logger log.Logger
}

func (l *badgerLogAdapter) Errorf(format string, args ...interface{}) {
	l.logger.Errorf("BadgerDB: "+format, args...)
}

func (l *badgerLogAdapter) Warningf(format string, args ...interface{}) {
	l.logger.Warnf("BadgerDB: "+format, args...)
}

func (l *badgerLogAdapter) Infof(format string, args ...interface{}) {
	l.logger.Debugf("BadgerDB: "+format, args...)
}

func (l *badgerLogAdapter) Debugf(format string, args ...interface{}) {
	l.logger.Debugf("BadgerDB: "+format, args...)
}
