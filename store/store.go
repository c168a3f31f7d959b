package store

import (
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Config struct {
	Logger         *slog.Logger
	BadgerLogLevel slog.Level
	Directory      string
	SnippetTTL     time.Duration // Zero stores snippets without expiry
}

// Store persists playground snippets under generated ids. Sources are
// validated by the caller before they arrive here; the store treats
// them as opaque bytes.
type Store interface {
	Put(source string) (string, error)
	Get(id string) (string, error)
	Delete(id string) error
	Close() error
}

type snippetStore struct {
	logger     *slog.Logger
	db         *badger.DB
	snippetTTL time.Duration
}

var _ Store = &snippetStore{}

func New(cfg Config) (Store, error) {
	if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
		return nil, &ErrInternal{Err: errors.Wrap(err, "failed to create snippet directory")}
	}

	badgerLogLevel := badger.INFO
	switch cfg.BadgerLogLevel {
	case slog.LevelDebug:
		badgerLogLevel = badger.DEBUG
	case slog.LevelWarn:
		badgerLogLevel = badger.WARNING
	case slog.LevelError:
		badgerLogLevel = badger.ERROR
	}

	dbOpts := badger.DefaultOptions(cfg.Directory).
		WithLogger(newLogger(cfg.Logger.WithGroup("badger"))).
		WithLoggingLevel(badgerLogLevel).
		WithMemTableSize(16 << 20) // 16MB MemTableSize

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, &ErrInternal{Err: errors.Wrap(err, "failed to open snippet store")}
	}

	return &snippetStore{
		logger:     cfg.Logger.WithGroup("store"),
		db:         db,
		snippetTTL: cfg.SnippetTTL,
	}, nil
}

func (s *snippetStore) Put(source string) (string, error) {
	id := uuid.NewString()
	err := s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(id), []byte(source))
		if s.snippetTTL > 0 {
			entry = entry.WithTTL(s.snippetTTL)
		}
		if err := txn.SetEntry(entry); err != nil {
			return &ErrInternal{Err: err}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	s.logger.Debug("stored snippet", "id", id, "bytes", len(source))
	return id, nil
}

func (s *snippetStore) Get(id string) (string, error) {
	var source []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return &ErrSnippetNotFound{ID: id}
			}
			return &ErrInternal{Err: err}
		}
		source, err = item.ValueCopy(nil)
		if err != nil {
			return &ErrInternal{Err: err}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return string(source), nil
}

func (s *snippetStore) Delete(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(id)); err != nil {
			return &ErrInternal{Err: err}
		}
		return nil
	})
}

func (s *snippetStore) Close() error {
	if err := s.db.Close(); err != nil {
		s.logger.Error("error closing snippet store", "error", err)
		return &ErrInternal{Err: err}
	}
	return nil
}
