package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v3"

	"hearing-processor/pkg/models"
)

var ErrResultNotFound = errors.New("result not found")

// ResultStore durably keeps the bundle of every completed session.
type ResultStore interface {
	SaveBundle(bundle *models.ResultBundle) error
	GetBundle(sessionID string) (*models.ResultBundle, error)
	Close() error
}

type diskStore struct {
	db *badger.DB
}

// NewDiskStore opens the badger database under path. An empty path keeps
// everything in memory.
func NewDiskStore(path string) (ResultStore, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
		opts = badger.DefaultOptions(filepath.Join(path, "badger"))
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	return &diskStore{db: db}, nil
}

func bundleKey(sessionID string) []byte {
	return []byte("bundle:" + sessionID)
}

func (s *diskStore) SaveBundle(bundle *models.ResultBundle) error {
	data, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("failed to marshal bundle: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(bundleKey(bundle.SessionID), data)
	})
}

func (s *diskStore) GetBundle(sessionID string) (*models.ResultBundle, error) {
	var bundle models.ResultBundle

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(bundleKey(sessionID))
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &bundle)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bundle: %w", err)
	}

	return &bundle, nil
}

func (s *diskStore) Close() error {
	return s.db.Close()
}
