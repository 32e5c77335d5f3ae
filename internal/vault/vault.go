package vault

import (
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// Vault keys for the cloud sync credentials and folder map.
const (
	KeyAccessToken     = "gdrive_access_token"
	KeyRefreshToken    = "gdrive_refresh_token"
	KeyStagingFolderID = "gdrive_staging_folder_id"
	KeyFinalFolderID   = "gdrive_final_folder_id"
)

// Vault is the persistent store for long-lived secrets. Implementations
// must be safe for concurrent use; absence of a key is not an error.
type Vault interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Delete(key string) error
	Close() error
}

// BadgerVault stores secrets in an embedded Badger database, encrypted at
// rest with AES when an encryption key is supplied.
type BadgerVault struct {
	db *badger.DB
}

// Open opens (or creates) the vault at dir. encryptionKey must be 16, 24 or
// 32 bytes for AES-128/192/256, or empty to store values unencrypted.
func Open(dir string, encryptionKey []byte) (*BadgerVault, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if len(encryptionKey) > 0 {
		opts = opts.
			WithEncryptionKey(encryptionKey).
			WithIndexCacheSize(10 << 20)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open vault: %w", err)
	}
	return &BadgerVault{db: db}, nil
}

// OpenInMemory opens an ephemeral vault, used by tests.
func OpenInMemory() (*BadgerVault, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory vault: %w", err)
	}
	return &BadgerVault{db: db}, nil
}

// Get returns the value for key, with ok false when the key is absent.
func (v *BadgerVault) Get(key string) (string, bool, error) {
	var value string
	err := v.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("vault get %q: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key, overwriting any previous value.
func (v *BadgerVault) Set(key, value string) error {
	err := v.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("vault set %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (v *BadgerVault) Delete(key string) error {
	err := v.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("vault delete %q: %w", key, err)
	}
	return nil
}

// Close closes the underlying database.
func (v *BadgerVault) Close() error {
	return v.db.Close()
}
