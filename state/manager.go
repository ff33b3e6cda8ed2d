package state

import (
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"basalt/storage"
)

// Manager provides keyed, RLP-encoded access to pool state on top of a
// raw key-value database. Writes accumulate in an overlay so one
// invocation either commits everything or leaves nothing observable,
// matching the host atomicity contract.
type Manager struct {
	db      storage.Database
	overlay map[string]overlayEntry
}

type overlayEntry struct {
	value   []byte
	deleted bool
}

// NewManager creates a state manager operating on the provided
// database.
func NewManager(db storage.Database) *Manager {
	return &Manager{
		db:      db,
		overlay: make(map[string]overlayEntry),
	}
}

// Commit flushes buffered writes to the underlying database and resets
// the overlay.
func (m *Manager) Commit() error {
	for key, entry := range m.overlay {
		if entry.deleted {
			if err := m.db.Delete([]byte(key)); err != nil {
				return err
			}
			continue
		}
		if err := m.db.Put([]byte(key), entry.value); err != nil {
			return err
		}
	}
	m.overlay = make(map[string]overlayEntry)
	return nil
}

// Discard drops all buffered writes.
func (m *Manager) Discard() {
	m.overlay = make(map[string]overlayEntry)
}

// kvKey hashes logical keys so key layout never leaks sizing
// assumptions into the backend.
func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (m *Manager) rawGet(key []byte) ([]byte, bool, error) {
	hashed := kvKey(key)
	if entry, ok := m.overlay[string(hashed)]; ok {
		if entry.deleted {
			return nil, false, nil
		}
		return entry.value, true, nil
	}
	data, err := m.db.Get(hashed)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// KVPut stores the provided value under the supplied key using RLP
// encoding.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.overlay[string(kvKey(key))] = overlayEntry{value: encoded}
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes
// it into the provided destination. The boolean return reports whether
// the key existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, ok, err := m.rawGet(key)
	if err != nil || !ok {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVHas reports whether the supplied key exists.
func (m *Manager) KVHas(key []byte) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	_, ok, err := m.rawGet(key)
	return ok, err
}

// KVDelete removes the supplied key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.overlay[string(kvKey(key))] = overlayEntry{deleted: true}
	return nil
}
