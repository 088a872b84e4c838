package lifecycle

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fipacore/platform/internal/domain"
	"github.com/fipacore/platform/internal/security"
)

// KVStore is an agent's persistent key/value storage, encrypted at rest
// and confined to a per-agent directory under the node's data root.
// Implements the sandbox.Storage interface the sandbox package's host
// functions call through.
type KVStore struct {
	mu        sync.RWMutex
	agentID   string
	path      string
	encryptor domain.ContentEncryptor
	data      map[string]string // key -> encrypted value
	quota     int64
}

// NewKVStore opens (or creates) the KV store for agentID under dataDir,
// enforcing quotaBytes as the total size of stored values. A nil
// encryptor stores values unencrypted (base64-encoded only).
func NewKVStore(sb *security.Sandbox, agentID string, quotaBytes int64, encryptor domain.ContentEncryptor) (*KVStore, error) {
	if strings.ContainsAny(agentID, `/\`) || strings.Contains(agentID, "..") {
		return nil, domain.NewDomainError("NewKVStore", domain.ErrInvalidInput, agentID)
	}

	path, err := sb.ValidatePath(filepath.Join(sb.Root(), agentID+".kv.json"))
	if err != nil {
		return nil, err
	}

	store := &KVStore{
		agentID:   agentID,
		path:      path,
		encryptor: encryptor,
		data:      make(map[string]string),
		quota:     quotaBytes,
	}

	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *KVStore) load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("lifecycle: read kv store %s: %w", s.path, err)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, &s.data)
}

func (s *KVStore) persistLocked() error {
	raw, err := json.Marshal(s.data)
	if err != nil {
		return fmt.Errorf("lifecycle: marshal kv store: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("lifecycle: create kv dir: %w", err)
	}
	return os.WriteFile(s.path, raw, 0o600)
}

// Get returns the decrypted value for key, or ok=false if absent.
func (s *KVStore) Get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	stored, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	plaintext := stored
	if s.encryptor != nil {
		var err error
		plaintext, err = s.encryptor.Decrypt(stored)
		if err != nil {
			return nil, false, fmt.Errorf("lifecycle: decrypt %s/%s: %w", s.agentID, key, err)
		}
	}
	decoded, err := base64.StdEncoding.DecodeString(plaintext)
	if err != nil {
		return nil, false, fmt.Errorf("lifecycle: decode %s/%s: %w", s.agentID, key, err)
	}
	return decoded, true, nil
}

// Put stores value under key, enforcing the agent's storage quota over
// the total encrypted size of all stored values.
func (s *KVStore) Put(key string, value []byte) error {
	encoded := base64.StdEncoding.EncodeToString(value)

	stored := encoded
	if s.encryptor != nil {
		ciphertext, err := s.encryptor.Encrypt(encoded)
		if err != nil {
			return fmt.Errorf("lifecycle: encrypt %s/%s: %w", s.agentID, key, err)
		}
		stored = ciphertext
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.quota > 0 {
		total := int64(len(stored))
		for k, v := range s.data {
			if k == key {
				continue
			}
			total += int64(len(v))
		}
		if total > s.quota {
			return fmt.Errorf("%w: agent %s storage quota %d bytes", domain.ErrQuotaExceeded, s.agentID, s.quota)
		}
	}

	s.data[key] = stored
	return s.persistLocked()
}

// Delete removes key. Deleting an absent key is not an error.
func (s *KVStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return s.persistLocked()
}

// Keys returns a snapshot of every key currently stored.
func (s *KVStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys
}
