// Package state implements the blockchain state management layer for NovaCoin.
package state

import (
	"encoding/binary"
	"errors"
	"sort"
	"sync"

	"github.com/novatrace/evmdbg/crypto"
)

// Trie is the key/value store behind an account's fields and a contract's
// storage slots. It is backed by a flat map rather than a real
// Merkle-Patricia structure: every access here is a point Get/Put/Delete
// keyed by a full address or storage slot, never a path walk or a Merkle
// proof, so there is nothing for branch/extension/leaf nodes to buy this
// debugger. Root is a content hash over every entry, recomputed after each
// mutation, used only so Copy/snapshot comparisons and a later reopen of a
// committed trie can find the same data again.
type Trie struct {
	db   Database
	root Hash

	mu      sync.RWMutex
	entries map[string][]byte // raw key bytes -> value, loaded lazily on first access
	loaded  bool
}

// NewTrie opens a trie at the given root, loading it lazily from db.
func NewTrie(db Database, root Hash) *Trie {
	return &Trie{db: db, root: root}
}

// NewEmptyTrie creates a new empty trie.
func NewEmptyTrie(db Database) *Trie {
	return NewTrie(db, EmptyRootHash)
}

// Root returns the current root hash, reflecting every Put/Delete applied
// so far even if Commit has not yet persisted them.
func (t *Trie) Root() Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root
}

// Get retrieves a value from the trie.
func (t *Trie) Get(key []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ensureLoaded(); err != nil {
		return nil, err
	}
	return t.entries[string(key)], nil
}

// Put inserts or updates a key-value pair in the trie.
func (t *Trie) Put(key, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ensureLoaded(); err != nil {
		return err
	}
	t.entries[string(key)] = value
	t.root = t.computeRoot()
	return nil
}

// Delete removes a key from the trie.
func (t *Trie) Delete(key []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ensureLoaded(); err != nil {
		return err
	}
	delete(t.entries, string(key))
	t.root = t.computeRoot()
	return nil
}

// Commit persists the trie's current contents under its root hash and
// returns that root.
func (t *Trie) Commit() (Hash, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ensureLoaded(); err != nil {
		return EmptyHash, err
	}
	if len(t.entries) == 0 {
		t.root = EmptyRootHash
		return t.root, nil
	}
	if err := t.db.Put(t.root[:], t.encode()); err != nil {
		return EmptyHash, err
	}
	return t.root, nil
}

// ensureLoaded lazily reads this trie's entry set from db the first time
// it's touched, rather than on every NewTrie call.
func (t *Trie) ensureLoaded() error {
	if t.loaded {
		return nil
	}
	t.entries = make(map[string][]byte)
	t.loaded = true
	if t.root == EmptyRootHash {
		return nil
	}
	blob, err := t.db.Get(t.root[:])
	if err != nil {
		if err == ErrNotFound {
			return nil
		}
		return err
	}
	return t.decode(blob)
}

// computeRoot hashes every entry in sorted key order so two tries holding
// the same data always land on the same root regardless of insertion order.
func (t *Trie) computeRoot() Hash {
	if len(t.entries) == 0 {
		return EmptyRootHash
	}
	keys := make([]string, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf []byte
	for _, k := range keys {
		buf = append(buf, encodeEntry([]byte(k), t.entries[k])...)
	}
	return Hash(crypto.Keccak256(buf))
}

// encode serializes the trie's entries, sorted by key, for storage under
// its root hash.
func (t *Trie) encode() []byte {
	keys := make([]string, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf []byte
	for _, k := range keys {
		buf = append(buf, encodeEntry([]byte(k), t.entries[k])...)
	}
	return buf
}

// decode parses a blob written by encode back into t.entries.
func (t *Trie) decode(data []byte) error {
	for len(data) > 0 {
		if len(data) < 8 {
			return ErrInvalidNodeData
		}
		keyLen := binary.BigEndian.Uint32(data[0:4])
		data = data[4:]
		if uint32(len(data)) < keyLen+4 {
			return ErrInvalidNodeData
		}
		key := data[:keyLen]
		data = data[keyLen:]
		valLen := binary.BigEndian.Uint32(data[0:4])
		data = data[4:]
		if uint32(len(data)) < valLen {
			return ErrInvalidNodeData
		}
		value := data[:valLen]
		data = data[valLen:]
		t.entries[string(key)] = append([]byte{}, value...)
	}
	return nil
}

// encodeEntry writes one key/value pair as keyLen(4) + key + valLen(4) + value.
func encodeEntry(key, value []byte) []byte {
	buf := make([]byte, 0, 8+len(key)+len(value))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(key)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, key...)
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(value)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, value...)
	return buf
}

var ErrInvalidNodeData = errors.New("invalid trie entry data")
