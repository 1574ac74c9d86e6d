// Package state implements the blockchain state management layer backing
// the debugger's EVM.
package state

import (
	"bytes"
	"math/big"
	"testing"
)

// === Account Tests ===

func TestAccount_NewAccount(t *testing.T) {
	acc := NewAccount()

	if acc.Nonce != 0 {
		t.Errorf("expected nonce 0, got %d", acc.Nonce)
	}
	if acc.Balance == nil || acc.Balance.Sign() != 0 {
		t.Error("expected zero balance")
	}
	if acc.StorageRoot != EmptyRootHash {
		t.Error("expected empty storage root")
	}
	if !acc.IsEmpty() {
		t.Error("a freshly created account should be empty")
	}
}

func TestAccount_IsEmptyTracksNonceBalanceAndCode(t *testing.T) {
	acc := NewAccount()
	acc.Nonce = 1
	if acc.IsEmpty() {
		t.Error("account with a nonce should not be empty")
	}

	acc = NewAccount()
	acc.Balance = big.NewInt(100)
	if acc.IsEmpty() {
		t.Error("account with a balance should not be empty")
	}

	acc = NewAccount()
	acc.CodeHash = Hash{1}
	if acc.IsEmpty() {
		t.Error("account with code should not be empty")
	}
}

func TestAccount_CopyIsDeep(t *testing.T) {
	acc := NewAccount()
	acc.Nonce = 5
	acc.Balance = big.NewInt(1000)
	acc.StorageRoot = Hash{1, 2, 3}

	cpy := acc.Copy()
	cpy.Balance.SetInt64(999)

	if acc.Balance.Int64() == 999 {
		t.Error("balance should be deep copied, mutating the copy touched the original")
	}
	if cpy.Nonce != acc.Nonce || cpy.StorageRoot != acc.StorageRoot {
		t.Error("copy should carry over nonce and storage root")
	}
}

func TestAccount_SerializeRoundTrip(t *testing.T) {
	acc := NewAccount()
	acc.Nonce = 42
	acc.Balance = big.NewInt(123456789)
	acc.StorageRoot = Hash{1, 2, 3, 4, 5}
	acc.CodeHash = Hash{9, 8, 7, 6, 5}

	restored, err := DeserializeAccount(acc.Serialize())
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if restored.Nonce != acc.Nonce || restored.Balance.Cmp(acc.Balance) != 0 ||
		restored.StorageRoot != acc.StorageRoot || restored.CodeHash != acc.CodeHash {
		t.Errorf("round trip mismatch: got %+v, want nonce=%d balance=%v storageRoot=%v codeHash=%v",
			restored, acc.Nonce, acc.Balance, acc.StorageRoot, acc.CodeHash)
	}
}

func TestAddress_StringIsLowercaseHexWithPrefix(t *testing.T) {
	addr := Address{0x12, 0x34, 0xab, 0xcd}
	s := addr.String()

	if len(s) != 42 || s[:2] != "0x" {
		t.Errorf("expected a 42-char 0x-prefixed address, got %q", s)
	}
	if s[2:10] != "1234abcd" {
		t.Errorf("expected lowercase hex digits 1234abcd, got %q", s)
	}
}

func TestAddressFromPublicKeyIsDeterministic(t *testing.T) {
	pubKey := []byte("test public key data for address derivation")
	if AddressFromPublicKey(pubKey) != AddressFromPublicKey(pubKey) {
		t.Error("address derivation should be deterministic")
	}
}

// === Database Tests ===

func TestMemoryDatabase_PutGetDeleteHas(t *testing.T) {
	db := NewMemoryDatabase()
	defer db.Close()

	key, value := []byte("test-key"), []byte("test-value")
	if err := db.Put(key, value); err != nil {
		t.Fatalf("put: %v", err)
	}
	if got, err := db.Get(key); err != nil || !bytes.Equal(got, value) {
		t.Errorf("get: got (%v, %v), want (%v, nil)", got, err, value)
	}
	if has, _ := db.Has(key); !has {
		t.Error("expected Has to report the key present")
	}

	db.Delete(key)
	if _, err := db.Get(key); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryDatabase_BatchIsAtomicUntilWrite(t *testing.T) {
	db := NewMemoryDatabase()
	defer db.Close()

	batch := db.NewBatch()
	batch.Put([]byte("key1"), []byte("value1"))
	batch.Put([]byte("key2"), []byte("value2"))
	batch.Delete([]byte("key1"))

	if _, err := db.Get([]byte("key2")); err != ErrNotFound {
		t.Error("batch contents should not be visible before Write")
	}

	batch.Write()

	if _, err := db.Get([]byte("key1")); err != ErrNotFound {
		t.Error("key1 should have been deleted by the batch")
	}
	if val, err := db.Get([]byte("key2")); err != nil || !bytes.Equal(val, []byte("value2")) {
		t.Error("key2 should be present after the batch commits")
	}
}

// TestCachingDatabase_FlushAndStats covers both the cache's read-through
// behavior and the Stats accessor an Engine logs after every Execute to
// see how effective the cache is without reaching into its private maps.
func TestCachingDatabase_FlushAndStats(t *testing.T) {
	underlying := NewMemoryDatabase()
	defer underlying.Close()

	db := NewCachingDatabase(underlying, 100)
	db.Put([]byte("key1"), []byte("value1"))
	db.Put([]byte("key2"), []byte("value2"))

	if val, err := db.Get([]byte("key1")); err != nil || !bytes.Equal(val, []byte("value1")) {
		t.Error("should read back from the dirty set before a flush")
	}
	if cached, dirty := db.Stats(); dirty != 2 {
		t.Errorf("expected 2 dirty entries before flush, got cached=%d dirty=%d", cached, dirty)
	}

	db.Flush()

	if val, err := underlying.Get([]byte("key1")); err != nil || !bytes.Equal(val, []byte("value1")) {
		t.Error("flush should have pushed key1 into the underlying store")
	}
	if cached, dirty := db.Stats(); dirty != 0 || cached != 2 {
		t.Errorf("expected dirty=0 cached=2 after flush, got cached=%d dirty=%d", cached, dirty)
	}
}

// === Trie Tests ===

func TestTrie_PutGetDelete(t *testing.T) {
	db := NewMemoryDatabase()
	defer db.Close()

	trie := NewEmptyTrie(db)
	trie.Put([]byte("key1"), []byte("value1"))
	trie.Put([]byte("key2"), []byte("value2"))
	trie.Put([]byte("longer-key"), []byte("longer-value"))

	for _, tc := range []struct{ key, want string }{
		{"key1", "value1"},
		{"key2", "value2"},
		{"longer-key", "longer-value"},
	} {
		if val, err := trie.Get([]byte(tc.key)); err != nil || string(val) != tc.want {
			t.Errorf("%s: got (%q, %v), want %q", tc.key, val, err, tc.want)
		}
	}

	trie.Delete([]byte("key1"))
	if val, _ := trie.Get([]byte("key1")); val != nil {
		t.Error("deleted key should return nil")
	}
	if val, _ := trie.Get([]byte("key2")); !bytes.Equal(val, []byte("value2")) {
		t.Error("deleting one key should not disturb another")
	}
}

func TestTrie_UpdateOverwritesExistingKey(t *testing.T) {
	db := NewMemoryDatabase()
	defer db.Close()

	trie := NewEmptyTrie(db)
	trie.Put([]byte("key"), []byte("value1"))
	trie.Put([]byte("key"), []byte("value2"))

	if val, _ := trie.Get([]byte("key")); !bytes.Equal(val, []byte("value2")) {
		t.Error("second Put should overwrite the first")
	}
}

func TestTrie_CommitPersistsAcrossInstances(t *testing.T) {
	db := NewMemoryDatabase()
	defer db.Close()

	trie := NewEmptyTrie(db)
	trie.Put([]byte("key1"), []byte("value1"))
	trie.Put([]byte("key2"), []byte("value2"))

	root, err := trie.Commit()
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if root == EmptyRootHash {
		t.Error("root should not be empty after a commit with data")
	}

	reopened := NewTrie(db, root)
	if val, _ := reopened.Get([]byte("key1")); !bytes.Equal(val, []byte("value1")) {
		t.Error("a trie reopened at a committed root should see its data")
	}
}

func TestTrie_RootChangesOnEveryMutation(t *testing.T) {
	db := NewMemoryDatabase()
	defer db.Close()

	trie := NewEmptyTrie(db)
	root1 := trie.Root()

	trie.Put([]byte("key"), []byte("value"))
	trie.Commit()
	root2 := trie.Root()
	if root1 == root2 {
		t.Error("root should change after the first write")
	}

	trie.Put([]byte("key"), []byte("different"))
	trie.Commit()
	if root3 := trie.Root(); root3 == root2 {
		t.Error("root should change again after an update")
	}
}

// === Journal Tests ===

func TestJournal_SnapshotIDsAreSequential(t *testing.T) {
	journal := NewJournal()

	if snap := journal.Snapshot(); snap != 0 {
		t.Errorf("first snapshot should be 0, got %d", snap)
	}
	if snap := journal.Snapshot(); snap != 1 {
		t.Errorf("second snapshot should be 1, got %d", snap)
	}
}

func TestAccessList(t *testing.T) {
	al := NewAccessList()
	addr := Address{1, 2, 3}
	slot := Hash{4, 5, 6}

	if al.ContainsAddress(addr) {
		t.Error("should not contain the address before it's added")
	}
	if isNew := al.AddAddress(addr); !isNew {
		t.Error("first add should report new")
	}
	if isNew := al.AddAddress(addr); isNew {
		t.Error("second add of the same address should not report new")
	}

	addrNew, slotNew := al.AddSlot(addr, slot)
	if addrNew {
		t.Error("address already existed, AddSlot should not report it new")
	}
	if !slotNew {
		t.Error("slot should be reported new on its first add")
	}

	if addrOk, slotOk := al.Contains(addr, slot); !addrOk || !slotOk {
		t.Error("Contains should report both the address and the slot present")
	}
}

func TestTransientStorage_CopyIsIndependent(t *testing.T) {
	ts := NewTransientStorage()
	addr, key, value := Address{1, 2, 3}, Hash{4, 5, 6}, Hash{7, 8, 9}

	if ts.Get(addr, key) != EmptyHash {
		t.Error("unset slot should read as the empty hash")
	}
	ts.Set(addr, key, value)
	if ts.Get(addr, key) != value {
		t.Error("should read back the set value")
	}

	cpy := ts.Copy()
	ts.Set(addr, key, EmptyHash)
	if cpy.Get(addr, key) != value {
		t.Error("mutating the original after Copy should not affect the copy")
	}
}

// === StateDB Tests ===

func TestStateDB_CreateAccount(t *testing.T) {
	db := NewMemoryDatabase()
	defer db.Close()
	state, _ := NewStateDB(db, EmptyRootHash)

	addr := Address{1, 2, 3, 4, 5}
	state.CreateAccount(addr)

	if !state.Exist(addr) {
		t.Error("account should exist after creation")
	}
	if !state.Empty(addr) {
		t.Error("a freshly created account should be empty")
	}
}

func TestStateDB_BalanceOperations(t *testing.T) {
	db := NewMemoryDatabase()
	defer db.Close()
	state, _ := NewStateDB(db, EmptyRootHash)
	addr := Address{1, 2, 3}

	if state.GetBalance(addr).Sign() != 0 {
		t.Error("initial balance should be zero")
	}

	state.SetBalance(addr, big.NewInt(1000))
	state.AddBalance(addr, big.NewInt(500))
	if got := state.GetBalance(addr); got.Cmp(big.NewInt(1500)) != 0 {
		t.Errorf("balance should be 1500, got %v", got)
	}

	if err := state.SubBalance(addr, big.NewInt(300)); err != nil {
		t.Fatalf("SubBalance: %v", err)
	}
	if got := state.GetBalance(addr); got.Cmp(big.NewInt(1200)) != 0 {
		t.Errorf("balance should be 1200, got %v", got)
	}

	if err := state.SubBalance(addr, big.NewInt(10000)); err != ErrInsufficientBalance {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestStateDB_Transfer(t *testing.T) {
	db := NewMemoryDatabase()
	defer db.Close()
	state, _ := NewStateDB(db, EmptyRootHash)

	from, to := Address{1}, Address{2}
	state.SetBalance(from, big.NewInt(1000))

	if err := state.Transfer(from, to, big.NewInt(300)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if state.GetBalance(from).Cmp(big.NewInt(700)) != 0 {
		t.Errorf("sender balance should be 700, got %v", state.GetBalance(from))
	}
	if state.GetBalance(to).Cmp(big.NewInt(300)) != 0 {
		t.Errorf("recipient balance should be 300, got %v", state.GetBalance(to))
	}
}

func TestStateDB_Nonce(t *testing.T) {
	db := NewMemoryDatabase()
	defer db.Close()
	state, _ := NewStateDB(db, EmptyRootHash)
	addr := Address{1}

	state.SetNonce(addr, 5)
	state.IncrementNonce(addr)
	if got := state.GetNonce(addr); got != 6 {
		t.Errorf("nonce should be 6, got %d", got)
	}
}

// TestStateDB_CodeRoundTripSurvivesOverwrite exercises the exact GetCode/
// SetCode sequence a call-mode execution relies on to append and then
// strip a synthetic terminal opcode without leaving the deployed contract
// permanently mutated.
func TestStateDB_CodeRoundTripSurvivesOverwrite(t *testing.T) {
	db := NewMemoryDatabase()
	defer db.Close()
	state, _ := NewStateDB(db, EmptyRootHash)

	addr := Address{1}
	original := []byte{0x60, 0x01} // PUSH1 0x01, no terminal opcode

	state.SetCode(addr, original)
	if state.GetCodeSize(addr) != len(original) {
		t.Fatalf("expected code size %d, got %d", len(original), state.GetCodeSize(addr))
	}

	padded := append(append([]byte{}, original...), 0x00)
	state.SetCode(addr, padded)
	if !bytes.Equal(state.GetCode(addr), padded) {
		t.Error("code should reflect the padded bytes while patched in")
	}

	state.SetCode(addr, original)
	if !bytes.Equal(state.GetCode(addr), original) {
		t.Error("restoring the original code should leave no trace of the pad")
	}

	acc := state.GetAccount(addr)
	if !acc.IsContract() {
		t.Error("an account with code should report as a contract")
	}
}

func TestStateDB_Storage(t *testing.T) {
	db := NewMemoryDatabase()
	defer db.Close()
	state, _ := NewStateDB(db, EmptyRootHash)
	addr, key := Address{1}, Hash{2, 3, 4}

	if state.GetState(addr, key) != EmptyHash {
		t.Error("storage should be empty initially")
	}

	value := Hash{5, 6, 7}
	state.SetState(addr, key, value)
	if got := state.GetState(addr, key); got != value {
		t.Errorf("storage mismatch: got %v, want %v", got, value)
	}

	updated := Hash{8, 9, 10}
	state.SetState(addr, key, updated)
	if got := state.GetState(addr, key); got != updated {
		t.Error("storage should reflect the most recent write")
	}
}

func TestStateDB_SnapshotRevert(t *testing.T) {
	db := NewMemoryDatabase()
	defer db.Close()
	state, _ := NewStateDB(db, EmptyRootHash)
	addr := Address{1}

	state.SetBalance(addr, big.NewInt(1000))
	snap := state.Snapshot()
	state.SetBalance(addr, big.NewInt(500))
	state.SetNonce(addr, 5)

	state.RevertToSnapshot(snap)
	if state.GetBalance(addr).Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("balance should be 1000 after revert, got %v", state.GetBalance(addr))
	}
	if state.GetNonce(addr) != 0 {
		t.Errorf("nonce should be 0 after revert, got %d", state.GetNonce(addr))
	}
}

func TestStateDB_NestedSnapshots(t *testing.T) {
	db := NewMemoryDatabase()
	defer db.Close()
	state, _ := NewStateDB(db, EmptyRootHash)
	addr := Address{1}

	state.SetBalance(addr, big.NewInt(100))
	snap1 := state.Snapshot()
	state.AddBalance(addr, big.NewInt(50))
	snap2 := state.Snapshot()
	state.AddBalance(addr, big.NewInt(25))

	if state.GetBalance(addr).Cmp(big.NewInt(175)) != 0 {
		t.Fatal("balance should be 175 before any revert")
	}

	state.RevertToSnapshot(snap2)
	if state.GetBalance(addr).Cmp(big.NewInt(150)) != 0 {
		t.Error("balance should be 150 after reverting to snap2")
	}

	state.RevertToSnapshot(snap1)
	if state.GetBalance(addr).Cmp(big.NewInt(100)) != 0 {
		t.Error("balance should be 100 after reverting to snap1")
	}
}

func TestStateDB_Commit(t *testing.T) {
	db := NewMemoryDatabase()
	defer db.Close()
	state, _ := NewStateDB(db, EmptyRootHash)
	addr := Address{1, 2, 3}

	state.SetBalance(addr, big.NewInt(1000))
	state.SetNonce(addr, 5)
	state.SetCode(addr, []byte{0x01, 0x02, 0x03})
	state.SetState(addr, Hash{1}, Hash{2})

	root, err := state.Commit()
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if root == EmptyRootHash {
		t.Error("root should not be empty after a commit with data")
	}

	reopened, _ := NewStateDB(db, root)
	if reopened.GetBalance(addr).Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("balance should survive a commit/reopen, got %v", reopened.GetBalance(addr))
	}
	if reopened.GetNonce(addr) != 5 {
		t.Errorf("nonce should survive a commit/reopen, got %d", reopened.GetNonce(addr))
	}
}

func TestStateDB_Suicide(t *testing.T) {
	db := NewMemoryDatabase()
	defer db.Close()
	state, _ := NewStateDB(db, EmptyRootHash)
	addr := Address{1}
	state.SetBalance(addr, big.NewInt(1000))

	if !state.Suicide(addr) {
		t.Error("suicide should succeed on an existing account")
	}
	if !state.HasSuicided(addr) {
		t.Error("should be marked suicided")
	}
	if state.GetBalance(addr).Sign() != 0 {
		t.Error("balance should be zeroed by suicide")
	}
}

func TestStateDB_Refund(t *testing.T) {
	db := NewMemoryDatabase()
	defer db.Close()
	state, _ := NewStateDB(db, EmptyRootHash)

	state.AddRefund(100)
	state.SubRefund(30)
	if got := state.GetRefund(); got != 70 {
		t.Errorf("refund should be 70, got %d", got)
	}
}

func TestStateDB_CopyIsIndependent(t *testing.T) {
	db := NewMemoryDatabase()
	defer db.Close()
	state, _ := NewStateDB(db, EmptyRootHash)
	addr := Address{1}
	state.SetBalance(addr, big.NewInt(1000))
	state.SetNonce(addr, 5)

	cpy := state.Copy()
	state.SetBalance(addr, big.NewInt(500))

	if cpy.GetBalance(addr).Cmp(big.NewInt(1000)) != 0 {
		t.Error("a copy should not see mutations made to the original afterward")
	}
}

// TestStateDB_TransientStorageIsSeparateFromPersistent grounds the same
// split the tracer relies on at the StateDB layer: TSTORE-style writes live
// in their own map, untouched by Commit's trie write and cleared by it.
func TestStateDB_TransientStorageIsSeparateFromPersistent(t *testing.T) {
	db := NewMemoryDatabase()
	defer db.Close()
	state, _ := NewStateDB(db, EmptyRootHash)
	addr, key, value := Address{1}, Hash{2}, Hash{3}

	state.SetTransientState(addr, key, value)
	if got := state.GetTransientState(addr, key); got != value {
		t.Error("should read back the transient value")
	}
	if state.GetState(addr, key) != EmptyHash {
		t.Error("a transient write must never be visible through GetState")
	}

	state.Commit()
	if state.GetTransientState(addr, key) != EmptyHash {
		t.Error("transient storage should be cleared by Commit")
	}
}

func TestStateDB_TransientStorageRevertDoesNotTouchPersistent(t *testing.T) {
	db := NewMemoryDatabase()
	defer db.Close()
	state, _ := NewStateDB(db, EmptyRootHash)
	addr, key := Address{1}, Hash{2}

	state.SetState(addr, key, Hash{0xaa})
	snap := state.Snapshot()
	state.SetTransientState(addr, key, Hash{0xbb})
	state.RevertToSnapshot(snap)

	if state.GetTransientState(addr, key) != EmptyHash {
		t.Error("reverting past a transient write should restore its prior value")
	}
	if state.GetState(addr, key) != (Hash{0xaa}) {
		t.Error("reverting a transient write must not disturb persistent storage at the same slot")
	}
}

func TestStateDB_AccessList(t *testing.T) {
	db := NewMemoryDatabase()
	defer db.Close()
	state, _ := NewStateDB(db, EmptyRootHash)
	addr, slot := Address{1}, Hash{2}

	if state.AddressInAccessList(addr) {
		t.Error("should not be in the access list before it's added")
	}
	state.AddAddressToAccessList(addr)
	state.AddSlotToAccessList(addr, slot)

	if addrOk, slotOk := state.SlotInAccessList(addr, slot); !addrOk || !slotOk {
		t.Error("both the address and the slot should be in the access list")
	}
}

// === Trie root determinism ===

// TestTrie_RootIsOrderIndependent covers the property the flat map-backed
// Trie relies on in place of a real Merkle structure: two tries holding the
// same entries land on the same root no matter what order they were built
// in, since the root hash is computed over entries sorted by key.
func TestTrie_RootIsOrderIndependent(t *testing.T) {
	db := NewMemoryDatabase()
	defer db.Close()

	a := NewEmptyTrie(db)
	a.Put([]byte("key1"), []byte("value1"))
	a.Put([]byte("key2"), []byte("value2"))

	b := NewEmptyTrie(db)
	b.Put([]byte("key2"), []byte("value2"))
	b.Put([]byte("key1"), []byte("value1"))

	if a.Root() != b.Root() {
		t.Errorf("expected equal roots regardless of insertion order, got %x vs %x", a.Root(), b.Root())
	}
}

// TestTrie_DeletingEverythingReturnsToEmptyRoot covers the other edge of
// the same property: removing every entry must land back on EmptyRootHash,
// not some leftover hash of a now-empty map.
func TestTrie_DeletingEverythingReturnsToEmptyRoot(t *testing.T) {
	db := NewMemoryDatabase()
	defer db.Close()

	trie := NewEmptyTrie(db)
	trie.Put([]byte("key"), []byte("value"))
	trie.Delete([]byte("key"))

	if trie.Root() != EmptyRootHash {
		t.Errorf("expected EmptyRootHash after deleting the only entry, got %x", trie.Root())
	}
}
