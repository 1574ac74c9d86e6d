// Package trace builds an immutable, navigable record of an EVM message's
// execution: a tree of call/create frames, each holding the sequence of
// opcodes it ran. It is the bridge between the evm package's live
// execution and the session package's after-the-fact navigation.
package trace

import (
	"math/big"

	"github.com/novatrace/evmdbg/core/state"
)

// FrameExitReason classifies why a frame stopped running.
type FrameExitReason string

const (
	ExitSuccess              FrameExitReason = "success"
	ExitRevert               FrameExitReason = "revert"
	ExitInvalid              FrameExitReason = "invalid"
	ExitOutOfGas             FrameExitReason = "outOfGas"
	ExitStackUnderflow       FrameExitReason = "stackUnderflow"
	ExitStackOverflow        FrameExitReason = "stackOverflow"
	ExitInvalidJump          FrameExitReason = "invalidJump"
	ExitWriteProtection      FrameExitReason = "writeProtection"

	// The remaining reasons cover structural failures (depth, balance,
	// address collisions, code size, return-data bounds); classifyExit maps
	// them from the evm package's sentinel errors with errors.Is, the same
	// way it maps the reasons above.
	ExitDepthExceeded        FrameExitReason = "depthExceeded"
	ExitInsufficientBalance  FrameExitReason = "insufficientBalance"
	ExitAddressCollision     FrameExitReason = "addressCollision"
	ExitCodeSizeExceeded     FrameExitReason = "codeSizeExceeded"
	ExitReturnDataOutOfBound FrameExitReason = "returnDataOutOfBounds"

	// ExitError is the fallback for an interpreter error that doesn't map
	// to any of the reasons above; it should not occur in practice since
	// classifyExit's cases are meant to cover every error the evm package
	// returns.
	ExitError FrameExitReason = "error"
)

// Step is one opcode's worth of execution, with the machine state both
// immediately before and immediately after it ran.
type Step struct {
	GlobalIndex int    // position across the entire trace, in execution order
	FrameIndex  int    // the frame this step belongs to
	IndexInFrame int   // position within that frame's Steps slice
	PC          uint64
	Op          string
	OpCode      byte
	Gas         uint64
	GasCost     uint64
	Depth       int

	StackBefore  []string // 0x-prefixed hex words, no leading zeros, top of stack first
	StackAfter   []string
	MemoryBefore string // 0x-prefixed hex, "0x" if empty
	MemoryAfter  string

	// StorageChanges is the {slot,before,after} triple this step wrote via
	// SSTORE, in the order written (at most one entry: SSTORE takes a
	// single slot/value pair off the stack).
	StorageChanges []StorageChange

	// TransientStorageChanges is the same shape for TSTORE, kept separate
	// from StorageChanges since transient writes never touch the trie.
	TransientStorageChanges []StorageChange

	// Storage snapshots the frame's accumulated persistent-storage writes
	// as they stood immediately before this opcode ran. Nil until the
	// frame's first SSTORE has executed.
	Storage map[string]string

	Error string
}

// StorageChange is one slot's value transition, observed the instant an
// SSTORE/TSTORE is about to apply it.
type StorageChange struct {
	Slot   string
	Before string
	After  string
}

// ChildFrame points at a frame opened by one of this frame's opcodes.
type ChildFrame struct {
	FrameIndex int
	Kind       string
	AtStep     int // IndexInFrame of the CALL/CREATE opcode that opened it
}

// FrameResult records how a frame finished.
type FrameResult struct {
	Output         string
	GasUsed        uint64
	ExitReason     FrameExitReason
	Error          string
	CreatedAddress string // only set for CREATE/CREATE2 frames that succeeded
}

// Frame is one call/create's worth of execution: the opcodes it ran plus
// the frames its CALL/CREATE opcodes opened.
type Frame struct {
	Index       int
	ParentIndex int // -1 for the root frame
	Depth       int
	Kind        string // ROOT for Frames[0]; otherwise CALL, CALLCODE, DELEGATECALL, STATICCALL, CREATE, CREATE2
	From        string
	To          string
	Input       string
	Value       string
	GasProvided uint64

	Steps                   []*Step
	Children                []ChildFrame
	StorageWrites           map[string]string // cumulative final value per persistent slot touched by this frame
	TransientStorageWrites  map[string]string // cumulative final value per transient slot touched by this frame

	Result *FrameResult
}

// TraceMetadata describes the top-level execution request a Trace came from.
type TraceMetadata struct {
	Mode     string // "call" or "deploy"
	From     string
	To       string // empty for "deploy" until the created address is known
	Value    string
	GasLimit uint64
}

// Trace is the complete, immutable record of one top-level execution: a
// metadata header, an index-addressable list of frames (Frames[0] is the
// root), and the total step count across every frame.
type Trace struct {
	Metadata   TraceMetadata
	Frames     []*Frame
	TotalSteps int
}

// RootFrame returns the trace's outermost frame.
func (t *Trace) RootFrame() *Frame {
	if len(t.Frames) == 0 {
		return nil
	}
	return t.Frames[0]
}

// BlockOverrides lets a caller pin the block context an execution observes
// (block number, timestamp, coinbase, ...) instead of the Engine's defaults
// (block number 0, chain ID 1, zero base fee, block gas limit = Gas).
type BlockOverrides struct {
	Number      uint64
	Time        uint64
	GasLimit    uint64
	Coinbase    state.Address
	BaseFee     *big.Int
	PrevRandao  state.Hash
	ChainID     *big.Int
}

// ExecutionParams describes one top-level call or contract deployment to
// run and trace.
type ExecutionParams struct {
	Mode     string // "call" or "deploy"
	From     state.Address
	To       state.Address // ignored when Mode == "deploy"
	Input    []byte        // calldata for "call", init code for "deploy"
	Value    *big.Int
	Gas      uint64

	// Bytecode is the code to run when Mode == "call". The Engine seeds
	// To's account with it before dispatch, the way runCode in §4.3 takes
	// an explicit code argument instead of reading whatever the target
	// happens to already have on chain. Ignored when Mode == "deploy",
	// where Input is the init code and the executed code is whatever it
	// returns.
	Bytecode []byte

	Overrides *BlockOverrides
}

// AccountState is a point-in-time snapshot of one account.
type AccountState struct {
	Balance string
	Nonce   uint64
	Code    string // hex-encoded, empty for EOAs
	Storage map[string]string
}

// WorldState is a snapshot of every account an Engine has touched.
type WorldState struct {
	Accounts map[string]*AccountState // keyed by 0x-prefixed address
}
