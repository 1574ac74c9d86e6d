package trace

import (
	"encoding/hex"
	"errors"
	"math/big"

	"github.com/sirupsen/logrus"

	"github.com/novatrace/evmdbg/core/evm"
	"github.com/novatrace/evmdbg/core/state"
)

// ErrNotImplemented is returned by operations this Engine deliberately
// does not support, such as restoring an arbitrary WorldState snapshot.
var ErrNotImplemented = errors.New("trace: not implemented")

// Engine drives an EVM execution and, by implementing evm.Hooks, builds an
// immutable Trace out of the BeforeMessage/Step/AfterMessage events the
// interpreter emits along the way.
type Engine struct {
	log *logrus.Entry

	stateDB *state.StateDB
	backing *state.CachingDatabase
	chainID *big.Int

	trace        *Trace
	frameStack   []int
	stepCounter  int
	touched      map[state.Address]struct{}
	worldStorage map[state.Address]map[string]string // persists across Execute calls, for GetState
	frameStorage []map[string]string // per open frame, accumulated persistent slot -> value
	appendedStop bool
}

// NewEngine creates an Engine backed by an empty in-memory state database,
// fronted by a caching layer since a single debugging session tends to
// revisit the same accounts and slots across many steps.
func NewEngine() (*Engine, error) {
	backing := state.NewCachingDatabase(state.NewMemoryDatabase(), 0)
	db, err := state.NewStateDB(backing, state.EmptyRootHash)
	if err != nil {
		return nil, err
	}
	return &Engine{
		log:          logrus.WithField("component", "trace.Engine"),
		stateDB:      db,
		backing:      backing,
		chainID:      big.NewInt(1),
		touched:      make(map[state.Address]struct{}),
		worldStorage: make(map[state.Address]map[string]string),
	}, nil
}

// NewEngineWithState creates an Engine over a caller-supplied StateDB, for
// tracing a call against state seeded ahead of time.
func NewEngineWithState(db *state.StateDB) *Engine {
	return &Engine{
		log:          logrus.WithField("component", "trace.Engine"),
		stateDB:      db,
		chainID:      big.NewInt(1),
		touched:      make(map[state.Address]struct{}),
		worldStorage: make(map[state.Address]map[string]string),
	}
}

// needsTerminalPad reports whether code's last byte is outside the closed
// set evm.OpCode.IsTerminal recognizes, meaning a synthetic STOP must be
// appended before execution so the final real step's post-state has
// somewhere to come from (see padForExecution).
func needsTerminalPad(code []byte) bool {
	if len(code) == 0 {
		return true
	}
	return !evm.OpCode(code[len(code)-1]).IsTerminal()
}

// padForExecution returns code with a trailing STOP appended if its last
// byte isn't already one of the terminal opcodes, and whether it did so.
// The pad exists purely so Step hooks always have a successor to borrow
// post-state from; postProcess strips it back out of the trace once its
// observation has been used to retro-fill the prior step.
func padForExecution(code []byte) ([]byte, bool) {
	if !needsTerminalPad(code) {
		return code, false
	}
	padded := make([]byte, len(code)+1)
	copy(padded, code)
	padded[len(code)] = byte(evm.STOP)
	return padded, true
}

// Execute runs one top-level call or deployment and returns the Trace built
// from it. A reverted or failed execution is still returned (with the
// failure recorded in the root frame's Result); only setup errors (e.g. an
// unknown Mode) are returned as err.
func (e *Engine) Execute(params ExecutionParams) (*Trace, error) {
	if params.Mode != "call" && params.Mode != "deploy" {
		return nil, errors.New("trace: ExecutionParams.Mode must be \"call\" or \"deploy\"")
	}
	value := params.Value
	if value == nil {
		value = new(big.Int)
	}

	e.trace = &Trace{
		Metadata: TraceMetadata{
			Mode:     params.Mode,
			From:     params.From.String(),
			Value:    value.String(),
			GasLimit: params.Gas,
		},
	}
	if params.Mode == "call" {
		e.trace.Metadata.To = params.To.String()
	}
	e.frameStack = nil
	e.frameStorage = nil
	e.stepCounter = 0
	e.appendedStop = false

	// Top the sender up to at least value so the transfer never fails for
	// lack of balance.
	if bal := e.stateDB.GetBalance(params.From); bal.Cmp(value) < 0 {
		e.stateDB.AddBalance(params.From, new(big.Int).Sub(value, bal))
	}

	ctx := e.buildCallContext(params)
	config := &evm.Config{
		Hooks:        e,
		MaxCallDepth: 1024,
		MaxCodeSize:  24576,
	}
	vm := evm.NewEVM(ctx, e.stateDB, config)

	e.log.WithFields(logrus.Fields{"mode": params.Mode, "from": params.From.String()}).Debug("executing")

	if params.Mode == "deploy" {
		execInput, padded := padForExecution(params.Input)
		e.appendedStop = padded
		addr, _, _ := vm.Create(params.From, execInput, params.Gas, value)
		if len(e.trace.Frames) > 0 {
			e.trace.Metadata.To = addr.String()
			// Show the init code as supplied, without the terminal pad.
			e.trace.Frames[0].Input = hexPrefixed(params.Input)
		}
	} else {
		// The root frame's executed bytecode is whatever the account at To
		// is seeded with, not the calldata: if the caller supplied
		// Bytecode, it becomes To's code for this and every later Execute
		// call against this Engine (the same way a prior "deploy" would
		// have left it). Only the terminal pad is temporary; the seeded
		// code itself is not restored away afterward.
		baseCode := e.stateDB.GetCode(params.To)
		if len(params.Bytecode) > 0 {
			baseCode = params.Bytecode
			e.stateDB.SetCode(params.To, baseCode)
		}
		execCode, padded := padForExecution(baseCode)
		e.appendedStop = padded
		if padded {
			e.stateDB.SetCode(params.To, execCode)
		}
		_, _, _ = vm.Call(params.From, params.To, params.Input, params.Gas, value, false)
		if padded {
			e.stateDB.SetCode(params.To, baseCode)
		}
	}

	e.postProcess()
	if e.backing != nil {
		cached, dirty := e.backing.Stats()
		e.log.WithFields(logrus.Fields{"cached": cached, "dirty": dirty}).Debug("backing store stats")
	}
	return e.trace, nil
}

// GetState returns a snapshot of every account this Engine has touched
// across all Execute calls so far.
func (e *Engine) GetState() (*WorldState, error) {
	ws := &WorldState{Accounts: make(map[string]*AccountState, len(e.touched))}
	for addr := range e.touched {
		acc := e.stateDB.GetAccount(addr)
		storage := make(map[string]string, len(e.worldStorage[addr]))
		for slot, val := range e.worldStorage[addr] {
			storage[slot] = val
		}
		code := e.stateDB.GetCode(addr)
		ws.Accounts[addr.String()] = &AccountState{
			Balance: acc.Balance.String(),
			Nonce:   acc.Nonce,
			Code:    hexPrefixed(code),
			Storage: storage,
		}
	}
	return ws, nil
}

// recordWorldStorage keeps a running per-address view of persistent slot
// values across every Execute call this Engine has run, independent of the
// per-frame accumulators Step uses to build a Step's Storage snapshot.
func (e *Engine) recordWorldStorage(addr state.Address, slot, value string) {
	if e.worldStorage[addr] == nil {
		e.worldStorage[addr] = make(map[string]string)
	}
	e.worldStorage[addr][slot] = value
}

// ResetState discards all accumulated state and starts over with a fresh
// empty in-memory database.
func (e *Engine) ResetState() error {
	backing := state.NewCachingDatabase(state.NewMemoryDatabase(), 0)
	db, err := state.NewStateDB(backing, state.EmptyRootHash)
	if err != nil {
		return err
	}
	e.stateDB = db
	e.backing = backing
	e.touched = make(map[state.Address]struct{})
	e.worldStorage = make(map[state.Address]map[string]string)
	return nil
}

// SetState is not implemented: restoring an arbitrary WorldState snapshot
// would require rebuilding the StateDB's trie from exported accounts, which this
// Engine has no use for since every Execute call starts from a live
// StateDB rather than a serialized snapshot.
func (e *Engine) SetState(ws *WorldState) error {
	return ErrNotImplemented
}

func (e *Engine) buildCallContext(params ExecutionParams) *evm.CallContext {
	ctx := evm.NewCallContext(params.From, big.NewInt(0))
	ctx.GasLimit = params.Gas
	ctx.ChainID = e.chainID
	ctx.BaseFee = new(big.Int)
	ctx.BlobBaseFee = new(big.Int)
	ctx.Difficulty = new(big.Int)
	ctx.BlockNumber = new(big.Int)

	if o := params.Overrides; o != nil {
		ctx.BlockNumber = new(big.Int).SetUint64(o.Number)
		ctx.Time = o.Time
		ctx.GasLimit = o.GasLimit
		ctx.Coinbase = o.Coinbase
		ctx.PrevRandao = o.PrevRandao
		if o.BaseFee != nil {
			ctx.BaseFee = o.BaseFee
		}
		if o.ChainID != nil {
			ctx.ChainID = o.ChainID
		}
	}
	return ctx
}

// === evm.Hooks ===

func (e *Engine) BeforeMessage(msg *evm.MessageEvent) {
	e.touched[msg.From] = struct{}{}
	e.touched[msg.To] = struct{}{}

	parentIndex := -1
	if len(e.frameStack) > 0 {
		parentIndex = e.frameStack[len(e.frameStack)-1]
	}

	kind := msg.Kind.String()
	if parentIndex < 0 {
		kind = "ROOT"
	} else if ps := e.trace.Frames[parentIndex].Steps; len(ps) > 0 && ps[len(ps)-1].OpCode == byte(evm.STATICCALL) {
		// StaticCall dispatches through Call, so msg.Kind reads CALL; the
		// parent's opcode tells the two apart.
		kind = evm.STATICCALL.String()
	}

	frame := &Frame{
		Index:                  len(e.trace.Frames),
		ParentIndex:            parentIndex,
		Depth:                  msg.Depth,
		Kind:                   kind,
		From:                   msg.From.String(),
		To:                     msg.To.String(),
		Input:                  hexPrefixed(msg.Input),
		Value:                  valueOrZero(msg.Value),
		GasProvided:            msg.Gas,
		StorageWrites:          make(map[string]string),
		TransientStorageWrites: make(map[string]string),
	}
	e.trace.Frames = append(e.trace.Frames, frame)

	if parentIndex >= 0 {
		parent := e.trace.Frames[parentIndex]
		atStep := len(parent.Steps) - 1
		if atStep < 0 {
			atStep = 0
		}
		parent.Children = append(parent.Children, ChildFrame{
			FrameIndex: frame.Index,
			Kind:       frame.Kind,
			AtStep:     atStep,
		})
	}

	e.frameStack = append(e.frameStack, frame.Index)
	e.frameStorage = append(e.frameStorage, make(map[string]string))
}

func (e *Engine) Step(step *evm.StepEvent) {
	if len(e.frameStack) == 0 {
		return
	}
	frameIdx := e.frameStack[len(e.frameStack)-1]
	frame := e.trace.Frames[frameIdx]
	accumulator := e.frameStorage[len(e.frameStorage)-1]

	s := &Step{
		GlobalIndex:  e.stepCounter,
		FrameIndex:   frameIdx,
		IndexInFrame: len(frame.Steps),
		PC:           step.PC,
		Op:           step.Op.String(),
		OpCode:       byte(step.Op),
		Gas:          step.Gas,
		GasCost:      step.Cost,
		Depth:        step.Depth,
		StackBefore:  step.Stack.Words(),
		MemoryBefore: hexPrefixed(step.Memory.Data()),
	}
	if step.Err != nil {
		s.Error = step.Err.Error()
	}

	if len(accumulator) > 0 {
		s.Storage = make(map[string]string, len(accumulator))
		for slot, val := range accumulator {
			s.Storage[slot] = val
		}
	}

	if change := storageChange(e.stateDB, step); change != nil {
		s.StorageChanges = []StorageChange{*change}
		frame.StorageWrites[change.Slot] = change.After
		accumulator[change.Slot] = change.After
		e.recordWorldStorage(step.Contract.Address, change.Slot, change.After)
	}
	if change := transientStorageChange(e.stateDB, step); change != nil {
		s.TransientStorageChanges = []StorageChange{*change}
		frame.TransientStorageWrites[change.Slot] = change.After
	}

	frame.Steps = append(frame.Steps, s)
	e.stepCounter++
	e.trace.TotalSteps++
}

func (e *Engine) AfterMessage(result *evm.MessageResult) {
	if len(e.frameStack) == 0 {
		return
	}
	frameIdx := e.frameStack[len(e.frameStack)-1]
	e.frameStack = e.frameStack[:len(e.frameStack)-1]
	e.frameStorage = e.frameStorage[:len(e.frameStorage)-1]

	frame := e.trace.Frames[frameIdx]
	fr := &FrameResult{
		Output:     hexPrefixed(result.Output),
		GasUsed:    result.GasUsed,
		ExitReason: classifyExit(result.Err),
	}
	if result.Err != nil {
		fr.Error = result.Err.Error()
	}
	if result.CreatedAddress != nil {
		fr.CreatedAddress = result.CreatedAddress.String()
		e.touched[*result.CreatedAddress] = struct{}{}
	}
	frame.Result = fr
}

// postProcess fills in each step's post-execution stack/memory from the
// next step's pre-execution state within the same frame. The root frame's
// synthetic trailing STOP (see padForExecution) has already done its job by
// the time this runs: it gave the real last step a successor to borrow
// from. Once borrowed, the synthetic step itself is stripped back out so
// it never appears in the returned Trace.
func (e *Engine) postProcess() {
	for _, frame := range e.trace.Frames {
		for i, step := range frame.Steps {
			if i+1 < len(frame.Steps) {
				next := frame.Steps[i+1]
				step.StackAfter = next.StackBefore
				step.MemoryAfter = next.MemoryBefore
				continue
			}
			step.MemoryAfter = step.MemoryBefore
			switch evm.OpCode(step.OpCode) {
			case evm.RETURN, evm.REVERT:
				step.StackAfter = dropTop(step.StackBefore, 2)
			case evm.SELFDESTRUCT:
				step.StackAfter = dropTop(step.StackBefore, 1)
			default:
				step.StackAfter = step.StackBefore
			}
		}

		if frame.ParentIndex != -1 || !e.appendedStop {
			continue
		}
		if n := len(frame.Steps); n > 0 && evm.OpCode(frame.Steps[n-1].OpCode) == evm.STOP {
			frame.Steps = frame.Steps[:n-1]
		}
	}
}

func dropTop(stack []string, n int) []string {
	if n > len(stack) {
		n = len(stack)
	}
	return stack[n:]
}

func classifyExit(err error) FrameExitReason {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, evm.ErrExecutionReverted):
		return ExitRevert
	case errors.Is(err, evm.ErrOutOfGas), errors.Is(err, evm.ErrCodeStoreOutOfGas):
		return ExitOutOfGas
	case errors.Is(err, evm.ErrInvalidOpcode):
		return ExitInvalid
	case errors.Is(err, evm.ErrStackUnderflow_):
		return ExitStackUnderflow
	case errors.Is(err, evm.ErrStackOverflow_):
		return ExitStackOverflow
	case errors.Is(err, evm.ErrInvalidJump):
		return ExitInvalidJump
	case errors.Is(err, evm.ErrWriteProtection):
		return ExitWriteProtection
	case errors.Is(err, evm.ErrDepth):
		return ExitDepthExceeded
	case errors.Is(err, evm.ErrInsufficientBalance):
		return ExitInsufficientBalance
	case errors.Is(err, evm.ErrContractAddressCollision):
		return ExitAddressCollision
	case errors.Is(err, evm.ErrMaxCodeSizeExceeded):
		return ExitCodeSizeExceeded
	case errors.Is(err, evm.ErrReturnDataOutOfBounds):
		return ExitReturnDataOutOfBound
	default:
		return ExitError
	}
}

// storageChange inspects a pre-execution SSTORE step and, if the opcode has
// both operands on the stack, reads the slot's current value out of the
// state manager before the write lands so the {slot,before,after} triple
// is complete. Returns nil for any other opcode or a malformed stack.
func storageChange(db *state.StateDB, step *evm.StepEvent) *StorageChange {
	if !step.Op.IsPersistentStorageWrite() {
		return nil
	}
	return readPendingWrite(db.GetState, step)
}

// transientStorageChange is storageChange's TSTORE counterpart, reading
// through the transient-storage accessor instead of persistent storage.
func transientStorageChange(db *state.StateDB, step *evm.StepEvent) *StorageChange {
	if !step.Op.IsTransientStorageWrite() {
		return nil
	}
	return readPendingWrite(db.GetTransientState, step)
}

func readPendingWrite(read func(state.Address, state.Hash) state.Hash, step *evm.StepEvent) *StorageChange {
	data := step.Stack.Data()
	if len(data) < 2 || step.Contract == nil {
		return nil
	}
	keyBig := data[len(data)-1]
	valBig := data[len(data)-2]
	key := evm.BigToHash(keyBig)
	before := read(step.Contract.Address, key)
	return &StorageChange{
		Slot:   evm.HexWord(keyBig),
		Before: evm.HexWord(new(big.Int).SetBytes(before[:])),
		After:  evm.HexWord(valBig),
	}
}

// hexPrefixed renders raw bytes as 0x-prefixed lowercase hex, "0x" for the
// empty slice, matching the convention every byte-string field in a Trace
// follows.
func hexPrefixed(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

func valueOrZero(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
