// Package evm implements the Ethereum Virtual Machine for NovaCoin.
package evm

import (
	"math/big"

	"github.com/novatrace/evmdbg/core/state"
	"github.com/novatrace/evmdbg/crypto"
)

// Call executes addr's code in its own context, optionally transferring
// value from caller to addr first. readOnly forces the interpreter into
// STATICCALL semantics (no state-mutating opcode is permitted).
func (evm *EVM) Call(caller, addr state.Address, input []byte, gas uint64, value *big.Int, readOnly bool) ([]byte, uint64, error) {
	if evm.depth >= evm.Config.MaxCallDepth {
		return nil, gas, ErrDepth
	}
	if value == nil {
		value = new(big.Int)
	}
	if !readOnly && value.Sign() != 0 && evm.StateDB.GetBalance(caller).Cmp(value) < 0 {
		return nil, gas, ErrInsufficientBalance
	}

	snapshot := evm.StateDB.Snapshot()
	if !evm.StateDB.Exist(addr) {
		evm.StateDB.CreateAccount(addr)
	}
	if !readOnly && value.Sign() != 0 {
		if err := evm.transfer(caller, addr, value); err != nil {
			evm.StateDB.RevertToSnapshot(snapshot)
			return nil, gas, err
		}
	}

	code := evm.StateDB.GetCode(addr)
	contract := NewContract(caller, addr, value, gas)
	contract.SetCode(evm.StateDB.GetCodeHash(addr), Code(code))

	ret, err := evm.runMessage(MessageCall, caller, addr, input, value, contract, readOnly)
	leftOverGas := contract.Gas
	if err != nil {
		evm.StateDB.RevertToSnapshot(snapshot)
		if err != ErrExecutionReverted {
			leftOverGas = 0
		}
	}
	return ret, leftOverGas, err
}

// CallCode is like Call, but the code loaded from addr executes against the
// caller's own storage: the contract's Address stays the caller's, only the
// code pointer moves.
func (evm *EVM) CallCode(caller, addr state.Address, input []byte, gas uint64, value *big.Int) ([]byte, uint64, error) {
	if evm.depth >= evm.Config.MaxCallDepth {
		return nil, gas, ErrDepth
	}
	if value == nil {
		value = new(big.Int)
	}
	if value.Sign() != 0 && evm.StateDB.GetBalance(caller).Cmp(value) < 0 {
		return nil, gas, ErrInsufficientBalance
	}

	snapshot := evm.StateDB.Snapshot()
	code := evm.StateDB.GetCode(addr)
	contract := NewContract(caller, caller, value, gas)
	contract.SetCallCode(evm.StateDB.GetCodeHash(addr), Code(code))

	ret, err := evm.runMessage(MessageCallCode, caller, addr, input, value, contract, false)
	leftOverGas := contract.Gas
	if err != nil {
		evm.StateDB.RevertToSnapshot(snapshot)
		if err != ErrExecutionReverted {
			leftOverGas = 0
		}
	}
	return ret, leftOverGas, err
}

// DelegateCall runs codeAddr's code as if it were self's own code: msg.sender
// and msg.value are inherited unchanged from the calling frame, and no value
// is transferred.
func (evm *EVM) DelegateCall(callerAddress, self, codeAddr state.Address, input []byte, gas uint64, value *big.Int) ([]byte, uint64, error) {
	if evm.depth >= evm.Config.MaxCallDepth {
		return nil, gas, ErrDepth
	}

	snapshot := evm.StateDB.Snapshot()
	code := evm.StateDB.GetCode(codeAddr)
	contract := NewContract(callerAddress, self, value, gas)
	contract.SetCallCode(evm.StateDB.GetCodeHash(codeAddr), Code(code))

	ret, err := evm.runMessage(MessageDelegateCall, callerAddress, codeAddr, input, value, contract, false)
	leftOverGas := contract.Gas
	if err != nil {
		evm.StateDB.RevertToSnapshot(snapshot)
		if err != ErrExecutionReverted {
			leftOverGas = 0
		}
	}
	return ret, leftOverGas, err
}

// StaticCall runs addr's code with no state mutation permitted and zero
// value transferred, per EIP-214.
func (evm *EVM) StaticCall(caller, addr state.Address, input []byte, gas uint64) ([]byte, uint64, error) {
	return evm.Call(caller, addr, input, gas, new(big.Int), true)
}

// Create deploys a new contract whose address is derived from caller's
// current nonce, then runs code as init code and stores its return value as
// the deployed runtime code.
func (evm *EVM) Create(caller state.Address, code []byte, gas uint64, value *big.Int) (state.Address, uint64, error) {
	nonce := evm.StateDB.GetNonce(caller)
	addr := crypto.CreateAddress(caller, nonce)
	return evm.create(MessageCreate, caller, addr, code, gas, value)
}

// Create2 deploys a new contract at an address derived from caller, salt,
// and the init code hash, per EIP-1014.
func (evm *EVM) Create2(caller state.Address, code []byte, gas uint64, value *big.Int, salt state.Hash) (state.Address, uint64, error) {
	addr := crypto.CreateAddress2(caller, salt, crypto.Keccak256(code))
	return evm.create(MessageCreate2, caller, addr, code, gas, value)
}

func (evm *EVM) create(kind MessageKind, caller, addr state.Address, initCode []byte, gas uint64, value *big.Int) (state.Address, uint64, error) {
	if evm.depth >= evm.Config.MaxCallDepth {
		return state.EmptyAddress, gas, ErrDepth
	}
	if value == nil {
		value = new(big.Int)
	}
	if value.Sign() != 0 && evm.StateDB.GetBalance(caller).Cmp(value) < 0 {
		return state.EmptyAddress, gas, ErrInsufficientBalance
	}
	if evm.Config.MaxCodeSize > 0 && len(initCode) > evm.Config.MaxCodeSize*2 {
		return state.EmptyAddress, gas, ErrMaxCodeSizeExceeded
	}

	snapshot := evm.StateDB.Snapshot()
	if evm.StateDB.GetCodeSize(addr) > 0 || evm.StateDB.GetNonce(addr) > 0 {
		evm.StateDB.RevertToSnapshot(snapshot)
		return state.EmptyAddress, gas, ErrContractAddressCollision
	}

	evm.StateDB.CreateAccount(addr)
	evm.StateDB.SetNonce(addr, 1)
	if value.Sign() != 0 {
		if err := evm.transfer(caller, addr, value); err != nil {
			evm.StateDB.RevertToSnapshot(snapshot)
			return state.EmptyAddress, gas, err
		}
	}

	contract := NewContract(caller, addr, value, gas)
	contract.SetCode(state.EmptyHash, Code(initCode))

	ret, err := evm.runMessage(kind, caller, addr, initCode, value, contract, false)
	leftOverGas := contract.Gas

	if err == nil {
		if evm.Config.MaxCodeSize > 0 && len(ret) > evm.Config.MaxCodeSize {
			err = ErrMaxCodeSizeExceeded
		} else {
			depositGas := uint64(len(ret)) * 200
			if leftOverGas < depositGas {
				err = ErrCodeStoreOutOfGas
			} else {
				leftOverGas -= depositGas
				evm.StateDB.SetCode(addr, ret)
			}
		}
	}

	if err != nil {
		evm.StateDB.RevertToSnapshot(snapshot)
		if err != ErrExecutionReverted {
			leftOverGas = 0
		}
		return state.EmptyAddress, leftOverGas, err
	}
	return addr, leftOverGas, nil
}

// transfer moves value from sender to recipient via the configured StateDB.
// If the debit fails its error is returned and the recipient is not
// credited; the credit itself cannot fail.
func (evm *EVM) transfer(from, to state.Address, value *big.Int) error {
	if err := evm.StateDB.SubBalance(from, value); err != nil {
		return err
	}
	evm.StateDB.AddBalance(to, value)
	return nil
}

// runMessage brackets an interpreter run with BeforeMessage/AfterMessage
// hook events and manages the call-depth counter around it.
func (evm *EVM) runMessage(kind MessageKind, from, to state.Address, input []byte, value *big.Int, contract *Contract, readOnly bool) ([]byte, error) {
	evm.depth++
	defer func() { evm.depth-- }()

	if evm.Config.Hooks != nil {
		evm.Config.Hooks.BeforeMessage(&MessageEvent{
			Depth:    evm.depth,
			Kind:     kind,
			From:     from,
			To:       to,
			Input:    input,
			Value:    value,
			Gas:      contract.Gas,
			ReadOnly: readOnly,
		})
	}

	gasProvided := contract.Gas
	interp := NewInterpreter(evm)
	ret, err := interp.Run(contract, input, readOnly)

	if evm.Config.Hooks != nil {
		var createdAddr *state.Address
		if kind == MessageCreate || kind == MessageCreate2 {
			a := to
			createdAddr = &a
		}
		evm.Config.Hooks.AfterMessage(&MessageResult{
			Depth:          evm.depth,
			Output:         ret,
			GasUsed:        gasProvided - contract.Gas,
			Err:            err,
			Reverted:       err == ErrExecutionReverted,
			CreatedAddress: createdAddr,
		})
	}

	return ret, err
}
