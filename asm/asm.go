// Package asm assembles and disassembles EVM mnemonic source, the way an
// EVM debugger renders raw bytecode back into something a human can read
// and edit. It knows nothing about execution; it is a pure text/bytes
// transform layered on top of the evm package's opcode table.
package asm

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/novatrace/evmdbg/core/evm"
)

// UnknownMnemonicError reports a token that isn't a known opcode name.
type UnknownMnemonicError struct {
	Mnemonic string
	Line     int
}

func (e *UnknownMnemonicError) Error() string {
	return fmt.Sprintf("line %d: unknown mnemonic %q", e.Line, e.Mnemonic)
}

// MissingImmediateError reports a PUSHn with no operand.
type MissingImmediateError struct {
	Mnemonic string
	Line     int
}

func (e *MissingImmediateError) Error() string {
	return fmt.Sprintf("line %d: %s requires an immediate operand", e.Line, e.Mnemonic)
}

// ImmediateTooLargeError reports an immediate that overflows its PUSHn width.
type ImmediateTooLargeError struct {
	Mnemonic string
	Line     int
	Width    int
}

func (e *ImmediateTooLargeError) Error() string {
	return fmt.Sprintf("line %d: immediate for %s does not fit in %d byte(s)", e.Line, e.Mnemonic, e.Width)
}

// NegativeImmediateError reports a negative decimal immediate.
type NegativeImmediateError struct {
	Line  int
	Value string
}

func (e *NegativeImmediateError) Error() string {
	return fmt.Sprintf("line %d: immediate %q must not be negative", e.Line, e.Value)
}

// OddLengthHexError reports a hex immediate with an odd number of digits.
type OddLengthHexError struct {
	Line  int
	Value string
}

func (e *OddLengthHexError) Error() string {
	return fmt.Sprintf("line %d: hex immediate %q has an odd number of digits", e.Line, e.Value)
}

// NonHexCharError reports a non-hex character in a hex immediate or in the
// bytecode passed to Disassemble.
type NonHexCharError struct {
	Line  int
	Value string
}

func (e *NonHexCharError) Error() string {
	return fmt.Sprintf("line %d: %q is not valid hexadecimal", e.Line, e.Value)
}

// Assemble compiles mnemonic source into a 0x-prefixed hex-encoded
// bytecode string ("0x" alone for empty source). Source is one
// instruction per line; "//" and "/* ... */" comments and blank lines are
// ignored. PUSH1-PUSH32 take a single immediate operand, written in hex
// ("0x1234") or decimal ("4660"); PUSH0 has no immediate.
func Assemble(source string) (string, error) {
	var out []byte

	lines := strings.Split(stripBlockComments(source), "\n")
	for lineNum, raw := range lines {
		line := stripLineComment(raw)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		mnemonic := strings.ToUpper(fields[0])

		op, info, ok := evm.LookupMnemonic(mnemonic)
		if !ok {
			return "", &UnknownMnemonicError{Mnemonic: fields[0], Line: lineNum + 1}
		}
		out = append(out, byte(op))

		width := op.ImmediateBytes()
		if width == 0 {
			continue
		}
		if len(fields) < 2 {
			return "", &MissingImmediateError{Mnemonic: info.Name, Line: lineNum + 1}
		}

		imm, err := parseImmediate(fields[1], lineNum+1)
		if err != nil {
			return "", err
		}
		if imm.BitLen() > width*8 {
			return "", &ImmediateTooLargeError{Mnemonic: info.Name, Line: lineNum + 1, Width: width}
		}

		buf := make([]byte, width)
		imm.FillBytes(buf)
		out = append(out, buf...)
	}

	return "0x" + hex.EncodeToString(out), nil
}

// parseImmediate accepts either a 0x-prefixed hex literal or a base-10
// decimal literal.
func parseImmediate(tok string, line int) (*big.Int, error) {
	if strings.HasPrefix(tok, "0x") || strings.HasPrefix(tok, "0X") {
		digits := tok[2:]
		if len(digits)%2 != 0 {
			return nil, &OddLengthHexError{Line: line, Value: tok}
		}
		if _, err := hex.DecodeString(digits); err != nil {
			return nil, &NonHexCharError{Line: line, Value: tok}
		}
		v := new(big.Int)
		v.SetString(digits, 16)
		return v, nil
	}

	v, ok := new(big.Int).SetString(tok, 10)
	if !ok {
		return nil, &NonHexCharError{Line: line, Value: tok}
	}
	if v.Sign() < 0 {
		return nil, &NegativeImmediateError{Line: line, Value: tok}
	}
	return v, nil
}

// Disassemble renders hex-encoded bytecode (with or without a leading
// "0x") back into mnemonic source, one instruction per line. PUSHn
// immediates are rendered as a 0x-prefixed hex operand. A byte with no
// assigned opcode is rendered as INVALID(0xNN). Code that ends mid-PUSH
// is rendered with a short immediate and a trailing "// truncated" comment.
func Disassemble(code string) (string, error) {
	code = strings.TrimPrefix(strings.TrimPrefix(code, "0x"), "0X")
	if len(code)%2 != 0 {
		return "", &OddLengthHexError{Value: code}
	}
	raw, err := hex.DecodeString(code)
	if err != nil {
		return "", &NonHexCharError{Value: code}
	}

	var lines []string
	for pc := 0; pc < len(raw); {
		b := raw[pc]
		op := evm.OpCode(b)
		info, ok := evm.Lookup(op)
		if !ok {
			lines = append(lines, fmt.Sprintf("INVALID(0x%02x)", b))
			pc++
			continue
		}

		width := op.ImmediateBytes()
		if width == 0 {
			lines = append(lines, info.Name)
			pc++
			continue
		}

		pc++
		avail := len(raw) - pc
		if avail >= width {
			imm := raw[pc : pc+width]
			lines = append(lines, fmt.Sprintf("%s 0x%s", info.Name, hex.EncodeToString(imm)))
			pc += width
		} else {
			imm := raw[pc:]
			lines = append(lines, fmt.Sprintf("%s 0x%s // truncated", info.Name, hex.EncodeToString(imm)))
			pc = len(raw)
		}
	}

	return strings.Join(lines, "\n"), nil
}

func stripLineComment(line string) string {
	if idx := strings.Index(line, "//"); idx >= 0 {
		return line[:idx]
	}
	return line
}

// stripBlockComments removes /* ... */ comments, including ones spanning
// multiple lines, replacing each with a single space followed by the
// newlines it spanned, so line numbers of surrounding code are unaffected.
func stripBlockComments(source string) string {
	var b strings.Builder
	i := 0
	for i < len(source) {
		if i+1 < len(source) && source[i] == '/' && source[i+1] == '*' {
			end := strings.Index(source[i+2:], "*/")
			if end < 0 {
				break
			}
			b.WriteByte(' ')
			for _, c := range source[i : i+2+end+2] {
				if c == '\n' {
					b.WriteRune('\n')
				}
			}
			i += 2 + end + 2
			continue
		}
		b.WriteByte(source[i])
		i++
	}
	return b.String()
}
