package asm

import (
	"errors"
	"strings"
	"testing"
)

func TestAssembleSimple(t *testing.T) {
	code, err := Assemble("PUSH1 0x01\nPUSH1 0x02\nADD\nSTOP")
	if err != nil {
		t.Fatalf("Assemble returned error: %v", err)
	}
	if code != "0x600160020100" {
		t.Errorf("got %q, want 0x600160020100", code)
	}
}

func TestAssembleDecimalImmediate(t *testing.T) {
	code, err := Assemble("PUSH1 10")
	if err != nil {
		t.Fatalf("Assemble returned error: %v", err)
	}
	if code != "0x600a" {
		t.Errorf("got %q, want 0x600a", code)
	}
}

func TestAssembleStripsLineComments(t *testing.T) {
	code, err := Assemble("STOP // halt here")
	if err != nil {
		t.Fatalf("Assemble returned error: %v", err)
	}
	if code != "0x00" {
		t.Errorf("got %q, want 0x00", code)
	}
}

func TestAssembleStripsBlockComments(t *testing.T) {
	code, err := Assemble("/* setup */\nPUSH1 0x01\n/* done */\nSTOP")
	if err != nil {
		t.Fatalf("Assemble returned error: %v", err)
	}
	if code != "0x600100" {
		t.Errorf("got %q, want 0x600100", code)
	}
}

func TestAssembleEmptySourceYieldsBarePrefix(t *testing.T) {
	code, err := Assemble("")
	if err != nil {
		t.Fatalf("Assemble returned error: %v", err)
	}
	if code != "0x" {
		t.Errorf("got %q, want 0x", code)
	}
}

func TestAssembleUnknownMnemonic(t *testing.T) {
	_, err := Assemble("FROBNICATE")
	if err == nil {
		t.Fatal("expected error for unknown mnemonic")
	}
	var target *UnknownMnemonicError
	if !errors.As(err, &target) {
		t.Errorf("expected UnknownMnemonicError, got %T: %v", err, err)
	}
}

func TestAssembleMissingImmediate(t *testing.T) {
	_, err := Assemble("PUSH1")
	if _, ok := err.(*MissingImmediateError); !ok {
		t.Errorf("expected MissingImmediateError, got %T: %v", err, err)
	}
}

func TestAssembleImmediateTooLarge(t *testing.T) {
	_, err := Assemble("PUSH1 0x1234")
	if _, ok := err.(*ImmediateTooLargeError); !ok {
		t.Errorf("expected ImmediateTooLargeError, got %T: %v", err, err)
	}
}

func TestAssembleNegativeImmediate(t *testing.T) {
	_, err := Assemble("PUSH1 -1")
	if _, ok := err.(*NegativeImmediateError); !ok {
		t.Errorf("expected NegativeImmediateError, got %T: %v", err, err)
	}
}

func TestAssembleOddLengthHex(t *testing.T) {
	_, err := Assemble("PUSH1 0x1")
	if _, ok := err.(*OddLengthHexError); !ok {
		t.Errorf("expected OddLengthHexError, got %T: %v", err, err)
	}
}

func TestDisassembleSimple(t *testing.T) {
	src, err := Disassemble("600160020100")
	if err != nil {
		t.Fatalf("Disassemble returned error: %v", err)
	}
	want := "PUSH1 0x01\nPUSH1 0x02\nADD\nSTOP"
	if src != want {
		t.Errorf("got %q, want %q", src, want)
	}
}

func TestDisassembleAcceptsHexPrefix(t *testing.T) {
	src, err := Disassemble("0x00")
	if err != nil {
		t.Fatalf("Disassemble returned error: %v", err)
	}
	if src != "STOP" {
		t.Errorf("got %q, want STOP", src)
	}
}

func TestDisassembleUndefinedOpcode(t *testing.T) {
	src, err := Disassemble("0c")
	if err != nil {
		t.Fatalf("Disassemble returned error: %v", err)
	}
	if src != "INVALID(0x0c)" {
		t.Errorf("got %q, want INVALID(0x0c)", src)
	}
}

func TestDisassembleTruncatedPush(t *testing.T) {
	src, err := Disassemble("6001" + "61" + "02")
	if err != nil {
		t.Fatalf("Disassemble returned error: %v", err)
	}
	if !strings.Contains(src, "// truncated") {
		t.Errorf("expected truncated marker in %q", src)
	}
}

func TestRoundTrip(t *testing.T) {
	original := "PUSH1 0x2a\nPUSH1 0x01\nADD\nPOP\nSTOP"
	code, err := Assemble(original)
	if err != nil {
		t.Fatalf("Assemble returned error: %v", err)
	}
	back, err := Disassemble(code)
	if err != nil {
		t.Fatalf("Disassemble returned error: %v", err)
	}
	if back != original {
		t.Errorf("round trip mismatch: got %q, want %q", back, original)
	}
}

