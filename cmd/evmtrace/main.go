// Command evmtrace is the command-line entry point for the debugger core:
// it assembles and disassembles mnemonic source, and runs a call or
// deployment against a fresh in-memory EVM, printing the resulting trace
// as JSON for a UI or another tool to consume.
package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/novatrace/evmdbg/asm"
	"github.com/novatrace/evmdbg/core/state"
	"github.com/novatrace/evmdbg/session"
	"github.com/novatrace/evmdbg/trace"
)

var (
	version = "0.1.0"
	verbose bool
)

func main() {
	root := &cobra.Command{
		Use:   "evmtrace",
		Short: "EVM time-travel debugger core",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			} else {
				logrus.SetLevel(logrus.WarnLevel)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.AddCommand(newAssembleCmd(), newDisassembleCmd(), newRunCmd(), newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the evmtrace version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("evmtrace %s\n", version)
		},
	}
}

func newAssembleCmd() *cobra.Command {
	var inFile string
	cmd := &cobra.Command{
		Use:   "assemble [source]",
		Short: "compile mnemonic source into hex bytecode",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := readInput(args, inFile)
			if err != nil {
				return err
			}
			code, err := asm.Assemble(source)
			if err != nil {
				return err
			}
			fmt.Println(code)
			return nil
		},
	}
	cmd.Flags().StringVarP(&inFile, "file", "f", "", "read source from file instead of argument/stdin")
	return cmd
}

func newDisassembleCmd() *cobra.Command {
	var inFile string
	cmd := &cobra.Command{
		Use:   "disassemble [bytecode]",
		Short: "render hex bytecode back into mnemonic source",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := readInput(args, inFile)
			if err != nil {
				return err
			}
			src, err := asm.Disassemble(strings.TrimSpace(code))
			if err != nil {
				return err
			}
			fmt.Println(src)
			return nil
		},
	}
	cmd.Flags().StringVarP(&inFile, "file", "f", "", "read bytecode from file instead of argument/stdin")
	return cmd
}

func newRunCmd() *cobra.Command {
	var (
		mode     string
		fromHex  string
		toHex    string
		valueStr string
		gas      uint64
		calldata string
		navigate bool
	)
	cmd := &cobra.Command{
		Use:   "run [bytecode]",
		Short: "execute a call or deployment and print the resulting trace as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codeHex, err := readInput(args, "")
			if err != nil {
				return err
			}
			code, err := decodeHex(codeHex)
			if err != nil {
				return fmt.Errorf("bytecode: %w", err)
			}

			value := new(big.Int)
			if valueStr != "" {
				if _, ok := value.SetString(valueStr, 10); !ok {
					return fmt.Errorf("invalid --value %q", valueStr)
				}
			}

			input := code
			var to state.Address
			var bytecode []byte
			if mode == "call" {
				data, err := decodeHex(calldata)
				if err != nil {
					return fmt.Errorf("calldata: %w", err)
				}
				input = data
				bytecode = code
				to, err = decodeAddress(toHex)
				if err != nil {
					return fmt.Errorf("--to: %w", err)
				}
			}
			from, err := decodeAddress(fromHex)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}

			engine, err := trace.NewEngine()
			if err != nil {
				return err
			}

			params := trace.ExecutionParams{Mode: mode, From: from, To: to, Input: input, Value: value, Gas: gas, Bytecode: bytecode}

			t, err := engine.Execute(params)
			if err != nil {
				return err
			}

			if navigate {
				return printNavigationSummary(t)
			}
			return printJSON(t)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "call", `"call" or "deploy"`)
	cmd.Flags().StringVar(&fromHex, "from", "0x1000000000000000000000000000000000000001", "sender address")
	cmd.Flags().StringVar(&toHex, "to", "0x2000000000000000000000000000000000000002", "callee address (mode=call)")
	cmd.Flags().StringVar(&valueStr, "value", "0", "wei value to transfer, decimal")
	cmd.Flags().Uint64Var(&gas, "gas", 30_000_000, "gas limit")
	cmd.Flags().StringVar(&calldata, "calldata", "0x", "calldata hex (mode=call)")
	cmd.Flags().BoolVar(&navigate, "navigate", false, "print a flattened step-by-step summary instead of raw JSON")
	return cmd
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printNavigationSummary(t *trace.Trace) error {
	s := session.NewDebugSession(t)
	for {
		if s.IsAtFrameEnd() {
			frame := s.CurrentFrame()
			fmt.Printf("[%3d] frame %d (%s) end: %s\n", s.GlobalStepIndex(), frame.Index, frame.Kind, frame.Result.ExitReason)
		} else {
			step := s.CurrentStep()
			fmt.Printf("[%3d] pc=%-4d %-14s gas=%d\n", s.GlobalStepIndex(), step.PC, step.Op, step.Gas)
		}
		if s.GlobalStepIndex() == len(s.FlatSteps())-1 {
			break
		}
		s.StepForward()
	}
	return nil
}

func readInput(args []string, file string) (string, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	if len(args) > 0 {
		return args[0], nil
	}
	data, err := os.ReadFile("/dev/stdin")
	if err != nil {
		return "", fmt.Errorf("no input given and could not read stdin: %w", err)
	}
	return string(data), nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	s = strings.TrimPrefix(s, "0X")
	if s == "" {
		return nil, nil
	}
	return hex.DecodeString(s)
}

func decodeAddress(s string) (state.Address, error) {
	b, err := decodeHex(s)
	if err != nil {
		return state.Address{}, err
	}
	return state.AddressFromBytes(b), nil
}
