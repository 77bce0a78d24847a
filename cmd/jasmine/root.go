// Copyright (c) 2024 The Falcon Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"fmt"
	"os"
	"strconv"

	"jasmine/internal/config"
	"jasmine/internal/diag"

	"github.com/spf13/cobra"
)

var (
	flagOutput  string
	flagVerbose bool

	// legacy flag-only surface, spec §6: `jasmine -r file entry`, etc.,
	// kept as aliases on the root command alongside the verb subcommands.
	legacyRun         string
	legacyAssemble    string
	legacyDisassemble string
	legacyCompile     string
	legacyRelocate    string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "jasmine",
		Short:         "Jasmine IR toolchain: assemble, compile, relocate, disassemble, run",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runLegacyFlags,
	}

	root.PersistentFlags().StringVarP(&flagOutput, "output", "o", "", "redirect output")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "logrus debug-level tracing")

	root.Flags().StringVarP(&legacyRun, "run", "r", "", "run `file`'s entry function (flag-only form; pass the entry name as a positional arg)")
	root.Flags().StringVarP(&legacyAssemble, "assemble", "a", "", "assemble `file` to the binary IR container")
	root.Flags().StringVarP(&legacyDisassemble, "disassemble", "d", "", "disassemble `file`")
	root.Flags().StringVarP(&legacyCompile, "compile", "c", "", "compile `file` to a native object")
	root.Flags().StringVarP(&legacyRelocate, "relocate", "R", "", "retarget `file` for the host machine")

	root.AddCommand(newRunCmd(), newAssembleCmd(), newDisassembleCmd(), newCompileCmd(), newRelocateCmd())
	return root
}

// runLegacyFlags backs the flag-only invocation form spec §6 documents
// (`jasmine -r file entry`), dispatching to the same logic the verb
// subcommands use. Cobra only calls this when no subcommand was given.
func runLegacyFlags(cmd *cobra.Command, args []string) error {
	cfg := config.New(flagOutput, flagVerbose)
	switch {
	case legacyRun != "":
		entry := "main"
		var arg *int64
		if len(args) > 0 {
			entry = args[0]
		}
		if len(args) > 1 {
			v, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return diag.Validationf("run: argument %q is not an integer", args[1])
			}
			arg = &v
		}
		result, err := runRun(cfg, legacyRun, entry, arg)
		if err != nil {
			return err
		}
		fmt.Println(result)
		return nil
	case legacyAssemble != "":
		return runAssemble(cfg, legacyAssemble)
	case legacyDisassemble != "":
		return runDisassemble(cfg, legacyDisassemble)
	case legacyCompile != "":
		return runCompile(cfg, legacyCompile)
	case legacyRelocate != "":
		return runRelocate(cfg, legacyRelocate)
	default:
		return cmd.Help()
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <file> [entry] [arg]",
		Short: "Compile, load, and invoke file's entry function",
		Args:  cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.New(flagOutput, flagVerbose)
			entry := "main"
			if len(args) > 1 {
				entry = args[1]
			}
			var arg *int64
			if len(args) > 2 {
				v, err := strconv.ParseInt(args[2], 10, 64)
				if err != nil {
					return diag.Validationf("run: argument %q is not an integer", args[2])
				}
				arg = &v
			}
			result, err := runRun(cfg, args[0], entry, arg)
			if err != nil {
				return err
			}
			fmt.Println(result)
			return nil
		},
	}
}

func newAssembleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assemble <file>",
		Short: "Assemble text IR into the binary IR object container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAssemble(config.New(flagOutput, flagVerbose), args[0])
		},
	}
}

func newDisassembleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disassemble <file>",
		Short: "Disassemble a native object's code section",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDisassemble(config.New(flagOutput, flagVerbose), args[0])
		},
	}
}

func newCompileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compile <file>",
		Short: "Compile text IR to a native relocatable object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(config.New(flagOutput, flagVerbose), args[0])
		},
	}
}

func newRelocateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "relocate <file>",
		Short: "Retarget a binary-IR object for the host machine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelocate(config.New(flagOutput, flagVerbose), args[0])
		},
	}
}

// Execute runs the root command, reporting class-1/class-3 diagnostics
// with the [ERROR] prefix spec §7 specifies and exit status 1. A class-2
// internal-invariant panic is recovered and reported as a one-line
// [INTERNAL ERROR] message with exit status 2 rather than a raw Go stack
// trace, since it indicates a compiler bug a user cannot act on beyond
// reporting it.
func Execute() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "[INTERNAL ERROR] %v\n", r)
			os.Exit(2)
		}
	}()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "[ERROR] %v\n", err)
		os.Exit(1)
	}
}
