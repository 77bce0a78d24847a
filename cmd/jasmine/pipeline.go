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

// Package main implements the jasmine CLI driver, spec §6's external
// interface. Grounded on the teacher's main.go + compile.CompileTheWorld
// driver shape, generalized from "compile one .y file, shell out to gcc,
// link" into the spec §6 five-verb surface operating entirely on this
// toolchain's own IR/selector/object/loader pipeline.
package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"jasmine/internal/config"
	"jasmine/internal/diag"
	"jasmine/internal/ir"
	"jasmine/internal/loader"
	"jasmine/internal/object"
	selector "jasmine/internal/select"
	"jasmine/internal/symtab"
	"jasmine/internal/target"
	"jasmine/internal/types"
	"jasmine/internal/x64"
)

// parseTextIR reads path as Jasmine text IR, per spec §6's grammar.
func parseTextIR(path string) ([]*ir.Insn, *types.TypeContext, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, diag.IOf(err, "reading %s", path)
	}
	typeCtx := types.NewTypeContext()
	p := ir.NewParser(string(data), symtab.Global(), typeCtx)
	insns, err := p.Parse()
	if err != nil {
		return nil, nil, err
	}
	return insns, typeCtx, nil
}

// withExt replaces path's extension with ext, the default-output-name
// rule every verb without an explicit -o falls back to.
func withExt(path, ext string) string {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	return base + ext
}

func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return diag.IOf(err, "writing %s", path)
	}
	return nil
}

// runAssemble implements `jasmine assemble`: parse text IR, encode it to
// the portable binary-IR object container (internal/object.Assemble),
// and write it to disk in the internal format — the container `relocate`
// later reads back with Retarget.
func runAssemble(cfg config.Config, path string) error {
	insns, typeCtx, err := parseTextIR(path)
	if err != nil {
		return err
	}
	obj, err := object.Assemble(insns, typeCtx, cfg.Target, symtab.Global())
	if err != nil {
		return err
	}
	out := cfg.Output
	if out == "" {
		out = withExt(path, ".jobj")
	}
	return writeFile(out, obj.Marshal())
}

// runCompile implements `jasmine compile`: parse text IR, lower it all
// the way to native machine code via internal/select, and emit an
// OS-native relocatable object (ELF64 on linux/darwin, COFF on windows).
func runCompile(cfg config.Config, path string) error {
	insns, typeCtx, err := parseTextIR(path)
	if err != nil {
		return err
	}
	obj, err := selector.Compile(insns, typeCtx, cfg.Target)
	if err != nil {
		return err
	}
	return writeNativeObject(cfg, obj, path)
}

func writeNativeObject(cfg config.Config, obj *object.Object, path string) error {
	var bytes []byte
	ext := ".o"
	switch cfg.Target.OS {
	case target.OSWindows:
		bytes = obj.WriteCOFF()
		ext = ".obj"
	default:
		bytes = obj.WriteELF64()
	}
	out := cfg.Output
	if out == "" {
		out = withExt(path, ext)
	}
	return writeFile(out, bytes)
}

// runRelocate implements `jasmine relocate`: read a previously-assembled
// object (code section still holding binary Jasmine IR), recompile it for
// cfg.Target via internal/select, and emit the resulting native object.
func runRelocate(cfg config.Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return diag.IOf(err, "reading %s", path)
	}
	in, err := object.Read(data, symtab.Global())
	if err != nil {
		return err
	}
	out, err := in.Retarget(cfg.Target, selector.Compile)
	if err != nil {
		return err
	}
	return writeNativeObject(cfg, out, path)
}

// runDisassemble implements `jasmine disassemble`: read a native object
// previously produced by `compile`, and print every instruction in its
// code section via internal/x64's independent-disassembler verifier,
// walking byte-by-byte since the code section carries no per-instruction
// boundary markers of its own once lowered to native machine code.
func runDisassemble(cfg config.Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return diag.IOf(err, "reading %s", path)
	}
	obj, err := object.Read(data, symtab.Global())
	if err != nil {
		return err
	}
	code := obj.CodeBytes()
	out := os.Stdout
	if cfg.Output != "" {
		f, err := os.Create(cfg.Output)
		if err != nil {
			return diag.IOf(err, "creating %s", cfg.Output)
		}
		defer f.Close()
		out = f
	}
	for off := 0; off < len(code); {
		text, length, err := x64.Verify(code[off:])
		if err != nil {
			return diag.Validationf("disassemble: offset %d: %v", off, err)
		}
		if _, err := out.WriteString(strconv.Itoa(off) + ":\t" + text + "\n"); err != nil {
			return diag.IOf(err, "writing disassembly")
		}
		off += length
	}
	return nil
}

// runRun implements `jasmine run`: parse, compile, load into executable
// memory, and invoke entry (taking at most one integer argument, per
// internal/loader's amd64 call stub).
func runRun(cfg config.Config, path, entry string, arg *int64) (uintptr, error) {
	insns, typeCtx, err := parseTextIR(path)
	if err != nil {
		return 0, err
	}
	obj, err := selector.Compile(insns, typeCtx, cfg.Target)
	if err != nil {
		return 0, err
	}
	loaded, err := obj.Load(nil)
	if err != nil {
		return 0, err
	}
	defer loaded.Free()

	fn, ok := loaded.EntryPoint(obj, entry)
	if !ok {
		return 0, diag.Validationf("run: no defined function %q", entry)
	}
	if arg == nil {
		return loader.CallFunc0(fn), nil
	}
	return loader.CallFunc1(fn, uintptr(*arg)), nil
}

// runRunStackWords is runRun's counterpart for a function whose
// parameters are entirely memory-class (spec §8 end-to-end scenario 5's
// `dot`, called with two struct-by-value Triples): words is the flat,
// in-order word sequence internal/target.PlaceParameters would place
// starting at the callee's first stack-passed byte, handed to
// internal/loader.CallFuncStack rather than one of the register-arg call
// stubs.
func runRunStackWords(cfg config.Config, path, entry string, words []uint64) (uintptr, error) {
	insns, typeCtx, err := parseTextIR(path)
	if err != nil {
		return 0, err
	}
	obj, err := selector.Compile(insns, typeCtx, cfg.Target)
	if err != nil {
		return 0, err
	}
	loaded, err := obj.Load(nil)
	if err != nil {
		return 0, err
	}
	defer loaded.Free()

	fn, ok := loaded.EntryPoint(obj, entry)
	if !ok {
		return 0, diag.Validationf("run: no defined function %q", entry)
	}
	return loader.CallFuncStack(fn, words), nil
}
