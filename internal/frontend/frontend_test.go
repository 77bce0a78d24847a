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

package frontend

import (
	"testing"

	"github.com/stretchr/testify/require"

	"jasmine/ast"
	"jasmine/internal/ir"
	selectpkg "jasmine/internal/select"
	"jasmine/internal/symtab"
	"jasmine/internal/target"
	"jasmine/internal/types"
)

func insnOps(insns []*ir.Insn) []types.Opcode {
	ops := make([]types.Opcode, len(insns))
	for i, insn := range insns {
		ops[i] = insn.Op
	}
	return ops
}

func TestCompileStraightLineArithmetic(t *testing.T) {
	root := ast.ParseText(`
	func foo() int {
		return 1 + 2 * 3
	}
	`)
	symbols := symtab.NewTable()
	insns, err := Compile(root, symbols)
	require.NoError(t, err)
	require.Contains(t, insnOps(insns), types.OpFrame)
	require.Equal(t, types.OpRet, insns[len(insns)-1].Op)
}

func TestCompileIfElseFoldsReturnsIntoSingleRet(t *testing.T) {
	root := ast.ParseText(`
	func max(a int, b int) int {
		if a > b {
			return a
		}
		return b
	}
	`)
	symbols := symtab.NewTable()
	insns, err := Compile(root, symbols)
	require.NoError(t, err)

	var frames, rets int
	for _, insn := range insns {
		switch insn.Op {
		case types.OpFrame:
			frames++
		case types.OpRet:
			rets++
		}
	}
	require.Equal(t, 1, frames)
	require.Equal(t, 1, rets, "every source return should fold to the function's single ret")
}

func TestCompileRecursiveCallLowersToJasmineCall(t *testing.T) {
	root := ast.ParseText(`
	func fib(n int) int {
		if n < 2 {
			return n
		}
		return fib(n-1) + fib(n-2)
	}
	`)
	symbols := symtab.NewTable()
	insns, err := Compile(root, symbols)
	require.NoError(t, err)
	require.Contains(t, insnOps(insns), types.OpCall)
	require.Contains(t, insnOps(insns), types.OpParam)
}

func TestCompileRejectsUnsupportedFloatingPoint(t *testing.T) {
	root := ast.ParseText(`
	func ratio() double {
		return 1.5
	}
	`)
	symbols := symtab.NewTable()
	_, err := Compile(root, symbols)
	require.Error(t, err)
}

// TestCompileFeedsSelector is the real end-to-end check: frontend output
// must be consumable by internal/select, not just shaped like IR.
func TestCompileFeedsSelector(t *testing.T) {
	root := ast.ParseText(`
	func loop() int {
		let x = 1
		while x < 10 {
			x = x + 1
		}
		return x
	}
	`)
	symbols := symtab.NewTable()
	insns, err := Compile(root, symbols)
	require.NoError(t, err)

	typeCtx := types.NewTypeContext()
	_, err = selectpkg.Compile(insns, typeCtx, target.Target{Arch: target.ArchAMD64, OS: target.OSLinux})
	require.NoError(t, err)
}
