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

package regalloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"jasmine/internal/ir"
	"jasmine/internal/symtab"
	"jasmine/internal/target"
	"jasmine/internal/types"
)

func amd64() target.Target { return target.Target{Arch: target.ArchAMD64, OS: target.OSLinux} }

func tbl() *symtab.Table { return symtab.NewTable() }

func lbl(t *symtab.Table, name string) *symtab.Symbol {
	s := t.Intern(name, symtab.Local)
	return &s
}

func sym(t *symtab.Table, name string) symtab.Symbol {
	return t.Intern(name, symtab.Local)
}

func vreg(id uint64) ir.Register { return ir.Register{ID: id} }

func regp(id uint64) ir.Param { return ir.RegParam{Reg: vreg(id)} }

func imm(v int64) ir.Param { return ir.ImmParam{Value: v} }

func i64() types.Type { return types.Prim(types.I64) }

func insn(op types.Opcode, typ types.Type, params ...ir.Param) *ir.Insn {
	return &ir.Insn{Op: op, Type: typ, Params: params}
}

// fooProgram builds the spec's straight-line "foo() returns 11" example:
//
//	foo:
//	  frame
//	  mov i64 %0, 5
//	  mov i64 %1, 6
//	  add i64 %0, %0, %1
//	  ret i64 %0
func fooProgram(st *symtab.Table) []*ir.Insn {
	frame := insn(types.OpFrame, types.Type{})
	frame.Label = lbl(st, "foo")
	return []*ir.Insn{
		frame,
		insn(types.OpMov, i64(), regp(0), imm(5)),
		insn(types.OpMov, i64(), regp(1), imm(6)),
		insn(types.OpAdd, i64(), regp(0), regp(0), regp(1)),
		insn(types.OpRet, i64(), regp(0)),
	}
}

// loopProgram builds a counting-loop function summing 1..4 into %1,
// exercising a conditional back-edge join so assignment numbering must
// unify %0/%1's two reaching defs (the loop preheader's and the loop
// body's) at the header.
//
//	foo:
//	  frame
//	  mov i64 %0, 0      ; i
//	  mov i64 %1, 0      ; acc
//	head:
//	  jge i64 done, %0, 4
//	  add i64 %1, %1, %0
//	  add i64 %0, %0, 1
//	  jump head
//	done:
//	  ret i64 %1
func loopProgram(st *symtab.Table) []*ir.Insn {
	frame := insn(types.OpFrame, types.Type{})
	frame.Label = lbl(st, "foo")
	head := insn(types.OpJge, i64(), ir.LabelParam{Sym: sym(st, "done")}, regp(0), imm(4))
	head.Label = lbl(st, "head")
	done := insn(types.OpRet, i64(), regp(1))
	done.Label = lbl(st, "done")
	return []*ir.Insn{
		frame,
		insn(types.OpMov, i64(), regp(0), imm(0)),
		insn(types.OpMov, i64(), regp(1), imm(0)),
		head,
		insn(types.OpAdd, i64(), regp(1), regp(1), regp(0)),
		insn(types.OpAdd, i64(), regp(0), regp(0), imm(1)),
		insn(types.OpJump, types.Type{}, ir.LabelParam{Sym: sym(st, "head")}),
		done,
	}
}

func TestDiscoverFunctionsSingleSpan(t *testing.T) {
	st := tbl()
	prog := fooProgram(st)
	funcs := DiscoverFunctions(prog)
	require.Len(t, funcs, 1)
	require.Equal(t, "foo", funcs[0].Name.Name)
	require.Equal(t, 0, funcs[0].Start)
	require.Equal(t, len(prog)-1, funcs[0].End)
}

func TestDiscoverFunctionsSecondFramePanics(t *testing.T) {
	bad := []*ir.Insn{
		insn(types.OpFrame, types.Type{}),
		insn(types.OpMov, i64(), regp(0), imm(1)),
		insn(types.OpFrame, types.Type{}),
		insn(types.OpRet, i64(), regp(0)),
	}
	require.Panics(t, func() { DiscoverFunctions(bad) })
}

func TestComputeLivenessStraightLine(t *testing.T) {
	st := tbl()
	prog := fooProgram(st)
	fn := DiscoverFunctions(prog)[0]
	c := buildCFG(&fn)
	lv := computeLiveness(&fn, c, uint(maxVRegID(&fn)+1))

	// %0 is defined at instruction 1 (mov %0,5) and used at 3 (add) and 4
	// (ret), so it must be live-out of 1, 2, and 3.
	require.True(t, lv.out[1].Test(0))
	require.True(t, lv.out[2].Test(0))
	require.True(t, lv.out[3].Test(0))
	// %1 dies after the add at instruction 3.
	require.True(t, lv.out[2].Test(1))
	require.False(t, lv.out[3].Test(1))
}

func TestComputeAssignmentsUnifiesLoopJoin(t *testing.T) {
	st := tbl()
	prog := loopProgram(st)
	fn := DiscoverFunctions(prog)[0]
	c := buildCFG(&fn)
	asn := computeAssignments(&fn, c)

	// %0 reaches the header (instruction 3, the jge) from two distinct
	// defs: the preheader's `mov %0,0` (instruction 1) and the loop
	// body's `add %0,%0,1` (instruction 5). Both must canonicalize to
	// the same number at the header.
	headerNum, ok := asn.numberAt(3, 0)
	require.True(t, ok)
	bodyDefNum, ok := asn.numberAt(5, 0)
	require.True(t, ok)
	require.Equal(t, headerNum, bodyDefNum)
	// Canonicalization always picks the lowest defining index, which is
	// the preheader's mov at instruction 1.
	require.Equal(t, 1, headerNum)
}

func TestBuildLiveRangesDisjointOnReassignment(t *testing.T) {
	st := tbl()
	// %0 is defined, used, then redefined with an unrelated value and
	// used again: two disjoint ranges for the same register id.
	frame := insn(types.OpFrame, types.Type{})
	frame.Label = lbl(st, "foo")
	prog := []*ir.Insn{
		frame,
		insn(types.OpMov, i64(), regp(0), imm(1)),
		insn(types.OpMov, i64(), regp(1), regp(0)),
		insn(types.OpMov, i64(), regp(0), imm(2)),
		insn(types.OpMov, i64(), regp(2), regp(0)),
		insn(types.OpRet, i64(), regp(2)),
	}
	fn := DiscoverFunctions(prog)[0]
	c := buildCFG(&fn)
	numVRegs := maxVRegID(&fn) + 1
	lv := computeLiveness(&fn, c, uint(numVRegs))
	asn := computeAssignments(&fn, c)
	ranges := buildLiveRanges(&fn, lv, asn, numVRegs)

	var reg0Ranges []*LiveRange
	for _, r := range ranges {
		if r.Key.RegID == 0 {
			reg0Ranges = append(reg0Ranges, r)
		}
	}
	require.Len(t, reg0Ranges, 2)
	require.NotEqual(t, reg0Ranges[0].Key.Num, reg0Ranges[1].Key.Num)
}

func TestAllocateStraightLineNoOverlapConflicts(t *testing.T) {
	st := tbl()
	prog := fooProgram(st)
	fn := DiscoverFunctions(prog)[0]
	alloc := Allocate(&fn, amd64())
	assertNoConflicts(t, &fn, alloc)

	loc0, ok := alloc.Lookup(0, 1, 3) // %0's value at the add, assigned at instruction 1
	require.True(t, ok)
	require.Equal(t, target.LocRegister, loc0.Kind)
}

func TestAllocateLoopNoOverlapConflicts(t *testing.T) {
	st := tbl()
	prog := loopProgram(st)
	fn := DiscoverFunctions(prog)[0]
	alloc := Allocate(&fn, amd64())
	assertNoConflicts(t, &fn, alloc)
}

// assertNoConflicts recomputes the same live ranges Allocate built
// internally and checks that no two distinct (regID, assignNum) ranges
// overlapping in time were ever handed the same physical register,
// which would mean the allocator corrupted one of them.
func assertNoConflicts(t *testing.T, fn *Function, alloc *Allocation) {
	t.Helper()
	c := buildCFG(fn)
	numVRegs := maxVRegID(fn) + 1
	lv := computeLiveness(fn, c, uint(numVRegs))
	asn := computeAssignments(fn, c)
	ranges := buildLiveRanges(fn, lv, asn, numVRegs)

	for i, a := range ranges {
		for _, b := range ranges[i+1:] {
			if a.Key == b.Key {
				continue
			}
			lo, hi := a.Start, a.End
			if b.Start > lo {
				lo = b.Start
			}
			if b.End < hi {
				hi = b.End
			}
			if lo > hi {
				continue // disjoint in time
			}
			locA, okA := alloc.Lookup(a.Key.RegID, a.Key.Num, lo)
			locB, okB := alloc.Lookup(b.Key.RegID, b.Key.Num, lo)
			if !okA || !okB || locA.Kind != target.LocRegister || locB.Kind != target.LocRegister {
				continue
			}
			require.NotEqual(t, locA.Reg.Index, locB.Reg.Index,
				"instruction %d: ranges %+v and %+v both hold %s", lo, a.Key, b.Key, locA.Reg.Name)
		}
	}
}
