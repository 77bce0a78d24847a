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

package ir

import (
	"testing"

	"github.com/stretchr/testify/require"
	"jasmine/internal/symtab"
	"jasmine/internal/types"
)

func TestUsesSkipsDestinationButKeepsItsMemoryBase(t *testing.T) {
	dest := Register{ID: 1}
	src := Register{ID: 2}
	insn := &Insn{
		Op:   types.OpMov,
		Type: types.Prim(types.I64),
		Params: []Param{
			MemParam{Mem: Mem{Kind: MemRegOffset, Base: dest, Offset: 8}},
			RegParam{Reg: src},
		},
	}
	uses := insn.Uses()
	require.Contains(t, uses, dest)
	require.Contains(t, uses, src)
}

func TestDefOnlyForDestructiveRegisterDestination(t *testing.T) {
	dest := Register{ID: 1}
	add := &Insn{Op: types.OpAdd, Type: types.Prim(types.I64), Params: []Param{
		RegParam{Reg: dest}, RegParam{Reg: dest}, ImmParam{Value: 1},
	}}
	def, ok := add.Def()
	require.True(t, ok)
	require.Equal(t, dest, def)

	ret := &Insn{Op: types.OpRet, Type: types.Prim(types.I64), Params: []Param{RegParam{Reg: dest}}}
	_, ok = ret.Def()
	require.False(t, ok)
}

func TestPrintParseRoundTrip(t *testing.T) {
	src := "foo: frame\n" +
		"  add i64 %0, %0, 1\n" +
		"  ret i64 %0\n"
	symbols := symtab.NewTable()
	typeCtx := types.NewTypeContext()
	p := NewParser(src, symbols, typeCtx)
	insns, err := p.Parse()
	require.NoError(t, err)
	require.Len(t, insns, 3)
	require.Equal(t, types.OpFrame, insns[0].Op)
	require.NotNil(t, insns[0].Label)
	require.Equal(t, "foo", insns[0].Label.Name)
	require.Equal(t, types.OpAdd, insns[1].Op)
	require.Equal(t, types.OpRet, insns[2].Op)

	printer := NewPrinter(typeCtx)
	out := printer.Print(insns)
	require.Contains(t, out, "foo: frame")
	require.Contains(t, out, "add i64")
	require.Contains(t, out, "ret i64")
}

func TestParseStructTypedefAndFieldMemberOperand(t *testing.T) {
	src := "type Pair {a: i64, b: i64}\n" +
		"mov i64 %0, [%1 + Pair.b]\n"
	symbols := symtab.NewTable()
	typeCtx := types.NewTypeContext()
	p := NewParser(src, symbols, typeCtx)
	insns, err := p.Parse()
	require.NoError(t, err)
	require.Len(t, insns, 1)
	mem := insns[0].Params[1].(MemParam).Mem
	require.Equal(t, MemRegField, mem.Kind)
	require.Equal(t, "b", mem.Field)

	_, info, ok := typeCtx.LookupByName("Pair")
	require.True(t, ok)
	idx, ok := info.FieldIndex("b")
	require.True(t, ok)
	require.Equal(t, 1, idx)
}

func TestParseLocalAcceptsStructTypeName(t *testing.T) {
	src := "type Pair {a: i64, b: i64}\n" +
		"local Pair %0\n"
	symbols := symtab.NewTable()
	typeCtx := types.NewTypeContext()
	p := NewParser(src, symbols, typeCtx)
	insns, err := p.Parse()
	require.NoError(t, err)
	require.Len(t, insns, 1)
	require.Equal(t, types.Struct, insns[0].Type.Kind)

	pairTy, _, ok := typeCtx.LookupByName("Pair")
	require.True(t, ok)
	require.Equal(t, pairTy.ID, insns[0].Type.ID)
}

func TestPrintLocalRendersStructNameNotGenericKind(t *testing.T) {
	src := "type Pair {a: i64, b: i64}\n" +
		"local Pair %0\n"
	symbols := symtab.NewTable()
	typeCtx := types.NewTypeContext()
	p := NewParser(src, symbols, typeCtx)
	insns, err := p.Parse()
	require.NoError(t, err)

	printer := NewPrinter(typeCtx)
	require.Contains(t, printer.PrintInsn(insns[0]), "local Pair %0")
}

func TestAssembleDisassembleStructLocalRoundTrip(t *testing.T) {
	src := "type Pair {a: i64, b: i64}\n" +
		"local Pair %0\n"
	symbols := symtab.NewTable()
	typeCtx := types.NewTypeContext()
	p := NewParser(src, symbols, typeCtx)
	insns, err := p.Parse()
	require.NoError(t, err)

	data, relocs, err := Assemble(insns)
	require.NoError(t, err)

	back, err := Disassemble(data, relocs, symbols, typeCtx)
	require.NoError(t, err)
	require.Len(t, back, 1)
	require.Equal(t, types.Struct, back[0].Type.Kind)
	require.Equal(t, insns[0].Type.ID, back[0].Type.ID)
}

func TestParseRejectsWrongArity(t *testing.T) {
	symbols := symtab.NewTable()
	typeCtx := types.NewTypeContext()
	p := NewParser("add i64 %0, %1\n", symbols, typeCtx)
	_, err := p.Parse()
	require.Error(t, err)
}

func TestParseRejectsDuplicateTypedef(t *testing.T) {
	symbols := symtab.NewTable()
	typeCtx := types.NewTypeContext()
	p := NewParser("type Pair {a: i64, b: i64}\ntype Pair {c: i32}\n", symbols, typeCtx)
	_, err := p.Parse()
	require.Error(t, err)
}

func TestAssembleDisassembleRoundTrip(t *testing.T) {
	symbols := symtab.NewTable()
	typeCtx := types.NewTypeContext()
	src := "foo: frame\n" +
		"  add i64 %0, %0, 1\n" +
		"  jump foo\n" +
		"  ret i64 %0\n"
	p := NewParser(src, symbols, typeCtx)
	insns, err := p.Parse()
	require.NoError(t, err)

	data, relocs, err := Assemble(insns)
	require.NoError(t, err)
	require.Len(t, relocs, 1)

	back, err := Disassemble(data, relocs, symbols, typeCtx)
	require.NoError(t, err)
	require.Len(t, back, len(insns))
	for i := range insns {
		require.Equal(t, insns[i].Op, back[i].Op)
		require.Equal(t, len(insns[i].Params), len(back[i].Params))
	}
	require.Equal(t, "foo", back[2].Params[0].(LabelParam).Sym.Name)
}

func TestAssembleDisassembleMemRegFieldRoundTrip(t *testing.T) {
	symbols := symtab.NewTable()
	typeCtx := types.NewTypeContext()
	src := "type Pair {a: i64, b: i64}\n" +
		"mov i64 %0, [%1 + Pair.b]\n"
	p := NewParser(src, symbols, typeCtx)
	insns, err := p.Parse()
	require.NoError(t, err)

	data, relocs, err := Assemble(insns)
	require.NoError(t, err)

	back, err := Disassemble(data, relocs, symbols, typeCtx)
	require.NoError(t, err)
	require.Len(t, back, 1)
	mem := back[0].Params[1].(MemParam).Mem
	require.Equal(t, MemRegField, mem.Kind)
	require.Equal(t, "b", mem.Field)
	require.Equal(t, insns[0].Params[1].(MemParam).Mem.StructType.ID, mem.StructType.ID)
}

func TestAssembleRejectsWrongArity(t *testing.T) {
	insn := &Insn{Op: types.OpAdd, Type: types.Prim(types.I64), Params: []Param{RegParam{Reg: Register{ID: 0}}}}
	_, _, err := Assemble([]*Insn{insn})
	require.Error(t, err)
}
