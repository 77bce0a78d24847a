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

package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindRoundTrip(t *testing.T) {
	for _, k := range []Kind{I8, I16, I32, I64, U8, U16, U32, U64, F32, F64, Ptr, Struct} {
		got, ok := ParseKind(k.String())
		require.True(t, ok)
		require.Equal(t, k, got)
	}
}

func TestOpcodeRoundTrip(t *testing.T) {
	for op := OpAdd; op <= OpStat; op++ {
		got, ok := ParseOpcode(op.String())
		require.True(t, ok)
		require.Equal(t, op, got)
	}
}

func TestOpcodeDestructive(t *testing.T) {
	require.True(t, OpAdd.IsDestructive())
	require.True(t, OpMov.IsDestructive())
	require.False(t, OpPush.IsDestructive())
	require.False(t, OpNot.IsDestructive())
	require.False(t, OpRet.IsDestructive())
}

func TestTypeContextDuplicateDefinition(t *testing.T) {
	ctx := NewTypeContext()
	_, ok := ctx.Define(&TypeInfo{Name: "Pair", Members: []Member{
		{Name: "left", Count: 8, Elem: Prim(I64), ElemSet: true},
		{Name: "right", Count: 8, Elem: Prim(I64), ElemSet: true},
	}})
	require.True(t, ok)
	_, ok = ctx.Define(&TypeInfo{Name: "Pair"})
	require.False(t, ok, "duplicate type definition must be rejected")
}

func TestTypeContextFieldIndex(t *testing.T) {
	ctx := NewTypeContext()
	ty, _ := ctx.Define(&TypeInfo{Name: "Triple", Members: []Member{
		{Name: "a", Count: 8, Elem: Prim(I64), ElemSet: true},
		{Name: "b", Count: 8, Elem: Prim(I64), ElemSet: true},
		{Name: "c", Count: 8, Elem: Prim(I64), ElemSet: true},
	}})
	info := ctx.Lookup(ty)
	idx, ok := info.FieldIndex("b")
	require.True(t, ok)
	require.Equal(t, 1, idx)
	_, ok = info.FieldIndex("nope")
	require.False(t, ok)
}
