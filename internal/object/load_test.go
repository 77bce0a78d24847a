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

package object

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
	"jasmine/internal/symtab"
	"jasmine/internal/target"
)

// TestLoadPatchesIntraObjectRelativeReloc builds an object whose only
// instruction is `call self` (a REL32LE relocation at field_offset -4
// pointing back at the same symbol) and checks Load patches a displacement
// of exactly -5: the field starts at offset 1, so the reference point sits
// 4 bytes later at offset 5, the end of the 5-byte call, and the target is
// the call's own start at offset 0.
func TestLoadPatchesIntraObjectRelativeReloc(t *testing.T) {
	symbols := symtab.NewTable()
	o := New(target.Host(), symbols)
	self := symbols.Intern("self", symtab.Global)
	o.Define(self, Code)
	o.Write(Code, []byte{0xe8}) // call opcode
	o.Reference(self, Code, REL32LE, -4)
	o.Write(Code, []byte{0, 0, 0, 0})

	loaded, err := o.Load(nil)
	require.NoError(t, err)
	defer loaded.Free()

	disp := int32(binary.LittleEndian.Uint32(loaded.Code.Data[1:5]))
	require.Equal(t, int32(-5), disp)
}

func TestLoadFailsOnUnresolvedExternalSymbol(t *testing.T) {
	symbols := symtab.NewTable()
	o := New(target.Host(), symbols)
	o.Reference(symbols.Intern("missing", symtab.Global), Code, ABS64LE, 0)
	o.Write(Code, make([]byte, 8))

	_, err := o.Load(nil)
	require.Error(t, err)
}

func TestLoadResolvesExternalSymbol(t *testing.T) {
	symbols := symtab.NewTable()
	o := New(target.Host(), symbols)
	o.Reference(symbols.Intern("host_fn", symtab.Global), Code, ABS64LE, 0)
	o.Write(Code, make([]byte, 8))

	loaded, err := o.Load(map[string]uintptr{"host_fn": 0x1234})
	require.NoError(t, err)
	defer loaded.Free()

	got := binary.LittleEndian.Uint64(loaded.Code.Data[0:8])
	require.Equal(t, uint64(0x1234), got)
}

func TestEntryPointLocatesDefinedFunction(t *testing.T) {
	symbols := symtab.NewTable()
	o := New(target.Host(), symbols)
	foo := symbols.Intern("foo", symtab.Global)
	o.Define(foo, Code)
	o.Write(Code, []byte{0xc3})

	loaded, err := o.Load(nil)
	require.NoError(t, err)
	defer loaded.Free()

	addr, ok := loaded.EntryPoint(o, "foo")
	require.True(t, ok)
	require.Equal(t, loaded.Code.Addr, addr)
}
