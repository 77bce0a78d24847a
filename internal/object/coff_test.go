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

func TestWriteCOFFHasValidFileHeader(t *testing.T) {
	symbols := symtab.NewTable()
	o := New(target.Target{Arch: target.ArchAMD64, OS: target.OSWindows}, symbols)
	foo := symbols.Intern("foo", symtab.Global)
	o.Define(foo, Code)
	o.Write(Code, []byte{0x55, 0x48, 0x89, 0xe5, 0xc3})

	out := o.WriteCOFF()
	require.True(t, len(out) > 20+40)

	machine := binary.LittleEndian.Uint16(out[0:2])
	require.Equal(t, uint16(imageFileMachineAMD64), machine)

	numSections := binary.LittleEndian.Uint16(out[2:4])
	require.Equal(t, uint16(1), numSections)

	numSymbols := binary.LittleEndian.Uint32(out[12:16])
	// one function symbol (1 aux) plus three .bf/.lf/.ef pseudo-symbols
	// (1 aux each): (1+1) + 3*(1+1) = 8 slots.
	require.Equal(t, uint32(8), numSymbols)

	require.Equal(t, ".text\x00\x00\x00", string(out[20:28]))
}

func TestWriteCOFFLongSymbolNameGoesToStringTable(t *testing.T) {
	symbols := symtab.NewTable()
	o := New(target.Target{Arch: target.ArchAMD64, OS: target.OSWindows}, symbols)
	long := symbols.Intern("a_symbol_name_longer_than_eight_bytes", symtab.Global)
	o.Define(long, Code)
	o.Write(Code, []byte{0xc3})

	out := o.WriteCOFF()
	require.Contains(t, string(out), "a_symbol_name_longer_than_eight_bytes")
}
