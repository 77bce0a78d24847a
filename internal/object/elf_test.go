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
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
	"jasmine/internal/symtab"
	"jasmine/internal/target"
)

func TestWriteELF64HasValidHeader(t *testing.T) {
	symbols := symtab.NewTable()
	o := New(target.Target{Arch: target.ArchAMD64, OS: target.OSLinux}, symbols)
	foo := symbols.Intern("foo", symtab.Global)
	o.Define(foo, Code)
	o.Write(Code, []byte{0x55, 0x48, 0x89, 0xe5, 0xc3})

	out := o.WriteELF64()
	require.True(t, len(out) >= 64)
	require.Equal(t, []byte{0x7f, 'E', 'L', 'F'}, out[0:4])
	require.Equal(t, byte(2), out[4]) // ELFCLASS64
	require.Equal(t, byte(1), out[5]) // ELFDATA2LSB

	machine := binary.LittleEndian.Uint16(out[18:20])
	require.Equal(t, uint16(elf.EM_X86_64), machine)

	shnum := binary.LittleEndian.Uint16(out[60:62])
	require.True(t, shnum >= 5) // NULL, .text, .rel.text, .symtab, .strtab, .shstrtab
}

func TestWriteELF64WithExternalReferenceGetsUndefinedSymbol(t *testing.T) {
	symbols := symtab.NewTable()
	o := New(target.Target{Arch: target.ArchAMD64, OS: target.OSLinux}, symbols)
	foo := symbols.Intern("foo", symtab.Global)
	o.Define(foo, Code)
	o.Write(Code, []byte{0xe8, 0, 0, 0, 0})
	puts := symbols.Intern("puts", symtab.Global)
	o.Reference(puts, Code, REL32LE, -4)

	out := o.WriteELF64()
	require.NotEmpty(t, out)

	syms, _ := o.buildELFSymbolsAndRelocs(map[Section]int{Code: 1})
	found := false
	for _, s := range syms {
		if s.name == "puts" && s.section == 0 {
			found = true
		}
	}
	require.True(t, found, "expected an SHN_UNDEF entry for the externally-bound symbol")
}
