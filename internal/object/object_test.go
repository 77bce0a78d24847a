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
	"testing"

	"github.com/stretchr/testify/require"
	"jasmine/internal/symtab"
	"jasmine/internal/target"
)

func TestDefineThenReferenceRoundTrip(t *testing.T) {
	symbols := symtab.NewTable()
	o := New(target.Target{Arch: target.ArchAMD64, OS: target.OSLinux}, symbols)

	foo := symbols.Intern("foo", symtab.Global)
	o.Define(foo, Code)
	o.Write(Code, []byte{0x90, 0x90})

	bar := symbols.Intern("bar", symtab.Local)
	o.Reference(bar, Code, REL32LE, -4)
	o.Write(Code, []byte{0, 0, 0, 0})

	require.True(t, o.IsDefined(foo))
	require.False(t, o.IsDefined(bar))
	require.Equal(t, 6, o.code.Len())
}

func TestDefineTwiceIsClass2Panic(t *testing.T) {
	symbols := symtab.NewTable()
	o := New(target.Host(), symbols)
	sym := symbols.Intern("dup", symtab.Global)
	o.Define(sym, Code)
	require.Panics(t, func() { o.Define(sym, Code) })
}

func TestDefineNativeWritesTrampolineAndDefines(t *testing.T) {
	symbols := symtab.NewTable()
	o := New(target.Host(), symbols)
	sym := symbols.Intern("puts", symtab.Global)
	trampoline := []byte{0x48, 0xc7, 0xc0, 0, 0, 0, 0, 0xff, 0xd0, 0xc3}
	o.DefineNative(sym, trampoline)
	require.True(t, o.IsDefined(sym))
	require.Equal(t, trampoline, o.CodeBytes())
}

func TestInternalFormatWriteReadRoundTrip(t *testing.T) {
	symbols := symtab.NewTable()
	o := New(target.Target{Arch: target.ArchAMD64, OS: target.OSLinux}, symbols)
	foo := symbols.Intern("foo", symtab.Global)
	o.Define(foo, Code)
	o.Write(Code, []byte{0x01, 0x02, 0x03})
	bar := symbols.Intern("bar", symtab.Global)
	o.Reference(bar, Code, REL32LE, -4)
	o.Write(Code, []byte{0, 0, 0, 0})
	o.Write(Data, []byte{0xAA, 0xBB})

	raw := o.Marshal()
	require.True(t, len(raw) > 10)

	readSymbols := symtab.NewTable()
	back, err := Read(raw, readSymbols)
	require.NoError(t, err)
	require.Equal(t, o.Arch, back.Arch)
	require.Equal(t, o.OS, back.OS)
	require.Equal(t, o.CodeBytes(), back.CodeBytes())
	require.Equal(t, o.DataBytes(), back.DataBytes())
	require.Equal(t, CurrentFormatVersion[0], back.versionMajor)

	fooBack := readSymbols.Intern("foo", symtab.Global)
	require.True(t, back.IsDefined(fooBack))
}

func TestReadRejectsBadShebang(t *testing.T) {
	_, err := Read([]byte("not an object at all, way too short"), symtab.NewTable())
	require.Error(t, err)
}

func TestReadRejectsNewerVersion(t *testing.T) {
	symbols := symtab.NewTable()
	o := New(target.Host(), symbols)
	raw := o.Marshal()
	// major version lives right after the 10-byte shebang + 4-byte magic.
	raw[14] = byte(CurrentFormatVersion[0] + 1)
	_, err := Read(raw, symtab.NewTable())
	require.Error(t, err)
}
