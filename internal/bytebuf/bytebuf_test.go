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

package bytebuf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTypedRoundTrip(t *testing.T) {
	b := New()
	b.WriteU8(0x12)
	b.WriteU16LE(0x3456)
	b.WriteU32LE(0x789abcde)
	b.WriteU64LE(0x0102030405060708)
	b.WriteF32LE(1.5)
	b.WriteF64LE(-2.25)

	require.Equal(t, uint8(0x12), b.ReadU8())
	require.Equal(t, uint16(0x3456), b.ReadU16LE())
	require.Equal(t, uint32(0x789abcde), b.ReadU32LE())
	require.Equal(t, uint64(0x0102030405060708), b.ReadU64LE())
	require.Equal(t, float32(1.5), b.ReadF32LE())
	require.Equal(t, float64(-2.25), b.ReadF64LE())
}

func TestUnget(t *testing.T) {
	b := New()
	b.WriteU32LE(42)
	got := b.ReadU32LE()
	require.Equal(t, uint32(42), got)
	b.Unget(4)
	require.Equal(t, uint32(42), b.ReadU32LE())
}

func TestCString(t *testing.T) {
	b := New()
	b.WriteCString("hello")
	b.WriteCString("world")
	require.Equal(t, "hello", b.ReadCString())
	require.Equal(t, "world", b.ReadCString())
}

func TestGrowByDoubling(t *testing.T) {
	b := New()
	for i := 0; i < 1000; i++ {
		b.WriteU8(byte(i))
	}
	require.Equal(t, 1000, b.Len())
	for i := 0; i < 1000; i++ {
		require.Equal(t, byte(i), b.ReadU8())
	}
}

func TestWriteAtPatch(t *testing.T) {
	b := New()
	off := b.Offset()
	b.WriteU32LE(0)
	b.WriteU8(1)
	patched := make([]byte, 4)
	patched[0] = 0xef
	patched[1] = 0xbe
	patched[2] = 0xad
	patched[3] = 0xde
	b.WriteAt(off, patched)
	require.Equal(t, uint32(0xdeadbeef), b.ReadU32LE())
}
