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

// Package bytebuf implements a growable byte queue with endian-aware
// typed read/write helpers, as used by the sections of a Jasmine Object
// and by the IR's binary assembler/disassembler.
package bytebuf

import (
	"encoding/binary"
	"math"
	"unsafe"

	"jasmine/internal/diag"
)

// HostLittleEndian is detected once at package init by byte-reinterpreting
// the sequence {0,1,2,3} as a u32, mirroring spec §4.1.
var HostLittleEndian bool

func init() {
	b := [4]byte{0, 1, 2, 3}
	HostLittleEndian = detectLittleEndian(b)
}

func detectLittleEndian(b [4]byte) bool {
	// A little-endian host reinterprets {0,1,2,3} as 0x03020100.
	return *(*uint32)(unsafe.Pointer(&b[0])) == 0x03020100
}

// Buf is a growable byte queue. Writes append at the tail; reads consume
// from a cursor that can be rewound with Unget. It grows by doubling on
// overflow, matching spec §4.1.
type Buf struct {
	data   []byte
	cursor int
}

// New returns an empty Buf.
func New() *Buf {
	return &Buf{data: make([]byte, 0, 64)}
}

// FromBytes wraps an existing slice for reading (and further writing, which
// appends after it).
func FromBytes(b []byte) *Buf {
	return &Buf{data: append([]byte(nil), b...)}
}

// Bytes returns the queue's full contents.
func (b *Buf) Bytes() []byte { return b.data }

// Len returns the number of bytes currently stored.
func (b *Buf) Len() int { return len(b.data) }

// Offset returns the write cursor, i.e. the offset the next Write call
// will land at — this is what Object.define/reference record.
func (b *Buf) Offset() int { return len(b.data) }

func (b *Buf) grow(n int) {
	if cap(b.data)-len(b.data) >= n {
		return
	}
	newCap := cap(b.data)
	if newCap == 0 {
		newCap = 64
	}
	for newCap-len(b.data) < n {
		newCap *= 2
	}
	grown := make([]byte, len(b.data), newCap)
	copy(grown, b.data)
	b.data = grown
}

// Write appends raw bytes.
func (b *Buf) Write(p []byte) {
	b.grow(len(p))
	b.data = append(b.data, p...)
}

// WriteByte appends one byte.
func (b *Buf) WriteByte(v byte) {
	b.grow(1)
	b.data = append(b.data, v)
}

// WriteAt overwrites len(p) bytes starting at off; used to patch a
// relocation field or a frame-size immediate once it is known, as the
// teacher's Assembler.patchSymbol does for frame size.
func (b *Buf) WriteAt(off int, p []byte) {
	diag.Assert(off >= 0 && off+len(p) <= len(b.data), "WriteAt out of range: off=%d len=%d size=%d", off, len(p), len(b.data))
	copy(b.data[off:off+len(p)], p)
}

// Read consumes n bytes from the cursor.
func (b *Buf) Read(n int) []byte {
	diag.Assert(b.cursor+n <= len(b.data), "read past end of buffer")
	out := b.data[b.cursor : b.cursor+n]
	b.cursor += n
	return out
}

// Peek returns the next n bytes without consuming them.
func (b *Buf) Peek(n int) []byte {
	diag.Assert(b.cursor+n <= len(b.data), "peek past end of buffer")
	return b.data[b.cursor : b.cursor+n]
}

// Unget rewinds the cursor by n bytes.
func (b *Buf) Unget(n int) {
	diag.Assert(b.cursor-n >= 0, "unget before start of buffer")
	b.cursor -= n
}

// Remaining reports how many unread bytes are left.
func (b *Buf) Remaining() int { return len(b.data) - b.cursor }

// --- typed helpers -----------------------------------------------------

func (b *Buf) WriteU8(v uint8)  { b.WriteByte(v) }
func (b *Buf) ReadU8() uint8    { return b.Read(1)[0] }

func (b *Buf) WriteU16LE(v uint16) { var t [2]byte; binary.LittleEndian.PutUint16(t[:], v); b.Write(t[:]) }
func (b *Buf) WriteU16BE(v uint16) { var t [2]byte; binary.BigEndian.PutUint16(t[:], v); b.Write(t[:]) }
func (b *Buf) ReadU16LE() uint16   { return binary.LittleEndian.Uint16(b.Read(2)) }
func (b *Buf) ReadU16BE() uint16   { return binary.BigEndian.Uint16(b.Read(2)) }

func (b *Buf) WriteU32LE(v uint32) { var t [4]byte; binary.LittleEndian.PutUint32(t[:], v); b.Write(t[:]) }
func (b *Buf) WriteU32BE(v uint32) { var t [4]byte; binary.BigEndian.PutUint32(t[:], v); b.Write(t[:]) }
func (b *Buf) ReadU32LE() uint32   { return binary.LittleEndian.Uint32(b.Read(4)) }
func (b *Buf) ReadU32BE() uint32   { return binary.BigEndian.Uint32(b.Read(4)) }

func (b *Buf) WriteU64LE(v uint64) { var t [8]byte; binary.LittleEndian.PutUint64(t[:], v); b.Write(t[:]) }
func (b *Buf) WriteU64BE(v uint64) { var t [8]byte; binary.BigEndian.PutUint64(t[:], v); b.Write(t[:]) }
func (b *Buf) ReadU64LE() uint64   { return binary.LittleEndian.Uint64(b.Read(8)) }
func (b *Buf) ReadU64BE() uint64   { return binary.BigEndian.Uint64(b.Read(8)) }

// WriteF32/F64 byte-reinterpret through the matching integer width before
// conversion, per spec §4.1.
func (b *Buf) WriteF32LE(v float32) { b.WriteU32LE(math.Float32bits(v)) }
func (b *Buf) ReadF32LE() float32   { return math.Float32frombits(b.ReadU32LE()) }
func (b *Buf) WriteF64LE(v float64) { b.WriteU64LE(math.Float64bits(v)) }
func (b *Buf) ReadF64LE() float64   { return math.Float64frombits(b.ReadU64LE()) }

// WriteCString writes a UTF-8 name followed by a NUL terminator, the
// format used by the internal object format's interned symbol table.
func (b *Buf) WriteCString(s string) {
	b.Write([]byte(s))
	b.WriteByte(0)
}

// ReadCString reads a NUL-terminated string from the cursor.
func (b *Buf) ReadCString() string {
	start := b.cursor
	for b.cursor < len(b.data) && b.data[b.cursor] != 0 {
		b.cursor++
	}
	diag.Assert(b.cursor < len(b.data), "unterminated string in buffer")
	s := string(b.data[start:b.cursor])
	b.cursor++ // skip NUL
	return s
}
