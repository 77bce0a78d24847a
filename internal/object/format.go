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
	"sort"

	"github.com/pkg/errors"
	"jasmine/internal/bytebuf"
	"jasmine/internal/diag"
	"jasmine/internal/symtab"
	"jasmine/internal/target"
)

// shebang and magic open every internal-format file; the first 10 bytes
// are the literal ASCII sequence spec §3 names.
var shebang = []byte("#!jasmine\n")
var magic = [4]byte{'J', 'A', 'S', 'M'}

// packSectionOffset packs a Section tag into a u64's top 2 bits alongside
// a 62-bit offset, as spec §4.4's defs/relocs table entries require;
// unpackSectionOffset reverses it.
func packSectionOffset(s Section, offset int) uint64 {
	diag.Assert(offset >= 0 && offset < (1<<62), "section offset %d overflows 62 bits", offset)
	return uint64(s)<<62 | uint64(offset)
}

func unpackSectionOffset(v uint64) (Section, int) {
	return Section(v >> 62), int(v & ((1 << 62) - 1))
}

// Marshal serialises o to the internal format described in spec §4.4/§3.
//
// Beyond the literal byte sequence spec §3 names (header, then section
// bytes, then symbol/defs/relocs tables), each variable-length table is
// prefixed with a u32 entry count: the spec's table layouts are
// self-describing in content but not in length, and a reader has no other
// way to know where one table ends and the next begins.
func (o *Object) Marshal() []byte {
	buf := bytebuf.New()
	buf.Write(shebang)
	buf.Write(magic[:])
	buf.WriteU16LE(o.versionMajor)
	buf.WriteU16LE(o.versionMinor)
	buf.WriteU16LE(o.versionPatch)
	buf.WriteU16LE(uint16(o.Arch))
	buf.WriteU16LE(uint16(o.OS))
	buf.WriteU64LE(uint64(o.code.Len()))
	buf.WriteU64LE(uint64(o.data.Len()))
	buf.WriteU64LE(uint64(o.static.Len()))

	buf.Write(o.code.Bytes())
	buf.Write(o.data.Bytes())
	buf.Write(o.static.Bytes())

	syms := o.symbolsInUse()
	localIndex := make(map[int]uint32, len(syms))
	buf.WriteU32LE(uint32(len(syms)))
	for i, sym := range syms {
		localIndex[sym.ID] = uint32(i)
		buf.WriteU8(uint8(sym.Linkage))
		buf.WriteCString(sym.Name)
	}

	defPositions := o.sortedDefs()
	buf.WriteU32LE(uint32(len(defPositions)))
	for _, d := range defPositions {
		buf.WriteU64LE(packSectionOffset(d.pos.section, d.pos.offset))
		buf.WriteU32LE(localIndex[d.sym.ID])
	}

	relocEntries := o.sortedRelocs()
	buf.WriteU32LE(uint32(len(relocEntries)))
	for _, r := range relocEntries {
		buf.WriteU64LE(packSectionOffset(r.pos.section, r.pos.offset))
		buf.WriteU8(uint8(r.ref.Kind))
		buf.Write([]byte{byte(r.ref.FieldOffset)})
		buf.WriteU32LE(localIndex[r.ref.Symbol.ID])
	}

	return buf.Bytes()
}

type defEntry struct {
	pos position
	sym symtab.Symbol
}

func (o *Object) sortedDefs() []defEntry {
	out := make([]defEntry, 0, len(o.defs))
	for sym, pos := range o.defs {
		out = append(out, defEntry{pos: pos, sym: sym})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].pos.section != out[j].pos.section {
			return out[i].pos.section < out[j].pos.section
		}
		return out[i].pos.offset < out[j].pos.offset
	})
	return out
}

type relocEntry struct {
	pos position
	ref Ref
}

func (o *Object) sortedRelocs() []relocEntry {
	out := make([]relocEntry, 0, len(o.relocs))
	for pos, ref := range o.relocs {
		out = append(out, relocEntry{pos: pos, ref: ref})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].pos.section != out[j].pos.section {
			return out[i].pos.section < out[j].pos.section
		}
		return out[i].pos.offset < out[j].pos.offset
	})
	return out
}

// symbolsInUse returns every symbol this object defines or references, in
// a stable order (by global symbol id), used to assign dense local indices
// for the serialised form.
func (o *Object) symbolsInUse() []symtab.Symbol {
	seen := make(map[int]symtab.Symbol)
	for sym := range o.defs {
		seen[sym.ID] = sym
	}
	for _, ref := range o.relocs {
		seen[ref.Symbol.ID] = ref.Symbol
	}
	out := make([]symtab.Symbol, 0, len(seen))
	for _, sym := range seen {
		out = append(out, sym)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Read parses the internal format written by Marshal. symbols is the table
// new local symbol names are interned into (typically symtab.Global()).
// Per the Open Question decision recorded in DESIGN.md, the version
// triple on disk is preserved verbatim on the returned Object rather than
// being re-stamped to CurrentFormatVersion.
func Read(data []byte, symbols *symtab.Table) (*Object, error) {
	if len(data) < len(shebang)+len(magic) {
		return nil, diag.IOf(errors.New("truncated header"), "not a jasmine object")
	}
	buf := bytebuf.FromBytes(data)
	got := buf.Read(len(shebang))
	for i := range shebang {
		if got[i] != shebang[i] {
			return nil, diag.Validationf("bad shebang: expected %q", shebang)
		}
	}
	gotMagic := buf.Read(len(magic))
	for i := range magic {
		if gotMagic[i] != magic[i] {
			return nil, diag.Validationf("bad magic bytes")
		}
	}
	major := buf.ReadU16LE()
	minor := buf.ReadU16LE()
	patch := buf.ReadU16LE()
	if major > CurrentFormatVersion[0] {
		return nil, diag.IOf(errors.Errorf("file version %d.%d.%d newer than supported %d.%d.%d",
			major, minor, patch, CurrentFormatVersion[0], CurrentFormatVersion[1], CurrentFormatVersion[2]),
			"cannot load object")
	}
	arch := target.Arch(buf.ReadU16LE())
	os := target.OS(buf.ReadU16LE())
	codeLen := buf.ReadU64LE()
	dataLen := buf.ReadU64LE()
	staticLen := buf.ReadU64LE()
	if uint64(buf.Remaining()) < codeLen+dataLen+staticLen {
		return nil, diag.IOf(errors.New("announced section length exceeds file size"), "truncated object")
	}

	o := New(target.Target{Arch: arch, OS: os}, symbols)
	o.versionMajor, o.versionMinor, o.versionPatch = major, minor, patch
	o.code.Write(buf.Read(int(codeLen)))
	o.data.Write(buf.Read(int(dataLen)))
	o.static.Write(buf.Read(int(staticLen)))

	symCount := buf.ReadU32LE()
	localSyms := make([]symtab.Symbol, symCount)
	for i := range localSyms {
		linkage := symtab.Linkage(buf.ReadU8())
		name := buf.ReadCString()
		localSyms[i] = symbols.Intern(name, linkage)
	}

	defCount := buf.ReadU32LE()
	for i := uint32(0); i < defCount; i++ {
		packed := buf.ReadU64LE()
		section, offset := unpackSectionOffset(packed)
		idx := buf.ReadU32LE()
		if int(idx) >= len(localSyms) {
			return nil, diag.Validationf("def table references out-of-range symbol index %d", idx)
		}
		pos := position{section: section, offset: offset}
		sym := localSyms[idx]
		o.defs[sym] = pos
		o.definedByID[sym.ID] = pos
		o.positions[pos] = sym
	}

	relocCount := buf.ReadU32LE()
	for i := uint32(0); i < relocCount; i++ {
		packed := buf.ReadU64LE()
		section, offset := unpackSectionOffset(packed)
		kind := RefKind(buf.ReadU8())
		fieldOffset := int8(buf.Read(1)[0])
		idx := buf.ReadU32LE()
		if int(idx) >= len(localSyms) {
			return nil, diag.Validationf("reloc table references out-of-range symbol index %d", idx)
		}
		pos := position{section: section, offset: offset}
		o.relocs[pos] = Ref{Symbol: localSyms[idx], Kind: kind, FieldOffset: fieldOffset}
	}

	return o, nil
}
