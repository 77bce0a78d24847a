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
	"sort"

	"jasmine/internal/diag"
	"jasmine/internal/symtab"
)

// Microsoft COFF constants. debug/pe exposes the file-header Machine
// values but not the section-characteristic, symbol-class, or
// relocation-type constants a writer needs, so these are named locally
// against the Microsoft PE/COFF specification the way
// other_examples/...-9l-asm.go.go's object writer names its own
// target-specific relocation constants rather than importing them.
const (
	imageFileMachineAMD64 = 0x8664

	imageSCNCntCode    = 0x00000020
	imageSCNMemExecute = 0x20000000
	imageSCNMemRead    = 0x40000000

	imageSymClassExternal = 2
	imageSymClassStatic   = 3
	imageSymClassFunction = 101

	imageSymTypeFunction = 0x20

	imageRelAMD64ADDR64 = 0x0001
	imageRelAMD64ADDR32 = 0x0002
	imageRelAMD64REL32  = 0x0004 // REL32_0; spec's "REL32_4" is this plus a 4-byte site adjustment
)

// coffRelocType maps a RefKind to the IMAGE_REL_AMD64_* constant per spec
// §4.4: 0x02 (ADDR32) for absolute 32-bit fields, 0x08 (REL32_4) for
// RIP-relative 32-bit fields measured from four bytes past the relocation
// site, 0x01 (ADDR64) for absolute 64-bit fields.
func coffRelocType(kind RefKind) uint16 {
	switch kind {
	case ABS32LE, ABS32BE:
		return imageRelAMD64ADDR32
	case REL32LE, REL32BE:
		return imageRelAMD64REL32 + 4 // REL32_4: addend baked in at +4
	case ABS64LE, ABS64BE:
		return imageRelAMD64ADDR64
	default:
		diag.Unreachable("RefKind %d has no COFF relocation equivalent", int(kind))
		return 0
	}
}

type coffSym struct {
	id      int
	name    string
	nameOff uint32 // string-table offset, set by assignCOFFName when len(name) > 8
	value   uint32
	class   uint8
	typ     uint16
	section int16 // 1-based, or -1 (IMAGE_SYM_DEBUG) for .bf/.lf/.ef pseudo-symbols
	aux     [][18]byte
}

// WriteCOFF emits o's code section as a single-section (.text) relocatable
// COFF object, per spec §4.4: one section, a precomputed string table (names
// over 8 bytes go in the string table, addressed by a 4-byte offset in the
// symbol's Name field preceded by four zero bytes), and one function symbol
// plus its `.bf`/`.lf`/`.ef` auxiliary records per Code-section definition.
// Only the code section is emitted; data/static have no COFF counterpart in
// this simplified single-section form (ELF emission, by contrast, carries
// all three — see WriteELF64).
func (o *Object) WriteCOFF() []byte {
	text := append([]byte(nil), o.code.Bytes()...)

	symbols, relocs := o.coffRelocsForCode(o.buildCOFFSymbols())

	var strtab []byte
	names := make(map[string]uint32)
	for i := range symbols {
		assignCOFFName(&symbols[i], names, &strtab)
	}

	numAux := 0
	for _, s := range symbols {
		numAux += len(s.aux)
	}
	numSymbols := len(symbols) + numAux

	const fileHeaderSize = 20
	const sectionHeaderSize = 40
	const relocSize = 10
	const symSize = 18

	relocOff := uint32(fileHeaderSize + sectionHeaderSize)
	textOff := relocOff + uint32(len(relocs)*relocSize)
	symtabOff := textOff + uint32(len(text))

	out := make([]byte, 0, symtabOff+uint32(numSymbols*symSize)+uint32(len(strtab)))

	var fh [fileHeaderSize]byte
	binary.LittleEndian.PutUint16(fh[0:2], imageFileMachineAMD64)
	binary.LittleEndian.PutUint16(fh[2:4], 1) // NumberOfSections
	binary.LittleEndian.PutUint32(fh[4:8], 0) // TimeDateStamp: deterministic build, no timestamp
	binary.LittleEndian.PutUint32(fh[8:12], symtabOff)
	binary.LittleEndian.PutUint32(fh[12:16], uint32(numSymbols))
	binary.LittleEndian.PutUint16(fh[16:18], 0) // SizeOfOptionalHeader: none, this is an object file
	binary.LittleEndian.PutUint16(fh[18:20], 0) // Characteristics
	out = append(out, fh[:]...)

	var sh [sectionHeaderSize]byte
	copy(sh[0:8], []byte(".text"))
	binary.LittleEndian.PutUint32(sh[8:12], 0) // VirtualSize: unused in an object file
	binary.LittleEndian.PutUint32(sh[12:16], 0)
	binary.LittleEndian.PutUint32(sh[16:20], uint32(len(text)))
	binary.LittleEndian.PutUint32(sh[20:24], textOff)
	binary.LittleEndian.PutUint32(sh[24:28], relocOff)
	binary.LittleEndian.PutUint32(sh[28:32], 0)
	binary.LittleEndian.PutUint16(sh[32:34], uint16(len(relocs)))
	binary.LittleEndian.PutUint16(sh[34:36], 0)
	binary.LittleEndian.PutUint32(sh[36:40], imageSCNCntCode|imageSCNMemExecute|imageSCNMemRead)
	out = append(out, sh[:]...)

	for _, r := range relocs {
		var b [relocSize]byte
		binary.LittleEndian.PutUint32(b[0:4], r.offset)
		binary.LittleEndian.PutUint32(b[4:8], r.symIndex)
		binary.LittleEndian.PutUint16(b[8:10], r.typ)
		out = append(out, b[:]...)
	}

	out = append(out, text...)

	for _, s := range symbols {
		out = append(out, marshalCOFFSymbol(s)...)
		for _, aux := range s.aux {
			out = append(out, aux[:]...)
		}
	}

	var strtabSize [4]byte
	binary.LittleEndian.PutUint32(strtabSize[:], uint32(len(strtab)+4))
	out = append(out, strtabSize[:]...)
	out = append(out, strtab...)

	return out
}

// buildCOFFSymbols returns one function symbol (with .bf/.lf/.ef
// auxiliaries) per symbol Define'd in the code section, ordered by offset.
func (o *Object) buildCOFFSymbols() []coffSym {
	var defs []defEntry
	for _, d := range o.sortedDefs() {
		if d.pos.section == Code {
			defs = append(defs, d)
		}
	}

	out := make([]coffSym, 0, len(defs)*4)
	for i, d := range defs {
		end := o.code.Len()
		if i+1 < len(defs) {
			end = defs[i+1].pos.offset
		}
		size := uint32(end - d.pos.offset)

		class := uint8(imageSymClassStatic)
		if d.sym.Linkage == symtab.Global {
			class = imageSymClassExternal
		}

		var bfAux [18]byte
		// IMAGE_AUX_SYMBOL_FUNCTION: TagIndex(4) TotalSize(4) PointerToLinenumber(4) PointerToNextFunction(4) Unused(2)
		binary.LittleEndian.PutUint32(bfAux[4:8], size)
		out = append(out, coffSym{
			id:      d.sym.ID,
			name:    d.sym.Name,
			value:   uint32(d.pos.offset),
			class:   class,
			typ:     imageSymTypeFunction,
			section: 1,
			aux:     [][18]byte{bfAux},
		})

		out = append(out, coffSym{name: ".bf", value: 0, class: imageSymClassFunction, section: -1, aux: [][18]byte{{}}})
		out = append(out, coffSym{name: ".lf", value: 0, class: imageSymClassFunction, section: -1, aux: [][18]byte{{}}})
		out = append(out, coffSym{name: ".ef", value: 0, class: imageSymClassFunction, section: -1, aux: [][18]byte{{}}})
	}
	return out
}

type coffReloc struct {
	offset   uint32
	symIndex uint32
	typ      uint16
}

// coffRelocsForCode builds the IMAGE_RELOCATION entries for the code
// section, indexing into symbols by position (accounting for the aux rows
// each function symbol occupies) and appending a trailing external symbol
// for any referenced-but-undefined name, as ELF's buildELFSymbolsAndRelocs
// does for SHN_UNDEF.
func (o *Object) coffRelocsForCode(symbols []coffSym) ([]coffSym, []coffReloc) {
	rowIndex := make(map[int]uint32, len(symbols))
	row := uint32(0)
	for _, s := range symbols {
		// only the primary function symbols (not their .bf/.lf/.ef
		// pseudo-symbols, which carry no id) are valid relocation targets.
		if s.class != imageSymClassFunction {
			rowIndex[s.id] = row
		}
		row += uint32(1 + len(s.aux))
	}

	var relocs []relocEntry
	for pos, ref := range o.relocs {
		if pos.section == Code {
			relocs = append(relocs, relocEntry{pos: pos, ref: ref})
		}
	}
	sort.Slice(relocs, func(i, j int) bool { return relocs[i].pos.offset < relocs[j].pos.offset })

	out := make([]coffReloc, 0, len(relocs))
	for _, r := range relocs {
		idx, ok := rowIndex[r.ref.Symbol.ID]
		if !ok {
			idx = row
			rowIndex[r.ref.Symbol.ID] = idx
			symbols = append(symbols, coffSym{id: r.ref.Symbol.ID, name: r.ref.Symbol.Name, class: imageSymClassExternal, section: 0})
			row++
		}
		out = append(out, coffReloc{offset: uint32(r.pos.offset), symIndex: idx, typ: coffRelocType(r.ref.Kind)})
	}
	return symbols, out
}

// assignCOFFName fills in a symbol's on-disk Name encoding: names of 8
// bytes or fewer are stored inline in marshalCOFFSymbol; longer names are
// appended to the string table (deduplicated) and referenced by the
// zero-prefix + 4-byte-offset form, per spec §4.4.
func assignCOFFName(s *coffSym, seen map[string]uint32, strtab *[]byte) {
	if len(s.name) <= 8 {
		return
	}
	if off, ok := seen[s.name]; ok {
		s.nameOff = off
		return
	}
	off := uint32(len(*strtab) + 4) // the 4-byte size prefix precedes the table proper
	*strtab = append(*strtab, []byte(s.name)...)
	*strtab = append(*strtab, 0)
	seen[s.name] = off
	s.nameOff = off
}

func marshalCOFFSymbol(s coffSym) []byte {
	var b [18]byte
	if len(s.name) <= 8 {
		copy(b[0:8], []byte(s.name))
	} else {
		binary.LittleEndian.PutUint32(b[0:4], 0)
		binary.LittleEndian.PutUint32(b[4:8], s.nameOff)
	}
	binary.LittleEndian.PutUint32(b[8:12], s.value)
	binary.LittleEndian.PutUint16(b[12:14], uint16(s.section))
	binary.LittleEndian.PutUint16(b[14:16], s.typ)
	b[16] = s.class
	b[17] = byte(len(s.aux))
	return b[:]
}
