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
	"sort"

	"jasmine/internal/diag"
	"jasmine/internal/symtab"
)

// machineCode maps a Jasmine Arch to the ELF e_machine value, per spec
// §4.4: 0x3e for x86-64, 0x03 for x86, 0xb7 for aarch64, returned as
// debug/elf's EM_X86_64, EM_386 and EM_AARCH64 constants, which carry
// exactly those values.
func machineCode(arch uint16) elf.Machine {
	switch arch {
	case 1: // target.ArchAMD64
		return elf.EM_X86_64
	case 2: // target.ArchX86
		return elf.EM_386
	case 3: // target.ArchARM64
		return elf.EM_AARCH64
	default:
		diag.Unreachable("unsupported arch for ELF emission: %d", arch)
		return 0
	}
}

// x86_64RelocType maps a RefKind to the R_X86_64_* relocation type, per
// spec §4.4: REL32_* → PC32 (global symbol) or PLT32 (local symbol),
// ABS32_* → R_X86_64_32, ABS64_* → R_X86_64_64, and the 8/16-bit forms to
// their corresponding variants.
func x86_64RelocType(kind RefKind, global bool) elf.R_X86_64 {
	switch kind {
	case REL8:
		return elf.R_X86_64_PC8
	case REL16LE, REL16BE:
		return elf.R_X86_64_PC16
	case REL32LE, REL32BE:
		if global {
			return elf.R_X86_64_PC32
		}
		return elf.R_X86_64_PLT32
	case REL64LE, REL64BE:
		return elf.R_X86_64_PC32 // no 64-bit PC-relative relocation type on x86-64; callers use REL32 for RIP-relative forms
	case ABS8:
		return elf.R_X86_64_8
	case ABS16LE, ABS16BE:
		return elf.R_X86_64_16
	case ABS32LE, ABS32BE:
		return elf.R_X86_64_32
	case ABS64LE, ABS64BE:
		return elf.R_X86_64_64
	default:
		diag.Unreachable("unknown RefKind %d", int(kind))
		return 0
	}
}

// elfSectionName maps an internal Section to its ELF output name, per
// spec §4.4: code→.text, data→.rodata, static→.data (the object's three
// internal sections do not share names with their ELF counterparts).
func elfSectionName(s Section) string {
	switch s {
	case Code:
		return ".text"
	case Data:
		return ".rodata"
	case Static:
		return ".data"
	default:
		diag.Unreachable("unknown section %d", int(s))
		return ""
	}
}

type elfSym struct {
	id      int // the symtab.Symbol.ID this entry was built from
	name    string
	value   uint64
	section uint16 // 1-based output section index, or 0 (SHN_UNDEF)
	global  bool
}

// WriteELF64 emits o as a relocatable (ET_REL) ELF64 object: .text, and
// .rodata/.data when their sections are non-empty, each with a matching
// .rel section; plus .symtab/.strtab/.shstrtab. Symbols are ordered
// locals-before-globals and resolveELFAddends bakes each relocation's
// addend into the referencing bytes before the section bytes are copied
// out, since this format uses Elf64_Rel (no separate addend field).
func (o *Object) WriteELF64() []byte {
	code := append([]byte(nil), o.code.Bytes()...)
	data := append([]byte(nil), o.data.Bytes()...)
	static := append([]byte(nil), o.static.Bytes()...)
	sectionBytes := map[Section][]byte{Code: code, Data: data, Static: static}
	o.resolveELFAddends(sectionBytes)

	type outSection struct {
		section  Section
		present  bool
		bytes    []byte
		shIndex  int
		relIndex int
	}
	order := []outSection{{section: Code, present: true, bytes: code}}
	if len(data) > 0 {
		order = append(order, outSection{section: Data, present: true, bytes: data})
	}
	if len(static) > 0 {
		order = append(order, outSection{section: Static, present: true, bytes: static})
	}

	var shstrtab, strtab stringTable
	shstrtab.add("")
	strtab.add("")

	// Section header layout: NULL, then for each present section its data
	// section followed by its .rel section (even when empty, to keep
	// indices predictable for relocation emission below), then .symtab,
	// .strtab, .shstrtab.
	type shdr struct {
		name      uint32
		typ       elf.SectionType
		flags     elf.SectionFlag
		addr      uint64
		offset    uint64
		size      uint64
		link      uint32
		info      uint32
		addralign uint64
		entsize   uint64
	}
	var shdrs []shdr
	var bodies [][]byte
	shdrs = append(shdrs, shdr{}) // SHN_UNDEF
	bodies = append(bodies, nil)

	sectionShIndex := map[Section]int{}
	for i := range order {
		s := &order[i]
		nameOff := shstrtab.add(elfSectionName(s.section))
		flags := elf.SHF_ALLOC
		if s.section == Code {
			flags |= elf.SHF_EXECINSTR
		} else if s.section == Static {
			flags |= elf.SHF_WRITE
		}
		shdrs = append(shdrs, shdr{name: nameOff, typ: elf.SHT_PROGBITS, flags: flags, size: uint64(len(s.bytes)), addralign: 1})
		bodies = append(bodies, s.bytes)
		s.shIndex = len(shdrs) - 1
		sectionShIndex[s.section] = s.shIndex
	}

	symbols, relocsBySection := o.buildELFSymbolsAndRelocs(sectionShIndex)
	localCount := 0
	for _, sym := range symbols {
		if !sym.global {
			localCount++
		}
	}

	for i := range order {
		s := &order[i]
		relocs := relocsBySection[s.section]
		nameOff := shstrtab.add(".rel" + elfSectionName(s.section))
		body := marshalElfRel(relocs)
		shdrs = append(shdrs, shdr{
			name: nameOff, typ: elf.SHT_REL, flags: elf.SHF_INFO_LINK,
			size: uint64(len(body)), info: uint32(s.shIndex), entsize: 16, addralign: 8,
		})
		bodies = append(bodies, body)
		s.relIndex = len(shdrs) - 1
	}

	symtabBody, strtabBody := marshalElfSymtab(symbols, &strtab)
	symtabNameOff := shstrtab.add(".symtab")
	strtabNameOff := shstrtab.add(".strtab")
	shstrtabNameOff := shstrtab.add(".shstrtab")

	symtabIdx := len(shdrs)
	shdrs = append(shdrs, shdr{
		name: symtabNameOff, typ: elf.SHT_SYMTAB, size: uint64(len(symtabBody)),
		link: 0 /* patched below */, info: uint32(localCount + 1), entsize: 24, addralign: 8,
	})
	bodies = append(bodies, symtabBody)

	strtabIdx := len(shdrs)
	shdrs = append(shdrs, shdr{name: strtabNameOff, typ: elf.SHT_STRTAB, size: uint64(len(strtabBody))})
	bodies = append(bodies, strtabBody)
	shdrs[symtabIdx].link = uint32(strtabIdx)

	// Every .rel section's sh_link points at .symtab.
	for _, s := range order {
		shdrs[s.relIndex].link = uint32(symtabIdx)
	}

	shstrtabIdx := len(shdrs)
	shstrtabBody := shstrtab.bytes()
	shdrs = append(shdrs, shdr{name: shstrtabNameOff, typ: elf.SHT_STRTAB, size: uint64(len(shstrtabBody))})
	bodies = append(bodies, shstrtabBody)

	const ehsize = 64
	const shentsize = 64
	offset := uint64(ehsize)
	offsets := make([]uint64, len(shdrs))
	for i := range shdrs {
		align := shdrs[i].addralign
		if align > 1 {
			offset = (offset + align - 1) &^ (align - 1)
		}
		offsets[i] = offset
		shdrs[i].offset = offset
		offset += shdrs[i].size
	}
	shoff := offset
	if shoff%8 != 0 {
		shoff += 8 - shoff%8
	}

	out := make([]byte, 0, shoff+uint64(len(shdrs))*shentsize)
	var hdr [ehsize]byte
	copy(hdr[0:4], []byte{0x7f, 'E', 'L', 'F'})
	hdr[4] = 2 // ELFCLASS64
	hdr[5] = 1 // ELFDATA2LSB
	hdr[6] = 1 // EV_CURRENT
	binary.LittleEndian.PutUint16(hdr[16:18], uint16(elf.ET_REL))
	binary.LittleEndian.PutUint16(hdr[18:20], uint16(machineCode(uint16(o.Arch))))
	binary.LittleEndian.PutUint32(hdr[20:24], 1) // EV_CURRENT
	binary.LittleEndian.PutUint16(hdr[52:54], ehsize)
	binary.LittleEndian.PutUint16(hdr[58:60], shentsize)
	binary.LittleEndian.PutUint16(hdr[60:62], uint16(len(shdrs)))
	binary.LittleEndian.PutUint16(hdr[62:64], uint16(shstrtabIdx))
	out = append(out, hdr[:]...)

	for i, body := range bodies {
		for uint64(len(out)) < offsets[i] {
			out = append(out, 0)
		}
		out = append(out, body...)
	}
	for uint64(len(out)) < shoff {
		out = append(out, 0)
	}
	binary.LittleEndian.PutUint64(out[40:48], shoff)

	for _, s := range shdrs {
		var b [shentsize]byte
		binary.LittleEndian.PutUint32(b[0:4], s.name)
		binary.LittleEndian.PutUint32(b[4:8], uint32(s.typ))
		binary.LittleEndian.PutUint64(b[8:16], uint64(s.flags))
		binary.LittleEndian.PutUint64(b[16:24], s.addr)
		binary.LittleEndian.PutUint64(b[24:32], s.offset)
		binary.LittleEndian.PutUint64(b[32:40], s.size)
		binary.LittleEndian.PutUint32(b[40:44], s.link)
		binary.LittleEndian.PutUint32(b[44:48], s.info)
		binary.LittleEndian.PutUint64(b[48:56], s.addralign)
		binary.LittleEndian.PutUint64(b[56:64], s.entsize)
		out = append(out, b[:]...)
	}
	return out
}

func (o *Object) resolveELFAddends(sectionBytes map[Section][]byte) {
	for pos, ref := range o.relocs {
		buf := sectionBytes[pos.section]
		width := ref.Kind.FieldWidth()
		if pos.offset+width > len(buf) {
			continue
		}
		var v int64 = int64(ref.FieldOffset)
		switch width {
		case 1:
			buf[pos.offset] = byte(v)
		case 2:
			binary.LittleEndian.PutUint16(buf[pos.offset:], uint16(v))
		case 4:
			binary.LittleEndian.PutUint32(buf[pos.offset:], uint32(v))
		case 8:
			binary.LittleEndian.PutUint64(buf[pos.offset:], uint64(v))
		}
	}
}

// buildELFSymbolsAndRelocs builds the ordered (locals-before-globals)
// symbol list and, per output section, the Elf64_Rel entries referencing
// it by index. A relocation naming a symbol this object never Define'd
// (an externally-bound symbol, spec §4.4) gets a trailing undefined
// (SHN_UNDEF, global) entry for the linker to resolve.
func (o *Object) buildELFSymbolsAndRelocs(sectionShIndex map[Section]int) ([]elfSym, map[Section][]elf64Rel) {
	var locals, globals []elfSym
	for _, d := range o.sortedDefs() {
		s := elfSym{
			id:      d.sym.ID,
			name:    d.sym.Name,
			value:   uint64(d.pos.offset),
			section: uint16(sectionShIndex[d.pos.section]),
			global:  d.sym.Linkage == symtab.Global,
		}
		if s.global {
			globals = append(globals, s)
		} else {
			locals = append(locals, s)
		}
	}
	all := append([]elfSym{{}}, locals...)
	all = append(all, globals...)
	symIndexByID := make(map[int]uint16, len(all))
	for i, s := range all {
		if i == 0 {
			continue
		}
		symIndexByID[s.id] = uint16(i)
	}

	relocs := map[Section][]elf64Rel{}
	for _, r := range o.sortedRelocs() {
		idx, ok := symIndexByID[r.ref.Symbol.ID]
		if !ok {
			all = append(all, elfSym{id: r.ref.Symbol.ID, name: r.ref.Symbol.Name, global: true})
			idx = uint16(len(all) - 1)
			symIndexByID[r.ref.Symbol.ID] = idx
		}
		relocs[r.pos.section] = append(relocs[r.pos.section], elf64Rel{
			offset: uint64(r.pos.offset),
			sym:    uint32(idx),
			typ:    uint32(x86_64RelocType(r.ref.Kind, all[idx].global)),
		})
	}
	return all, relocs
}

type elf64Rel struct {
	offset uint64
	sym    uint32
	typ    uint32
}

func marshalElfRel(rels []elf64Rel) []byte {
	sort.Slice(rels, func(i, j int) bool { return rels[i].offset < rels[j].offset })
	out := make([]byte, 0, len(rels)*16)
	for _, r := range rels {
		var b [16]byte
		binary.LittleEndian.PutUint64(b[0:8], r.offset)
		info := uint64(r.sym)<<32 | uint64(r.typ)
		binary.LittleEndian.PutUint64(b[8:16], info)
		out = append(out, b[:]...)
	}
	return out
}

func marshalElfSymtab(symbols []elfSym, strtab *stringTable) ([]byte, []byte) {
	out := make([]byte, 0, len(symbols)*24)
	for _, s := range symbols {
		var nameOff uint32
		if s.name != "" {
			nameOff = strtab.add(s.name)
		}
		bind := elf.STB_LOCAL
		if s.global {
			bind = elf.STB_GLOBAL
		}
		info := byte(bind)<<4 | byte(elf.STT_NOTYPE)
		var b [24]byte
		binary.LittleEndian.PutUint32(b[0:4], nameOff)
		b[4] = info
		b[5] = 0 // st_other
		binary.LittleEndian.PutUint16(b[6:8], s.section)
		binary.LittleEndian.PutUint64(b[8:16], s.value)
		binary.LittleEndian.PutUint64(b[16:24], 0)
		out = append(out, b[:]...)
	}
	return out, strtab.bytes()
}

// stringTable is a minimal growable string-table builder shared by .strtab and
// .shstrtab: both are "\x00"-joined name lists addressed by byte offset.
type stringTable struct {
	buf  []byte
	seen map[string]uint32
}

func (s *stringTable) add(v string) uint32 {
	if s.seen == nil {
		s.seen = map[string]uint32{}
		s.buf = append(s.buf, 0)
	}
	if off, ok := s.seen[v]; ok {
		return off
	}
	off := uint32(len(s.buf))
	s.buf = append(s.buf, []byte(v)...)
	s.buf = append(s.buf, 0)
	s.seen[v] = off
	return off
}

func (s *stringTable) bytes() []byte {
	if s.buf == nil {
		return []byte{0}
	}
	return s.buf
}
