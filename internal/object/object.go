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

// Package object implements the relocatable Object container of spec
// §4.4: three byte sections (code, data, static), a symbol definition
// table, a relocation table, and a struct type context, plus
// serialisation to the internal format and to ELF/COFF.
package object

import (
	"sort"

	"jasmine/internal/bytebuf"
	"jasmine/internal/diag"
	"jasmine/internal/ir"
	"jasmine/internal/symtab"
	"jasmine/internal/target"
	"jasmine/internal/types"
)

// Section names the three byte regions an Object owns.
type Section int

const (
	Code Section = iota
	Data
	Static
)

func (s Section) String() string {
	switch s {
	case Code:
		return "code"
	case Data:
		return "data"
	case Static:
		return "static"
	default:
		diag.Unreachable("unknown section %d", int(s))
		return ""
	}
}

// RefKind is the relocation field's width, endianness, and whether it is
// relative (symbol_address - relocation_site) or absolute (symbol_address).
type RefKind int

const (
	REL8 RefKind = iota
	REL16LE
	REL16BE
	REL32LE
	REL32BE
	REL64LE
	REL64BE
	ABS8
	ABS16LE
	ABS16BE
	ABS32LE
	ABS32BE
	ABS64LE
	ABS64BE
)

// IsRelative reports whether the field is patched with a site-relative
// displacement rather than an absolute address.
func (k RefKind) IsRelative() bool {
	switch k {
	case REL8, REL16LE, REL16BE, REL32LE, REL32BE, REL64LE, REL64BE:
		return true
	default:
		return false
	}
}

// FieldWidth returns the relocation field's width in bytes.
func (k RefKind) FieldWidth() int {
	switch k {
	case REL8, ABS8:
		return 1
	case REL16LE, REL16BE, ABS16LE, ABS16BE:
		return 2
	case REL32LE, REL32BE, ABS32LE, ABS32BE:
		return 4
	case REL64LE, REL64BE, ABS64LE, ABS64BE:
		return 8
	default:
		diag.Unreachable("unknown RefKind %d", int(k))
		return 0
	}
}

func (k RefKind) bigEndian() bool {
	switch k {
	case REL16BE, REL32BE, REL64BE, ABS16BE, ABS32BE, ABS64BE:
		return true
	default:
		return false
	}
}

// Ref is a relocation's payload: which symbol it names, how the field is
// patched, and a byte offset applied to the relocation site before
// computing the patched value (e.g. x86-64's -4 for a RIP-relative call
// whose displacement is measured from the following instruction).
type Ref struct {
	Symbol      symtab.Symbol
	Kind        RefKind
	FieldOffset int8
}

// position names a byte offset within one section.
type position struct {
	section Section
	offset  int
}

// Object is the relocatable unit of spec §4.4.
type Object struct {
	Arch target.Arch
	OS   target.OS

	versionMajor, versionMinor, versionPatch uint16

	code   *bytebuf.Buf
	data   *bytebuf.Buf
	static *bytebuf.Buf

	types   *types.TypeContext
	symbols *symtab.Table

	defs        map[symtab.Symbol]position
	definedByID map[int]position
	positions   map[position]symtab.Symbol
	relocs      map[position]Ref

	// loadedAddrs holds the base address of each section once Load has
	// run; zero until then.
	loadedAddrs [3]uintptr
}

// CurrentFormatVersion is stamped on Objects created via New; Read
// preserves whatever version triple was actually on disk (see the Open
// Question decision in SPEC_FULL.md §9).
var CurrentFormatVersion = [3]uint16{1, 0, 0}

// New returns an empty Object for tgt, using symbols as its symbol table
// (typically symtab.Global()) and a fresh struct TypeContext.
func New(tgt target.Target, symbols *symtab.Table) *Object {
	return &Object{
		Arch:         tgt.Arch,
		OS:           tgt.OS,
		versionMajor: CurrentFormatVersion[0],
		versionMinor: CurrentFormatVersion[1],
		versionPatch: CurrentFormatVersion[2],
		code:         bytebuf.New(),
		data:         bytebuf.New(),
		static:       bytebuf.New(),
		types:        types.NewTypeContext(),
		symbols:      symbols,
		defs:         make(map[symtab.Symbol]position),
		definedByID:  make(map[int]position),
		positions:    make(map[position]symtab.Symbol),
		relocs:       make(map[position]Ref),
	}
}

// NewWithTypes is New, but reuses an already-built TypeContext rather than
// allocating an empty one — used by internal/select when compiling a
// program whose `type` declarations were parsed (or inherited via
// Retarget) before lowering begins.
func NewWithTypes(tgt target.Target, symbols *symtab.Table, typeCtx *types.TypeContext) *Object {
	o := New(tgt, symbols)
	o.types = typeCtx
	return o
}

func (o *Object) bufFor(s Section) *bytebuf.Buf {
	switch s {
	case Code:
		return o.code
	case Data:
		return o.data
	case Static:
		return o.static
	default:
		diag.Unreachable("unknown section %d", int(s))
		return nil
	}
}

// CodeBytes, DataBytes, StaticBytes expose a section's raw contents, used
// by Retarget (to redisassemble code as IR) and by the emission paths.
func (o *Object) CodeBytes() []byte   { return o.code.Bytes() }
func (o *Object) DataBytes() []byte   { return o.data.Bytes() }
func (o *Object) StaticBytes() []byte { return o.static.Bytes() }

func (o *Object) Types() *types.TypeContext { return o.types }
func (o *Object) Symbols() *symtab.Table     { return o.symbols }

// Write appends raw bytes to section s, returning the offset they were
// written at.
func (o *Object) Write(s Section, p []byte) int {
	buf := o.bufFor(s)
	off := buf.Offset()
	buf.Write(p)
	return off
}

// Define records sym as defined at section s's current write cursor.
// Defining the same symbol twice is a class-2 internal error: the
// allocator and instruction selector are expected to each function's
// frame label exactly once.
func (o *Object) Define(sym symtab.Symbol, s Section) {
	if _, exists := o.defs[sym]; exists {
		diag.Panicf("symbol %q defined twice in object", sym.Name)
	}
	pos := position{section: s, offset: o.bufFor(s).Offset()}
	o.defs[sym] = pos
	o.definedByID[sym.ID] = pos
	o.positions[pos] = sym
}

// IsDefined reports whether sym has a Define'd position in this object.
func (o *Object) IsDefined(sym symtab.Symbol) bool {
	_, ok := o.defs[sym]
	return ok
}

// Reference records a relocation at section s's current write cursor,
// referring to sym with the given kind and field offset.
func (o *Object) Reference(sym symtab.Symbol, s Section, kind RefKind, fieldOffset int8) {
	pos := position{section: s, offset: o.bufFor(s).Offset()}
	o.relocs[pos] = Ref{Symbol: sym, Kind: kind, FieldOffset: fieldOffset}
}

// DefineNative writes a trampoline (`mov rax, imm64; call rax; ret`) into
// the code section for an externally-bound host address and defines sym
// at the trampoline's entry, per spec §4.4. The trampoline's exact bytes
// are produced by internal/x64; DefineNative accepts pre-encoded bytes so
// this package does not need to import the emitter (object precedes the
// emitter in the dependency order).
func (o *Object) DefineNative(sym symtab.Symbol, trampoline []byte) {
	o.Define(sym, Code)
	o.Write(Code, trampoline)
}

// Compiler recompiles a decoded instruction stream for a new target,
// returning the resulting Object. Supplied by the pipeline driver
// (cmd/jasmine) rather than imported here, so that Object — a leaf
// relative to the allocator/selector/emitter — never depends on them.
type Compiler func(insns []*ir.Insn, typeCtx *types.TypeContext, tgt target.Target) (*Object, error)

// Retarget disassembles the Jasmine IR stored in the code section and
// recompiles it for tgt via compile, returning a fresh Object. This only
// makes sense for an Object whose code section still holds assembled
// Jasmine IR (i.e. one that has not yet been lowered to native code).
func (o *Object) Retarget(tgt target.Target, compile Compiler) (*Object, error) {
	relocs := o.codeRelocsAsIRRelocs()
	insns, err := ir.Disassemble(o.code.Bytes(), relocs, o.symbols, o.types)
	if err != nil {
		return nil, err
	}
	return compile(insns, o.types, tgt)
}

func (o *Object) codeRelocsAsIRRelocs() []ir.Reloc {
	var out []ir.Reloc
	for pos, ref := range o.relocs {
		if pos.section != Code {
			continue
		}
		out = append(out, ir.Reloc{
			Offset:      pos.offset,
			Kind:        ir.RelREL32LE,
			FieldOffset: ref.FieldOffset,
			Symbol:      ref.Symbol,
		})
	}
	return out
}

// Assemble is Retarget's mirror image: it encodes insns via ir.Assemble
// into the code section of a fresh Object rather than decoding one
// already built, the `jasmine assemble` verb's job of turning parsed text
// IR into the portable binary-IR container Retarget (and later `jasmine
// relocate`) expects to find in Code.
func Assemble(insns []*ir.Insn, typeCtx *types.TypeContext, tgt target.Target, symbols *symtab.Table) (*Object, error) {
	data, relocs, err := ir.Assemble(insns)
	if err != nil {
		return nil, err
	}
	o := NewWithTypes(tgt, symbols, typeCtx)
	sort.Slice(relocs, func(i, j int) bool { return relocs[i].Offset < relocs[j].Offset })

	cursor := 0
	for _, r := range relocs {
		o.Write(Code, data[cursor:r.Offset])
		kind, fieldOffset := irRefKind(r.Kind)
		o.Reference(r.Symbol, Code, kind, fieldOffset)
		cursor = r.Offset
	}
	o.Write(Code, data[cursor:])
	return o, nil
}

func irRefKind(k ir.RelocKind) (RefKind, int8) {
	switch k {
	case ir.RelREL32LE:
		return REL32LE, -4
	case ir.RelABS64LE:
		return ABS64LE, 0
	default:
		diag.Unreachable("unknown ir.RelocKind %d", int(k))
		return 0, 0
	}
}
