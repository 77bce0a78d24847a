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

package ir

import (
	"jasmine/internal/bytebuf"
	"jasmine/internal/diag"
	"jasmine/internal/symtab"
	"jasmine/internal/types"
)

// paramKind is the 2-bit per-slot tag in an instruction's binary header:
// which of the four Param variants occupies that slot (or none). pkMem
// does not fit in two bits: encodeHeader stores it as 0, the same tag as
// pkNone, and disassembleOne reads a zero tag as a memory operand when the
// slot lies within the opcode's fixed operand count. A memory operand of a
// variadic opcode (`call`) is therefore not recovered by Disassemble.
type paramKind uint8

const (
	pkNone paramKind = iota
	pkReg
	pkImm
	pkLabel
	pkMem
)

// RelocKind distinguishes how a relocation's field bytes are patched once
// the referenced symbol's address is known (spec §4.4's Ref.kind).
type RelocKind int

const (
	// RelREL32LE patches a 4-byte little-endian field with
	// symbol_address - relocation_site, i.e. a RIP-relative displacement.
	RelREL32LE RelocKind = iota
	// RelABS64LE patches an 8-byte little-endian field with the absolute
	// symbol address.
	RelABS64LE
)

// Reloc records one outstanding symbol reference produced by Assemble, at
// an offset within the assembled byte stream. object.Object's relocation
// table is built from these once the stream is placed into a section.
type Reloc struct {
	Offset      int
	Kind        RelocKind
	FieldOffset int8
	Symbol      symtab.Symbol
}

// header packs opcode (6 bits), three 2-bit param-kind tags, and a 4-bit
// operand-kind nibble (the MemKind of whichever slot is pkMem; instructions
// with more than one memory operand do not occur before instruction
// selection lowers them, so one nibble suffices) into 16 bits.
func encodeHeader(op types.Opcode, kinds [3]paramKind, memKind MemKind) uint16 {
	h := uint16(op) & 0x3f
	h |= uint16(kinds[0]&0x3) << 6
	h |= uint16(kinds[1]&0x3) << 8
	h |= uint16(kinds[2]&0x3) << 10
	h |= uint16(memKind&0xf) << 12
	return h
}

func decodeHeader(h uint16) (types.Opcode, [3]paramKind, MemKind) {
	op := types.Opcode(h & 0x3f)
	var kinds [3]paramKind
	kinds[0] = paramKind((h >> 6) & 0x3)
	kinds[1] = paramKind((h >> 8) & 0x3)
	kinds[2] = paramKind((h >> 10) & 0x3)
	memKind := MemKind((h >> 12) & 0xf)
	return op, kinds, memKind
}

// assemble60 writes v as a control byte (sign bit + 3-bit byte count)
// followed by that many little-endian magnitude bytes, per spec §4.5's
// disassemble_60bit / assemble_60bit pair.
func assemble60(buf *bytebuf.Buf, v int64) {
	sign := byte(0)
	mag := uint64(v)
	if v < 0 {
		sign = 1
		mag = uint64(-v)
	}
	n := 0
	for n < 7 && mag>>(8*uint(n)) != 0 {
		n++
	}
	ctrl := sign<<7 | byte(n)<<4
	buf.WriteByte(ctrl)
	for i := 0; i < n; i++ {
		buf.WriteByte(byte(mag >> (8 * uint(i))))
	}
}

func disassemble60(buf *bytebuf.Buf) int64 {
	ctrl := buf.ReadU8()
	sign := ctrl >> 7
	n := int((ctrl >> 4) & 0x7)
	var mag uint64
	for i := 0; i < n; i++ {
		mag |= uint64(buf.ReadU8()) << (8 * uint(i))
	}
	if sign == 1 {
		return -int64(mag)
	}
	return int64(mag)
}

func paramKindOf(p Param) paramKind {
	switch p.(type) {
	case RegParam:
		return pkReg
	case ImmParam:
		return pkImm
	case LabelParam:
		return pkLabel
	case MemParam:
		return pkMem
	default:
		diag.Unreachable("unknown Param implementation %T", p)
		return pkNone
	}
}

// Assemble encodes insns into the Jasmine IR binary form, returning the
// outstanding label relocations alongside the byte stream.
func Assemble(insns []*Insn) ([]byte, []Reloc, error) {
	buf := bytebuf.New()
	var relocs []Reloc
	for _, insn := range insns {
		if err := assembleOne(buf, insn, &relocs); err != nil {
			return nil, nil, err
		}
	}
	return buf.Bytes(), relocs, nil
}

func assembleOne(buf *bytebuf.Buf, insn *Insn, relocs *[]Reloc) error {
	sig, ok := SignatureOf(insn.Op)
	if !ok {
		return diag.Validationf("unknown opcode %v", insn.Op)
	}
	if sig.NumParams >= 0 && len(insn.Params) != sig.NumParams {
		return diag.Validationf("opcode %s expects %d operands, got %d", insn.Op, sig.NumParams, len(insn.Params))
	}
	if len(insn.Params) > 3 {
		return diag.Validationf("opcode %s has %d operands, more than the binary form's 3-slot header supports", insn.Op, len(insn.Params))
	}

	var kinds [3]paramKind
	var memKind MemKind
	for i, p := range insn.Params {
		kinds[i] = paramKindOf(p)
		if mp, ok := p.(MemParam); ok {
			memKind = mp.Mem.Kind
		}
	}
	buf.WriteU16LE(encodeHeader(insn.Op, kinds, memKind))
	if sig.HasType {
		buf.WriteU8(uint8(insn.Type.Kind))
		if insn.Type.Kind == types.Struct {
			// Kind alone doesn't identify which struct (e.g. `local Pair
			// %0`); the type's id into the same TypeContext the typedef
			// section already populated travels alongside it, the same
			// way a field memory operand's StructType.ID does below.
			assemble60(buf, int64(insn.Type.ID))
		}
	}
	for _, p := range insn.Params {
		if err := assembleParam(buf, p, relocs); err != nil {
			return err
		}
	}
	return nil
}

func assembleRegister(buf *bytebuf.Buf, r Register) {
	if r.Global {
		buf.WriteU8(1)
		assemble60(buf, int64(r.Sym.ID))
		return
	}
	buf.WriteU8(0)
	buf.WriteU64LE(r.ID)
}

func disassembleRegister(buf *bytebuf.Buf, symbols *symtab.Table) Register {
	if buf.ReadU8() == 1 {
		id := disassemble60(buf)
		return Register{Global: true, Sym: symtab.Symbol{ID: int(id), Name: symbols.Lookup(int(id))}}
	}
	return Register{ID: buf.ReadU64LE()}
}

// assembleLabelRef writes the four zero bytes spec §4.5 requires for every
// label reference, recording a REL32LE relocation (field offset -4, so the
// patched displacement is relative to the byte immediately following the
// four-byte field) at the position just written.
func assembleLabelRef(buf *bytebuf.Buf, sym symtab.Symbol, relocs *[]Reloc) {
	offset := buf.Offset()
	buf.WriteU32LE(0)
	*relocs = append(*relocs, Reloc{Offset: offset, Kind: RelREL32LE, FieldOffset: -4, Symbol: sym})
}

func assembleParam(buf *bytebuf.Buf, p Param, relocs *[]Reloc) error {
	switch v := p.(type) {
	case RegParam:
		assembleRegister(buf, v.Reg)
	case ImmParam:
		buf.WriteU64LE(uint64(v.Value))
	case LabelParam:
		assembleLabelRef(buf, v.Sym, relocs)
	case MemParam:
		return assembleMem(buf, v.Mem, relocs)
	default:
		diag.Unreachable("unknown Param implementation %T", p)
	}
	return nil
}

func assembleMem(buf *bytebuf.Buf, m Mem, relocs *[]Reloc) error {
	switch m.Kind {
	case MemRegOffset:
		assembleRegister(buf, m.Base)
		assemble60(buf, m.Offset)
	case MemLabelOffset:
		assembleLabelRef(buf, m.Label, relocs)
		assemble60(buf, m.Offset)
	case MemRegField:
		assembleRegister(buf, m.Base)
		assemble60(buf, int64(m.StructType.ID))
		if err := writeFieldOrdinal(buf, m); err != nil {
			return err
		}
	case MemLabelField:
		assembleLabelRef(buf, m.Label, relocs)
		assemble60(buf, int64(m.StructType.ID))
		if err := writeFieldOrdinal(buf, m); err != nil {
			return err
		}
	default:
		diag.Unreachable("unknown MemKind %v", m.Kind)
	}
	return nil
}

func writeFieldOrdinal(buf *bytebuf.Buf, m Mem) error {
	// The ordinal is resolved by the caller at text-parse time (Parser
	// validates the field exists); here we only need *some* field to
	// serialise, since TypeContext.FieldIndex is deterministic given the
	// same struct definition is present at disassemble time. Field name
	// itself isn't known structurally at this layer, so callers that
	// construct Mem values directly (rather than via the parser) must set
	// Field; we re-derive the ordinal at disassemble time from field name
	// lookups against the caller-supplied TypeContext.
	if m.Field == "" {
		return diag.Validationf("memory field operand missing field name")
	}
	buf.WriteCString(m.Field)
	return nil
}

// Disassemble decodes the Jasmine IR binary form produced by Assemble.
// relocs must be the Reloc slice Assemble returned alongside data: label
// identity travels through it rather than through the four zero bytes
// written inline, so a label operand's symbol is recovered by matching the
// reloc whose Offset equals the position of its placeholder field. symbols
// resolves global register ids back to names; typeCtx resolves struct ids
// back to TypeInfo.
func Disassemble(data []byte, relocs []Reloc, symbols *symtab.Table, typeCtx *types.TypeContext) ([]*Insn, error) {
	buf := bytebuf.FromBytes(data)
	relocByOffset := make(map[int]symtab.Symbol, len(relocs))
	for _, r := range relocs {
		relocByOffset[r.Offset] = r.Symbol
	}
	var insns []*Insn
	for buf.Remaining() > 0 {
		insn, err := disassembleOne(buf, relocByOffset, symbols, typeCtx)
		if err != nil {
			return nil, err
		}
		insns = append(insns, insn)
	}
	return insns, nil
}

func disassembleOne(buf *bytebuf.Buf, relocs map[int]symtab.Symbol, symbols *symtab.Table, typeCtx *types.TypeContext) (*Insn, error) {
	header := buf.ReadU16LE()
	op, kinds, memKind := decodeHeader(header)
	sig, ok := SignatureOf(op)
	if !ok {
		return nil, diag.Validationf("malformed instruction stream: unknown opcode %d", int(op))
	}
	insn := &Insn{Op: op}
	if sig.HasType {
		k := types.Kind(buf.ReadU8())
		if k == types.Struct {
			id := disassemble60(buf)
			insn.Type = types.Type{Kind: types.Struct, ID: int(id)}
		} else {
			insn.Type = types.Prim(k)
		}
	}
	for i, pk := range kinds {
		if pk == pkNone {
			if i >= sig.NumParams {
				continue
			}
			pk = pkMem
		}
		param, err := disassembleParam(buf, pk, memKind, relocs, symbols, typeCtx)
		if err != nil {
			return nil, err
		}
		insn.Params = append(insn.Params, param)
	}
	return insn, nil
}

func disassembleParam(buf *bytebuf.Buf, kind paramKind, memKind MemKind, relocs map[int]symtab.Symbol, symbols *symtab.Table, typeCtx *types.TypeContext) (Param, error) {
	switch kind {
	case pkReg:
		return RegParam{Reg: disassembleRegister(buf, symbols)}, nil
	case pkImm:
		return ImmParam{Value: int64(buf.ReadU64LE())}, nil
	case pkLabel:
		sym := disassembleLabelRef(buf, relocs)
		return LabelParam{Sym: sym}, nil
	case pkMem:
		m, err := disassembleMem(buf, memKind, relocs, symbols, typeCtx)
		if err != nil {
			return nil, err
		}
		return MemParam{Mem: m}, nil
	default:
		diag.Unreachable("unknown paramKind %d", int(kind))
		return nil, nil
	}
}

// disassembleLabelRef consumes the four-byte placeholder field (always
// zero on disk) and looks up the symbol that was referenced there via the
// accompanying Reloc slice.
func disassembleLabelRef(buf *bytebuf.Buf, relocs map[int]symtab.Symbol) symtab.Symbol {
	pos := buf.Len() - buf.Remaining()
	buf.ReadU32LE()
	return relocs[pos]
}

func disassembleMem(buf *bytebuf.Buf, memKind MemKind, relocs map[int]symtab.Symbol, symbols *symtab.Table, typeCtx *types.TypeContext) (Mem, error) {
	switch memKind {
	case MemRegOffset:
		base := disassembleRegister(buf, symbols)
		off := disassemble60(buf)
		return Mem{Kind: MemRegOffset, Base: base, Offset: off}, nil
	case MemLabelOffset:
		label := disassembleLabelRef(buf, relocs)
		off := disassemble60(buf)
		return Mem{Kind: MemLabelOffset, Label: label, Offset: off}, nil
	case MemRegField:
		base := disassembleRegister(buf, symbols)
		id := disassemble60(buf)
		field := buf.ReadCString()
		structTy, err := resolveStructType(typeCtx, int(id))
		if err != nil {
			return Mem{}, err
		}
		return Mem{Kind: MemRegField, Base: base, StructType: structTy, Field: field}, nil
	case MemLabelField:
		label := disassembleLabelRef(buf, relocs)
		id := disassemble60(buf)
		field := buf.ReadCString()
		structTy, err := resolveStructType(typeCtx, int(id))
		if err != nil {
			return Mem{}, err
		}
		return Mem{Kind: MemLabelField, Label: label, StructType: structTy, Field: field}, nil
	default:
		return Mem{}, diag.Validationf("malformed instruction stream: unknown memory operand kind %d", int(memKind))
	}
}

// resolveStructType reconstructs a struct Type handle from its serialised
// id. The id alone (without a name) is enough to round-trip field offset
// computation against the same TypeContext that produced it. A non-nil
// typeCtx bounds-checks id against the definitions it holds; a nil
// typeCtx skips that check, for callers that only need structural
// round-tripping.
func resolveStructType(typeCtx *types.TypeContext, id int) (types.Type, error) {
	if id < 0 {
		return types.Type{}, diag.Validationf("malformed instruction stream: negative struct type id")
	}
	if typeCtx != nil && id >= len(typeCtx.All()) {
		return types.Type{}, diag.Validationf("malformed instruction stream: struct type id %d out of range", id)
	}
	return types.Type{Kind: types.Struct, ID: id}, nil
}
