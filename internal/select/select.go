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

// Package select implements spec §4.8: the instruction selector bridging
// internal/regalloc's physical-location assignments to internal/x64's
// binary encoders, applying the peephole rules spec §4.8 lists (zero/
// one/negative-one/power-of-two arithmetic identities, lea-based
// address-style adds, memory-to-memory move splitting, caller-saved
// reconciliation around calls) and writing the result into an
// internal/object.Object. Grounded on the teacher's compile/codegen/
// lower_x86.go, generalized from falcon's SSA-to-LIR-to-text-assembly
// pipeline to Jasmine IR-to-native-machine-code, since this toolchain's
// Object stores executable bytes directly rather than shelling out to an
// external assembler.
package selector

import (
	"jasmine/internal/diag"
	"jasmine/internal/ir"
	"jasmine/internal/object"
	"jasmine/internal/regalloc"
	"jasmine/internal/symtab"
	"jasmine/internal/target"
	"jasmine/internal/types"
	"jasmine/internal/x64"
)

// Compile lowers a flat Jasmine IR instruction stream into a native
// Object for tgt, matching object.Compiler's signature so it can be
// handed directly to Object.Retarget by cmd/jasmine's `-R` path.
func Compile(insns []*ir.Insn, typeCtx *types.TypeContext, tgt target.Target) (*object.Object, error) {
	obj := object.NewWithTypes(tgt, symtab.Global(), typeCtx)

	fns := regalloc.DiscoverFunctions(insns)
	inFunc := make([]bool, len(insns))
	for _, fn := range fns {
		for i := fn.Start; i <= fn.End; i++ {
			inFunc[i] = true
		}
	}

	for i, insn := range insns {
		if inFunc[i] {
			continue
		}
		if err := lowerTopLevel(obj, insn); err != nil {
			return nil, diag.IOf(err, "instruction %d", i)
		}
	}

	for idx := range fns {
		fn := fns[idx]
		alloc := regalloc.Allocate(&fn, tgt)
		s := &selector{obj: obj, fn: &fn, alloc: alloc, tgt: tgt}
		if err := s.run(); err != nil {
			return nil, err
		}
	}

	return obj, nil
}

// lowerTopLevel handles the four opcodes DiscoverFunctions leaves outside
// any frame..ret span: struct declarations (already folded into typeCtx
// by whatever produced this instruction stream, so there is nothing left
// to emit), globals, and data/static literal bytes.
func lowerTopLevel(obj *object.Object, insn *ir.Insn) error {
	switch insn.Op {
	case types.OpType:
		// struct layouts live in the TypeContext Compile was handed, not
		// in the instruction stream itself; nothing to emit.
		return nil
	case types.OpGlobal:
		return lowerGlobal(obj, insn)
	case types.OpLit:
		return lowerLiteralByte(obj, insn, object.Data)
	case types.OpStat:
		return lowerLiteralByte(obj, insn, object.Static)
	default:
		diag.Panicf("opcode %v outside any function frame", insn.Op)
		return nil
	}
}

func lowerGlobal(obj *object.Object, insn *ir.Insn) error {
	label, ok := insn.Params[0].(ir.LabelParam)
	if !ok {
		return diag.Validationf("global: operand must be a label, got %T", insn.Params[0])
	}
	obj.Define(label.Sym, object.Data)
	obj.Write(object.Data, make([]byte, insn.Type.Kind.Size()))
	return nil
}

func lowerLiteralByte(obj *object.Object, insn *ir.Insn, section object.Section) error {
	imm, ok := insn.Params[0].(ir.ImmParam)
	if !ok {
		return diag.Validationf("lit/stat: operand must be an immediate byte, got %T", insn.Params[0])
	}
	if insn.Label != nil {
		obj.Define(*insn.Label, section)
	}
	obj.Write(section, []byte{byte(imm.Value)})
	return nil
}

// selector lowers one discovered Function: it tracks the running frame
// layout (spill slots from the allocator plus `local` declarations) and
// drives the per-instruction peephole dispatch.
type selector struct {
	obj   *object.Object
	fn    *regalloc.Function
	alloc *regalloc.Allocation
	tgt   target.Target

	localsTotal  int
	localsCursor int
	frameSize    int
}

// run lowers every instruction of s.fn in order, applying label
// definitions (with 8-byte alignment padding per spec §4.8), pending
// reconciliation moves, and the opcode dispatch.
func (s *selector) run() error {
	s.localsTotal = totalLocalsBytes(s.fn, s.obj, s.tgt)
	s.frameSize = target.Align16(s.alloc.FrameSize + s.localsTotal)

	for i, insn := range s.fn.Insns {
		if insn.Label != nil {
			s.alignTo8()
			s.obj.Define(*insn.Label, object.Code)
		}
		for _, mv := range s.alloc.MovesAt(i) {
			if err := s.emitMove(mv); err != nil {
				return diag.IOf(err, "reconciling live range before instruction %d", i)
			}
		}
		if err := s.lowerInsn(i, insn); err != nil {
			return diag.IOf(err, "instruction %d (%v)", i, insn.Op)
		}
	}
	return nil
}

// totalLocalsBytes sums every `local` declaration's struct size ahead of
// time, since the prologue must reserve stack space before any
// instruction runs.
func totalLocalsBytes(fn *regalloc.Function, obj *object.Object, tgt target.Target) int {
	total := 0
	for _, insn := range fn.Insns {
		if insn.Op == types.OpLocal {
			total += localSize(obj, tgt, insn.Type)
		}
	}
	return total
}

func localSize(obj *object.Object, tgt target.Target, t types.Type) int {
	if t.Kind == types.Struct {
		return tgt.Sizeof(obj.Types().Lookup(t))
	}
	return t.Kind.Size()
}

// alignTo8 pads the code section with single-byte nops up to the next
// 8-byte boundary, spec §4.8's branch-target alignment rule. Writing a
// zero-length slice returns the current offset without mutating the
// section, the cheapest way to ask the Object "where am I".
func (s *selector) alignTo8() {
	off := s.obj.Write(object.Code, nil)
	for off%8 != 0 {
		s.put(x64.Nop(), nil)
		off++
	}
}

// put appends an already-encoded instruction with no outstanding
// relocation. Every x64 encoder that can legitimately carry a Reloc at
// this call site is routed through emitReloc instead, so this asserts
// the common case holds.
func (s *selector) put(inst x64.Inst, err error) error {
	if err != nil {
		return err
	}
	diag.Assert(inst.Reloc == nil, "put called on an instruction with an unresolved relocation")
	s.obj.Write(object.Code, inst.Bytes)
	return nil
}

// emitReloc writes an instruction whose tail carries a Reloc, splitting
// the write so Object.Reference is called with its cursor positioned at
// exactly the relocation field's first byte, per Reference's "records at
// the section's current write cursor" contract.
func (s *selector) emitReloc(inst x64.Inst, sym symtab.Symbol) {
	diag.Assert(inst.Reloc != nil, "emitReloc called on an instruction with no relocation")
	kind, fieldOffset := mapRelocKind(inst.Reloc.Kind)
	prefix := inst.Bytes[:inst.Reloc.Offset]
	field := inst.Bytes[inst.Reloc.Offset:]
	s.obj.Write(object.Code, prefix)
	s.obj.Reference(sym, object.Code, kind, fieldOffset)
	s.obj.Write(object.Code, field)
}

// mapRelocKind translates internal/x64's address-kind-agnostic RelocKind
// into internal/object's RefKind plus the FieldOffset x86-64's
// RIP-relative addressing requires: the displacement is measured from
// the address of the *next* instruction, i.e. 4 bytes past the start of
// a disp32 field that is always the last 4 bytes of the instruction.
func mapRelocKind(k x64.RelocKind) (object.RefKind, int8) {
	switch k {
	case x64.RelRIP32:
		return object.REL32LE, -4
	case x64.RelAbs64:
		return object.ABS64LE, 0
	default:
		diag.Unreachable("unknown x64.RelocKind %d", int(k))
		return 0, 0
	}
}

func kindSize(k types.Kind) x64.Size {
	switch k.Size() {
	case 1:
		return x64.Size8
	case 2:
		return x64.Size16
	case 4:
		return x64.Size32
	case 8:
		return x64.Size64
	default:
		diag.Unreachable("kindSize: unsupported size %d for kind %v", k.Size(), k)
		return x64.SizeAuto
	}
}

// registerSize returns the physical width backing a virtual register of
// kind k, as opposed to kindSize's declared operand width for a scalar
// instruction. A struct-by-value parameter's register (lowerStructParam)
// or local's register (lowerLocal) never holds the struct's bytes
// directly — only a pointer to them, produced by `lea` — so it is always
// pointer-width regardless of the struct's own size, unlike kindSize(k),
// which has no well-defined answer for Struct (Kind.Size() deliberately
// panics there: a struct's size depends on its TypeContext layout, not
// the bare Kind enum). Used by regalloc's clobber-reconciliation moves
// (emitMove), the one other place a Struct-kind live range's register
// gets physically moved.
func registerSize(k types.Kind) x64.Size {
	if k == types.Struct {
		return x64.Size64
	}
	return kindSize(k)
}

// locArg converts an allocator Location into an x64.Arg at the given
// width.
func (s *selector) locArg(loc target.Location, sz x64.Size) x64.Arg {
	switch loc.Kind {
	case target.LocRegister:
		return x64.Reg{Phys: loc.Reg, Sz: sz}
	case target.LocStackSlot:
		return x64.Mem{HasBase: true, Base: target.RBP, Disp: int32(loc.Offset), Sz: sz}
	case target.LocPushedR2L, target.LocPushedL2R:
		// a parameter passed on the caller's stack sits above the saved
		// return address and frame pointer: [rbp+16+offset].
		return x64.Mem{HasBase: true, Base: target.RBP, Disp: int32(16 + loc.Offset), Sz: sz}
	default:
		diag.Unreachable("locArg: unplaced location")
		return nil
	}
}

// operand resolves a source Param to an x64.Arg at the given width,
// materializing label-valued operands (global registers and bare
// LabelParam references) via `lea scratch, [rip+0]` plus a relocation,
// since x64.Mem's RIP-relative form cannot simultaneously carry a
// symbol-relative addend and an independent constant field offset —
// deliberately simpler than generalizing Mem further for a case Jasmine
// only needs once per operand.
func (s *selector) operand(i int, p ir.Param, sz x64.Size) x64.Arg {
	switch v := p.(type) {
	case ir.RegParam:
		if v.Reg.Global {
			return s.materializeLabel(v.Reg.Sym, sz)
		}
		loc, ok := s.alloc.LocationIn(i, v.Reg.ID)
		diag.Assert(ok, "no input location for register %%%d at instruction %d", v.Reg.ID, i)
		return s.locArg(loc, sz)
	case ir.ImmParam:
		return x64.Imm{Value: v.Value, Sz: sz}
	case ir.LabelParam:
		return s.materializeLabel(v.Sym, sz)
	case ir.MemParam:
		return s.mem(i, v.Mem, sz)
	default:
		diag.Unreachable("operand: unknown Param %T", p)
		return nil
	}
}

// destArg resolves an instruction's first parameter as a write target:
// the allocator's freshly-assigned output location for a register
// destination, or a resolved memory operand for an in-place write.
func (s *selector) destArg(i int, insn *ir.Insn, sz x64.Size) x64.Arg {
	switch p := insn.Params[0].(type) {
	case ir.RegParam:
		loc, ok := s.alloc.LocationOut(i, p.Reg.ID)
		diag.Assert(ok, "no output location for register %%%d at instruction %d", p.Reg.ID, i)
		return s.locArg(loc, sz)
	case ir.MemParam:
		return s.mem(i, p.Mem, sz)
	default:
		diag.Unreachable("destArg: unexpected destination Param %T", p)
		return nil
	}
}

// materializeLabel loads a symbol's address into the scratch register
// via a RIP-relative lea, registers the corresponding relocation, and
// returns the scratch register sized for a subsequent load/store through
// it — e.g. `mov dst, [scratch]` for a global register's current value.
func (s *selector) materializeLabel(sym symtab.Symbol, sz x64.Size) x64.Arg {
	scratch := x64.Reg{Phys: s.tgt.ScratchRegister(target.ClassInt), Sz: x64.Size64}
	lea, err := x64.Lea(scratch, x64.Mem{RIPRelative: true, Sz: x64.Size64})
	diag.Assert(err == nil, "materializeLabel: lea encode error: %v", err)
	s.emitReloc(lea, sym)
	return x64.Mem{HasBase: true, Base: scratch.Phys, Sz: sz}
}

// mem resolves a Jasmine Mem operand to an x64.Mem, computing struct
// field byte offsets against the target's layout and routing label-based
// addressing through the scratch register the same way materializeLabel
// does for bare label operands.
func (s *selector) mem(i int, m ir.Mem, sz x64.Size) x64.Arg {
	switch m.Kind {
	case ir.MemRegOffset:
		base := s.baseReg(i, m.Base)
		return x64.Mem{HasBase: true, Base: base, Disp: int32(m.Offset), Sz: sz}
	case ir.MemRegField:
		base := s.baseReg(i, m.Base)
		off := s.fieldOffset(m.StructType, m.Field)
		return x64.Mem{HasBase: true, Base: base, Disp: int32(off), Sz: sz}
	case ir.MemLabelOffset:
		scratch := s.tgt.ScratchRegister(target.ClassInt)
		lea, err := x64.Lea(x64.Reg{Phys: scratch, Sz: x64.Size64}, x64.Mem{RIPRelative: true, Sz: x64.Size64})
		diag.Assert(err == nil, "mem: lea encode error: %v", err)
		s.emitReloc(lea, m.Label)
		return x64.Mem{HasBase: true, Base: scratch, Disp: int32(m.Offset), Sz: sz}
	case ir.MemLabelField:
		scratch := s.tgt.ScratchRegister(target.ClassInt)
		lea, err := x64.Lea(x64.Reg{Phys: scratch, Sz: x64.Size64}, x64.Mem{RIPRelative: true, Sz: x64.Size64})
		diag.Assert(err == nil, "mem: lea encode error: %v", err)
		s.emitReloc(lea, m.Label)
		off := s.fieldOffset(m.StructType, m.Field)
		return x64.Mem{HasBase: true, Base: scratch, Disp: int32(off), Sz: sz}
	default:
		diag.Unreachable("mem: unknown MemKind %d", int(m.Kind))
		return nil
	}
}

func (s *selector) baseReg(i int, r ir.Register) target.PhysReg {
	if r.Global {
		// a global-register base is itself a label reference: materialize
		// its address into the scratch register and use that as the base.
		arg := s.materializeLabel(r.Sym, x64.Size64)
		return arg.(x64.Mem).Base
	}
	loc, ok := s.alloc.LocationIn(i, r.ID)
	diag.Assert(ok, "no input location for base register %%%d at instruction %d", r.ID, i)
	diag.Assert(loc.Kind == target.LocRegister, "memory operand base %%%d is spilled; spilled bases are not yet supported", r.ID)
	return loc.Reg
}

func (s *selector) fieldOffset(t types.Type, field string) int {
	info := s.obj.Types().Lookup(t)
	idx, ok := info.FieldIndex(field)
	diag.Assert(ok, "unknown field %q on struct %q", field, info.Name)
	return s.tgt.Layout(info)[idx]
}

// argsEqual reports whether two x64.Arg values name the same physical
// register, the condition under which a peephole elides a move entirely.
func argsEqual(a, b x64.Arg) bool {
	ra, aok := a.(x64.Reg)
	rb, bok := b.(x64.Reg)
	return aok && bok && ra.Phys.Index == rb.Phys.Index && ra.Phys.Class == rb.Phys.Class
}

// movIfDiffer emits `mov dst, src` unless they already name the same
// register, the "elided if same" half of spec §4.8's zero-immediate add
// peephole and the general destructive-op dst==src1 convention.
func (s *selector) movIfDiffer(dst, src x64.Arg) error {
	if argsEqual(dst, src) {
		return nil
	}
	return s.movArgs(dst, src)
}

// movArgs emits a move from src to dst, splitting a forbidden
// memory-to-memory move through the scratch register via push/pop per
// spec §4.8's explicit rule, rather than a plain mov (which internal/x64
// rejects outright for that operand combination).
func (s *selector) movArgs(dst, src x64.Arg) error {
	_, dstMem := dst.(x64.Mem)
	_, srcMem := src.(x64.Mem)
	if dstMem && srcMem {
		push, err := x64.Push(src)
		if err != nil {
			return err
		}
		if err := s.put(push, nil); err != nil {
			return err
		}
		pop, err := x64.Pop(dst)
		if err != nil {
			return err
		}
		return s.put(pop, nil)
	}
	mov, err := x64.Mov(dst, src)
	return s.put(mov, err)
}

// emitMove lowers one regalloc.Move — a clobber-driven reallocation's
// required reconciliation copy — via the same movArgs machinery used for
// ordinary IR-level moves.
func (s *selector) emitMove(mv regalloc.Move) error {
	sz := registerSize(mv.Kind)
	return s.movArgs(s.locArg(mv.To, sz), s.locArg(mv.From, sz))
}
