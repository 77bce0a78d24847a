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

// Package frontend bridges the teacher's kept ast/compile/ssa front end
// into Jasmine IR, so that lexer/parser/HIR builder stay exercised by this
// toolchain's own pipeline rather than sit dead in the tree. It is
// explicitly a convenience adapter, not a re-specification of the source
// language: it covers scalar integer arithmetic, comparisons, structured
// control flow, and calls, and rejects struct/array/string/floating-point
// constructs with a clear diagnostic rather than silently mistranslating
// them.
package frontend

import (
	"fmt"

	"jasmine/ast"
	"jasmine/compile/ssa"
	"jasmine/internal/diag"
	"jasmine/internal/ir"
	"jasmine/internal/symtab"
	"jasmine/internal/types"
)

// Compile translates every non-builtin function declared in root into one
// flat Jasmine IR instruction stream, the shape object.Assemble and
// selector.Compile both expect (spec §4.6: functions are frame..ret spans
// discovered by scanning the stream, not nested containers).
func Compile(root *ast.PackageDecl, symbols *symtab.Table) ([]*ir.Insn, error) {
	var out []*ir.Insn
	for _, decl := range root.Func {
		fnDecl, ok := decl.(*ast.FuncDecl)
		if !ok || fnDecl.Builtin {
			continue
		}
		fn := ssa.Compile(fnDecl, false)
		insns, err := translateFunc(fn, fnDecl, symbols)
		if err != nil {
			return nil, diag.Validationf("function %s: %v", fnDecl.Name, err)
		}
		out = append(out, insns...)
	}
	return out, nil
}

// kindOf maps a source type to the Jasmine Kind used to represent it.
// Jasmine IR's `ret` always carries exactly one typed operand (spec §4.5's
// component table fixes OpRet at one parameter), so a void source function
// is given the placeholder kind I32 and returns a literal zero at every
// return site; there is no void Kind to express true void returns.
func kindOf(t *ast.Type) (types.Kind, error) {
	switch t.Kind {
	case ast.TypeInt, ast.TypeVoid:
		return types.I32, nil
	case ast.TypeLong:
		return types.I64, nil
	case ast.TypeShort:
		return types.I16, nil
	case ast.TypeChar:
		return types.I8, nil
	case ast.TypeBool:
		return types.I8, nil
	case ast.TypeByte:
		return types.U8, nil
	default:
		return 0, fmt.Errorf("unsupported source type %v (struct/array/string/floating-point are out of scope for this frontend)", t)
	}
}

func mapBinOp(op ssa.Op) (types.Opcode, bool) {
	switch op {
	case ssa.OpAdd:
		return types.OpAdd, true
	case ssa.OpSub:
		return types.OpSub, true
	case ssa.OpMul:
		return types.OpMul, true
	case ssa.OpDiv:
		return types.OpDiv, true
	case ssa.OpMod:
		return types.OpRem, true
	case ssa.OpAnd:
		return types.OpAnd, true
	case ssa.OpOr:
		return types.OpOr, true
	case ssa.OpXor:
		return types.OpXor, true
	case ssa.OpLShift:
		return types.OpSl, true
	case ssa.OpRShift:
		return types.OpSar, true
	case ssa.OpCmpLE:
		return types.OpCle, true
	case ssa.OpCmpLT:
		return types.OpCl, true
	case ssa.OpCmpGE:
		return types.OpCge, true
	case ssa.OpCmpGT:
		return types.OpCg, true
	case ssa.OpCmpEQ:
		return types.OpCeq, true
	case ssa.OpCmpNE:
		return types.OpCne, true
	default:
		return 0, false
	}
}

// translator carries the per-function state of the HIR-to-Jasmine-IR walk:
// the virtual register assigned to each HIR value, the Kind it was given,
// and the instruction stream built so far.
type translator struct {
	symbols *symtab.Table
	fnName  string

	next  uint64
	regs  map[*ssa.Value]ir.Register
	kinds map[*ssa.Value]types.Kind

	out          []*ir.Insn
	edges        []*ir.Insn
	pendingLabel *symtab.Symbol
}

func (t *translator) newReg() ir.Register {
	r := ir.Register{ID: t.next}
	t.next++
	return r
}

func (t *translator) emit(insn *ir.Insn) {
	if t.pendingLabel != nil {
		insn.Label = t.pendingLabel
		t.pendingLabel = nil
	}
	t.out = append(t.out, insn)
}

func translateFunc(fn *ssa.Func, decl *ast.FuncDecl, symbols *symtab.Table) ([]*ir.Insn, error) {
	t := &translator{
		symbols: symbols,
		fnName:  decl.Name,
		regs:    make(map[*ssa.Value]ir.Register),
		kinds:   make(map[*ssa.Value]types.Kind),
	}

	retKind, err := kindOf(decl.RetType)
	if err != nil {
		return nil, err
	}

	// Phi values need their register assigned up front: a phi's "def" is
	// realized as a set of moves along each incoming edge, never as an
	// instruction inside the block that owns it, and a loop back-edge can
	// reference a phi before that owning block is ever visited.
	blockLabels := make(map[int]symtab.Symbol, len(fn.Blocks))
	for _, block := range fn.Blocks {
		if block != fn.Entry {
			blockLabels[block.Id] = symbols.Intern(fmt.Sprintf("%s$b%d", decl.Name, block.Id), symtab.Local)
		}
		for _, v := range block.Values {
			if v.Op != ssa.OpPhi {
				continue
			}
			k, err := kindOf(v.Type)
			if err != nil {
				return nil, err
			}
			t.regs[v] = t.newReg()
			t.kinds[v] = k
		}
	}

	fnSym := symbols.Intern(decl.Name, symtab.Global)
	t.out = append(t.out, &ir.Insn{Label: &fnSym, Op: types.OpFrame})

	returnBlocks := 0
	for _, block := range fn.Blocks {
		if block.Kind == ssa.BlockReturn {
			returnBlocks++
		}
	}
	singleExit := returnBlocks <= 1

	var retReg ir.Register
	var exitSym symtab.Symbol
	if !singleExit {
		exitSym = symbols.Intern(fmt.Sprintf("%s$exit", decl.Name), symtab.Local)
		retReg = t.newReg()
	}

	for _, block := range fn.Blocks {
		if err := t.translateBlock(block, fn, retKind, singleExit, retReg, exitSym, blockLabels); err != nil {
			return nil, err
		}
	}
	t.out = append(t.out, t.edges...)

	if !singleExit {
		t.out = append(t.out, &ir.Insn{
			Label: &exitSym, Op: types.OpRet, Type: types.Prim(retKind),
			Params: []ir.Param{ir.RegParam{Reg: retReg}},
		})
	}

	return t.out, nil
}

func (t *translator) translateBlock(block *ssa.Block, fn *ssa.Func, retKind types.Kind, singleExit bool, retReg ir.Register, exitSym symtab.Symbol, blockLabels map[int]symtab.Symbol) error {
	t.pendingLabel = nil
	if block != fn.Entry {
		sym := blockLabels[block.Id]
		t.pendingLabel = &sym
	}

	for _, v := range block.Values {
		if v.Op == ssa.OpPhi {
			continue
		}
		if err := t.translateValue(v); err != nil {
			return err
		}
	}

	switch block.Kind {
	case ssa.BlockGoto:
		target, err := t.resolveEdge(block, block.Succs[0], blockLabels)
		if err != nil {
			return err
		}
		t.emit(&ir.Insn{Op: types.OpJump, Params: []ir.Param{ir.LabelParam{Sym: target}}})
	case ssa.BlockIf:
		condKind, err := kindOf(block.Ctrl.Type)
		if err != nil {
			return err
		}
		cond := t.regs[block.Ctrl]
		thenTarget, err := t.resolveEdge(block, block.Succs[0], blockLabels)
		if err != nil {
			return err
		}
		elseTarget, err := t.resolveEdge(block, block.Succs[1], blockLabels)
		if err != nil {
			return err
		}
		t.emit(&ir.Insn{
			Op: types.OpJne, Type: types.Prim(condKind),
			Params: []ir.Param{ir.LabelParam{Sym: thenTarget}, ir.RegParam{Reg: cond}, ir.ImmParam{Value: 0}},
		})
		t.emit(&ir.Insn{Op: types.OpJump, Params: []ir.Param{ir.LabelParam{Sym: elseTarget}}})
	case ssa.BlockReturn:
		var retParam ir.Param
		if block.Ctrl != nil {
			retParam = ir.RegParam{Reg: t.regs[block.Ctrl]}
		} else {
			retParam = ir.ImmParam{Value: 0}
		}
		if singleExit {
			t.emit(&ir.Insn{Op: types.OpRet, Type: types.Prim(retKind), Params: []ir.Param{retParam}})
		} else {
			t.emit(&ir.Insn{Op: types.OpMov, Type: types.Prim(retKind), Params: []ir.Param{ir.RegParam{Reg: retReg}, retParam}})
			t.emit(&ir.Insn{Op: types.OpJump, Params: []ir.Param{ir.LabelParam{Sym: exitSym}}})
		}
	default:
		return diag.Validationf("unsupported block kind %v", block.Kind)
	}
	return nil
}

// resolveEdge returns the label a jump/branch from "from" to "to" should
// target. When "to" defines no phis, that's simply to's own block label;
// otherwise the two blocks share a critical edge that needs its own
// trampoline (a label, the phi-resolving moves for this predecessor, then
// an unconditional jump to "to") since a conditional branch's two outgoing
// edges can each need different moves and there is nowhere to put two
// different move sequences ahead of one shared jcc.
func (t *translator) resolveEdge(from, to *ssa.Block, blockLabels map[int]symtab.Symbol) (symtab.Symbol, error) {
	var phis []*ssa.Value
	for _, v := range to.Values {
		if v.Op == ssa.OpPhi {
			phis = append(phis, v)
		}
	}
	if len(phis) == 0 {
		return blockLabels[to.Id], nil
	}

	predIdx := -1
	for idx, p := range to.Preds {
		if p == from {
			predIdx = idx
			break
		}
	}
	diag.Assert(predIdx >= 0, "resolveEdge: block %d is not a predecessor of block %d", from.Id, to.Id)

	edgeSym := t.symbols.Intern(fmt.Sprintf("%s$e%d_%d", t.fnName, from.Id, to.Id), symtab.Local)
	first := true
	for _, phi := range phis {
		kind := t.kinds[phi]
		arg := phi.Args[predIdx]
		insn := &ir.Insn{
			Op: types.OpMov, Type: types.Prim(kind),
			Params: []ir.Param{ir.RegParam{Reg: t.regs[phi]}, ir.RegParam{Reg: t.regs[arg]}},
		}
		if first {
			insn.Label = &edgeSym
			first = false
		}
		t.edges = append(t.edges, insn)
	}
	t.edges = append(t.edges, &ir.Insn{Op: types.OpJump, Params: []ir.Param{ir.LabelParam{Sym: blockLabels[to.Id]}}})
	return edgeSym, nil
}

func (t *translator) translateValue(v *ssa.Value) error {
	switch v.Op {
	case ssa.OpParam:
		return t.translateParam(v)
	case ssa.OpCInt:
		return t.translateIntConst(v)
	case ssa.OpCBool:
		return t.translateBoolConst(v)
	case ssa.OpCall:
		return t.translateCall(v)
	case ssa.OpNot:
		return t.translateNot(v)
	case ssa.OpCopy:
		return t.translateCopy(v)
	default:
		if op, ok := mapBinOp(v.Op); ok {
			return t.translateBinOp(v, op)
		}
		return diag.Validationf("%v is not supported by the Jasmine-IR frontend (struct/array/string/floating-point operations are out of scope)", v.Op)
	}
}

func (t *translator) translateParam(v *ssa.Value) error {
	kind, err := kindOf(v.Type)
	if err != nil {
		return err
	}
	dst := t.newReg()
	ordinal := v.Sym.(int)
	t.emit(&ir.Insn{
		Op: types.OpParam, Type: types.Prim(kind),
		Params: []ir.Param{ir.RegParam{Reg: dst}, ir.ImmParam{Value: int64(ordinal)}},
	})
	t.regs[v], t.kinds[v] = dst, kind
	return nil
}

func (t *translator) translateIntConst(v *ssa.Value) error {
	kind, err := kindOf(v.Type)
	if err != nil {
		return err
	}
	dst := t.newReg()
	t.emit(&ir.Insn{
		Op: types.OpMov, Type: types.Prim(kind),
		Params: []ir.Param{ir.RegParam{Reg: dst}, ir.ImmParam{Value: int64(v.Sym.(int))}},
	})
	t.regs[v], t.kinds[v] = dst, kind
	return nil
}

func (t *translator) translateBoolConst(v *ssa.Value) error {
	kind, err := kindOf(v.Type)
	if err != nil {
		return err
	}
	var lit int64
	if v.Sym.(bool) {
		lit = 1
	}
	dst := t.newReg()
	t.emit(&ir.Insn{
		Op: types.OpMov, Type: types.Prim(kind),
		Params: []ir.Param{ir.RegParam{Reg: dst}, ir.ImmParam{Value: lit}},
	})
	t.regs[v], t.kinds[v] = dst, kind
	return nil
}

func (t *translator) translateCall(v *ssa.Value) error {
	kind, err := kindOf(v.Type)
	if err != nil {
		return err
	}
	dst := t.newReg()
	callee := t.symbols.Intern(v.Sym.(string), symtab.Global)
	params := make([]ir.Param, 0, 2+len(v.Args))
	params = append(params, ir.RegParam{Reg: dst}, ir.LabelParam{Sym: callee})
	for _, arg := range v.Args {
		params = append(params, ir.RegParam{Reg: t.regs[arg]})
	}
	t.emit(&ir.Insn{Op: types.OpCall, Type: types.Prim(kind), Params: params})
	t.regs[v], t.kinds[v] = dst, kind
	return nil
}

// translateNot lowers HIR's 1-argument bitwise-not into Jasmine's 2-operand
// `not dst, src`. internal/select's lowerNot expects dst and src to already
// name the same virtual register (OpNot is not classified destructive, so
// the allocator never treats Params[0] alone as a def) — a copy into a
// fresh register first gives that register a proper def before not reuses
// it as both operands.
func (t *translator) translateNot(v *ssa.Value) error {
	kind, err := kindOf(v.Type)
	if err != nil {
		return err
	}
	src := t.regs[v.Args[0]]
	tmp := t.newReg()
	t.emit(&ir.Insn{Op: types.OpMov, Type: types.Prim(kind), Params: []ir.Param{ir.RegParam{Reg: tmp}, ir.RegParam{Reg: src}}})
	t.emit(&ir.Insn{Op: types.OpNot, Type: types.Prim(kind), Params: []ir.Param{ir.RegParam{Reg: tmp}, ir.RegParam{Reg: tmp}}})
	t.regs[v], t.kinds[v] = tmp, kind
	return nil
}

func (t *translator) translateCopy(v *ssa.Value) error {
	kind, err := kindOf(v.Type)
	if err != nil {
		return err
	}
	dst := t.newReg()
	src := t.regs[v.Args[0]]
	t.emit(&ir.Insn{Op: types.OpMov, Type: types.Prim(kind), Params: []ir.Param{ir.RegParam{Reg: dst}, ir.RegParam{Reg: src}}})
	t.regs[v], t.kinds[v] = dst, kind
	return nil
}

func (t *translator) translateBinOp(v *ssa.Value, op types.Opcode) error {
	kind, err := kindOf(v.Type)
	if err != nil {
		return err
	}
	dst := t.newReg()
	lhs := t.regs[v.Args[0]]
	rhs := t.regs[v.Args[1]]
	t.emit(&ir.Insn{
		Op: op, Type: types.Prim(kind),
		Params: []ir.Param{ir.RegParam{Reg: dst}, ir.RegParam{Reg: lhs}, ir.RegParam{Reg: rhs}},
	})
	t.regs[v], t.kinds[v] = dst, kind
	return nil
}
