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
	"fmt"
	"strings"

	"jasmine/internal/types"
)

// Printer renders a []Insn back to the text IR grammar of spec §6, given
// the TypeContext needed to resolve struct type names in memory operands.
type Printer struct {
	Types *types.TypeContext
}

func NewPrinter(ctx *types.TypeContext) *Printer {
	return &Printer{Types: ctx}
}

// Print renders the full program: any struct typedefs first (in
// declaration order), then instructions.
func (p *Printer) Print(insns []*Insn) string {
	var b strings.Builder
	if p.Types != nil {
		for _, info := range p.Types.All() {
			b.WriteString(p.printTypedef(info))
			b.WriteString("\n")
		}
	}
	for _, insn := range insns {
		b.WriteString(p.PrintInsn(insn))
		b.WriteString("\n")
	}
	return b.String()
}

func (p *Printer) printTypedef(info *types.TypeInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "type %s {", info.Name)
	for i, m := range info.Members {
		if i > 0 {
			b.WriteString(", ")
		}
		if m.ElemSet {
			if m.Count == 1 {
				fmt.Fprintf(&b, "%s: %s", m.Name, m.Elem.Kind.String())
			} else {
				fmt.Fprintf(&b, "%s: %s*%d", m.Name, m.Elem.Kind.String(), m.Count)
			}
		} else {
			fmt.Fprintf(&b, "%s: %d", m.Name, m.Count)
		}
	}
	b.WriteString("}")
	return b.String()
}

// PrintInsn renders one instruction: `label: opcode type dest, src1, src2  ; comment`.
func (p *Printer) PrintInsn(insn *Insn) string {
	var b strings.Builder
	if insn.Label != nil {
		fmt.Fprintf(&b, "%s: ", insn.Label.Name)
	}
	b.WriteString(insn.Op.String())
	sig, _ := SignatureOf(insn.Op)
	if sig.HasType {
		fmt.Fprintf(&b, " %s", p.typeName(insn.Type))
	}
	for i, param := range insn.Params {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(" ")
		b.WriteString(p.printParam(param))
	}
	if insn.Comment != "" {
		fmt.Fprintf(&b, "  ; %s", insn.Comment)
	}
	return b.String()
}

func (p *Printer) printParam(param Param) string {
	switch v := param.(type) {
	case MemParam:
		return p.printMem(v.Mem)
	default:
		return param.String()
	}
}

// typeName renders a Type as the text grammar spells it: a Kind mnemonic
// for primitives, or the declared struct name for Type{Kind: Struct}
// (matching the `local`/`global` forms parseInsn accepts, and printMem's
// own struct-name resolution below).
func (p *Printer) typeName(t Type) string {
	if t.Kind != types.Struct {
		return t.Kind.String()
	}
	if p.Types != nil {
		if info := p.Types.Lookup(t); info != nil {
			return info.Name
		}
	}
	return fmt.Sprintf("T%d", t.ID)
}

func (p *Printer) printMem(m Mem) string {
	base := ""
	switch m.Kind {
	case MemRegOffset, MemRegField:
		base = Register{Global: m.Base.Global, ID: m.Base.ID, Sym: m.Base.Sym}.String()
	case MemLabelOffset, MemLabelField:
		base = m.Label.Name
	}
	switch m.Kind {
	case MemRegOffset, MemLabelOffset:
		sign := "+"
		off := m.Offset
		if off < 0 {
			sign = "-"
			off = -off
		}
		return fmt.Sprintf("[%s %s %d]", base, sign, off)
	case MemRegField, MemLabelField:
		name := fmt.Sprintf("T%d", m.StructType.ID)
		if p.Types != nil {
			if info := p.Types.Lookup(m.StructType); info != nil {
				name = info.Name
			}
		}
		return fmt.Sprintf("[%s + %s.%s]", base, name, m.Field)
	default:
		return "<bad-mem>"
	}
}
