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
	"strconv"

	"jasmine/internal/diag"
	"jasmine/internal/symtab"
	"jasmine/internal/types"
)

// Parser is a two-token-lookahead recursive-descent parser for the text
// IR grammar of spec §6, generalizing the teacher's ast.Parser
// (consume/lookNext/guarantee) shape to this grammar's smaller
// vocabulary. Unlike the teacher, which calls os.Exit on a syntax error,
// this parser returns a class-1 diag.Error so callers (tests, the CLI)
// decide how to report it.
type Parser struct {
	lex        *lexer
	tok        TokenKind
	lexeme     string
	nextTok    TokenKind
	nextLexeme string
	haveNext   bool

	symbols *symtab.Table
	types   *types.TypeContext
}

// NewParser returns a parser reading src, interning symbols into symbols
// and struct types into typeCtx.
func NewParser(src string, symbols *symtab.Table, typeCtx *types.TypeContext) *Parser {
	p := &Parser{lex: newLexer(src), symbols: symbols, types: typeCtx}
	p.consume()
	return p
}

func (p *Parser) consume() {
	if p.haveNext {
		p.tok, p.lexeme = p.nextTok, p.nextLexeme
		p.haveNext = false
		return
	}
	p.tok, p.lexeme = p.lex.next()
}

func (p *Parser) peekNext() (TokenKind, string) {
	if !p.haveNext {
		p.nextTok, p.nextLexeme = p.lex.next()
		p.haveNext = true
	}
	return p.nextTok, p.nextLexeme
}

func (p *Parser) expect(k TokenKind, what string) (string, error) {
	if p.tok != k {
		return "", diag.Validationf("expected %s, got %q", what, p.lexeme)
	}
	lexeme := p.lexeme
	p.consume()
	return lexeme, nil
}

// Parse consumes the whole program: interleaved typedefs and
// instructions, per the grammar `program := { insn | typedef }*`.
func (p *Parser) Parse() ([]*Insn, error) {
	var insns []*Insn
	for p.tok != TokEOF {
		if p.tok == TokIdent && p.lexeme == "type" {
			if err := p.parseTypedef(); err != nil {
				return nil, err
			}
			continue
		}
		insn, err := p.parseInsn()
		if err != nil {
			return nil, err
		}
		insns = append(insns, insn)
	}
	return insns, nil
}

func (p *Parser) parseTypedef() error {
	p.consume() // "type"
	name, err := p.expect(TokIdent, "type name")
	if err != nil {
		return err
	}
	if _, err := p.expect(TokLBrace, "{"); err != nil {
		return err
	}
	var members []types.Member
	for p.tok != TokRBrace {
		m, err := p.parseMember()
		if err != nil {
			return err
		}
		members = append(members, m)
		if p.tok == TokComma {
			p.consume()
		}
	}
	if _, err := p.expect(TokRBrace, "}"); err != nil {
		return err
	}
	if _, ok := p.types.Define(&types.TypeInfo{Name: name, Members: members}); !ok {
		return diag.Validationf("duplicate type definition: %s", name)
	}
	return nil
}

func (p *Parser) parseMember() (types.Member, error) {
	name, err := p.expect(TokIdent, "member name")
	if err != nil {
		return types.Member{}, err
	}
	if _, err := p.expect(TokColon, ":"); err != nil {
		return types.Member{}, err
	}
	if p.tok == TokInt {
		n, _ := strconv.Atoi(p.lexeme)
		p.consume()
		return types.Member{Name: name, Count: n}, nil
	}
	kindName, err := p.expect(TokIdent, "type name or byte count")
	if err != nil {
		return types.Member{}, err
	}
	k, ok := types.ParseKind(kindName)
	if !ok {
		return types.Member{}, diag.Validationf("unknown typename: %s", kindName)
	}
	count := 1
	if p.tok == TokStar {
		p.consume()
		n, err := p.expect(TokInt, "array count")
		if err != nil {
			return types.Member{}, err
		}
		count, _ = strconv.Atoi(n)
	}
	return types.Member{Name: name, Count: count, Elem: types.Prim(k), ElemSet: true}, nil
}

func (p *Parser) parseInsn() (*Insn, error) {
	var label *symtab.Symbol
	if p.tok == TokIdent {
		if nk, _ := p.peekNext(); nk == TokColon {
			sym := p.symbols.Intern(p.lexeme, symtab.Local)
			label = &sym
			p.consume() // ident
			p.consume() // :
		}
	}
	if p.tok != TokIdent {
		return nil, diag.Validationf("expected opcode, got %q", p.lexeme)
	}
	opName := p.lexeme
	op, ok := types.ParseOpcode(opName)
	if !ok {
		return nil, diag.Validationf("unknown opcode: %s", opName)
	}
	p.consume()

	sig, _ := SignatureOf(op)
	insn := &Insn{Label: label, Op: op}

	if op == types.OpType {
		// top-level `type` forms are consumed by parseTypedef; reaching
		// here means a stray "type" mnemonic collided with an opcode,
		// which cannot happen given the grammar's disjoint prefixes, but
		// guard anyway per spec §7 class-2 (internal invariant).
		diag.Unreachable("parseInsn reached OpType")
	}

	if sig.HasType {
		kindName, err := p.expect(TokIdent, "type")
		if err != nil {
			return nil, err
		}
		if k, ok := types.ParseKind(kindName); ok {
			insn.Type = types.Prim(k)
		} else if structTy, _, ok := p.types.LookupByName(kindName); ok {
			// `local`/`global` of a struct type names it directly (spec
			// §8 scenario 4: `local Pair %0`), rather than one of the
			// primitive Kind mnemonics ParseKind recognizes.
			insn.Type = structTy
		} else {
			return nil, diag.Validationf("unknown typename: %s", kindName)
		}
	}

	// sig.NumParams == 0 (only `frame`) must not attempt to read a first
	// argument at all: an identifier immediately following it is the next
	// instruction's label or opcode, not an operand of this one. Every
	// other arity (fixed >=1, or variadic -1 for `call`) does expect a
	// first argument here. Further arguments are comma-gated below, except
	// that a label operand may be followed directly by a non-identifier
	// operand (`jeq i64 end %0, 10`); an identifier after a label starts
	// the next instruction.
	if sig.NumParams != 0 {
		for p.tok != TokEOF && p.tokStartsArg() {
			arg, err := p.parseArg()
			if err != nil {
				return nil, err
			}
			insn.Params = append(insn.Params, arg)
			if p.tok == TokComma {
				p.consume()
				continue
			}
			if _, isLabel := arg.(LabelParam); isLabel && p.tok != TokIdent &&
				(sig.NumParams < 0 || len(insn.Params) < sig.NumParams) {
				continue
			}
			break
		}
	}

	if sig.NumParams >= 0 && len(insn.Params) != sig.NumParams {
		return nil, diag.Validationf("opcode %s expects %d operands, got %d", opName, sig.NumParams, len(insn.Params))
	}
	return insn, nil
}

func (p *Parser) tokStartsArg() bool {
	switch p.tok {
	case TokPercent, TokMinus, TokInt, TokLBracket, TokIdent:
		return true
	default:
		return false
	}
}

func (p *Parser) parseArg() (Param, error) {
	switch p.tok {
	case TokPercent:
		return p.parseReg()
	case TokMinus, TokInt:
		return p.parseImm()
	case TokLBracket:
		return p.parseMem()
	case TokIdent:
		sym := p.symbols.Intern(p.lexeme, symtab.Global)
		p.consume()
		return LabelParam{Sym: sym}, nil
	default:
		return nil, diag.Validationf("unexpected token in operand position: %q", p.lexeme)
	}
}

func (p *Parser) parseReg() (Param, error) {
	p.consume() // %
	if p.tok == TokInt {
		n, _ := strconv.ParseUint(p.lexeme, 10, 64)
		p.consume()
		return RegParam{Reg: Register{ID: n}}, nil
	}
	name, err := p.expect(TokIdent, "register name")
	if err != nil {
		return nil, err
	}
	sym := p.symbols.Intern(name, symtab.Global)
	return RegParam{Reg: Register{Global: true, Sym: sym}}, nil
}

func (p *Parser) parseImm() (Param, error) {
	neg := false
	if p.tok == TokMinus {
		neg = true
		p.consume()
	}
	lit, err := p.expect(TokInt, "integer literal")
	if err != nil {
		return nil, err
	}
	n, parseErr := strconv.ParseInt(lit, 10, 64)
	if parseErr != nil {
		return nil, diag.Validationf("malformed integer literal: %s", lit)
	}
	if neg {
		n = -n
	}
	return ImmParam{Value: n}, nil
}

func (p *Parser) parseMem() (Param, error) {
	p.consume() // [
	var base Register
	var label symtab.Symbol
	isLabel := false
	switch p.tok {
	case TokPercent:
		r, err := p.parseReg()
		if err != nil {
			return nil, err
		}
		base = r.(RegParam).Reg
	case TokIdent:
		label = p.symbols.Intern(p.lexeme, symtab.Global)
		isLabel = true
		p.consume()
	default:
		return nil, diag.Validationf("expected register or label in memory operand, got %q", p.lexeme)
	}

	sign := int64(1)
	switch p.tok {
	case TokPlus:
		p.consume()
	case TokMinus:
		sign = -1
		p.consume()
	default:
		return nil, diag.Validationf("expected '+' or '-' in memory operand, got %q", p.lexeme)
	}

	var m Mem
	if p.tok == TokInt {
		n, _ := strconv.ParseInt(p.lexeme, 10, 64)
		p.consume()
		if isLabel {
			m = Mem{Kind: MemLabelOffset, Label: label, Offset: sign * n}
		} else {
			m = Mem{Kind: MemRegOffset, Base: base, Offset: sign * n}
		}
	} else if p.tok == TokIdent {
		typeName := p.lexeme
		p.consume()
		structTy, info, ok := p.types.LookupByName(typeName)
		if !ok {
			return nil, diag.Validationf("unknown typename: %s", typeName)
		}
		field := ""
		if p.tok == TokDot {
			p.consume()
			f, err := p.expect(TokIdent, "field name")
			if err != nil {
				return nil, err
			}
			field = f
			if _, ok := info.FieldIndex(field); !ok {
				return nil, diag.Validationf("type %s has no field %s", typeName, field)
			}
		}
		if isLabel {
			m = Mem{Kind: MemLabelField, Label: label, StructType: structTy, Field: field}
		} else {
			m = Mem{Kind: MemRegField, Base: base, StructType: structTy, Field: field}
		}
	} else {
		return nil, diag.Validationf("expected offset or type name in memory operand, got %q", p.lexeme)
	}
	if _, err := p.expect(TokRBracket, "]"); err != nil {
		return nil, err
	}
	return MemParam{Mem: m}, nil
}
