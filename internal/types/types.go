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

// Package types implements the Kind/Type/TypeInfo data model of spec §3:
// the primitive value categories that drive arithmetic and encoding
// decisions, and the struct layout table a Jasmine Object carries.
package types

import "jasmine/internal/diag"

// Kind is a primitive value category. Arithmetic and encoding decisions
// are driven by Kind, not by the full Type.
type Kind int

const (
	I8 Kind = iota
	I16
	I32
	I64
	U8
	U16
	U32
	U64
	F32
	F64
	Ptr
	Struct
)

var kindNames = map[Kind]string{
	I8: "i8", I16: "i16", I32: "i32", I64: "i64",
	U8: "u8", U16: "u16", U32: "u32", U64: "u64",
	F32: "f32", F64: "f64", Ptr: "ptr", Struct: "struct",
}

var namesToKind = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, v := range kindNames {
		m[v] = k
	}
	return m
}()

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	diag.Unreachable("unknown kind %d", int(k))
	return ""
}

// ParseKind looks up a Kind by its textual name, as accepted by the text
// IR grammar's `type` production.
func ParseKind(s string) (Kind, bool) {
	k, ok := namesToKind[s]
	return k, ok
}

// IsFloat reports whether k is a floating-point kind.
func (k Kind) IsFloat() bool { return k == F32 || k == F64 }

// IsSigned reports whether k is a signed integer kind.
func (k Kind) IsSigned() bool {
	switch k {
	case I8, I16, I32, I64:
		return true
	default:
		return false
	}
}

// IsInteger reports whether k is any integer kind (signed or unsigned).
func (k Kind) IsInteger() bool {
	switch k {
	case I8, I16, I32, I64, U8, U16, U32, U64:
		return true
	default:
		return false
	}
}

// Size returns the size in bytes of a primitive Kind. Struct has no
// intrinsic size; callers must consult the owning TypeContext's TypeInfo.
func (k Kind) Size() int {
	switch k {
	case I8, U8:
		return 1
	case I16, U16:
		return 2
	case I32, U32, F32:
		return 4
	case I64, U64, F64, Ptr:
		return 8
	default:
		diag.Unreachable("Size() called on non-primitive kind %v", k)
		return 0
	}
}

// Type is {kind, id}: id indexes into the owning TypeContext's struct
// table when kind == Struct, and is otherwise zero.
type Type struct {
	Kind Kind
	ID   int
}

// Prim constructs a primitive (non-struct) Type.
func Prim(k Kind) Type {
	diag.Assert(k != Struct, "Prim called with Struct kind; use TypeContext.Define")
	return Type{Kind: k}
}

// Member is one field of a struct TypeInfo. A member with no element type
// (ElemSet == false) is a raw byte blob of Count bytes.
type Member struct {
	Name    string
	Count   int
	Elem    Type
	ElemSet bool
}

// TypeInfo holds a struct's ordered member list. Field offsets are
// target-specific and are NOT stored here — see target.Layout, since two
// distinct targets may compute different offsets from the same
// declaration (spec §3 invariant).
type TypeInfo struct {
	Name    string
	Members []Member
}

// TypeContext interns struct type definitions for one Object, assigning
// each a stable integer id used by Type.ID.
type TypeContext struct {
	byName map[string]int
	defs   []*TypeInfo
}

// NewTypeContext returns an empty struct-type table.
func NewTypeContext() *TypeContext {
	return &TypeContext{byName: make(map[string]int)}
}

// Define registers a new struct type. Re-defining an already-present name
// is a class-1 validation error (duplicate type definition, spec §7),
// signalled here by returning ok=false so callers can surface the
// diagnostic with file/line context.
func (c *TypeContext) Define(info *TypeInfo) (Type, bool) {
	if _, exists := c.byName[info.Name]; exists {
		return Type{}, false
	}
	id := len(c.defs)
	c.defs = append(c.defs, info)
	c.byName[info.Name] = id
	return Type{Kind: Struct, ID: id}, true
}

// Lookup returns the TypeInfo for a struct Type.
func (c *TypeContext) Lookup(t Type) *TypeInfo {
	diag.Assert(t.Kind == Struct, "Lookup called on non-struct type")
	diag.Assert(t.ID >= 0 && t.ID < len(c.defs), "struct type id %d out of range", t.ID)
	return c.defs[t.ID]
}

// LookupByName resolves a struct TypeInfo (and its Type handle) by name,
// as used when parsing `[reg + TypeName.field]` memory operands.
func (c *TypeContext) LookupByName(name string) (Type, *TypeInfo, bool) {
	id, ok := c.byName[name]
	if !ok {
		return Type{}, nil, false
	}
	return Type{Kind: Struct, ID: id}, c.defs[id], true
}

// FieldIndex resolves a field name to its ordinal member index within
// info, used to compute byte offsets at emit time (spec §3, Param.Mem).
func (info *TypeInfo) FieldIndex(field string) (int, bool) {
	for i, m := range info.Members {
		if m.Name == field {
			return i, true
		}
	}
	return 0, false
}

// All returns every defined TypeInfo in declaration order, used by
// serialisation (internal format) and ELF/COFF DWARF-free emission.
func (c *TypeContext) All() []*TypeInfo {
	return c.defs
}
