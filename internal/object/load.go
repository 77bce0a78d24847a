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

	"jasmine/internal/diag"
	"jasmine/internal/loader"
	"jasmine/internal/symtab"
)

// Loaded is the result of Object.Load: three page-backed regions whose
// contents are o's sections with every relocation patched to a concrete
// address, and protections applied per spec §4.9 (code: read+execute;
// data: read-only; static: read+write).
type Loaded struct {
	Code, Data, Static *loader.Region
}

// EntryPoint returns the code region's base address plus sym's offset
// within it, for invoking a loaded function by its exported symbol.
func (l *Loaded) EntryPoint(o *Object, symName string) (uintptr, bool) {
	pos, ok := o.definedByID[o.symbols.Intern(symName, symtab.Local).ID]
	if !ok || pos.section != Code {
		return 0, false
	}
	return l.Code.Addr + uintptr(pos.offset), true
}

// Free releases all three regions. Safe on a partially-populated Loaded
// (as produced by a failed Load).
func (l *Loaded) Free() {
	if l == nil {
		return
	}
	l.Code.Free()
	l.Data.Free()
	l.Static.Free()
}

// Load allocates virtual memory for each of o's sections, copies their
// bytes in, walks every relocation to patch in a concrete address, and
// locks down protections. external supplies the address of any symbol o
// references but never Define'd (spec §3's invariant: every relocation's
// target is either intra-object or externally resolved before Load
// returns); a relocation naming a symbol absent from both is a class-1
// error.
func (o *Object) Load(external map[string]uintptr) (*Loaded, error) {
	codeRegion, err := loader.AllocVMem(o.code.Len())
	if err != nil {
		return nil, diag.IOf(err, "allocating code region")
	}
	dataRegion, err := loader.AllocVMem(o.data.Len())
	if err != nil {
		codeRegion.Free()
		return nil, diag.IOf(err, "allocating data region")
	}
	staticRegion, err := loader.AllocVMem(o.static.Len())
	if err != nil {
		codeRegion.Free()
		dataRegion.Free()
		return nil, diag.IOf(err, "allocating static region")
	}

	copy(codeRegion.Data, o.code.Bytes())
	copy(dataRegion.Data, o.data.Bytes())
	copy(staticRegion.Data, o.static.Bytes())

	loaded := &Loaded{Code: codeRegion, Data: dataRegion, Static: staticRegion}
	baseAddrs := map[Section]uintptr{Code: codeRegion.Addr, Data: dataRegion.Addr, Static: staticRegion.Addr}
	regionOf := map[Section]*loader.Region{Code: codeRegion, Data: dataRegion, Static: staticRegion}

	for pos, ref := range o.relocs {
		target, ok := o.resolveSymbolAddress(ref.Symbol, baseAddrs, external)
		if !ok {
			loaded.Free()
			return nil, diag.Validationf("unresolved symbol %q referenced by relocation", ref.Symbol.Name)
		}
		site := baseAddrs[pos.section] + uintptr(pos.offset)
		patchRelocation(regionOf[pos.section].Data[pos.offset:], ref, site, target)
	}

	o.loadedAddrs[Code] = codeRegion.Addr
	o.loadedAddrs[Data] = dataRegion.Addr
	o.loadedAddrs[Static] = staticRegion.Addr

	if err := codeRegion.ProtectExec(); err != nil {
		loaded.Free()
		return nil, diag.IOf(err, "protecting code region")
	}
	if err := dataRegion.ProtectData(); err != nil {
		loaded.Free()
		return nil, diag.IOf(err, "protecting data region")
	}
	if err := staticRegion.ProtectStatic(); err != nil {
		loaded.Free()
		return nil, diag.IOf(err, "protecting static region")
	}
	return loaded, nil
}

// resolveSymbolAddress looks sym up first among this object's own
// definitions (intra-object relocations), then in external (addresses
// supplied by the embedder for symbols resolved outside this object,
// e.g. the host functions DefineNative's trampolines call out to).
func (o *Object) resolveSymbolAddress(sym symtab.Symbol, baseAddrs map[Section]uintptr, external map[string]uintptr) (uintptr, bool) {
	if pos, ok := o.definedByID[sym.ID]; ok {
		return baseAddrs[pos.section] + uintptr(pos.offset), true
	}
	addr, ok := external[sym.Name]
	return addr, ok
}

// patchRelocation writes the concrete value for one relocation into field,
// the field-width slice at the relocation site. Relative kinds (spec's
// REL*) compute target - referencePoint, where referencePoint is the site
// shifted by -field_offset (so a REL32_LE reloc with field_offset -4
// yields a displacement measured from the following instruction, as
// internal/ir's label encoding already assumes). Absolute kinds (ABS*)
// add field_offset as a plain addend.
func patchRelocation(field []byte, ref Ref, site, target uintptr) {
	width := ref.Kind.FieldWidth()
	var value int64
	if ref.Kind.IsRelative() {
		referencePoint := int64(site) - int64(ref.FieldOffset)
		value = int64(target) - referencePoint
	} else {
		value = int64(target) + int64(ref.FieldOffset)
	}
	order := byteOrderFor(ref.Kind)
	switch width {
	case 1:
		field[0] = byte(value)
	case 2:
		order.PutUint16(field, uint16(value))
	case 4:
		order.PutUint32(field, uint32(value))
	case 8:
		order.PutUint64(field, uint64(value))
	default:
		diag.Unreachable("unsupported relocation width %d", width)
	}
}

func byteOrderFor(k RefKind) binary.ByteOrder {
	if k.bigEndian() {
		return binary.BigEndian
	}
	return binary.LittleEndian
}
