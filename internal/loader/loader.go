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

// Package loader implements the in-memory loader of spec §4.9: allocates
// page-aligned virtual memory for a section's contents and applies the
// protection (execute/read-only/read-write) its kind requires, so an
// Object's code can run in-process without touching disk. Platform vmem
// primitives live in loader_unix.go/loader_windows.go, generalizing the
// teacher's runtime.GOOS-switch idiom in compile/compiler.go
// (compileAsm/compileC/linkFiles) from shelling out to gcc/as into direct
// syscalls.
package loader

import (
	"os"

	"jasmine/internal/diag"
)

// PageSize is the host's native page size; allocations are rounded up to
// a multiple of it, as every mmap/VirtualAlloc-backed allocator requires.
var PageSize = os.Getpagesize()

// Region is a page-aligned virtual memory allocation backing one Object
// section. Addr is the region's base address for relocation fixups; Data
// is a byte slice over the same memory for writing section contents
// before protections are applied.
type Region struct {
	Addr uintptr
	Data []byte
}

func pageRoundUp(n int) int {
	if n == 0 {
		n = 1 // a zero-length section still needs an addressable region
	}
	return (n + PageSize - 1) / PageSize * PageSize
}

// AllocVMem reserves a read-write region of at least size bytes. Callers
// write section contents into Data, then call ProtectExec/ProtectData/
// ProtectStatic to lock down the final protection per spec §4.9.
func AllocVMem(size int) (*Region, error) {
	return allocVMem(pageRoundUp(size))
}

// ProtectExec marks the region read+execute, for the code section.
func (r *Region) ProtectExec() error { return r.protect(protExec) }

// ProtectData marks the region read-only, for the data section (spec's
// "read-only" constant pool).
func (r *Region) ProtectData() error { return r.protect(protReadOnly) }

// ProtectStatic marks the region read+write, for the static section
// (mutable globals).
func (r *Region) ProtectStatic() error { return r.protect(protReadWrite) }

// Free releases the region. Safe to call once; a second call is a
// programming error caught by the platform syscall's own failure.
func (r *Region) Free() error {
	if r == nil {
		return nil
	}
	return freeVMem(r)
}

func (r *Region) protect(p protection) error {
	diag.Assert(r != nil, "protect called on nil Region")
	return protectVMem(r, p)
}

type protection int

const (
	protReadWrite protection = iota
	protReadOnly
	protExec
)
