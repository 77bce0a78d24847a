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

//go:build windows

package loader

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

func allocVMem(size int) (*Region, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, errors.Wrap(err, "VirtualAlloc")
	}
	data := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
	return &Region{Addr: addr, Data: data}, nil
}

func protectVMem(r *Region, p protection) error {
	var newProtect uint32
	switch p {
	case protExec:
		newProtect = windows.PAGE_EXECUTE_READ
	case protReadOnly:
		newProtect = windows.PAGE_READONLY
	default:
		newProtect = windows.PAGE_READWRITE
	}
	var old uint32
	if err := windows.VirtualProtect(r.Addr, uintptr(len(r.Data)), newProtect, &old); err != nil {
		return errors.Wrap(err, "VirtualProtect")
	}
	return nil
}

func freeVMem(r *Region) error {
	if err := windows.VirtualFree(r.Addr, 0, windows.MEM_RELEASE); err != nil {
		return errors.Wrap(err, "VirtualFree")
	}
	return nil
}
