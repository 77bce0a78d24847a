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

//go:build linux || darwin

package loader

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

func allocVMem(size int) (*Region, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrap(err, "mmap")
	}
	return &Region{Addr: uintptr(unsafe.Pointer(&data[0])), Data: data}, nil
}

func protectVMem(r *Region, p protection) error {
	var prot int
	switch p {
	case protExec:
		prot = unix.PROT_READ | unix.PROT_EXEC
	case protReadOnly:
		prot = unix.PROT_READ
	default:
		prot = unix.PROT_READ | unix.PROT_WRITE
	}
	if err := unix.Mprotect(r.Data, prot); err != nil {
		return errors.Wrap(err, "mprotect")
	}
	return nil
}

func freeVMem(r *Region) error {
	if err := unix.Munmap(r.Data); err != nil {
		return errors.Wrap(err, "munmap")
	}
	return nil
}
