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

//go:build amd64 && !windows

package loader

// CallFunc0 and CallFunc1 invoke a loaded function directly by address,
// passing zero or one integer argument in RDI per the System V AMD64
// calling convention and returning its RAX result. Go cannot call an
// arbitrary foreign code pointer without either cgo or a hand-written
// assembly trampoline — an ordinary indirect Go call assumes the callee
// participates in Go's stack-growth and preemption machinery, which
// Jasmine-compiled code does not — so call_amd64.s supplies the minimum
// NOSPLIT leaf stub needed to cross that boundary safely.
func CallFunc0(fn uintptr) uintptr
func CallFunc1(fn uintptr, a0 uintptr) uintptr

// CallFuncStack invokes a loaded function whose entire argument list is
// memory-class per System V AMD64: spec §8 end-to-end scenario 5's `dot`
// takes two Triple structs by value, each wider than two eightbytes, so
// the caller places them on the stack rather than in a register (see
// internal/target.PlaceParameters). words is copied onto the stack, in
// order, immediately below the return address — exactly where a
// struct-by-value parameter's Location points — and fn is then called
// with no register arguments at all.
func CallFuncStack(fn uintptr, words []uint64) uintptr
