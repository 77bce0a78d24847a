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

package loader

// CallFunc0 and CallFunc1 invoke a loaded function directly by address,
// passing zero or one integer argument in RCX per the Win64 calling
// convention and returning its RAX result. See call_amd64.s's doc comment
// for why this needs a hand-written assembly stub at all.
func CallFunc0(fn uintptr) uintptr
func CallFunc1(fn uintptr, a0 uintptr) uintptr

// CallFuncStack invokes a loaded function whose entire argument list is
// memory-class (spec §8 end-to-end scenario 5's two-Triple `dot`); see
// call_amd64.go's doc comment for the stack layout this relies on.
func CallFuncStack(fn uintptr, words []uint64) uintptr
