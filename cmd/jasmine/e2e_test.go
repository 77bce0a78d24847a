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

package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"jasmine/internal/config"
)

// writeIR drops source into a temp .jsm file and returns its path, the
// shape runRun/runAssemble/runCompile all take as input.
func writeIR(t *testing.T, source string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "in.jsm")
	require.NoError(t, writeFile(path, []byte(source)))
	return path
}

func run(t *testing.T, source, entry string, arg *int64) uintptr {
	t.Helper()
	path := writeIR(t, source)
	cfg := config.New("", false)
	result, err := runRun(cfg, path, entry, arg)
	require.NoError(t, err)
	return result
}

// TestScenario1ArithmeticChain covers spec §8's first end-to-end row:
// straight-line arithmetic with no branches.
func TestScenario1ArithmeticChain(t *testing.T) {
	source := `
foo: frame
mov i64 %0,1
mov i64 %1,2
add i64 %2,%0,%1
mul i64 %2,%2,3
div i64 %3,%1,%0
add i64 %3,%2,%3
ret i64 %3
`
	require.EqualValues(t, 11, run(t, source, "foo", nil))
}

// TestScenario2Loop covers spec §8's second row: a backward branch closing
// a counting loop.
func TestScenario2Loop(t *testing.T) {
	source := `
foo: frame
mov i64 %0,1
rep: jeq i64 end %0,10
add i64 %0,%0,1
jump rep
end: ret i64 %0
`
	require.EqualValues(t, 10, run(t, source, "foo", nil))
}

// TestScenario3Fibonacci covers spec §8's third row: a recursive call with
// a parameter and two live values merging across the recursion.
func TestScenario3Fibonacci(t *testing.T) {
	source := `
fib: frame
param i64 %0
jge i64 rec %0,2
ret i64 %0
rec: sub i64 %0,%0,1
call i64 %1,fib,%0
sub i64 %0,%0,1
call i64 %2,fib,%0
add i64 %1,%1,%2
ret i64 %1
`
	arg := int64(10)
	require.EqualValues(t, 55, run(t, source, "fib", &arg))
}

// TestScenario4StructFields covers spec §8's fourth row: a struct local
// with two fields read back through field-offset memory operands.
func TestScenario4StructFields(t *testing.T) {
	source := `
type Pair{left:i64,right:i64}
foo: frame
local Pair %0
mov i64 [%0+Pair.left],1
mov i64 [%0+Pair.right],2
mov i64 %1,[%0+Pair.left]
add i64 %1,%1,[%0+Pair.right]
ret i64 %1
`
	require.EqualValues(t, 3, run(t, source, "foo", nil))
}

// TestScenario5TripleDotProduct covers spec §8's fifth row: two
// struct-by-value parameters, each wider than a single register, read
// back through field-offset memory operands exactly like bc.cpp's
// original x86_dot_product ground truth. The function is invoked
// directly (the host loader plays the role of bc.cpp's caller), since no
// end-to-end scenario issues a Jasmine `call` with a struct argument.
func TestScenario5TripleDotProduct(t *testing.T) {
	source := `
type Triple{a:i64,b:i64,c:i64}
dot: frame
param Triple %0
param Triple %1
local i64 %2
local i64 %3
mul i64 %3,[%0+Triple.a],[%1+Triple.a]
mov i64 %2,%3
mul i64 %3,[%0+Triple.b],[%1+Triple.b]
add i64 %2,%2,%3
mul i64 %3,[%0+Triple.c],[%1+Triple.c]
add i64 %2,%2,%3
ret i64 %2
`
	path := writeIR(t, source)
	cfg := config.New("", false)
	result, err := runRunStackWords(cfg, path, "dot", []uint64{0, 1, 0, 1, 0, 0})
	require.NoError(t, err)
	require.EqualValues(t, 0, result)
}

// TestScenario6NopRoundTrip covers spec §8's sixth row: every encodable
// nop width still lets the following ret return control normally.
func TestScenario6NopRoundTrip(t *testing.T) {
	source := `
foo: frame
mov i64 %0,42
nop 1
nop 2
nop 3
nop 4
nop 5
nop 6
nop 7
nop 8
nop 9
ret i64 %0
`
	require.EqualValues(t, 42, run(t, source, "foo", nil))
}

// TestAssembleDisassembleRoundTrip runs `compile` on a small function and
// then `disassemble` on the object file that `compile` wrote, exercising
// spec §6's surface beyond `run`.
func TestAssembleDisassembleRoundTrip(t *testing.T) {
	source := `
foo: frame
mov i64 %0,1
ret i64 %0
`
	path := writeIR(t, source)
	cfg := config.New("", false)
	require.NoError(t, runCompile(cfg, path))

	objPath := withExt(path, ".o")
	dis := filepath.Join(t.TempDir(), "dis.txt")
	cfg.Output = dis
	require.NoError(t, runDisassemble(cfg, objPath))
}
