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

package target

import (
	"testing"

	"github.com/stretchr/testify/require"
	"jasmine/internal/types"
)

func amd64() Target { return Target{Arch: ArchAMD64, OS: OSLinux} }

func TestPlaceParametersOverflowsToStack(t *testing.T) {
	tgt := amd64()
	kinds := make([]types.Kind, 8)
	for i := range kinds {
		kinds[i] = types.I64
	}
	locs := tgt.PlaceParameters(kinds, nil)
	for i := 0; i < 6; i++ {
		require.Equal(t, LocRegister, locs[i].Kind)
	}
	require.Equal(t, LocPushedR2L, locs[6].Kind)
	require.Equal(t, LocPushedR2L, locs[7].Kind)
	require.Equal(t, 0, locs[6].Offset)
	require.Equal(t, 8, locs[7].Offset)
}

// TestPlaceParametersStructAlwaysStackMultiSlot covers a struct-by-value
// parameter wider than a single eightbyte (spec §8 scenario 5's Triple):
// it is always memory-class, consumes as many consecutive stack slots as
// its word count requires, and never takes one of the integer argument
// registers even though they are otherwise unused here.
func TestPlaceParametersStructAlwaysStackMultiSlot(t *testing.T) {
	tgt := amd64()
	kinds := []types.Kind{types.Struct, types.Struct}
	locs := tgt.PlaceParameters(kinds, []int{3, 3})
	require.Equal(t, LocPushedR2L, locs[0].Kind)
	require.Equal(t, 0, locs[0].Offset)
	require.Equal(t, 3, locs[0].Slots)
	require.Equal(t, LocPushedR2L, locs[1].Kind)
	require.Equal(t, 24, locs[1].Offset)
	require.Equal(t, 3, locs[1].Slots)
}

func TestLocateReturnValue(t *testing.T) {
	tgt := amd64()
	require.Equal(t, RAX, tgt.LocateReturnValue(types.I64).Reg)
	require.Equal(t, XMM(0), tgt.LocateReturnValue(types.F64).Reg)
	require.Equal(t, LocStackSlot, tgt.LocateReturnValue(types.Struct).Kind)
}

func TestClobbersDivRem(t *testing.T) {
	tgt := amd64()
	c := tgt.Clobbers(types.OpDiv, nil)
	require.ElementsMatch(t, []PhysReg{RAX, RDX}, c)
}

func TestHintParam(t *testing.T) {
	tgt := amd64()
	reg, ok := tgt.Hint(types.OpParam, types.I64, 0)
	require.True(t, ok)
	require.Equal(t, RDI, reg)
}

func TestLayoutPackedI64Members(t *testing.T) {
	tgt := amd64()
	info := &types.TypeInfo{Name: "Triple", Members: []types.Member{
		{Name: "a", Count: 1, Elem: types.Prim(types.I64), ElemSet: true},
		{Name: "b", Count: 1, Elem: types.Prim(types.I64), ElemSet: true},
		{Name: "c", Count: 1, Elem: types.Prim(types.I64), ElemSet: true},
	}}
	offs := tgt.Layout(info)
	require.Equal(t, []int{0, 8, 16}, offs)
	require.Equal(t, 24, tgt.Sizeof(info))
}

func TestScratchRegisterExcludedFromPool(t *testing.T) {
	tgt := amd64()
	for _, r := range tgt.Registers(types.I64) {
		require.NotEqual(t, scratchReg.Index, r.Index)
	}
}
