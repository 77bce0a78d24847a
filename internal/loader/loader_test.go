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

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocVMemRoundsUpToPageSize(t *testing.T) {
	r, err := AllocVMem(1)
	require.NoError(t, err)
	defer r.Free()
	require.GreaterOrEqual(t, len(r.Data), PageSize)
	require.NotZero(t, r.Addr)
}

func TestWriteThenProtectExecStillReadable(t *testing.T) {
	r, err := AllocVMem(16)
	require.NoError(t, err)
	defer r.Free()

	// a single `ret` instruction; writing must happen before the region
	// is locked down to read+execute.
	copy(r.Data, []byte{0xc3})
	require.NoError(t, r.ProtectExec())
	require.Equal(t, byte(0xc3), r.Data[0])
}

func TestProtectDataThenStaticTransitions(t *testing.T) {
	r, err := AllocVMem(8)
	require.NoError(t, err)
	defer r.Free()
	require.NoError(t, r.ProtectData())
	require.NoError(t, r.ProtectStatic())
	r.Data[0] = 0x42
	require.Equal(t, byte(0x42), r.Data[0])
}
