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

package symtab

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInternSameNameYieldsSameID(t *testing.T) {
	tab := NewTable()
	a := tab.Intern("foo", Local)
	b := tab.Intern("foo", Global)
	require.Equal(t, a.ID, b.ID)
	require.Equal(t, Local, a.Linkage)
	require.Equal(t, Global, b.Linkage)
}

func TestInternDistinctNames(t *testing.T) {
	tab := NewTable()
	a := tab.Intern("foo", Global)
	b := tab.Intern("bar", Global)
	require.NotEqual(t, a.ID, b.ID)
	require.Equal(t, 2, tab.Count())
}

func TestLookupRoundTrip(t *testing.T) {
	tab := NewTable()
	s := tab.Intern("main", Global)
	require.Equal(t, "main", tab.Lookup(s.ID))
}
