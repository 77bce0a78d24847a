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

package regalloc

// unionFind canonicalizes conflicting assignment-numbering propagations
// to their lowest defining-instruction index, per spec §4.6's "unified
// via an equivalence relation, then canonicalised to the lowest index".
type unionFind struct {
	parent map[int]int
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[int]int)}
}

func (u *unionFind) find(x int) int {
	p, ok := u.parent[x]
	if !ok {
		u.parent[x] = x
		return x
	}
	if p != x {
		p = u.find(p)
		u.parent[x] = p
	}
	return p
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	// keep the lower index as root so find() always canonicalizes down.
	if rb < ra {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
}

// assignments computes, for each virtual register live at each
// instruction, which defining instruction's value reaches that point
// (spec §4.6 "assignment numbering"). reachIn/reachOut are raw
// pre-canonicalization maps; union-find resolves joins where two
// distinct defs reach the same (instruction, register) pair.
type assignments struct {
	reachIn  []map[uint64]int
	reachOut []map[uint64]int
	dsu      *unionFind
}

func computeAssignments(fn *Function, c *cfg) *assignments {
	n := len(fn.Insns)
	a := &assignments{
		reachIn:  make([]map[uint64]int, n),
		reachOut: make([]map[uint64]int, n),
		dsu:      newUnionFind(),
	}
	for i := range fn.Insns {
		a.reachIn[i] = map[uint64]int{}
		a.reachOut[i] = map[uint64]int{}
	}

	changed := true
	for changed {
		changed = false
		for i, insn := range fn.Insns {
			merged := make(map[uint64]int, len(a.reachIn[i]))
			for _, p := range c.preds[i] {
				for reg, def := range a.reachOut[p] {
					if existing, ok := merged[reg]; ok {
						if existing != def {
							a.dsu.union(existing, def)
						}
					} else {
						merged[reg] = def
					}
				}
			}
			if !reachMapsEqual(merged, a.reachIn[i]) {
				a.reachIn[i] = merged
				changed = true
			}

			out := make(map[uint64]int, len(merged)+1)
			for k, v := range merged {
				out[k] = v
			}
			if r, ok := insn.Def(); ok && !r.Global {
				out[r.ID] = i
			}
			if !reachMapsEqual(out, a.reachOut[i]) {
				a.reachOut[i] = out
				changed = true
			}
		}
	}
	return a
}

func reachMapsEqual(a, b map[uint64]int) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// numberAt returns the canonical assignment number for regID at
// instruction i, preferring the value defined at i itself (reachOut)
// over the value live on entry (reachIn), since a def and a use of the
// same register can coexist on one instruction (e.g. `add %0,%0,1`).
func (a *assignments) numberAt(i int, regID uint64) (int, bool) {
	if d, ok := a.reachOut[i][regID]; ok {
		return a.dsu.find(d), true
	}
	if d, ok := a.reachIn[i][regID]; ok {
		return a.dsu.find(d), true
	}
	return 0, false
}

// numberIn returns the canonical assignment number of the value regID
// holds on entry to instruction i, the number an operand read at i
// refers to. Distinct from numberAt when i both reads and redefines
// regID (e.g. `add %0,%0,1`), where the operand read still means the
// pre-instruction value even though reachOut already reflects the new
// one.
func (a *assignments) numberIn(i int, regID uint64) (int, bool) {
	d, ok := a.reachIn[i][regID]
	if !ok {
		return 0, false
	}
	return a.dsu.find(d), true
}

// numberOut returns the canonical assignment number of the value regID
// holds after instruction i executes, i.e. the number a fresh def at i
// introduces.
func (a *assignments) numberOut(i int, regID uint64) (int, bool) {
	d, ok := a.reachOut[i][regID]
	if !ok {
		return 0, false
	}
	return a.dsu.find(d), true
}
