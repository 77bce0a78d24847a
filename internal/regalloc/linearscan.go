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

import (
	"sort"

	"jasmine/internal/target"
	"jasmine/internal/types"
)

// locSegment is one contiguous stretch of instructions during which a
// range occupies a single Location. A clobber-driven reallocation (spec
// §4.6 step 1) closes the current segment early and opens a new one, so
// a range's location is not necessarily constant over its whole
// lifetime the way the teacher's lsra_interval.go Interval.phyRegIndex
// (a single field, fixed for the interval's life) assumed.
type locSegment struct {
	loc      target.Location
	from, to int // instruction indices, inclusive
}

// Allocation is the result of Allocate: the physical location of every
// live range at every instruction it covers, plus the total stack-slot
// bytes `frame` must reserve for spills.
type Allocation struct {
	segments  map[rangeKey][]locSegment
	FrameSize int

	// numberIn/numberOut close over the assignments computed during
	// Allocate, letting internal/select ask "what location holds regID's
	// value here" without this package exposing the unexported
	// assignments type itself.
	numberIn  func(i int, regID uint64) (int, bool)
	numberOut func(i int, regID uint64) (int, bool)

	// reconcile holds the physical moves a clobber-driven reallocation
	// (step 1 of the instruction walk below) requires before instruction
	// i runs: a range surviving past a call that clobbers its register
	// is handed a new Location starting at i, but nothing has yet moved
	// the bits there. This generalizes the teacher's lsra_moveResolver.go
	// to the one join point this IR actually has — there is no SSA phi
	// to reconcile across block edges, since Jasmine registers are plain
	// mutable virtual registers, not SSA values.
	reconcile map[int][]Move
}

// Move is one physical register-to-register or register-to-stack copy
// internal/select must emit immediately before lowering instruction i,
// to carry a live range's value from its old Location to the new one
// Allocate assigned it at a clobber point.
type Move struct {
	From, To target.Location
	Kind     types.Kind
}

// MovesAt returns the moves (if any) that must execute before
// instruction i lowers its own operation.
func (a *Allocation) MovesAt(i int) []Move { return a.reconcile[i] }

// LocationIn returns the Location holding regID's value on entry to
// instruction i — the location an operand read at i refers to.
// internal/select calls this once per source operand it lowers.
func (a *Allocation) LocationIn(i int, regID uint64) (target.Location, bool) {
	num, ok := a.numberIn(i, regID)
	if !ok {
		return target.Location{}, false
	}
	return a.Lookup(regID, num, i)
}

// LocationOut returns the Location holding regID's freshly-defined value
// after instruction i executes — the location internal/select writes a
// destructive instruction's result to.
func (a *Allocation) LocationOut(i int, regID uint64) (target.Location, bool) {
	num, ok := a.numberOut(i, regID)
	if !ok {
		return target.Location{}, false
	}
	return a.Lookup(regID, num, i)
}

// Lookup returns the Location assigned to (regID, num) at instruction
// index at, per spec §4.6's "(register, assignment) pair". internal/
// select calls this once per operand it lowers.
func (a *Allocation) Lookup(regID uint64, num int, at int) (target.Location, bool) {
	for _, s := range a.segments[rangeKey{RegID: regID, Num: num}] {
		if at >= s.from && at <= s.to {
			return s.loc, true
		}
	}
	return target.Location{}, false
}

// place opens a new segment for key running [from, to], closing the
// prior segment (if any) at from-1 first so the two never overlap.
func (a *Allocation) place(key rangeKey, loc target.Location, from, to int) {
	segs := a.segments[key]
	if n := len(segs); n > 0 && segs[n-1].to >= from {
		segs[n-1].to = from - 1
	}
	a.segments[key] = append(segs, locSegment{loc: loc, from: from, to: to})
}

// regPool tracks free/in-use physical registers for one RegClass,
// generalizing the teacher's tryAllocatePhyReg free-register scan
// (lsra.go) into a Target-sized pool rather than a fixed
// CallerSaveRegs(LIRTypeQWord) array.
type regPool struct {
	candidates []target.PhysReg
	owner      map[int]*LiveRange // PhysReg.Index -> range currently holding it
}

func newRegPool(candidates []target.PhysReg) *regPool {
	return &regPool{candidates: candidates, owner: make(map[int]*LiveRange)}
}

// allocate returns the lowest-indexed free register not in illegal, per
// spec §4.6 step 3 ("pick the lowest-available register in its kind's
// pool").
func (p *regPool) allocate(r *LiveRange, illegal map[int]bool) (target.PhysReg, bool) {
	for _, c := range p.candidates {
		if illegal[c.Index] {
			continue
		}
		if _, taken := p.owner[c.Index]; taken {
			continue
		}
		p.owner[c.Index] = r
		return c, true
	}
	return target.PhysReg{}, false
}

// reserve force-assigns phys to r, evicting whoever held it (used for
// hinted starts, where the hint is known to be free because the caller
// already ran the release step for this instruction).
func (p *regPool) reserve(phys target.PhysReg, r *LiveRange) {
	p.owner[phys.Index] = r
}

func (p *regPool) isFree(index int) bool {
	_, taken := p.owner[index]
	return !taken
}

func (p *regPool) release(index int) {
	delete(p.owner, index)
}

func (p *regPool) holderOf(index int) (*LiveRange, bool) {
	r, ok := p.owner[index]
	return r, ok
}

// stackSlots hands out ascending indices; stackLocation turns slot n into
// the RBP-relative byte offset -(n+1)*8, one 8-byte word per slot whatever
// the range's Kind, mirroring the teacher's ra.allocateStackSlot (lsra.go).
type stackSlots struct {
	next int
}

func (s *stackSlots) allocate() int {
	v := s.next
	s.next++
	return v
}

func stackLocation(slot int) target.Location {
	return target.Location{Kind: target.LocStackSlot, Offset: -(slot + 1) * 8}
}

// Allocate runs spec §4.6 end to end over one discovered Function:
// liveness, assignment numbering, live-range construction, and a linear
// scan over instructions assigning each range either a physical
// register or a spill slot.
func Allocate(fn *Function, t target.Target) *Allocation {
	maxID := maxVRegID(fn)
	numVRegs := maxID + 1

	c := buildCFG(fn)
	lv := computeLiveness(fn, c, uint(numVRegs))
	asn := computeAssignments(fn, c)
	ranges := buildLiveRanges(fn, lv, asn, numVRegs)
	attachKindsAndHints(fn, ranges, t)

	intPool := newRegPool(t.Registers(types.I64))
	floatPool := newRegPool(t.Registers(types.F64))
	slots := &stackSlots{}
	alloc := &Allocation{
		segments:  make(map[rangeKey][]locSegment),
		numberIn:  asn.numberIn,
		numberOut: asn.numberOut,
		reconcile: make(map[int][]Move),
	}

	poolFor := func(k types.Kind) *regPool {
		if k.IsFloat() {
			return floatPool
		}
		return intPool
	}

	// index ranges by instruction position for the per-instruction
	// clobber/release/start walk (spec §4.6's three numbered steps),
	// rather than by sorted start position the way the teacher's
	// workList processes intervals out of instruction order.
	startingAt := make(map[int][]*LiveRange)
	endingAt := make(map[int][]*LiveRange)
	for _, r := range ranges {
		startingAt[r.Start] = append(startingAt[r.Start], r)
		endingAt[r.End] = append(endingAt[r.End], r)
	}
	for _, list := range startingAt {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Key.RegID < list[j].Key.RegID })
	}

	for i, insn := range fn.Insns {
		// 1. Clobber: reallocate or spill any active range whose
		// physical register this instruction clobbers and which
		// survives past this instruction.
		clobbered := t.Clobbers(insn.Op, callArgKinds(insn))
		for _, cl := range clobbered {
			pool := intPool
			if cl.Class == target.ClassFloat {
				pool = floatPool
			}
			if r, held := pool.holderOf(cl.Index); held {
				r.markIllegal(cl)
				if r.End != i {
					oldLoc := target.Location{Kind: target.LocRegister, Reg: cl}
					pool.release(cl.Index)
					var newLoc target.Location
					if newPhys, ok := pool.allocate(r, r.Illegal); ok {
						pool.reserve(newPhys, r)
						newLoc = target.Location{Kind: target.LocRegister, Reg: newPhys}
					} else {
						newLoc = stackLocation(slots.allocate())
					}
					alloc.place(r.Key, newLoc, i, r.End)
					alloc.reconcile[i] = append(alloc.reconcile[i], Move{From: oldLoc, To: newLoc, Kind: r.Kind})
				}
			}
			// freshly-clobbered registers are released so they can be
			// reused starting this instruction, per spec §4.6 step 1.
			pool.release(cl.Index)
		}

		// 2. Release: return registers of ranges ending here. A range
		// whose Start also equals i has not been placed yet (step 3
		// runs after this one), so Lookup misses it here; step 3
		// releases those immediately after placing them instead.
		for _, r := range endingAt[i] {
			if r.Start == i {
				continue
			}
			if loc, ok := alloc.Lookup(r.Key.RegID, r.Key.Num, i); ok && loc.Kind == target.LocRegister {
				poolFor(r.Kind).release(loc.Reg.Index)
			}
		}

		// 3. Start: assign a location to every range beginning here,
		// initially spanning its whole computed lifetime; a later
		// clobber (step 1, above) may shorten and replace the tail.
		for _, r := range startingAt[i] {
			pool := poolFor(r.Kind)
			var loc target.Location
			switch {
			case r.HasHint && pool.isFree(r.Hint.Index) && !r.Illegal[r.Hint.Index]:
				pool.reserve(r.Hint, r)
				loc = target.Location{Kind: target.LocRegister, Reg: r.Hint}
			default:
				if phys, ok := pool.allocate(r, r.Illegal); ok {
					loc = target.Location{Kind: target.LocRegister, Reg: phys}
				} else {
					loc = stackLocation(slots.allocate())
				}
			}
			alloc.place(r.Key, loc, i, r.End)
			// a range dying on the same instruction it is born on (a
			// dead store, e.g. an ignored call result) never appears
			// in a later Release step; free its register right away.
			if r.End == i && loc.Kind == target.LocRegister {
				pool.release(loc.Reg.Index)
			}
		}
	}

	alloc.FrameSize = slots.next * 8
	return alloc
}
