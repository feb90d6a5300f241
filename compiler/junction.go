package compiler

import (
	arch "github.com/pattyshack/towhee/architecture"
)

// Junction handling: when several paths meet, every value live into the
// join must occupy the same site on all of them.  The shared junctionSites
// table records the agreed site per frame slot; predecessors resolve their
// copies against it, inserting moves where they disagree.

type stubReadPair struct {
	value *value
	read  *stubRead
}

func pickJunctionSite(c *context, v *value, r read, index int) site {
	if c.availableRegisterCount > 1 {
		s := r.pickSite(c, v)
		if s != nil {
			kind := s.operandType(c)
			if kind == arch.MemoryOperand || kind == arch.RegisterOperand {
				return s
			}
		}

		s = r.allocateSite(c)
		if s != nil {
			return s
		}

		return freeRegisterSite(c, arch.AnyRegisterMask)
	}

	// Register starved; fall back to the value's own frame slot.
	return frameSite(c, index)
}

func resolveJunctionSite(
	c *context,
	e *eventBase,
	v *value,
	index int,
	frozenSites []site,
) []site {
	c.assertf(
		index < frameFootprint(c, e.stackAfter),
		"junction index %d out of frame",
		index)

	if !live(v) {
		return frozenSites
	}

	c.assertf(len(v.sites) > 0, "live value with no sites at junction")

	r := v.reads
	original := e.junctionSites[index]

	if original == nil {
		e.junctionSites[index] = pickJunctionSite(c, v, r, index)
	}

	target := e.junctionSites[index]
	s, cost := pick(c, v.sites, target)
	if cost > 0 {
		moveValue(c, e.stackAfter, e.localsAfter, r.base().size, v, s, target)
	} else {
		target = s
	}

	target.makeSpecific(c)

	if original == nil {
		frozenSites = append(frozenSites, target)
		target.freeze(c)
	}

	return frozenSites
}

// propagateJunctionSites shares one junctionSites table across every event
// reachable through the join's predecessor/successor web, so all paths
// agree on placements.
func propagateJunctionSites(c *context, e event, sites []site) {
	for _, p := range e.base().predecessors {
		pBase := p.base()
		if pBase.junctionSites == nil {
			pBase.junctionSites = sites
			for _, s := range pBase.successors {
				propagateJunctionSites(c, s, sites)
			}
		}
	}
}

func populateSiteTables(c *context, e event) {
	base := e.base()
	footprint := frameFootprint(c, base.stackAfter)

	frozenSites := make([]site, 0, footprint)

	if base.junctionSites != nil {
		// First pass: finish slots another predecessor already decided.
		if base.stackAfter != nil {
			i := base.stackAfter.index + c.localFootprint
			for stack := base.stackAfter; stack != nil; stack = stack.next {
				if base.junctionSites[i] != nil {
					frozenSites = resolveJunctionSite(
						c,
						base,
						stack.value,
						i,
						frozenSites)
				}

				i -= stack.size
			}
		}

		for i := c.localFootprint - 1; i >= 0; i-- {
			if base.localsAfter[i].value != nil && base.junctionSites[i] != nil {
				frozenSites = resolveJunctionSite(
					c,
					base,
					base.localsAfter[i].value,
					i,
					frozenSites)
			}
		}
	} else {
		for _, s := range base.successors {
			if len(s.base().predecessors) > 1 {
				junctionSites := make([]site, footprint)
				propagateJunctionSites(c, s, junctionSites)
				break
			}
		}
	}

	if base.junctionSites != nil {
		// Second pass: decide the remaining slots ourselves.
		if base.stackAfter != nil {
			i := base.stackAfter.index + c.localFootprint
			for stack := base.stackAfter; stack != nil; stack = stack.next {
				if base.junctionSites[i] == nil {
					frozenSites = resolveJunctionSite(
						c,
						base,
						stack.value,
						i,
						frozenSites)
				}

				i -= stack.size
			}
		}

		for i := c.localFootprint - 1; i >= 0; i-- {
			if base.localsAfter[i].value != nil && base.junctionSites[i] == nil {
				frozenSites = resolveJunctionSite(
					c,
					base,
					base.localsAfter[i].value,
					i,
					frozenSites)
			}
		}
	}

	for i := len(frozenSites) - 1; i >= 0; i-- {
		frozenSites[i].thaw(c)
	}

	if len(base.successors) > 1 {
		savedSites := make([]site, footprint)

		for i := 0; i < c.localFootprint; i++ {
			v := base.localsAfter[i].value
			if v != nil && len(v.sites) > 0 {
				savedSites[i] = v.sites[0]
			}
		}

		if base.stackAfter != nil {
			i := base.stackAfter.index + c.localFootprint
			for stack := base.stackAfter; stack != nil; stack = stack.next {
				if len(stack.value.sites) > 0 {
					savedSites[i] = stack.value.sites[0]
				}

				i -= stack.size
			}
		}

		base.savedSites = savedSites
	}
}

// setSites replaces the current sites of every live stack/local value with
// the recorded table (a predecessor's junction or saved sites).
func setSites(c *context, e *eventBase, sites []site) {
	for i := 0; i < c.localFootprint; i++ {
		v := e.localsBefore[i].value
		if v != nil {
			clearSites(c, v)
			if live(v) {
				addSite(c, nil, nil, v.reads.base().size, v, sites[i])
			}
		}
	}

	if e.stackBefore != nil {
		i := e.stackBefore.index + c.localFootprint
		for stack := e.stackBefore; stack != nil; stack = stack.next {
			v := stack.value
			clearSites(c, v)
			if live(v) {
				addSite(c, nil, nil, v.reads.base().size, v, sites[i])
			}
			i -= stack.size
		}
	}
}

func addStubRead(
	c *context,
	v *value,
	size int,
	reads []stubReadPair,
) []stubReadPair {
	if v == nil {
		return reads
	}

	var r *stubRead
	if v.visited {
		r = v.lastRead.(*stubRead)
	} else {
		v.visited = true

		r = newStubRead(c, size)
		addRead(c, nil, v, r)
	}

	return append(reads, stubReadPair{value: v, read: r})
}

// populateJunctionReads installs placeholder reads on every live value at a
// branch so the values stay live until the branch target's real reads are
// known.
func populateJunctionReads(c *context, e event) {
	reads := make([]stubReadPair, 0, frameFootprint(c, c.stack))

	for i := 0; i < c.localFootprint; i++ {
		local := c.locals[i]
		reads = addStubRead(c, local.value, local.size, reads)
	}

	for s := c.stack; s != nil; s = s.next {
		reads = addStubRead(c, s.value, s.size*c.wordSize, reads)
	}

	e.base().junctionReads = reads

	for _, pair := range reads {
		pair.value.visited = false
	}
}

func updateStubRead(c *context, pair *stubReadPair, r read) {
	if pair.read.read == nil {
		pair.read.read = r
	}
}

// updateJunctionReads resolves a predecessor's placeholder reads against
// the join's post-state read chains.
func updateJunctionReads(c *context, e *eventBase) {
	reads := e.junctionReads
	next := 0

	for i := 0; i < c.localFootprint; i++ {
		if e.localsAfter[i].value != nil {
			updateStubRead(c, &reads[next], e.localsAfter[i].value.reads)
			next++
		}
	}

	for s := e.stackAfter; s != nil; s = s.next {
		updateStubRead(c, &reads[next], s.value.reads)
		next++
	}
}
