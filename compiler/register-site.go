package compiler

import (
	"fmt"

	arch "github.com/pattyshack/towhee/architecture"
	"github.com/pattyshack/towhee/assembler"
)

// Per-register allocator state.  number tracks the physical register
// currently backing this resource; swap exchanges numbers between two
// resources so that register sites keep pointing at the right data.
type registerResource struct {
	value *value
	site  *registerSite

	number int
	size   int

	// Memory sites referencing this register as base or index.
	refCount int

	// Transient reservations within a single event's emission.
	freezeCount int

	reserved bool
}

func freezeRegister(c *context, r *registerResource) {
	c.assertf(c.availableRegisterCount > 0, "freeze with no available registers")

	if debugRegisters {
		c.debugf("freeze %d to %d\n", r.number, r.freezeCount+1)
	}

	r.freezeCount++
	c.availableRegisterCount--
}

func thawRegister(c *context, r *registerResource) {
	c.assertf(r.freezeCount > 0, "unbalanced thaw of register %d", r.number)

	if debugRegisters {
		c.debugf("thaw %d to %d\n", r.number, r.freezeCount-1)
	}

	r.freezeCount--
	c.availableRegisterCount++
}

func increment(c *context, number int) *registerResource {
	r := c.registers[number]

	if debugRegisters {
		c.debugf("increment %d to %d\n", r.number, r.refCount+1)
	}

	r.refCount++
	return r
}

func decrement(c *context, r *registerResource) {
	c.assertf(r.refCount > 0, "unbalanced decrement of register %d", r.number)

	if debugRegisters {
		c.debugf("decrement %d to %d\n", r.number, r.refCount-1)
	}

	r.refCount--
}

type registerSite struct {
	mask arch.RegisterMask
	low  *registerResource
	high *registerResource
}

func newRegisterSite(c *context, low int, high int) *registerSite {
	c.assertf(low != arch.NoRegister, "register site needs a low register")
	c.assertf(low < c.arch.RegisterCount(), "register %d out of range", low)
	c.assertf(
		high == arch.NoRegister || high < c.arch.RegisterCount(),
		"register %d out of range",
		high)

	var hr *registerResource
	if high != arch.NoRegister {
		hr = c.registers[high]
	}
	return &registerSite{
		mask: arch.AnyRegisterMask,
		low:  c.registers[low],
		high: hr,
	}
}

func freeRegisterSite(c *context, mask arch.RegisterMask) *registerSite {
	return &registerSite{mask: mask}
}

func (s *registerSite) describe(c *context) string {
	if s.low == nil {
		return "register unacquired"
	}
	high := arch.NoRegister
	if s.high != nil {
		high = s.high.number
	}
	return fmt.Sprintf("register %d %d", s.low.number, high)
}

func (s *registerSite) copyCost(c *context, target site) int {
	c.assertf(s.low != nil, "copy cost of unacquired register site")

	if target == nil {
		return 2
	}

	if target == site(s) {
		return 0
	}

	other, ok := target.(*registerSite)
	if ok &&
		other.mask.ContainsLow(s.low.number) &&
		(s.high == nil || other.mask.ContainsHigh(s.high.number)) {

		return 0
	}
	return 2
}

func (s *registerSite) match(
	c *context,
	constraint operandConstraint,
) bool {
	if !constraint.typeMask.Includes(arch.RegisterOperand) || s.low == nil {
		return false
	}

	return constraint.registerMask.ContainsLow(s.low.number) &&
		(s.high == nil || constraint.registerMask.ContainsHigh(s.high.number))
}

func (s *registerSite) acquire(
	c *context,
	stack *stackEntry,
	locals []local,
	size int,
	v *value,
) {
	s.low = validateRegister(
		c,
		s.mask.Low(),
		stack,
		locals,
		size,
		v,
		s,
		s.low)
	if size > c.wordSize {
		freezeRegister(c, s.low)
		s.high = validateRegister(
			c,
			s.mask.High(),
			stack,
			locals,
			size,
			v,
			s,
			s.high)
		thawRegister(c, s.low)
	}
}

func (s *registerSite) release(c *context) {
	c.assertf(s.low != nil, "release of unacquired register site")

	releaseRegister(c, s.low)
	if s.high != nil {
		releaseRegister(c, s.high)
	}
}

func (s *registerSite) freeze(c *context) {
	c.assertf(s.low != nil, "freeze of unacquired register site")

	freezeRegister(c, s.low)
	if s.high != nil {
		freezeRegister(c, s.high)
	}
}

func (s *registerSite) thaw(c *context) {
	c.assertf(s.low != nil, "thaw of unacquired register site")

	thawRegister(c, s.low)
	if s.high != nil {
		thawRegister(c, s.high)
	}
}

func (s *registerSite) operandType(c *context) arch.OperandType {
	return arch.RegisterOperand
}

func (s *registerSite) asAssemblerOperand(c *context) assembler.Operand {
	c.assertf(s.low != nil, "operand view of unacquired register site")

	high := arch.NoRegister
	if s.high != nil {
		high = s.high.number
	}
	return assembler.Register{Low: s.low.number, High: high}
}

func (s *registerSite) makeSpecific(c *context) {
	c.assertf(s.low != nil, "make specific of unacquired register site")

	mask := arch.LowRegister(s.low.number)
	if s.high != nil {
		mask |= arch.HighRegister(s.high.number)
	}
	s.mask = mask
}

func used(c *context, r *registerResource) bool {
	return r.value != nil && findSite(c, r.value, r.site)
}

func usedExclusively(c *context, r *registerResource) bool {
	return used(c, r) && len(r.value.sites) == 1
}

func registerCost(c *context, r *registerResource) int {
	if r.reserved || r.freezeCount > 0 {
		return 6
	}

	cost := 0

	if used(c, r) {
		cost++
		if usedExclusively(c, r) {
			cost += 2
		}
	}

	if r.refCount > 0 {
		cost += 2
	}

	return cost
}

// pickRegister selects the cheapest register admitted by mask.  A
// single-register mask returns that register regardless of cost; otherwise
// reserved and frozen registers (cost 6) are never chosen.
func pickRegister(c *context, mask uint32) *registerResource {
	var selected *registerResource
	cost := 5
	for i := c.arch.RegisterCount() - 1; i >= 0; i-- {
		if mask&(1<<i) == 0 {
			continue
		}

		r := c.registers[i]
		if uint32(1)<<i == mask {
			return r
		}

		myCost := registerCost(c, r)
		if myCost < cost {
			selected = r
			cost = myCost
		}
	}

	if selected == nil {
		c.abort("no register satisfies mask %#x", mask)
	}

	return selected
}

func swapRegisters(c *context, a *registerResource, b *registerResource) {
	c.assertf(a != b && a.number != b.number, "swap of register with itself")

	c.assembler.ApplyBinary(
		arch.Swap,
		c.wordSize,
		assembler.Register{Low: a.number, High: arch.NoRegister},
		c.wordSize,
		assembler.Register{Low: b.number, High: arch.NoRegister})

	c.registers[a.number] = b
	c.registers[b.number] = a

	a.number, b.number = b.number, a.number
}

// stealRegister evicts r's current value.  The value either has another
// site, or is first saved to its local slot, else its stack frame home, else
// a frame index its next use requires.  Returns false when no save location
// exists.
func stealRegister(
	c *context,
	r *registerResource,
	stack *stackEntry,
	locals []local,
) bool {
	c.assertf(r.refCount == 0, "steal of referenced register %d", r.number)

	v := r.value
	c.assertf(v.reads != nil, "steal from dead value")

	if debugRegisters {
		c.debugf(
			"try steal %d from value with %d sites\n",
			r.number,
			len(v.sites))
	}

	if len(v.sites) == 1 {
		var saveSite site
		for i := 0; i < c.localFootprint; i++ {
			if locals != nil && locals[i].value == v {
				saveSite = frameSite(c, i)
				break
			}
		}

		if saveSite == nil {
			for s := stack; s != nil; s = s.next {
				if s.value == v {
					saveSite = frameSite(c, s.index+c.localFootprint)
					break
				}
			}
		}

		if saveSite == nil {
			constraint := anyConstraint()
			v.reads.intersect(&constraint)

			if constraint.frameIndex >= 0 {
				saveSite = frameSite(c, constraint.frameIndex)
			}
		}

		if saveSite == nil {
			if debugRegisters {
				c.debugf("unable to steal %d\n", r.number)
			}
			return false
		}

		addSite(c, nil, nil, r.size, v, saveSite)
		applyBinary(c, arch.Move, r.size, r.site, r.size, saveSite)
	}

	removeSite(c, v, r.site)

	return true
}

// replaceRegister moves r's contents to a different register satisfying the
// same mask and swaps the two, freeing r for its new owner.
func replaceRegister(
	c *context,
	stack *stackEntry,
	locals []local,
	r *registerResource,
) *registerResource {
	mask := ^uint32(0)
	if r.freezeCount > 0 {
		mask = r.site.mask.Low()
	}

	freezeRegister(c, r)
	s := acquireRegister(c, mask, stack, locals, r.size, r.value, r.site)
	thawRegister(c, r)

	if debugRegisters {
		c.debugf("replace %d with %d\n", r.number, s.number)
	}

	swapRegisters(c, r, s)

	return s
}

func acquireRegister(
	c *context,
	mask uint32,
	stack *stackEntry,
	locals []local,
	newSize int,
	newValue *value,
	newSite *registerSite,
) *registerResource {
	r := pickRegister(c, mask)

	if r.reserved {
		return r
	}

	if debugRegisters {
		c.debugf(
			"acquire %d freeze count %d ref count %d used %v exclusively %v\n",
			r.number,
			r.freezeCount,
			r.refCount,
			used(c, r),
			usedExclusively(c, r))
	}

	if r.refCount > 0 {
		r = replaceRegister(c, stack, locals, r)
	} else {
		oldValue := r.value
		if oldValue != nil &&
			oldValue != newValue &&
			findSite(c, oldValue, r.site) {

			if !stealRegister(c, r, stack, locals) {
				r = replaceRegister(c, stack, locals, r)
			}
		}
	}

	r.size = newSize
	r.value = newValue
	r.site = newSite

	return r
}

func releaseRegister(c *context, r *registerResource) {
	if debugRegisters {
		c.debugf("release %d\n", r.number)
	}

	r.size = 0
	r.value = nil
	r.site = nil
}

// validateRegister ensures site ends up bound to a register admitted by
// mask, preferring current, moving the data when a different register must
// be acquired.
func validateRegister(
	c *context,
	mask uint32,
	stack *stackEntry,
	locals []local,
	size int,
	v *value,
	s *registerSite,
	current *registerResource,
) *registerResource {
	if current != nil && mask&(1<<current.number) != 0 {
		if current.reserved || current.value == v {
			return current
		}

		if current.value == nil {
			current.size = size
			current.value = v
			current.site = s
			return current
		}

		removeSite(c, current.value, current.site)
	}

	r := acquireRegister(c, mask, stack, locals, size, v, s)

	if current != nil && current != r {
		releaseRegister(c, current)

		c.assembler.ApplyBinary(
			arch.Move,
			c.wordSize,
			assembler.Register{Low: current.number, High: arch.NoRegister},
			c.wordSize,
			assembler.Register{Low: r.number, High: arch.NoRegister})
	}

	return r
}
