package compiler

import (
	"fmt"

	arch "github.com/pattyshack/towhee/architecture"
	"github.com/pattyshack/towhee/assembler"
)

// Where one use of a value must live: which operand kinds are acceptable,
// which registers, and (for memory operands based on the stack register)
// which frame slot.
type operandConstraint struct {
	typeMask     arch.TypeMask
	registerMask arch.RegisterMask
	frameIndex   int
}

func anyConstraint() operandConstraint {
	return operandConstraint{
		typeMask:     arch.AnyType,
		registerMask: arch.AnyRegisterMask,
		frameIndex:   anyFrameIndex,
	}
}

// A site is a concrete location holding (a copy of) a value: a constant, an
// absolute address, a register pair, or a memory expression.  Sites are
// attached to values, chosen against read constraints, and temporarily
// frozen while an event emits.
type site interface {
	describe(c *context) string

	// The cost of copying this site's contents to target (nil target means
	// the generic cost of reading the site).  Zero cost means target already
	// holds the value.
	copyCost(c *context, target site) int

	match(c *context, constraint operandConstraint) bool

	acquire(c *context, stack *stackEntry, locals []local, size int, v *value)
	release(c *context)

	freeze(c *context)
	thaw(c *context)

	operandType(c *context) arch.OperandType
	asAssemblerOperand(c *context) assembler.Operand

	// makeSpecific narrows the site to its currently held resources; used
	// when a junction site becomes a value's canonical home.
	makeSpecific(c *context)
}

// Default no-op resource management, embedded by sites that hold no
// allocator resources.
type inertSite struct{}

func (inertSite) acquire(*context, *stackEntry, []local, int, *value) {}
func (inertSite) release(*context)                                   {}
func (inertSite) freeze(*context)                                    {}
func (inertSite) thaw(*context)                                      {}
func (inertSite) makeSpecific(*context)                              {}

type constantSite struct {
	inertSite

	value arch.Promise
}

func newConstantSite(value arch.Promise) *constantSite {
	return &constantSite{value: value}
}

func resolvedConstantSite(c *context, value int64) *constantSite {
	return newConstantSite(arch.Resolved(value))
}

func (s *constantSite) describe(c *context) string {
	if s.value.Resolved() {
		return fmt.Sprintf("constant %d", s.value.Value())
	}
	return "constant unresolved"
}

func (s *constantSite) copyCost(c *context, target site) int {
	if target == site(s) {
		return 0
	}
	return 1
}

func (s *constantSite) match(
	c *context,
	constraint operandConstraint,
) bool {
	return constraint.typeMask.Includes(arch.ConstantOperand)
}

func (s *constantSite) operandType(c *context) arch.OperandType {
	return arch.ConstantOperand
}

func (s *constantSite) asAssemblerOperand(c *context) assembler.Operand {
	return assembler.Constant{Value: s.value}
}

type addressSite struct {
	inertSite

	address arch.Promise
}

func newAddressSite(address arch.Promise) *addressSite {
	return &addressSite{address: address}
}

func (s *addressSite) describe(c *context) string {
	if s.address.Resolved() {
		return fmt.Sprintf("address %d", s.address.Value())
	}
	return "address unresolved"
}

func (s *addressSite) copyCost(c *context, target site) int {
	if target == site(s) {
		return 0
	}
	return 3
}

func (s *addressSite) match(
	c *context,
	constraint operandConstraint,
) bool {
	return constraint.typeMask.Includes(arch.AddressOperand)
}

func (s *addressSite) operandType(c *context) arch.OperandType {
	return arch.AddressOperand
}

func (s *addressSite) asAssemblerOperand(c *context) assembler.Operand {
	return assembler.Address{Value: s.address}
}

// pickSite selects the cheapest existing site of v matching the constraint.
// Sites are scanned insertion-recent first; ties keep the earlier scan hit.
func pickSite(
	c *context,
	v *value,
	constraint operandConstraint,
) site {
	var best site
	bestCost := int(^uint(0) >> 1)
	for _, s := range v.sites {
		if s.match(c, constraint) {
			cost := s.copyCost(c, nil)
			if cost < bestCost {
				best = s
				bestCost = cost
			}
		}
	}
	return best
}

// allocateSite creates a new site satisfying the constraint, or nil if the
// constraint admits no allocatable location.
func allocateSite(c *context, constraint operandConstraint) site {
	if constraint.typeMask.Includes(arch.RegisterOperand) &&
		constraint.registerMask != 0 {

		return freeRegisterSite(c, constraint.registerMask)
	} else if constraint.frameIndex >= 0 {
		return frameSite(c, constraint.frameIndex)
	}
	return nil
}

// pick returns the site among sites cheapest to copy to target, along with
// the copy cost.
func pick(c *context, sites []site, target site) (site, int) {
	var best site
	bestCost := int(^uint(0) >> 1)
	for _, s := range sites {
		cost := s.copyCost(c, target)
		if cost < bestCost {
			best = s
			bestCost = cost
		}
	}
	return best, bestCost
}
