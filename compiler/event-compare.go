package compiler

import (
	arch "github.com/pattyshack/towhee/architecture"
)

type compareEvent struct {
	eventBase

	size   int
	first  *value
	second *value
}

func (e *compareEvent) name() string {
	return "CompareEvent"
}

func (e *compareEvent) compile(c *context) {
	firstConstant := findConstantSite(c, e.first)
	secondConstant := findConstantSite(c, e.second)

	if firstConstant != nil && secondConstant != nil {
		difference := firstConstant.value.Value() - secondConstant.value.Value()
		if difference < 0 {
			c.constantCompare = compareLess
		} else if difference > 0 {
			c.constantCompare = compareGreater
		} else {
			c.constantCompare = compareEqual
		}
	} else {
		c.constantCompare = compareNone

		applyBinary(
			c,
			arch.Compare,
			e.size,
			e.first.source,
			e.size,
			e.second.source)
	}

	nextRead(c, e, e.first)
	nextRead(c, e, e.second)
}

func appendCompare(
	c *context,
	size int,
	first *value,
	second *value,
) {
	firstPlan, secondPlan, thunk := c.arch.PlanBinary(arch.Compare, size, size)
	c.assertf(!thunk, "no native form for compare")

	e := &compareEvent{
		size:   size,
		first:  first,
		second: second,
	}
	initEvent(c, e)

	addRead(c, e, first, newRead(
		c,
		size,
		operandConstraint{
			typeMask:     firstPlan.TypeMask,
			registerMask: firstPlan.RegisterMask,
			frameIndex:   anyFrameIndex,
		}))
	addRead(c, e, second, newRead(
		c,
		size,
		operandConstraint{
			typeMask:     secondPlan.TypeMask,
			registerMask: secondPlan.RegisterMask,
			frameIndex:   anyFrameIndex,
		}))
}

type branchEvent struct {
	eventBase

	op      arch.UnaryOperation
	address *value
}

func (e *branchEvent) name() string {
	return "BranchEvent"
}

// compile folds a preceding constant compare into the branch: a condition
// already known true degrades to an unconditional jump; one known false
// emits nothing.
func (e *branchEvent) compile(c *context) {
	jump := true
	op := e.op
	if op != arch.Jump {
		switch c.constantCompare {
		case compareLess:
			switch op {
			case arch.JumpIfLess,
				arch.JumpIfLessOrEqual,
				arch.JumpIfNotEqual:
				op = arch.Jump
			default:
				jump = false
			}

		case compareGreater:
			switch op {
			case arch.JumpIfGreater,
				arch.JumpIfGreaterOrEqual,
				arch.JumpIfNotEqual:
				op = arch.Jump
			default:
				jump = false
			}

		case compareEqual:
			switch op {
			case arch.JumpIfEqual,
				arch.JumpIfLessOrEqual,
				arch.JumpIfGreaterOrEqual:
				op = arch.Jump
			default:
				jump = false
			}

		case compareNone:
			// Condition computed at run time; emit as is.

		default:
			c.abort("invalid constant compare state")
		}
	}

	if jump {
		applyUnary(c, op, c.wordSize, e.address.source)
	}

	nextRead(c, e, e.address)
}

func appendBranch(c *context, op arch.UnaryOperation, address *value) {
	e := &branchEvent{
		op:      op,
		address: address,
	}
	initEvent(c, e)

	addRead(c, e, address, newRead(
		c,
		c.wordSize,
		operandConstraint{
			typeMask:     arch.AnyType,
			registerMask: arch.AnyRegisterMask,
			frameIndex:   anyFrameIndex,
		}))
}
