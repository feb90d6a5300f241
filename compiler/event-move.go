package compiler

import (
	arch "github.com/pattyshack/towhee/architecture"
)

type moveEvent struct {
	eventBase

	op      arch.BinaryOperation
	srcSize int
	src     *value
	dstSize int
	dst     *value
	dstRead read
}

func (e *moveEvent) name() string {
	return "MoveEvent"
}

func (e *moveEvent) compile(c *context) {
	// A load has no further uses of src; a store has no uses of dst.
	isLoad := !validRead(e.src.reads.next(c))
	isStore := !validRead(e.dst.reads)

	target := targetOrRegister(c, e.dst)
	cost := e.src.source.copyCost(c, target)
	if cost == 0 && (isLoad || isStore) {
		target = e.src.source
	}

	c.assertf(
		isLoad || isStore || target != e.src.source,
		"move between aliased sites")

	if target == e.src.source {
		removeSite(c, e.src, target)
	}

	if !isStore {
		addSite(c, e.stackBefore, e.localsBefore, e.dstSize, e.dst, target)
	}

	if cost > 0 || e.op != arch.Move {
		constraint := anyConstraint()
		e.dstRead.intersect(&constraint)

		memoryToMemory := target.operandType(c) == arch.MemoryOperand &&
			e.src.source.operandType(c) == arch.MemoryOperand

		if target.match(c, constraint) && !memoryToMemory {
			applyBinary(c, e.op, e.srcSize, e.src.source, e.dstSize, target)
		} else {
			c.assertf(
				constraint.typeMask.Includes(arch.RegisterOperand),
				"move target admits no register")

			tmpTarget := freeRegisterSite(c, constraint.registerMask)

			addSite(c, e.stackBefore, e.localsBefore, e.dstSize, e.dst, tmpTarget)

			applyBinary(c, e.op, e.srcSize, e.src.source, e.dstSize, tmpTarget)

			if isStore {
				removeSite(c, e.dst, tmpTarget)
			}

			if memoryToMemory || isStore {
				applyBinary(c, arch.Move, e.dstSize, tmpTarget, e.dstSize, target)
			} else {
				removeSite(c, e.dst, target)
			}
		}
	}

	if isStore {
		removeSite(c, e.dst, target)
	}

	nextRead(c, e, e.src)
}

func appendMove(
	c *context,
	op arch.BinaryOperation,
	srcSize int,
	src *value,
	dstSize int,
	dst *value,
) {
	srcPlan, dstPlan, thunk := c.arch.PlanBinary(op, srcSize, dstSize)
	c.assertf(!thunk, "no native form for %s", op)

	e := &moveEvent{
		op:      op,
		srcSize: srcSize,
		src:     src,
		dstSize: dstSize,
		dst:     dst,
		dstRead: newRead(
			c,
			dstSize,
			operandConstraint{
				typeMask:     dstPlan.TypeMask,
				registerMask: dstPlan.RegisterMask,
				frameIndex:   anyFrameIndex,
			}),
	}
	initEvent(c, e)

	addRead(c, e, src, newRead(
		c,
		srcSize,
		operandConstraint{
			typeMask:     srcPlan.TypeMask,
			registerMask: srcPlan.RegisterMask,
			frameIndex:   anyFrameIndex,
		}))
}
