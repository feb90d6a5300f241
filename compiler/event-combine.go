package compiler

import (
	arch "github.com/pattyshack/towhee/architecture"
)

type combineEvent struct {
	eventBase

	op         arch.TernaryOperation
	firstSize  int
	first      *value
	secondSize int
	second     *value
	resultSize int
	result     *value
	resultRead read
}

func (e *combineEvent) name() string {
	return "CombineEvent"
}

func (e *combineEvent) compile(c *context) {
	var target site
	if c.arch.CondensedAddressing() {
		maybePreserve(
			c,
			e.stackBefore,
			e.localsBefore,
			e.secondSize,
			e.second,
			e.second.source)
		target = e.second.source
	} else {
		target = e.resultRead.allocateSite(c)
		addSite(c, e.stackBefore, e.localsBefore, e.resultSize, e.result, target)
	}

	applyTernary(
		c,
		e.op,
		e.firstSize,
		e.first.source,
		e.secondSize,
		e.second.source,
		e.resultSize,
		target)

	nextRead(c, e, e.first)
	nextRead(c, e, e.second)

	if c.arch.CondensedAddressing() {
		removeSite(c, e.second, e.second.source)
		if e.result.reads != nil {
			addSite(c, nil, nil, e.resultSize, e.result, e.second.source)
		}
	}
}

func appendCombine(
	c *context,
	op arch.TernaryOperation,
	firstSize int,
	first *value,
	secondSize int,
	second *value,
	resultSize int,
	result *value,
) {
	firstPlan, secondPlan, resultPlan, thunk := c.arch.PlanTernary(
		op,
		firstSize,
		secondSize,
		resultSize)

	if thunk {
		// No native form; call the client's helper routine with both
		// operands passed as call arguments, first operand first.
		oldStack := c.stack

		c.push(secondSize, second)
		c.push(firstSize, first)

		argumentStack := c.stack
		c.stack = oldStack

		appendCall(
			c,
			newValue(
				c,
				resolvedConstantSite(c, c.client.GetThunk(op, resultSize)),
				nil),
			0,
			nil,
			result,
			resultSize,
			argumentStack,
			2,
			0)
		return
	}

	resultRead := newRead(
		c,
		resultSize,
		operandConstraint{
			typeMask:     resultPlan.TypeMask,
			registerMask: resultPlan.RegisterMask,
			frameIndex:   anyFrameIndex,
		})
	var secondRead read
	if c.arch.CondensedAddressing() {
		secondRead = resultRead
	} else {
		secondRead = newRead(
			c,
			secondSize,
			operandConstraint{
				typeMask:     secondPlan.TypeMask,
				registerMask: secondPlan.RegisterMask,
				frameIndex:   anyFrameIndex,
			})
	}

	e := &combineEvent{
		op:         op,
		firstSize:  firstSize,
		first:      first,
		secondSize: secondSize,
		second:     second,
		resultSize: resultSize,
		result:     result,
		resultRead: resultRead,
	}
	initEvent(c, e)

	addRead(c, e, first, newRead(
		c,
		firstSize,
		operandConstraint{
			typeMask:     firstPlan.TypeMask,
			registerMask: firstPlan.RegisterMask,
			frameIndex:   anyFrameIndex,
		}))
	addRead(c, e, second, secondRead)
}

type translateEvent struct {
	eventBase

	op     arch.BinaryOperation
	size   int
	source *value
	result *value
}

func (e *translateEvent) name() string {
	return "TranslateEvent"
}

func (e *translateEvent) compile(c *context) {
	maybePreserve(
		c,
		e.stackBefore,
		e.localsBefore,
		e.size,
		e.source,
		e.source.source)

	target := e.source.source
	if live(e.result) {
		target = targetOrRegister(c, e.result)
		addSite(c, e.stackBefore, e.localsBefore, e.size, e.result, target)
	}
	applyBinary(c, e.op, e.size, e.source.source, e.size, target)

	nextRead(c, e, e.source)

	removeSite(c, e.source, e.source.source)
	if live(e.result) {
		addSite(c, nil, nil, e.size, e.result, e.source.source)
	}
}

func appendTranslate(
	c *context,
	op arch.BinaryOperation,
	size int,
	source *value,
	result *value,
) {
	sourcePlan, _, thunk := c.arch.PlanBinary(op, size, size)
	c.assertf(!thunk, "no native form for %s", op)

	e := &translateEvent{
		op:     op,
		size:   size,
		source: source,
		result: result,
	}
	initEvent(c, e)

	addRead(c, e, source, newRead(
		c,
		size,
		operandConstraint{
			typeMask:     sourcePlan.TypeMask,
			registerMask: sourcePlan.RegisterMask,
			frameIndex:   anyFrameIndex,
		}))
}
