package compiler

import (
	arch "github.com/pattyshack/towhee/architecture"
)

type callEvent struct {
	eventBase

	address      *value
	traceHandler TraceHandler
	result       *value
	flags        int
	resultSize   int
}

func (e *callEvent) name() string {
	return "CallEvent"
}

func (e *callEvent) compile(c *context) {
	op := arch.Call
	if e.flags&Aligned != 0 {
		op = arch.AlignedCall
	}
	applyUnary(c, op, c.wordSize, e.address.source)

	if e.traceHandler != nil {
		e.traceHandler.HandleTrace(newCodePromise(c, c.assembler.Offset()))
	}

	cleanAfterCall(c, e, e.stackBefore, e.localsBefore, e.reads)

	if e.resultSize > 0 && live(e.result) {
		high := arch.NoRegister
		if e.resultSize > c.wordSize {
			high = c.arch.ReturnHigh()
		}
		addSite(
			c,
			nil,
			nil,
			e.resultSize,
			e.result,
			newRegisterSite(c, c.arch.ReturnLow(), high))
	}
}

// appendCall declares the call ABI as reads: leading arguments go to the
// architecture's argument registers, the rest to frame slots descending
// from the outgoing frame boundary.  Pre-call stack values within the stack
// argument footprint continue into the outgoing frame slots; every other
// pre-call stack value and every local is pinned to memory at its own frame
// index.
func appendCall(
	c *context,
	address *value,
	flags int,
	traceHandler TraceHandler,
	result *value,
	resultSize int,
	argumentStack *stackEntry,
	argumentCount int,
	stackArgumentFootprint int,
) {
	e := &callEvent{
		address:      address,
		traceHandler: traceHandler,
		result:       result,
		flags:        flags,
		resultSize:   resultSize,
	}
	initEvent(c, e)

	mask := uint32(^uint32(0))
	s := argumentStack
	index := 0
	frameIndex := c.alignedFrameSize + c.parameterFootprint
	for i := 0; i < argumentCount; i++ {
		var target read
		if index < c.arch.ArgumentRegisterCount() {
			r := c.arch.ArgumentRegister(index)
			target = fixedRegisterRead(
				c,
				s.size*c.wordSize,
				r,
				arch.NoRegister)
			mask &^= uint32(1) << r
		} else {
			frameIndex -= s.size
			target = newRead(
				c,
				s.size*c.wordSize,
				operandConstraint{
					typeMask:     arch.TypeMaskOf(arch.MemoryOperand),
					registerMask: 0,
					frameIndex:   frameIndex,
				})
		}
		addRead(c, e, s.value, target)
		index += s.size
		s = s.next
	}

	addRead(c, e, address, newRead(
		c,
		c.wordSize,
		operandConstraint{
			typeMask:     arch.AnyType,
			registerMask: arch.RegisterMask(mask)<<32 | arch.RegisterMask(mask),
			frameIndex:   anyFrameIndex,
		}))

	footprint := stackArgumentFootprint
	for s := e.stackBefore; s != nil; s = s.next {
		frameIndex -= s.size
		if footprint > 0 {
			addRead(c, e, s.value, newRead(
				c,
				s.size*c.wordSize,
				operandConstraint{
					typeMask:     arch.TypeMaskOf(arch.MemoryOperand),
					registerMask: 0,
					frameIndex:   frameIndex,
				}))
		} else {
			index := s.index + c.localFootprint
			if footprint == 0 {
				c.assertf(
					index <= frameIndex,
					"stack entry overlaps outgoing arguments")
				s.padding = frameIndex - index
			}
			addRead(c, e, s.value, newRead(
				c,
				s.size*c.wordSize,
				operandConstraint{
					typeMask:     arch.TypeMaskOf(arch.MemoryOperand),
					registerMask: 0,
					frameIndex:   index,
				}))
		}
		footprint -= s.size
	}

	for i := 0; i < c.localFootprint; i++ {
		local := e.localsBefore[i]
		if local.value != nil {
			addRead(c, e, local.value, newRead(
				c,
				local.size,
				operandConstraint{
					typeMask:     arch.TypeMaskOf(arch.MemoryOperand),
					registerMask: 0,
					frameIndex:   i,
				}))
		}
	}
}

type returnEvent struct {
	eventBase

	value *value
}

func (e *returnEvent) name() string {
	return "ReturnEvent"
}

func (e *returnEvent) compile(c *context) {
	if e.value != nil {
		nextRead(c, e, e.value)
	}

	c.assembler.PopFrame()
	c.assembler.Apply(arch.Return)
}

func appendReturn(c *context, size int, v *value) {
	e := &returnEvent{value: v}
	initEvent(c, e)

	if v != nil {
		high := arch.NoRegister
		if size > c.wordSize {
			high = c.arch.ReturnHigh()
		}
		addRead(c, e, v, fixedRegisterRead(c, size, c.arch.ReturnLow(), high))
	}
}
