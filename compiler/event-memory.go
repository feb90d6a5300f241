package compiler

import (
	arch "github.com/pattyshack/towhee/architecture"
	"github.com/pattyshack/towhee/assembler"
)

type memoryEvent struct {
	eventBase

	baseValue    *value
	displacement int
	indexValue   *value
	scale        int
	result       *value
}

func (e *memoryEvent) name() string {
	return "MemoryEvent"
}

// compile folds a constant index into the displacement; a runtime index
// must end up in a register and keeps its scale.
func (e *memoryEvent) compile(c *context) {
	indexRegister := arch.NoRegister
	displacement := e.displacement
	scale := e.scale
	if e.indexValue != nil {
		constant := findConstantSite(c, e.indexValue)

		if constant != nil {
			displacement += int(constant.value.Value()) * scale
			scale = 1
		} else {
			indexSite, ok := e.indexValue.source.(*registerSite)
			c.assertf(ok, "memory index resolved to a non-register site")
			indexRegister = indexSite.low.number
		}
	}

	baseSite, ok := e.baseValue.source.(*registerSite)
	c.assertf(ok, "memory base resolved to a non-register site")
	baseRegister := baseSite.low.number

	nextRead(c, e, e.baseValue)
	if e.indexValue != nil {
		if c.wordSize == 8 && indexRegister != arch.NoRegister {
			applyBinary(
				c,
				arch.Move,
				4,
				e.indexValue.source,
				8,
				e.indexValue.source)
		}

		nextRead(c, e, e.indexValue)
	}

	e.result.target = newMemorySite(
		c,
		baseRegister,
		displacement,
		indexRegister,
		scale)
	addSite(c, nil, nil, 0, e.result, e.result.target)
}

func appendMemory(
	c *context,
	base *value,
	displacement int,
	index *value,
	scale int,
	result *value,
) {
	e := &memoryEvent{
		baseValue:    base,
		displacement: displacement,
		indexValue:   index,
		scale:        scale,
		result:       result,
	}
	initEvent(c, e)

	addRead(c, e, base, anyRegisterRead(c, c.wordSize))
	if index != nil {
		addRead(c, e, index, registerOrConstantRead(c, c.wordSize))
	}
}

type boundsCheckEvent struct {
	eventBase

	object       *value
	lengthOffset int
	index        *value
	handler      int64
}

func (e *boundsCheckEvent) name() string {
	return "BoundsCheckEvent"
}

// compile emits the range check:
//
//	compare 0, index; jump-if-less fail
//	compare index, [object+lengthOffset]; jump-if-greater ok
//	fail: call handler
//	ok:
//
// A constant index skips the lower-bound compare; a constant negative index
// reduces the whole check to the handler call.  The handler is a
// non-returning runtime helper, so no caller-save synchronization happens
// around the call.
func (e *boundsCheckEvent) compile(c *context) {
	constant := findConstantSite(c, e.index)
	nextPromise := newCodePromise(c, nil)
	var outOfBoundsPromise *codePromise

	alwaysOutOfBounds := false
	if constant != nil {
		alwaysOutOfBounds = constant.value.Value() < 0
	} else {
		outOfBoundsPromise = newCodePromise(c, nil)

		applyBinary(
			c,
			arch.Compare,
			4,
			resolvedConstantSite(c, 0),
			4,
			e.index.source)

		c.assembler.ApplyUnary(
			arch.JumpIfLess,
			c.wordSize,
			assembler.Constant{Value: outOfBoundsPromise})
	}

	if !alwaysOutOfBounds {
		objectSite, ok := e.object.source.(*registerSite)
		c.assertf(ok, "bounds check object resolved to a non-register site")
		base := objectSite.low.number

		length := newMemorySite(c, base, e.lengthOffset, arch.NoRegister, 1)
		length.acquire(c, nil, nil, 0, nil)

		applyBinary(c, arch.Compare, 4, e.index.source, 4, length)

		length.release(c)

		c.assembler.ApplyUnary(
			arch.JumpIfGreater,
			c.wordSize,
			assembler.Constant{Value: nextPromise})
	}

	if outOfBoundsPromise != nil {
		outOfBoundsPromise.offset = c.assembler.Offset()
	}

	c.assembler.ApplyUnary(
		arch.Call,
		c.wordSize,
		assembler.Constant{Value: arch.Resolved(e.handler)})

	nextPromise.offset = c.assembler.Offset()

	nextRead(c, e, e.object)
	nextRead(c, e, e.index)
}

func appendBoundsCheck(
	c *context,
	object *value,
	lengthOffset int,
	index *value,
	handler int64,
) {
	e := &boundsCheckEvent{
		object:       object,
		lengthOffset: lengthOffset,
		index:        index,
		handler:      handler,
	}
	initEvent(c, e)

	addRead(c, e, object, anyRegisterRead(c, c.wordSize))
	addRead(c, e, index, registerOrConstantRead(c, c.wordSize))
}
