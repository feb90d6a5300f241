package compiler

import (
	"fmt"

	arch "github.com/pattyshack/towhee/architecture"
	"github.com/pattyshack/towhee/assembler"
)

// Per-frame-slot allocator state, parallel to registerResource.  Slots are
// keyed by frame index in [0, alignedFrameSize+parameterFootprint).
type frameResource struct {
	value *value
	site  *memorySite

	size        int
	freezeCount int
}

// localOffset maps a frame index to a byte offset from the stack pointer.
// Parameter slots (index below the parameter footprint) sit above the saved
// frame header; local and spill slots sit within the frame body.
func localOffset(c *context, frameIndex int) int {
	parameterFootprint := c.parameterFootprint
	frameSize := c.alignedFrameSize

	var words int
	if frameIndex < parameterFootprint {
		words = frameSize +
			parameterFootprint +
			(c.arch.FrameFooterSize() * 2) +
			c.arch.FrameHeaderSize() -
			frameIndex - 1
	} else {
		words = frameSize +
			parameterFootprint +
			c.arch.FrameFooterSize() -
			frameIndex - 1
	}

	offset := words * c.wordSize
	c.assertf(offset >= 0, "negative local offset for frame index %d", frameIndex)

	return offset
}

// localOffsetToFrameIndex inverts localOffset; the round trip is exact.
func localOffsetToFrameIndex(c *context, offset int) int {
	parameterFootprint := c.parameterFootprint
	frameSize := c.alignedFrameSize

	normalizedOffset := offset / c.wordSize

	var frameIndex int
	if normalizedOffset > frameSize {
		frameIndex = frameSize +
			parameterFootprint +
			(c.arch.FrameFooterSize() * 2) +
			c.arch.FrameHeaderSize() -
			normalizedOffset - 1
	} else {
		frameIndex = frameSize +
			parameterFootprint +
			c.arch.FrameFooterSize() -
			normalizedOffset - 1
	}

	c.assertf(frameIndex >= 0, "negative frame index for offset %d", offset)
	c.assertf(
		localOffset(c, frameIndex) == offset,
		"frame index mapping does not round trip at offset %d",
		offset)

	return frameIndex
}

func stealFrameIndex(c *context, r *frameResource) bool {
	v := r.value
	c.assertf(v.reads != nil, "steal of frame slot from dead value")
	c.assertf(len(v.sites) > 1, "steal of frame slot holding a value's only site")

	if debugFrameIndexes {
		index := frameResourceIndex(c, r)
		c.debugf(
			"steal frame index %d offset %#x\n",
			index,
			localOffset(c, index))
	}

	removeSite(c, v, r.site)

	return true
}

func frameResourceIndex(c *context, r *frameResource) int {
	for i := range c.frameResources {
		if &c.frameResources[i] == r {
			return i
		}
	}
	return -1
}

func acquireFrameIndex(
	c *context,
	index int,
	stack *stackEntry,
	locals []local,
	newSize int,
	newValue *value,
	newSite *memorySite,
	recurse bool,
) {
	c.assertf(
		index >= 0 && index < c.alignedFrameSize+c.parameterFootprint,
		"frame index %d out of range",
		index)

	if debugFrameIndexes {
		c.debugf(
			"acquire frame index %d offset %#x\n",
			index,
			localOffset(c, index))
	}

	r := &c.frameResources[index]

	if recurse && newSize > c.wordSize {
		acquireFrameIndex(
			c,
			index+1,
			stack,
			locals,
			newSize,
			newValue,
			newSite,
			false)
	}

	oldValue := r.value
	if oldValue != nil &&
		oldValue != newValue &&
		findSite(c, oldValue, r.site) {

		if !stealFrameIndex(c, r) {
			c.abort("unable to steal frame index %d", index)
		}
	}

	r.size = newSize
	r.value = newValue
	r.site = newSite
}

func releaseFrameIndex(c *context, index int, recurse bool) {
	c.assertf(
		index >= 0 && index < c.alignedFrameSize+c.parameterFootprint,
		"frame index %d out of range",
		index)

	if debugFrameIndexes {
		c.debugf(
			"release frame index %d offset %#x\n",
			index,
			localOffset(c, index))
	}

	r := &c.frameResources[index]

	if recurse && r.size > c.wordSize {
		releaseFrameIndex(c, index+1, false)
	}

	r.size = 0
	r.value = nil
	r.site = nil
}

// A memory expression base+offset+index*scale.  Register resources are
// acquired on attachment so that register renumbering (swap) tracks
// through; a site based on the stack register additionally owns its frame
// slot.
type memorySite struct {
	base  *registerResource
	index *registerResource

	baseNumber  int
	offset      int
	indexNumber int
	scale       int
}

func newMemorySite(
	c *context,
	base int,
	offset int,
	index int,
	scale int,
) *memorySite {
	return &memorySite{
		baseNumber:  base,
		offset:      offset,
		indexNumber: index,
		scale:       scale,
	}
}

func frameSite(c *context, frameIndex int) *memorySite {
	c.assertf(frameIndex >= 0, "negative frame index %d", frameIndex)
	return newMemorySite(
		c,
		c.arch.Stack(),
		localOffset(c, frameIndex),
		arch.NoRegister,
		1)
}

// sync refreshes the cached register numbers from the acquired resources.
func (s *memorySite) sync(c *context) {
	c.assertf(s.base != nil, "sync of unacquired memory site")

	s.baseNumber = s.base.number
	if s.index != nil {
		s.indexNumber = s.index.number
	} else {
		s.indexNumber = arch.NoRegister
	}
}

func (s *memorySite) describe(c *context) string {
	if s.base == nil {
		return "memory unacquired"
	}
	s.sync(c)
	return fmt.Sprintf(
		"memory %d %d %d %d",
		s.baseNumber,
		s.offset,
		s.indexNumber,
		s.scale)
}

func (s *memorySite) copyCost(c *context, target site) int {
	s.sync(c)

	if target == nil {
		return 4
	}

	if target == site(s) {
		return 0
	}

	other, ok := target.(*memorySite)
	if ok &&
		other.baseNumber == s.baseNumber &&
		other.offset == s.offset &&
		other.indexNumber == s.indexNumber &&
		other.scale == s.scale {

		return 0
	}
	return 4
}

func (s *memorySite) match(
	c *context,
	constraint operandConstraint,
) bool {
	if !constraint.typeMask.Includes(arch.MemoryOperand) {
		return false
	}

	s.sync(c)
	if s.baseNumber != c.arch.Stack() {
		return false
	}

	c.assertf(
		s.indexNumber == arch.NoRegister,
		"stack-based memory site with index register")

	return constraint.frameIndex == anyFrameIndex ||
		(constraint.frameIndex != noFrameIndex &&
			localOffset(c, constraint.frameIndex) == s.offset)
}

func (s *memorySite) acquire(
	c *context,
	stack *stackEntry,
	locals []local,
	size int,
	v *value,
) {
	s.base = increment(c, s.baseNumber)
	if s.indexNumber != arch.NoRegister {
		s.index = increment(c, s.indexNumber)
	}

	if s.baseNumber == c.arch.Stack() {
		c.assertf(
			s.indexNumber == arch.NoRegister,
			"stack-based memory site with index register")

		acquireFrameIndex(
			c,
			localOffsetToFrameIndex(c, s.offset),
			stack,
			locals,
			size,
			v,
			s,
			true)
	}
}

func (s *memorySite) release(c *context) {
	if s.baseNumber == c.arch.Stack() {
		c.assertf(
			s.indexNumber == arch.NoRegister,
			"stack-based memory site with index register")

		releaseFrameIndex(c, localOffsetToFrameIndex(c, s.offset), true)
	}

	decrement(c, s.base)
	if s.index != nil {
		decrement(c, s.index)
	}
}

// Frame-slot freezes are bookkeeping only; they assert pairing but do not
// influence slot selection.
func (s *memorySite) freeze(c *context) {
	if s.base != nil && s.baseNumber == c.arch.Stack() {
		index := localOffsetToFrameIndex(c, s.offset)
		c.frameResources[index].freezeCount++
	}
}

func (s *memorySite) thaw(c *context) {
	if s.base != nil && s.baseNumber == c.arch.Stack() {
		index := localOffsetToFrameIndex(c, s.offset)
		r := &c.frameResources[index]
		c.assertf(r.freezeCount > 0, "unbalanced thaw of frame index %d", index)
		r.freezeCount--
	}
}

func (s *memorySite) operandType(c *context) arch.OperandType {
	return arch.MemoryOperand
}

func (s *memorySite) asAssemblerOperand(c *context) assembler.Operand {
	s.sync(c)
	return assembler.Memory{
		Base:   s.baseNumber,
		Offset: s.offset,
		Index:  s.indexNumber,
		Scale:  s.scale,
	}
}

func (s *memorySite) makeSpecific(c *context) {}
