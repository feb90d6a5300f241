package compiler

import (
	arch "github.com/pattyshack/towhee/architecture"
)

// intersectFrameIndexes folds two frame index constraints.  noFrameIndex
// dominates, anyFrameIndex is the identity, equal indexes survive, and
// conflicting indexes cancel to noFrameIndex.
func intersectFrameIndexes(a int, b int) int {
	if a == noFrameIndex || b == noFrameIndex {
		return noFrameIndex
	}
	if a == anyFrameIndex {
		return b
	}
	if b == anyFrameIndex {
		return a
	}
	if a == b {
		return a
	}
	return noFrameIndex
}

// A read is one pending use of a value.  Reads chain per value in event
// order and per event in declaration order.
type read interface {
	// pickSite selects an existing site of v usable for this read.
	pickSite(c *context, v *value) site

	// allocateSite creates a site this read could use, or nil.
	allocateSite(c *context) site

	// intersect folds this read's constraint into the given constraint,
	// returning false when the read has become irrelevant.
	intersect(constraint *operandConstraint) bool

	valid() bool

	// appendNext links the value's next read after this one.
	appendNext(c *context, r read)

	next(c *context) read

	base() *readBase
}

type readBase struct {
	value     *value
	event     event
	eventNext read
	size      int
}

func (r *readBase) base() *readBase {
	return r
}

// A read with a fixed operand constraint.
type singleRead struct {
	readBase

	nextInChain read
	constraint  operandConstraint
}

func newRead(
	c *context,
	size int,
	constraint operandConstraint,
) *singleRead {
	c.assertf(
		constraint.typeMask != arch.TypeMaskOf(arch.MemoryOperand) ||
			constraint.frameIndex >= 0,
		"memory-only read without a frame index")

	r := c.singleReads.allocate()
	*r = singleRead{
		readBase:   readBase{size: size},
		constraint: constraint,
	}
	return r
}

func anyRegisterRead(c *context, size int) *singleRead {
	return newRead(
		c,
		size,
		operandConstraint{
			typeMask:     arch.TypeMaskOf(arch.RegisterOperand),
			registerMask: arch.AnyRegisterMask,
			frameIndex:   noFrameIndex,
		})
}

func registerOrConstantRead(c *context, size int) *singleRead {
	return newRead(
		c,
		size,
		operandConstraint{
			typeMask: arch.TypeMaskOf(
				arch.RegisterOperand,
				arch.ConstantOperand),
			registerMask: arch.AnyRegisterMask,
			frameIndex:   noFrameIndex,
		})
}

func fixedRegisterRead(c *context, size int, low int, high int) *singleRead {
	return newRead(
		c,
		size,
		operandConstraint{
			typeMask:     arch.TypeMaskOf(arch.RegisterOperand),
			registerMask: arch.RegisterPair(low, high),
			frameIndex:   noFrameIndex,
		})
}

func (r *singleRead) pickSite(c *context, v *value) site {
	return pickSite(c, v, r.constraint)
}

func (r *singleRead) allocateSite(c *context) site {
	return allocateSite(c, r.constraint)
}

func (r *singleRead) intersect(constraint *operandConstraint) bool {
	constraint.typeMask &= r.constraint.typeMask
	constraint.registerMask &= r.constraint.registerMask
	constraint.frameIndex = intersectFrameIndexes(
		constraint.frameIndex,
		r.constraint.frameIndex)
	return true
}

func (r *singleRead) valid() bool {
	return true
}

func (r *singleRead) appendNext(c *context, next read) {
	c.assertf(r.nextInChain == nil, "read chained twice")
	r.nextInChain = next
}

func (r *singleRead) next(c *context) read {
	return r.nextInChain
}

// A read standing for a value's uses across the successors of a state
// snapshot.  Children accumulate as successor paths are built; the
// effective constraint is their intersection.  The parallel targets list
// tracks, per successor path, the read that follows this one; emission
// advances through it with nextTarget.
type multiRead struct {
	readBase

	reads []read

	targets         []read
	nextTargetIndex int

	visited bool
}

func newMultiRead(c *context, size int) *multiRead {
	return &multiRead{readBase: readBase{size: size}}
}

func (r *multiRead) effectiveConstraint() operandConstraint {
	constraint := anyConstraint()
	r.intersect(&constraint)
	return constraint
}

func (r *multiRead) pickSite(c *context, v *value) site {
	return pickSite(c, v, r.effectiveConstraint())
}

func (r *multiRead) allocateSite(c *context) site {
	return allocateSite(c, r.effectiveConstraint())
}

func (r *multiRead) intersect(constraint *operandConstraint) bool {
	result := false
	if !r.visited {
		r.visited = true
		live := r.reads[:0]
		for _, child := range r.reads {
			if child.intersect(constraint) {
				result = true
				live = append(live, child)
			}
		}
		r.reads = live
		r.visited = false
	}
	return result
}

func (r *multiRead) valid() bool {
	result := false
	if !r.visited {
		r.visited = true
		live := r.reads[:0]
		for _, child := range r.reads {
			if child.valid() {
				result = true
				live = append(live, child)
			}
		}
		r.reads = live
		r.visited = false
	}
	return result
}

func (r *multiRead) appendNext(c *context, next read) {
	r.reads = append(r.reads, next)

	c.assertf(len(r.targets) > 0, "multi read append without target slot")
	r.targets[len(r.targets)-1] = next
}

func (r *multiRead) next(c *context) read {
	c.abort("next on multi read")
	return nil
}

func (r *multiRead) allocateTarget(c *context) {
	r.targets = append(r.targets, nil)
}

func (r *multiRead) nextTarget() read {
	target := r.targets[r.nextTargetIndex]
	r.nextTargetIndex++
	return target
}

// A placeholder read installed at a junction before the successor's reads
// exist; permissive until its inner read is set by the branch finalizer.
type stubRead struct {
	readBase

	read    read
	visited bool
}

func newStubRead(c *context, size int) *stubRead {
	return &stubRead{readBase: readBase{size: size}}
}

func (r *stubRead) effectiveConstraint() operandConstraint {
	constraint := anyConstraint()
	r.intersect(&constraint)
	return constraint
}

func (r *stubRead) pickSite(c *context, v *value) site {
	return pickSite(c, v, r.effectiveConstraint())
}

func (r *stubRead) allocateSite(c *context) site {
	return allocateSite(c, r.effectiveConstraint())
}

func (r *stubRead) intersect(constraint *operandConstraint) bool {
	if !r.visited {
		r.visited = true
		if r.read != nil {
			if !r.read.intersect(constraint) {
				r.read = nil
			}
		}
		r.visited = false
	}
	return true
}

func (r *stubRead) valid() bool {
	return true
}

func (r *stubRead) appendNext(c *context, next read) {
	r.read = next
}

func (r *stubRead) next(c *context) read {
	c.abort("next on stub read")
	return nil
}
