package compiler

import (
	arch "github.com/pattyshack/towhee/architecture"
)

// An event is a scheduled IR node.  Construction (pass 1) declares the
// event's reads and snapshots the stack/locals; compile (pass 2) resolves
// sources and emits machine code.
type event interface {
	name() string
	compile(c *context)
	base() *eventBase
}

type eventBase struct {
	next event

	stackBefore  *stackEntry
	localsBefore []local
	stackAfter   *stackEntry
	localsAfter  []local

	promises *codePromise

	reads     read
	readCount int

	junctionSites []site
	savedSites    []site

	// predecessors[0] is the linear-order predecessor (when one exists);
	// later entries are edges added by visitLogicalIp.
	predecessors []event
	successors   []event

	block *block

	logicalInstruction *logicalInstruction

	state *snapshot

	junctionReads []stubReadPair
}

func (e *eventBase) base() *eventBase {
	return e
}

// initEvent links the event into the global event list and the current
// logical instruction, binds the linear predecessor, and captures the
// pending state snapshot.
func initEvent(c *context, e event) {
	c.assertf(c.logicalIp >= 0, "event appended before any logical ip")

	base := e.base()
	base.stackBefore = c.stack
	base.localsBefore = c.locals
	base.logicalInstruction = c.logicalCode[c.logicalIp]
	base.state = c.state

	if c.lastEvent != nil {
		c.lastEvent.base().next = e
	} else {
		c.firstEvent = e
	}
	c.lastEvent = e

	p := c.predecessor
	if p != nil {
		pBase := p.base()
		pBase.stackAfter = base.stackBefore
		pBase.localsAfter = base.localsBefore

		base.predecessors = append(base.predecessors, p)
		pBase.successors = append(pBase.successors, e)
	}

	c.predecessor = e

	if base.logicalInstruction.firstEvent == nil {
		base.logicalInstruction.firstEvent = e
	}
	base.logicalInstruction.lastEvent = e

	c.state = nil
}

// One instruction of the machine-independent input program.  Delimits
// emitted code spans for branch fix-up.
type logicalInstruction struct {
	firstEvent event
	lastEvent  event

	stack  *stackEntry
	locals []local

	machineOffset arch.Promise

	index int
}

func newLogicalInstruction(
	c *context,
	index int,
) *logicalInstruction {
	return &logicalInstruction{
		stack:  c.stack,
		locals: c.locals,
		index:  index,
	}
}

func addRead(c *context, e event, v *value, r read) {
	base := r.base()
	base.value = v
	if e != nil {
		eBase := e.base()
		base.event = e
		base.eventNext = eBase.reads
		eBase.reads = r
		eBase.readCount++
	}

	if v.lastRead != nil {
		v.lastRead.appendNext(c, r)
	} else {
		v.reads = r
	}
	v.lastRead = r
}

// cleanValue drops every non-stack-memory site, leaving only frame-resident
// copies (used across calls, which clobber registers).
func cleanValue(c *context, v *value) {
	memoryOnly := operandConstraint{
		typeMask:     arch.TypeMaskOf(arch.MemoryOperand),
		registerMask: 0,
		frameIndex:   anyFrameIndex,
	}

	kept := v.sites[:0]
	for _, s := range v.sites {
		if s.match(c, memoryOnly) {
			kept = append(kept, s)
		} else {
			s.release(c)
		}
	}
	v.sites = kept
}

// cleanAfterCall scrubs register sites off every live local and stack value
// and consumes the event's reads.
func cleanAfterCall(
	c *context,
	e event,
	stack *stackEntry,
	locals []local,
	reads read,
) {
	for i := 0; i < c.localFootprint; i++ {
		if locals[i].value != nil {
			cleanValue(c, locals[i].value)
		}
	}

	for s := stack; s != nil; s = s.next {
		cleanValue(c, s.value)
	}

	for r := reads; r != nil; r = r.base().eventNext {
		nextRead(c, e, r.base().value)
	}
}

func newEventCodePromise(c *context, e event) *codePromise {
	base := e.base()
	base.promises = &codePromise{c: c, next: base.promises}
	return base.promises
}

func newCodePromise(c *context, offset arch.Promise) *codePromise {
	return &codePromise{c: c, offset: offset}
}

func applyUnary(
	c *context,
	op arch.UnaryOperation,
	aSize int,
	a site,
) {
	c.assembler.ApplyUnary(op, aSize, a.asAssemblerOperand(c))
}

func applyBinary(
	c *context,
	op arch.BinaryOperation,
	aSize int,
	a site,
	bSize int,
	b site,
) {
	c.assembler.ApplyBinary(
		op,
		aSize,
		a.asAssemblerOperand(c),
		bSize,
		b.asAssemblerOperand(c))
}

func applyTernary(
	c *context,
	op arch.TernaryOperation,
	aSize int,
	a site,
	bSize int,
	b site,
	resultSize int,
	result site,
) {
	c.assembler.ApplyTernary(
		op,
		aSize,
		a.asAssemblerOperand(c),
		bSize,
		b.asAssemblerOperand(c),
		resultSize,
		result.asAssemblerOperand(c))
}

func findConstantSite(c *context, v *value) *constantSite {
	for _, s := range v.sites {
		constant, ok := s.(*constantSite)
		if ok {
			return constant
		}
	}
	return nil
}

func targetOrNullForRead(c *context, v *value, r read) site {
	if v.target != nil {
		return v.target
	}

	s := r.pickSite(c, v)
	if s != nil {
		return s
	}
	return r.allocateSite(c)
}

func targetOrNull(c *context, v *value) site {
	if v.target != nil {
		return v.target
	}
	if live(v) {
		return targetOrNullForRead(c, v, v.reads)
	}
	return nil
}

func targetOrRegister(c *context, v *value) site {
	s := targetOrNull(c, v)
	if s != nil {
		return s
	}
	return freeRegisterSite(c, arch.AnyRegisterMask)
}

// moveValue copies v from src to dst, routing memory-to-memory transfers
// through a temporary register site.
func moveValue(
	c *context,
	stack *stackEntry,
	locals []local,
	size int,
	v *value,
	src site,
	dst site,
) {
	if dst.operandType(c) == arch.MemoryOperand &&
		src.operandType(c) == arch.MemoryOperand {

		tmp := freeRegisterSite(c, arch.AnyRegisterMask)
		addSite(c, stack, locals, size, v, tmp)
		applyBinary(c, arch.Move, size, src, size, tmp)
		src = tmp
	}

	addSite(c, stack, locals, size, v, dst)
	applyBinary(c, arch.Move, size, src, size, dst)
}

// preserveValue saves v (whose only site is s) somewhere its next read can
// use before s is taken away.
func preserveValue(
	c *context,
	stack *stackEntry,
	locals []local,
	size int,
	v *value,
	s site,
	r read,
) {
	c.assertf(
		len(v.sites) == 1 && v.sites[0] == s,
		"preserve of non-sole site")

	target := targetOrNullForRead(c, v, r)
	if target == nil || target == s {
		target = freeRegisterSite(c, arch.AnyRegisterMask)
	}
	moveValue(c, stack, locals, size, v, s, target)
}

func maybePreserve(
	c *context,
	stack *stackEntry,
	locals []local,
	size int,
	v *value,
	s site,
) {
	if validRead(v.reads.next(c)) && len(v.sites) == 1 {
		preserveValue(c, stack, locals, size, v, s, v.reads.next(c))
	}
}

// readSource resolves where a read's value should be consumed from,
// inserting a move when no current site satisfies the constraint.
func readSource(
	c *context,
	stack *stackEntry,
	locals []local,
	r read,
) site {
	v := r.base().value
	if len(v.sites) == 0 {
		return nil
	}

	s := r.pickSite(c, v)
	if s != nil {
		return s
	}

	target := r.allocateSite(c)
	s, cost := pick(c, v.sites, target)
	c.assertf(cost > 0, "source move with zero copy cost")
	moveValue(c, stack, locals, r.base().size, v, s, target)
	return target
}

func frameFootprint(c *context, s *stackEntry) int {
	if s != nil {
		return c.localFootprint + s.index + s.size
	}
	return c.localFootprint
}
