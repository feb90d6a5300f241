package compiler

import (
	"github.com/pattyshack/towhee/assembler"
)

// A block is a contiguous span of emitted code; spans are chained in
// instruction order so relative branches can be patched once every block's
// extent is known.
type block struct {
	head            event
	nextInstruction *logicalInstruction
	assemblerBlock  assembler.Block
	start           int
}

func newBlock(head event) *block {
	return &block{head: head}
}

func (c *context) nextInstruction(i *logicalInstruction) *logicalInstruction {
	for n := i.index + 1; n < c.logicalCodeLength; n++ {
		next := c.logicalCode[n]
		if next != nil {
			return next
		}
	}
	return nil
}

// compileEvents is pass 2: walk the event list in order, reconciling sites across
// control-flow edges, resolving each event's sources, and emitting code;
// then stitch block offsets.
func compileEvents(c *context) int {
	if c.logicalIp >= 0 && c.logicalCode[c.logicalIp].lastEvent == nil {
		appendDummy(c)
	}

	a := c.assembler

	c.pass = compilePass

	firstBlock := newBlock(c.firstEvent)
	currentBlock := firstBlock

	a.AllocateFrame(c.alignedFrameSize)

	for e := c.firstEvent; e != nil; e = e.base().next {
		base := e.base()
		base.block = currentBlock

		if debugCompile {
			c.debugf(
				"compile %s at %d with %d preds, %d succs\n",
				e.name(),
				base.logicalInstruction.index,
				len(base.predecessors),
				len(base.successors))
		}

		if base.logicalInstruction.machineOffset == nil {
			base.logicalInstruction.machineOffset = a.Offset()
		}

		if base.state != nil {
			for i := range base.state.reads {
				pair := &base.state.reads[i]
				pair.value.reads = pair.read.nextTarget()
			}
		}

		if len(base.predecessors) > 0 {
			predecessor := base.predecessors[len(base.predecessors)-1]
			if len(base.predecessors) > 1 {
				// All predecessors except the linear-order one carry
				// junction stub reads installed at their branch sites.
				for _, p := range base.predecessors[1:] {
					updateJunctionReads(c, p.base())
				}
				setSites(c, base, predecessor.base().junctionSites)
			} else if len(predecessor.base().successors) > 1 {
				setSites(c, base, predecessor.base().savedSites)
			}
		}

		populateSources(c, e)

		e.compile(c)

		if len(base.successors) > 0 {
			populateSiteTables(c, e)
		}

		for p := base.promises; p != nil; p = p.next {
			p.offset = a.Offset()
		}

		nextInstruction := c.nextInstruction(base.logicalInstruction)
		next := base.next
		if next == nil ||
			(next.base().logicalInstruction != base.logicalInstruction &&
				(base.logicalInstruction.lastEvent == e ||
					next.base().logicalInstruction != nextInstruction)) {

			currentBlock.nextInstruction = nextInstruction
			currentBlock.assemblerBlock = a.EndBlock(next != nil)
			if next != nil {
				currentBlock = newBlock(next)
			}
		}
	}

	currentBlock = firstBlock
	for currentBlock.nextInstruction != nil {
		next := currentBlock.nextInstruction.firstEvent.base().block
		next.start = currentBlock.assemblerBlock.Resolve(
			currentBlock.start,
			next.assemblerBlock)
		currentBlock = next
	}

	return currentBlock.assemblerBlock.Resolve(currentBlock.start, nil)
}

// populateSources picks a source site for each of the event's reads,
// freezing each resolved source so later reads of the same event cannot
// displace it.
func populateSources(c *context, e event) {
	base := e.base()
	frozenSites := make([]site, 0, base.readCount)
	for r := base.reads; r != nil; r = r.base().eventNext {
		v := r.base().value
		v.source = readSource(c, base.stackBefore, base.localsBefore, r)

		if v.source != nil {
			c.assertf(
				len(frozenSites) < base.readCount,
				"more sources than reads")
			frozenSites = append(frozenSites, v.source)
			v.source.freeze(c)
		}
	}

	for i := len(frozenSites) - 1; i >= 0; i-- {
		frozenSites[i].thaw(c)
	}
}
