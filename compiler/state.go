package compiler

type multiReadPair struct {
	value *value
	read  *multiRead
}

// A snapshot of the builder's position: stack, locals, predecessor event,
// and logical ip, plus a multi read per live value standing for whatever
// uses the successor paths will declare.  Restoring a snapshot resumes
// appending from that position, modelling a control-flow rejoin.
type snapshot struct {
	stack       *stackEntry
	locals      []local
	predecessor event
	logicalIp   int

	reads []multiReadPair
}

func (s *snapshot) isState() {}

func allocateTargets(c *context, s *snapshot) {
	for i := range s.reads {
		pair := &s.reads[i]
		pair.value.lastRead = pair.read
		pair.read.allocateTarget(c)
	}
}

func addMultiRead(
	c *context,
	v *value,
	size int,
	s *snapshot,
) {
	if v == nil || v.visited {
		return
	}
	v.visited = true

	r := newMultiRead(c, size)
	addRead(c, nil, v, r)

	s.reads = append(s.reads, multiReadPair{value: v, read: r})
}

func saveState(c *context) *snapshot {
	s := &snapshot{
		stack:       c.stack,
		locals:      c.locals,
		predecessor: c.predecessor,
		logicalIp:   c.logicalIp,
	}

	if c.predecessor != nil {
		c.state = s

		for i := 0; i < c.localFootprint; i++ {
			local := c.locals[i]
			if local.value != nil {
				addMultiRead(c, local.value, local.size, s)
			}
		}

		for entry := c.stack; entry != nil; entry = entry.next {
			addMultiRead(c, entry.value, entry.size*c.wordSize, s)
		}

		for i := range s.reads {
			s.reads[i].value.visited = false
		}

		allocateTargets(c, s)
	}

	return s
}

func restoreState(c *context, s *snapshot) {
	if c.logicalIp >= 0 && c.logicalCode[c.logicalIp].lastEvent == nil {
		appendDummy(c)
	}

	c.stack = s.stack
	c.locals = s.locals
	c.predecessor = s.predecessor
	c.logicalIp = s.logicalIp

	if c.predecessor != nil {
		c.state = s
		allocateTargets(c, s)
	}
}
