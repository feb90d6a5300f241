package compiler

// An abstract operand identity.  A value may reside in several sites at
// once; its pending uses form the read chain.  source is the site chosen
// for the current event during emission; target is an optional placement
// hint installed by memory events and by the stack, thread and stack-top
// operand factories.
type value struct {
	reads    read
	lastRead read

	// Current locations, most recently added first.
	sites []site

	source site
	target site

	visited bool
}

func (v *value) isOperand() {}

func newValue(c *context, s site, target site) *value {
	v := c.values.allocate()
	*v = value{target: target}
	if s != nil {
		v.sites = append(v.sites, s)
	}
	return v
}

// One element of the compiler's model of the runtime operand stack.  Sizes
// and indexes are in words.  Snapshots are immutable; mutation replaces the
// list head.
type stackEntry struct {
	index   int
	size    int
	padding int
	value   *value
	next    *stackEntry
}

func (s *stackEntry) isStackElement() {}

func newStackEntry(
	c *context,
	v *value,
	size int,
	next *stackEntry,
) *stackEntry {
	index := 0
	if next != nil {
		index = next.index + next.size
	}
	entry := c.stackEntries.allocate()
	*entry = stackEntry{
		index: index,
		size:  size,
		value: v,
		next:  next,
	}
	return entry
}

func (c *context) push(size int, v *value) {
	words := ceiling(size, c.wordSize)
	c.assertf(words > 0, "push of empty value")

	c.stack = newStackEntry(c, v, words, c.stack)
}

func (c *context) pop(size int) *value {
	entry := c.stack
	c.assertf(
		ceiling(size, c.wordSize) == entry.size,
		"pop size mismatch (%d words, have %d)",
		ceiling(size, c.wordSize),
		entry.size)

	c.stack = entry.next
	return entry.value
}

func findSite(c *context, v *value, s site) bool {
	for _, existing := range v.sites {
		if existing == s {
			return true
		}
	}
	return false
}

func addSite(
	c *context,
	stack *stackEntry,
	locals []local,
	size int,
	v *value,
	s site,
) {
	if findSite(c, v, s) {
		return
	}

	s.acquire(c, stack, locals, size, v)
	v.sites = append(v.sites, nil)
	copy(v.sites[1:], v.sites)
	v.sites[0] = s
}

func removeSite(c *context, v *value, s site) {
	for i, existing := range v.sites {
		if existing == s {
			s.release(c)
			v.sites = append(v.sites[:i], v.sites[i+1:]...)
			return
		}
	}
}

func clearSites(c *context, v *value) {
	for _, s := range v.sites {
		s.release(c)
	}
	v.sites = v.sites[:0]
}

func validRead(r read) bool {
	return r != nil && r.valid()
}

// A value is live while its read chain still has a valid head.
func live(v *value) bool {
	return validRead(v.reads)
}

// nextRead consumes the head read of v (which must belong to e) and
// releases all sites once the value dies.
func nextRead(c *context, e event, v *value) {
	c.assertf(e == v.reads.base().event, "read consumed out of order")

	v.reads = v.reads.next(c)
	if !live(v) {
		clearSites(c, v)
	}
}
