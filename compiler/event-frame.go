package compiler

type frameSiteEvent struct {
	eventBase

	value *value
	size  int
	index int
}

func (e *frameSiteEvent) name() string {
	return "FrameSiteEvent"
}

func (e *frameSiteEvent) compile(c *context) {
	addSite(
		c,
		e.stackBefore,
		e.localsBefore,
		e.size,
		e.value,
		frameSite(c, e.index))
}

func appendFrameSite(c *context, v *value, size int, index int) {
	e := &frameSiteEvent{
		value: v,
		size:  size,
		index: index,
	}
	initEvent(c, e)
}

// A dummyEvent gives an otherwise empty logical instruction an event to
// anchor predecessor edges and block boundaries.
type dummyEvent struct {
	eventBase
}

func (e *dummyEvent) name() string {
	return "DummyEvent"
}

func (e *dummyEvent) compile(c *context) {}

func appendDummy(c *context) {
	stack := c.stack
	locals := c.locals
	i := c.logicalCode[c.logicalIp]

	c.stack = i.stack
	c.locals = i.locals

	initEvent(c, &dummyEvent{})

	c.stack = stack
	c.locals = locals
}
