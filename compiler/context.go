package compiler

import (
	"fmt"
	"io"
	"os"

	arch "github.com/pattyshack/towhee/architecture"
	"github.com/pattyshack/towhee/assembler"
)

const (
	debugAppend       = false
	debugCompile      = false
	debugStack        = false
	debugRegisters    = false
	debugFrameIndexes = false
)

const (
	// Frame index constraint wildcards used by reads and site matching.
	anyFrameIndex = -2
	noFrameIndex  = -1
)

type constantCompare int

const (
	compareNone = constantCompare(iota)
	compareLess
	compareGreater
	compareEqual
)

type pass int

const (
	scanPass = pass(iota)
	compilePass
)

type local struct {
	value *value
	size  int
}

// All mutable state for a single compilation.  The context is confined to
// one goroutine; every operation threads it explicitly.
type context struct {
	assembler assembler.Assembler
	arch      arch.Architecture
	client    Client

	wordSize int

	stack       *stackEntry
	locals      []local
	predecessor event

	logicalCode    []*logicalInstruction
	registers      []*registerResource
	frameResources []frameResource

	firstConstant *constantPoolNode
	lastConstant  *constantPoolNode
	constantCount int

	machineCodeBase uintptr
	machineCodeSize int

	firstEvent event
	lastEvent  event

	state *snapshot

	logicalIp int

	logicalCodeLength  int
	parameterFootprint int
	localFootprint     int
	alignedFrameSize   int

	availableRegisterCount int

	constantCompare constantCompare
	pass            pass

	values       pool[value]
	stackEntries pool[stackEntry]
	singleReads  pool[singleRead]

	debugOut io.Writer
}

func newContext(
	a assembler.Assembler,
	target arch.Architecture,
	client Client,
) *context {
	c := &context{
		assembler: a,
		arch:      target,
		client:    client,
		debugOut:  os.Stderr,
	}
	c.initialize()
	return c
}

func (c *context) initialize() {
	c.wordSize = c.arch.WordSize()
	c.logicalIp = -1
	c.constantCompare = compareNone
	c.pass = scanPass

	count := c.arch.RegisterCount()
	c.registers = make([]*registerResource, count)
	c.availableRegisterCount = count
	for i := 0; i < count; i++ {
		c.registers[i] = &registerResource{number: i}
		if c.arch.Reserved(i) {
			c.registers[i].reserved = true
			c.availableRegisterCount--
		}
	}
}

// Reset returns the context to its freshly constructed state, retaining
// the value, stack entry and single read pools so a resident compiler
// reuses their memory.  Other per-compilation structures are allocated anew.
func (c *context) reset() {
	c.stack = nil
	c.locals = nil
	c.predecessor = nil
	c.logicalCode = nil
	c.frameResources = nil
	c.firstConstant = nil
	c.lastConstant = nil
	c.constantCount = 0
	c.machineCodeBase = 0
	c.machineCodeSize = 0
	c.firstEvent = nil
	c.lastEvent = nil
	c.state = nil
	c.logicalCodeLength = 0
	c.parameterFootprint = 0
	c.localFootprint = 0
	c.alignedFrameSize = 0

	c.values.reset()
	c.stackEntries.reset()
	c.singleReads.reset()

	c.initialize()
}

func (c *context) abort(format string, args ...interface{}) {
	panic(fmt.Sprintf("compiler: "+format, args...))
}

func (c *context) assertf(condition bool, format string, args ...interface{}) {
	if !condition {
		c.abort(format, args...)
	}
}

func (c *context) debugf(format string, args ...interface{}) {
	fmt.Fprintf(c.debugOut, format, args...)
}

func ceiling(size int, unit int) int {
	return (size + unit - 1) / unit
}

func (c *context) pad(size int) int {
	return ceiling(size, c.wordSize) * c.wordSize
}
