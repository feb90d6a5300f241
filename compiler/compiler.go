package compiler

import (
	"encoding/binary"
	"unsafe"

	arch "github.com/pattyshack/towhee/architecture"
	"github.com/pattyshack/towhee/assembler"
)

// Operand is an opaque abstract value handle returned by the builder's
// operand factories and operations.
type Operand interface {
	isOperand()
}

// StackElement is an opaque handle to one slot of the compiler's model of
// the runtime operand stack.
type StackElement interface {
	isStackElement()
}

// State is an opaque snapshot of the builder's position, used to model
// control-flow rejoins.
type State interface {
	isState()
}

// Argument pairs a call argument with its size in bytes.  Wide arguments
// pass an explicit 8-byte size.
type Argument struct {
	Value Operand
	Size  int
}

func Arg(v Operand, size int) Argument {
	return Argument{Value: v, Size: size}
}

// Compiler is the builder facade.  A front end appends machine-independent
// operations in program order, then Compile emits native code through the
// assembler.
type Compiler struct {
	c *context
}

func New(
	a assembler.Assembler,
	target arch.Architecture,
	client Client,
) *Compiler {
	compiler := &Compiler{c: newContext(a, target, client)}
	a.SetClient(&registerClient{c: compiler.c})
	return compiler
}

func (compiler *Compiler) Init(
	logicalCodeLength int,
	parameterFootprint int,
	localFootprint int,
	alignedFrameSize int,
) {
	c := compiler.c
	c.logicalCodeLength = logicalCodeLength
	c.parameterFootprint = parameterFootprint
	c.localFootprint = localFootprint
	c.alignedFrameSize = alignedFrameSize

	c.frameResources = make(
		[]frameResource,
		alignedFrameSize+parameterFootprint)
	c.logicalCode = make([]*logicalInstruction, logicalCodeLength)
	c.locals = make([]local, localFootprint)
}

func (compiler *Compiler) Reset() {
	compiler.c.reset()
}

func (compiler *Compiler) SaveState() State {
	return saveState(compiler.c)
}

func (compiler *Compiler) RestoreState(state State) {
	restoreState(compiler.c, state.(*snapshot))
}

func (compiler *Compiler) StartLogicalIp(logicalIp int) {
	c := compiler.c
	c.assertf(logicalIp < c.logicalCodeLength, "logical ip %d out of range", logicalIp)
	c.assertf(
		c.logicalCode[logicalIp] == nil,
		"logical ip %d started twice",
		logicalIp)

	if debugAppend {
		c.debugf(" -- ip: %d\n", logicalIp)
	}

	if c.logicalIp >= 0 && c.logicalCode[c.logicalIp].lastEvent == nil {
		appendDummy(c)
	}

	c.logicalCode[logicalIp] = newLogicalInstruction(c, logicalIp)

	c.logicalIp = logicalIp
}

// VisitLogicalIp records a control-flow edge from the current position to
// an already started logical ip.
func (compiler *Compiler) VisitLogicalIp(logicalIp int) {
	c := compiler.c
	c.assertf(logicalIp < c.logicalCodeLength, "logical ip %d out of range", logicalIp)

	e := c.logicalCode[logicalIp].firstEvent

	p := c.predecessor
	if p != nil {
		pBase := p.base()
		pBase.stackAfter = c.stack
		pBase.localsAfter = c.locals

		pBase.successors = append(pBase.successors, e)
		populateJunctionReads(c, p)
		e.base().predecessors = append(e.base().predecessors, p)
	}
}

func (compiler *Compiler) MachineIp(logicalIp int) arch.Promise {
	return &ipPromise{c: compiler.c, logicalIp: logicalIp}
}

// MachineIpCurrent promises the code position following the current
// logical instruction's last event.
func (compiler *Compiler) MachineIpCurrent() arch.Promise {
	c := compiler.c
	return newEventCodePromise(c, c.logicalCode[c.logicalIp].lastEvent)
}

func (compiler *Compiler) PoolAppend(value int64) arch.Promise {
	return compiler.PoolAppendPromise(arch.Resolved(value))
}

func (compiler *Compiler) PoolAppendPromise(value arch.Promise) arch.Promise {
	c := compiler.c
	p := &poolPromise{c: c, key: c.constantCount}

	constant := &constantPoolNode{promise: value}
	if c.firstConstant != nil {
		c.lastConstant.next = constant
	} else {
		c.firstConstant = constant
	}
	c.lastConstant = constant
	c.constantCount++

	return p
}

func (compiler *Compiler) Constant(value int64) Operand {
	return compiler.PromiseConstant(arch.Resolved(value))
}

func (compiler *Compiler) PromiseConstant(value arch.Promise) Operand {
	c := compiler.c
	return newValue(c, newConstantSite(value), nil)
}

func (compiler *Compiler) Address(address arch.Promise) Operand {
	c := compiler.c
	return newValue(c, newAddressSite(address), nil)
}

func (compiler *Compiler) Memory(
	base Operand,
	displacement int,
	index Operand,
	scale int,
) Operand {
	c := compiler.c
	result := newValue(c, nil, nil)

	var indexValue *value
	if index != nil {
		indexValue = index.(*value)
	}

	appendMemory(c, base.(*value), displacement, indexValue, scale, result)

	return result
}

func (compiler *Compiler) Stack() Operand {
	c := compiler.c
	s := newRegisterSite(c, c.arch.Stack(), arch.NoRegister)
	return newValue(c, s, s)
}

func (compiler *Compiler) Thread() Operand {
	c := compiler.c
	s := newRegisterSite(c, c.arch.Thread(), arch.NoRegister)
	return newValue(c, s, s)
}

func (compiler *Compiler) StackTop() Operand {
	c := compiler.c
	s := frameSite(c, c.stack.index)
	return newValue(c, s, s)
}

// Push pushes a fresh, uninitialized value.
func (compiler *Compiler) Push(size int) {
	c := compiler.c
	words := ceiling(size, c.wordSize)
	c.assertf(words > 0, "push of empty value")

	c.stack = newStackEntry(c, newValue(c, nil, nil), words, c.stack)
}

func (compiler *Compiler) PushValue(size int, v Operand) {
	compiler.c.push(size, v.(*value))
}

func (compiler *Compiler) Pop(size int) Operand {
	return compiler.c.pop(size)
}

// Pushed acknowledges a value pushed onto the runtime stack by emitted
// code, attaching its frame slot as the value's site.
func (compiler *Compiler) Pushed() {
	c := compiler.c
	v := newValue(c, nil, nil)

	index := c.localFootprint
	if c.stack != nil {
		index = c.localFootprint + c.stack.index + c.stack.size
	}
	appendFrameSite(c, v, c.wordSize, index)

	c.stack = newStackEntry(c, v, 1, c.stack)
}

// Popped acknowledges a value popped off the runtime stack by emitted code.
func (compiler *Compiler) Popped() {
	c := compiler.c
	c.stack = c.stack.next
}

func (compiler *Compiler) Top() StackElement {
	return compiler.c.stack
}

func (compiler *Compiler) Size(element StackElement) int {
	return element.(*stackEntry).size
}

func (compiler *Compiler) Padding(element StackElement) int {
	return element.(*stackEntry).padding
}

func (compiler *Compiler) Peek(size int, index int) Operand {
	c := compiler.c
	s := c.stack
	for i := index; i > 0; {
		i -= s.size
		s = s.next
	}
	c.assertf(
		s.size == ceiling(size, c.wordSize),
		"peek size mismatch at index %d",
		index)
	return s.value
}

func (compiler *Compiler) Call(
	address Operand,
	flags int,
	traceHandler TraceHandler,
	resultSize int,
	arguments ...Argument,
) Operand {
	c := compiler.c

	oldStack := c.stack

	for i := len(arguments) - 1; i >= 0; i-- {
		c.push(arguments[i].Size, arguments[i].Value.(*value))
	}
	argumentStack := c.stack
	c.stack = oldStack

	result := newValue(c, nil, nil)
	appendCall(
		c,
		address.(*value),
		flags,
		traceHandler,
		result,
		resultSize,
		argumentStack,
		len(arguments),
		0)

	return result
}

// StackCall calls with arguments already on the compiler stack.
func (compiler *Compiler) StackCall(
	address Operand,
	flags int,
	traceHandler TraceHandler,
	resultSize int,
	argumentFootprint int,
) Operand {
	c := compiler.c
	result := newValue(c, nil, nil)
	appendCall(
		c,
		address.(*value),
		flags,
		traceHandler,
		result,
		resultSize,
		c.stack,
		0,
		argumentFootprint)
	return result
}

func (compiler *Compiler) Return(size int, v Operand) {
	var returned *value
	if v != nil {
		returned = v.(*value)
	}
	appendReturn(compiler.c, size, returned)
}

func (compiler *Compiler) InitLocal(size int, index int) {
	c := compiler.c
	c.assertf(index < c.localFootprint, "local index %d out of range", index)

	v := newValue(c, nil, nil)
	appendFrameSite(c, v, size, index)

	c.locals[index] = local{value: v, size: size}
}

// InitLocalsFromLogicalIp reinitializes the locals array to mirror the
// entry state of the given logical instruction.
func (compiler *Compiler) InitLocalsFromLogicalIp(logicalIp int) {
	c := compiler.c
	c.assertf(logicalIp < c.logicalCodeLength, "logical ip %d out of range", logicalIp)

	c.locals = make([]local, c.localFootprint)

	e := c.logicalCode[logicalIp].firstEvent
	for i := 0; i < c.localFootprint; i++ {
		local := e.base().localsBefore[i]
		if local.value != nil {
			compiler.InitLocal(local.size, i)
		}
	}
}

func (compiler *Compiler) StoreLocal(size int, src Operand, index int) {
	c := compiler.c
	c.assertf(index < c.localFootprint, "local index %d out of range", index)

	// Copy on write; snapshots hold references to the old array.
	newLocals := make([]local, c.localFootprint)
	copy(newLocals, c.locals)
	c.locals = newLocals

	c.locals[index] = local{value: src.(*value), size: size}
}

func (compiler *Compiler) LoadLocal(size int, index int) Operand {
	c := compiler.c
	c.assertf(index < c.localFootprint, "local index %d out of range", index)
	c.assertf(c.locals[index].value != nil, "load of uninitialized local %d", index)
	c.assertf(
		c.pad(c.locals[index].size) == c.pad(size),
		"local %d size mismatch",
		index)

	return c.locals[index].value
}

func (compiler *Compiler) CheckBounds(
	object Operand,
	lengthOffset int,
	index Operand,
	handler int64,
) {
	appendBoundsCheck(
		compiler.c,
		object.(*value),
		lengthOffset,
		index.(*value),
		handler)
}

func (compiler *Compiler) Store(size int, src Operand, dst Operand) {
	appendMove(compiler.c, arch.Move, size, src.(*value), size, dst.(*value))
}

func (compiler *Compiler) Load(size int, src Operand) Operand {
	c := compiler.c
	dst := newValue(c, nil, nil)
	appendMove(c, arch.Move, size, src.(*value), size, dst)
	return dst
}

// LoadZ is a zero-extending load.
func (compiler *Compiler) LoadZ(size int, src Operand) Operand {
	c := compiler.c
	dst := newValue(c, nil, nil)
	appendMove(c, arch.MoveZ, size, src.(*value), size, dst)
	return dst
}

func (compiler *Compiler) Load4To8(src Operand) Operand {
	c := compiler.c
	dst := newValue(c, nil, nil)
	appendMove(c, arch.Move, 4, src.(*value), 8, dst)
	return dst
}

func (compiler *Compiler) Lcmp(a Operand, b Operand) Operand {
	c := compiler.c
	result := newValue(c, nil, nil)
	appendCombine(c, arch.LongCompare, 8, a.(*value), 8, b.(*value), 8, result)
	return result
}

func (compiler *Compiler) Cmp(size int, a Operand, b Operand) {
	appendCompare(compiler.c, size, a.(*value), b.(*value))
}

func (compiler *Compiler) Jl(address Operand) {
	appendBranch(compiler.c, arch.JumpIfLess, address.(*value))
}

func (compiler *Compiler) Jg(address Operand) {
	appendBranch(compiler.c, arch.JumpIfGreater, address.(*value))
}

func (compiler *Compiler) Jle(address Operand) {
	appendBranch(compiler.c, arch.JumpIfLessOrEqual, address.(*value))
}

func (compiler *Compiler) Jge(address Operand) {
	appendBranch(compiler.c, arch.JumpIfGreaterOrEqual, address.(*value))
}

func (compiler *Compiler) Je(address Operand) {
	appendBranch(compiler.c, arch.JumpIfEqual, address.(*value))
}

func (compiler *Compiler) Jne(address Operand) {
	appendBranch(compiler.c, arch.JumpIfNotEqual, address.(*value))
}

func (compiler *Compiler) Jmp(address Operand) {
	appendBranch(compiler.c, arch.Jump, address.(*value))
}

func (compiler *Compiler) combine(
	op arch.TernaryOperation,
	size int,
	a Operand,
	b Operand,
) Operand {
	c := compiler.c
	result := newValue(c, nil, nil)
	appendCombine(c, op, size, a.(*value), size, b.(*value), size, result)
	return result
}

func (compiler *Compiler) Add(size int, a Operand, b Operand) Operand {
	return compiler.combine(arch.Add, size, a, b)
}

func (compiler *Compiler) Sub(size int, a Operand, b Operand) Operand {
	return compiler.combine(arch.Subtract, size, a, b)
}

func (compiler *Compiler) Mul(size int, a Operand, b Operand) Operand {
	return compiler.combine(arch.Multiply, size, a, b)
}

func (compiler *Compiler) Div(size int, a Operand, b Operand) Operand {
	return compiler.combine(arch.Divide, size, a, b)
}

func (compiler *Compiler) Rem(size int, a Operand, b Operand) Operand {
	return compiler.combine(arch.Remainder, size, a, b)
}

// Shift counts are word sized regardless of the shifted operand's size.
func (compiler *Compiler) shift(
	op arch.TernaryOperation,
	size int,
	a Operand,
	b Operand,
) Operand {
	c := compiler.c
	result := newValue(c, nil, nil)
	appendCombine(
		c,
		op,
		c.wordSize,
		a.(*value),
		size,
		b.(*value),
		size,
		result)
	return result
}

func (compiler *Compiler) Shl(size int, a Operand, b Operand) Operand {
	return compiler.shift(arch.ShiftLeft, size, a, b)
}

func (compiler *Compiler) Shr(size int, a Operand, b Operand) Operand {
	return compiler.shift(arch.ShiftRight, size, a, b)
}

func (compiler *Compiler) UShr(size int, a Operand, b Operand) Operand {
	return compiler.shift(arch.UnsignedShiftRight, size, a, b)
}

func (compiler *Compiler) And(size int, a Operand, b Operand) Operand {
	return compiler.combine(arch.And, size, a, b)
}

func (compiler *Compiler) Or(size int, a Operand, b Operand) Operand {
	return compiler.combine(arch.Or, size, a, b)
}

func (compiler *Compiler) Xor(size int, a Operand, b Operand) Operand {
	return compiler.combine(arch.Xor, size, a, b)
}

func (compiler *Compiler) Neg(size int, a Operand) Operand {
	c := compiler.c
	result := newValue(c, nil, nil)
	appendTranslate(c, arch.Negate, size, a.(*value), result)
	return result
}

// Compile runs the emission pass and returns the machine code size in
// bytes.
func (compiler *Compiler) Compile() int {
	c := compiler.c
	c.machineCodeSize = compileEvents(c)
	return c.machineCodeSize
}

func (compiler *Compiler) PoolSize() int {
	c := compiler.c
	return c.constantCount * c.wordSize
}

// WriteTo copies the emitted code into dst and appends the constant pool,
// word aligned, resolving every promise against dst's address.
func (compiler *Compiler) WriteTo(dst []byte) {
	c := compiler.c
	c.machineCodeBase = uintptr(unsafe.Pointer(&dst[0]))
	c.assembler.WriteTo(dst)

	offset := c.pad(c.machineCodeSize)
	for n := c.firstConstant; n != nil; n = n.next {
		word := dst[offset : offset+c.wordSize]
		if c.wordSize == 8 {
			binary.LittleEndian.PutUint64(word, uint64(n.promise.Value()))
		} else {
			binary.LittleEndian.PutUint32(word, uint32(n.promise.Value()))
		}
		offset += c.wordSize
	}
}
