package assembler

import (
	arch "github.com/pattyshack/towhee/architecture"
)

// Concrete operand forms handed to Apply*.  The back-end resolves abstract
// value locations down to these.

type Operand interface {
	Type() arch.OperandType
}

type Constant struct {
	Value arch.Promise
}

func (Constant) Type() arch.OperandType { return arch.ConstantOperand }

type Address struct {
	Value arch.Promise
}

func (Address) Type() arch.OperandType { return arch.AddressOperand }

type Register struct {
	Low  int
	High int // NoRegister for single-register operands
}

func (Register) Type() arch.OperandType { return arch.RegisterOperand }

type Memory struct {
	Base   int
	Offset int
	Index  int // NoRegister when absent
	Scale  int
}

func (Memory) Type() arch.OperandType { return arch.MemoryOperand }

// A Block is a span of emitted code delimited by EndBlock.  Resolve patches
// the block's outgoing branches once its start offset is known and returns
// the offset following the block.  next is nil for the final block.
type Block interface {
	Resolve(start int, next Block) int
}

// Client lets the assembler borrow registers from the back-end's allocator
// while synthesizing multi-instruction sequences.
type Client interface {
	AcquireTemporary(mask arch.RegisterMask) int
	ReleaseTemporary(register int)

	Save(register int)
	Restore(register int)
}

// Assembler emits native code for a concrete target.  The back-end drives
// it exclusively through operand forms permitted by the architecture's
// operand plans.
type Assembler interface {
	SetClient(client Client)

	AllocateFrame(alignedFrameSize int)
	PopFrame()

	Apply(op arch.Operation)

	ApplyUnary(
		op arch.UnaryOperation,
		aSize int,
		a Operand,
	)

	ApplyBinary(
		op arch.BinaryOperation,
		aSize int,
		a Operand,
		bSize int,
		b Operand,
	)

	ApplyTernary(
		op arch.TernaryOperation,
		aSize int,
		a Operand,
		bSize int,
		b Operand,
		resultSize int,
		result Operand,
	)

	// Offset promises the current write position, resolved once code is
	// finalized.
	Offset() arch.Promise

	EndBlock(hasFollowing bool) Block

	WriteTo(dst []byte)
}
