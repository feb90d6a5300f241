package compiler

import (
	"testing"

	"github.com/pattyshack/gt/parseutil"
	"github.com/stretchr/testify/require"

	arch "github.com/pattyshack/towhee/architecture"
	"github.com/pattyshack/towhee/assembler"
	"github.com/pattyshack/towhee/platform"
)

// Six data registers, two argument registers, condensed addressing.
const testDescription = `
name: test
word-size: 8
registers: [r0, r1, r2, r3, r4, r5, sp, tp]
reserved: [sp, tp]
stack: sp
thread: tp
argument: [r4, r5]
return-low: r0
return-high: r2
frame-header-size: 1
frame-footer-size: 1
condensed-addressing: true
binary-plans:
  - op: Compare
    a: {types: [constant, register]}
    b: {types: [constant, register, memory]}
ternary-plans:
  - op: Add
    a: {types: [register]}
    b: {types: [register, memory]}
    result: {types: [register, memory]}
  - op: ShiftLeft
    a: {types: [constant, register]}
    b: {types: [register]}
    result: {types: [register]}
  - op: Divide
    thunk: true
`

// Three data registers, for spill scenarios.
const smallDescription = `
name: small
word-size: 8
registers: [r0, r1, r2, sp, tp]
reserved: [sp, tp]
stack: sp
thread: tp
argument: [r1]
return-low: r0
frame-header-size: 1
frame-footer-size: 1
condensed-addressing: true
binary-plans:
  - op: Compare
    a: {types: [constant, register]}
    b: {types: [constant, register, memory]}
ternary-plans:
  - op: Add
    a: {types: [register]}
    b: {types: [register, memory]}
    result: {types: [register, memory]}
  - op: Divide
    thunk: true
`

func parsePlatform(t *testing.T, content string) *platform.Platform {
	emitter := &parseutil.Emitter{}
	desc := platform.Parse("test.yaml", []byte(content), emitter)
	require.False(t, emitter.HasErrors(), "%s", emitter.Errors())
	return platform.NewPlatform(desc)
}

type appliedOp struct {
	name     string
	sizes    []int
	operands []assembler.Operand
}

type fakeBlock struct {
	length int
}

func (b *fakeBlock) Resolve(start int, next assembler.Block) int {
	return start + b.length
}

// fakeAssembler records applied operations; every operation occupies one
// byte of "code".
type fakeAssembler struct {
	client assembler.Client

	ops        []appliedOp
	blockStart int

	frameAllocated bool
	framePopped    bool
}

func (a *fakeAssembler) SetClient(client assembler.Client) {
	a.client = client
}

func (a *fakeAssembler) AllocateFrame(alignedFrameSize int) {
	a.frameAllocated = true
}

func (a *fakeAssembler) PopFrame() {
	a.framePopped = true
	a.ops = append(a.ops, appliedOp{name: "PopFrame"})
}

func (a *fakeAssembler) Apply(op arch.Operation) {
	a.ops = append(a.ops, appliedOp{name: op.String()})
}

func (a *fakeAssembler) ApplyUnary(
	op arch.UnaryOperation,
	aSize int,
	operand assembler.Operand,
) {
	a.ops = append(a.ops, appliedOp{
		name:     op.String(),
		sizes:    []int{aSize},
		operands: []assembler.Operand{operand},
	})
}

func (a *fakeAssembler) ApplyBinary(
	op arch.BinaryOperation,
	aSize int,
	aOperand assembler.Operand,
	bSize int,
	bOperand assembler.Operand,
) {
	a.ops = append(a.ops, appliedOp{
		name:     op.String(),
		sizes:    []int{aSize, bSize},
		operands: []assembler.Operand{aOperand, bOperand},
	})
}

func (a *fakeAssembler) ApplyTernary(
	op arch.TernaryOperation,
	aSize int,
	aOperand assembler.Operand,
	bSize int,
	bOperand assembler.Operand,
	resultSize int,
	resultOperand assembler.Operand,
) {
	a.ops = append(a.ops, appliedOp{
		name:     op.String(),
		sizes:    []int{aSize, bSize, resultSize},
		operands: []assembler.Operand{aOperand, bOperand, resultOperand},
	})
}

func (a *fakeAssembler) Offset() arch.Promise {
	return arch.Resolved(int64(len(a.ops)))
}

func (a *fakeAssembler) EndBlock(hasFollowing bool) assembler.Block {
	block := &fakeBlock{length: len(a.ops) - a.blockStart}
	a.blockStart = len(a.ops)
	return block
}

func (a *fakeAssembler) WriteTo(dst []byte) {}

func (a *fakeAssembler) opNames() []string {
	names := make([]string, 0, len(a.ops))
	for _, op := range a.ops {
		names = append(names, op.name)
	}
	return names
}

func (a *fakeAssembler) count(name string) int {
	count := 0
	for _, op := range a.ops {
		if op.name == name {
			count++
		}
	}
	return count
}

func (a *fakeAssembler) moves() []appliedOp {
	moves := []appliedOp{}
	for _, op := range a.ops {
		if op.name == "Move" {
			moves = append(moves, op)
		}
	}
	return moves
}

type thunkCall struct {
	op         arch.TernaryOperation
	resultSize int
}

type fakeClient struct {
	thunks []thunkCall
}

func (client *fakeClient) GetThunk(
	op arch.TernaryOperation,
	resultSize int,
) int64 {
	client.thunks = append(client.thunks, thunkCall{op, resultSize})
	return 0x1000 + int64(len(client.thunks))
}

func newTestCompiler(
	t *testing.T,
	description string,
) (*Compiler, *fakeAssembler, *fakeClient) {
	a := &fakeAssembler{}
	client := &fakeClient{}
	compiler := New(a, parsePlatform(t, description), client)
	require.NotNil(t, a.client)
	return compiler, a, client
}

// requireBalanced checks the allocator invariants that must hold after a
// complete compilation: no leaked register or frame slot freezes, no leaked
// register references, and the available register count restored.
func requireBalanced(t *testing.T, compiler *Compiler) {
	c := compiler.c

	available := c.arch.RegisterCount()
	for _, r := range c.registers {
		require.Equal(t, 0, r.freezeCount, "register %d frozen", r.number)
		require.Equal(t, 0, r.refCount, "register %d referenced", r.number)
		if r.reserved {
			available--
		}
	}
	require.Equal(t, available, c.availableRegisterCount)

	for i := range c.frameResources {
		require.Equal(
			t,
			0,
			c.frameResources[i].freezeCount,
			"frame index %d frozen",
			i)
	}
}

func operandRegister(t *testing.T, operand assembler.Operand) assembler.Register {
	register, ok := operand.(assembler.Register)
	require.True(t, ok, "expected register operand, got %#v", operand)
	return register
}

func operandMemory(t *testing.T, operand assembler.Operand) assembler.Memory {
	memory, ok := operand.(assembler.Memory)
	require.True(t, ok, "expected memory operand, got %#v", operand)
	return memory
}
