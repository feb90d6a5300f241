package compiler

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	arch "github.com/pattyshack/towhee/architecture"
	"github.com/pattyshack/towhee/assembler"
)

func TestConstantCompareBranchFolding(t *testing.T) {
	type branch struct {
		name string
		emit func(compiler *Compiler, address Operand)
	}
	branches := []branch{
		{"jl", func(c *Compiler, a Operand) { c.Jl(a) }},
		{"jle", func(c *Compiler, a Operand) { c.Jle(a) }},
		{"jg", func(c *Compiler, a Operand) { c.Jg(a) }},
		{"jge", func(c *Compiler, a Operand) { c.Jge(a) }},
		{"je", func(c *Compiler, a Operand) { c.Je(a) }},
		{"jne", func(c *Compiler, a Operand) { c.Jne(a) }},
		{"jmp", func(c *Compiler, a Operand) { c.Jmp(a) }},
	}

	// Jump taken per comparison outcome.
	taken := map[string]map[string]bool{
		"less": {
			"jl": true, "jle": true, "jg": false, "jge": false,
			"je": false, "jne": true, "jmp": true,
		},
		"greater": {
			"jl": false, "jle": false, "jg": true, "jge": true,
			"je": false, "jne": true, "jmp": true,
		},
		"equal": {
			"jl": false, "jle": true, "jg": false, "jge": true,
			"je": true, "jne": false, "jmp": true,
		},
	}

	operands := map[string][2]int64{
		"less":    {3, 5},
		"greater": {7, 5},
		"equal":   {5, 5},
	}

	for outcome, pair := range operands {
		for _, b := range branches {
			compiler, a, _ := newTestCompiler(t, testDescription)

			compiler.Init(2, 0, 0, 2)
			compiler.StartLogicalIp(0)
			compiler.Cmp(
				4,
				compiler.Constant(pair[0]),
				compiler.Constant(pair[1]))
			b.emit(compiler, compiler.PromiseConstant(compiler.MachineIp(1)))
			compiler.Compile()

			require.Equal(
				t,
				0,
				a.count("Compare"),
				"%s %s: compare not folded",
				outcome,
				b.name)

			expectJump := 0
			if taken[outcome][b.name] {
				expectJump = 1
			}
			require.Equal(
				t,
				expectJump,
				a.count("Jump"),
				"%s %s",
				outcome,
				b.name)

			for _, op := range a.opNames() {
				require.NotContains(t, op, "JumpIf", "%s %s", outcome, b.name)
			}

			requireBalanced(t, compiler)
		}
	}
}

func TestRuntimeCompareBranch(t *testing.T) {
	compiler, a, _ := newTestCompiler(t, testDescription)

	compiler.Init(2, 0, 0, 2)
	compiler.StartLogicalIp(0)
	thread := compiler.Thread()
	x := compiler.Load(8, compiler.Memory(thread, 16, nil, 1))
	compiler.Cmp(4, x, compiler.Constant(5))
	compiler.Jl(compiler.PromiseConstant(compiler.MachineIp(1)))
	compiler.Compile()

	require.Equal(t, 1, a.count("Compare"))
	require.Equal(t, 1, a.count("JumpIfLess"))
	requireBalanced(t, compiler)
}

func TestRegisterSpillUnderPressure(t *testing.T) {
	compiler, a, _ := newTestCompiler(t, smallDescription)
	c := compiler.c
	stackRegister := c.arch.Stack()

	compiler.Init(1, 0, 0, 8)
	compiler.StartLogicalIp(0)

	thread := compiler.Thread()

	// One more live value than there are data registers.
	count := c.availableRegisterCount + 1
	for i := 0; i < count; i++ {
		x := compiler.Load(8, compiler.Memory(thread, 8*i, nil, 1))
		compiler.PushValue(8, x)
	}

	sum := compiler.Pop(8)
	for i := 1; i < count; i++ {
		sum = compiler.Add(8, sum, compiler.Pop(8))
	}
	compiler.Return(8, sum)

	compiler.Compile()

	spills := 0
	reloads := 0
	for _, move := range a.moves() {
		src := move.operands[0]
		dst := move.operands[1]

		memory, ok := dst.(assembler.Memory)
		if ok && memory.Base == stackRegister {
			_, fromRegister := src.(assembler.Register)
			if fromRegister {
				spills++
			}
		}

		memory, ok = src.(assembler.Memory)
		if ok && memory.Base == stackRegister {
			_, toRegister := dst.(assembler.Register)
			if toRegister {
				reloads++
			}
		}
	}

	require.GreaterOrEqual(t, spills, 1, "expected at least one spill")
	require.GreaterOrEqual(t, reloads, 1, "expected at least one reload")
	requireBalanced(t, compiler)
}

func TestCallArgumentPlacement(t *testing.T) {
	compiler, a, _ := newTestCompiler(t, testDescription)
	c := compiler.c

	compiler.Init(1, 0, 0, 8)
	compiler.StartLogicalIp(0)

	result := compiler.Call(
		compiler.Constant(0x4000),
		0,
		nil,
		4,
		Arg(compiler.Constant(1), 4),
		Arg(compiler.Constant(2), 4),
		Arg(compiler.Constant(3), 4))
	compiler.Return(4, result)

	compiler.Compile()

	argRegister0 := c.arch.ArgumentRegister(0)
	argRegister1 := c.arch.ArgumentRegister(1)
	overflowOffset := localOffset(c, c.alignedFrameSize+c.parameterFootprint-1)

	toArg0 := false
	toArg1 := false
	toOverflowSlot := false
	for _, move := range a.moves() {
		constant, ok := move.operands[0].(assembler.Constant)
		if !ok {
			continue
		}

		switch dst := move.operands[1].(type) {
		case assembler.Register:
			if dst.Low == argRegister0 {
				require.Equal(t, int64(1), constant.Value.Value())
				toArg0 = true
			} else if dst.Low == argRegister1 {
				require.Equal(t, int64(2), constant.Value.Value())
				toArg1 = true
			}
		case assembler.Memory:
			if dst.Base == c.arch.Stack() && dst.Offset == overflowOffset {
				require.Equal(t, int64(3), constant.Value.Value())
				toOverflowSlot = true
			}
		}
	}
	require.True(t, toArg0, "first argument not placed in argument register 0")
	require.True(t, toArg1, "second argument not placed in argument register 1")
	require.True(t, toOverflowSlot, "third argument not placed on the stack")

	// The result arrives in the return register; no move may be needed
	// between the call and the return.
	callIndex := -1
	popFrameIndex := -1
	for idx, op := range a.opNames() {
		if op == "Call" {
			callIndex = idx
		}
		if op == "PopFrame" && popFrameIndex < 0 {
			popFrameIndex = idx
		}
	}
	require.GreaterOrEqual(t, callIndex, 0)
	require.Greater(t, popFrameIndex, callIndex)
	for _, op := range a.opNames()[callIndex+1 : popFrameIndex] {
		require.NotEqual(t, "Move", op)
	}

	requireBalanced(t, compiler)
}

func TestBoundsCheckConstantNegativeIndex(t *testing.T) {
	compiler, a, _ := newTestCompiler(t, testDescription)

	compiler.Init(1, 0, 0, 8)
	compiler.StartLogicalIp(0)
	thread := compiler.Thread()
	object := compiler.Load(8, compiler.Memory(thread, 16, nil, 1))
	compiler.CheckBounds(object, 8, compiler.Constant(-1), 0x2000)
	compiler.Return(0, nil)

	compiler.Compile()

	require.Equal(t, 0, a.count("Compare"))
	require.Equal(t, 1, a.count("Call"))
	requireBalanced(t, compiler)
}

func TestBoundsCheckConstantIndex(t *testing.T) {
	compiler, a, _ := newTestCompiler(t, testDescription)

	compiler.Init(1, 0, 0, 8)
	compiler.StartLogicalIp(0)
	thread := compiler.Thread()
	object := compiler.Load(8, compiler.Memory(thread, 16, nil, 1))
	compiler.CheckBounds(object, 8, compiler.Constant(2), 0x2000)
	compiler.Return(0, nil)

	compiler.Compile()

	// The lower bound check is elided; only the length compare remains.
	require.Equal(t, 1, a.count("Compare"))
	require.Equal(t, 0, a.count("JumpIfLess"))
	require.Equal(t, 1, a.count("JumpIfGreater"))
	require.Equal(t, 1, a.count("Call"))

	for _, op := range a.ops {
		if op.name != "Compare" {
			continue
		}
		length := operandMemory(t, op.operands[1])
		require.Equal(t, 8, length.Offset)
	}

	requireBalanced(t, compiler)
}

func TestBoundsCheckRuntimeIndex(t *testing.T) {
	compiler, a, _ := newTestCompiler(t, testDescription)

	compiler.Init(1, 0, 0, 8)
	compiler.StartLogicalIp(0)
	thread := compiler.Thread()
	object := compiler.Load(8, compiler.Memory(thread, 16, nil, 1))
	index := compiler.Load(8, compiler.Memory(thread, 24, nil, 1))
	compiler.CheckBounds(object, 8, index, 0x2000)
	compiler.Return(0, nil)

	compiler.Compile()

	require.Equal(t, 2, a.count("Compare"))
	require.Equal(t, 1, a.count("JumpIfLess"))
	require.Equal(t, 1, a.count("JumpIfGreater"))
	require.Equal(t, 1, a.count("Call"))
	requireBalanced(t, compiler)
}

func TestCombineThunkRewrite(t *testing.T) {
	compiler, a, client := newTestCompiler(t, testDescription)

	compiler.Init(1, 0, 0, 8)
	compiler.StartLogicalIp(0)
	result := compiler.Div(8, compiler.Constant(6), compiler.Constant(3))
	compiler.Return(8, result)

	compiler.Compile()

	require.Equal(
		t,
		[]thunkCall{{op: arch.Divide, resultSize: 8}},
		client.thunks)
	require.Equal(t, 1, a.count("Call"))
	requireBalanced(t, compiler)
}

func TestMoveCoalescing(t *testing.T) {
	compiler, a, _ := newTestCompiler(t, testDescription)

	compiler.Init(1, 0, 0, 8)
	compiler.StartLogicalIp(0)
	thread := compiler.Thread()
	x := compiler.Load(8, compiler.Memory(thread, 16, nil, 1))

	// x's register already satisfies y's next use and x is dead after the
	// load, so this move disappears entirely.
	y := compiler.Load(8, x)

	result := compiler.Add(8, y, compiler.Constant(1))
	compiler.Return(8, result)

	compiler.Compile()

	memoryToRegister := 0
	constantToRegister := 0
	registerToRegister := 0
	for _, move := range a.moves() {
		switch move.operands[0].(type) {
		case assembler.Memory:
			memoryToRegister++
		case assembler.Constant:
			constantToRegister++
		case assembler.Register:
			registerToRegister++
		}
	}

	require.Equal(t, 1, memoryToRegister)
	require.Equal(t, 1, constantToRegister)
	require.Equal(t, 1, registerToRegister)
	require.Len(t, a.moves(), 3)
	requireBalanced(t, compiler)
}

func TestStoreToMemory(t *testing.T) {
	compiler, a, _ := newTestCompiler(t, testDescription)

	compiler.Init(1, 0, 0, 8)
	compiler.StartLogicalIp(0)
	thread := compiler.Thread()
	destination := compiler.Memory(thread, 32, nil, 1)
	compiler.Store(8, compiler.Constant(7), destination)
	compiler.Return(0, nil)

	compiler.Compile()

	// A store to non-frame memory stages through a register.
	moves := a.moves()
	require.Len(t, moves, 2)
	staged := operandRegister(t, moves[0].operands[1])
	source := operandRegister(t, moves[1].operands[0])
	require.Equal(t, staged, source)
	memory := operandMemory(t, moves[1].operands[1])
	require.Equal(t, 32, memory.Offset)
	requireBalanced(t, compiler)
}

func TestCondensedShiftSecondOperandReuse(t *testing.T) {
	compiler, a, _ := newTestCompiler(t, testDescription)

	compiler.Init(1, 0, 0, 8)
	compiler.StartLogicalIp(0)
	thread := compiler.Thread()
	count := compiler.Load(8, compiler.Memory(thread, 16, nil, 1))
	operand := compiler.Load(8, compiler.Memory(thread, 24, nil, 1))

	// The shift count is word sized while the shifted operand is not; the
	// result still reuses the second operand's register.
	result := compiler.Shl(4, count, operand)
	compiler.Return(4, result)

	compiler.Compile()

	found := false
	for _, op := range a.ops {
		if op.name != "ShiftLeft" {
			continue
		}
		found = true
		require.Equal(t, []int{8, 4, 4}, op.sizes)
		require.Equal(t, op.operands[1], op.operands[2])
	}
	require.True(t, found, "shift not emitted")
	requireBalanced(t, compiler)
}

func TestJunctionMerge(t *testing.T) {
	compiler, a, _ := newTestCompiler(t, testDescription)

	compiler.Init(6, 0, 1, 8)

	compiler.StartLogicalIp(0)
	thread := compiler.Thread()
	x := compiler.Load(8, compiler.Memory(thread, 16, nil, 1))
	compiler.Cmp(4, x, compiler.Constant(0))

	// Snapshot at the point of divergence, then emit the branch.
	elseState := compiler.SaveState()
	compiler.Jge(compiler.PromiseConstant(compiler.MachineIp(3)))

	compiler.StartLogicalIp(1)
	compiler.StoreLocal(8, compiler.Constant(42), 0)
	compiler.Jmp(compiler.PromiseConstant(compiler.MachineIp(4)))

	compiler.StartLogicalIp(4)
	y := compiler.LoadLocal(8, 0)
	compiler.Return(8, y)

	compiler.RestoreState(elseState)
	compiler.StartLogicalIp(3)
	other := compiler.Thread()
	b := compiler.Load(8, compiler.Memory(other, 24, nil, 1))
	compiler.StoreLocal(8, b, 0)
	compiler.VisitLogicalIp(4)

	compiler.Compile()

	join := compiler.c.logicalCode[4].firstEvent.base()
	require.Len(t, join.predecessors, 2)

	// Every predecessor resolved the local against the same junction table,
	// and the local's slot was decided.
	first := join.predecessors[0].base().junctionSites
	second := join.predecessors[1].base().junctionSites
	require.NotNil(t, first)
	require.True(t, &first[0] == &second[0], "junction tables not shared")
	require.NotNil(t, first[0])

	require.Equal(t, 1, a.count("JumpIfGreaterOrEqual"))
	require.Equal(t, 1, a.count("Jump"))
	requireBalanced(t, compiler)
}

func TestStackCallPadding(t *testing.T) {
	compiler, _, _ := newTestCompiler(t, testDescription)
	c := compiler.c

	compiler.Init(1, 0, 0, 8)
	compiler.StartLogicalIp(0)

	compiler.PushValue(8, compiler.Constant(7))
	bottom := compiler.Top()
	compiler.PushValue(8, compiler.Constant(8))

	compiler.StackCall(compiler.Constant(0x4000), 0, nil, 0, 1)

	// The non-argument stack entry is padded out to the outgoing frame
	// boundary.
	expected := (c.alignedFrameSize + c.parameterFootprint - 1) -
		(bottom.(*stackEntry).index + c.localFootprint) - 1
	require.Equal(t, expected, compiler.Padding(bottom))

	compiler.Popped()
	compiler.Popped()
	compiler.Return(0, nil)

	compiler.Compile()
	requireBalanced(t, compiler)
}

func TestConstantPool(t *testing.T) {
	compiler, _, _ := newTestCompiler(t, testDescription)
	c := compiler.c

	compiler.Init(1, 0, 0, 2)
	compiler.StartLogicalIp(0)

	promise := compiler.PoolAppend(42)
	compiler.PoolAppend(99)
	compiler.Return(0, nil)

	size := compiler.Compile()
	require.Equal(t, 16, compiler.PoolSize())

	buffer := make([]byte, c.pad(size)+compiler.PoolSize())
	compiler.WriteTo(buffer)

	require.True(t, promise.Resolved())
	require.Equal(
		t,
		uint64(42),
		binary.LittleEndian.Uint64(buffer[c.pad(size):]))
	require.Equal(
		t,
		uint64(99),
		binary.LittleEndian.Uint64(buffer[c.pad(size)+8:]))
}

func TestCompilerReset(t *testing.T) {
	compiler, a, _ := newTestCompiler(t, testDescription)

	compiler.Init(1, 0, 0, 4)
	compiler.StartLogicalIp(0)
	compiler.Return(8, compiler.Load(8, compiler.Constant(7)))
	compiler.Compile()
	requireBalanced(t, compiler)

	compiler.Reset()
	a.ops = nil
	a.blockStart = 0

	compiler.Init(1, 0, 0, 4)
	compiler.StartLogicalIp(0)
	compiler.Return(8, compiler.Load(8, compiler.Constant(9)))
	compiler.Compile()

	require.Equal(t, 1, len(a.moves()))
	requireBalanced(t, compiler)
}
