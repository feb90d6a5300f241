package compiler

import (
	"testing"

	"github.com/stretchr/testify/require"

	arch "github.com/pattyshack/towhee/architecture"
)

func TestIntersectFrameIndexes(t *testing.T) {
	require.Equal(t, noFrameIndex, intersectFrameIndexes(noFrameIndex, 3))
	require.Equal(t, noFrameIndex, intersectFrameIndexes(3, noFrameIndex))
	require.Equal(
		t,
		noFrameIndex,
		intersectFrameIndexes(noFrameIndex, anyFrameIndex))

	require.Equal(t, 3, intersectFrameIndexes(anyFrameIndex, 3))
	require.Equal(t, 3, intersectFrameIndexes(3, anyFrameIndex))
	require.Equal(
		t,
		anyFrameIndex,
		intersectFrameIndexes(anyFrameIndex, anyFrameIndex))

	require.Equal(t, 3, intersectFrameIndexes(3, 3))
	require.Equal(t, noFrameIndex, intersectFrameIndexes(3, 4))
}

func TestSingleReadIntersect(t *testing.T) {
	compiler, _, _ := newTestCompiler(t, testDescription)
	c := compiler.c

	r := newRead(
		c,
		8,
		operandConstraint{
			typeMask: arch.TypeMaskOf(
				arch.RegisterOperand,
				arch.ConstantOperand),
			registerMask: arch.RegisterMask(0xff),
			frameIndex:   anyFrameIndex,
		})

	constraint := operandConstraint{
		typeMask: arch.TypeMaskOf(
			arch.RegisterOperand,
			arch.MemoryOperand),
		registerMask: arch.RegisterMask(0x0f),
		frameIndex:   2,
	}
	require.True(t, r.intersect(&constraint))

	require.Equal(
		t,
		arch.TypeMaskOf(arch.RegisterOperand),
		constraint.typeMask)
	require.Equal(t, arch.RegisterMask(0x0f), constraint.registerMask)
	require.Equal(t, 2, constraint.frameIndex)
}

func TestMultiReadIntersect(t *testing.T) {
	compiler, _, _ := newTestCompiler(t, testDescription)
	c := compiler.c

	multi := newMultiRead(c, 8)
	multi.allocateTarget(c)
	multi.appendNext(c, newRead(
		c,
		8,
		operandConstraint{
			typeMask: arch.TypeMaskOf(
				arch.RegisterOperand,
				arch.MemoryOperand),
			registerMask: arch.RegisterMask(0xf0),
			frameIndex:   3,
		}))
	multi.allocateTarget(c)
	multi.appendNext(c, newRead(
		c,
		8,
		operandConstraint{
			typeMask: arch.TypeMaskOf(
				arch.RegisterOperand,
				arch.ConstantOperand),
			registerMask: arch.RegisterMask(0xff),
			frameIndex:   anyFrameIndex,
		}))

	require.True(t, multi.valid())

	constraint := anyConstraint()
	require.True(t, multi.intersect(&constraint))
	require.Equal(
		t,
		arch.TypeMaskOf(arch.RegisterOperand),
		constraint.typeMask)
	require.Equal(t, arch.RegisterMask(0xf0), constraint.registerMask)
	require.Equal(t, 3, constraint.frameIndex)
}

func TestMultiReadTargets(t *testing.T) {
	compiler, _, _ := newTestCompiler(t, testDescription)
	c := compiler.c

	multi := newMultiRead(c, 8)

	multi.allocateTarget(c)
	first := anyRegisterRead(c, 8)
	multi.appendNext(c, first)

	multi.allocateTarget(c)
	second := anyRegisterRead(c, 8)
	multi.appendNext(c, second)

	require.Equal(t, read(first), multi.nextTarget())
	require.Equal(t, read(second), multi.nextTarget())
}

func TestStubReadPermissiveUntilResolved(t *testing.T) {
	compiler, _, _ := newTestCompiler(t, testDescription)
	c := compiler.c

	stub := newStubRead(c, 8)
	require.True(t, stub.valid())

	constraint := anyConstraint()
	require.True(t, stub.intersect(&constraint))
	require.Equal(t, arch.AnyType, constraint.typeMask)

	stub.appendNext(c, anyRegisterRead(c, 8))
	constraint = anyConstraint()
	require.True(t, stub.intersect(&constraint))
	require.Equal(
		t,
		arch.TypeMaskOf(arch.RegisterOperand),
		constraint.typeMask)
}
