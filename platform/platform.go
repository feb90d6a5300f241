package platform

import (
	arch "github.com/pattyshack/towhee/architecture"
)

// Platform is a table-driven Architecture built from a Description.
type Platform struct {
	desc *Description

	numbers  map[string]int
	reserved map[int]struct{}

	argumentRegisters []int

	stack      int
	thread     int
	returnLow  int
	returnHigh int

	binaryPlans  map[string][]PlanSpec
	ternaryPlans map[string][]PlanSpec
}

var _ arch.Architecture = &Platform{}

// NewPlatform assumes the description already passed validation.
func NewPlatform(desc *Description) *Platform {
	p := &Platform{
		desc:         desc,
		numbers:      map[string]int{},
		reserved:     map[int]struct{}{},
		binaryPlans:  map[string][]PlanSpec{},
		ternaryPlans: map[string][]PlanSpec{},
	}

	for number, name := range desc.Registers {
		p.numbers[name] = number
	}
	for _, name := range desc.Reserved {
		p.reserved[p.numbers[name]] = struct{}{}
	}
	for _, name := range desc.Argument {
		p.argumentRegisters = append(p.argumentRegisters, p.numbers[name])
	}

	p.stack = p.numbers[desc.Stack]
	p.thread = p.numbers[desc.Thread]
	p.returnLow = p.numbers[desc.ReturnLow]
	p.returnHigh = arch.NoRegister
	if desc.ReturnHigh != "" {
		p.returnHigh = p.numbers[desc.ReturnHigh]
	}

	for _, spec := range desc.BinaryPlans {
		p.binaryPlans[spec.Op] = append(p.binaryPlans[spec.Op], spec)
	}
	for _, spec := range desc.TernaryPlans {
		p.ternaryPlans[spec.Op] = append(p.ternaryPlans[spec.Op], spec)
	}

	return p
}

func (p *Platform) Name() string {
	return p.desc.Name
}

func (p *Platform) WordSize() int {
	return p.desc.WordSize
}

func (p *Platform) RegisterCount() int {
	return len(p.desc.Registers)
}

func (p *Platform) Reserved(register int) bool {
	_, ok := p.reserved[register]
	return ok
}

func (p *Platform) ArgumentRegisterCount() int {
	return len(p.argumentRegisters)
}

func (p *Platform) ArgumentRegister(index int) int {
	return p.argumentRegisters[index]
}

func (p *Platform) Stack() int {
	return p.stack
}

func (p *Platform) Thread() int {
	return p.thread
}

func (p *Platform) ReturnLow() int {
	return p.returnLow
}

func (p *Platform) ReturnHigh() int {
	return p.returnHigh
}

func (p *Platform) FrameHeaderSize() int {
	return p.desc.FrameHeaderSize
}

func (p *Platform) FrameFooterSize() int {
	return p.desc.FrameFooterSize
}

func (p *Platform) CondensedAddressing() bool {
	return p.desc.CondensedAddressing
}

func (p *Platform) operandPlan(spec OperandSpec) arch.OperandPlan {
	result := arch.AnyPlan

	if len(spec.Types) > 0 {
		mask := arch.TypeMask(0)
		for _, name := range spec.Types {
			mask |= 1 << operandTypeNames[name]
		}
		result.TypeMask = mask
	}

	if len(spec.Registers) > 0 {
		mask := arch.RegisterMask(0)
		for _, name := range spec.Registers {
			number := p.numbers[name]
			mask |= arch.LowRegister(number) | arch.HighRegister(number)
		}
		result.RegisterMask = mask
	}

	return result
}

func sizesMatch(spec PlanSpec, size int) bool {
	if len(spec.Sizes) == 0 {
		return true
	}
	for _, s := range spec.Sizes {
		if s == size {
			return true
		}
	}
	return false
}

func (p *Platform) PlanBinary(
	op arch.BinaryOperation,
	aSize int,
	bSize int,
) (
	arch.OperandPlan,
	arch.OperandPlan,
	bool,
) {
	for _, spec := range p.binaryPlans[op.String()] {
		if !sizesMatch(spec, bSize) {
			continue
		}
		if spec.Thunk {
			return arch.AnyPlan, arch.AnyPlan, true
		}
		return p.operandPlan(spec.A), p.operandPlan(spec.B), false
	}
	return arch.AnyPlan, arch.AnyPlan, false
}

func (p *Platform) PlanTernary(
	op arch.TernaryOperation,
	aSize int,
	bSize int,
	resultSize int,
) (
	arch.OperandPlan,
	arch.OperandPlan,
	arch.OperandPlan,
	bool,
) {
	for _, spec := range p.ternaryPlans[op.String()] {
		if !sizesMatch(spec, resultSize) {
			continue
		}
		if spec.Thunk {
			return arch.AnyPlan, arch.AnyPlan, arch.AnyPlan, true
		}
		return p.operandPlan(spec.A),
			p.operandPlan(spec.B),
			p.operandPlan(spec.Result),
			false
	}
	return arch.AnyPlan, arch.AnyPlan, arch.AnyPlan, false
}
