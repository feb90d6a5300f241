package platform

import (
	"fmt"

	"github.com/pattyshack/gt/parseutil"
	"github.com/pattyshack/gt/stringutil"
	"gopkg.in/yaml.v3"

	arch "github.com/pattyshack/towhee/architecture"
)

// An OperandSpec names the operand forms one instruction position accepts.
// An empty Types list means any form; an empty Registers list means any
// register.
type OperandSpec struct {
	Types     []string `yaml:"types"`
	Registers []string `yaml:"registers"`
}

// A PlanSpec describes how one operation may be emitted.  Entries with a
// Sizes filter apply only when the b operand size (binary plans) or the
// result size (ternary plans), in bytes, is listed; other operand sizes are
// not checked.  The first matching entry wins.  Thunk entries mark the operation as having no
// native form.
type PlanSpec struct {
	Op    string `yaml:"op"`
	Sizes []int  `yaml:"sizes"`
	Thunk bool   `yaml:"thunk"`

	A      OperandSpec `yaml:"a"`
	B      OperandSpec `yaml:"b"`
	Result OperandSpec `yaml:"result"`
}

// A Description is the YAML document describing a compilation target.
// Register numbers are list positions; role fields refer to registers by
// name.
type Description struct {
	Name string `yaml:"name"`

	WordSize int `yaml:"word-size"`

	Registers []string `yaml:"registers"`
	Reserved  []string `yaml:"reserved"`

	Stack    string   `yaml:"stack"`
	Thread   string   `yaml:"thread"`
	Argument []string `yaml:"argument"`

	ReturnLow  string `yaml:"return-low"`
	ReturnHigh string `yaml:"return-high"`

	FrameHeaderSize int `yaml:"frame-header-size"`
	FrameFooterSize int `yaml:"frame-footer-size"`

	CondensedAddressing bool `yaml:"condensed-addressing"`

	BinaryPlans  []PlanSpec `yaml:"binary-plans"`
	TernaryPlans []PlanSpec `yaml:"ternary-plans"`
}

var operandTypeNames = map[string]arch.OperandType{
	"constant": arch.ConstantOperand,
	"address":  arch.AddressOperand,
	"register": arch.RegisterOperand,
	"memory":   arch.MemoryOperand,
}

func binaryOperationNames() map[string]arch.BinaryOperation {
	names := map[string]arch.BinaryOperation{}
	for op := arch.BinaryOperation(0); op < arch.NumBinaryOperations; op++ {
		names[op.String()] = op
	}
	return names
}

func ternaryOperationNames() map[string]arch.TernaryOperation {
	names := map[string]arch.TernaryOperation{}
	for op := arch.TernaryOperation(0); op < arch.NumTernaryOperations; op++ {
		names[op.String()] = op
	}
	return names
}

// Parse decodes and validates a target description.  Problems are reported
// through the emitter; the returned description is nil when any were found.
func Parse(
	fileName string,
	content []byte,
	emitter *parseutil.Emitter,
) *Description {
	loc := parseutil.Location{FileName: fileName}

	desc := &Description{}
	err := yaml.Unmarshal(content, desc)
	if err != nil {
		emitter.Emit(loc, "malformed description: %s", err)
		return nil
	}

	pool := stringutil.NewInternPool()
	desc.Name = pool.Intern(desc.Name)
	for idx, name := range desc.Registers {
		desc.Registers[idx] = pool.Intern(name)
	}

	desc.validate(loc, emitter)
	if emitter.HasErrors() {
		return nil
	}
	return desc
}

func (desc *Description) validate(
	loc parseutil.Location,
	emitter *parseutil.Emitter,
) {
	if desc.WordSize != 4 && desc.WordSize != 8 {
		emitter.Emit(loc, "unsupported word size (%d)", desc.WordSize)
	}

	if len(desc.Registers) == 0 {
		emitter.Emit(loc, "no registers defined")
	}
	if len(desc.Registers) > 32 {
		emitter.Emit(loc, "too many registers (%d)", len(desc.Registers))
	}

	numbers := map[string]int{}
	for number, name := range desc.Registers {
		_, ok := numbers[name]
		if ok {
			emitter.Emit(loc, "duplicate register name (%s)", name)
			continue
		}
		numbers[name] = number
	}

	checkRegister := func(role string, name string) {
		if name == "" {
			emitter.Emit(loc, "missing %s register", role)
			return
		}
		_, ok := numbers[name]
		if !ok {
			emitter.Emit(loc, "undefined %s register (%s)", role, name)
		}
	}

	checkRegister("stack", desc.Stack)
	checkRegister("thread", desc.Thread)
	checkRegister("return-low", desc.ReturnLow)
	if desc.ReturnHigh != "" {
		checkRegister("return-high", desc.ReturnHigh)
	}
	for _, name := range desc.Reserved {
		checkRegister("reserved", name)
	}
	for _, name := range desc.Argument {
		checkRegister("argument", name)
	}

	if desc.FrameHeaderSize < 0 || desc.FrameFooterSize < 0 {
		emitter.Emit(loc, "negative frame header/footer size")
	}

	binaryOps := binaryOperationNames()
	ternaryOps := ternaryOperationNames()

	checkSpec := func(kind string, spec PlanSpec, position OperandSpec) {
		for _, name := range position.Types {
			_, ok := operandTypeNames[name]
			if !ok {
				emitter.Emit(
					loc,
					"unknown operand type (%s) in %s plan for %s",
					name,
					kind,
					spec.Op)
			}
		}
		for _, name := range position.Registers {
			_, ok := numbers[name]
			if !ok {
				emitter.Emit(
					loc,
					"undefined register (%s) in %s plan for %s",
					name,
					kind,
					spec.Op)
			}
		}
	}

	for _, spec := range desc.BinaryPlans {
		_, ok := binaryOps[spec.Op]
		if !ok {
			emitter.Emit(loc, "unknown binary operation (%s)", spec.Op)
		}
		checkSpec("binary", spec, spec.A)
		checkSpec("binary", spec, spec.B)
	}

	for _, spec := range desc.TernaryPlans {
		_, ok := ternaryOps[spec.Op]
		if !ok {
			emitter.Emit(loc, "unknown ternary operation (%s)", spec.Op)
		}
		checkSpec("ternary", spec, spec.A)
		checkSpec("ternary", spec, spec.B)
		checkSpec("ternary", spec, spec.Result)
	}
}

// MustParse parses a description that is expected to be valid (e.g. an
// embedded one).
func MustParse(fileName string, content []byte) *Description {
	emitter := &parseutil.Emitter{}
	desc := Parse(fileName, content, emitter)
	if desc == nil {
		panic(fmt.Sprintf(
			"invalid embedded description %s: %s",
			fileName,
			emitter.Errors()))
	}
	return desc
}
