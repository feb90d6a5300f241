package main

import (
	"fmt"
	"os"

	"github.com/pattyshack/gt/parseutil"

	arch "github.com/pattyshack/towhee/architecture"
	"github.com/pattyshack/towhee/platform"
)

func printPlan(label string, plan arch.OperandPlan) {
	types := []string{}
	for kind := arch.OperandType(0); kind < arch.NumOperandTypes; kind++ {
		if plan.TypeMask.Includes(kind) {
			types = append(types, kind.String())
		}
	}
	fmt.Printf(
		"    %s: types %v register mask %#x\n",
		label,
		types,
		uint64(plan.RegisterMask))
}

func main() {
	for _, fileName := range os.Args[1:] {
		fmt.Println("=====================")
		fmt.Println("File name:", fileName)
		fmt.Println("---------------------")
		content, err := os.ReadFile(fileName)
		if err != nil {
			fmt.Println("ReadFile error:", err)
			continue
		}

		emitter := &parseutil.Emitter{}
		desc := platform.Parse(fileName, content, emitter)

		errs := emitter.Errors()
		if len(errs) > 0 {
			fmt.Println("---------------------------")
			fmt.Println("Found", len(errs), "errors:")
			fmt.Println("---------------------------")
			for idx, err := range errs {
				fmt.Printf("error %d: %s\n", idx, err)
			}
			continue
		}

		target := platform.NewPlatform(desc)
		fmt.Printf(
			"%s: %d registers, %d byte words\n",
			target.Name(),
			target.RegisterCount(),
			target.WordSize())

		for op := arch.BinaryOperation(0); op < arch.NumBinaryOperations; op++ {
			a, b, thunk := target.PlanBinary(op, target.WordSize(), target.WordSize())
			fmt.Printf("  %s:\n", op)
			if thunk {
				fmt.Println("    thunk")
				continue
			}
			printPlan("a", a)
			printPlan("b", b)
		}

		for op := arch.TernaryOperation(0); op < arch.NumTernaryOperations; op++ {
			a, b, result, thunk := target.PlanTernary(
				op,
				target.WordSize(),
				target.WordSize(),
				target.WordSize())
			fmt.Printf("  %s:\n", op)
			if thunk {
				fmt.Println("    thunk")
				continue
			}
			printPlan("a", a)
			printPlan("b", b)
			printPlan("result", result)
		}
	}
}
