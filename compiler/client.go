package compiler

import (
	arch "github.com/pattyshack/towhee/architecture"
)

// Client resolves runtime helper routines for operations the target cannot
// perform natively.
type Client interface {
	GetThunk(op arch.TernaryOperation, resultSize int) int64
}

// TraceHandler receives a promise of the address immediately following a
// call site, for safepoint metadata.
type TraceHandler interface {
	HandleTrace(address arch.Promise)
}

// Call flags.
const (
	// Aligned requests the aligned call variant for patchable call sites.
	Aligned = 1 << 0
)

// registerClient lets the assembler borrow scratch registers from the
// allocator while synthesizing multi-instruction sequences.
type registerClient struct {
	c *context
}

func (client *registerClient) AcquireTemporary(mask arch.RegisterMask) int {
	r := pickRegister(client.c, mask.Low()).number
	client.Save(r)
	increment(client.c, r)
	return r
}

func (client *registerClient) ReleaseTemporary(register int) {
	decrement(client.c, client.c.registers[register])
	client.Restore(register)
}

func (client *registerClient) Save(register int) {
	r := client.c.registers[register]
	client.c.assertf(
		r.refCount == 0 && r.value == nil,
		"temporary register %d still in use",
		register)
}

func (client *registerClient) Restore(register int) {}
