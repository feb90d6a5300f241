package compiler

import (
	arch "github.com/pattyshack/towhee/architecture"
)

// Promises over positions in the emitted artifact.  They resolve once
// WriteTo pins the code buffer's address.

type poolPromise struct {
	c   *context
	key int
}

func (promise *poolPromise) Value() int64 {
	if !promise.Resolved() {
		promise.c.abort("pool promise value requested before resolution")
	}
	return int64(promise.c.machineCodeBase) +
		int64(promise.c.pad(promise.c.machineCodeSize)) +
		int64(promise.key*promise.c.wordSize)
}

func (promise *poolPromise) Resolved() bool {
	return promise.c.machineCodeBase != 0
}

type codePromise struct {
	c      *context
	offset arch.Promise
	next   *codePromise
}

func (promise *codePromise) Value() int64 {
	if !promise.Resolved() {
		promise.c.abort("code promise value requested before resolution")
	}
	return int64(promise.c.machineCodeBase) + promise.offset.Value()
}

func (promise *codePromise) Resolved() bool {
	return promise.c.machineCodeBase != 0 &&
		promise.offset != nil &&
		promise.offset.Resolved()
}

type ipPromise struct {
	c         *context
	logicalIp int
}

func (promise *ipPromise) Value() int64 {
	if !promise.Resolved() {
		promise.c.abort("ip promise value requested before resolution")
	}
	return int64(promise.c.machineCodeBase) +
		int64(promise.c.machineOffset(promise.logicalIp))
}

func (promise *ipPromise) Resolved() bool {
	return promise.c.machineCodeBase != 0
}

func (c *context) machineOffset(logicalIp int) int {
	return int(c.logicalCode[logicalIp].machineOffset.Value())
}

type constantPoolNode struct {
	promise arch.Promise
	next    *constantPoolNode
}
