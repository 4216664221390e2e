// Command autodepso builds the libc-interposing shim as a c-shared
// library: go build -buildmode=c-shared -o autodep.so ./cmd/autodepso.
// The resulting .so is LD_PRELOAD'd around every job JobExec supervises.
package main

import "C"

import (
	_ "go.forgemake.dev/forgemake/internal/adapters/interposer"
)

func main() {}
