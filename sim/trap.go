package sim

import (
	"errors"
	"fmt"
)

// Execution faults. Every one of them stops the CPU.
var (
	ErrMisalignedFetch    = errors.New("misaligned instruction fetch")
	ErrIllegalInstruction = errors.New("illegal instruction")
	ErrNotImplemented     = errors.New("instruction not implemented")
	ErrMisalignedStore    = errors.New("misaligned store")
	ErrMemoryFault        = errors.New("access outside memory")
	ErrProtectionFault    = errors.New("access violates page protection")
	ErrUnknownSyscall     = errors.New("unknown system call")
)

// ErrStepLimit is returned by Run when the step budget runs out. It is not a
// Trap: the CPU state is intact and Run may be called again.
var ErrStepLimit = errors.New("step limit reached")

// Trap describes the instruction that stopped the CPU.
type Trap struct {
	PC   uint32
	Insn uint32
	Err  error
}

func (t *Trap) Error() string {
	return fmt.Sprintf("trap at pc=%08x inst=%08x: %v", t.PC, t.Insn, t.Err)
}

func (t *Trap) Unwrap() error { return t.Err }
