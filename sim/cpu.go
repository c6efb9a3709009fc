// Package sim interprets RV32I machine code against a flat memory image.
package sim

import (
	"fmt"
	"io"

	"rvkit/dasm"
	"rvkit/isa"
	"rvkit/log"
)

// CPU executes the RV32I subset used by compiled programs: LUI, AUIPC, JAL,
// JALR, the six branches, LBU, SB, SW, the OP-IMM group, ADD, SUB, OR and
// ECALL. Every other encoding traps.
type CPU struct {
	Regs Registers
	PC   uint32
	Mem  *Memory
	Host *Host

	// Trace, when set, receives one line per fetched instruction.
	Trace io.Writer

	Halted   bool
	ExitCode int32
}

// New returns a CPU that starts at entry.
func New(mem *Memory, host *Host, entry uint32) *CPU {
	return &CPU{Mem: mem, Host: host, PC: entry}
}

func (c *CPU) trap(inst uint32, err error) error {
	return &Trap{PC: c.PC, Insn: inst, Err: err}
}

func (c *CPU) fetch() (uint32, error) {
	if c.PC%4 != 0 {
		return 0, ErrMisalignedFetch
	}
	return c.Mem.Fetch(c.PC)
}

// Step executes one instruction. It returns a *Trap when the instruction
// cannot be executed; the CPU must not be stepped again after that.
func (c *CPU) Step() error {
	if c.Halted {
		return nil
	}
	inst, err := c.fetch()
	if err != nil {
		return c.trap(inst, err)
	}
	if c.Trace != nil {
		fmt.Fprintf(c.Trace, "pc=%08x inst=%08x  %s\n", c.PC, inst, dasm.Disassemble(inst, c.PC))
	}
	if inst == 0 {
		return c.trap(inst, ErrIllegalInstruction)
	}

	f := isa.Decode(inst)
	nextPC := c.PC + 4

	switch f.Op {
	case isa.OpLUI:
		c.Regs.Write(f.Rd, uint32(f.Imm))
	case isa.OpAUIPC:
		c.Regs.Write(f.Rd, c.PC+uint32(f.Imm))
	case isa.OpJAL:
		c.Regs.Write(f.Rd, c.PC+4)
		nextPC = c.PC + uint32(f.Imm)
	case isa.OpJALR:
		if f.Funct3 != 0 {
			return c.trap(inst, ErrIllegalInstruction)
		}
		tgt := (c.Regs.Read(f.Rs1) + uint32(f.Imm)) &^ 1
		c.Regs.Write(f.Rd, c.PC+4)
		nextPC = tgt

	case isa.OpBranch:
		a := c.Regs.Read(f.Rs1)
		b := c.Regs.Read(f.Rs2)
		var taken bool
		switch f.Funct3 {
		case isa.FuncBEQ:
			taken = a == b
		case isa.FuncBNE:
			taken = a != b
		case isa.FuncBLT:
			taken = int32(a) < int32(b)
		case isa.FuncBGE:
			taken = int32(a) >= int32(b)
		case isa.FuncBLTU:
			taken = a < b
		case isa.FuncBGEU:
			taken = a >= b
		default:
			return c.trap(inst, ErrIllegalInstruction)
		}
		if taken {
			nextPC = c.PC + uint32(f.Imm)
		}

	case isa.OpLoad:
		addr := c.Regs.Read(f.Rs1) + uint32(f.Imm)
		switch f.Funct3 {
		case isa.FuncLBU:
			b, err := c.Mem.Read8(addr)
			if err != nil {
				return c.trap(inst, err)
			}
			c.Regs.Write(f.Rd, uint32(b))
		case isa.FuncLB, isa.FuncLH, isa.FuncLW, isa.FuncLHU:
			return c.trap(inst, ErrNotImplemented)
		default:
			return c.trap(inst, ErrIllegalInstruction)
		}

	case isa.OpStore:
		addr := c.Regs.Read(f.Rs1) + uint32(f.Imm)
		v := c.Regs.Read(f.Rs2)
		switch f.Funct3 {
		case isa.FuncSB:
			if err := c.Mem.Write8(addr, uint8(v)); err != nil {
				return c.trap(inst, err)
			}
		case isa.FuncSW:
			if addr%4 != 0 {
				return c.trap(inst, fmt.Errorf("%w: address %#x", ErrMisalignedStore, addr))
			}
			if err := c.Mem.Write32(addr, v); err != nil {
				return c.trap(inst, err)
			}
		case isa.FuncSH:
			return c.trap(inst, ErrNotImplemented)
		default:
			return c.trap(inst, ErrIllegalInstruction)
		}

	case isa.OpImm:
		a := c.Regs.Read(f.Rs1)
		imm := uint32(f.Imm)
		sh := imm & 0x1F
		switch f.Funct3 {
		case isa.FuncADDI:
			c.Regs.Write(f.Rd, a+imm)
		case isa.FuncSLTI:
			c.Regs.Write(f.Rd, boolToWord(int32(a) < f.Imm))
		case isa.FuncSLTIU:
			c.Regs.Write(f.Rd, boolToWord(a < imm))
		case isa.FuncXORI:
			c.Regs.Write(f.Rd, a^imm)
		case isa.FuncORI:
			c.Regs.Write(f.Rd, a|imm)
		case isa.FuncANDI:
			c.Regs.Write(f.Rd, a&imm)
		case isa.FuncSLLI:
			if imm>>5&0x7F != 0 {
				return c.trap(inst, ErrIllegalInstruction)
			}
			c.Regs.Write(f.Rd, a<<sh)
		case isa.FuncSRxI:
			switch (imm >> 5) & 0x7F {
			case 0: // SRLI
				c.Regs.Write(f.Rd, a>>sh)
			case isa.Funct7Alt: // SRAI
				c.Regs.Write(f.Rd, uint32(int32(a)>>sh))
			default:
				return c.trap(inst, ErrIllegalInstruction)
			}
		}

	case isa.OpOp:
		a := c.Regs.Read(f.Rs1)
		b := c.Regs.Read(f.Rs2)
		switch {
		case f.Funct3 == isa.FuncADD && f.Funct7 == 0:
			c.Regs.Write(f.Rd, a+b)
		case f.Funct3 == isa.FuncADD && f.Funct7 == isa.Funct7Alt:
			c.Regs.Write(f.Rd, a+(^b+1))
		case f.Funct3 == isa.FuncOR && f.Funct7 == 0:
			c.Regs.Write(f.Rd, a|b)
		case f.Funct7 == 0, f.Funct7 == isa.Funct7Alt && f.Funct3 == isa.FuncSRx:
			return c.trap(inst, ErrNotImplemented)
		default:
			return c.trap(inst, ErrIllegalInstruction)
		}

	case isa.OpSystem:
		if f.Funct3 != isa.FuncPRIV || f.Imm != isa.ImmECALL || f.Rd != isa.Zero || f.Rs1 != isa.Zero {
			return c.trap(inst, ErrNotImplemented)
		}
		if c.Host == nil {
			return c.trap(inst, ErrUnknownSyscall)
		}
		if err := c.Host.Syscall(c); err != nil {
			return c.trap(inst, err)
		}
		if c.Halted {
			log.Debug(log.Sim, "program exited", "pc", fmt.Sprintf("%08x", c.PC), "code", c.ExitCode)
			return nil
		}

	default:
		return c.trap(inst, fmt.Errorf("%w: opcode %s", ErrNotImplemented, f.Op))
	}

	c.PC = nextPC
	return nil
}

// Run steps until the program exits, a trap occurs or maxSteps instructions
// have executed. Zero means no limit. It returns the number of instructions
// executed by this call.
func (c *CPU) Run(maxSteps uint64) (uint64, error) {
	log.Debug(log.Sim, "run", "entry", fmt.Sprintf("%08x", c.PC), "memory", c.Mem.Size())
	var n uint64
	for !c.Halted {
		if maxSteps != 0 && n >= maxSteps {
			return n, ErrStepLimit
		}
		if err := c.Step(); err != nil {
			log.Debug(log.Sim, "trapped", "err", err, "steps", n)
			return n, err
		}
		n++
	}
	return n, nil
}

func boolToWord(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
