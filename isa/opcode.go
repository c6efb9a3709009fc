// Package isa describes the RV32I base instruction set: opcodes, register
// names, the per-format immediate codec and instruction encoders.
package isa

import "fmt"

// Opcode is the 7-bit major opcode held in bits 0-6 of every instruction.
type Opcode uint32

// Base opcode map (RISC-V unprivileged ISA manual, table 19.1).
const (
	OpLoad    Opcode = 0b0000011
	OpLoadFP  Opcode = 0b0000111
	OpCustom0 Opcode = 0b0001011
	OpMiscMem Opcode = 0b0001111
	OpImm     Opcode = 0b0010011
	OpAUIPC   Opcode = 0b0010111
	OpImm32   Opcode = 0b0011011
	OpStore   Opcode = 0b0100011
	OpStoreFP Opcode = 0b0100111
	OpCustom1 Opcode = 0b0101011
	OpAMO     Opcode = 0b0101111
	OpOp      Opcode = 0b0110011
	OpLUI     Opcode = 0b0110111
	OpOp32    Opcode = 0b0111011
	OpMadd    Opcode = 0b1000011
	OpMsub    Opcode = 0b1000111
	OpNmsub   Opcode = 0b1001011
	OpNmadd   Opcode = 0b1001111
	OpFP      Opcode = 0b1010011
	OpCustom2 Opcode = 0b1011011
	OpBranch  Opcode = 0b1100011
	OpJALR    Opcode = 0b1100111
	OpJAL     Opcode = 0b1101111
	OpSystem  Opcode = 0b1110011
	OpCustom3 Opcode = 0b1111011
)

const opcodeMask = 0x7F

// funct3 selectors, grouped by the opcode they qualify.
const (
	// OpLoad
	FuncLB  = 0b000
	FuncLH  = 0b001
	FuncLW  = 0b010
	FuncLBU = 0b100
	FuncLHU = 0b101

	// OpStore
	FuncSB = 0b000
	FuncSH = 0b001
	FuncSW = 0b010

	// OpBranch
	FuncBEQ  = 0b000
	FuncBNE  = 0b001
	FuncBLT  = 0b100
	FuncBGE  = 0b101
	FuncBLTU = 0b110
	FuncBGEU = 0b111

	// OpImm; SRLI and SRAI share funct3 and differ in imm[11:5].
	FuncADDI  = 0b000
	FuncSLLI  = 0b001
	FuncSLTI  = 0b010
	FuncSLTIU = 0b011
	FuncXORI  = 0b100
	FuncSRxI  = 0b101
	FuncORI   = 0b110
	FuncANDI  = 0b111

	// OpOp; SUB and SRA are selected by funct7.
	FuncADD  = 0b000
	FuncSLL  = 0b001
	FuncSLT  = 0b010
	FuncSLTU = 0b011
	FuncXOR  = 0b100
	FuncSRx  = 0b101
	FuncOR   = 0b110
	FuncAND  = 0b111

	// OpSystem
	FuncPRIV = 0b000
)

// Funct7Alt selects SUB over ADD and SRA over SRL. The same value sits in
// imm[11:5] of SRAI.
const Funct7Alt = 0b0100000

// System immediates for FuncPRIV.
const (
	ImmECALL  = 0
	ImmEBREAK = 1
)

// Format is the structural layout an opcode uses.
type Format int

const (
	FormatUnknown Format = iota
	FormatR
	FormatI
	FormatS
	FormatB
	FormatU
	FormatJ
)

var formatNames = [...]string{"unknown", "R", "I", "S", "B", "U", "J"}

func (f Format) String() string {
	if int(f) < len(formatNames) {
		return formatNames[f]
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// OpcodeOf extracts the major opcode of raw.
func OpcodeOf(raw uint32) Opcode { return Opcode(raw & opcodeMask) }

// Format reports the layout used by instructions with this opcode. FENCE,
// the fused multiply-add group and the custom/reserved slots fall back to
// FormatUnknown.
func (o Opcode) Format() Format {
	switch o {
	case OpOp, OpOp32, OpAMO, OpFP:
		return FormatR
	case OpLoad, OpLoadFP, OpImm, OpImm32, OpJALR, OpSystem:
		return FormatI
	case OpStore, OpStoreFP:
		return FormatS
	case OpBranch:
		return FormatB
	case OpLUI, OpAUIPC:
		return FormatU
	case OpJAL:
		return FormatJ
	default:
		return FormatUnknown
	}
}

var opcodeNames = map[Opcode]string{
	OpLoad:    "load",
	OpLoadFP:  "load-fp",
	OpCustom0: "custom-0",
	OpMiscMem: "misc-mem",
	OpImm:     "op-imm",
	OpAUIPC:   "auipc",
	OpImm32:   "op-imm-32",
	OpStore:   "store",
	OpStoreFP: "store-fp",
	OpCustom1: "custom-1",
	OpAMO:     "amo",
	OpOp:      "op",
	OpLUI:     "lui",
	OpOp32:    "op-32",
	OpMadd:    "madd",
	OpMsub:    "msub",
	OpNmsub:   "nmsub",
	OpNmadd:   "nmadd",
	OpFP:      "op-fp",
	OpCustom2: "custom-2",
	OpBranch:  "branch",
	OpJALR:    "jalr",
	OpJAL:     "jal",
	OpSystem:  "system",
	OpCustom3: "custom-3",
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("reserved(0b%07b)", uint32(o))
}
