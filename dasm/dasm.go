// Package dasm renders RV32I instruction words as assembler text.
package dasm

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"golang.org/x/arch/riscv64/riscv64asm"

	"rvkit/isa"
)

// Illegal is printed for the all-zero word.
const Illegal = "<illegal>"

var (
	loadNames   = map[uint32]string{isa.FuncLB: "lb", isa.FuncLH: "lh", isa.FuncLW: "lw", isa.FuncLBU: "lbu", isa.FuncLHU: "lhu"}
	storeNames  = map[uint32]string{isa.FuncSB: "sb", isa.FuncSH: "sh", isa.FuncSW: "sw"}
	branchNames = map[uint32]string{
		isa.FuncBEQ: "beq", isa.FuncBNE: "bne", isa.FuncBLT: "blt",
		isa.FuncBGE: "bge", isa.FuncBLTU: "bltu", isa.FuncBGEU: "bgeu",
	}
	immNames = map[uint32]string{
		isa.FuncADDI: "addi", isa.FuncSLTI: "slti", isa.FuncSLTIU: "sltiu",
		isa.FuncXORI: "xori", isa.FuncORI: "ori", isa.FuncANDI: "andi",
	}
	opNames = map[uint32]string{
		isa.FuncADD: "add", isa.FuncSLL: "sll", isa.FuncSLT: "slt", isa.FuncSLTU: "sltu",
		isa.FuncXOR: "xor", isa.FuncSRx: "srl", isa.FuncOR: "or", isa.FuncAND: "and",
	}
)

// Disassemble returns the text of raw located at pc. Jump and branch targets
// are printed as absolute addresses.
func Disassemble(raw, pc uint32) string {
	if raw == 0 {
		return Illegal
	}
	if s, ok := rv32i(isa.Decode(raw), pc); ok {
		return s
	}
	return fallback(raw)
}

func rv32i(f isa.Fields, pc uint32) (string, bool) {
	switch f.Op {
	case isa.OpLUI:
		return fmt.Sprintf("lui %s, 0x%x", f.Rd, uint32(f.Imm)>>12), true
	case isa.OpAUIPC:
		return fmt.Sprintf("auipc %s, 0x%x", f.Rd, uint32(f.Imm)>>12), true
	case isa.OpJAL:
		return fmt.Sprintf("jal %s, 0x%x", f.Rd, pc+uint32(f.Imm)), true
	case isa.OpJALR:
		if f.Funct3 != 0 {
			return "", false
		}
		return fmt.Sprintf("jalr %s, %d(%s)", f.Rd, f.Imm, f.Rs1), true
	case isa.OpBranch:
		name, ok := branchNames[f.Funct3]
		if !ok {
			return "", false
		}
		return fmt.Sprintf("%s %s, %s, 0x%x", name, f.Rs1, f.Rs2, pc+uint32(f.Imm)), true
	case isa.OpLoad:
		name, ok := loadNames[f.Funct3]
		if !ok {
			return "", false
		}
		return fmt.Sprintf("%s %s, %d(%s)", name, f.Rd, f.Imm, f.Rs1), true
	case isa.OpStore:
		name, ok := storeNames[f.Funct3]
		if !ok {
			return "", false
		}
		return fmt.Sprintf("%s %s, %d(%s)", name, f.Rs2, f.Imm, f.Rs1), true
	case isa.OpImm:
		return opImm(f)
	case isa.OpOp:
		return op(f)
	case isa.OpSystem:
		if f.Funct3 != isa.FuncPRIV || f.Rd != isa.Zero || f.Rs1 != isa.Zero {
			return "", false
		}
		switch f.Imm {
		case isa.ImmECALL:
			return "ecall", true
		case isa.ImmEBREAK:
			return "ebreak", true
		}
	}
	return "", false
}

func opImm(f isa.Fields) (string, bool) {
	shamt := uint32(f.Imm) & 0x1F
	upper := (uint32(f.Imm) >> 5) & 0x7F
	switch f.Funct3 {
	case isa.FuncSLLI:
		if upper != 0 {
			return "", false
		}
		return fmt.Sprintf("slli %s, %s, %d", f.Rd, f.Rs1, shamt), true
	case isa.FuncSRxI:
		switch upper {
		case 0:
			return fmt.Sprintf("srli %s, %s, %d", f.Rd, f.Rs1, shamt), true
		case isa.Funct7Alt:
			return fmt.Sprintf("srai %s, %s, %d", f.Rd, f.Rs1, shamt), true
		}
		return "", false
	}
	return fmt.Sprintf("%s %s, %s, %d", immNames[f.Funct3], f.Rd, f.Rs1, f.Imm), true
}

func op(f isa.Fields) (string, bool) {
	name := opNames[f.Funct3]
	switch f.Funct7 {
	case 0:
	case isa.Funct7Alt:
		switch f.Funct3 {
		case isa.FuncADD:
			name = "sub"
		case isa.FuncSRx:
			name = "sra"
		default:
			return "", false
		}
	default:
		return "", false
	}
	return fmt.Sprintf("%s %s, %s, %s", name, f.Rd, f.Rs1, f.Rs2), true
}

// fallback renders words outside the RV32I base with the x/arch decoder.
func fallback(raw uint32) string {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], raw)
	inst, err := riscv64asm.Decode(b[:])
	if err != nil || inst.Len != 4 {
		return fmt.Sprintf("<unknown %s 0x%08x>", isa.OpcodeOf(raw), raw)
	}
	return strings.ToLower(riscv64asm.GNUSyntax(inst))
}

// Text writes one line per little-endian word of code, addressed from base.
// A trailing partial word is printed as a byte dump.
func Text(w io.Writer, code []byte, base uint32) error {
	var sb strings.Builder
	offset := 0
	for ; offset+4 <= len(code); offset += 4 {
		raw := binary.LittleEndian.Uint32(code[offset:])
		pc := base + uint32(offset)
		sb.WriteString(fmt.Sprintf("%08x: %08x  %s\n", pc, raw, Disassemble(raw, pc)))
	}
	for ; offset < len(code); offset++ {
		sb.WriteString(fmt.Sprintf("%08x: db 0x%02x\n", base+uint32(offset), code[offset]))
	}
	_, err := io.WriteString(w, sb.String())
	return err
}
