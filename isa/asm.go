package isa

// Format encoders. Register indices are masked to 5 bits and immediates are
// truncated to the width of their format; callers check ranges with FitsI,
// FitsB and FitsJ.

func reg(r Reg) uint32 { return uint32(r) & 0x1F }

// EncodeR packs a register-register instruction.
func EncodeR(op Opcode, rd Reg, f3 uint32, rs1, rs2 Reg, f7 uint32) uint32 {
	return (f7&0x7F)<<25 | reg(rs2)<<20 | reg(rs1)<<15 | (f3&7)<<12 | reg(rd)<<7 | uint32(op)&opcodeMask
}

// EncodeI packs a register-immediate, load or JALR instruction.
func EncodeI(op Opcode, rd Reg, f3 uint32, rs1 Reg, imm int32) uint32 {
	u := uint32(imm) & 0xFFF
	return u<<20 | reg(rs1)<<15 | (f3&7)<<12 | reg(rd)<<7 | uint32(op)&opcodeMask
}

// EncodeS packs a store.
func EncodeS(op Opcode, f3 uint32, rs1, rs2 Reg, imm int32) uint32 {
	u := uint32(imm) & 0xFFF
	immhi := (u >> 5) & 0x7F
	immlo := u & 0x1F
	return immhi<<25 | reg(rs2)<<20 | reg(rs1)<<15 | (f3&7)<<12 | immlo<<7 | uint32(op)&opcodeMask
}

// EncodeB packs a conditional branch; imm is the even byte offset.
func EncodeB(op Opcode, f3 uint32, rs1, rs2 Reg, imm int32) uint32 {
	return bImmBits(imm) | reg(rs2)<<20 | reg(rs1)<<15 | (f3&7)<<12 | uint32(op)&opcodeMask
}

func bImmBits(imm int32) uint32 {
	u := uint32(imm)
	b12 := (u >> 12) & 0x1
	b10_5 := (u >> 5) & 0x3F
	b4_1 := (u >> 1) & 0xF
	b11 := (u >> 11) & 0x1
	return b12<<31 | b10_5<<25 | b4_1<<8 | b11<<7
}

// bImmMask covers every bit of a B-type word that holds immediate bits.
const bImmMask = 0xFE000F80

// PatchB replaces the branch offset of an already encoded B-type word.
func PatchB(raw uint32, imm int32) uint32 {
	return raw&^bImmMask | bImmBits(imm)
}

// EncodeU packs LUI/AUIPC. imm already holds bits 31:12 in place.
func EncodeU(op Opcode, rd Reg, imm uint32) uint32 {
	return imm&0xFFFFF000 | reg(rd)<<7 | uint32(op)&opcodeMask
}

// EncodeJ packs JAL; imm is the even byte offset.
func EncodeJ(op Opcode, rd Reg, imm int32) uint32 {
	u := uint32(imm)
	return ((u>>20)&0x1)<<31 | ((u>>1)&0x3FF)<<21 |
		((u>>11)&0x1)<<20 | ((u>>12)&0xFF)<<12 |
		reg(rd)<<7 | uint32(op)&opcodeMask
}

// Assembler helpers, one per mnemonic.

func LUI(rd Reg, imm uint32) uint32   { return EncodeU(OpLUI, rd, imm) }
func AUIPC(rd Reg, imm uint32) uint32 { return EncodeU(OpAUIPC, rd, imm) }

func JAL(rd Reg, off int32) uint32 { return EncodeJ(OpJAL, rd, off) }
func JALR(rd, rs1 Reg, off int32) uint32 {
	return EncodeI(OpJALR, rd, 0, rs1, off)
}

func ADDI(rd, rs1 Reg, imm int32) uint32  { return EncodeI(OpImm, rd, FuncADDI, rs1, imm) }
func SLTI(rd, rs1 Reg, imm int32) uint32  { return EncodeI(OpImm, rd, FuncSLTI, rs1, imm) }
func SLTIU(rd, rs1 Reg, imm int32) uint32 { return EncodeI(OpImm, rd, FuncSLTIU, rs1, imm) }
func XORI(rd, rs1 Reg, imm int32) uint32  { return EncodeI(OpImm, rd, FuncXORI, rs1, imm) }
func ORI(rd, rs1 Reg, imm int32) uint32   { return EncodeI(OpImm, rd, FuncORI, rs1, imm) }
func ANDI(rd, rs1 Reg, imm int32) uint32  { return EncodeI(OpImm, rd, FuncANDI, rs1, imm) }

func SLLI(rd, rs1 Reg, shamt uint32) uint32 {
	return EncodeI(OpImm, rd, FuncSLLI, rs1, int32(shamt&0x1F))
}

func SRLI(rd, rs1 Reg, shamt uint32) uint32 {
	return EncodeI(OpImm, rd, FuncSRxI, rs1, int32(shamt&0x1F))
}

func SRAI(rd, rs1 Reg, shamt uint32) uint32 {
	return EncodeI(OpImm, rd, FuncSRxI, rs1, int32(Funct7Alt<<5|shamt&0x1F))
}

func LB(rd, rs1 Reg, off int32) uint32  { return EncodeI(OpLoad, rd, FuncLB, rs1, off) }
func LW(rd, rs1 Reg, off int32) uint32  { return EncodeI(OpLoad, rd, FuncLW, rs1, off) }
func LBU(rd, rs1 Reg, off int32) uint32 { return EncodeI(OpLoad, rd, FuncLBU, rs1, off) }

func SB(rs2, rs1 Reg, off int32) uint32 { return EncodeS(OpStore, FuncSB, rs1, rs2, off) }
func SH(rs2, rs1 Reg, off int32) uint32 { return EncodeS(OpStore, FuncSH, rs1, rs2, off) }
func SW(rs2, rs1 Reg, off int32) uint32 { return EncodeS(OpStore, FuncSW, rs1, rs2, off) }

func BEQ(rs1, rs2 Reg, off int32) uint32  { return EncodeB(OpBranch, FuncBEQ, rs1, rs2, off) }
func BNE(rs1, rs2 Reg, off int32) uint32  { return EncodeB(OpBranch, FuncBNE, rs1, rs2, off) }
func BLT(rs1, rs2 Reg, off int32) uint32  { return EncodeB(OpBranch, FuncBLT, rs1, rs2, off) }
func BGE(rs1, rs2 Reg, off int32) uint32  { return EncodeB(OpBranch, FuncBGE, rs1, rs2, off) }
func BLTU(rs1, rs2 Reg, off int32) uint32 { return EncodeB(OpBranch, FuncBLTU, rs1, rs2, off) }
func BGEU(rs1, rs2 Reg, off int32) uint32 { return EncodeB(OpBranch, FuncBGEU, rs1, rs2, off) }

func ADD(rd, rs1, rs2 Reg) uint32 { return EncodeR(OpOp, rd, FuncADD, rs1, rs2, 0) }
func SUB(rd, rs1, rs2 Reg) uint32 { return EncodeR(OpOp, rd, FuncADD, rs1, rs2, Funct7Alt) }
func SLL(rd, rs1, rs2 Reg) uint32 { return EncodeR(OpOp, rd, FuncSLL, rs1, rs2, 0) }
func XOR(rd, rs1, rs2 Reg) uint32 { return EncodeR(OpOp, rd, FuncXOR, rs1, rs2, 0) }
func OR(rd, rs1, rs2 Reg) uint32  { return EncodeR(OpOp, rd, FuncOR, rs1, rs2, 0) }
func AND(rd, rs1, rs2 Reg) uint32 { return EncodeR(OpOp, rd, FuncAND, rs1, rs2, 0) }

// MV copies rs into rd as `or rd, zero, rs`.
func MV(rd, rs Reg) uint32 { return OR(rd, Zero, rs) }

func ECALL() uint32  { return EncodeI(OpSystem, Zero, FuncPRIV, Zero, ImmECALL) }
func EBREAK() uint32 { return EncodeI(OpSystem, Zero, FuncPRIV, Zero, ImmEBREAK) }
