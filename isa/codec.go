package isa

// signExtend treats the low `bits` bits of v as a two's complement value.
func signExtend(v uint32, bits uint) int32 {
	shift := 32 - bits
	return int32(v<<shift) >> shift
}

// Field extraction shared by every format that carries the field.
func rdOf(raw uint32) Reg        { return Reg((raw >> 7) & 0x1F) }
func rs1Of(raw uint32) Reg       { return Reg((raw >> 15) & 0x1F) }
func rs2Of(raw uint32) Reg       { return Reg((raw >> 20) & 0x1F) }
func funct3Of(raw uint32) uint32 { return (raw >> 12) & 0x7 }
func funct7Of(raw uint32) uint32 { return raw >> 25 }

// ReadIImmediate returns inst[31:20] sign-extended.
func ReadIImmediate(raw uint32) int32 { return signExtend(raw>>20, 12) }

// ReadSImmediate returns {inst[31:25], inst[11:7]} sign-extended.
func ReadSImmediate(raw uint32) int32 {
	low := (raw >> 7) & 0x1F
	hi := (raw >> 25) & 0x7F
	return signExtend(hi<<5|low, 12)
}

// ReadBImmediate returns the branch offset. inst[7] carries imm[11] and
// inst[31] carries imm[12], so the result is always even.
func ReadBImmediate(raw uint32) int32 {
	// [12|10:5|4:1|11] << 1
	imm := ((raw>>31)&1)<<12 |
		((raw>>25)&0x3F)<<5 |
		((raw>>8)&0xF)<<1 |
		((raw>>7)&1)<<11
	return signExtend(imm, 13)
}

// ReadUpperImmediate returns inst[31:12] in place, low 12 bits cleared.
func ReadUpperImmediate(raw uint32) uint32 { return raw & 0xFFFFF000 }

// ReadJImmediate returns the jump offset:
// {inst[31]x12, inst[19:12], inst[20], inst[30:21], 0}.
func ReadJImmediate(raw uint32) int32 {
	// [20|10:1|11|19:12] << 1
	imm := ((raw>>31)&1)<<20 |
		((raw>>21)&0x3FF)<<1 |
		((raw>>20)&1)<<11 |
		((raw>>12)&0xFF)<<12
	return signExtend(imm, 21)
}

// ReadShiftImmediate returns the shift amount of SLLI/SRLI/SRAI.
func ReadShiftImmediate(raw uint32) uint32 { return (raw >> 20) & 0x1F }

// Immediate ranges per format.
const (
	MinImmI = -1 << 11
	MaxImmI = 1<<11 - 1
	MinImmB = -1 << 12
	MaxImmB = 1<<12 - 2
	MinImmJ = -1 << 20
	MaxImmJ = 1<<20 - 2
)

// FitsI reports whether imm is representable by an I- or S-type immediate.
func FitsI(imm int32) bool { return imm >= MinImmI && imm <= MaxImmI }

// FitsB reports whether off is a valid branch offset.
func FitsB(off int32) bool { return off&1 == 0 && off >= MinImmB && off <= MaxImmB }

// FitsJ reports whether off is a valid JAL offset.
func FitsJ(off int32) bool { return off&1 == 0 && off >= MinImmJ && off <= MaxImmJ }
