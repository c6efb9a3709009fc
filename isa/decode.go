package isa

// Fields is the decoded view of one instruction word. Only the fields that
// belong to Format() are meaningful; the rest are zero. Imm is sign-extended
// for I, S, B and J and holds inst[31:12]<<12 for U.
type Fields struct {
	Op     Opcode
	Rd     Reg
	Rs1    Reg
	Rs2    Reg
	Funct3 uint32
	Funct7 uint32
	Imm    int32

	// Raw keeps the original word for FormatUnknown.
	Raw uint32
}

// Format reports the layout of the decoded instruction.
func (f Fields) Format() Format { return f.Op.Format() }

// Decode splits raw into the fields of the layout selected by its opcode.
func Decode(raw uint32) Fields {
	f := Fields{Op: OpcodeOf(raw)}
	switch f.Op.Format() {
	case FormatR:
		f.Rd, f.Rs1, f.Rs2 = rdOf(raw), rs1Of(raw), rs2Of(raw)
		f.Funct3, f.Funct7 = funct3Of(raw), funct7Of(raw)
	case FormatI:
		f.Rd, f.Rs1 = rdOf(raw), rs1Of(raw)
		f.Funct3 = funct3Of(raw)
		f.Imm = ReadIImmediate(raw)
	case FormatS:
		f.Rs1, f.Rs2 = rs1Of(raw), rs2Of(raw)
		f.Funct3 = funct3Of(raw)
		f.Imm = ReadSImmediate(raw)
	case FormatB:
		f.Rs1, f.Rs2 = rs1Of(raw), rs2Of(raw)
		f.Funct3 = funct3Of(raw)
		f.Imm = ReadBImmediate(raw)
	case FormatU:
		f.Rd = rdOf(raw)
		f.Imm = int32(ReadUpperImmediate(raw))
	case FormatJ:
		f.Rd = rdOf(raw)
		f.Imm = ReadJImmediate(raw)
	default:
		f.Raw = raw
	}
	return f
}

// Encode packs f back into an instruction word. Encode(Decode(w)) == w for
// every w.
func Encode(f Fields) uint32 {
	switch f.Op.Format() {
	case FormatR:
		return EncodeR(f.Op, f.Rd, f.Funct3, f.Rs1, f.Rs2, f.Funct7)
	case FormatI:
		return EncodeI(f.Op, f.Rd, f.Funct3, f.Rs1, f.Imm)
	case FormatS:
		return EncodeS(f.Op, f.Funct3, f.Rs1, f.Rs2, f.Imm)
	case FormatB:
		return EncodeB(f.Op, f.Funct3, f.Rs1, f.Rs2, f.Imm)
	case FormatU:
		return EncodeU(f.Op, f.Rd, uint32(f.Imm))
	case FormatJ:
		return EncodeJ(f.Op, f.Rd, f.Imm)
	default:
		return f.Raw&^opcodeMask | uint32(f.Op)&opcodeMask
	}
}
