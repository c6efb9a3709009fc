package sim

import "rvkit/isa"

// Registers is the integer register file. x0 has no storage: it reads as
// zero and writes to it are dropped.
type Registers struct {
	x [isa.NumRegs - 1]uint32
}

func (r *Registers) Read(i isa.Reg) uint32 {
	if i == isa.Zero {
		return 0
	}
	return r.x[i-1]
}

func (r *Registers) Write(i isa.Reg, v uint32) {
	if i != isa.Zero {
		r.x[i-1] = v
	}
}
