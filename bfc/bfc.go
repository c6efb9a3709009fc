// Package bfc compiles the eight-command tape language (+-<>.,[]) to RV32I.
//
// Register use: s1 holds the cell pointer, t0 is scratch, a0-a2 and a7
// carry system call arguments.
package bfc

import (
	"bufio"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"rvkit/elfgen"
	"rvkit/isa"
	"rvkit/log"
	"rvkit/out"
)

const (
	// DataSize is the size of the zero-filled tape.
	DataSize = 3072

	DataSymbol  = "_bf_data"
	EntrySymbol = "_bf_entry"
)

// Linux system call numbers used by the generated code.
const (
	sysRead  = 63
	sysWrite = 64
	sysExit  = 93
)

var (
	ErrUnmatchedClose   = errors.New("unmatched ]")
	ErrUnmatchedOpen    = errors.New("unmatched [")
	ErrBranchOutOfRange = errors.New("loop body too large for a conditional branch")
)

// loop is an open '[': the offset of its check and of the placeholder
// branch that jumps past the loop.
type loop struct {
	check uint32
	beq   uint32
	pos   int
}

// loopSize is the size of one encoded loop on the loop stack.
const loopSize = 12

type compiler struct {
	code  out.Buffer
	loops out.Buffer
}

func (c *compiler) pushLoop(l loop) {
	e := c.loops.Reserve(loopSize)
	binary.LittleEndian.PutUint32(e, l.check)
	binary.LittleEndian.PutUint32(e[4:], l.beq)
	binary.LittleEndian.PutUint32(e[8:], uint32(l.pos))
}

// topLoop returns the innermost open loop. The stack must not be empty.
func (c *compiler) topLoop() loop {
	e := c.loops.Bytes()[c.loops.Len()-loopSize:]
	return loop{
		check: binary.LittleEndian.Uint32(e),
		beq:   binary.LittleEndian.Uint32(e[4:]),
		pos:   int(binary.LittleEndian.Uint32(e[8:])),
	}
}

func (c *compiler) popLoop() (loop, bool) {
	if c.loops.Len() == 0 {
		return loop{}, false
	}
	l := c.topLoop()
	c.loops.Truncate(c.loops.Len() - loopSize)
	return l, true
}

func (c *compiler) emit(words ...uint32) {
	for _, w := range words {
		binary.LittleEndian.PutUint32(c.code.Reserve(4), w)
	}
}

func (c *compiler) pc() uint32 { return uint32(c.code.Len()) }

func (c *compiler) syscall(num, fd int32) {
	c.emit(
		isa.ADDI(isa.A7, isa.Zero, num),
		isa.ADDI(isa.A0, isa.Zero, fd),
		isa.MV(isa.A1, isa.S1),
		isa.ADDI(isa.A2, isa.Zero, 1),
		isa.ECALL(),
	)
}

func (c *compiler) openLoop(pos int) {
	check := c.pc()
	c.emit(isa.LBU(isa.T0, isa.S1, 0))
	c.pushLoop(loop{check: check, beq: c.pc(), pos: pos})
	c.emit(isa.BEQ(isa.T0, isa.Zero, 0))
}

func (c *compiler) closeLoop(pos int) error {
	l, ok := c.popLoop()
	if !ok {
		return fmt.Errorf("%w at byte %d", ErrUnmatchedClose, pos)
	}

	back := int32(l.check) - int32(c.pc())
	if !isa.FitsJ(back) {
		return fmt.Errorf("%w at byte %d", ErrBranchOutOfRange, pos)
	}
	c.emit(isa.JAL(isa.Zero, back))

	fwd := int32(c.pc()) - int32(l.beq)
	if !isa.FitsB(fwd) {
		return fmt.Errorf("%w: [ at byte %d spans %d bytes", ErrBranchOutOfRange, l.pos, fwd)
	}
	at := c.code.Bytes()[l.beq:]
	binary.LittleEndian.PutUint32(at, isa.PatchB(binary.LittleEndian.Uint32(at), fwd))
	return nil
}

// Compile translates src into position-dependent machine code. The first
// instruction is `lui s1, 0`; its immediate must be relocated to the tape
// address (see EmitELF). Bytes other than the eight commands are ignored.
func Compile(src io.Reader) ([]byte, error) {
	var c compiler
	c.emit(isa.LUI(isa.S1, 0))

	r := bufio.NewReader(src)
	for pos := 0; ; pos++ {
		ch, err := r.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch ch {
		case '>':
			c.emit(isa.ADDI(isa.S1, isa.S1, 1))
		case '<':
			c.emit(isa.ADDI(isa.S1, isa.S1, -1))
		case '+', '-':
			delta := int32(1)
			if ch == '-' {
				delta = -1
			}
			c.emit(
				isa.LBU(isa.T0, isa.S1, 0),
				isa.ADDI(isa.T0, isa.T0, delta),
				isa.SB(isa.T0, isa.S1, 0),
			)
		case '.':
			c.syscall(sysWrite, 1)
		case ',':
			c.syscall(sysRead, 0)
		case '[':
			c.openLoop(pos)
		case ']':
			if err := c.closeLoop(pos); err != nil {
				return nil, err
			}
		}
	}
	if c.loops.Len() > 0 {
		return nil, fmt.Errorf("%w at byte %d", ErrUnmatchedOpen, c.topLoop().pos)
	}

	c.emit(
		isa.ADDI(isa.A7, isa.Zero, sysExit),
		isa.ADDI(isa.A0, isa.Zero, 0),
		isa.ECALL(),
	)
	log.Debug(log.Bfc, "compiled", "bytes", c.code.Len())
	return c.code.Bytes(), nil
}

// EmitELF wraps code in an executable: a NOBITS .data tape at address 0, the
// code in .text right after it and a HI20 relocation that points the first
// instruction at the tape.
func EmitELF(code []byte) []byte {
	b := elfgen.New(DataSize)
	data := b.AddSegment(elfgen.Segment{
		Name:    ".data",
		Flags:   elf.PF_R | elf.PF_W,
		Align:   4096,
		MemSize: DataSize,
	})
	text := b.AddSegment(elfgen.Segment{
		Name:  ".text",
		Vaddr: DataSize,
		Flags: elf.PF_R | elf.PF_X,
		Align: 4,
		Data:  code,
	})
	sym := b.AddSymbol(elfgen.Symbol{Name: DataSymbol, Section: data, Size: DataSize, Type: elf.STT_OBJECT})
	b.AddSymbol(elfgen.Symbol{Name: EntrySymbol, Section: text, Size: uint32(len(code)), Type: elf.STT_FUNC})
	b.AddRela(elfgen.Rela{Section: text, Offset: 0, Symbol: sym, Type: elf.R_RISCV_HI20})
	return b.Bytes()
}

// Build compiles src and returns the ELF image.
func Build(src io.Reader) ([]byte, error) {
	code, err := Compile(src)
	if err != nil {
		return nil, err
	}
	return EmitELF(code), nil
}
