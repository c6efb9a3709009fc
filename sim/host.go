package sim

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"

	"rvkit/isa"
)

// System call numbers, taken from the Linux generic table.
const (
	SysRead  = 63
	SysWrite = 64
	SysExit  = 93
)

// Error results returned in a0.
const (
	errnoEIO   = -5
	errnoEBADF = -9
)

// Host is the console behind ECALL: fd 0 reads In, fd 1 writes Out and fd 2
// writes Err. A nil stream makes its descriptor invalid.
type Host struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// Syscall services the ECALL at the current pc. The number is in a7, the
// arguments in a0..a2 and the result goes back to a0.
func (h *Host) Syscall(c *CPU) error {
	num := c.Regs.Read(isa.A7)
	a0, a1, a2 := c.Regs.Read(isa.A0), c.Regs.Read(isa.A1), c.Regs.Read(isa.A2)

	switch num {
	case SysWrite:
		ret, err := h.write(c.Mem, a0, a1, a2)
		if err != nil {
			return err
		}
		c.Regs.Write(isa.A0, uint32(ret))
	case SysRead:
		ret, err := h.read(c.Mem, a0, a1, a2)
		if err != nil {
			return err
		}
		c.Regs.Write(isa.A0, uint32(ret))
	case SysExit:
		c.Halted = true
		c.ExitCode = int32(a0)
	default:
		return fmt.Errorf("%w: %d", ErrUnknownSyscall, num)
	}
	return nil
}

func (h *Host) writer(fd uint32) io.Writer {
	switch fd {
	case 1:
		return h.Out
	case 2:
		return h.Err
	}
	return nil
}

func (h *Host) write(mem *Memory, fd, buf, n uint32) (int32, error) {
	w := h.writer(fd)
	if w == nil {
		return errnoEBADF, nil
	}
	p, err := mem.Slice(buf, n, elf.PF_R)
	if err != nil {
		return 0, err
	}
	written, err := w.Write(p)
	if err != nil {
		return errnoEIO, nil
	}
	return int32(written), nil
}

func (h *Host) read(mem *Memory, fd, buf, n uint32) (int32, error) {
	if fd != 0 || h.In == nil {
		return errnoEBADF, nil
	}
	p, err := mem.Slice(buf, n, elf.PF_W)
	if err != nil {
		return 0, err
	}
	got, err := h.In.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return errnoEIO, nil
	}
	return int32(got), nil
}
