package sim

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
)

// Region grants access flags to a byte range of memory.
type Region struct {
	Offset uint32
	Size   uint32
	Flags  elf.ProgFlag
}

func (r Region) end() uint64 { return uint64(r.Offset) + uint64(r.Size) }

// Memory is a flat little-endian view over a borrowed buffer. Without
// regions every byte is readable, writable and executable; once Protect has
// been called only bytes inside a region are accessible and only in the ways
// its flags allow.
type Memory struct {
	buf     []byte
	regions []Region
}

func NewMemory(buf []byte) *Memory {
	return &Memory{buf: buf}
}

// Bytes returns the backing buffer.
func (m *Memory) Bytes() []byte { return m.buf }

// Size is the number of addressable bytes.
func (m *Memory) Size() uint32 { return uint32(len(m.buf)) }

// Protect replaces the access regions. Regions must not overlap.
func (m *Memory) Protect(regions ...Region) {
	m.regions = append(m.regions[:0], regions...)
}

func (m *Memory) regionAt(addr uint64) (Region, bool) {
	for _, r := range m.regions {
		if addr >= uint64(r.Offset) && addr < r.end() {
			return r, true
		}
	}
	return Region{}, false
}

func (m *Memory) check(addr, n uint32, need elf.ProgFlag) error {
	end := uint64(addr) + uint64(n)
	if end > uint64(len(m.buf)) {
		return fmt.Errorf("%w: %d bytes at %#x", ErrMemoryFault, n, addr)
	}
	if len(m.regions) == 0 {
		return nil
	}
	for a := uint64(addr); a < end; {
		r, ok := m.regionAt(a)
		if !ok || r.Flags&need != need {
			return fmt.Errorf("%w: %s access at %#x", ErrProtectionFault, need, a)
		}
		a = r.end()
	}
	return nil
}

// Slice returns n bytes at addr after checking the flags in need.
func (m *Memory) Slice(addr, n uint32, need elf.ProgFlag) ([]byte, error) {
	if err := m.check(addr, n, need); err != nil {
		return nil, err
	}
	return m.buf[addr : addr+n], nil
}

func (m *Memory) Read8(addr uint32) (uint8, error) {
	if err := m.check(addr, 1, elf.PF_R); err != nil {
		return 0, err
	}
	return m.buf[addr], nil
}

func (m *Memory) Write8(addr uint32, v uint8) error {
	if err := m.check(addr, 1, elf.PF_W); err != nil {
		return err
	}
	m.buf[addr] = v
	return nil
}

func (m *Memory) Read32(addr uint32) (uint32, error) {
	if err := m.check(addr, 4, elf.PF_R); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(m.buf[addr:]), nil
}

func (m *Memory) Write32(addr uint32, v uint32) error {
	if err := m.check(addr, 4, elf.PF_W); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(m.buf[addr:], v)
	return nil
}

// Fetch reads the instruction word at addr. The host must be able to read
// the page as well, so both R and X are required.
func (m *Memory) Fetch(addr uint32) (uint32, error) {
	if err := m.check(addr, 4, elf.PF_R|elf.PF_X); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(m.buf[addr:]), nil
}
