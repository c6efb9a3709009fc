package loader

import (
	"debug/elf"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Image is a loaded program: one anonymous mapping holding every segment,
// the entry offset inside it and the protection regions applied to it.
type Image struct {
	Mem      []byte
	Entry    uint32
	Regions  []Region
	Segments []Segment
}

// Close releases the mapping. Mem must not be used afterwards.
func (im *Image) Close() error {
	if im == nil || im.Mem == nil {
		return nil
	}
	err := unix.Munmap(im.Mem)
	im.Mem = nil
	if err != nil {
		return fmt.Errorf("munmap image: %w", err)
	}
	return nil
}

func mapAnon(size uint32) ([]byte, error) {
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap image of %d bytes: %w", size, err)
	}
	return mem, nil
}

func protFlags(f elf.ProgFlag) int {
	prot := unix.PROT_NONE
	if f&elf.PF_R != 0 {
		prot |= unix.PROT_READ
	}
	if f&elf.PF_W != 0 {
		prot |= unix.PROT_WRITE
	}
	if f&elf.PF_X != 0 {
		prot |= unix.PROT_EXEC
	}
	return prot
}

func protect(mem []byte, regions []Region) error {
	for _, r := range regions {
		if r.Size == 0 {
			continue
		}
		if err := unix.Mprotect(mem[r.Offset:r.Offset+r.Size], protFlags(r.Flags)); err != nil {
			return fmt.Errorf("mprotect failed for region %#x+%#x: %w", r.Offset, r.Size, err)
		}
	}
	return nil
}

// mapFile maps path read-only. The returned function releases the mapping.
func mapFile(path string) ([]byte, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	if st.Size() == 0 {
		return nil, func() {}, nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to mmap %s: %w", path, err)
	}
	return data, func() { _ = unix.Munmap(data) }, nil
}
