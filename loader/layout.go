package loader

import (
	"debug/elf"
	"fmt"
	"io"
	"math"
	"slices"
)

// Segment is a PT_LOAD program header. Offset is filled in by ComputeLayout
// and is the segment's position in the compacted image.
type Segment struct {
	Vaddr  uint32
	Memsz  uint32
	Filesz uint32
	Align  uint32
	Flags  elf.ProgFlag
	Offset uint32

	src io.ReaderAt
}

func (s Segment) end() uint64 { return uint64(s.Vaddr) + uint64(s.Memsz) }

// Contains reports whether vaddr falls inside the segment's memory range.
func (s Segment) Contains(vaddr uint32) bool {
	return vaddr >= s.Vaddr && uint64(vaddr) < s.end()
}

// Region is a page-aligned span of the image sharing one set of protection
// flags.
type Region struct {
	Offset uint32
	Size   uint32
	Flags  elf.ProgFlag
}

// Layout is the placement of every segment in the compacted image.
type Layout struct {
	Segments []Segment
	Regions  []Region
	Size     uint32
}

// Translate maps a virtual address to an image offset.
func (l Layout) Translate(vaddr uint32) (uint32, bool) {
	for _, s := range l.Segments {
		if s.Contains(vaddr) {
			return s.Offset + (vaddr - s.Vaddr), true
		}
	}
	return 0, false
}

func alignUp(v, align uint64) uint64 {
	if align < 2 {
		return v
	}
	return (v + align - 1) / align * align
}

// ComputeLayout places segs in a single image. Segments are ordered by
// virtual address; the first lands at offset 0. Each following segment starts
// no closer to the previous segment's offset than max(prev.Memsz, gap), where
// gap is the end-to-start distance in the virtual address space. It is then
// aligned to its own alignment and, when its flags differ from the current
// region, starts a new page-aligned region.
func ComputeLayout(segs []Segment, pageSize uint32) (Layout, error) {
	if len(segs) == 0 {
		return Layout{}, ErrNoExecutableCode
	}
	placed := slices.Clone(segs)
	slices.SortStableFunc(placed, func(a, b Segment) int {
		switch {
		case a.Vaddr < b.Vaddr:
			return -1
		case a.Vaddr > b.Vaddr:
			return 1
		}
		return 0
	})

	if placed[0].Align > pageSize {
		return Layout{}, fmt.Errorf("%w: %#x > %#x", ErrFirstSegmentAlign, placed[0].Align, pageSize)
	}
	placed[0].Offset = 0
	next := uint64(placed[0].Memsz)
	regions := []Region{{Offset: 0, Flags: placed[0].Flags}}

	for i := 1; i < len(placed); i++ {
		prev, seg := placed[i-1], &placed[i]
		if uint64(seg.Vaddr) < prev.end() {
			return Layout{}, fmt.Errorf("%w: %#x-%#x and %#x", ErrOverlappingSegments, prev.Vaddr, prev.end(), seg.Vaddr)
		}
		gap := uint64(seg.Vaddr) - prev.end()
		if dist := next - uint64(prev.Offset); dist < gap {
			next += gap - dist
		}
		next = alignUp(next, uint64(seg.Align))

		cur := &regions[len(regions)-1]
		if seg.Flags != cur.Flags {
			next = alignUp(next, uint64(pageSize))
		}
		if next > math.MaxUint32 {
			return Layout{}, ErrImageTooLarge
		}
		if seg.Flags != cur.Flags {
			cur.Size = uint32(next - uint64(cur.Offset))
			regions = append(regions, Region{Offset: uint32(next), Flags: seg.Flags})
		}
		seg.Offset = uint32(next)
		next += uint64(seg.Memsz)
	}

	if next > math.MaxUint32 {
		return Layout{}, ErrImageTooLarge
	}
	last := &regions[len(regions)-1]
	last.Size = uint32(next - uint64(last.Offset))
	return Layout{Segments: placed, Regions: regions, Size: uint32(next)}, nil
}
