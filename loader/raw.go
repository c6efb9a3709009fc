package loader

import (
	"debug/elf"
	"fmt"
	"math"

	"rvkit/log"
)

// LoadRaw places a bare instruction stream after an optional zero-filled
// read-write data area. The data area is rounded up to the page size and the
// entrypoint is the first instruction.
func (l *Loader) LoadRaw(code []byte, dataSize uint32) (_ *Image, err error) {
	page, err := l.pageSize()
	if err != nil {
		return nil, err
	}
	dataLen := alignUp(uint64(dataSize), uint64(page))
	size := dataLen + uint64(len(code))
	switch {
	case size == 0:
		return nil, ErrEmptyImage
	case size > math.MaxUint32:
		return nil, ErrImageTooLarge
	}

	mem, err := mapAnon(uint32(size))
	if err != nil {
		return nil, err
	}
	img := &Image{Mem: mem, Entry: uint32(dataLen)}
	defer func() {
		if err != nil {
			_ = img.Close()
		}
	}()

	if dataLen > 0 {
		img.Regions = append(img.Regions, Region{Size: uint32(dataLen), Flags: elf.PF_R | elf.PF_W})
		img.Segments = append(img.Segments, Segment{Memsz: uint32(dataLen), Flags: elf.PF_R | elf.PF_W})
	}
	if len(code) > 0 {
		img.Regions = append(img.Regions, Region{Offset: uint32(dataLen), Size: uint32(len(code)), Flags: elf.PF_R | elf.PF_X})
		img.Segments = append(img.Segments, Segment{
			Vaddr:  uint32(dataLen),
			Memsz:  uint32(len(code)),
			Filesz: uint32(len(code)),
			Flags:  elf.PF_R | elf.PF_X,
			Offset: uint32(dataLen),
		})
	}
	copy(mem[dataLen:], code)

	if err := protect(mem, img.Regions); err != nil {
		return nil, err
	}
	log.Debug(log.Loader, "raw image loaded", "data", dataLen, "code", len(code), "entry", fmt.Sprintf("%#x", img.Entry))
	return img, nil
}

// OpenRaw maps the file at path and loads it with LoadRaw.
func (l *Loader) OpenRaw(path string, dataSize uint32) (*Image, error) {
	data, release, err := mapFile(path)
	if err != nil {
		return nil, err
	}
	defer release()
	return l.LoadRaw(data, dataSize)
}
