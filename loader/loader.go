// Package loader maps RV32I ELF executables and raw instruction streams into
// a single compacted memory image.
package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"

	"rvkit/log"
)

const (
	headerSize     = 52
	progHeaderSize = 32
	relaSize       = 12
)

// ident is the required e_ident prefix: ELF32, little-endian, current
// version, SysV ABI, ABI version 0.
var ident = [...]byte{
	0x7f, 'E', 'L', 'F',
	byte(elf.ELFCLASS32),
	byte(elf.ELFDATA2LSB),
	byte(elf.EV_CURRENT),
	byte(elf.ELFOSABI_NONE),
	0,
}

// Loader builds Images. The zero value uses the host page size.
type Loader struct {
	PageSize uint32
}

func New() *Loader { return &Loader{} }

func (l *Loader) pageSize() (uint32, error) {
	host := uint32(os.Getpagesize())
	if l.PageSize == 0 {
		return host, nil
	}
	if l.PageSize%host != 0 {
		return 0, fmt.Errorf("%w: %d", ErrBadPageSize, l.PageSize)
	}
	return l.PageSize, nil
}

// Open maps the ELF file at path, loads it and releases the file mapping.
func (l *Loader) Open(path string) (*Image, error) {
	data, release, err := mapFile(path)
	if err != nil {
		return nil, err
	}
	defer release()
	return l.LoadELF(data)
}

func checkHeader(data []byte) (elf.Header32, error) {
	var hdr elf.Header32
	if len(data) < headerSize || !bytes.Equal(data[:len(ident)], ident[:]) {
		return hdr, ErrBadIdent
	}
	if _, err := binary.Decode(data, binary.LittleEndian, &hdr); err != nil {
		return hdr, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch {
	case elf.Machine(hdr.Machine) != elf.EM_RISCV:
		return hdr, fmt.Errorf("%w: %s", ErrWrongMachine, elf.Machine(hdr.Machine))
	case hdr.Entry == 0:
		return hdr, ErrNoEntrypoint
	case hdr.Phentsize == 0:
		return hdr, ErrNoExecutableCode
	case hdr.Phentsize != progHeaderSize:
		return hdr, fmt.Errorf("%w: %d", ErrBadProgramHeader, hdr.Phentsize)
	}
	return hdr, nil
}

func loadSegments(f *elf.File) ([]Segment, error) {
	var segs []Segment
	executable := false
	for _, p := range f.Progs {
		switch p.Type {
		case elf.PT_INTERP:
			return nil, ErrInterpreterUnsupported
		case elf.PT_LOAD:
		default:
			continue
		}
		if p.Filesz > p.Memsz {
			return nil, fmt.Errorf("%w: segment at %#x has filesz > memsz", ErrMalformed, p.Vaddr)
		}
		if p.Flags&(elf.PF_R|elf.PF_X) == elf.PF_R|elf.PF_X {
			executable = true
		}
		segs = append(segs, Segment{
			Vaddr:  uint32(p.Vaddr),
			Memsz:  uint32(p.Memsz),
			Filesz: uint32(p.Filesz),
			Align:  uint32(p.Align),
			Flags:  p.Flags,
			src:    p,
		})
	}
	if !executable {
		return nil, ErrNoExecutableCode
	}
	return segs, nil
}

// LoadELF validates data as an RV32I executable and loads it.
func (l *Loader) LoadELF(data []byte) (_ *Image, err error) {
	page, err := l.pageSize()
	if err != nil {
		return nil, err
	}
	hdr, err := checkHeader(data)
	if err != nil {
		return nil, err
	}
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	defer f.Close()

	segs, err := loadSegments(f)
	if err != nil {
		return nil, err
	}
	layout, err := ComputeLayout(segs, page)
	if err != nil {
		return nil, err
	}
	entry, ok := layout.Translate(hdr.Entry)
	if !ok {
		return nil, fmt.Errorf("%w: %#x", ErrEntryOutsideImage, hdr.Entry)
	}
	if layout.Size == 0 {
		return nil, ErrEmptyImage
	}

	mem, err := mapAnon(layout.Size)
	if err != nil {
		return nil, err
	}
	img := &Image{Mem: mem, Entry: entry, Regions: layout.Regions, Segments: layout.Segments}
	defer func() {
		if err != nil {
			_ = img.Close()
		}
	}()

	for _, s := range layout.Segments {
		log.Debug(log.Loader, "placing segment", "vaddr", fmt.Sprintf("%#x", s.Vaddr), "offset", fmt.Sprintf("%#x", s.Offset),
			"filesz", s.Filesz, "memsz", s.Memsz, "flags", s.Flags)
		dst := mem[s.Offset : s.Offset+s.Memsz]
		if s.Filesz > 0 {
			if _, err := s.src.ReadAt(dst[:s.Filesz], 0); err != nil {
				return nil, fmt.Errorf("%w: reading segment at %#x: %v", ErrMalformed, s.Vaddr, err)
			}
		}
		clear(dst[s.Filesz:])
	}

	if err := relocate(f, layout, mem); err != nil {
		return nil, err
	}
	if err := protect(mem, layout.Regions); err != nil {
		return nil, err
	}
	log.Debug(log.Loader, "image loaded", "size", layout.Size, "entry", fmt.Sprintf("%#x", entry), "regions", len(layout.Regions))
	return img, nil
}

func readSymbols(f *elf.File, link uint32) ([]elf.Sym32, error) {
	if int(link) >= len(f.Sections) || f.Sections[link].Type != elf.SHT_SYMTAB {
		return nil, fmt.Errorf("%w: sh_link %d is not a symbol table", ErrBadRelocationTable, link)
	}
	raw, err := f.Sections[link].Data()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	syms := make([]elf.Sym32, len(raw)/elf.Sym32Size)
	if _, err := binary.Decode(raw[:len(syms)*elf.Sym32Size], binary.LittleEndian, syms); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return syms, nil
}

// relocate applies every RELA section whose target section is loaded.
func relocate(f *elf.File, layout Layout, mem []byte) error {
	for _, sec := range f.Sections {
		if sec.Type != elf.SHT_RELA {
			continue
		}
		if sec.Entsize != relaSize || int(sec.Info) >= len(f.Sections) {
			return fmt.Errorf("%w: %s", ErrBadRelocationTable, sec.Name)
		}
		target := f.Sections[sec.Info]
		patchBase, ok := layout.Translate(uint32(target.Addr))
		if !ok {
			return fmt.Errorf("%w: %s patches %s at %#x", ErrRelocationTarget, sec.Name, target.Name, target.Addr)
		}
		syms, err := readSymbols(f, sec.Link)
		if err != nil {
			return err
		}
		raw, err := sec.Data()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		relas := make([]elf.Rela32, len(raw)/relaSize)
		if _, err := binary.Decode(raw[:len(relas)*relaSize], binary.LittleEndian, relas); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		log.Debug(log.Loader, "applying relocations", "section", sec.Name, "target", target.Name,
			"base", fmt.Sprintf("%#x", patchBase), "count", len(relas))

		for _, r := range relas {
			if err := applyRela(f, layout, mem, syms, patchBase, r); err != nil {
				return fmt.Errorf("%s+%#x: %w", target.Name, r.Off, err)
			}
		}
	}
	return nil
}

func applyRela(f *elf.File, layout Layout, mem []byte, syms []elf.Sym32, patchBase uint32, r elf.Rela32) error {
	idx := elf.R_SYM32(r.Info)
	if idx == 0 || int(idx) >= len(syms) {
		return fmt.Errorf("%w: symbol index %d", ErrUnresolvedSymbol, idx)
	}
	sym := syms[idx]
	if sym.Shndx == uint16(elf.SHN_UNDEF) || int(sym.Shndx) >= len(f.Sections) {
		return fmt.Errorf("%w: symbol %d in section %d", ErrUnresolvedSymbol, idx, sym.Shndx)
	}
	symBase, ok := layout.Translate(uint32(f.Sections[sym.Shndx].Addr))
	if !ok {
		return fmt.Errorf("%w: section %s is not loaded", ErrUnresolvedSymbol, f.Sections[sym.Shndx].Name)
	}
	s := symBase + sym.Value

	switch typ := elf.R_RISCV(elf.R_TYPE32(r.Info)); typ {
	case elf.R_RISCV_HI20:
		at := uint64(patchBase) + uint64(r.Off)
		if at+4 > uint64(len(mem)) {
			return fmt.Errorf("%w: offset %#x outside image", ErrBadRelocationTable, r.Off)
		}
		insn := binary.LittleEndian.Uint32(mem[at:])
		if insn&0xFFFFF000 != 0 {
			log.Warn(log.Loader, "HI20 target already has immediate bits", "offset", fmt.Sprintf("%#x", at), "insn", fmt.Sprintf("%08x", insn))
		}
		patched := insn | (s+uint32(r.Addend))&^0xFFF
		binary.LittleEndian.PutUint32(mem[at:], patched)
		log.Debug(log.Loader, "HI20", "offset", fmt.Sprintf("%#x", at), "before", fmt.Sprintf("%08x", insn), "after", fmt.Sprintf("%08x", patched))
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedRelocation, typ)
	}
	return nil
}
