// Package elfgen builds small ELF32 little-endian RISC-V executables: one
// section per segment, optional RELA tables, a local symbol table and the
// usual string tables.
package elfgen

import (
	"debug/elf"
	"encoding/binary"

	"rvkit/out"
)

// Structure sizes of the ELF32 records written by the builder.
const (
	HeaderSize        = 52
	ProgHeaderSize    = 32
	SectionHeaderSize = 40
	RelaSize          = 12
)

// Segment is a program header together with the section that describes its
// contents. A segment with no Data and a non-zero MemSize is emitted as a
// SHT_NOBITS section.
type Segment struct {
	Name    string
	Type    elf.ProgType // zero means PT_LOAD
	Vaddr   uint32
	Flags   elf.ProgFlag
	Align   uint32
	Data    []byte
	MemSize uint32 // zero means len(Data)
}

func (s Segment) memSize() uint32 {
	if s.MemSize != 0 {
		return s.MemSize
	}
	return uint32(len(s.Data))
}

func (s Segment) progType() elf.ProgType {
	if s.Type == elf.PT_NULL {
		return elf.PT_LOAD
	}
	return s.Type
}

// Symbol is a local symbol. Section is an index returned by AddSegment and
// Value is relative to the start of that section.
type Symbol struct {
	Name    string
	Section int
	Value   uint32
	Size    uint32
	Type    elf.SymType
}

// Rela is one relocation entry patching the section Section at Offset.
type Rela struct {
	Section int
	Offset  uint32
	Symbol  int
	Type    elf.R_RISCV
	Addend  int32
}

// Builder accumulates segments, symbols and relocations.
type Builder struct {
	Entry   uint32
	Machine elf.Machine

	segments []Segment
	symbols  []Symbol
	relas    []Rela
}

// New returns a builder for an executable entered at entry.
func New(entry uint32) *Builder {
	return &Builder{Entry: entry, Machine: elf.EM_RISCV}
}

// AddSegment appends a segment and returns the index of its section.
func (b *Builder) AddSegment(s Segment) int {
	b.segments = append(b.segments, s)
	return len(b.segments)
}

// AddSymbol appends a symbol and returns its symbol table index. Index 0 is
// the reserved null symbol.
func (b *Builder) AddSymbol(s Symbol) int {
	b.symbols = append(b.symbols, s)
	return len(b.symbols)
}

// AddRela records a relocation against a section returned by AddSegment.
func (b *Builder) AddRela(r Rela) {
	b.relas = append(b.relas, r)
}

// Bytes lays out the image. Layout: ELF header, program headers, section
// headers, segment contents, relocation tables, .symtab, .strtab, .shstrtab.
func (b *Builder) Bytes() []byte {
	var img, strtab, shstrtab out.Buffer

	nseg := len(b.segments)
	targets, byTarget := b.relaTargets()

	symtabIdx := 1 + nseg + len(targets)
	strtabIdx := symtabIdx + 1
	shstrtabIdx := strtabIdx + 1
	nsec := shstrtabIdx + 1

	img.Reserve(HeaderSize)
	phoff := img.ReserveIndex(ProgHeaderSize * nseg)
	shoff := img.ReserveIndex(SectionHeaderSize * nsec)

	shstrtab.WriteIndex([]byte{0})
	strtab.WriteIndex([]byte{0})
	name := func(tab *out.Buffer, s string) uint32 {
		return uint32(tab.WriteIndex(append([]byte(s), 0)))
	}

	progs := make([]elf.Prog32, nseg)
	sections := make([]elf.Section32, nsec)

	for i, s := range b.segments {
		off := uint32(img.WriteIndex(s.Data))
		progs[i] = elf.Prog32{
			Type:   uint32(s.progType()),
			Off:    off,
			Vaddr:  s.Vaddr,
			Paddr:  s.Vaddr,
			Filesz: uint32(len(s.Data)),
			Memsz:  s.memSize(),
			Flags:  uint32(s.Flags),
			Align:  s.Align,
		}

		shType := elf.SHT_PROGBITS
		if len(s.Data) == 0 && s.memSize() > 0 {
			shType = elf.SHT_NOBITS
		}
		var shFlags elf.SectionFlag
		if s.progType() == elf.PT_LOAD {
			shFlags |= elf.SHF_ALLOC
		}
		if s.Flags&elf.PF_W != 0 {
			shFlags |= elf.SHF_WRITE
		}
		if s.Flags&elf.PF_X != 0 {
			shFlags |= elf.SHF_EXECINSTR
		}
		sections[i+1] = elf.Section32{
			Name:      name(&shstrtab, s.Name),
			Type:      uint32(shType),
			Flags:     uint32(shFlags),
			Addr:      s.Vaddr,
			Off:       off,
			Size:      s.memSize(),
			Addralign: s.Align,
		}
	}

	for j, tgt := range targets {
		relas := byTarget[tgt]
		off := img.Len()
		buf := img.Reserve(RelaSize * len(relas))
		for k, r := range relas {
			put(buf[k*RelaSize:], elf.Rela32{
				Off:    r.Offset,
				Info:   elf.R_INFO32(uint32(r.Symbol), uint32(r.Type)),
				Addend: r.Addend,
			})
		}
		sections[1+nseg+j] = elf.Section32{
			Name:      name(&shstrtab, ".rela"+b.segments[tgt-1].Name),
			Type:      uint32(elf.SHT_RELA),
			Off:       uint32(off),
			Size:      uint32(RelaSize * len(relas)),
			Link:      uint32(symtabIdx),
			Info:      uint32(tgt),
			Addralign: 4,
			Entsize:   RelaSize,
		}
	}

	symOff := img.Len()
	symBuf := img.Reserve(elf.Sym32Size * (len(b.symbols) + 1))
	for k, s := range b.symbols {
		put(symBuf[(k+1)*elf.Sym32Size:], elf.Sym32{
			Name:  name(&strtab, s.Name),
			Value: s.Value,
			Size:  s.Size,
			Info:  elf.ST_INFO(elf.STB_LOCAL, s.Type),
			Shndx: uint16(s.Section),
		})
	}
	sections[symtabIdx] = elf.Section32{
		Name:      name(&shstrtab, ".symtab"),
		Type:      uint32(elf.SHT_SYMTAB),
		Off:       uint32(symOff),
		Size:      uint32(elf.Sym32Size * (len(b.symbols) + 1)),
		Link:      uint32(strtabIdx),
		Info:      uint32(len(b.symbols) + 1),
		Addralign: 4,
		Entsize:   elf.Sym32Size,
	}

	sections[strtabIdx] = elf.Section32{
		Name:      name(&shstrtab, ".strtab"),
		Type:      uint32(elf.SHT_STRTAB),
		Flags:     uint32(elf.SHF_STRINGS),
		Off:       uint32(img.WriteIndex(strtab.Bytes())),
		Size:      uint32(strtab.Len()),
		Addralign: 1,
		Entsize:   1,
	}

	shstrName := name(&shstrtab, ".shstrtab")
	sections[shstrtabIdx] = elf.Section32{
		Name:      shstrName,
		Type:      uint32(elf.SHT_STRTAB),
		Flags:     uint32(elf.SHF_STRINGS),
		Off:       uint32(img.WriteIndex(shstrtab.Bytes())),
		Size:      uint32(shstrtab.Len()),
		Addralign: 1,
		Entsize:   1,
	}

	raw := img.Bytes()
	for i, p := range progs {
		put(raw[phoff+i*ProgHeaderSize:], p)
	}
	for i, s := range sections {
		put(raw[shoff+i*SectionHeaderSize:], s)
	}
	put(raw, b.header(uint32(phoff), uint32(shoff), nseg, nsec, shstrtabIdx))
	return raw
}

func (b *Builder) header(phoff, shoff uint32, nseg, nsec, shstrndx int) elf.Header32 {
	var ident [elf.EI_NIDENT]byte
	copy(ident[:], elf.ELFMAG)
	ident[elf.EI_CLASS] = byte(elf.ELFCLASS32)
	ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	ident[elf.EI_OSABI] = byte(elf.ELFOSABI_NONE)
	ident[elf.EI_ABIVERSION] = 0

	return elf.Header32{
		Ident:     ident,
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(b.Machine),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     b.Entry,
		Phoff:     phoff,
		Shoff:     shoff,
		Ehsize:    HeaderSize,
		Phentsize: ProgHeaderSize,
		Phnum:     uint16(nseg),
		Shentsize: SectionHeaderSize,
		Shnum:     uint16(nsec),
		Shstrndx:  uint16(shstrndx),
	}
}

// relaTargets groups relocations by target section, in order of first use.
func (b *Builder) relaTargets() ([]int, map[int][]Rela) {
	var targets []int
	byTarget := make(map[int][]Rela)
	for _, r := range b.relas {
		if _, ok := byTarget[r.Section]; !ok {
			targets = append(targets, r.Section)
		}
		byTarget[r.Section] = append(byTarget[r.Section], r)
	}
	return targets, byTarget
}

func put(dst []byte, v any) {
	if _, err := binary.Encode(dst, binary.LittleEndian, v); err != nil {
		panic("elfgen: " + err.Error())
	}
}
