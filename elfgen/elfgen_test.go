package elfgen

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rvkit/isa"
)

func twoSegmentImage() []byte {
	code := make([]byte, 8)
	binary.LittleEndian.PutUint32(code, isa.LUI(isa.S1, 0))
	binary.LittleEndian.PutUint32(code[4:], isa.ECALL())

	b := New(0x1000)
	data := b.AddSegment(Segment{Name: ".data", Flags: elf.PF_R | elf.PF_W, Align: 4096, MemSize: 64})
	text := b.AddSegment(Segment{Name: ".text", Vaddr: 0x1000, Flags: elf.PF_R | elf.PF_X, Align: 4, Data: code})
	sym := b.AddSymbol(Symbol{Name: "buf", Section: data, Size: 64, Type: elf.STT_OBJECT})
	b.AddSymbol(Symbol{Name: "start", Section: text, Type: elf.STT_FUNC})
	b.AddRela(Rela{Section: text, Offset: 0, Symbol: sym, Type: elf.R_RISCV_HI20})
	return b.Bytes()
}

func TestBuilderHeader(t *testing.T) {
	f, err := elf.NewFile(bytes.NewReader(twoSegmentImage()))
	require.NoError(t, err)

	assert.Equal(t, elf.ELFCLASS32, f.Class)
	assert.Equal(t, elf.ELFDATA2LSB, f.Data)
	assert.Equal(t, elf.ELFOSABI_NONE, f.OSABI)
	assert.Equal(t, elf.EM_RISCV, f.Machine)
	assert.Equal(t, elf.ET_EXEC, f.Type)
	assert.Equal(t, uint64(0x1000), f.Entry)
}

func TestBuilderSegments(t *testing.T) {
	f, err := elf.NewFile(bytes.NewReader(twoSegmentImage()))
	require.NoError(t, err)
	require.Len(t, f.Progs, 2)

	data, text := f.Progs[0], f.Progs[1]
	assert.Equal(t, elf.PT_LOAD, data.Type)
	assert.Equal(t, uint64(0), data.Filesz)
	assert.Equal(t, uint64(64), data.Memsz)
	assert.Equal(t, elf.PF_R|elf.PF_W, data.Flags)
	assert.Equal(t, uint64(4096), data.Align)

	assert.Equal(t, uint64(0x1000), text.Vaddr)
	assert.Equal(t, uint64(8), text.Filesz)
	buf := make([]byte, 8)
	_, err = text.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, isa.LUI(isa.S1, 0), binary.LittleEndian.Uint32(buf))
}

func TestBuilderSections(t *testing.T) {
	f, err := elf.NewFile(bytes.NewReader(twoSegmentImage()))
	require.NoError(t, err)

	d := f.Section(".data")
	require.NotNil(t, d)
	assert.Equal(t, elf.SHT_NOBITS, d.Type)
	assert.Equal(t, elf.SHF_ALLOC|elf.SHF_WRITE, d.Flags)

	text := f.Section(".text")
	require.NotNil(t, text)
	assert.Equal(t, elf.SHT_PROGBITS, text.Type)
	assert.Equal(t, elf.SHF_ALLOC|elf.SHF_EXECINSTR, text.Flags)

	syms, err := f.Symbols()
	require.NoError(t, err)
	require.Len(t, syms, 2)
	assert.Equal(t, "buf", syms[0].Name)
	assert.Equal(t, elf.STT_OBJECT, elf.ST_TYPE(syms[0].Info))
	assert.Equal(t, elf.SectionIndex(1), syms[0].Section)
	assert.Equal(t, "start", syms[1].Name)
	assert.Equal(t, elf.SectionIndex(2), syms[1].Section)
}

func TestBuilderRelocations(t *testing.T) {
	f, err := elf.NewFile(bytes.NewReader(twoSegmentImage()))
	require.NoError(t, err)

	rela := f.Section(".rela.text")
	require.NotNil(t, rela)
	assert.Equal(t, elf.SHT_RELA, rela.Type)
	assert.Equal(t, uint64(RelaSize), rela.Entsize)
	assert.Equal(t, ".text", f.Sections[rela.Info].Name)
	assert.Equal(t, ".symtab", f.Sections[rela.Link].Name)

	raw, err := rela.Data()
	require.NoError(t, err)
	require.Len(t, raw, RelaSize)
	var r elf.Rela32
	_, err = binary.Decode(raw, binary.LittleEndian, &r)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), r.Off)
	assert.Equal(t, uint32(1), elf.R_SYM32(r.Info))
	assert.Equal(t, elf.R_RISCV_HI20, elf.R_RISCV(elf.R_TYPE32(r.Info)))
}

func TestBuilderWithoutRelocations(t *testing.T) {
	b := New(0)
	b.AddSegment(Segment{Name: ".text", Flags: elf.PF_R | elf.PF_X, Align: 4, Data: []byte{0x13, 0, 0, 0}})
	f, err := elf.NewFile(bytes.NewReader(b.Bytes()))
	require.NoError(t, err)

	assert.Len(t, f.Progs, 1)
	for _, s := range f.Sections {
		assert.NotEqual(t, elf.SHT_RELA, s.Type)
	}
	syms, err := f.Symbols()
	require.NoError(t, err)
	assert.Empty(t, syms)
}
