package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rvkit/bfc"
	"rvkit/elfgen"
	"rvkit/isa"
	"rvkit/log"
)

var hostPage = uint32(os.Getpagesize())

func load(t *testing.T, data []byte) *Image {
	t.Helper()
	img, err := New().LoadELF(data)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, img.Close()) })
	return img
}

func textAndBSS(code []byte) *elfgen.Builder {
	b := elfgen.New(0x1000)
	b.AddSegment(elfgen.Segment{Name: ".text", Vaddr: 0x1000, Flags: rx, Align: 4, Data: code})
	b.AddSegment(elfgen.Segment{Name: ".bss", Vaddr: 0x1000 + uint32(len(code)), Flags: rw, Align: 4, MemSize: 3072})
	return b
}

func words(ws ...uint32) []byte {
	b := make([]byte, 4*len(ws))
	for i, w := range ws {
		binary.LittleEndian.PutUint32(b[4*i:], w)
	}
	return b
}

func TestLoadTextAndZeroData(t *testing.T) {
	code := words(isa.ADDI(isa.A0, isa.Zero, 1), isa.ECALL())
	img := load(t, textAndBSS(code).Bytes())

	assert.Equal(t, uint32(0), img.Entry)
	assert.Equal(t, code, img.Mem[:len(code)])

	require.Len(t, img.Segments, 2)
	data := img.Segments[1]
	assert.Equal(t, hostPage, data.Offset)
	assert.Equal(t, make([]byte, 3072), img.Mem[data.Offset:data.Offset+3072])
	assert.Equal(t, []Region{
		{Offset: 0, Size: hostPage, Flags: rx},
		{Offset: hostPage, Size: 3072, Flags: rw},
	}, img.Regions)
}

func TestLoadCompiledProgram(t *testing.T) {
	code, err := bfc.Compile(strings.NewReader("+."))
	require.NoError(t, err)
	img := load(t, bfc.EmitELF(code))

	// .data at vaddr 0 stays at offset 0, .text moves to the next page
	assert.Equal(t, hostPage, img.Entry)
	assert.Equal(t, make([]byte, bfc.DataSize), img.Mem[:bfc.DataSize])
	assert.Equal(t, code, img.Mem[hostPage:hostPage+uint32(len(code))])
	assert.Equal(t, uint32(hostPage)+uint32(len(code)), uint32(len(img.Mem)))
}

func TestHI20PatchesDataAddress(t *testing.T) {
	lui := isa.LUI(isa.S1, 0)
	code := words(lui, isa.ADDI(isa.S1, isa.S1, 0x7ff), isa.ECALL(), isa.ECALL())

	b := elfgen.New(0x10000)
	text := b.AddSegment(elfgen.Segment{Name: ".text", Vaddr: 0x10000, Flags: rx, Align: 4, Data: code})
	data := b.AddSegment(elfgen.Segment{Name: ".data", Vaddr: 0x12000, Flags: rw, Align: 4096, MemSize: 0x3000})
	sym := b.AddSymbol(elfgen.Symbol{Name: "buf", Section: data, Value: 0x1804, Size: 16, Type: elf.STT_OBJECT})
	b.AddRela(elfgen.Rela{Section: text, Offset: 0, Symbol: sym, Type: elf.R_RISCV_HI20, Addend: 0x10})

	img := load(t, b.Bytes())
	require.Len(t, img.Segments, 2)
	dataOff := img.Segments[1].Offset
	require.NotZero(t, dataOff)

	got := binary.LittleEndian.Uint32(img.Mem)
	want := (dataOff + 0x1804 + 0x10) &^ 0xFFF
	assert.Equal(t, want, isa.ReadUpperImmediate(got))
	assert.Equal(t, lui&0xFFF, got&0xFFF, "opcode and rd must be untouched")
	assert.Equal(t, isa.ADDI(isa.S1, isa.S1, 0x7ff), binary.LittleEndian.Uint32(img.Mem[4:]))
}

func TestHI20WarnsOnExistingImmediate(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Root()
	t.Cleanup(func() { log.SetDefault(prev) })
	require.NoError(t, log.InitLogger(&buf, "warn"))

	lui := isa.LUI(isa.S1, 0x1000)
	b := elfgen.New(0x1000)
	text := b.AddSegment(elfgen.Segment{Name: ".text", Vaddr: 0x1000, Flags: rx, Align: 4, Data: words(lui, isa.ECALL())})
	data := b.AddSegment(elfgen.Segment{Name: ".data", Vaddr: 0x4000, Flags: rw, Align: 4096, MemSize: 0x2000})
	sym := b.AddSymbol(elfgen.Symbol{Name: "buf", Section: data, Value: 0x1000})
	b.AddRela(elfgen.Rela{Section: text, Offset: 0, Symbol: sym, Type: elf.R_RISCV_HI20})

	img := load(t, b.Bytes())
	dataOff := img.Segments[1].Offset
	got := binary.LittleEndian.Uint32(img.Mem)
	assert.Equal(t, lui|(dataOff+0x1000)&^0xFFF, got, "patch is OR-ed into the existing bits")
	assert.Contains(t, buf.String(), "HI20 target already has immediate bits")
	assert.Contains(t, buf.String(), "module=loader")
}

func TestLoadRejects(t *testing.T) {
	valid := func() []byte { return textAndBSS(words(isa.ECALL())).Bytes() }
	mutate := func(f func([]byte)) []byte {
		d := valid()
		f(d)
		return d
	}
	build := func(f func(b *elfgen.Builder)) []byte {
		b := elfgen.New(0x1000)
		f(b)
		return b.Bytes()
	}
	code := words(isa.ECALL())

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"not elf", []byte("hello, world"), ErrBadIdent},
		{"linux abi", mutate(func(d []byte) { d[elf.EI_OSABI] = byte(elf.ELFOSABI_LINUX) }), ErrBadIdent},
		{"64-bit class", mutate(func(d []byte) { d[elf.EI_CLASS] = byte(elf.ELFCLASS64) }), ErrBadIdent},
		{"big endian", mutate(func(d []byte) { d[elf.EI_DATA] = byte(elf.ELFDATA2MSB) }), ErrBadIdent},
		{"no phentsize", mutate(func(d []byte) { d[42] = 0 }), ErrNoExecutableCode},
		{"odd phentsize", mutate(func(d []byte) { d[42] = 56 }), ErrBadProgramHeader},
		{"truncated", valid()[:80], ErrMalformed},
		{"wrong machine", build(func(b *elfgen.Builder) {
			b.Machine = elf.EM_386
			b.AddSegment(elfgen.Segment{Name: ".text", Vaddr: 0x1000, Flags: rx, Data: code})
		}), ErrWrongMachine},
		{"no entry", build(func(b *elfgen.Builder) {
			b.Entry = 0
			b.AddSegment(elfgen.Segment{Name: ".text", Flags: rx, Data: code})
		}), ErrNoEntrypoint},
		{"interpreter", build(func(b *elfgen.Builder) {
			b.AddSegment(elfgen.Segment{Name: ".interp", Type: elf.PT_INTERP, Data: []byte("/lib/ld.so\x00")})
			b.AddSegment(elfgen.Segment{Name: ".text", Vaddr: 0x1000, Flags: rx, Data: code})
		}), ErrInterpreterUnsupported},
		{"no executable segment", build(func(b *elfgen.Builder) {
			b.AddSegment(elfgen.Segment{Name: ".data", Vaddr: 0x1000, Flags: rw, Data: code})
		}), ErrNoExecutableCode},
		{"execute without read", build(func(b *elfgen.Builder) {
			b.AddSegment(elfgen.Segment{Name: ".text", Vaddr: 0x1000, Flags: elf.PF_X, Data: code})
		}), ErrNoExecutableCode},
		{"first segment over-aligned", build(func(b *elfgen.Builder) {
			b.AddSegment(elfgen.Segment{Name: ".text", Vaddr: 0x1000, Flags: rx, Align: 2 * hostPage, Data: code})
		}), ErrFirstSegmentAlign},
		{"entry outside segments", build(func(b *elfgen.Builder) {
			b.Entry = 0x9000
			b.AddSegment(elfgen.Segment{Name: ".text", Vaddr: 0x1000, Flags: rx, Data: code})
		}), ErrEntryOutsideImage},
		{"unsupported relocation", build(func(b *elfgen.Builder) {
			text := b.AddSegment(elfgen.Segment{Name: ".text", Vaddr: 0x1000, Flags: rx, Data: code})
			sym := b.AddSymbol(elfgen.Symbol{Name: "start", Section: text})
			b.AddRela(elfgen.Rela{Section: text, Symbol: sym, Type: elf.R_RISCV_LO12_I})
		}), ErrUnsupportedRelocation},
		{"undefined symbol", build(func(b *elfgen.Builder) {
			text := b.AddSegment(elfgen.Segment{Name: ".text", Vaddr: 0x1000, Flags: rx, Data: code})
			sym := b.AddSymbol(elfgen.Symbol{Name: "extern"})
			b.AddRela(elfgen.Rela{Section: text, Symbol: sym, Type: elf.R_RISCV_HI20})
		}), ErrUnresolvedSymbol},
		{"relocation outside section", build(func(b *elfgen.Builder) {
			text := b.AddSegment(elfgen.Segment{Name: ".text", Vaddr: 0x1000, Flags: rx, Data: code})
			sym := b.AddSymbol(elfgen.Symbol{Name: "start", Section: text})
			b.AddRela(elfgen.Rela{Section: text, Offset: 0x100, Symbol: sym, Type: elf.R_RISCV_HI20})
		}), ErrBadRelocationTable},
		{"relocation against unloaded section", build(func(b *elfgen.Builder) {
			b.AddSegment(elfgen.Segment{Name: ".text", Vaddr: 0x1000, Flags: rx, Data: code})
			note := b.AddSegment(elfgen.Segment{Name: ".note", Type: elf.PT_NOTE, Vaddr: 0x8000, Flags: elf.PF_R, Data: code})
			sym := b.AddSymbol(elfgen.Symbol{Name: "tag", Section: note})
			b.AddRela(elfgen.Rela{Section: note, Symbol: sym, Type: elf.R_RISCV_HI20})
		}), ErrRelocationTarget},
		{"symbol in unloaded section", build(func(b *elfgen.Builder) {
			text := b.AddSegment(elfgen.Segment{Name: ".text", Vaddr: 0x1000, Flags: rx, Data: code})
			note := b.AddSegment(elfgen.Segment{Name: ".note", Type: elf.PT_NOTE, Vaddr: 0x8000, Flags: elf.PF_R, Data: code})
			sym := b.AddSymbol(elfgen.Symbol{Name: "tag", Section: note})
			b.AddRela(elfgen.Rela{Section: text, Symbol: sym, Type: elf.R_RISCV_HI20})
		}), ErrUnresolvedSymbol},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := New().LoadELF(tt.data)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, img)
		})
	}
}

func TestLoaderPageSize(t *testing.T) {
	code, err := bfc.Compile(strings.NewReader("+"))
	require.NoError(t, err)

	l := &Loader{PageSize: 4 * hostPage}
	img, err := l.LoadELF(bfc.EmitELF(code))
	require.NoError(t, err)
	defer img.Close()
	assert.Equal(t, 4*hostPage, img.Entry)

	_, err = (&Loader{PageSize: hostPage + 1}).LoadELF(bfc.EmitELF(code))
	assert.ErrorIs(t, err, ErrBadPageSize)
}

func TestLoadRaw(t *testing.T) {
	code := words(isa.ADDI(isa.A0, isa.Zero, 1), isa.ECALL())

	img, err := New().LoadRaw(code, 3072)
	require.NoError(t, err)
	defer img.Close()
	assert.Equal(t, hostPage, img.Entry)
	assert.Equal(t, code, img.Mem[hostPage:])
	assert.Equal(t, make([]byte, hostPage), img.Mem[:hostPage])
	assert.Equal(t, []Region{
		{Offset: 0, Size: hostPage, Flags: rw},
		{Offset: hostPage, Size: 8, Flags: rx},
	}, img.Regions)

	bare, err := New().LoadRaw(code, 0)
	require.NoError(t, err)
	defer bare.Close()
	assert.Equal(t, uint32(0), bare.Entry)
	assert.Equal(t, code, bare.Mem)

	_, err = New().LoadRaw(nil, 0)
	assert.ErrorIs(t, err, ErrEmptyImage)
}

func TestOpenFiles(t *testing.T) {
	dir := t.TempDir()
	code, err := bfc.Compile(strings.NewReader("+."))
	require.NoError(t, err)

	elfPath := filepath.Join(dir, "a.out")
	require.NoError(t, os.WriteFile(elfPath, bfc.EmitELF(code), 0o755))
	img, err := New().Open(elfPath)
	require.NoError(t, err)
	assert.Equal(t, hostPage, img.Entry)
	require.NoError(t, img.Close())
	require.NoError(t, img.Close(), "second close is a no-op")

	rawPath := filepath.Join(dir, "prog.bin")
	require.NoError(t, os.WriteFile(rawPath, code, 0o644))
	raw, err := New().OpenRaw(rawPath, 1)
	require.NoError(t, err)
	defer raw.Close()
	assert.Equal(t, code, raw.Mem[raw.Entry:])

	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = New().Open(empty)
	assert.ErrorIs(t, err, ErrBadIdent)

	_, err = New().Open(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
