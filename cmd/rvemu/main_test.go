package main

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rvkit/bfc"
	"rvkit/config"
	"rvkit/isa"
	"rvkit/sim"
)

func writeProgram(t *testing.T, src string) string {
	t.Helper()
	image, err := bfc.Build(strings.NewReader(src))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "a.out")
	require.NoError(t, os.WriteFile(path, image, 0o755))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(strings.NewReader(stdin), &stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRunCompiledProgram(t *testing.T) {
	stdout, _, err := execute(t, "", "run", writeProgram(t, "+++."))
	require.NoError(t, err)
	assert.Equal(t, "\x03", stdout)
}

func TestRunEchoesInput(t *testing.T) {
	stdout, _, err := execute(t, "ok", "run", writeProgram(t, ",.,."))
	require.NoError(t, err)
	assert.Equal(t, "ok", stdout)
}

func TestRunTrace(t *testing.T) {
	_, stderr, err := execute(t, "", "run", "--trace", writeProgram(t, "+"))
	require.NoError(t, err)
	assert.Contains(t, stderr, "lui s1, 0x0")
	assert.Contains(t, stderr, "ecall")
}

func TestRunStepLimit(t *testing.T) {
	_, _, err := execute(t, "", "run", "--steps", "20", writeProgram(t, "+[]"))
	assert.ErrorIs(t, err, sim.ErrStepLimit)
}

func rawProgram(t *testing.T, words ...uint32) string {
	t.Helper()
	b := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(b[4*i:], w)
	}
	path := filepath.Join(t.TempDir(), "prog.bin")
	require.NoError(t, os.WriteFile(path, b, 0o644))
	return path
}

func TestRunRawWithDataSegment(t *testing.T) {
	// The data segment sits below the code, so s1 = 0 addresses it.
	path := rawProgram(t,
		isa.ADDI(isa.T0, isa.Zero, 'R'),
		isa.SB(isa.T0, isa.Zero, 0),
		isa.ADDI(isa.A7, isa.Zero, sim.SysWrite),
		isa.ADDI(isa.A0, isa.Zero, 1),
		isa.ADDI(isa.A1, isa.Zero, 0),
		isa.ADDI(isa.A2, isa.Zero, 1),
		isa.ECALL(),
		isa.ADDI(isa.A7, isa.Zero, sim.SysExit),
		isa.ADDI(isa.A0, isa.Zero, 0),
		isa.ECALL(),
	)
	stdout, _, err := execute(t, "", "run", "-m", "raw", "-e", "3072", path)
	require.NoError(t, err)
	assert.Equal(t, "R", stdout)
}

func TestRunExitStatus(t *testing.T) {
	path := rawProgram(t,
		isa.ADDI(isa.A7, isa.Zero, sim.SysExit),
		isa.ADDI(isa.A0, isa.Zero, 7),
		isa.ECALL(),
	)
	_, _, err := execute(t, "", "run", "--mode", "raw", path)
	var status exitStatus
	require.True(t, errors.As(err, &status))
	assert.Equal(t, exitStatus(7), status)
}

func TestRunTrapReported(t *testing.T) {
	path := rawProgram(t, isa.XOR(isa.A0, isa.A0, isa.A0))
	_, _, err := execute(t, "", "run", "--mode", "raw", path)
	var trap *sim.Trap
	require.True(t, errors.As(err, &trap))
	assert.ErrorIs(t, err, sim.ErrNotImplemented)
}

func TestRunRejectsDataSegmentWithELF(t *testing.T) {
	_, _, err := execute(t, "", "run", "-e", "16", writeProgram(t, "+"))
	assert.ErrorIs(t, err, config.ErrDataSegmentWithELF)
}

func TestRunConfigFile(t *testing.T) {
	path := rawProgram(t,
		isa.ADDI(isa.A7, isa.Zero, sim.SysExit),
		isa.ADDI(isa.A0, isa.Zero, 0),
		isa.ECALL(),
	)
	cfgPath := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("mode: raw\ntrace: true\n"), 0o644))

	_, stderr, err := execute(t, "", "run", "-c", cfgPath, path)
	require.NoError(t, err)
	assert.Contains(t, stderr, "pc=00000000")

	// flags win over the file
	_, _, err = execute(t, "", "run", "-c", cfgPath, "--mode", "elf", path)
	assert.Error(t, err)
}

func TestDasm(t *testing.T) {
	stdout, _, err := execute(t, "", "dasm", writeProgram(t, "[-]."))
	require.NoError(t, err)
	assert.Contains(t, stdout, "lui s1, 0x0")
	assert.Contains(t, stdout, "lbu t0, 0(s1)")
	assert.Contains(t, stdout, "or a1, zero, s1")
	assert.Contains(t, stdout, "ecall")
	assert.NotContains(t, stdout, "<unknown")
}

func TestMissingFile(t *testing.T) {
	_, _, err := execute(t, "", "run", filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
