package system

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vmtrace/config"
	"vmtrace/console"
	"vmtrace/fault"
	"vmtrace/logger"
	"vmtrace/trace"
)

func newSystem(t *testing.T) *System {
	var logs bytes.Buffer
	sys, err := InitializeSystem(config.Default(), logger.New(&logs, "ERROR"))
	require.NoError(t, err)
	return sys
}

func TestInitializeSystem(t *testing.T) {
	sys := newSystem(t)
	assert.Equal(t, uint32(64), sys.Memory.FrameCount())
	assert.Equal(t, uint32(62), sys.Allocator.FreeCount())
	assert.True(t, sys.Memory.MmuEnabled())
	assert.Equal(t, sys.PageTables.KernelPSW(), sys.Memory.PSW())
	assert.Nil(t, sys.Trace())
}

func TestInitializeSystem_BadConfig(t *testing.T) {
	cfg := config.Default()
	cfg.FrameCount = 1
	_, err := InitializeSystem(cfg, nil)
	assert.True(t, errors.Is(err, config.ErrFrameCount))
}

func TestRunTrace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ok.trace")
	script := "* map and fill\n0xF01 2 0x0\n0x30A 800 0x0 0x5A\n0xCBA 800 0x0 0x5A\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0644))

	sys := newSystem(t)
	var out bytes.Buffer
	require.NoError(t, sys.RunTrace(path, console.NewSimple(&out)))

	assert.Equal(t, "1:* map and fill\n2:0xF01 2 0x0\n3:0x30A 800 0x0 0x5A\n4:0xCBA 800 0x0 0x5A\n", out.String())
	assert.Equal(t, uint32(59), sys.Allocator.FreeCount())

	status := sys.Status()
	assert.Contains(t, status, "free frames: 59/63")
	assert.Contains(t, status, "line: 4  page faults: 0  write faults: 0")
}

func TestRunTrace_Missing(t *testing.T) {
	sys := newSystem(t)
	err := sys.RunTrace(filepath.Join(t.TempDir(), "nope.trace"), console.NewSimple(&bytes.Buffer{}))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestRun_Fault(t *testing.T) {
	sys := newSystem(t)
	var out bytes.Buffer
	err := sys.Run("fault", strings.NewReader("0xCB1 0x0 0x00\n"), console.NewSimple(&out))

	var fe *fault.Error
	require.True(t, errors.As(err, &fe))
	assert.Contains(t, out.String(), "Read Page Fault at 00000000")
	assert.Contains(t, sys.Status(), "page faults: 1")
}

func TestRun_InvalidCommand(t *testing.T) {
	sys := newSystem(t)
	err := sys.Run("bad", strings.NewReader("0x999\n"), console.NewSimple(&bytes.Buffer{}))
	assert.True(t, errors.Is(err, trace.ErrInvalidCommand))
}
