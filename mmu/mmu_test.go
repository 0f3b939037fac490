package mmu

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vmtrace/fault"
	"vmtrace/psw"
)

// newMapped returns an 8 frame memory with a page table in frame 1
// mapping virtual page 0 -> frame 2 (writable) and page 1 -> frame 3 (read only).
func newMapped(t *testing.T) *MMU {
	m, err := New(8)
	require.NoError(t, err)

	putEntry(t, m, 1, 0, NewPageTableEntry(2*PageSize, true))
	putEntry(t, m, 1, 1, NewPageTableEntry(3*PageSize, false))
	m.LoadAddressSpace(psw.New(1, psw.UserMode, true))
	return m
}

func putEntry(t *testing.T, m *MMU, tableFrame uint32, index uint32, e PageTableEntry) {
	var raw [PageTableEntrySize]byte
	binary.LittleEndian.PutUint32(raw[:], uint32(e))
	require.NoError(t, m.WritePhysical(Addr(tableFrame)*PageSize+Addr(index*PageTableEntrySize), raw[:]))
}

type countingHandler struct {
	calls   int
	last    psw.PSW
	resolve func()
}

func (h *countingHandler) Run(status psw.PSW) bool {
	h.calls++
	h.last = status
	if h.resolve != nil {
		h.resolve()
		return true
	}
	return false
}

func TestNew_FrameCount(t *testing.T) {
	tests := []struct {
		name    string
		frames  uint32
		wantErr bool
	}{
		{"zero", 0, true},
		{"one", 1, false},
		{"default", 64, false},
		{"max", MaxFrames, false},
		{"too many", MaxFrames + 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(tt.frames)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrFrameCount))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int(tt.frames)*int(PageSize), len(m.Memory))
		})
	}
}

func TestMMU_Physical(t *testing.T) {
	m, err := New(2)
	require.NoError(t, err)

	require.NoError(t, m.WritePhysical(0x7FE, []byte{1, 2}))
	buf := make([]byte, 2)
	require.NoError(t, m.ReadPhysical(0x7FE, buf))
	assert.Equal(t, []byte{1, 2}, buf)

	err = m.WritePhysical(0x7FF, []byte{1, 2})
	assert.True(t, errors.Is(err, ErrPhysicalRange))
	err = m.ReadPhysical(0x800, buf[:1])
	assert.True(t, errors.Is(err, ErrPhysicalRange))
}

func TestMMU_DecodeAddress(t *testing.T) {
	m := newMapped(t)

	tests := []struct {
		name     string
		virtual  Addr
		write    bool
		physical Addr
		kind     fault.Kind
		wantErr  bool
	}{
		{"page 0 read", 0x10, false, 0x810, 0, false},
		{"page 0 write", 0x3FF, true, 0xBFF, 0, false},
		{"page 1 read", 0x404, false, 0xC04, 0, false},
		{"page 1 write", 0x404, true, 0, fault.WritePermissionFault, true},
		{"page 2 not present", 0x800, false, 0, fault.PageFault, true},
		{"beyond page table", Addr(PageTableEntries) * PageSize, false, 0, fault.PageFault, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Decode(tt.virtual, tt.write)
			if !tt.wantErr {
				require.NoError(t, err)
				if got != tt.physical {
					t.Errorf("Expected decoded address to equal %06x, got %06x", tt.physical, got)
				}
				return
			}
			var fe *fault.Error
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, tt.kind, fe.Kind)
			assert.Equal(t, uint32(tt.virtual), fe.Addr())
		})
	}
}

func TestMMU_DecodeDisabled(t *testing.T) {
	m, err := New(4)
	require.NoError(t, err)
	assert.False(t, m.MmuEnabled())

	got, err := m.Decode(0x123, true)
	require.NoError(t, err)
	assert.Equal(t, Addr(0x123), got)
}

func TestMMU_FaultHandlers(t *testing.T) {
	m := newMapped(t)
	pf := &countingHandler{}
	wf := &countingHandler{}
	m.SetPageFaultHandler(pf)
	m.SetWriteFaultHandler(wf)

	_, err := m.ReadMemoryByte(0x900)
	var fe *fault.Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, fault.PageFault, fe.Kind)
	assert.Equal(t, 1, pf.calls)
	assert.Equal(t, 0, wf.calls)
	assert.Equal(t, uint16(psw.OpRead), pf.last.OpState())
	assert.Equal(t, uint32(0x900), pf.last.NextAddr())

	err = m.WriteMemoryByte(0x500, 0xAA)
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, fault.WritePermissionFault, fe.Kind)
	assert.Equal(t, 1, wf.calls)
	assert.Equal(t, uint16(psw.OpWrite), wf.last.OpState())
	assert.Equal(t, uint32(0x500), wf.last.NextAddr())

	// write to a non-present page goes to the page fault handler
	err = m.WriteMemoryByte(0x800, 1)
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 2, pf.calls)
	assert.Equal(t, uint16(psw.OpWrite), pf.last.OpState())
}

func TestMMU_FaultResolvedRetries(t *testing.T) {
	m := newMapped(t)
	pf := &countingHandler{}
	pf.resolve = func() {
		putEntry(t, m, 1, 2, NewPageTableEntry(4*PageSize, true))
	}
	m.SetPageFaultHandler(pf)

	require.NoError(t, m.WriteMemoryByte(0x801, 0x5A))
	assert.Equal(t, 1, pf.calls)
	assert.Equal(t, byte(0x5A), m.Memory[4*PageSize+1])

	// resolved but still unmapped: retried once, then fails
	pf.resolve = func() {}
	_, err := m.ReadMemoryByte(0xC00)
	var fe *fault.Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 2, pf.calls)
}

func TestMMU_CrossPage(t *testing.T) {
	m := newMapped(t)
	m.Memory[3*PageSize] = 0x77

	buf := make([]byte, 3)
	m.Memory[2*PageSize+0x3FE] = 0x11
	m.Memory[2*PageSize+0x3FF] = 0x22
	require.NoError(t, m.ReadMemory(0x3FE, buf))
	assert.Equal(t, []byte{0x11, 0x22, 0x77}, buf)
}

func TestMMU_KernelMode(t *testing.T) {
	m := newMapped(t)
	kernel := psw.New(5, psw.KernelMode, true)
	user := m.PSW()

	m.LoadAddressSpace(kernel)
	m.LoadAddressSpace(user)
	assert.Equal(t, user, m.PSW())

	m.SetKernelMode()
	assert.Equal(t, kernel, m.PSW())
	assert.Equal(t, kernel, m.KernelPSW())
}

func TestMMU_DumpMemory(t *testing.T) {
	m := newMapped(t)
	m.Memory[0x42] = 0x99

	var buf bytes.Buffer
	require.NoError(t, m.DumpMemory(&buf))

	img, err := ReadImage(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(8), img.FrameCount)
	assert.Equal(t, m.PSW().Get(), img.PSW)
	assert.Equal(t, m.Memory, img.Memory)
}
