package mmu

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"vmtrace/fault"
	"vmtrace/psw"
)

// Addr is a physical or virtual byte address.
type Addr uint32

// memory related constants
const (
	// PageSizeBits - number of bits of the offset within a page
	PageSizeBits = 10

	// PageSize - size of a page and of a frame in bytes
	PageSize Addr = 1 << PageSizeBits

	// PageOffsetMask -> offset within a page
	PageOffsetMask = PageSize - 1

	// PageTableEntrySize - bytes per page table entry
	PageTableEntrySize = 4

	// PageTableEntries - entries in one page table (one frame)
	PageTableEntries = uint32(PageSize) / PageTableEntrySize

	// PageTableSizeBytes - a page table occupies exactly one frame
	PageTableSizeBytes = PageSize

	// MaxFrames - highest frame count addressable by a page table
	MaxFrames = PageTableEntries
)

// page table entry flags. The frame address occupies the bits above PageSizeBits.
const (
	PTEPresentMask  uint32 = 1 << 0
	PTEWritableMask uint32 = 1 << 1
	PTEFrameMask    uint32 = ^uint32(PageOffsetMask)
)

var (
	// ErrFrameCount is returned for a memory size outside [1, MaxFrames]
	ErrFrameCount = errors.New("frame count out of range")

	// ErrPhysicalRange is returned for accesses beyond the end of physical memory
	ErrPhysicalRange = errors.New("physical address out of range")
)

// PageTableEntry - one slot of a page table
type PageTableEntry uint32

// NewPageTableEntry returns an entry mapping the frame at frameAddr
func NewPageTableEntry(frameAddr Addr, writable bool) PageTableEntry {
	e := PageTableEntry(uint32(frameAddr)&PTEFrameMask | PTEPresentMask)
	if writable {
		e |= PageTableEntry(PTEWritableMask)
	}
	return e
}

func (e PageTableEntry) Present() bool  { return uint32(e)&PTEPresentMask != 0 }
func (e PageTableEntry) Writable() bool { return uint32(e)&PTEWritableMask != 0 }
func (e PageTableEntry) FrameAddr() Addr {
	return Addr(uint32(e) & PTEFrameMask)
}

// MMU - the memory unit: physical memory plus translation through the page
// table selected by the active status word.
type MMU struct {
	// Memory : Physical memory
	Memory []byte

	frameCount uint32

	// active status word
	psw psw.PSW

	// status word restored by SetKernelMode
	kernelPSW psw.PSW

	pageFaultHandler  fault.Handler
	writeFaultHandler fault.Handler
}

// New returns a memory unit with frameCount frames of physical memory.
// Translation stays off until a status word with VMode is loaded.
func New(frameCount uint32) (*MMU, error) {
	if frameCount < 1 || frameCount > MaxFrames {
		return nil, errors.Wrapf(ErrFrameCount, "frame count %d", frameCount)
	}
	m := MMU{}
	m.frameCount = frameCount
	m.Memory = make([]byte, Addr(frameCount)*PageSize)
	return &m, nil
}

// FrameCount returns the number of physical frames
func (m *MMU) FrameCount() uint32 {
	return m.frameCount
}

// MmuEnabled returns true if translation is on for the active status word
func (m *MMU) MmuEnabled() bool {
	return m.psw.VMode()
}

// PSW returns the active status word
func (m *MMU) PSW() psw.PSW {
	return m.psw
}

// KernelPSW returns the status word SetKernelMode switches to
func (m *MMU) KernelPSW() psw.PSW {
	return m.kernelPSW
}

// LoadAddressSpace activates p. A kernel mode status word is also kept
// as the target of later SetKernelMode calls.
func (m *MMU) LoadAddressSpace(p psw.PSW) {
	m.psw = p
	if !p.IsUserMode() {
		m.kernelPSW = p
	}
}

// SetKernelMode switches back to the kernel address space
func (m *MMU) SetKernelMode() {
	m.psw = m.kernelPSW
}

// SetPageFaultHandler installs the handler called for non-present pages
func (m *MMU) SetPageFaultHandler(h fault.Handler) {
	m.pageFaultHandler = h
}

// SetWriteFaultHandler installs the handler called for writes to read-only pages
func (m *MMU) SetWriteFaultHandler(h fault.Handler) {
	m.writeFaultHandler = h
}

func (m *MMU) checkPhysical(addr Addr, n int) error {
	end := uint64(addr) + uint64(n)
	if end > uint64(len(m.Memory)) {
		return errors.Wrapf(ErrPhysicalRange, "access %08x..%08x", addr, end)
	}
	return nil
}

// ReadPhysical fills buf from physical address addr
func (m *MMU) ReadPhysical(addr Addr, buf []byte) error {
	if err := m.checkPhysical(addr, len(buf)); err != nil {
		return err
	}
	copy(buf, m.Memory[addr:])
	return nil
}

// WritePhysical copies data to physical address addr
func (m *MMU) WritePhysical(addr Addr, data []byte) error {
	if err := m.checkPhysical(addr, len(data)); err != nil {
		return err
	}
	copy(m.Memory[addr:], data)
	return nil
}

// Decode maps virtual address a to a physical address using the active
// status word. A missing or read-only mapping comes back as *fault.Error
// without calling any handler.
func (m *MMU) Decode(a Addr, w bool) (Addr, error) {
	if !m.MmuEnabled() {
		return a, nil
	}

	status := m.psw
	status.SetNextAddr(uint32(a))
	status.SetOpState(psw.OpRead)
	if w {
		status.SetOpState(psw.OpWrite)
	}

	index := uint32(a >> PageSizeBits)
	if index >= PageTableEntries {
		return 0, &fault.Error{Kind: fault.PageFault, Status: status}
	}

	tableBase := Addr(m.psw.PageTableFrame()) << PageSizeBits
	var raw [PageTableEntrySize]byte
	if err := m.ReadPhysical(tableBase+Addr(index*PageTableEntrySize), raw[:]); err != nil {
		return 0, errors.Wrap(err, "reading page table entry")
	}
	entry := PageTableEntry(binary.LittleEndian.Uint32(raw[:]))

	if !entry.Present() {
		return 0, &fault.Error{Kind: fault.PageFault, Status: status}
	}
	if w && !entry.Writable() {
		return 0, &fault.Error{Kind: fault.WritePermissionFault, Status: status}
	}
	return entry.FrameAddr() | a&PageOffsetMask, nil
}

// translate decodes a, giving the registered handler one chance to
// resolve a fault before the access is retried.
func (m *MMU) translate(a Addr, w bool) (Addr, error) {
	pAddr, err := m.Decode(a, w)
	var fe *fault.Error
	if !errors.As(err, &fe) {
		return pAddr, err
	}

	h := m.pageFaultHandler
	if fe.Kind == fault.WritePermissionFault {
		h = m.writeFaultHandler
	}
	if h == nil || !h.Run(fe.Status) {
		return 0, fe
	}
	return m.Decode(a, w)
}

// ReadMemoryByte returns the byte at virtual address addr
func (m *MMU) ReadMemoryByte(addr Addr) (byte, error) {
	var b [1]byte
	if err := m.ReadMemory(addr, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// WriteMemoryByte writes data at virtual address addr
func (m *MMU) WriteMemoryByte(addr Addr, data byte) error {
	return m.WriteMemory(addr, []byte{data})
}

// ReadMemory fills buf starting at virtual address addr, one page at a time
func (m *MMU) ReadMemory(addr Addr, buf []byte) error {
	for len(buf) > 0 {
		pAddr, err := m.translate(addr, false)
		if err != nil {
			return err
		}
		n := pageChunk(addr, len(buf))
		if err := m.ReadPhysical(pAddr, buf[:n]); err != nil {
			return err
		}
		buf = buf[n:]
		addr += Addr(n)
	}
	return nil
}

// WriteMemory copies data starting at virtual address addr, one page at a time
func (m *MMU) WriteMemory(addr Addr, data []byte) error {
	for len(data) > 0 {
		pAddr, err := m.translate(addr, true)
		if err != nil {
			return err
		}
		n := pageChunk(addr, len(data))
		if err := m.WritePhysical(pAddr, data[:n]); err != nil {
			return err
		}
		data = data[n:]
		addr += Addr(n)
	}
	return nil
}

// number of bytes from addr up to the end of its page, at most n
func pageChunk(addr Addr, n int) int {
	left := int(PageSize - addr&PageOffsetMask)
	if n < left {
		return n
	}
	return left
}

// DumpRegisters returns the active and kernel status words
func (m *MMU) DumpRegisters() string {
	return fmt.Sprintf("PSW: %016x %s  kernel PSW: %016x %s  table frame: %02x",
		m.psw.Get(), m.psw.GetFlags(), m.kernelPSW.Get(), m.kernelPSW.GetFlags(),
		m.psw.PageTableFrame())
}
