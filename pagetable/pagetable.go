// Package pagetable builds the kernel page table and maps pages of the
// user address space.
package pagetable

import (
	"encoding/binary"
	"log/slog"

	"github.com/pkg/errors"

	"vmtrace/mmu"
	"vmtrace/psw"
)

// ErrAddressRange is returned when a page range does not fit in the page table
var ErrAddressRange = errors.New("virtual pages beyond end of page table")

// Memory is the part of the memory unit used to store page tables
type Memory interface {
	FrameCount() uint32
	ReadPhysical(addr mmu.Addr, buf []byte) error
	WritePhysical(addr mmu.Addr, data []byte) error
	LoadAddressSpace(p psw.PSW)
}

// FrameAllocator hands out and takes back physical frames
type FrameAllocator interface {
	Allocate(count uint32) ([]mmu.Addr, error)
	Free(frames []mmu.Addr, count uint32) ([]mmu.Addr, error)
}

// Manager creates page tables and edits their entries.
// All page table accesses are physical.
type Manager struct {
	memory    Memory
	allocator FrameAllocator
	log       *slog.Logger
	kernelPSW psw.PSW
}

// New builds the identity mapped kernel page table and switches the memory
// unit into virtual mode with it.
func New(memory Memory, allocator FrameAllocator, log *slog.Logger) (*Manager, error) {
	if log == nil {
		log = slog.Default()
	}
	ptm := Manager{memory: memory, allocator: allocator, log: log}

	frames, err := allocator.Allocate(1)
	if err != nil {
		return nil, errors.Wrap(err, "allocating kernel page table")
	}
	kernelTable := frames[0]

	// map every existing frame to itself
	var table [mmu.PageTableSizeBytes]byte
	for i := uint32(0); i < memory.FrameCount(); i++ {
		entry := mmu.NewPageTableEntry(mmu.Addr(i)<<mmu.PageSizeBits, true)
		binary.LittleEndian.PutUint32(table[i*mmu.PageTableEntrySize:], uint32(entry))
	}
	if err := memory.WritePhysical(kernelTable, table[:]); err != nil {
		return nil, errors.Wrap(err, "writing kernel page table")
	}

	ptm.kernelPSW = psw.New(uint32(kernelTable>>mmu.PageSizeBits), psw.KernelMode, true)
	memory.LoadAddressSpace(ptm.kernelPSW)

	log.Debug("kernel page table built", "table", kernelTable, "pages", memory.FrameCount())
	return &ptm, nil
}

// KernelPSW returns the status word of the kernel address space
func (ptm *Manager) KernelPSW() psw.PSW {
	return ptm.kernelPSW
}

// CreateProcessPageTable returns the physical address of a new page table
// with every entry not present.
func (ptm *Manager) CreateProcessPageTable() (mmu.Addr, error) {
	frames, err := ptm.allocator.Allocate(1)
	if err != nil {
		return 0, errors.Wrap(err, "allocating process page table")
	}

	// Allocate hands out cleared frames, clear again so the table does not
	// depend on it
	var table [mmu.PageTableSizeBytes]byte
	if err := ptm.memory.WritePhysical(frames[0], table[:]); err != nil {
		return 0, errors.Wrap(err, "clearing process page table")
	}

	ptm.log.Debug("process page table created", "table", frames[0])
	return frames[0], nil
}

// UserPSW returns the user mode status word for the page table at tableAddr
func UserPSW(tableAddr mmu.Addr) psw.PSW {
	return psw.New(uint32(tableAddr>>mmu.PageSizeBits), psw.UserMode, true)
}

// MapProcessPages maps count pages starting at vaddr in the address space of p.
// Pages already mapped are left alone; frames not needed for them go back
// to the allocator.
func (ptm *Manager) MapProcessPages(p psw.PSW, vaddr mmu.Addr, count uint32) error {
	if err := checkRange(vaddr, count); err != nil {
		return err
	}

	frames, err := ptm.allocator.Allocate(count)
	if err != nil {
		return errors.Wrapf(err, "mapping %d pages at %08x", count, vaddr)
	}

	mapped := 0
	nextVaddr := vaddr
	for i := uint32(0); i < count; i++ {
		pteAddr := entryAddr(p, nextVaddr)
		entry, err := ptm.readEntry(pteAddr)
		if err != nil {
			return ptm.abortMapping(frames, err)
		}

		if !entry.Present() {
			frame := frames[len(frames)-1]
			if err := ptm.writeEntry(pteAddr, mmu.NewPageTableEntry(frame, true)); err != nil {
				return ptm.abortMapping(frames, err)
			}
			frames = frames[:len(frames)-1]
			mapped++
		}
		nextVaddr += mmu.PageSize
	}

	// release frames left over for pages that were already mapped
	if len(frames) > 0 {
		if _, err := ptm.allocator.Free(frames, uint32(len(frames))); err != nil {
			return errors.Wrap(err, "releasing unused frames")
		}
	}

	ptm.log.Debug("pages mapped", "vaddr", vaddr, "count", count, "new", mapped)
	return nil
}

func (ptm *Manager) abortMapping(frames []mmu.Addr, cause error) error {
	if _, err := ptm.allocator.Free(frames, uint32(len(frames))); err != nil {
		ptm.log.Error("releasing frames after failed mapping", "err", err)
	}
	return errors.Wrap(cause, "mapping pages")
}

// SetPageWritePermission sets or clears the writable flag of count pages
// starting at vaddr. Pages not present are skipped.
func (ptm *Manager) SetPageWritePermission(p psw.PSW, vaddr mmu.Addr, count uint32, writable bool) error {
	if err := checkRange(vaddr, count); err != nil {
		return err
	}

	nextVaddr := vaddr
	for i := uint32(0); i < count; i++ {
		pteAddr := entryAddr(p, nextVaddr)
		entry, err := ptm.readEntry(pteAddr)
		if err != nil {
			return err
		}

		if entry.Present() {
			if writable {
				entry |= mmu.PageTableEntry(mmu.PTEWritableMask)
			} else {
				entry &^= mmu.PageTableEntry(mmu.PTEWritableMask)
			}
			if err := ptm.writeEntry(pteAddr, entry); err != nil {
				return err
			}
		}
		nextVaddr += mmu.PageSize
	}

	ptm.log.Debug("write permission changed", "vaddr", vaddr, "count", count, "writable", writable)
	return nil
}

// Entry returns the page table entry for vaddr in the address space of p
func (ptm *Manager) Entry(p psw.PSW, vaddr mmu.Addr) (mmu.PageTableEntry, error) {
	if err := checkRange(vaddr, 1); err != nil {
		return 0, err
	}
	return ptm.readEntry(entryAddr(p, vaddr))
}

// TableBase returns the physical address of the page table of p
func TableBase(p psw.PSW) mmu.Addr {
	return mmu.Addr(p.PageTableFrame()) << mmu.PageSizeBits
}

func entryAddr(p psw.PSW, vaddr mmu.Addr) mmu.Addr {
	return TableBase(p) + (vaddr>>mmu.PageSizeBits)*mmu.PageTableEntrySize
}

func checkRange(vaddr mmu.Addr, count uint32) error {
	first := uint64(vaddr >> mmu.PageSizeBits)
	if first+uint64(count) > uint64(mmu.PageTableEntries) {
		return errors.Wrapf(ErrAddressRange, "%d pages at %08x", count, vaddr)
	}
	return nil
}

func (ptm *Manager) readEntry(pteAddr mmu.Addr) (mmu.PageTableEntry, error) {
	var raw [mmu.PageTableEntrySize]byte
	if err := ptm.memory.ReadPhysical(pteAddr, raw[:]); err != nil {
		return 0, errors.Wrapf(err, "reading page table entry at %08x", pteAddr)
	}
	return mmu.PageTableEntry(binary.LittleEndian.Uint32(raw[:])), nil
}

func (ptm *Manager) writeEntry(pteAddr mmu.Addr, entry mmu.PageTableEntry) error {
	var raw [mmu.PageTableEntrySize]byte
	binary.LittleEndian.PutUint32(raw[:], uint32(entry))
	return errors.Wrapf(ptm.memory.WritePhysical(pteAddr, raw[:]),
		"writing page table entry at %08x", pteAddr)
}
