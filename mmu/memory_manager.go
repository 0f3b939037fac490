package mmu

import (
	"vmtrace/fault"
	"vmtrace/psw"
)

// MemoryManager is the contract of the memory unit as seen by the kernel code:
// physical byte access, translated access, address space switching and
// fault handler registration.
type MemoryManager interface {

	// FrameCount returns the number of physical frames
	FrameCount() uint32

	// ReadPhysical fills buf from physical address addr
	ReadPhysical(addr Addr, buf []byte) error

	// WritePhysical copies data to physical address addr
	WritePhysical(addr Addr, data []byte) error

	// ReadMemoryByte returns the byte at addr, translated through the active status word
	ReadMemoryByte(addr Addr) (byte, error)

	// WriteMemoryByte writes data at addr, translated through the active status word
	WriteMemoryByte(addr Addr, data byte) error

	// SetKernelMode activates the last loaded kernel status word
	SetKernelMode()

	// LoadAddressSpace activates the status word p
	LoadAddressSpace(p psw.PSW)

	// PSW returns the active status word
	PSW() psw.PSW

	SetPageFaultHandler(h fault.Handler)
	SetWriteFaultHandler(h fault.Handler)
}
