package psw

/**
Processor status word package.
The status word describes an address space: addressing mode, the page table
in use and, when handed to a fault handler, the access that faulted.
*/

// status word layout. Values here are bit positions, not the
// powers of 2
const (
	vModeBit = 0
	uModeBit = 1

	// OpStateShift - position of the faulting access kind
	OpStateShift = 2
	// OpStateMask - mask of the access kind after shifting
	OpStateMask = 0x3

	// PageTableShift - position of the page table frame number
	PageTableShift = 12
	// PageTableMask - mask of the page table frame number after shifting
	PageTableMask = 0xFFFFF

	// NextAddrShift - position of the faulting virtual address
	NextAddrShift = 32
	// NextAddrMask - mask of the faulting virtual address after shifting
	NextAddrMask = 0xFFFFFFFF
)

// access kinds stored in the OpState field
const (
	OpNone  = 0
	OpRead  = 1
	OpWrite = 2
)

// KernelMode - addressing mode
const KernelMode = 0

// UserMode - addressing mode
const UserMode = 1

// PSW keeps the address space status word
type PSW uint64

// New builds a status word for the page table stored in frame tableFrame.
func New(tableFrame uint32, mode uint16, virtual bool) PSW {
	var p PSW
	p.SetPageTableFrame(tableFrame)
	p.SetMode(mode)
	p.SetVMode(virtual)
	return p
}

// Get returns current status word
func (psw PSW) Get() uint64 {
	return uint64(psw)
}

// VMode returns true if virtual addressing is enabled
func (psw PSW) VMode() bool {
	return psw.getFlag(vModeBit)
}

// SetVMode turns virtual addressing on or off
func (psw *PSW) SetVMode(status bool) {
	psw.setFlag(vModeBit, status)
}

// GetMode returns 1 for user and 0 for kernel
func (psw PSW) GetMode() uint16 {
	if psw.getFlag(uModeBit) {
		return UserMode
	}
	return KernelMode
}

func (psw PSW) IsUserMode() bool {
	return psw.GetMode() == UserMode
}

// SetMode sets user or kernel mode
func (psw *PSW) SetMode(m uint16) {
	psw.setFlag(uModeBit, m == UserMode)
}

// PageTableFrame returns the frame number of the page table
func (psw PSW) PageTableFrame() uint32 {
	return uint32((psw >> PageTableShift) & PageTableMask)
}

// SetPageTableFrame stores the page table frame number
func (psw *PSW) SetPageTableFrame(frame uint32) {
	*psw &^= PageTableMask << PageTableShift
	*psw |= PSW(frame&PageTableMask) << PageTableShift
}

// OpState returns the kind of the faulting access: OpNone, OpRead or OpWrite
func (psw PSW) OpState() uint16 {
	return uint16((psw >> OpStateShift) & OpStateMask)
}

// SetOpState stores the kind of the faulting access
func (psw *PSW) SetOpState(op uint16) {
	*psw &^= OpStateMask << OpStateShift
	*psw |= PSW(op&OpStateMask) << OpStateShift
}

// NextAddr returns the faulting virtual address
func (psw PSW) NextAddr() uint32 {
	return uint32((psw >> NextAddrShift) & NextAddrMask)
}

// SetNextAddr stores the faulting virtual address
func (psw *PSW) SetNextAddr(addr uint32) {
	*psw &^= NextAddrMask << NextAddrShift
	*psw |= PSW(addr) << NextAddrShift
}

// generic get flag function
func (psw PSW) getFlag(flag uint) bool {
	return (psw & (1 << flag)) > 0
}

// generic set flag function
func (psw *PSW) setFlag(flag uint, status bool) {
	if status {
		*psw |= (1 << flag)
	} else {
		*psw &^= (1 << flag)
	}
}

// GetFlags returns a short description of the mode flags
func (psw PSW) GetFlags() string {
	var flags string
	if psw.IsUserMode() {
		flags = "U"
	} else {
		flags = "K"
	}
	if psw.VMode() {
		flags += "V"
	} else {
		flags += " "
	}
	switch psw.OpState() {
	case OpRead:
		flags += "R"
	case OpWrite:
		flags += "W"
	default:
		flags += " "
	}
	return "[" + flags + "]"
}
