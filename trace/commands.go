package trace

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"vmtrace/mmu"
)

// Command processors. Arguments are the same for each command: the command
// code followed by its arguments. Form of the name is codeX, where X is the
// command code.

// checkArgs verifies the number of values on the line, command code included
func checkArgs(hexVals []uint32, want int, exact bool) error {
	if len(hexVals) == want || (!exact && len(hexVals) > want) {
		return nil
	}
	return errors.Wrapf(ErrBadCommand, "code %X with %d arguments", hexVals[0], len(hexVals)-1)
}

// aligned reports a virtual address that does not start a page. The command
// is skipped, the run goes on.
func (tr *Trace) aligned(vaddr mmu.Addr) bool {
	if vaddr%mmu.PageSize == 0 {
		return true
	}
	tr.log.Error("virtual address is not a multiple of page size",
		"trace", tr.name, "line", tr.lineNumber, "vaddr", fmt.Sprintf("%08x", vaddr))
	return false
}

// inKernelMode runs f with the kernel address space loaded and switches
// back to the user address space afterwards.
func (tr *Trace) inKernelMode(f func() error) error {
	tr.memory.SetKernelMode()
	defer tr.memory.LoadAddressSpace(tr.userPSW)
	return f()
}

// codeF01 maps count pages at vaddr
func (tr *Trace) codeF01(hexVals []uint32) error {
	if err := checkArgs(hexVals, 3, true); err != nil {
		return err
	}
	count := hexVals[1]
	vaddr := mmu.Addr(hexVals[2])
	if !tr.aligned(vaddr) {
		return nil
	}
	return tr.inKernelMode(func() error {
		return tr.ptm.MapProcessPages(tr.userPSW, vaddr, count)
	})
}

// codeFF0 clears the writable flag of count pages at vaddr
func (tr *Trace) codeFF0(hexVals []uint32) error {
	return tr.setWritable(hexVals, false)
}

// codeFF1 sets the writable flag of count pages at vaddr
func (tr *Trace) codeFF1(hexVals []uint32) error {
	return tr.setWritable(hexVals, true)
}

func (tr *Trace) setWritable(hexVals []uint32, writable bool) error {
	if err := checkArgs(hexVals, 3, true); err != nil {
		return err
	}
	count := hexVals[1]
	vaddr := mmu.Addr(hexVals[2])
	if !tr.aligned(vaddr) {
		return nil
	}
	return tr.inKernelMode(func() error {
		return tr.ptm.SetPageWritePermission(tr.userPSW, vaddr, count, writable)
	})
}

func (tr *Trace) compareError(addr mmu.Addr, expected uint32, actual byte) error {
	return tr.console.WriteConsole(fmt.Sprintf("compare error at address %08x, expected %02x, actual is %02x",
		addr, expected, actual))
}

// codeCB1 compares bytes starting at addr to the listed values
func (tr *Trace) codeCB1(hexVals []uint32) error {
	if err := checkArgs(hexVals, 2, false); err != nil {
		return err
	}
	addr := mmu.Addr(hexVals[1])
	for _, expected := range hexVals[2:] {
		actual, err := tr.memory.ReadMemoryByte(addr)
		if err != nil {
			return err
		}
		if uint32(actual) != expected {
			if err := tr.compareError(addr, expected, actual); err != nil {
				return err
			}
		}
		addr++
	}
	return nil
}

// codeCBA compares count bytes starting at addr to a single value
func (tr *Trace) codeCBA(hexVals []uint32) error {
	if err := checkArgs(hexVals, 4, true); err != nil {
		return err
	}
	count := hexVals[1]
	addr := mmu.Addr(hexVals[2])
	expected := hexVals[3]
	for i := uint32(0); i < count; i++ {
		actual, err := tr.memory.ReadMemoryByte(addr + mmu.Addr(i))
		if err != nil {
			return err
		}
		if uint32(actual) != expected {
			if err := tr.compareError(addr+mmu.Addr(i), expected, actual); err != nil {
				return err
			}
		}
	}
	return nil
}

// code301 stores the listed byte values starting at addr
func (tr *Trace) code301(hexVals []uint32) error {
	if err := checkArgs(hexVals, 2, false); err != nil {
		return err
	}
	addr := mmu.Addr(hexVals[1])
	for _, v := range hexVals[2:] {
		if err := tr.memory.WriteMemoryByte(addr, byte(v)); err != nil {
			return err
		}
		addr++
	}
	return nil
}

// code30A stores one value into count bytes starting at addr
func (tr *Trace) code30A(hexVals []uint32) error {
	if err := checkArgs(hexVals, 4, true); err != nil {
		return err
	}
	count := hexVals[1]
	addr := mmu.Addr(hexVals[2])
	value := byte(hexVals[3])
	for i := uint32(0); i < count; i++ {
		if err := tr.memory.WriteMemoryByte(addr, value); err != nil {
			return err
		}
		addr++
	}
	return nil
}

// code31D copies count bytes from src to dst, forward, one byte at a time.
// Overlapping ranges replicate the source pattern.
func (tr *Trace) code31D(hexVals []uint32) error {
	if err := checkArgs(hexVals, 4, true); err != nil {
		return err
	}
	count := hexVals[1]
	dst := mmu.Addr(hexVals[2])
	src := mmu.Addr(hexVals[3])
	for i := uint32(0); i < count; i++ {
		b, err := tr.memory.ReadMemoryByte(src)
		if err != nil {
			return err
		}
		if err := tr.memory.WriteMemoryByte(dst, b); err != nil {
			return err
		}
		dst++
		src++
	}
	return nil
}

// code4F0 prints count bytes starting at addr, 16 per line, each line
// starting with the address of its first byte
func (tr *Trace) code4F0(hexVals []uint32) error {
	if err := checkArgs(hexVals, 3, true); err != nil {
		return err
	}
	count := hexVals[1]
	addr := mmu.Addr(hexVals[2])

	var sb strings.Builder
	for i := uint32(0); i < count; i++ {
		if i%16 == 0 {
			if i > 0 {
				sb.WriteString("\n")
			}
			fmt.Fprintf(&sb, "%08x: ", addr)
		} else {
			sb.WriteString(",")
		}
		b, err := tr.memory.ReadMemoryByte(addr)
		if err != nil {
			// show what was read before the fault
			if sb.Len() > 0 {
				_ = tr.console.WriteConsole(sb.String())
			}
			return err
		}
		fmt.Fprintf(&sb, "%02x", b)
		addr++
	}
	return tr.console.WriteConsole(sb.String())
}
