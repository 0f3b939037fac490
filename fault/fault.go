package fault

/**
 * Separate package exists mainly in order to avoid cyclic imports
 * between the memory unit and the code registering fault handlers.
 */

import (
	"fmt"

	"vmtrace/psw"
)

// Kind of a translation fault
type Kind int

const (
	// PageFault : virtual page not present in the page table
	PageFault Kind = iota

	// WritePermissionFault : write to a present page without the writable flag
	WritePermissionFault
)

func (k Kind) String() string {
	switch k {
	case PageFault:
		return "page fault"
	case WritePermissionFault:
		return "write permission fault"
	default:
		return fmt.Sprintf("fault(%d)", int(k))
	}
}

// Handler is called synchronously by the memory unit when a translation fails.
// status carries the active status word with the access kind and the
// faulting virtual address filled in. Run returns true if the fault
// was resolved and the access should be retried.
type Handler interface {
	Run(status psw.PSW) bool
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(status psw.PSW) bool

// Run calls f(status)
func (f HandlerFunc) Run(status psw.PSW) bool {
	return f(status)
}

// Error is returned by memory accesses whose fault was not resolved.
type Error struct {
	Kind   Kind
	Status psw.PSW
}

// Addr returns the faulting virtual address
func (e *Error) Addr() uint32 {
	return e.Status.NextAddr()
}

func (e *Error) Error() string {
	op := "read"
	if e.Status.OpState() == psw.OpWrite {
		op = "write"
	}
	return fmt.Sprintf("unresolved %s on %s at %08x", e.Kind, op, e.Addr())
}
