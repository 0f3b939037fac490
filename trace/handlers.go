package trace

import (
	"fmt"

	"vmtrace/console"
	"vmtrace/psw"
)

// PageFaultHandler reports accesses to pages that are not mapped.
// It never resolves the fault.
type PageFaultHandler struct {
	console console.Console

	// Count of number of times handler was called
	faultCount int

	// status word from last fault handled
	lastPSW psw.PSW
}

// NewPageFaultHandler returns a handler printing to c
func NewPageFaultHandler(c console.Console) *PageFaultHandler {
	return &PageFaultHandler{console: c}
}

// Run prints the access kind and the faulting address
func (h *PageFaultHandler) Run(status psw.PSW) bool {
	h.lastPSW = status
	h.faultCount++

	kind := "Read"
	if status.OpState() == psw.OpWrite {
		kind = "Write"
	}
	_ = h.console.WriteConsole(fmt.Sprintf("%s Page Fault at %08x", kind, status.NextAddr()))
	return false
}

func (h *PageFaultHandler) FaultCount() int {
	return h.faultCount
}

func (h *PageFaultHandler) ResetFaultCount() {
	h.faultCount = 0
}

func (h *PageFaultHandler) LastPSW() psw.PSW {
	return h.lastPSW
}

// WriteFaultHandler reports writes to pages without write permission.
// It never resolves the fault.
type WriteFaultHandler struct {
	console    console.Console
	faultCount int
	lastPSW    psw.PSW
}

// NewWriteFaultHandler returns a handler printing to c
func NewWriteFaultHandler(c console.Console) *WriteFaultHandler {
	return &WriteFaultHandler{console: c}
}

// Run prints the faulting address
func (h *WriteFaultHandler) Run(status psw.PSW) bool {
	h.lastPSW = status
	h.faultCount++

	_ = h.console.WriteConsole(fmt.Sprintf("Write Permission Fault at %08x", status.NextAddr()))
	return false
}

func (h *WriteFaultHandler) FaultCount() int {
	return h.faultCount
}

func (h *WriteFaultHandler) ResetFaultCount() {
	h.faultCount = 0
}

func (h *WriteFaultHandler) LastPSW() psw.PSW {
	return h.lastPSW
}
