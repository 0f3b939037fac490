package system

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/pkg/errors"

	"vmtrace/allocator"
	"vmtrace/config"
	"vmtrace/console"
	"vmtrace/mmu"
	"vmtrace/pagetable"
	"vmtrace/trace"
)

// System definition.
type System struct {
	Memory     *mmu.MMU
	Allocator  *allocator.BitMapAllocator
	PageTables *pagetable.Manager

	config config.Config
	log    *slog.Logger

	// trace of the last run
	trace *trace.Trace
}

// InitializeSystem builds memory, frame allocator and kernel page table.
// On return the memory unit is in virtual mode with the kernel address space.
func InitializeSystem(cfg config.Config, log *slog.Logger) (*System, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	sys := new(System)
	sys.config = cfg
	sys.log = log

	var err error
	if sys.Memory, err = mmu.New(cfg.FrameCount); err != nil {
		return nil, errors.Wrap(err, "creating memory")
	}
	if sys.Allocator, err = allocator.New(sys.Memory, cfg.FrameCount, log); err != nil {
		return nil, errors.Wrap(err, "creating frame allocator")
	}
	if sys.PageTables, err = pagetable.New(sys.Memory, sys.Allocator, log); err != nil {
		return nil, errors.Wrap(err, "creating kernel page table")
	}

	log.Info("system initialized", "frames", cfg.FrameCount, "free", sys.Allocator.FreeCount())
	return sys, nil
}

// RunTrace runs the trace file at path, writing its output to c
func (sys *System) RunTrace(path string, c console.Console) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "failed to open trace file")
	}
	defer f.Close()
	return sys.Run(path, f, c)
}

// Run runs the trace read from r. name identifies the trace in messages.
func (sys *System) Run(name string, r io.Reader, c console.Console) error {
	tr, err := trace.New(name, r, sys.Memory, sys.PageTables, c, sys.log)
	if err != nil {
		return err
	}
	tr.Debug = sys.config.Debug
	sys.trace = tr

	if err := tr.Run(); err != nil {
		sys.log.Error("trace aborted", "trace", name, "line", tr.LineNumber(), "err", err)
		return err
	}
	return nil
}

// Trace returns the trace of the last run, nil before the first run
func (sys *System) Trace() *trace.Trace {
	return sys.trace
}

// Status describes allocator and fault handler state
func (sys *System) Status() string {
	s := fmt.Sprintf("free frames: %d/%d\nbitmap:%s\n",
		sys.Allocator.FreeCount(), sys.Allocator.Capacity()-1, sys.Allocator.BitMapString())
	if sys.trace != nil {
		s += fmt.Sprintf("line: %d  page faults: %d  write faults: %d\n",
			sys.trace.LineNumber(), sys.trace.PageFaults().FaultCount(), sys.trace.WriteFaults().FaultCount())
	}
	s += sys.Memory.DumpRegisters()
	return s
}
