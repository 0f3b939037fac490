// Package trace runs trace files: line oriented scripts of hexadecimal
// commands that map pages, change write permission and read or write
// bytes of the user address space.
package trace

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"vmtrace/console"
	"vmtrace/mmu"
	"vmtrace/pagetable"
	"vmtrace/psw"
)

var (
	// ErrInvalidCommand is returned for an unknown command code
	ErrInvalidCommand = errors.New("invalid command")

	// ErrBadCommand is returned for a command with the wrong number of arguments
	ErrBadCommand = errors.New("badly formatted command")

	// ErrRead is returned when the trace file cannot be read
	ErrRead = errors.New("failed to read trace file")
)

// PageTableManager edits the page tables of the traced process
type PageTableManager interface {
	CreateProcessPageTable() (mmu.Addr, error)
	MapProcessPages(p psw.PSW, vaddr mmu.Addr, count uint32) error
	SetPageWritePermission(p psw.PSW, vaddr mmu.Addr, count uint32, writable bool) error
}

// Trace interprets one trace file against the user address space
type Trace struct {
	name       string
	reader     *bufio.Reader
	lineNumber int

	memory  mmu.MemoryManager
	ptm     PageTableManager
	console console.Console
	log     *slog.Logger

	// Debug logs every command before it runs
	Debug bool

	userPSW psw.PSW

	pageFaultHandler  *PageFaultHandler
	writeFaultHandler *WriteFaultHandler

	// command code -> function executing it
	commands map[uint32]func([]uint32) error
}

// New prepares a run of the trace read from r: creates the process
// page table and the fault handlers. name is used in messages only.
func New(name string, r io.Reader, memory mmu.MemoryManager, ptm PageTableManager,
	cons console.Console, log *slog.Logger) (*Trace, error) {
	if log == nil {
		log = slog.Default()
	}
	tr := Trace{
		name:    name,
		reader:  bufio.NewReader(r),
		memory:  memory,
		ptm:     ptm,
		console: cons,
		log:     log,
	}

	// set up user page table
	memory.SetKernelMode()
	ptBase, err := ptm.CreateProcessPageTable()
	if err != nil {
		return nil, errors.Wrap(err, "creating user address space")
	}
	tr.userPSW = pagetable.UserPSW(ptBase)

	tr.pageFaultHandler = NewPageFaultHandler(cons)
	tr.writeFaultHandler = NewWriteFaultHandler(cons)

	tr.commands = map[uint32]func([]uint32) error{
		0xF01: tr.codeF01, // allocate virtual memory
		0xCB1: tr.codeCB1, // compare to specified values
		0xCBA: tr.codeCBA, // compare single value to memory range
		0x301: tr.code301, // set bytes
		0x30A: tr.code30A, // set multiple bytes to same value
		0x31D: tr.code31D, // replicate range of bytes from source to destination
		0x4F0: tr.code4F0, // output bytes
		0xFF0: tr.codeFF0, // clear writable
		0xFF1: tr.codeFF1, // set writable
	}
	return &tr, nil
}

// UserPSW returns the status word of the traced address space
func (tr *Trace) UserPSW() psw.PSW {
	return tr.userPSW
}

// LineNumber returns the number of lines read so far
func (tr *Trace) LineNumber() int {
	return tr.lineNumber
}

// PageFaults returns the page fault handler of the run
func (tr *Trace) PageFaults() *PageFaultHandler {
	return tr.pageFaultHandler
}

// WriteFaults returns the write permission fault handler of the run
func (tr *Trace) WriteFaults() *WriteFaultHandler {
	return tr.writeFaultHandler
}

// Run loads the user address space, registers the fault handlers and
// executes the trace until end of input. Any returned error ends the run.
func (tr *Trace) Run() error {
	tr.memory.LoadAddressSpace(tr.userPSW)
	tr.memory.SetPageFaultHandler(tr.pageFaultHandler)
	tr.memory.SetWriteFaultHandler(tr.writeFaultHandler)

	for {
		hexVals, more, err := tr.interpretCommand()
		if err != nil {
			return err
		}
		if !more {
			tr.log.Debug("trace finished", "trace", tr.name, "lines", tr.lineNumber)
			return nil
		}
		if len(hexVals) == 0 {
			continue // comment
		}

		cmd, ok := tr.commands[hexVals[0]]
		if !ok {
			return errors.Wrapf(ErrInvalidCommand, "%s line %d: code %x", tr.name, tr.lineNumber, hexVals[0])
		}
		if tr.Debug {
			tr.log.Debug("command", "line", tr.lineNumber, "code", fmt.Sprintf("%X", hexVals[0]), "args", hexVals[1:])
		}
		if err := cmd(hexVals); err != nil {
			return errors.Wrapf(err, "%s line %d", tr.name, tr.lineNumber)
		}
	}
}

// interpretCommand reads and echoes the next line. It returns the values on the
// line (none for a comment), or more == false at end of input.
func (tr *Trace) interpretCommand() (hexVals []uint32, more bool, err error) {
	textLine, err := tr.reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, false, &readError{name: tr.name, line: tr.lineNumber + 1, err: err}
	}
	if err == io.EOF && textLine == "" {
		return nil, false, nil
	}
	tr.lineNumber++
	textLine = strings.TrimSuffix(strings.TrimSuffix(textLine, "\n"), "\r")
	if err := tr.console.WriteConsole(fmt.Sprintf("%d:%s", tr.lineNumber, textLine)); err != nil {
		return nil, false, errors.Wrap(err, "writing output")
	}

	// no further processing if comment
	if textLine == "" || textLine[0] == '*' {
		return nil, true, nil
	}
	return parseLine(textLine), true, nil
}

// readError reports a failed read of the trace. It matches ErrRead.
type readError struct {
	name string
	line int
	err  error
}

func (e *readError) Error() string {
	return fmt.Sprintf("%v: %s line %d: %v", ErrRead, e.name, e.line, e.err)
}

func (e *readError) Is(target error) bool { return target == ErrRead }

func (e *readError) Unwrap() error { return e.err }

// parseLine returns the leading hexadecimal values of line, stopping at the
// first token that is not one.
func parseLine(line string) []uint32 {
	var hexVals []uint32
	for _, tok := range strings.Fields(line) {
		v, ok := parseHex(tok)
		if !ok {
			break
		}
		hexVals = append(hexVals, v)
	}
	return hexVals
}

func parseHex(tok string) (uint32, bool) {
	if len(tok) > 2 && tok[0] == '0' && (tok[1] == 'x' || tok[1] == 'X') {
		tok = tok[2:]
	}
	v, err := strconv.ParseUint(tok, 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}
