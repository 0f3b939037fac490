package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/jroimartin/gocui"

	"vmtrace/config"
	"vmtrace/console"
	"vmtrace/logger"
	"vmtrace/system"
)

const (
	logFile  = "vmtrace-gui.log"
	dumpFile = "mem_dmp.msgpack"
)

// viewer runs one trace file and shows its output in gocui views
type viewer struct {
	path string
	cfg  config.Config
	log  *slog.Logger

	console *console.Gui

	start sync.Once

	// held while the trace runs, guards sys
	mu  sync.Mutex
	sys *system.System
}

func main() {
	os.Exit(run(os.Args[1:]))
}

// run shows the trace named in args and returns the exit status.
// Deferred cleanup restores the terminal and closes the log before exit.
func run(args []string) int {
	if len(args) != 1 {
		fmt.Fprintf(os.Stderr, "usage: vmtrace-gui input_file\n")
		return 1
	}

	cfg := config.Default()
	fileLog, logOut, err := logger.Open(logFile, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return 2
	}
	defer logOut.Close()

	g, err := gocui.NewGui(gocui.OutputNormal)
	if err != nil {
		fileLog.Error("couldn't create gui", "err", err)
		return 2
	}
	defer g.Close()

	// warnings and errors, skipped commands included, also go to the console view
	cons := console.NewGui(g, "console")
	log := logger.New(io.MultiWriter(logOut, cons), cfg.LogLevel)

	v := &viewer{path: args[0], cfg: cfg, log: log, console: cons}
	g.SetManagerFunc(v.layout)

	if err := g.SetKeybinding("", gocui.KeyCtrlC, gocui.ModNone, quit); err != nil {
		log.Error("keybinding", "err", err)
		return 2
	}
	if err := g.SetKeybinding("", gocui.KeyCtrlD, gocui.ModNone, v.dump); err != nil {
		log.Error("keybinding", "err", err)
		return 2
	}

	if err := g.MainLoop(); err != nil && err != gocui.ErrQuit {
		log.Error("main loop", "err", err)
		return 2
	}
	return 0
}

// gocui layout. The trace starts once all views exist.
func (v *viewer) layout(g *gocui.Gui) error {
	maxX, maxY := g.Size()
	// up -> trace output
	if view, err := g.SetView("console", 0, 0, maxX-1, maxY-12); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		view.Title = "Trace " + v.path
		view.Autoscroll = true
	}

	// middle -> allocator and address space
	if view, err := g.SetView("allocator", 0, maxY-11, maxX-1, maxY-5); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		view.Title = "Memory"
		view.Wrap = true
	}

	// down -> status
	if view, err := g.SetView("status", 0, maxY-4, maxX-1, maxY-1); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		view.Title = "Status (Ctrl-D dump memory, Ctrl-C quit)"
	}

	v.start.Do(func() { go v.runTrace(g) })
	return nil
}

// runTrace builds the system and runs the trace.
// Views are only modified through gocui.Gui.Update.
func (v *viewer) runTrace(g *gocui.Gui) {
	v.mu.Lock()
	status := "trace finished"
	sys, err := system.InitializeSystem(v.cfg, v.log)
	if err == nil {
		v.sys = sys
		err = sys.RunTrace(v.path, v.console)
	}
	if err != nil {
		status = "ERROR: " + err.Error()
	}
	memory := ""
	if v.sys != nil {
		memory = v.sys.Status()
	}
	v.mu.Unlock()

	g.Update(func(g *gocui.Gui) error {
		// trace output first, the summary must not overtake it
		if err := v.console.Flush(g); err != nil {
			return err
		}
		if err := setText(g, "allocator", memory); err != nil {
			return err
		}
		return setText(g, "status", status)
	})
}

// dump writes the memory image to dumpFile
func (v *viewer) dump(g *gocui.Gui, _ *gocui.View) error {
	if !v.mu.TryLock() {
		return setText(g, "status", "trace still running")
	}
	defer v.mu.Unlock()
	if v.sys == nil {
		return setText(g, "status", "no memory to dump")
	}

	f, err := os.Create(dumpFile)
	if err != nil {
		return setText(g, "status", "ERROR: "+err.Error())
	}
	defer f.Close()
	if err := v.sys.Memory.DumpMemory(f); err != nil {
		return setText(g, "status", "ERROR: "+err.Error())
	}
	return setText(g, "status", "memory written to "+dumpFile)
}

func setText(g *gocui.Gui, name, text string) error {
	view, err := g.View(name)
	if err != nil {
		return err
	}
	view.Clear()
	fmt.Fprintln(view, text)
	return nil
}

func quit(g *gocui.Gui, v *gocui.View) error {
	return gocui.ErrQuit
}
