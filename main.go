package main

import (
	"fmt"
	"io"
	"os"

	"vmtrace/config"
	"vmtrace/console"
	"vmtrace/logger"
	"vmtrace/system"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the trace named in args and returns the exit status:
// 0 on success, 1 for a usage error, 2 if the run was aborted.
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintf(stderr, "usage: vmtrace input_file\n")
		return 1
	}

	cfg := config.Default()
	log := logger.New(stderr, cfg.LogLevel)

	sys, err := system.InitializeSystem(cfg, log)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 2
	}

	if err := sys.RunTrace(args[0], console.NewSimple(stdout)); err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 2
	}
	return 0
}
