package console

/*
Output of a trace run: echoed trace lines, compare errors, byte dumps and
fault diagnostics. Two implementations:
	- Simple writes straight to an io.Writer (stdout for the command line tool)
	- Gui appends to a gocui view
*/

// Console receives the output of a trace run
type Console interface {
	WriteConsole(msg string) error
}
