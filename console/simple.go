package console

import (
	"io"
	"strings"
)

// Simple console type definition
type Simple struct {
	w           io.Writer
	currentLine int // number of lines written so far
}

// NewSimple returns a console writing to w
func NewSimple(w io.Writer) *Simple {
	return &Simple{w: w}
}

// WriteConsole writes msg, terminating it with a newline if it lacks one
func (c *Simple) WriteConsole(msg string) error {
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}
	c.currentLine += strings.Count(msg, "\n")
	_, err := io.WriteString(c.w, msg)
	return err
}

// Lines returns the number of lines written
func (c *Simple) Lines() int {
	return c.currentLine
}
