package console

import (
	"fmt"
	"strings"
	"sync"

	"github.com/jroimartin/gocui"
)

// Gui type definition
type Gui struct {
	g       *gocui.Gui // main gocui GUI object
	view    string     // name of the view receiving the output
	pending pending
}

// NewGui returns a console appending to the gocui view named view
func NewGui(g *gocui.Gui, view string) *Gui {
	return &Gui{g: g, view: view}
}

// WriteConsole displays a string on the console.
// gocui allows updating the view only through Update, which delivers
// callbacks in no particular order. Lines are queued here and every
// callback prints whatever is queued, so output keeps its order.
func (c *Gui) WriteConsole(msg string) error {
	c.pending.add(msg)
	c.g.Update(c.Flush)
	return nil
}

// Write queues p like WriteConsole, so a logger can share the view
func (c *Gui) Write(p []byte) (int, error) {
	if err := c.WriteConsole(string(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Flush prints the queued lines. It must run on the gocui main loop.
func (c *Gui) Flush(g *gocui.Gui) error {
	lines := c.pending.take()
	if len(lines) == 0 {
		return nil
	}
	v, err := g.View(c.view)
	if err != nil {
		return err
	}
	for _, line := range lines {
		fmt.Fprintf(v, "%s\n", line)
	}
	return nil
}

// pending keeps lines written but not yet shown
type pending struct {
	mu    sync.Mutex
	lines []string
}

// add splits msg into lines and queues them
func (p *pending) add(msg string) {
	lines := strings.Split(strings.TrimSuffix(msg, "\n"), "\n")
	p.mu.Lock()
	p.lines = append(p.lines, lines...)
	p.mu.Unlock()
}

// take returns the queued lines in the order they were added and empties the queue
func (p *pending) take() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	lines := p.lines
	p.lines = nil
	return lines
}
