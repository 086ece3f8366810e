package ui

import (
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rbright/reel/internal/capture"
)

// Bridge forwards capture callbacks into a running program. Messages sent
// before Attach or after the program exits are dropped.
type Bridge struct {
	program atomic.Pointer[tea.Program]
}

// Attach binds the program that receives forwarded messages.
func (b *Bridge) Attach(p *tea.Program) {
	b.program.Store(p)
}

// Detach stops forwarding.
func (b *Bridge) Detach() {
	b.program.Store(nil)
}

// Handlers returns capture handlers that forward into the program.
func (b *Bridge) Handlers() capture.Handlers {
	return capture.Handlers{
		OnSegment: func(seg capture.Segment) { b.send(SegmentMsg{Segment: seg}) },
		OnTick:    func(elapsed int) { b.send(TickMsg{Elapsed: elapsed}) },
		OnError:   b.Error,
	}
}

// Error forwards an out-of-band failure, such as an upload error.
func (b *Bridge) Error(err error) {
	if err == nil {
		return
	}
	b.send(ErrorMsg{Err: err})
}

func (b *Bridge) send(msg tea.Msg) {
	if p := b.program.Load(); p != nil {
		p.Send(msg)
	}
}
