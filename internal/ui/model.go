// Package ui implements the interactive terminal front end for a capture
// session.
package ui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/rbright/reel/internal/capture"
	"github.com/rbright/reel/internal/fsm"
)

// Recorder is the UI-facing subset of capture.Session.
type Recorder interface {
	Start(context.Context) error
	Stop() (capture.Summary, bool)
	State() fsm.State
	LastDuration() (int, bool)
}

// Model is the root bubbletea model for reel ui.
type Model struct {
	ctx      context.Context
	recorder Recorder

	active  bool
	pending bool
	elapsed int

	lastDuration int
	hasLast      bool

	segments int
	bytes    int64

	errorMessage string
	width        int
}

// New creates a model bound to a recorder. ctx scopes every session the
// model starts; cancelling it tears the active session down.
func New(ctx context.Context, recorder Recorder) Model {
	last, ok := recorder.LastDuration()
	return Model{
		ctx:          ctx,
		recorder:     recorder,
		active:       recorder.State() == fsm.StateActive,
		lastDuration: last,
		hasLast:      ok,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// startCmd acquires devices off the update loop; Start may block on the
// encoder launch.
func startCmd(ctx context.Context, recorder Recorder) tea.Cmd {
	return func() tea.Msg {
		return StartedMsg{Err: recorder.Start(ctx)}
	}
}

// stopCmd must never run on the update loop: Stop waits for the cadence
// goroutine, whose handlers send into the program.
func stopCmd(recorder Recorder) tea.Cmd {
	return func() tea.Msg {
		summary, ok := recorder.Stop()
		return StoppedMsg{Summary: summary, Stopped: ok}
	}
}

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case StartedMsg:
		m.pending = false
		if msg.Err != nil {
			m.active = false
			m.errorMessage = msg.Err.Error()
			return m, nil
		}
		m.active = true
		m.errorMessage = ""
		m.elapsed = 0
		m.segments = 0
		m.bytes = 0
		return m, nil

	case StoppedMsg:
		m.pending = false
		m.active = false
		m.elapsed = 0
		m.lastDuration, m.hasLast = m.recorder.LastDuration()
		return m, nil

	case TickMsg:
		if m.active {
			m.elapsed = msg.Elapsed
		}
		return m, nil

	case SegmentMsg:
		m.segments++
		m.bytes += int64(msg.Segment.Size())
		return m, nil

	case ErrorMsg:
		if msg.Err != nil {
			m.errorMessage = msg.Err.Error()
		}
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case keyQuit, keyQuitUpper, keyCtrlC:
		return m, tea.Quit

	case keyStart:
		if m.active || m.pending {
			return m, nil
		}
		m.pending = true
		return m, startCmd(m.ctx, m.recorder)

	case keyStop:
		if !m.active || m.pending {
			return m, nil
		}
		m.pending = true
		return m, stopCmd(m.recorder)

	case keyToggle:
		if m.pending {
			return m, nil
		}
		m.pending = true
		if m.active {
			return m, stopCmd(m.recorder)
		}
		return m, startCmd(m.ctx, m.recorder)
	}

	return m, nil
}

// View renders the full TUI.
func (m Model) View() string {
	width := m.width
	if width <= 0 {
		width = 40
	}

	sections := []string{
		titleStyle.Render("reel"),
		m.renderStatus(),
	}
	if !m.active && m.hasLast {
		sections = append(sections, dimStyle.Render("Last stream duration: "+capture.FormatTime(m.lastDuration)))
	}
	sections = append(sections, dimStyle.Render(fmt.Sprintf("Segments: %d (%s)", m.segments, humanize.Bytes(uint64(m.bytes)))))
	if m.errorMessage != "" {
		sections = append(sections, errorStyle.Render("Error: "+m.errorMessage))
	}
	sections = append(sections,
		dividerStyle.Render(strings.Repeat("─", width)),
		m.renderFooter(),
	)

	return strings.Join(sections, "\n") + "\n"
}

func (m Model) renderStatus() string {
	if m.active {
		return recordingStyle.Render("● REC " + capture.FormatTime(m.elapsed))
	}
	return idleStyle.Render("○ IDLE")
}

func (m Model) renderFooter() string {
	bindings := []struct{ key, desc string }{
		{"s", "start"},
		{"x", "stop"},
		{"space", "toggle"},
		{"q", "quit"},
	}
	parts := make([]string, 0, len(bindings))
	for _, b := range bindings {
		parts = append(parts, footerKeyStyle.Render(b.key)+" "+footerDescStyle.Render(b.desc))
	}
	return strings.Join(parts, "  ")
}
