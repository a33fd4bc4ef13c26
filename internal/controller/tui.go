package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	m "tagfiler.dev/pkg/outbox/internal/model"
)

const progressInterval = 250 * time.Millisecond

// TUI shows a live progress line while a scan runs and prints results as
// styled tables.
type TUI struct {
	*SimpleUI

	input  io.Reader
	output io.Writer

	mu      sync.Mutex
	program *tea.Program
	done    chan struct{}
}

// NewTUI creates a TUI reading keys from stdin.
func NewTUI(cmd *cobra.Command) *TUI {
	return &TUI{
		SimpleUI: NewSimpleUI(cmd, true),
		input:    os.Stdin,
		output:   cmd.OutOrStdout(),
	}
}

// StartProgress runs the progress view until StopProgress.
func (t *TUI) StartProgress(ctx context.Context, progress func() m.Progress, interrupt func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.program != nil {
		return errors.New("progress view already running")
	}

	program := tea.NewProgram(
		newProgressModel(progress, interrupt, time.Now),
		tea.WithContext(ctx),
		tea.WithInput(t.input),
		tea.WithOutput(t.output),
		tea.WithoutSignalHandler(),
	)
	done := make(chan struct{})

	go func() {
		defer close(done)

		if _, err := program.Run(); err != nil && ctx.Err() == nil {
			slog.Warn("Progress view stopped", "error", err)
		}
	}()

	t.program = program
	t.done = done

	return nil
}

// StopProgress renders the final counters and waits for the view to exit.
func (t *TUI) StopProgress(context.Context) {
	t.mu.Lock()
	program, done := t.program, t.done
	t.program, t.done = nil, nil
	t.mu.Unlock()

	if program == nil {
		return
	}

	program.Send(stopProgressMsg{})
	<-done
}

type progressTickMsg time.Time

type stopProgressMsg struct{}

// progressModel is the Bubble Tea model of the progress line.
type progressModel struct {
	spinner   spinner.Model
	poll      func() m.Progress
	interrupt func()
	now       func() time.Time

	started  time.Time
	current  m.Progress
	stopping bool
	finished bool
}

func newProgressModel(poll func() m.Progress, interrupt func(), now func() time.Time) progressModel {
	return progressModel{
		spinner:   spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("12")))),
		poll:      poll,
		interrupt: interrupt,
		now:       now,
		started:   now(),
	}
}

func (pm progressModel) Init() tea.Cmd {
	return tea.Batch(pm.spinner.Tick, tickProgress())
}

func tickProgress() tea.Cmd {
	return tea.Tick(progressInterval, func(t time.Time) tea.Msg {
		return progressTickMsg(t)
	})
}

func (pm progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case progressTickMsg:
		pm.current = pm.poll()
		return pm, tickProgress()

	case stopProgressMsg:
		pm.current = pm.poll()
		pm.finished = true

		return pm, tea.Quit

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.String() == "q" {
			if !pm.stopping && pm.interrupt != nil {
				pm.interrupt()
			}

			pm.stopping = true
		}

		return pm, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		pm.spinner, cmd = pm.spinner.Update(msg)

		return pm, cmd
	}

	return pm, nil
}

var (
	progressLabel = lipgloss.NewStyle().Faint(true)
	progressValue = lipgloss.NewStyle().Bold(true)
	progressError = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

func (pm progressModel) View() string {
	p := pm.current

	var b strings.Builder

	switch {
	case pm.finished:
		b.WriteString("✓ ")
	case pm.stopping:
		b.WriteString(progressError.Render("terminating") + " ")
	default:
		b.WriteString(pm.spinner.View() + " ")
	}

	fields := []struct {
		label string
		value int
	}{
		{"found", p.Found},
		{"skipped", p.Skipped},
		{"checksummed", p.Checksummed},
		{"tagged", p.Tagged},
		{"registered", p.Registered},
	}

	for _, field := range fields {
		fmt.Fprintf(&b, "%s %s  ", progressLabel.Render(field.label), progressValue.Render(fmt.Sprint(field.value)))
	}

	errorsValue := progressValue.Render(fmt.Sprint(p.Errors))
	if p.Errors > 0 {
		errorsValue = progressError.Render(fmt.Sprint(p.Errors))
	}

	fmt.Fprintf(&b, "%s %s  ", progressLabel.Render("errors"), errorsValue)
	fmt.Fprintf(&b, "%s %d/%d  ", progressLabel.Render("queued"), p.ChecksumQueue, p.TagQueue)
	b.WriteString(progressLabel.Render(pm.now().Sub(pm.started).Round(time.Second).String()))
	b.WriteString("\n")

	return b.String()
}
