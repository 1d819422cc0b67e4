package cliui

import (
	"context"
	"fmt"
	"io"
	"time"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
)

type stepDoneMsg struct{ err error }

// stepModel shows a spinner next to msg until the step finishes.
type stepModel struct {
	spinner spinner.Model
	msg     string
	done    bool
}

func (m stepModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m stepModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stepDoneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m stepModel) View() tea.View {
	if m.done {
		return tea.NewView("")
	}
	return tea.NewView("  " + m.spinner.View() + " " + m.msg)
}

// Step runs fn while showing a spinner, then prints a ✓ or ✗ with the
// elapsed time. Outside a terminal only the final line is printed.
func Step(ctx context.Context, w io.Writer, msg string, fn func() error) error {
	start := time.Now()

	var err error
	if IsTerminal(w) && !plain {
		err = runWithSpinner(ctx, w, msg, fn)
	} else {
		err = fn()
	}

	fmt.Fprintf(w, "  %s %s %s\n",
		Mark(err),
		msg,
		Render(StepStyle, fmt.Sprintf("(%s)", FormatDuration(time.Since(start)))),
	)
	return err
}

func runWithSpinner(ctx context.Context, w io.Writer, msg string, fn func() error) error {
	model := stepModel{
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(successStyle)),
		msg:     msg,
	}
	program := tea.NewProgram(model,
		tea.WithContext(ctx),
		tea.WithOutput(w),
		tea.WithInput(nil),
	)

	result := make(chan error, 1)
	go func() {
		err := fn()
		result <- err
		program.Send(stepDoneMsg{err: err})
	}()

	// A spinner failure only loses the animation; fn still owns the result.
	_, _ = program.Run()
	return <-result
}
