package cmd

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var spinnerEnabled = isTerminal

type taskFinishedMsg struct{}

// progressView animates until the task reports back.
type progressView struct {
	spin     spinner.Model
	label    string
	finished bool
}

func (v progressView) Init() tea.Cmd {
	return v.spin.Tick
}

func (v progressView) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if _, ok := msg.(taskFinishedMsg); ok {
		v.finished = true
		return v, tea.Quit
	}
	var cmd tea.Cmd
	v.spin, cmd = v.spin.Update(msg)
	return v, cmd
}

func (v progressView) View() string {
	if v.finished {
		return ""
	}
	return v.spin.View() + " " + v.label
}

// runWithSpinner shows label on output while task runs and always returns
// after task has. Non-terminal outputs run the task directly.
func runWithSpinner(ctx context.Context, output io.Writer, label string, task func(context.Context) error) error {
	if !spinnerEnabled(output) {
		return task(ctx)
	}

	program := tea.NewProgram(progressView{
		spin:  spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("69")))),
		label: label,
	}, tea.WithInput(nil), tea.WithOutput(output), tea.WithContext(ctx))

	taskErr := make(chan error, 1)
	go func() {
		err := task(ctx)
		taskErr <- err
		program.Send(taskFinishedMsg{})
	}()

	_, runErr := program.Run()
	if err := <-taskErr; err != nil {
		return err
	}
	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		return runErr
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
