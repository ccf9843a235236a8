package console

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"scene-forge/internal/runstore"
)

const DefaultAckPoll = 500 * time.Millisecond

type HoldOptions struct {
	Message string
	// AckFile is the sentinel whose appearance releases the hold. It is
	// watched in both modes.
	AckFile string
	Poll    time.Duration
	// Interactive shows a key prompt; otherwise only the sentinel counts.
	Interactive bool
	In          io.Reader
	Out         io.Writer
}

// Hold blocks until the operator acknowledges, either by a key press on an
// interactive terminal or by creating the sentinel file.
func Hold(ctx context.Context, opts HoldOptions) error {
	poll := opts.Poll
	if poll <= 0 {
		poll = DefaultAckPoll
	}
	if !opts.Interactive {
		if strings.TrimSpace(opts.AckFile) == "" {
			return errors.New("hold requires a terminal or an ack file")
		}
		if opts.Out != nil {
			_, _ = io.WriteString(opts.Out, opts.Message+"\n"+Muted("waiting for "+opts.AckFile+" (scene-forge ack --file "+opts.AckFile+")")+"\n")
		}
		return WaitForAck(ctx, opts.AckFile, poll)
	}

	progOpts := []tea.ProgramOption{tea.WithContext(ctx)}
	if opts.In != nil {
		progOpts = append(progOpts, tea.WithInput(opts.In))
	}
	if opts.Out != nil {
		progOpts = append(progOpts, tea.WithOutput(opts.Out))
	}
	p := tea.NewProgram(newHoldModel(opts.Message, opts.AckFile, poll), progOpts...)
	if _, err := p.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// WaitForAck polls for path and consumes it once it exists.
func WaitForAck(ctx context.Context, path string, poll time.Duration) error {
	t := time.NewTicker(poll)
	defer t.Stop()
	for {
		if ackPresent(path) {
			return ClearAck(path)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Ack creates the sentinel file that releases a holding engine process.
func Ack(path string) error {
	return runstore.WriteBytes(path, []byte(time.Now().UTC().Format(time.RFC3339)+"\n"))
}

func ClearAck(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func ackPresent(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

type holdKeys struct {
	Confirm key.Binding
	Quit    key.Binding
}

type ackPollMsg struct{ present bool }

type holdModel struct {
	spinner spinner.Model
	keys    holdKeys
	message string
	ackFile string
	poll    time.Duration
	done    bool
}

func newHoldModel(message, ackFile string, poll time.Duration) holdModel {
	return holdModel{
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(titleStyle)),
		keys: holdKeys{
			Confirm: key.NewBinding(key.WithKeys("enter", " "), key.WithHelp("enter", "close")),
			Quit:    key.NewBinding(key.WithKeys("ctrl+c", "esc", "q"), key.WithHelp("q", "close")),
		},
		message: message,
		ackFile: ackFile,
		poll:    poll,
	}
}

func (m holdModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.pollAck())
}

func (m holdModel) pollAck() tea.Cmd {
	if strings.TrimSpace(m.ackFile) == "" {
		return nil
	}
	path := m.ackFile
	return tea.Tick(m.poll, func(time.Time) tea.Msg {
		return ackPollMsg{present: ackPresent(path)}
	})
}

func (m holdModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Confirm) || key.Matches(msg, m.keys.Quit) {
			m.done = true
			return m, tea.Quit
		}
		return m, nil
	case ackPollMsg:
		if msg.present {
			_ = ClearAck(m.ackFile)
			m.done = true
			return m, tea.Quit
		}
		return m, m.pollAck()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m holdModel) View() string {
	if m.done {
		return ""
	}
	return m.spinner.View() + " " + m.message + "\n" + Muted("press enter to close") + "\n"
}
