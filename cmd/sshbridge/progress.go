package main

import (
	"fmt"
	"os"

	"sshbridge/internal/events"
	"sshbridge/internal/models"
	"sshbridge/internal/transfer"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	doneStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle   = lipgloss.NewStyle().Faint(true)
)

func runTransfer(args []string, direction models.TransferDirection) error {
	if len(args) != 3 {
		if direction == models.DirectionUpload {
			return fmt.Errorf("usage: sshbridge upload <name> <local> <remote>")
		}
		return fmt.Errorf("usage: sshbridge download <name> <remote> <local>")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.registry.Close()

	id, err := a.connect(args[0])
	if err != nil {
		return err
	}
	defer a.registry.Remove(id)

	opts := transfer.Options{VerifyHash: os.Getenv("SSHBRIDGE_VERIFY") != ""}
	var transferID string
	if direction == models.DirectionUpload {
		transferID, err = a.transfer.EnqueueUpload(id, args[1], args[2], opts)
	} else {
		transferID, err = a.transfer.EnqueueDownload(id, args[2], args[1], opts)
	}
	if err != nil {
		return err
	}

	m := newProgressModel(a, transferID)
	p := tea.NewProgram(m)
	go pumpTransferEvents(a, p, transferID)
	out, err := p.Run()
	if err != nil {
		return err
	}
	final := out.(progressModel)
	if final.err != nil {
		return final.err
	}
	return nil
}

// pumpTransferEvents forwards bus events for one transfer into the
// bubbletea program.
func pumpTransferEvents(a *app, p *tea.Program, transferID string) {
	for ev := range a.bus.Events() {
		switch ev := ev.(type) {
		case events.TransferProgress:
			if matchesTransfer(a, ev.TransferID, transferID) {
				p.Send(progressMsg{})
			}
		case events.TransferStatusChanged:
			if ev.TransferID == transferID && (ev.Status.Terminal() || ev.Status == models.TransferError) {
				p.Send(finishedMsg{status: ev.Status, err: ev.Err})
				return
			}
			if matchesTransfer(a, ev.TransferID, transferID) {
				p.Send(progressMsg{})
			}
		}
	}
}

// matchesTransfer accepts events for the transfer itself or, for a
// directory, any of its children.
func matchesTransfer(a *app, evID, transferID string) bool {
	if evID == transferID {
		return true
	}
	it, ok := a.transfer.Item(evID)
	return ok && it.ParentID == transferID
}

type progressMsg struct{}

type finishedMsg struct {
	status models.TransferStatus
	err    error
}

type progressModel struct {
	app        *app
	transferID string
	bar        progress.Model
	done       bool
	status     models.TransferStatus
	err        error
}

func newProgressModel(a *app, transferID string) progressModel {
	return progressModel{
		app:        a,
		transferID: transferID,
		bar:        progress.New(progress.WithDefaultGradient()),
	}
}

func (m progressModel) Init() tea.Cmd {
	return nil
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.app.transfer.Cancel(m.transferID)
			return m, nil
		case "p":
			m.app.transfer.Pause(m.transferID)
			return m, nil
		case "r":
			m.app.transfer.Resume(m.transferID)
			return m, nil
		}
	case tea.WindowSizeMsg:
		m.bar.Width = msg.Width - 20
		return m, nil
	case progressMsg:
		return m, nil
	case finishedMsg:
		m.done = true
		m.status = msg.status
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m progressModel) View() string {
	it, ok := m.app.transfer.Item(m.transferID)
	if !ok {
		return ""
	}

	var ratio float64
	if it.Size > 0 {
		ratio = float64(it.Transferred) / float64(it.Size)
	}

	name := it.LocalPath
	if it.Direction == models.DirectionDownload {
		name = it.RemotePath
	}
	header := titleStyle.Render(fmt.Sprintf("%s %s", it.Direction, name))
	bar := m.bar.ViewAs(ratio)
	detail := dimStyle.Render(fmt.Sprintf("%s / %s", humanBytes(it.Transferred), humanBytes(it.Size)))
	if it.IsDir {
		if agg, ok := m.app.transfer.Aggregate(m.transferID); ok {
			detail = dimStyle.Render(fmt.Sprintf("%d/%d files  %s / %s",
				agg.CompletedFiles, agg.TotalFiles,
				humanBytes(agg.TransferredBytes), humanBytes(agg.TotalBytes)))
		}
	}

	var footer string
	switch {
	case m.done && m.err != nil:
		footer = errStyle.Render(fmt.Sprintf("%s: %v", m.status, m.err))
	case m.done:
		footer = doneStyle.Render(string(m.status))
	case it.Status == models.TransferPaused:
		footer = dimStyle.Render("paused  (r resume, q cancel)")
	default:
		footer = dimStyle.Render("p pause, q cancel")
	}

	return fmt.Sprintf("%s\n%s  %s\n%s\n", header, bar, detail, footer)
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGT"[exp])
}
