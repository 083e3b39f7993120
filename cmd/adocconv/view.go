package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"asciidocartisan/engine/internal/conversion"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#4D96FF"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#6BCB77"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	stageStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	fallbackNote = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD93D")).Render("(pandoc fallback)")
)

type progressMsg struct {
	documentID string
	progress   conversion.Progress
}

type doneMsg struct {
	documentID string
	result     conversion.Result
	dest       string
	err        error
}

type jobView struct {
	documentID string
	stage      string
	done       bool
	result     conversion.Result
	dest       string
	err        error
}

// model renders one line per input file until every conversion settles.
type model struct {
	spinner spinner.Model
	jobs    []*jobView
	byID    map[string]*jobView
	target  string
	cancel  func()
	aborted bool
}

func newModel(documentIDs []string, target string, cancel func()) model {
	s := spinner.New(spinner.WithSpinner(spinner.Dot))
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#4D96FF"))
	m := model{spinner: s, byID: make(map[string]*jobView, len(documentIDs)), target: target, cancel: cancel}
	for _, id := range documentIDs {
		j := &jobView{documentID: id, stage: string(conversion.StageQueued)}
		m.jobs = append(m.jobs, j)
		m.byID[id] = j
	}
	return m
}

func (m model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.aborted = true
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
	case progressMsg:
		if j, ok := m.byID[msg.documentID]; ok && !j.done {
			j.stage = string(msg.progress.Stage)
		}
		return m, nil
	case doneMsg:
		if j, ok := m.byID[msg.documentID]; ok {
			j.done = true
			j.result = msg.result
			j.dest = msg.dest
			j.err = msg.err
		}
		if m.finished() {
			return m, tea.Quit
		}
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) finished() bool {
	for _, j := range m.jobs {
		if !j.done {
			return false
		}
	}
	return true
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("adocconv → " + m.target))
	b.WriteString("\n\n")
	for _, j := range m.jobs {
		b.WriteString(j.line(m.spinner.View()))
		b.WriteString("\n")
	}
	if m.aborted {
		b.WriteString(stageStyle.Render("cancelled"))
		b.WriteString("\n")
	}
	return b.String()
}

func (j *jobView) line(spin string) string {
	if !j.done {
		return fmt.Sprintf("%s %s %s", spin, j.documentID, stageStyle.Render(j.stage))
	}
	if j.err != nil {
		return fmt.Sprintf("%s %s %s", failStyle.Render("✗"), j.documentID, failStyle.Render(j.err.Error()))
	}
	if !j.result.Success {
		return fmt.Sprintf("%s %s %s", failStyle.Render("✗"), j.documentID, failStyle.Render(j.result.ErrorMessage))
	}
	line := fmt.Sprintf("%s %s", okStyle.Render("✓"), j.documentID)
	if j.dest != "" {
		line += stageStyle.Render(" → " + j.dest)
	}
	if j.result.UsedFallback {
		line += " " + fallbackNote
	}
	return line
}
