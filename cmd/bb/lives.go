package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	cl "blueballs/internal/cli"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type tickMsg time.Time

type regenMsg struct {
	out cl.RegenResponse
	err error
}

// livesModel counts down to the next life and collects it when due.
type livesModel struct {
	client  *cl.Client
	token   string
	state   cl.RegenResponse
	bar     progress.Model
	now     time.Time
	pending bool
	err     error
	// Automatic collects wait until retryAt after one that did not move the
	// next life forward.
	retryAt time.Time
	backoff time.Duration
}

const (
	minRegenBackoff = 5 * time.Second
	maxRegenBackoff = time.Minute
)

func newLivesModel(client *cl.Client, token string, state cl.RegenResponse) livesModel {
	return livesModel{
		client: client,
		token:  token,
		state:  state,
		bar:    progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		now:    time.Now(),
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m livesModel) regen() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		out, err := m.client.RegenLives(ctx, m.token)
		return regenMsg{out: out, err: err}
	}
}

func (m livesModel) Init() tea.Cmd {
	return tick()
}

func (m livesModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			if m.pending {
				return m, nil
			}
			m.pending = true
			return m, m.regen()
		}
	case tea.WindowSizeMsg:
		m.bar.Width = min(max(msg.Width-8, 10), 60)
	case tickMsg:
		m.now = time.Time(msg)
		if next := m.state.NextLifeAt; next != nil && !m.now.Before(*next) && !m.pending && !m.now.Before(m.retryAt) {
			m.pending = true
			return m, tea.Batch(m.regen(), tick())
		}
		return m, tick()
	case regenMsg:
		m.pending = false
		m.err = msg.err
		prev := m.state.NextLifeAt
		if msg.err == nil {
			m.state = msg.out
		}
		if msg.err == nil && advanced(prev, msg.out.NextLifeAt) {
			m.backoff, m.retryAt = 0, time.Time{}
			return m, nil
		}
		m.backoff = min(max(m.backoff*2, minRegenBackoff), maxRegenBackoff)
		m.retryAt = m.now.Add(m.backoff)
	}
	return m, nil
}

func (m livesModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Lives " + formatLives(m.state.Lives, m.state.Profile)))
	b.WriteString("\n\n")
	b.WriteString(m.bar.ViewAs(m.fraction()))
	b.WriteString("\n")
	b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Render(m.caption()))
	if m.err != nil {
		b.WriteString("\n" + danger.Sprint(m.err.Error()))
	}
	b.WriteString("\n\n(r) refresh  (q) quit\n")
	return b.String()
}

func advanced(prev, next *time.Time) bool {
	return prev == nil || next == nil || next.After(*prev)
}

// fraction is how far the current life interval has elapsed.
func (m livesModel) fraction() float64 {
	next := m.state.NextLifeAt
	rate := m.state.Profile.LivesPerHour
	if next == nil || rate <= 0 {
		return 1
	}
	interval := time.Duration(float64(time.Hour) / rate)
	remaining := next.Sub(m.now)
	if remaining <= 0 {
		return 1
	}
	if remaining >= interval {
		return 0
	}
	return 1 - float64(remaining)/float64(interval)
}

func (m livesModel) caption() string {
	next := m.state.NextLifeAt
	if next == nil {
		return "Lives are full."
	}
	remaining := next.Sub(m.now).Round(time.Second)
	if remaining <= 0 {
		return "Collecting..."
	}
	return fmt.Sprintf("Next life in %s", remaining)
}
