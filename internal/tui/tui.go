package tui

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"vote-escrow/internal/alias"
	"vote-escrow/internal/collector"
	"vote-escrow/internal/registry"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	openStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

func padToWidth(s string, width int) string {
	current := runewidth.StringWidth(s)
	if current >= width {
		return s
	}
	return s + strings.Repeat(" ", width-current)
}

// truncateToWidth cuts s to at most width display cells, marking the cut
// with "...".
func truncateToWidth(s string, width int) string {
	if runewidth.StringWidth(s) <= width {
		return s
	}
	if width <= 3 {
		return runewidth.Truncate(s, width, "")
	}
	return runewidth.Truncate(s, width, "...")
}

func separatorLine(width int) string {
	if width < 2 {
		return strings.Repeat("─", width)
	}
	return "├" + strings.Repeat("─", width-2) + "┤"
}

func formatInfoLine(text string, width int) string {
	if width < 2 {
		return padToWidth(text, width)
	}
	return "│" + padToWidth(truncateToWidth(text, width-2), width-2) + "│"
}

var weiPerUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// formatWei renders a wei amount in whole units with trailing zeros removed.
func formatWei(v *big.Int) string {
	if v == nil {
		return "0"
	}
	whole, frac := new(big.Int).QuoRem(v, weiPerUnit, new(big.Int))
	if frac.Sign() == 0 {
		return whole.String()
	}
	digits := fmt.Sprintf("%018s", frac.String())
	return whole.String() + "." + strings.TrimRight(digits, "0")
}

func formatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Truncate(time.Second)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	seconds := (d - minutes*time.Minute) / time.Second
	if days > 0 {
		return fmt.Sprintf("%dd%02dh%02dm", days, hours, minutes)
	}
	return fmt.Sprintf("%02dh%02dm%02ds", hours, minutes, seconds)
}

// roundStatus describes where a round is in its lifecycle at now.
func roundStatus(v registry.View, now time.Time) string {
	switch {
	case v.Finished:
		return "finalized"
	case v.Open:
		return formatRemaining(v.Deadline.Sub(now)) + " left"
	default:
		return "awaiting finalize"
	}
}

// UpdateMsg carries a fresh overview.
type UpdateMsg struct {
	Overview registry.Overview
}

// StatusMsg carries a failed poll.
type StatusMsg struct {
	Status collector.Status
}

// Model holds the TUI state
type Model struct {
	overview registry.Overview
	loaded   bool
	status   collector.Status
	aliases  *alias.Resolver
	width    int
	height   int
}

// NewModel creates a new TUI model; aliases may be nil.
func NewModel(aliases *alias.Resolver) Model {
	return Model{aliases: aliases}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case UpdateMsg:
		m.overview = msg.Overview
		m.loaded = true
		m.status = collector.Status{}
		return m, nil

	case StatusMsg:
		m.status = msg.Status
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}
	return lipgloss.JoinVertical(lipgloss.Left, m.renderHeader(), m.renderRounds())
}

func (m Model) renderHeader() string {
	ov := m.overview
	var open int
	for _, v := range ov.Rounds {
		if v.Open {
			open++
		}
	}

	lines := []string{"vote escrow"}
	if m.loaded {
		lines = append(lines,
			fmt.Sprintf("owner: %s", m.aliases.Label(ov.Owner)),
			fmt.Sprintf("commission: %s", formatWei(ov.Commission)),
			fmt.Sprintf("rounds: %d (%d open)   as of %s", len(ov.Rounds), open, ov.At.Format(time.DateTime)),
		)
	} else {
		lines = append(lines, "waiting for registry state...")
	}

	out := []string{"┌" + strings.Repeat("─", max(m.width-2, 0)) + "┐"}
	for i, l := range lines {
		line := formatInfoLine(" "+l, m.width)
		if i == 0 {
			line = titleStyle.Render(line)
		}
		out = append(out, line)
	}
	if m.status.Err != nil {
		text := fmt.Sprintf(" poll failed at %s: %v", m.status.At.Format(time.TimeOnly), m.status.Err)
		out = append(out, errorStyle.Render(formatInfoLine(text, m.width)))
	}
	return strings.Join(out, "\n")
}

type column struct {
	title string
	width int
}

func (m Model) columns() []column {
	cols := []column{
		{"ID", 5},
		{"LEADER", 0},
		{"LEAD", 6},
		{"VOTES", 7},
		{"CANDS", 7},
		{"POOL", 14},
		{"DEADLINE", 20},
		{"STATUS", 18},
	}
	used := len(cols) + 1 // borders
	for _, c := range cols {
		used += c.width
	}
	cols[1].width = max(m.width-used, 12)
	return cols
}

func (m Model) renderRounds() string {
	cols := m.columns()
	cell := func(text string, width int) string {
		return padToWidth(truncateToWidth(" "+text, width), width)
	}
	row := func(cells []string) string {
		parts := make([]string, len(cols))
		for i, c := range cols {
			parts[i] = cell(cells[i], c.width)
		}
		return "│" + strings.Join(parts, "│") + "│"
	}

	titles := make([]string, len(cols))
	for i, c := range cols {
		titles[i] = c.title
	}
	lines := []string{separatorLine(m.width), row(titles), separatorLine(m.width)}

	// header box and table chrome take 8 lines
	maxRows := m.height - 8
	rounds := m.overview.Rounds
	hidden := 0
	if maxRows > 0 && len(rounds) > maxRows {
		// keep the newest rounds when they do not all fit
		hidden = len(rounds) - maxRows
		rounds = rounds[hidden:]
	}
	if len(rounds) == 0 {
		lines = append(lines, formatInfoLine(" no rounds yet", m.width))
	}
	for _, v := range rounds {
		leader := "-"
		if !v.Leader.IsZero() {
			leader = m.aliases.Label(v.Leader)
		}
		status := roundStatus(v, m.overview.At)
		line := row([]string{
			fmt.Sprintf("%d", v.ID),
			leader,
			fmt.Sprintf("%d", v.LeaderVotes),
			fmt.Sprintf("%d", v.VoteCount),
			fmt.Sprintf("%d", len(v.Voters)),
			formatWei(v.Pool),
			v.Deadline.Format(time.DateTime),
			status,
		})
		if v.Open {
			line = openStyle.Render(line)
		}
		lines = append(lines, line)
	}

	footer := "ID, Leader, Leader votes, Votes cast, Candidates, Pool, Deadline (UTC), Status   q to quit"
	if hidden > 0 {
		footer = fmt.Sprintf("%d older rounds hidden   %s", hidden, footer)
	}
	lines = append(lines,
		separatorLine(m.width),
		formatInfoLine(" "+footer, m.width),
		"└"+strings.Repeat("─", max(m.width-2, 0))+"┘",
	)
	return strings.Join(lines, "\n")
}

// Run starts the TUI program. It quits when updateCh is closed.
func Run(updateCh <-chan interface{}, aliases *alias.Resolver) error {
	p := tea.NewProgram(NewModel(aliases), tea.WithAltScreen())

	go func() {
		for data := range updateCh {
			if msg := toMsg(data); msg != nil {
				p.Send(msg)
			}
		}
		p.Quit()
	}()

	_, err := p.Run()
	return err
}

func toMsg(data interface{}) tea.Msg {
	switch v := data.(type) {
	case registry.Overview:
		return UpdateMsg{Overview: v}
	case collector.Status:
		return StatusMsg{Status: v}
	}
	return nil
}
