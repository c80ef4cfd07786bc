package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rmax-ai/rolematch/pkg/assign"
	"github.com/rmax-ai/rolematch/pkg/client"
	"github.com/rmax-ai/rolematch/pkg/logging"
	"github.com/rmax-ai/rolematch/pkg/selection"
	rmredis "github.com/rmax-ai/rolematch/pkg/store/redis"
)

// Styles
var (
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	titleStyle  = lipgloss.NewStyle().Bold(true).Underline(true)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			Width(100)

	paneStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1).
			Width(100)

	skillStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	personStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("99")).Bold(true)
	distanceStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type changedMsg struct{}

type assignedMsg struct {
	assignment client.Assignment
	err        error
}

type model struct {
	input    textinput.Model
	spinner  spinner.Model
	state    *selection.State
	renderer *viewRenderer
	client   *client.Client
	view     view
	status   string
	statusOK bool
}

func initialModel(c *client.Client, state *selection.State, r *viewRenderer) model {
	ti := textinput.New()
	ti.Placeholder = "Shelter-12"
	ti.Prompt = "Facility › "
	ti.CharLimit = 64
	ti.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return model{input: ti, spinner: s, state: state, renderer: r, client: c}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, waitForChange(m.renderer))
}

func waitForChange(r *viewRenderer) tea.Cmd {
	return func() tea.Msg {
		<-r.changed
		return changedMsg{}
	}
}

func (m model) assignCmd(c assignTarget) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a, err := m.client.Assign(ctx, c.facilityID, c.personID, c.roleID)
		return assignedMsg{assignment: a, err: err}
	}
}

type assignTarget struct {
	facilityID, personID, roleID string
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyEnter:
			id := strings.TrimSpace(m.input.Value())
			if id == "" {
				m.state.Select(context.Background(), nil)
			} else {
				m.state.Select(context.Background(), &id)
			}
			m.status = ""
			m.input.Blur()
			return m, nil
		case tea.KeyEsc:
			m.state.Select(context.Background(), nil)
			m.input.SetValue("")
			m.input.Focus()
			m.status = ""
			return m, textinput.Blink
		}

		if !m.input.Focused() {
			switch s := msg.String(); {
			case s == "q":
				return m, tea.Quit
			case s == "/":
				m.input.Focus()
				return m, textinput.Blink
			case s == "r":
				m.state.Reload()
				return m, nil
			case len(s) == 1 && s[0] >= '1' && s[0] <= '9':
				n, _ := strconv.Atoi(s)
				if n > len(m.view.cands) || !m.view.candsDone {
					return m, nil
				}
				c := m.view.cands[n-1]
				m.status = fmt.Sprintf("Assigning %s to %s…", c.PersonName, c.RoleID)
				m.statusOK = true
				return m, m.assignCmd(assignTarget{facilityID: m.view.facilityID, personID: c.PersonID, roleID: c.RoleID})
			}
			return m, nil
		}

		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case changedMsg:
		m.view = m.renderer.snapshot()
		return m, waitForChange(m.renderer)

	case assignedMsg:
		switch {
		case errors.Is(msg.err, client.ErrConflict):
			m.status = "Role already filled; refreshing."
			m.statusOK = false
			m.state.Refresh()
		case msg.err != nil:
			m.status = fmt.Sprintf("Assign failed: %v", msg.err)
			m.statusOK = false
		default:
			a := msg.assignment
			m.status = fmt.Sprintf("Assigned %s to %s (%s)", a.PersonID, a.RoleID, a.RelationshipID)
			m.statusOK = true
			m.state.OnCommitted(assign.Committed{
				FacilityID:     a.FacilityID,
				RoleID:         a.RoleID,
				PersonID:       a.PersonID,
				RelationshipID: a.RelationshipID,
			})
		}
		return m, nil

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m model) View() string {
	var top strings.Builder
	top.WriteString(m.input.View() + "\n")

	selected, ok := m.state.Selected()
	if !ok {
		top.WriteString(subtleStyle.Render("Type a facility id and press enter."))
		return lipgloss.JoinVertical(lipgloss.Left, paneStyle.Render(top.String()), m.footer())
	}

	v := m.view
	switch {
	case v.facility != nil:
		top.WriteString(titleStyle.Render(fmt.Sprintf("%s  %s", v.facility.Name, v.facility.Status)))
	case v.reqsDone && v.candsDone:
		top.WriteString(subtleStyle.Render(selected + " (no facility attributes)"))
	default:
		top.WriteString(fmt.Sprintf("%s %s", m.spinner.View(), selected))
	}
	if v.err != nil {
		top.WriteString("\n" + errorStyle.Render(v.err.Error()))
	}

	var reqs strings.Builder
	switch {
	case !v.reqsDone:
		reqs.WriteString(m.spinner.View() + " loading")
	case len(v.reqs) == 0:
		reqs.WriteString(subtleStyle.Render("No unfilled roles."))
	default:
		for _, r := range v.reqs {
			reqs.WriteString(fmt.Sprintf("• %s %s  %s\n", r.RoleType, subtleStyle.Render(r.RoleID), skillStyle.Render(strings.Join(r.RequiredSkills, ", "))))
		}
	}

	var cands strings.Builder
	switch {
	case !v.candsDone:
		cands.WriteString(m.spinner.View() + " loading")
	case len(v.cands) == 0:
		cands.WriteString(subtleStyle.Render("No candidates."))
	default:
		for i, c := range v.cands {
			line := fmt.Sprintf("%d. %s → %s %s  %s", i+1, personStyle.Render(c.PersonName), c.RoleType, subtleStyle.Render(c.RoleID), skillStyle.Render(strings.Join(c.MatchedSkills, ", ")))
			if c.DistanceMiles != nil {
				line += distanceStyle.Render(fmt.Sprintf("  %.1f mi", *c.DistanceMiles))
			}
			cands.WriteString(line + "\n")
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		paneStyle.Render(top.String()),
		headerStyle.Render("Unfilled Roles"),
		reqs.String(),
		headerStyle.Render("Candidates"),
		cands.String(),
		m.footer(),
	)
}

func (m model) footer() string {
	var status string
	switch {
	case m.status == "":
	case m.statusOK:
		status = okStyle.Render(m.status) + "\n"
	default:
		status = errorStyle.Render(m.status) + "\n"
	}
	return subtleStyle.Render("\n") + status + subtleStyle.Render("enter select • esc clear • / edit • 1-9 assign • r reload • q quit")
}

func main() {
	addr := flag.String("addr", envOrDefault("ROLEMATCH_URL", client.DefaultEndpoint), "daemon URL")
	redisAddr := flag.String("redis-addr", os.Getenv("ROLEMATCH_REDIS_ADDR"), "Redis address for a shared facility cache (optional)")
	cacheTTL := flag.Duration("cache-ttl", 10*time.Minute, "facility cache TTL")
	limit := flag.Int("limit", 0, "candidate limit (0 uses the daemon default)")
	logFile := flag.String("log-file", "", "write logs to this file")
	flag.Parse()

	logger := zap.NewNop()
	if *logFile != "" {
		l, err := logging.New("debug", "json", "rolematch-tui", *logFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "rolematch-tui: %v\n", err)
			os.Exit(2)
		}
		logger = l
		defer logger.Sync()
	}

	var cache selection.Cache = selection.NewLRUCache(selection.DefaultCacheSize, *cacheTTL)
	if *redisAddr != "" {
		rdb := goredis.NewClient(&goredis.Options{Addr: *redisAddr})
		defer rdb.Close()
		cache = rmredis.NewFeatureCache(rdb, *cacheTTL, logger.Named("cache"))
	}

	c := client.NewClient(*addr)
	renderer := newViewRenderer()
	state := selection.New(sdkMatcher{c: c}, renderer, selection.Options{
		Cache:  cache,
		Limit:  *limit,
		Logger: logger.Named("selection"),
	})

	p := tea.NewProgram(initialModel(c, state, renderer), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Alas, there's been an error: %v", err)
		os.Exit(1)
	}
	state.Select(context.Background(), nil)
	state.Wait()
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
