package monitor

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	chartWidth   = 30
	chartHeight  = 3
	trendLen     = 30
	barWidth     = 40
	fetchTimeout = 5 * time.Second
	title        = " latentd Monitor "
)

// keyMap lists the dashboard's bindings.
type keyMap struct {
	Quit    key.Binding
	Refresh key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c", "esc"), key.WithHelp("q", "quit")),
		Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	}
}

func (k keyMap) ShortHelp() []key.Binding  { return []key.Binding{k.Quit, k.Refresh} }
func (k keyMap) FullHelp() [][]key.Binding { return [][]key.Binding{k.ShortHelp()} }

// trend keeps the last trendLen observations of one quantity.
type trend []float64

func (t trend) push(v float64) trend {
	t = append(t, v)
	if over := len(t) - trendLen; over > 0 {
		t = append(trend(nil), t[over:]...)
	}
	return t
}

func (t trend) chart() string {
	if len(t) == 0 {
		return styles.dim.Width(chartWidth).Align(lipgloss.Right).Render("no data")
	}
	s := sparkline.New(chartWidth, chartHeight)
	for _, v := range t {
		s.Push(v)
	}
	s.Draw()
	return styles.accent.Render(s.View())
}

// palette is the dashboard's colour scheme.
type palette struct {
	title, section, label, value, dim, accent lipgloss.Style
	ok, warn, fail                            lipgloss.Style
	frame                                     lipgloss.Style
}

var styles = func() palette {
	fg := func(c string) lipgloss.Style { return lipgloss.NewStyle().Foreground(lipgloss.Color(c)) }
	return palette{
		title:   fg("16").Background(lipgloss.Color("81")).Bold(true).Padding(0, 1),
		section: fg("81").Bold(true).MarginTop(1),
		label:   fg("110"),
		value:   fg("255").Bold(true),
		dim:     fg("244"),
		accent:  fg("81"),
		ok:      fg("78").Bold(true),
		warn:    fg("221").Bold(true),
		fail:    fg("203").Bold(true),
		frame:   lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(1, 2),
	}
}()

// Model is the bubbletea model of the experiment dashboard.
type Model struct {
	source   Source
	interval time.Duration
	keys     keyMap
	help     help.Model
	bar      progress.Model

	opened  time.Time
	updated time.Time
	snap    Snapshot
	err     error
	done    bool

	records, pool, best trend
}

// NewModel creates a dashboard that polls source every interval.
func NewModel(source Source, interval time.Duration) Model {
	return Model{
		source:   source,
		interval: interval,
		keys:     defaultKeys(),
		help:     help.New(),
		bar:      progress.New(progress.WithGradient("#5fd7ff", "#87d787"), progress.WithWidth(barWidth), progress.WithoutPercentage()),
		opened:   time.Now(),
	}
}

type (
	tickMsg     time.Time
	snapshotMsg Snapshot
	errMsg      struct{ err error }
)

func (m Model) poll() tea.Cmd {
	return tea.Batch(
		tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) }),
		fetch(m.source),
	)
}

// fetch reads one snapshot from source.
func fetch(source Source) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		snap, err := source.Fetch(ctx)
		if err != nil {
			return errMsg{err}
		}
		return snapshotMsg(snap)
	}
}

// Init starts polling.
func (m Model) Init() tea.Cmd { return m.poll() }

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.done = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Refresh):
			return m, fetch(m.source)
		}
	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
	case tickMsg:
		return m, m.poll()
	case snapshotMsg:
		m.observe(Snapshot(msg))
	case errMsg:
		m.err = msg.err
	}
	return m, nil
}

// observe records snap and extends the trends. Snapshots without a best
// value leave that trend alone.
func (m *Model) observe(snap Snapshot) {
	m.snap, m.err, m.updated = snap, nil, time.Now()
	m.records = m.records.push(float64(snap.Records))
	m.pool = m.pool.push(float64(snap.Pool))
	if snap.Best != nil {
		m.best = m.best.push(*snap.Best)
	}
}

// View implements tea.Model.
func (m Model) View() string {
	switch {
	case m.done:
		return ""
	case m.err != nil:
		return m.viewError()
	default:
		return m.viewSnapshot()
	}
}

func (m Model) footer() string {
	return styles.dim.Render("refresh every "+m.interval.String()+"  ") + m.help.View(m.keys)
}

func (m Model) viewError() string {
	lines := []string{
		styles.title.Render(title),
		"",
		styles.fail.Render("✗ Cannot read experiment"),
		styles.dim.Render("source: ") + styles.value.Render(m.source.Describe()),
		styles.dim.Render("error:  ") + styles.fail.Render(m.err.Error()),
		"",
		styles.dim.Render("Check that latentd is up (latentctl health) and the experiment"),
		styles.dim.Render("is open (latentctl experiments list)."),
		"",
		m.footer(),
	}
	return styles.frame.Render(strings.Join(lines, "\n"))
}

func (m Model) viewSnapshot() string {
	s := m.snap

	var b strings.Builder
	line := func(parts ...string) {
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, parts...))
		b.WriteByte('\n')
	}
	field := func(label, value string) string {
		return styles.label.Render("  "+label+": ") + styles.value.Render(value)
	}
	share := func(n, total int) string {
		r := ratio(n, total)
		return m.bar.ViewAs(r) + " " + styles.dim.Render(FormatCount(n, total)+" ("+FormatPercentage(r)+")")
	}

	seen := "never"
	if !m.updated.IsZero() {
		seen = m.updated.Format("15:04:05")
	}
	line(styles.title.Render(title))
	line(
		savedBadge(s.Dirty), "  ",
		styles.value.Render(orDefault(s.Name, "waiting for data")), "  ",
		styles.dim.Render(orDefault(s.ModelID, "no model")), "  ",
		styles.value.Render(FormatVersion(s.Version)), "  ",
		styles.dim.Render("updated "+seen+", open "+FormatDuration(int64(time.Since(m.opened).Seconds()))),
	)

	line(styles.section.Render("▌Registry"))
	line(field("Records", strconv.Itoa(s.Records)), styles.dim.Render(" in "+strconv.Itoa(s.Columns)+" columns"), "  ", m.records.chart())
	line(styles.label.Render("  Staged: "), share(s.Staged, s.Records))

	line(styles.section.Render("▌Query Pool"))
	line(field("Candidates", strconv.Itoa(s.Pool)), "  ", m.pool.chart())
	line(styles.label.Render("  Staged: "), share(s.PoolStaged, s.Pool))

	line(styles.section.Render("▌Optimization"))
	line(field("Method", s.Method), field("Budget", strconv.Itoa(s.Budget)))
	line(field("Target", orDefault(s.Target, "unset")), " ", targetBadge(s))
	line(field("Best", FormatValue(s.Best)), "  ", m.best.chart())

	b.WriteByte('\n')
	b.WriteString(m.footer())
	return styles.frame.Render(b.String())
}

func savedBadge(dirty bool) string {
	if dirty {
		return styles.warn.Render("● UNSAVED")
	}
	return styles.ok.Render("✓ SAVED")
}

// targetBadge flags an optimisation target that has nothing to optimise.
func targetBadge(s Snapshot) string {
	switch {
	case s.Target == "":
		return styles.warn.Render("[no target]")
	case s.Best == nil:
		return styles.warn.Render("[no data]")
	default:
		return styles.ok.Render("[✓]")
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
