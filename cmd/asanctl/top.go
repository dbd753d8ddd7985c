package main

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	core "github.com/joshuapare/asankit/asan"
	"github.com/joshuapare/asankit/asan/alloc"
	"github.com/joshuapare/asankit/asan/source"
	"github.com/joshuapare/asankit/pkg/asan"
)

var (
	topInterval time.Duration
	topBatch    int
	topMaxSize  uint64
)

func init() {
	cmd := newTopCmd()
	cmd.Flags().DurationVar(&topInterval, "interval", 200*time.Millisecond, "Refresh interval")
	cmd.Flags().IntVar(&topBatch, "batch", 64, "Allocator operations per refresh")
	cmd.Flags().Uint64Var(&topMaxSize, "max-size", 256, "Largest object size")
	rootCmd.AddCommand(cmd)
}

func newTopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "top",
		Short: "Watch the guarded heap under a live workload",
		Long: `The top command runs a random allocate/free workload against the
guarded heap and shows allocator, quarantine and arena statistics as they
change.

Keys:
  space   pause or resume the workload
  + / -   double or halve the operations per refresh
  q       quit

Example:
  asanctl top
  asanctl top --batch 1024 --quarantine-bytes 65536`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTop()
		},
	}
}

func runTop() error {
	if topBatch <= 0 || topMaxSize == 0 || topInterval <= 0 {
		return fmt.Errorf("--batch, --max-size and --interval must be positive")
	}
	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	m := newTopModel(rt, topBatch, topMaxSize, topInterval)
	_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

// ============================================================================
// Model
// ============================================================================

type topTickMsg time.Time

type topKeyMap struct {
	Pause  key.Binding
	Faster key.Binding
	Slower key.Binding
	Quit   key.Binding
}

func defaultTopKeys() topKeyMap {
	return topKeyMap{
		Pause: key.NewBinding(
			key.WithKeys(" "),
			key.WithHelp("space", "pause"),
		),
		Faster: key.NewBinding(
			key.WithKeys("+", "="),
			key.WithHelp("+", "faster"),
		),
		Slower: key.NewBinding(
			key.WithKeys("-", "_"),
			key.WithHelp("-", "slower"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c", "esc"),
			key.WithHelp("q", "quit"),
		),
	}
}

// topModel drives the workload one batch per tick and renders the counters
// captured after each batch.
type topModel struct {
	rt       *asan.Runtime
	rng      *rand.Rand
	keys     topKeyMap
	interval time.Duration
	batch    int
	maxSize  uint64

	live   []core.Addr
	ticks  int
	paused bool
	err    error

	stats alloc.Stats
	arena source.ArenaStats
	width int
}

func newTopModel(rt *asan.Runtime, batch int, maxSize uint64, interval time.Duration) topModel {
	return topModel{
		rt:       rt,
		rng:      rand.New(rand.NewPCG(1, 2)),
		keys:     defaultTopKeys(),
		interval: interval,
		batch:    batch,
		maxSize:  maxSize,
		stats:    rt.Stats(),
		arena:    rt.ArenaStats(),
	}
}

func (m topModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return topTickMsg(t)
	})
}

func (m topModel) Init() tea.Cmd {
	return m.tick()
}

func (m topModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Pause):
			m.paused = !m.paused
		case key.Matches(msg, m.keys.Faster):
			m.batch *= 2
		case key.Matches(msg, m.keys.Slower):
			m.batch = max(1, m.batch/2)
		}
		return m, nil

	case topTickMsg:
		if !m.paused && m.err == nil {
			m.step()
		}
		return m, m.tick()
	}
	return m, nil
}

// step runs one batch: each operation either allocates a new object or frees
// a random live one, keeping the live set bounded.
func (m *topModel) step() {
	g := m.rt.Guarded()
	for range m.batch {
		if len(m.live) > 0 && (len(m.live) >= 4096 || m.rng.IntN(2) == 0) {
			i := m.rng.IntN(len(m.live))
			p := m.live[i]
			m.live[i] = m.live[len(m.live)-1]
			m.live = m.live[:len(m.live)-1]
			if err := g.Deallocate(p); err != nil {
				m.err = err
				break
			}
			continue
		}
		p, err := g.Allocate(uintptr(m.rng.Uint64N(m.maxSize)+1), 0)
		if err != nil {
			m.err = err
			break
		}
		m.live = append(m.live, p)
	}
	m.ticks++
	m.stats = m.rt.Stats()
	m.arena = m.rt.ArenaStats()
}

// ============================================================================
// View
// ============================================================================

var (
	topTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	topPaneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#383838")).
			Padding(0, 1)

	topLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666")).
			Width(14)

	topValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00D7FF"))

	topAlertStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF4B4B")).
			Bold(true)

	topHelpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

func (m topModel) View() string {
	p := message.NewPrinter(language.English)
	row := func(label, value string) string {
		return topLabelStyle.Render(label) + topValueStyle.Render(value)
	}
	s, a := m.stats, m.arena

	heap := topPaneStyle.Render(strings.Join([]string{
		row("allocations", p.Sprintf("%d", s.Allocations)),
		row("frees", p.Sprintf("%d", s.Deallocations)),
		row("evictions", p.Sprintf("%d", s.Evictions)),
		row("failures", p.Sprintf("%d", s.Failures)),
		row("violations", p.Sprintf("%d", s.Violations)),
		row("live", p.Sprintf("%d (%d B)", s.Live, s.LiveBytes)),
		row("quarantined", p.Sprintf("%d (%d B)", s.Quarantined, s.QuarantinedBytes)),
	}, "\n"))

	arena := topPaneStyle.Render(strings.Join([]string{
		row("capacity", p.Sprintf("%d B", a.Capacity)),
		row("high water", p.Sprintf("%d B", a.HighWater)),
		row("in use", p.Sprintf("%d B", a.InUse)),
		row("free", p.Sprintf("%d B", a.Free)),
		row("blocks", p.Sprintf("%d", a.Live)),
		row("reused", p.Sprintf("%d", a.Reused)),
	}, "\n"))

	state := "running"
	if m.paused {
		state = "paused"
	}
	title := topTitleStyle.Render(p.Sprintf("asanctl top  %s  tick %d  batch %d", state, m.ticks, m.batch))

	lines := []string{title, lipgloss.JoinHorizontal(lipgloss.Top, heap, " ", arena)}
	if m.err != nil {
		lines = append(lines, topAlertStyle.Render("stopped: "+m.err.Error()))
	}
	lines = append(lines, topHelpStyle.Render(strings.Join([]string{
		m.keys.Pause.Help().Key + " " + m.keys.Pause.Help().Desc,
		m.keys.Faster.Help().Key + " " + m.keys.Faster.Help().Desc,
		m.keys.Slower.Help().Key + " " + m.keys.Slower.Help().Desc,
		m.keys.Quit.Help().Key + " " + m.keys.Quit.Help().Desc,
	}, "  •  ")))
	return strings.Join(lines, "\n")
}
