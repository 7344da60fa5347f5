// Package viewer is a read-only terminal pager for the profile log.
package viewer

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"golang.org/x/term"
	"golang.org/x/text/unicode/norm"
)

// Options configures the viewer.
type Options struct {
	Follow   bool          // re-read the file periodically
	Interval time.Duration // follow interval, default 1s
	Width    int           // initial size before the terminal reports one
	Height   int
}

// Model is the bubbletea model behind Run.
type Model struct {
	path     string
	read     func(string) ([]byte, error)
	follow   bool
	interval time.Duration

	lines    []string
	display  []string
	truncate bool
	loaded   bool
	err      error

	vp     viewport.Model
	width  int
	height int
}

type loadedMsg struct {
	data []byte
	err  error
}

type tickMsg time.Time

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// New returns a viewer model for path. Lines are truncated to the screen
// width until 't' switches to wrapping.
func New(path string, opts Options) *Model {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Width <= 0 {
		opts.Width = 80
	}
	if opts.Height <= 0 {
		opts.Height = 24
	}
	m := &Model{
		path:     path,
		read:     os.ReadFile,
		follow:   opts.Follow,
		interval: opts.Interval,
		truncate: true,
	}
	m.resize(opts.Width, opts.Height)
	return m
}

// Run opens the viewer full-screen and blocks until the user quits.
func Run(path string, opts Options) error {
	if fd := int(os.Stdout.Fd()); term.IsTerminal(fd) {
		if w, h, err := term.GetSize(fd); err == nil {
			opts.Width, opts.Height = w, h
		}
	}
	_, err := tea.NewProgram(New(path, opts), tea.WithAltScreen()).Run()
	return err
}

func (m *Model) Init() tea.Cmd {
	if m.follow {
		return tea.Batch(m.load(), m.tick())
	}
	return m.load()
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil
	case loadedMsg:
		m.applyLoad(msg)
		return m, nil
	case tickMsg:
		return m, tea.Batch(m.load(), m.tick())
	case tea.KeyMsg:
		return m, m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "q", "esc", "ctrl+c":
		return tea.Quit
	case "j", "down":
		m.vp.LineDown(1)
	case "k", "up":
		m.vp.LineUp(1)
	case "f", "pgdown", " ":
		m.vp.ViewDown()
	case "b", "pgup":
		m.vp.ViewUp()
	case "g", "home":
		m.vp.GotoTop()
	case "G", "end":
		m.vp.GotoBottom()
	case "t":
		m.truncate = !m.truncate
		m.refresh()
	case "r":
		return m.load()
	}
	return nil
}

func (m *Model) View() string {
	mode := "truncate"
	if !m.truncate {
		mode = "wrap"
	}
	header := fmt.Sprintf("%s (%s)", m.path, mode)
	if m.follow {
		header += " following"
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(runewidth.Truncate(header, m.width, "…")))
	b.WriteString("\n")
	b.WriteString(m.vp.View())
	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(errorStyle.Render(runewidth.Truncate(m.err.Error(), m.width, "…")))
	} else {
		footer := fmt.Sprintf("%3.f%%  j/k scroll  g/G top/bottom  t wrap  r reload  q quit", m.vp.ScrollPercent()*100)
		b.WriteString(footerStyle.Render(runewidth.Truncate(footer, m.width, "…")))
	}
	return b.String()
}

func (m *Model) load() tea.Cmd {
	path, read := m.path, m.read
	return func() tea.Msg {
		data, err := read(path)
		return loadedMsg{data: data, err: err}
	}
}

func (m *Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *Model) applyLoad(msg loadedMsg) {
	if msg.err != nil {
		m.err = msg.err
		return
	}
	m.err = nil
	stick := m.vp.AtBottom() && (m.loaded || m.follow)
	text := strings.TrimRight(norm.NFC.String(string(msg.data)), "\n")
	if text == "" {
		m.lines = nil
	} else {
		m.lines = strings.Split(text, "\n")
	}
	m.loaded = true
	m.refresh()
	if stick {
		m.vp.GotoBottom()
	}
}

func (m *Model) resize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	m.width, m.height = width, height
	body := height - 2
	if body < 1 {
		body = 1
	}
	if m.vp.Width == 0 {
		m.vp = viewport.New(width, body)
	} else {
		m.vp.Width, m.vp.Height = width, body
	}
	m.refresh()
}

func (m *Model) refresh() {
	m.display = m.display[:0]
	for _, line := range m.lines {
		if m.truncate {
			m.display = append(m.display, runewidth.Truncate(line, m.width, "…"))
		} else {
			m.display = append(m.display, wrap(line, m.width)...)
		}
	}
	m.vp.SetContent(strings.Join(m.display, "\n"))
}

// wrap splits line into pieces no wider than width display cells.
func wrap(line string, width int) []string {
	if width <= 0 || runewidth.StringWidth(line) <= width {
		return []string{line}
	}
	var (
		out []string
		cur strings.Builder
		w   int
	)
	for _, r := range line {
		rw := runewidth.RuneWidth(r)
		if w+rw > width && w > 0 {
			out = append(out, cur.String())
			cur.Reset()
			w = 0
		}
		cur.WriteRune(r)
		w += rw
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}
