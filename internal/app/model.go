package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/jwulff/callnotes/internal/recognizer"
	"github.com/jwulff/callnotes/internal/segment"
	"github.com/jwulff/callnotes/internal/session"
	"github.com/jwulff/callnotes/internal/ui"

	tea "github.com/charmbracelet/bubbletea"
)

// errGaveUp is shown when the controller stops a session because the source
// kept ending.
var errGaveUp = errors.New("recognizer keeps stopping; listening ended")

// Options configures the TUI.
type Options struct {
	Controller *session.Controller
	// TickInterval is the safety-net period. Defaults to one second.
	TickInterval time.Duration
	// Language is shown in the header.
	Language string
	// SourceHint is a short line telling the user where recognition comes
	// from, such as the bridge URL to open.
	SourceHint string
	// Copy writes text to the system clipboard. Defaults to
	// clipboard.WriteAll.
	Copy func(string) error
}

// Model is the root bubbletea model for the callnotes TUI. It owns the
// session controller: every controller call happens inside Update.
type Model struct {
	ctx      context.Context
	ctrl     *session.Controller
	interval time.Duration
	language string
	hint     string
	copyFn   func(string) error

	// gen counts listening sessions so stale safety ticks can be dropped.
	gen int

	// Snapshot of the controller, refreshed after every Update.
	listening bool
	liveText  string
	notes     []string
	elapsed   time.Duration

	sourceClosed bool

	// UI state
	width       int
	height      int
	notesScroll int

	// Errors
	errorMessage   string
	errorTransient bool

	notice string
}

// New creates a Model driving opts.Controller.
func New(opts Options) Model {
	interval := opts.TickInterval
	if interval <= 0 {
		interval = segment.DefaultTickInterval
	}
	copyFn := opts.Copy
	if copyFn == nil {
		copyFn = clipboard.WriteAll
	}
	m := Model{
		ctx:      context.Background(),
		ctrl:     opts.Controller,
		interval: interval,
		language: opts.Language,
		hint:     opts.SourceHint,
		copyFn:   copyFn,
	}
	m.sync()
	return m
}

// Init starts reading recognition events.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.ctrl.Events())
}

// waitForEvent reads the next event from the source.
func waitForEvent(events <-chan recognizer.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return SourceClosedMsg{}
		}
		return RecognitionMsg{Event: ev}
	}
}

// safetyTickCmd schedules the next silence check for session gen.
func safetyTickCmd(interval time.Duration, gen int) tea.Cmd {
	return tea.Tick(interval, func(time.Time) tea.Msg {
		return SafetyTickMsg{Gen: gen}
	})
}

// restartCmd schedules restart generation gen after delay.
func restartCmd(delay time.Duration, gen int) tea.Cmd {
	if delay <= 0 {
		return func() tea.Msg { return RestartMsg{Gen: gen} }
	}
	return tea.Tick(delay, func(time.Time) tea.Msg {
		return RestartMsg{Gen: gen}
	})
}

// copyNotesCmd writes notes, newest first, to the clipboard.
func copyNotesCmd(copyFn func(string) error, notes []string) tea.Cmd {
	text := strings.Join(notes, "\n")
	return func() tea.Msg {
		return CopiedMsg{Count: len(notes), Err: copyFn(text)}
	}
}

func clearNoticeCmd() tea.Cmd {
	return tea.Tick(3*time.Second, func(time.Time) tea.Msg {
		return ClearNoticeMsg{}
	})
}

// clearTransientErrorCmd fires after a delay to clear transient errors.
func clearTransientErrorCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(time.Time) tea.Msg {
		return ClearTransientErrorMsg{}
	})
}

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {

	case tea.KeyMsg:
		var model tea.Model
		model, cmd = m.handleKey(msg)
		m = model.(Model)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case RecognitionMsg:
		wasListening := m.ctrl.IsListening()
		next := []tea.Cmd{waitForEvent(m.ctrl.Events())}
		if delay, restart := m.ctrl.HandleEvent(m.ctx, msg.Event); restart {
			next = append(next, restartCmd(delay, m.ctrl.RestartGen()))
		}
		if wasListening && !m.ctrl.IsListening() {
			next = append(next, m.setError(errGaveUp, false))
		}
		cmd = tea.Batch(next...)

	case SourceClosedMsg:
		m.sourceClosed = true
		if m.ctrl.IsListening() {
			_ = m.ctrl.Stop()
		}
		cmd = m.setError(errors.New("recognizer closed"), false)

	case SafetyTickMsg:
		if msg.Gen == m.gen && m.ctrl.IsListening() {
			m.ctrl.Tick(m.ctx)
			cmd = safetyTickCmd(m.interval, m.gen)
		}

	case RestartMsg:
		if msg.Gen != m.ctrl.RestartGen() {
			break
		}
		wasListening := m.ctrl.IsListening()
		if delay, restart := m.ctrl.Restart(m.ctx); restart {
			cmd = restartCmd(delay, m.ctrl.RestartGen())
		}
		if wasListening && !m.ctrl.IsListening() {
			cmd = tea.Batch(cmd, m.setError(errGaveUp, false))
		}

	case ErrorMsg:
		cmd = m.setError(msg.Err, msg.Transient)

	case CopiedMsg:
		if msg.Err != nil {
			cmd = m.setError(fmt.Errorf("copy notes: %w", msg.Err), true)
			break
		}
		m.notice = fmt.Sprintf("copied %d notes", msg.Count)
		cmd = clearNoticeCmd()

	case ClearNoticeMsg:
		m.notice = ""

	case ClearTransientErrorMsg:
		if m.errorTransient {
			m.errorMessage = ""
			m.errorTransient = false
		}
	}

	m.sync()
	return m, cmd
}

// sync copies the controller's read side into the model so View never
// touches the controller or the note store.
func (m *Model) sync() {
	before := len(m.notes)
	m.listening = m.ctrl.IsListening()
	m.liveText = m.ctrl.LiveText()
	m.notes = m.ctrl.Notes()
	m.elapsed = m.ctrl.Elapsed()

	// Keep a scrolled history anchored when new notes land on top.
	if m.notesScroll > 0 && len(m.notes) > before {
		m.notesScroll += len(m.notes) - before
	}
	m.clampScroll()
}

func (m *Model) setError(err error, transient bool) tea.Cmd {
	m.errorMessage = err.Error()
	m.errorTransient = transient
	if transient {
		return clearTransientErrorCmd()
	}
	return nil
}

// toggle starts or stops listening. Starting opens a new tick generation.
func (m *Model) toggle() tea.Cmd {
	if m.ctrl.IsListening() {
		if err := m.ctrl.Stop(); err != nil {
			return m.setError(err, true)
		}
		return nil
	}
	if m.sourceClosed {
		return m.setError(errors.New("recognizer closed"), false)
	}
	if err := m.ctrl.Start(m.ctx); err != nil {
		return m.setError(err, true)
	}
	if !m.errorTransient {
		m.errorMessage = ""
	}
	m.gen++
	return safetyTickCmd(m.interval, m.gen)
}

// handleKey processes key presses.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case KeyQuit, KeyQuitUpper, KeyCtrlC:
		if m.ctrl.IsListening() {
			_ = m.ctrl.Stop()
		}
		return m, tea.Quit

	case KeySpace:
		cmd := m.toggle()
		return m, cmd

	case KeyUp, KeyK:
		if m.notesScroll > 0 {
			m.notesScroll--
		}
		return m, nil

	case KeyDown, KeyJ:
		m.notesScroll++
		m.clampScroll()
		return m, nil

	case KeyHome:
		m.notesScroll = 0
		return m, nil

	case KeyCopy:
		if len(m.notes) == 0 {
			return m, nil
		}
		return m, copyNotesCmd(m.copyFn, m.notes)
	}

	return m, nil
}

func (m *Model) clampScroll() {
	maxScroll := max(0, len(m.notes)-1)
	if m.notesScroll > maxScroll {
		m.notesScroll = maxScroll
	}
	if m.notesScroll < 0 {
		m.notesScroll = 0
	}
}

func (m Model) contentLines() int {
	if m.height == 0 {
		return 20
	}
	// Reserve: header(1) + status(1) + divider(1) + divider(1) + error(1) + footer(1) + padding
	reserved := 7
	return max(5, m.height-reserved)
}

func (m Model) livePanelWidth() int {
	if m.width == 0 {
		return 30
	}
	return max(20, m.width*40/100)
}

func (m Model) historyPanelWidth() int {
	if m.width == 0 {
		return 60
	}
	return max(30, m.width-m.livePanelWidth()-3)
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var sections []string

	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderStatusBar())
	sections = append(sections, ui.DividerStyle.Render(strings.Repeat("─", m.width)))
	sections = append(sections, m.renderMainContent())
	sections = append(sections, ui.DividerStyle.Render(strings.Repeat("─", m.width)))

	if m.errorMessage != "" {
		sections = append(sections, m.renderErrorBar())
	}

	sections = append(sections, m.renderFooter())

	return strings.Join(sections, "\n")
}

func (m Model) renderHeader() string {
	title := ui.TitleStyle.Render("CALLNOTES")
	if m.language != "" {
		title += ui.DimStyle.Render(" · " + m.language)
	}
	return title
}

func (m Model) renderStatusBar() string {
	var dot string
	if m.listening {
		dot = ui.ListeningDotStyle.Render("● LISTENING") + " " +
			ui.TimestampStyle.Render(segment.Stamp(m.elapsed))
	} else {
		dot = ui.IdleDotStyle.Render("○ IDLE")
	}

	if m.notice != "" {
		dot += "  " + ui.NoticeStyle.Render(m.notice)
	}
	if m.hint != "" {
		dot += "  " + ui.DimStyle.Render(truncateToWidth(m.hint, max(10, m.width-lipgloss.Width(dot)-2)))
	}
	return dot
}

func (m Model) renderMainContent() string {
	liveW := m.livePanelWidth()
	historyW := m.historyPanelWidth()
	contentH := m.contentLines()

	livePanel := m.renderLivePanel(liveW, contentH)
	historyPanel := m.renderHistoryPanel(historyW, contentH)

	divider := ui.DividerStyle.Render("│")

	liveLines := strings.Split(livePanel, "\n")
	historyLines := strings.Split(historyPanel, "\n")

	for len(liveLines) < contentH {
		liveLines = append(liveLines, strings.Repeat(" ", liveW))
	}
	for len(historyLines) < contentH {
		historyLines = append(historyLines, "")
	}

	var rows []string
	for i := 0; i < contentH; i++ {
		rows = append(rows, liveLines[i]+divider+historyLines[i])
	}

	return strings.Join(rows, "\n")
}

func (m Model) renderLivePanel(width, height int) string {
	var lines []string
	lines = append(lines, padRight(ui.PanelTitleActiveStyle.Render("LATEST CALL"), width))

	switch {
	case m.liveText != "":
		text := m.liveText
		if m.listening {
			text += "▌"
		}
		// Show the tail when the live text outgrows the panel.
		wrapped := wrapText(text, max(10, width-2))
		if avail := height - 1; len(wrapped) > avail {
			wrapped = wrapped[len(wrapped)-avail:]
		}
		for _, wl := range wrapped {
			lines = append(lines, " "+ui.PartialTextStyle.Render(wl))
		}
	case m.listening:
		lines = append(lines, ui.DimStyle.Render("  Listening..."))
	default:
		lines = append(lines, "")
		lines = append(lines, ui.DimStyle.Render("  Press Space to start"))
	}

	for len(lines) < height {
		lines = append(lines, strings.Repeat(" ", width))
	}
	if len(lines) > height {
		lines = lines[:height]
	}
	for i, l := range lines {
		lines[i] = padRight(l, width)
	}

	return strings.Join(lines, "\n")
}

func (m Model) renderHistoryPanel(width, height int) string {
	badge := ""
	if m.notesScroll > 0 {
		badge = ui.ScrollBadgeStyle.Render(fmt.Sprintf(" +%d", m.notesScroll))
	}
	header := ui.PanelTitleStyle.Render(fmt.Sprintf("CALL HISTORY (%d)", len(m.notes))) + badge

	var lines []string
	lines = append(lines, header)

	if len(m.notes) == 0 {
		lines = append(lines, ui.DimStyle.Render("  No notes yet..."))
		lines = append(lines, ui.DimStyle.Render("  Notes appear after a pause in speech"))
	} else {
		// Notes look like "[MM:SS] text"; continuation lines align under the text.
		const prefixWidth = 8
		textWidth := max(10, width-prefixWidth-2)
		indent := strings.Repeat(" ", prefixWidth)

		for _, n := range m.notes[m.notesScroll:] {
			stamp, text, ok := strings.Cut(n, " ")
			if !ok || !strings.HasPrefix(stamp, "[") {
				stamp, text = "", n
			}
			wrapped := wrapText(text, textWidth)
			first := wrapped[0]
			if stamp != "" {
				first = ui.TimestampStyle.Render(stamp) + " " + first
			}
			lines = append(lines, "  "+first)
			for _, wl := range wrapped[1:] {
				lines = append(lines, "  "+indent+wl)
			}
			if len(lines) >= height {
				break
			}
		}
	}

	for len(lines) < height {
		lines = append(lines, "")
	}
	if len(lines) > height {
		lines = lines[:height]
	}

	return strings.Join(lines, "\n")
}

func (m Model) renderErrorBar() string {
	return ui.ErrorStyle.Render("Error: ") + ui.ErrorTextStyle.Render(m.errorMessage)
}

func (m Model) renderFooter() string {
	var parts []string

	if m.listening {
		parts = append(parts, ui.FooterKeyStyle.Render("Space")+ui.FooterDescStyle.Render(" Stop"))
	} else {
		parts = append(parts, ui.FooterKeyStyle.Render("Space")+ui.FooterDescStyle.Render(" Listen"))
	}
	parts = append(parts, ui.FooterKeyStyle.Render("↑↓")+ui.FooterDescStyle.Render(" Scroll"))
	parts = append(parts, ui.FooterKeyStyle.Render("g")+ui.FooterDescStyle.Render(" Newest"))
	parts = append(parts, ui.FooterKeyStyle.Render("c")+ui.FooterDescStyle.Render(" Copy"))
	parts = append(parts, ui.FooterKeyStyle.Render("q")+ui.FooterDescStyle.Render(" Quit"))

	return strings.Join(parts, "  ")
}

// Helpers

func padRight(s string, width int) string {
	// Get visible length (ignoring ANSI codes)
	visible := lipgloss.Width(s)
	if visible >= width {
		return s
	}
	return s + strings.Repeat(" ", width-visible)
}

func truncateToWidth(s string, width int) string {
	if lipgloss.Width(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}

// wrapText wraps on spaces and breaks words wider than width by display
// cell, so unspaced Japanese text still wraps.
func wrapText(text string, width int) []string {
	if width <= 0 {
		return []string{text}
	}

	var lines []string
	for _, paragraph := range strings.Split(text, "\n") {
		var current string
		for _, word := range strings.Fields(paragraph) {
			if current != "" {
				if runewidth.StringWidth(current)+1+runewidth.StringWidth(word) <= width {
					current += " " + word
					continue
				}
				lines = append(lines, current)
			}
			chunks := chopWidth(word, width)
			lines = append(lines, chunks[:len(chunks)-1]...)
			current = chunks[len(chunks)-1]
		}
		lines = append(lines, current)
	}
	if len(lines) == 0 {
		return []string{""}
	}
	return lines
}

// chopWidth splits s into pieces no wider than width cells.
func chopWidth(s string, width int) []string {
	var out []string
	var b strings.Builder
	w := 0
	for _, r := range s {
		rw := runewidth.RuneWidth(r)
		if w > 0 && w+rw > width {
			out = append(out, b.String())
			b.Reset()
			w = 0
		}
		b.WriteRune(r)
		w += rw
	}
	return append(out, b.String())
}
