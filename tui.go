package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"palchat/internal/citation"
	"palchat/internal/mention"
	"palchat/internal/models"
	"palchat/internal/session"
)

// Events raised by the controller and the citation store.
type (
	messageMsg   models.Message
	stateMsg     session.State
	sourcesMsg   citation.Snapshot
	statusMsg    struct{ ev *models.StatusEvent }
	interruptMsg struct{ in *models.Interrupt }
	failureMsg   struct{ err error }
)

// conversation is the part of *session.Controller the chat screen drives.
type conversation interface {
	ThreadID() string
	Submit(ctx context.Context, d session.Draft) error
	Resume(ctx context.Context, rv models.ResumeValue) error
	CancelInterrupt(ctx context.Context) error
}

type chatTheme struct {
	header      lipgloss.Style
	panel       lipgloss.Style
	panelTitle  lipgloss.Style
	status      lipgloss.Style
	errorStatus lipgloss.Style
	helpText    lipgloss.Style
}

func newChatTheme() chatTheme {
	return chatTheme{
		header:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7AA2F7")),
		panel:       lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#3B4261")).Padding(0, 1),
		panelTitle:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#BB9AF7")),
		status:      lipgloss.NewStyle().Foreground(lipgloss.Color("#9ECE6A")),
		errorStatus: lipgloss.NewStyle().Foreground(lipgloss.Color("#F7768E")),
		helpText:    lipgloss.NewStyle().Foreground(lipgloss.Color("#565F89")),
	}
}

type chatModel struct {
	ctx     context.Context
	conv    conversation
	sources *citation.Store
	// index runs after a submit is accepted.
	index func(text string)

	transcript *bytes.Buffer
	out        *printer
	snap       citation.Snapshot
	pending    *models.Interrupt
	streaming  bool
	statusLine string
	failed     bool

	input    textinput.Model
	timeline viewport.Model
	sidebar  viewport.Model
	spinner  spinner.Model
	theme    chatTheme

	width  int
	height int
}

func newChatModel(ctx context.Context, conv conversation, sources *citation.Store, restored []models.Message, pending *models.Interrupt) chatModel {
	input := textinput.New()
	input.Prompt = "> "
	input.CharLimit = 4000
	input.Placeholder = "type a message, tag with @doc:<id> @set:<id> @web, /help for commands"
	input.Focus()

	theme := newChatTheme()
	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = theme.status

	var transcript bytes.Buffer
	m := chatModel{
		ctx:        ctx,
		conv:       conv,
		sources:    sources,
		transcript: &transcript,
		out:        newPrinter(&transcript),
		input:      input,
		timeline:   viewport.New(0, 0),
		sidebar:    viewport.New(0, 0),
		spinner:    sp,
		theme:      theme,
		width:      100,
		height:     30,
	}
	for _, msg := range restored {
		m.out.message(msg)
	}
	if pending != nil {
		m.setPending(pending)
	}
	m.resize()
	return m
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, textinput.Blink)
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			line := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if line == "" {
				return m, nil
			}
			cmd := m.handleLine(line)
			m.resize()
			return m, cmd
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.timeline, cmd = m.timeline.Update(msg)
			return m, cmd
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	case messageMsg:
		m.out.message(models.Message(msg))
		m.failed = false
	case stateMsg:
		m.streaming = session.State(msg) == session.Streaming
		if !m.streaming {
			m.statusLine = ""
		}
	case statusMsg:
		m.statusLine = statusText(msg.ev)
	case interruptMsg:
		m.setPending(msg.in)
	case failureMsg:
		m.out.failure(msg.err)
		m.failed = true
	case sourcesMsg:
		m.snap = citation.Snapshot(msg)
		m.resize()
	}
	m.refresh()
	return m, nil
}

// handleLine runs a slash command or submits the line as a draft. Controller
// and citation store calls run as commands: their callbacks re-enter the
// program.
func (m *chatModel) handleLine(line string) tea.Cmd {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return tea.Quit
	case "/help":
		fmt.Fprintln(m.transcript, chatHelp)
		return nil
	case "/sources":
		m.snap = citation.Snapshot{Active: m.sources.Active(), Highlighted: m.sources.Highlighted(), Expanded: true}
		return nil
	case "/hide":
		return m.withSources(func(s *citation.Store) { s.Collapse() })
	case "/all":
		last := m.out.lastCitations()
		return m.withSources(func(s *citation.Store) {
			s.SetCitations(last)
			s.ClearHighlight()
		})
	case "/cite":
		g, ok := m.out.group(arg)
		if !ok {
			fmt.Fprintf(m.transcript, "  no such citation group %q\n", arg)
			return nil
		}
		return m.withSources(func(s *citation.Store) { s.SelectGroup(g.ID, g.Citations) })
	case "/cancel":
		conv := m.conv
		return m.call(conv.CancelInterrupt)
	case "/choose":
		conv, value := m.conv, arg
		return m.call(func(ctx context.Context) error {
			return conv.Resume(ctx, models.ResumeValue{Value: &value})
		})
	}

	doc, err := mention.ParseInline(line)
	if err != nil {
		m.out.failure(err)
		return nil
	}
	draft, err := session.NewDraft(doc)
	if err != nil {
		m.out.failure(err)
		return nil
	}
	conv, index := m.conv, m.index
	return m.call(func(ctx context.Context) error {
		if err := conv.Submit(ctx, draft); err != nil {
			return err
		}
		if index != nil {
			index(draft.Payload.Text)
		}
		return nil
	})
}

func (m *chatModel) call(fn func(context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		if err := fn(ctx); err != nil {
			return failureMsg{err}
		}
		return nil
	}
}

func (m *chatModel) withSources(fn func(*citation.Store)) tea.Cmd {
	store := m.sources
	return func() tea.Msg {
		fn(store)
		return nil
	}
}

func (m *chatModel) setPending(in *models.Interrupt) {
	m.pending = in
	if in == nil {
		m.input.Placeholder = "type a message, /help for commands"
		return
	}
	m.out.interrupt(in)
	if in.Kind == models.KindFreeText {
		m.input.Placeholder = "reply, tag a document, or /cancel"
		return
	}
	m.input.Placeholder = "/choose <option> or /cancel"
}

func (m chatModel) sourcesVisible() bool {
	return m.snap.Expanded && len(m.snap.Active) > 0
}

func (m *chatModel) resize() {
	width := max(40, m.width-2)
	height := max(6, m.height-7)
	timelineWidth := width
	if m.sourcesVisible() {
		sidebarWidth := max(28, width/3)
		timelineWidth = width - sidebarWidth - 1
		m.sidebar.Width = max(20, sidebarWidth-4)
		m.sidebar.Height = max(3, height-3)
	}
	m.timeline.Width = max(20, timelineWidth-4)
	m.timeline.Height = max(3, height-3)
	m.input.Width = max(20, width-6)
	m.refresh()
}

func (m *chatModel) refresh() {
	wrap := lipgloss.NewStyle().Width(m.timeline.Width)
	m.timeline.SetContent(wrap.Render(strings.TrimRight(m.transcript.String(), "\n")))
	m.timeline.GotoBottom()
	m.sidebar.SetContent(renderSources(m.snap))
}

func (m chatModel) View() string {
	header := m.theme.header.Render("palchat  thread " + m.conv.ThreadID())

	width := max(40, m.width-2)
	height := max(6, m.height-7)
	content := m.theme.panel.Width(width).Height(height).Render(m.timeline.View())
	if m.sourcesVisible() {
		sidebarWidth := max(28, width/3)
		title := "Sources"
		if m.snap.Highlighted != "" {
			title = "Sources for " + m.snap.Highlighted
		}
		left := m.theme.panel.Width(width - sidebarWidth - 1).Height(height).Render(m.timeline.View())
		right := m.theme.panel.Width(sidebarWidth).Height(height).Render(
			m.theme.panelTitle.Render(title) + "\n" + m.sidebar.View(),
		)
		content = lipgloss.JoinHorizontal(lipgloss.Top, left, right)
	}

	status := m.theme.helpText.Render("idle")
	switch {
	case m.streaming:
		line := m.statusLine
		if line == "" {
			line = "waiting for the agent"
		}
		status = m.spinner.View() + " " + m.theme.status.Render(line)
	case m.failed:
		status = m.theme.errorStatus.Render("last request failed")
	case m.pending != nil:
		status = m.theme.status.Render("awaiting your choice")
	}
	hints := m.theme.helpText.Render("Enter send  PgUp/PgDn scroll  /help commands  Esc quit")

	return lipgloss.JoinVertical(lipgloss.Left, header, content, m.input.View(), status, hints)
}

func statusText(ev *models.StatusEvent) string {
	if ev == nil {
		return ""
	}
	if n := len(ev.DocsFound); n > 0 {
		return fmt.Sprintf("%s (%d documents)", ev.Message, n)
	}
	return ev.Message
}

func renderSources(snap citation.Snapshot) string {
	if !snap.Expanded || len(snap.Active) == 0 {
		return ""
	}
	var b strings.Builder
	for _, c := range snap.Active {
		fmt.Fprintf(&b, "[%d] %s\n", c.ID, describeCitation(c))
	}
	return strings.TrimRight(b.String(), "\n")
}
