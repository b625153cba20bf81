package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/textinput"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/projecthub/hubchat/internal/chat"
	"github.com/projecthub/hubchat/internal/client"
	"github.com/projecthub/hubchat/internal/composer"
	"github.com/projecthub/hubchat/internal/format"
	"github.com/projecthub/hubchat/internal/history"
	"github.com/projecthub/hubchat/internal/models"
	"github.com/projecthub/hubchat/internal/realtime"
)

// Relative timestamps are re-rendered on this interval.
const refreshInterval = time.Minute

const sidebarWidth = 32

// Theme holds the color scheme for the chat view.
type Theme struct {
	Status   lipgloss.Color
	Success  lipgloss.Color
	Error    lipgloss.Color
	Hint     lipgloss.Color
	Selected lipgloss.Color
	Unread   lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:   lipgloss.Color("#5FAFD7"), // light blue
	Success:  lipgloss.Color("#00D787"), // green
	Error:    lipgloss.Color("#FF005F"), // red
	Hint:     lipgloss.Color("#6C6C6C"), // dim gray
	Selected: lipgloss.Color("#3A3A3A"), // dark gray
	Unread:   lipgloss.Color("#FFAF00"), // amber
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) successStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

func (t Theme) selectedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Background(t.Selected).Bold(true)
}

func (t Theme) unreadStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Unread).Bold(true)
}

func (t Theme) connectionStyle(s realtime.State) lipgloss.Style {
	switch s {
	case realtime.StateConnected:
		return t.successStyle()
	case realtime.StateDisconnected:
		return t.errorStyle()
	default:
		return t.statusStyle()
	}
}

type focus int

const (
	focusSidebar focus = iota
	focusComposer
)

// tickMsg triggers a re-render of relative timestamps.
type tickMsg time.Time

// viewChangedMsg signals that the chat view state changed.
type viewChangedMsg struct{}

// opDoneMsg carries the outcome of a background operation.
type opDoneMsg struct {
	action string
	err    error
}

// chatModel is the bubbletea model for the live conversation view.
type chatModel struct {
	ctx    context.Context
	view   *chat.View
	input  textinput.Model
	theme  Theme
	focus  focus
	cursor int
	width  int
	height int
	notice string
	err    error
	snap   chat.Snapshot
}

func newChatModel(ctx context.Context, v *chat.View) chatModel {
	input := textinput.New()
	input.Placeholder = "Message (/attach <path>, /clear)"
	input.Prompt = "> "
	input.CharLimit = 4000

	return chatModel{
		ctx:   ctx,
		view:  v,
		input: input,
		theme: defaultTheme,
		snap:  v.Snapshot(),
	}
}

// Init returns the initial command.
func (m chatModel) Init() tea.Cmd {
	return tickCmd()
}

// Update handles messages and returns the updated model.
func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.SetWidth(max(m.width-sidebarWidth-8, 10))
		return m, nil

	case tickMsg:
		return m, tickCmd()

	case viewChangedMsg:
		m.snap = m.view.Snapshot()
		m.clampCursor()
		return m, nil

	case opDoneMsg:
		m.snap = m.view.Snapshot()
		m.clampCursor()
		if msg.err != nil {
			m.err = fmt.Errorf("%s: %w", msg.action, msg.err)
			return m, nil
		}
		m.err = nil
		if msg.action == "send" {
			m.input.Reset()
		}
		return m, nil

	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "tab":
			return m.toggleFocus()
		}
		if m.focus == focusSidebar {
			return m.updateSidebar(msg)
		}
		return m.updateComposer(msg)
	}

	if m.focus == focusComposer {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m chatModel) toggleFocus() (tea.Model, tea.Cmd) {
	if m.focus == focusComposer {
		m.focus = focusSidebar
		m.input.Blur()
		return m, nil
	}
	if m.snap.Active.IsZero() {
		return m, nil
	}
	m.focus = focusComposer
	cmd := m.input.Focus()
	return m, cmd
}

func (m chatModel) updateSidebar(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.snap.Conversations)-1 {
			m.cursor++
		}
	case "r":
		return m, m.run("refresh", m.view.Refresh)
	case "enter":
		if m.cursor >= len(m.snap.Conversations) {
			return m, nil
		}
		id := m.snap.Conversations[m.cursor].ID
		m.focus = focusComposer
		m.input.SetValue(m.view.DraftText(id))
		focusCmd := m.input.Focus()
		return m, tea.Batch(focusCmd, m.run("open", func(ctx context.Context) error {
			return m.view.Open(ctx, id)
		}))
	}
	return m, nil
}

func (m chatModel) updateComposer(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.focus = focusSidebar
		m.input.Blur()
		return m, nil
	case "enter":
		return m.submit()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.view.SetText(m.input.Value())
	return m, cmd
}

func (m chatModel) submit() (tea.Model, tea.Cmd) {
	value := strings.TrimSpace(m.input.Value())
	switch {
	case strings.HasPrefix(value, "/attach "):
		path := strings.TrimSpace(strings.TrimPrefix(value, "/attach "))
		upload, err := client.FileUpload(path)
		if err == nil {
			err = m.view.Attach(upload)
		}
		if err != nil {
			m.err = err
			return m, nil
		}
		m.err = nil
		m.notice = "attached " + upload.Name
		m.input.Reset()
		m.view.SetText("")
		return m, nil
	case value == "/clear":
		m.view.ClearAttachments()
		m.notice = "attachments cleared"
		m.input.Reset()
		m.view.SetText("")
		return m, nil
	}

	m.view.SetText(m.input.Value())
	m.notice = ""
	return m, m.run("send", func(ctx context.Context) error {
		_, err := m.view.Send(ctx)
		return err
	})
}

// run executes fn off the update loop.
func (m chatModel) run(action string, fn func(context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return opDoneMsg{action: action, err: fn(ctx)}
	}
}

func (m *chatModel) clampCursor() {
	if m.cursor >= len(m.snap.Conversations) {
		m.cursor = max(len(m.snap.Conversations)-1, 0)
	}
}

// View renders the chat display.
func (m chatModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m chatModel) renderContent() string {
	height := m.height
	if height <= 0 {
		height = 24
	}
	bodyHeight := max(height-3, 5)

	sidebar := lipgloss.NewStyle().
		Width(sidebarWidth).
		Height(bodyHeight).
		Render(m.renderSidebar(bodyHeight))
	pane := lipgloss.NewStyle().
		PaddingLeft(2).
		Height(bodyHeight).
		Render(m.renderConversation(bodyHeight))

	return lipgloss.JoinHorizontal(lipgloss.Top, sidebar, pane) + "\n" + m.renderStatus()
}

func (m chatModel) renderSidebar(height int) string {
	var b strings.Builder
	title := "Conversations"
	if badge := format.UnreadBadge(m.snap.TotalUnread); badge != "" {
		title += " " + m.theme.unreadStyle().Render("("+badge+")")
	}
	b.WriteString(title + "\n\n")

	if len(m.snap.Conversations) == 0 {
		b.WriteString(m.theme.hintStyle().Render("No conversations yet."))
		return b.String()
	}

	// Each conversation takes two lines.
	visible := max((height-2)/2, 1)
	start := 0
	if m.cursor >= visible {
		start = m.cursor - visible + 1
	}
	end := min(start+visible, len(m.snap.Conversations))

	now := time.Now()
	for i := start; i < end; i++ {
		c := m.snap.Conversations[i]
		name := format.Preview(c.Title(m.snap.Viewer), sidebarWidth-8)
		if badge := format.UnreadBadge(c.UnreadCount); badge != "" {
			name += " " + m.theme.unreadStyle().Render(badge)
		}
		preview := format.LastMessage(c.LastMessage, m.snap.Viewer, sidebarWidth-4)
		if c.HasMessages() {
			preview = format.Preview(preview, sidebarWidth-12) + " · " + format.Relative(c.LastMessage.SentAt, now)
		}

		line := name
		if models.SameID(c.ID, m.snap.Active) {
			line = "● " + line
		} else {
			line = "  " + line
		}
		if i == m.cursor && m.focus == focusSidebar {
			line = m.theme.selectedStyle().Render(line)
		}
		b.WriteString(line + "\n")
		b.WriteString("    " + m.theme.hintStyle().Render(preview) + "\n")
	}
	return b.String()
}

func (m chatModel) renderConversation(height int) string {
	if m.snap.Active.IsZero() {
		return m.theme.hintStyle().Render("Select a conversation and press enter.")
	}

	var header string
	for _, c := range m.snap.Conversations {
		if models.SameID(c.ID, m.snap.Active) {
			header = c.Title(m.snap.Viewer)
			if c.IsGroup() {
				header += m.theme.hintStyle().Render(fmt.Sprintf("  %d members", len(c.Participants)))
			}
			break
		}
	}

	lines := m.historyLines()
	room := max(height-5, 1)
	if len(lines) > room {
		lines = lines[len(lines)-room:]
	}

	var b strings.Builder
	b.WriteString(m.theme.statusStyle().Render(header) + "\n\n")
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n\n")
	b.WriteString(m.renderComposer())
	return b.String()
}

func (m chatModel) historyLines() []string {
	h := m.snap.History
	switch {
	case h.Status == history.StatusLoading && len(h.Messages) == 0:
		return []string{m.theme.hintStyle().Render("Loading messages...")}
	case h.Status == history.StatusFailed && len(h.Messages) == 0:
		return []string{m.theme.errorStyle().Render("Could not load messages: " + errString(h.Err))}
	case h.Status == history.StatusReady && len(h.Messages) == 0:
		return []string{m.theme.hintStyle().Render("No messages yet. Say hello!")}
	}

	now := time.Now()
	lines := make([]string, 0, len(h.Messages)+1)
	if h.Status == history.StatusFailed {
		lines = append(lines, m.theme.errorStyle().Render("Refresh failed: "+errString(h.Err)))
	}
	for _, msg := range h.Messages {
		who := senderName(msg, m.snap.Viewer)
		stamp := m.theme.hintStyle().Render(format.Timestamp(msg.SentAt, now))
		body := format.MessageBody(msg)
		if msg.IsDeleted {
			body = m.theme.hintStyle().Render(body)
		}
		lines = append(lines, fmt.Sprintf("%s %s: %s", stamp, who, body))
		for _, a := range msg.VisibleAttachments() {
			lines = append(lines, "    📎 "+format.Attachment(a))
		}
	}
	return lines
}

func (m chatModel) renderComposer() string {
	d := m.snap.Draft
	var b strings.Builder
	for _, u := range d.Attachments {
		b.WriteString(m.theme.hintStyle().Render(fmt.Sprintf("📎 %s (%s)", u.Name, format.FileSize(u.Size))) + "\n")
	}
	b.WriteString(m.input.View())
	if d.Sending {
		b.WriteString(" " + m.theme.statusStyle().Render("sending..."))
	}
	if d.Err != nil && !errors.Is(d.Err, composer.ErrSendInFlight) {
		b.WriteString("\n" + m.theme.errorStyle().Render("✗ "+d.Err.Error()))
	}
	return b.String()
}

func (m chatModel) renderStatus() string {
	conn := m.theme.connectionStyle(m.snap.Connection).Render("● " + m.snap.Connection.String())
	hint := m.theme.hintStyle().Render("tab switch · enter open/send · r refresh · ctrl+c quit")
	line := conn + "  " + hint
	switch {
	case m.err != nil:
		line += "\n" + m.theme.errorStyle().Render("✗ "+m.err.Error())
	case m.notice != "":
		line += "\n" + m.theme.successStyle().Render("✓ "+m.notice)
	}
	return line
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

// tickCmd returns a command that sends a tick after the refresh interval.
func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// RunChat runs the interactive conversation view until the user quits.
// If open is set, that conversation is selected first.
func RunChat(ctx context.Context, v *chat.View, open models.ID) error {
	model := newChatModel(ctx, v)
	if !open.IsZero() {
		model.focus = focusComposer
		model.input.Focus()
	}
	p := tea.NewProgram(model)

	// Coalesce change notifications so a burst of events costs one render.
	changes := make(chan struct{}, 1)
	done := make(chan struct{})
	unsubscribe := v.OnChange(func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	go func() {
		for {
			select {
			case <-changes:
				p.Send(viewChangedMsg{})
			case <-done:
				return
			}
		}
	}()
	defer close(done)

	if !open.IsZero() {
		go func() {
			err := v.Open(ctx, open)
			p.Send(opDoneMsg{action: "open", err: err})
		}()
	}

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("chat UI error: %w", err)
	}
	return nil
}
