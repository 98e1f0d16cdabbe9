// Package tui is the terminal exam surface. It is a thin shell over the
// session engine: every answer keystroke goes straight to the durable
// answer store, and the engine decides when the attempt is over.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/v2/viewport"
	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/session"
)

type uiMode int

const (
	uiModeAnswering uiMode = iota
	uiModeEditingText
	uiModeConfirmSubmit
	uiModeSubmitting
	uiModeResult
)

type engineEventMsg struct{ event session.Event }

type clockTickMsg time.Time

// Model drives one attempt. It never touches answers or the clock
// directly; all state of record lives in the engine.
type Model struct {
	engine *session.Engine
	log    zerolog.Logger

	mode     uiMode
	index    int
	cursor   int // highlighted option for the current MCQ
	textBuf  string
	width    int
	height   int
	body     viewport.Model
	banner   string // transient status line (warnings, errors)
	result   *session.Event
	quitting bool
}

// NewModel wraps a started engine.
func NewModel(engine *session.Engine, log zerolog.Logger) *Model {
	vp := viewport.New(viewport.WithWidth(80), viewport.WithHeight(10))
	m := &Model{
		engine: engine,
		log:    log.With().Str("component", "tui").Logger(),
		body:   vp,
	}
	m.resetCursor()
	m.syncBody()
	return m
}

// syncBody loads the current question's text into the scrollable pane.
func (m *Model) syncBody() {
	q := m.current()
	if q.ID == "" {
		m.body.SetContent("No questions.")
		return
	}
	m.body.SetContent(questionStyle.Render(q.Text))
	m.body.GotoTop()
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(clockTick(), m.waitForEvent())
}

// waitForEvent blocks on the engine's event channel and feeds the
// program loop one event at a time.
func (m *Model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		return engineEventMsg{event: <-m.engine.Events()}
	}
}

func clockTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return clockTickMsg(t)
	})
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.body.SetWidth(max(20, msg.Width-4))
		m.body.SetHeight(max(3, msg.Height-12))
		m.syncBody()
		return m, nil

	case tea.FocusMsg:
		m.engine.OnVisibilityRestored()
		return m, nil

	case tea.BlurMsg:
		m.engine.OnVisibilityLost()
		return m, nil

	case clockTickMsg:
		if m.mode == uiModeResult {
			return m, nil
		}
		return m, clockTick()

	case engineEventMsg:
		return m.handleEngineEvent(msg.event)

	case tea.KeyPressMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.body, cmd = m.body.Update(msg)
	return m, cmd
}

func (m *Model) handleEngineEvent(ev session.Event) (tea.Model, tea.Cmd) {
	switch ev.Type {
	case session.EventTimeWarning5Min:
		m.banner = "5 minutes remaining"
	case session.EventTimeWarning1Min:
		m.banner = "1 minute remaining!"
	case session.EventTimeExpired:
		// The engine is already submitting on its own goroutine; all the
		// shell does is lock input and wait for the outcome.
		m.mode = uiModeSubmitting
		m.banner = "Time is up, submitting your answers..."
	case session.EventSubmitted:
		m.mode = uiModeResult
		m.result = &ev
		return m, nil
	case session.EventSubmitFailed:
		if m.mode == uiModeSubmitting {
			m.mode = uiModeAnswering
		}
		m.banner = "Submission failed: " + ev.Err.Error() + " (answers are saved, press s to retry)"
	}
	return m, m.waitForEvent()
}

func (m *Model) handleKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	switch m.mode {
	case uiModeConfirmSubmit:
		switch key {
		case "y", "enter":
			m.mode = uiModeSubmitting
			return m, m.submitCmd()
		case "n", "esc":
			m.mode = uiModeAnswering
		}
		return m, nil

	case uiModeSubmitting:
		return m, nil

	case uiModeResult:
		m.quitting = true
		return m, tea.Quit

	case uiModeEditingText:
		return m.handleTextKey(msg)
	}

	switch key {
	case "ctrl+c", "q":
		// Leaving mid-attempt keeps the draft slot so the attempt can be
		// resumed from another run.
		m.engine.OnBeforeTeardown()
		m.quitting = true
		return m, tea.Quit
	case "left", "h", "shift+tab":
		if m.index > 0 {
			m.index--
			m.resetCursor()
			m.syncBody()
		}
	case "right", "l", "tab":
		if m.index < len(m.engine.Questions())-1 {
			m.index++
			m.resetCursor()
			m.syncBody()
		}
	case "pgup", "pgdown":
		// Long question bodies scroll; the viewport owns these keys.
		var cmd tea.Cmd
		m.body, cmd = m.body.Update(msg)
		return m, cmd
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		q := m.current()
		if m.cursor < len(q.Options)-1 {
			m.cursor++
		}
	case "enter", " ", "space":
		m.toggleCurrent()
	case "e", "i":
		if m.current().Type == model.QuestionSubjective {
			m.textBuf, _ = m.engine.Answer(m.current().ID)
			m.mode = uiModeEditingText
		}
	case "backspace", "x":
		m.engine.SetAnswer(context.Background(), m.current().ID, "")
	case "s":
		m.mode = uiModeConfirmSubmit
	default:
		// Digit shortcuts jump straight to an option.
		if len(key) == 1 && key[0] >= '1' && key[0] <= '9' {
			n := int(key[0] - '1')
			if q := m.current(); n < len(q.Options) {
				m.cursor = n
				m.toggleCurrent()
			}
		}
	}
	return m, nil
}

func (m *Model) handleTextKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	switch key := msg.String(); key {
	case "enter":
		m.engine.SetAnswer(context.Background(), m.current().ID, strings.TrimSpace(m.textBuf))
		m.mode = uiModeAnswering
	case "esc":
		m.mode = uiModeAnswering
	case "backspace":
		if m.textBuf != "" {
			runes := []rune(m.textBuf)
			m.textBuf = string(runes[:len(runes)-1])
		}
	case " ", "space":
		m.textBuf += " "
	default:
		if len([]rune(key)) == 1 {
			m.textBuf += key
		}
	}
	return m, nil
}

func (m *Model) submitCmd() tea.Cmd {
	return func() tea.Msg {
		// Outcome arrives through the event channel, same as a timer
		// submission, so the two paths render identically.
		_, _ = m.engine.Submit(context.Background(), session.TriggerManual)
		return nil
	}
}

func (m *Model) toggleCurrent() {
	q := m.current()
	if q.Type != model.QuestionMCQ || m.cursor >= len(q.Options) {
		return
	}
	opt := q.Options[m.cursor]
	if cur, ok := m.engine.Answer(q.ID); ok && cur == opt.ID {
		m.engine.SetAnswer(context.Background(), q.ID, "")
		return
	}
	m.engine.SetAnswer(context.Background(), q.ID, opt.ID)
}

func (m *Model) current() (q model.AttemptQuestion) {
	questions := m.engine.Questions()
	if m.index >= len(questions) {
		return q
	}
	return questions[m.index]
}

// resetCursor moves the option cursor onto the saved answer, if any.
func (m *Model) resetCursor() {
	m.cursor = 0
	q := m.current()
	answer, ok := m.engine.Answer(q.ID)
	if !ok {
		return
	}
	for i, opt := range q.Options {
		if opt.ID == answer {
			m.cursor = i
			return
		}
	}
}

// ─── View ───────────────────────────────────────────────────────────────

func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	if m.mode == uiModeResult {
		return m.resultView()
	}

	var b strings.Builder
	b.WriteString(m.headerView())
	b.WriteString("\n\n")
	b.WriteString(m.questionView())
	b.WriteString("\n")

	switch m.mode {
	case uiModeConfirmSubmit:
		b.WriteString(m.confirmView())
	case uiModeSubmitting:
		b.WriteString(statusStyle.Render("Submitting..."))
	case uiModeEditingText:
		b.WriteString(statusStyle.Render("enter save · esc cancel"))
	default:
		b.WriteString(m.footerView())
	}

	if m.banner != "" {
		b.WriteString("\n" + errorStyle.Render(m.banner))
	}
	return b.String()
}

func (m *Model) headerView() string {
	title := titleStyle.Render(m.engine.QuizTitle())
	progress := fmt.Sprintf(" %d/%d answered ", m.engine.AnsweredCount(), len(m.engine.Questions()))
	return lipgloss.JoinHorizontal(lipgloss.Top, title, statusStyle.Render(progress), m.clockView())
}

func (m *Model) clockView() string {
	remaining := m.engine.Remaining()
	text := fmt.Sprintf("%02d:%02d", remaining/60, remaining%60)
	switch {
	case remaining <= 60:
		return clockUrgentStyle.Render(text)
	case remaining <= 300:
		return clockWarnStyle.Render(text)
	default:
		return clockStyle.Render(text)
	}
}

func (m *Model) questionView() string {
	q := m.current()
	if q.ID == "" {
		return questionStyle.Render("No questions.")
	}

	var b strings.Builder
	mark := "  "
	if _, ok := m.engine.Answer(q.ID); ok {
		mark = answeredMarkStyle.Render("✓ ")
	}
	fmt.Fprintf(&b, "%sQuestion %d of %d  (%d marks)\n\n", mark, m.index+1, len(m.engine.Questions()), q.Marks)
	b.WriteString(m.body.View())
	b.WriteString("\n\n")

	if q.Type == model.QuestionSubjective {
		if m.mode == uiModeEditingText {
			b.WriteString(optionStyle.Render("> " + m.textBuf + "▌"))
		} else if answer, ok := m.engine.Answer(q.ID); ok {
			b.WriteString(optionStyle.Render("Your answer: " + answer))
		} else {
			b.WriteString(optionStyle.Render("(press e to write an answer)"))
		}
		return b.String()
	}

	saved, _ := m.engine.Answer(q.ID)
	for i, opt := range q.Options {
		line := fmt.Sprintf("%d. %s", i+1, opt.Text)
		style := optionStyle
		if opt.ID == saved {
			line = "● " + line
			style = selectedOptionStyle
		} else {
			line = "○ " + line
		}
		if i == m.cursor {
			style = cursorOptionStyle
			line = "› " + line
		}
		b.WriteString(style.Render(line))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *Model) confirmView() string {
	unanswered := len(m.engine.Questions()) - m.engine.AnsweredCount()
	msg := "Submit your answers? This cannot be undone."
	if unanswered > 0 {
		msg = fmt.Sprintf("%d question(s) unanswered. Submit anyway?", unanswered)
	}
	return dialogStyle.Render(msg + "\n\n[y] submit    [n] keep working")
}

func (m *Model) footerView() string {
	return statusStyle.Render("←/→ question · ↑/↓ option · enter select · e edit text · s submit · q quit")
}

func (m *Model) resultView() string {
	res := m.result.Result
	if res == nil {
		return resultStyle.Render("Submitted.")
	}
	verdict := "FAILED"
	if res.Passed {
		verdict = "PASSED"
	}
	body := fmt.Sprintf("Attempt submitted\n\nScore: %d / %d\nResult: %s\n\nPress any key to exit.",
		res.Score, res.TotalMarks, verdict)
	return resultStyle.Render(body)
}
