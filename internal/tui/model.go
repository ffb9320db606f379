package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"ragchat/internal/domain"
	"ragchat/internal/logging"
	"ragchat/internal/session"
)

type entryKind int

const (
	entryUser entryKind = iota
	entryAssistant
	entryError
	entryInfo
)

type sourceLink struct {
	Path string
	URL  string
}

type entry struct {
	kind     entryKind
	text     string
	question string
	sources  []sourceLink
	trace    *domain.Trace
}

type answerMsg struct {
	ticket  *session.Ticket
	result  domain.AnswerResult
	err     error
	sources []sourceLink
}

type docsMsg struct {
	docs []domain.Document
	err  error
}

type choicesMsg struct {
	segments []string
	metrics  []string
}

// Model is the Bubble Tea model for the chat application.
type Model struct {
	ctl       *session.Controller
	catalog   domain.DocumentCatalog
	urlExpiry time.Duration
	log       *zap.Logger

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	entries  []entry
	status   string
	ticket   *session.Ticket
	ready    bool
}

// New creates a chat model driving ctl. catalog resolves source links and
// may be nil.
func New(ctl *session.Controller, catalog domain.DocumentCatalog, urlExpiry time.Duration, log *zap.Logger) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about the financial documents, or /help"
	ti.Focus()
	ti.CharLimit = 0
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	vp := viewport.New(0, 0)
	return Model{
		ctl:       ctl,
		catalog:   catalog,
		urlExpiry: urlExpiry,
		log:       logging.Module(log, "tui"),
		input:     ti,
		viewport:  vp,
		spinner:   sp,
		status:    "Ready. Type a question and press Enter.",
	}
}

// Init starts the cursor blink and loads filter choices from the catalog.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.loadChoices())
}

// Update handles key, window and pipeline events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, th := transcriptBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		headerLines := 2 // title + selections
		footerLines := 1 // status
		reserved := headerLines + footerLines + qh + 1 + th
		m.viewport.Width = max(20, msg.Width-4)
		m.viewport.Height = max(3, msg.Height-reserved)
		m.refresh()
		return m, nil
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			return m, tea.Quit
		case tea.KeyCtrlL:
			m.clear()
			return m, nil
		case tea.KeyEnter:
			line := strings.TrimSpace(m.input.Value())
			if line == "" {
				return m, nil
			}
			m.input.SetValue("")
			if strings.HasPrefix(line, "/") {
				return m, m.command(line)
			}
			return m, m.submit(line)
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	case answerMsg:
		return m, m.resolve(msg)
	case docsMsg:
		m.showDocs(msg)
		return m, nil
	case choicesMsg:
		if len(msg.segments) > 0 || len(msg.metrics) > 0 {
			ch := m.ctl.Choices()
			if len(msg.segments) > 0 {
				ch.Segments = msg.segments
			}
			if len(msg.metrics) > 0 {
				ch.Metrics = msg.metrics
			}
			m.ctl.SetFilterChoices(ch.Segments, ch.Metrics)
		}
		return m, nil
	case spinner.TickMsg:
		if m.ticket == nil {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) submit(question string) tea.Cmd {
	t, err := m.ctl.Submit(context.Background(), question)
	if err != nil {
		m.status = "Error: " + err.Error()
		return nil
	}
	m.ticket = t
	m.entries = append(m.entries, entry{kind: entryUser, text: t.Question})
	m.status = "Thinking..."
	m.refresh()
	return tea.Batch(m.spinner.Tick, m.answer(t))
}

// answer runs the pipeline off the Update loop and resolves source links.
func (m Model) answer(t *session.Ticket) tea.Cmd {
	ctl, catalog, expiry, log := m.ctl, m.catalog, m.urlExpiry, m.log
	return func() tea.Msg {
		res, err := ctl.Execute(t)
		msg := answerMsg{ticket: t, result: res, err: err}
		if err != nil {
			return msg
		}
		for _, p := range res.Sources {
			link := sourceLink{Path: p}
			if catalog != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				u, uerr := catalog.PresignedURL(ctx, p, expiry)
				cancel()
				if uerr != nil {
					log.Warn("presigned url failed", zap.String("path", p), zap.Error(uerr))
				} else {
					link.URL = u
				}
			}
			msg.sources = append(msg.sources, link)
		}
		return msg
	}
}

func (m *Model) resolve(msg answerMsg) tea.Cmd {
	if !m.ctl.Resolve(msg.ticket, msg.result, msg.err) {
		return nil
	}
	m.ticket = nil
	debug := m.ctl.Snapshot().Selections.Debug
	var trace *domain.Trace
	if debug {
		tr := msg.result.Trace
		trace = &tr
	}
	if msg.err != nil {
		m.entries = append(m.entries, entry{kind: entryError, text: domain.UserMessage(msg.err), trace: trace})
		m.status = "The question was not answered. You can ask again."
		m.refresh()
		return nil
	}
	m.entries = append(m.entries, entry{
		kind:     entryAssistant,
		text:     msg.result.Answer,
		question: msg.ticket.Question,
		sources:  msg.sources,
		trace:    trace,
	})
	m.status = "Ready."
	m.refresh()
	m.ctl.Rendered()
	return nil
}

func (m *Model) clear() {
	m.ctl.Clear()
	m.ticket = nil
	m.entries = nil
	m.status = "Conversation cleared."
	m.refresh()
}

func (m *Model) info(text string) {
	m.entries = append(m.entries, entry{kind: entryInfo, text: text})
	m.refresh()
}

const helpText = `Commands:
  /model [name]       show or select the model
  /segment [name|ALL] show or select the business segment
  /metric [name|ALL]  show or select the metric type
  /memory on|off      use chat history for follow-up questions
  /debug on|off       show retrieval and rewrite diagnostics
  /docs               list available documents
  /clear              start a new conversation (ctrl+l)`

func (m *Model) command(line string) tea.Cmd {
	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)
	ch := m.ctl.Choices()
	sel := m.ctl.Snapshot().Selections
	var err error
	switch strings.ToLower(name) {
	case "help":
		m.info(helpText)
		return nil
	case "clear":
		m.clear()
		return nil
	case "docs":
		if m.catalog == nil {
			m.status = "No document catalog configured."
			return nil
		}
		m.status = "Listing documents..."
		return m.listDocs()
	case "model":
		if arg == "" {
			m.info(fmt.Sprintf("Model: %s\nAvailable: %s", sel.Model, strings.Join(ch.Models, ", ")))
			return nil
		}
		err = m.ctl.SelectModel(arg)
	case "segment":
		if arg == "" {
			m.info(fmt.Sprintf("Segment: %s\nAvailable: ALL, %s", sel.Segment, strings.Join(ch.Segments, ", ")))
			return nil
		}
		err = m.ctl.SelectSegment(arg)
	case "metric":
		if arg == "" {
			m.info(fmt.Sprintf("Metric: %s\nAvailable: ALL, %s", sel.Metric, strings.Join(ch.Metrics, ", ")))
			return nil
		}
		err = m.ctl.SelectMetric(arg)
	case "memory":
		var on bool
		if on, err = parseToggle(arg); err == nil {
			err = m.ctl.SetMemory(on)
		}
	case "debug":
		var on bool
		if on, err = parseToggle(arg); err == nil {
			m.ctl.SetDebug(on)
		}
	default:
		err = fmt.Errorf("unknown command /%s, try /help", name)
	}
	if err != nil {
		m.status = "Error: " + err.Error()
	} else {
		m.status = "Updated."
	}
	m.refresh()
	return nil
}

func parseToggle(arg string) (bool, error) {
	switch strings.ToLower(arg) {
	case "on", "true", "yes":
		return true, nil
	case "off", "false", "no":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", arg)
}

func (m Model) listDocs() tea.Cmd {
	catalog := m.catalog
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		docs, err := catalog.List(ctx)
		return docsMsg{docs: docs, err: err}
	}
}

func (m *Model) showDocs(msg docsMsg) {
	if msg.err != nil {
		m.log.Warn("list documents failed", zap.Error(msg.err))
		m.status = "Could not list documents."
		return
	}
	if len(msg.docs) == 0 {
		m.info("No documents available.")
		return
	}
	var b strings.Builder
	b.WriteString("Documents:")
	for _, d := range msg.docs {
		b.WriteString("\n  " + d.Path)
		if d.Size > 0 {
			fmt.Fprintf(&b, "  (%d bytes)", d.Size)
		}
	}
	m.status = "Ready."
	m.info(b.String())
}

func (m Model) loadChoices() tea.Cmd {
	catalog, log := m.catalog, m.log
	if catalog == nil {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		var msg choicesMsg
		var err error
		if msg.segments, err = catalog.DistinctValues(ctx, domain.FieldSegment); err != nil {
			log.Warn("load segments failed", zap.Error(err))
		}
		if msg.metrics, err = catalog.DistinctValues(ctx, domain.FieldMetricType); err != nil {
			log.Warn("load metrics failed", zap.Error(err))
		}
		return msg
	}
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

// View renders the layout: header, transcript, input box and status line.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	sel := m.ctl.Snapshot().Selections
	header := titleStyle.Render("Financial Document Assistant")
	selections := dimStyle.Render(fmt.Sprintf("model %s | segment %s | metric %s | memory %s | debug %s",
		sel.Model, sel.Segment, sel.Metric, onOff(sel.Memory), onOff(sel.Debug)))
	transcript := transcriptBoxStyle.Render(m.viewport.View())
	input := queryBoxStyle.Render(m.input.View())
	status := statusStyle.Render(m.status)
	if m.ticket != nil {
		status = m.spinner.View() + " " + status
	}
	return header + "\n" + selections + "\n" + transcript + "\n" + input + "\n" + status
}

func (m Model) renderTranscript() string {
	if len(m.entries) == 0 {
		return dimStyle.Render("No messages yet. Type /help for commands.")
	}
	width := max(20, m.viewport.Width-2)
	wrap := lipgloss.NewStyle().Width(width)
	var blocks []string
	for _, e := range m.entries {
		var b strings.Builder
		switch e.kind {
		case entryUser:
			b.WriteString(userStyle.Render("You") + "\n" + wrap.Render(e.text))
		case entryAssistant:
			b.WriteString(assistantStyle.Render("Assistant") + "\n" + wrap.Render(highlightBestSentence(e.text, e.question)))
			b.WriteString("\n" + renderSources(e.sources))
		case entryError:
			b.WriteString(errorStyle.Render("Error") + "\n" + wrap.Render(e.text))
		case entryInfo:
			b.WriteString(dimStyle.Render(e.text))
		}
		if e.trace != nil {
			b.WriteString("\n" + renderTrace(*e.trace, width))
		}
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n\n")
}

func renderSources(sources []sourceLink) string {
	if len(sources) == 0 {
		return dimStyle.Render("No source documents")
	}
	var b strings.Builder
	b.WriteString(dimStyle.Render("Sources:"))
	for _, s := range sources {
		b.WriteString("\n  " + s.Path)
		if s.URL != "" {
			b.WriteString("\n    " + linkStyle.Render(s.URL))
		}
	}
	return b.String()
}

func renderTrace(tr domain.Trace, width int) string {
	wrap := lipgloss.NewStyle().Width(width)
	var b strings.Builder
	b.WriteString(debugStyle.Render("Debug"))
	fmt.Fprintf(&b, "\nsearch query: %s", tr.SearchQuery)
	if tr.Rewritten || tr.RawRewrite != "" {
		fmt.Fprintf(&b, "\nrewritten query (raw): %s", tr.RawRewrite)
	}
	if tr.RawRetrieval != "" {
		b.WriteString("\nretrieval response:\n" + wrap.Render(tr.RawRetrieval))
	}
	return b.String()
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

var (
	transcriptBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	titleStyle         = lipgloss.NewStyle().Bold(true)
	dimStyle           = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	userStyle          = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	assistantStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13"))
	errorStyle         = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	debugStyle         = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("3"))
	linkStyle          = lipgloss.NewStyle().Underline(true).Foreground(lipgloss.Color("6"))
	highlightStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	unicodeWordRe      = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’]\p{L}+)*`)
	sentenceRe         = regexp.MustCompile(`(?:\d\.\d|[^.!?])+(?:[.!?]+|$)`)
)

// highlightBestSentence emphasizes the answer sentence that overlaps most
// with the question. Every byte of text outside the highlight is kept.
func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	spans := sentenceRe.FindAllStringIndex(text, -1)
	if len(spans) < 2 {
		return text
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return text
	}
	best := -1
	bestScore := 0
	for i, sp := range spans {
		score := tokenOverlapScore(qTokens, text[sp[0]:sp[1]])
		if score > bestScore {
			bestScore = score
			best = i
		}
	}
	if best < 0 {
		return text
	}
	start, end := spans[best][0], spans[best][1]
	sent := text[start:end]
	trimmed := strings.TrimSpace(sent)
	lead := strings.Index(sent, trimmed)
	return text[:start] + sent[:lead] + highlightStyle.Render(trimmed) + sent[lead+len(trimmed):] + text[end:]
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	tokens := unicodeWordRe.FindAllString(strings.ToLower(sentence), -1)
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
