// Package session owns the conversation state of one chat session and the
// Idle / AwaitingAnswer / Displaying lifecycle around each question.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ragchat/internal/domain"
	"ragchat/internal/logging"
	"ragchat/internal/service"
)

var (
	ErrBusy          = errors.New("a question is already being answered")
	ErrEmptyQuestion = errors.New("question must not be empty")
	ErrUnknownChoice = errors.New("not one of the offered choices")
	// ErrDiscarded is returned by Run when the conversation was cleared while
	// the answer was in flight.
	ErrDiscarded = errors.New("answer discarded: conversation was cleared")
)

type State int

const (
	Idle State = iota
	AwaitingAnswer
	Displaying
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingAnswer:
		return "awaiting-answer"
	case Displaying:
		return "displaying"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Answerer is the slice of service.Engine the controller drives.
type Answerer interface {
	Answer(ctx context.Context, question string, state *domain.ConversationState) (domain.AnswerResult, error)
}

// Choices are the values offered to the user for each selection.
type Choices struct {
	Models   []string
	Segments []string
	Metrics  []string
}

// Ticket identifies one submitted question. It carries a snapshot of the
// conversation taken at submission time.
type Ticket struct {
	Question string
	epoch    uint64
	ctx      context.Context
	snapshot domain.ConversationState
}

// Controller is safe for concurrent use.
type Controller struct {
	mu      sync.Mutex
	engine  Answerer
	choices Choices
	conv    domain.ConversationState
	state   State
	epoch   uint64
	pending string
	cancel  context.CancelFunc
	log     *zap.Logger
}

// New starts a session with a fresh ID and the given initial selections.
func New(engine Answerer, choices Choices, sel domain.Selections, log *zap.Logger) *Controller {
	id := uuid.NewString()
	if sel.Segment == "" {
		sel.Segment = domain.All
	}
	if sel.Metric == "" {
		sel.Metric = domain.All
	}
	if sel.Model == "" && len(choices.Models) > 0 {
		sel.Model = choices.Models[0]
	}
	return &Controller{
		engine:  engine,
		choices: choices,
		conv:    domain.ConversationState{SessionID: id, Selections: sel},
		log:     logging.Module(log, "session").With(zap.String("session_id", id)),
	}
}

func (c *Controller) SessionID() string { return c.conv.SessionID }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns the question awaiting an answer, if any.
func (c *Controller) Pending() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Snapshot returns a copy of the conversation state.
func (c *Controller) Snapshot() domain.ConversationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() domain.ConversationState {
	s := c.conv
	s.Turns = slices.Clone(c.conv.Turns)
	return s
}

func (c *Controller) Choices() Choices {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Choices{
		Models:   slices.Clone(c.choices.Models),
		Segments: slices.Clone(c.choices.Segments),
		Metrics:  slices.Clone(c.choices.Metrics),
	}
}

// SetFilterChoices replaces the offered segments and metrics, typically once
// they have been loaded from the document catalog.
func (c *Controller) SetFilterChoices(segments, metrics []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.choices.Segments = slices.Clone(segments)
	c.choices.Metrics = slices.Clone(metrics)
}

// Submit moves Idle to AwaitingAnswer. The returned ticket's context is
// cancelled by Clear.
func (c *Controller) Submit(ctx context.Context, question string) (*Ticket, error) {
	question = strings.TrimSpace(question)
	if strings.TrimSpace(service.StripQuotes(question)) == "" {
		return nil, ErrEmptyQuestion
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Idle {
		return nil, ErrBusy
	}
	tctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.state = AwaitingAnswer
	c.pending = question
	c.log.Debug("question submitted", zap.Uint64("epoch", c.epoch), zap.Int("turns", len(c.conv.Turns)))
	return &Ticket{
		Question: question,
		epoch:    c.epoch,
		ctx:      tctx,
		snapshot: c.snapshotLocked(),
	}, nil
}

// Execute runs the answer engine for t. It does not touch controller state
// and may run on any goroutine.
func (c *Controller) Execute(t *Ticket) (domain.AnswerResult, error) {
	snap := t.snapshot
	return c.engine.Answer(t.ctx, t.Question, &snap)
}

// Resolve records the outcome of t. On success the user and assistant turns
// are appended together and the session moves to Displaying; on failure it
// returns to Idle with nothing appended. It reports false when t was
// invalidated by Clear, in which case the outcome is discarded.
func (c *Controller) Resolve(t *Ticket, res domain.AnswerResult, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t == nil || t.epoch != c.epoch || c.state != AwaitingAnswer {
		c.log.Debug("discarding stale answer", zap.Uint64("ticket_epoch", t.epochOrZero()), zap.Uint64("epoch", c.epoch))
		return false
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.pending = ""
	if err != nil {
		c.state = Idle
		c.log.Warn("question failed", zap.Error(err))
		return true
	}
	c.conv.Turns = append(c.conv.Turns,
		domain.Turn{Role: domain.RoleUser, Content: t.Question},
		domain.Turn{Role: domain.RoleAssistant, Content: res.Answer},
	)
	c.state = Displaying
	c.log.Info("question answered", zap.Int("turns", len(c.conv.Turns)), zap.Int("sources", len(res.Sources)))
	return true
}

func (t *Ticket) epochOrZero() uint64 {
	if t == nil {
		return 0
	}
	return t.epoch
}

// Rendered moves Displaying to Idle. It is a no-op in any other state.
func (c *Controller) Rendered() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Displaying {
		c.state = Idle
	}
}

// Clear resets the turn log and returns to Idle from any state. An in-flight
// request is cancelled and its result will be discarded.
func (c *Controller) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.epoch++
	c.conv.Turns = nil
	c.pending = ""
	c.state = Idle
	c.log.Info("conversation cleared", zap.Uint64("epoch", c.epoch))
}

// Run answers question synchronously: Submit, Execute, Resolve, Rendered.
func (c *Controller) Run(ctx context.Context, question string) (domain.AnswerResult, error) {
	t, err := c.Submit(ctx, question)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	res, err := c.Execute(t)
	if !c.Resolve(t, res, err) {
		return res, ErrDiscarded
	}
	if err != nil {
		return res, err
	}
	c.Rendered()
	return res, nil
}

func (c *Controller) SelectModel(model string) error {
	return c.updateSelection(func(s *domain.Selections, ch Choices) error {
		if !slices.Contains(ch.Models, model) {
			return fmt.Errorf("model %q: %w", model, ErrUnknownChoice)
		}
		s.Model = model
		return nil
	})
}

// SelectSegment accepts "ALL" or one of the offered segments.
func (c *Controller) SelectSegment(segment string) error {
	return c.updateSelection(func(s *domain.Selections, ch Choices) error {
		if segment != domain.All && !slices.Contains(ch.Segments, segment) {
			return fmt.Errorf("segment %q: %w", segment, ErrUnknownChoice)
		}
		s.Segment = segment
		return nil
	})
}

// SelectMetric accepts "ALL" or one of the offered metrics.
func (c *Controller) SelectMetric(metric string) error {
	return c.updateSelection(func(s *domain.Selections, ch Choices) error {
		if metric != domain.All && !slices.Contains(ch.Metrics, metric) {
			return fmt.Errorf("metric %q: %w", metric, ErrUnknownChoice)
		}
		s.Metric = metric
		return nil
	})
}

func (c *Controller) SetMemory(on bool) error {
	return c.updateSelection(func(s *domain.Selections, _ Choices) error {
		s.Memory = on
		return nil
	})
}

// SetDebug only affects rendering, so it is allowed at any time.
func (c *Controller) SetDebug(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conv.Selections.Debug = on
}

func (c *Controller) updateSelection(fn func(*domain.Selections, Choices) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == AwaitingAnswer {
		return ErrBusy
	}
	sel := c.conv.Selections
	if err := fn(&sel, c.choices); err != nil {
		return err
	}
	if sel != c.conv.Selections {
		c.log.Info("selection changed",
			zap.String("model", sel.Model),
			zap.String("segment", sel.Segment),
			zap.String("metric", sel.Metric),
			zap.Bool("memory", sel.Memory),
		)
	}
	c.conv.Selections = sel
	return nil
}
