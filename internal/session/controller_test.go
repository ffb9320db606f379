package session

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/domain"
)

type fakeEngine struct {
	answer string
	err    error
	seen   []domain.ConversationState
	block  chan struct{}
}

func (f *fakeEngine) Answer(ctx context.Context, question string, state *domain.ConversationState) (domain.AnswerResult, error) {
	f.seen = append(f.seen, *state)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return domain.AnswerResult{}, ctx.Err()
		}
	}
	if f.err != nil {
		return domain.AnswerResult{}, f.err
	}
	return domain.AnswerResult{Answer: f.answer, Sources: []string{"report.pdf"}}, nil
}

var testChoices = Choices{
	Models:   []string{"mistral-large2", "llama3-70b"},
	Segments: []string{"Food Delivery", "Quick Commerce"},
	Metrics:  []string{"Revenue", "GOV"},
}

func newController(engine Answerer) *Controller {
	return New(engine, testChoices, domain.Selections{Memory: true}, nil)
}

func TestNew_Defaults(t *testing.T) {
	c := newController(&fakeEngine{})
	_, err := uuid.Parse(c.SessionID())
	require.NoError(t, err)

	snap := c.Snapshot()
	assert.Equal(t, "mistral-large2", snap.Selections.Model)
	assert.Equal(t, "ALL", snap.Selections.Segment)
	assert.Equal(t, "ALL", snap.Selections.Metric)
	assert.True(t, snap.Selections.Memory)
	assert.Equal(t, Idle, c.State())
	assert.Empty(t, snap.Turns)
}

func TestRun_AppendsBothTurns(t *testing.T) {
	eng := &fakeEngine{answer: "It grew."}
	c := newController(eng)

	res, err := c.Run(context.Background(), "How did revenue do?")
	require.NoError(t, err)
	assert.Equal(t, "It grew.", res.Answer)
	assert.Equal(t, Idle, c.State())
	assert.Equal(t, []domain.Turn{
		{Role: domain.RoleUser, Content: "How did revenue do?"},
		{Role: domain.RoleAssistant, Content: "It grew."},
	}, c.Snapshot().Turns)

	_, err = c.Run(context.Background(), "And margins?")
	require.NoError(t, err)
	require.Len(t, eng.seen, 2)
	// the engine sees only committed turns, never the pending question
	assert.Empty(t, eng.seen[0].Turns)
	assert.Len(t, eng.seen[1].Turns, 2)
	assert.Len(t, c.Snapshot().Turns, 4)
}

func TestRun_FailureAppendsNothing(t *testing.T) {
	eng := &fakeEngine{answer: "first"}
	c := newController(eng)
	_, err := c.Run(context.Background(), "q1")
	require.NoError(t, err)

	eng.err = domain.ErrCompletion
	_, err = c.Run(context.Background(), "q2")
	assert.ErrorIs(t, err, domain.ErrCompletion)
	assert.Len(t, c.Snapshot().Turns, 2)
	assert.Equal(t, Idle, c.State())
	assert.Empty(t, c.Pending())
}

func TestSubmit_Validation(t *testing.T) {
	c := newController(&fakeEngine{})
	_, err := c.Submit(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyQuestion)
	_, err = c.Submit(context.Background(), "''")
	assert.ErrorIs(t, err, ErrEmptyQuestion)

	tk, err := c.Submit(context.Background(), " q ")
	require.NoError(t, err)
	assert.Equal(t, "q", tk.Question)
	assert.Equal(t, AwaitingAnswer, c.State())
	assert.Equal(t, "q", c.Pending())

	_, err = c.Submit(context.Background(), "another")
	assert.ErrorIs(t, err, ErrBusy)
}

func TestLifecycle_DisplayingThenRendered(t *testing.T) {
	c := newController(&fakeEngine{answer: "a"})
	tk, err := c.Submit(context.Background(), "q")
	require.NoError(t, err)
	res, err := c.Execute(tk)
	require.NoError(t, err)
	require.True(t, c.Resolve(tk, res, nil))
	assert.Equal(t, Displaying, c.State())

	_, err = c.Submit(context.Background(), "q2")
	assert.ErrorIs(t, err, ErrBusy)

	c.Rendered()
	assert.Equal(t, Idle, c.State())
	c.Rendered()
	assert.Equal(t, Idle, c.State())
}

func TestClear_FromEveryState(t *testing.T) {
	setups := map[string]func(c *Controller){
		"idle": func(c *Controller) {
			_, _ = c.Run(context.Background(), "q")
		},
		"awaiting": func(c *Controller) {
			_, _ = c.Run(context.Background(), "q")
			_, _ = c.Submit(context.Background(), "q2")
		},
		"displaying": func(c *Controller) {
			tk, _ := c.Submit(context.Background(), "q")
			c.Resolve(tk, domain.AnswerResult{Answer: "a"}, nil)
		},
	}
	for name, setup := range setups {
		t.Run(name, func(t *testing.T) {
			c := newController(&fakeEngine{answer: "a"})
			setup(c)
			c.Clear()
			assert.Equal(t, Idle, c.State())
			assert.Empty(t, c.Snapshot().Turns)
			assert.Empty(t, c.Pending())
		})
	}
}

func TestClear_DiscardsInFlightResult(t *testing.T) {
	c := newController(&fakeEngine{answer: "a"})
	tk, err := c.Submit(context.Background(), "q")
	require.NoError(t, err)

	c.Clear()
	assert.ErrorIs(t, tk.ctx.Err(), context.Canceled)

	assert.False(t, c.Resolve(tk, domain.AnswerResult{Answer: "late"}, nil))
	assert.Empty(t, c.Snapshot().Turns)
	assert.Equal(t, Idle, c.State())

	// a fresh question after the clear is unaffected by the stale ticket
	tk2, err := c.Submit(context.Background(), "q2")
	require.NoError(t, err)
	assert.False(t, c.Resolve(tk, domain.AnswerResult{Answer: "late"}, nil))
	assert.True(t, c.Resolve(tk2, domain.AnswerResult{Answer: "fresh"}, nil))
	assert.Equal(t, "fresh", c.Snapshot().Turns[1].Content)
}

func TestRun_ClearedMidFlight(t *testing.T) {
	eng := &fakeEngine{answer: "a", block: make(chan struct{})}
	c := newController(eng)

	done := make(chan error, 1)
	go func() {
		_, err := c.Run(context.Background(), "q")
		done <- err
	}()
	require.Eventually(t, func() bool { return c.State() == AwaitingAnswer }, time.Second, time.Millisecond)
	c.Clear()
	err := <-done
	assert.ErrorIs(t, err, ErrDiscarded)
	assert.Empty(t, c.Snapshot().Turns)
}

func TestSelections(t *testing.T) {
	c := newController(&fakeEngine{answer: "a"})

	require.NoError(t, c.SelectModel("llama3-70b"))
	assert.ErrorIs(t, c.SelectModel("gpt-x"), ErrUnknownChoice)

	require.NoError(t, c.SelectSegment("Food Delivery"))
	require.NoError(t, c.SelectSegment("ALL"))
	assert.ErrorIs(t, c.SelectSegment("Ads"), ErrUnknownChoice)

	require.NoError(t, c.SelectMetric("GOV"))
	assert.ErrorIs(t, c.SelectMetric("Churn"), ErrUnknownChoice)

	require.NoError(t, c.SetMemory(false))
	c.SetDebug(true)

	sel := c.Snapshot().Selections
	assert.Equal(t, domain.Selections{Model: "llama3-70b", Segment: "ALL", Metric: "GOV", Memory: false, Debug: true}, sel)
}

func TestSelections_RefusedWhileAwaiting(t *testing.T) {
	c := newController(&fakeEngine{})
	_, err := c.Submit(context.Background(), "q")
	require.NoError(t, err)

	assert.ErrorIs(t, c.SelectModel("llama3-70b"), ErrBusy)
	assert.ErrorIs(t, c.SelectSegment("Food Delivery"), ErrBusy)
	assert.ErrorIs(t, c.SelectMetric("GOV"), ErrBusy)
	assert.ErrorIs(t, c.SetMemory(false), ErrBusy)
	c.SetDebug(true)
	assert.True(t, c.Snapshot().Selections.Debug)
}

func TestTicketSnapshotIsolated(t *testing.T) {
	eng := &fakeEngine{answer: "a"}
	c := newController(eng)
	tk, err := c.Submit(context.Background(), "q")
	require.NoError(t, err)
	c.SetDebug(true)
	_, err = c.Execute(tk)
	require.NoError(t, err)
	assert.False(t, eng.seen[0].Selections.Debug)
}

func TestSetFilterChoices(t *testing.T) {
	c := newController(&fakeEngine{})
	c.SetFilterChoices([]string{"Ads"}, nil)
	require.NoError(t, c.SelectSegment("Ads"))
	assert.ErrorIs(t, c.SelectSegment("Food Delivery"), ErrUnknownChoice)
	assert.Equal(t, []string{"Ads"}, c.Choices().Segments)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "awaiting-answer", AwaitingAnswer.String())
	assert.Equal(t, "displaying", Displaying.String())
}
