package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/domain"
	"ragchat/internal/retrieval"
)

// scriptedLLM answers rewrite prompts and answer prompts from separate
// scripts and records every call.
type scriptedLLM struct {
	rewrite    string
	rewriteErr error
	answer     string
	answerErr  error
	prompts    []string
	models     []string
	onRewrite  func()
}

func (s *scriptedLLM) Complete(_ context.Context, model, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	s.models = append(s.models, model)
	if strings.HasPrefix(prompt, "Based on the chat history") {
		if s.onRewrite != nil {
			s.onRewrite()
		}
		return s.rewrite, s.rewriteErr
	}
	return s.answer, s.answerErr
}

type stubSearch struct {
	resp    domain.SearchResponse
	err     error
	queries []string
	filters []*domain.Filter
}

func (s *stubSearch) Search(_ context.Context, req domain.SearchRequest) (domain.SearchResponse, error) {
	s.queries = append(s.queries, req.Query)
	s.filters = append(s.filters, req.Filter)
	return s.resp, s.err
}

var threePassages = []domain.Passage{
	{Chunk: "Revenue was 1,200 crore.", RelativePath: "report.pdf", Segment: "Food Delivery", MetricType: "Revenue"},
	{Chunk: "The company's GOV doubled.", RelativePath: "deck.pptx", Segment: "Quick Commerce", MetricType: "GOV"},
	{Chunk: "EBITDA turned positive.", RelativePath: "report.pdf", Segment: "Food Delivery", MetricType: "EBITDA"},
}

func newEngine(llm domain.CompletionCapability, search domain.SearchCapability, window int) *Engine {
	client := retrieval.NewClient(search, nil)
	return NewEngine(
		NewRewriter(llm, nil),
		NewAssembler(client, 3, "You are a test analyst."),
		llm,
		EngineConfig{HistoryWindow: window},
		nil,
	)
}

func newState(memory bool, turns ...domain.Turn) *domain.ConversationState {
	return &domain.ConversationState{
		SessionID: "s1",
		Turns:     turns,
		Selections: domain.Selections{
			Model:   "mistral-large2",
			Segment: domain.All,
			Metric:  domain.All,
			Memory:  memory,
		},
	}
}

var priorTurns = []domain.Turn{
	{Role: domain.RoleUser, Content: "How did food delivery do?"},
	{Role: domain.RoleAssistant, Content: "It grew 25%."},
}

func TestAnswer_NoMemorySingleCompletion(t *testing.T) {
	llm := &scriptedLLM{answer: "Revenue was 1,200 crore."}
	search := &stubSearch{resp: domain.SearchResponse{Results: threePassages, Raw: `{"results":[]}`}}
	e := newEngine(llm, search, 7)

	res, err := e.Answer(context.Background(), "What was revenue?", newState(false, priorTurns...))
	require.NoError(t, err)

	require.Len(t, llm.prompts, 1)
	assert.Equal(t, []string{"What was revenue?"}, search.queries)
	assert.Equal(t, "Revenue was 1,200 crore.", res.Answer)
	assert.False(t, res.Trace.Rewritten)
	assert.Contains(t, llm.prompts[0], "<chat_history>\n\n</chat_history>")
	assert.Equal(t, []string{"mistral-large2"}, llm.models)
}

func TestAnswer_MemoryWithoutHistorySkipsRewrite(t *testing.T) {
	llm := &scriptedLLM{answer: "ok"}
	search := &stubSearch{resp: domain.SearchResponse{Results: threePassages}}
	_, err := newEngine(llm, search, 7).Answer(context.Background(), "q1", newState(true))
	require.NoError(t, err)
	assert.Len(t, llm.prompts, 1)
	assert.Equal(t, []string{"q1"}, search.queries)
}

func TestAnswer_MemoryRewritesQuery(t *testing.T) {
	llm := &scriptedLLM{rewrite: "  'food delivery' revenue growth\n", answer: "ok"}
	search := &stubSearch{resp: domain.SearchResponse{Results: threePassages}}
	e := newEngine(llm, search, 7)

	res, err := e.Answer(context.Background(), "And revenue?", newState(true, priorTurns...))
	require.NoError(t, err)

	require.Len(t, llm.prompts, 2)
	assert.Contains(t, llm.prompts[0], "<chat_history>\nuser: How did food delivery do?\nassistant: It grew 25%.\n</chat_history>")
	assert.Contains(t, llm.prompts[0], "<question>\nAnd revenue?\n</question>")
	assert.Equal(t, []string{"food delivery revenue growth"}, search.queries)
	assert.True(t, res.Trace.Rewritten)
	assert.Equal(t, "food delivery revenue growth", res.Trace.SearchQuery)
	assert.Equal(t, "  'food delivery' revenue growth\n", res.Trace.RawRewrite)
	// the final prompt carries the original question, not the rewrite
	assert.Contains(t, llm.prompts[1], "<question>\nAnd revenue?\n</question>")
	assert.Contains(t, llm.prompts[1], "user: How did food delivery do?")
}

func TestAnswer_WindowLimitsHistory(t *testing.T) {
	llm := &scriptedLLM{rewrite: "q", answer: "ok"}
	search := &stubSearch{resp: domain.SearchResponse{Results: threePassages}}
	_, err := newEngine(llm, search, 1).Answer(context.Background(), "next", newState(true, priorTurns...))
	require.NoError(t, err)
	assert.NotContains(t, llm.prompts[0], "How did food delivery do?")
	assert.Contains(t, llm.prompts[0], "assistant: It grew 25%.")
}

func TestAnswer_ZeroWindowMeansNoMemory(t *testing.T) {
	llm := &scriptedLLM{answer: "ok"}
	search := &stubSearch{resp: domain.SearchResponse{Results: threePassages}}
	_, err := newEngine(llm, search, 0).Answer(context.Background(), "next", newState(true, priorTurns...))
	require.NoError(t, err)
	assert.Len(t, llm.prompts, 1)
}

func TestAnswer_IdenticalPromptWithoutMemory(t *testing.T) {
	llm := &scriptedLLM{answer: "ok"}
	search := &stubSearch{resp: domain.SearchResponse{Results: threePassages}}
	e := newEngine(llm, search, 7)
	state := newState(false)
	state.Selections.Segment = "Food Delivery"

	for i := 0; i < 3; i++ {
		_, err := e.Answer(context.Background(), "What was revenue?", state)
		require.NoError(t, err)
	}
	require.Len(t, llm.prompts, 3)
	assert.Equal(t, llm.prompts[0], llm.prompts[1])
	assert.Equal(t, llm.prompts[1], llm.prompts[2])
}

func TestAnswer_SourcesDeduplicated(t *testing.T) {
	llm := &scriptedLLM{answer: "ok"}
	search := &stubSearch{resp: domain.SearchResponse{Results: threePassages}}
	res, err := newEngine(llm, search, 7).Answer(context.Background(), "q", newState(false))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"report.pdf", "deck.pptx"}, res.Sources)
}

func TestAnswer_Sanitization(t *testing.T) {
	llm := &scriptedLLM{rewrite: "the company's revenue", answer: "The company's revenue isn't public."}
	search := &stubSearch{resp: domain.SearchResponse{Results: threePassages}}
	res, err := newEngine(llm, search, 7).Answer(context.Background(), "What's the company's revenue?", newState(true, priorTurns...))
	require.NoError(t, err)

	assert.Equal(t, "The companys revenue isnt public.", res.Answer)
	assert.Equal(t, []string{"the companys revenue"}, search.queries)
	assert.Contains(t, llm.prompts[0], "<question>\nWhats the companys revenue?\n</question>")
	// passage text keeps its quotes
	assert.Contains(t, llm.prompts[1], "The company's GOV doubled.")
}

func TestAnswer_FilterComposition(t *testing.T) {
	llm := &scriptedLLM{answer: "ok"}
	search := &stubSearch{resp: domain.SearchResponse{Results: threePassages}}
	e := newEngine(llm, search, 7)

	state := newState(false)
	_, err := e.Answer(context.Background(), "q", state)
	require.NoError(t, err)

	state.Selections.Segment = "Food Delivery"
	_, err = e.Answer(context.Background(), "q", state)
	require.NoError(t, err)

	state.Selections.Metric = "Revenue"
	_, err = e.Answer(context.Background(), "q", state)
	require.NoError(t, err)

	require.Len(t, search.filters, 3)
	assert.Nil(t, search.filters[0])
	assert.Len(t, search.filters[1].Equalities, 1)
	assert.Len(t, search.filters[2].Equalities, 2)
}

func TestAnswer_EmptyContextStillPrompts(t *testing.T) {
	llm := &scriptedLLM{answer: "I don't have enough information."}
	search := &stubSearch{resp: domain.SearchResponse{Raw: `{"results":[]}`}}
	res, err := newEngine(llm, search, 7).Answer(context.Background(), "q", newState(false))
	require.NoError(t, err)
	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "<context>\n\n</context>")
	assert.Empty(t, res.Sources)
	assert.Equal(t, "I dont have enough information.", res.Answer)
}

func TestAnswer_RewriteFailureIsTerminal(t *testing.T) {
	llm := &scriptedLLM{rewriteErr: errors.New("model overloaded"), answer: "unused"}
	search := &stubSearch{resp: domain.SearchResponse{Results: threePassages}}
	_, err := newEngine(llm, search, 7).Answer(context.Background(), "q", newState(true, priorTurns...))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRewrite)
	assert.Empty(t, search.queries, "must not fall back to the raw question")
	assert.Len(t, llm.prompts, 1)
}

func TestAnswer_EmptyRewriteIsFailure(t *testing.T) {
	llm := &scriptedLLM{rewrite: " ' ", answer: "unused"}
	search := &stubSearch{}
	res, err := newEngine(llm, search, 7).Answer(context.Background(), "q", newState(true, priorTurns...))
	assert.ErrorIs(t, err, domain.ErrRewrite)
	assert.Equal(t, " ' ", res.Trace.RawRewrite)
	assert.Empty(t, search.queries)
}

func TestAnswer_RetrievalFailures(t *testing.T) {
	for _, kind := range []error{domain.ErrRetrieval, domain.ErrMalformedContext} {
		t.Run(kind.Error(), func(t *testing.T) {
			llm := &scriptedLLM{answer: "unused"}
			search := &stubSearch{err: fmt.Errorf("%w: boom", kind), resp: domain.SearchResponse{Raw: "raw body"}}
			res, err := newEngine(llm, search, 7).Answer(context.Background(), "q", newState(false))
			assert.ErrorIs(t, err, kind)
			assert.Empty(t, llm.prompts)
			assert.Equal(t, "raw body", res.Trace.RawRetrieval)
		})
	}
}

func TestAnswer_CompletionFailure(t *testing.T) {
	llm := &scriptedLLM{answerErr: errors.New("503")}
	search := &stubSearch{resp: domain.SearchResponse{Results: threePassages}}
	res, err := newEngine(llm, search, 7).Answer(context.Background(), "q", newState(false))
	assert.ErrorIs(t, err, domain.ErrCompletion)
	assert.Empty(t, res.Answer)
	assert.NotEmpty(t, res.Trace.Prompt)
}

func TestAnswer_CancelledAfterRewrite(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	llm := &scriptedLLM{rewrite: "q", answer: "unused", onRewrite: cancel}
	search := &stubSearch{resp: domain.SearchResponse{Results: threePassages}}

	_, err := newEngine(llm, search, 7).Answer(ctx, "q", newState(true, priorTurns...))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, search.queries)
	assert.Len(t, llm.prompts, 1)
}

func TestAnswer_EmptyQuestion(t *testing.T) {
	llm := &scriptedLLM{}
	_, err := newEngine(llm, &stubSearch{}, 7).Answer(context.Background(), "''", newState(false))
	assert.ErrorIs(t, err, domain.ErrEmptyQuery)
	assert.Empty(t, llm.prompts)
}

func TestAnswer_DoesNotMutateState(t *testing.T) {
	llm := &scriptedLLM{rewrite: "q", answer: "ok"}
	search := &stubSearch{resp: domain.SearchResponse{Results: threePassages}}
	state := newState(true, priorTurns...)
	_, err := newEngine(llm, search, 7).Answer(context.Background(), "q", state)
	require.NoError(t, err)
	assert.Equal(t, priorTurns, state.Turns)
}
