package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"ragchat/internal/domain"
	"ragchat/internal/history"
	"ragchat/internal/logging"
	"ragchat/internal/metrics"
	"ragchat/internal/retrieval"
)

// Engine answers one question: optional rewrite, retrieval, one completion.
type Engine struct {
	rewriter  *Rewriter
	assembler *Assembler
	llm       domain.CompletionCapability
	window    history.Window
	timeout   time.Duration
	log       *zap.Logger
}

type EngineConfig struct {
	HistoryWindow int
	// Timeout bounds each remote call; zero disables the bound.
	Timeout time.Duration
}

func NewEngine(rewriter *Rewriter, assembler *Assembler, llm domain.CompletionCapability, cfg EngineConfig, log *zap.Logger) *Engine {
	return &Engine{
		rewriter:  rewriter,
		assembler: assembler,
		llm:       llm,
		window:    history.Window{Size: cfg.HistoryWindow},
		timeout:   cfg.Timeout,
		log:       logging.Module(log, "engine"),
	}
}

// Answer runs the pipeline against a snapshot of the session state; state is
// not modified. The returned Trace is populated as far as the pipeline got,
// also on failure.
func (e *Engine) Answer(ctx context.Context, question string, state *domain.ConversationState) (domain.AnswerResult, error) {
	var res domain.AnswerResult
	sel := state.Selections
	log := e.log.With(zap.String("session_id", state.SessionID), zap.String("model", sel.Model))

	question = StripQuotes(question)
	if strings.TrimSpace(question) == "" {
		return res, domain.ErrEmptyQuery
	}

	var turns []domain.Turn
	if sel.Memory {
		turns = e.window.Trailing(state.Turns)
	}

	searchQuery := question
	if sel.Memory && len(turns) > 0 {
		rctx, cancel := e.callContext(ctx)
		query, raw, err := e.rewriter.Rewrite(rctx, turns, question, sel.Model)
		cancel()
		res.Trace.RawRewrite = raw
		if err != nil {
			return res, err
		}
		searchQuery = query
		res.Trace.Rewritten = true
	}
	res.Trace.SearchQuery = searchQuery
	if err := ctx.Err(); err != nil {
		return res, err
	}

	filter := retrieval.ComposeFilter(sel.Segment, sel.Metric)
	actx, cancel := e.callContext(ctx)
	asm, err := e.assembler.Assemble(actx, question, searchQuery, turns, filter)
	cancel()
	res.Trace.RawRetrieval = asm.Raw
	if err != nil {
		log.Warn("context assembly failed", zap.Error(err))
		return res, err
	}
	res.Trace.Prompt = asm.Prompt
	if err := ctx.Err(); err != nil {
		return res, err
	}

	start := time.Now()
	cctx, cancel := e.callContext(ctx)
	answer, err := e.llm.Complete(cctx, sel.Model, asm.Prompt)
	cancel()
	metrics.ObserveCompletion("answer", start, err)
	if err != nil {
		log.Warn("completion failed", zap.Error(err))
		return res, fmt.Errorf("%w: %w", domain.ErrCompletion, err)
	}

	res.Answer = StripQuotes(answer)
	res.Sources = asm.Sources
	log.Info("answered",
		zap.Bool("rewritten", res.Trace.Rewritten),
		zap.Int("history_turns", len(turns)),
		zap.Int("passages", len(asm.Passages)),
		zap.Int("sources", len(res.Sources)),
		zap.Duration("completion_latency", time.Since(start)),
	)
	return res, nil
}

func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.timeout)
}
