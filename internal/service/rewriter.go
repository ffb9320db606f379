package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"ragchat/internal/domain"
	"ragchat/internal/logging"
	"ragchat/internal/metrics"
)

// Rewriter turns a follow-up question plus prior turns into a standalone
// search query.
type Rewriter struct {
	llm domain.CompletionCapability
	log *zap.Logger
}

func NewRewriter(llm domain.CompletionCapability, log *zap.Logger) *Rewriter {
	return &Rewriter{llm: llm, log: logging.Module(log, "rewriter")}
}

// Rewrite returns the sanitized query and the raw model output. Any failure
// wraps domain.ErrRewrite; callers must not fall back to the raw question.
func (r *Rewriter) Rewrite(ctx context.Context, history []domain.Turn, question, model string) (query, raw string, err error) {
	prompt, err := buildRewritePrompt(history, question)
	if err != nil {
		return "", "", fmt.Errorf("%w: render prompt: %w", domain.ErrRewrite, err)
	}
	start := time.Now()
	raw, err = r.llm.Complete(ctx, model, prompt)
	metrics.ObserveCompletion("rewrite", start, err)
	if err != nil {
		r.log.Warn("rewrite failed", zap.String("model", model), zap.Error(err))
		return "", "", fmt.Errorf("%w: %w", domain.ErrRewrite, err)
	}
	query = strings.TrimSpace(StripQuotes(raw))
	if query == "" {
		return "", raw, fmt.Errorf("%w: %w", domain.ErrRewrite, errors.New("model returned an empty query"))
	}
	r.log.Debug("rewrote question",
		zap.String("model", model),
		zap.Int("history_turns", len(history)),
		zap.String("query", query),
		zap.Duration("latency", time.Since(start)),
	)
	return query, raw, nil
}
