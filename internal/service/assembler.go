package service

import (
	"context"
	"fmt"

	"ragchat/internal/domain"
	"ragchat/internal/retrieval"
)

// Retriever is the slice of retrieval.Client the assembler depends on.
type Retriever interface {
	Search(ctx context.Context, query string, filter *domain.Filter, limit int) (domain.SearchResponse, error)
}

// Assembly is the output of one context assembly.
type Assembly struct {
	Prompt   string
	Sources  []string
	Passages []domain.Passage
	Raw      string
}

// Assembler fetches passages and renders the grounded answer prompt.
type Assembler struct {
	retriever Retriever
	limit     int
	persona   string
}

func NewAssembler(retriever Retriever, limit int, persona string) *Assembler {
	if limit <= 0 {
		limit = retrieval.DefaultLimit
	}
	return &Assembler{retriever: retriever, limit: limit, persona: persona}
}

// Assemble retrieves passages for searchQuery and renders the prompt for
// question. Zero passages still yield a prompt, with an empty context. On a
// retrieval failure the raw response, if any, is kept on the Assembly.
func (a *Assembler) Assemble(ctx context.Context, question, searchQuery string, history []domain.Turn, filter *domain.Filter) (Assembly, error) {
	resp, err := a.retriever.Search(ctx, searchQuery, filter, a.limit)
	if err != nil {
		return Assembly{Raw: resp.Raw}, err
	}
	prompt, err := buildAnswerPrompt(a.persona, history, resp.Results, question)
	if err != nil {
		return Assembly{Raw: resp.Raw}, fmt.Errorf("%w: render prompt: %w", domain.ErrMalformedContext, err)
	}
	return Assembly{
		Prompt:   prompt,
		Sources:  retrieval.SourcePaths(resp.Results),
		Passages: resp.Results,
		Raw:      resp.Raw,
	}, nil
}
