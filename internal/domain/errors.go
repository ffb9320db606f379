package domain

import (
	"context"
	"errors"
)

// Failure kinds of the answering pipeline. All of them are terminal for the
// question being answered.
var (
	ErrRetrieval        = errors.New("retrieval failure")
	ErrRewrite          = errors.New("rewrite failure")
	ErrCompletion       = errors.New("completion failure")
	ErrMalformedContext = errors.New("malformed context")
)

var (
	ErrEmptyQuery  = errors.New("search query must not be empty")
	ErrFilterField = errors.New("field is not filterable")
)

// UserMessage renders err as a short, non-technical notice.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "The request was cancelled."
	case errors.Is(err, context.DeadlineExceeded):
		return "The assistant took too long to respond. Please try again."
	case errors.Is(err, ErrMalformedContext):
		return "The document search returned an unexpected response, so no answer was produced."
	case errors.Is(err, ErrRetrieval):
		return "The document search is unavailable right now. Please try again later."
	case errors.Is(err, ErrRewrite):
		return "Your question could not be combined with the conversation so far. Try rephrasing it or clear the chat."
	case errors.Is(err, ErrCompletion):
		return "The language model could not produce an answer. Please try again."
	default:
		return "Something went wrong while answering your question."
	}
}
