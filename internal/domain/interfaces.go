package domain

import (
	"context"
	"time"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single immutable entry of the conversation log.
type Turn struct {
	Role    Role
	Content string
}

// Field names understood by the search service.
const (
	FieldChunk        = "chunk"
	FieldRelativePath = "relative_path"
	FieldSegment      = "segment"
	FieldMetricType   = "metric_type"
)

// All is the selection value meaning "do not constrain this field".
const All = "ALL"

// SearchColumns is the ordered column list requested on every search.
var SearchColumns = []string{FieldChunk, FieldRelativePath, FieldSegment, FieldMetricType}

// FilterableFields is the allow-list of fields a RetrievalFilter may constrain.
var FilterableFields = map[string]struct{}{
	FieldSegment:    {},
	FieldMetricType: {},
}

// Equality is a single `field == value` predicate.
type Equality struct {
	Field string
	Value string
}

// Filter is a conjunction of equality predicates. A nil *Filter means an
// unrestricted search.
type Filter struct {
	Equalities []Equality
}

// Passage is a retrieved chunk of indexed text plus its metadata.
type Passage struct {
	Chunk        string `json:"chunk" yaml:"chunk"`
	RelativePath string `json:"relative_path" yaml:"relative_path"`
	Segment      string `json:"segment" yaml:"segment"`
	MetricType   string `json:"metric_type" yaml:"metric_type"`
}

// SearchRequest is the wire-level request to a SearchCapability.
type SearchRequest struct {
	Query   string
	Columns []string
	Filter  *Filter
	Limit   int
}

// SearchResponse carries parsed passages in service relevance order and the
// raw response body for diagnostics.
type SearchResponse struct {
	Results []Passage
	Raw     string
}

// SearchCapability is the externally hosted hybrid/semantic search index.
type SearchCapability interface {
	Search(ctx context.Context, req SearchRequest) (SearchResponse, error)
}

// CompletionCapability is the externally hosted LLM completion endpoint.
type CompletionCapability interface {
	Complete(ctx context.Context, model, prompt string) (string, error)
}

// Document is an entry of the stored corpus.
type Document struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// DocumentCatalog lists stored documents and resolves time-bounded URLs for them.
type DocumentCatalog interface {
	List(ctx context.Context) ([]Document, error)
	PresignedURL(ctx context.Context, path string, expiry time.Duration) (string, error)
	DistinctValues(ctx context.Context, column string) ([]string, error)
}

// Selections are the user-controlled knobs of a session.
type Selections struct {
	Model   string
	Segment string
	Metric  string
	Memory  bool
	Debug   bool
}

// ConversationState is the per-session state. It is owned by exactly one
// session controller and never shared.
type ConversationState struct {
	SessionID  string
	Turns      []Turn
	Selections Selections
}

// Trace records the intermediate artifacts of one answer for debug display.
type Trace struct {
	Rewritten    bool
	RawRewrite   string
	SearchQuery  string
	RawRetrieval string
	Prompt       string
}

// AnswerResult is the outcome of one question.
type AnswerResult struct {
	Answer  string
	Sources []string
	Trace   Trace
}
