package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"ragchat/internal/domain"
	"ragchat/internal/logging"
	"ragchat/internal/metrics"
)

// DefaultLimit is the number of passages fetched per question.
const DefaultLimit = 3

// Client wraps a SearchCapability with query and filter validation.
type Client struct {
	search domain.SearchCapability
	log    *zap.Logger
}

func NewClient(search domain.SearchCapability, log *zap.Logger) *Client {
	return &Client{search: search, log: logging.Module(log, "retrieval")}
}

// Search returns passages in the service's relevance order. Failures are
// returned as-is: an error is never turned into an empty result set.
func (c *Client) Search(ctx context.Context, query string, filter *domain.Filter, limit int) (domain.SearchResponse, error) {
	if strings.TrimSpace(query) == "" {
		return domain.SearchResponse{}, domain.ErrEmptyQuery
	}
	if err := ValidateFilter(filter); err != nil {
		return domain.SearchResponse{}, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	start := time.Now()
	resp, err := c.search.Search(ctx, domain.SearchRequest{
		Query:   query,
		Columns: domain.SearchColumns,
		Filter:  filter,
		Limit:   limit,
	})
	metrics.ObserveSearch(start, len(resp.Results), err)
	if err != nil {
		c.log.Warn("search failed", zap.Error(err), zap.Duration("latency", time.Since(start)))
		if !errors.Is(err, domain.ErrRetrieval) && !errors.Is(err, domain.ErrMalformedContext) {
			err = fmt.Errorf("%w: %w", domain.ErrRetrieval, err)
		}
		return resp, err
	}
	if len(resp.Results) > limit {
		resp.Results = resp.Results[:limit]
	}
	c.log.Debug("search done",
		zap.Int("passages", len(resp.Results)),
		zap.Bool("filtered", filter != nil),
		zap.Duration("latency", time.Since(start)),
	)
	return resp, nil
}

// SourcePaths returns the distinct relative paths of passages, sorted.
func SourcePaths(passages []domain.Passage) []string {
	seen := make(map[string]struct{}, len(passages))
	out := make([]string, 0, len(passages))
	for _, p := range passages {
		if _, ok := seen[p.RelativePath]; ok {
			continue
		}
		seen[p.RelativePath] = struct{}{}
		out = append(out, p.RelativePath)
	}
	sort.Strings(out)
	return out
}
