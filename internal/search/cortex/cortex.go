package cortex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"ragchat/internal/domain"
)

// Service is a minimal REST client to a managed Cortex Search service.
type Service struct {
	endpoint  string
	token     string
	tokenType string
	client    *http.Client
}

type Config struct {
	AccountURL string
	Database   string
	Schema     string
	Service    string
	// TokenEnv names the environment variable holding the bearer token.
	TokenEnv  string
	TokenType string
	Timeout   time.Duration
}

func NewService(cfg Config) (*Service, error) {
	if cfg.AccountURL == "" || cfg.Service == "" {
		return nil, errors.New("cortex: account url and service are required")
	}
	var token string
	if cfg.TokenEnv != "" {
		token = os.Getenv(cfg.TokenEnv)
		if token == "" {
			return nil, fmt.Errorf("cortex: missing token in env %s", cfg.TokenEnv)
		}
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	tokenType := cfg.TokenType
	if tokenType == "" {
		tokenType = "PROGRAMMATIC_ACCESS_TOKEN"
	}
	endpoint := fmt.Sprintf("%s/api/v2/databases/%s/schemas/%s/cortex-search-services/%s:query",
		strings.TrimRight(cfg.AccountURL, "/"),
		url.PathEscape(cfg.Database),
		url.PathEscape(cfg.Schema),
		url.PathEscape(cfg.Service),
	)
	return &Service{
		endpoint:  endpoint,
		token:     token,
		tokenType: tokenType,
		client:    &http.Client{Timeout: timeout},
	}, nil
}

type queryRequest struct {
	Query   string   `json:"query"`
	Columns []string `json:"columns"`
	Filter  any      `json:"filter,omitempty"`
	Limit   int      `json:"limit"`
}

// Search runs one query against the service. Transport and status failures
// wrap domain.ErrRetrieval; unparseable bodies wrap domain.ErrMalformedContext.
func (s *Service) Search(ctx context.Context, req domain.SearchRequest) (domain.SearchResponse, error) {
	body := queryRequest{
		Query:   req.Query,
		Columns: req.Columns,
		Limit:   req.Limit,
	}
	if req.Filter != nil {
		body.Filter = EncodeFilter(req.Filter)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return domain.SearchResponse{}, fmt.Errorf("%w: encode request: %w", domain.ErrRetrieval, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(data))
	if err != nil {
		return domain.SearchResponse{}, fmt.Errorf("%w: %w", domain.ErrRetrieval, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if s.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.token)
		httpReq.Header.Set("X-Snowflake-Authorization-Token-Type", s.tokenType)
	}
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return domain.SearchResponse{}, fmt.Errorf("%w: %w", domain.ErrRetrieval, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.SearchResponse{}, fmt.Errorf("%w: read body: %w", domain.ErrRetrieval, err)
	}
	if resp.StatusCode >= 300 {
		return domain.SearchResponse{Raw: string(payload)}, fmt.Errorf("%w: cortex search failed: %s", domain.ErrRetrieval, resp.Status)
	}
	results, err := ParseResults(payload)
	if err != nil {
		return domain.SearchResponse{Raw: string(payload)}, err
	}
	return domain.SearchResponse{Results: results, Raw: string(payload)}, nil
}

// ParseResults extracts passages from a query response body, keeping the
// service order.
func ParseResults(payload []byte) ([]domain.Passage, error) {
	if !gjson.ValidBytes(payload) {
		return nil, fmt.Errorf("%w: response is not valid JSON", domain.ErrMalformedContext)
	}
	results := gjson.GetBytes(payload, "results")
	if !results.IsArray() {
		return nil, fmt.Errorf("%w: response has no results collection", domain.ErrMalformedContext)
	}
	items := results.Array()
	passages := make([]domain.Passage, 0, len(items))
	for i, item := range items {
		path := item.Get(domain.FieldRelativePath)
		if !path.Exists() {
			return nil, fmt.Errorf("%w: result %d has no %s", domain.ErrMalformedContext, i, domain.FieldRelativePath)
		}
		passages = append(passages, domain.Passage{
			Chunk:        item.Get(domain.FieldChunk).String(),
			RelativePath: path.String(),
			Segment:      item.Get(domain.FieldSegment).String(),
			MetricType:   item.Get(domain.FieldMetricType).String(),
		})
	}
	return passages, nil
}

// EncodeFilter renders f in the service predicate grammar: a single
// equality is a bare {"@eq": {...}} leaf, several are wrapped in "@and".
func EncodeFilter(f *domain.Filter) any {
	if f == nil || len(f.Equalities) == 0 {
		return nil
	}
	leaves := make([]map[string]any, len(f.Equalities))
	for i, eq := range f.Equalities {
		leaves[i] = map[string]any{"@eq": map[string]string{eq.Field: eq.Value}}
	}
	if len(leaves) == 1 {
		return leaves[0]
	}
	return map[string]any{"@and": leaves}
}
