package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"ragchat/internal/domain"
)

// Service is an offline search capability over a fixed passage set, ranked
// by lexical overlap with the query.
type Service struct {
	mu       sync.RWMutex
	passages []domain.Passage
	tokens   []map[string]struct{}
}

type fixture struct {
	Passages []domain.Passage `yaml:"passages"`
}

func NewService(passages []domain.Passage) *Service {
	s := &Service{}
	s.Replace(passages)
	return s
}

// LoadFile reads a YAML fixture with a top-level `passages` list.
func LoadFile(path string) (*Service, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i, p := range f.Passages {
		if p.RelativePath == "" {
			return nil, fmt.Errorf("%s: passage %d has no relative_path", path, i)
		}
	}
	return NewService(f.Passages), nil
}

// Replace swaps the passage set.
func (s *Service) Replace(passages []domain.Passage) {
	tokens := make([]map[string]struct{}, len(passages))
	for i, p := range passages {
		tokens[i] = toTokenSet(p.Chunk)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passages = append([]domain.Passage(nil), passages...)
	s.tokens = tokens
}

// Search ranks matching passages by Ochiai overlap; ties keep fixture order.
func (s *Service) Search(ctx context.Context, req domain.SearchRequest) (domain.SearchResponse, error) {
	if err := ctx.Err(); err != nil {
		return domain.SearchResponse{}, fmt.Errorf("%w: %w", domain.ErrRetrieval, err)
	}
	if strings.TrimSpace(req.Query) == "" {
		return domain.SearchResponse{}, domain.ErrEmptyQuery
	}
	topK := req.Limit
	if topK <= 0 {
		topK = 3
	}
	qset := toTokenSet(req.Query)

	s.mu.RLock()
	type pair struct {
		idx   int
		score float64
	}
	var scores []pair
	for i, p := range s.passages {
		if !matches(p, req.Filter) {
			continue
		}
		score := overlapOchiai(qset, s.tokens[i])
		if score <= 0 {
			continue
		}
		scores = append(scores, pair{i, score})
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if topK > len(scores) {
		topK = len(scores)
	}
	results := make([]domain.Passage, 0, topK)
	for _, p := range scores[:topK] {
		results = append(results, s.passages[p.idx])
	}
	s.mu.RUnlock()

	raw, err := json.Marshal(map[string]any{"results": results})
	if err != nil {
		return domain.SearchResponse{}, errors.Join(domain.ErrMalformedContext, err)
	}
	return domain.SearchResponse{Results: results, Raw: string(raw)}, nil
}

// DistinctValues lists the distinct non-empty values of a passage column,
// in first-seen order.
func (s *Service) DistinctValues(column string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]struct{}{}
	var out []string
	for _, p := range s.passages {
		v := fieldValue(p, column)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func matches(p domain.Passage, f *domain.Filter) bool {
	if f == nil {
		return true
	}
	for _, eq := range f.Equalities {
		if fieldValue(p, eq.Field) != eq.Value {
			return false
		}
	}
	return true
}

func fieldValue(p domain.Passage, field string) string {
	switch field {
	case domain.FieldSegment:
		return p.Segment
	case domain.FieldMetricType:
		return p.MetricType
	case domain.FieldRelativePath:
		return p.RelativePath
	case domain.FieldChunk:
		return p.Chunk
	}
	return ""
}

var unicodeWordRe = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}\p{N}]+)*`)

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

// overlapOchiai is |A∩B| / sqrt(|A||B|).
func overlapOchiai(qset, dset map[string]struct{}) float64 {
	if len(qset) == 0 || len(dset) == 0 {
		return 0
	}
	inter := 0
	for t := range qset {
		if _, ok := dset[t]; ok {
			inter++
		}
	}
	return float64(inter) / math.Sqrt(float64(len(qset))*float64(len(dset)))
}
