package stage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"time"

	"ragchat/internal/domain"
)

// Static is an offline catalog over files under a local root. URLs are
// file:// URLs and never expire.
type Static struct {
	root   string
	docs   []string
	values map[string][]string
}

// NewStatic creates a catalog listing docs, relative to root. values supplies
// the DistinctValues answers per column.
func NewStatic(root string, docs []string, values map[string][]string) *Static {
	if root == "" {
		root = "."
	}
	return &Static{root: root, docs: slices.Clone(docs), values: values}
}

func (s *Static) List(ctx context.Context) ([]domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]domain.Document, 0, len(s.docs))
	for _, p := range s.docs {
		doc := domain.Document{Path: p}
		if fi, err := os.Stat(filepath.Join(s.root, filepath.FromSlash(p))); err == nil {
			doc.Size = fi.Size()
			doc.LastModified = fi.ModTime()
		}
		out = append(out, doc)
	}
	return out, nil
}

func (s *Static) PresignedURL(_ context.Context, path string, _ time.Duration) (string, error) {
	abs, err := filepath.Abs(filepath.Join(s.root, filepath.FromSlash(path)))
	if err != nil {
		return "", fmt.Errorf("stage: %w", err)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return u.String(), nil
}

func (s *Static) DistinctValues(_ context.Context, column string) ([]string, error) {
	if _, ok := domain.FilterableFields[column]; !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrFilterField, column)
	}
	return slices.Clone(s.values[column]), nil
}
