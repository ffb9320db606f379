package retrieval

import (
	"fmt"

	"ragchat/internal/domain"
)

// ComposeFilter turns the segment and metric selections into a filter.
// It returns nil when neither dimension is constrained.
func ComposeFilter(segment, metric string) *domain.Filter {
	var eqs []domain.Equality
	if segment != "" && segment != domain.All {
		eqs = append(eqs, domain.Equality{Field: domain.FieldSegment, Value: segment})
	}
	if metric != "" && metric != domain.All {
		eqs = append(eqs, domain.Equality{Field: domain.FieldMetricType, Value: metric})
	}
	if len(eqs) == 0 {
		return nil
	}
	return &domain.Filter{Equalities: eqs}
}

// ValidateFilter rejects predicates on fields outside the allow-list.
func ValidateFilter(f *domain.Filter) error {
	if f == nil {
		return nil
	}
	for _, eq := range f.Equalities {
		if _, ok := domain.FilterableFields[eq.Field]; !ok {
			return fmt.Errorf("%w: %s", domain.ErrFilterField, eq.Field)
		}
	}
	return nil
}
