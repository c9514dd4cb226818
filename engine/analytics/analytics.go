// Package analytics answers read queries over the survey graph: pairwise
// respondent similarity, per-question completion rates, and a flattened
// export of the respondent/answer/question join.
package analytics

import (
	"context"
	"log/slog"

	"github.com/graphpoll/graphpoll/engine/domain"
)

// Source is the read surface the engine needs from the graph store.
type Source interface {
	Query(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
	TotalRespondents(ctx context.Context) (int64, error)
}

// Filters narrows a similarity query to a question category and/or a
// demographic subgroup.
type Filters struct {
	QuestionCategory string
	Demographic      map[string]string
}

// demographicFields is the fixed filter vocabulary. age_group matches the
// derived bucket, the rest match stored attributes or relations.
var demographicFields = map[string]bool{
	"age_group": true,
	"gender":    true,
	"education": true,
	"location":  true,
	"industry":  true,
}

var ageGroups = map[string]bool{
	"unknown": true, "under_18": true, "18-24": true, "25-34": true,
	"35-44": true, "45-54": true, "55-64": true, "65_plus": true,
}

// Engine runs analytic queries through a graph Source. Queries are pure
// reads and safe to run concurrently.
type Engine struct {
	source  Source
	log     *slog.Logger
	workers int
}

func New(source Source, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{source: source, log: log, workers: 8}
}

// validateFilters rejects unknown demographic fields, unknown age buckets,
// and question categories absent from the graph before any heavy query runs.
func (e *Engine) validateFilters(ctx context.Context, f Filters) error {
	for field, value := range f.Demographic {
		if !demographicFields[field] {
			return &domain.InvalidFilterError{Field: field, Value: value}
		}
		if field == "age_group" && !ageGroups[value] {
			return &domain.InvalidFilterError{Field: field, Value: value}
		}
	}
	if f.QuestionCategory != "" {
		known, err := e.questionCategories(ctx)
		if err != nil {
			return err
		}
		if !known[f.QuestionCategory] {
			return &domain.InvalidFilterError{Field: "question_category", Value: f.QuestionCategory}
		}
	}
	return nil
}

func (e *Engine) questionCategories(ctx context.Context) (map[string]bool, error) {
	rows, err := e.source.Query(ctx,
		"MATCH (q:Question) WHERE q.category IS NOT NULL RETURN DISTINCT q.category AS category", nil)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(rows))
	for _, row := range rows {
		if c, ok := row["category"].(string); ok {
			known[c] = true
		}
	}
	return known, nil
}
