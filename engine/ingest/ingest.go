// Package ingest turns flat survey response rows into graph writes: nodes
// before edges, one row at a time, with row-scoped failure reporting.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/graphpoll/graphpoll/engine/domain"
	"github.com/graphpoll/graphpoll/engine/graph"
	"github.com/graphpoll/graphpoll/pkg/fn"
)

// Pipeline processes survey rows into the graph store.
type Pipeline struct {
	store Store
	opts  Options
	log   *slog.Logger
	stage fn.Stage[domain.Row, string]
}

// New creates a Pipeline over the given store.
func New(store Store, opts Options, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	p := &Pipeline{store: store, opts: opts, log: log}
	p.stage = fn.Then(
		fn.TracedStage("ingest.validate", Validate),
		fn.TracedStage("ingest.write", p.write),
	)
	return p
}

// Validate checks a row via domain validation.
var Validate fn.Stage[domain.Row, domain.Row] = func(_ context.Context, row domain.Row) fn.Result[domain.Row] {
	if err := domain.ValidateRow(row); err != nil {
		return fn.Err[domain.Row](err)
	}
	return fn.Ok(row)
}

// Ingest processes rows in input order. A row-scoped failure rejects that
// row and the batch continues; a store-level failure aborts the batch and
// is returned alongside the partial report.
func (p *Pipeline) Ingest(ctx context.Context, rows []domain.Row) (Report, error) {
	var report Report
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		result := p.stage(ctx, row)
		if result.IsErr() {
			_, err := result.Unwrap()
			if !domain.IsRowScoped(err) {
				p.log.Error("ingest: batch aborted", "row", i+1, "error", err)
				return report, fmt.Errorf("row %d: %w", i+1, err)
			}
			rowErr := &domain.RowError{Line: i + 1, Wrapped: err}
			p.log.Warn("ingest: row rejected", "row", i+1, "respondent", row.RespondentID, "error", err)
			report.Rejected++
			report.Reasons = append(report.Reasons, rowErr.Error())
			continue
		}
		report.Accepted++
	}
	p.log.Info("ingest: batch done", "accepted", report.Accepted, "rejected", report.Rejected)
	return report, nil
}

// write upserts one row's entities in dependency order so no edge ever
// references a node that does not exist yet: respondent, question,
// location/industry, then the answer edge.
func (p *Pipeline) write(ctx context.Context, row domain.Row) fn.Result[string] {
	if err := p.upsertRespondent(ctx, row); err != nil {
		return fn.Err[string](err)
	}
	if err := p.upsertQuestion(ctx, row); err != nil {
		return fn.Err[string](err)
	}
	if err := p.upsertDemographics(ctx, row); err != nil {
		return fn.Err[string](err)
	}
	answer := graph.Answer{
		RespondentID: row.RespondentID,
		QuestionID:   row.QuestionID,
		Value:        row.AnswerValue,
		Timestamp:    row.Timestamp,
	}
	attrs := map[string]any{
		"value":     answer.Value,
		"timestamp": answer.Timestamp.UTC().Unix(),
	}
	err := p.store.UpsertRelationship(ctx, graph.RelAnswered,
		graph.LabelRespondent, answer.RespondentID,
		graph.LabelQuestion, answer.QuestionID,
		attrs, answer.DedupeKey())
	if err != nil {
		return fn.Err[string](err)
	}
	return fn.Ok(answer.DedupeKey())
}

func (p *Pipeline) upsertRespondent(ctx context.Context, row domain.Row) error {
	attrs := map[string]any{
		"age":       row.Age,
		"gender":    row.Gender,
		"education": row.Education,
	}
	if err := p.checkConflict(ctx, graph.LabelRespondent, row.RespondentID, attrs); err != nil {
		return err
	}
	return p.store.UpsertNode(ctx, graph.LabelRespondent, row.RespondentID, pruneEmpty(attrs))
}

func (p *Pipeline) upsertQuestion(ctx context.Context, row domain.Row) error {
	attrs := map[string]any{
		"text":     row.QuestionText,
		"category": row.QuestionCategory,
		"type":     row.QuestionType,
	}
	if err := p.checkConflict(ctx, graph.LabelQuestion, row.QuestionID, attrs); err != nil {
		return err
	}
	return p.store.UpsertNode(ctx, graph.LabelQuestion, row.QuestionID, pruneEmpty(attrs))
}

func (p *Pipeline) upsertDemographics(ctx context.Context, row domain.Row) error {
	if row.Location != "" {
		if err := p.store.UpsertNode(ctx, graph.LabelLocation, row.Location, map[string]any{"name": row.Location}); err != nil {
			return err
		}
		if err := p.store.ReplaceRelationship(ctx, graph.RelLivesIn,
			graph.LabelRespondent, row.RespondentID, graph.LabelLocation, row.Location); err != nil {
			return err
		}
	}
	if row.Industry != "" {
		if err := p.store.UpsertNode(ctx, graph.LabelIndustry, row.Industry, map[string]any{"name": row.Industry}); err != nil {
			return err
		}
		if err := p.store.ReplaceRelationship(ctx, graph.RelWorksIn,
			graph.LabelRespondent, row.RespondentID, graph.LabelIndustry, row.Industry); err != nil {
			return err
		}
	}
	return nil
}

// checkConflict compares a row's claimed attributes with what the graph
// already stores for the entity. An attribute the row leaves empty (or, for
// age, zero) claims nothing and never conflicts.
func (p *Pipeline) checkConflict(ctx context.Context, label, key string, incoming map[string]any) error {
	if p.opts.ConflictPolicy == domain.ConflictLastWriteWins {
		return nil
	}
	stored, found, err := p.store.NodeProps(ctx, label, key)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	for attr, want := range incoming {
		if isEmptyClaim(want) {
			continue
		}
		have, ok := stored[attr]
		if !ok || isEmptyClaim(have) {
			continue
		}
		if !sameScalar(have, want) {
			return &domain.ConflictingAttributeError{
				Label: label, Key: key, Attribute: attr,
				Stored: have, Incoming: want,
			}
		}
	}
	return nil
}

// pruneEmpty drops attributes the row makes no claim about so an upsert
// never erases a previously stored value.
func pruneEmpty(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		if !isEmptyClaim(v) {
			out[k] = v
		}
	}
	return out
}

func isEmptyClaim(v any) bool {
	switch t := v.(type) {
	case string:
		return t == ""
	case int:
		return t == 0
	case int64:
		return t == 0
	case nil:
		return true
	}
	return false
}

// sameScalar compares stored and incoming values across the numeric type
// boundary the store introduces (ints come back as int64).
func sameScalar(a, b any) bool {
	if na, ok := asInt64(a); ok {
		if nb, ok := asInt64(b); ok {
			return na == nb
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func asInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	}
	return 0, false
}
