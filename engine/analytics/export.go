package analytics

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/graphpoll/graphpoll/engine/domain"
	"github.com/graphpoll/graphpoll/pkg/fn"
)

// exportFields is the canonical column order of the flattened
// respondent/answer/question join.
var exportFields = []string{
	"respondent_id", "age", "age_group", "gender", "education",
	"location", "industry",
	"question_id", "question_text", "question_category", "question_type",
	"answer_value", "timestamp",
}

var exportFieldSet = func() map[string]bool {
	set := make(map[string]bool, len(exportFields))
	for _, f := range exportFields {
		set[f] = true
	}
	return set
}()

// Export returns the flattened Respondent × Answered × Question join as
// tabular rows, header first. fields selects and orders the columns; nil
// means all columns in canonical order. Rows are ordered by respondent,
// question, then answer timestamp.
func (e *Engine) Export(ctx context.Context, fields []string) ([][]string, error) {
	if len(fields) == 0 {
		fields = exportFields
	}
	for _, f := range fields {
		if !exportFieldSet[f] {
			return nil, &domain.InvalidFilterError{Field: "fields", Value: f}
		}
	}

	cypher := "MATCH (r:Respondent)-[a:ANSWERED]->(q:Question) " +
		"OPTIONAL MATCH (r)-[:LIVES_IN]->(l:Location) " +
		"OPTIONAL MATCH (r)-[:WORKS_IN]->(i:Industry) " +
		"RETURN r.id AS respondent_id, r.age AS age, r.gender AS gender, " +
		"r.education AS education, l.id AS location, i.id AS industry, " +
		"q.id AS question_id, q.text AS question_text, " +
		"q.category AS question_category, q.type AS question_type, " +
		"a.value AS answer_value, a.timestamp AS timestamp " +
		"ORDER BY r.id, q.id, a.timestamp"
	rows, err := e.source.Query(ctx, cypher, nil)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}

	out := make([][]string, 0, len(rows)+1)
	out = append(out, fields)
	for _, row := range rows {
		out = append(out, fn.Map(fields, func(f string) string {
			return exportCell(f, row)
		}))
	}
	e.log.Debug("export built", "rows", len(rows), "fields", len(fields))
	return out, nil
}

func exportCell(field string, row map[string]any) string {
	switch field {
	case "age":
		return strconv.Itoa(integer(row["age"]))
	case "age_group":
		return domain.AgeGroup(integer(row["age"]))
	case "timestamp":
		if unix := row["timestamp"]; unix != nil {
			return time.Unix(int64(integer(unix)), 0).UTC().Format(time.RFC3339)
		}
		return ""
	default:
		return str(row[field])
	}
}
