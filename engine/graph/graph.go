package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/graphpoll/graphpoll/engine/domain"
	"github.com/graphpoll/graphpoll/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// GraphStore provides the node/relationship upsert and pattern-query
// capability the engine is written against.
type GraphStore struct {
	opener      SessionOpener
	respondents *repo.Neo4jRepo[Respondent, string]
	questions   *repo.Neo4jRepo[Question, string]
}

// New creates a GraphStore backed by a Neo4j driver. The driver is opened
// once by the caller, shared by all components, and closed on shutdown.
func New(driver neo4j.DriverWithContext) *GraphStore {
	return &GraphStore{
		opener:      &neo4jOpener{driver: driver},
		respondents: newRespondentRepo(driver),
		questions:   newQuestionRepo(driver),
	}
}

// NewWithOpener creates a GraphStore over any session opener. Entity reads
// fall back to pattern queries when no typed repositories are attached.
func NewWithOpener(opener SessionOpener) *GraphStore {
	return &GraphStore{opener: opener}
}

// UpsertNode creates the node if absent, else merges attributes. Idempotent
// under repeated identical calls.
func (g *GraphStore) UpsertNode(ctx context.Context, label, key string, attrs map[string]any) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf(`MERGE (n:%s {id: $id}) SET n += $props`, sanitizeLabel(label))
	_, err := sess.Run(ctx, cypher, map[string]any{"id": key, "props": attrs})
	return wrapQueryErr(ctx, "upsert node "+label, err)
}

// NodeProps returns the stored attributes of a node, with found=false when
// the node does not exist.
func (g *GraphStore) NodeProps(ctx context.Context, label, key string) (map[string]any, bool, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf(`MATCH (n:%s {id: $id}) RETURN properties(n) AS props`, sanitizeLabel(label))
	result, err := sess.Run(ctx, cypher, map[string]any{"id": key})
	if err != nil {
		return nil, false, wrapQueryErr(ctx, "node props "+label, err)
	}
	if !result.Next(ctx) {
		return nil, false, result.Err()
	}
	v, ok := result.Record().Get("props")
	if !ok {
		return nil, false, fmt.Errorf("no props field in %s result", label)
	}
	props, ok := v.(map[string]any)
	if !ok {
		return nil, false, fmt.Errorf("unexpected props type for %s %q", label, key)
	}
	return props, true, nil
}

// UpsertRelationship creates a relationship between two existing nodes
// unless one with the same dedupe key already exists, in which case the
// attributes are merged. Returns MissingEndpointError when either endpoint
// is absent: endpoints must be written before edges that reference them.
func (g *GraphStore) UpsertRelationship(ctx context.Context, relType, fromLabel, fromKey, toLabel, toKey string, attrs map[string]any, dedupeKey string) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf(
		`MATCH (a:%s {id: $from})
		 MATCH (b:%s {id: $to})
		 MERGE (a)-[r:%s {dedupe_key: $key}]->(b)
		 SET r += $props
		 RETURN count(r) AS n`,
		sanitizeLabel(fromLabel), sanitizeLabel(toLabel), sanitizeRelType(relType),
	)
	result, err := sess.Run(ctx, cypher, map[string]any{
		"from":  fromKey,
		"to":    toKey,
		"key":   dedupeKey,
		"props": attrs,
	})
	if err != nil {
		return wrapQueryErr(ctx, "upsert relationship "+relType, err)
	}
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return wrapQueryErr(ctx, "upsert relationship "+relType, err)
		}
		return &domain.MissingEndpointError{RelType: relType, FromKey: fromKey, ToKey: toKey}
	}
	return nil
}

// ReplaceRelationship upserts a functional relationship: at most one target
// per source at a time. Any edge of the same type to a different target is
// removed before the new one is merged.
func (g *GraphStore) ReplaceRelationship(ctx context.Context, relType, fromLabel, fromKey, toLabel, toKey string) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	rel := sanitizeRelType(relType)
	from := sanitizeLabel(fromLabel)
	to := sanitizeLabel(toLabel)

	_, err := sess.ExecuteWrite(ctx, func(tx CypherRunner) (any, error) {
		stale := fmt.Sprintf(
			`MATCH (a:%s {id: $from})-[old:%s]->(t) WHERE t.id <> $to DELETE old`, from, rel)
		if _, err := tx.Run(ctx, stale, map[string]any{"from": fromKey, "to": toKey}); err != nil {
			return nil, err
		}
		merge := fmt.Sprintf(
			`MATCH (a:%s {id: $from})
			 MATCH (b:%s {id: $to})
			 MERGE (a)-[r:%s]->(b)
			 RETURN count(r) AS n`, from, to, rel)
		result, err := tx.Run(ctx, merge, map[string]any{"from": fromKey, "to": toKey})
		if err != nil {
			return nil, err
		}
		if !result.Next(ctx) {
			return nil, &domain.MissingEndpointError{RelType: relType, FromKey: fromKey, ToKey: toKey}
		}
		return nil, nil
	})
	return wrapQueryErr(ctx, "replace relationship "+relType, err)
}

// Query executes a read-only pattern query and returns one field-name map
// per row. No side effects.
func (g *GraphStore) Query(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return nil, wrapQueryErr(ctx, "query", err)
	}
	var rows []map[string]any
	for result.Next(ctx) {
		rec := result.Record()
		row := make(map[string]any, len(rec.Keys))
		for i, k := range rec.Keys {
			row[k] = rec.Values[i]
		}
		rows = append(rows, row)
	}
	if err := result.Err(); err != nil {
		return nil, wrapQueryErr(ctx, "query", err)
	}
	return rows, nil
}

// GetRespondent returns a respondent by id.
func (g *GraphStore) GetRespondent(ctx context.Context, id string) (Respondent, error) {
	if g.respondents != nil {
		return g.respondents.Get(ctx, id)
	}
	props, found, err := g.NodeProps(ctx, LabelRespondent, id)
	if err != nil {
		return Respondent{}, err
	}
	if !found {
		return Respondent{}, fmt.Errorf("respondent %q not found", id)
	}
	return respondentFromProps(props), nil
}

// GetQuestion returns a question by id.
func (g *GraphStore) GetQuestion(ctx context.Context, id string) (Question, error) {
	if g.questions != nil {
		return g.questions.Get(ctx, id)
	}
	props, found, err := g.NodeProps(ctx, LabelQuestion, id)
	if err != nil {
		return Question{}, err
	}
	if !found {
		return Question{}, fmt.Errorf("question %q not found", id)
	}
	return questionFromProps(props), nil
}

// wrapQueryErr maps a deadline-exceeded store error onto the engine's
// timeout taxonomy; everything else passes through untouched.
func wrapQueryErr(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &domain.QueryTimeoutError{Op: op}
	}
	return err
}

// sanitizeLabel keeps a node label a valid cypher identifier.
func sanitizeLabel(l string) string {
	safe := make([]byte, 0, len(l))
	for i := range l {
		c := l[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			safe = append(safe, c)
		}
	}
	if len(safe) == 0 {
		return "Node"
	}
	return string(safe)
}

// sanitizeRelType keeps a relationship type a valid cypher identifier,
// uppercased per convention.
func sanitizeRelType(t string) string {
	safe := make([]byte, 0, len(t))
	for i := range t {
		c := t[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			safe = append(safe, c)
		}
	}
	if len(safe) == 0 {
		return "RELATED_TO"
	}
	for i := range safe {
		if safe[i] >= 'a' && safe[i] <= 'z' {
			safe[i] -= 32
		}
	}
	return string(safe)
}
