package graph

import (
	"context"
	"fmt"
	"strings"
)

// The fixed index set the analytic queries depend on. Known at design time;
// there is no dynamic index creation based on query shape.
var nodeIndexes = []struct{ label, property string }{
	{LabelRespondent, "id"},
	{LabelQuestion, "id"},
	{LabelQuestion, "category"},
	{LabelLocation, "id"},
	{LabelIndustry, "id"},
}

var relIndexes = []struct{ relType, property string }{
	{RelAnswered, "dedupe_key"},
	{RelAnswered, "timestamp"},
}

// EnsureIndexes declares every index the engine's queries rely on. It is
// declarative and safe to repeat on every startup.
func (g *GraphStore) EnsureIndexes(ctx context.Context) error {
	for _, ix := range nodeIndexes {
		if err := g.EnsureIndex(ctx, ix.label, ix.property); err != nil {
			return fmt.Errorf("ensure index %s.%s: %w", ix.label, ix.property, err)
		}
	}
	for _, ix := range relIndexes {
		if err := g.ensureRelIndex(ctx, ix.relType, ix.property); err != nil {
			return fmt.Errorf("ensure index %s.%s: %w", ix.relType, ix.property, err)
		}
	}
	return nil
}

// EnsureIndex declares a node-property index; no-op if already present.
func (g *GraphStore) EnsureIndex(ctx context.Context, label, property string) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	label = sanitizeLabel(label)
	cypher := fmt.Sprintf(`CREATE INDEX %s IF NOT EXISTS FOR (n:%s) ON (n.%s)`,
		indexName(label, property), label, property)
	_, err := sess.Run(ctx, cypher, nil)
	return wrapQueryErr(ctx, "ensure index", err)
}

func (g *GraphStore) ensureRelIndex(ctx context.Context, relType, property string) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	relType = sanitizeRelType(relType)
	cypher := fmt.Sprintf(`CREATE INDEX %s IF NOT EXISTS FOR ()-[r:%s]-() ON (r.%s)`,
		indexName(relType, property), relType, property)
	_, err := sess.Run(ctx, cypher, nil)
	return wrapQueryErr(ctx, "ensure index", err)
}

func indexName(ident, property string) string {
	return "idx_" + strings.ToLower(ident) + "_" + strings.ToLower(property)
}
