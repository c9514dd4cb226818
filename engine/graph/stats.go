package graph

import "context"

// NodeCounts returns node counts grouped by label.
func (g *GraphStore) NodeCounts(ctx context.Context) (map[string]int64, error) {
	return g.countsByType(ctx, `MATCH (n) RETURN labels(n)[0] AS type, count(*) AS count`)
}

// RelationshipCounts returns relationship counts grouped by type.
func (g *GraphStore) RelationshipCounts(ctx context.Context) (map[string]int64, error) {
	return g.countsByType(ctx, `MATCH ()-[r]->() RETURN type(r) AS type, count(*) AS count`)
}

func (g *GraphStore) countsByType(ctx context.Context, cypher string) (map[string]int64, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx, cypher, nil)
	if err != nil {
		return nil, wrapQueryErr(ctx, "counts", err)
	}
	counts := make(map[string]int64)
	for result.Next(ctx) {
		rec := result.Record()
		typ, _ := rec.Get("type")
		cnt, _ := rec.Get("count")
		if t, ok := typ.(string); ok {
			if c, ok := cnt.(int64); ok {
				counts[t] = c
			}
		}
	}
	return counts, result.Err()
}

// TotalRespondents returns the number of respondents known to the graph.
func (g *GraphStore) TotalRespondents(ctx context.Context) (int64, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx, `MATCH (r:Respondent) RETURN count(r) AS count`, nil)
	if err != nil {
		return 0, wrapQueryErr(ctx, "total respondents", err)
	}
	if !result.Next(ctx) {
		return 0, result.Err()
	}
	cnt, _ := result.Record().Get("count")
	if c, ok := cnt.(int64); ok {
		return c, nil
	}
	return 0, nil
}
