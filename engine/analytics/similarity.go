package analytics

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/graphpoll/graphpoll/engine/domain"
	"github.com/graphpoll/graphpoll/pkg/fn"
)

// Pair is one similarity result: the number of questions both respondents
// answered with an identical value. A < B always holds.
type Pair struct {
	A     string `json:"respondent_a"`
	B     string `json:"respondent_b"`
	Score int    `json:"score"`
}

type pairKey struct {
	a, b string
}

// answerTuple is one (respondent, question, value) fact pulled from the
// graph, with the respondent's demographics attached for subgroup filtering.
type answerTuple struct {
	Respondent string
	Question   string
	Value      string
	Age        int
	Gender     string
	Education  string
	Location   string
	Industry   string
}

// questionGroup holds, for one question, the set of respondents per answer
// value. It is the unit of parallel work.
type questionGroup struct {
	question string
	byValue  map[string]map[string]struct{}
}

// Similarity computes pairwise respondent similarity. Pairs with a score
// strictly above threshold are reported, so the zero default means all
// non-zero pairs. Results are ordered by descending score, then ascending
// (A, B).
//
// Rather than comparing every respondent against every other, answers are
// grouped per question by value; only respondents inside the same value
// group can contribute, which keeps unrelated respondents out of the
// pairwise step entirely.
func (e *Engine) Similarity(ctx context.Context, f Filters, threshold int) ([]Pair, error) {
	if err := e.validateFilters(ctx, f); err != nil {
		return nil, err
	}
	tuples, err := e.fetchAnswers(ctx, f.QuestionCategory)
	if err != nil {
		return nil, err
	}
	tuples = filterDemographic(tuples, f.Demographic)

	groups := groupByQuestion(tuples)
	partials := fn.ParMap(groups, e.workers, pairCounts)

	totals := make(map[pairKey]int)
	for _, partial := range partials {
		for k, n := range partial {
			totals[k] += n
		}
	}

	pairs := make([]Pair, 0, len(totals))
	for k, score := range totals {
		if score > threshold {
			pairs = append(pairs, Pair{A: k.a, B: k.b, Score: score})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Score != pairs[j].Score {
			return pairs[i].Score > pairs[j].Score
		}
		if pairs[i].A != pairs[j].A {
			return pairs[i].A < pairs[j].A
		}
		return pairs[i].B < pairs[j].B
	})
	e.log.Debug("similarity computed", "tuples", len(tuples), "questions", len(groups), "pairs", len(pairs))
	return pairs, nil
}

// pairCounts emits, for one question, a count of 1 per respondent pair that
// share an answer value. A pair is counted once per question even if both
// respondents revised their answers into more than one common value.
func pairCounts(g questionGroup) map[pairKey]int {
	seen := make(map[pairKey]struct{})
	for _, members := range g.byValue {
		if len(members) < 2 {
			continue
		}
		ids := make([]string, 0, len(members))
		for id := range members {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				seen[pairKey{a: ids[i], b: ids[j]}] = struct{}{}
			}
		}
	}
	counts := make(map[pairKey]int, len(seen))
	for k := range seen {
		counts[k] = 1
	}
	return counts
}

func groupByQuestion(tuples []answerTuple) []questionGroup {
	byQuestion := make(map[string]*questionGroup)
	for _, t := range tuples {
		g := byQuestion[t.Question]
		if g == nil {
			g = &questionGroup{question: t.Question, byValue: make(map[string]map[string]struct{})}
			byQuestion[t.Question] = g
		}
		members := g.byValue[t.Value]
		if members == nil {
			members = make(map[string]struct{})
			g.byValue[t.Value] = members
		}
		members[t.Respondent] = struct{}{}
	}
	groups := make([]questionGroup, 0, len(byQuestion))
	for _, g := range byQuestion {
		groups = append(groups, *g)
	}
	return groups
}

func filterDemographic(tuples []answerTuple, demographic map[string]string) []answerTuple {
	if len(demographic) == 0 {
		return tuples
	}
	return fn.Filter(tuples, func(t answerTuple) bool {
		for field, want := range demographic {
			var have string
			switch field {
			case "age_group":
				have = domain.AgeGroup(t.Age)
			case "gender":
				have = t.Gender
			case "education":
				have = t.Education
			case "location":
				have = t.Location
			case "industry":
				have = t.Industry
			}
			if !strings.EqualFold(have, want) {
				return false
			}
		}
		return true
	})
}

// fetchAnswers pulls the flattened answer facts, optionally restricted to a
// question category. Demographic attributes ride along on every tuple so
// subgroup filtering happens in one pass without a second round trip.
func (e *Engine) fetchAnswers(ctx context.Context, category string) ([]answerTuple, error) {
	var (
		where  string
		params map[string]any
	)
	if category != "" {
		where = "WHERE q.category = $category "
		params = map[string]any{"category": category}
	}
	cypher := "MATCH (r:Respondent)-[a:ANSWERED]->(q:Question) " + where +
		"OPTIONAL MATCH (r)-[:LIVES_IN]->(l:Location) " +
		"OPTIONAL MATCH (r)-[:WORKS_IN]->(i:Industry) " +
		"RETURN r.id AS respondent, q.id AS question, a.value AS value, " +
		"r.age AS age, r.gender AS gender, r.education AS education, " +
		"l.id AS location, i.id AS industry"
	rows, err := e.source.Query(ctx, cypher, params)
	if err != nil {
		return nil, fmt.Errorf("fetch answers: %w", err)
	}
	tuples := make([]answerTuple, 0, len(rows))
	for _, row := range rows {
		tuples = append(tuples, answerTuple{
			Respondent: str(row["respondent"]),
			Question:   str(row["question"]),
			Value:      str(row["value"]),
			Age:        integer(row["age"]),
			Gender:     str(row["gender"]),
			Education:  str(row["education"]),
			Location:   str(row["location"]),
			Industry:   str(row["industry"]),
		})
	}
	return tuples, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func integer(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}
