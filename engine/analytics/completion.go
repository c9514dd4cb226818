package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/graphpoll/graphpoll/engine/domain"
	"github.com/graphpoll/graphpoll/pkg/fn"
)

// CompletionRate is the percentage of known respondents who answered a
// question, optionally restricted to one demographic group.
type CompletionRate struct {
	QuestionID string  `json:"question_id"`
	Group      string  `json:"group,omitempty"`
	Rate       float64 `json:"completion_rate"`
}

// groupableAttrs are the attributes CompletionRates can break down by.
var groupableAttrs = map[string]bool{
	"age":      true,
	"gender":   true,
	"location": true,
}

// respondentFacts is one respondent's demographics plus the set of question
// ids they answered at least once.
type respondentFacts struct {
	Age      int
	Gender   string
	Location string
	Answered map[string]struct{}
}

// CompletionRates computes the per-question completion rate: distinct
// answering respondents over total respondents, as a percentage rounded
// half-up to two decimals. An empty groupBy yields one row per question;
// "age", "gender" or "location" yields one row per (group value, question)
// with the ratio restricted to that group's members. A graph with no
// respondents yields 0.00 rows, never a division error. Rows are ordered by
// ascending rate so the least-completed questions come first, ties broken by
// question id then group.
func (e *Engine) CompletionRates(ctx context.Context, groupBy string) ([]CompletionRate, error) {
	if groupBy != "" && !groupableAttrs[groupBy] {
		return nil, &domain.InvalidFilterError{Field: "group_by", Value: groupBy}
	}

	// Question list, respondent facts and the global total are independent
	// reads, run in parallel.
	combined := fn.FanOutResult(
		func() fn.Result[any] {
			qs, err := e.questionIDs(ctx)
			return fn.FromPair[any](qs, err)
		},
		func() fn.Result[any] {
			facts, err := e.respondentFacts(ctx)
			return fn.FromPair[any](facts, err)
		},
		func() fn.Result[any] {
			total, err := e.source.TotalRespondents(ctx)
			return fn.FromPair[any](total, err)
		},
	)
	parts, err := combined.Unwrap()
	if err != nil {
		return nil, err
	}
	questions := parts[0].([]string)
	facts := parts[1].(map[string]respondentFacts)
	total := parts[2].(int64)

	var rates []CompletionRate
	if groupBy == "" {
		answered := make(map[string]int, len(questions))
		for _, f := range facts {
			for q := range f.Answered {
				answered[q]++
			}
		}
		for _, q := range questions {
			rates = append(rates, CompletionRate{
				QuestionID: q,
				Rate:       percent(answered[q], int(total)),
			})
		}
	} else {
		groupSize := make(map[string]int)
		answered := make(map[string]map[string]int) // group → question → count
		for _, f := range facts {
			g := groupValue(groupBy, f)
			groupSize[g]++
			if answered[g] == nil {
				answered[g] = make(map[string]int)
			}
			for q := range f.Answered {
				answered[g][q]++
			}
		}
		for g, size := range groupSize {
			for _, q := range questions {
				rates = append(rates, CompletionRate{
					QuestionID: q,
					Group:      g,
					Rate:       percent(answered[g][q], size),
				})
			}
		}
	}

	sort.Slice(rates, func(i, j int) bool {
		if rates[i].Rate != rates[j].Rate {
			return rates[i].Rate < rates[j].Rate
		}
		if rates[i].QuestionID != rates[j].QuestionID {
			return rates[i].QuestionID < rates[j].QuestionID
		}
		return rates[i].Group < rates[j].Group
	})
	return rates, nil
}

// percent is answered/total as a percentage, rounded half-up to two
// decimals. A zero total is defined as 0.00.
func percent(answered, total int) float64 {
	if total == 0 {
		return 0.0
	}
	x := float64(answered) / float64(total) * 100
	return math.Floor(x*100+0.5) / 100
}

func groupValue(groupBy string, f respondentFacts) string {
	switch groupBy {
	case "age":
		return domain.AgeGroup(f.Age)
	case "gender":
		if f.Gender == "" {
			return "unknown"
		}
		return f.Gender
	case "location":
		if f.Location == "" {
			return "unknown"
		}
		return f.Location
	}
	return ""
}

func (e *Engine) questionIDs(ctx context.Context) ([]string, error) {
	rows, err := e.source.Query(ctx, "MATCH (q:Question) RETURN q.id AS question ORDER BY q.id", nil)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, str(row["question"]))
	}
	return ids, nil
}

// respondentFacts pulls every respondent with their demographics and the
// distinct questions they answered. Respondents with no answers still count
// toward completion denominators.
func (e *Engine) respondentFacts(ctx context.Context) (map[string]respondentFacts, error) {
	cypher := "MATCH (r:Respondent) " +
		"OPTIONAL MATCH (r)-[:ANSWERED]->(q:Question) " +
		"OPTIONAL MATCH (r)-[:LIVES_IN]->(l:Location) " +
		"RETURN r.id AS respondent, r.age AS age, r.gender AS gender, " +
		"l.id AS location, q.id AS question"
	rows, err := e.source.Query(ctx, cypher, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch respondents: %w", err)
	}
	facts := make(map[string]respondentFacts)
	for _, row := range rows {
		id := str(row["respondent"])
		f, ok := facts[id]
		if !ok {
			f = respondentFacts{
				Age:      integer(row["age"]),
				Gender:   str(row["gender"]),
				Location: str(row["location"]),
				Answered: make(map[string]struct{}),
			}
		}
		if q := str(row["question"]); q != "" {
			f.Answered[q] = struct{}{}
		}
		facts[id] = f
	}
	return facts, nil
}
