// Package graph provides the typed survey graph on top of an abstract
// session-opening store capability. Respondents and questions are nodes;
// every answer is an ANSWERED relationship between them.
package graph

import "time"

// Node labels.
const (
	LabelRespondent = "Respondent"
	LabelQuestion   = "Question"
	LabelLocation   = "Location"
	LabelIndustry   = "Industry"
)

// Relationship types.
const (
	RelAnswered = "ANSWERED"
	RelLivesIn  = "LIVES_IN"
	RelWorksIn  = "WORKS_IN"
)

// Respondent is a survey participant node.
type Respondent struct {
	ID        string `json:"id"`
	Age       int    `json:"age"`
	Gender    string `json:"gender"`
	Education string `json:"education,omitempty"`
}

// Question is a survey item node. Attributes are immutable once set;
// later rows for the same id must agree with them.
type Question struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Category string `json:"category"`
	Type     string `json:"type"`
}

// Answer is one ANSWERED relationship between a respondent and a question.
// The dedupe key (respondent|question|timestamp) makes re-ingestion of an
// identical row an upsert rather than a duplicate edge.
type Answer struct {
	RespondentID string    `json:"respondent_id"`
	QuestionID   string    `json:"question_id"`
	Value        string    `json:"value"`
	Timestamp    time.Time `json:"timestamp"`
}

// DedupeKey returns the identity of the answer edge.
func (a Answer) DedupeKey() string {
	return a.RespondentID + "|" + a.QuestionID + "|" + formatUnix(a.Timestamp)
}

func formatUnix(t time.Time) string {
	return time.Unix(t.Unix(), 0).UTC().Format("20060102T150405Z")
}

func respondentToMap(r Respondent) map[string]any {
	return map[string]any{
		"id":        r.ID,
		"age":       r.Age,
		"gender":    r.Gender,
		"education": r.Education,
	}
}

func respondentFromProps(props map[string]any) Respondent {
	return Respondent{
		ID:        strProp(props, "id"),
		Age:       intProp(props, "age"),
		Gender:    strProp(props, "gender"),
		Education: strProp(props, "education"),
	}
}

func questionToMap(q Question) map[string]any {
	return map[string]any{
		"id":       q.ID,
		"text":     q.Text,
		"category": q.Category,
		"type":     q.Type,
	}
}

func questionFromProps(props map[string]any) Question {
	return Question{
		ID:       strProp(props, "id"),
		Text:     strProp(props, "text"),
		Category: strProp(props, "category"),
		Type:     strProp(props, "type"),
	}
}

func strProp(props map[string]any, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func intProp(props map[string]any, key string) int {
	switch v := props[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
