// Package domain defines core survey types, the engine error taxonomy, and
// row validation. It acts as the validation gate at pipeline entry points.
package domain

import "time"

// Row is one flat survey response record: one respondent answering one
// question at one point in time, with the respondent's demographics inlined.
type Row struct {
	RespondentID     string    `json:"respondent_id"`
	Age              int       `json:"age"`
	Gender           string    `json:"gender"`
	Education        string    `json:"education,omitempty"`
	Location         string    `json:"location,omitempty"`
	Industry         string    `json:"industry,omitempty"`
	QuestionID       string    `json:"question_id"`
	QuestionText     string    `json:"question_text"`
	QuestionCategory string    `json:"question_category"`
	QuestionType     string    `json:"question_type"`
	AnswerValue      string    `json:"answer_value"`
	Timestamp        time.Time `json:"timestamp"`
}

// ConflictPolicy controls what happens when a re-ingested row disagrees with
// attributes already stored for the same entity key.
type ConflictPolicy int

const (
	// ConflictFail rejects the row with a ConflictingAttributeError.
	ConflictFail ConflictPolicy = iota
	// ConflictLastWriteWins overwrites the stored attributes with the row's.
	ConflictLastWriteWins
)

func (p ConflictPolicy) String() string {
	switch p {
	case ConflictFail:
		return "fail"
	case ConflictLastWriteWins:
		return "last_write_wins"
	default:
		return "unknown"
	}
}

// QuestionType classifies survey questions.
type QuestionType string

const (
	QuestionSingleChoice QuestionType = "single_choice"
	QuestionMultiChoice  QuestionType = "multi_choice"
	QuestionScale        QuestionType = "scale"
	QuestionFreeText     QuestionType = "free_text"
	QuestionBoolean      QuestionType = "boolean"
)

// ValidQuestionTypes is the set of recognised question types.
var ValidQuestionTypes = map[QuestionType]bool{
	QuestionSingleChoice: true, QuestionMultiChoice: true,
	QuestionScale: true, QuestionFreeText: true, QuestionBoolean: true,
}

// DemographicAttrs is the set of respondent attributes that analytic queries
// may group or filter by.
var DemographicAttrs = map[string]bool{
	"age": true, "gender": true, "education": true,
	"location": true, "industry": true,
}
