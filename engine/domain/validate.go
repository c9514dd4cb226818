package domain

import "strconv"

const (
	minAge = 0
	maxAge = 120
)

// ValidateRow checks a Row before it reaches the ingestion pipeline.
// The zero age is allowed: some surveys omit it.
func ValidateRow(r Row) error {
	if r.RespondentID == "" {
		return NewValidationError("respondent_id", "", ErrMissingField)
	}
	if r.QuestionID == "" {
		return NewValidationError("question_id", "", ErrMissingField)
	}
	if r.AnswerValue == "" {
		return NewValidationError("answer_value", "", ErrMissingField)
	}
	if r.Age < minAge || r.Age > maxAge {
		return NewValidationError("age", strconv.Itoa(r.Age), ErrAgeOutOfRange)
	}
	if r.QuestionType != "" && !ValidQuestionTypes[QuestionType(r.QuestionType)] {
		return NewValidationError("question_type", r.QuestionType, ErrUnknownQuestionType)
	}
	if r.Timestamp.IsZero() {
		return NewValidationError("timestamp", "", ErrMissingTimestamp)
	}
	return nil
}

// AgeGroup buckets an age into the demographic group label used by
// breakdowns and subgroup filters.
func AgeGroup(age int) string {
	switch {
	case age <= 0:
		return "unknown"
	case age < 18:
		return "under_18"
	case age < 25:
		return "18-24"
	case age < 35:
		return "25-34"
	case age < 45:
		return "35-44"
	case age < 55:
		return "45-54"
	case age < 65:
		return "55-64"
	default:
		return "65_plus"
	}
}
