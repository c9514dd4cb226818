package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/graphpoll/graphpoll/engine/domain"
)

// timestampLayouts are accepted row timestamp formats, tried in order.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseRows reads a header-first CSV batch into rows. Malformed records are
// returned as row-scoped errors so the caller can fold them into the
// ingestion report; they never abort the batch.
func ParseRows(r io.Reader) ([]domain.Row, []error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, []error{fmt.Errorf("read header: %w", err)}
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}

	var (
		rows []domain.Row
		errs []error
	)
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		row, err := rowFromRecord(col, record)
		if err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		rows = append(rows, row)
	}
	return rows, errs
}

func rowFromRecord(col map[string]int, record []string) (domain.Row, error) {
	field := func(name string) string {
		i, ok := col[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var row domain.Row
	row.RespondentID = field("respondent_id")
	row.Gender = field("gender")
	row.Education = field("education")
	row.Location = field("location")
	row.Industry = field("industry")
	row.QuestionID = field("question_id")
	row.QuestionText = field("question_text")
	row.QuestionCategory = field("question_category")
	row.QuestionType = field("question_type")
	row.AnswerValue = field("answer_value")

	if s := field("age"); s != "" {
		age, err := strconv.Atoi(s)
		if err != nil {
			return row, fmt.Errorf("age %q: %w", s, err)
		}
		row.Age = age
	}

	ts := field("timestamp")
	if ts == "" {
		return row, domain.NewValidationError("timestamp", "", domain.ErrMissingTimestamp)
	}
	parsed, err := parseTimestamp(ts)
	if err != nil {
		return row, err
	}
	row.Timestamp = parsed
	return row, nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("timestamp %q: unrecognized format", s)
}
