package graph

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/graphpoll/graphpoll/engine/domain"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// --- Mock infrastructure ---

type mockResult struct {
	records []*neo4j.Record
	idx     int
	err     error
}

func newMockResult(recs ...*neo4j.Record) *mockResult {
	return &mockResult{records: recs}
}

func (m *mockResult) Next(ctx context.Context) bool {
	if m.idx < len(m.records) {
		m.idx++
		return true
	}
	return false
}

func (m *mockResult) Record() *neo4j.Record { return m.records[m.idx-1] }
func (m *mockResult) Err() error            { return m.err }

// mockSession records every statement and hands out a fresh cursor over the
// configured records on each Run.
type mockSession struct {
	records  []*neo4j.Record
	runErr   error
	writeErr error
	cyphers  []string
	params   []map[string]any
}

func countRecord(n int64) *neo4j.Record {
	return &neo4j.Record{Keys: []string{"n"}, Values: []any{n}}
}

func (s *mockSession) Run(_ context.Context, cypher string, params map[string]any) (CypherResult, error) {
	s.cyphers = append(s.cyphers, cypher)
	s.params = append(s.params, params)
	if s.runErr != nil {
		return nil, s.runErr
	}
	return newMockResult(s.records...), nil
}

func (s *mockSession) ExecuteWrite(_ context.Context, work func(tx CypherRunner) (any, error)) (any, error) {
	if s.writeErr != nil {
		return nil, s.writeErr
	}
	return work(s)
}

func (s *mockSession) Close(_ context.Context) error { return nil }

type mockOpener struct {
	session *mockSession
}

func (o *mockOpener) OpenSession(_ context.Context) CypherSession { return o.session }

func newMockStore(recs ...*neo4j.Record) (*GraphStore, *mockSession) {
	sess := &mockSession{records: recs}
	return NewWithOpener(&mockOpener{session: sess}), sess
}

// --- Tests ---

func TestUpsertNode_Cypher(t *testing.T) {
	gs, sess := newMockStore(countRecord(1))

	err := gs.UpsertNode(context.Background(), LabelRespondent, "r1", map[string]any{"age": 34})
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if len(sess.cyphers) != 1 {
		t.Fatalf("expected 1 statement, got %d", len(sess.cyphers))
	}
	if !strings.Contains(sess.cyphers[0], "MERGE (n:Respondent {id: $id})") {
		t.Errorf("unexpected cypher: %s", sess.cyphers[0])
	}
	if sess.params[0]["id"] != "r1" {
		t.Errorf("missing id param")
	}
}

func TestUpsertNode_SanitizesLabel(t *testing.T) {
	gs, sess := newMockStore(countRecord(1))

	if err := gs.UpsertNode(context.Background(), "Respondent) DETACH DELETE n //", "r1", nil); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if strings.Contains(sess.cyphers[0], ")") && strings.Contains(sess.cyphers[0], "DETACH") {
		t.Errorf("label not sanitized: %s", sess.cyphers[0])
	}
}

func TestNodeProps_Found(t *testing.T) {
	rec := &neo4j.Record{
		Keys:   []string{"props"},
		Values: []any{map[string]any{"id": "r1", "age": int64(34)}},
	}
	gs, _ := newMockStore(rec)

	props, found, err := gs.NodeProps(context.Background(), LabelRespondent, "r1")
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if !found {
		t.Fatal("expected found")
	}
	if props["id"] != "r1" {
		t.Fatalf("wrong props: %+v", props)
	}
}

func TestNodeProps_NotFound(t *testing.T) {
	gs, _ := newMockStore()

	_, found, err := gs.NodeProps(context.Background(), LabelRespondent, "missing")
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if found {
		t.Fatal("expected not found")
	}
}

func TestNodeProps_WrongType(t *testing.T) {
	rec := &neo4j.Record{Keys: []string{"props"}, Values: []any{"not a map"}}
	gs, _ := newMockStore(rec)

	_, _, err := gs.NodeProps(context.Background(), LabelRespondent, "r1")
	if err == nil {
		t.Fatal("expected error about props type")
	}
}

func TestUpsertRelationship_Success(t *testing.T) {
	gs, sess := newMockStore(countRecord(1))

	err := gs.UpsertRelationship(context.Background(), RelAnswered,
		LabelRespondent, "r1", LabelQuestion, "q1",
		map[string]any{"value": "yes"}, "r1|q1|20240301T090000Z")
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if !strings.Contains(sess.cyphers[0], "MERGE (a)-[r:ANSWERED {dedupe_key: $key}]->(b)") {
		t.Errorf("unexpected cypher: %s", sess.cyphers[0])
	}
	if sess.params[0]["key"] != "r1|q1|20240301T090000Z" {
		t.Errorf("missing dedupe key param")
	}
}

func TestUpsertRelationship_MissingEndpoint(t *testing.T) {
	gs, _ := newMockStore() // empty result: MATCH found no endpoint pair

	err := gs.UpsertRelationship(context.Background(), RelAnswered,
		LabelRespondent, "r1", LabelQuestion, "q9", nil, "k")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, domain.ErrMissingEndpoint) {
		t.Fatalf("expected missing endpoint, got %v", err)
	}
	var me *domain.MissingEndpointError
	if !errors.As(err, &me) || me.ToKey != "q9" {
		t.Fatalf("error lacks endpoint context: %v", err)
	}
}

func TestUpsertRelationship_RunError(t *testing.T) {
	gs, sess := newMockStore()
	sess.runErr = errors.New("db down")

	err := gs.UpsertRelationship(context.Background(), RelAnswered,
		LabelRespondent, "r1", LabelQuestion, "q1", nil, "k")
	if err == nil || err.Error() != "db down" {
		t.Fatalf("expected db down, got %v", err)
	}
}

func TestReplaceRelationship_DeletesStaleThenMerges(t *testing.T) {
	gs, sess := newMockStore(countRecord(1))

	err := gs.ReplaceRelationship(context.Background(), RelLivesIn,
		LabelRespondent, "r1", LabelLocation, "Berlin")
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if len(sess.cyphers) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(sess.cyphers))
	}
	if !strings.Contains(sess.cyphers[0], "DELETE old") {
		t.Errorf("first statement should delete stale edge: %s", sess.cyphers[0])
	}
	if !strings.Contains(sess.cyphers[1], "MERGE (a)-[r:LIVES_IN]->(b)") {
		t.Errorf("second statement should merge: %s", sess.cyphers[1])
	}
}

func TestReplaceRelationship_MissingEndpoint(t *testing.T) {
	gs, _ := newMockStore() // merge returns no row

	err := gs.ReplaceRelationship(context.Background(), RelWorksIn,
		LabelRespondent, "r1", LabelIndustry, "Healthcare")
	if !errors.Is(err, domain.ErrMissingEndpoint) {
		t.Fatalf("expected missing endpoint, got %v", err)
	}
}

func TestQuery_RowMaps(t *testing.T) {
	recs := []*neo4j.Record{
		{Keys: []string{"qid", "answered"}, Values: []any{"q1", int64(3)}},
		{Keys: []string{"qid", "answered"}, Values: []any{"q2", int64(1)}},
	}
	gs, _ := newMockStore(recs...)

	rows, err := gs.Query(context.Background(), `MATCH (q:Question) RETURN q.id AS qid`, nil)
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0]["qid"] != "q1" || rows[1]["answered"] != int64(1) {
		t.Fatalf("wrong rows: %+v", rows)
	}
}

func TestQuery_DeadlineMapsToTimeout(t *testing.T) {
	gs, sess := newMockStore()
	sess.runErr = context.DeadlineExceeded

	_, err := gs.Query(context.Background(), `MATCH (n) RETURN n`, nil)
	if !errors.Is(err, domain.ErrQueryTimeout) {
		t.Fatalf("expected query timeout, got %v", err)
	}
}

func TestEnsureIndexes_DeclaresFixedSet(t *testing.T) {
	gs, sess := newMockStore(countRecord(1))

	if err := gs.EnsureIndexes(context.Background()); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	want := len(nodeIndexes) + len(relIndexes)
	if len(sess.cyphers) != want {
		t.Fatalf("expected %d statements, got %d", want, len(sess.cyphers))
	}
	for _, c := range sess.cyphers {
		if !strings.Contains(c, "CREATE INDEX") || !strings.Contains(c, "IF NOT EXISTS") {
			t.Errorf("index statement not idempotent: %s", c)
		}
	}
}

func TestEnsureIndexes_Repeatable(t *testing.T) {
	gs, sess := newMockStore(countRecord(1))

	for i := 0; i < 2; i++ {
		if err := gs.EnsureIndexes(context.Background()); err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
	}
	first := sess.cyphers[:len(sess.cyphers)/2]
	second := sess.cyphers[len(sess.cyphers)/2:]
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("index declaration changed between passes: %s vs %s", first[i], second[i])
		}
	}
}

func TestGetRespondent_FallbackWithoutRepo(t *testing.T) {
	rec := &neo4j.Record{
		Keys:   []string{"props"},
		Values: []any{map[string]any{"id": "r1", "age": int64(42), "gender": "male"}},
	}
	gs, _ := newMockStore(rec)

	r, err := gs.GetRespondent(context.Background(), "r1")
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if r.ID != "r1" || r.Age != 42 || r.Gender != "male" {
		t.Fatalf("wrong respondent: %+v", r)
	}
}

func TestGetQuestion_FallbackNotFound(t *testing.T) {
	gs, _ := newMockStore()

	if _, err := gs.GetQuestion(context.Background(), "q404"); err == nil {
		t.Fatal("expected not found")
	}
}

func TestNodeCounts(t *testing.T) {
	recs := []*neo4j.Record{
		{Keys: []string{"type", "count"}, Values: []any{"Respondent", int64(10)}},
		{Keys: []string{"type", "count"}, Values: []any{"Question", int64(4)}},
	}
	gs, _ := newMockStore(recs...)

	counts, err := gs.NodeCounts(context.Background())
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if counts["Respondent"] != 10 || counts["Question"] != 4 {
		t.Fatalf("wrong counts: %+v", counts)
	}
}

func TestTotalRespondents(t *testing.T) {
	rec := &neo4j.Record{Keys: []string{"count"}, Values: []any{int64(25)}}
	gs, _ := newMockStore(rec)

	n, err := gs.TotalRespondents(context.Background())
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if n != 25 {
		t.Fatalf("expected 25, got %d", n)
	}
}

func TestSanitizeRelType(t *testing.T) {
	tests := []struct {
		input, want string
	}{
		{"answered", "ANSWERED"},
		{"lives_in", "LIVES_IN"},
		{"works_in", "WORKS_IN"},
		{"", "RELATED_TO"},
		{"has-edge", "HASEDGE"},
		{"ALREADY_UPPER", "ALREADY_UPPER"},
	}
	for _, tt := range tests {
		if got := sanitizeRelType(tt.input); got != tt.want {
			t.Errorf("sanitizeRelType(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestSanitizeLabel(t *testing.T) {
	tests := []struct {
		input, want string
	}{
		{"Respondent", "Respondent"},
		{"Location", "Location"},
		{"", "Node"},
		{"Bad Label;", "BadLabel"},
	}
	for _, tt := range tests {
		if got := sanitizeLabel(tt.input); got != tt.want {
			t.Errorf("sanitizeLabel(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
