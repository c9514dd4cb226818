package graph

import (
	"github.com/graphpoll/graphpoll/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// newRespondentRepo creates a Neo4j-backed repository for Respondent nodes.
func newRespondentRepo(driver neo4j.DriverWithContext) *repo.Neo4jRepo[Respondent, string] {
	return repo.NewNeo4jRepo[Respondent, string](
		driver,
		LabelRespondent,
		respondentToMap,
		respondentFromRecord,
	)
}

// newQuestionRepo creates a Neo4j-backed repository for Question nodes.
func newQuestionRepo(driver neo4j.DriverWithContext) *repo.Neo4jRepo[Question, string] {
	return repo.NewNeo4jRepo[Question, string](
		driver,
		LabelQuestion,
		questionToMap,
		questionFromRecord,
	)
}

func respondentFromRecord(rec *neo4j.Record) (Respondent, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return Respondent{}, err
	}
	return respondentFromProps(node.Props), nil
}

func questionFromRecord(rec *neo4j.Record) (Question, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return Question{}, err
	}
	return questionFromProps(node.Props), nil
}
