package ingest

import (
	"context"

	"github.com/graphpoll/graphpoll/engine/domain"
)

// Store is the graph capability the pipeline writes through.
type Store interface {
	UpsertNode(ctx context.Context, label, key string, attrs map[string]any) error
	NodeProps(ctx context.Context, label, key string) (map[string]any, bool, error)
	UpsertRelationship(ctx context.Context, relType, fromLabel, fromKey, toLabel, toKey string, attrs map[string]any, dedupeKey string) error
	ReplaceRelationship(ctx context.Context, relType, fromLabel, fromKey, toLabel, toKey string) error
}

// Options configure pipeline behavior.
type Options struct {
	// ConflictPolicy decides what happens when a row disagrees with stored
	// attributes. Default: reject the row.
	ConflictPolicy domain.ConflictPolicy
}

// Report summarizes one ingested batch. A batch with rejected rows is a
// reported outcome, not a failure: only store-level errors abort ingestion.
type Report struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	Reasons  []string `json:"reasons,omitempty"`
}
