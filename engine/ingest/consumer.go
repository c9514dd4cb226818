package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/graphpoll/graphpoll/engine/domain"
	"github.com/graphpoll/graphpoll/pkg/natsutil"
	"github.com/nats-io/nats.go"
)

const (
	// RowsSubject carries JSON-encoded row batches from producers.
	RowsSubject = "graphpoll.ingest.rows"
	// DLQSubject receives batches that kept failing on store-level errors.
	DLQSubject = "graphpoll.ingest.dlq"
	// MaxRetries before a failing batch goes to the DLQ.
	MaxRetries = 3
)

// dlqMessage is published to the DLQ on repeated failure.
type dlqMessage struct {
	Rows    []domain.Row `json:"rows"`
	Error   string       `json:"error"`
	Retries int          `json:"retries"`
}

// PublishRows sends a row batch to the ingestion subject.
func PublishRows(ctx context.Context, nc *nats.Conn, rows []domain.Row) error {
	return natsutil.Publish(ctx, nc, RowsSubject, rows)
}

// StartConsumer subscribes the pipeline to the rows subject. Row-scoped
// rejections are final (they are deterministic, retrying cannot help);
// store-level failures are re-published with a retry counter and end up on
// the DLQ after MaxRetries.
func StartConsumer(nc *nats.Conn, p *Pipeline, log *slog.Logger) (*nats.Subscription, error) {
	if log == nil {
		log = slog.Default()
	}

	return nc.Subscribe(RowsSubject, func(msg *nats.Msg) {
		var rows []domain.Row
		if err := json.Unmarshal(msg.Data, &rows); err != nil {
			log.Error("ingest: unmarshal failed", "error", err)
			return
		}

		ctx := context.Background()

		retries := 0
		if msg.Header != nil {
			if v := msg.Header.Get("X-Retry-Count"); v != "" {
				fmt.Sscanf(v, "%d", &retries)
			}
		}

		report, err := p.Ingest(ctx, rows)
		if err != nil {
			retries++
			log.Error("ingest: batch failed",
				"error", err,
				"rows", len(rows),
				"retry", retries,
			)

			if retries >= MaxRetries {
				dlq := dlqMessage{Rows: rows, Error: err.Error(), Retries: retries}
				if err := natsutil.Publish(ctx, nc, DLQSubject, dlq); err != nil {
					log.Error("ingest: DLQ publish failed", "error", err)
				}
				return
			}

			retryMsg := nats.NewMsg(RowsSubject)
			retryMsg.Data = msg.Data
			retryMsg.Header = nats.Header{}
			retryMsg.Header.Set("X-Retry-Count", fmt.Sprintf("%d", retries))
			if err := nc.PublishMsg(retryMsg); err != nil {
				log.Error("ingest: retry publish failed", "error", err)
			}
			return
		}

		log.Info("ingest: batch consumed", "accepted", report.Accepted, "rejected", report.Rejected)
	})
}
