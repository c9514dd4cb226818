// Command ingestd watches a directory for survey CSV batch files and runs
// them through the ingestion pipeline into the graph store. It can also
// consume row batches published on NATS.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/graphpoll/graphpoll/engine/domain"
	"github.com/graphpoll/graphpoll/engine/graph"
	"github.com/graphpoll/graphpoll/engine/ingest"
	"github.com/graphpoll/graphpoll/pkg/metrics"
	"github.com/graphpoll/graphpoll/pkg/resilience"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

var met = metrics.New()

var (
	mRowsAccepted   = met.Counter("graphpoll_ingest_rows_accepted_total", "Rows written to the graph")
	mRowsRejected   = met.Counter("graphpoll_ingest_rows_rejected_total", "Rows rejected by validation or conflict")
	mFilesProcessed = met.Counter("graphpoll_ingest_files_processed_total", "CSV files fully processed")
	mFileErrors     = met.Counter("graphpoll_ingest_file_errors_total", "Files that failed and will be retried")
	mBytesProcessed = met.Counter("graphpoll_ingest_bytes_processed_total", "Total bytes of source files processed")
	mQueueDepth     = met.Gauge("graphpoll_ingest_queue_depth", "Files waiting to process")
	mLastScan       = met.Gauge("graphpoll_ingest_last_scan_timestamp", "Epoch of last directory scan")
	mBatchDur       = met.Histogram("graphpoll_ingest_batch_duration_seconds", "Per-file ingestion time", nil)
)

func main() {
	var (
		dataDir     = flag.String("dir", "/var/lib/graphpoll/incoming", "directory to watch for CSV files")
		neo4jURL    = flag.String("neo4j", "neo4j://localhost:7687", "Neo4j bolt URL")
		neo4jUser   = flag.String("neo4j-user", "neo4j", "Neo4j username")
		neo4jPass   = flag.String("neo4j-pass", "password", "Neo4j password")
		natsURL     = flag.String("nats", "", "NATS URL for row batches (empty disables)")
		interval    = flag.Duration("interval", 30*time.Second, "scan interval")
		stateFile   = flag.String("state", "/var/lib/graphpoll/.ingest-state.json", "processed files state")
		metricsPort = flag.Int("metrics-port", 9091, "Prometheus metrics port")
		writeRate   = flag.Float64("write-rate", 200, "row writes per second")
		lastWins    = flag.Bool("last-write-wins", false, "overwrite conflicting attributes instead of rejecting the row")
	)
	flag.Parse()

	// Start metrics server with runtime collection
	met.CollectRuntime("graphpoll_ingest", 15*time.Second)
	met.ServeAsync(*metricsPort)

	log := slog.Default()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Connect Neo4j
	driver, err := neo4j.NewDriverWithContext(*neo4jURL, neo4j.BasicAuth(*neo4jUser, *neo4jPass, ""))
	if err != nil {
		log.Error("neo4j connect failed", "error", err)
		os.Exit(1)
	}
	defer driver.Close(ctx)
	if err := driver.VerifyConnectivity(ctx); err != nil {
		log.Error("neo4j verify failed", "error", err)
		os.Exit(1)
	}
	log.Info("connected to Neo4j")

	store := graph.New(driver)
	if err := store.EnsureIndexes(ctx); err != nil {
		log.Error("ensure indexes failed", "error", err)
		os.Exit(1)
	}

	policy := domain.ConflictFail
	if *lastWins {
		policy = domain.ConflictLastWriteWins
	}

	// Throttle graph writes so a big backfill cannot starve the API's
	// read queries.
	limiter := resilience.NewLimiter(resilience.LimiterOpts{Rate: *writeRate, Burst: int(*writeRate)})
	pipeline := ingest.New(&throttledStore{store: store, limiter: limiter}, ingest.Options{ConflictPolicy: policy}, log)

	// Optional NATS consumer
	if *natsURL != "" {
		nc, err := nats.Connect(*natsURL, nats.Name("graphpoll-ingestd"))
		if err != nil {
			log.Error("nats connect failed", "error", err)
			os.Exit(1)
		}
		defer nc.Drain()
		sub, err := ingest.StartConsumer(nc, pipeline, log)
		if err != nil {
			log.Error("nats subscribe failed", "error", err)
			os.Exit(1)
		}
		defer sub.Unsubscribe()
		log.Info("consuming row batches", "subject", ingest.RowsSubject)
	}

	// Load state
	processed := loadState(*stateFile)

	os.MkdirAll(*dataDir, 0o755)

	log.Info("watching for survey batches", "dir", *dataDir, "interval", *interval)

	scan := func() {
		mLastScan.Set(time.Now().Unix())
		entries, err := os.ReadDir(*dataDir)
		if err != nil {
			log.Error("readdir failed", "error", err)
			return
		}

		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".csv") || e.Name()[0] == '.' {
				continue
			}
			path := filepath.Join(*dataDir, e.Name())
			info, _ := e.Info()
			key := e.Name()
			if info != nil {
				key = fmt.Sprintf("%s:%d", e.Name(), info.Size())
			}
			if processed[key] {
				continue
			}

			mQueueDepth.Inc()
			log.Info("processing file", "file", e.Name())
			if info != nil {
				mBytesProcessed.Add(info.Size())
			}
			start := time.Now()
			report, fatal := processFile(ctx, path, pipeline)
			mBatchDur.Observe(time.Since(start).Seconds())
			mQueueDepth.Dec()
			mRowsAccepted.Add(int64(report.Accepted))
			mRowsRejected.Add(int64(report.Rejected))
			log.Info("file done", "file", e.Name(),
				"accepted", report.Accepted, "rejected", report.Rejected, "fatal", fatal != nil)

			// A store-level failure leaves the file unmarked so the next
			// scan retries it; row rejections are deterministic and final.
			if fatal == nil {
				mFilesProcessed.Inc()
				processed[key] = true
				saveState(*stateFile, processed)
			} else {
				mFileErrors.Inc()
				log.Warn("file failed, will retry on next scan", "file", e.Name(), "error", fatal)
			}
		}
	}

	// Initial scan
	scan()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return
		case <-ticker.C:
			scan()
		}
	}
}

func processFile(ctx context.Context, path string, pipeline *ingest.Pipeline) (ingest.Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return ingest.Report{}, err
	}
	defer f.Close()

	rows, rowErrs := ingest.ParseRows(f)
	report, err := pipeline.Ingest(ctx, rows)
	for _, e := range rowErrs {
		report.Rejected++
		report.Reasons = append(report.Reasons, e.Error())
	}
	return report, err
}

// throttledStore pushes every write through the token bucket.
type throttledStore struct {
	store   *graph.GraphStore
	limiter *resilience.Limiter
}

func (s *throttledStore) UpsertNode(ctx context.Context, label, key string, attrs map[string]any) error {
	return s.limiter.CallWait(ctx, func(ctx context.Context) error {
		return s.store.UpsertNode(ctx, label, key, attrs)
	})
}

func (s *throttledStore) NodeProps(ctx context.Context, label, key string) (map[string]any, bool, error) {
	var (
		props map[string]any
		found bool
	)
	err := s.limiter.CallWait(ctx, func(ctx context.Context) error {
		var err error
		props, found, err = s.store.NodeProps(ctx, label, key)
		return err
	})
	return props, found, err
}

func (s *throttledStore) UpsertRelationship(ctx context.Context, relType, fromLabel, fromKey, toLabel, toKey string, attrs map[string]any, dedupeKey string) error {
	return s.limiter.CallWait(ctx, func(ctx context.Context) error {
		return s.store.UpsertRelationship(ctx, relType, fromLabel, fromKey, toLabel, toKey, attrs, dedupeKey)
	})
}

func (s *throttledStore) ReplaceRelationship(ctx context.Context, relType, fromLabel, fromKey, toLabel, toKey string) error {
	return s.limiter.CallWait(ctx, func(ctx context.Context) error {
		return s.store.ReplaceRelationship(ctx, relType, fromLabel, fromKey, toLabel, toKey)
	})
}

// --- processed-file state ---

func loadState(path string) map[string]bool {
	state := make(map[string]bool)
	data, err := os.ReadFile(path)
	if err != nil {
		return state
	}
	json.Unmarshal(data, &state)
	return state
}

func saveState(path string, state map[string]bool) {
	data, err := json.Marshal(state)
	if err != nil {
		return
	}
	os.WriteFile(path, data, 0o644)
}
