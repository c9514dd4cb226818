// Package main implements the graphpoll query API server.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/graphpoll/graphpoll/engine/analytics"
	"github.com/graphpoll/graphpoll/engine/domain"
	"github.com/graphpoll/graphpoll/engine/graph"
	"github.com/graphpoll/graphpoll/engine/ingest"
	"github.com/graphpoll/graphpoll/pkg/fn"
	"github.com/graphpoll/graphpoll/pkg/mid"
	"github.com/graphpoll/graphpoll/pkg/resilience"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Config holds all environment-based configuration.
type Config struct {
	Port           string
	Neo4jURL       string
	Neo4jUser      string
	Neo4jPass      string
	CORSOrigin     string
	ConflictPolicy string
	QueryTimeout   time.Duration
}

func loadConfig() Config {
	timeout, err := time.ParseDuration(envOr("QUERY_TIMEOUT", "30s"))
	if err != nil {
		timeout = 30 * time.Second
	}
	return Config{
		Port:           envOr("PORT", "8080"),
		Neo4jURL:       envOr("NEO4J_URL", "neo4j://localhost:7687"),
		Neo4jUser:      envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:      envOr("NEO4J_PASS", "password"),
		CORSOrigin:     envOr("CORS_ORIGIN", "*"),
		ConflictPolicy: envOr("CONFLICT_POLICY", "fail"),
		QueryTimeout:   timeout,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Connect to Neo4j ---
	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		return fmt.Errorf("neo4j driver: %w", err)
	}
	defer driver.Close(ctx)

	// The store may still be starting alongside us.
	verify := fn.Retry(ctx, fn.RetryOpts{MaxAttempts: 5, InitialWait: 2 * time.Second, MaxWait: 15 * time.Second}, func(ctx context.Context) fn.Result[struct{}] {
		return fn.FromPair(struct{}{}, driver.VerifyConnectivity(ctx))
	})
	if _, err := verify.Unwrap(); err != nil {
		return fmt.Errorf("neo4j verify: %w", err)
	}

	store := graph.New(driver)
	if err := store.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}

	breaker := resilience.NewBreaker(resilience.DefaultBreakerOpts)
	engine := analytics.New(&guardedSource{store: store, breaker: breaker}, logger)

	policy := domain.ConflictFail
	if cfg.ConflictPolicy == "last_write_wins" {
		policy = domain.ConflictLastWriteWins
	}
	pipeline := ingest.New(store, ingest.Options{ConflictPolicy: policy}, logger)

	srv := &server{
		store:    store,
		engine:   engine,
		pipeline: pipeline,
		breaker:  breaker,
		timeout:  cfg.QueryTimeout,
		log:      logger,
	}

	// --- Build HTTP server ---
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", srv.handleHealth)
	mux.HandleFunc("GET /api/similarity", srv.handleSimilarity)
	mux.HandleFunc("GET /api/completion", srv.handleCompletion)
	mux.HandleFunc("GET /api/export", srv.handleExport)
	mux.HandleFunc("GET /api/respondents/{id}", srv.handleRespondent)
	mux.HandleFunc("GET /api/questions/{id}", srv.handleQuestion)
	mux.HandleFunc("POST /api/ingest", srv.handleIngest)

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("graphpoll-api"),
	)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutCtx)
}

// guardedSource wraps the graph store's read surface in a circuit breaker
// so a down store fails fast instead of stacking requests.
type guardedSource struct {
	store   *graph.GraphStore
	breaker *resilience.Breaker
}

func (s *guardedSource) Query(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	var rows []map[string]any
	err := s.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		rows, err = s.store.Query(ctx, cypher, params)
		return err
	})
	return rows, err
}

func (s *guardedSource) TotalRespondents(ctx context.Context) (int64, error) {
	var total int64
	err := s.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		total, err = s.store.TotalRespondents(ctx)
		return err
	})
	return total, err
}

// --- Handlers ---

type server struct {
	store    *graph.GraphStore
	engine   *analytics.Engine
	pipeline *ingest.Pipeline
	breaker  *resilience.Breaker
	timeout  time.Duration
	log      *slog.Logger
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := map[string]any{
		"status":  "ok",
		"breaker": s.breaker.State().String(),
	}
	if nodes, err := s.store.NodeCounts(ctx); err == nil {
		resp["nodes"] = nodes
	}
	if rels, err := s.store.RelationshipCounts(ctx); err == nil {
		resp["relationships"] = rels
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleSimilarity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	q := r.URL.Query()
	threshold := 0
	if raw := q.Get("threshold"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid threshold %q", raw))
			return
		}
		threshold = n
	}
	filters := analytics.Filters{QuestionCategory: q.Get("category")}
	for _, field := range []string{"age_group", "gender", "education", "location", "industry"} {
		if v := q.Get(field); v != "" {
			if filters.Demographic == nil {
				filters.Demographic = make(map[string]string)
			}
			filters.Demographic[field] = v
		}
	}

	pairs, err := s.engine.Similarity(ctx, filters, threshold)
	if err != nil {
		s.writeQueryError(w, "similarity", err)
		return
	}
	if pairs == nil {
		pairs = []analytics.Pair{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pairs": pairs, "count": len(pairs)})
}

func (s *server) handleCompletion(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	rates, err := s.engine.CompletionRates(ctx, r.URL.Query().Get("group_by"))
	if err != nil {
		s.writeQueryError(w, "completion", err)
		return
	}
	if rates == nil {
		rates = []analytics.CompletionRate{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rates": rates, "count": len(rates)})
}

func (s *server) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	var fields []string
	if raw := r.URL.Query().Get("fields"); raw != "" {
		fields = strings.Split(raw, ",")
	}
	rows, err := s.engine.Export(ctx, fields)
	if err != nil {
		s.writeQueryError(w, "export", err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="survey_export.csv"`)
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(rows); err != nil {
		s.log.Error("export write failed", "err", err)
	}
}

func (s *server) handleRespondent(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	respondent, err := s.store.GetRespondent(ctx, r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, respondent)
}

func (s *server) handleQuestion(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	question, err := s.store.GetQuestion(ctx, r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, question)
}

func (s *server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var (
		rows    []domain.Row
		rowErrs []error
	)
	switch {
	case strings.HasPrefix(r.Header.Get("Content-Type"), "text/csv"):
		rows, rowErrs = ingest.ParseRows(r.Body)
	default:
		if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if len(rows) == 0 && len(rowErrs) == 0 {
		writeError(w, http.StatusBadRequest, "no rows in request")
		return
	}

	report, err := s.pipeline.Ingest(r.Context(), rows)
	if err != nil {
		s.log.Error("ingest failed", "err", err)
		writeError(w, http.StatusBadGateway, "ingestion aborted: store failure")
		return
	}
	for _, e := range rowErrs {
		report.Rejected++
		report.Reasons = append(report.Reasons, e.Error())
	}
	writeJSON(w, http.StatusOK, report)
}

// writeQueryError maps engine errors onto HTTP statuses: bad filters are
// the caller's fault, timeouts and an open breaker are upstream trouble.
func (s *server) writeQueryError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidFilter):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrQueryTimeout):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, resilience.ErrCircuitOpen):
		writeError(w, http.StatusServiceUnavailable, "graph store unavailable")
	default:
		s.log.Error(op+" query failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
