// Package main provides the unified registry server that runs all components together:
// - Node (continuous): serialized registry mutations, event archive, token mirror
// - Activity flusher (scheduled): batched activity inserts into ClickHouse
// - Live feed (continuous): WebSocket fan-out of archived events
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"echomint-registry/internal/accountid"
	"echomint-registry/internal/domain"
	"echomint-registry/internal/feed"
	"echomint-registry/internal/node"
	"echomint-registry/internal/observability"
	"echomint-registry/internal/registry"
	"echomint-registry/internal/storage"
	chstore "echomint-registry/internal/storage/clickhouse"
	"echomint-registry/internal/storage/memory"
	"echomint-registry/internal/storage/migrations"
	pgstore "echomint-registry/internal/storage/postgres"
)

// Server holds all components of the registry service.
type Server struct {
	// Configuration
	addr      string
	useMemory bool

	// Components
	node   *node.Node
	hub    *feed.Hub
	events storage.EventStore
	logger *log.Logger

	// State
	mu      sync.Mutex
	started time.Time
}

// allStores holds all storage implementations.
type allStores struct {
	eventStore    storage.EventStore
	tokenStore    storage.TokenStore
	activityStore storage.ActivityStore
}

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	addr := flag.String("addr", ":8080", "HTTP listen address")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	curator := flag.String("curator", os.Getenv("REGISTRY_CURATOR"), "Curator identity (hex identity, hex public key, or base58 public key)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL and ClickHouse")
	activityBatch := flag.Int("activity-batch-size", 64, "Activity points per storage insert batch")
	flushInterval := flag.Duration("flush-interval", 5*time.Second, "Activity flush interval")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	// Validate required flags
	if *curator == "" {
		logger.Fatal("--curator is required")
	}
	curatorID, err := accountid.Parse(*curator)
	if err != nil {
		logger.Fatalf("Invalid --curator value: %v", err)
	}
	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	// Create stores
	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	// Create components
	hub := feed.NewHub(nil, log.New(os.Stdout, "[feed] ", log.LstdFlags|log.Lshortfile))

	n, err := node.New(ctx, node.Options{
		Registry:          registry.New(curatorID),
		EventStore:        stores.eventStore,
		TokenStore:        stores.tokenStore,
		ActivityStore:     stores.activityStore,
		Feed:              hub,
		ActivityBatchSize: *activityBatch,
		FlushInterval:     *flushInterval,
		Logger:            log.New(os.Stdout, "[node] ", log.LstdFlags|log.Lshortfile),
	})
	if err != nil {
		logger.Fatalf("Failed to create node: %v", err)
	}
	logger.Printf("Curator: %s, resuming archive after seq %d", curatorID, n.Stats().LastArchivedSeq)

	server := &Server{
		addr:      *addr,
		useMemory: *useMemory,
		node:      n,
		hub:       hub,
		events:    stores.eventStore,
		logger:    logger,
	}

	// Channel to signal completion
	done := make(chan error, 1)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	// Run the server
	err = server.Run(ctx)
	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Server error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// createStores creates all required stores, applying migrations in
// database mode.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (*allStores, func(), error) {
	if useMemory {
		stores := &allStores{
			eventStore:    memory.NewEventStore(),
			tokenStore:    memory.NewTokenStore(),
			activityStore: memory.NewActivityStore(),
		}
		return stores, func() {}, nil
	}

	// PostgreSQL (archive + token mirror)
	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("apply postgres migrations: %w", err)
	}

	// ClickHouse (activity analytics)
	chConn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("prepare clickhouse: %w", err)
	}

	stores := &allStores{
		eventStore:    pgstore.NewEventStore(pool),
		tokenStore:    pgstore.NewTokenStore(pool),
		activityStore: chstore.NewActivityStore(chConn),
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}

	return stores, cleanup, nil
}

// Run starts the node loop and the HTTP server and blocks until the
// context is cancelled or a component fails.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Println("Starting registry server...")

	s.mu.Lock()
	s.started = time.Now()
	s.mu.Unlock()

	errCh := make(chan error, 2)

	// Node loop: activity flushing and final drain
	go func() {
		if err := s.node.Run(ctx); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("node: %w", err)
		}
	}()

	// HTTP server
	httpServer := &http.Server{Addr: s.addr, Handler: s.routes()}
	go func() {
		s.logger.Printf("HTTP server listening on %s", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case err := <-errCh:
		runErr = err
	}

	// Stop accepting connections before tearing down the feed so no
	// client can register against a closed hub.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Printf("HTTP shutdown error: %v", err)
	}
	s.hub.Close()

	return runErr
}

// routes builds the HTTP mux.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Mutations; the caller is identified by the X-Caller header
	mux.HandleFunc("POST /v1/mint", s.handleMint)
	mux.HandleFunc("POST /v1/tokens/{id}/transfer", s.handleTransfer)
	mux.HandleFunc("POST /v1/tokens/{id}/approve", s.handleApprove)
	mux.HandleFunc("POST /v1/tokens/{id}/mood", s.handleUpdateMood)
	mux.HandleFunc("POST /v1/tokens/{id}/image", s.handleUpdateImage)
	mux.HandleFunc("POST /v1/operators", s.handleSetOperator)

	// Queries
	mux.HandleFunc("GET /v1/supply", s.handleSupply)
	mux.HandleFunc("GET /v1/tokens/{id}", s.handleToken)
	mux.HandleFunc("GET /v1/tokens/{id}/approved", s.handleApproved)
	mux.HandleFunc("GET /v1/owners/{identity}/tokens", s.handleOwnerTokens)
	mux.HandleFunc("GET /v1/owners/{identity}/balance", s.handleOwnerBalance)
	mux.HandleFunc("GET /v1/operators/{owner}/{operator}", s.handleOperator)
	mux.HandleFunc("GET /v1/events", s.handleEvents)

	// Live feed
	mux.Handle("GET /v1/events/live", s.hub.Handler())

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheus metrics
	mux.Handle("GET /metrics", observability.Handler())

	// Status endpoint
	mux.HandleFunc("GET /status", s.handleStatus)

	return mux
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Printf("Error encoding response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

// statusForRegistryError maps registry sentinel errors onto HTTP codes.
func statusForRegistryError(err error) int {
	switch {
	case errors.Is(err, registry.ErrTokenNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrNotOwner), errors.Is(err, registry.ErrNotApproved):
		return http.StatusForbidden
	case errors.Is(err, registry.ErrTransferToZeroAddress):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrTokenAlreadyExists):
		return http.StatusConflict
	default:
		// ErrNotAllowed is reserved and currently never returned;
		// anything unmapped is reported as an internal error.
		return http.StatusInternalServerError
	}
}

// callerID resolves the X-Caller header into an identity.
func callerID(r *http.Request) (domain.Identity, error) {
	header := r.Header.Get("X-Caller")
	if header == "" {
		return domain.Identity{}, fmt.Errorf("missing X-Caller header")
	}
	id, err := accountid.Parse(header)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("invalid X-Caller header: %w", err)
	}
	return id, nil
}

// tokenIDFromPath parses the {id} path segment.
func tokenIDFromPath(r *http.Request) (domain.TokenID, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid token id %q", raw)
	}
	return domain.TokenID(id), nil
}

// identityFromPath parses a named identity path segment.
func identityFromPath(r *http.Request, segment string) (domain.Identity, error) {
	id, err := accountid.Parse(r.PathValue(segment))
	if err != nil {
		return domain.Identity{}, fmt.Errorf("invalid %s: %w", segment, err)
	}
	return id, nil
}

type mintRequest struct {
	To   string           `json:"to"`
	Coin string           `json:"coin"`
	Mood domain.MoodState `json:"mood"`
}

type mintResponse struct {
	TokenID domain.TokenID `json:"token_id"`
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	var req mintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	to, err := accountid.Parse(req.To)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid to: %w", err))
		return
	}
	if req.Coin == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("coin is required"))
		return
	}
	if req.Mood == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("mood is required"))
		return
	}

	tokenID, err := s.node.Mint(r.Context(), caller, to, req.Coin, req.Mood)
	if err != nil {
		s.writeError(w, statusForRegistryError(err), err)
		return
	}

	s.writeJSON(w, http.StatusCreated, mintResponse{TokenID: tokenID})
}

type transferRequest struct {
	To string `json:"to"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	tokenID, err := tokenIDFromPath(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	to, err := accountid.Parse(req.To)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid to: %w", err))
		return
	}

	if err := s.node.Transfer(r.Context(), caller, to, tokenID); err != nil {
		s.writeError(w, statusForRegistryError(err), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type approveRequest struct {
	To string `json:"to"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	tokenID, err := tokenIDFromPath(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	// The zero identity is a valid grant target and must be spelled
	// out as forty hex zeros
	to, err := accountid.Parse(req.To)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid to: %w", err))
		return
	}

	if err := s.node.Approve(r.Context(), caller, to, tokenID); err != nil {
		s.writeError(w, statusForRegistryError(err), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type moodRequest struct {
	Mood domain.MoodState `json:"mood"`
}

func (s *Server) handleUpdateMood(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	tokenID, err := tokenIDFromPath(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	var req moodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if req.Mood == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("mood is required"))
		return
	}

	if err := s.node.UpdateMood(r.Context(), caller, tokenID, req.Mood); err != nil {
		s.writeError(w, statusForRegistryError(err), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type imageRequest struct {
	ImageURL string `json:"image_url"`
}

func (s *Server) handleUpdateImage(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	tokenID, err := tokenIDFromPath(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	var req imageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if req.ImageURL == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("image_url is required"))
		return
	}

	if err := s.node.UpdateImage(r.Context(), caller, tokenID, req.ImageURL); err != nil {
		s.writeError(w, statusForRegistryError(err), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type operatorRequest struct {
	Operator string `json:"operator"`
	Approved bool   `json:"approved"`
}

func (s *Server) handleSetOperator(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	var req operatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	operator, err := accountid.Parse(req.Operator)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid operator: %w", err))
		return
	}

	if err := s.node.SetApprovalForAll(r.Context(), caller, operator, req.Approved); err != nil {
		s.writeError(w, statusForRegistryError(err), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSupply(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]uint64{"total_supply": s.node.TotalSupply()})
}

type tokenResponse struct {
	TokenID     domain.TokenID   `json:"token_id"`
	Owner       string           `json:"owner"`
	Name        string           `json:"name"`
	Coin        string           `json:"coin"`
	Mood        domain.MoodState `json:"mood"`
	ImageURL    string           `json:"image_url"`
	CreatedAt   int64            `json:"created_at_ms"`
	LastUpdated int64            `json:"last_updated_ms"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	tokenID, err := tokenIDFromPath(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	owner, ok := s.node.OwnerOf(tokenID)
	if !ok {
		s.writeError(w, http.StatusNotFound, registry.ErrTokenNotFound)
		return
	}
	meta, _ := s.node.Metadata(tokenID)

	s.writeJSON(w, http.StatusOK, tokenResponse{
		TokenID:     tokenID,
		Owner:       owner.String(),
		Name:        meta.Name,
		Coin:        meta.Coin,
		Mood:        meta.Mood,
		ImageURL:    meta.ImageURL,
		CreatedAt:   meta.CreatedAt,
		LastUpdated: meta.LastUpdated,
	})
}

type approvedResponse struct {
	Approved *string `json:"approved"` // null when no grant is recorded
}

func (s *Server) handleApproved(w http.ResponseWriter, r *http.Request) {
	tokenID, err := tokenIDFromPath(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, ok := s.node.OwnerOf(tokenID); !ok {
		s.writeError(w, http.StatusNotFound, registry.ErrTokenNotFound)
		return
	}

	var resp approvedResponse
	if approved, ok := s.node.GetApproved(tokenID); ok {
		v := approved.String()
		resp.Approved = &v
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOwnerTokens(w http.ResponseWriter, r *http.Request) {
	owner, err := identityFromPath(r, "identity")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	tokens := s.node.TokensOfOwner(owner)
	if tokens == nil {
		tokens = []domain.TokenID{}
	}

	s.writeJSON(w, http.StatusOK, map[string][]domain.TokenID{"tokens": tokens})
}

func (s *Server) handleOwnerBalance(w http.ResponseWriter, r *http.Request) {
	owner, err := identityFromPath(r, "identity")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]uint64{"balance": s.node.BalanceOf(owner)})
}

func (s *Server) handleOperator(w http.ResponseWriter, r *http.Request) {
	owner, err := identityFromPath(r, "owner")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	operator, err := identityFromPath(r, "operator")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]bool{"approved": s.node.IsApprovedForAll(owner, operator)})
}

type eventsResponse struct {
	FromSeq uint64          `json:"from_seq"`
	ToSeq   uint64          `json:"to_seq"`
	Events  []*domain.Event `json:"events"`
}

// handleEvents serves an inclusive archive range. from_seq defaults to
// 1 and to_seq to the last archived seq.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	from := uint64(1)
	if raw := r.URL.Query().Get("from_seq"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid from_seq %q", raw))
			return
		}
		from = v
	}

	to := uint64(0)
	if raw := r.URL.Query().Get("to_seq"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid to_seq %q", raw))
			return
		}
		to = v
	} else {
		last, err := s.events.LastSeq(r.Context())
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, fmt.Errorf("read last seq: %w", err))
			return
		}
		to = last
	}

	events, err := s.events.GetBySeqRange(r.Context(), from, to)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("load events: %w", err))
		return
	}
	if events == nil {
		events = []*domain.Event{}
	}

	s.writeJSON(w, http.StatusOK, eventsResponse{FromSeq: from, ToSeq: to, Events: events})
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status      string     `json:"status"`
	Uptime      string     `json:"uptime"`
	Storage     string     `json:"storage"`
	Curator     string     `json:"curator"`
	FeedClients int        `json:"feed_clients"`
	Node        node.Stats `json:"node"`
}

// handleStatus returns server status as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	storageMode := "postgres+clickhouse"
	if s.useMemory {
		storageMode = "memory"
	}

	s.writeJSON(w, http.StatusOK, StatusResponse{
		Status:      "running",
		Uptime:      time.Since(started).String(),
		Storage:     storageMode,
		Curator:     s.node.Curator().String(),
		FeedClients: s.hub.ClientCount(),
		Node:        s.node.Stats(),
	})
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
