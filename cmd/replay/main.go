// Package main rebuilds registry state from the archived event stream
// and cross-checks it against the token read model: sequence gaps,
// ownership, coins, names, and post-mint moods. Exits non-zero when
// the archive has gaps or the mirror diverges.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"echomint-registry/internal/domain"
	"echomint-registry/internal/replay"
	"echomint-registry/internal/storage"
	pgstore "echomint-registry/internal/storage/postgres"
	"echomint-registry/internal/verification"
)

// VerifyReport is the JSON document emitted in -json mode.
type VerifyReport struct {
	EventsApplied int                       `json:"events_applied"`
	FirstSeq      uint64                    `json:"first_seq"`
	LastSeq       uint64                    `json:"last_seq"`
	TotalSupply   uint64                    `json:"total_supply"`
	MirrorRows    uint64                    `json:"mirror_rows"`
	Gaps          []replay.SeqGap           `json:"gaps,omitempty"`
	Divergences   []verification.Divergence `json:"divergences,omitempty"`
	Duration      string                    `json:"duration"`
}

func main() {
	// Parse flags
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	outputJSON := flag.Bool("json", false, "Output as JSON")

	flag.Parse()

	// Setup structured logger
	logger := log.New(os.Stderr, "[replay] ", log.LstdFlags)

	// Validate required flags
	if *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	// Create stores
	pool, err := pgstore.NewPool(ctx, *postgresDSN)
	if err != nil {
		logger.Fatalf("connect to postgres: %v", err)
	}
	defer pool.Close()

	events := pgstore.NewEventStore(pool)
	tokens := pgstore.NewTokenStore(pool)

	// Rebuild state from the archive
	runner := replay.NewRunner(events, logger)
	state, report, err := runner.Rebuild(ctx)
	if err != nil {
		logger.Fatalf("rebuild failed: %v", err)
	}

	if report.EventsApplied == 0 {
		logger.Println("Archive is empty, nothing to check")
		return
	}

	// Fetch the mirror rows for the rebuilt token set
	records := make(map[domain.TokenID]*domain.TokenRecord, len(state.Owners))
	for id := range state.Owners {
		rec, err := tokens.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue // reported as a missing row
			}
			logger.Fatalf("load mirror row %d: %v", id, err)
		}
		records[id] = rec
	}
	mirrorRows, err := tokens.Count(ctx)
	if err != nil {
		logger.Fatalf("count mirror rows: %v", err)
	}

	divergences := verification.CompareWithMirror(state, records)
	if mirrorRows != state.TotalSupply {
		divergences = append(divergences, verification.Divergence{
			Field:    "MirrorRows",
			Expected: state.TotalSupply,
			Actual:   mirrorRows,
		})
	}

	out := VerifyReport{
		EventsApplied: report.EventsApplied,
		FirstSeq:      report.FirstSeq,
		LastSeq:       report.LastSeq,
		TotalSupply:   state.TotalSupply,
		MirrorRows:    mirrorRows,
		Gaps:          report.Gaps,
		Divergences:   divergences,
		Duration:      report.Duration.String(),
	}

	if *outputJSON {
		output, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(output))
	} else {
		fmt.Printf("\n=== Archive Verification ===\n")
		fmt.Printf("Events Applied:  %d\n", out.EventsApplied)
		fmt.Printf("Seq Range:       %d-%d\n", out.FirstSeq, out.LastSeq)
		fmt.Printf("Rebuilt Supply:  %d\n", out.TotalSupply)
		fmt.Printf("Mirror Rows:     %d\n", out.MirrorRows)
		fmt.Printf("Gaps:            %d\n", len(out.Gaps))
		for _, gap := range out.Gaps {
			fmt.Printf("  missing seq %d-%d\n", gap.From, gap.To)
		}
		fmt.Printf("Divergences:     %d\n", len(out.Divergences))
		for _, d := range out.Divergences {
			fmt.Printf("  %s: archive=%v mirror=%v\n", d.Field, d.Expected, d.Actual)
		}
		fmt.Printf("Duration:        %s\n", out.Duration)
	}

	if len(out.Gaps) > 0 || len(out.Divergences) > 0 {
		os.Exit(1)
	}
}
