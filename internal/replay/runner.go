package replay

import (
	"context"
	"fmt"
	"log"
	"time"

	"echomint-registry/internal/storage"
)

// Runner loads the event archive and folds it into a fresh State.
type Runner struct {
	events storage.EventStore
	logger *log.Logger
}

// NewRunner creates a new rebuild runner.
func NewRunner(events storage.EventStore, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.Default()
	}

	return &Runner{
		events: events,
		logger: logger,
	}
}

// SeqGap is a run of sequence numbers missing from the archive.
type SeqGap struct {
	From uint64 `json:"from"` // first missing sequence
	To   uint64 `json:"to"`   // last missing sequence
}

// Report contains statistics from one rebuild pass.
type Report struct {
	EventsApplied int           `json:"events_applied"`
	FirstSeq      uint64        `json:"first_seq"` // zero for an empty archive
	LastSeq       uint64        `json:"last_seq"`
	Gaps          []SeqGap      `json:"gaps,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// Rebuild replays the full archive in sequence order. Sequence numbers
// start at 1, so an archive whose first event carries a higher number
// reports a leading gap. Gaps are reported, not repaired: the fold
// applies whatever events exist.
func (r *Runner) Rebuild(ctx context.Context) (*State, *Report, error) {
	start := time.Now()

	r.logger.Println("Loading event archive...")
	events, err := r.events.GetAll(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load archive: %w", err)
	}
	r.logger.Printf("Loaded %d events", len(events))

	state := NewState()
	report := &Report{}

	var prev uint64
	for _, e := range events {
		if e == nil {
			return nil, nil, fmt.Errorf("archive returned nil event after seq %d", prev)
		}
		// Stores return the archive ordered by unique ascending seq
		if e.Seq <= prev {
			return nil, nil, fmt.Errorf("seq %d after %d: %w", e.Seq, prev, ErrOutOfOrder)
		}
		if e.Seq != prev+1 {
			report.Gaps = append(report.Gaps, SeqGap{From: prev + 1, To: e.Seq - 1})
		}
		prev = e.Seq

		if err := state.Apply(e); err != nil {
			return nil, nil, fmt.Errorf("apply event: %w", err)
		}
		report.EventsApplied++
	}

	if len(events) > 0 {
		report.FirstSeq = events[0].Seq
		report.LastSeq = prev
	}
	report.Duration = time.Since(start)

	r.logger.Printf("Rebuild complete: %d events applied, %d gaps, supply %d, in %v",
		report.EventsApplied, len(report.Gaps), state.TotalSupply, report.Duration)

	return state, report, nil
}
