package nestedset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/nestedsync/nestedsync/internal/config"
	"github.com/nestedsync/nestedsync/internal/storage"
)

// Report summarizes the outcome of one synchronize cycle for one
// destination, for logging and for the admin API's manual-trigger
// endpoint.
type Report struct {
	Destination    string
	Synced         bool
	Reason         string
	PreviousOffset int64
	NewOffset      int64
	Inserted       int
	Updated        int
	Deleted        int
}

// Synchronizer folds a destination's pending log entries into its live
// table. It holds no per-destination state between cycles: every call to
// Synchronize re-reads the log and live tables from scratch, trading
// throughput for simplicity and crash safety.
type Synchronizer struct {
	conn   *storage.Connection
	logger *slog.Logger
}

// NewSynchronizer creates a Synchronizer bound to conn.
func NewSynchronizer(conn *storage.Connection) *Synchronizer {
	return &Synchronizer{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}
}

// Synchronize runs a single cycle for dest: read pending log entries,
// deduplicate, validate, and — if the projected state is a valid
// nested-set forest — apply inserts/updates/deletes and advance the log
// offset, all inside one transaction.
//
// A nil error with Report.Synced == false means the cycle was a
// deliberate no-op (soft-invalid input): nothing was read that the
// operator must act on immediately, but the condition is logged and the
// caller may want to surface Report.Reason. A non-nil error means a
// fatal condition (schema mismatch, unknown operation code, or a
// database failure) that the caller should surface.
func (s *Synchronizer) Synchronize(ctx context.Context, dest Destination) (Report, error) {
	report := Report{Destination: dest.Name}

	offset, err := ReadOffset(ctx, s.conn, dest)
	if err != nil {
		return report, fmt.Errorf("%w: %w", ErrSynchronizeFailed, err)
	}

	report.PreviousOffset = offset
	report.NewOffset = offset

	logResult, err := ReadLogTable(ctx, s.conn, dest, offset)
	if err != nil {
		return report, fmt.Errorf("%w: %w", ErrSynchronizeFailed, err)
	}

	if len(logResult.Rows) == 0 {
		report.Synced = true
		report.Reason = "no pending entries"

		return report, nil
	}

	entries, err := DecodeLogEntries(logResult, dest)
	if err != nil {
		if errors.Is(err, ErrMalformedNode) {
			return s.skipSoftInvalid(report, dest, err), nil
		}

		return report, fmt.Errorf("%w: %w", ErrSynchronizeFailed, err)
	}

	entries, err = ValidateOps(entries, dest)
	if err != nil {
		return report, fmt.Errorf("%w: %w", ErrSynchronizeFailed, err)
	}

	preDedupMax := maxLogID(entries)
	survivors := Deduplicate(entries)

	liveResult, err := ReadLiveTable(ctx, s.conn, dest)
	if err != nil {
		return report, fmt.Errorf("%w: %w", ErrSynchronizeFailed, err)
	}

	liveNodes, err := DecodeNodes(liveResult, dest)
	if err != nil {
		if errors.Is(err, ErrMalformedNode) {
			return s.skipSoftInvalid(report, dest, err), nil
		}

		return report, fmt.Errorf("%w: %w", ErrSynchronizeFailed, err)
	}

	if err := ValidateWellFormed(survivors, liveNodes); err != nil {
		return s.skipSoftInvalid(report, dest, err), nil
	}

	projected, valid := ValidateForest(liveNodes, survivors)
	if !valid {
		s.logger.Warn("synchronize cycle skipped: projected state is not a valid nested-set forest",
			slog.String("destination", dest.Name),
			slog.Int("projected_nodes", len(projected)),
		)

		report.Reason = "invalid nested-set forest"

		return report, nil
	}

	plan := Partition(survivors, liveNodes)

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return report, fmt.Errorf("%w: beginning transaction: %w", ErrSynchronizeFailed, err)
	}

	defer func() {
		_ = tx.Rollback() // no-op once committed
	}()

	if err := Apply(ctx, tx, dest, plan, preDedupMax); err != nil {
		return report, fmt.Errorf("%w: %w", ErrSynchronizeFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return report, fmt.Errorf("%w: committing: %w", ErrSynchronizeFailed, err)
	}

	report.Synced = true
	report.NewOffset = preDedupMax
	report.Inserted = len(plan.Inserts)
	report.Updated = len(plan.Updates)
	report.Deleted = len(plan.Deletes)

	s.logger.Info("synchronize cycle applied",
		slog.String("destination", dest.Name),
		slog.Int64("previous_offset", offset),
		slog.Int64("new_offset", report.NewOffset),
		slog.Int("inserted", report.Inserted),
		slog.Int("updated", report.Updated),
		slog.Int("deleted", report.Deleted),
	)

	return report, nil
}

// skipSoftInvalid logs and reports a soft-invalid condition (malformed
// node bounds or an invalid projected forest): the cycle is a deliberate
// no-op, the offset is left unadvanced, and the caller gets a nil error
// so the same, still-unprocessed log rows are retried next cycle.
func (s *Synchronizer) skipSoftInvalid(report Report, dest Destination, cause error) Report {
	s.logger.Warn("synchronize cycle skipped: soft-invalid input",
		slog.String("destination", dest.Name),
		slog.String("error", cause.Error()),
	)

	report.Reason = cause.Error()

	return report
}

// maxLogID returns the largest log id among the pre-dedup entries. This
// is the offset anchor: it advances past superseded entries even when
// their effect was never applied as a row change.
func maxLogID(entries []LogEntry) int64 {
	var max int64

	for _, e := range entries {
		if e.LogID > max {
			max = e.LogID
		}
	}

	return max
}
