package nestedset

import (
	"context"
	"database/sql"
	"fmt"
)

// Apply executes one synchronize cycle's plan inside tx: the log offset
// is upserted first (so the advance survives even when the cycle applied
// no row changes for nodes whose only pending entry was superseded),
// then inserts, then updates, then deletes. The caller owns tx and is
// responsible for Commit/Rollback.
func Apply(ctx context.Context, tx *sql.Tx, dest Destination, plan Plan, newOffset int64) error {
	query, args := buildOffsetUpsertSQL(dest, newOffset)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("nestedset: upserting offset for %q: %w", dest.Name, err)
	}

	if len(plan.Inserts) > 0 {
		query, args := buildInsertSQL(dest, plan.Inserts)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("nestedset: inserting %d rows into %q: %w", len(plan.Inserts), dest.Table.Name, err)
		}
	}

	if len(plan.Updates) > 0 {
		query, args := buildUpdateSQL(dest, plan.Updates)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("nestedset: updating %d rows in %q: %w", len(plan.Updates), dest.Table.Name, err)
		}
	}

	if len(plan.Deletes) > 0 {
		query, args := buildDeleteSQL(dest, plan.Deletes)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("nestedset: deleting %d rows from %q: %w", len(plan.Deletes), dest.Table.Name, err)
		}
	}

	return nil
}
