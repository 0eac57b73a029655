package nestedset

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nestedsync/nestedsync/internal/storage"
)

// ReadOffset reads the durable log offset for a destination's log table.
// A missing row is treated as offset 0, so the first run processes the
// log table from the beginning.
func ReadOffset(ctx context.Context, conn *storage.Connection, dest Destination) (int64, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM %s WHERE %s = $1`,
		quoteIdent(dest.Offset.OffsetColumn),
		quoteIdent(dest.Offset.Name),
		quoteIdent(dest.Offset.LogTableColumn),
	)

	var offset int64

	err := conn.QueryRowContext(ctx, query, dest.Log.Name).Scan(&offset)
	switch {
	case err == nil:
		return offset, nil
	case err == sql.ErrNoRows:
		return 0, nil
	default:
		return 0, fmt.Errorf("nestedset: reading offset for %q: %w", dest.Name, err)
	}
}

// ReadLogTable reads every row of the configured log table whose primary
// key is strictly greater than offset. The result's column order is
// whatever the driver yields; callers locate columns by name.
func ReadLogTable(ctx context.Context, conn *storage.Connection, dest Destination, offset int64) (TableResult, error) {
	query := fmt.Sprintf(
		`SELECT * FROM %s WHERE %s > $1`,
		quoteIdent(dest.Log.Name),
		quoteIdent(dest.Log.PKColumn),
	)

	rows, err := conn.QueryContext(ctx, query, offset)
	if err != nil {
		return TableResult{}, fmt.Errorf("nestedset: reading log table %q: %w", dest.Log.Name, err)
	}
	defer func() { _ = rows.Close() }()

	return scanRows(rows)
}

// ReadLiveTable reads every row of the configured live table.
func ReadLiveTable(ctx context.Context, conn *storage.Connection, dest Destination) (TableResult, error) {
	query := fmt.Sprintf(`SELECT * FROM %s`, quoteIdent(dest.Table.Name))

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return TableResult{}, fmt.Errorf("nestedset: reading live table %q: %w", dest.Table.Name, err)
	}
	defer func() { _ = rows.Close() }()

	return scanRows(rows)
}

// scanRows drains a *sql.Rows into a TableResult, normalizing driver byte
// slices (the common representation for text/varchar columns) to strings
// so downstream code never has to special-case []byte.
func scanRows(rows *sql.Rows) (TableResult, error) {
	columns, err := rows.Columns()
	if err != nil {
		return TableResult{}, fmt.Errorf("nestedset: reading column names: %w", err)
	}

	result := TableResult{Columns: columns}

	for rows.Next() {
		raw := make([]any, len(columns))
		ptrs := make([]any, len(columns))

		for i := range raw {
			ptrs[i] = &raw[i]
		}

		if err := rows.Scan(ptrs...); err != nil {
			return TableResult{}, fmt.Errorf("nestedset: scanning row: %w", err)
		}

		for i, v := range raw {
			if b, ok := v.([]byte); ok {
				raw[i] = string(b)
			}
		}

		result.Rows = append(result.Rows, raw)
	}

	if err := rows.Err(); err != nil {
		return TableResult{}, fmt.Errorf("nestedset: iterating rows: %w", err)
	}

	return result, nil
}

// DecodeLogEntries converts a raw log-table TableResult into LogEntry
// values using the destination's configured column names. Any required
// column missing from the result is a schema mismatch — fatal per the
// synchronizer's error model. Op carries the raw code as written by the
// producer; ValidateOps is responsible for recognizing it against the
// destination's configured operation_types and normalizing it to the
// package's canonical Op. A null left/right bound on an upsert row is a
// malformed node, reported immediately rather than coerced to zero.
func DecodeLogEntries(result TableResult, dest Destination) ([]LogEntry, error) {
	logIDIdx, ok := result.ColumnIndex(dest.Log.PKColumn)
	if !ok {
		return nil, fmt.Errorf("%w: log table missing column %q", ErrSchemaMismatch, dest.Log.PKColumn)
	}

	opIdx, ok := result.ColumnIndex(dest.Log.OperationColumn)
	if !ok {
		return nil, fmt.Errorf("%w: log table missing column %q", ErrSchemaMismatch, dest.Log.OperationColumn)
	}

	nodeIDIdx, ok := result.ColumnIndex(dest.Table.PKColumn)
	if !ok {
		return nil, fmt.Errorf("%w: log table missing column %q", ErrSchemaMismatch, dest.Table.PKColumn)
	}

	leftIdx, ok := result.ColumnIndex(dest.Table.LeftColumn)
	if !ok {
		return nil, fmt.Errorf("%w: log table missing column %q", ErrSchemaMismatch, dest.Table.LeftColumn)
	}

	rightIdx, ok := result.ColumnIndex(dest.Table.RightColumn)
	if !ok {
		return nil, fmt.Errorf("%w: log table missing column %q", ErrSchemaMismatch, dest.Table.RightColumn)
	}

	reserved := map[int]bool{
		logIDIdx:  true,
		opIdx:     true,
		nodeIDIdx: true,
		leftIdx:   true,
		rightIdx:  true,
	}

	entries := make([]LogEntry, 0, len(result.Rows))

	for _, row := range result.Rows {
		rawOp := toInt64(row[opIdx])

		left, leftOK := toInt32Checked(row[leftIdx])
		right, rightOK := toInt32Checked(row[rightIdx])

		if op, ok := dest.Ops.Decode(int(rawOp)); ok && op == OpUpsert && (!leftOK || !rightOK) {
			return nil, fmt.Errorf("%w: log_id=%d node_id=%d left or right bound is null",
				ErrMalformedNode, toInt64(row[logIDIdx]), toInt64(row[nodeIDIdx]))
		}

		entry := LogEntry{
			LogID:  toInt64(row[logIDIdx]),
			Op:     Op(rawOp),
			NodeID: toInt64(row[nodeIDIdx]),
			Left:   left,
			Right:  right,
		}

		entry.Payload = extractPayload(result.Columns, row, reserved)
		entries = append(entries, entry)
	}

	return entries, nil
}

// DecodeNodes converts a raw live-table TableResult into Node values. A
// live row's left/right bounds are never optional, so a null value there
// is reported as a malformed node rather than coerced to zero.
func DecodeNodes(result TableResult, dest Destination) ([]Node, error) {
	idIdx, ok := result.ColumnIndex(dest.Table.PKColumn)
	if !ok {
		return nil, fmt.Errorf("%w: live table missing column %q", ErrSchemaMismatch, dest.Table.PKColumn)
	}

	leftIdx, ok := result.ColumnIndex(dest.Table.LeftColumn)
	if !ok {
		return nil, fmt.Errorf("%w: live table missing column %q", ErrSchemaMismatch, dest.Table.LeftColumn)
	}

	rightIdx, ok := result.ColumnIndex(dest.Table.RightColumn)
	if !ok {
		return nil, fmt.Errorf("%w: live table missing column %q", ErrSchemaMismatch, dest.Table.RightColumn)
	}

	reserved := map[int]bool{
		idIdx:    true,
		leftIdx:  true,
		rightIdx: true,
	}

	nodes := make([]Node, 0, len(result.Rows))

	for _, row := range result.Rows {
		left, leftOK := toInt32Checked(row[leftIdx])
		right, rightOK := toInt32Checked(row[rightIdx])

		if !leftOK || !rightOK {
			return nil, fmt.Errorf("%w: id=%d left or right bound is null", ErrMalformedNode, toInt64(row[idIdx]))
		}

		node := Node{
			ID:      toInt64(row[idIdx]),
			Left:    left,
			Right:   right,
			Payload: extractPayload(result.Columns, row, reserved),
		}
		nodes = append(nodes, node)
	}

	return nodes, nil
}

// extractPayload copies every column not in reserved into a name-keyed map.
func extractPayload(columns []string, row Row, reserved map[int]bool) Payload {
	payload := make(Payload, len(columns))

	for i, name := range columns {
		if reserved[i] {
			continue
		}

		payload[name] = row[i]
	}

	return payload
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func toInt32(v any) int32 {
	return int32(toInt64(v))
}

// toInt32Checked converts a scanned column value to int32, reporting
// whether it held a non-null value. A SQL NULL surfaces as a nil driver
// value; toInt64's zero-value default would otherwise let a missing
// left/right bound pass silently as a well-formed interval.
func toInt32Checked(v any) (int32, bool) {
	if v == nil {
		return 0, false
	}

	return toInt32(v), true
}
