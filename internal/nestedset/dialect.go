package nestedset

import (
	"fmt"
	"sort"
	"strings"
)

// quoteIdent double-quotes a SQL identifier, escaping any embedded quote.
// Column and table names come from operator-supplied configuration, never
// from log/live table contents, so this is not an injection boundary —
// it exists to let configured names collide with reserved words.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// entryColumns returns the destination columns an UPSERT entry carries,
// in a stable order: primary key, left, right, then payload columns
// sorted alphabetically. This is the "log-table columns minus
// {log_id, op}" set the Applier writes to the live table.
func entryColumns(dest Destination, entries []LogEntry) []string {
	keys := make(map[string]struct{})
	for _, e := range entries {
		for k := range e.Payload {
			keys[k] = struct{}{}
		}
	}

	payloadCols := make([]string, 0, len(keys))
	for k := range keys {
		payloadCols = append(payloadCols, k)
	}

	sort.Strings(payloadCols)

	cols := make([]string, 0, len(payloadCols)+3)
	cols = append(cols, dest.Table.PKColumn, dest.Table.LeftColumn, dest.Table.RightColumn)
	cols = append(cols, payloadCols...)

	return cols
}

// entryValues returns the values for an entry matching the column order
// produced by entryColumns.
func entryValues(e LogEntry, columns []string, dest Destination) []any {
	values := make([]any, len(columns))

	for i, col := range columns {
		switch col {
		case dest.Table.PKColumn:
			values[i] = e.NodeID
		case dest.Table.LeftColumn:
			values[i] = e.Left
		case dest.Table.RightColumn:
			values[i] = e.Right
		default:
			values[i] = e.Payload[col]
		}
	}

	return values
}

// buildInsertSQL builds a single multi-row INSERT targeting the live
// table, one VALUES tuple per entry, in the given order.
func buildInsertSQL(dest Destination, entries []LogEntry) (string, []any) {
	columns := entryColumns(dest, entries)

	quotedCols := make([]string, len(columns))
	for i, c := range columns {
		quotedCols[i] = quoteIdent(c)
	}

	var (
		placeholders []string
		args         []any
		n            int
	)

	for _, e := range entries {
		values := entryValues(e, columns, dest)

		group := make([]string, len(values))
		for i, v := range values {
			n++
			group[i] = fmt.Sprintf("$%d", n)
			args = append(args, v)
		}

		placeholders = append(placeholders, "("+strings.Join(group, ", ")+")")
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES %s",
		quoteIdent(dest.Table.Name),
		strings.Join(quotedCols, ", "),
		strings.Join(placeholders, ", "),
	)

	return query, args
}

// buildUpdateSQL builds a single UPDATE targeting the live table, driven
// by a VALUES(...) row constructor joined against the target on the
// primary key — one statement for the whole batch rather than one
// round trip per row.
func buildUpdateSQL(dest Destination, entries []LogEntry) (string, []any) {
	columns := entryColumns(dest, entries) // pk, left, right, payload...

	setCols := columns[1:] // drop pk: it moves to the join condition

	var (
		rowExprs []string
		args     []any
		n        int
	)

	for _, e := range entries {
		values := entryValues(e, columns, dest)

		group := make([]string, len(values))
		for i, v := range values {
			n++
			group[i] = fmt.Sprintf("$%d", n)
			args = append(args, v)
		}

		rowExprs = append(rowExprs, "("+strings.Join(group, ", ")+")")
	}

	aliasCols := make([]string, len(columns))
	for i, c := range columns {
		aliasCols[i] = quoteIdent(c)
	}

	setClauses := make([]string, len(setCols))
	for i, c := range setCols {
		setClauses[i] = fmt.Sprintf("%s = v.%s", quoteIdent(c), quoteIdent(c))
	}

	query := fmt.Sprintf(
		"UPDATE %s SET %s FROM (VALUES %s) AS v(%s) WHERE %s.%s = v.%s",
		quoteIdent(dest.Table.Name),
		strings.Join(setClauses, ", "),
		strings.Join(rowExprs, ", "),
		strings.Join(aliasCols, ", "),
		quoteIdent(dest.Table.Name),
		quoteIdent(dest.Table.PKColumn),
		quoteIdent(dest.Table.PKColumn),
	)

	return query, args
}

// buildDeleteSQL builds a single DELETE targeting every node id in
// entries via an IN list.
func buildDeleteSQL(dest Destination, entries []LogEntry) (string, []any) {
	placeholders := make([]string, len(entries))
	args := make([]any, len(entries))

	for i, e := range entries {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = e.NodeID
	}

	query := fmt.Sprintf(
		"DELETE FROM %s WHERE %s IN (%s)",
		quoteIdent(dest.Table.Name),
		quoteIdent(dest.Table.PKColumn),
		strings.Join(placeholders, ", "),
	)

	return query, args
}

// BuildAppendSQL builds a single multi-row INSERT appending change-events
// to the destination's log table. log_id is left to the table's
// auto-increment primary key; the caller supplies everything else.
func BuildAppendSQL(dest Destination, entries []LogEntry) (string, []any) {
	columns := entryColumns(dest, entries) // pk, left, right, payload...

	quotedCols := make([]string, len(columns)+1)
	quotedCols[0] = quoteIdent(dest.Log.OperationColumn)
	for i, c := range columns {
		quotedCols[i+1] = quoteIdent(c)
	}

	var (
		placeholders []string
		args         []any
		n            int
	)

	for _, e := range entries {
		values := entryValues(e, columns, dest)

		group := make([]string, len(values)+1)
		n++
		group[0] = fmt.Sprintf("$%d", n)
		args = append(args, dest.Ops.Encode(e.Op))

		for i, v := range values {
			n++
			group[i+1] = fmt.Sprintf("$%d", n)
			args = append(args, v)
		}

		placeholders = append(placeholders, "("+strings.Join(group, ", ")+")")
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES %s",
		quoteIdent(dest.Log.Name),
		strings.Join(quotedCols, ", "),
		strings.Join(placeholders, ", "),
	)

	return query, args
}

// buildOffsetUpsertSQL builds the offset-table upsert, keyed by log table
// name, advancing it to newOffset.
func buildOffsetUpsertSQL(dest Destination, newOffset int64) (string, []any) {
	query := fmt.Sprintf(
		`INSERT INTO %s (%s, %s) VALUES ($1, $2)
		 ON CONFLICT (%s) DO UPDATE SET %s = EXCLUDED.%s`,
		quoteIdent(dest.Offset.Name),
		quoteIdent(dest.Offset.LogTableColumn),
		quoteIdent(dest.Offset.OffsetColumn),
		quoteIdent(dest.Offset.LogTableColumn),
		quoteIdent(dest.Offset.OffsetColumn),
		quoteIdent(dest.Offset.OffsetColumn),
	)

	return query, []any{dest.Log.Name, newOffset}
}
