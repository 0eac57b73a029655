package nestedset

import "strings"

// Op is the operation code carried by a log entry.
type Op int

const (
	// OpUpsert inserts a node if absent or replaces it if present.
	OpUpsert Op = 0

	// OpDelete removes a node by id.
	OpDelete Op = 1
)

func (o Op) String() string {
	switch o {
	case OpUpsert:
		return "UPSERT"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Payload carries a row's columns beyond the ones the synchronizer
// interprets directly (id, left, right, log_id, op), keyed by column name
// so the Applier can generate INSERT/UPDATE statements without needing to
// know the destination's schema beyond what configuration names.
type Payload map[string]any

// Node is a single row of the live nested-set table: its identity, its
// interval bounds, and the remaining columns carried along as an opaque
// payload.
type Node struct {
	ID      int64
	Left    int32
	Right   int32
	Payload Payload
}

// LogEntry is a single pending row of the log table: the intent (op) for
// one node, tagged with the strictly increasing log_id that orders it
// relative to every other entry in the same log table.
type LogEntry struct {
	LogID   int64
	Op      Op
	NodeID  int64
	Left    int32
	Right   int32
	Payload Payload
}

// Row is a positional tuple of column values, as returned by a table
// reader. Index i corresponds to the column name at the same index in the
// enclosing TableResult's Columns slice.
type Row []any

// TableResult is the tabular shape every reader returns: an ordered list
// of column names plus the rows fetched under them. Readers make no
// promise about row ordering beyond what the underlying source yields.
type TableResult struct {
	Columns []string
	Rows    []Row
}

// ColumnIndex returns the position of the named column, matched
// case-insensitively, and whether it was found.
func (t TableResult) ColumnIndex(name string) (int, bool) {
	for i, c := range t.Columns {
		if strings.EqualFold(c, name) {
			return i, true
		}
	}

	return 0, false
}
