package nestedset

import "fmt"

// ValidateOps checks that every entry's raw operation code is recognized
// under dest's configured operation_types, and returns the entries with Op
// normalized to the package's canonical OpUpsert/OpDelete values for the
// rest of the pipeline to consume. An unrecognized code means either a
// producer misconfigured against this destination's operation_types or a
// corrupted log, and is always fatal — it is never treated as a
// soft-invalid, retryable condition.
func ValidateOps(entries []LogEntry, dest Destination) ([]LogEntry, error) {
	normalized := make([]LogEntry, len(entries))

	for i, e := range entries {
		op, ok := dest.Ops.Decode(int(e.Op))
		if !ok {
			return nil, fmt.Errorf("%w: log_id=%d op=%d", ErrUnknownOperation, e.LogID, e.Op)
		}

		e.Op = op
		normalized[i] = e
	}

	return normalized, nil
}

// ValidateWellFormed checks left < right for every UPSERT survivor and
// every live-table row. A single bad row fails the whole cycle: the
// caller must treat this as soft-invalid (log, no-op, retry on a later
// cycle) rather than propagating it as a fatal error.
func ValidateWellFormed(survivors []LogEntry, live []Node) error {
	for _, e := range survivors {
		if e.Op != OpUpsert {
			continue
		}

		if e.Left >= e.Right {
			return fmt.Errorf("%w: node_id=%d left=%d right=%d", ErrMalformedNode, e.NodeID, e.Left, e.Right)
		}
	}

	for _, n := range live {
		if n.Left >= n.Right {
			return fmt.Errorf("%w: id=%d left=%d right=%d", ErrMalformedNode, n.ID, n.Left, n.Right)
		}
	}

	return nil
}

// ProjectForest computes the hypothetical live-table state after applying
// every survivor on top of the current live table: DELETE removes the id,
// UPSERT inserts-or-replaces it with the survivor's bounds and payload.
func ProjectForest(live []Node, survivors []LogEntry) []Node {
	projected := make(map[int64]Node, len(live)+len(survivors))

	for _, n := range live {
		projected[n.ID] = n
	}

	for _, e := range survivors {
		switch e.Op {
		case OpDelete:
			delete(projected, e.NodeID)
		case OpUpsert:
			projected[e.NodeID] = Node{
				ID:      e.NodeID,
				Left:    e.Left,
				Right:   e.Right,
				Payload: e.Payload,
			}
		}
	}

	nodes := make([]Node, 0, len(projected))
	for _, n := range projected {
		nodes = append(nodes, n)
	}

	return nodes
}

// ValidateForest projects the survivors onto the live table and checks
// that the result is still a valid nested-set forest. It returns the
// projected node set alongside the validity verdict so the caller can
// hand it straight to the Partitioner without recomputing it.
func ValidateForest(live []Node, survivors []LogEntry) (projected []Node, valid bool) {
	projected = ProjectForest(live, survivors)

	return projected, BuildForest(projected)
}
