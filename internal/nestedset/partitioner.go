package nestedset

// Plan is the output of partitioning: the three batches the Applier will
// execute, in the order they must run (inserts, then updates, then
// deletes — deletes last so a parent is never transiently removed while
// its incoming child is still pending in the same cycle).
type Plan struct {
	Inserts []LogEntry
	Updates []LogEntry
	Deletes []LogEntry
}

// Partition splits deduplicated survivors into insert/update/delete
// batches using live-table membership. A DELETE for a node absent from
// the live table still lands in Plan.Deletes; Apply just runs a DELETE
// statement that matches zero rows for it.
func Partition(survivors []LogEntry, live []Node) Plan {
	liveIDs := make(map[int64]struct{}, len(live))
	for _, n := range live {
		liveIDs[n.ID] = struct{}{}
	}

	var plan Plan

	for _, e := range survivors {
		switch e.Op {
		case OpDelete:
			// Accepted unconditionally, including ids absent from the live
			// table: the DELETE statement simply affects zero rows.
			plan.Deletes = append(plan.Deletes, e)
		case OpUpsert:
			if _, exists := liveIDs[e.NodeID]; exists {
				plan.Updates = append(plan.Updates, e)
			} else {
				plan.Inserts = append(plan.Inserts, e)
			}
		}
	}

	return plan
}
