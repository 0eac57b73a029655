package nestedset

import "sort"

// interval is the minimal shape TreeBuilder needs: a left/right bound and
// the id of the node it came from. BuildForest returns only a boolean, so
// the id is not reported anywhere.
type interval struct {
	id    int64
	left  int32
	right int32
}

// BuildForest determines whether a set of (left, right) pairs forms a
// valid modified pre-order nested-set forest: every two intervals are
// either disjoint or one strictly contains the other.
//
// An empty input is vacuously valid. A valid input with multiple roots is
// still valid — the synchronizer only needs the boolean, not the shape of
// the forest.
func BuildForest(nodes []Node) bool {
	if len(nodes) == 0 {
		return true
	}

	intervals := make([]interval, len(nodes))
	for i, n := range nodes {
		intervals[i] = interval{id: n.ID, left: n.Left, right: n.Right}
	}

	sort.Slice(intervals, func(i, j int) bool {
		if intervals[i].left != intervals[j].left {
			return intervals[i].left < intervals[j].left
		}

		return intervals[i].right > intervals[j].right
	})

	stack := make([]interval, 0, len(intervals))

	for _, p := range intervals {
		for len(stack) > 0 && stack[len(stack)-1].right < p.left {
			stack = stack[:len(stack)-1]
		}

		switch {
		case len(stack) == 0:
			stack = append(stack, p)
		case p.right < stack[len(stack)-1].right:
			stack = append(stack, p)
		default:
			// Overlap without containment: p starts inside the current
			// top's interval but does not end before it does.
			return false
		}
	}

	return true
}
