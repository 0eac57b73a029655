package nestedset

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateOps(t *testing.T) {
	dest := testDestination()

	t.Run("accepts upsert and delete codes and normalizes them", func(t *testing.T) {
		entries := []LogEntry{
			{LogID: 1, Op: OpUpsert},
			{LogID: 2, Op: OpDelete},
		}
		normalized, err := ValidateOps(entries, dest)
		require.NoError(t, err)
		assert.Equal(t, OpUpsert, normalized[0].Op)
		assert.Equal(t, OpDelete, normalized[1].Op)
	})

	t.Run("rejects an unrecognized operation code", func(t *testing.T) {
		entries := []LogEntry{{LogID: 7, Op: Op(99)}}
		_, err := ValidateOps(entries, dest)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnknownOperation))
	})

	t.Run("honors a destination's custom operation code mapping", func(t *testing.T) {
		custom := dest
		custom.Ops = OperationCodes{Upsert: 7, Delete: 9}

		entries := []LogEntry{{LogID: 1, Op: Op(7)}, {LogID: 2, Op: Op(9)}}
		normalized, err := ValidateOps(entries, custom)
		require.NoError(t, err)
		assert.Equal(t, OpUpsert, normalized[0].Op)
		assert.Equal(t, OpDelete, normalized[1].Op)

		// The default codes 0/1 are no longer meaningful once the
		// destination configures its own, and must be rejected.
		_, err = ValidateOps([]LogEntry{{LogID: 3, Op: OpUpsert}}, custom)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnknownOperation))
	})
}

func TestValidateWellFormed(t *testing.T) {
	t.Run("accepts well-formed survivors and live rows", func(t *testing.T) {
		survivors := []LogEntry{{Op: OpUpsert, NodeID: 1, Left: 1, Right: 2}}
		live := []Node{{ID: 2, Left: 3, Right: 4}}
		assert.NoError(t, ValidateWellFormed(survivors, live))
	})

	t.Run("rejects a survivor with left >= right", func(t *testing.T) {
		survivors := []LogEntry{{Op: OpUpsert, NodeID: 1, Left: 5, Right: 5}}
		err := ValidateWellFormed(survivors, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrMalformedNode))
	})

	t.Run("ignores bounds on delete survivors", func(t *testing.T) {
		survivors := []LogEntry{{Op: OpDelete, NodeID: 1, Left: 0, Right: 0}}
		assert.NoError(t, ValidateWellFormed(survivors, nil))
	})

	t.Run("rejects a malformed live row", func(t *testing.T) {
		live := []Node{{ID: 9, Left: 10, Right: 2}}
		err := ValidateWellFormed(nil, live)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrMalformedNode))
	})
}

func TestProjectForest(t *testing.T) {
	live := []Node{
		{ID: 1, Left: 1, Right: 4},
		{ID: 2, Left: 2, Right: 3},
	}

	survivors := []LogEntry{
		{Op: OpDelete, NodeID: 2},
		{Op: OpUpsert, NodeID: 3, Left: 5, Right: 6},
	}

	projected := ProjectForest(live, survivors)

	byID := make(map[int64]Node, len(projected))
	for _, n := range projected {
		byID[n.ID] = n
	}

	assert.Len(t, projected, 2)
	assert.Contains(t, byID, int64(1))
	assert.Contains(t, byID, int64(3))
	assert.NotContains(t, byID, int64(2))
}

func TestValidateForest(t *testing.T) {
	t.Run("valid projection", func(t *testing.T) {
		live := []Node{{ID: 1, Left: 1, Right: 2}}
		survivors := []LogEntry{{Op: OpUpsert, NodeID: 2, Left: 3, Right: 4}}

		projected, valid := ValidateForest(live, survivors)
		assert.True(t, valid)
		assert.Len(t, projected, 2)
	})

	t.Run("invalid projection due to overlap", func(t *testing.T) {
		live := []Node{{ID: 1, Left: 1, Right: 3}}
		survivors := []LogEntry{{Op: OpUpsert, NodeID: 2, Left: 2, Right: 4}}

		_, valid := ValidateForest(live, survivors)
		assert.False(t, valid)
	})
}
