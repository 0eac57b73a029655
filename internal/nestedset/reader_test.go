package nestedset

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func logTableResult(rows ...Row) TableResult {
	return TableResult{
		Columns: []string{"log_id", "op", "id", "lft", "rgt", "name"},
		Rows:    rows,
	}
}

func liveTableResult(rows ...Row) TableResult {
	return TableResult{
		Columns: []string{"id", "lft", "rgt", "name"},
		Rows:    rows,
	}
}

func TestDecodeLogEntries(t *testing.T) {
	dest := testDestination()

	t.Run("decodes a well-formed upsert row", func(t *testing.T) {
		result := logTableResult(Row{int64(1), int64(0), int64(10), int32(1), int32(2), "eng"})

		entries, err := DecodeLogEntries(result, dest)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, int64(1), entries[0].LogID)
		assert.Equal(t, int32(1), entries[0].Left)
		assert.Equal(t, int32(2), entries[0].Right)
	})

	t.Run("rejects a null left bound on an upsert row instead of coercing to zero", func(t *testing.T) {
		result := logTableResult(Row{int64(1), int64(0), int64(10), nil, int32(5), "eng"})

		_, err := DecodeLogEntries(result, dest)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrMalformedNode))
	})

	t.Run("rejects a null right bound on an upsert row instead of coercing to zero", func(t *testing.T) {
		result := logTableResult(Row{int64(1), int64(0), int64(10), int32(5), nil, "eng"})

		_, err := DecodeLogEntries(result, dest)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrMalformedNode))
	})

	t.Run("tolerates null bounds on a delete row", func(t *testing.T) {
		result := logTableResult(Row{int64(1), int64(1), int64(10), nil, nil, nil})

		entries, err := DecodeLogEntries(result, dest)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, Op(1), entries[0].Op)
	})

	t.Run("leaves an unrecognized operation code for ValidateOps to reject", func(t *testing.T) {
		result := logTableResult(Row{int64(1), int64(99), int64(10), int32(1), int32(2), "eng"})

		entries, err := DecodeLogEntries(result, dest)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, Op(99), entries[0].Op)

		_, err = ValidateOps(entries, dest)
		assert.True(t, errors.Is(err, ErrUnknownOperation))
	})

	t.Run("missing column is a schema mismatch", func(t *testing.T) {
		result := TableResult{Columns: []string{"log_id", "op"}, Rows: []Row{{int64(1), int64(0)}}}

		_, err := DecodeLogEntries(result, dest)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrSchemaMismatch))
	})
}

func TestDecodeNodes(t *testing.T) {
	dest := testDestination()

	t.Run("decodes a well-formed live row", func(t *testing.T) {
		result := liveTableResult(Row{int64(1), int32(1), int32(2), "eng"})

		nodes, err := DecodeNodes(result, dest)
		require.NoError(t, err)
		require.Len(t, nodes, 1)
		assert.Equal(t, int32(1), nodes[0].Left)
	})

	t.Run("rejects a null bound on a live row instead of coercing to zero", func(t *testing.T) {
		result := liveTableResult(Row{int64(1), nil, int32(2), "eng"})

		_, err := DecodeNodes(result, dest)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrMalformedNode))
	})
}
