package nestedset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDestination() Destination {
	return Destination{
		Name: "departments",
		Table: TableConfig{
			Name:        "departments",
			PKColumn:    "id",
			LeftColumn:  "lft",
			RightColumn: "rgt",
		},
		Log: LogTableConfig{
			Name:            "departments_log",
			PKColumn:        "log_id",
			OperationColumn: "op",
		},
		Offset: OffsetTableConfig{
			Name:           "sync_offsets",
			LogTableColumn: "log_table_name",
			OffsetColumn:   "offset_value",
		},
		Ops: OperationCodes{Upsert: 0, Delete: 1},
	}
}

func TestBuildInsertSQL(t *testing.T) {
	dest := testDestination()
	entries := []LogEntry{
		{NodeID: 1, Left: 1, Right: 2, Payload: Payload{"name": "eng"}},
		{NodeID: 2, Left: 3, Right: 4, Payload: Payload{"name": "ops"}},
	}

	query, args := buildInsertSQL(dest, entries)

	assert.Contains(t, query, `INSERT INTO "departments"`)
	assert.Contains(t, query, `"id"`)
	assert.Contains(t, query, `"lft"`)
	assert.Contains(t, query, `"rgt"`)
	assert.Contains(t, query, `"name"`)
	require.Len(t, args, 8) // 2 rows * 4 columns
}

func TestBuildUpdateSQL(t *testing.T) {
	dest := testDestination()
	entries := []LogEntry{{NodeID: 1, Left: 1, Right: 6, Payload: Payload{"name": "eng"}}}

	query, args := buildUpdateSQL(dest, entries)

	assert.Contains(t, query, `UPDATE "departments" SET`)
	assert.Contains(t, query, "FROM (VALUES")
	assert.Contains(t, query, `WHERE "departments"."id" = v."id"`)
	require.Len(t, args, 4)
}

func TestBuildDeleteSQL(t *testing.T) {
	dest := testDestination()
	entries := []LogEntry{{NodeID: 1}, {NodeID: 2}}

	query, args := buildDeleteSQL(dest, entries)

	assert.Contains(t, query, `DELETE FROM "departments" WHERE "id" IN ($1, $2)`)
	assert.Equal(t, []any{int64(1), int64(2)}, args)
}

func TestBuildOffsetUpsertSQL(t *testing.T) {
	dest := testDestination()

	query, args := buildOffsetUpsertSQL(dest, 42)

	assert.Contains(t, query, `INSERT INTO "sync_offsets"`)
	assert.Contains(t, query, "ON CONFLICT")
	assert.Equal(t, []any{"departments_log", int64(42)}, args)
}

func TestBuildAppendSQL(t *testing.T) {
	dest := testDestination()
	entries := []LogEntry{
		{Op: OpUpsert, NodeID: 1, Left: 1, Right: 2, Payload: Payload{"name": "eng"}},
	}

	query, args := BuildAppendSQL(dest, entries)

	assert.Contains(t, query, `INSERT INTO "departments_log"`)
	assert.Contains(t, query, `"op"`)
	require.Len(t, args, 5) // op, id, lft, rgt, name
	assert.Equal(t, int(OpUpsert), args[0])
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"simple"`, quoteIdent("simple"))
	assert.Equal(t, `"has""quote"`, quoteIdent(`has"quote`))
}
