package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mls-sync/internal/config"
	"github.com/mls-sync/internal/models"
	"github.com/mls-sync/internal/types"
)

func TestStatusEventSink_Record(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := &config.ClickHouseConfig{
		Host:     "localhost",
		Port:     "9000",
		Database: "mls_sync",
		User:     "default",
	}

	db, err := NewClickHouseDB(cfg)
	if err != nil {
		t.Skipf("Skipping test - ClickHouse not available: %v", err)
		return
	}
	defer func() { _ = db.Close() }()

	ctx := testContext(t)
	require.NoError(t, RunClickHouseMigrations(ctx, db, "../../migrations/clickhouse"))

	sink := NewStatusEventSink(db)
	require.NoError(t, sink.Record(ctx, nil))
	require.NoError(t, sink.Record(ctx, []models.StatusEvent{{
		Source:     "it-" + time.Now().Format("150405"),
		ListingKey: "L1",
		RunID:      "run-1",
		FromStatus: types.LifecycleActive,
		ToStatus:   types.LifecyclePending,
		ChangeKind: types.ChangeActiveToPending,
		ChangedAt:  time.Now(),
	}}))
}

func TestSplitSQLStatements(t *testing.T) {
	content := `-- header comment
CREATE TABLE a (x UInt8) ENGINE = Memory;

CREATE TABLE b (
    y String
) ENGINE = Memory
`
	stmts := splitSQLStatements(content)
	require.Len(t, stmts, 2)
	require.Equal(t, "CREATE TABLE a (x UInt8) ENGINE = Memory", stmts[0])
	require.Contains(t, stmts[1], "CREATE TABLE b")
}
