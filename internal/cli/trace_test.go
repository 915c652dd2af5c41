package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rangeplan/internal/ir"
	"github.com/roach88/rangeplan/internal/store"
)

func TestTrace_Text(t *testing.T) {
	db := seedRuns(t, "recent_c1", "c1_or_gift")

	out, err := execute(t, NewTraceCommand(&RootOptions{Format: "text"}), "--db", db)
	require.NoError(t, err)

	assert.Contains(t, out, "=== Timeline ===")
	assert.Contains(t, out, "plans: customer_1_placed_-1, n_scanned")
	assert.Contains(t, out, "plans: customer_1_placed_-1, tags_1")
	assert.Contains(t, out, "=== Plans ===")
	assert.Contains(t, out, "-> customer_1_placed_-1 direction")
	assert.Contains(t, out, "Runs:         2")
	// $or runs are not cached.
	assert.Contains(t, out, "Cached plans: 1")
}

func TestTrace_JSON(t *testing.T) {
	db := seedRuns(t, "recent_c1", "gifts")

	out, err := execute(t, NewTraceCommand(&RootOptions{Format: "json"}), "--db", db, "--ns", "shop.orders")
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "shop.orders", resp.Data.Namespace)
	require.Len(t, resp.Data.Timeline, 2)
	assert.Equal(t, "run-1", resp.Data.Timeline[0].ID)
	assert.Equal(t, []string{"o3"}, resp.Data.Timeline[0].Candidates)
	assert.Equal(t, `{"_id":1}`, resp.Data.Timeline[1].Sort)
	assert.Less(t, resp.Data.Timeline[0].Seq, resp.Data.Timeline[1].Seq)
	assert.Len(t, resp.Data.Plans, 2)
	assert.Equal(t, 2, resp.Data.Stats.Runs)
	assert.Equal(t, 3, resp.Data.Stats.Candidates)
}

func TestTrace_SingleRun(t *testing.T) {
	db := seedRuns(t, "recent_c1", "gifts")

	out, err := execute(t, NewTraceCommand(&RootOptions{Format: "json"}), "--db", db, "--run", "run-2")
	require.NoError(t, err)

	var resp struct {
		Data TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Timeline, 1)
	assert.Equal(t, "run-2", resp.Data.Timeline[0].ID)
	assert.Equal(t, "shop.orders", resp.Data.Namespace)
}

func TestTrace_UnknownRun(t *testing.T) {
	db := seedRuns(t, "recent_c1")

	out, err := execute(t, NewTraceCommand(&RootOptions{Format: "text"}), "--db", db, "--run", "missing")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNotFound)
	assert.Contains(t, out, "run missing not found")
}

func TestTrace_EmptyDatabase(t *testing.T) {
	db := filepath.Join(t.TempDir(), "plans.db")

	out, err := execute(t, NewTraceCommand(&RootOptions{Format: "text"}), "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "(no runs)")
	assert.Contains(t, out, "(no cached plans)")
}

func TestOutputTraceText_StalePlan(t *testing.T) {
	db := filepath.Join(t.TempDir(), "plans.db")
	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	require.NoError(t, st.WritePlan(ctx, ir.PlanRecord{
		Namespace:      "db.c",
		PlanKey:        "k1",
		Pattern:        "a:eq",
		IndexName:      "a_1",
		Direction:      ir.Ascending,
		NScanned:       3,
		PlannerVersion: "0.0.1",
		Seq:            1,
	}))

	result, err := buildTrace(ctx, st, "", "")
	require.NoError(t, err)

	buf := &bytes.Buffer{}
	outputTraceText(buf, result, true)
	assert.Contains(t, buf.String(), "(stale planner 0.0.1)")
	assert.Contains(t, buf.String(), "key: k1")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "short", truncateID("short"))
	assert.Equal(t, "0123456789abcdef...", truncateID("0123456789abcdef0123"))
}
