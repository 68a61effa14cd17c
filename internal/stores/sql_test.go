package stores

import (
	"context"
	"testing"
	"time"

	"chartermap/internal/geojson"
	configlibsql "chartermap/lib/configutil/libsql"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func newTestSQL(t *testing.T) SQL {
	t.Helper()
	db, err := configlibsql.OpenFile(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewSQL(context.Background(), db)
	require.NoError(t, err)
	return store
}

func TestSQLRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestSQL(t)

	entries, err := store.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, entries)

	want := map[string]Entry{
		"101": {
			Icon:       "charter.svg",
			Name:       "Charter Xàtiva",
			Desc:       "<p>C/ Mayor 3</p>",
			Geom:       geojson.NewPoint(-0.51, 38.99),
			ResolvedAt: epoch,
		},
		"102": {},
	}
	require.NoError(t, store.Save(ctx, want))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(want, got))
}

func TestSQLUpsertKeepsUnmentionedRows(t *testing.T) {
	ctx := context.Background()
	store := newTestSQL(t)

	require.NoError(t, store.Save(ctx, map[string]Entry{
		"1": {Icon: "consum.svg", ResolvedAt: epoch},
		"2": {Icon: "charter.svg", ResolvedAt: epoch},
	}))
	require.NoError(t, store.Save(ctx, map[string]Entry{
		"1": {Icon: "charter.svg", ResolvedAt: epoch.Add(time.Hour)},
	}))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "charter.svg", got["1"].Icon)
	require.Equal(t, epoch.Add(time.Hour), got["1"].ResolvedAt)
	require.Equal(t, "charter.svg", got["2"].Icon)
}
