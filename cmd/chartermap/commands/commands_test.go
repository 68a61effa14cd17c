package commands

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chartermap/internal/brand"
	"chartermap/internal/components/chrono"
	"chartermap/internal/components/telemetry"
	"chartermap/internal/geojson"
	"chartermap/internal/stores"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("LIBSQL_AUTH_TOKEN", "")
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "chartermap.json5"))
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
	require.Len(t, cfg.Feeds, 6)
	require.Equal(t, 8, cfg.PoolOptions().Concurrency)
	require.Equal(t, 90*24*time.Hour, cfg.CachePolicy().ConfirmedTTL)
	require.Equal(t, 3, cfg.FetchOptions().MaxAttempts)
	require.Equal(t, 400*time.Millisecond, cfg.FetchOptions().BaseDelay)
}

func TestLoadConfigMergesLocal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chartermap.json5")
	require.NoError(t, os.WriteFile(path, []byte(`{
		// json5 allows comments
		output: "out/charter.geojson",
		concurrency: 2,
		feeds: ["https://example.com/feed/"],
		cache: { database: { file: "cache.db" } },
	}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chartermap.local.json5"), []byte(`{
		concurrency: 4,
		deadline: "90s",
		pause_ms: 0,
		fetch: { max_attempts: 0 },
	}`), 0644))
	t.Setenv("LIBSQL_AUTH_TOKEN", "secret")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "out/charter.geojson", cfg.Output)
	require.Equal(t, 4, cfg.Concurrency)
	require.Equal(t, []string{"https://example.com/feed/"}, cfg.Feeds)
	require.Equal(t, "cache.db", cfg.Cache.Database.File)
	require.Equal(t, "secret", cfg.Cache.Database.AuthToken)
	require.Equal(t, DefaultConfig().Cache.File, cfg.Cache.File)
	require.Equal(t, 14, cfg.OtherTTLDays)

	require.Equal(t, 0, cfg.PauseMs, "an explicit zero overrides the default")
	require.Equal(t, 1, cfg.FetchOptions().MaxAttempts)

	deadline, err := cfg.DeadlineDuration()
	require.NoError(t, err)
	require.Equal(t, 90*time.Second, deadline)
}

func TestOverrides(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cache.Database.File = "cache.db"
	runOverrides{
		output:      "x.geojson",
		cache:       "x.json",
		concurrency: 3,
		deadline:    time.Minute,
	}.apply(&cfg)

	require.Equal(t, "x.geojson", cfg.Output)
	require.Equal(t, "x.json", cfg.Cache.File)
	require.False(t, cfg.Cache.usesDatabase())
	require.Equal(t, 3, cfg.Concurrency)
	require.Equal(t, "1m0s", cfg.Deadline)
}

func TestRenderCache(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	clock := chrono.NewManualImpl(now.Add(-30 * 24 * time.Hour))
	cache := stores.NewCache(stores.JSONFile{Path: filepath.Join(t.TempDir(), "c.json")}, stores.DefaultPolicy(), clock, telemetry.NewRecorder())
	cache.Put("1", stores.Entry{Icon: "charter.svg", Name: "Charter Paterna"})
	cache.Put("2", stores.Entry{Icon: "consum.svg", Name: "Consum Godella"})
	clock.Set(now)
	cache.Put("3", stores.Entry{Name: "Charter Sueca"})

	var all bytes.Buffer
	require.Equal(t, 3, renderCache(&all, cache, brand.Default(), false))
	require.Contains(t, all.String(), "Charter Paterna")
	require.Contains(t, all.String(), "30d")

	var stale bytes.Buffer
	require.Equal(t, 2, renderCache(&stale, cache, brand.Default(), true))
	require.NotContains(t, stale.String(), "Charter Paterna")
	require.Contains(t, stale.String(), "Consum Godella")
	require.Contains(t, stale.String(), "Charter Sueca", "fresh entries without an icon are looked up again")
}

func TestDescribeArtifact(t *testing.T) {
	fc := geojson.NewFeatureCollection([]geojson.Feature{
		geojson.NewFeature(geojson.NewPoint(-0.5, 39.4), geojson.Properties{ID: "1", Name: "Charter Paterna"}),
	}, &geojson.Metadata{Source: "feeds", IDs: 2, Accepted: 1})

	var out bytes.Buffer
	describeArtifact(&out, "docs/charter.geojson", fc)
	require.Contains(t, out.String(), "docs/charter.geojson: 1 feature(s)")
	require.Contains(t, out.String(), "ids seen: 2, accepted: 1")
	require.Contains(t, out.String(), "Charter Paterna")
}

func TestRunCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/get-map-list/block/" && r.URL.RawQuery == "":
			fmt.Fprint(w, `{"features":[{"properties":{"entity_id":1}},{"properties":{"entity_id":"2"}}]}`)
		case r.URL.Path == "/get-map-list/block/":
			fmt.Fprint(w, `{"features":[]}`)
		case r.URL.Path == "/get-map/1/":
			fmt.Fprint(w, `{"features":[{"geometry":{"type":"Point","coordinates":[-0.5,39.4]},"properties":{"icon":"charter.svg","tooltip":"Charter Paterna"}}]}`)
		case r.URL.Path == "/get-map/2/":
			fmt.Fprint(w, `{"features":[{"geometry":{"type":"Point","coordinates":[2.1,41.3]},"properties":{"icon":"consum.svg","tooltip":"Consum Sants"}}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	configFile := filepath.Join(dir, "chartermap.json5")
	config := fmt.Sprintf(`{
		feeds: ["%[1]s/get-map-list/block/"],
		detail_bases: ["%[1]s"],
		pause_ms: 1,
	}`, srv.URL)
	require.NoError(t, os.WriteFile(configFile, []byte(config), 0644))

	output := filepath.Join(dir, "docs", "charter.geojson")
	cachePath := filepath.Join(dir, "docs", "cache-icons.json")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetArgs([]string{"run", "--config", configFile, "--output", output, "--cache", cachePath})
	require.NoError(t, ExecuteContext(context.Background()))

	fc, err := geojson.Read(output)
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)
	require.Equal(t, "1", fc.Features[0].Properties.ID)
	require.Equal(t, "Charter", fc.Features[0].Properties.Brand)

	rootCmd.SetArgs([]string{"inspect", output, "--config", configFile})
	require.NoError(t, ExecuteContext(context.Background()))
	require.True(t, strings.Contains(stdout.String(), "1 feature(s)"))
}
