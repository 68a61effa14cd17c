package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"chartermap/internal/brand"
	"chartermap/internal/components/chrono"
	"chartermap/internal/components/telemetry"
	"chartermap/internal/consum"
	"chartermap/internal/fetch"
	"chartermap/internal/pool"
	"chartermap/internal/stores"
	"chartermap/lib/configutil"
	configlibsql "chartermap/lib/configutil/libsql"
)

type FetchConfig struct {
	MaxAttempts      int     `json:"max_attempts"`
	BaseDelayMs      int     `json:"base_delay_ms"`
	TimeoutMs        int     `json:"timeout_ms"`
	RatePerSecond    float64 `json:"rate_per_second"`
	UserAgent        string  `json:"user_agent"`
	CloudflareBypass bool    `json:"cloudflare_bypass"`
}

type CacheConfig struct {
	// File is the json cache, it is used unless Database names a sqlite
	// file or a libsql url.
	File     string              `json:"file"`
	Database configlibsql.Struct `json:"database"`
}

type BrandConfig struct {
	Label       string `json:"label"`
	IconPattern string `json:"icon_pattern"`
	TextPattern string `json:"text_pattern"`
}

type Config struct {
	Output      string      `json:"output"`
	SourceLabel string      `json:"source_label"`
	Cache       CacheConfig `json:"cache"`

	Feeds       []string `json:"feeds"`
	UseListing  bool     `json:"use_listing"`
	ListingURL  string   `json:"listing_url"`
	DetailBases []string `json:"detail_bases"`

	Concurrency int `json:"concurrency"`
	PauseMs     int `json:"pause_ms"`
	// Deadline is a duration string (ex. "10m"), empty means none.
	Deadline string `json:"deadline"`

	ConfirmedTTLDays int `json:"confirmed_ttl_days"`
	OtherTTLDays     int `json:"other_ttl_days"`

	Fetch FetchConfig `json:"fetch"`
	Brand BrandConfig `json:"brand"`
}

func DefaultConfig() Config {
	return Config{
		Output:      "docs/charter.geojson",
		SourceLabel: "consum.es get-map-list + get-map/{id}",
		Cache: CacheConfig{
			File: "docs/cache-icons.json",
		},
		Feeds:            consum.DefaultFeeds,
		ListingURL:       consum.StartURL,
		DetailBases:      consum.DefaultDetailBases,
		Concurrency:      pool.DefaultOptions().Concurrency,
		PauseMs:          int(pool.DefaultOptions().Pause / time.Millisecond),
		ConfirmedTTLDays: 90,
		OtherTTLDays:     14,
		Fetch: FetchConfig{
			MaxAttempts: 3,
			BaseDelayMs: 400,
			TimeoutMs:   12000,
			UserAgent:   "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome Safari",
		},
		Brand: BrandConfig{
			Label:       brand.DefaultLabel,
			IconPattern: brand.DefaultIconPattern,
			TextPattern: brand.DefaultTextPattern,
		},
	}
}

// LoadConfig reads path (and its .local override) on top of the defaults.
// LIBSQL_AUTH_TOKEN fills in a missing database auth token.
func LoadConfig(path string) (Config, error) {
	cfg, err := configutil.ReadWithDefaults(path, DefaultConfig())
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if cfg.Cache.Database.AuthToken == "" {
		cfg.Cache.Database.AuthToken = os.Getenv("LIBSQL_AUTH_TOKEN")
	}
	return cfg, nil
}

func (c Config) DeadlineDuration() (time.Duration, error) {
	if strings.TrimSpace(c.Deadline) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Deadline)
	if err != nil {
		return 0, fmt.Errorf("deadline: %w", err)
	}
	return d, nil
}

// FetchOptions converts the fetch section, at least one attempt is always
// made.
func (c Config) FetchOptions() fetch.Options {
	attempts := c.Fetch.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return fetch.Options{
		MaxAttempts:      attempts,
		BaseDelay:        time.Duration(c.Fetch.BaseDelayMs) * time.Millisecond,
		Timeout:          time.Duration(c.Fetch.TimeoutMs) * time.Millisecond,
		RatePerSecond:    c.Fetch.RatePerSecond,
		UserAgent:        c.Fetch.UserAgent,
		CloudflareBypass: c.Fetch.CloudflareBypass,
	}
}

func (c Config) PoolOptions() pool.Options {
	return pool.Options{
		Concurrency: c.Concurrency,
		Pause:       time.Duration(c.PauseMs) * time.Millisecond,
	}
}

func (c Config) CachePolicy() stores.Policy {
	return stores.Policy{
		ConfirmedTTL: time.Duration(c.ConfirmedTTLDays) * 24 * time.Hour,
		OtherTTL:     time.Duration(c.OtherTTLDays) * 24 * time.Hour,
	}
}

func (c Config) Matcher() (brand.Matcher, error) {
	return brand.NewMatcher(c.Brand.Label, c.Brand.IconPattern, c.Brand.TextPattern)
}

func (c CacheConfig) usesDatabase() bool {
	return c.Database.Url != "" || c.Database.File != ""
}

// OpenCache returns the cache described by c, close releases the database
// when there is one.
func (c Config) OpenCache(ctx context.Context, clock chrono.TimeAPI, tel telemetry.API) (*stores.Cache, func() error, error) {
	if !c.Cache.usesDatabase() {
		store := stores.JSONFile{Path: c.Cache.File}
		return stores.NewCache(store, c.CachePolicy(), clock, tel), func() error { return nil }, nil
	}

	db, err := c.Cache.Database.OpenDB()
	if err != nil {
		return nil, nil, fmt.Errorf("open cache database: %w", err)
	}
	store, err := stores.NewSQL(ctx, db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return stores.NewCache(store, c.CachePolicy(), clock, tel), db.Close, nil
}
