package consum

import (
	"context"
	"fmt"
	"time"

	"chartermap/internal/collect"
	"chartermap/internal/components/assert"
	"chartermap/internal/components/telemetry"
	"chartermap/internal/fetch"
	"chartermap/lib/osutil"
)

const (
	report_feed_page    = "feed.page"
	report_feed_summary = "feed.features"
)

var pageVariants = []string{"page", "p"}

// FeedSource reads one of the get-map-list endpoints. The endpoints
// paginate inconsistently so both the "page" and "p" query parameters
// are walked, each until a page comes back short.
type FeedSource struct {
	Fetcher  Fetcher
	BaseURL  string
	PageSize int
	MaxPages int
	Pause    time.Duration

	tel telemetry.API
}

func NewFeedSource(fetcher Fetcher, baseURL string, tel telemetry.API) *FeedSource {
	assert.NotNil(fetcher, "fetcher")
	assert.NotEmptyStr(baseURL, "base url")
	assert.NotNil(tel, "tel")

	return &FeedSource{
		Fetcher:  fetcher,
		BaseURL:  baseURL,
		PageSize: 200,
		MaxPages: 20,
		Pause:    120 * time.Millisecond,
		tel:      telemetry.NewScopedAPI("consum", tel),
	}
}

func (s *FeedSource) Name() string {
	return s.BaseURL
}

// page fetches one url and emits its features, it returns the number of
// features found.
func (s *FeedSource) page(ctx context.Context, url string, emit func(collect.Hint)) (int, error) {
	var body any
	err := s.Fetcher.FetchJSON(ctx, fetch.Get(url), &body)
	if err != nil {
		return 0, err
	}
	features := FindFeatures(body)
	for _, raw := range features {
		f, ok := decodeFeature(raw)
		if !ok {
			continue
		}
		emit(f.hint())
	}
	return len(features), nil
}

// Discover fails only when no page at all could be read.
func (s *FeedSource) Discover(ctx context.Context, emit func(collect.Hint)) error {
	var (
		total    int
		okPages  int
		lastErr  error
		requests int
	)

	get := func(url string) (int, bool) {
		if requests > 0 {
			if !osutil.Sleep(ctx, s.Pause) {
				lastErr = ctx.Err()
				return 0, false
			}
		}
		requests++

		n, err := s.page(ctx, url, emit)
		if err != nil {
			s.tel.ReportWarning(report_feed_page, err, url)
			lastErr = err
			return 0, false
		}
		okPages++
		total += n
		return n, true
	}

	get(s.BaseURL)

	for _, variant := range pageVariants {
		for i := 1; i <= s.MaxPages; i++ {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			url, err := withQuery(s.BaseURL, variant, i)
			if err != nil {
				return fmt.Errorf("feed url %s: %w", s.BaseURL, err)
			}
			n, ok := get(url)
			if ok && n < s.PageSize {
				break
			}
		}
	}

	if okPages == 0 {
		return fmt.Errorf("feed %s: no page could be read: %w", s.BaseURL, lastErr)
	}
	s.tel.ReportCount(report_feed_summary, int64(total))
	return ctx.Err()
}
