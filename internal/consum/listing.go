package consum

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"chartermap/internal/collect"
	"chartermap/internal/components/assert"
	"chartermap/internal/components/telemetry"
	"chartermap/internal/fetch"
	"chartermap/lib/htmlutil"
	"chartermap/lib/osutil"

	"github.com/PuerkitoBio/goquery"
)

const (
	report_listing_page = "listing.page"
	report_listing_ids  = "listing.ids"
)

const (
	cardSelector    = "article,li,div"
	nameSelector    = "h3,h2,.title"
	addressSelector = `[class*="domicilio"], [class*="address"], .address, p`
)

var nodeLink = regexp.MustCompile(`/node/(\d+)`)

type listedStore struct {
	id      string
	name    string
	address string
}

// ListingSource walks the html store listing page by page.
type ListingSource struct {
	Fetcher  Fetcher
	URL      string
	MaxPages int
	// Stagnant is how many pages in a row may add no new id before the
	// walk stops.
	Stagnant int
	Pause    time.Duration

	tel telemetry.API
}

func NewListingSource(fetcher Fetcher, startURL string, tel telemetry.API) *ListingSource {
	assert.NotNil(fetcher, "fetcher")
	assert.NotEmptyStr(startURL, "start url")
	assert.NotNil(tel, "tel")

	return &ListingSource{
		Fetcher:  fetcher,
		URL:      startURL,
		MaxPages: 80,
		Stagnant: 2,
		Pause:    300 * time.Millisecond,
		tel:      telemetry.NewScopedAPI("consum", tel),
	}
}

func (s *ListingSource) Name() string {
	return s.URL
}

func (s *ListingSource) pageURL(page int) (string, error) {
	if page == 0 {
		return s.URL, nil
	}
	return withQuery(s.URL, "page", page)
}

func (s *ListingSource) Discover(ctx context.Context, emit func(collect.Hint)) error {
	seen := map[string]bool{}
	stagnant := 0
	okPages := 0
	var lastErr error

	for page := 0; page < s.MaxPages; page++ {
		if page > 0 {
			if !osutil.Sleep(ctx, s.Pause) {
				return ctx.Err()
			}
		}

		url, err := s.pageURL(page)
		if err != nil {
			return fmt.Errorf("listing url %s: %w", s.URL, err)
		}

		grew := 0
		body, err := s.Fetcher.Fetch(ctx, fetch.Get(url))
		if err == nil {
			var stores []listedStore
			stores, err = parseListing(body)
			for _, store := range stores {
				if seen[store.id] {
					continue
				}
				seen[store.id] = true
				grew++
				emit(collect.Hint{ID: store.id, Name: store.name, Description: store.address})
			}
		}
		if err != nil {
			s.tel.ReportWarning(report_listing_page, err, url)
			lastErr = err
		} else {
			okPages++
		}

		if grew == 0 {
			stagnant++
		} else {
			stagnant = 0
		}
		if stagnant >= s.Stagnant {
			break
		}
	}

	if okPages == 0 {
		return fmt.Errorf("listing %s: no page could be read: %w", s.URL, lastErr)
	}
	s.tel.ReportCount(report_listing_ids, int64(len(seen)))
	return ctx.Err()
}

func card(sel *goquery.Selection) *goquery.Selection {
	closest := sel.Closest(cardSelector)
	if closest.Length() == 0 {
		return sel
	}
	return closest
}

func firstText(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	return htmlutil.CollapseSpace(htmlutil.GetText(sel.Get(0)))
}

// parseListing extracts stores from one listing page. Cards carrying a
// data-entity-id are preferred, links to /node/<id> fill in the rest.
func parseListing(body []byte) ([]listedStore, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}

	var out []listedStore
	found := map[string]bool{}

	doc.Find("[data-entity-id]").Each(func(_ int, el *goquery.Selection) {
		id := strings.TrimSpace(el.AttrOr("data-entity-id", ""))
		if id == "" || found[id] {
			return
		}
		found[id] = true
		c := card(el)
		out = append(out, listedStore{
			id:      id,
			name:    firstText(c.Find(nameSelector)),
			address: firstText(c.Find(addressSelector)),
		})
	})

	doc.Find(`a[href*="/node/"]`).Each(func(_ int, a *goquery.Selection) {
		match := nodeLink.FindStringSubmatch(a.AttrOr("href", ""))
		if match == nil || found[match[1]] {
			return
		}
		id := match[1]
		found[id] = true
		c := card(a)
		name := firstText(c.Find(nameSelector))
		if name == "" {
			name = firstText(a)
		}
		out = append(out, listedStore{
			id:      id,
			name:    name,
			address: firstText(c.Find(addressSelector)),
		})
	})

	return out, nil
}
