package consum

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"chartermap/internal/collect"
	"chartermap/internal/components/assert"
	"chartermap/internal/fetch"
	"chartermap/lib/osutil"
)

// ErrNoFeature is returned for a detail response without any feature.
var ErrNoFeature = errors.New("no feature in detail response")

// DetailResolver looks an id up on each base in order, the first base
// answering with a feature wins.
type DetailResolver struct {
	Fetcher Fetcher
	Bases   []string
	Pause   time.Duration
}

func NewDetailResolver(fetcher Fetcher, bases []string) DetailResolver {
	assert.NotNil(fetcher, "fetcher")
	if len(bases) == 0 {
		bases = DefaultDetailBases
	}
	return DetailResolver{
		Fetcher: fetcher,
		Bases:   bases,
		Pause:   80 * time.Millisecond,
	}
}

func detailURL(base, id string) string {
	return strings.TrimRight(base, "/") + "/get-map/" + url.PathEscape(id) + "/"
}

func (r DetailResolver) Resolve(ctx context.Context, id string) (collect.Detail, error) {
	var errs []error
	for i, base := range r.Bases {
		if i > 0 {
			if !osutil.Sleep(ctx, r.Pause) {
				return collect.Detail{}, ctx.Err()
			}
		}

		u := detailURL(base, id)
		var body any
		err := r.Fetcher.FetchJSON(ctx, fetch.Get(u), &body)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		features := FindFeatures(body)
		if len(features) == 0 {
			errs = append(errs, fmt.Errorf("%s: %w", u, ErrNoFeature))
			continue
		}
		f, ok := decodeFeature(features[0])
		if !ok {
			errs = append(errs, fmt.Errorf("%s: %w", u, ErrNoFeature))
			continue
		}
		return f.detail(), nil
	}
	return collect.Detail{}, fmt.Errorf("resolve %s: %w", id, errors.Join(errs...))
}
