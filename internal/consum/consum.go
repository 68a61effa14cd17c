package consum

import (
	"context"
	"net/url"
	"strconv"

	"chartermap/internal/fetch"
)

const (
	StartURL = "https://www.consum.es/supermercados/"
)

// DefaultFeeds are the provincial map listings, some only answer on the
// valencian site.
var DefaultFeeds = []string{
	"https://www.consum.es/get-map-list/block_supermercados_en_barcelona/",
	"https://www.consum.es/va/get-map-list/block_supermercados_en_valencia/",
	"https://www.consum.es/va/get-map-list/block_supermercados_en_alicante/",
	"https://www.consum.es/get-map-list/block_supermercados_en_castellon/",
	"https://www.consum.es/get-map-list/block_supermercados_en_murcia/",
	"https://www.consum.es/get-map-list/block_supermercados_en_albacete/",
}

var DefaultDetailBases = []string{
	"https://www.consum.es",
	"https://www.consum.es/va",
}

// Fetcher is the part of *fetch.Fetcher the adapters use.
type Fetcher interface {
	Fetch(ctx context.Context, req fetch.Request) ([]byte, error)
	FetchJSON(ctx context.Context, req fetch.Request, out any) error
}

var _ Fetcher = (*fetch.Fetcher)(nil)

func withQuery(base, key string, value int) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(key, strconv.Itoa(value))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
