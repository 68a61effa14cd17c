package collect

import (
	"fmt"
	"regexp"
	"sync"
	"testing"

	"chartermap/internal/geojson"
	"chartermap/internal/stores"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

var (
	charterIcon = regexp.MustCompile(`(?i)charter`)
	charterText = regexp.MustCompile(`(?i)\bcharter\b`)
)

func accept(iconText, freeText string) bool {
	return charterIcon.MatchString(iconText) || charterText.MatchString(freeText)
}

func TestAddFoldsByID(t *testing.T) {
	first := geojson.NewPoint(-0.37, 39.47)
	second := geojson.NewPoint(2.17, 41.38)

	c := NewCollector()
	c.Add(Hint{ID: "42", Icon: "", Name: "A"})
	c.Add(Hint{ID: " 42 ", Icon: "charter-icon"})
	c.Add(Hint{ID: "42", Description: "C/ Mayor 3", Geometry: first})
	c.Add(Hint{ID: "42", Name: "B", Geometry: second})
	c.Add(Hint{ID: "", Name: "orphan"})
	c.Add(Hint{ID: "   ", Icon: "charter.svg"})

	require.Equal(t, 1, c.Len())
	got := c.Aggregates()
	want := []Aggregate{{
		ID:           "42",
		Icons:        []string{"charter-icon"},
		Names:        []string{"A", "B"},
		Descriptions: []string{"C/ Mayor 3"},
		Geometry:     first,
	}}
	require.Empty(t, cmp.Diff(want, got))
}

func TestMerge(t *testing.T) {
	merged := Merge([]Hint{
		{ID: "1", Icon: "", Name: "A"},
		{ID: "1", Icon: "charter-icon"},
		{ID: "2", Name: "Consum Paterna"},
	})
	require.Len(t, merged, 2)
	require.Equal(t, []string{"charter-icon"}, merged["1"].Icons)
	require.Equal(t, []string{"A"}, merged["1"].Names)
	require.True(t, Hinted(*merged["1"], accept))
	require.False(t, Hinted(*merged["2"], accept))
}

func TestAggregatesSorted(t *testing.T) {
	c := NewCollector()
	for _, id := range []string{"30", "10", "20"} {
		c.Add(Hint{ID: id})
	}
	var ids []string
	for _, agg := range c.Aggregates() {
		ids = append(ids, agg.ID)
	}
	require.Equal(t, []string{"10", "20", "30"}, ids)
}

func TestAddConcurrentSources(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for source := 0; source < 4; source++ {
		wg.Add(1)
		go func(source int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				c.Add(Hint{ID: fmt.Sprint(i), Name: fmt.Sprint("source ", source)})
			}
		}(source)
	}
	wg.Wait()

	aggs := c.Aggregates()
	require.Len(t, aggs, 100)
	for _, agg := range aggs {
		require.Len(t, agg.Names, 4)
	}
}

func TestResolve(t *testing.T) {
	hintGeom := geojson.NewPoint(-0.37, 39.47)
	cacheGeom := geojson.NewPoint(-0.38, 39.48)
	agg := Aggregate{
		ID:           "7",
		Icons:        []string{"consum.svg"},
		Names:        []string{"Supermercado"},
		Descriptions: []string{"<p>Av. del Puerto&nbsp;12</p>"},
		Geometry:     hintGeom,
	}

	testCases := []struct {
		name     string
		entry    stores.Entry
		found    bool
		want     Record
		accepted bool
	}{
		{
			name:  "hints only",
			entry: stores.Entry{Icon: "ignored"},
			found: false,
			want: Record{
				ID:       "7",
				Name:     "Supermercado",
				Address:  "Av. del Puerto 12",
				Icon:     "consum.svg",
				IconText: "consum.svg",
				FreeText: "Supermercado <p>Av. del Puerto&nbsp;12</p>",
				Geometry: hintGeom,
			},
		},
		{
			name:  "cache wins",
			entry: stores.Entry{Icon: "charter.svg", Name: "Charter Puerto", Desc: "Av. del Puerto 12, Valencia", Geom: cacheGeom},
			found: true,
			want: Record{
				ID:       "7",
				Name:     "Charter Puerto",
				Address:  "Av. del Puerto 12, Valencia",
				Icon:     "charter.svg",
				IconText: "consum.svg charter.svg",
				FreeText: "Supermercado <p>Av. del Puerto&nbsp;12</p> Charter Puerto Av. del Puerto 12, Valencia",
				Geometry: cacheGeom,
			},
			accepted: true,
		},
		{
			name:  "invalid cache geometry falls back",
			entry: stores.Entry{Name: "Charter", Geom: &geojson.Geometry{Type: geojson.TypePoint}},
			found: true,
			want: Record{
				ID:       "7",
				Name:     "Charter",
				Address:  "Av. del Puerto 12",
				Icon:     "consum.svg",
				IconText: "consum.svg",
				FreeText: "Supermercado <p>Av. del Puerto&nbsp;12</p> Charter",
				Geometry: hintGeom,
			},
			accepted: true,
		},
	}

	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			got := Resolve(agg, test.entry, test.found)
			require.Empty(t, cmp.Diff(test.want, got))
			require.Equal(t, test.accepted, accept(got.IconText, got.FreeText))
		})
	}
}
