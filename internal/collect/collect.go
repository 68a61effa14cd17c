package collect

import (
	"sort"
	"strings"
	"sync"

	"chartermap/internal/geojson"
	"chartermap/internal/stores"
	"chartermap/lib/htmlutil"
)

// Hint is a partial record emitted by a source, any field may be empty.
type Hint struct {
	ID          string
	Icon        string
	Name        string
	Description string
	Geometry    *geojson.Geometry
}

// Aggregate is every hint seen for one id folded together.
type Aggregate struct {
	ID           string
	Icons        []string
	Names        []string
	Descriptions []string
	Geometry     *geojson.Geometry
}

// Detail is what a resolver returns for one id.
type Detail struct {
	Icon     string
	Name     string
	Desc     string
	Geometry *geojson.Geometry
}

// Entry converts the detail to its cached form.
func (d Detail) Entry() stores.Entry {
	return stores.Entry{
		Icon: d.Icon,
		Name: d.Name,
		Desc: d.Desc,
		Geom: d.Geometry,
	}
}

type Record struct {
	ID       string
	Name     string
	Address  string
	Icon     string
	IconText string
	FreeText string
	Geometry *geojson.Geometry
}

// AcceptFunc decides whether merged text belongs to the target brand.
type AcceptFunc func(iconText, freeText string) bool

type Collector struct {
	mu   sync.Mutex
	byID map[string]*Aggregate
}

func NewCollector() *Collector {
	return &Collector{byID: map[string]*Aggregate{}}
}

// Add folds hint into its aggregate. Hints without an id are dropped.
func (c *Collector) Add(hint Hint) {
	id := strings.TrimSpace(hint.ID)
	if id == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	agg, ok := c.byID[id]
	if !ok {
		agg = &Aggregate{ID: id}
		c.byID[id] = agg
	}
	if hint.Icon != "" {
		agg.Icons = append(agg.Icons, hint.Icon)
	}
	if hint.Name != "" {
		agg.Names = append(agg.Names, hint.Name)
	}
	if hint.Description != "" {
		agg.Descriptions = append(agg.Descriptions, hint.Description)
	}
	if agg.Geometry == nil && hint.Geometry != nil {
		agg.Geometry = hint.Geometry
	}
}

func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byID)
}

// Aggregates returns a copy of every aggregate sorted by id.
func (c *Collector) Aggregates() []Aggregate {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Aggregate, 0, len(c.byID))
	for _, agg := range c.byID {
		out = append(out, Aggregate{
			ID:           agg.ID,
			Icons:        append([]string(nil), agg.Icons...),
			Names:        append([]string(nil), agg.Names...),
			Descriptions: append([]string(nil), agg.Descriptions...),
			Geometry:     agg.Geometry,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}

// Merge folds hints in one pass.
func Merge(hints []Hint) map[string]*Aggregate {
	c := NewCollector()
	for _, hint := range hints {
		c.Add(hint)
	}
	return c.byID
}

func (a Aggregate) iconText() string {
	return strings.Join(a.Icons, " ")
}

func (a Aggregate) freeText() string {
	return strings.Join(append(append([]string(nil), a.Names...), a.Descriptions...), " ")
}

// Hinted evaluates accept over the hints alone.
func Hinted(agg Aggregate, accept AcceptFunc) bool {
	return accept(agg.iconText(), agg.freeText())
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func orElse(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func joinNonEmpty(values ...string) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

// Resolve combines an aggregate with its cache entry, found is false when
// the id was never resolved. Cached fields win over hint fields while the
// text fields carry every signal from both.
func Resolve(agg Aggregate, entry stores.Entry, found bool) Record {
	if !found {
		entry = stores.Entry{}
	}

	geometry := agg.Geometry
	if entry.Geom.Valid() {
		geometry = entry.Geom
	}

	return Record{
		ID:       agg.ID,
		Name:     orElse(entry.Name, first(agg.Names)),
		Address:  htmlutil.Strip(orElse(entry.Desc, first(agg.Descriptions))),
		Icon:     orElse(entry.Icon, first(agg.Icons)),
		IconText: joinNonEmpty(agg.iconText(), entry.Icon),
		FreeText: joinNonEmpty(agg.freeText(), entry.Name, entry.Desc),
		Geometry: geometry,
	}
}
