package consum

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"chartermap/internal/collect"
	"chartermap/internal/geojson"
	"chartermap/lib/htmlutil"
)

// FindFeatures returns the first "features" array found by a depth first
// walk of a decoded json value. The map endpoints nest it at different
// depths depending on the drupal block that rendered them.
func FindFeatures(v any) []any {
	switch v := v.(type) {
	case []any:
		for _, el := range v {
			if found := FindFeatures(el); found != nil {
				return found
			}
		}
	case map[string]any:
		if features, ok := v["features"].([]any); ok {
			return features
		}
		for _, child := range v {
			if found := FindFeatures(child); found != nil {
				return found
			}
		}
	}
	return nil
}

// text accepts a json string or number, anything else decodes as empty.
type text string

func (t *text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*t = ""
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = text(s)
	case data[0] == '-' || (data[0] >= '0' && data[0] <= '9'):
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		if i, err := n.Int64(); err == nil {
			*t = text(strconv.FormatInt(i, 10))
		} else {
			*t = text(n.String())
		}
	default:
		*t = ""
	}
	return nil
}

type feature struct {
	Geometry   json.RawMessage `json:"geometry"`
	Properties struct {
		EntityID    text `json:"entity_id"`
		Icon        text `json:"icon"`
		Tooltip     text `json:"tooltip"`
		Title       text `json:"title"`
		Description text `json:"description"`
	} `json:"properties"`
}

func decodeFeature(v any) (feature, bool) {
	var f feature
	serialized, err := json.Marshal(v)
	if err != nil {
		return f, false
	}
	if err := json.Unmarshal(serialized, &f); err != nil {
		return f, false
	}
	return f, true
}

func (f feature) geometry() *geojson.Geometry {
	if len(f.Geometry) == 0 || bytes.Equal(f.Geometry, []byte("null")) {
		return nil
	}
	var g geojson.Geometry
	if err := json.Unmarshal(f.Geometry, &g); err != nil || g.Type == "" {
		return nil
	}
	return &g
}

func (f feature) name() string {
	name := string(f.Properties.Tooltip)
	if name == "" {
		name = string(f.Properties.Title)
	}
	return htmlutil.Strip(name)
}

func (f feature) hint() collect.Hint {
	return collect.Hint{
		ID:          strings.TrimSpace(string(f.Properties.EntityID)),
		Icon:        string(f.Properties.Icon),
		Name:        f.name(),
		Description: htmlutil.Strip(string(f.Properties.Description)),
		Geometry:    f.geometry(),
	}
}

func (f feature) detail() collect.Detail {
	hint := f.hint()
	return collect.Detail{
		Icon:     hint.Icon,
		Name:     hint.Name,
		Desc:     hint.Description,
		Geometry: hint.Geometry,
	}
}
