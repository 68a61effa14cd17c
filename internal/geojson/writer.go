package geojson

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"chartermap/internal/components/assert"
	"chartermap/internal/components/telemetry"
	"chartermap/lib/osutil"
)

const (
	report_writer_empty_guard = "writer.empty-guard"
	report_writer_write       = "writer.write"
)

// Writer publishes a FeatureCollection to a single path.
type Writer struct {
	path string
	tel  telemetry.API
}

func NewWriter(path string, tel telemetry.API) Writer {
	assert.NotEmptyStr(path, "path")
	assert.NotNil(tel, "tel")

	return Writer{
		path: path,
		tel:  telemetry.NewScopedAPI("geojson", tel),
	}
}

func (w Writer) Path() string {
	return w.path
}

// Write replaces the artifact atomically. An empty collection never
// replaces an artifact that already exists, in that case Write returns
// false and a nil error so the previous version stays published.
func (w Writer) Write(ctx context.Context, fc FeatureCollection) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if len(fc.Features) == 0 {
		exists, err := osutil.Exists(w.path)
		if err != nil {
			w.tel.ReportBroken(report_writer_write, fmt.Errorf("stat previous artifact: %w", err), w.path)
			return false, err
		}
		if exists {
			w.tel.ReportWarning(
				report_writer_empty_guard,
				"no features resolved, keeping previous artifact",
				w.path,
			)
			return false, nil
		}
	}

	serialized, err := json.Marshal(fc)
	if err != nil {
		w.tel.ReportBroken(report_writer_write, fmt.Errorf("marshal: %w", err))
		return false, err
	}
	err = osutil.WriteFileAtomic(w.path, serialized, 0644)
	if err != nil {
		w.tel.ReportBroken(report_writer_write, err, w.path)
		return false, err
	}
	return true, nil
}

// Read loads a previously written artifact.
func Read(path string) (FeatureCollection, error) {
	var fc FeatureCollection
	contents, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	err = json.Unmarshal(contents, &fc)
	if err != nil {
		return fc, fmt.Errorf("parse %s: %w", path, err)
	}
	return fc, nil
}
