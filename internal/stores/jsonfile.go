package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"chartermap/lib/osutil"
)

// JSONFile stores the whole cache as one json object keyed by id.
type JSONFile struct {
	Path string
}

func (f JSONFile) Load(ctx context.Context) (map[string]Entry, error) {
	contents, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return map[string]Entry{}, nil
	}
	if err != nil {
		return nil, err
	}

	var entries map[string]Entry
	err = json.Unmarshal(contents, &entries)
	if err != nil {
		return nil, fmt.Errorf("corrupt cache file %s: %w", f.Path, err)
	}
	return entries, nil
}

func (f JSONFile) Save(ctx context.Context, entries map[string]Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	serialized, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return osutil.WriteFileAtomic(f.Path, serialized, 0644)
}
