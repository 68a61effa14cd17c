package configutil

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

func splitExt(f string) (string, string) {
	for i := len(f) - 1; i >= 0; i-- {
		if f[i] == '.' {
			return f[0:i], f[i+1:]
		}
	}
	return f, ""
}

// LocalName returns the override file name for a configuration file,
// `config/app.json5` becomes `config/app.local.json5`.
func LocalName(name string) string {
	prefixname, ext := splitExt(filepath.Base(name))
	return filepath.Join(
		filepath.Dir(name),
		fmt.Sprintf("%s.local.%s", prefixname, ext),
	)
}

// reads a configuration file, `name` should come with a file extension,
// it will automatically be lopped off to produce the other extensions.
// this function will merge the following files, where higher number is more prioritized.
// 1. <name>.<ext>
// 2. <name>.local.<ext>
func ReadConfig[T any](name string) (T, error) {
	var out T
	allNotFound := true

	defaultFile, err := os.ReadFile(name)
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	if len(defaultFile) > 0 {
		err = json5.Unmarshal(defaultFile, &out)
		if err != nil {
			return out, fmt.Errorf("parse %s: %w", name, err)
		}
		allNotFound = false
	}

	localFilepath := LocalName(name)
	localFile, err := os.ReadFile(localFilepath)
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	if len(localFile) > 0 {
		var override T
		err = json5.Unmarshal(localFile, &override)
		if err != nil {
			return out, fmt.Errorf("parse %s: %w", localFilepath, err)
		}
		err = mergo.Merge(&out, override, mergo.WithOverride)
		if err != nil {
			return out, err
		}
		slog.Info("merging config with local overrides", "local", localFilepath)
		allNotFound = false
	}

	if allNotFound {
		return out, os.ErrNotExist
	}

	return out, nil
}

// ReadWithDefaults decodes <name>.<ext> and then <name>.local.<ext> on top
// of a copy of defaults. Only the keys present in a file replace a value,
// so an explicit `false` or `0` overrides a non-zero default. A missing
// configuration file is not an error, the defaults are returned as is.
//
// defaults is copied through encoding/json, unexported fields are dropped.
func ReadWithDefaults[T any](name string, defaults T) (T, error) {
	out, err := cloneJSON(defaults)
	if err != nil {
		return defaults, fmt.Errorf("copy defaults: %w", err)
	}

	found := false
	for _, path := range []string{name, LocalName(name)} {
		contents, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return out, err
		}
		if len(contents) == 0 {
			continue
		}
		err = json5.Unmarshal(contents, &out)
		if err != nil {
			return out, fmt.Errorf("parse %s: %w", path, err)
		}
		found = true
	}

	if !found {
		slog.Debug("no configuration file found, using defaults", "name", name)
	}
	return out, nil
}

// cloneJSON deep copies v so decoding into the copy never writes through
// to slices or maps shared with v.
func cloneJSON[T any](v T) (T, error) {
	var out T
	serialized, err := json.Marshal(v)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(serialized, &out)
	return out, err
}

// ReadConfig but it recursively goes up the filesystem until the root
// to find a configuration file matching the name.
func ReadRecursively[T any](name string) (T, error) {
	var defaultOut T

	current, err := os.Getwd()
	if err != nil {
		return defaultOut, err
	}

	for {
		config, err := ReadConfig[T](filepath.Join(current, name))
		if err == nil {
			return config, nil
		}
		if !os.IsNotExist(err) {
			return defaultOut, err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return defaultOut, os.ErrNotExist
		}
		current = parent
	}
}
