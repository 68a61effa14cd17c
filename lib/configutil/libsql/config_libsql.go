package configlibsql

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// Struct selects a local sqlite file or, when Url is set, a remote libsql
// database (ex. `libsql://<db>.turso.io`).
type Struct struct {
	File      string `json:"file"`
	Url       string `json:"url"`
	AuthToken string `json:"auth_token"`
}

func (config Struct) OpenDB() (*sql.DB, error) {
	if config.Url != "" {
		return openRemote(config.Url, config.AuthToken)
	}
	if config.File == "" {
		return nil, fmt.Errorf("a path was not specified")
	}
	return OpenFile(config.File)
}

func openRemote(rawUrl, authToken string) (*sql.DB, error) {
	link, err := url.Parse(rawUrl)
	if err != nil {
		return nil, fmt.Errorf("parse libsql url: %w", err)
	}
	if authToken != "" {
		query := link.Query()
		query.Set("authToken", authToken)
		link.RawQuery = query.Encode()
	}
	return sql.Open("libsql", link.String())
}

// OpenFile opens (creating when needed) a sqlite database at dbpath,
// `:memory:` is passed through untouched.
func OpenFile(dbpath string) (*sql.DB, error) {
	if dbpath != ":memory:" {
		err := os.MkdirAll(filepath.Dir(dbpath), 0755)
		if err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dbpath)
	if err != nil {
		return nil, err
	}
	// see this stackoverflow post for information on why the following
	// lines exist: https://stackoverflow.com/questions/35804884/sqlite-concurrent-writing-performance
	db.SetMaxOpenConns(1)
	if dbpath != ":memory:" {
		_, err = db.Exec("PRAGMA journal_mode=WAL")
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	return db, nil
}
