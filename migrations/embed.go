// Package migrations embeds SQL migration files for use at runtime.
// Migrations are embedded so they work regardless of working directory.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed postgres/*.sql sqlite/*.sql sqlite/sink/*.sql
var files embed.FS

// Postgres returns the migrations for the Postgres backend.
func Postgres() fs.FS { return sub("postgres") }

// SQLite returns the migrations for the SQLite backend. The sink directory
// holds the schema of the separate log and metric database.
func SQLite() fs.FS { return sub("sqlite") }

func sub(dir string) fs.FS {
	f, err := fs.Sub(files, dir)
	if err != nil {
		// fs.Sub only fails on an invalid path, and dir is a constant.
		panic(err)
	}
	return f
}
