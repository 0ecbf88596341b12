// Package migrations embeds the per-dialect schema migrations of the car
// table. Each dialect lives in its own directory named after the
// golang-migrate database driver.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed postgres/*.sql mysql/*.sql sqlite3/*.sql
var FS embed.FS

// Dir returns the migration directory for a database/sql driver name.
func Dir(driverName string) (string, error) {
	switch driverName {
	case "postgres", "pgx":
		return "postgres", nil
	case "mysql":
		return "mysql", nil
	case "sqlite3":
		return "sqlite3", nil
	}
	return "", fmt.Errorf("migrations: no migrations for driver %q", driverName)
}

// UpScripts returns the contents of every up migration for the driver in
// version order. Tests use it to build schemas on in-memory databases that
// golang-migrate cannot reach.
func UpScripts(driverName string) ([]string, error) {
	dir, err := Dir(driverName)
	if err != nil {
		return nil, err
	}
	names, err := fs.Glob(FS, dir+"/*.up.sql")
	if err != nil {
		return nil, err
	}
	scripts := make([]string, 0, len(names))
	for _, name := range names {
		b, err := FS.ReadFile(name)
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, string(b))
	}
	return scripts, nil
}
