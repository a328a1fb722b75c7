// Package migrations applies the embedded SQL schema to the session
// database.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var schema embed.FS

var (
	// ErrUnversioned means the database was never migrated.
	ErrUnversioned = errors.New("database has no schema version")
	// ErrDirty means an earlier migration stopped halfway.
	ErrDirty = errors.New("database schema is dirty")
	// ErrVersionMismatch means the schema is behind or ahead of this binary.
	ErrVersionMismatch = errors.New("database schema version mismatch")
)

// Version describes where a database stands against the embedded schema.
type Version struct {
	Current uint
	Latest  uint
	Dirty   bool
}

// Check returns nil when db is at the newest embedded version.
func Check(db *sql.DB) error {
	v, err := Status(db)
	if err != nil {
		return err
	}
	switch {
	case v.Dirty:
		return fmt.Errorf("%w at version %d", ErrDirty, v.Current)
	case v.Current < v.Latest:
		return fmt.Errorf("%w: at %d, binary expects %d (run any write command to migrate)", ErrVersionMismatch, v.Current, v.Latest)
	case v.Current > v.Latest:
		return fmt.Errorf("%w: at %d, newer than this binary's %d", ErrVersionMismatch, v.Current, v.Latest)
	}
	return nil
}

// Status reads the applied version. An unmigrated database reports
// ErrUnversioned.
func Status(db *sql.DB) (Version, error) {
	m, err := open(db)
	if err != nil {
		return Version{}, err
	}
	// Not closing m: that would close db, which belongs to the caller.

	current, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return Version{}, ErrUnversioned
	}
	if err != nil {
		return Version{}, fmt.Errorf("reading schema version: %w", err)
	}

	latest, err := Latest()
	if err != nil {
		return Version{}, err
	}
	return Version{Current: current, Latest: latest, Dirty: dirty}, nil
}

// Latest is the highest version among the embedded migration files.
func Latest() (uint, error) {
	src, err := iofs.New(schema, "files")
	if err != nil {
		return 0, fmt.Errorf("reading migration files: %w", err)
	}
	defer src.Close()
	return lastVersion(src)
}

// MigrateUp applies pending migrations. Nothing to apply is not an error.
func MigrateUp(db *sql.DB) error {
	m, err := open(db)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

func open(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(schema, "files")
	if err != nil {
		return nil, fmt.Errorf("reading migration files: %w", err)
	}
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("opening migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("creating migrator: %w", err)
	}
	return m, nil
}

func lastVersion(src source.Driver) (uint, error) {
	v, err := src.First()
	if err != nil {
		return 0, err
	}
	for {
		next, err := src.Next(v)
		if err != nil {
			return v, nil
		}
		v = next
	}
}
