package experiment

import (
	"fmt"
	"path/filepath"
)

// Storage drivers accepted by Open.
const (
	DriverSQLite = "sqlite"
	DriverFile   = "file"
)

// Open returns the store for driver rooted at path. For the sqlite driver
// path is a directory and the database file is created inside it.
func Open(driver, path string) (Store, error) {
	switch driver {
	case DriverSQLite, "":
		return NewSQLiteStore(filepath.Join(path, "experiments.db"))
	case DriverFile:
		return NewFileStore(path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
