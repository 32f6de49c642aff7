package store

import (
	"fmt"
	"path/filepath"

	"github.com/kilupskalvis/modsync/internal/remote/metastore"
)

// Backend names accepted by OpenModuleStore.
const (
	BackendBbolt    = "bbolt"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// OpenModuleStore opens the server's module store. File backends live under
// dataDir; postgres connects to dsn.
func OpenModuleStore(backend, dataDir, dsn string) (metastore.ModuleStore, error) {
	var (
		s   metastore.ModuleStore
		err error
	)
	switch backend {
	case BackendBbolt:
		s, err = metastore.NewBboltStore(filepath.Join(dataDir, "modules.bolt"))
	case BackendSQLite, "":
		path := dsn
		if path == "" {
			path = filepath.Join(dataDir, "modules.db")
		}
		s, err = Open(DriverSQLite, path)
	case BackendPostgres:
		if dsn == "" {
			return nil, fmt.Errorf("postgres backend requires a DSN")
		}
		s, err = Open(DriverPostgres, dsn)
	default:
		return nil, fmt.Errorf("unknown backend %q (want %s, %s or %s)", backend, BackendBbolt, BackendSQLite, BackendPostgres)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}
