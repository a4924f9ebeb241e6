// Package storage selects the canvas store backend.
package storage

import (
	"fmt"

	"github.com/celerix-dev/celerix-board/internal/engine"
	"github.com/celerix-dev/celerix-board/internal/storage/sqlite"
	pkgengine "github.com/celerix-dev/celerix-board/pkg/engine"
)

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
	BackendMemory = "memory"
)

// Open returns the store for backend. location is the SQLite path for
// "sqlite" and the data directory for "file"; "memory" ignores it.
// key seals file-backend canvas documents and may be nil.
func Open(backend, location string, key []byte) (pkgengine.Store, error) {
	switch backend {
	case BackendSQLite:
		return sqlite.Open(location)
	case BackendFile:
		return engine.OpenFileStore(location, key)
	case BackendMemory:
		return engine.NewMemStore(nil, nil, nil), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
