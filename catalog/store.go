package catalog

import (
	"sync"

	"github.com/edaniels/golog"
	"go.uber.org/atomic"
	goutils "go.viam.com/utils"
)

// A Store owns the current catalog snapshot. Readers call Snapshot and keep using the
// returned value for as long as they like; Reload swaps in a whole new snapshot.
type Store struct {
	path   string
	logger golog.Logger

	current    atomic.Pointer[Catalog]
	generation atomic.Uint64

	// serializes reloads so generations are assigned in swap order
	reloadMu sync.Mutex

	listenersMu sync.Mutex
	listeners   []func(*Catalog)
}

// NewStore creates a store for the catalog at path and performs the initial load. A load
// failure is logged and leaves the store holding an empty catalog.
func NewStore(path string, logger golog.Logger) *Store {
	s := &Store{path: path, logger: logger}
	s.current.Store(Empty(path))
	goutils.UncheckedError(s.Reload())
	return s
}

// NewStoreFromCatalog creates a store around a freshly built catalog. Reload on such a
// store re-reads c.Source.
func NewStoreFromCatalog(c *Catalog, logger golog.Logger) *Store {
	s := &Store{path: c.Source, logger: logger}
	c.Generation = s.generation.Inc()
	s.current.Store(c)
	return s
}

// Path returns the catalog source path.
func (s *Store) Path() string {
	return s.path
}

// Snapshot returns the current catalog.
func (s *Store) Snapshot() *Catalog {
	return s.current.Load()
}

// Generation returns a counter that increases every time a new snapshot is installed.
func (s *Store) Generation() uint64 {
	return s.generation.Load()
}

// OnReload registers fn to be called with every newly installed snapshot.
func (s *Store) OnReload(fn func(*Catalog)) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Reload reads the source again and installs the result. On failure the installed
// snapshot is empty and the *DataLoadError is returned.
func (s *Store) Reload() error {
	loaded, err := Load(s.path)
	if err != nil {
		s.logger.Warnw("catalog unavailable, continuing with an empty catalog", "path", s.path, "error", err)
	}
	s.swap(loaded)
	if err == nil {
		s.logger.Infow("catalog loaded", "path", loaded.Source, "entries", loaded.Len(), "generation", loaded.Generation)
	}
	return err
}

// Replace installs c as the current snapshot without touching the source file. c must not
// have been handed to any reader yet since its Generation is assigned here.
func (s *Store) Replace(c *Catalog) {
	s.swap(c)
}

func (s *Store) swap(c *Catalog) {
	s.reloadMu.Lock()
	c.Generation = s.generation.Inc()
	s.current.Store(c)
	s.reloadMu.Unlock()

	s.listenersMu.Lock()
	listeners := make([]func(*Catalog), len(s.listeners))
	copy(listeners, s.listeners)
	s.listenersMu.Unlock()
	for _, fn := range listeners {
		fn(c)
	}
}
