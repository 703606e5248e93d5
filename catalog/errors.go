package catalog

import "fmt"

// DataLoadError is returned when a catalog source is missing or malformed. The catalog
// returned alongside it is always usable (empty).
type DataLoadError struct {
	Path string
	Err  error
}

func (e *DataLoadError) Error() string {
	return fmt.Sprintf("failed to load catalog %q: %v", e.Path, e.Err)
}

// Unwrap returns the underlying cause.
func (e *DataLoadError) Unwrap() error {
	return e.Err
}
