// Package catalog loads and holds the reference objects that frames are matched against.
//
// A catalog file has a single top-level key, objects, holding a list of entries:
//
//	{
//	  "objects": [
//	    {
//	      "id": "cube",
//	      "name": "Green Cube",
//	      "image_path": "refs/cube.png",
//	      "sensor_data": {"action": "pick_up", "motor_port": 4, "power": 50}
//	    }
//	  ]
//	}
//
// YAML files with the same shape are accepted when the path ends in .yaml or .yml.
package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// UnknownField is used for an entry id or name that the catalog file leaves out.
const UnknownField = "unknown"

// Entry is one reference object. Entries are never modified after loading; everything
// downstream holds pointers into the owning Catalog.
type Entry struct {
	ID         string                 `json:"id" yaml:"id"`
	Name       string                 `json:"name" yaml:"name"`
	ImagePath  string                 `json:"image_path" yaml:"image_path"`
	SensorData map[string]interface{} `json:"sensor_data" yaml:"sensor_data"`
}

// Catalog is an immutable, ordered set of entries. Ids are not required to be unique.
type Catalog struct {
	Source     string
	Generation uint64
	entries    []*Entry
}

// Empty returns a catalog with no entries.
func Empty(source string) *Catalog {
	return &Catalog{Source: source}
}

// New builds a catalog from already-decoded entries, filling in defaults.
func New(source string, entries []Entry) *Catalog {
	c := &Catalog{Source: source, entries: make([]*Entry, 0, len(entries))}
	for i := range entries {
		e := entries[i]
		if e.ID == "" {
			e.ID = UnknownField
		}
		if e.Name == "" {
			e.Name = UnknownField
		}
		if e.SensorData == nil {
			e.SensorData = map[string]interface{}{}
		}
		c.entries = append(c.entries, &e)
	}
	return c
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// Entry returns the i-th entry in file order.
func (c *Catalog) Entry(i int) *Entry {
	return c.entries[i]
}

// Entries returns the entries in file order. The slice is a copy; the entries are shared.
func (c *Catalog) Entries() []*Entry {
	if c == nil {
		return nil
	}
	out := make([]*Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Contains reports whether e is one of this catalog's entries.
func (c *Catalog) Contains(e *Entry) bool {
	if c == nil {
		return false
	}
	for _, mine := range c.entries {
		if mine == e {
			return true
		}
	}
	return false
}

// ImagePath returns the reference image location of e. A relative path is looked up next
// to the catalog file first and used as given when no file exists there.
func (c *Catalog) ImagePath(e *Entry) string {
	if e.ImagePath == "" || filepath.IsAbs(e.ImagePath) || c == nil || c.Source == "" {
		return e.ImagePath
	}
	local := filepath.Join(filepath.Dir(c.Source), e.ImagePath)
	if _, err := os.Stat(local); err == nil {
		return local
	}
	return e.ImagePath
}

type catalogFile struct {
	Objects []map[string]interface{} `json:"objects" yaml:"objects"`
}

// decodeEntry reads one object leniently. Scalar ids, names and paths become strings and
// a field of the wrong shape is left unset, so one odd entry never loses the others.
func decodeEntry(obj map[string]interface{}) Entry {
	e := Entry{
		ID:        text(obj["id"]),
		Name:      text(obj["name"]),
		ImagePath: text(obj["image_path"]),
	}
	if raw := obj["sensor_data"]; raw != nil {
		var sensorData map[string]interface{}
		if err := mapstructure.Decode(raw, &sensorData); err == nil {
			e.SensorData = sensorData
		}
	}
	return e
}

func text(v interface{}) string {
	var s string
	if v == nil || mapstructure.WeakDecode(v, &s) != nil {
		return ""
	}
	return s
}

// Load reads a catalog file. On any failure it returns an empty catalog together with a
// *DataLoadError, so callers can log the error and keep running with no references.
func Load(path string) (*Catalog, error) {
	resolved := resolvePath(path)
	data, err := os.ReadFile(resolved)
	if err != nil {
		return Empty(resolved), &DataLoadError{Path: resolved, Err: err}
	}

	var file catalogFile
	switch strings.ToLower(filepath.Ext(resolved)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	default:
		err = json.Unmarshal(data, &file)
	}
	if err != nil {
		return Empty(resolved), &DataLoadError{Path: resolved, Err: errors.Wrap(err, "malformed catalog")}
	}
	entries := make([]Entry, 0, len(file.Objects))
	for _, obj := range file.Objects {
		entries = append(entries, decodeEntry(obj))
	}
	return New(resolved, entries), nil
}

// resolvePath lets callers name the catalog without an extension, in which case the
// .json file next to it is used.
func resolvePath(path string) string {
	if filepath.Ext(path) != "" {
		return path
	}
	if _, err := os.Stat(path); err == nil {
		return path
	}
	withExt := path + ".json"
	if _, err := os.Stat(withExt); err == nil {
		return withExt
	}
	return path
}
