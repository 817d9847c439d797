// Package driver defines the abstract file-access capability the parser
// consumes. The core never assumes a concrete file API beyond this
// interface: open-with-filter returning raster-or-absent, a corrupted-file
// signal, and subdataset listing by name substring.
package driver

import (
	"errors"

	"github.com/couchcryptid/geounify/internal/raster"
)

var (
	// ErrCorrupted signals a structurally broken source file (truncated,
	// malformed header, zero bytes). Recoverable: skip the file, continue
	// the batch.
	ErrCorrupted = errors.New("corrupted source file")

	// ErrUnknownFilterKey signals a filter using a key no driver
	// understands. A configuration mistake, not file-data-dependent, so it
	// propagates and aborts the run.
	ErrUnknownFilterKey = errors.New("unknown filter key")
)

// Filter names for FilterSpec keys understood by the shipped drivers.
const (
	FilterTypeOfLevel = "typeOfLevel"
	FilterLevel       = "level"
	FilterSubdataset  = "subdataset"
)

// Filter restricts an open to one coordinate-compatible slice of a file:
// variables at one vertical level, or one named subdataset.
type Filter struct {
	// Name labels the level group the filter selects, e.g. "2m", "surface".
	Name string
	// Keys are matched against per-variable metadata. Supported keys are
	// the Filter* constants; any other key is ErrUnknownFilterKey.
	Keys map[string]string
}

// Driver opens physical files into in-memory rasters.
type Driver interface {
	// Open reads the slice of the file selected by filter. The bool result
	// is false when the filter matches nothing in this particular file,
	// which is expected and distinct from an error.
	// Structural damage is reported as an error wrapping ErrCorrupted.
	Open(path string, filter Filter) (*raster.Raster, bool, error)

	// Subdatasets lists the names of subdatasets (groups, bands, nested
	// variables) whose name contains substr. An empty substr lists all.
	Subdatasets(path string, substr string) ([]string, error)
}
