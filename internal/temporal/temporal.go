// Package temporal derives per-file timestamps from path conventions,
// attaches them to regridded rasters, and assembles the per-file results
// into one time-ordered series per source.
package temporal

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/couchcryptid/geounify/internal/locate"
	"github.com/couchcryptid/geounify/internal/raster"
)

// TimeFunc maps a file path to the file's timestamp.
type TimeFunc func(path string) (time.Time, error)

var yearDOYRe = regexp.MustCompile(`\.A(\d{4})(\d{3})\.`)

// DateDirTime derives the timestamp from a YYYYMMDD parent directory, the
// layout of daily weather model archives.
func DateDirTime(path string) (time.Time, error) {
	day, err := locate.DateDirKey(path)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse("20060102", day)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", locate.ErrUnparsableKey, day, err)
	}
	return t.UTC(), nil
}

var cycleRe = regexp.MustCompile(`\.t(\d{2})z\.`)

// CycleDirTime derives the timestamp from the YYYYMMDD parent directory
// plus the model cycle hour in the file name ("hrrr.t21z.wrfsfcf00...").
// Collector prefixes like "subset_<hash>__" are stripped before matching.
// Files without a cycle field resolve to midnight.
func CycleDirTime(path string) (time.Time, error) {
	day, err := DateDirTime(path)
	if err != nil {
		return time.Time{}, err
	}
	name := locate.StripSubsetPrefix(filepath.Base(path))
	if m := cycleRe.FindStringSubmatch(name); m != nil {
		var hour int
		fmt.Sscanf(m[1], "%d", &hour)
		day = day.Add(time.Duration(hour) * time.Hour)
	}
	return day, nil
}

// YearDOYTime derives the timestamp from a ".AYYYYDDD." acquisition field in
// the file name, the convention of satellite vegetation products.
func YearDOYTime(path string) (time.Time, error) {
	m := yearDOYRe.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return time.Time{}, fmt.Errorf("%w: %q has no .AYYYYDDD. field",
			locate.ErrUnparsableKey, filepath.Base(path))
	}
	var year, doy int
	fmt.Sscanf(m[1], "%d", &year)
	fmt.Sscanf(m[2], "%d", &doy)
	return time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, doy-1), nil
}

// Slice is one regridded raster with its time coordinate attached.
type Slice struct {
	Time   time.Time
	Raster *raster.Raster

	// seq records arrival order so duplicate timestamps resolve
	// last-processed-wins deterministically.
	seq int
}

// Series is one source's time series of regridded rasters.
type Series struct {
	Source  string
	slices  []Slice
	nextSeq int
}

// NewSeries creates an empty series for a source.
func NewSeries(source string) *Series {
	return &Series{Source: source}
}

// Add appends a regridded raster with its timestamp. Workers complete out
// of chronological order; Sort restores order after collection.
func (s *Series) Add(t time.Time, r *raster.Raster) {
	s.slices = append(s.slices, Slice{Time: t, Raster: r, seq: s.nextSeq})
	s.nextSeq++
}

// Len returns the number of slices currently held.
func (s *Series) Len() int { return len(s.slices) }

// Sort orders the series ascending by time and collapses duplicate
// timestamps, keeping the last-processed slice for each. Sorting an
// already-sorted series is a no-op; the operation is idempotent.
func (s *Series) Sort() {
	sort.SliceStable(s.slices, func(i, j int) bool {
		a, b := s.slices[i], s.slices[j]
		if a.Time.Equal(b.Time) {
			return a.seq < b.seq
		}
		return a.Time.Before(b.Time)
	})

	deduped := s.slices[:0]
	for i, sl := range s.slices {
		if i+1 < len(s.slices) && s.slices[i+1].Time.Equal(sl.Time) {
			// A later-processed slice carries the same timestamp; the
			// last write wins by documented tie-break.
			continue
		}
		deduped = append(deduped, sl)
	}
	s.slices = deduped
}

// Slices returns the series content in current order.
func (s *Series) Slices() []Slice { return s.slices }

// Times returns the timestamps in current order.
func (s *Series) Times() []time.Time {
	out := make([]time.Time, len(s.slices))
	for i, sl := range s.slices {
		out[i] = sl.Time
	}
	return out
}
