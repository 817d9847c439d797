// Package locate enumerates candidate source files and groups them by a
// batch key derived from the file path (date folder, year, tile id). Keys
// are parsed by explicit functions with a defined failure mode rather than
// inferred silently from directory layout.
package locate

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var (
	// ErrNoSourceData signals that a locator pattern matched zero files.
	// Callers decide whether an empty source is fatal for their batch.
	ErrNoSourceData = errors.New("no source data found")

	// ErrUnparsableKey signals a matched file whose path does not fit the
	// configured key convention. Files are never silently dropped.
	ErrUnparsableKey = errors.New("unparsable grouping key")
)

// KeyFunc maps a file path to its batch grouping key.
type KeyFunc func(path string) (string, error)

// Group is an ordered set of files sharing one grouping key.
type Group struct {
	Key   string
	Paths []string
}

// Locate walks root for files matching pattern (a filepath.Match glob
// applied to the base name) and groups them by key. Groups are ordered
// lexically by key, paths lexically within each group. The filesystem is
// never modified.
func Locate(root, pattern string, key KeyFunc) ([]Group, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ok, err := filepath.Match(pattern, d.Name())
		if err != nil {
			return fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		if ok {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("locate %s in %s: %w", pattern, root, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: pattern %q under %s", ErrNoSourceData, pattern, root)
	}

	byKey := make(map[string][]string)
	for _, p := range paths {
		k, err := key(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		byKey[k] = append(byKey[k], p)
	}

	groups := make([]Group, 0, len(byKey))
	for k, ps := range byKey {
		sort.Strings(ps)
		groups = append(groups, Group{Key: k, Paths: ps})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Key < groups[j].Key })
	return groups, nil
}

var (
	dateDirRe = regexp.MustCompile(`^\d{8}$`)
	yearDOYRe = regexp.MustCompile(`\.A(\d{4})(\d{3})\.`)
	tileRe    = regexp.MustCompile(`([NS]\d{2}[EW]\d{3})`)
)

// DateDirKey keys a file by its parent directory name in YYYYMMDD form,
// the layout of daily weather model archives.
func DateDirKey(path string) (string, error) {
	dir := filepath.Base(filepath.Dir(path))
	if !dateDirRe.MatchString(dir) {
		return "", fmt.Errorf("%w: parent dir %q is not YYYYMMDD", ErrUnparsableKey, dir)
	}
	return dir, nil
}

// YearDirKey keys a file by the year portion of its YYYYMMDD parent
// directory, batching daily files into per-year outputs.
func YearDirKey(path string) (string, error) {
	day, err := DateDirKey(path)
	if err != nil {
		return "", err
	}
	return day[:4], nil
}

// YearDOYKey keys a file by the acquisition year embedded in satellite
// product names of the form "<product>.AYYYYDDD.<tile>....".
func YearDOYKey(path string) (string, error) {
	m := yearDOYRe.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return "", fmt.Errorf("%w: %q has no .AYYYYDDD. field", ErrUnparsableKey, filepath.Base(path))
	}
	return m[1], nil
}

// TileKey keys a file by an SRTM-style tile id (e.g. N34W118) in its name.
func TileKey(path string) (string, error) {
	m := tileRe.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return "", fmt.Errorf("%w: %q has no tile id", ErrUnparsableKey, filepath.Base(path))
	}
	return m[1], nil
}

// SingleKey groups every file under one fixed key, for static sources that
// produce a single output regardless of file count.
func SingleKey(key string) KeyFunc {
	return func(string) (string, error) { return key, nil }
}

// StripSubsetPrefix removes collector prefixes like "subset_<hash>__" from a
// base name, leaving the product's own naming convention.
func StripSubsetPrefix(name string) string {
	if i := strings.Index(name, "__"); i >= 0 {
		return name[i+2:]
	}
	return name
}
