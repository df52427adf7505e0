// Package sourcemap discovers source map files in a bundler's output tree and
// derives the public JavaScript URL each one describes.
package sourcemap

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
)

// DefaultSuffix is the file name suffix bundlers give to source maps.
const DefaultSuffix = ".map"

// ErrRootNotFound indicates the build output directory does not exist.
var ErrRootNotFound = errors.New("build output directory not found")

// Record describes one discovered map file. Records are created during the
// walk and consumed immediately; nothing about them is persisted.
type Record struct {
	LocalPath      string // absolute path of the map file
	RelativeJSPath string // JS path relative to the build root, forward slashes
	PublicURL      string // base URL + "/" + RelativeJSPath
}

// Derive builds the Record for the map file at path under root. The public URL
// is a plain concatenation of base, "/" and the relative JS path; existing
// deployments depend on the absence of any normalisation. An empty base or an
// empty relative path yields an empty field, which Validate rejects.
func Derive(root, path, suffix, base string) (Record, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return Record{}, fmt.Errorf("relative path for %s: %w", path, err)
	}
	rel = strings.TrimSuffix(filepath.ToSlash(rel), suffix)
	rec := Record{LocalPath: path, RelativeJSPath: rel}
	if strings.TrimSpace(base) != "" && rel != "" {
		rec.PublicURL = base + "/" + rel
	}
	return rec, nil
}

// Validate reports whether the record carries everything an upload needs.
func (r Record) Validate() error {
	switch {
	case r.RelativeJSPath == "":
		return errors.New("relative javascript path is empty")
	case r.PublicURL == "":
		return errors.New("javascript url is empty")
	}
	return nil
}

// Scanner walks a build output tree looking for map files. Directories listed
// in Exclude, such as a staging root placed inside the build output, are not
// descended into.
type Scanner struct {
	Suffix  string
	Logger  *slog.Logger
	Exclude []string
}

// Scan walks root depth-first and calls visit with the absolute path of every
// regular file ending in the scanner's suffix, in the order encountered. A
// missing root returns ErrRootNotFound; unreadable subdirectories are logged
// and skipped. An error returned by visit stops the walk.
func (s Scanner) Scan(root string, visit func(path string) error) (int, error) {
	suffix := s.Suffix
	if suffix == "" {
		suffix = DefaultSuffix
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return 0, fmt.Errorf("resolve build root: %w", err)
	}
	excluded := make(map[string]struct{}, len(s.Exclude))
	for _, dir := range s.Exclude {
		if dir == "" {
			continue
		}
		if d, err := filepath.Abs(dir); err == nil {
			excluded[d] = struct{}{}
		}
	}
	found := 0
	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == abs {
				if errors.Is(walkErr, fs.ErrNotExist) {
					return fmt.Errorf("%w: %s", ErrRootNotFound, abs)
				}
				return fmt.Errorf("read build root: %w", walkErr)
			}
			if !errors.Is(walkErr, fs.ErrNotExist) && s.Logger != nil {
				s.Logger.Warn("skipping unreadable path", "path", path, "error", walkErr)
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if _, skip := excluded[path]; skip && path != abs {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if !strings.HasSuffix(d.Name(), suffix) {
			return nil
		}
		found++
		return visit(path)
	})
	if err != nil {
		return found, err
	}
	return found, nil
}

// Collect returns the records for every map file under root. It is the
// read-only counterpart of Scan used for dry runs and listings.
func (s Scanner) Collect(root, base string) ([]Record, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve build root: %w", err)
	}
	suffix := s.Suffix
	if suffix == "" {
		suffix = DefaultSuffix
	}
	var records []Record
	_, err = s.Scan(abs, func(path string) error {
		rec, err := Derive(abs, path, suffix, base)
		if err != nil {
			return err
		}
		records = append(records, rec)
		return nil
	})
	return records, err
}
