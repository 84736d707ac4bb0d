package ingest

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/couchcryptid/geodata-etl/internal/domain"
)

// Accepted input extensions per category.
var (
	demExtensions       = []string{".tif", ".tiff"}
	satelliteExtensions = []string{".jp2", ".tif", ".tiff"}
)

// validate checks that path is a regular file with one of exts.
func validate(path string, exts []string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("invalid file %s: %w", path, errors.Join(domain.ErrInvalidFile, err))
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("invalid file %s: not a regular file: %w", path, domain.ErrInvalidFile)
	}
	if !hasExtension(path, exts) {
		return fmt.Errorf("unsupported format %q, expected %s: %w",
			filepath.Ext(path), strings.Join(exts, ", "), domain.ErrUnsupportedFormat)
	}
	return nil
}

func hasExtension(path string, exts []string) bool {
	return slices.Contains(exts, strings.ToLower(filepath.Ext(path)))
}

// discover returns the first file in dir, by name, matching the earliest
// preference group that has any match.
func discover(dir string, preference [][]string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("list %s: %v: %w", dir, err, domain.ErrIO)
	}

	var all []string
	for _, group := range preference {
		for _, e := range entries {
			if e.Type().IsRegular() && hasExtension(e.Name(), group) {
				return filepath.Join(dir, e.Name()), nil
			}
		}
		all = append(all, group...)
	}
	return "", fmt.Errorf("no input file found in %s (supported: %s): %w",
		dir, strings.Join(all, ", "), domain.ErrInvalidFile)
}

// samePath reports whether a and b resolve to the same file location.
func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return absA == absB
}

// CopyFile copies src to dst, keeping the permission bits and modification
// time. dst is written through a temporary file and renamed into place.
func CopyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, errors.Join(domain.ErrInvalidFile, err))
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %v: %w", src, err, domain.ErrIO)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create %s: %v: %w", filepath.Dir(dst), err, domain.ErrIO)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %v: %w", dst, err, domain.ErrIO)
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name()) //nolint:errcheck // cleanup of a failed copy
		}
	}()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close() //nolint:errcheck // the copy error is reported
		return fmt.Errorf("copy %s: %v: %w", src, err, domain.ErrIO)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %v: %w", tmp.Name(), err, domain.ErrIO)
	}
	if err := os.Chmod(tmp.Name(), info.Mode().Perm()); err != nil {
		return fmt.Errorf("chmod %s: %v: %w", dst, err, domain.ErrIO)
	}
	if err := os.Chtimes(tmp.Name(), info.ModTime(), info.ModTime()); err != nil {
		return fmt.Errorf("set times on %s: %v: %w", dst, err, domain.ErrIO)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("move %s into place: %v: %w", dst, err, domain.ErrIO)
	}
	return nil
}
