// Package archive keeps every raw flights page on disk before it is parsed,
// so a failure in a later stage never loses fetched data.
package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/vykuang/mh-flight-logs/aviationstack"
)

// ErrNoArchive is returned by Load when no pages were archived for a date.
var ErrNoArchive = errors.New("archive: no archived pages")

// Archiver writes pages under a single directory.
type Archiver struct {
	dir string
}

// New returns an archiver rooted at dir. The directory is created on first write.
func New(dir string) *Archiver {
	return &Archiver{dir: dir}
}

// FileName is the deterministic name for a page, so re-running a date
// overwrites its files instead of duplicating them.
func FileName(date string, offset, limit int) string {
	return fmt.Sprintf("flight-%s-%d-%d.json", date, offset, offset+limit)
}

// Archive writes the verbatim page body and returns its path. The write goes
// through a temp file and rename so a crash never leaves a half-written page.
func (a *Archiver) Archive(page *aviationstack.Page, date string, offset, limit int) (string, error) {
	if page == nil || len(page.Raw) == 0 {
		return "", fmt.Errorf("archive: page at offset %d has no body", offset)
	}
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", fmt.Errorf("archive: create %s: %w", a.dir, err)
	}

	path := filepath.Join(a.dir, FileName(date, offset, limit))
	tmp, err := os.CreateTemp(a.dir, ".flight-*.tmp")
	if err != nil {
		return "", fmt.Errorf("archive: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(page.Raw); err != nil {
		tmp.Close()
		return "", fmt.Errorf("archive: write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("archive: sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("archive: close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("archive: rename to %s: %w", path, err)
	}
	return path, nil
}

type archivedFile struct {
	path   string
	offset int
}

// Files lists the archived pages for date ordered by offset.
func (a *Archiver) Files(date string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(a.dir, fmt.Sprintf("flight-%s-*.json", date)))
	if err != nil {
		return nil, fmt.Errorf("archive: glob: %w", err)
	}

	prefix := fmt.Sprintf("flight-%s-", date)
	files := make([]archivedFile, 0, len(matches))
	for _, m := range matches {
		rest := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), prefix), ".json")
		start, _, ok := strings.Cut(rest, "-")
		if !ok {
			continue
		}
		offset, err := strconv.Atoi(start)
		if err != nil {
			continue
		}
		files = append(files, archivedFile{path: m, offset: offset})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].offset < files[j].offset })

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths, nil
}

// Load reads every archived page for date, in offset order.
func (a *Archiver) Load(date string) ([]*aviationstack.Page, error) {
	paths, err := a.Files(date)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w for %s in %s", ErrNoArchive, date, a.dir)
	}

	pages := make([]*aviationstack.Page, 0, len(paths))
	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("archive: read %s: %w", p, err)
		}
		page, err := aviationstack.ParsePage(raw)
		if err != nil {
			return nil, fmt.Errorf("archive: %s: %w", p, err)
		}
		pages = append(pages, page)
	}
	return pages, nil
}
