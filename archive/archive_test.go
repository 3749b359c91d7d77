package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vykuang/mh-flight-logs/aviationstack"
)

func rawPage(offset, count, total int) []byte {
	records := make([]string, count)
	for i := range records {
		records[i] = fmt.Sprintf(`{"flight":{"iata":"MH%d"}}`, offset+i)
	}
	return []byte(fmt.Sprintf(`{"pagination":{"offset":%d,"limit":100,"count":%d,"total":%d},"data":[%s]}`,
		offset, count, total, strings.Join(records, ",")))
}

func TestArchiveWritesVerbatimAndCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "responses")
	a := New(dir)

	raw := rawPage(0, 2, 2)
	path, err := a.Archive(&aviationstack.Page{Raw: raw}, "2024-01-01", 0, 100)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "flight-2024-01-01-0-100.json"), path)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}

func TestArchiveOverwritesSameOffsets(t *testing.T) {
	dir := t.TempDir()
	a := New(dir)

	_, err := a.Archive(&aviationstack.Page{Raw: rawPage(0, 1, 1)}, "2024-01-01", 0, 100)
	require.NoError(t, err)
	second := rawPage(0, 2, 2)
	_, err = a.Archive(&aviationstack.Page{Raw: second}, "2024-01-01", 0, 100)
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, second, got)
}

func TestArchiveRejectsEmptyPage(t *testing.T) {
	_, err := New(t.TempDir()).Archive(&aviationstack.Page{}, "2024-01-01", 0, 100)
	assert.Error(t, err)
}

func TestArchiveFailsWhenDirIsAFile(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	_, err := New(blocker).Archive(&aviationstack.Page{Raw: rawPage(0, 0, 0)}, "2024-01-01", 0, 100)
	assert.Error(t, err)
}

func TestLoadOrdersByNumericOffset(t *testing.T) {
	dir := t.TempDir()
	a := New(dir)

	for _, offset := range []int{200, 0, 100} {
		_, err := a.Archive(&aviationstack.Page{Raw: rawPage(offset, 1, 201)}, "2024-01-01", offset, 100)
		require.NoError(t, err)
	}
	// another date must not leak in
	_, err := a.Archive(&aviationstack.Page{Raw: rawPage(0, 1, 1)}, "2024-01-02", 0, 100)
	require.NoError(t, err)

	pages, err := a.Load("2024-01-01")
	require.NoError(t, err)
	require.Len(t, pages, 3)
	assert.Equal(t, 0, pages[0].Pagination.Offset)
	assert.Equal(t, 100, pages[1].Pagination.Offset)
	assert.Equal(t, 200, pages[2].Pagination.Offset)
}

func TestLoadWithoutArchive(t *testing.T) {
	_, err := New(t.TempDir()).Load("2024-01-01")
	assert.ErrorIs(t, err, ErrNoArchive)
}
