package listing

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/distfs/gateway/gateway/routing"
)

func testTable(t *testing.T) *routing.Table {
	t.Helper()
	tbl, err := routing.New("c", []routing.Node{
		{Ext: "pdf", Token: "~S2", Host: "127.0.0.1", Port: 6055},
		{Ext: "txt", Token: "~S3", Host: "127.0.0.1", Port: 6056},
		{Ext: "zip", Token: "~S4", Host: "127.0.0.1", Port: 6057},
	}, nil)
	require.NoError(t, err)
	return tbl
}

// fakeLister serves canned names per extension and can fail a node.
type fakeLister struct {
	names map[string][]string
	fail  map[string]bool
}

func (f *fakeLister) List(ext, dirPath string) ([]string, error) {
	if f.fail[ext] {
		return nil, errors.New("connection refused")
	}
	return f.names[ext], nil
}

func TestCollectOrdersByExtensionThenName(t *testing.T) {
	tbl := testTable(t)
	dir := t.TempDir()
	for _, name := range []string{"b.c", "a.c", "notes.txt.bak"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}

	lister := &fakeLister{names: map[string][]string{
		"pdf": {"z.pdf"},
		"txt": {"m.txt"},
	}}
	agg := NewAggregator(tbl, lister, zap.NewNop().Sugar())
	entries, err := agg.Collect("~S1/projects", dir)
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"a.c", "b.c", "z.pdf", "m.txt"}, names)
}

func TestCollectSkipsFailedNode(t *testing.T) {
	tbl := testTable(t)
	lister := &fakeLister{
		names: map[string][]string{"pdf": {"a.pdf"}, "txt": {"a.txt"}},
		fail:  map[string]bool{"txt": true},
	}
	agg := NewAggregator(tbl, lister, zap.NewNop().Sugar())
	entries, err := agg.Collect("~S1", t.TempDir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.pdf", entries[0].Name)
}

func TestScanLocal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "one.c"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "two.txt"), nil, 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.c"), 0755))

	entries, err := ScanLocal(dir, "c")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "one.c", entries[0].Name)

	// a directory that does not exist yet is simply empty
	entries, err = ScanLocal(filepath.Join(dir, "missing"), "c")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMergeIsStable(t *testing.T) {
	tbl := testTable(t)
	in := []Entry{
		{Name: "m.txt", Ext: "txt"},
		{Name: "z.pdf", Ext: "pdf"},
		{Name: "b.c", Ext: "c"},
		{Name: "a.c", Ext: "c"},
		{Name: "q.zip", Ext: "zip"},
	}
	out := Merge(in, tbl)
	var names []string
	for _, e := range out {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"a.c", "b.c", "z.pdf", "m.txt", "q.zip"}, names)
}
