package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNodes() []Node {
	return []Node{
		{Ext: "pdf", Token: "~S2", Host: "127.0.0.1", Port: 6055},
		{Ext: "txt", Token: "~S3", Host: "127.0.0.1", Port: 6056},
		{Ext: "zip", Token: "~S4", Host: "127.0.0.1", Port: 6057},
	}
}

func TestTable(t *testing.T) {
	tbl, err := New("c", testNodes(), []string{"c", "pdf", "txt"})
	require.NoError(t, err)

	assert.Equal(t, "c", tbl.LocalExt())
	assert.True(t, tbl.IsLocal("c"))
	assert.False(t, tbl.IsLocal("pdf"))
	assert.True(t, tbl.Supported("zip"))
	assert.False(t, tbl.Supported("exe"))

	n, ok := tbl.Lookup("txt")
	require.True(t, ok)
	assert.Equal(t, "~S3", n.Token)
	assert.Equal(t, "127.0.0.1:6056", n.Addr())
	_, ok = tbl.Lookup("c")
	assert.False(t, ok)

	assert.Equal(t, []string{"c", "pdf", "txt", "zip"}, tbl.Exts())
	assert.Equal(t, []string{"pdf", "txt", "zip"}, tbl.RemoteExts())
	assert.Equal(t, 0, tbl.Rank("c"))
	assert.Equal(t, 3, tbl.Rank("zip"))
	assert.Equal(t, 4, tbl.Rank("exe"))

	assert.True(t, tbl.Archivable("pdf"))
	assert.False(t, tbl.Archivable("zip"))
	assert.Equal(t, []string{"c", "pdf", "txt"}, tbl.ArchivableExts())
}

func TestTableValidation(t *testing.T) {
	_, err := New("", nil, nil)
	assert.Error(t, err)

	_, err = New("c", []Node{{Ext: "c"}}, nil)
	assert.Error(t, err, "node must not shadow the local extension")

	_, err = New("c", []Node{
		{Ext: "pdf", Token: "~S2"},
		{Ext: "pdf", Token: "~S9"},
	}, nil)
	assert.Error(t, err)

	_, err = New("c", testNodes(), []string{"exe"})
	assert.Error(t, err, "archivable extension must be in the table")
}
