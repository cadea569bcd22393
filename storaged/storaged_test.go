package storaged

import (
	"archive/tar"
	"bytes"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/distfs/gateway/gateway/nodeclient"
	"github.com/distfs/gateway/gateway/routing"
)

// startNode runs an in-process pdf node on a random port and returns a
// nodeclient wired to it.
func startNode(t *testing.T) (*nodeclient.Client, string) {
	t.Helper()
	root := t.TempDir()
	srv := New(&Config{
		Root:         root,
		Token:        "~S2",
		GatewayToken: "~S1",
		Ext:          "pdf",
	}, zap.NewNop().Sugar())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })

	port := ln.Addr().(*net.TCPAddr).Port
	table, err := routing.New("c", []routing.Node{
		{Ext: "pdf", Token: "~S2", Host: "127.0.0.1", Port: port},
	}, nil)
	require.NoError(t, err)
	return nodeclient.New(table, 0, 0, zap.NewNop().Sugar()), root
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	client, _ := startNode(t)
	payload := strings.Repeat("pdf bytes ", 5000)

	ok, msg, err := client.Upload("pdf", "~S1/docs/report.pdf",
		int64(len(payload)), strings.NewReader(payload))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "file stored successfully", msg)

	stream, err := client.Download("pdf", "~S1/docs/report.pdf")
	require.NoError(t, err)
	defer stream.Close()
	assert.Equal(t, int64(len(payload)), stream.Size)
	got, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, payload, string(got))
}

func TestDownloadMissing(t *testing.T) {
	client, _ := startNode(t)
	_, err := client.Download("pdf", "~S1/ghost.pdf")
	var nerr *nodeclient.NodeError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "file not found", nerr.Msg)
}

func TestUploadTraversalRejectedAndDrained(t *testing.T) {
	client, root := startNode(t)
	payload := strings.Repeat("x", 10000)
	ok, msg, err := client.Upload("pdf", "~S1/../escape.pdf",
		int64(len(payload)), strings.NewReader(payload))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "path traversal not allowed", msg)

	// nothing escaped the root
	_, statErr := os.Stat(filepath.Join(filepath.Dir(root), "escape.pdf"))
	assert.True(t, os.IsNotExist(statErr))

	// the payload was drained, the next request on a fresh dial still works
	ok, _, err = client.Upload("pdf", "~S1/fine.pdf", 2, strings.NewReader("ok"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRemove(t *testing.T) {
	client, root := startNode(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "doomed.pdf"), []byte("x"), 0644))

	ok, msg, err := client.Remove("pdf", "~S1/doomed.pdf")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "file deleted successfully", msg)

	ok, msg, err = client.Remove("pdf", "~S1/doomed.pdf")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "file not found", msg)
}

func TestArchive(t *testing.T) {
	client, root := startNode(t)

	_, err := client.Archive("pdf", ".pdf")
	var nerr *nodeclient.NodeError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "no files to archive", nerr.Msg)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.pdf"), []byte("aaa"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.pdf"), []byte("bbb"), 0644))

	stream, err := client.Archive("pdf", ".pdf")
	require.NoError(t, err)
	defer stream.Close()
	blob, err := io.ReadAll(stream)
	require.NoError(t, err)
	require.Equal(t, stream.Size, int64(len(blob)))

	tr := tar.NewReader(bytes.NewReader(blob))
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
	}
	assert.ElementsMatch(t, []string{"a.pdf", "sub/b.pdf"}, names)
}

func TestArchiveWrongExtension(t *testing.T) {
	client, _ := startNode(t)
	_, err := client.Archive("pdf", ".txt")
	var nerr *nodeclient.NodeError
	require.ErrorAs(t, err, &nerr)
	assert.Contains(t, nerr.Msg, "does not serve")
}

func TestListUsesOwnToken(t *testing.T) {
	client, root := startNode(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "a.pdf"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "b.txt"), nil, 0644))

	// list queries arrive rewritten to this node's token
	names, err := client.List("pdf", "~S2/docs")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.pdf"}, names)

	// an empty directory lists cleanly
	names, err = client.List("pdf", "~S2/empty")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestUnreachableNode(t *testing.T) {
	table, err := routing.New("c", []routing.Node{
		{Ext: "pdf", Token: "~S2", Host: "127.0.0.1", Port: 1},
	}, nil)
	require.NoError(t, err)
	client := nodeclient.New(table, 0, 0, zap.NewNop().Sugar())
	_, _, err = client.Upload("pdf", "~S1/x.pdf", 0, strings.NewReader(""))
	assert.True(t, errors.Is(err, nodeclient.ErrUnreachable))
}
