package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jacobsa/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/distfs/gateway/gateway/opseq"
)

func testJournal(t *testing.T) *Journal {
	t.Helper()
	seq, err := opseq.Open(filepath.Join(t.TempDir(), "opseq"))
	require.NoError(t, err)
	t.Cleanup(func() { seq.Close() })

	var clock timeutil.SimulatedClock
	clock.SetTime(time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC))
	j, err := Open("", seq, &clock, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordAndRecent(t *testing.T) {
	j := testJournal(t)
	j.Record("uploadf", "~S1/a.c", true, "file stored successfully")
	j.Record("downlf", "~S1/b.pdf", false, "file not found")
	j.Record("removef", "~S1/a.c", true, "file deleted successfully")

	entries, err := j.Recent(2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// newest first
	assert.Equal(t, "removef", entries[0].Op)
	assert.Equal(t, "downlf", entries[1].Op)
	assert.False(t, entries[1].OK)
	assert.Equal(t, "file not found", entries[1].Message)
	assert.Greater(t, entries[0].Seq, entries[1].Seq)
}

func TestRecentMoreThanStored(t *testing.T) {
	j := testJournal(t)
	j.Record("dispfnames", "~S1/docs", true, "")
	entries, err := j.Recent(50)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
