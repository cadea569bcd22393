package journal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordEncodeDecode(t *testing.T) {
	at := time.Unix(1693000000, 123456789)
	in := &Entry{
		Op:      "uploadf",
		Path:    "~S1/projects/main.c",
		Message: "file stored successfully",
		OK:      true,
		At:      at,
	}
	var out Entry
	require.NoError(t, out.Decode(in.Encode()))
	assert.Equal(t, in.Op, out.Op)
	assert.Equal(t, in.Path, out.Path)
	assert.Equal(t, in.Message, out.Message)
	assert.True(t, out.OK)
	assert.True(t, out.At.Equal(at))
}

func TestRecordDecodeFailure(t *testing.T) {
	in := &Entry{Op: "removef", Path: "~S1/x.c", Message: "file not found", At: time.Now()}
	data := in.Encode()

	var out Entry
	require.NoError(t, out.Decode(data))
	assert.False(t, out.OK)

	// a single flipped byte must trip the CRC
	data[5] ^= 0xFF
	err := out.Decode(data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CRC check failed")

	assert.Error(t, out.Decode(data[:10]))
}
