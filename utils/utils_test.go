package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIntRoundTrips(t *testing.T) {
	for _, v := range []uint64{0, 1, 255, 1 << 20, 1<<63 - 1} {
		assert.Equal(t, v, BytesToUint64(Uint64ToBytes(v)))
	}
	for _, v := range []uint32{0, 7, 1 << 16, 1<<32 - 1} {
		assert.Equal(t, v, BytesToUint32(Uint32ToBytes(v)))
	}
	for _, v := range []int64{0, -1, 42, -1 << 40, 1<<62 + 3} {
		assert.Equal(t, v, BytesToInt64(Int64ToBytes(v)))
	}
}

func TestRandString(t *testing.T) {
	s := RandString(32)
	if len(s) != 32 {
		t.Errorf("RandString length = %d", len(s))
	}
	if s == RandString(32) {
		t.Error("RandString returned the same string twice")
	}
}
