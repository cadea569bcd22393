package journal

import (
	"fmt"
	"hash/crc32"
	"time"

	"github.com/distfs/gateway/utils"
)

const okFlag = iota + 1

// Entry is one journaled operation outcome.
type Entry struct {
	Seq     uint64
	Op      string
	Path    string
	Message string
	OK      bool
	At      time.Time
}

func setBit(n int8, pos uint) int8 {
	n |= (1 << pos)
	return n
}

func hasBit(n int8, pos uint) bool {
	val := n & (1 << pos)
	return (val > 0)
}

// Encode lays the entry out as flags, timestamp, three length prefixed
// strings and a trailing CRC over everything before it.
func (e *Entry) Encode() []byte {
	var flags int8
	if e.OK {
		flags = setBit(flags, okFlag)
	}
	op, path, msg := []byte(e.Op), []byte(e.Path), []byte(e.Message)
	size := 1 + 8 + 4 + len(op) + 4 + len(path) + 4 + len(msg) + 4
	buf := make([]byte, 0, size)
	buf = append(buf, byte(flags))
	buf = append(buf, utils.Int64ToBytes(e.At.UnixNano())...)
	for _, field := range [][]byte{op, path, msg} {
		buf = append(buf, utils.Uint32ToBytes(uint32(len(field)))...)
		buf = append(buf, field...)
	}
	crc := crc32.ChecksumIEEE(buf)
	return append(buf, utils.Uint32ToBytes(crc)...)
}

func (e *Entry) Decode(data []byte) error {
	if len(data) < 25 {
		return fmt.Errorf("journal record truncated: %d bytes", len(data))
	}
	body, stored := data[:len(data)-4], utils.BytesToUint32(data[len(data)-4:])
	if crc := crc32.ChecksumIEEE(body); crc != stored {
		return fmt.Errorf("CRC check failed %d != %d", crc, stored)
	}
	e.OK = hasBit(int8(body[0]), okFlag)
	e.At = time.Unix(0, utils.BytesToInt64(body[1:9]))
	pos := 9
	fields := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		if pos+4 > len(body) {
			return fmt.Errorf("journal record field %d truncated", i)
		}
		n := int(utils.BytesToUint32(body[pos : pos+4]))
		pos += 4
		if pos+n > len(body) {
			return fmt.Errorf("journal record field %d truncated", i)
		}
		fields = append(fields, string(body[pos:pos+n]))
		pos += n
	}
	e.Op, e.Path, e.Message = fields[0], fields[1], fields[2]
	return nil
}
