// Package wire implements the framed field codec spoken on every socket,
// both client<->gateway and gateway<->storage node. There is no whole-message
// framing: a response is a fixed sequence of fields and both sides rely on
// positional order. Integers are big endian. A blob is a uint32 byte count
// followed by exactly that many bytes, no terminator.
package wire

import (
	"errors"
	"fmt"
	"io"

	"github.com/distfs/gateway/utils"
)

// Single byte commands sent to storage nodes.
const (
	CmdUpload   = byte('U')
	CmdDownload = byte('D')
	CmdRemove   = byte('R')
	CmdArchive  = byte('T')
	CmdList     = byte('L')
)

// Operation status. Exactly one status byte per response, on both legs.
const (
	StatusOK   = byte(0x01)
	StatusFail = byte(0xFF)
)

const (
	// MaxBlobSize caps paths, command lines and messages. File content is
	// never sent as a blob, it is streamed after a size field.
	MaxBlobSize = 1 << 20
	chunkSize   = 32 * 1024
)

// ErrShortRead means the peer went away mid-field. Framing is lost and the
// session must be aborted, never retried.
var ErrShortRead = errors.New("wire: short read")

// ErrBlobTooLarge means a peer announced a blob above MaxBlobSize.
var ErrBlobTooLarge = errors.New("wire: blob exceeds limit")

type Encoder struct {
	w io.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

func (e *Encoder) WriteCommand(c byte) error {
	_, err := e.w.Write([]byte{c})
	return err
}

func (e *Encoder) WriteStatus(s byte) error {
	_, err := e.w.Write([]byte{s})
	return err
}

func (e *Encoder) WriteSize(n int64) error {
	_, err := e.w.Write(utils.Int64ToBytes(n))
	return err
}

func (e *Encoder) WriteCount(n uint32) error {
	_, err := e.w.Write(utils.Uint32ToBytes(n))
	return err
}

func (e *Encoder) WriteBlob(b []byte) error {
	if len(b) > MaxBlobSize {
		return ErrBlobTooLarge
	}
	if _, err := e.w.Write(utils.Uint32ToBytes(uint32(len(b)))); err != nil {
		return err
	}
	_, err := e.w.Write(b)
	return err
}

func (e *Encoder) WriteString(s string) error {
	return e.WriteBlob([]byte(s))
}

// WriteError emits the canonical failure frame: status, msglen, msg.
func (e *Encoder) WriteError(msg string) error {
	if err := e.WriteStatus(StatusFail); err != nil {
		return err
	}
	return e.WriteString(msg)
}

// WriteOK emits a success frame carrying a text message: status, msglen, msg.
func (e *Encoder) WriteOK(msg string) error {
	if err := e.WriteStatus(StatusOK); err != nil {
		return err
	}
	return e.WriteString(msg)
}

// StreamFrom copies exactly n bytes from r to the wire in bounded chunks.
func (e *Encoder) StreamFrom(r io.Reader, n int64) error {
	buf := make([]byte, chunkSize)
	for n > 0 {
		chunk := int64(len(buf))
		if n < chunk {
			chunk = n
		}
		read, err := io.ReadFull(r, buf[:chunk])
		if err != nil {
			return fmt.Errorf("stream source: %w", err)
		}
		if _, err := e.w.Write(buf[:read]); err != nil {
			return err
		}
		n -= int64(read)
	}
	return nil
}

type Decoder struct {
	r io.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// readFull reads exactly len(b) bytes. Anything less is a dead peer.
func (d *Decoder) readFull(b []byte) error {
	if _, err := io.ReadFull(d.r, b); err != nil {
		return fmt.Errorf("%w: %v", ErrShortRead, err)
	}
	return nil
}

func (d *Decoder) ReadCommand() (byte, error) {
	var b [1]byte
	if err := d.readFull(b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Decoder) ReadStatus() (byte, error) {
	var b [1]byte
	if err := d.readFull(b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Decoder) ReadSize() (int64, error) {
	var b [8]byte
	if err := d.readFull(b[:]); err != nil {
		return 0, err
	}
	return utils.BytesToInt64(b[:]), nil
}

func (d *Decoder) ReadCount() (uint32, error) {
	var b [4]byte
	if err := d.readFull(b[:]); err != nil {
		return 0, err
	}
	return utils.BytesToUint32(b[:]), nil
}

func (d *Decoder) ReadBlob() ([]byte, error) {
	var lb [4]byte
	if err := d.readFull(lb[:]); err != nil {
		return nil, err
	}
	n := utils.BytesToUint32(lb[:])
	if n > MaxBlobSize {
		return nil, ErrBlobTooLarge
	}
	b := make([]byte, n)
	if err := d.readFull(b); err != nil {
		return nil, err
	}
	return b, nil
}

func (d *Decoder) ReadString() (string, error) {
	b, err := d.ReadBlob()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// StreamTo copies exactly n bytes from the wire into w. It returns the number
// of bytes consumed from the wire even when the write side fails, so callers
// can drain the remainder and keep framing intact.
func (d *Decoder) StreamTo(w io.Writer, n int64) (int64, error) {
	buf := make([]byte, chunkSize)
	var consumed int64
	for consumed < n {
		chunk := n - consumed
		if chunk > int64(len(buf)) {
			chunk = int64(len(buf))
		}
		if err := d.readFull(buf[:chunk]); err != nil {
			return consumed, err
		}
		consumed += chunk
		if _, err := w.Write(buf[:chunk]); err != nil {
			return consumed, err
		}
	}
	return consumed, nil
}

// Body exposes the next n wire bytes as a reader, for relaying a payload
// without buffering it. The decoder does no read ahead so this is safe.
func (d *Decoder) Body(n int64) io.Reader {
	return io.LimitReader(d.r, n)
}

// Drain reads and discards exactly n bytes.
func (d *Decoder) Drain(n int64) error {
	_, err := d.StreamTo(io.Discard, n)
	return err
}
