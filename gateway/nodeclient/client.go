// Package nodeclient speaks the gateway side of the storage node protocol.
// Every operation opens one short lived TCP connection, drives a single
// command and closes it; nodes are never pooled.
package nodeclient

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/distfs/gateway/gateway/routing"
	"github.com/distfs/gateway/gateway/wire"
)

var (
	// ErrUnreachable means the dial failed. Handlers translate it into the
	// framed "could not reach storage node" response, never a bare close.
	ErrUnreachable = errors.New("nodeclient: could not reach storage node")
	// ErrNodeProtocol means the node closed early or sent a malformed frame.
	ErrNodeProtocol = errors.New("nodeclient: no usable response from storage node")
)

// NodeError carries a failure the node itself reported. The message is
// relayed to the client verbatim.
type NodeError struct {
	Msg string
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("storage node: %s", e.Msg)
}

type Client struct {
	table          *routing.Table
	connectTimeout time.Duration
	readTimeout    time.Duration
	log            *zap.SugaredLogger
}

func New(table *routing.Table, connectTimeout, readTimeout time.Duration, log *zap.SugaredLogger) *Client {
	return &Client{
		table:          table,
		connectTimeout: connectTimeout,
		readTimeout:    readTimeout,
		log:            log,
	}
}

func (c *Client) dial(ext string) (net.Conn, error) {
	node, ok := c.table.Lookup(ext)
	if !ok {
		return nil, fmt.Errorf("nodeclient: no node for extension %q", ext)
	}
	conn, err := net.DialTimeout("tcp", node.Addr(), c.connectTimeout)
	if err != nil {
		c.log.Warnf("dial %s node at %s: %v", ext, node.Addr(), err)
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	c.extend(conn)
	return conn, nil
}

func (c *Client) extend(conn net.Conn) {
	if c.readTimeout > 0 {
		conn.SetDeadline(time.Now().Add(c.readTimeout))
	}
}

// Upload pushes size bytes from body to the node owning ext and returns the
// node's completion status and text verbatim.
func (c *Client) Upload(ext, path string, size int64, body io.Reader) (bool, string, error) {
	conn, err := c.dial(ext)
	if err != nil {
		return false, "", err
	}
	defer conn.Close()
	enc, dec := wire.NewEncoder(conn), wire.NewDecoder(conn)
	if err := writeAll(
		func() error { return enc.WriteCommand(wire.CmdUpload) },
		func() error { return enc.WriteString(path) },
		func() error { return enc.WriteSize(size) },
		func() error { return enc.StreamFrom(body, size) },
	); err != nil {
		return false, "", err
	}
	c.extend(conn)
	return c.readAck(dec)
}

// Remove forwards a delete and returns the node's response pair.
func (c *Client) Remove(ext, path string) (bool, string, error) {
	conn, err := c.dial(ext)
	if err != nil {
		return false, "", err
	}
	defer conn.Close()
	enc, dec := wire.NewEncoder(conn), wire.NewDecoder(conn)
	if err := writeAll(
		func() error { return enc.WriteCommand(wire.CmdRemove) },
		func() error { return enc.WriteString(path) },
	); err != nil {
		return false, "", err
	}
	return c.readAck(dec)
}

func (c *Client) readAck(dec *wire.Decoder) (bool, string, error) {
	status, err := dec.ReadStatus()
	if err != nil {
		return false, "", fmt.Errorf("%w: %v", ErrNodeProtocol, err)
	}
	msg, err := dec.ReadString()
	if err != nil {
		return false, "", fmt.Errorf("%w: %v", ErrNodeProtocol, err)
	}
	return status == wire.StatusOK, msg, nil
}

// Stream is an open node connection positioned at the start of a payload.
// The owner must Close it on every exit path; Close is idempotent.
type Stream struct {
	Size int64

	client    *Client
	conn      net.Conn
	remaining int64
	closeOnce sync.Once
}

func (s *Stream) Read(p []byte) (int, error) {
	if s.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > s.remaining {
		p = p[:s.remaining]
	}
	s.client.extend(s.conn)
	n, err := s.conn.Read(p)
	s.remaining -= int64(n)
	return n, err
}

func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}

// Download asks the node owning ext for path. On node reported failure the
// returned error is a *NodeError carrying the node's message.
func (c *Client) Download(ext, path string) (*Stream, error) {
	return c.fetch(ext, wire.CmdDownload, path)
}

// Archive asks the owning node to build a tar of typeToken files.
func (c *Client) Archive(ext, typeToken string) (*Stream, error) {
	return c.fetch(ext, wire.CmdArchive, typeToken)
}

func (c *Client) fetch(ext string, cmd byte, arg string) (*Stream, error) {
	conn, err := c.dial(ext)
	if err != nil {
		return nil, err
	}
	enc, dec := wire.NewEncoder(conn), wire.NewDecoder(conn)
	if err := writeAll(
		func() error { return enc.WriteCommand(cmd) },
		func() error { return enc.WriteString(arg) },
	); err != nil {
		conn.Close()
		return nil, err
	}
	status, err := dec.ReadStatus()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrNodeProtocol, err)
	}
	if status != wire.StatusOK {
		msg, err := dec.ReadString()
		conn.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNodeProtocol, err)
		}
		return nil, &NodeError{Msg: msg}
	}
	size, err := dec.ReadSize()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrNodeProtocol, err)
	}
	if size < 0 {
		conn.Close()
		return nil, fmt.Errorf("%w: negative payload size %d", ErrNodeProtocol, size)
	}
	return &Stream{Size: size, client: c, conn: conn, remaining: size}, nil
}

// List queries the node owning ext for the filenames under dirPath. The
// caller rewrites the namespace token beforehand.
func (c *Client) List(ext, dirPath string) ([]string, error) {
	conn, err := c.dial(ext)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	enc, dec := wire.NewEncoder(conn), wire.NewDecoder(conn)
	if err := writeAll(
		func() error { return enc.WriteCommand(wire.CmdList) },
		func() error { return enc.WriteString(dirPath) },
	); err != nil {
		return nil, err
	}
	status, err := dec.ReadStatus()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNodeProtocol, err)
	}
	if status != wire.StatusOK {
		msg, err := dec.ReadString()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNodeProtocol, err)
		}
		return nil, &NodeError{Msg: msg}
	}
	count, err := dec.ReadCount()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNodeProtocol, err)
	}
	names := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		name, err := dec.ReadString()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNodeProtocol, err)
		}
		names = append(names, name)
	}
	return names, nil
}

func writeAll(steps ...func() error) error {
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}
