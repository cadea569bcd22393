// Package storaged implements a backend storage node. Each node owns one file
// extension under its own root and namespace token and answers the single
// byte commands the gateway forwards: Upload, Download, Remove, Archive,
// List. A connection serves commands until the gateway closes it.
package storaged

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/distfs/gateway/gateway/archive"
	"github.com/distfs/gateway/gateway/vpath"
	"github.com/distfs/gateway/gateway/wire"
)

type Config struct {
	//ListenAddr address the node accepts gateway connections on
	ListenAddr string
	//Root directory backing this node's store
	Root string
	//Token this node's namespace root, e.g. "~S2"
	Token string
	//GatewayToken the gateway's namespace root carried on forwarded file paths
	GatewayToken string
	//Ext the single extension this node owns
	Ext string
	//DebugMode run in debug mode
	DebugMode bool
}

type Server struct {
	cfg *Config
	log *zap.SugaredLogger

	mu     sync.Mutex
	ln     net.Listener
	closed bool
	wg     sync.WaitGroup
}

func New(cfg *Config, log *zap.SugaredLogger) *Server {
	return &Server{cfg: cfg, log: log}
}

func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve runs the accept loop until Close. Individual accept failures are
// logged and the loop continues.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return fmt.Errorf("storaged: server closed")
	}
	s.ln = ln
	s.mu.Unlock()
	s.log.Infof("%s node listening on %s root %s", s.cfg.Ext, ln.Addr(), s.cfg.Root)
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				s.wg.Wait()
				return nil
			}
			s.log.Warnf("accept: %v", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	ln := s.ln
	s.mu.Unlock()
	if ln != nil {
		return ln.Close()
	}
	return nil
}

// Addr returns the bound address, for tests that listen on port zero.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	enc, dec := wire.NewEncoder(conn), wire.NewDecoder(conn)
	for {
		cmd, err := dec.ReadCommand()
		if err != nil {
			return
		}
		switch cmd {
		case wire.CmdUpload:
			err = s.handleUpload(enc, dec)
		case wire.CmdDownload:
			err = s.handleDownload(enc, dec)
		case wire.CmdRemove:
			err = s.handleRemove(enc, dec)
		case wire.CmdArchive:
			err = s.handleArchive(enc, dec)
		case wire.CmdList:
			err = s.handleList(enc, dec)
		default:
			s.log.Warnf("unknown command byte %q", cmd)
			return
		}
		if err != nil {
			s.log.Debugf("session ended: %v", err)
			return
		}
	}
}

// localPath rewrites a forwarded file path against this node's root. File
// operations arrive under the gateway's token, verbatim; only list queries
// are rewritten to this node's own token before they reach us.
func (s *Server) localPath(path string) (string, error) {
	return vpath.Rewrite(path, s.cfg.GatewayToken, s.cfg.Root)
}

func (s *Server) listPath(path string) (string, error) {
	return vpath.Rewrite(path, s.cfg.Token, s.cfg.Root)
}

func (s *Server) handleUpload(enc *wire.Encoder, dec *wire.Decoder) error {
	path, err := dec.ReadString()
	if err != nil {
		return err
	}
	size, err := dec.ReadSize()
	if err != nil {
		return err
	}
	if size < 0 {
		return fmt.Errorf("negative upload size %d", size)
	}
	local, err := s.localPath(path)
	if err != nil {
		if err := dec.Drain(size); err != nil {
			return err
		}
		return enc.WriteError(rewriteMessage(err))
	}
	if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
		if err := dec.Drain(size); err != nil {
			return err
		}
		return enc.WriteError("could not create directory")
	}
	f, err := os.Create(local)
	if err != nil {
		if err := dec.Drain(size); err != nil {
			return err
		}
		return enc.WriteError("could not store file")
	}
	consumed, err := dec.StreamTo(f, size)
	if err != nil {
		f.Close()
		os.Remove(local)
		if errors.Is(err, wire.ErrShortRead) {
			return err
		}
		// disk write failed, keep framing in sync before answering
		if err := dec.Drain(size - consumed); err != nil {
			return err
		}
		return enc.WriteError("could not store file")
	}
	if err := f.Close(); err != nil {
		os.Remove(local)
		return enc.WriteError("could not store file")
	}
	s.log.Infof("stored %s (%d bytes)", local, size)
	return enc.WriteOK("file stored successfully")
}

func (s *Server) handleDownload(enc *wire.Encoder, dec *wire.Decoder) error {
	path, err := dec.ReadString()
	if err != nil {
		return err
	}
	local, err := s.localPath(path)
	if err != nil {
		return enc.WriteError(rewriteMessage(err))
	}
	f, err := os.Open(local)
	if err != nil {
		return enc.WriteError("file not found")
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		return enc.WriteError("file not found")
	}
	if err := enc.WriteStatus(wire.StatusOK); err != nil {
		return err
	}
	if err := enc.WriteSize(info.Size()); err != nil {
		return err
	}
	return enc.StreamFrom(f, info.Size())
}

func (s *Server) handleRemove(enc *wire.Encoder, dec *wire.Decoder) error {
	path, err := dec.ReadString()
	if err != nil {
		return err
	}
	local, err := s.localPath(path)
	if err != nil {
		return enc.WriteError(rewriteMessage(err))
	}
	if err := os.Remove(local); err != nil {
		switch {
		case os.IsNotExist(err):
			return enc.WriteError("file not found")
		case os.IsPermission(err):
			return enc.WriteError("permission denied")
		default:
			return enc.WriteError("file deletion failed")
		}
	}
	s.log.Infof("removed %s", local)
	return enc.WriteOK("file deleted successfully")
}

func (s *Server) handleArchive(enc *wire.Encoder, dec *wire.Decoder) error {
	typeToken, err := dec.ReadString()
	if err != nil {
		return err
	}
	if strings.TrimPrefix(typeToken, ".") != s.cfg.Ext {
		return enc.WriteError(fmt.Sprintf("this node does not serve %q files", typeToken))
	}
	files, err := archive.ListMatching(s.cfg.Root, s.cfg.Ext)
	if err != nil {
		return enc.WriteError("archive creation failed")
	}
	res, err := archive.Build(s.cfg.Root, files)
	if err != nil {
		if errors.Is(err, archive.ErrNoFiles) {
			return enc.WriteError("no files to archive")
		}
		return enc.WriteError("archive creation failed")
	}
	defer res.Cleanup()
	f, err := os.Open(res.Path)
	if err != nil {
		return enc.WriteError("archive creation failed")
	}
	defer f.Close()
	if err := enc.WriteStatus(wire.StatusOK); err != nil {
		return err
	}
	if err := enc.WriteSize(res.Size); err != nil {
		return err
	}
	return enc.StreamFrom(f, res.Size)
}

func (s *Server) handleList(enc *wire.Encoder, dec *wire.Decoder) error {
	path, err := dec.ReadString()
	if err != nil {
		return err
	}
	local, err := s.listPath(path)
	if err != nil {
		return enc.WriteError(rewriteMessage(err))
	}
	var names []string
	items, err := os.ReadDir(local)
	if err != nil && !os.IsNotExist(err) {
		return enc.WriteError("could not read directory")
	}
	for _, item := range items {
		if !item.IsDir() && strings.HasSuffix(item.Name(), "."+s.cfg.Ext) {
			names = append(names, item.Name())
		}
	}
	if err := enc.WriteStatus(wire.StatusOK); err != nil {
		return err
	}
	if err := enc.WriteCount(uint32(len(names))); err != nil {
		return err
	}
	for _, name := range names {
		if err := enc.WriteString(name); err != nil {
			return err
		}
	}
	return nil
}

func rewriteMessage(err error) string {
	switch {
	case errors.Is(err, vpath.ErrTraversal):
		return "path traversal not allowed"
	case errors.Is(err, vpath.ErrBadPath):
		return "invalid path format"
	default:
		return "invalid path"
	}
}
