// Package gateway implements the front end of the file store: it accepts
// client connections, parses framed commands and serves each one from the
// local store or by forwarding to the storage node owning the file's
// extension. Clients only ever see the gateway's namespace.
package gateway

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jacobsa/timeutil"
	"go.uber.org/zap"

	"github.com/distfs/gateway/gateway/config"
	"github.com/distfs/gateway/gateway/journal"
	"github.com/distfs/gateway/gateway/listing"
	"github.com/distfs/gateway/gateway/mirror"
	"github.com/distfs/gateway/gateway/nodeclient"
	"github.com/distfs/gateway/gateway/opseq"
	"github.com/distfs/gateway/gateway/routing"
	"github.com/distfs/gateway/gateway/vpath"
	"github.com/distfs/gateway/gateway/wire"
)

type Gateway struct {
	cfg      *config.Config
	table    *routing.Table
	resolver *vpath.Resolver
	nodes    *nodeclient.Client
	agg      *listing.Aggregator
	journal  *journal.Journal
	seq      *opseq.Engine
	mirror   mirror.Mirror
	Clock    timeutil.Clock
	log      *zap.SugaredLogger

	mu     sync.Mutex
	ln     net.Listener
	closed bool
	wg     sync.WaitGroup
}

func New(cfg *config.Config, log *zap.SugaredLogger) (*Gateway, error) {
	table, err := routing.New(cfg.LocalExt, cfg.Nodes, cfg.ArchivableExts)
	if err != nil {
		return nil, err
	}
	g := &Gateway{
		cfg:      cfg,
		table:    table,
		resolver: vpath.New(cfg.NamespaceToken, cfg.LocalRoot, table),
		nodes:    nodeclient.New(table, cfg.ConnectTimeout, cfg.ReadTimeout, log),
		Clock:    timeutil.RealClock(),
		log:      log,
	}
	g.agg = listing.NewAggregator(table, &nodeLister{g: g}, log)
	if cfg.DataDir != "" {
		seq, err := opseq.Open(filepath.Join(cfg.DataDir, "opseq"))
		if err != nil {
			return nil, err
		}
		jr, err := journal.Open(filepath.Join(cfg.DataDir, "journal"), seq, g.Clock, log)
		if err != nil {
			seq.Close()
			return nil, err
		}
		g.seq = seq
		g.journal = jr
	}
	if cfg.MirrorBucket != "" {
		m, err := mirror.NewS3(cfg.MirrorBucket, cfg.MirrorRegion, log)
		if err != nil {
			return nil, err
		}
		g.mirror = m
	}
	return g, nil
}

// Table returns the routing table, read only.
func (g *Gateway) Table() *routing.Table {
	return g.table
}

// Journal returns the operation journal, nil when DataDir is unset.
func (g *Gateway) Journal() *journal.Journal {
	return g.journal
}

// SetMirror replaces the mirror target. Only meaningful before Serve.
func (g *Gateway) SetMirror(m mirror.Mirror) {
	g.mirror = m
}

func (g *Gateway) ListenAndServe() error {
	ln, err := net.Listen("tcp", g.cfg.ListenAddr)
	if err != nil {
		return err
	}
	return g.Serve(ln)
}

// Serve accepts clients until Close. Each connection gets its own goroutine;
// a failed accept is logged and the loop continues.
func (g *Gateway) Serve(ln net.Listener) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		ln.Close()
		return fmt.Errorf("gateway: server closed")
	}
	g.ln = ln
	g.mu.Unlock()
	g.log.Infof("gateway listening on %s, local extension %q under %s",
		ln.Addr(), g.table.LocalExt(), g.cfg.LocalRoot)
	for {
		conn, err := ln.Accept()
		if err != nil {
			g.mu.Lock()
			closed := g.closed
			g.mu.Unlock()
			if closed {
				g.wg.Wait()
				return nil
			}
			g.log.Warnf("accept: %v", err)
			continue
		}
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			g.handleConn(conn)
		}()
	}
}

// Close stops accepting, waits for in flight connections and releases the
// journal stores.
func (g *Gateway) Close() error {
	g.mu.Lock()
	g.closed = true
	ln := g.ln
	g.mu.Unlock()
	if ln != nil {
		ln.Close()
	}
	g.wg.Wait()
	if g.journal != nil {
		if err := g.journal.Close(); err != nil {
			g.log.Warnf("closing journal: %v", err)
		}
	}
	if g.seq != nil {
		if err := g.seq.Close(); err != nil {
			g.log.Warnf("closing sequence store: %v", err)
		}
	}
	return nil
}

// Addr returns the bound address, for tests listening on port zero.
func (g *Gateway) Addr() net.Addr {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ln == nil {
		return nil
	}
	return g.ln.Addr()
}

// handleConn runs one client session: read a framed command line, dispatch,
// answer, repeat. Commands are strictly sequential per connection. A short
// frame means framing is lost and the connection is dropped; every other
// failure answers the documented error frame and the session continues.
func (g *Gateway) handleConn(conn net.Conn) {
	defer conn.Close()
	log := g.log.With("client", conn.RemoteAddr().String())
	log.Debugf("client connected")
	enc, dec := wire.NewEncoder(conn), wire.NewDecoder(conn)
	for {
		line, err := dec.ReadString()
		if err != nil {
			log.Debugf("client gone: %v", err)
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			if err := enc.WriteError("unknown command"); err != nil {
				return
			}
			continue
		}
		switch fields[0] {
		case "uploadf":
			if len(fields) != 3 {
				err = enc.WriteError("usage: uploadf <filename> <destination_path>")
			} else {
				err = g.handleUpload(enc, dec, fields[1], fields[2])
			}
		case "downlf":
			if len(fields) != 2 {
				err = enc.WriteError("usage: downlf <filepath>")
			} else {
				err = g.handleDownload(enc, fields[1])
			}
		case "removef":
			if len(fields) != 2 {
				err = enc.WriteError("usage: removef <filepath>")
			} else {
				err = g.handleRemove(enc, fields[1])
			}
		case "downltar":
			if len(fields) != 2 {
				err = enc.WriteError("usage: downltar <filetype>")
			} else {
				err = g.handleTar(enc, fields[1])
			}
		case "dispfnames":
			if len(fields) != 2 {
				err = enc.WriteError("usage: dispfnames <pathname>")
			} else {
				err = g.handleList(enc, fields[1])
			}
		case "exit":
			log.Debugf("client exit")
			return
		default:
			err = enc.WriteError("unknown command")
		}
		if err != nil {
			log.Debugf("session ended: %v", err)
			return
		}
	}
}

// record journals one finished command when the journal is enabled.
func (g *Gateway) record(op, path string, ok bool, message string) {
	if g.journal != nil {
		g.journal.Record(op, path, ok, message)
	}
}

// resolveMessage maps resolver errors onto client visible text.
func (g *Gateway) resolveMessage(err error) string {
	switch {
	case errors.Is(err, vpath.ErrBadPath):
		return fmt.Sprintf("path must be in format: %s/...", g.resolver.Token())
	case errors.Is(err, vpath.ErrNoExtension):
		return "invalid file: no extension"
	case errors.Is(err, vpath.ErrUnsupportedType):
		return "unsupported file type"
	case errors.Is(err, vpath.ErrTraversal):
		return "path traversal not allowed"
	default:
		return "invalid path"
	}
}

// nodeLister adapts the node client for the listing aggregator, rewriting
// the namespace token to the owning node's own token.
type nodeLister struct {
	g *Gateway
}

func (l *nodeLister) List(ext, dirPath string) ([]string, error) {
	node, ok := l.g.table.Lookup(ext)
	if !ok {
		return nil, fmt.Errorf("no node for extension %q", ext)
	}
	rewritten, err := vpath.RewriteToken(dirPath, l.g.resolver.Token(), node.Token)
	if err != nil {
		return nil, err
	}
	return l.g.nodes.List(ext, rewritten)
}
