package gateway

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/distfs/gateway/gateway/archive"
	"github.com/distfs/gateway/gateway/nodeclient"
	"github.com/distfs/gateway/gateway/wire"
)

const (
	msgStored       = "file stored successfully"
	msgDeleted      = "file deleted successfully"
	msgNotFound     = "file not found"
	msgNoPerm       = "permission denied"
	msgDeleteFailed = "file deletion failed"
	msgUnreachable  = "could not reach storage node"
	msgNoResponse   = "no response from storage node"
	msgNodeFailed   = "storage node error"
	msgStoreFailed  = "could not store file"
	msgNoFiles      = "no files to archive"
	msgTarFailed    = "archive creation failed"
)

// handleUpload serves uploadf. The body (size, bytes) always follows the
// command line on the wire, so a rejected upload still drains it to keep
// framing in sync. Returned errors are fatal to the connection.
func (g *Gateway) handleUpload(enc *wire.Encoder, dec *wire.Decoder, filename, destDir string) error {
	size, err := dec.ReadSize()
	if err != nil {
		return err
	}
	if size < 0 {
		return fmt.Errorf("negative upload size %d", size)
	}
	virtual := strings.TrimSuffix(destDir, "/") + "/" + filename
	res, rerr := g.resolver.Resolve(virtual)
	if rerr != nil {
		if err := dec.Drain(size); err != nil {
			return err
		}
		g.record("uploadf", virtual, false, g.resolveMessage(rerr))
		return enc.WriteError(g.resolveMessage(rerr))
	}
	if res.IsLocal {
		return g.uploadLocal(enc, dec, virtual, res.LocalPath, size)
	}
	ok, msg, err := g.nodes.Upload(res.Ext, res.ForwardPath, size, dec.Body(size))
	if err != nil {
		if errors.Is(err, nodeclient.ErrUnreachable) {
			// body not consumed yet, the dial happens first
			if err := dec.Drain(size); err != nil {
				return err
			}
			g.record("uploadf", virtual, false, msgUnreachable)
			return enc.WriteError(msgUnreachable)
		}
		// the node leg broke mid stream, client framing is unknown
		g.record("uploadf", virtual, false, msgNodeFailed)
		enc.WriteError(msgNodeFailed)
		return err
	}
	g.record("uploadf", virtual, ok, msg)
	if err := enc.WriteStatus(statusByte(ok)); err != nil {
		return err
	}
	return enc.WriteString(msg)
}

func (g *Gateway) uploadLocal(enc *wire.Encoder, dec *wire.Decoder, virtual, local string, size int64) error {
	if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
		if err := dec.Drain(size); err != nil {
			return err
		}
		g.record("uploadf", virtual, false, msgStoreFailed)
		return enc.WriteError(msgStoreFailed)
	}
	f, err := os.Create(local)
	if err != nil {
		if err := dec.Drain(size); err != nil {
			return err
		}
		g.record("uploadf", virtual, false, msgStoreFailed)
		return enc.WriteError(msgStoreFailed)
	}
	consumed, err := dec.StreamTo(f, size)
	if err != nil {
		f.Close()
		os.Remove(local)
		if errors.Is(err, wire.ErrShortRead) {
			return err
		}
		if err := dec.Drain(size - consumed); err != nil {
			return err
		}
		g.record("uploadf", virtual, false, msgStoreFailed)
		return enc.WriteError(msgStoreFailed)
	}
	if err := f.Close(); err != nil {
		os.Remove(local)
		g.record("uploadf", virtual, false, msgStoreFailed)
		return enc.WriteError(msgStoreFailed)
	}
	g.log.Infof("stored %s (%d bytes)", local, size)
	g.mirrorPut(local)
	g.record("uploadf", virtual, true, msgStored)
	return enc.WriteOK(msgStored)
}

// handleDownload serves downlf. Remote payloads stream node to client in
// bounded chunks, the file is never held in memory.
func (g *Gateway) handleDownload(enc *wire.Encoder, path string) error {
	res, rerr := g.resolver.Resolve(path)
	if rerr != nil {
		g.record("downlf", path, false, g.resolveMessage(rerr))
		return enc.WriteError(g.resolveMessage(rerr))
	}
	if res.IsLocal {
		f, err := os.Open(res.LocalPath)
		if err != nil {
			g.record("downlf", path, false, msgNotFound)
			return enc.WriteError(msgNotFound)
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil || info.IsDir() {
			g.record("downlf", path, false, msgNotFound)
			return enc.WriteError(msgNotFound)
		}
		if err := enc.WriteStatus(wire.StatusOK); err != nil {
			return err
		}
		if err := enc.WriteSize(info.Size()); err != nil {
			return err
		}
		g.record("downlf", path, true, "")
		return enc.StreamFrom(f, info.Size())
	}
	stream, err := g.nodes.Download(res.Ext, res.ForwardPath)
	if err != nil {
		msg := g.nodeMessage(err)
		g.record("downlf", path, false, msg)
		return enc.WriteError(msg)
	}
	defer stream.Close()
	if err := enc.WriteStatus(wire.StatusOK); err != nil {
		return err
	}
	if err := enc.WriteSize(stream.Size); err != nil {
		return err
	}
	g.record("downlf", path, true, "")
	return enc.StreamFrom(stream, stream.Size)
}

// handleRemove serves removef. Local OS errors map onto distinct messages,
// a node's response pair is relayed verbatim.
func (g *Gateway) handleRemove(enc *wire.Encoder, path string) error {
	res, rerr := g.resolver.Resolve(path)
	if rerr != nil {
		g.record("removef", path, false, g.resolveMessage(rerr))
		return enc.WriteError(g.resolveMessage(rerr))
	}
	if res.IsLocal {
		if err := os.Remove(res.LocalPath); err != nil {
			msg := msgDeleteFailed
			switch {
			case os.IsNotExist(err):
				msg = msgNotFound
			case os.IsPermission(err):
				msg = msgNoPerm
			}
			g.record("removef", path, false, msg)
			return enc.WriteError(msg)
		}
		g.log.Infof("removed %s", res.LocalPath)
		g.mirrorDelete(res.LocalPath)
		g.record("removef", path, true, msgDeleted)
		return enc.WriteOK(msgDeleted)
	}
	ok, msg, err := g.nodes.Remove(res.Ext, res.ForwardPath)
	if err != nil {
		out := msgNoResponse
		if errors.Is(err, nodeclient.ErrUnreachable) {
			out = msgUnreachable
		}
		g.record("removef", path, false, out)
		return enc.WriteError(out)
	}
	g.record("removef", path, ok, msg)
	if err := enc.WriteStatus(statusByte(ok)); err != nil {
		return err
	}
	return enc.WriteString(msg)
}

// handleTar serves downltar. Only the archive capable extensions are
// accepted; anything else is rejected before touching disk or network.
func (g *Gateway) handleTar(enc *wire.Encoder, typeToken string) error {
	ext := strings.TrimPrefix(typeToken, ".")
	if !g.table.Archivable(ext) {
		msg := fmt.Sprintf("invalid filetype (use: %s)", strings.Join(g.table.ArchivableExts(), ", "))
		g.record("downltar", ext, false, msg)
		return enc.WriteError(msg)
	}
	if g.table.IsLocal(ext) {
		return g.tarLocal(enc, ext)
	}
	stream, err := g.nodes.Archive(ext, ext)
	if err != nil {
		msg := g.nodeMessage(err)
		g.record("downltar", ext, false, msg)
		return enc.WriteError(msg)
	}
	defer stream.Close()
	if err := enc.WriteStatus(wire.StatusOK); err != nil {
		return err
	}
	if err := enc.WriteSize(stream.Size); err != nil {
		return err
	}
	g.record("downltar", ext, true, "")
	return enc.StreamFrom(stream, stream.Size)
}

func (g *Gateway) tarLocal(enc *wire.Encoder, ext string) error {
	files, err := archive.ListMatching(g.resolver.LocalRoot(), ext)
	if err != nil {
		g.record("downltar", ext, false, msgTarFailed)
		return enc.WriteError(msgTarFailed)
	}
	res, err := archive.Build(g.resolver.LocalRoot(), files)
	if err != nil {
		msg := msgTarFailed
		if errors.Is(err, archive.ErrNoFiles) {
			msg = msgNoFiles
		}
		g.record("downltar", ext, false, msg)
		return enc.WriteError(msg)
	}
	defer res.Cleanup()
	f, err := os.Open(res.Path)
	if err != nil {
		g.record("downltar", ext, false, msgTarFailed)
		return enc.WriteError(msgTarFailed)
	}
	defer f.Close()
	if err := enc.WriteStatus(wire.StatusOK); err != nil {
		return err
	}
	if err := enc.WriteSize(res.Size); err != nil {
		return err
	}
	g.record("downltar", ext, true, "")
	return enc.StreamFrom(f, res.Size)
}

// handleList serves dispfnames: local scan plus a fan out to every node,
// merged into extension rank order then name order.
func (g *Gateway) handleList(enc *wire.Encoder, dir string) error {
	localDir, rerr := g.resolver.ResolveDir(dir)
	if rerr != nil {
		g.record("dispfnames", dir, false, g.resolveMessage(rerr))
		return enc.WriteError(g.resolveMessage(rerr))
	}
	entries, err := g.agg.Collect(dir, localDir)
	if err != nil {
		g.record("dispfnames", dir, false, "could not read directory")
		return enc.WriteError("could not read directory")
	}
	if err := enc.WriteStatus(wire.StatusOK); err != nil {
		return err
	}
	if err := enc.WriteCount(uint32(len(entries))); err != nil {
		return err
	}
	for _, entry := range entries {
		if err := enc.WriteString(entry.Name); err != nil {
			return err
		}
	}
	g.record("dispfnames", dir, true, fmt.Sprintf("%d entries", len(entries)))
	return nil
}

// nodeMessage maps node leg failures onto the client visible message.
func (g *Gateway) nodeMessage(err error) string {
	var ne *nodeclient.NodeError
	switch {
	case errors.As(err, &ne):
		return ne.Msg
	case errors.Is(err, nodeclient.ErrUnreachable):
		return msgUnreachable
	default:
		return msgNodeFailed
	}
}

func (g *Gateway) mirrorPut(local string) {
	if g.mirror == nil {
		return
	}
	key, err := g.mirrorKey(local)
	if err != nil {
		return
	}
	f, err := os.Open(local)
	if err != nil {
		g.log.Warnf("mirror open %s: %v", local, err)
		return
	}
	defer f.Close()
	if err := g.mirror.Put(key, f); err != nil {
		g.log.Warnf("mirror put %s: %v", key, err)
	}
}

func (g *Gateway) mirrorDelete(local string) {
	if g.mirror == nil {
		return
	}
	key, err := g.mirrorKey(local)
	if err != nil {
		return
	}
	if err := g.mirror.Delete(key); err != nil {
		g.log.Warnf("mirror delete %s: %v", key, err)
	}
}

func (g *Gateway) mirrorKey(local string) (string, error) {
	rel, err := filepath.Rel(g.resolver.LocalRoot(), local)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

func statusByte(ok bool) byte {
	if ok {
		return wire.StatusOK
	}
	return wire.StatusFail
}
