// Package routing holds the extension to storage node map. The table is built
// once at startup and read only afterwards, handlers receive it by reference.
package routing

import (
	"fmt"
	"sort"
)

// Node is a backend storage node owning exactly one file extension.
type Node struct {
	// Ext is the extension served by this node, without leading dot.
	Ext string
	// Token is the node's own namespace root, e.g. "~S2".
	Token string
	Host  string
	Port  int
}

func (n Node) Addr() string {
	return fmt.Sprintf("%s:%d", n.Host, n.Port)
}

// Table maps extensions to nodes. Rank order is the declaration order with
// the local extension first; it drives listing sort order.
type Table struct {
	localExt   string
	order      []string
	nodes      map[string]Node
	archivable map[string]bool
}

func New(localExt string, nodes []Node, archivable []string) (*Table, error) {
	if localExt == "" {
		return nil, fmt.Errorf("routing: local extension is empty")
	}
	t := &Table{
		localExt:   localExt,
		order:      []string{localExt},
		nodes:      make(map[string]Node, len(nodes)),
		archivable: make(map[string]bool, len(archivable)),
	}
	for _, n := range nodes {
		if n.Ext == "" || n.Ext == localExt {
			return nil, fmt.Errorf("routing: bad node extension %q", n.Ext)
		}
		if _, ok := t.nodes[n.Ext]; ok {
			return nil, fmt.Errorf("routing: duplicate node for extension %q", n.Ext)
		}
		t.nodes[n.Ext] = n
		t.order = append(t.order, n.Ext)
	}
	for _, ext := range archivable {
		if !t.Supported(ext) {
			return nil, fmt.Errorf("routing: archivable extension %q not in table", ext)
		}
		t.archivable[ext] = true
	}
	return t, nil
}

// LocalExt returns the single extension served from the gateway's own store.
func (t *Table) LocalExt() string {
	return t.localExt
}

func (t *Table) IsLocal(ext string) bool {
	return ext == t.localExt
}

func (t *Table) Supported(ext string) bool {
	if ext == t.localExt {
		return true
	}
	_, ok := t.nodes[ext]
	return ok
}

// Lookup returns the node owning ext. The local extension has no node.
func (t *Table) Lookup(ext string) (Node, bool) {
	n, ok := t.nodes[ext]
	return n, ok
}

// Rank returns the sort rank of ext in declaration order, local first.
// Unknown extensions sort last.
func (t *Table) Rank(ext string) int {
	for i, e := range t.order {
		if e == ext {
			return i
		}
	}
	return len(t.order)
}

// Exts returns all supported extensions in rank order.
func (t *Table) Exts() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// RemoteExts returns the forwarded extensions in rank order.
func (t *Table) RemoteExts() []string {
	return t.order[1:]
}

// Archivable reports whether downltar accepts ext.
func (t *Table) Archivable(ext string) bool {
	return t.archivable[ext]
}

// ArchivableExts returns the archive capable set in rank order, for messages.
func (t *Table) ArchivableExts() []string {
	out := make([]string, 0, len(t.archivable))
	for ext := range t.archivable {
		out = append(out, ext)
	}
	sort.Slice(out, func(i, j int) bool { return t.Rank(out[i]) < t.Rank(out[j]) })
	return out
}
