// Package vpath maps client visible virtual paths rooted at the gateway's
// namespace token onto either the local store or an unmodified path forwarded
// to a storage node. Forwarded paths keep the gateway token on purpose: each
// node rewrites the prefix against its own root and stays ignorant of the
// gateway's local layout.
package vpath

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/distfs/gateway/gateway/routing"
)

var (
	ErrBadPath         = errors.New("vpath: path must start with the namespace token")
	ErrNoExtension     = errors.New("vpath: file has no extension")
	ErrUnsupportedType = errors.New("vpath: unsupported file type")
	ErrTraversal       = errors.New("vpath: path traversal not allowed")
)

// Resolved is the routing decision for one virtual path.
type Resolved struct {
	Ext     string
	IsLocal bool
	// LocalPath is the absolute on disk path, set only when IsLocal.
	LocalPath string
	// ForwardPath is the original virtual path, verbatim, set when remote.
	ForwardPath string
}

type Resolver struct {
	token     string
	localRoot string
	table     *routing.Table
}

func New(token, localRoot string, table *routing.Table) *Resolver {
	return &Resolver{token: token, localRoot: localRoot, table: table}
}

// Token returns the gateway's namespace token.
func (r *Resolver) Token() string {
	return r.token
}

// LocalRoot returns the root of the gateway's own store.
func (r *Resolver) LocalRoot() string {
	return r.localRoot
}

// Resolve decides local versus remote for a file path.
func (r *Resolver) Resolve(path string) (Resolved, error) {
	rel, err := splitToken(path, r.token)
	if err != nil {
		return Resolved{}, err
	}
	if rel == "" {
		return Resolved{}, ErrBadPath
	}
	if err := checkTraversal(rel); err != nil {
		return Resolved{}, err
	}
	ext, err := extension(rel)
	if err != nil {
		return Resolved{}, err
	}
	if !r.table.Supported(ext) {
		return Resolved{}, ErrUnsupportedType
	}
	if r.table.IsLocal(ext) {
		return Resolved{
			Ext:       ext,
			IsLocal:   true,
			LocalPath: filepath.Join(r.localRoot, filepath.FromSlash(rel)),
		}, nil
	}
	return Resolved{Ext: ext, ForwardPath: path}, nil
}

// ResolveDir validates a directory path and returns its location under the
// local root. Directories carry no extension.
func (r *Resolver) ResolveDir(path string) (string, error) {
	rel, err := splitToken(path, r.token)
	if err != nil {
		return "", err
	}
	if err := checkTraversal(rel); err != nil {
		return "", err
	}
	return filepath.Join(r.localRoot, filepath.FromSlash(rel)), nil
}

// Rewrite maps a token prefixed path onto root. Shared by the storage node,
// which applies it against its own token and root.
func Rewrite(path, token, root string) (string, error) {
	rel, err := splitToken(path, token)
	if err != nil {
		return "", err
	}
	if err := checkTraversal(rel); err != nil {
		return "", err
	}
	return filepath.Join(root, filepath.FromSlash(rel)), nil
}

// RewriteToken swaps the namespace token, used when forwarding list queries
// to a node that owns a different token.
func RewriteToken(path, oldToken, newToken string) (string, error) {
	rel, err := splitToken(path, oldToken)
	if err != nil {
		return "", err
	}
	if rel == "" {
		return newToken, nil
	}
	return newToken + "/" + rel, nil
}

// splitToken strips the namespace token, returning the remainder without a
// leading slash. "~S1" and "~S1/" both yield "".
func splitToken(path, token string) (string, error) {
	if path == token {
		return "", nil
	}
	if !strings.HasPrefix(path, token+"/") {
		return "", ErrBadPath
	}
	return strings.TrimPrefix(path[len(token)+1:], "/"), nil
}

// checkTraversal rejects any segment containing "..". Rejection is explicit
// on every operation, not left to path cleaning.
func checkTraversal(rel string) error {
	for _, seg := range strings.Split(rel, "/") {
		if strings.Contains(seg, "..") {
			return ErrTraversal
		}
	}
	return nil
}

// extension returns the suffix after the final dot of the last segment.
func extension(rel string) (string, error) {
	segs := strings.Split(rel, "/")
	name := segs[len(segs)-1]
	dot := strings.LastIndex(name, ".")
	if dot < 0 || dot == len(name)-1 {
		return "", ErrNoExtension
	}
	if dot == 0 {
		// dotfiles like ".c" have no basename, treat as extension only
		return name[1:], nil
	}
	return name[dot+1:], nil
}
