// Package listing aggregates directory listings from the local store and all
// storage nodes and merges them into one deterministic order.
package listing

import (
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/distfs/gateway/gateway/routing"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Entry is one merged listing row, alive only until the response is sent.
type Entry struct {
	Name string
	Ext  string
}

// Lister fetches the filenames a single node reports for a directory. The
// gateway adapter rewrites the namespace token before the query goes out.
type Lister interface {
	List(ext, dirPath string) ([]string, error)
}

type Aggregator struct {
	table  *routing.Table
	lister Lister
	log    *zap.SugaredLogger
}

func NewAggregator(table *routing.Table, lister Lister, log *zap.SugaredLogger) *Aggregator {
	return &Aggregator{table: table, lister: lister, log: log}
}

// Collect scans localDir for local extension files and queries every remote
// node for dirPath in parallel. A node that is unreachable or empty
// contributes nothing; that is not an error for the overall listing.
func (a *Aggregator) Collect(dirPath, localDir string) ([]Entry, error) {
	entries, err := ScanLocal(localDir, a.table.LocalExt())
	if err != nil {
		return nil, err
	}
	var mu sync.Mutex
	g := &errgroup.Group{}
	for _, ext := range a.table.RemoteExts() {
		ext := ext
		g.Go(func() error {
			names, err := a.lister.List(ext, dirPath)
			if err != nil {
				a.log.Debugf("list %s node skipped: %v", ext, err)
				return nil
			}
			mu.Lock()
			for _, name := range names {
				entries = append(entries, Entry{Name: name, Ext: ext})
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return Merge(entries, a.table), nil
}

// ScanLocal returns the regular files in dir carrying ext. A missing
// directory is an empty listing, not an error.
func ScanLocal(dir, ext string) ([]Entry, error) {
	items, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var entries []Entry
	for _, item := range items {
		if item.IsDir() {
			continue
		}
		if strings.HasSuffix(item.Name(), "."+ext) {
			entries = append(entries, Entry{Name: item.Name(), Ext: ext})
		}
	}
	return entries, nil
}

// Merge sorts entries by extension rank in table declaration order, then by
// name, bytewise ascending. The sort is stable so identical inputs always
// produce identical output.
func Merge(entries []Entry, table *routing.Table) []Entry {
	sort.SliceStable(entries, func(i, j int) bool {
		ri, rj := table.Rank(entries[i].Ext), table.Rank(entries[j].Ext)
		if ri != rj {
			return ri < rj
		}
		return entries[i].Name < entries[j].Name
	})
	return entries
}
