// Package journal keeps a persistent trail of every completed client command,
// one badger record per operation. The journal never influences request
// outcomes; a write failure is logged and the response still goes out.
package journal

import (
	badger "github.com/dgraph-io/badger/v3"
	"github.com/jacobsa/timeutil"
	"github.com/ztrue/tracerr"
	"go.uber.org/zap"

	"github.com/distfs/gateway/gateway/opseq"
	"github.com/distfs/gateway/utils"
)

type Journal struct {
	db    *badger.DB
	seq   *opseq.Engine
	clock timeutil.Clock
	log   *zap.SugaredLogger
}

func Open(dir string, seq *opseq.Engine, clock timeutil.Clock, log *zap.SugaredLogger) (*Journal, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, tracerr.Errorf("opening journal store failed: %w", err)
	}
	return &Journal{db: db, seq: seq, clock: clock, log: log}, nil
}

// Record journals one finished operation. Best effort by design.
func (j *Journal) Record(op, path string, ok bool, message string) {
	entry := &Entry{
		Seq:     j.seq.Next(),
		Op:      op,
		Path:    path,
		Message: message,
		OK:      ok,
		At:      j.clock.Now(),
	}
	err := j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(utils.Uint64ToBytes(entry.Seq), entry.Encode())
	})
	if err != nil {
		j.log.Warnf("journal %s %s: %v", op, path, err)
	}
}

// Recent returns up to n entries, newest first.
func (j *Journal) Recent(n int) ([]Entry, error) {
	var entries []Entry
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid() && len(entries) < n; it.Next() {
			item := it.Item()
			seq := utils.BytesToUint64(item.Key())
			err := item.Value(func(val []byte) error {
				var e Entry
				if err := e.Decode(val); err != nil {
					return err
				}
				e.Seq = seq
				entries = append(entries, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, tracerr.Wrap(err)
	}
	return entries, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}
