// Package opseq hands out the monotonic operation ids the journal records.
// The last issued id is persisted so ids keep growing across restarts.
package opseq

import (
	"sync"

	"github.com/distfs/gateway/utils"
	"github.com/nutsdb/nutsdb"
)

const bucket = "opseq"

var seqKey = []byte("last")

type Engine struct {
	db       *nutsdb.DB
	queue    chan uint64
	shutdown chan struct{}
	done     sync.WaitGroup
	mu       sync.Mutex
	last     uint64
}

func Open(dir string) (*Engine, error) {
	db, err := nutsdb.Open(nutsdb.DefaultOptions, nutsdb.WithDir(dir))
	if err != nil {
		return nil, err
	}
	e := &Engine{
		db:       db,
		queue:    make(chan uint64, 1024),
		shutdown: make(chan struct{}),
	}
	if err := e.load(); err != nil {
		db.Close()
		return nil, err
	}
	e.done.Add(1)
	go e.worker()
	return e, nil
}

func (e *Engine) load() error {
	tx, err := e.db.Begin(false)
	if err != nil {
		return err
	}
	defer tx.Commit()
	iterator := nutsdb.NewIterator(tx, bucket, nutsdb.IteratorOptions{Reverse: false})
	ok, err := iterator.SetNext()
	if err != nil {
		if nutsdb.IsBucketNotFound(err) {
			return nil
		}
		return err
	}
	for ok {
		last := utils.BytesToUint64(iterator.Entry().Value)
		if last > e.last {
			e.last = last
		}
		ok, err = iterator.SetNext()
		if err != nil {
			return err
		}
	}
	return nil
}

// Next returns the next operation id. Persistence happens off the request
// path; a crash may reissue the tail id which is harmless for journal keys.
func (e *Engine) Next() uint64 {
	e.mu.Lock()
	e.last++
	seq := e.last
	e.mu.Unlock()
	e.queue <- seq
	return seq
}

// Last returns the most recently issued id.
func (e *Engine) Last() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

func (e *Engine) worker() {
	defer e.done.Done()
	for {
		select {
		case seq := <-e.queue:
			e.persist(seq)
		case <-e.shutdown:
			for {
				select {
				case seq := <-e.queue:
					e.persist(seq)
				default:
					return
				}
			}
		}
	}
}

func (e *Engine) persist(seq uint64) {
	e.db.Update(func(tx *nutsdb.Tx) error {
		return tx.Put(bucket, seqKey, utils.Uint64ToBytes(seq), nutsdb.Persistent)
	})
}

func (e *Engine) Close() error {
	close(e.shutdown)
	e.done.Wait()
	return e.db.Close()
}
