// Package worker wraps the gateway lifecycle: it wires the signal processor,
// runs the accept loop and periodically logs resource usage of the local
// store and the daemon process.
package worker

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jinzhu/copier"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/distfs/gateway/gateway"
	"github.com/distfs/gateway/gateway/config"
	"github.com/distfs/gateway/processor"
)

const resourceLogInterval = time.Minute

type Worker struct {
	active bool
	sync.RWMutex
	Processor *processor.Processor
	gw        *gateway.Gateway
	log       *zap.SugaredLogger
	cfg       *config.Config
	quit      chan struct{}
	done      sync.WaitGroup
}

func New(cfg *config.Config, log *zap.SugaredLogger) (*Worker, error) {
	w := &Worker{
		log:  log,
		cfg:  &config.Config{},
		quit: make(chan struct{}),
	}
	if err := copier.Copy(&w.cfg, cfg); err != nil {
		return nil, err
	}
	gw, err := gateway.New(w.cfg, w.log)
	if err != nil {
		return nil, err
	}
	w.gw = gw
	return w, nil
}

func (w *Worker) Start() error {
	w.Lock()
	defer w.Unlock()
	if w.active {
		return fmt.Errorf("Worker already active")
	}
	w.active = true
	w.Processor = processor.New(w.cfg.ShutdownTimeout, w.log)
	if err := w.Processor.Register(processor.Shutdown, "gateway", w.Stop); err != nil {
		return err
	}
	w.done.Add(2)
	go func() {
		defer w.done.Done()
		if err := w.gw.ListenAndServe(); err != nil {
			w.log.Errorf("gateway serve: %v", err)
		}
	}()
	go w.resourceLoop()
	return w.Processor.Run()
}

// Stop closes the gateway and stops the resource loop.
func (w *Worker) Stop() error {
	close(w.quit)
	err := w.gw.Close()
	w.done.Wait()
	return err
}

// resourceLoop logs local store disk usage and process memory once a minute.
func (w *Worker) resourceLoop() {
	defer w.done.Done()
	ticker := time.NewTicker(resourceLogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.quit:
			return
		case <-ticker.C:
			w.logResources()
		}
	}
}

func (w *Worker) logResources() {
	if usage, err := disk.Usage(w.cfg.LocalRoot); err == nil {
		w.log.Infof("local store usage: %.1f%% of %d bytes", usage.UsedPercent, usage.Total)
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := p.MemoryInfo(); err == nil {
			w.log.Debugf("gateway rss: %d bytes", mem.RSS)
		}
	}
}

func (w *Worker) Wait() {
	w.Processor.Wait()
}
