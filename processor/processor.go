// Package processor drives signal handling for the daemons: SIGINT/SIGTERM
// run the registered shutdown operations, SIGHUP the reload ones. Shutdown
// is bounded by a force exit timer.
package processor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const (
	Reload   = "reload"
	Shutdown = "shutdown"
)

type Processor struct {
	ForceShutdownTimeout time.Duration
	rChan                chan os.Signal
	shutOps              map[string]func() error
	reloadOps            map[string]func() error
	wg                   sync.WaitGroup
	log                  *zap.SugaredLogger
}

// New - creates new processor
func New(timeout time.Duration, log *zap.SugaredLogger) *Processor {
	return &Processor{
		ForceShutdownTimeout: timeout,
		rChan:                make(chan os.Signal),
		shutOps:              map[string]func() error{},
		reloadOps:            map[string]func() error{},
		log:                  log,
	}
}

// Run assigns signals and starts processing them
func (p *Processor) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	signal.Notify(p.rChan, syscall.SIGHUP)
	ctxReload, cancel := context.WithCancel(context.Background())
	p.wg.Add(2)
	go p.processReloadSignal(ctxReload, stop)
	go p.processStopSignal(ctx, cancel)
	return nil
}

// processReloadSignal runs reload operations on every SIGHUP
func (p *Processor) processReloadSignal(ctx context.Context, cancel context.CancelFunc) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			p.log.Infof("reload handler stopped")
			cancel()
			return
		case <-p.rChan:
			p.callProcess(p.reloadOps, Reload)
		}
	}
}

// processStopSignal runs shutdown operations once, with a force exit once
// ForceShutdownTimeout elapses
func (p *Processor) processStopSignal(ctx context.Context, cancel context.CancelFunc) {
	defer p.wg.Done()
	<-ctx.Done()
	tF := time.AfterFunc(p.ForceShutdownTimeout, func() {
		p.log.Warnf("shutdown did not finish within %d ms, forcing exit", p.ForceShutdownTimeout.Milliseconds())
		os.Exit(0)
	})
	defer tF.Stop()
	p.Shutdown()
	cancel()
}

// callProcess runs all operations registered for one process kind
func (p *Processor) callProcess(oper map[string]func() error, process string) {
	var wg sync.WaitGroup
	for key, op := range oper {
		wg.Add(1)
		oper := key
		operCall := op
		go func() {
			defer wg.Done()
			if err := operCall(); err != nil {
				p.log.Warnf("%s %s: failed (%s)", process, oper, err.Error())
				return
			}
			p.log.Infof("%s %s: succeeded", process, oper)
		}()
	}
	wg.Wait()
	p.log.Infof("%s sequence completed", process)
}

// Register registers a shutdown or reload operation
func (p *Processor) Register(process, operationName string, operationFunction func() error) error {
	switch process {
	case Shutdown:
		p.shutOps[operationName] = operationFunction
	case Reload:
		p.reloadOps[operationName] = operationFunction
	default:
		return fmt.Errorf("%s process unknown", process)
	}
	return nil
}

// Shutdown - runs all shutdown operations
func (p *Processor) Shutdown() {
	p.callProcess(p.shutOps, Shutdown)
}

func (p *Processor) Wait() {
	p.wg.Wait()
}
