package pool

import (
	"context"
	"sync"
	"time"

	"github.com/joshu-sajeev/resumeflow/internal/config"
	"github.com/joshu-sajeev/resumeflow/internal/queue"
	"github.com/joshu-sajeev/resumeflow/internal/reconciler"
	"github.com/joshu-sajeev/resumeflow/internal/worker"
	"go.uber.org/zap"
)

// Reconciler runs one orphan recovery pass.
type Reconciler interface {
	Run(ctx context.Context) (reconciler.Report, error)
}

type WorkerPool struct {
	workers    []*worker.Worker
	consumer   queue.Consumer
	reconciler Reconciler
	interval   time.Duration
	log        *zap.Logger
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
}

func NewWorkerPool(cfg *config.Config, deps worker.Deps, consumer queue.Consumer, rec Reconciler, log *zap.Logger) *WorkerPool {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &WorkerPool{
		consumer:   consumer,
		reconciler: rec,
		interval:   cfg.ReconcileInterval,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
	}

	for i := 1; i <= cfg.MaxWorkers; i++ {
		p.workers = append(p.workers, worker.NewWorker(i, deps, cfg))
	}
	return p
}

func (p *WorkerPool) Start() {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.Run(p.ctx, p.consumer)
		}()
	}

	if p.reconciler != nil {
		p.wg.Add(1)
		go p.janitor()
	}

	p.log.Info("worker pool started", zap.Int("workers", len(p.workers)), zap.Duration("reconcile_interval", p.interval))
}

// janitor runs orphan recovery once at startup and then on every tick.
func (p *WorkerPool) janitor() {
	defer p.wg.Done()

	p.reconcile()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.reconcile()
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *WorkerPool) reconcile() {
	if _, err := p.reconciler.Run(p.ctx); err != nil && p.ctx.Err() == nil {
		p.log.Error("reconcile pass failed", zap.Error(err))
	}
}

// Stop cancels consumption and waits for every worker to resolve the delivery
// it holds, so the caller may close the stores afterwards.
func (p *WorkerPool) Stop() {
	p.cancel()
	for _, w := range p.workers {
		w.Stop()
	}
	p.wg.Wait()
	p.log.Info("worker pool stopped")
}
