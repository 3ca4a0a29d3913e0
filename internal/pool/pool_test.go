package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joshu-sajeev/resumeflow/internal/config"
	"github.com/joshu-sajeev/resumeflow/internal/queue"
	"github.com/joshu-sajeev/resumeflow/internal/reconciler"
	"github.com/joshu-sajeev/resumeflow/internal/worker"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type countingReconciler struct {
	runs atomic.Int32
}

func (c *countingReconciler) Run(ctx context.Context) (reconciler.Report, error) {
	c.runs.Add(1)
	return reconciler.Report{}, nil
}

func TestWorkerPool_RunsReconcilerOnSchedule(t *testing.T) {
	cfg := &config.Config{
		MaxTotalAttempts:  6,
		MaxWorkers:        2,
		ReconcileInterval: 20 * time.Millisecond,
		AttemptTimeout:    time.Second,
	}
	rec := &countingReconciler{}

	p := NewWorkerPool(cfg, worker.Deps{}, queue.NewMemory(), rec, zap.NewNop())
	assert.Len(t, p.workers, 2)

	p.Start()
	assert.Eventually(t, func() bool { return rec.runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	p.Stop()

	after := rec.runs.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, rec.runs.Load(), "no passes after Stop")
}

// slowConsumer keeps working for a while after its context is cancelled.
type slowConsumer struct {
	finished atomic.Int32
}

func (s *slowConsumer) Consume(ctx context.Context, _ queue.Handler) error {
	<-ctx.Done()
	time.Sleep(30 * time.Millisecond)
	s.finished.Add(1)
	return nil
}

func TestWorkerPool_StopWaitsForWorkers(t *testing.T) {
	cfg := &config.Config{
		MaxTotalAttempts: 6,
		MaxWorkers:       3,
		AttemptTimeout:   time.Second,
	}
	c := &slowConsumer{}

	p := NewWorkerPool(cfg, worker.Deps{}, c, nil, zap.NewNop())
	p.Start()
	p.Stop()

	assert.Equal(t, int32(3), c.finished.Load())
}
