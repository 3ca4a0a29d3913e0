package scenario

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joshu-sajeev/resumeflow/common"
	"github.com/joshu-sajeev/resumeflow/internal/config"
	"github.com/joshu-sajeev/resumeflow/internal/job"
	"github.com/joshu-sajeev/resumeflow/internal/models"
	"github.com/joshu-sajeev/resumeflow/internal/parser"
	"github.com/joshu-sajeev/resumeflow/internal/queue"
	"github.com/joshu-sajeev/resumeflow/internal/reconciler"
	"github.com/joshu-sajeev/resumeflow/internal/retry"
	"github.com/joshu-sajeev/resumeflow/internal/storage/objectstore"
	"github.com/joshu-sajeev/resumeflow/internal/storage/postgres"
	"github.com/joshu-sajeev/resumeflow/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const validResume = `{"basics":{"name":"Ada Lovelace","email":"ada@example.com"},` +
	`"work":[{"company":"Analytical Engines","position":"Engineer"}],` +
	`"education":[],"skills":[{"name":"Mathematics"}]}`

// plainText treats the stored bytes as already extracted text.
type plainText struct{}

func (plainText) Extract(data []byte) (string, error) { return string(data), nil }

// pipeline wires the real service, worker and reconciler against sqlite,
// the in-memory blob store and the in-memory queue.
type pipeline struct {
	db         *gorm.DB
	repo       *postgres.JobRepository
	blobs      *objectstore.MemoryStore
	queue      *queue.Memory
	service    *job.JobService
	worker     *worker.Worker
	reconciler *reconciler.Reconciler

	// parserDown makes the parser API answer 502 while set
	parserDown  atomic.Bool
	// parserHang holds requests open until the caller gives up
	parserHang  atomic.Bool
	parserCalls atomic.Int32
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.ResumeJob{}, &models.ResumeResult{}))

	p := &pipeline{
		db:    db,
		repo:  postgres.NewJobRepository(db),
		blobs: objectstore.NewMemoryStore(),
		queue: queue.NewMemory(),
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.parserCalls.Add(1)
		if p.parserDown.Load() {
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}
		if p.parserHang.Load() {
			<-r.Context().Done()
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": validResume}}},
		})
	}))
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		MaxTotalAttempts:  6,
		MaxManualRetries:  2,
		MaxAutoRetries:    1,
		OrphanGracePeriod: 5 * time.Minute,
		OrphanBatchSize:   10,
		StaleQueuedAfter:  30 * time.Minute,
		AttemptTimeout:    5 * time.Second,
		MaxUploadBytes:    1 << 20,
		DedupScope:        config.DedupScopeOwner,
		Parser: config.ParserConfig{
			BaseURL:          srv.URL + "/v1",
			Model:            "test-model",
			Timeout:          2 * time.Second,
			BreakerFailures:  100,
			BreakerOpenDelay: time.Minute,
		},
	}

	log := zap.NewNop()
	p.service = job.NewJobService(p.repo, p.blobs, p.queue, nil, cfg, log)
	p.worker = worker.NewWorker(1, worker.Deps{
		Repo:      p.repo,
		Blobs:     p.blobs,
		Extractor: plainText{},
		Parser:    parser.NewClient(cfg.Parser, log),
		Publisher: p.queue,
		Log:       log,
	}, cfg)
	p.reconciler = reconciler.New(p.repo, p.queue, nil, cfg, log)
	return p
}

func (p *pipeline) drain(t *testing.T) {
	t.Helper()
	require.NoError(t, p.queue.Drain(context.Background(), p.worker.Handle))
}

func apiStatus(t *testing.T, err error) common.APIError {
	t.Helper()
	var apiErr common.APIError
	require.True(t, errors.As(err, &apiErr), "expected APIError, got %v", err)
	return apiErr
}

func TestPipeline_UploadProcessesAndDeduplicates(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	resume := []byte("Ada Lovelace, Engineer at Analytical Engines")

	first, err := p.service.Upload(ctx, "owner-1", "cv.pdf", resume)
	require.NoError(t, err)
	assert.Equal(t, config.JobStatusQueued, first.Status)
	assert.False(t, first.Deduplicated)
	require.Len(t, p.queue.Published(), 1)
	assert.Equal(t, 1, p.queue.Published()[0].AttemptNumber)

	p.drain(t)

	status, err := p.service.GetStatus(ctx, first.JobID)
	require.NoError(t, err)
	assert.Equal(t, config.JobStatusCompleted, status.Status)
	assert.Equal(t, 1, status.TotalAttempts)

	second, err := p.service.Upload(ctx, "owner-1", "cv-again.pdf", resume)
	require.NoError(t, err)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, config.JobStatusCompleted, second.Status)
	assert.NotEqual(t, first.JobID, second.JobID)

	assert.Len(t, p.queue.Published(), 1, "a dedup hit publishes nothing")
	assert.Zero(t, p.queue.Pending())
	assert.EqualValues(t, 1, p.parserCalls.Load())

	res, err := p.service.GetResult(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, second.JobID, res.JobID)
	assert.Contains(t, string(res.Data), "Ada Lovelace")

	// another owner with the same bytes is processed on its own
	other, err := p.service.Upload(ctx, "owner-2", "cv.pdf", resume)
	require.NoError(t, err)
	assert.False(t, other.Deduplicated)
	assert.Len(t, p.queue.Published(), 2)
}

func TestPipeline_ClaimEnqueuesExactlyOnce(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	resp, err := p.service.Upload(ctx, "owner-1", "cv.pdf", []byte("some resume text"))
	require.NoError(t, err)

	j, err := p.repo.Get(ctx, resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, config.JobStatusQueued, j.Status)
	assert.Equal(t, 1, j.TotalAttempts)

	// an already queued job is not an orphan, even once it is old
	require.NoError(t, p.db.Model(&models.ResumeJob{}).
		Where("id = ?", resp.JobID).
		Update("created_at", time.Now().Add(-time.Hour)).Error)

	rep, err := p.reconciler.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Candidates)

	msgs := p.queue.Published()
	require.Len(t, msgs, 1)
	assert.Equal(t, resp.JobID, msgs[0].JobID)

	p.drain(t)

	// a redelivery of the same attempt is ignored
	require.NoError(t, p.worker.Handle(ctx, msgs[0]))
	assert.EqualValues(t, 1, p.parserCalls.Load())
}

func TestPipeline_ReconcilerRepairsOrphan(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	// a claim that died between the insert and the publish
	content := []byte("orphaned resume text")
	key := "resumes/owner-1/orphan.pdf"
	require.NoError(t, p.blobs.Put(ctx, key, content))
	require.NoError(t, p.repo.Create(ctx, &models.ResumeJob{
		ID:          "orphan-1",
		OwnerID:     "owner-1",
		StorageKey:  key,
		ContentHash: "2c26b46b68ffc68ff99b453c1d30413413422d706483bfa0f98a5e886266e7ae",
		Status:      config.JobStatusPendingClaim,
	}))

	rep, err := p.reconciler.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Candidates, "young orphans are left alone")

	require.NoError(t, p.db.Model(&models.ResumeJob{}).
		Where("id = ?", "orphan-1").
		Update("created_at", time.Now().Add(-time.Hour)).Error)

	rep, err = p.reconciler.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Published)
	assert.EqualValues(t, 1, rep.Recovered)

	p.drain(t)

	j, err := p.repo.Get(ctx, "orphan-1")
	require.NoError(t, err)
	assert.Equal(t, config.JobStatusCompleted, j.Status)
	assert.Equal(t, 1, j.TotalAttempts)

	rep, err = p.reconciler.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Candidates)
	assert.Len(t, p.queue.Published(), 1)
}

func TestPipeline_ShutdownLeavesAttemptForRedelivery(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	p.parserHang.Store(true)

	resp, err := p.service.Upload(ctx, "owner-1", "cv.pdf", []byte("resume text"))
	require.NoError(t, err)
	msgs := p.queue.Published()
	require.Len(t, msgs, 1)

	shutdown, cancel := context.WithCancel(ctx)
	time.AfterFunc(200*time.Millisecond, cancel)
	err = p.worker.Handle(shutdown, msgs[0])
	require.ErrorIs(t, err, context.Canceled)

	status, err := p.service.GetStatus(ctx, resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, config.JobStatusQueued, status.Status)
	assert.Empty(t, status.ErrorType)
	assert.Equal(t, 1, status.TotalAttempts)

	// the broker hands the same attempt to the next worker
	p.parserHang.Store(false)
	p.drain(t)

	status, err = p.service.GetStatus(ctx, resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, config.JobStatusCompleted, status.Status)
	assert.Equal(t, 1, status.TotalAttempts)
	assert.Len(t, p.queue.Published(), 1)
}

func TestPipeline_ReconcilerRepublishesLostRetry(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	p.parserDown.Store(true)

	resp, err := p.service.Upload(ctx, "owner-1", "cv.pdf", []byte("resume text"))
	require.NoError(t, err)
	p.drain(t)

	// a retry whose process died after the queued write, before the publish
	before, err := p.repo.Get(ctx, resp.JobID)
	require.NoError(t, err)
	require.Equal(t, config.JobStatusFailed, before.Status)
	queuedAt := time.Now().Add(-time.Hour)
	require.NoError(t, p.db.Model(&models.ResumeJob{}).
		Where("id = ?", resp.JobID).
		Updates(map[string]any{
			"status":         config.JobStatusQueued,
			"retry_count":    1,
			"total_attempts": before.TotalAttempts + 1,
			"queued_at":      queuedAt,
		}).Error)
	published := len(p.queue.Published())

	p.parserDown.Store(false)
	rep, err := p.reconciler.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Republished)

	msgs := p.queue.Published()
	require.Len(t, msgs, published+1)
	assert.Equal(t, before.TotalAttempts+1, msgs[len(msgs)-1].AttemptNumber)

	p.drain(t)

	j, err := p.repo.Get(ctx, resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, config.JobStatusCompleted, j.Status)
	assert.Equal(t, before.TotalAttempts+1, j.TotalAttempts)
	assert.Equal(t, 1, j.RetryCount)

	rep, err = p.reconciler.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Stale)
}

func TestPipeline_ManualRetryBudget(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	p.parserDown.Store(true)

	resp, err := p.service.Upload(ctx, "owner-1", "cv.pdf", []byte("resume text"))
	require.NoError(t, err)

	// attempt 1 fails and one automatic retry runs
	p.drain(t)
	status, err := p.service.GetStatus(ctx, resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, config.JobStatusFailed, status.Status)
	assert.Equal(t, config.ErrorTypeParserUnavailable, status.ErrorType)
	assert.Equal(t, 2, status.TotalAttempts)
	assert.True(t, status.CanRetry)

	for i := 1; i <= 2; i++ {
		rr, err := p.service.Retry(ctx, resp.JobID)
		require.NoError(t, err)
		assert.Equal(t, i, rr.RetryCount)
		p.drain(t)
	}

	before, err := p.repo.Get(ctx, resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, 2, before.RetryCount)
	assert.Equal(t, 4, before.TotalAttempts)

	_, err = p.service.Retry(ctx, resp.JobID)
	apiErr := apiStatus(t, err)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
	assert.Equal(t, retry.ReasonBudgetExceeded, apiErr.Fields["reason"])

	after, err := p.repo.Get(ctx, resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, before.RetryCount, after.RetryCount)
	assert.Equal(t, before.TotalAttempts, after.TotalAttempts)
	assert.Equal(t, config.JobStatusFailed, after.Status)
	assert.Len(t, p.queue.Published(), 4)

	// the parser recovering does not reopen an exhausted job
	p.parserDown.Store(false)
	_, err = p.service.Retry(ctx, resp.JobID)
	assert.Error(t, err)
}

func TestPipeline_PermanentFailureLocksJob(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	resp, err := p.service.Upload(ctx, "owner-1", "cv.pdf", []byte("resume text"))
	require.NoError(t, err)

	// bytes vanish before the worker gets to them
	j, err := p.repo.Get(ctx, resp.JobID)
	require.NoError(t, err)
	require.NoError(t, p.blobs.Delete(ctx, j.StorageKey))

	p.drain(t)

	status, err := p.service.GetStatus(ctx, resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, config.JobStatusFailed, status.Status)
	assert.Equal(t, config.ErrorTypeFileMissing, status.ErrorType)
	assert.False(t, status.CanRetry)
	assert.Len(t, p.queue.Published(), 1, "permanent failures are not retried automatically")

	_, err = p.service.Retry(ctx, resp.JobID)
	apiErr := apiStatus(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	assert.Equal(t, retry.ReasonPermanentError, apiErr.Fields["reason"])
	assert.Len(t, p.queue.Published(), 1)
}

func TestPipeline_DeleteOwnerRemovesEverything(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	resp, err := p.service.Upload(ctx, "owner-1", "cv.pdf", []byte("resume text"))
	require.NoError(t, err)
	p.drain(t)
	require.Equal(t, 1, p.blobs.Len())

	require.NoError(t, p.service.DeleteOwner(ctx, "owner-1"))

	assert.Zero(t, p.blobs.Len())
	_, err = p.service.GetStatus(ctx, resp.JobID)
	assert.Equal(t, http.StatusNotFound, apiStatus(t, err).Status)
	_, err = p.service.GetResult(ctx, "owner-1")
	assert.Equal(t, http.StatusNotFound, apiStatus(t, err).Status)
}
