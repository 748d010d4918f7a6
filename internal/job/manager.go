package job

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/marker-splitter/internal/audio"
	"github.com/skypro1111/marker-splitter/internal/metrics"
	"github.com/skypro1111/marker-splitter/internal/pipeline"
	"github.com/skypro1111/marker-splitter/internal/segment"
)

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("job manager stopped")

// Status is the lifecycle state of a job
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusEmpty     Status = "empty" // finished without any segment
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Finished reports whether the status is terminal.
func (s Status) Finished() bool {
	switch s {
	case StatusDone, StatusEmpty, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Runner processes one encoded recording.
type Runner interface {
	Process(ctx context.Context, dec pipeline.Decoder, r io.Reader, name string) (*pipeline.Result, error)
}

// Job is one submitted recording and, once finished, its segments.
type Job struct {
	ID         string
	FileName   string
	Size       int
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time

	status Status
	err    error
	result *pipeline.Result

	cancel context.CancelFunc
	done   chan struct{}

	mu sync.RWMutex
}

// Info is a point-in-time snapshot of a job
type Info struct {
	ID             string               `json:"id"`
	FileName       string               `json:"file_name"`
	Size           int                  `json:"size_bytes"`
	Status         Status               `json:"status"`
	Error          string               `json:"error,omitempty"`
	Stage          string               `json:"stage,omitempty"`
	Retryable      bool                 `json:"retryable,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	StartedAt      *time.Time           `json:"started_at,omitempty"`
	FinishedAt     *time.Time           `json:"finished_at,omitempty"`
	SourceDuration float64              `json:"source_duration,omitempty"`
	Segments       []segment.Descriptor `json:"segments,omitempty"`
	Dropped        int                  `json:"dropped"`
}

// Status returns the current status
func (j *Job) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Err returns the failure, if any
func (j *Job) Err() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.err
}

// Result returns the pipeline result once the job is done or empty.
func (j *Job) Result() *pipeline.Result {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.result
}

// Done is closed when the job reaches a terminal status.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Segment returns the buffer for the given ordinal id.
func (j *Job) Segment(id int) (audio.SegmentBuffer, bool) {
	res := j.Result()
	if res == nil || id < 1 || id > len(res.Segments) {
		return audio.SegmentBuffer{}, false
	}
	buf := res.Segments[id-1]
	if buf.ID != id {
		return audio.SegmentBuffer{}, false
	}
	return buf, true
}

// Info returns a snapshot of the job
func (j *Job) Info() Info {
	j.mu.RLock()
	defer j.mu.RUnlock()

	info := Info{
		ID:        j.ID,
		FileName:  j.FileName,
		Size:      j.Size,
		Status:    j.status,
		CreatedAt: j.CreatedAt,
	}
	if !j.StartedAt.IsZero() {
		started := j.StartedAt
		info.StartedAt = &started
	}
	if !j.FinishedAt.IsZero() {
		finished := j.FinishedAt
		info.FinishedAt = &finished
	}
	if j.err != nil {
		info.Error = j.err.Error()
		info.Retryable = pipeline.IsRetryable(j.err)
		var stageErr *pipeline.StageError
		if errors.As(j.err, &stageErr) {
			info.Stage = stageErr.Stage
		}
	}
	if j.result != nil {
		info.SourceDuration = j.result.SourceDuration
		info.Segments = j.result.Descriptors()
		info.Dropped = len(j.result.Dropped)
	}
	return info
}

// ManagerConfig contains configuration for the job manager
type ManagerConfig struct {
	Retention      time.Duration
	CleanupPeriod  time.Duration
	CancelPrevious bool
}

// ManagerStats holds job counters
type ManagerStats struct {
	Submitted uint64 `json:"submitted"`
	Done      uint64 `json:"done"`
	Empty     uint64 `json:"empty"`
	Failed    uint64 `json:"failed"`
	Cancelled uint64 `json:"cancelled"`
	Active    int    `json:"active"`
	Stored    int    `json:"stored"`
}

// Manager runs submitted recordings through the pipeline in the background
// and keeps finished jobs for the retention period.
type Manager struct {
	jobs    map[string]*Job
	mu      sync.RWMutex
	logger  *slog.Logger
	config  ManagerConfig
	runner  Runner
	decoder pipeline.Decoder
	metrics *metrics.Metrics

	stats   ManagerStats
	stopped bool

	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup
	cleanup chan struct{}
}

// NewManager creates a job manager and starts its cleanup routine.
func NewManager(runner Runner, decoder pipeline.Decoder, config ManagerConfig, logger *slog.Logger, m *metrics.Metrics) (*Manager, error) {
	if runner == nil || decoder == nil {
		return nil, fmt.Errorf("runner and decoder are required")
	}
	if config.Retention <= 0 {
		config.Retention = time.Hour
	}
	if config.CleanupPeriod <= 0 {
		config.CleanupPeriod = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	mgr := &Manager{
		jobs:    make(map[string]*Job),
		logger:  logger.With(slog.String("component", "jobs")),
		config:  config,
		runner:  runner,
		decoder: decoder,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
		cleanup: make(chan struct{}),
	}

	go mgr.startCleanupRoutine()

	return mgr, nil
}

// Submit queues a recording for processing. With CancelPrevious set, any
// job still in flight is cancelled first.
func (m *Manager) Submit(name string, data []byte) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil, ErrStopped
	}

	if m.config.CancelPrevious {
		for _, j := range m.jobs {
			if !j.Status().Finished() {
				m.logger.Info("Cancelling previous job",
					slog.String("job_id", j.ID),
					slog.String("file", j.FileName),
				)
				j.cancel()
			}
		}
	}

	ctx, cancel := context.WithCancel(m.ctx)
	j := &Job{
		ID:        uuid.NewString(),
		FileName:  name,
		Size:      len(data),
		CreatedAt: time.Now(),
		status:    StatusPending,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	m.jobs[j.ID] = j
	m.stats.Submitted++
	m.metrics.RecordJobSubmitted()

	m.logger.Info("Job submitted",
		slog.String("job_id", j.ID),
		slog.String("file", name),
		slog.Int("size_bytes", len(data)),
	)

	m.workers.Add(1)
	go m.run(ctx, j, data)

	return j, nil
}

func (m *Manager) run(ctx context.Context, j *Job, data []byte) {
	defer m.workers.Done()
	defer j.cancel()

	j.mu.Lock()
	j.status = StatusRunning
	j.StartedAt = time.Now()
	j.mu.Unlock()

	result, err := m.runner.Process(ctx, m.decoder, bytes.NewReader(data), j.FileName)

	var status Status
	switch {
	case err != nil && ctx.Err() != nil:
		status = StatusCancelled
	case err != nil:
		status = StatusFailed
	case result.Empty():
		status = StatusEmpty
	default:
		status = StatusDone
	}

	j.mu.Lock()
	j.status = status
	j.err = err
	if err == nil {
		j.result = result
	}
	j.FinishedAt = time.Now()
	elapsed := j.FinishedAt.Sub(j.StartedAt)
	j.mu.Unlock()
	defer close(j.done)

	m.mu.Lock()
	switch status {
	case StatusDone:
		m.stats.Done++
	case StatusEmpty:
		m.stats.Empty++
	case StatusFailed:
		m.stats.Failed++
	case StatusCancelled:
		m.stats.Cancelled++
	}
	m.mu.Unlock()
	m.metrics.RecordJobFinished(string(status))

	attrs := []any{
		slog.String("job_id", j.ID),
		slog.String("status", string(status)),
		slog.Duration("elapsed", elapsed),
	}
	switch status {
	case StatusFailed:
		m.logger.Error("Job failed", append(attrs, slog.String("error", err.Error()))...)
	case StatusEmpty:
		m.logger.Info("No segments detected", attrs...)
	case StatusDone:
		m.logger.Info("Job finished", append(attrs, slog.Int("segments", len(result.Segments)))...)
	default:
		m.logger.Info("Job cancelled", attrs...)
	}
}

// Get returns a job by id
func (m *Manager) Get(id string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	return j, ok
}

// List returns snapshots of all stored jobs, oldest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j)
	}
	m.mu.RUnlock()

	sort.Slice(jobs, func(a, b int) bool {
		return jobs[a].CreatedAt.Before(jobs[b].CreatedAt)
	})

	infos := make([]Info, len(jobs))
	for i, j := range jobs {
		infos[i] = j.Info()
	}
	return infos
}

// Cancel aborts a job that has not finished. It reports whether the job
// exists.
func (m *Manager) Cancel(id string) bool {
	j, ok := m.Get(id)
	if !ok {
		return false
	}
	if !j.Status().Finished() {
		j.cancel()
	}
	return true
}

// Remove cancels and forgets a job
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	j, ok := m.jobs[id]
	if ok {
		delete(m.jobs, id)
	}
	m.mu.Unlock()

	if ok {
		j.cancel()
	}
	return ok
}

// Stats returns job counters
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := m.stats
	stats.Stored = len(m.jobs)
	for _, j := range m.jobs {
		if !j.Status().Finished() {
			stats.Active++
		}
	}
	return stats
}

// Stop cancels all running jobs and waits for them and the cleanup routine.
func (m *Manager) Stop() {
	m.logger.Info("Stopping job manager...")

	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()

	m.cancel()
	m.workers.Wait()
	<-m.cleanup

	stats := m.Stats()
	m.logger.Info("Job manager stopped",
		slog.Uint64("submitted", stats.Submitted),
		slog.Uint64("done", stats.Done),
		slog.Uint64("failed", stats.Failed),
		slog.Uint64("cancelled", stats.Cancelled),
	)
}

// startCleanupRoutine removes finished jobs older than the retention period
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(m.config.CleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case now := <-ticker.C:
			m.cleanupExpired(now)
		}
	}
}

func (m *Manager) cleanupExpired(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, j := range m.jobs {
		j.mu.RLock()
		expired := j.status.Finished() && now.Sub(j.FinishedAt) > m.config.Retention
		j.mu.RUnlock()
		if expired {
			delete(m.jobs, id)
			removed++
		}
	}

	if removed > 0 {
		m.logger.Info("Cleaned up expired jobs", slog.Int("removed", removed))
	}
	return removed
}
