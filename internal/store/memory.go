package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonathan/tubetrust/internal/types"
)

// Memory is a process-lifetime Store. Everything is lost on restart.
type Memory struct {
	mu       sync.RWMutex
	jobs     map[string]types.Job
	videos   map[string]types.Video
	analyses map[string]*types.Analysis
	now      func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		jobs:     make(map[string]types.Job),
		videos:   make(map[string]types.Video),
		analyses: make(map[string]*types.Analysis),
		now:      time.Now,
	}
}

// SetClock replaces the time source. Tests use it to age jobs.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func (m *Memory) GetJob(_ context.Context, id string) (*types.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	return &job, nil
}

func (m *Memory) PutPendingJob(_ context.Context, id, sourceURL string) (*types.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	job, ok := m.jobs[id]
	if !ok {
		job = types.Job{ID: id, CreatedAt: now}
	}
	job.SourceURL = sourceURL
	job.Status = types.JobStatusPending
	job.ErrorKind = ""
	job.ErrorMessage = ""
	job.UpdatedAt = now
	m.jobs[id] = job

	return &job, nil
}

func (m *Memory) TransitionJob(_ context.Context, id string, from, to types.JobStatus, failure *types.JobFailure) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if err := CheckTransition(job.Status, from, to); err != nil {
		return err
	}
	job.Status = to
	job.ErrorKind, job.ErrorMessage = FailureFields(to, failure)
	job.UpdatedAt = m.now().UTC()
	m.jobs[id] = job
	return nil
}

func (m *Memory) ListStaleJobs(_ context.Context, status types.JobStatus, cutoff time.Time) ([]types.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []types.Job
	for _, job := range m.jobs {
		if job.Status == status && job.UpdatedAt.Before(cutoff) {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (m *Memory) CountJobsByStatus(context.Context) (map[types.JobStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[types.JobStatus]int, len(types.AllJobStatuses))
	for _, s := range types.AllJobStatuses {
		counts[s] = 0
	}
	for _, job := range m.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

func (m *Memory) GetVideo(_ context.Context, sourceURL string) (*types.Video, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.videos[sourceURL]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (m *Memory) UpsertVideo(_ context.Context, v *types.Video) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.upsertVideoLocked(v)
	return nil
}

func (m *Memory) upsertVideoLocked(v *types.Video) {
	existing := m.videos[v.SourceURL]
	existing.SourceURL = v.SourceURL
	existing.Merge(v)
	existing.UpdatedAt = m.now().UTC()
	m.videos[v.SourceURL] = existing
}

func (m *Memory) GetAnalysis(_ context.Context, jobID string) (*types.Analysis, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.analyses[jobID]
	if !ok {
		return nil, nil
	}
	return a.Clone(), nil
}

func (m *Memory) CompleteJob(_ context.Context, jobID string, v *types.Video, a *types.Analysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if err := CheckTransition(job.Status, types.JobStatusRunning, types.JobStatusCompleted); err != nil {
		return err
	}

	now := m.now().UTC()
	m.upsertVideoLocked(v)

	stored := a.Clone()
	stored.JobID = jobID
	stored.SourceURL = v.SourceURL
	stored.CreatedAt = now
	if prev, ok := m.analyses[jobID]; ok {
		stored.CreatedAt = prev.CreatedAt
	}
	stored.UpdatedAt = now
	m.analyses[jobID] = stored

	job.Status = types.JobStatusCompleted
	job.ErrorKind, job.ErrorMessage = "", ""
	job.UpdatedAt = now
	m.jobs[jobID] = job
	return nil
}
