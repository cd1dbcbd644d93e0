package submission

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/tubetrust/internal/apperr"
	"github.com/jonathan/tubetrust/internal/store"
	"github.com/jonathan/tubetrust/internal/store/storetest"
	"github.com/jonathan/tubetrust/internal/types"
)

type fakeScheduler struct {
	calls atomic.Int32
	err   error
	delay time.Duration
}

func (f *fakeScheduler) Schedule(string, string) error {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.err
}

const watchURL = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

func TestSubmit_NewJob(t *testing.T) {
	mem := store.NewMemory()
	sched := &fakeScheduler{}
	g := New(mem, sched, true, nil)

	sub, err := g.Submit(context.Background(), watchURL)
	require.NoError(t, err)
	assert.Equal(t, "dQw4w9WgXcQ", sub.JobID)
	assert.Equal(t, types.JobStatusPending, sub.Status)
	assert.False(t, sub.Reused)
	assert.EqualValues(t, 1, sched.calls.Load())

	job, err := mem.GetJob(context.Background(), sub.JobID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusPending, job.Status)
}

func TestSubmit_DedupesEquivalentURLs(t *testing.T) {
	mem := store.NewMemory()
	sched := &fakeScheduler{}
	g := New(mem, sched, true, nil)

	first, err := g.Submit(context.Background(), watchURL)
	require.NoError(t, err)
	second, err := g.Submit(context.Background(), "https://youtu.be/dQw4w9WgXcQ?t=42")
	require.NoError(t, err)

	assert.Equal(t, first.JobID, second.JobID)
	assert.True(t, second.Reused)
	assert.EqualValues(t, 1, sched.calls.Load())
}

func TestSubmit_ConcurrentIdenticalSubmissions(t *testing.T) {
	mem := store.NewMemory()
	sched := &fakeScheduler{delay: 20 * time.Millisecond}
	g := New(mem, sched, true, nil)

	const n = 20
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub, err := g.Submit(context.Background(), watchURL)
			if assert.NoError(t, err) {
				ids[i] = sub.JobID
			}
		}()
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, "dQw4w9WgXcQ", id)
	}
	assert.EqualValues(t, 1, sched.calls.Load())
}

func TestSubmit_CanceledCallerDoesNotFailSharedFlight(t *testing.T) {
	mem := store.NewMemory()
	sched := &fakeScheduler{delay: 200 * time.Millisecond}
	g := New(mem, sched, true, nil)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := g.Submit(ctx, watchURL)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return sched.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	second := make(chan *Submission, 1)
	go func() {
		sub, err := g.Submit(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
		assert.NoError(t, err)
		second <- sub
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-firstErr, context.Canceled)
	sub := <-second
	require.NotNil(t, sub)
	assert.Equal(t, "dQw4w9WgXcQ", sub.JobID)
	assert.Equal(t, types.JobStatusPending, sub.Status)
	assert.EqualValues(t, 1, sched.calls.Load())

	job, err := mem.GetJob(context.Background(), "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusPending, job.Status)
}

func TestSubmit_CompletedWithAnalysisIsReused(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	_, err := mem.PutPendingJob(ctx, "dQw4w9WgXcQ", watchURL)
	require.NoError(t, err)
	require.NoError(t, mem.TransitionJob(ctx, "dQw4w9WgXcQ", types.JobStatusPending, types.JobStatusRunning, nil))
	require.NoError(t, mem.CompleteJob(ctx, "dQw4w9WgXcQ", &types.Video{SourceURL: watchURL, Transcript: "t"}, storetest.SampleAnalysis("done")))

	sched := &fakeScheduler{}
	sub, err := New(mem, sched, true, nil).Submit(ctx, watchURL)
	require.NoError(t, err)
	assert.True(t, sub.Reused)
	assert.Equal(t, types.JobStatusCompleted, sub.Status)
	assert.EqualValues(t, 0, sched.calls.Load())
}

func TestSubmit_FailedJobIsResubmitted(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	_, err := mem.PutPendingJob(ctx, "dQw4w9WgXcQ", watchURL)
	require.NoError(t, err)
	require.NoError(t, mem.TransitionJob(ctx, "dQw4w9WgXcQ", types.JobStatusPending, types.JobStatusFailed,
		&types.JobFailure{Kind: "timeout", Message: "took too long"}))

	sched := &fakeScheduler{}
	sub, err := New(mem, sched, true, nil).Submit(ctx, watchURL)
	require.NoError(t, err)
	assert.False(t, sub.Reused)
	assert.EqualValues(t, 1, sched.calls.Load())

	job, _ := mem.GetJob(ctx, "dQw4w9WgXcQ")
	assert.Equal(t, types.JobStatusPending, job.Status)
	assert.Empty(t, job.ErrorMessage)
}

func TestSubmit_NoVideoIDNeverDedupes(t *testing.T) {
	mem := store.NewMemory()
	sched := &fakeScheduler{}
	g := New(mem, sched, true, nil)

	first, err := g.Submit(context.Background(), "https://www.youtube.com/@somechannel")
	require.NoError(t, err)
	second, err := g.Submit(context.Background(), "https://www.youtube.com/@somechannel")
	require.NoError(t, err)

	assert.NotEqual(t, first.JobID, second.JobID)
	assert.EqualValues(t, 2, sched.calls.Load())
}

func TestSubmit_InvalidURL(t *testing.T) {
	sched := &fakeScheduler{}
	_, err := New(store.NewMemory(), sched, true, nil).Submit(context.Background(), "https://vimeo.com/12345")
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
	assert.EqualValues(t, 0, sched.calls.Load())
}

func TestSubmit_MissingCredentialWritesNothing(t *testing.T) {
	mem := store.NewMemory()
	_, err := New(mem, &fakeScheduler{}, false, nil).Submit(context.Background(), watchURL)
	assert.ErrorIs(t, err, ErrMissingCredential)

	job, err := mem.GetJob(context.Background(), "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestSubmit_QueueFullFailsJob(t *testing.T) {
	mem := store.NewMemory()
	sched := &fakeScheduler{err: errors.New("task queue is full")}

	_, err := New(mem, sched, true, nil).Submit(context.Background(), watchURL)
	assert.ErrorIs(t, err, ErrQueueFull)

	job, err := mem.GetJob(context.Background(), "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "could not be scheduled")
}
