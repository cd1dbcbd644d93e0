package results

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/tubetrust/internal/store"
	"github.com/jonathan/tubetrust/internal/store/storetest"
	"github.com/jonathan/tubetrust/internal/types"
)

const (
	jobID  = "abc123xyz"
	srcURL = "https://www.youtube.com/watch?v=abc123xyz"
)

type fakeMetadata struct {
	meta  *types.Metadata
	err   error
	block bool
	calls int
}

func (f *fakeMetadata) Metadata(ctx context.Context, _ string) (*types.Metadata, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.meta, f.err
}

func seed(t *testing.T, mem *store.Memory, status types.JobStatus) {
	t.Helper()
	ctx := context.Background()
	_, err := mem.PutPendingJob(ctx, jobID, srcURL)
	require.NoError(t, err)

	switch status {
	case types.JobStatusRunning:
		require.NoError(t, mem.TransitionJob(ctx, jobID, types.JobStatusPending, types.JobStatusRunning, nil))
	case types.JobStatusCompleted:
		require.NoError(t, mem.TransitionJob(ctx, jobID, types.JobStatusPending, types.JobStatusRunning, nil))
		require.NoError(t, mem.CompleteJob(ctx, jobID,
			&types.Video{SourceURL: srcURL, Title: "Rates explained", Transcript: "hello", TranscriptSource: "captions"},
			storetest.SampleAnalysis("summary")))
	case types.JobStatusFailed:
		require.NoError(t, mem.TransitionJob(ctx, jobID, types.JobStatusPending, types.JobStatusRunning, nil))
		require.NoError(t, mem.UpsertVideo(ctx, &types.Video{SourceURL: srcURL, Transcript: "partial"}))
		require.NoError(t, mem.TransitionJob(ctx, jobID, types.JobStatusRunning, types.JobStatusFailed,
			&types.JobFailure{Kind: "analysis_failed", Message: "model returned nothing"}))
	}
}

func TestGet_NotFound(t *testing.T) {
	_, err := NewReader(store.NewMemory(), nil, 0, nil).Get(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGet_Pending(t *testing.T) {
	mem := store.NewMemory()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mem.SetClock(func() time.Time { return created })
	seed(t, mem, types.JobStatusPending)

	r := NewReader(mem, nil, 0, nil)
	r.SetClock(func() time.Time { return created.Add(42 * time.Second) })

	view, err := r.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusPending, view.Status)
	assert.EqualValues(t, 42, view.ElapsedSeconds)
	assert.Nil(t, view.Analysis)
	assert.Nil(t, view.Error)
	assert.Nil(t, view.Video)
}

func TestGet_Completed(t *testing.T) {
	mem := store.NewMemory()
	seed(t, mem, types.JobStatusCompleted)

	view, err := NewReader(mem, nil, 0, nil).Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCompleted, view.Status)
	require.NotNil(t, view.Analysis)
	assert.Equal(t, "summary", view.Analysis.OneLiner)
	assert.Equal(t, "hello", view.Transcript)
	require.NotNil(t, view.Video)
	assert.Equal(t, "Rates explained", view.Video.Title)
	assert.Equal(t, "captions", view.Video.TranscriptSource)
	assert.Nil(t, view.Error)
}

func TestGet_FailedKeepsTranscriptAndHidesAnalysis(t *testing.T) {
	mem := store.NewMemory()
	seed(t, mem, types.JobStatusFailed)

	view, err := NewReader(mem, nil, 0, nil).Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, "partial", view.Transcript)
	assert.Nil(t, view.Analysis)
	require.NotNil(t, view.Error)
	assert.Equal(t, "analysis_failed", view.Error.Kind)
	assert.Equal(t, "model returned nothing", view.Error.Message)
}

func TestGet_RefreshesMissingTitle(t *testing.T) {
	mem := store.NewMemory()
	seed(t, mem, types.JobStatusFailed)
	meta := &fakeMetadata{meta: &types.Metadata{VideoID: jobID, Title: "Found later", DurationSeconds: 90}}

	view, err := NewReader(mem, meta, 0, nil).Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, "Found later", view.Video.Title)
	assert.Equal(t, "partial", view.Transcript)

	cached, err := mem.GetVideo(context.Background(), srcURL)
	require.NoError(t, err)
	assert.Equal(t, "Found later", cached.Title)
	assert.Equal(t, "partial", cached.Transcript)
}

func TestGet_RefreshFailureIsIgnored(t *testing.T) {
	mem := store.NewMemory()
	seed(t, mem, types.JobStatusFailed)

	view, err := NewReader(mem, &fakeMetadata{err: errors.New("boom")}, 0, nil).Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Empty(t, view.Video.Title)
}

func TestGet_RefreshIsBounded(t *testing.T) {
	mem := store.NewMemory()
	seed(t, mem, types.JobStatusFailed)

	start := time.Now()
	view, err := NewReader(mem, &fakeMetadata{block: true}, 20*time.Millisecond, nil).Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, types.JobStatusFailed, view.Status)
}

func TestGet_NoRefreshWhileRunning(t *testing.T) {
	mem := store.NewMemory()
	seed(t, mem, types.JobStatusRunning)
	meta := &fakeMetadata{meta: &types.Metadata{Title: "x"}}

	_, err := NewReader(mem, meta, 0, nil).Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Zero(t, meta.calls)
}

type videoErrStore struct {
	*store.Memory
}

func (videoErrStore) GetVideo(context.Context, string) (*types.Video, error) {
	return nil, errors.New("videos table unavailable")
}

func TestGet_VideoReadFailureStillReturnsStatus(t *testing.T) {
	mem := store.NewMemory()
	seed(t, mem, types.JobStatusFailed)
	metadata := &fakeMetadata{meta: &types.Metadata{Title: "unused"}}

	view, err := NewReader(videoErrStore{mem}, metadata, 0, nil).Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusFailed, view.Status)
	require.NotNil(t, view.Error)
	assert.Equal(t, "model returned nothing", view.Error.Message)
	assert.Nil(t, view.Video)
	assert.Empty(t, view.Transcript)
	assert.Zero(t, metadata.calls)
}
