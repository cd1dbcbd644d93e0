// Package storetest is a conformance suite shared by every store.Store implementation.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/tubetrust/internal/store"
	"github.com/jonathan/tubetrust/internal/types"
)

// Factory returns an empty store. Cleanup is registered on t.
type Factory func(t *testing.T) store.Store

// SampleAnalysis returns a fully populated analysis for tests.
func SampleAnalysis(oneLiner string) *types.Analysis {
	return &types.Analysis{
		OneLiner:     oneLiner,
		BulletPoints: []string{"one", "two", "three", "four", "five"},
		Outline:      []string{"Intro", "Body", "Conclusion"},
		TrustScore:   72,
		TrustSignals: []string{"cites sources"},
		Language:     "English",
		LanguageCode: "en",
		Model:        "test-model",
		Claims: []types.Claim{
			{Text: "claim A", Confidence: 80, SpotChecks: []types.SpotCheck{
				{URL: "https://a.example/1", Summary: "supports", Verdict: "supported"},
				{URL: "https://a.example/2", Summary: "mixed", Verdict: "unclear"},
			}},
			{Text: "claim B", Confidence: 40, SpotChecks: []types.SpotCheck{
				{URL: "https://b.example/1", Summary: "refutes", Verdict: "refuted"},
				{URL: "https://b.example/2", Summary: "refutes too", Verdict: "refuted"},
			}},
		},
	}
}

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("PutPendingResets", func(t *testing.T) { testPutPendingResets(t, newStore(t)) })
	t.Run("TransitionCompareAndSet", func(t *testing.T) { testTransition(t, newStore(t)) })
	t.Run("VideoMerge", func(t *testing.T) { testVideoMerge(t, newStore(t)) })
	t.Run("CompleteJob", func(t *testing.T) { testCompleteJob(t, newStore(t)) })
	t.Run("CompleteJobReplacesClaims", func(t *testing.T) { testReplaceClaims(t, newStore(t)) })
	t.Run("CompleteJobRequiresRunning", func(t *testing.T) { testCompleteRequiresRunning(t, newStore(t)) })
	t.Run("StaleAndCounts", func(t *testing.T) { testStaleAndCounts(t, newStore(t)) })
}

func testGetMissing(t *testing.T, s store.Store) {
	ctx := context.Background()

	job, err := s.GetJob(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, job)

	video, err := s.GetVideo(ctx, "https://www.youtube.com/watch?v=nope")
	require.NoError(t, err)
	assert.Nil(t, video)

	analysis, err := s.GetAnalysis(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, analysis)

	err = s.TransitionJob(ctx, "nope", types.JobStatusPending, types.JobStatusRunning, nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testPutPendingResets(t *testing.T, s store.Store) {
	ctx := context.Background()

	job, err := s.PutPendingJob(ctx, "vid1", "https://www.youtube.com/watch?v=vid1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusPending, job.Status)
	assert.False(t, job.CreatedAt.IsZero())

	require.NoError(t, s.TransitionJob(ctx, "vid1", types.JobStatusPending, types.JobStatusRunning, nil))
	require.NoError(t, s.TransitionJob(ctx, "vid1", types.JobStatusRunning, types.JobStatusFailed,
		&types.JobFailure{Kind: "timeout", Message: "took too long"}))

	failed, err := s.GetJob(ctx, "vid1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusFailed, failed.Status)
	assert.Equal(t, "timeout", failed.ErrorKind)
	assert.Equal(t, "took too long", failed.ErrorMessage)

	reset, err := s.PutPendingJob(ctx, "vid1", "https://www.youtube.com/watch?v=vid1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusPending, reset.Status)
	assert.Empty(t, reset.ErrorKind)
	assert.Empty(t, reset.ErrorMessage)
	assert.Equal(t, job.CreatedAt.Unix(), reset.CreatedAt.Unix())
}

func testTransition(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.PutPendingJob(ctx, "j", "https://www.youtube.com/watch?v=j")
	require.NoError(t, err)

	err = s.TransitionJob(ctx, "j", types.JobStatusRunning, types.JobStatusCompleted, nil)
	assert.ErrorIs(t, err, store.ErrTransitionConflict)

	err = s.TransitionJob(ctx, "j", types.JobStatusPending, types.JobStatusCompleted, nil)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	require.NoError(t, s.TransitionJob(ctx, "j", types.JobStatusPending, types.JobStatusRunning, nil))
	err = s.TransitionJob(ctx, "j", types.JobStatusPending, types.JobStatusRunning, nil)
	assert.ErrorIs(t, err, store.ErrTransitionConflict, "second run must lose the race")

	job, err := s.GetJob(ctx, "j")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusRunning, job.Status)
}

func testVideoMerge(t *testing.T, s store.Store) {
	ctx := context.Background()
	url := "https://www.youtube.com/watch?v=m"

	require.NoError(t, s.UpsertVideo(ctx, &types.Video{SourceURL: url, Title: "Title", Channel: "Chan"}))
	require.NoError(t, s.UpsertVideo(ctx, &types.Video{SourceURL: url, Transcript: "hello world", TranscriptSource: "captions"}))

	v, err := s.GetVideo(ctx, url)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "Title", v.Title)
	assert.Equal(t, "Chan", v.Channel)
	assert.Equal(t, "hello world", v.Transcript)
	assert.Equal(t, "captions", v.TranscriptSource)

	// last writer wins for fields it sets
	require.NoError(t, s.UpsertVideo(ctx, &types.Video{SourceURL: url, Title: "New Title"}))
	v, err = s.GetVideo(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, "New Title", v.Title)
	assert.Equal(t, "hello world", v.Transcript)
}

func runningJob(t *testing.T, s store.Store, id string) string {
	t.Helper()
	ctx := context.Background()
	url := "https://www.youtube.com/watch?v=" + id
	_, err := s.PutPendingJob(ctx, id, url)
	require.NoError(t, err)
	require.NoError(t, s.TransitionJob(ctx, id, types.JobStatusPending, types.JobStatusRunning, nil))
	return url
}

func testCompleteJob(t *testing.T, s store.Store) {
	ctx := context.Background()
	url := runningJob(t, s, "c1")

	video := &types.Video{SourceURL: url, Title: "T", Transcript: "words"}
	require.NoError(t, s.CompleteJob(ctx, "c1", video, SampleAnalysis("first")))

	job, err := s.GetJob(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCompleted, job.Status)

	a, err := s.GetAnalysis(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, a)
	want := SampleAnalysis("first")
	assert.Equal(t, "c1", a.JobID)
	assert.Equal(t, url, a.SourceURL)
	assert.Equal(t, want.BulletPoints, a.BulletPoints)
	assert.Equal(t, want.Outline, a.Outline)
	assert.Equal(t, want.TrustScore, a.TrustScore)
	assert.Equal(t, want.TrustSignals, a.TrustSignals)
	assert.Equal(t, want.Claims, a.Claims)

	v, err := s.GetVideo(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, "words", v.Transcript)
}

func testReplaceClaims(t *testing.T, s store.Store) {
	ctx := context.Background()
	url := runningJob(t, s, "r1")
	video := &types.Video{SourceURL: url, Transcript: "words"}
	require.NoError(t, s.CompleteJob(ctx, "r1", video, SampleAnalysis("first")))

	require.NoError(t, s.TransitionJob(ctx, "r1", types.JobStatusCompleted, types.JobStatusPending, nil))
	require.NoError(t, s.TransitionJob(ctx, "r1", types.JobStatusPending, types.JobStatusRunning, nil))

	second := SampleAnalysis("second")
	second.Claims = []types.Claim{{Text: "only claim", Confidence: 10, SpotChecks: []types.SpotCheck{
		{URL: "https://c.example", Summary: "s", Verdict: "v"},
	}}}
	require.NoError(t, s.CompleteJob(ctx, "r1", video, second))

	a, err := s.GetAnalysis(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "second", a.OneLiner)
	require.Len(t, a.Claims, 1, "stale claims must not survive a replace")
	assert.Equal(t, "only claim", a.Claims[0].Text)
	assert.Len(t, a.Claims[0].SpotChecks, 1)
}

func testCompleteRequiresRunning(t *testing.T, s store.Store) {
	ctx := context.Background()
	url := "https://www.youtube.com/watch?v=p1"
	_, err := s.PutPendingJob(ctx, "p1", url)
	require.NoError(t, err)

	err = s.CompleteJob(ctx, "p1", &types.Video{SourceURL: url}, SampleAnalysis("x"))
	assert.ErrorIs(t, err, store.ErrTransitionConflict)

	a, err := s.GetAnalysis(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, a, "nothing may be written when the transition fails")

	err = s.CompleteJob(ctx, "missing", &types.Video{SourceURL: url}, SampleAnalysis("x"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testStaleAndCounts(t *testing.T, s store.Store) {
	ctx := context.Background()
	runningJob(t, s, "s1")
	_, err := s.PutPendingJob(ctx, "s2", "https://www.youtube.com/watch?v=s2")
	require.NoError(t, err)

	future := time.Now().Add(time.Hour)
	stale, err := s.ListStaleJobs(ctx, types.JobStatusRunning, future)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "s1", stale[0].ID)

	none, err := s.ListStaleJobs(ctx, types.JobStatusRunning, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, none)

	counts, err := s.CountJobsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[types.JobStatusRunning])
	assert.Equal(t, 1, counts[types.JobStatusPending])
	assert.Equal(t, 0, counts[types.JobStatusCompleted])
}
