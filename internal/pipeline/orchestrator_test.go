package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/tubetrust/internal/analysis"
	"github.com/jonathan/tubetrust/internal/apperr"
	"github.com/jonathan/tubetrust/internal/audio"
	"github.com/jonathan/tubetrust/internal/llm"
	"github.com/jonathan/tubetrust/internal/store"
	"github.com/jonathan/tubetrust/internal/transcript"
	"github.com/jonathan/tubetrust/internal/types"
)

const (
	testJobID = "dQw4w9WgXcQ"
	testURL   = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"
)

type fakeMetadata struct {
	md  *types.Metadata
	err error
}

func (f fakeMetadata) Metadata(context.Context, string) (*types.Metadata, error) {
	return f.md, f.err
}

type fakeTranscripts struct {
	calls atomic.Int32
	text  string
	err   error
}

func (f *fakeTranscripts) Fetch(context.Context, transcript.Request) (*transcript.Result, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &transcript.Result{Text: f.text, Source: "captions"}, nil
}

type fakeAnalyzer struct {
	calls  atomic.Int32
	result *types.Analysis
	err    error
	block  bool
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, req analysis.Request) (*types.Analysis, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	out := f.result.Clone()
	out.SourceURL = req.SourceURL
	return out, nil
}

func sampleAnalysis(oneLiner string) *types.Analysis {
	return &types.Analysis{
		OneLiner:     oneLiner,
		BulletPoints: []string{"a", "b", "c", "d", "e"},
		Outline:      []string{"intro"},
		TrustScore:   60,
		TrustSignals: []string{"sourced"},
		Language:     "English",
		LanguageCode: "en",
		Claims: []types.Claim{{
			Text:       "claim",
			Confidence: 70,
			SpotChecks: []types.SpotCheck{{URL: "https://example.com", Summary: "s", Verdict: "supported"}},
		}},
	}
}

func testBudgets() Budgets {
	return Budgets{
		Run: 2 * time.Second,
		Stage: map[string]time.Duration{
			StageMetadata:   time.Second,
			StageTranscript: time.Second,
			StageAnalysis:   time.Second,
			StagePersist:    time.Second,
		},
		MaxDurationMinutes: 120,
	}
}

type harness struct {
	store       *store.Memory
	transcripts *fakeTranscripts
	analyzer    *fakeAnalyzer
	orch        *Orchestrator
	events      []Event
	mu          sync.Mutex
}

func newHarness(t *testing.T, md fakeMetadata, budgets Budgets) *harness {
	t.Helper()
	h := &harness{
		store:       store.NewMemory(),
		transcripts: &fakeTranscripts{text: "the transcript"},
		analyzer:    &fakeAnalyzer{result: sampleAnalysis("first")},
	}
	h.orch = New(Options{
		Store:       h.store,
		Metadata:    md,
		Transcripts: h.transcripts,
		Analyzer:    h.analyzer,
		Budgets:     budgets,
		Observer: func(e Event) {
			h.mu.Lock()
			h.events = append(h.events, e)
			h.mu.Unlock()
		},
	})
	return h
}

func (h *harness) pending(t *testing.T) {
	t.Helper()
	_, err := h.store.PutPendingJob(context.Background(), testJobID, testURL)
	require.NoError(t, err)
}

func (h *harness) job(t *testing.T) *types.Job {
	t.Helper()
	job, err := h.store.GetJob(context.Background(), testJobID)
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

func (h *harness) video(t *testing.T) *types.Video {
	t.Helper()
	v, err := h.store.GetVideo(context.Background(), testURL)
	require.NoError(t, err)
	return v
}

func fiveMinuteVideo() fakeMetadata {
	return fakeMetadata{md: &types.Metadata{Title: "Rates explained", Channel: "Econ", DurationSeconds: 300}}
}

func TestRun_Completes(t *testing.T) {
	h := newHarness(t, fiveMinuteVideo(), testBudgets())
	h.pending(t)

	require.NoError(t, h.orch.Run(context.Background(), testJobID, testURL))

	job := h.job(t)
	assert.Equal(t, types.JobStatusCompleted, job.Status)
	assert.Empty(t, job.ErrorKind)

	v := h.video(t)
	assert.Equal(t, "the transcript", v.Transcript)
	assert.Equal(t, "captions", v.TranscriptSource)
	assert.Equal(t, "Rates explained", v.Title)
	assert.Equal(t, testJobID, v.VideoID)

	a, err := h.store.GetAnalysis(context.Background(), testJobID)
	require.NoError(t, err)
	assert.Equal(t, "first", a.OneLiner)

	var stages []string
	for _, e := range h.events {
		if e.Status == "completed" {
			stages = append(stages, e.Stage)
		}
	}
	assert.Equal(t, Stages, stages)
}

func TestRun_ContentTooLongSkipsAcquisition(t *testing.T) {
	h := newHarness(t, fakeMetadata{md: &types.Metadata{DurationSeconds: 121 * 60}}, testBudgets())
	h.pending(t)

	err := h.orch.Run(context.Background(), testJobID, testURL)
	require.Error(t, err)
	assert.Equal(t, apperr.KindContentTooLong, apperr.KindOf(err))
	assert.EqualValues(t, 0, h.transcripts.calls.Load())
	assert.EqualValues(t, 0, h.analyzer.calls.Load())

	job := h.job(t)
	assert.Equal(t, types.JobStatusFailed, job.Status)
	assert.Equal(t, string(apperr.KindContentTooLong), job.ErrorKind)
	assert.Equal(t, err.Error(), job.ErrorMessage)
}

func TestRun_MetadataFailureDegrades(t *testing.T) {
	h := newHarness(t, fakeMetadata{err: errors.New("consent wall")}, testBudgets())
	h.pending(t)

	require.NoError(t, h.orch.Run(context.Background(), testJobID, testURL))
	assert.Equal(t, types.JobStatusCompleted, h.job(t).Status)
	assert.EqualValues(t, 1, h.transcripts.calls.Load())
}

func TestRun_CachedTranscriptSkipsAcquisition(t *testing.T) {
	h := newHarness(t, fiveMinuteVideo(), testBudgets())
	h.pending(t)
	require.NoError(t, h.store.UpsertVideo(context.Background(), &types.Video{SourceURL: testURL, Transcript: "cached", TranscriptSource: "worker"}))

	require.NoError(t, h.orch.Run(context.Background(), testJobID, testURL))
	assert.EqualValues(t, 0, h.transcripts.calls.Load())
	assert.Equal(t, "worker", h.video(t).TranscriptSource)
}

func TestRun_FailureAfterAcquisitionKeepsTranscript(t *testing.T) {
	h := newHarness(t, fiveMinuteVideo(), testBudgets())
	h.analyzer.err = apperr.New(apperr.KindAnalysisFailed, apperr.ReasonRateLimited, "slow down")
	h.pending(t)

	err := h.orch.Run(context.Background(), testJobID, testURL)
	require.Error(t, err)

	job := h.job(t)
	assert.Equal(t, types.JobStatusFailed, job.Status)
	assert.Equal(t, string(apperr.KindAnalysisFailed), job.ErrorKind)
	assert.Contains(t, job.ErrorMessage, "slow down")
	assert.Equal(t, "the transcript", h.video(t).Transcript)

	a, err := h.store.GetAnalysis(context.Background(), testJobID)
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestRun_GlobalTimeoutDuringAnalysis(t *testing.T) {
	budgets := testBudgets()
	budgets.Run = 150 * time.Millisecond
	h := newHarness(t, fiveMinuteVideo(), budgets)
	h.analyzer.block = true
	h.pending(t)

	start := time.Now()
	err := h.orch.Run(context.Background(), testJobID, testURL)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, apperr.KindTimeout, apperr.KindOf(err))
	job := h.job(t)
	assert.Equal(t, types.JobStatusFailed, job.Status)
	assert.Equal(t, string(apperr.KindTimeout), job.ErrorKind)
	assert.Equal(t, "the transcript", h.video(t).Transcript)
}

func TestRun_AcquisitionFailure(t *testing.T) {
	h := newHarness(t, fiveMinuteVideo(), testBudgets())
	h.transcripts.err = apperr.New(apperr.KindAcquisitionFailed, apperr.ReasonNoCaptions, "none")
	h.pending(t)

	err := h.orch.Run(context.Background(), testJobID, testURL)
	require.Error(t, err)
	assert.Equal(t, string(apperr.KindAcquisitionFailed), h.job(t).ErrorKind)
	assert.EqualValues(t, 0, h.analyzer.calls.Load())
	assert.Nil(t, h.video(t))
}

func TestRun_DuplicateRunIsNoop(t *testing.T) {
	h := newHarness(t, fiveMinuteVideo(), testBudgets())
	h.pending(t)
	require.NoError(t, h.store.TransitionJob(context.Background(), testJobID, types.JobStatusPending, types.JobStatusRunning, nil))

	require.NoError(t, h.orch.Run(context.Background(), testJobID, testURL))
	assert.EqualValues(t, 0, h.transcripts.calls.Load())
	assert.Equal(t, types.JobStatusRunning, h.job(t).Status)
}

func TestRun_UnknownJob(t *testing.T) {
	h := newHarness(t, fiveMinuteVideo(), testBudgets())
	err := h.orch.Run(context.Background(), "missing", testURL)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRun_ParentCanceledIsInterrupted(t *testing.T) {
	h := newHarness(t, fiveMinuteVideo(), testBudgets())
	h.analyzer.block = true
	h.pending(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := h.orch.Run(ctx, testJobID, testURL)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInterrupted, apperr.KindOf(err))
	assert.Equal(t, types.JobStatusFailed, h.job(t).Status)
}

type failingComplete struct {
	*store.Memory
}

func (failingComplete) CompleteJob(context.Context, string, *types.Video, *types.Analysis) error {
	return errors.New("disk full")
}

func TestRun_PersistFailure(t *testing.T) {
	mem := store.NewMemory()
	_, err := mem.PutPendingJob(context.Background(), testJobID, testURL)
	require.NoError(t, err)

	orch := New(Options{
		Store:       failingComplete{mem},
		Metadata:    fiveMinuteVideo(),
		Transcripts: &fakeTranscripts{text: "words"},
		Analyzer:    &fakeAnalyzer{result: sampleAnalysis("x")},
		Budgets:     testBudgets(),
	})

	err = orch.Run(context.Background(), testJobID, testURL)
	require.Error(t, err)
	assert.Equal(t, apperr.KindPersistenceFailed, apperr.KindOf(err))

	job, _ := mem.GetJob(context.Background(), testJobID)
	assert.Equal(t, types.JobStatusFailed, job.Status)
	v, _ := mem.GetVideo(context.Background(), testURL)
	assert.Equal(t, "words", v.Transcript)
}

// scriptedLLM returns a canned analysis for every prompt.
type scriptedLLM struct{ response string }

func (s scriptedLLM) GenerateJSON(context.Context, string, llm.ModelTier) (string, error) {
	return s.response, nil
}
func (scriptedLLM) GetModel(tier llm.ModelTier) string { return "test-" + string(tier) }
func (scriptedLLM) Close() error                       { return nil }

const fullResponse = `{
	"one_liner": "Why rates went up.",
	"bullet_points": ["one", "two", "three", "four", "five", "six"],
	"outline": ["intro", "history", "today"],
	"trust_score": 64,
	"trust_signals": ["cites the central bank"],
	"claims": [
		{"text": "c1", "confidence": 80, "spot_checks": [{"url": "https://a", "summary": "s", "verdict": "supported"}, {"url": "https://b", "summary": "s", "verdict": "supported"}]},
		{"text": "c2", "confidence": 60, "spot_checks": [{"url": "https://c", "summary": "s", "verdict": "disputed"}, {"url": "https://d", "summary": "s", "verdict": "unverified"}, {"url": "https://e", "summary": "s", "verdict": "supported"}]},
		{"text": "c3", "confidence": 40, "spot_checks": [{"url": "https://f", "summary": "s", "verdict": "unverified"}, {"url": "https://g", "summary": "s", "verdict": "disputed"}]}
	]
}`

type captionFunc func(ctx context.Context, videoID, hint string) (string, error)

func (f captionFunc) Transcript(ctx context.Context, videoID, hint string) (string, error) {
	return f(ctx, videoID, hint)
}

func TestScenario_CaptionedVideoCompletes(t *testing.T) {
	mem := store.NewMemory()
	_, err := mem.PutPendingJob(context.Background(), testJobID, testURL)
	require.NoError(t, err)

	var gotID string
	captions := captionFunc(func(_ context.Context, id, _ string) (string, error) {
		gotID = id
		return strings.Repeat("In this video we look at what the central bank did and why it matters for you. ", 30), nil
	})
	orch := New(Options{
		Store:       mem,
		Metadata:    fiveMinuteVideo(),
		Transcripts: transcript.NewChain(nil, transcript.Tier{Strategy: transcript.CaptionStrategy{Source: captions}}),
		Analyzer:    analysis.New(scriptedLLM{response: fullResponse}, 0, nil),
		Budgets:     testBudgets(),
	})

	require.NoError(t, orch.Run(context.Background(), testJobID, testURL))
	assert.Equal(t, testJobID, gotID)

	job, _ := mem.GetJob(context.Background(), testJobID)
	assert.Equal(t, types.JobStatusCompleted, job.Status)

	a, err := mem.GetAnalysis(context.Background(), testJobID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(a.BulletPoints), 5)
	assert.LessOrEqual(t, len(a.BulletPoints), 7)
	assert.GreaterOrEqual(t, len(a.Claims), 2)
	assert.LessOrEqual(t, len(a.Claims), 5)
	for _, c := range a.Claims {
		assert.GreaterOrEqual(t, len(c.SpotChecks), 2)
		assert.LessOrEqual(t, len(c.SpotChecks), 3)
	}
	assert.Equal(t, "en", a.LanguageCode)
	assert.Equal(t, "test-standard", a.Model)
}

func TestScenario_EveryTierFails(t *testing.T) {
	mem := store.NewMemory()
	_, err := mem.PutPendingJob(context.Background(), testJobID, testURL)
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	captions := captionFunc(func(context.Context, string, string) (string, error) {
		record("captions")
		return "", apperr.New(apperr.KindAcquisitionFailed, apperr.ReasonNoCaptions, "no tracks")
	})
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		record("worker")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer worker.Close()

	runner := audio.RunnerFunc(func(_ context.Context, name string, args []string, _ io.Writer) error {
		record(fmt.Sprintf("%s %s", name, args[1]))
		return errors.New("ERROR: unable to download")
	})
	enc := audio.Encoding{Binary: "ffmpeg", Bitrate: "32k", UploadLimit: 1 << 20}
	local := transcript.NewLocalStrategy(
		audio.NewDownloader(runner, "yt-dlp", []string{"worstaudio[ext=m4a]", "worstaudio"}, 1<<20, nil),
		audio.NewCompressor(runner, enc, nil),
		audio.NewSegmenter(runner, enc, 600, nil),
		nil,
		transcript.LocalOptions{WorkDir: t.TempDir()},
		nil,
	)

	analyzer := &fakeAnalyzer{result: sampleAnalysis("unused")}
	orch := New(Options{
		Store:    mem,
		Metadata: fiveMinuteVideo(),
		Transcripts: transcript.NewChain(nil,
			transcript.Tier{Strategy: transcript.CaptionStrategy{Source: captions}},
			transcript.Tier{Strategy: transcript.NewWorkerClient(worker.URL, "", 180, time.Second, nil)},
			transcript.Tier{Strategy: local},
		),
		Analyzer: analyzer,
		Budgets:  testBudgets(),
	})

	err = orch.Run(context.Background(), testJobID, testURL)
	require.Error(t, err)
	assert.Equal(t, apperr.KindAcquisitionFailed, apperr.KindOf(err))
	assert.Equal(t, apperr.ReasonDownloadFailed, apperr.ReasonOf(err))
	assert.Equal(t, []string{"captions", "worker", "yt-dlp worstaudio[ext=m4a]", "yt-dlp worstaudio"}, order)
	assert.EqualValues(t, 0, analyzer.calls.Load())

	job, _ := mem.GetJob(context.Background(), testJobID)
	assert.Equal(t, types.JobStatusFailed, job.Status)
}
