package transcript

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/tubetrust/internal/apperr"
	"github.com/jonathan/tubetrust/internal/types"
)

type fakeStrategy struct {
	name  string
	text  string
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (f *fakeStrategy) Name() string { return f.name }

func (f *fakeStrategy) Fetch(ctx context.Context, _ Request) (string, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.text, f.err
}

func TestChain_FirstSuccessWins(t *testing.T) {
	first := &fakeStrategy{name: "captions", err: apperr.New(apperr.KindAcquisitionFailed, apperr.ReasonNoCaptions, "none")}
	second := &fakeStrategy{name: "worker", text: "hello world"}
	third := &fakeStrategy{name: "local", text: "unused"}

	res, err := NewChain(nil, Tier{Strategy: first}, Tier{Strategy: second}, Tier{Strategy: third}).
		Fetch(context.Background(), Request{VideoID: "abc"})
	require.NoError(t, err)
	assert.Equal(t, "hello world", res.Text)
	assert.Equal(t, "worker", res.Source)
	assert.EqualValues(t, 1, first.calls.Load())
	assert.EqualValues(t, 0, third.calls.Load())
}

func TestChain_AllFailKeepsLastReason(t *testing.T) {
	first := &fakeStrategy{name: "captions", err: apperr.New(apperr.KindAcquisitionFailed, apperr.ReasonNoCaptions, "none")}
	second := &fakeStrategy{name: "worker", err: apperr.New(apperr.KindAcquisitionFailed, apperr.ReasonWorkerUnavailable, "down")}

	_, err := NewChain(nil, Tier{Strategy: first}, Tier{Strategy: second}).Fetch(context.Background(), Request{})
	require.Error(t, err)
	assert.Equal(t, apperr.KindAcquisitionFailed, apperr.KindOf(err))
	assert.Equal(t, apperr.ReasonWorkerUnavailable, apperr.ReasonOf(err))
	assert.Contains(t, err.Error(), "captions:")
	assert.Contains(t, err.Error(), "worker:")
}

func TestChain_ContentTooLongStops(t *testing.T) {
	first := &fakeStrategy{name: "worker", err: apperr.New(apperr.KindContentTooLong, apperr.ReasonNone, "too big")}
	second := &fakeStrategy{name: "local", text: "unused"}

	_, err := NewChain(nil, Tier{Strategy: first}, Tier{Strategy: second}).Fetch(context.Background(), Request{})
	require.Error(t, err)
	assert.Equal(t, apperr.KindContentTooLong, apperr.KindOf(err))
	assert.EqualValues(t, 0, second.calls.Load())
}

func TestChain_EmptyTranscriptIsFailure(t *testing.T) {
	first := &fakeStrategy{name: "captions", text: "   "}
	second := &fakeStrategy{name: "worker", text: "real"}

	res, err := NewChain(nil, Tier{Strategy: first}, Tier{Strategy: second}).Fetch(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "worker", res.Source)
}

func TestChain_TierTimeoutMovesOn(t *testing.T) {
	slow := &fakeStrategy{name: "worker", text: "late", delay: time.Second}
	fast := &fakeStrategy{name: "local", text: "on time"}

	start := time.Now()
	res, err := NewChain(nil, Tier{Strategy: slow, Timeout: 20 * time.Millisecond}, Tier{Strategy: fast}).
		Fetch(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "local", res.Source)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestChain_TierTimeoutReason(t *testing.T) {
	captions := &fakeStrategy{name: "captions", err: apperr.New(apperr.KindAcquisitionFailed, apperr.ReasonNoCaptions, "none")}
	slow := &fakeStrategy{name: "worker", text: "late", delay: time.Second}

	_, err := NewChain(nil, Tier{Strategy: captions}, Tier{Strategy: slow, Timeout: 20 * time.Millisecond}).
		Fetch(context.Background(), Request{})
	require.Error(t, err)
	assert.Equal(t, apperr.KindAcquisitionFailed, apperr.KindOf(err))
	assert.Equal(t, apperr.ReasonTranscriptionTimeout, apperr.ReasonOf(err))
	assert.Contains(t, err.Error(), "transcript worker timed out")
}

func TestChain_NoTiers(t *testing.T) {
	_, err := NewChain(nil).Fetch(context.Background(), Request{})
	assert.Equal(t, apperr.ReasonNoStrategies, apperr.ReasonOf(err))
}

func TestChain_CanceledContextSkipsRemaining(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &fakeStrategy{name: "captions", text: "x"}

	_, err := NewChain(nil, Tier{Strategy: s}).Fetch(ctx, Request{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 0, s.calls.Load())
}

func TestChain_Names(t *testing.T) {
	c := NewChain(nil, Tier{Strategy: CacheStrategy{}}, Tier{Strategy: CaptionStrategy{}})
	assert.Equal(t, []string{"cache", "captions"}, c.Names())
}

type fakeVideos struct {
	video *types.Video
	err   error
}

func (f fakeVideos) GetVideo(context.Context, string) (*types.Video, error) {
	return f.video, f.err
}

func TestCacheStrategy(t *testing.T) {
	text, err := CacheStrategy{Videos: fakeVideos{video: &types.Video{Transcript: "cached"}}}.Fetch(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "cached", text)

	_, err = CacheStrategy{Videos: fakeVideos{}}.Fetch(context.Background(), Request{})
	assert.Equal(t, apperr.KindAcquisitionFailed, apperr.KindOf(err))

	_, err = CacheStrategy{Videos: fakeVideos{err: errors.New("db down")}}.Fetch(context.Background(), Request{})
	assert.ErrorContains(t, err, "db down")
}

type captionFunc func(ctx context.Context, videoID, hint string) (string, error)

func (f captionFunc) Transcript(ctx context.Context, videoID, hint string) (string, error) {
	return f(ctx, videoID, hint)
}

func TestCaptionStrategy(t *testing.T) {
	var gotID, gotHint string
	s := CaptionStrategy{Source: captionFunc(func(_ context.Context, id, hint string) (string, error) {
		gotID, gotHint = id, hint
		return "captions text", nil
	})}

	text, err := s.Fetch(context.Background(), Request{VideoID: "abc", LanguageHint: "de"})
	require.NoError(t, err)
	assert.Equal(t, "captions text", text)
	assert.Equal(t, "abc", gotID)
	assert.Equal(t, "de", gotHint)

	_, err = s.Fetch(context.Background(), Request{SourceURL: "https://youtube.com/channel/x"})
	assert.Equal(t, apperr.ReasonNoCaptions, apperr.ReasonOf(err))
}
