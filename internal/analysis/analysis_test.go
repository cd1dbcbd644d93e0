package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/tubetrust/internal/apperr"
	"github.com/jonathan/tubetrust/internal/llm"
)

type fakeClient struct {
	mu        sync.Mutex
	responses map[llm.ModelTier]string
	errs      map[llm.ModelTier]error
	calls     []llm.ModelTier
	prompts   []string
}

func (f *fakeClient) GenerateJSON(_ context.Context, prompt string, tier llm.ModelTier) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, tier)
	f.prompts = append(f.prompts, prompt)
	if err := f.errs[tier]; err != nil {
		return "", err
	}
	return f.responses[tier], nil
}

func (f *fakeClient) GetModel(tier llm.ModelTier) string {
	return "model-" + string(tier)
}

func (f *fakeClient) Close() error { return nil }

const goodResponse = "```json\n" + `{
	"one_liner": "The host explains why central banks raised rates.",
	"bullet_points": ["Inflation rose", "Banks reacted", "Mortgages got pricier", "Savers gained", "Outlook is mixed"],
	"outline": ["Intro", "History", "Today"],
	"trust_score": 71.6,
	"trust_signals": ["Cites official data"],
	"claims": [
		{"text": "Rates rose five times", "confidence": 88, "spot_checks": [
			{"url": "https://example.com/a", "summary": "Central bank release", "verdict": "Supported"},
			{"url": "https://example.com/b", "summary": "News coverage", "verdict": "supported"}
		]},
		{"text": "Inflation peaked at 9%", "confidence": 120, "spot_checks": [
			{"url": "https://example.com/c", "summary": "Stats office", "verdict": "disputed"},
			{"url": "https://example.com/d", "summary": "Analyst note", "verdict": "unverified"}
		]}
	]
}` + "\n```"

var englishTranscript = strings.Repeat("Today we are going to talk about why the central bank raised the interest rate and what that means for you. ", 20)

func TestAnalyze_Success(t *testing.T) {
	client := &fakeClient{responses: map[llm.ModelTier]string{llm.TierStandard: goodResponse}}
	a := New(client, 0, nil)

	result, err := a.Analyze(context.Background(), Request{
		SourceURL:  "https://www.youtube.com/watch?v=abc123",
		Transcript: englishTranscript,
		Title:      "Rates explained",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://www.youtube.com/watch?v=abc123", result.SourceURL)
	assert.Equal(t, "The host explains why central banks raised rates.", result.OneLiner)
	assert.Len(t, result.BulletPoints, 5)
	assert.Equal(t, 72, result.TrustScore)
	assert.Equal(t, "en", result.LanguageCode)
	assert.Equal(t, "English", result.Language)
	assert.Equal(t, "model-standard", result.Model)
	require.Len(t, result.Claims, 2)
	assert.Equal(t, 100, result.Claims[1].Confidence)
	assert.Equal(t, "supported", result.Claims[0].SpotChecks[0].Verdict)
	assert.Equal(t, []llm.ModelTier{llm.TierStandard}, client.calls)

	prompt := client.prompts[0]
	assert.Contains(t, prompt, "Write every field in English")
	assert.Contains(t, prompt, "Title: Rates explained")
	assert.Contains(t, prompt, "Description: (unknown)")
	assert.NotContains(t, prompt, "{{.")
}

func TestAnalyze_QuotaFallsBackToLiteOnce(t *testing.T) {
	client := &fakeClient{
		responses: map[llm.ModelTier]string{llm.TierLite: goodResponse},
		errs:      map[llm.ModelTier]error{llm.TierStandard: errors.New("googleapi: Error 429: Quota exceeded for metric")},
	}
	a := New(client, 0, nil)

	result, err := a.Analyze(context.Background(), Request{Transcript: englishTranscript})
	require.NoError(t, err)
	assert.Equal(t, "model-lite", result.Model)
	assert.Equal(t, []llm.ModelTier{llm.TierStandard, llm.TierLite}, client.calls)
}

func TestAnalyze_QuotaOnBothTiers(t *testing.T) {
	quota := errors.New("RESOURCE_EXHAUSTED: quota")
	client := &fakeClient{errs: map[llm.ModelTier]error{llm.TierStandard: quota, llm.TierLite: quota}}

	_, err := New(client, 0, nil).Analyze(context.Background(), Request{Transcript: englishTranscript})
	require.Error(t, err)
	assert.Equal(t, apperr.KindAnalysisFailed, apperr.KindOf(err))
	assert.Equal(t, apperr.ReasonQuotaExceeded, apperr.ReasonOf(err))
	assert.Len(t, client.calls, 2)
}

func TestAnalyze_NonQuotaErrorsDoNotFallBack(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason apperr.Reason
	}{
		{"auth", errors.New("API key not valid"), apperr.ReasonAuth},
		{"rate limited", errors.New("429 Too Many Requests"), apperr.ReasonRateLimited},
		{"provider", errors.New("internal error"), apperr.ReasonProviderError},
		{"empty", llm.ErrEmptyResponse, apperr.ReasonIncompleteResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{errs: map[llm.ModelTier]error{llm.TierStandard: tt.err}}
			_, err := New(client, 0, nil).Analyze(context.Background(), Request{Transcript: englishTranscript})
			require.Error(t, err)
			assert.Equal(t, tt.reason, apperr.ReasonOf(err))
			assert.Equal(t, []llm.ModelTier{llm.TierStandard}, client.calls)
		})
	}
}

func TestAnalyze_BadResponses(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		reason apperr.Reason
	}{
		{"not json", "I cannot help with that.", apperr.ReasonMalformedResponse},
		{"missing fields", `{"one_liner": "x"}`, apperr.ReasonIncompleteResponse},
		{"score out of range", `{"one_liner": "x", "bullet_points": ["a"], "trust_score": 250}`, apperr.ReasonIncompleteResponse},
		{"blank bullets", `{"one_liner": "x", "bullet_points": ["  "], "trust_score": 50}`, apperr.ReasonIncompleteResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{responses: map[llm.ModelTier]string{llm.TierStandard: tt.raw}}
			_, err := New(client, 0, nil).Analyze(context.Background(), Request{Transcript: englishTranscript})
			require.Error(t, err)
			assert.Equal(t, apperr.KindAnalysisFailed, apperr.KindOf(err))
			assert.Equal(t, tt.reason, apperr.ReasonOf(err))
		})
	}
}

func TestAnalyze_EmptyTranscript(t *testing.T) {
	client := &fakeClient{}
	_, err := New(client, 0, nil).Analyze(context.Background(), Request{Transcript: "   "})
	require.Error(t, err)
	assert.Equal(t, apperr.KindAnalysisFailed, apperr.KindOf(err))
	assert.Empty(t, client.calls)
}

func TestAnalyze_TruncatesLongTranscript(t *testing.T) {
	client := &fakeClient{responses: map[llm.ModelTier]string{llm.TierStandard: goodResponse}}
	a := New(client, 1000, nil)

	_, err := a.Analyze(context.Background(), Request{Transcript: englishTranscript + "TAIL-MARKER"})
	require.NoError(t, err)

	prompt := client.prompts[0]
	assert.Contains(t, prompt, "first 1000 characters")
	assert.NotContains(t, prompt, "TAIL-MARKER")
}

func TestAnalyze_UsesLanguageSpecificInstruction(t *testing.T) {
	spanish := strings.Repeat("Hoy vamos a hablar de por qué el banco central subió los tipos de interés y qué significa para usted. ", 20)
	client := &fakeClient{responses: map[llm.ModelTier]string{llm.TierStandard: goodResponse}}

	result, err := New(client, 0, nil).Analyze(context.Background(), Request{Transcript: spanish})
	require.NoError(t, err)
	assert.Equal(t, "es", result.LanguageCode)
	assert.Contains(t, client.prompts[0], "español")
}

func TestNormalize_Limits(t *testing.T) {
	var bullets, claims []string
	for i := 0; i < 10; i++ {
		bullets = append(bullets, fmt.Sprintf("%q", fmt.Sprintf("bullet %d", i)))
		claims = append(claims, fmt.Sprintf(`{"text": "claim %d", "confidence": -5, "spot_checks": [
			{"url": "u1", "summary": "s"}, {"url": "u2", "summary": "s"}, {"url": "", "summary": ""},
			{"url": "u3", "summary": "s"}, {"url": "u4", "summary": "s"}]}`, i))
	}
	raw := fmt.Sprintf(`{"one_liner": " x ", "bullet_points": [%s], "trust_score": 0, "claims": [{"text": " "}, %s]}`,
		strings.Join(bullets, ","), strings.Join(claims, ","))

	result, err := parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "x", result.OneLiner)
	assert.Len(t, result.BulletPoints, MaxBullets)
	require.Len(t, result.Claims, MaxClaims)
	assert.Equal(t, "claim 0", result.Claims[0].Text)
	for _, c := range result.Claims {
		assert.Equal(t, 0, c.Confidence)
		assert.Len(t, c.SpotChecks, MaxSpotChecks)
		assert.Equal(t, "u3", c.SpotChecks[2].URL)
	}
	assert.NotNil(t, result.Outline)
	assert.NotNil(t, result.TrustSignals)
}

func TestTruncate(t *testing.T) {
	s, cut := Truncate("héllo wörld", 5)
	assert.True(t, cut)
	assert.Equal(t, "héllo", s)

	s, cut = Truncate("short", 10)
	assert.False(t, cut)
	assert.Equal(t, "short", s)

	s, cut = Truncate("ééé", 3)
	assert.False(t, cut)
	assert.Equal(t, "ééé", s)
}

func TestDetectLanguage_FallsBackToTitle(t *testing.T) {
	lang := DetectLanguage("", "Pourquoi les banques centrales ont augmenté les taux", "Une explication de la situation et des enjeux pour les ménages")
	assert.Equal(t, "fr", lang.Code)

	lang = DetectLanguage("", "", "")
	assert.Equal(t, "en", lang.Code)
}
