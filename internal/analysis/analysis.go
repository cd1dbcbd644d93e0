// Package analysis turns a transcript into a structured summary and trust
// assessment using a language model.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/jonathan/tubetrust/internal/apperr"
	"github.com/jonathan/tubetrust/internal/language"
	"github.com/jonathan/tubetrust/internal/llm"
	"github.com/jonathan/tubetrust/internal/prompts"
	"github.com/jonathan/tubetrust/internal/schemas"
	"github.com/jonathan/tubetrust/internal/types"
)

// Output limits applied after validation.
const (
	MaxBullets    = 7
	MaxClaims     = 5
	MaxSpotChecks = 3
)

// DefaultMaxTranscriptChars is used when the analyzer is built with no limit.
const DefaultMaxTranscriptChars = 30000

// Request is the input to one analysis.
type Request struct {
	SourceURL   string
	Transcript  string
	Title       string
	Description string
}

// Analyzer runs the analysis prompt against an llm.Client.
type Analyzer struct {
	client   llm.Client
	maxChars int
	logger   *slog.Logger
}

// New creates an Analyzer.
func New(client llm.Client, maxChars int, logger *slog.Logger) *Analyzer {
	if maxChars <= 0 {
		maxChars = DefaultMaxTranscriptChars
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{client: client, maxChars: maxChars, logger: logger}
}

// response mirrors the JSON the prompt asks for. Numbers are floats since
// models do not reliably emit integers.
type response struct {
	OneLiner     string   `json:"one_liner"`
	BulletPoints []string `json:"bullet_points"`
	Outline      []string `json:"outline"`
	TrustScore   float64  `json:"trust_score"`
	TrustSignals []string `json:"trust_signals"`
	Claims       []struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
		SpotChecks []struct {
			URL     string `json:"url"`
			Summary string `json:"summary"`
			Verdict string `json:"verdict"`
		} `json:"spot_checks"`
	} `json:"claims"`
}

// DetectLanguage picks the language of the transcript, falling back to the
// title and description when the transcript gives no signal.
func DetectLanguage(transcript, title, description string) language.Result {
	lang := language.Detect(transcript)
	if lang.Confidence > language.Default.Confidence {
		return lang
	}
	if alt := language.Detect(title + " " + description); alt.Confidence > language.Default.Confidence {
		return alt
	}
	return lang
}

// Analyze produces an Analysis for req. Errors are AnalysisFailed with a reason.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (*types.Analysis, error) {
	transcript, truncated := Truncate(req.Transcript, a.maxChars)
	if strings.TrimSpace(transcript) == "" {
		return nil, apperr.New(apperr.KindAnalysisFailed, apperr.ReasonNone, "transcript is empty")
	}

	lang := DetectLanguage(transcript, req.Title, req.Description)
	prompt, err := buildPrompt(req, transcript, truncated, a.maxChars, lang)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindAnalysisFailed, apperr.ReasonNone, err, "failed to build prompt")
	}

	raw, tier, err := a.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	result, err := parse(raw)
	if err != nil {
		return nil, err
	}
	result.SourceURL = req.SourceURL
	result.Language = lang.Name
	result.LanguageCode = lang.Code
	result.Model = a.client.GetModel(tier)

	a.logger.Debug("analysis complete",
		"language", lang.Code,
		"model", result.Model,
		"truncated", truncated,
		"bullets", len(result.BulletPoints),
		"claims", len(result.Claims),
	)
	return result, nil
}

// generate calls the standard tier and, on a quota error only, the lite tier once.
func (a *Analyzer) generate(ctx context.Context, prompt string) (string, llm.ModelTier, error) {
	raw, err := a.client.GenerateJSON(ctx, prompt, llm.TierStandard)
	if err == nil {
		return raw, llm.TierStandard, nil
	}
	if llm.Classify(err) != apperr.ReasonQuotaExceeded || ctx.Err() != nil {
		return "", "", llm.AnalysisError(err)
	}

	a.logger.Warn("primary model out of quota, falling back",
		"primary", a.client.GetModel(llm.TierStandard),
		"fallback", a.client.GetModel(llm.TierLite),
	)
	raw, err = a.client.GenerateJSON(ctx, prompt, llm.TierLite)
	if err != nil {
		return "", "", llm.AnalysisError(err)
	}
	return raw, llm.TierLite, nil
}

func buildPrompt(req Request, transcript string, truncated bool, maxChars int, lang language.Result) (string, error) {
	instruction, _, err := prompts.ForLanguage(prompts.AnalysisFile, "instruction", lang.Code)
	if err != nil {
		return "", err
	}
	template, err := prompts.Get(prompts.AnalysisFile, "analysis-template")
	if err != nil {
		return "", err
	}

	note := ""
	if truncated {
		tmpl, err := prompts.Get(prompts.AnalysisFile, "truncation-note")
		if err != nil {
			return "", err
		}
		note = prompts.Format(tmpl, map[string]string{"Chars": strconv.Itoa(maxChars)}) + "\n"
	}

	return prompts.Format(template, map[string]string{
		"Instruction": prompts.Format(instruction, map[string]string{"LanguageName": lang.Name}),
		"URL":         req.SourceURL,
		"Title":       orUnknown(req.Title),
		"Description": orUnknown(req.Description),
		"Language":    lang.Name,
		"Truncated":   note,
		"Transcript":  transcript,
	}), nil
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(unknown)"
	}
	return s
}

// parse validates raw against the schema and normalizes it.
func parse(raw string) (*types.Analysis, error) {
	raw = llm.CleanJSONBlock(raw)
	if err := schemas.ValidateAnalysis(raw); err != nil {
		var verr *schemas.ValidationError
		if errors.As(err, &verr) {
			return nil, apperr.Wrap(apperr.KindAnalysisFailed, apperr.ReasonIncompleteResponse, err,
				"%s", apperr.UserMessage(apperr.KindAnalysisFailed, apperr.ReasonIncompleteResponse))
		}
		return nil, apperr.Wrap(apperr.KindAnalysisFailed, apperr.ReasonMalformedResponse, err,
			"%s", apperr.UserMessage(apperr.KindAnalysisFailed, apperr.ReasonMalformedResponse))
	}

	var resp response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, apperr.Wrap(apperr.KindAnalysisFailed, apperr.ReasonMalformedResponse, err,
			"%s", apperr.UserMessage(apperr.KindAnalysisFailed, apperr.ReasonMalformedResponse))
	}

	result := normalize(resp)
	if result.OneLiner == "" || len(result.BulletPoints) == 0 {
		return nil, apperr.New(apperr.KindAnalysisFailed, apperr.ReasonIncompleteResponse,
			"%s", apperr.UserMessage(apperr.KindAnalysisFailed, apperr.ReasonIncompleteResponse))
	}
	return result, nil
}

func normalize(resp response) *types.Analysis {
	out := &types.Analysis{
		OneLiner:     strings.TrimSpace(resp.OneLiner),
		BulletPoints: cleanList(resp.BulletPoints, MaxBullets),
		Outline:      cleanList(resp.Outline, 0),
		TrustScore:   clampScore(resp.TrustScore),
		TrustSignals: cleanList(resp.TrustSignals, 0),
		Claims:       []types.Claim{},
	}

	for _, c := range resp.Claims {
		if len(out.Claims) == MaxClaims {
			break
		}
		text := strings.TrimSpace(c.Text)
		if text == "" {
			continue
		}
		claim := types.Claim{Text: text, Confidence: clampScore(c.Confidence), SpotChecks: []types.SpotCheck{}}
		for _, sc := range c.SpotChecks {
			if len(claim.SpotChecks) == MaxSpotChecks {
				break
			}
			check := types.SpotCheck{
				URL:     strings.TrimSpace(sc.URL),
				Summary: strings.TrimSpace(sc.Summary),
				Verdict: strings.ToLower(strings.TrimSpace(sc.Verdict)),
			}
			if check.URL == "" && check.Summary == "" {
				continue
			}
			claim.SpotChecks = append(claim.SpotChecks, check)
		}
		out.Claims = append(out.Claims, claim)
	}
	return out
}

func cleanList(items []string, limit int) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if limit > 0 && len(out) == limit {
			break
		}
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func clampScore(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	return int(math.Round(math.Max(0, math.Min(100, v))))
}

// Truncate cuts s to at most limit runes. It reports whether anything was cut.
func Truncate(s string, limit int) (string, bool) {
	if limit <= 0 || len(s) <= limit {
		return s, false
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i], true
		}
		n++
	}
	return s, false
}
