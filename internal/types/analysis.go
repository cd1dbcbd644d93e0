package types

import "time"

// Analysis is the result of a completed job. It is replaced in place when a
// job is retried.
type Analysis struct {
	JobID        string    `json:"job_id"`
	SourceURL    string    `json:"source_url"`
	OneLiner     string    `json:"one_liner"`
	BulletPoints []string  `json:"bullet_points"`
	Outline      []string  `json:"outline"`
	TrustScore   int       `json:"trust_score"`
	TrustSignals []string  `json:"trust_signals"`
	Language     string    `json:"language"`
	LanguageCode string    `json:"language_code"`
	Model        string    `json:"model,omitempty"`
	Claims       []Claim   `json:"claims"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Claim is a factual statement made in the video.
type Claim struct {
	Text       string      `json:"text"`
	Confidence int         `json:"confidence"`
	SpotChecks []SpotCheck `json:"spot_checks"`
}

// SpotCheck is one source consulted for a claim.
type SpotCheck struct {
	URL     string `json:"url"`
	Summary string `json:"summary"`
	Verdict string `json:"verdict"`
}

// Clone returns a deep copy of a.
func (a *Analysis) Clone() *Analysis {
	if a == nil {
		return nil
	}
	out := *a
	out.BulletPoints = append([]string(nil), a.BulletPoints...)
	out.Outline = append([]string(nil), a.Outline...)
	out.TrustSignals = append([]string(nil), a.TrustSignals...)
	out.Claims = make([]Claim, len(a.Claims))
	for i, c := range a.Claims {
		out.Claims[i] = Claim{
			Text:       c.Text,
			Confidence: c.Confidence,
			SpotChecks: append([]SpotCheck(nil), c.SpotChecks...),
		}
	}
	return &out
}
