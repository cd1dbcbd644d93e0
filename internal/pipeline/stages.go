package pipeline

import (
	"time"

	"github.com/jonathan/tubetrust/internal/config"
)

// Stage names, used in logs and progress events.
const (
	StageMetadata   = "metadata"
	StageTranscript = "transcript"
	StageAnalysis   = "analysis"
	StagePersist    = "persist"
)

// Stages lists the stages of a full run in execution order.
var Stages = []string{StageMetadata, StageTranscript, StageAnalysis, StagePersist}

// Budgets holds the wall-clock limits for a run.
type Budgets struct {
	// Run is the global deadline for one run, start to terminal state.
	Run                time.Duration
	Stage              map[string]time.Duration
	MaxDurationMinutes int
}

// BudgetsFromConfig derives run budgets from the pipeline config.
func BudgetsFromConfig(p config.PipelineConfig) Budgets {
	return Budgets{
		Run: p.RunBudget(),
		Stage: map[string]time.Duration{
			StageMetadata:   p.MetadataTimeout,
			StageTranscript: p.TranscriptTimeout,
			StageAnalysis:   p.AnalysisTimeout,
			StagePersist:    p.PersistTimeout,
		},
		MaxDurationMinutes: p.MaxDurationMinutes,
	}
}

func (b Budgets) stage(name string) time.Duration {
	if d, ok := b.Stage[name]; ok && d > 0 {
		return d
	}
	return b.Run
}

// Event reports progress through a run.
type Event struct {
	JobID   string
	Stage   string
	Status  string // "started", "completed", "skipped" or "failed"
	Message string
	Elapsed time.Duration
}

// Observer receives progress events. It must not block.
type Observer func(Event)
