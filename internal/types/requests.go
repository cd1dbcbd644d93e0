package types

import (
	"github.com/go-playground/validator/v10"
)

// AnalyzeRequest is the body of a submission.
type AnalyzeRequest struct {
	URL string `json:"url" validate:"required,url,max=2048"`
}

// ForceFailRequest lists the jobs an operator wants moved to FAILED.
type ForceFailRequest struct {
	JobIDs []string `json:"job_ids" validate:"required,min=1,max=100,dive,required,max=64"`
	Reason string   `json:"reason,omitempty" validate:"max=500"`
}

// Validate validates the AnalyzeRequest using the validator.
func (r *AnalyzeRequest) Validate() error {
	return validator.New().Struct(r)
}

// Validate validates the ForceFailRequest using the validator.
func (r *ForceFailRequest) Validate() error {
	return validator.New().Struct(r)
}
