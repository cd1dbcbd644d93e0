package llm

import (
	"errors"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"

	"github.com/jonathan/tubetrust/internal/apperr"
)

// ErrEmptyResponse is returned when the provider answered without any text.
var ErrEmptyResponse = errors.New("empty response from model")

// Classify maps a provider error to an analysis failure reason. This is the
// one place provider error text is inspected.
func Classify(err error) apperr.Reason {
	if err == nil {
		return apperr.ReasonNone
	}
	if errors.Is(err, ErrEmptyResponse) {
		return apperr.ReasonIncompleteResponse
	}

	msg := strings.ToLower(err.Error())

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return apperr.ReasonAuth
		case http.StatusTooManyRequests:
			if mentionsQuota(msg) {
				return apperr.ReasonQuotaExceeded
			}
			return apperr.ReasonRateLimited
		}
	}

	switch {
	case strings.Contains(msg, "api key not valid"),
		strings.Contains(msg, "invalid_api_key"),
		strings.Contains(msg, "incorrect api key"),
		strings.Contains(msg, "permission_denied"),
		strings.Contains(msg, "unauthenticated"),
		strings.Contains(msg, "status code: 401"):
		return apperr.ReasonAuth
	case mentionsQuota(msg):
		return apperr.ReasonQuotaExceeded
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "status code: 429"):
		return apperr.ReasonRateLimited
	}
	return apperr.ReasonProviderError
}

func mentionsQuota(msg string) bool {
	return strings.Contains(msg, "quota") ||
		strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "resource has been exhausted")
}

// AnalysisError wraps a provider error as an AnalysisFailed error with its
// user-facing message.
func AnalysisError(err error) *apperr.Error {
	reason := Classify(err)
	return apperr.Wrap(apperr.KindAnalysisFailed, reason, err, "%s", apperr.UserMessage(apperr.KindAnalysisFailed, reason))
}
