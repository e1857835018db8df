package errors

import (
	"context"
	"errors"
	"time"
)

// Envelope is the boundary shape of every user-visible failure.
type Envelope struct {
	Code            string                 `json:"code"`
	Message         string                 `json:"message"`
	Severity        Severity               `json:"severity"`
	Context         map[string]interface{} `json:"context,omitempty"`
	Timestamp       time.Time              `json:"timestamp"`
	Recoverable     bool                   `json:"recoverable"`
	SuggestedAction string                 `json:"suggestedAction,omitempty"`
}

// ToEnvelope converts any error into an Envelope. Errors that are not AppErrors
// are reported as critical internal failures with a generic message.
func ToEnvelope(err error, now time.Time) Envelope {
	if errors.Is(err, context.DeadlineExceeded) && !IsAppError(err) {
		err = NewTimeoutError("request").WithCause(err)
	}

	appErr := GetAppError(err)
	if appErr == nil {
		return Envelope{
			Code:        string(ErrorTypeInternal),
			Message:     "an internal error occurred",
			Severity:    SeverityCritical,
			Timestamp:   now,
			Recoverable: false,
		}
	}

	code := appErr.Code
	if code == "" {
		code = string(appErr.Type)
	}
	severity := appErr.Severity
	if severity == "" {
		severity = SeverityError
	}

	return Envelope{
		Code:            code,
		Message:         appErr.Message,
		Severity:        severity,
		Context:         appErr.Details,
		Timestamp:       now,
		Recoverable:     appErr.Recoverable,
		SuggestedAction: appErr.SuggestedAction,
	}
}
