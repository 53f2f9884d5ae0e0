package api

import (
	"errors"
	"net/http"

	"github.com/davidahmann/xaidecide/internal/contextstore"
	"github.com/davidahmann/xaidecide/internal/decision"
	"github.com/davidahmann/xaidecide/internal/intake"
	"github.com/davidahmann/xaidecide/internal/policy"
	"github.com/davidahmann/xaidecide/internal/review"
	"github.com/davidahmann/xaidecide/pkg/types"
)

var badRequest = []error{
	types.ErrInvalidDomain,
	review.ErrInvalidDecision,
	review.ErrEmptyExplanation,
	contextstore.ErrEmptyPolicy,
	decision.ErrBatchTooLarge,
	policy.ErrUnsupportedFormat,
	policy.ErrInvalidUpload,
	intake.ErrUnsupportedFormat,
	intake.ErrInvalidFile,
	intake.ErrNoApplicants,
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	for _, target := range badRequest {
		if errors.Is(err, target) {
			return http.StatusBadRequest
		}
	}
	switch {
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, review.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
