package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/veltoai/founder-launch/internal/ai/gateway"
	"github.com/veltoai/founder-launch/internal/ai/providers"
	"github.com/veltoai/founder-launch/internal/billing"
	"github.com/veltoai/founder-launch/internal/credits"
	internalerrors "github.com/veltoai/founder-launch/internal/errors"
	"github.com/veltoai/founder-launch/internal/logging"
)

// errBadRequest marks request bodies and parameters that do not parse.
var errBadRequest = errors.New("malformed request")

// classifyError attaches an error category to err so the handler can pick a
// status code.
func classifyError(op string, err error) *internalerrors.ServiceError {
	var svcErr *internalerrors.ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}

	switch {
	case gateway.IsQuotaExceeded(err):
		return internalerrors.New(internalerrors.ErrorTypeQuota, op, err)
	case errors.Is(err, ErrInvalidToken):
		return internalerrors.New(internalerrors.ErrorTypeAuth, op, err)
	case errors.Is(err, errBadRequest),
		errors.Is(err, gateway.ErrNoMessages),
		errors.Is(err, gateway.ErrUnknownTask),
		errors.Is(err, providers.ErrUnknownProvider),
		errors.Is(err, credits.ErrInvalidAmount),
		errors.Is(err, credits.ErrUnknownTier),
		errors.Is(err, billing.ErrNoPrice),
		errors.Is(err, billing.ErrUnknownPackage):
		return internalerrors.New(internalerrors.ErrorTypeValidation, op, err)
	case errors.Is(err, credits.ErrNotLoaded),
		errors.Is(err, billing.ErrCheckoutDisabled):
		return internalerrors.New(internalerrors.ErrorTypeUnavailable, op, err)
	}

	if apiErr, ok := providers.AsAPIError(err); ok {
		return internalerrors.New(internalerrors.ErrorTypeUpstream, op, err).WithStatusCode(apiErr.StatusCode)
	}
	return internalerrors.New(internalerrors.ErrorTypeInternal, op, err)
}

// writeServiceError classifies err and writes the error response. Internal
// details are logged, not returned.
func writeServiceError(w http.ResponseWriter, r *http.Request, op, identity string, err error) {
	svcErr := classifyError(op, err).WithIdentity(identity)
	status := internalerrors.HTTPStatus(svcErr)
	code := internalerrors.Code(svcErr)

	message := svcErr.Err.Error()
	var details map[string]string

	var quotaErr *gateway.QuotaExceededError
	if errors.As(err, &quotaErr) {
		message = quotaErr.UserMessage()
		details = map[string]string{
			"tier":      quotaErr.Tier,
			"remaining": strconv.Itoa(quotaErr.Remaining),
			"requested": strconv.Itoa(quotaErr.Requested),
		}
	}
	if apiErr, ok := providers.AsAPIError(err); ok {
		message = "The AI provider could not complete the request"
		details = map[string]string{
			"provider":        apiErr.Provider,
			"upstream_status": strconv.Itoa(apiErr.StatusCode),
			"retryable":       strconv.FormatBool(apiErr.Retryable()),
		}
	}
	if status >= http.StatusInternalServerError {
		logger := logging.FromContext(r.Context())
		logger.Error().
			Err(err).
			Str("op", op).
			Str("identity", identity).
			Bool("retryable", svcErr.Retryable).
			Msg("Request failed")
		if svcErr.Type == internalerrors.ErrorTypeInternal {
			message = "An unexpected error occurred"
		}
	}

	writeErrorResponse(w, status, code, message, details)
}
