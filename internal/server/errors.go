package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	ierr "github.com/smallbiznis/payflow/internal/errors"
	paymentdomain "github.com/smallbiznis/payflow/internal/payment/domain"
)

type errorPayload struct {
	Type    string   `json:"type"`
	Reason  string   `json:"reason,omitempty"`
	Message string   `json:"message"`
	Hints   []string `json:"hints,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// reasons are ordered most specific first.
var reasons = []error{
	paymentdomain.ErrInvalidSignature,
	paymentdomain.ErrInvalidPayload,
	paymentdomain.ErrInvalidAmount,
	paymentdomain.ErrInvalidCurrency,
	paymentdomain.ErrInvalidAction,
	paymentdomain.ErrInvalidTransition,
	paymentdomain.ErrInvalidPaymentID,
	paymentdomain.ErrPaymentNotFound,
	paymentdomain.ErrProviderNotFound,
	paymentdomain.ErrStatusConflict,
	paymentdomain.ErrAdapterTimeout,
	paymentdomain.ErrMissingExternalID,
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError(err error) error {
	return ierr.WithError(err).
		WithHint("Request body must be a JSON object").
		Mark(ierr.ErrValidation)
}

func mapError(err error) (int, errorPayload) {
	status := ierr.HTTPStatusFromErr(err)
	payload := errorPayload{
		Type:   ierr.Code(err),
		Reason: reasonOf(err),
	}

	if status >= http.StatusInternalServerError && !ierr.IsProcessing(err) {
		// store failures never leak driver detail
		payload.Message = "internal server error"
		return status, payload
	}

	payload.Hints = ierr.Hints(err)
	payload.Message = lo.FirstOr(payload.Hints, http.StatusText(status))
	return status, payload
}

func reasonOf(err error) string {
	reason, ok := lo.Find(reasons, func(candidate error) bool {
		return ierr.Is(err, candidate)
	})
	if !ok {
		return ""
	}
	return reason.Error()
}

// classifyErrorForLog feeds the request log with error_type and error_code.
func classifyErrorForLog(err error) (string, string) {
	return ierr.Code(err), reasonOf(err)
}
