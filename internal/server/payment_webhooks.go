package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	ierr "github.com/smallbiznis/payflow/internal/errors"
	paymentdomain "github.com/smallbiznis/payflow/internal/payment/domain"
)

const maxWebhookBodyBytes = 1 << 20

var signatureHeaders = map[string]string{
	"stripe": "Stripe-Signature",
}

const defaultSignatureHeader = "X-Signature"

func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.ToLower(strings.TrimSpace(c.Param("provider")))
	if provider != s.adapter.Provider() {
		AbortWithError(c, ierr.NewErrorf("no webhook endpoint for provider %q", provider).
			WithHintf("Unknown payment provider: %s", provider).
			Mark(paymentdomain.ErrProviderNotFound, ierr.ErrNotFound))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		AbortWithError(c, invalidRequestError(err))
		return
	}

	ack, err := s.webhookSvc.IngestWebhook(c.Request.Context(), payload, c.GetHeader(signatureHeader(provider)))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, ack)
}

func signatureHeader(provider string) string {
	if header, ok := signatureHeaders[provider]; ok {
		return header
	}
	return defaultSignatureHeader
}
