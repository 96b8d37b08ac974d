package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/dripflow/pkg/telemetry/correlation"
)

const maxWebhookBody = 1 << 20

func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	c.Set("gateway_provider", provider)

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	ctx, _ := correlation.EnsureCorrelationID(c.Request.Context())
	outcome, err := s.webhookSvc.IngestWebhook(ctx, provider, payload, c.Request.Header)
	if err != nil {
		if isValidationError(err) {
			AbortWithError(c, err)
			return
		}
		// Storage or downstream trouble: tell the provider to retry later.
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	if outcome.Duplicate {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "duplicate": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
