package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/dripflow/internal/payment/gateway"
)

type chargeRequest struct {
	Tier        string `json:"tier" binding:"required"`
	AmountCents int64  `json:"amount_cents"`
}

// CreateCharge asks the gateway fallback chain for a pending charge. The
// amount defaults to the tier's catalog price; discounted offers pass their
// own amount.
func (s *Server) CreateCharge(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var req chargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	tier, err := s.catalog.TierByName(req.Tier)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	amount := req.AmountCents
	if amount <= 0 {
		amount = tier.PriceCents
	}

	charge, err := s.charges.CreateCharge(c.Request.Context(), gateway.ChargeRequest{
		SubscriberID: id,
		Tier:         tier.Name,
		AmountCents:  amount,
		Currency:     tier.Currency,
	})
	if err != nil {
		// Every adapter refused; the client can retry once a provider recovers.
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"provider":       charge.Provider,
		"transaction_id": charge.TransactionID,
		"payment_url":    charge.PaymentURL,
		"expires_at":     charge.ExpiresAt,
	})
}
