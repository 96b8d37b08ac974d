package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type enrollRequest struct {
	Tier        string `json:"tier" binding:"required"`
	UTMSource   string `json:"utm_source"`
	UTMCampaign string `json:"utm_campaign"`
}

func (s *Server) EnrollSubscriber(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var req enrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	sub, err := s.subscriberSvc.Enroll(c.Request.Context(), id, req.Tier, req.UTMSource, req.UTMCampaign)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

type offerShownRequest struct {
	Tier        string `json:"tier" binding:"required"`
	AmountCents int64  `json:"amount_cents" binding:"required"`
}

func (s *Server) RecordOfferShown(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var req offerShownRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.paymentSvc.RecordOfferShown(c.Request.Context(), id, req.Tier, req.AmountCents); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) GetSubscriberStatus(c *gin.Context) {
	status, err := s.subscriberSvc.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) ResetSubscriber(c *gin.Context) {
	if err := s.subscriberSvc.Reset(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
