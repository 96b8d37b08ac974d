package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/dripflow/internal/audit/domain"
)

func (s *Server) ListAuditLogs(c *gin.Context) {
	filter := auditdomain.ListFilter{
		SubscriberID: strings.TrimSpace(c.Query("subscriber_id")),
		EventName:    strings.TrimSpace(c.Query("event_name")),
	}
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		filter.Limit = limit
	}
	if t, ok := parseTimeQuery(c, "start_at"); ok {
		filter.StartAt = t
	} else if c.IsAborted() {
		return
	}
	if t, ok := parseTimeQuery(c, "end_at"); ok {
		filter.EndAt = t
	} else if c.IsAborted() {
		return
	}

	entries, err := s.auditSvc.List(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"audit_logs": entries})
}

func parseTimeQuery(c *gin.Context, key string) (*time.Time, bool) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return nil, false
	}
	return &t, true
}
