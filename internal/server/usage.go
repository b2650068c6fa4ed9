package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/snapmeta-ai/snapmeta/internal/identity"
	usagedomain "github.com/snapmeta-ai/snapmeta/internal/usage/domain"
	"go.uber.org/zap"
)

// operationResponse is the wire envelope every ledger operation returns
// (current-image-count excepted, which is a bare integer). Data is always
// serialized: an empty result set must stay distinguishable from a
// response that carries no result field.
type operationResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func (s *Server) RecordUsage(c *gin.Context) {
	var req usagedomain.RecordUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	ctx := c.Request.Context()

	if s.limiter.Enabled() {
		userID := identity.Resolve(ctx, req.UserID)
		res, err := s.limiter.AllowUser(ctx, userID)
		switch {
		case err != nil:
			// Limiter outage must not block ingest.
			s.log.Warn("ingest limiter unavailable", zap.Error(err))
		case !res.Allowed:
			if res.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())+1))
			}
			AbortWithError(c, ErrRateLimited)
			return
		}
	}

	record, err := s.usagesvc.Record(ctx, req)
	if err != nil {
		c.JSON(http.StatusOK, operationResponse{Success: false, Error: recordErrorMessage(err)})
		return
	}

	c.JSON(http.StatusOK, operationResponse{Success: true, Data: record.ID.String()})
}

func (s *Server) RecentUsage(c *gin.Context) {
	records, err := s.usagesvc.RecentUsage(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusOK, operationResponse{Success: false, Error: "Failed to retrieve usage data"})
		return
	}
	c.JSON(http.StatusOK, operationResponse{Success: true, Data: records})
}

func (s *Server) UserRecentUsage(c *gin.Context) {
	result, err := s.usagesvc.UserRecentUsage(c.Request.Context(), c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusOK, operationResponse{Success: false, Error: "Failed to retrieve user usage data"})
		return
	}
	c.JSON(http.StatusOK, operationResponse{
		Success: true,
		Data:    result.Records,
		Message: result.Message,
	})
}

func (s *Server) CurrentImageCount(c *gin.Context) {
	count := s.usagesvc.CurrentImageCount(c.Request.Context(), c.Param("userId"))
	c.JSON(http.StatusOK, count)
}

func (s *Server) DailyUserUsage(c *gin.Context) {
	daily, err := s.usagesvc.DailyUserUsage(c.Request.Context(), c.Param("userId"), usagedomain.DateRange{
		StartDate: c.Query("start_date"),
		EndDate:   c.Query("end_date"),
	})
	if err != nil {
		c.JSON(http.StatusOK, operationResponse{Success: false, Error: "Failed to get daily user usage"})
		return
	}
	c.JSON(http.StatusOK, operationResponse{Success: true, Data: daily})
}

func (s *Server) ModelUsageStats(c *gin.Context) {
	stats, err := s.usagesvc.ModelUsageStats(c.Request.Context(), usagedomain.DateRange{
		StartDate: c.Query("start_date"),
		EndDate:   c.Query("end_date"),
	})
	if err != nil {
		c.JSON(http.StatusOK, operationResponse{Success: false, Error: "Failed to get model usage stats"})
		return
	}
	c.JSON(http.StatusOK, operationResponse{Success: true, Data: stats})
}

func (s *Server) ClearUsage(c *gin.Context) {
	if err := s.usagesvc.Clear(c.Request.Context()); err != nil {
		c.JSON(http.StatusOK, operationResponse{Success: false, Error: "Failed to clear usage data"})
		return
	}
	c.JSON(http.StatusOK, operationResponse{Success: true, Message: "All usage data cleared"})
}

func recordErrorMessage(err error) string {
	switch {
	case errors.Is(err, usagedomain.ErrInvalidModelName):
		return "Invalid model name"
	case errors.Is(err, usagedomain.ErrInvalidImageCount):
		return "Invalid image count"
	default:
		return "Failed to add usage data"
	}
}
