package connector

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openidx/connector/internal/calendar"
	apperrors "github.com/openidx/connector/internal/common/errors"
	"github.com/openidx/connector/internal/directory"
	"github.com/openidx/connector/internal/status"
)

// StatusResponse is the status API view: the status record plus the session state
type StatusResponse struct {
	status.Snapshot
	State string `json:"state"`
}

// ProbeResponse reports a successful backend probe
type ProbeResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// RegisterRoutes exposes m on the local status API
func RegisterRoutes(router gin.IRouter, m *Manager) {
	api := router.Group("/api/v1")
	{
		api.GET("/status", func(c *gin.Context) {
			c.JSON(http.StatusOK, statusResponse(m))
		})

		api.POST("/start", func(c *gin.Context) {
			if err := m.Start(c.Request.Context()); err != nil {
				apperrors.HandleError(c, toAppError(err).WithMetadata("state", m.State().String()))
				return
			}
			c.JSON(http.StatusOK, statusResponse(m))
		})

		api.POST("/stop", func(c *gin.Context) {
			m.Stop()
			c.JSON(http.StatusOK, statusResponse(m))
		})

		api.DELETE("/logs", func(c *gin.Context) {
			m.ClearLogs()
			c.Status(http.StatusNoContent)
		})

		api.POST("/test/directory", func(c *gin.Context) {
			if err := m.TestDirectory(c.Request.Context()); err != nil {
				apperrors.HandleError(c, toAppError(err))
				return
			}
			c.JSON(http.StatusOK, ProbeResponse{Success: true, Message: "Directory connection OK"})
		})

		api.POST("/test/calendar", func(c *gin.Context) {
			if err := m.TestCalendar(c.Request.Context()); err != nil {
				apperrors.HandleError(c, toAppError(err))
				return
			}
			c.JSON(http.StatusOK, ProbeResponse{Success: true, Message: "Calendar connection OK"})
		})
	}
}

func statusResponse(m *Manager) StatusResponse {
	return StatusResponse{Snapshot: m.Status(), State: m.State().String()}
}

// toAppError maps connector sentinels onto status API error codes
func toAppError(err error) *apperrors.AppError {
	switch {
	case errors.Is(err, ErrAlreadyRunning):
		return apperrors.AlreadyRunning(err)
	case errors.Is(err, ErrChannelUnavailable), errors.Is(err, ErrSessionStopped):
		return apperrors.ChannelUnavailable(err)
	case errors.Is(err, directory.ErrDirectoryUnavailable):
		return apperrors.DirectoryUnavailable(err)
	case errors.Is(err, calendar.ErrCalendarUnavailable):
		return apperrors.CalendarUnavailable(err)
	case errors.Is(err, ErrSyncTimeout):
		return apperrors.Timeout(err.Error())
	default:
		return apperrors.Internal("Unexpected connector error", err)
	}
}
