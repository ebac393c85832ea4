package controllers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	models "github.com/phillip/shared-calendar/models"
	"github.com/phillip/shared-calendar/recurrence"
	"github.com/phillip/shared-calendar/repository"
	"github.com/phillip/shared-calendar/services"
	utils "github.com/phillip/shared-calendar/utils"
)

// respondError maps service errors onto status codes.
func respondError(c *gin.Context, log *slog.Logger, err error) {
	var partial *recurrence.PartialSplitFailure
	switch {
	case errors.As(err, &partial):
		log.Error("partial split", "request_id", c.GetString("request_id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":         "the series was only partly updated",
			"patchApplied":  partial.PatchApplied,
			"createApplied": partial.CreateApplied,
			"rolledBack":    partial.RolledBack,
			"journaled":     partial.Journaled,
		})
	case errors.Is(err, recurrence.ErrUnknownMutationChoice),
		errors.Is(err, recurrence.ErrInvalidOccurrenceID),
		errors.Is(err, recurrence.ErrInvalidWindow),
		errors.Is(err, recurrence.ErrEndBeforeStart),
		errors.Is(err, services.ErrInvalidInput),
		errors.Is(err, utils.ErrImagesDisabled):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "you do not have access to this event"})
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, recurrence.ErrNotAnOccurrence):
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
	case errors.Is(err, repository.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Error("request failed", "request_id", c.GetString("request_id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func viewerFrom(c *gin.Context) services.Viewer {
	return services.Viewer{
		UserID: c.GetString("user_id"),
		Role:   models.Role(c.GetString("role")),
	}
}
