package controllers

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/phillip/shared-calendar/ics"
	"github.com/phillip/shared-calendar/services"
)

// ---------------- FEED ----------------
func CalendarFeed(svc *services.CalendarService, exporter ics.Exporter, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		window, err := parseWindow(c, svc.Location())
		if err != nil {
			respondError(c, log, err)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()

		events, err := svc.BaseEvents(ctx, viewerFrom(c), window)
		if err != nil {
			respondError(c, log, err)
			return
		}

		var buf bytes.Buffer
		if err := exporter.Write(&buf, events); err != nil {
			respondError(c, log, err)
			return
		}
		c.Header("Content-Disposition", `attachment; filename="calendar.ics"`)
		c.Data(http.StatusOK, "text/calendar; charset=utf-8", buf.Bytes())
	}
}

// ---------------- HEALTH ----------------
func Health(ping func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
