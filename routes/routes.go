package routes

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	controllers "github.com/phillip/shared-calendar/controllers"
	"github.com/phillip/shared-calendar/ics"
	middleware "github.com/phillip/shared-calendar/middleware"
	"github.com/phillip/shared-calendar/services"
	utils "github.com/phillip/shared-calendar/utils"
)

// Deps is everything the handlers need.
type Deps struct {
	Calendar    *services.CalendarService
	Auth        *services.AuthService
	Images      utils.ImageStore
	Feed        ics.Exporter
	Logger      *slog.Logger
	CORSOrigins []string
	Ping        func(ctx context.Context) error
}

// NewRouter builds the engine with the shared middleware and all routes.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.RequestLogger(d.Logger),
		gin.Recovery(),
		cors.New(corsConfig(d.CORSOrigins)),
	)
	SetupRoutes(r, d)
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "If-None-Match", middleware.RequestIDHeader},
		ExposeHeaders: []string{"ETag", "Last-Modified", middleware.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cfg
}

func SetupRoutes(r *gin.Engine, d Deps) {
	log := d.Logger

	// public
	r.GET("/health", controllers.Health(d.Ping))
	r.POST("/auth/login", controllers.Login(d.Auth, log))

	// protected
	auth := middleware.RequireAuth(d.Auth)
	admin := middleware.RequireAdmin()
	optional := middleware.OptionalAuth(d.Auth)

	r.GET("/auth/me", auth, controllers.Me())
	r.GET("/feed.ics", optional, controllers.CalendarFeed(d.Calendar, d.Feed, log))

	// Events
	events := r.Group("/events")
	{
		events.GET("", optional, controllers.ListEvents(d.Calendar, log))
		events.GET("/:id", optional, controllers.GetEvent(d.Calendar, log))
		events.POST("", auth, admin, controllers.CreateEvent(d.Calendar, d.Images, log))
		events.PUT("/:id", auth, admin, controllers.UpdateEvent(d.Calendar, log))
		events.DELETE("/:id", auth, admin, controllers.DeleteEvent(d.Calendar, log))
	}
}
