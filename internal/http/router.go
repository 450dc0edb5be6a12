// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/averline/roomchat/internal/config"
	"github.com/averline/roomchat/internal/domain"
	"github.com/averline/roomchat/internal/http/handlers"
	"github.com/averline/roomchat/internal/http/middleware"
	"github.com/averline/roomchat/internal/hub"
	"github.com/averline/roomchat/internal/push"
	"github.com/averline/roomchat/internal/repo"
	"github.com/averline/roomchat/internal/services"
	"github.com/averline/roomchat/internal/storage"
)

// roomRepoShim adapts the repository free functions to the services.RoomRepo
// interface expected by the RoomService. This keeps services decoupled from
// the concrete repo package while reusing existing functions.
type roomRepoShim struct{}

// FindRoomBySlug proxies repo.FindRoomBySlug.
func (roomRepoShim) FindRoomBySlug(ctx context.Context, db *gorm.DB, slug string) (*domain.Room, error) {
	return repo.FindRoomBySlug(ctx, db, slug)
}

// FindRoomByID proxies repo.FindRoomByID.
func (roomRepoShim) FindRoomByID(ctx context.Context, db *gorm.DB, id string) (*domain.Room, error) {
	return repo.FindRoomByID(ctx, db, id)
}

// AddMember proxies repo.AddMember.
func (roomRepoShim) AddMember(ctx context.Context, db *gorm.DB, roomID, userID string) error {
	return repo.AddMember(ctx, db, roomID, userID)
}

// ListMembers proxies repo.ListMembers.
func (roomRepoShim) ListMembers(ctx context.Context, db *gorm.DB, roomID string) ([]domain.User, error) {
	return repo.ListMembers(ctx, db, roomID)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), idempotency and rate
// limiting, CORS and security headers, health and metrics endpoints, the
// realtime WebSocket entry point, and then mounts the versioned public API
// under /api/v*.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter (5 MiB; image attachments ride in-band)
//  6. Metrics
//  7. Identity header → context
//  8. Idempotency validator (before rate limiter to allow bypass on replay)
//  9. Rate limiter (per sender+room, bypass on replay)
//  10. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, hb *hub.Hub, store storage.ObjectStore, gateway push.Gateway, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction (caller identity headers are
	// masked by default; replay keys are sensitive here too)
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			middleware.HeaderIdempotencyKey,
		},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (5 MiB; covers the in-band image payload)
	r.Use(limitBody(5 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Stash the caller identity where downstream middleware reads it
	r.Use(identityFromHeader())

	// 8) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		func(ctx context.Context, userID, roomID, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, userID, roomID, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	))

	// 9) Token-bucket rate limiter, keyed per sender and room so one
	// flooded room cannot starve a sender's other rooms
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyBySenderRoom())
	r.Use(rl.Handler())

	// 10) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// The local attachment driver serves its files straight off disk; S3
	// attachments are fetched from the bucket's public URL instead.
	if cfg.Storage.Driver == "local" {
		r.Static("/uploads", cfg.Storage.LocalPath)
	}

	// Dependency injection: services ← repo/db/hub/storage/push
	roomSvc := services.NewRoomService(db, roomRepoShim{})
	uploader := services.NewUploader(store, cfg.Storage.UploadTimeout)
	notifier := services.NewNotificationService(roomSvc, hb, gateway, cfg.Push.BatchMax)
	msgSvc := &services.MessageService{
		DB:              db,
		Rooms:           roomSvc,
		Uploader:        uploader,
		Hub:             hb,
		Notifier:        notifier,
		MaxTextRunes:    cfg.MaxTextRunes,
		DispatchTimeout: cfg.Push.DispatchTimeout,
	}

	h := handlers.New(roomSvc, msgSvc)
	ws := handlers.NewWSHandler(hb, roomSvc)

	// Realtime entry point, outside the versioned API (and never gzipped).
	r.GET("/ws", ws.Connect)

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	api.Use(gzip.Gzip(gzip.DefaultCompression))
	{
		// Rooms
		api.POST("/rooms/:room/join", h.JoinRoom)
		api.GET("/rooms/:room/members", h.ListRoomMembers)

		// Messages
		api.POST("/rooms/:room/messages", h.PostMessage)
		api.GET("/rooms/:room/messages", h.GetHistory)
	}
}

// identityFromHeader copies the X-User-ID header into the Gin context so
// middleware that predates the handlers (idempotency, rate limiting) sees
// the same identity the handlers resolve.
func identityFromHeader() gin.HandlerFunc {
	return func(c *gin.Context) {
		if v := c.GetHeader("X-User-ID"); v != "" {
			c.Set("userID", v)
		}
		c.Next()
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
