package bootstrap

import (
	"strings"
	"time"

	"triage_server/adapter/in/http"
	"triage_server/config"
	"triage_server/infra/middleware"
	"triage_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

func NewAPI(cfg *config.Config) (*fiber.App, func(), error) {
	logLevel := logger.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = logger.LevelDebug
	}
	logger.Init(logger.Config{
		Level:   logLevel,
		Service: "triage-api",
	})

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, err
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		StrictRouting:         false,
		CaseSensitive:         false,

		ReadBufferSize:  16384,
		WriteBufferSize: 16384,

		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		// Mail bodies can be large; anything beyond this is rejected.
		BodyLimit: 10 * 1024 * 1024,

		ServerHeader:       "",
		DisableDefaultDate: true,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.SecurityHeaders())
	app.Use(middleware.ValidateContentType())
	app.Use(middleware.RequestLogger())

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	// CORS. Credentials require explicit origins, never "*".
	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	allowCredentials := true
	if allowOrigins == "" || allowOrigins == "*" {
		if cfg.IsProduction() {
			allowOrigins = ""
			allowCredentials = false
		} else {
			allowOrigins = "http://localhost:3000"
		}
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders:    "X-Request-ID,X-RateLimit-Limit,X-RateLimit-Remaining,X-RateLimit-Reset",
		AllowCredentials: allowCredentials,
		MaxAge:           86400,
	}))

	// Health check (no auth required)
	healthHandler := http.NewHealthHandler(deps.DB, deps.Redis, deps.Watchdog)
	healthHandler.Register(app)

	// API routes (auth and rate limiting)
	api := app.Group("/api/v1")

	// Auth first: the limiter keys on the client id the JWT middleware
	// stores in locals, and only falls back to the source IP unauthenticated.
	api.Use(middleware.JWTAuth(cfg.JWTSecret))
	rateLimiter := middleware.NewRateLimiter(120, time.Minute)
	api.Use(rateLimiter.Handler())

	messageHandler := http.NewMessageHandler(deps.Pipeline, deps.MessageRepo, deps.DraftRepo, deps.EventRepo)
	messageHandler.Register(api)

	logger.Info("API server initialized")

	return app, cleanup, nil
}
