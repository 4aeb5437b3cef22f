package api

import (
	"log/slog"
	"net/http"

	_ "tutorials/backend/docs" // register generated Swagger spec

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Options control the connection-independent part of the router.
type Options struct {
	ServiceName  string
	EnableCORS   bool
	RateLimit    float64
	RateBurst    int
	MaxBodyBytes int64
	Health       healthService
	Readiness    readiness
}

// NewEngine returns the bare application engine. Middleware and routes are
// added later by Configure and MountTutorials.
func NewEngine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	return gin.New()
}

// Configure registers the middleware chain and every route that does not
// need the database. The order is:
//  1. Recovery
//  2. RequestID
//  3. Tracing
//  4. RequestLogger
//  5. Metrics
//  6. PermissiveCORS (when enabled)
//  7. RateLimit (when rps > 0)
//  8. BodyLimit
func Configure(engine *gin.Engine, opts Options) {
	if opts.ServiceName == "" {
		opts.ServiceName = "tutorials"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}

	engine.Use(Recovery(slog.Default()))
	engine.Use(RequestID())
	engine.Use(Tracing(opts.ServiceName))
	engine.Use(RequestLogger(slog.Default()))
	engine.Use(Metrics())
	if opts.EnableCORS {
		engine.Use(PermissiveCORS())
	}
	if opts.RateLimit > 0 {
		engine.Use(RateLimit(opts.RateLimit, opts.RateBurst))
	}
	engine.Use(BodyLimit(opts.MaxBodyBytes))

	h := &Handler{health: opts.Health, readiness: opts.Readiness}

	engine.GET("/", h.Welcome)
	engine.GET("/health", h.Health)
	engine.GET("/health/deep", h.DeepHealth)
	engine.GET("/ready", h.Ready)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	engine.GET("/api-docs", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/api-docs/index.html")
	})
	engine.GET("/api-docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
}

// MountTutorials registers the tutorial resource under /api/tutorials.
func MountTutorials(engine *gin.Engine, svc tutorialService) {
	h := &TutorialHandler{svc: svc}

	g := engine.Group("/api/tutorials")
	g.POST("", h.Create)
	g.GET("", h.FindAll)
	g.GET("/published", h.FindAllPublished)
	g.GET("/:id", h.FindOne)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
	g.DELETE("", h.DeleteAll)
}
