package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/chongs12/learning-rag/internal/document"
	"github.com/chongs12/learning-rag/internal/rag_query"
	"github.com/chongs12/learning-rag/internal/vector"
	"github.com/chongs12/learning-rag/pkg/metrics"
	"github.com/chongs12/learning-rag/pkg/middleware"
	"github.com/chongs12/learning-rag/pkg/utils"
)

const serviceName = "api"

// Routes is the set of handlers mounted by the api binary.
type Routes struct {
	Documents *document.Handler
	Vectors   *vector.Handler
	RAG       *rag_query.Handler
	// Checks back /ready; each is called with a short deadline.
	Checks map[string]func(context.Context) error
}

// Routes builds the handlers for the container's services.
func (c *Container) Routes() Routes {
	return Routes{
		Documents: document.NewHandler(c.Documents),
		Vectors:   vector.NewHandler(c.Vectors),
		RAG:       rag_query.NewHandler(c.Query, c.Ask),
		Checks:    c.readinessChecks(),
	}
}

func (c *Container) readinessChecks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{}
	if c.DB != nil {
		checks["database"] = c.DB.Ping
	}
	if c.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return c.Redis.Ping(ctx).Err() }
	}
	return checks
}

func readyHandler(checks map[string]func(context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		results := gin.H{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = err.Error()
				continue
			}
			results[name] = "ok"
		}
		c.JSON(status, gin.H{"ready": status == http.StatusOK, "checks": results})
	}
}

// NewRouter mounts health, metrics and every API group behind JWT auth.
func NewRouter(mode string, jwt *utils.JWTManager, reg *prometheus.Registry, routes Routes) *gin.Engine {
	if mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(otelgin.Middleware(serviceName))
	hm := metrics.NewHTTPMetrics(reg, metrics.Namespace, serviceName)
	router.Use(metrics.MetricsMiddleware(serviceName, hm))
	router.GET("/metrics", gin.WrapH(metrics.MetricsHandler(reg)))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": serviceName, "timestamp": time.Now().Unix()})
	})
	router.GET("/ready", readyHandler(routes.Checks))

	auth := middleware.NewAuthMiddleware(jwt)
	routes.Documents.SetupRoutes(router, auth)
	routes.Vectors.SetupRoutes(router, auth)
	routes.RAG.SetupRoutes(router, auth)
	return router
}
