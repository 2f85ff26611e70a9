package http

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/zignalhq/zignal-backend/internal/http/handlers"
	httpMW "github.com/zignalhq/zignal-backend/internal/http/middleware"
	"github.com/zignalhq/zignal-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	FileHandler   *httpH.FileHandler
	HealthHandler *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		if cfg.FileHandler != nil {
			api.POST("/files", cfg.FileHandler.Upload)
			api.GET("/files/:id", cfg.FileHandler.Get)
			api.POST("/files/:id/retry", cfg.FileHandler.Retry)
		}
	}

	return r
}
