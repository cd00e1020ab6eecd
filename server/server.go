package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/chaos-io/rembg-api/docs"
	"github.com/chaos-io/rembg-api/rembg"
)

const docsIndex = "/docs/index.html"

type Options struct {
	// APIKey 每次请求都会调用
	APIKey         func() string
	StaticDir      string
	MaxUploadBytes int64
}

type Server struct {
	opts   Options
	remove *RemoveHandler
	probe  *Probe
	logger *zap.Logger
}

func New(remover rembg.Remover, probe *Probe, logger *zap.Logger, opts Options) *Server {
	return &Server{
		opts:   opts,
		remove: NewRemoveHandler(remover, logger),
		probe:  probe,
		logger: logger,
	}
}

func (s *Server) Router() *gin.Engine {
	router := gin.New()
	if s.opts.MaxUploadBytes > 0 {
		router.MaxMultipartMemory = s.opts.MaxUploadBytes
	}

	router.Use(RequestID())
	router.Use(ginzap.Ginzap(s.logger, time.RFC3339, true))
	router.Use(gin.CustomRecoveryWithWriter(io.Discard, s.recovery))
	router.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", APIKeyHeader, RequestIDHeader},
		ExposeHeaders:    []string{"Content-Disposition", RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusTemporaryRedirect, docsIndex)
	})
	router.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	if s.opts.StaticDir != "" {
		router.Static("/static", s.opts.StaticDir)
	}
	router.GET("/healthz", s.probe.Handle)

	router.PUT("/remove_background/", APIKeyAuth(s.opts.APIKey, s.logger), s.remove.RemoveBackground)

	router.NoRoute(func(c *gin.Context) {
		abortWithError(c, errNotFound)
	})

	return router
}

// recovery 任何 panic 都转成固定的 500 响应
func (s *Server) recovery(c *gin.Context, recovered any) {
	s.logger.Error("panic recovered",
		zap.String(requestIDKey, requestID(c)),
		zap.String("path", c.Request.URL.Path),
		zap.Any("panic", recovered),
		zap.Stack("stack"),
	)
	abortWithError(c, errInternal)
}
