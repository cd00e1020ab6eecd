package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/chaos-io/rembg-api/config"
	"github.com/chaos-io/rembg-api/logger"
	"github.com/chaos-io/rembg-api/rembg"
	"github.com/chaos-io/rembg-api/server"
)

//	@title			Remove Background
//	@version		1.0
//	@description	Upload an image and get it back with the background removed.
//	@BasePath		/
//
//	@securityDefinitions.apikey	ApiKeyAuth
//	@in							header
//	@name						X-API-Key
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	zapLogger := logger.New(cfg.LogLevel)
	defer func() {
		_ = zapLogger.Sync()
	}()
	zap.ReplaceGlobals(zapLogger)

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	remover, err := rembg.New(cfg.Rembg, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to create remover", zap.Error(err))
	}

	probe := server.NewProbe(remover, zapLogger)
	go probe.Check()
	scheduler, err := probe.Schedule(cfg.ProbeSchedule)
	if err != nil {
		zapLogger.Fatal("failed to schedule backend probe", zap.Error(err))
	}

	srv := server.New(remover, probe, zapLogger, server.Options{
		APIKey:         cfg.APIKey,
		StaticDir:      cfg.StaticDir,
		MaxUploadBytes: cfg.MaxUploadBytes(),
	})

	httpServer := &http.Server{
		Addr:    cfg.Addr(),
		Handler: srv.Router(),
	}

	go func() {
		zapLogger.Info("starting server",
			zap.String("addr", cfg.Addr()),
			zap.String("engine", cfg.Rembg.Engine),
			zap.Bool("api_key_configured", cfg.APIKey() != ""),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("shutting down server")
	<-scheduler.Stop().Done()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		zapLogger.Error("server forced to shutdown", zap.Error(err))
	}

	zapLogger.Info("server exited")
}
