package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chongs12/learning-rag/internal/app"
	"github.com/chongs12/learning-rag/pkg/logger"
	"github.com/chongs12/learning-rag/pkg/metrics"
	"github.com/chongs12/learning-rag/pkg/utils"
)

func main() {
	ctx := context.Background()
	logger.Init()

	c, err := app.New(ctx, app.RoleAPI)
	if err != nil {
		fmt.Printf("Failed to initialize services: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()
	cfg := c.Config

	jwt := utils.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Issuer)
	router := app.NewRouter(cfg.Server.Mode, jwt, metrics.DefaultRegistry(), c.Routes())

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		// 不设置 WriteTimeout，避免中断流式回答
	}
	go func() {
		logger.WithFields(logrus.Fields{"event_type": "startup", "port": cfg.Server.Port}).Info("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Failed to start server")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	logger.Info("Server exited")
}
