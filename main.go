package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"

	"github.com/qingyh6/ai/handler"
	"github.com/qingyh6/ai/helper"
	"github.com/qingyh6/ai/helper/llm"
	"github.com/qingyh6/ai/log"
	"github.com/qingyh6/ai/model"
	"github.com/qingyh6/ai/store"
)

func init() {
	os.Setenv("APP_NAME", "ai-code-review-helper")
	logger := log.InitLogger(false)
	// Check if KUBERNETES_SERVICE_HOST is set
	if _, exists := os.LookupEnv("KUBERNETES_SERVICE_HOST"); !exists {
		// If not in Kubernetes, set LOG_LEVEL to DEBUG
		os.Setenv("LOG_LEVEL", "DEBUG")
	}
	logger.SetLevel(log.GetLogLevel("LOG_LEVEL"))
}

func main() {
	var cfg model.Config
	helper.LoadConfigFile(&cfg)

	st, err := store.New(cfg.Redis)
	if err != nil {
		log.Fatalf("Cannot start without the store: %v", err)
	}
	if err := st.LoadConfigsFromStore(context.Background()); err != nil {
		log.Errorf("Failed to load repo configs from the store: %v", err)
	}

	factory := llm.NewFactory(&cfg)
	notifier := helper.NewNotifier(cfg.Notify, nil)
	pool := handler.NewWorkerPool(cfg.WorkerCount)
	defer pool.Shutdown()

	orchestrator := &handler.ReviewOrchestrator{
		Store:     st,
		Providers: factory,
		Notifier:  notifier,
		Pool:      pool,
	}

	e := echo.New()
	e.HideBanner = true

	webhookHandler := handler.WebhookReviewHandler{
		Store:        st,
		Orchestrator: orchestrator,
		Cfg:          &cfg,
	}
	webhookHandler.Register(e)

	adminHandler := handler.ConfigAdminHandler{
		Store:    st,
		Factory:  factory,
		Cfg:      &cfg,
		Notifier: notifier,
	}
	adminHandler.Register(e)

	janitor := handler.JanitorHandler{Store: st}
	if err := janitor.Start(); err != nil {
		log.Errorf("Failed to start janitor scheduler: %v", err)
	}
	defer janitor.Stop()

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	e.Logger.Fatal(e.Start(addr))
}
