package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/obrasoft/aigateway/internal/api"
	"github.com/obrasoft/aigateway/internal/config"
	"github.com/obrasoft/aigateway/internal/gateway"
	"github.com/obrasoft/aigateway/internal/metrics"
	"github.com/obrasoft/aigateway/internal/upstream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the AI gateway server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if cfg.Upstream.APIKey == "" {
		slog.Warn("no OpenAI API key configured; upstream calls will fail")
	}
	if cfg.AI.CostSaver {
		slog.Info("cost-saver mode active; output and cache limits are clamped")
	}

	client := upstream.NewClient(cfg.Upstream.APIKey, cfg.Upstream.BaseURL, cfg.Upstream.Timeout)

	gw := gateway.New(cfg, client)
	m := metrics.New()
	gw.SetMetrics(m)

	router := api.NewRouter(api.RouterDeps{
		Gateway: gw,
		Metrics: m,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", cfg.Addr(), "model", cfg.Upstream.Model, "price_model", cfg.Upstream.PriceModel)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	return srv.Shutdown(shutdownCtx)
}
