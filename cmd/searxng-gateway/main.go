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

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nidhogg/proposagent/internal/config"
	"github.com/nidhogg/proposagent/internal/logging"
	"github.com/nidhogg/proposagent/internal/metrics"
	"github.com/nidhogg/proposagent/internal/search"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Must(cfg.Server.LogLevel, cfg.Server.Development)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sc := cfg.Search
	timeout := time.Duration(sc.TimeoutSeconds) * time.Second
	ttl := time.Duration(sc.ExecutionTTLSeconds) * time.Second

	executions := search.NewExecutions(ttl)
	go executions.RunSweeper(ctx, ttl/2)

	gw := search.NewGateway(
		search.NewUpstream(sc.UpstreamURL, timeout),
		executions,
		search.GatewayConfig{RateLimit: sc.RateLimit, Burst: sc.Burst, Timeout: timeout},
		metrics.New(),
		logger.Named("search"),
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", sc.Port),
		Handler:           gw.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("SearXNG gateway listening",
			zap.Int("port", sc.Port),
			zap.String("upstream", sc.UpstreamURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if err := gw.Wait(shutdownCtx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
}
