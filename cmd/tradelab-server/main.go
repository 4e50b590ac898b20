package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"tradelab/internal/api"
	"tradelab/internal/config"
	"tradelab/internal/store"
	"tradelab/internal/util"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)
	gin.SetMode(gin.ReleaseMode)

	ps := store.NewParquetStore(cfg.Storage.DataDir)
	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening result store: %v", err)
	}
	defer db.Close()

	svc, err := api.NewService(api.ServiceConfig{
		Bars:            ps,
		Runs:            db,
		Curves:          ps,
		Backtest:        cfg.BacktestConfig(),
		Risk:            cfg.RiskParams(),
		Params:          cfg.StrategyParams(),
		Instrument:      cfg.Instrument,
		DefaultStrategy: cfg.Strategy.Name,
	}, logger)
	if err != nil {
		log.Fatalf("building service: %v", err)
	}

	srv := api.NewServer(svc, api.Options{
		HTTPAddr: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		GRPCAddr: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort),
	}, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("tradelab-server starting", "strategies", svc.Strategies(), "data_dir", cfg.Storage.DataDir)
	if err := srv.ListenAndServe(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
	logger.Info("tradelab-server stopped")
}
