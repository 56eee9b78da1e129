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

	"go.uber.org/zap"

	"github.com/kautilya-labs/khata/internal/api"
	"github.com/kautilya-labs/khata/internal/auth"
	"github.com/kautilya-labs/khata/internal/config"
	"github.com/kautilya-labs/khata/internal/notify"
	"github.com/kautilya-labs/khata/internal/service"
	"github.com/kautilya-labs/khata/internal/store"
	"github.com/kautilya-labs/khata/internal/store/memory"
	"github.com/kautilya-labs/khata/internal/store/postgres"
	"github.com/kautilya-labs/khata/internal/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var log *zap.Logger
	if cfg.Env == "development" {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()
	zap.ReplaceGlobals(log)

	ctx := context.Background()

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal("store init failed", zap.Error(err))
	}
	defer st.Close()

	dispatcher := notify.NewDispatcher(notify.NewLogSink(log), log, cfg.NotifyBuffer)
	defer dispatcher.Close()

	svc := service.NewTransferService(st, dispatcher, log)
	handler := api.NewHandler(st, svc, log, cfg.DefaultCurrency)
	router := api.NewRouter(handler, auth.Middleware(cfg.JWTSecret))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("server starting", zap.String("port", cfg.Port), zap.String("driver", cfg.DBDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.DBDriver {
	case "postgres":
		st, err := postgres.New(ctx, cfg.DBSource)
		if err != nil {
			return nil, err
		}
		if err := st.InitSchema(ctx); err != nil {
			st.Close()
			return nil, err
		}
		return st, nil
	case "sqlite":
		return sqlite.New(ctx, cfg.DBSource)
	case "memory":
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
}
