package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/heartmarshall/tenantkit/internal/config"
	"github.com/heartmarshall/tenantkit/internal/metrics"
	"github.com/heartmarshall/tenantkit/internal/transport/rest"
)

// Run is the application entry point. It loads configuration, connects the
// configured store and cache, and serves HTTP until ctx is cancelled or
// SIGINT/SIGTERM arrives. SIGHUP reloads the configuration; the log level
// follows reloads, every other setting needs a restart.
func Run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level := new(slog.LevelVar)
	logger := NewLogger(cfg.Log, level)

	logger.Info("starting application",
		slog.String("version", BuildVersion()),
		slog.String("log_level", cfg.Log.Level),
		slog.String("store", cfg.Store.Driver),
		slog.String("cache", cfg.Cache.Driver),
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	m := metrics.New()
	resultCache, cachePinger, closeCache, err := openCache(cfg.Cache, logger, m)
	if err != nil {
		return err
	}
	defer closeCache()

	pingers := map[string]rest.Pinger{"store": store}
	if cachePinger != nil {
		pingers["cache"] = cachePinger
	}
	srv, err := NewServer(cfg, Deps{
		Store:   store,
		Cache:   resultCache,
		Metrics: m,
		Pingers: pingers,
	}, logger)
	if err != nil {
		return err
	}
	defer srv.Close()

	holder := config.NewHolder(cfg, nil)
	holder.OnReload(func(next *config.Config) {
		SetLevel(level, next.Log)
		logger.Info("configuration reloaded", slog.String("log_level", next.Log.Level))
	})
	go watchReload(ctx, holder, logger)

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      srv.Handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", httpServer.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", slog.Duration("timeout", cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// watchReload reloads the configuration on every SIGHUP until ctx ends.
func watchReload(ctx context.Context, holder *config.Holder, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if _, err := holder.Reload(); err != nil {
				logger.Error("reload configuration", slog.String("error", err.Error()))
			}
		}
	}
}
