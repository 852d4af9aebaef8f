// Command mcp-server exposes the symcore tools over HTTP for agent
// frameworks.
//
//	mcp-server --port 8080 --config symcore.yaml --redis localhost:6379
//
// Tool calls are POSTed to /tool; GET /schema returns the tool schema.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/njchilds90/symcore"
	"github.com/njchilds90/symcore/internal/logging"
	"github.com/njchilds90/symcore/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "mcp-server",
	Short: "Serve the symcore tool interface over HTTP",
	Long: `mcp-server runs a pool of symbolic-math kernels behind a JSON tool
endpoint, with Prometheus metrics and a keyed expression store.`,
	RunE: serve,
}

func init() {
	f := rootCmd.Flags()
	f.IntP("port", "p", 8080, "Port to listen on")
	f.StringP("config", "c", "", "YAML kernel config file")
	f.Int("workers", 0, "Kernels in the pool (overrides the config)")
	f.String("log-level", "", "debug, info, warn or error (overrides the config)")
	f.String("redis", "", "Redis address for the expression store; in-memory when empty")
	f.String("redis-password", "", "Redis password")
	f.Int("redis-db", 0, "Redis database")
	f.Duration("store-ttl", 0, "Expiry of stored expressions; 0 keeps them")
	f.Duration("shutdown-timeout", 5*time.Second, "Deadline for in-flight requests on shutdown")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	port, _ := flags.GetInt("port")
	configPath, _ := flags.GetString("config")
	workers, _ := flags.GetInt("workers")
	levelName, _ := flags.GetString("log-level")
	redisAddr, _ := flags.GetString("redis")
	redisPassword, _ := flags.GetString("redis-password")
	redisDB, _ := flags.GetInt("redis-db")
	ttl, _ := flags.GetDuration("store-ttl")
	grace, _ := flags.GetDuration("shutdown-timeout")

	cfg := symcore.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = symcore.LoadConfig(configPath); err != nil {
			return err
		}
	}
	if workers > 0 {
		cfg.Workers = workers
	}
	if levelName != "" {
		cfg.LogLevel = levelName
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log := logging.New(level)

	reg := prometheus.NewRegistry()
	metrics, err := symcore.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}
	pool, err := symcore.NewPool(cfg, max(cfg.Workers, 1), symcore.WithLogger(log), symcore.WithMetrics(metrics))
	if err != nil {
		return err
	}
	defer pool.Close()

	var exprs store.Store = store.NewMemory()
	if redisAddr != "" {
		rs := store.NewRedis(redisAddr, redisPassword, redisDB, store.WithTTL(ttl))
		defer rs.Close()
		exprs = rs
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           newHandler(&server{pool: pool, store: exprs, log: log, gatherer: reg}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", srv.Addr, "workers", pool.Size(), "redis", redisAddr != "")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case sig := <-shutdown:
		log.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn("graceful shutdown did not complete", "timeout", grace, "err", err)
			return srv.Close()
		}
	}
	return nil
}
