// Command worldviz serves the read-only world view on its own, for running a
// visualization next to a simulation driven elsewhere.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nidhogg/hamlet/internal/api"
	"github.com/nidhogg/hamlet/internal/config"
	"github.com/nidhogg/hamlet/internal/store"
)

func main() {
	cfgPath := flag.String("config", "configs/world.yaml", "config file")
	port := flag.Int("port", 0, "listen port (0 = config value)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadOrDefault(*cfgPath)
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()
	if err != nil {
		logger.Warn("config not loaded, using defaults", zap.String("path", *cfgPath), zap.Error(err))
	}

	st, err := store.New(cfg.Database.Postgres.DSN, logger)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer st.Close()

	listen := cfg.Server.Port
	if *port > 0 {
		listen = *port
	}
	if listen == 0 {
		listen = 8080
	}

	handler := api.NewHandler(st, logger)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", listen),
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("world view listening", zap.Int("port", listen))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	srv.Shutdown(context.Background())
}
