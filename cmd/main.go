package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/k2patel/apcupsd-client/internal/handlers"
	"github.com/k2patel/apcupsd-client/internal/logger"
	"github.com/k2patel/apcupsd-client/internal/repository"
	"github.com/k2patel/apcupsd-client/internal/repository/db"
	"github.com/k2patel/apcupsd-client/internal/server"
	"github.com/k2patel/apcupsd-client/internal/service"
)

func main() {
	// load config.yml first so the log level is configurable
	if err := loadConfig(); err != nil {
		logger.Get(logger.InfoLevel).Fatalw("error reading config", "err", err)
	}
	log := logger.Get(viper.GetString("log_level"))

	// open the SQLite time-series store
	conn, err := openDB(log)
	if err != nil {
		log.Fatalw("failed to init sqlite", "err", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			log.Errorw("failed to close sqlite", "err", cerr)
		}
	}()

	// connect the Redis config store
	rdb, err := openRedis()
	if err != nil {
		log.Fatalw("failed to connect redis", "err", err)
	}
	defer func() { _ = rdb.Close() }()

	// wire dependencies
	repos := repository.NewRepository(conn, rdb)
	services := service.NewService(repos, log, service.Options{
		FallbackNominalWatts: viper.GetFloat64("poll.fallback_nominal_watts"),
		FetchTimeout:         viper.GetDuration("poll.fetch_timeout"),
	})
	apiHandler := handlers.NewHandler(services, log)

	// context for background polling tasks
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pollerDone := make(chan struct{})
	go func() {
		defer close(pollerDone)
		services.Poller.Run(ctx)
	}()

	srv := &server.Server{}
	runHTTPServer(srv, viper.GetString("port"), apiHandler, log)

	waitForShutdown(cancel, pollerDone, srv, log)
}

func loadConfig() error {
	viper.AddConfigPath("configs") // configs/config.yml
	viper.SetConfigName("config")
	return viper.ReadInConfig()
}

func openDB(log *logger.Logger) (*sql.DB, error) {
	dbPath := viper.GetString("db.path")
	if dbPath == "" {
		log.Infow("db.path not set in config; using default file", "default", "ups.db")
		dbPath = "ups.db"
	}
	return db.InitDB(dbPath)
}

func openRedis() (*redis.Client, error) {
	addr := viper.GetString("redis.addr")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   viper.GetInt("redis.db"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// runHTTPServer runs the HTTP server in a separate goroutine.
func runHTTPServer(srv *server.Server, port string, handler *handlers.Handler, log *logger.Logger) {
	go func() {
		if port == "" {
			port = "8080"
		}
		if err := srv.Run(port, handler.InitRoutes()); err != nil {
			log.Fatalw("error starting server", "err", err)
		}
	}()
}

// waitForShutdown listens for termination signals, stops the polling
// tasks (waiting for in-flight pipeline passes) and drains the server.
func waitForShutdown(cancel context.CancelFunc, pollerDone <-chan struct{}, srv *server.Server, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down...")

	cancel()
	<-pollerDone

	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalw("server forced to shutdown", "err", err)
	}
}
