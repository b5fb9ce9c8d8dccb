package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/always-cache/condfetch/authority"
	"github.com/always-cache/condfetch/config"
	"github.com/always-cache/condfetch/metrics"
	"github.com/always-cache/condfetch/server"
)

var (
	// CLI flags
	configFilenameFlag string
	addrFlag           string
	dataFileFlag       string
	counterFlag        string
	verbosityTraceFlag bool

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flag.StringVar(&addrFlag, "addr", "", "Address to listen on (overrides config)")
	flag.StringVar(&dataFileFlag, "data", "", "Resource data file (overrides config, 'memory' keeps data in memory)")
	flag.StringVar(&counterFlag, "counter", "", "Version counter: local or redis (overrides config)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	cfg, err := config.Load(configFilenameFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load config")
	}
	if addrFlag != "" {
		cfg.Server.Addr = addrFlag
	}
	if dataFileFlag == "memory" {
		cfg.Server.DataFile = ""
	} else if dataFileFlag != "" {
		cfg.Server.DataFile = dataFileFlag
	}
	if counterFlag != "" {
		cfg.Server.Counter = counterFlag
	}

	closeLog, err := config.SetupLogging(cfg.Log, verbosityTraceFlag, version)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot set up logging")
	}
	defer closeLog()

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store authority.Store = authority.NewMemStore(authority.DefaultContent())
	if cfg.Server.DataFile != "" {
		fileStore, err := authority.NewFileStore(cfg.Server.DataFile, authority.DefaultContent())
		if err != nil {
			return err
		}
		store = fileStore
	}

	var counter authority.Counter
	if cfg.Server.Counter == config.CounterRedis {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Server.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		counter = authority.NewRedisCounter(rdb, cfg.Server.Namespace)
	}

	a, err := authority.New(authority.Config{
		Store:     store,
		Counter:   counter,
		Resources: cfg.Resources,
		Reload:    cfg.Server.DataFile != "",
	})
	if err != nil {
		return err
	}

	serverConfig := server.Config{Authority: a}
	if cfg.Server.Metrics {
		reg := metrics.NewRegistry()
		if serverConfig.Metrics, err = metrics.NewServer(reg); err != nil {
			return err
		}
		serverConfig.Gatherer = reg
	}
	handler, err := server.New(serverConfig)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Msgf("Serving resources on %s (data: '%s', counter: %s)", cfg.Server.Addr, cfg.Server.DataFile, cfg.Server.Counter)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
