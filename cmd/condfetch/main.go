package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/always-cache/condfetch/cache"
	"github.com/always-cache/condfetch/client"
	"github.com/always-cache/condfetch/codec"
	"github.com/always-cache/condfetch/config"
)

var (
	// CLI flags
	configFilenameFlag string
	originFlag         string
	resourcesFlag      string
	languageFlag       string
	callersFlag        int
	watchFlag          time.Duration
	clearFlag          bool
	providerFlag       string
	verbosityTraceFlag bool

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flag.StringVar(&originFlag, "origin", "", "Server URL (overrides config)")
	flag.StringVar(&resourcesFlag, "resources", "products,user", "Comma-separated resources to fetch")
	flag.StringVar(&languageFlag, "lang", "", "Accept-Language to send")
	flag.IntVar(&callersFlag, "n", 3, "Concurrent callers per resource")
	flag.DurationVar(&watchFlag, "watch", 0, "Fetch again at this interval until interrupted")
	flag.BoolVar(&clearFlag, "clear", false, "Clear the cache before fetching")
	flag.StringVar(&providerFlag, "provider", "", "Caching provider to use (overrides config)")
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
	if originFlag != "" {
		cfg.Client.Origin = originFlag
	}
	if providerFlag != "" {
		cfg.Client.Cache.Driver = providerFlag
	}

	closeLog, err := config.SetupLogging(cfg.Log, verbosityTraceFlag, version)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot set up logging")
	}
	defer closeLog()

	if err := run(cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("Fetch failed")
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := cache.Open(cfg.Client.Cache)
	if err != nil {
		return err
	}
	defer store.Close()
	entryCodec, err := codec.New[client.Entry](cfg.Client.Codec, cfg.Client.MaxEntryBytes)
	if err != nil {
		return err
	}
	m, err := client.New(client.Config{
		Cache:     store,
		Codec:     entryCodec,
		Namespace: cfg.Client.Namespace,
	})
	if err != nil {
		return err
	}
	opts := cfg.Client.Options()

	if clearFlag {
		if err := m.Clear(ctx); err != nil {
			return err
		}
		log.Info().Msg("Cache cleared")
	}
	if cfg.Client.UpdateInterval > 0 {
		go m.RunUpdater(ctx, cfg.Client.UpdateInterval, opts)
	}

	var requests []client.Request
	for _, resource := range strings.Split(resourcesFlag, ",") {
		req := client.Request{URL: strings.TrimSuffix(cfg.Client.Origin, "/") + "/api/" + strings.TrimSpace(resource)}
		if languageFlag != "" {
			req.Attrs = map[string]string{"Accept-Language": languageFlag}
		}
		requests = append(requests, req)
	}

	if err := fetchAll(ctx, m, requests, opts); err != nil || watchFlag <= 0 {
		return err
	}
	ticker := time.NewTicker(watchFlag)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := fetchAll(ctx, m, requests, opts); err != nil {
				return err
			}
		}
	}
}

// fetchAll fetches every request from several callers at once; callers of
// one request share its network call.
func fetchAll(ctx context.Context, m *client.Manager, requests []client.Request, opts client.Options) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, req := range requests {
		for caller := 1; caller <= callersFlag; caller++ {
			g.Go(func() error {
				logger := log.With().Str("url", req.URL).Int("caller", caller).Logger()
				state, err := m.Fetch(ctx, req, opts, func(s client.State) {
					logger.Debug().Str("from", s.From).Bool("pending", s.Pending).Msg("Progress")
				})
				if errors.Is(err, client.ErrCancelled) {
					return err
				}
				fmt.Printf("%-40s #%d  %-28s %s\n", req.URL, caller, state.From, state.CacheStatus())
				if err != nil {
					logger.Error().Err(err).Msg("Fetch failed")
				}
				return nil
			})
		}
	}
	return g.Wait()
}
