package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"vantage/pkg/api"
	"vantage/pkg/cache"
	"vantage/pkg/chaos"
	"vantage/pkg/commentary"
	"vantage/pkg/config"
	"vantage/pkg/forwarder"
	"vantage/pkg/journal"
	"vantage/pkg/logging"
	"vantage/pkg/negcache"
	"vantage/pkg/prefetch"
	"vantage/pkg/queryengine"
	"vantage/pkg/recursive"
	dns "vantage/pkg/server"
	"vantage/pkg/storage"
	"vantage/pkg/telemetry"

	"golang.org/x/crypto/bcrypt"
)

var (
	configPath     = flag.String("config", "config.yml", "Path to configuration file")
	showVersion    = flag.Bool("version", false, "Show version information and exit")
	validateConfig = flag.Bool("validate-config", false, "Validate configuration file and exit")
	healthCheck    = flag.Bool("health-check", false, "Perform health check and exit (for Docker HEALTHCHECK)")
	apiAddress     = flag.String("api-address", "", "Override API address for health check (default: from config)")

	// Build-time variables set via ldflags
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash-password" {
		runHashPassword(os.Args[2:])
		return
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("Vantage DNS Resolver\n")
		fmt.Printf("Version:     %s\n", version)
		fmt.Printf("Git Commit:  %s\n", gitCommit)
		fmt.Printf("Build Time:  %s\n", buildTime)
		fmt.Printf("Go Version:  %s\n", runtime.Version())
		os.Exit(0)
	}

	if *validateConfig {
		if _, err := config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Configuration valid.")
		return
	}

	if *healthCheck {
		os.Exit(performHealthCheck(*apiAddress, *configPath))
	}

	ctx := context.Background()

	cfgWatcher, err := config.NewWatcher(*configPath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize config watcher: %v\n", err)
		os.Exit(1)
	}
	cfg := cfgWatcher.Config()

	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)

	cfgWatcher, err = config.NewWatcher(*configPath, logger.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to reinitialize config watcher with logger: %v\n", err)
		os.Exit(1)
	}
	cfg = cfgWatcher.Config()

	watcherCtx, watcherCancel := context.WithCancel(ctx)
	defer watcherCancel()

	go func() {
		if watcherErr := cfgWatcher.Start(watcherCtx); watcherErr != nil {
			logger.Error("config watcher stopped", "error", watcherErr)
		}
	}()

	logger.Info("vantage starting", "version", version, "build_time", buildTime)

	telem, err := telemetry.New(ctx, &cfg.Telemetry, logger)
	if err != nil {
		logger.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}

	metrics, err := telem.InitMetrics()
	if err != nil {
		logger.Error("failed to initialize metrics", "error", err)
		os.Exit(1)
	}

	var stor storage.Storage
	if cfg.Database.Enabled {
		logger.Info("initializing storage", "backend", cfg.Database.Backend, "path", cfg.Database.SQLite.Path)
		stor, err = storage.New(&cfg.Database, metrics)
		if err != nil {
			logger.Error("failed to initialize storage, continuing without it", "error", err)
			stor = storage.NewNoOpStorage()
		}
	} else {
		stor = storage.NewNoOpStorage()
	}

	posCache := cache.New(cache.Config{
		MaxEntries: cfg.Cache.MaxEntries,
		ShardCount: cfg.Cache.ShardCount,
		ServeStale: cfg.Cache.ServeStale,
		StaleGrace: cfg.Cache.StaleGrace,
		Alchemy: cache.AlchemyWeights{
			Enabled:          cfg.Cache.Alchemy.Enabled,
			FrequencyWeight:  cfg.Cache.Alchemy.FrequencyWeight,
			VolatilityWeight: cfg.Cache.Alchemy.VolatilityWeight,
		},
	}, logger, metrics)

	negCache := negcache.New(posCache, logger, metrics)

	gate := chaos.New(chaos.Config{
		Enabled:  cfg.Chaos.Enabled,
		Fraction: cfg.Chaos.Fraction,
	})

	fwd := forwarder.New(&cfg.Forwarder, logger)

	var recursiveResolver *recursive.Resolver
	if cfg.Recursive.Enabled {
		rootHints := cfg.Recursive.RootHints
		if len(rootHints) == 0 {
			rootHints = recursive.DefaultRootHints
		}
		recursiveResolver = recursive.New(recursive.Config{RootHints: rootHints, Cache: posCache}, logger)
		if cfg.Recursive.WarmUp {
			warmCtx, warmCancel := context.WithTimeout(ctx, 10*time.Second)
			recursiveResolver.WarmUp(warmCtx)
			warmCancel()
		}
	}

	quips := commentary.DefaultQuips()
	for _, qc := range cfg.Commentary.CustomQuips {
		quips = append(quips, &commentary.Quip{
			Name:  qc.Name,
			Logic: qc.Logic,
			Text:  qc.Text,
			Args:  qc.Args,
		})
	}
	var commentaryEngine *commentary.Engine
	if cfg.Commentary.Enabled {
		var quipErrs []error
		commentaryEngine, quipErrs = commentary.New(quips)
		for _, qerr := range quipErrs {
			logger.Warn("commentary quip failed to compile", "error", qerr)
		}
	}

	j := journal.New(journal.Config{}, logger, stor)

	engine := queryengine.New(
		cfg.Recursive,
		cfg.NegCache,
		posCache,
		negCache,
		gate,
		fwd,
		recursiveResolver,
		commentaryEngine,
		j,
		logger,
		metrics,
	)

	var prefetchEngine *prefetch.Engine
	if cfg.Prefetch.Enabled {
		prefetchEngine = prefetch.New(posCache, prefetchRefresher{engine: engine}, logger, prefetch.Config{
			Enabled:       cfg.Prefetch.Enabled,
			SweepInterval: cfg.Prefetch.SweepInterval,
			NearFraction:  cfg.Prefetch.NearFraction,
			MinHits:       cfg.Prefetch.MinHits,
		})
		prefetchCtx, prefetchCancel := context.WithCancel(ctx)
		defer prefetchCancel()
		go prefetchEngine.Run(prefetchCtx)
	}

	server, err := dns.NewServer(cfg, engine, logger)
	if err != nil {
		logger.Error("failed to initialize DNS server", "error", err)
		os.Exit(1)
	}

	apiServer := api.New(&api.Config{
		Storage:       stor,
		Cache:         posCache,
		NegCache:      negCache,
		Journal:       j,
		Forwarder:     fwd,
		Recursive:     recursiveResolver,
		Gate:          gate,
		Logger:        logger,
		ConfigWatcher: cfgWatcher,
		InitialConfig: cfg,
		ListenAddress: cfg.Server.WebUIAddress,
		Version:       version,
	})

	cfgWatcher.OnChange(func(newCfg *config.Config) {
		apiServer.SetAuthConfig(newCfg.Auth)
		gate.SetConfig(chaos.Config{Enabled: newCfg.Chaos.Enabled, Fraction: newCfg.Chaos.Fraction})
		logger.Info("configuration reloaded")
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	errChan := make(chan error, 2)

	go func() {
		if err := server.Start(serverCtx); err != nil {
			errChan <- fmt.Errorf("DNS server error: %w", err)
		}
	}()

	go func() {
		if err := apiServer.Start(serverCtx); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	logger.Info("vantage is running",
		"dns_address", cfg.Server.ListenAddress,
		"api_address", cfg.Server.WebUIAddress,
		"upstreams", cfg.Forwarder.Upstreams,
		"recursive", cfg.Recursive.Enabled,
	)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
		serverCancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during DNS server shutdown", "error", err)
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during API server shutdown", "error", err)
		}
		if err := posCache.Close(); err != nil {
			logger.Error("error during cache shutdown", "error", err)
		}
		if recursiveResolver != nil {
			if err := recursiveResolver.Close(); err != nil {
				logger.Error("error during recursive resolver shutdown", "error", err)
			}
		}
		if err := stor.Close(); err != nil {
			logger.Error("error during storage shutdown", "error", err)
		}
		if err := telem.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during telemetry shutdown", "error", err)
		}

		logger.Info("vantage stopped")

	case err := <-errChan:
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// prefetchRefresher adapts the query engine to prefetch.Refresher by
// replaying a cache key as a synthetic client-less query.
type prefetchRefresher struct {
	engine *queryengine.Engine
}

func (p prefetchRefresher) Refresh(ctx context.Context, key cache.Key) error {
	return p.engine.Refresh(ctx, key)
}

func performHealthCheck(apiAddr, configPath string) int {
	if apiAddr == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Health check failed: cannot load config: %v\n", err)
			return 1
		}
		apiAddr = cfg.Server.WebUIAddress

		if apiAddr != "" && apiAddr[0] == ':' {
			apiAddr = "http://localhost" + apiAddr
		} else if !strings.HasPrefix(apiAddr, "http://") && !strings.HasPrefix(apiAddr, "https://") {
			apiAddr = "http://" + apiAddr
		}
	}

	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(apiAddr + "/api/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status code %d\n", resp.StatusCode)
		return 1
	}

	fmt.Println("Health check passed")
	return 0
}

func runHashPassword(args []string) {
	fs := flag.NewFlagSet("hash-password", flag.ExitOnError)
	cost := fs.Int("cost", 12, "Bcrypt cost parameter (10-14 recommended, higher = more secure but slower)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: vantaged hash-password [OPTIONS] [PASSWORD]\n\n")
		fmt.Fprintf(os.Stderr, "Generate a bcrypt hash for a password to use in auth.password_hash.\n\n")
		fmt.Fprintf(os.Stderr, "Examples:\n")
		fmt.Fprintf(os.Stderr, "  vantaged hash-password MySecretPassword\n")
		fmt.Fprintf(os.Stderr, "  vantaged hash-password --cost 14 MySecretPassword\n")
		fmt.Fprintf(os.Stderr, "  echo -n 'MySecretPassword' | vantaged hash-password\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		os.Exit(1)
	}

	var password string
	if fs.NArg() > 0 {
		password = fs.Arg(0)
	} else {
		fmt.Fprintf(os.Stderr, "Enter password: ")
		var input string
		if _, err := fmt.Scanln(&input); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read password: %v\n", err)
			os.Exit(1)
		}
		password = input
	}

	if password == "" {
		fmt.Fprintf(os.Stderr, "Error: Password cannot be empty\n")
		fs.Usage()
		os.Exit(1)
	}

	if *cost < 4 || *cost > 31 {
		fmt.Fprintf(os.Stderr, "Error: Cost must be between 4 and 31 (recommended: 10-14)\n")
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "Generating bcrypt hash with cost %d...\n", *cost)

	hash, err := bcrypt.GenerateFromPassword([]byte(password), *cost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate hash: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "Success! Hash generated.\n\n")
	fmt.Printf("# Add this to your config.yml:\n")
	fmt.Printf("auth:\n")
	fmt.Printf("  enabled: true\n")
	fmt.Printf("  username: \"admin\"\n")
	fmt.Printf("  password_hash: \"%s\"\n", string(hash))
	fmt.Printf("\n# IMPORTANT: Remove the plaintext 'password' field when using password_hash!\n")
}
