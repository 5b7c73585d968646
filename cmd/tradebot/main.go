package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/peedubyah/tradebot/internal/analytics"
	"github.com/peedubyah/tradebot/internal/api"
	"github.com/peedubyah/tradebot/internal/capture"
	"github.com/peedubyah/tradebot/internal/circuitbreaker"
	"github.com/peedubyah/tradebot/internal/config"
	"github.com/peedubyah/tradebot/internal/leaderelection"
	"github.com/peedubyah/tradebot/internal/market"
	"github.com/peedubyah/tradebot/internal/metrics"
	"github.com/peedubyah/tradebot/internal/notify"
	"github.com/peedubyah/tradebot/internal/orchestrator"
	"github.com/peedubyah/tradebot/internal/registry"
	"github.com/peedubyah/tradebot/internal/store/postgres"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`tradebot - marketplace watch pipeline

Usage:
  tradebot <command>

Commands:
  serve      Start the job registry and management API
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL              PostgreSQL connection string (required)
  WEBHOOK_URL               Delivery webhook URL (required)
  PROVIDER_BASE_URL         Marketplace base URL (required)
  REDIS_ADDR                Redis address for analytics (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080")

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")
  RUN_DRAIN_TIMEOUT         In-flight run drain timeout (default: "60s")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")

  BATCH_SIZE                Items per delivered batch (default: "10")
  PROVIDER_TIMEOUT          Provider search timeout (default: "30s")
  PROVIDER_RATE_LIMIT       Provider requests per second (default: "1")
  CAPTURE_DIR               Screenshot scratch directory (default: os temp)
  CAPTURE_TIMEOUT           Per-item render timeout (default: "60s")
  DELIVERY_TIMEOUT          Webhook delivery timeout (default: "30s")
  CIRCUIT_BREAKER_THRESHOLD Consecutive failures before opening (default: "5", 0 disables)
  CIRCUIT_BREAKER_COOLDOWN  Open-circuit cooldown (default: "2m")

  LEADER_ELECTION_ENABLED   Gate triggers behind an advisory lock (default: "false")
  LEADER_LOCK_KEY           Advisory lock key shared by all replicas (default: "728379")
  LEADER_RETRY_INTERVAL     Follower lock retry interval (default: "5s")
  LEADER_HEARTBEAT_INTERVAL Leader connection ping interval (default: "2s")
  RECONCILE_INTERVAL        Trigger-set sync against the store with leader election on (default: "30s")`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	logConfigWarnings(&cfg)

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	// Configure connection pool
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	log.Printf("tradebot: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s, max_idle_time=%s)",
		cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		return exitRuntimeError
	}

	if err := probeWatchJobsTable(db); err != nil {
		fmt.Fprintf(os.Stderr, "watch_jobs table missing or unreadable (run migrations first): %v\n", err)
		return exitRuntimeError
	}

	store := postgres.New(db, cfg.DBOpTimeout)

	// Initialize metrics sink (optional)
	var metricsSink metrics.Sink = metrics.NewNoopSink()
	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("tradebot: metrics enabled (path=%s)", cfg.MetricsPath)
	} else {
		log.Println("tradebot: METRICS_ENABLED not set; metrics disabled")
	}

	client := market.NewClient(cfg.ProviderBaseURL).
		WithTimeout(cfg.ProviderTimeout).
		WithRateLimit(rate.Limit(cfg.ProviderRateLimit), cfg.ProviderRateLimit)

	renderer := capture.NewRenderer(cfg.ProviderBaseURL, cfg.CaptureDir).
		WithTimeout(cfg.CaptureTimeout)

	dispatcher := notify.NewWebhookDispatcher(cfg.WebhookURL).
		WithTimeout(cfg.DeliveryTimeout)
	if cfg.CircuitBreakerThreshold > 0 {
		// One breaker, keyed per host, guards both outbound endpoints.
		breaker := circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
		client = client.WithBreaker(breaker)
		dispatcher = dispatcher.WithBreaker(breaker)
		log.Printf("tradebot: circuit breaker enabled (threshold=%d, cooldown=%s)",
			cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	}

	runner := orchestrator.New(
		orchestrator.Config{BatchSize: cfg.BatchSize},
		client, renderer, dispatcher, store,
	).WithMetrics(metricsSink)

	// Wire analytics if Redis is configured
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		runner = runner.WithAnalytics(analytics.NewRedisSink(redisClient))
		log.Printf("tradebot: analytics enabled (redis=%s)", cfg.RedisAddr)
	} else {
		log.Println("tradebot: REDIS_ADDR not set; analytics disabled")
	}

	reg := registry.New(store, runner)

	// With leader election enabled, only the lock holder fires triggers;
	// every instance still serves the management API.
	var electorWg sync.WaitGroup
	var cancelElector context.CancelFunc
	if cfg.LeaderElectionEnabled {
		elector := leaderelection.New(
			db, cfg.LeaderLockKey,
			cfg.LeaderRetryInterval, cfg.LeaderHeartbeatInterval,
			func(leaderCtx context.Context) {
				loadCtx, loadCancel := context.WithTimeout(leaderCtx, cfg.DBOpTimeout)
				loaded, err := reg.Load(loadCtx)
				loadCancel()
				if err != nil {
					log.Printf("tradebot: failed to load persisted jobs: %v", err)
					return
				}
				log.Printf("tradebot: loaded %d persisted jobs", loaded)
				reg.Start()
			},
			func() {
				drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.RunDrainTimeout)
				defer drainCancel()
				reg.Stop(drainCtx)
			},
		)

		var electorCtx context.Context
		electorCtx, cancelElector = context.WithCancel(context.Background())
		electorWg.Add(1)
		go func() {
			defer electorWg.Done()
			elector.Run(electorCtx)
		}()

		// Every replica syncs its trigger set against the store so jobs
		// mutated through one replica's API reach the leader's schedule
		// (and every replica's job list) within one interval. Followers
		// register triggers too, but never start firing them.
		electorWg.Add(1)
		go func() {
			defer electorWg.Done()
			ticker := time.NewTicker(cfg.ReconcileInterval)
			defer ticker.Stop()
			for {
				select {
				case <-electorCtx.Done():
					return
				case <-ticker.C:
					syncCtx, syncCancel := context.WithTimeout(electorCtx, cfg.DBOpTimeout)
					if _, _, err := reg.Reconcile(syncCtx); err != nil {
						log.Printf("tradebot: trigger reconcile failed: %v", err)
					}
					syncCancel()
				}
			}
		}()
		log.Printf("tradebot: leader election enabled (lock_key=%d, reconcile=%s)",
			cfg.LeaderLockKey, cfg.ReconcileInterval)
	} else {
		loadCtx, loadCancel := context.WithTimeout(context.Background(), cfg.DBOpTimeout)
		loaded, err := reg.Load(loadCtx)
		loadCancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load persisted jobs: %v\n", err)
			return exitRuntimeError
		}
		log.Printf("tradebot: loaded %d persisted jobs", loaded)

		reg.Start()
	}

	apiHandler := api.NewHandler(reg, runner).WithHealthChecker(store)

	mux := http.NewServeMux()
	mux.Handle("/", apiHandler)
	if cfg.MetricsEnabled {
		mux.Handle(cfg.MetricsPath, promhttp.Handler())
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		log.Printf("tradebot: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("tradebot: http server error: %v", err)
		}
	}()

	log.Printf("tradebot: started (http=%s, batch_size=%d)", cfg.HTTPAddr, cfg.BatchSize)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("tradebot: received signal %v, shutting down", received)

	// Phase 1: Stop HTTP server so no new jobs or runs arrive.
	log.Println("tradebot: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("tradebot: http server shutdown error: %v", err)
	}
	log.Println("tradebot: http server stopped")

	// Phase 2: Stop triggers and drain in-flight runs, bounded so a
	// hung render cannot block shutdown forever. Under leader election
	// the elector's demotion callback performs the registry stop.
	if cancelElector != nil {
		log.Println("tradebot: stopping elector...")
		cancelElector()
		electorWg.Wait()
		log.Println("tradebot: elector stopped")
	} else {
		log.Println("tradebot: stopping registry (draining runs)...")
		drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.RunDrainTimeout)
		defer drainCancel()
		reg.Stop(drainCtx)
		log.Println("tradebot: registry stopped")
	}

	log.Println("tradebot: stopped")
	return exitSuccess
}

// probeWatchJobsTable verifies the schema is migrated before serving.
func probeWatchJobsTable(db *sql.DB) error {
	var one int
	err := db.QueryRow(`SELECT 1 FROM watch_jobs LIMIT 1`).Scan(&one)
	if err == sql.ErrNoRows {
		// Table exists but is empty.
		return nil
	}
	return err
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("tradebot version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
