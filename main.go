package main

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"marketdash/internal/api"
	"marketdash/internal/config"
	"marketdash/internal/eventbus"
	"marketdash/internal/ingester"
	"marketdash/internal/queue"
	"marketdash/internal/repository"
	"marketdash/internal/storage"
)

// BuildCommit is set at build time via -ldflags.
var BuildCommit = "dev"

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	log.Infof("Initializing marketdash backend (%s)...", BuildCommit)
	log.Infof("DB: %s", redactDatabaseURL(cfg.DatabaseURL))
	log.Infof("API Port: %d", cfg.APIPort)
	log.Infof("Pipeline mode: %s", cfg.PipelineMode)

	// Dependencies
	repo, err := repository.NewRepository(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer repo.Close()

	// Auto-migration (skip with SKIP_MIGRATION=true for API-only containers)
	if os.Getenv("SKIP_MIGRATION") == "true" {
		log.Info("Database migration SKIPPED (SKIP_MIGRATION=true)")
	} else {
		log.Info("Running database migration...")
		if err := repo.Migrate("schema.sql"); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Info("Database migration complete.")
	}

	// Object storage. Falls back to the in-process store for local runs
	// without a MinIO endpoint; uploads then live only as long as the process.
	var objects storage.Store
	if cfg.Storage.Configured() {
		ms, err := storage.NewMinioStore(cfg.Storage)
		if err != nil {
			log.Fatalf("Failed to init object storage: %v", err)
		}
		if err := ms.EnsureBucket(context.Background()); err != nil {
			log.Fatalf("Failed to ensure bucket: %v", err)
		}
		objects = ms
		log.Infof("Object storage: %s/%s", cfg.Storage.Endpoint, cfg.Storage.Bucket)
	} else {
		objects = storage.NewMemoryStore()
		log.Warn("Object storage not configured; using in-memory store")
	}

	// Task queue. Redis when configured, otherwise an in-process channel
	// (workers must then run inside this same process).
	var tasks queue.Queue
	var queuePing api.Pinger
	var redisClient *redis.Client
	if cfg.QueueURL != "" {
		opts, err := redis.ParseURL(cfg.QueueURL)
		if err != nil {
			log.Fatalf("Failed to parse queue URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		rq := queue.NewRedisQueue(redisClient, "")
		tasks = rq
		queuePing = rq
		log.Infof("Task queue: redis %s", opts.Addr)
	} else {
		tasks = queue.NewMemoryQueue(int(cfg.QueueHighWater))
		log.Warn("Queue not configured; using in-process queue")
	}

	bus := eventbus.New()
	defer bus.Close()

	svc := ingester.NewService(repo, objects, tasks, bus, cfg, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Workers
	var pool *ingester.Pool
	if os.Getenv("ENABLE_WORKER") != "false" {
		pool = ingester.NewPool(svc, cfg.Worker.Count, log)
		pool.Start(ctx)
		log.Infof("Started %d ingestion worker(s)", cfg.Worker.Count)
	}

	// API
	var server *api.Server
	if os.Getenv("ENABLE_API") != "false" {
		cache := api.NewDashboardCache(redisClient, time.Duration(cfg.CacheTTLS)*time.Second, log)
		cache.Watch(ctx, bus)

		server = api.NewServer(svc, repo, repo, queuePing, bus, cache, cfg, log, strconv.Itoa(cfg.APIPort))
		go func() {
			if err := server.Start(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("API server failed: %v", err)
			}
		}()
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warnf("API shutdown: %v", err)
		}
	}
	if pool != nil {
		pool.Wait()
	}
	log.Info("Shutdown complete.")
}

var dbURLPasswordRe = regexp.MustCompile(`(?i)^(postgres(?:ql)?://[^:/?#@]+):([^@]+)@`)

// redactDatabaseURL hides credentials before the URL reaches the logs.
func redactDatabaseURL(dbURL string) string {
	if u, err := url.Parse(dbURL); err == nil && u.User != nil {
		if _, has := u.User.Password(); has {
			u.User = url.UserPassword(u.User.Username(), "*****")
			return u.String()
		}
		return dbURL
	}
	return dbURLPasswordRe.ReplaceAllString(dbURL, "$1:*****@")
}
