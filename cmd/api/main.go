package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wholecell-mirror-api/internal/cache"
	"wholecell-mirror-api/internal/config"
	"wholecell-mirror-api/internal/handler"
	"wholecell-mirror-api/internal/model"
	"wholecell-mirror-api/internal/router"
	"wholecell-mirror-api/internal/service"
	"wholecell-mirror-api/internal/store"
	"wholecell-mirror-api/internal/wholecell"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting WholeCell Mirror API...")

	// Load configuration
	cfg := config.MustLoad()
	log.Printf("Environment: %s", cfg.App.Environment)

	if cfg.Upstream.AppID == "" || cfg.Upstream.AppSecret == "" {
		log.Fatal("WHOLECELL_APP_ID and WHOLECELL_APP_SECRET must be set. Copy .env.example to .env and fill in your credentials.")
	}

	// Initialize persistent store based on config
	var st store.Store
	switch cfg.Store.Type {
	case "mysql":
		mysqlStore, err := store.NewMySQLStore(cfg.Store.MySQLDSN())
		if err != nil {
			log.Fatalf("Failed to initialize MySQL store: %v", err)
		}
		st = mysqlStore
		log.Println("MySQL store initialized")
	case "memory":
		st = store.NewMemoryStore()
		log.Println("Memory store initialized (contents will not survive restarts)")
	default: // sqlite
		sqliteStore, err := store.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			log.Fatalf("Failed to initialize SQLite store: %v", err)
		}
		st = sqliteStore
		log.Println("SQLite store initialized")
	}
	defer st.Close()

	// Initialize WholeCell client
	client := wholecell.NewClient(wholecell.Config{
		AppID:         cfg.Upstream.AppID,
		AppSecret:     cfg.Upstream.AppSecret,
		APIBase:       cfg.Upstream.APIBase,
		RequestDelay:  cfg.Sync.RequestDelay,
		Timeout:       cfg.Upstream.Timeout,
		MaxRetries:    cfg.Sync.MaxRetries,
		RetryCooldown: cfg.Sync.RetryCooldown,
	})
	log.Printf("WholeCell client initialized (base: %s, delay: %v)", cfg.Upstream.APIBase, cfg.Sync.RequestDelay)

	// Initialize snapshot cache
	var snapshots cache.Cache
	if cfg.Cache.Type == "redis" {
		redisCache, err := cache.NewRedisCache(cache.RedisCacheConfig{
			Addr:     cfg.Cache.RedisAddress(),
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		if err != nil {
			log.Printf("Warning: Redis cache initialization failed, falling back to memory: %v", err)
			snapshots = cache.NewMemoryCache()
		} else {
			snapshots = redisCache
			log.Println("Redis snapshot cache initialized")
		}
	} else {
		snapshots = cache.NewMemoryCache()
		log.Println("Memory snapshot cache initialized")
	}
	defer snapshots.Close()

	// Initialize sync orchestrator; merged changes invalidate the
	// snapshot cache so the next read sees the fresh dataset.
	orch := service.NewOrchestrator(st, client, service.OrchestratorConfig{
		IncrementalPages: cfg.Sync.IncrementalPages,
		OnProgress: func(stage string, current, total int) {
			if current == total || current%50 == 0 {
				log.Printf("[Sync] %s: page %d/%d", stage, current, total)
			}
		},
		OnChangeDetected: func(cs *model.ChangeSet) {
			log.Printf("[Sync] Changes detected: %d new, %d modified, %d removed",
				len(cs.New), len(cs.Modified), len(cs.Removed))
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := snapshots.Clear(ctx); err != nil {
				log.Printf("[Sync] Warning: snapshot cache invalidation failed: %v", err)
			}
		},
	})

	// Initialize handlers
	healthHandler := handler.New(st, cfg.App.Version)
	inventoryHandler := handler.NewInventoryHandler(orch, st, client, snapshots, cfg.Cache.TTL)
	syncHandler := handler.NewSyncHandler(orch, st)

	// Create router
	r := router.New(router.Config{
		Handler:          healthHandler,
		InventoryHandler: inventoryHandler,
		SyncHandler:      syncHandler,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on %s", cfg.Server.Address())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
