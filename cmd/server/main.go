package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/outreach/internal/ai"
	"github.com/ignite/outreach/internal/campaign"
	"github.com/ignite/outreach/internal/config"
	"github.com/ignite/outreach/internal/pkg/httputil"
	"github.com/ignite/outreach/internal/tracking"
	"github.com/ignite/outreach/internal/worker"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("database.url (or DATABASE_URL) is required")
	}

	ctx := context.Background()

	// Database
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	defer db.Close()

	// Redis (dispatch queue)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to ping redis: %v", err)
	}
	defer redisClient.Close()

	store := campaign.NewStore(db)

	// AI collaborator (optional)
	completer := buildCompleter(ctx, cfg.AI)
	var personalizer campaign.Personalizer
	var classifier *ai.Classifier
	var trackerClassifier tracking.ReplyClassifier
	if completer != nil {
		p := ai.NewPersonalizer(completer, ai.PersonalizerConfig{
			MaxConcurrency: cfg.AI.MaxConcurrency,
			BatchDelay:     cfg.AI.BatchDelay(),
		})
		personalizer = p
		classifier = ai.NewClassifier(completer, ai.ClassifierConfig{})
		trackerClassifier = classifier
		log.Printf("AI collaborator initialized (provider=%s)", cfg.AI.Provider)
	} else {
		log.Println("AI collaborator disabled: personalization off, replies default to interested")
	}

	// Send pipeline
	sender, err := worker.NewSESSender(ctx, cfg.SES.AccessKey, cfg.SES.SecretKey, cfg.SES.Region)
	if err != nil {
		log.Fatalf("Failed to initialize SES sender: %v", err)
	}
	injector := worker.NewTrackingInjector(cfg.Tracking.BaseURL)
	dispatcher := worker.NewDispatcher(redisClient, store, sender, injector, worker.DispatcherConfig{
		SendDelay:     cfg.Dispatch.SendDelay(),
		SweepInterval: cfg.Dispatch.SweepInterval(),
	})
	if err := dispatcher.Start(); err != nil {
		log.Fatalf("Failed to start dispatcher: %v", err)
	}

	// Campaign lifecycle
	renderer := campaign.NewRenderer(campaign.RendererConfig{
		FirstNameFallback: cfg.Templates.FirstNameFallback,
		CompanyFallback:   cfg.Templates.CompanyFallback,
	})
	filter := campaign.NewSuppressionFilter(store)
	orchestrator := campaign.NewOrchestrator(store, filter, renderer, personalizer, dispatcher)
	campaignHandlers := campaign.NewHandlers(orchestrator)

	// Engagement tracking
	tracker := tracking.NewTracker(store, trackerClassifier, tracking.Thresholds{
		MailboxBounceLimit:    cfg.Tracking.MailboxBounceLimit,
		MailboxComplaintLimit: cfg.Tracking.MailboxComplaintLimit,
	})
	trackingHandler := tracking.NewHandler(tracker)

	// Metrics reconciliation and classification backfill
	aggregator := campaign.NewAggregator(store)
	reconciler := worker.NewReconciler(store, aggregator, classifier, worker.ReconcilerConfig{
		Interval: cfg.Dispatch.ReconcileInterval(),
	})
	reconciler.Start()

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Organization-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		status := map[string]string{"status": "ok", "database": "ok", "redis": "ok"}
		code := http.StatusOK
		if err := db.PingContext(req.Context()); err != nil {
			status["status"], status["database"] = "degraded", err.Error()
			code = http.StatusServiceUnavailable
		}
		if err := redisClient.Ping(req.Context()).Err(); err != nil {
			status["status"], status["redis"] = "degraded", err.Error()
			code = http.StatusServiceUnavailable
		}
		httputil.JSON(w, code, status)
	})

	r.Mount("/api/v1", campaignHandlers.Routes())
	r.Mount("/", trackingHandler.Routes())

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port),
		Handler: r,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down...")

	dispatcher.Stop()
	reconciler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}

// buildCompleter picks the AI backend from config. Returns nil when no
// provider is configured.
func buildCompleter(ctx context.Context, cfg config.AIConfig) ai.Completer {
	switch cfg.Provider {
	case "anthropic":
		if cfg.APIKey == "" {
			log.Println("Warning: ai.provider=anthropic but no API key set")
			return nil
		}
		return ai.NewAnthropicClient(cfg.APIKey, cfg.Model)
	case "bedrock":
		client, err := ai.NewBedrockClient(ctx, cfg.BedrockRegion, cfg.Model)
		if err != nil {
			log.Printf("Warning: failed to initialize Bedrock client: %v", err)
			return nil
		}
		return client
	default:
		return nil
	}
}
