package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/lucasmendez/gamekit-backend/api/controllers"
	"github.com/lucasmendez/gamekit-backend/api/routes"
	"github.com/lucasmendez/gamekit-backend/internal/bridge"
	"github.com/lucasmendez/gamekit-backend/internal/bus"
	"github.com/lucasmendez/gamekit-backend/internal/chat"
	"github.com/lucasmendez/gamekit-backend/internal/coordinator"
	"github.com/lucasmendez/gamekit-backend/internal/rules"
	"github.com/lucasmendez/gamekit-backend/internal/state"
	"github.com/lucasmendez/gamekit-backend/pkg/config"
	"github.com/lucasmendez/gamekit-backend/pkg/db"
	"github.com/lucasmendez/gamekit-backend/pkg/genai"
	"github.com/lucasmendez/gamekit-backend/pkg/logger"
	"github.com/lucasmendez/gamekit-backend/pkg/metrics"
	"github.com/lucasmendez/gamekit-backend/pkg/migrate"
	"github.com/lucasmendez/gamekit-backend/pkg/pubsub"
	"github.com/lucasmendez/gamekit-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "server"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "server",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap redis", err)
			os.Exit(1)
		}
	}

	registry := prometheus.NewRegistry()
	busMetrics := metrics.NewBusMetrics(registry)
	eventBus := bus.New(cfg.Bus, logg, busMetrics)

	storage, err := stateStorage(cfg, dbClient, redisClient)
	if err != nil {
		logg.Error(ctx, "failed to pick state storage", err)
		os.Exit(1)
	}
	states, err := state.NewManager(storage, cfg.State, logg)
	if err != nil {
		logg.Error(ctx, "failed to build state manager", err)
		os.Exit(1)
	}

	var ruleStore rules.Store
	if cfg.Rules.Persist {
		ruleStore = rules.NewGormStore(dbClient.DB())
	}
	engine := rules.NewEngine(ruleStore)
	if cfg.Rules.SeedDefaults {
		if err := engine.SeedDefaults(); err != nil {
			logg.Error(ctx, "failed to seed default rules", err)
			os.Exit(1)
		}
	}
	skipped, err := engine.Restore(ctx)
	if err != nil {
		logg.Error(ctx, "failed to restore persisted rules", err)
		os.Exit(1)
	}
	if len(skipped) > 0 {
		logg.Warn(logg.WithField(ctx, "rules", skipped), "skipped persisted rules that no longer load")
	}

	var guard coordinator.Guard
	if redisClient != nil {
		guard = coordinator.NewRedisGuard(redisClient)
	}
	coord, err := coordinator.New(eventBus, states, engine, guard, logg)
	if err != nil {
		logg.Error(ctx, "failed to build coordinator", err)
		os.Exit(1)
	}
	if err := coord.Start(ctx); err != nil {
		logg.Error(ctx, "failed to start coordinator", err)
		os.Exit(1)
	}

	var chatService *chat.Service
	if cfg.Chat.Enabled() {
		generator, err := genai.New(cfg.Chat)
		if err != nil {
			logg.Error(ctx, "failed to build text generation client", err)
			os.Exit(1)
		}
		chatService, err = chat.NewService(eventBus, generator, chat.Config{
			Temperature:   cfg.Chat.Temperature,
			MaxTokens:     int64(cfg.Chat.MaxTokens),
			ContextWindow: cfg.Chat.ContextMemory,
		}, logg)
		if err != nil {
			logg.Error(ctx, "failed to build chat service", err)
			os.Exit(1)
		}
		if err := chatService.Start(ctx); err != nil {
			logg.Error(ctx, "failed to start chat service", err)
			os.Exit(1)
		}
	}

	var (
		pubsubClient *pubsub.Client
		egress       *bridge.Bridge
	)
	if cfg.EgressEnabled() {
		pubsubClient, err = pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap pubsub", err)
			os.Exit(1)
		}
		egress, err = bridge.New(eventBus, bridge.NewPubSubSink(pubsubClient.EgressPublisher()), logg)
		if err != nil {
			logg.Error(ctx, "failed to build egress bridge", err)
			os.Exit(1)
		}
		if err := egress.Start(ctx); err != nil {
			logg.Error(ctx, "failed to start egress bridge", err)
			os.Exit(1)
		}
	}

	pingers := map[string]controllers.Pinger{"database": dbClient}
	if redisClient != nil {
		pingers["redis"] = redisClient
	}
	if pubsubClient != nil {
		pingers["pubsub"] = pubsubClient
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Deps{
			Config:   cfg,
			Logger:   logg,
			Bus:      eventBus,
			States:   states,
			Engine:   engine,
			Pingers:  pingers,
			Registry: registry,
		}),
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	startCtx := logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "addr": addr})
	logg.Info(startCtx, "server started")

	select {
	case <-ctx.Done():
		logg.Info(context.Background(), "shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "server stopped unexpectedly", err)
		}
	}

	if err := shutdown(logg, server, eventBus, coord, chatService, egress, pubsubClient, redisClient, dbClient); err != nil {
		logg.Error(context.Background(), "shutdown finished with errors", err)
		os.Exit(1)
	}
	logg.Info(context.Background(), "shutdown complete")
}

// stateStorage picks the storage backend for the state manager.
func stateStorage(cfg *config.Config, dbClient *db.Client, redisClient *redis.Client) (state.Storage, error) {
	switch cfg.State.Backend {
	case "db":
		store, err := state.NewGormStore(dbClient.DB())
		if err != nil {
			return nil, err
		}
		return store, nil
	case "redis":
		if redisClient == nil {
			return nil, errors.New("state backend is redis but no redis endpoint is configured")
		}
		store, err := state.NewRedisStore(redisClient)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "memory":
		return state.NewMemoryStore(), nil
	default:
		return nil, errors.New("unsupported state backend " + cfg.State.Backend)
	}
}

// shutdown stops ingress first, then detaches the collaborators, then drains
// the bus, then closes the clients. Every failure is collected so one broken
// close never hides another.
func shutdown(
	logg *logger.Logger,
	server *http.Server,
	eventBus *bus.Bus,
	coord *coordinator.Coordinator,
	chatService *chat.Service,
	egress *bridge.Bridge,
	pubsubClient *pubsub.Client,
	redisClient *redis.Client,
	dbClient *db.Client,
) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := server.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	coord.Stop()
	if chatService != nil {
		chatService.Stop()
	}
	if egress != nil {
		egress.Stop()
	}

	if err := eventBus.Close(ctx); err != nil {
		errs = append(errs, err)
	}

	if pubsubClient != nil {
		if err := pubsubClient.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := dbClient.Close(); err != nil {
		errs = append(errs, err)
	}
	return multierr.Combine(errs...)
}
