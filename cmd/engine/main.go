package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/flowmesh-io/flowmesh/internal/credentials"
	"github.com/flowmesh-io/flowmesh/internal/domain/repositories"
	"github.com/flowmesh-io/flowmesh/internal/engine"
	"github.com/flowmesh-io/flowmesh/internal/events"
	"github.com/flowmesh-io/flowmesh/internal/nodes/builtin"
	"github.com/flowmesh-io/flowmesh/internal/pkg/config"
	"github.com/flowmesh-io/flowmesh/internal/pkg/crypto"
	"github.com/flowmesh-io/flowmesh/internal/pkg/database"
	"github.com/flowmesh-io/flowmesh/internal/pkg/logger"
	"github.com/flowmesh-io/flowmesh/internal/pkg/metrics"
	pkgredis "github.com/flowmesh-io/flowmesh/internal/pkg/redis"
)

const (
	metricsAddr   = ":2112"
	submitChannel = "executions:submit"
)

// submitRequest is the message shape accepted on the Redis submit channel.
type submitRequest struct {
	WorkflowID  uuid.UUID              `json:"workflow_id"`
	UserID      uuid.UUID              `json:"user_id"`
	TriggerData map[string]interface{} `json:"trigger_data"`
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger.Init(cfg.App.Environment, cfg.App.Debug)

	log.Info().
		Str("app", cfg.App.Name).
		Str("service", "engine").
		Msg("starting execution engine")

	db, err := database.NewGormDB(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	encryptor, err := crypto.NewEncryptor(cfg.Credential.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create encryptor")
	}

	workflowRepo := repositories.NewWorkflowRepository(db)
	executionRepo := repositories.NewExecutionRepository(db)
	nodeExecutionRepo := repositories.NewNodeExecutionRepository(db)
	credentialRepo := repositories.NewCredentialRepository(db)

	credentialStore := credentials.NewStore(
		credentialRepo,
		encryptor,
		credentials.DefaultTypeRegistry(),
		log.Logger,
	)

	collector := metrics.NewCollector(prometheus.DefaultRegisterer)
	bus := events.NewBus()

	middlewares := []engine.Middleware{
		engine.RecoveryMiddleware(),
		engine.LoggingMiddleware(log.Logger),
		engine.MetricsMiddleware(collector),
	}
	if cfg.Engine.RateLimitRPS > 0 {
		middlewares = append(middlewares, engine.RateLimitMiddleware(engine.RateLimitConfig{
			GlobalRPS:   cfg.Engine.RateLimitRPS,
			GlobalBurst: cfg.Engine.RateLimitBurst,
			MaxWait:     cfg.Engine.RateLimitMaxWait,
		}))
	}

	eng := engine.New(engine.Config{
		WorkerCount:             cfg.Engine.WorkerCount,
		DefaultExecutionTimeout: cfg.Engine.DefaultExecutionTimeout,
		CompletionBuffer:        cfg.Engine.CompletionBuffer,
	}, engine.Deps{
		Registry:       builtin.Registry(),
		Credentials:    credentialStore,
		Workflows:      workflowRepo,
		Executions:     executionRepo,
		NodeExecutions: nodeExecutionRepo,
		Bus:            bus,
		Metrics:        collector,
		Middlewares:    middlewares,
		Logger:         log.Logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(&cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}

		bridge := events.NewRedisBridge(redisClient.Client, log.Logger)
		bridge.Attach(ctx, bus)
		defer bridge.Stop()

		go consumeSubmissions(ctx, redisClient, eng)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("metrics server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down engine")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("metrics server shutdown")
	}

	eng.Wait()
	bus.Close()
	log.Info().Msg("engine stopped")
}

// consumeSubmissions turns messages on the submit channel into executions.
func consumeSubmissions(ctx context.Context, client *pkgredis.Client, eng *engine.Engine) {
	sub := client.SubscribeToChannel(ctx, submitChannel)
	defer sub.Close()

	log.Info().Str("channel", submitChannel).Msg("listening for execution submissions")

	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("receiving submission")
			continue
		}

		var req submitRequest
		if err := json.Unmarshal([]byte(msg.Payload), &req); err != nil {
			log.Warn().Err(err).Msg("malformed submission payload")
			continue
		}

		execID, err := eng.Submit(ctx, req.WorkflowID, req.UserID, req.TriggerData)
		if err != nil {
			log.Warn().Err(err).
				Str("workflow_id", req.WorkflowID.String()).
				Msg("submission rejected")
			continue
		}
		log.Info().
			Str("workflow_id", req.WorkflowID.String()).
			Str("execution_id", execID.String()).
			Msg("execution submitted")
	}
}
