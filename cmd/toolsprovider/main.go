// Command toolsprovider runs the Tools Provider gateway: a WebSocket
// conversation orchestrator fronting an LLM, a tool inventory reconciled
// from OpenAPI/MCP/built-in sources, and the auth plumbing (OIDC discovery,
// token exchange, client-credentials) those tools need to call upstream
// APIs on a user's behalf.
//
// # Configuration
//
// Every setting is read from the environment under a TOOLSPROVIDER_ prefix;
// most are listed with their defaults in internal/config, while
// TOOLSPROVIDER_WORKSPACE_ROOT and TOOLSPROVIDER_MAX_TOOL_CALLS_PER_RUN are
// read in this file.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	cluelog "goa.design/clue/log"
	"go.opentelemetry.io/otel"

	"goa.design/tools-provider/agents/runtime/hooks"
	memoryinmem "goa.design/tools-provider/agents/runtime/memory/inmem"
	"goa.design/tools-provider/internal/builtintools"
	"goa.design/tools-provider/internal/circuitbreaker"
	"goa.design/tools-provider/internal/clientcredentials"
	"goa.design/tools-provider/internal/commandbus"
	"goa.design/tools-provider/internal/config"
	"goa.design/tools-provider/internal/executor"
	"goa.design/tools-provider/internal/externalidp"
	"goa.design/tools-provider/internal/inventory"
	"goa.design/tools-provider/internal/llmprovider/anthropic"
	"goa.design/tools-provider/internal/oidc"
	"goa.design/tools-provider/internal/orchestrator"
	"goa.design/tools-provider/internal/schema"
	"goa.design/tools-provider/internal/telemetry"
	"goa.design/tools-provider/internal/tokencache"
	"goa.design/tools-provider/internal/tokenexchange"
	"goa.design/tools-provider/internal/wsgateway"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	format := cluelog.FormatJSON
	if cfg.Logging.Format != "json" {
		format = cluelog.FormatTerminal
	}
	ctx = cluelog.Context(ctx, cluelog.WithFormat(format))
	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewOTelMetrics(otel.GetMeterProvider().Meter("goa.design/tools-provider"))
	tracer := telemetry.NewOTelTracer(otel.GetTracerProvider().Tracer("goa.design/tools-provider"))

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return err
		}
	}

	ccCache := tokencache.New(redisClient, "cc", logger)
	teCache := tokencache.New(redisClient, "te", logger)
	discovery := oidc.New(cfg.OIDC.DiscoveryTimeout, cfg.OIDC.CacheTTL)

	breakers := circuitbreaker.NewRegistry(
		circuitbreaker.WithFailureThreshold(cfg.CircuitBreaker.FailureThreshold),
		circuitbreaker.WithRecoveryTimeout(cfg.CircuitBreaker.RecoveryTimeout),
		circuitbreaker.WithHalfOpenMaxCalls(cfg.CircuitBreaker.HalfOpenMaxCalls),
		circuitbreaker.WithLogger(logger),
	)

	exchanger := tokenexchange.New(tokenexchange.Config{
		TokenEndpoint: cfg.TokenExchange.TokenEndpoint,
		ClientID:      cfg.TokenExchange.ClientID,
		ClientSecret:  cfg.TokenExchange.ClientSecret,
		Timeout:       cfg.TokenExchange.Timeout,
		Buffer:        cfg.TokenExchange.CacheBuffer,
		MinTTL:        cfg.TokenExchange.MinTTL,
	}, teCache, breakers, logger).WithTelemetry(metrics, tracer)

	clientCreds := clientcredentials.New(clientcredentials.Config{
		TokenURL:     cfg.ClientCreds.TokenURL,
		ClientID:     cfg.ClientCreds.ClientID,
		ClientSecret: cfg.ClientCreds.ClientSecret,
		Scopes:       cfg.ClientCreds.Scopes,
		Timeout:      cfg.ClientCreds.Timeout,
		Buffer:       cfg.ClientCreds.CacheBuffer,
	}, ccCache, logger)

	// externalidp.Provider mediates identity lookups for sources configured
	// with an external IdP rather than the gateway's own issuer (§4.5).
	_ = externalidp.New(discovery, ccCache, teCache, cfg.OIDC.DiscoveryTimeout, cfg.TokenExchange.CacheBuffer, logger)

	workspaceRoot := envOr("TOOLSPROVIDER_WORKSPACE_ROOT", os.TempDir())
	memoryStore := builtintools.NewMemoryStore(workspaceRoot, redisClient, logger)
	fetcher := builtintools.NewFetcher(workspaceRoot)
	sandbox := builtintools.NewSandbox()
	builtin := builtintools.NewRegistry(workspaceRoot, memoryStore, fetcher, sandbox)

	validator := schema.New(true)

	exec := executor.New(validator, breakers, exchanger, clientCreds, builtin, logger)
	exec.Metrics = metrics
	exec.Tracer = tracer

	var llmClient *anthropic.Client
	if cfg.Anthropic.APIKey != "" {
		llmClient, err = anthropic.NewFromAPIKey(cfg.Anthropic.APIKey, cfg.Anthropic.DefaultModel)
		if err != nil {
			return err
		}
	}

	sources := inventory.NewInMemorySourceRepository()
	toolsRepo := inventory.NewInMemoryToolRepository()
	reconciler := inventory.New(sources, toolsRepo, logger)

	convRepo := orchestrator.NewInMemoryConversationRepository()
	defRepo := orchestrator.NewInMemoryDefinitionRepository()
	templateRepo := orchestrator.NewInMemoryTemplateRepository()
	catalogue := orchestrator.NewCatalogue(sources, toolsRepo)
	commands := orchestrator.NewInMemoryCommands()
	models := orchestrator.NewStaticModelFactory(cfg.Anthropic.DefaultModel)

	orch := orchestrator.New(convRepo, defRepo, templateRepo, catalogue, commands, exec, llmClient, models, logger)

	// The hook bus fans out run-lifecycle events to observability
	// subscribers; the default subscriber just logs them structurally.
	hookBus := hooks.NewBus()
	if _, err := hookBus.Register(hooks.SubscriberFunc(func(ctx context.Context, evt hooks.Event) error {
		logger.Info(ctx, "run event", "type", string(evt.Type()), "run_id", evt.RunID(), "agent_id", evt.AgentID())
		return nil
	})); err != nil {
		return err
	}
	// Records every run event as durable conversation history a planner or
	// operator can reload via memory.Store.LoadRun.
	if _, err := hookBus.Register(&orchestrator.MemorySubscriber{Store: memoryinmem.New()}); err != nil {
		return err
	}
	streamSub, err := hooks.NewStreamSubscriber(&orchestrator.LogSink{Logger: logger})
	if err != nil {
		return err
	}
	if _, err := hookBus.Register(streamSub); err != nil {
		return err
	}
	orch.Hooks = hookBus
	orch.Policy = orchestrator.NewStaticCapsEngine(envIntOr("TOOLSPROVIDER_MAX_TOOL_CALLS_PER_RUN", 25))

	// The admin bus dispatches register/refresh/disable-source and
	// enable/disable-tool commands; §6 scopes a UI/API for it out, so no
	// HTTP route is mounted here, but AdminHandlers is wired end-to-end.
	adminBus := commandbus.New()
	(&commandbus.AdminHandlers{Reconciler: reconciler, ToolsRepo: toolsRepo, Sources: sources, Breakers: breakers}).Register(adminBus)

	mux := http.NewServeMux()
	mux.Handle("/ws/conversations", wsgateway.New(orch, logger))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	addr := cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("tools provider listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
