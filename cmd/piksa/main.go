// Command piksa runs the illustrated book creation service: the step
// handlers, the background persistence queue, the event log, and the status
// web UI.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/term"

	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/agent"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/agent/llm"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/config"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/dispatch"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/eventlog"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/imagegen"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/logx"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/memory"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/metrics"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/persistence"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/proto"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/state"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/steps"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/tasks"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/version"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/webui"
)

// taskQueueSize bounds the background persistence queue.
const taskQueueSize = 64

func main() {
	var (
		configPath string
		envPath    string
		dataDir    string
		userID     string
		addr       string
		debug      bool
	)
	flag.StringVar(&configPath, "config", "piksa.yaml", "Path to config file")
	flag.StringVar(&envPath, "env", ".env", "Path to .env file with API keys")
	flag.StringVar(&dataDir, "data-dir", "", "Data directory (overrides workflow.data_dir)")
	flag.StringVar(&userID, "user", "", "User ID for memory scoping (default: PIKSA_USER env)")
	flag.StringVar(&addr, "addr", "", "Web UI listen address (overrides webui.addr)")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.Parse()

	logx.SetDebug(debug)
	logger := logx.NewLogger("piksa")
	logger.Info("piksa %s starting", version.Version)

	if err := config.LoadDotEnv(envPath); err != nil {
		log.Fatalf("failed to load env file: %v", err)
	}
	if err := config.LoadConfig(configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg, err := config.GetConfig()
	if err != nil {
		log.Fatalf("config not available: %v", err)
	}

	if dataDir == "" {
		dataDir = cfg.Workflow.DataDir
	}
	if addr == "" {
		addr = cfg.WebUI.Addr
	}
	if userID == "" {
		userID = os.Getenv("PIKSA_USER")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.Fatalf("failed to create data dir %s: %v", dataDir, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := persistence.Initialize(filepath.Join(dataDir, "piksa.db")); err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer func() {
		if err := persistence.Close(); err != nil {
			logger.Warn("failed to close database: %v", err)
		}
	}()
	ops := persistence.Ops()

	stateStore, err := state.NewStore(filepath.Join(dataDir, "state"))
	if err != nil {
		log.Fatalf("failed to open state store: %v", err)
	}

	recorder := metrics.NewPrometheusRecorder()

	queue := tasks.NewQueue(taskQueueSize, cfg.Retry, ops, recorder)
	queue.Start(ctx)
	defer queue.Stop()

	eventWriter, err := eventlog.NewWriter(filepath.Join(dataDir, "events"))
	if err != nil {
		log.Fatalf("failed to open event log: %v", err)
	}
	defer func() {
		if err := eventWriter.Close(); err != nil {
			logger.Warn("failed to close event log: %v", err)
		}
	}()

	dispatcher := dispatch.NewDispatcher(queue)
	dispatcher.AddSink(func(event *proto.StreamEvent) {
		if err := eventWriter.WriteEvent(event); err != nil {
			logger.Warn("failed to log event %s: %v", event.Type, err)
		}
	})

	promptForMissingKeys(&cfg, logger)

	memoryService := buildMemoryService(&cfg, logger)
	images, err := imagegen.NewGenerator(cfg.ImageGen, recorder)
	if err != nil {
		log.Fatalf("failed to create image generator: %v", err)
	}
	planner, drafter := buildLLMClients(recorder, logger)

	stepService, err := steps.NewService(steps.Deps{
		UserID:       userID,
		Storage:      ops,
		Memory:       memoryService,
		Images:       images,
		Planner:      planner,
		Drafter:      drafter,
		StateStore:   stateStore,
		Queue:        queue,
		Emit:         dispatcher.Dispatch,
		Recorder:     recorder,
		SkipApproval: cfg.Workflow.SkipApproval,
	})
	if err != nil {
		log.Fatalf("failed to create step service: %v", err)
	}

	if cfg.WebUI.Enabled {
		server := webui.NewServer(dispatcher, stepService, queue)
		if cfg.WebUI.PrometheusURL != "" {
			queries, err := metrics.NewQueryService(cfg.WebUI.PrometheusURL)
			if err != nil {
				logger.Warn("metrics query service unavailable: %v", err)
			} else {
				server.SetQueryService(queries)
			}
		}
		if err := server.StartServer(ctx, addr); err != nil {
			log.Fatalf("failed to start web UI: %v", err)
		}
	}

	logger.Info("piksa ready (data dir %s, web UI %s)", dataDir, addr)
	<-ctx.Done()
	logger.Info("shutting down")
}

// promptForMissingKeys asks for missing provider API keys on the terminal,
// with hidden input. Non-interactive runs skip the prompt and the affected
// clients degrade at construction time.
func promptForMissingKeys(cfg *config.Config, logger *logx.Logger) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return
	}

	for _, modelName := range []string{cfg.Models.Planning, cfg.Models.Drafting} {
		provider, err := config.GetModelProvider(modelName)
		if err != nil || config.HasAPIKey(provider) {
			continue
		}
		envName := keyEnvName(provider)
		if envName == "" {
			continue
		}

		fmt.Printf("Enter %s API key for %s (blank to skip): ", provider, modelName)
		key, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			logger.Warn("failed to read %s key: %v", provider, err)
			return
		}
		if len(key) > 0 {
			config.SetSecret(envName, string(key))
		}
	}
}

func keyEnvName(provider string) string {
	switch provider {
	case config.ProviderAnthropic:
		return config.EnvAnthropicKey
	case config.ProviderOpenAI:
		return config.EnvOpenAIKey
	case config.ProviderGoogle:
		return config.EnvGoogleKey
	default:
		return ""
	}
}

// buildMemoryService returns the configured memory client, or the in-process
// fake when no service endpoint is configured.
func buildMemoryService(cfg *config.Config, logger *logx.Logger) memory.Service {
	if cfg.Memory.BaseURL == "" {
		logger.Warn("no memory service configured, using in-process memory")
		return memory.NewFake()
	}
	apiKey, err := config.GetSecret(config.EnvMemoryKey)
	if err != nil {
		logger.Warn("memory service key not set, sending unauthenticated requests")
	}
	return memory.NewClient(cfg.Memory.BaseURL, apiKey,
		memory.WithTimeout(cfg.Memory.Timeout),
		memory.WithMaxResults(cfg.Memory.MaxResults),
	)
}

// buildLLMClients creates the planning and drafting clients. A missing API
// key degrades that client to nil; the step handlers fall back to
// deterministic composition.
func buildLLMClients(recorder metrics.Recorder, logger *logx.Logger) (planner, drafter llm.LLMClient) {
	factory := agent.NewClientFactory(recorder)

	planner, err := factory.CreatePlanningClient()
	if err != nil {
		logger.Warn("planning model unavailable: %v", err)
		planner = nil
	}
	drafter, err = factory.CreateDraftingClient()
	if err != nil {
		logger.Warn("drafting model unavailable: %v", err)
		drafter = nil
	}
	return planner, drafter
}
