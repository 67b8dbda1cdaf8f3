package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"Stepwise-Agent/internal/agent"
	"Stepwise-Agent/internal/api"
	"Stepwise-Agent/internal/auth"
	"Stepwise-Agent/internal/capabilities"
	"Stepwise-Agent/internal/capability"
	"Stepwise-Agent/internal/cli"
	"Stepwise-Agent/internal/config"
	"Stepwise-Agent/internal/events"
	"Stepwise-Agent/internal/executor"
	"Stepwise-Agent/internal/history"
	"Stepwise-Agent/internal/knowledge"
	"Stepwise-Agent/internal/llm"
	"Stepwise-Agent/internal/llm/bridge"
	"Stepwise-Agent/internal/llm/langchain"
	"Stepwise-Agent/internal/llm/openai"
	"Stepwise-Agent/internal/observability/metrics"
	"Stepwise-Agent/internal/plan"
	"Stepwise-Agent/internal/result"
	"Stepwise-Agent/internal/task"
	"Stepwise-Agent/pkg/logger"
)

// main 是交互式 Agent 的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("stepwise 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.Path())
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log); err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Named("main")

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	// 运行日志每次启动都会被截断，监视器从头读取。
	journal, err := logger.OpenJournal(cfg.Journal.Path, cfg.Journal.MaxSizeMB)
	if err != nil {
		return err
	}
	defer journal.Close()
	journal.Status(agent.StatusInitializing)

	client, err := createLLMClient(cfg)
	if err != nil {
		return err
	}
	client = llm.WithJournal(client, journal)

	collector := metrics.New()
	planOpts := []plan.GeneratorOption{
		plan.WithTemperature(cfg.LLM.Temperature),
		plan.WithTimeout(cfg.LLM.OpenAI.Timeout()),
	}
	if cfg.Runtime.HintsFile != "" {
		hints, err := knowledge.LoadStaticProvider(cfg.Runtime.HintsFile, 3)
		if err != nil {
			return err
		}
		planOpts = append(planOpts, plan.WithHints(hints))
	}
	generator := plan.NewGenerator(client, planOpts...)

	console := cli.NewConsole(cfg.Runtime.HistoryFile)
	defer console.Close()

	registry := capability.New(cfg.Registry.Manifest,
		capability.WithBuiltin(capabilities.Builtins()...),
		capability.WithJournal(journal),
	)
	registry.Provide(capabilities.ResourcePrompter, capabilities.Prompter(console))
	registry.Provide(capabilities.ResourceDisplay, capabilities.Display(console))
	registry.Provide(capabilities.ResourceReasoner, client)
	registry.Provide(capabilities.ResourcePlanner, capabilities.Planner(generator))
	registry.Provide(capabilities.ResourceCatalog, capabilities.Catalog(registry))
	registry.Provide(capabilities.ResourceManifest, cfg.Registry.Manifest)
	registry.Provide(capabilities.ResourceBuilder, capabilities.Builder(capabilities.CommandBuilder{
		Command: strings.Fields(cfg.Registry.BuildCommand),
	}))
	if err := registry.Load(ctx); err != nil {
		return err
	}

	exec := executor.New(registry,
		executor.WithJournal(journal),
		executor.WithStrictReferences(cfg.Runtime.StrictReferences),
		executor.WithMetrics(collector),
	)

	repo, err := history.Open(ctx, history.Config{
		Driver:  cfg.History.Driver,
		DSN:     cfg.History.DSN,
		DataDir: cfg.History.DataDir,
	})
	if err != nil {
		return err
	}
	if repo != nil {
		defer repo.Close()
	}

	publisher, err := events.Open(ctx, events.Config{
		Driver: cfg.Events.Driver,
		Redis: events.RedisConfig{
			Address:  cfg.Events.Redis.Address,
			Password: cfg.Events.Redis.Password,
			DB:       cfg.Events.Redis.DB,
			Channel:  cfg.Events.Redis.Channel,
		},
		RabbitMQ: events.RabbitMQConfig{
			URL:      cfg.Events.RabbitMQ.URL,
			Exchange: cfg.Events.RabbitMQ.Exchange,
		},
	})
	if err != nil {
		return err
	}
	defer publisher.Close()

	trackerOpts := []task.Option{
		task.WithObserver(task.JournalObserver(journal)),
		task.WithObserver(task.AuditObserver(nil)),
		task.WithObserver(events.Observer(publisher, log)),
	}
	if repo != nil {
		trackerOpts = append(trackerOpts, task.WithObserver(history.Observer(repo, log)))
	}
	tracker := task.NewTracker(trackerOpts...)

	stores, closeStores, err := createResultStores(cfg)
	if err != nil {
		return err
	}
	defer closeStores()

	agentOpts := []agent.Option{
		agent.WithResultStoreFactory(stores),
		agent.WithJournal(journal),
		agent.WithMetrics(collector),
	}
	if repo != nil {
		agentOpts = append(agentOpts, agent.WithHistory(repo))
	}
	ag := agent.New(registry, generator, exec, tracker, agentOpts...)

	if cfg.Server.Address != "" {
		server := api.NewServer(cfg.Server.Address, ag, collector, api.WithAuth(auth.NewService(cfg.Server.Tokens)))
		go func() {
			if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("状态服务异常退出", slog.Any("error", err))
			}
		}()
		log.Info("状态服务已启动", slog.String("address", cfg.Server.Address))
	}

	loop := cli.NewLoop(console, ag,
		cli.WithReloader(registry),
		cli.WithJournal(journal),
	)
	return loop.Run(ctx)
}

func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case config.ProviderOpenAI:
		return openai.NewClient(openai.Config{
			APIKey:            cfg.LLM.OpenAI.APIKey,
			BaseURL:           cfg.LLM.OpenAI.BaseURL,
			Model:             cfg.LLM.OpenAI.Model,
			Timeout:           cfg.LLM.OpenAI.Timeout(),
			RequestsPerMinute: cfg.LLM.OpenAI.RequestsPerMinute,
		})
	case config.ProviderOllama:
		return langchain.NewFromConfig(langchain.Config{
			Provider:  langchain.ProviderOllama,
			ServerURL: cfg.LLM.Ollama.ServerURL,
			Model:     cfg.LLM.Ollama.Model,
		})
	case config.ProviderBridge:
		return bridge.NewClient(cfg.LLM.Bridge.Command, cfg.LLM.Bridge.Args, cfg.LLM.Bridge.WorkingDir)
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

func createResultStores(cfg *config.Config) (result.Factory, func(), error) {
	switch cfg.ResultStore.Driver {
	case "redis":
		backend, err := result.NewRedisBackend(result.RedisConfig{
			Address:  cfg.ResultStore.Redis.Address,
			Password: cfg.ResultStore.Redis.Password,
			DB:       cfg.ResultStore.Redis.DB,
			Prefix:   cfg.ResultStore.Redis.Prefix,
			TTL:      time.Duration(cfg.ResultStore.Redis.TTLSeconds) * time.Second,
		})
		if err != nil {
			return nil, nil, err
		}
		return backend.Factory(), func() { _ = backend.Close() }, nil
	default:
		return result.MemoryFactory, func() {}, nil
	}
}
