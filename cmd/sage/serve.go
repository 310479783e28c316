package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/kadirpekel/sage/pkg/auth"
	"github.com/kadirpekel/sage/pkg/config"
	"github.com/kadirpekel/sage/pkg/lexical"
	"github.com/kadirpekel/sage/pkg/observability"
	"github.com/kadirpekel/sage/pkg/orchestrator"
	"github.com/kadirpekel/sage/pkg/reasoning"
	"github.com/kadirpekel/sage/pkg/retriever"
	"github.com/kadirpekel/sage/pkg/server"
	"github.com/kadirpekel/sage/pkg/statestore"
	"github.com/kadirpekel/sage/pkg/tools"
	"github.com/kadirpekel/sage/pkg/vector"
)

// ServeCmd assembles the engine from configuration and serves HTTP until
// interrupted.
type ServeCmd struct{}

func (cmd *ServeCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	metrics, err := observability.InitMetrics(cfg.Observability.Enabled)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	observability.SetGlobalMetrics(metrics)

	store, err := buildStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	oracle, err := reasoning.NewHTTPClient(&cfg.Reasoning)
	if err != nil {
		return err
	}

	searcher, err := buildRetriever(cfg, oracle)
	if err != nil {
		return err
	}

	opts := []orchestrator.Option{
		orchestrator.WithMetrics(metrics),
		orchestrator.WithRetriever(searcher),
	}

	if len(cfg.Tools) > 0 {
		registry, err := tools.NewRegistryFromConfig(cfg.Tools)
		if err != nil {
			return err
		}
		tokens := auth.NewHTTPTokenSource(
			cfg.Auth.TokenURL,
			cfg.Auth.ClientID,
			cfg.Auth.ClientSecret,
			cfg.Auth.RefreshSkewDuration(),
		)
		invoker, err := tools.NewInvoker(registry, tokens)
		if err != nil {
			return err
		}
		opts = append(opts, orchestrator.WithTools(registry, invoker))
		slog.Info("Tools configured", "count", len(cfg.Tools))
	}

	engine, err := orchestrator.New(&cfg.Orchestrator, store, oracle, opts...)
	if err != nil {
		return err
	}

	srv, err := server.New(&cfg.Server, engine)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("Shutting down")
		return srv.Shutdown(context.Background())
	}
}

func buildStore(cfg *config.Config) (statestore.Store, error) {
	if cfg.StateStore.Backend == config.StorageBackendSQL {
		return statestore.NewSQLStoreFromConfig(&cfg.StateStore)
	}

	store := statestore.NewMemoryStore(cfg.StateStore.RetentionDuration())
	store.StartSweep(cfg.StateStore.SweepIntervalDuration())
	return store, nil
}

func buildRetriever(cfg *config.Config, oracle reasoning.Client) (*retriever.Retriever, error) {
	var semantic retriever.SemanticIndex

	if sc := cfg.Retriever.Semantic; sc != nil {
		embedder, err := vector.NewHTTPEmbedder(vector.EmbedderConfig{
			Endpoint: sc.Embedder.Endpoint,
			APIKey:   sc.Embedder.APIKey,
			Model:    sc.Embedder.Model,
			Timeout:  sc.Embedder.Timeout,
		})
		if err != nil {
			return nil, err
		}

		switch sc.Backend {
		case "qdrant":
			semantic, err = vector.NewQdrantIndex(vector.QdrantConfig{
				Host:       sc.Host,
				Port:       sc.Port,
				APIKey:     sc.APIKey,
				UseTLS:     sc.UseTLS,
				Collection: sc.Collection,
			}, embedder)
		default:
			semantic, err = vector.NewChromemIndex(vector.ChromemConfig{
				Collection:  sc.Collection,
				PersistPath: sc.PersistPath,
				Compress:    sc.Compress,
			}, embedder)
		}
		if err != nil {
			return nil, err
		}
		slog.Info("Semantic index configured", "backend", sc.Backend)
	}

	return retriever.New(&cfg.Retriever, semantic, lexical.NewIndex(),
		retriever.WithReranker(retriever.NewLLMReranker(oracle)))
}
