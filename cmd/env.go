package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intake-cli/internal/engine"
	"github.com/sells-group/intake-cli/internal/ingest"
	"github.com/sells-group/intake-cli/internal/llm"
	"github.com/sells-group/intake-cli/internal/store"
	"github.com/sells-group/intake-cli/pkg/anthropic"
)

// env holds the wired application components shared by every command.
type env struct {
	Store  store.Store
	Engine *engine.Engine
}

// initEnv opens the configured store and wires the engine. With no
// Anthropic key the engine runs fully on deterministic fallbacks.
func initEnv(ctx context.Context) (*env, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	var gen llm.Generator = llm.Null{}
	if cfg.Anthropic.Key != "" {
		client := anthropic.NewClient(cfg.Anthropic.Key)
		gen = llm.NewAnthropic(client, cfg.Anthropic.SonnetModel, cfg.Anthropic.DocMaxTokens, "intake")
	} else {
		zap.L().Info("no anthropic key configured; running with deterministic fallbacks")
	}

	fetcher := ingest.NewFetcher(cfg.Ingest.RequestsPerSecond)
	return &env{
		Store:  st,
		Engine: engine.New(st, fetcher, gen),
	}, nil
}

func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite", "":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func (e *env) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}
