// Package app assembles the services shared by the HTTP server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zhouzirui/chatty/backend/internal/analysis/sentiment"
	"github.com/zhouzirui/chatty/backend/internal/config"
	"github.com/zhouzirui/chatty/backend/internal/contract"
	"github.com/zhouzirui/chatty/backend/internal/handler"
	"github.com/zhouzirui/chatty/backend/internal/service/ai"
	"github.com/zhouzirui/chatty/backend/internal/service/chat"
	"github.com/zhouzirui/chatty/backend/internal/service/orchestrator"
	"github.com/zhouzirui/chatty/backend/internal/storage"
)

// ErrModelUnavailable is returned by operations that need a configured model.
var ErrModelUnavailable = errors.New("AI model is not configured")

// App holds the wired services. AI and Orchestrator are nil when no model is
// configured; conversation history still works.
type App struct {
	Config       *config.Config
	Store        *chat.Store
	AI           *ai.Service
	Orchestrator *orchestrator.Service

	persister storage.Persister
	logger    *slog.Logger
}

// ModelFactory builds the chat models; tests replace it.
type ModelFactory func(ctx context.Context, cfg config.AIConfig) (ai.Models, error)

// Option customises New.
type Option func(*options)

type options struct {
	models    ModelFactory
	persister storage.Persister
}

// WithModels overrides how chat models are created.
func WithModels(factory ModelFactory) Option {
	return func(o *options) { o.models = factory }
}

// WithPersister skips storage.Open and uses p.
func WithPersister(p storage.Persister) Option {
	return func(o *options) { o.persister = p }
}

// New opens storage, restores conversations and, when credentials are
// present, builds the model services.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	o := options{models: func(ctx context.Context, c config.AIConfig) (ai.Models, error) {
		return c.NewModels(ctx)
	}}
	for _, opt := range opts {
		opt(&o)
	}

	persister := o.persister
	if persister == nil {
		var err error
		persister, err = storage.Open(ctx, cfg.Storage.Options())
		if err != nil {
			// 存储不可用时不退出进程，仅保留内存中的会话
			logger.Warn("storage unavailable, conversations will not be saved", "storage", cfg.Storage.Driver, "error", err)
			persister = storage.NewUnavailable(nil, err)
		}
	}

	store := chat.NewStore(persister, logger)
	if err := store.Load(ctx); err != nil {
		logger.Warn("stored conversations unreadable, starting empty", "storage", cfg.Storage.Driver, "error", err)
		persister = storage.NewUnavailable(persister, err)
		store = chat.NewStore(persister, logger)
	}
	logger.Info("conversations restored", "count", len(store.List()), "storage", cfg.Storage.Driver)

	a := &App{Config: cfg, Store: store, persister: persister, logger: logger}

	if !cfg.AI.Enabled() {
		logger.Warn("model credentials not configured, message submission disabled", "provider", cfg.AI.Provider)
		return a, nil
	}

	models, err := o.models(ctx, cfg.AI)
	if err != nil {
		_ = persister.Close()
		return nil, err
	}

	a.AI, err = ai.NewService(ctx, models, ai.Options{Retry: cfg.AI.RetryPolicy(), Logger: logger})
	if err != nil {
		_ = persister.Close()
		return nil, fmt.Errorf("failed to initialize AI service: %w", err)
	}

	var analyzer orchestrator.SentimentAnalyzer = a.AI
	if !cfg.AI.SentimentLLMEnabled {
		analyzer = sentiment.Heuristic{}
		logger.Info("sentiment classifier disabled, using keyword heuristic")
	}
	a.Orchestrator = orchestrator.New(a.AI, analyzer, logger)

	logger.Info("AI service initialized", "provider", cfg.AI.Provider, "model", cfg.AI.Model, "classifier", cfg.AI.ClassifierModel)
	return a, nil
}

// Exchange runs one round trip against conversationID, or the active
// conversation when empty.
func (a *App) Exchange(ctx context.Context, conversationID string, form contract.Form) (chat.ExchangeResult, error) {
	if a.Orchestrator == nil {
		return chat.ExchangeResult{}, ErrModelUnavailable
	}
	return a.Store.Exchange(ctx, conversationID, form, a.Orchestrator)
}

// Moderate runs the content filter on text.
func (a *App) Moderate(ctx context.Context, text string) (contract.FilterOutput, error) {
	if a.AI == nil {
		return contract.FilterOutput{}, ErrModelUnavailable
	}
	return a.AI.FilterContent(ctx, contract.FilterInput{Text: text})
}

// Close flushes and releases storage. Nothing is flushed when storage was
// unavailable at startup.
func (a *App) Close(ctx context.Context) error {
	var flushErr error
	if _, degraded := a.persister.(*storage.Unavailable); !degraded {
		flushErr = a.Store.Flush(ctx)
	}
	closeErr := a.persister.Close()
	return errors.Join(flushErr, closeErr)
}

// RouterDependencies returns what handler.NewRouter needs. Interfaces stay nil
// without a model so the routes answer 503.
func (a *App) RouterDependencies() handler.Dependencies {
	deps := handler.Dependencies{
		Store: a.Store,
		Health: handler.Health{
			Provider: string(a.Config.AI.Provider),
			Model:    a.Config.AI.Model,
			Storage:  string(a.Config.Storage.Driver),
		},
		Logger: a.logger,
	}
	if a.Orchestrator != nil {
		deps.Submitter = a.Orchestrator
		deps.Moderator = a.AI
	}
	return deps
}
