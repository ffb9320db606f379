package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"ragchat/internal/config"
	"ragchat/internal/domain"
	"ragchat/internal/llm/extractive"
	"ragchat/internal/llm/openai"
	"ragchat/internal/metrics"
	"ragchat/internal/retrieval"
	"ragchat/internal/search/cortex"
	"ragchat/internal/search/memory"
	"ragchat/internal/service"
	"ragchat/internal/session"
	"ragchat/internal/stage"
)

// app holds the components shared by every command.
type app struct {
	cfg       *config.AppConfig
	engine    *service.Engine
	catalog   domain.DocumentCatalog
	choices   session.Choices
	urlExpiry time.Duration
	log       *zap.Logger
}

func buildApp(cfg *config.AppConfig, log *zap.Logger) (*app, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &app{
		cfg:       cfg,
		urlExpiry: time.Duration(cfg.Catalog.URLExpirySecs) * time.Second,
		log:       log,
		choices: session.Choices{
			Models:   cfg.Assistant.Models,
			Segments: cfg.Retrieval.Segments,
			Metrics:  cfg.Retrieval.Metrics,
		},
	}

	var search domain.SearchCapability
	var local *memory.Service
	switch cfg.Search.Type {
	case "memory":
		svc, err := memory.LoadFile(cfg.Search.Memory.PassagesFile)
		if err != nil {
			return nil, fmt.Errorf("memory search init failed: %w", err)
		}
		local = svc
		search = svc
		if len(a.choices.Segments) == 0 {
			a.choices.Segments = svc.DistinctValues(domain.FieldSegment)
		}
		if len(a.choices.Metrics) == 0 {
			a.choices.Metrics = svc.DistinctValues(domain.FieldMetricType)
		}
	case "cortex":
		c := cfg.Search.Cortex
		svc, err := cortex.NewService(cortex.Config{
			AccountURL: c.AccountURL,
			Database:   c.Database,
			Schema:     c.Schema,
			Service:    c.Service,
			TokenEnv:   c.TokenEnv,
			Timeout:    time.Duration(c.TimeoutSecs) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("cortex search init failed: %w", err)
		}
		search = svc
	default:
		return nil, fmt.Errorf("unknown search type: %s", cfg.Search.Type)
	}

	var llm domain.CompletionCapability
	switch cfg.LLM.Type {
	case "extractive":
		llm = extractive.New(cfg.Retrieval.Limit)
	case "openai":
		o := cfg.LLM.OpenAI
		client, err := openai.NewClient(openai.Config{
			BaseURL:   o.BaseURL,
			APIKeyEnv: o.APIKeyEnv,
			Timeout:   time.Duration(o.TimeoutSecs) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("openai completion init failed: %w", err)
		}
		llm = client
	default:
		return nil, fmt.Errorf("unknown llm type: %s", cfg.LLM.Type)
	}

	switch cfg.Catalog.Type {
	case "static":
		values := map[string][]string{
			domain.FieldSegment:    a.choices.Segments,
			domain.FieldMetricType: a.choices.Metrics,
		}
		a.catalog = stage.NewStatic(cfg.Catalog.Static.Root, catalogDocs(cfg, local), values)
	case "snowflake":
		sf := cfg.Catalog.Snowflake
		cat, err := stage.NewSnowflake(stage.SnowflakeConfig{
			AccountURL:  sf.AccountURL,
			TokenEnv:    sf.TokenEnv,
			Warehouse:   sf.Warehouse,
			Database:    sf.Database,
			Schema:      sf.Schema,
			Stage:       sf.Stage,
			ChunksTable: sf.ChunksTable,
			Timeout:     time.Duration(sf.TimeoutSecs) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("snowflake catalog init failed: %w", err)
		}
		a.catalog = cat
	default:
		return nil, fmt.Errorf("unknown catalog type: %s", cfg.Catalog.Type)
	}

	client := retrieval.NewClient(search, log)
	a.engine = service.NewEngine(
		service.NewRewriter(llm, log),
		service.NewAssembler(client, cfg.Retrieval.Limit, cfg.Assistant.Persona),
		llm,
		service.EngineConfig{
			HistoryWindow: cfg.Window(),
			Timeout:       time.Duration(cfg.RequestTimeoutSecs) * time.Second,
		},
		log,
	)
	log.Info("components ready",
		zap.String("search", cfg.Search.Type),
		zap.String("llm", cfg.LLM.Type),
		zap.String("catalog", cfg.Catalog.Type),
	)
	return a, nil
}

// catalogDocs lists the configured static documents, falling back to the
// sources referenced by the local passage fixture.
func catalogDocs(cfg *config.AppConfig, local *memory.Service) []string {
	if docs := cfg.Catalog.Static.Documents; len(docs) > 0 {
		return docs
	}
	if local != nil {
		return local.DistinctValues(domain.FieldRelativePath)
	}
	return nil
}

func (a *app) newSession() *session.Controller {
	return session.New(a.engine, a.choices, domain.Selections{
		Model:   a.cfg.Assistant.Model,
		Segment: a.cfg.Session.Segment,
		Metric:  a.cfg.Session.Metric,
		Memory:  a.cfg.MemoryEnabled(),
		Debug:   a.cfg.Session.Debug,
	}, a.log)
}

// serveMetrics starts the Prometheus endpoint when configured. The returned
// function shuts it down.
func serveMetrics(addr string, log *zap.Logger) func() {
	if addr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()
	log.Info("metrics endpoint listening", zap.String("addr", addr))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
