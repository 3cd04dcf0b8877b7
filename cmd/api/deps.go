package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	redisCache "github.com/smartclass/backend/internal/cache/redis"
	"github.com/smartclass/backend/internal/chatbot"
	"github.com/smartclass/backend/internal/document"
	"github.com/smartclass/backend/internal/llm"
	"github.com/smartclass/backend/internal/storage/database"
	"github.com/smartclass/backend/pkg/config"
	appLogger "github.com/smartclass/backend/pkg/logger"
)

// deps holds the clients shared by the commands.
type deps struct {
	db       *database.Client
	redis    *redisCache.Client
	llm      *llm.Client
	loader   *document.Loader
	sessions chatbot.SessionStore
	memory   *chatbot.MemoryStore
	engine   *chatbot.Engine
}

func buildDeps(ctx context.Context, cfg *config.Config) (*deps, error) {
	db, err := database.NewClient(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to create database client: %w", err)
	}
	if err := db.InitSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	d := &deps{db: db}

	d.llm = llm.NewClient(llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     time.Duration(cfg.LLM.TimeoutSec) * time.Second,
	})

	d.loader = document.NewLoader(document.NewFetcher(document.FetcherConfig{
		Timeout:     time.Duration(cfg.Fetch.TimeoutSec) * time.Second,
		MaxAttempts: cfg.Fetch.MaxAttempts,
		MaxBytes:    cfg.Fetch.MaxBytes,
	}))

	historySize := cfg.Chat.HistorySize
	sessionTTL := time.Duration(cfg.Chat.SessionTTLMin) * time.Minute

	var textCache chatbot.TextCache
	if cfg.Redis.Enabled {
		rc, err := redisCache.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, keeping chat sessions in memory", zap.Error(err))
		} else {
			d.redis = rc
			d.sessions = rc.Sessions(historySize, sessionTTL)
			textCache = rc.TextCache(time.Duration(cfg.Redis.TextCacheTTLMin) * time.Minute)
		}
	}
	if d.sessions == nil {
		d.memory = chatbot.NewMemoryStore(historySize, sessionTTL)
		d.sessions = d.memory
	}

	d.engine = chatbot.NewEngine(
		db,
		chatbot.NewMaterializer(d.loader, textCache, cfg.Chat.DocumentChars),
		d.sessions,
		d.llm,
		db,
		chatbot.EngineConfig{
			TopK:   cfg.Chat.TopK,
			Policy: chatbot.HistoryPolicy(cfg.Chat.HistoryPolicy),
		},
	)

	return d, nil
}

func (d *deps) Close() {
	if d.memory != nil {
		d.memory.Close()
	}
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			appLogger.Warn("Failed to close redis client", zap.Error(err))
		}
	}
	if err := d.db.Close(); err != nil {
		appLogger.Warn("Failed to close database", zap.Error(err))
	}
}

func runSchema(ctx context.Context, cfg *config.Config) error {
	db, err := database.NewClient(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to create database client: %w", err)
	}
	defer db.Close()

	if err := db.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	appLogger.Info("Schema ready", zap.String("driver", cfg.Database.Driver))
	return nil
}
