package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"

	"github.com/Diyago/tg-bot-analyse/internal/analyzer"
	"github.com/Diyago/tg-bot-analyse/internal/auth"
	"github.com/Diyago/tg-bot-analyse/internal/cache"
	"github.com/Diyago/tg-bot-analyse/internal/config"
	"github.com/Diyago/tg-bot-analyse/internal/llm"
	"github.com/Diyago/tg-bot-analyse/internal/pending"
	"github.com/Diyago/tg-bot-analyse/internal/scheduler"
	"github.com/Diyago/tg-bot-analyse/internal/storage"
	"github.com/Diyago/tg-bot-analyse/internal/telegram"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	cfg := config.New()

	var allowRepo auth.Repository
	if cfg.AllowlistFilePath != "" {
		repo, err := auth.NewFileRepository(cfg.AllowlistFilePath)
		if err != nil {
			log.Printf("failed to init allowlist repo: %v", err)
		} else {
			allowRepo = repo
		}
	}

	authSvc, err := auth.NewWithRepo(allowRepo, cfg.AllowedUsers, cfg.AdminUserID)
	if err != nil {
		log.Fatalf("failed to init auth: %v", err)
	}

	msgCache := newCache(cfg)
	defer func() {
		if err := msgCache.Close(); err != nil {
			log.Printf("failed to close message cache: %v", err)
		}
	}()

	llmClient, err := llm.NewFactory(cfg).CreateClient(string(cfg.LLMProvider), cfg.OpenAIModel)
	if err != nil {
		log.Fatalf("failed to create llm client: %v", err)
	}

	var pRepo pending.Repository
	if cfg.PendingFilePath != "" {
		pr, err := pending.NewFileRepository(cfg.PendingFilePath)
		if err != nil {
			log.Printf("failed to init pending repo: %v", err)
		} else {
			pRepo = pr
		}
	}

	var audit storage.AuditLog
	if cfg.AuditLogPath != "" {
		al, err := storage.NewFileAuditLog(cfg.AuditLogPath)
		if err != nil {
			log.Printf("failed to init audit log: %v", err)
		} else {
			audit = al
		}
	}

	bot, err := telegram.New(
		cfg.TelegramBotToken,
		authSvc,
		msgCache,
		analyzer.New(llmClient),
		pRepo,
		audit,
		cfg.MessageParseMode,
	)
	if err != nil {
		log.Fatalf("failed to create bot: %v", err)
	}

	if cfg.DigestCron != "" {
		sched := scheduler.New(cfg.DigestCron)
		sched.SetDigestFunction(bot.SendDailyDigest)
		if err := sched.Start(); err != nil {
			log.Printf("failed to start digest scheduler: %v", err)
		} else {
			defer sched.Stop()
		}
	}

	bot.Start(context.Background())
}

// newCache picks the persistent cache when DB_PATH is set and falls back to
// the in-memory ring otherwise.
func newCache(cfg *config.Config) cache.Cache {
	if cfg.DBPath == "" {
		return cache.NewMemory(cfg.CacheMaxSize)
	}
	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open message store at %s: %v", cfg.DBPath, err)
	}
	return cache.NewPersistent(cfg.CacheMaxSize, store)
}
