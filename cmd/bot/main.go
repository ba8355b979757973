package main

import (
	"context"
	"log"

	"github.com/mymmrac/telego"

	"gdz-ai-bot/internal/ai"
	"gdz-ai-bot/internal/bot"
	"gdz-ai-bot/internal/config"
	"gdz-ai-bot/internal/database"
	"gdz-ai-bot/internal/extract"
	"gdz-ai-bot/internal/ledger"
	"gdz-ai-bot/internal/worker"
)

func main() {
	cfg := config.LoadConfig()
	if cfg.BotToken == "" {
		log.Fatal("TELEGRAM_BOT_TOKEN is not set")
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Could not connect to database: %v", err)
	}

	rdb, err := database.ConnectRedis(cfg)
	if err != nil {
		log.Printf("Redis unavailable, subscription checks are uncached: %v", err)
		rdb = nil
	}

	store, err := ledger.NewStore(db)
	if err != nil {
		log.Fatalf("Could not initialize ledger store: %v", err)
	}

	aiClient := ai.NewClient(cfg.AIEndpointURL, cfg.AIKey, cfg.AIModel, cfg.AISystemPrompt)
	extractor := extract.NewClient(cfg.ExtractorURL)

	instance, err := telego.NewBot(cfg.BotToken)
	if err != nil {
		log.Fatalf("Could not create bot: %v", err)
	}

	notifier := bot.NewTelegramNotifier(instance)
	referrals := ledger.NewEngine(store, notifier, cfg.InitialRequests)
	quota := ledger.NewGate(store, notifier)

	reset, err := ledger.NewDailyReset(store, notifier, cfg.DailyBaseline, cfg.Timezone)
	if err != nil {
		log.Fatalf("Could not set up daily reset: %v", err)
	}

	sched, err := worker.NewScheduler(reset).Start(context.Background())
	if err != nil {
		log.Fatalf("Could not start daily reset worker: %v", err)
	}
	defer func() { _ = sched.Shutdown() }()

	tgBot := bot.NewBot(cfg, instance, store, referrals, quota, aiClient, extractor, rdb)

	log.Println("Service started successfully")
	tgBot.Start()
}
