package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	BotToken          string
	AdminIDs          []int64
	ChannelID         string
	ChannelInviteLink string

	DBPath     string // sqlite file; used when DB_HOST is empty
	DBUser     string
	DBPassword string
	DBName     string
	DBHost     string
	DBPort     string

	RedisHost     string
	RedisPort     string
	RedisPassword string

	AIEndpointURL  string
	AIKey          string
	AIModel        string
	AISystemPrompt string

	ExtractorURL string

	InitialRequests int
	DailyBaseline   int
	Timezone        string
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	return &Config{
		BotToken:          getEnv("TELEGRAM_BOT_TOKEN", ""),
		AdminIDs:          parseIDList(getEnv("ADMIN_IDS", "")),
		ChannelID:         getEnv("CHANNEL_ID", ""),
		ChannelInviteLink: getEnv("CHANNEL_INVITE_LINK", ""),
		DBPath:            getEnv("DB_PATH", "gdz_ai.db"),
		DBUser:            getEnv("DB_USER", "postgres"),
		DBPassword:        getEnv("DB_PASSWORD", "postgres"),
		DBName:            getEnv("DB_NAME", "gdz_ai_bot"),
		DBHost:            getEnv("DB_HOST", ""),
		DBPort:            getEnv("DB_PORT", "5432"),
		RedisHost:         getEnv("REDIS_HOST", "localhost"),
		RedisPort:         getEnv("REDIS_PORT", "6379"),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		AIEndpointURL:     getEnv("AI_ENDPOINT_URL", ""),
		AIKey:             getEnv("AI_API_KEY", ""),
		AIModel:           getEnv("AI_MODEL_ID", ""),
		AISystemPrompt:    getEnv("AI_SYSTEM_PROMPT", "Ты — помощник по домашним заданиям. Отвечай кратко и по делу."),
		ExtractorURL:      getEnv("EXTRACTOR_URL", ""),
		InitialRequests:   getEnvInt("INITIAL_REQUESTS", 5),
		DailyBaseline:     getEnvInt("DAILY_BASELINE", 5),
		Timezone:          getEnv("TIMEZONE", "Europe/Moscow"),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		log.Printf("Invalid integer for %s, using default %d", key, fallback)
	}
	return fallback
}

func parseIDList(raw string) []int64 {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			log.Printf("Skipping invalid admin id %q", part)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
