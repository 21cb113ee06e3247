package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// CostTable maps each job type to its price in credits.
type CostTable struct {
	Text    int64
	Image   int64
	Video   int64
	Audio   int64
	Upscale int64
	Edit    int64
}

// Cost returns the price for jobType, or an error for unknown types.
func (t CostTable) Cost(jobType string) (int64, error) {
	switch jobType {
	case "text":
		return t.Text, nil
	case "image":
		return t.Image, nil
	case "video":
		return t.Video, nil
	case "audio":
		return t.Audio, nil
	case "upscale":
		return t.Upscale, nil
	case "edit":
		return t.Edit, nil
	}
	return 0, fmt.Errorf("no cost for job type %q", jobType)
}

// Config is the explicit application configuration. It is loaded once in
// main and passed to components; business logic never reads the environment.
type Config struct {
	Addr        string
	DatabaseURL string

	JWTSecret        string
	JWTExpiry        time.Duration
	TelegramBotToken string
	VKAppSecret      string
	DevAuth          bool
	AdminSecret      string

	GenAPIBaseURL string
	GenAPIKey     string

	StoragePath   string
	FileRetention time.Duration

	MaxWorkers int

	Costs         CostTable
	TopupPackages []int64
}

// Load reads configuration from the environment, with .env support for local
// development. DATABASE_URL and JWT_SECRET are required.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Addr:             "0.0.0.0:" + getEnv("PORT", "8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		JWTExpiry:        7 * 24 * time.Hour,
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		VKAppSecret:      os.Getenv("VK_APP_SECRET"),
		DevAuth:          getEnvBool("DEV_AUTH", false),
		AdminSecret:      os.Getenv("ADMIN_SECRET"),
		GenAPIBaseURL:    getEnv("GENAPI_BASE_URL", "https://api.gen-api.ru/api/v1"),
		GenAPIKey:        os.Getenv("GENAPI_API_KEY"),
		StoragePath:      getEnv("STORAGE_PATH", "./storage"),
		FileRetention:    time.Duration(getEnvInt("FILE_RETENTION_HOURS", 72)) * time.Hour,
		MaxWorkers:       getEnvInt("MAX_WORKERS", 10),
		Costs: CostTable{
			Text:    1,
			Image:   10,
			Video:   50,
			Audio:   5,
			Upscale: 3,
			Edit:    8,
		},
		TopupPackages: []int64{100, 300, 500},
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
