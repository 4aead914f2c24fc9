package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration values for the bot
type Config struct {
	// Discord
	DiscordToken  string
	ArbiterUserID string

	// Gemini vision
	GeminiAPIKey string
	VisionModels []string

	// Verification thresholds
	MinGames  int
	MinWinPct float64

	// Reverification window in days
	ReverifyWindowDays int

	// Database
	DatabasePath string

	// Expiry sweep
	SweepIntervalMinutes int

	// Audit channel created per guild if missing
	AuditChannelName string

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		DiscordToken:     os.Getenv("DISCORD_BOT_TOKEN"),
		ArbiterUserID:    os.Getenv("ARBITER_USER_ID"),
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		DatabasePath:     getEnvOrDefault("DATABASE_PATH", "./data/bot.db"),
		AuditChannelName: getEnvOrDefault("AUDIT_CHANNEL_NAME", "verification-log"),
		LogLevel:         getEnvOrDefault("LOG_LEVEL", "info"),
	}

	// Ordered fallback list of vision models
	modelsStr := getEnvOrDefault("VISION_MODELS", "gemini-2.0-flash,gemini-1.5-flash")
	for _, m := range strings.Split(modelsStr, ",") {
		if m = strings.TrimSpace(m); m != "" {
			cfg.VisionModels = append(cfg.VisionModels, m)
		}
	}

	var err error
	if cfg.MinGames, err = getEnvInt("MIN_GAMES", 100); err != nil {
		return nil, err
	}
	if cfg.MinWinPct, err = getEnvFloat("MIN_WIN_PCT", 80.0); err != nil {
		return nil, err
	}
	if cfg.ReverifyWindowDays, err = getEnvInt("REVERIFY_WINDOW_DAYS", 30); err != nil {
		return nil, err
	}
	if cfg.SweepIntervalMinutes, err = getEnvInt("SWEEP_INTERVAL_MINUTES", 60); err != nil {
		return nil, err
	}

	// Validate required fields
	if cfg.DiscordToken == "" {
		return nil, fmt.Errorf("DISCORD_BOT_TOKEN is required")
	}
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if cfg.ArbiterUserID == "" {
		return nil, fmt.Errorf("ARBITER_USER_ID is required")
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}
