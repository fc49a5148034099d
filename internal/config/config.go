package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port        int
	DatabaseURL string
	NatsURL     string
	NatsToken   string
	ArchiveDir  string
	HTMLDir     string
	LogLevel    string
	APIToken    string
}

func Load() Config {
	return Config{
		Port:        envInt("PORT", 8810),
		DatabaseURL: envStr("DATABASE_URL", ""),
		NatsURL:     envStr("NATS_URL", ""),
		NatsToken:   envStr("NATS_TOKEN", ""),
		ArchiveDir:  envStr("ARCHIVE_DIR", "./chatlog"),
		HTMLDir:     envStr("HTML_DIR", "./chatlog/HTMLS"),
		LogLevel:    envStr("LOG_LEVEL", "info"),
		APIToken:    envStr("API_TOKEN", ""),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
