package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

type DraftStoreKind string

const (
	DraftStoreMemory DraftStoreKind = "memory"
	DraftStoreRedis  DraftStoreKind = "redis"
	DraftStoreMySQL  DraftStoreKind = "mysql"
)

// Settings is the process configuration read from the environment (and .env).
type Settings struct {
	Port               string
	BackendURL         string
	BackendTimeout     time.Duration
	Currency           string
	DraftStore         DraftStoreKind
	DraftTTL           time.Duration
	SnapshotTTL        time.Duration
	RedisAddress       string
	Env                string
	CORSAllowedOrigins []string
}

func (s Settings) IsProduction() bool {
	return s.Env == "production"
}

func LoadSettings() (Settings, error) {
	s := Settings{
		Port:           stringFromEnv("PORT", "8080"),
		BackendURL:     strings.TrimRight(strings.TrimSpace(os.Getenv("BACKEND_URL")), "/"),
		BackendTimeout: time.Duration(intFromEnv("BACKEND_TIMEOUT_SECONDS", 15)) * time.Second,
		Currency:       strings.ToUpper(stringFromEnv("CURRENCY", "AED")),
		DraftStore:     DraftStoreKind(strings.ToLower(stringFromEnv("DRAFT_STORE", string(DraftStoreMemory)))),
		DraftTTL:       time.Duration(intFromEnv("DRAFT_TTL_HOURS", 72)) * time.Hour,
		SnapshotTTL:    time.Duration(intFromEnv("SNAPSHOT_TTL_SECONDS", 300)) * time.Second,
		RedisAddress:   stringFromEnv("REDIS_ADDRESS", "localhost:6379"),
		Env:            stringFromEnv("GO_ENV", "development"),
	}
	for _, origin := range strings.Split(os.Getenv("CORS_ALLOWED_ORIGINS"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			s.CORSAllowedOrigins = append(s.CORSAllowedOrigins, origin)
		}
	}

	switch s.DraftStore {
	case DraftStoreMemory, DraftStoreRedis, DraftStoreMySQL:
	default:
		return s, fmt.Errorf("DRAFT_STORE must be memory, redis or mysql, got %q", s.DraftStore)
	}
	if s.BackendTimeout <= 0 {
		return s, fmt.Errorf("BACKEND_TIMEOUT_SECONDS must be positive")
	}
	if s.SnapshotTTL <= 0 {
		return s, fmt.Errorf("SNAPSHOT_TTL_SECONDS must be positive")
	}
	return s, nil
}

func stringFromEnv(key string, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}
