package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Env            string
	BaseURL        string
	RequestTimeout time.Duration
	TokenTTL       time.Duration

	// devserver only
	Port         int
	JWTSecret    string
	OTLPEndpoint string
}

func Load() Config {
	env := getEnv("APP_ENV", "dev")
	baseURL := getEnv("CIVICPULSE_API_URL", "http://127.0.0.1:8080")
	timeoutMs := getEnvInt("CIVICPULSE_TIMEOUT_MS", 10000)
	tokenTTLMin := getEnvInt("CIVICPULSE_TOKEN_TTL_MIN", 60)
	port := getEnvInt("PORT", 8080)
	secret := getEnv("CIVICPULSE_JWT_SECRET", "dev-only-secret")
	otlp := getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	return Config{
		Env:            env,
		BaseURL:        baseURL,
		RequestTimeout: time.Duration(timeoutMs) * time.Millisecond,
		TokenTTL:       time.Duration(tokenTTLMin) * time.Minute,
		Port:           port,
		JWTSecret:      secret,
		OTLPEndpoint:   otlp,
	}
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)

		if err != nil {
			fmt.Println(err)
			return fallback
		}

		return num
	}
	return fallback
}
