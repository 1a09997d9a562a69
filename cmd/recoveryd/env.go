package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// settings holds the process-level wiring that does not belong in the TOML engine config.
type settings struct {
	Port       string
	ConfigPath string
	LogLevel   string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	DynamoEndpoint     string
	DynamoTable        string
	SearchFields       []string
	SNSSenderID        string

	SMTPHost     string
	SMTPPort     string
	SMTPUser     string
	SMTPPassword string

	FingerprintKey         []byte
	PreviousAuthPrivateKey []byte
	PreviousAuthPublicKey  []byte

	AllowedOrigins []string
	SecureCookies  bool
	ThrottleRate   float64
	ThrottleBurst  int
	ShutdownGrace  time.Duration
}

func loadSettings() (settings, error) {
	s := settings{
		Port:       getEnv("RECOVERY_PORT", "8080"),
		ConfigPath: os.Getenv("RECOVERY_CONFIG"),
		LogLevel:   getEnv("RECOVERY_LOG_LEVEL", "info"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		AWSRegion:          getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		DynamoEndpoint:     os.Getenv("DYNAMO_ENDPOINT"),
		DynamoTable:        getEnv("RECOVERY_DIRECTORY_TABLE", "recovery_users"),
		SearchFields:       getEnvList("RECOVERY_SEARCH_FIELDS", []string{"username"}),
		SNSSenderID:        os.Getenv("SNS_SENDER_ID"),

		SMTPHost:     os.Getenv("SMTP_HOST"),
		SMTPPort:     getEnv("SMTP_PORT", "587"),
		SMTPUser:     os.Getenv("SMTP_USERNAME"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),

		AllowedOrigins: getEnvList("RECOVERY_ALLOWED_ORIGINS", nil),
		SecureCookies:  getEnvBool("RECOVERY_SECURE_COOKIES", true),
		ThrottleRate:   getEnvFloat("RECOVERY_THROTTLE_RATE", 1),
		ThrottleBurst:  getEnvInt("RECOVERY_THROTTLE_BURST", 10),
		ShutdownGrace:  getEnvDuration("RECOVERY_SHUTDOWN_GRACE", 10*time.Second),
	}

	var err error
	if s.FingerprintKey, err = getEnvBase64("RECOVERY_FINGERPRINT_KEY"); err != nil {
		return settings{}, err
	}
	if s.PreviousAuthPrivateKey, err = getEnvBase64("RECOVERY_AUTH_PRIVATE_KEY"); err != nil {
		return settings{}, err
	}
	if s.PreviousAuthPublicKey, err = getEnvBase64("RECOVERY_AUTH_PUBLIC_KEY"); err != nil {
		return settings{}, err
	}
	return s, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList splits a comma-separated value, dropping empty entries.
func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvBase64(key string) ([]byte, error) {
	v := os.Getenv(key)
	if v == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid base64: %w", key, err)
	}
	return b, nil
}
