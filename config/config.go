package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"creofinder/internal/errors"
)

const (
	DefaultS3Endpoint = "https://eodata.dataspace.copernicus.eu"
	DefaultBucket     = "eodata"
	DefaultRegion     = "default"
	DefaultThreads    = 3
)

type Config struct {
	// CreoDIAS account
	Username string
	Password string

	AuthURL     string
	ClientID    string
	DownloadURL string
	SearchURL   string

	// eodata object store
	ApiURL     string
	AccessKey  string
	SecretKey  string
	BucketName string
	Region     string

	Threads      int
	AuthTimeout  time.Duration
	QueryTimeout time.Duration
	StallTimeout time.Duration
	LogLevel     string
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn(".env file not found, using environment variables only")
	}

	config := &Config{
		Username:    getEnv("CREODIAS_USERNAME", ""),
		Password:    getEnv("CREODIAS_PASSWORD", ""),
		AuthURL:     getEnv("AUTH_URL", ""),
		ClientID:    getEnv("CLIENT_ID", ""),
		DownloadURL: getEnv("DOWNLOAD_URL", ""),
		SearchURL:   getEnv("SEARCH_URL", ""),
		ApiURL:      getEnv("API_URL", DefaultS3Endpoint),
		AccessKey:   getEnv("ACCESS_KEY", ""),
		SecretKey:   getEnv("SECRET_KEY", ""),
		BucketName:  getEnv("BUCKET_NAME", DefaultBucket),
		Region:      getEnv("REGION", DefaultRegion),
		LogLevel:    strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}

	var err error
	if config.Threads, err = getEnvInt("THREADS", DefaultThreads); err != nil {
		return nil, err
	}
	if config.AuthTimeout, err = getEnvDuration("AUTH_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if config.QueryTimeout, err = getEnvDuration("QUERY_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if config.StallTimeout, err = getEnvDuration("STALL_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}

	return config, nil
}

// ValidateCredentials reports missing CreoDIAS account settings.
func (c *Config) ValidateCredentials() error {
	var missing []string
	if c.Username == "" {
		missing = append(missing, "CREODIAS_USERNAME")
	}
	if c.Password == "" {
		missing = append(missing, "CREODIAS_PASSWORD")
	}
	if len(missing) > 0 {
		return errors.NewValidationError("load config", "missing credentials: %s", strings.Join(missing, ", "))
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.NewValidationError("load config", "%s must be an integer: %w", key, err)
	}
	return n, nil
}

// getEnvDuration accepts Go durations ("90s", "2m") or a plain number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.NewValidationError("load config", "%s must be a duration: %w", key, err)
	}
	return d, nil
}
