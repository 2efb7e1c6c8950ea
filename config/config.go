package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	AppName     = "skinanalyze"
	EnvFileName = "config.env"
)

const (
	DefaultAPIURL          = "http://localhost:8000"
	DefaultListenAddr      = "127.0.0.1:5173"
	DefaultDBPath          = "sessions.db"
	DefaultCameraDevice    = "0"
	DefaultFlowIdleTimeout = 10 * time.Minute
)

// RequiredEnvVars lists the variables that have no default.
var RequiredEnvVars = []string{"SESSION_KEY"}

// envOrder is the order variables are written to the config file.
var envOrder = []string{
	"SKIN_API_URL",
	"LISTEN_ADDR",
	"SESSION_KEY",
	"SKIN_DB_PATH",
	"CAMERA_DEVICE",
	"FLOW_IDLE_TIMEOUT",
	"BOT_TOKEN",
	"ALLOWED_TELEGRAM_IDS",
}

// Config is the process configuration read from the environment.
type Config struct {
	APIURL          string
	ListenAddr      string
	SessionKey      string
	DBPath          string
	CameraDevice    string
	FlowIdleTimeout time.Duration

	// BotToken enables the Telegram client when set.
	BotToken           string
	AllowedTelegramIDs []int64
}

// BotEnabled reports whether the Telegram client should run.
func (c Config) BotEnabled() bool {
	return c.BotToken != ""
}

// Load reads the configuration from the environment, applying defaults.
func Load() (Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	cfg := Config{
		APIURL:       valueOr(getenv("SKIN_API_URL"), DefaultAPIURL),
		ListenAddr:   valueOr(getenv("LISTEN_ADDR"), DefaultListenAddr),
		SessionKey:   getenv("SESSION_KEY"),
		DBPath:       valueOr(getenv("SKIN_DB_PATH"), DefaultDBPath),
		CameraDevice: valueOr(getenv("CAMERA_DEVICE"), DefaultCameraDevice),
		BotToken:     strings.TrimSpace(getenv("BOT_TOKEN")),
	}

	if cfg.SessionKey == "" {
		return Config{}, errors.New("SESSION_KEY is not set")
	}

	cfg.FlowIdleTimeout = DefaultFlowIdleTimeout
	if raw := getenv("FLOW_IDLE_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("FLOW_IDLE_TIMEOUT must be a duration like 10m: %w", err)
		}
		if d <= 0 {
			return Config{}, errors.New("FLOW_IDLE_TIMEOUT must be positive")
		}
		cfg.FlowIdleTimeout = d
	}

	ids, err := ParseTelegramIDs(getenv("ALLOWED_TELEGRAM_IDS"))
	if err != nil {
		return Config{}, err
	}
	cfg.AllowedTelegramIDs = ids

	return cfg, nil
}

func valueOr(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}

// ParseTelegramIDs parses a comma separated list of Telegram user ids.
// Blank entries are skipped.
func ParseTelegramIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ALLOWED_TELEGRAM_IDS: %q is not a valid user id", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// CheckRequiredConfig returns the names of required variables that are unset.
func CheckRequiredConfig() []string {
	var missing []string
	for _, v := range RequiredEnvVars {
		if os.Getenv(v) == "" {
			missing = append(missing, v)
		}
	}
	return missing
}

// Dir returns the application's config directory, creating it if needed.
func Dir() (string, error) {
	configBase, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}

	configDir := filepath.Join(configBase, AppName)
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return configDir, nil
}

// FilePath returns the full path to the config file.
func FilePath() (string, error) {
	configDir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, EnvFileName), nil
}

// LoadEnvFile loads environment variables from the config file in the user's
// config directory. Errors are ignored since the file may not exist.
// Variables already set in the environment win.
func LoadEnvFile() {
	configPath, err := FilePath()
	if err != nil {
		return
	}
	_ = godotenv.Load(configPath)
}

// WriteEnvFile writes values to path with owner-only permissions, since the
// file holds secrets. Unknown keys are ignored.
func WriteEnvFile(path string, values map[string]string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	for _, key := range envOrder {
		val, ok := values[key]
		if !ok || val == "" {
			continue
		}
		if _, err := fmt.Fprintf(f, "%s=%q\n", key, val); err != nil {
			return fmt.Errorf("failed to write %s: %w", key, err)
		}
	}

	return nil
}
