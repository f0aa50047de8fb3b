// Package config reads the companion daemon configuration from the
// environment, with an optional .env file under DATA_DIR.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/windowpet/companiond/api/types"
)

const (
	defaultDataDir       = "."
	defaultListenAddress = ":8080"
)

// ReadConfig loads everything into an AppConfiguration. Components pull what
// they need through the typed getters.
func ReadConfig() types.AppConfiguration {
	ac := types.AppConfiguration{}

	logLevel := os.Getenv("LOG_LEVEL")
	level := ParseLogLevel(logLevel)
	ac["log_level"] = level.String()
	SetLogLevel(level)

	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = defaultDataDir
	}
	ac["data_dir"] = dataDir

	// The .env file is optional; plain environment variables are enough.
	if err := godotenv.Load(filepath.Join(dataDir, ".env")); err != nil {
		logrus.Debugf("No .env file under %s, reading from environment variables", dataDir)
	}

	listenAddress := os.Getenv("LISTEN_ADDRESS")
	if listenAddress == "" {
		listenAddress = defaultListenAddress
	}
	ac["listen_address"] = listenAddress

	apiKeys := os.Getenv("COMPANION_API_KEYS")
	if apiKeys != "" {
		keys := strings.Split(apiKeys, ",")
		for i, k := range keys {
			keys[i] = strings.TrimSpace(k)
		}
		ac["companion_api_keys"] = keys
		logrus.Infof("Loaded %d companion API key(s)", len(keys))
	} else {
		ac["companion_api_keys"] = []string{}
	}

	ac["cooldown"] = envDuration("COOLDOWN_SECONDS", 240)
	ac["emergency_cooldown"] = envDuration("EMERGENCY_COOLDOWN_SECONDS", 600)
	ac["health_check_cooldown"] = envDuration("HEALTH_CHECK_COOLDOWN_SECONDS", 300)
	ac["tick_interval"] = envDuration("TICK_INTERVAL_SECONDS", 30)
	ac["genai_timeout"] = envDuration("GENAI_TIMEOUT_SECONDS", 30)
	ac["message_history_max_age"] = envDuration("MESSAGE_HISTORY_MAX_AGE_SECONDS", 3600)

	ac["max_queue_size"] = envInt("MAX_QUEUE_SIZE", 10)
	ac["max_fail_count"] = envInt("MAX_FAIL_COUNT", 3)
	ac["retry_delay_ms"] = envInt("RETRY_DELAY_MS", 800)
	ac["message_history_size"] = envInt("MESSAGE_HISTORY_SIZE", 50)
	ac["stats_buf_size"] = envInt("STATS_BUF_SIZE", 128)

	ac["genai_base_url"] = os.Getenv("GENAI_BASE_URL")
	ac["genai_model"] = os.Getenv("GENAI_MODEL")
	ac["city"] = os.Getenv("CITY")

	// API key for authenticating HTTP callers
	apiKey := os.Getenv("API_KEY")
	if apiKey != "" {
		ac["api_key"] = apiKey
	}

	ac["profiling_enabled"] = os.Getenv("ENABLE_PPROF") == "true"

	return ac
}

func envInt(name string, def int) int {
	s := os.Getenv(name)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		logrus.Errorf("Error parsing %s=%q. Setting to default %d.", name, s, def)
		return def
	}
	return v
}

func envDuration(name string, defSecs int) time.Duration {
	return time.Duration(envInt(name, defSecs)) * time.Second
}

// ParseLogLevel parses a string and returns the corresponding logrus.Level.
func ParseLogLevel(logLevel string) logrus.Level {
	switch strings.ToLower(logLevel) {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// SetLogLevel sets the log level for the application.
func SetLogLevel(level logrus.Level) {
	logrus.SetLevel(level)
}
