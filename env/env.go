package env

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Davincible/d-bounded/utils"
)

// secretsDir is where container secrets are mounted.
var secretsDir = "/run/secrets"

// GetEnv reads an environment variable, falls back to _FILE version if not set,
// and as a third check, reads from a default secrets file under /run/secrets/{ENV}.
func GetEnv(key string, defaultValue ...string) string {
	defaultVal := ""
	if len(defaultValue) > 0 {
		defaultVal = defaultValue[0]
	}

	if value := os.Getenv(key); len(value) != 0 {
		return value
	}

	if filePath := os.Getenv(key + "_FILE"); len(filePath) != 0 {
		content, err := os.ReadFile(filePath)
		if err != nil {
			slog.Warn("read env file", slog.String("key", key+"_FILE"), slog.Any("err", err))
			return defaultVal
		}

		if value := strings.TrimSpace(string(content)); len(value) != 0 {
			return value
		}
	}

	if secretsFilePath := filepath.Join(secretsDir, key); fileExists(secretsFilePath) {
		content, err := os.ReadFile(secretsFilePath)
		if err != nil {
			slog.Warn("read secret file", slog.String("path", secretsFilePath), slog.Any("err", err))
			return defaultVal
		}

		if value := strings.TrimSpace(string(content)); len(value) != 0 {
			return value
		}
	}

	return defaultVal
}

// GetEnvInt64 reads an int64 environment variable and falls back to _FILE version or /run/secrets/{key}
func GetEnvInt64[T int | int64](key string, defaultValue ...T) int64 {
	if valueStr := GetEnv(key, ""); len(valueStr) != 0 {
		if parsed, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
			return parsed
		}
		slog.Warn("ignoring non-integer env value", slog.String("key", key))
	}

	if len(defaultValue) > 0 {
		return int64(defaultValue[0])
	}

	return 0
}

// GetEnvInt reads an int environment variable and falls back to _FILE version or /run/secrets/{key}.
func GetEnvInt(key string, defaultValue ...int) int {
	return int(GetEnvInt64(key, defaultValue...))
}

// GetEnvBool reads a boolean environment variable ("1", "true", "false", ...).
func GetEnvBool(key string, defaultValue ...bool) bool {
	if valueStr := GetEnv(key, ""); len(valueStr) != 0 {
		if parsed, err := strconv.ParseBool(valueStr); err == nil {
			return parsed
		}
		slog.Warn("ignoring non-boolean env value", slog.String("key", key))
	}

	if len(defaultValue) > 0 {
		return defaultValue[0]
	}

	return false
}

// GetEnvDuration reads a duration environment variable. Day segments such as
// "2d" are accepted alongside Go durations.
func GetEnvDuration(key string, defaultValue ...time.Duration) time.Duration {
	if valueStr := GetEnv(key, ""); len(valueStr) != 0 {
		if parsed, err := utils.ParseDuration(valueStr); err == nil {
			return parsed
		}
		slog.Warn("ignoring invalid duration env value", slog.String("key", key))
	}

	if len(defaultValue) > 0 {
		return defaultValue[0]
	}

	return 0
}

func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if err != nil {
		return false
	}

	return !info.IsDir()
}
