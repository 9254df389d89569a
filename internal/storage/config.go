package storage

import (
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Backend configuration arrives as a flat map[string]string. The getters
// below return defaultValue for a missing or empty key and a *ConfigError
// naming the key for a value that does not parse.

// GetString returns config[key], or defaultValue when it is missing or empty.
func GetString(config map[string]string, key, defaultValue string) string {
	if v, ok := lookup(config, key); ok {
		return v
	}
	return defaultValue
}

// GetBool accepts true/false, 1/0 and yes/no in any case.
func GetBool(config map[string]string, key string, defaultValue bool) (bool, error) {
	return get(config, key, defaultValue, "must be a boolean (true/false, 1/0, yes/no)", func(v string) (bool, error) {
		switch strings.ToLower(v) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no":
			return false, nil
		}
		return false, strconv.ErrSyntax
	})
}

// GetInt parses a decimal integer.
func GetInt(config map[string]string, key string, defaultValue int) (int, error) {
	return get(config, key, defaultValue, "must be an integer", strconv.Atoi)
}

// GetDuration accepts Go duration strings ("5s", "1m30s") or plain integers
// as seconds.
func GetDuration(config map[string]string, key string, defaultValue time.Duration) (time.Duration, error) {
	return get(config, key, defaultValue, "must be a duration (e.g., '5s', '1m30s') or integer seconds", func(v string) (time.Duration, error) {
		if d, err := time.ParseDuration(v); err == nil {
			return d, nil
		}
		secs, err := strconv.ParseInt(v, 10, 64)
		return time.Duration(secs) * time.Second, err
	})
}

// GetSize accepts plain byte counts or human-readable sizes ("4MiB", "12 MB").
func GetSize(config map[string]string, key string, defaultValue int64) (int64, error) {
	v, ok := lookup(config, key)
	if !ok {
		return defaultValue, nil
	}
	return ParseSize(key, v)
}

// maxSize keeps parsed sizes well inside int64.
const maxSize = 1 << 62

// ParseSize parses a byte size for the named field.
func ParseSize(field, v string) (int64, error) {
	n, err := humanize.ParseBytes(v)
	if err != nil {
		return 0, &ConfigError{
			Field:   field,
			Value:   v,
			Message: "must be a byte size (e.g. 4194304, '4MiB', '12 MB')",
			Cause:   err,
		}
	}
	if n > maxSize {
		return 0, &ConfigError{Field: field, Value: v, Message: "size too large"}
	}
	return int64(n), nil
}

// ExpandPath expands a leading ~/ to the user's home directory and cleans
// the path.
func ExpandPath(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return filepath.Clean(path)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}

// MergeConfig returns a new map holding dst overlaid with src.
func MergeConfig(dst, src map[string]string) map[string]string {
	result := make(map[string]string, len(dst)+len(src))
	maps.Copy(result, dst)
	maps.Copy(result, src)
	return result
}

func lookup(config map[string]string, key string) (string, bool) {
	v, ok := config[key]
	return v, ok && v != ""
}

func get[T any](config map[string]string, key string, defaultValue T, message string, parse func(string) (T, error)) (T, error) {
	v, ok := lookup(config, key)
	if !ok {
		return defaultValue, nil
	}
	out, err := parse(v)
	if err != nil {
		var zero T
		return zero, &ConfigError{Field: key, Value: v, Message: message, Cause: err}
	}
	return out, nil
}
