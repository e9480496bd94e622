package loader

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultPrefix is the prefix of the environment overrides.
const DefaultPrefix = "PROCSUP_"

// EnvLoader loads configuration from environment variables.
// Only mapped variables are read: the prefix is shared with the variable
// that marks a re-executed child.
type EnvLoader struct {
	prefix  string
	mapping map[string]string // Env var suffix -> config path
}

// NewEnvLoader creates a loader with the default mappings.
// The prefix should include the trailing underscore (e.g., "PROCSUP_").
func NewEnvLoader(prefix string) *EnvLoader {
	return &EnvLoader{
		prefix:  prefix,
		mapping: defaultEnvMapping(),
	}
}

func defaultEnvMapping() map[string]string {
	return map[string]string{
		"LOG_LEVEL":    "log_level",
		"FORMAT":       "format",
		"SIGNAL_DELAY": "signal_delay",
		"WORK_DELAY":   "work_delay",
		"MAX_CHILDREN": "max_children",
	}
}

// Load reads the mapped environment variables into a configuration map.
// Empty values count as set.
func (l *EnvLoader) Load() (map[string]any, error) {
	config := make(map[string]any)
	for suffix, path := range l.mapping {
		if val, ok := os.LookupEnv(l.prefix + suffix); ok {
			setByPath(config, path, parseValue(val))
		}
	}
	return config, nil
}

// Variables returns the full names of the mapped variables.
func (l *EnvLoader) Variables() []string {
	names := make([]string, 0, len(l.mapping))
	for suffix := range l.mapping {
		names = append(names, l.prefix+suffix)
	}
	return names
}

// parseValue converts an environment string into an int, a duration or a
// string, in that order.
func parseValue(s string) any {
	if s == "" {
		return s
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return s
}

// setByPath sets a value in a nested map using a dot-separated path.
func setByPath(data map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	current := data

	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}
