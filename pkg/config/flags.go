package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FlagAliases сопоставляет ключи YAML (через точку, "_" → "-") именам флагов.
type FlagAliases map[string]string

// DefaultFlagAliases: ключи config.Config и флаги cmd/listener, cmd/archive-server.
var DefaultFlagAliases = FlagAliases{
	"source.name":              "source",
	"archive.url":              "archive-url",
	"archive.timeout":          "archive-timeout",
	"archive.freshness":        "freshness",
	"archive.initial-lookback": "lookback",
	"archive.breaker-failures": "breaker-failures",
	"archive.breaker-cooldown": "breaker-cooldown",
	"buffer.initial-capacity":  "capacity",
	"poll.interval":            "poll-interval",
	"storage.dsn":              "db",
	"storage.table":            "table",
	"live.addr":                "live-addr",
	"live.source":              "live-source",
	"live.interval":            "live-interval",
	"live.timeout":             "live-timeout",
	"live.sensors":             "live-sensors",
	"http.addr":                "http-addr",
	"logging.level":            "log-level",
	"logging.format":           "log-format",
	"logging.file":             "log-file",
}

// FindConfigYAML ищет --config-yaml в аргументах до разбора флагов.
func FindConfigYAML(args []string) string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		for _, prefix := range []string{"--config-yaml=", "-config-yaml="} {
			if strings.HasPrefix(arg, prefix) {
				return strings.TrimPrefix(arg, prefix)
			}
		}
		if (arg == "--config-yaml" || arg == "-config-yaml") && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// ApplyYAMLDefaults выставляет значения флагов из YAML-файла. Флаги командной
// строки разбираются позже и перекрывают эти значения.
func ApplyYAMLDefaults(fs *flag.FlagSet, path string, aliases FlagAliases) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("config: failed to decode YAML: %w", err)
	}
	for key, value := range flattenYAML(raw) {
		name := yamlKeyToFlag(key, aliases)
		if fs.Lookup(name) == nil {
			continue
		}
		if err := fs.Set(name, formatFlagValue(value)); err != nil {
			return fmt.Errorf("config: set flag %s: %w", name, err)
		}
	}
	return nil
}

func yamlKeyToFlag(key string, aliases FlagAliases) string {
	key = strings.ReplaceAll(strings.ToLower(key), "_", "-")
	if name, ok := aliases[key]; ok {
		return name
	}
	return key
}

func flattenYAML(raw map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for key, value := range raw {
		flattenYAMLValue(key, value, out)
	}
	return out
}

func flattenYAMLValue(prefix string, value interface{}, out map[string]interface{}) {
	switch val := value.(type) {
	case map[string]interface{}:
		for k, v := range val {
			next := k
			if prefix != "" {
				next = prefix + "." + k
			}
			flattenYAMLValue(next, v, out)
		}
	case map[interface{}]interface{}:
		for k, v := range val {
			next := fmt.Sprintf("%v", k)
			if prefix != "" {
				next = prefix + "." + next
			}
			flattenYAMLValue(next, v, out)
		}
	default:
		if prefix != "" {
			out[prefix] = value
		}
	}
}

func formatFlagValue(value interface{}) string {
	switch v := value.(type) {
	case time.Time:
		return v.Format(time.RFC3339)
	case time.Duration:
		return v.String()
	case []interface{}:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = fmt.Sprintf("%v", item)
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprintf("%v", value)
	}
}
