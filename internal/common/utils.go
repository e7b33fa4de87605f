// Package common holds helpers shared by the CLI actions.
package common

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dtnitsch/sku-date-checker/models"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// NewLogger returns the JSON logger on stderr, honouring --quiet and --verbose.
func NewLogger(c *cli.Context) *slog.Logger {
	logLevel := slog.LevelInfo
	if c.Bool("verbose") {
		logLevel = slog.LevelDebug
	}
	if c.Bool("quiet") {
		logLevel = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

// LoadConfig loads --config (defaults, .env and SKU_CHECKER_* applied) and
// then the command-line overrides.
func LoadConfig(c *cli.Context) (*models.Config, error) {
	cfg, err := models.LoadConfig(c.String("config"))
	if err != nil {
		return nil, err
	}

	if c.IsSet("rpm") {
		cfg.Pipeline.RequestsPerMinute = c.Int("rpm")
	}
	if c.IsSet("workers") {
		cfg.Pipeline.WorkerCount = c.Int("workers")
	}
	if c.IsSet("max-retries") {
		cfg.Pipeline.MaxRetries = c.Int("max-retries")
	}
	if c.IsSet("batch-size") {
		cfg.Pipeline.BatchCommitSize = c.Int("batch-size")
	}
	if c.IsSet("endpoint") {
		cfg.Lookup.Endpoint = c.String("endpoint")
	}
	if c.IsSet("db") {
		cfg.Database.Path = c.String("db")
	}
	if c.IsSet("db-driver") {
		cfg.Database.Driver = c.String("db-driver")
	}

	cfg.Normalize()
	return cfg, nil
}

// Marshal renders v as "yaml" (the default) or "json".
func Marshal(format string, v any) ([]byte, error) {
	switch strings.ToLower(format) {
	case "", "yaml":
		return yaml.Marshal(v)
	case "json":
		return json.MarshalIndent(v, "", "  ")
	default:
		return nil, fmt.Errorf("unknown format %q (want yaml or json)", format)
	}
}

// FilterFields keeps only the named JSON fields of v. An empty list keeps all.
func FilterFields(v any, fieldsStr string) map[string]any {
	full := structToMap(v)
	if strings.TrimSpace(fieldsStr) == "" {
		return full
	}

	filtered := make(map[string]any)
	for _, field := range strings.Split(fieldsStr, ",") {
		field = strings.TrimSpace(field)
		if value, ok := full[field]; ok {
			filtered[field] = value
		}
	}
	return filtered
}

// structToMap converts a struct to map[string]any using JSON marshaling.
func structToMap(obj any) map[string]any {
	data, _ := json.Marshal(obj)
	var result map[string]any
	_ = json.Unmarshal(data, &result)
	return result
}

// SanitizeKey cleans up a key pasted on the command line: surrounding
// whitespace and quotes are removed.
func SanitizeKey(raw string) string {
	cleaned := strings.TrimSpace(raw)
	for _, q := range []string{`"`, `'`, "`"} {
		if len(cleaned) >= 2 && strings.HasPrefix(cleaned, q) && strings.HasSuffix(cleaned, q) {
			cleaned = cleaned[1 : len(cleaned)-1]
		}
	}
	return strings.TrimSpace(cleaned)
}
