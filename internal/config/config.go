package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/relay.ini"
)

// Provider identifiers accepted by the provider setting.
const (
	ProviderGemini     = "gemini"
	ProviderOpenRouter = "openrouter"
	ProviderOpenAI     = "openai"
	ProviderLoopback   = "loopback"
)

// Exchange log sinks.
const (
	SinkFile     = "file"
	SinkSQLite   = "sqlite"
	SinkPostgres = "postgres"
)

// ErrMissingSetting marks a required credential or model that is not configured.
var ErrMissingSetting = errors.New("missing required setting")

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// ProviderConfig is the upstream endpoint, credential and model of one provider.
type ProviderConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// RelayConfig describes runtime options for the relay daemon. It is built once
// at startup and treated as read-only afterwards.
type RelayConfig struct {
	Environment string
	Provider    string

	Gemini     ProviderConfig
	OpenRouter ProviderConfig
	OpenAI     ProviderConfig
	// OpenRouter attribution headers (HTTP-Referer, X-Title)
	OpenRouterReferer string
	OpenRouterTitle   string

	HTTPAddress    string
	RequestTimeout time.Duration

	LogFile  string
	LogLevel string

	// Side log of requests and responses
	CreateLog       bool
	ExchangeLogSink string
	ExchangeLogDir  string
	ExchangeLogDSN  string

	BreakerEnabled  bool
	BreakerFailures int
	BreakerCooldown time.Duration
}

// Selected returns the upstream settings of the configured provider.
func (c RelayConfig) Selected() ProviderConfig {
	switch c.Provider {
	case ProviderOpenRouter:
		return c.OpenRouter
	case ProviderOpenAI:
		return c.OpenAI
	case ProviderGemini:
		return c.Gemini
	default:
		return ProviderConfig{}
	}
}

// Validate checks that the selected provider can be constructed.
func (c RelayConfig) Validate() error {
	switch c.Provider {
	case ProviderGemini, ProviderOpenRouter, ProviderOpenAI:
		p := c.Selected()
		if strings.TrimSpace(p.APIKey) == "" {
			return fmt.Errorf("%w: %s api key", ErrMissingSetting, c.Provider)
		}
		if strings.TrimSpace(p.Model) == "" {
			return fmt.Errorf("%w: %s model", ErrMissingSetting, c.Provider)
		}
	case ProviderLoopback:
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	if c.BreakerEnabled && c.BreakerFailures <= 0 {
		return fmt.Errorf("breaker_failures must be positive, got %d", c.BreakerFailures)
	}
	if c.CreateLog {
		switch c.ExchangeLogSink {
		case SinkFile, SinkSQLite:
		case SinkPostgres:
			if strings.TrimSpace(c.ExchangeLogDSN) == "" {
				return fmt.Errorf("%w: exchange_log_dsn for postgres sink", ErrMissingSetting)
			}
		default:
			return fmt.Errorf("unknown exchange_log_sink %q", c.ExchangeLogSink)
		}
	}
	return nil
}

// Load reads the current environment's INI files, an optional YAML overlay named
// by RELAY_CONFIG, and environment variables, in increasing precedence.
func Load(root string) (RelayConfig, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return RelayConfig{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return RelayConfig{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}
	if path := os.Getenv("RELAY_CONFIG"); strings.TrimSpace(path) != "" {
		overlay, err := parseYAML(path)
		if err != nil {
			return RelayConfig{}, err
		}
		for k, v := range overlay {
			merged[k] = v
		}
	}

	cfg := RelayConfig{
		Environment: s.Environment,
		Provider:    strings.ToLower(strings.TrimSpace(firstNonEmpty(os.Getenv("RELAY_PROVIDER"), merged["provider"], ProviderGemini))),
		Gemini: ProviderConfig{
			APIKey:  firstNonEmpty(os.Getenv("RELAY_GEMINI_API_KEY"), os.Getenv("API_KEY"), merged["gemini_api_key"]),
			Model:   firstNonEmpty(os.Getenv("RELAY_GEMINI_MODEL"), os.Getenv("AI_GEMINI_MODEL"), merged["gemini_model"]),
			BaseURL: firstNonEmpty(os.Getenv("RELAY_GEMINI_BASE_URL"), merged["gemini_base_url"], "https://generativelanguage.googleapis.com"),
		},
		OpenRouter: ProviderConfig{
			APIKey:  firstNonEmpty(os.Getenv("RELAY_OPENROUTER_API_KEY"), os.Getenv("OPENROUTER_API_KEY"), merged["openrouter_api_key"]),
			Model:   firstNonEmpty(os.Getenv("RELAY_OPENROUTER_MODEL"), os.Getenv("OPENROUTER_MODEL"), merged["openrouter_model"]),
			BaseURL: firstNonEmpty(os.Getenv("RELAY_OPENROUTER_BASE_URL"), merged["openrouter_base_url"], "https://openrouter.ai/api/v1"),
		},
		OpenAI: ProviderConfig{
			APIKey:  firstNonEmpty(os.Getenv("RELAY_OPENAI_API_KEY"), os.Getenv("OPENAI_API_KEY"), merged["openai_api_key"]),
			Model:   firstNonEmpty(os.Getenv("RELAY_OPENAI_MODEL"), merged["openai_model"]),
			BaseURL: firstNonEmpty(os.Getenv("RELAY_OPENAI_BASE_URL"), merged["openai_base_url"], "https://api.openai.com/v1"),
		},
		OpenRouterReferer: firstNonEmpty(os.Getenv("RELAY_OPENROUTER_REFERER"), merged["openrouter_referer"]),
		OpenRouterTitle:   firstNonEmpty(os.Getenv("RELAY_OPENROUTER_TITLE"), merged["openrouter_title"]),
		HTTPAddress:       firstNonEmpty(os.Getenv("RELAY_HTTP_ADDRESS"), merged["http_address"], ":5000"),
		LogFile:           firstNonEmpty(os.Getenv("RELAY_LOG_FILE"), merged["log_file"]),
		LogLevel:          strings.ToLower(firstNonEmpty(os.Getenv("RELAY_LOG_LEVEL"), merged["log_level"], "info")),
		CreateLog:         parseBool(firstNonEmpty(os.Getenv("RELAY_CREATE_LOG"), os.Getenv("CREATE_LOG"), merged["create_log"])),
		ExchangeLogSink:   strings.ToLower(firstNonEmpty(os.Getenv("RELAY_EXCHANGE_LOG_SINK"), merged["exchange_log_sink"], SinkFile)),
		ExchangeLogDir:    firstNonEmpty(os.Getenv("RELAY_EXCHANGE_LOG_DIR"), merged["exchange_log_dir"], "logs"),
		ExchangeLogDSN:    firstNonEmpty(os.Getenv("RELAY_EXCHANGE_LOG_DSN"), merged["exchange_log_dsn"]),
		BreakerEnabled:    parseOptionalBool(firstNonEmpty(os.Getenv("RELAY_BREAKER_ENABLED"), merged["breaker_enabled"]), false),
		BreakerFailures:   parseOptionalInt(firstNonEmpty(os.Getenv("RELAY_BREAKER_FAILURES"), merged["breaker_failures"]), 5),
	}

	if cfg.RequestTimeout, err = parseDuration("request_timeout", firstNonEmpty(os.Getenv("RELAY_REQUEST_TIMEOUT"), merged["request_timeout"]), 0); err != nil {
		return RelayConfig{}, err
	}
	if cfg.BreakerCooldown, err = parseDuration("breaker_cooldown", firstNonEmpty(os.Getenv("RELAY_BREAKER_COOLDOWN"), merged["breaker_cooldown"]), 30*time.Second); err != nil {
		return RelayConfig{}, err
	}
	if cfg.ExchangeLogSink == SinkSQLite && cfg.ExchangeLogDSN == "" {
		cfg.ExchangeLogDSN = filepath.Join(cfg.ExchangeLogDir, "exchange.db")
	}
	return cfg, nil
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: firstNonEmpty(os.Getenv("RELAY_ENV"), defaultEnv), Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := firstNonEmpty(os.Getenv("RELAY_ENV"), values["environment"], defaultEnv)
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "[") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = strings.TrimSpace(val)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

// parseYAML reads a flat key: value document. Scalars of any type are kept in
// their YAML text form so they go through the same parsers as INI values.
func parseYAML(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	values := make(map[string]string, len(doc))
	for k, node := range doc {
		if node.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("parse %s: key %q must be a scalar", path, k)
		}
		values[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(node.Value)
	}
	return values, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseOptionalBool(v string, fallback bool) bool {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return parseBool(v)
}

func parseOptionalInt(v string, fallback int) int {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return fallback
}

func parseDuration(key, v string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
