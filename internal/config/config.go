package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/baalimago/go_away_boilerplate/pkg/misc"
	"github.com/joho/godotenv"

	"github.com/stupiduntilnot/glmrelay/internal/chunk"
	"github.com/stupiduntilnot/glmrelay/internal/glm"
	"github.com/stupiduntilnot/glmrelay/internal/memory"
)

// RelayConfig holds configuration for the relay process.
type RelayConfig struct {
	GLMAPIKey      string
	GLMAPIURL      string
	GLMModel       string
	GLMTemperature float64
	GLMMaxTokens   int
	GLMTimeout     time.Duration
	GLMSignedToken bool

	MemoryLimit int
	ChunkLimit  int

	TelegramAPIBase      string
	Timeout              int
	SleepSeconds         int
	DropPending          bool
	PendingWindowSeconds int64
	PendingMaxMessages   int

	Commander            string
	ModelProvider        string
	DummyProviderScript  string
	DummyCommanderScript string
	DummySendScript      string

	DBPath    string
	AdminAddr string
	Debug     bool
}

// Load reads relay configuration from the environment, after merging an
// optional .env file from the working directory.
func Load() (RelayConfig, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return RelayConfig{}, fmt.Errorf("failed to load .env: %w", err)
	}

	modelProvider := envOrDefault("RELAY_PROVIDER", "glm")
	commander := envOrDefault("RELAY_COMMANDER", "telegram")

	apiKey := os.Getenv("GLM_API_KEY")
	if modelProvider == "glm" && apiKey == "" {
		return RelayConfig{}, fmt.Errorf("GLM_API_KEY is required in environment when RELAY_PROVIDER=glm")
	}
	telegramToken := os.Getenv("TELEGRAM_BOT_TOKEN")
	if commander == "telegram" && telegramToken == "" {
		return RelayConfig{}, fmt.Errorf("TELEGRAM_BOT_TOKEN is required in environment when RELAY_COMMANDER=telegram")
	}

	var env envParser
	cfg := RelayConfig{
		GLMAPIKey:      apiKey,
		GLMAPIURL:      envOrDefault("GLM_API_URL", glm.DefaultURL),
		GLMModel:       envOrDefault("GLM_MODEL", glm.DefaultModel),
		GLMTemperature: env.floatValue("GLM_TEMPERATURE", glm.DefaultTemperature),
		GLMMaxTokens:   env.intValue("GLM_MAX_TOKENS", glm.DefaultMaxTokens),
		GLMTimeout:     time.Duration(env.intValue("GLM_TIMEOUT_SECONDS", int(glm.DefaultTimeout.Seconds()))) * time.Second,
		GLMSignedToken: envBoolOrDefault("GLM_SIGNED_TOKEN", false),

		MemoryLimit: env.intValue("MEMORY_LIMIT", memory.DefaultLimit),
		ChunkLimit:  env.intValue("RELAY_CHUNK_LIMIT", chunk.DefaultLimit),

		TelegramAPIBase:      fmt.Sprintf("https://api.telegram.org/bot%s", telegramToken),
		Timeout:              env.intValue("TG_TIMEOUT", 30),
		SleepSeconds:         env.intValue("TG_SLEEP_SECONDS", 1),
		DropPending:          envBoolOrDefault("TG_DROP_PENDING", true),
		PendingWindowSeconds: int64(env.intValue("TG_PENDING_WINDOW_SECONDS", 600)),
		PendingMaxMessages:   env.intValue("TG_PENDING_MAX_MESSAGES", 50),

		Commander:            commander,
		ModelProvider:        modelProvider,
		DummyProviderScript:  envOrDefault("RELAY_DUMMY_PROVIDER_SCRIPT", "ok"),
		DummyCommanderScript: envOrDefault("RELAY_DUMMY_COMMANDER_SCRIPT", "ok"),
		DummySendScript:      envOrDefault("RELAY_DUMMY_COMMANDER_SEND_SCRIPT", "ok"),

		DBPath:    envOrDefaultAllowEmpty("RELAY_DB_PATH", "state/relay.db"),
		AdminAddr: os.Getenv("RELAY_ADMIN_ADDR"),
		Debug:     misc.Truthy(os.Getenv("DEBUG")),
	}
	if env.err != nil {
		return RelayConfig{}, env.err
	}
	if err := cfg.validate(); err != nil {
		return RelayConfig{}, err
	}
	return cfg, nil
}

func (c RelayConfig) validate() error {
	switch {
	case c.MemoryLimit < 0:
		return fmt.Errorf("MEMORY_LIMIT must be >= 0, got %d", c.MemoryLimit)
	case c.ChunkLimit <= 0:
		return fmt.Errorf("RELAY_CHUNK_LIMIT must be > 0, got %d", c.ChunkLimit)
	case c.GLMMaxTokens <= 0:
		return fmt.Errorf("GLM_MAX_TOKENS must be > 0, got %d", c.GLMMaxTokens)
	case c.GLMTemperature < 0 || c.GLMTemperature > 2:
		return fmt.Errorf("GLM_TEMPERATURE must be within [0, 2], got %g", c.GLMTemperature)
	case c.GLMTimeout <= 0:
		return fmt.Errorf("GLM_TIMEOUT_SECONDS must be > 0")
	case c.Timeout < 0:
		return fmt.Errorf("TG_TIMEOUT must be >= 0, got %d", c.Timeout)
	}
	switch c.ModelProvider {
	case "glm", "dummy":
	default:
		return fmt.Errorf("RELAY_PROVIDER must be glm or dummy, got %q", c.ModelProvider)
	}
	switch c.Commander {
	case "telegram", "dummy":
	default:
		return fmt.Errorf("RELAY_COMMANDER must be telegram or dummy, got %q", c.Commander)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envOrDefaultAllowEmpty treats a key set to "" as an explicit empty value.
func envOrDefaultAllowEmpty(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

// envParser reads numeric keys and keeps the first parse error.
type envParser struct {
	err error
}

func (p *envParser) intValue(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v)
		return fallback
	}
	return n
}

func (p *envParser) floatValue(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, v)
		return fallback
	}
	return f
}

func (p *envParser) fail(key, value string) {
	if p.err == nil {
		p.err = fmt.Errorf("%s must be a number, got %q", key, value)
	}
}

func envBoolOrDefault(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return misc.Truthy(v)
}
