package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

const (
	TurnStoreDynamoDB = "dynamodb"
	TurnStoreSQLite   = "sqlite"

	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	PreferencesMemory = "memory"
	PreferencesRedis  = "redis"
)

type Config struct {
	AppMode string `env:"APP_MODE" envDefault:"production"`
	Port    string `env:"PORT" envDefault:"8000"`

	// Conversation turns
	TurnStore               string `env:"TURN_STORE" envDefault:"dynamodb"`
	StateTable              string `env:"STATE_TABLE"`
	SQLitePath              string `env:"SQLITE_PATH" envDefault:"data/turns.db"`
	MaxTurnsPerConversation int    `env:"MAX_TURNS_PER_CONVERSATION" envDefault:"50"`

	// Secrets
	ParamPrefix       string `env:"PARAM_PREFIX"`
	RazorpayKeySecret string `env:"RAZORPAY_KEY_SECRET"`

	// Firebase
	FirebaseProjectID       string `env:"FIREBASE_PROJECT_ID"`
	FirebaseCredentialsPath string `env:"FIREBASE_CREDENTIALS_PATH"`

	// Generation
	GenerationProvider string `env:"GENERATION_PROVIDER" envDefault:"gemini"`
	GeminiModel        string `env:"GEMINI_MODEL" envDefault:"gemini-2.0-flash"`
	GeminiAPIKey       string `env:"GEMINI_API_KEY"`
	OpenAIModel        string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	OpenAIBaseURL      string `env:"OPENAI_BASE_URL"`
	OpenAIAPIKey       string `env:"OPENAI_API_KEY"`

	// Preferences
	PreferencesStore      string `env:"PREFERENCES_STORE" envDefault:"memory"`
	PreferencesMaxEntries int    `env:"PREFERENCES_MAX_ENTRIES" envDefault:"10000"`
	RedisAddr             string `env:"REDIS_ADDR"`

	// Request handling
	CollectorTimeout time.Duration `env:"COLLECTOR_TIMEOUT" envDefault:"2s"`
	CollectorWorkers int           `env:"COLLECTOR_WORKERS" envDefault:"3"`
	WriteBackTimeout time.Duration `env:"WRITEBACK_TIMEOUT" envDefault:"5s"`
	MaxMessageLength int           `env:"MAX_MESSAGE_LENGTH" envDefault:"4000"`
	AllowedOrigins   []string      `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	return Parse()
}

// Parse reads the environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.AppMode = strings.ToLower(strings.TrimSpace(c.AppMode))
	c.TurnStore = strings.ToLower(strings.TrimSpace(c.TurnStore))
	c.GenerationProvider = strings.ToLower(strings.TrimSpace(c.GenerationProvider))
	c.PreferencesStore = strings.ToLower(strings.TrimSpace(c.PreferencesStore))
	origins := c.AllowedOrigins[:0]
	for _, o := range c.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	c.AllowedOrigins = origins
}

// Validate checks cross-field requirements. Secrets are not required here
// because they may be resolved from the parameter store at runtime.
func (c *Config) Validate() error {
	var errs []error
	switch c.TurnStore {
	case TurnStoreDynamoDB:
		if strings.TrimSpace(c.StateTable) == "" {
			errs = append(errs, errors.New("STATE_TABLE is required when TURN_STORE=dynamodb"))
		}
	case TurnStoreSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required when TURN_STORE=sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported TURN_STORE %q", c.TurnStore))
	}
	switch c.GenerationProvider {
	case ProviderGemini, ProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("unsupported GENERATION_PROVIDER %q", c.GenerationProvider))
	}
	switch c.PreferencesStore {
	case PreferencesMemory:
		if c.PreferencesMaxEntries <= 0 {
			errs = append(errs, errors.New("PREFERENCES_MAX_ENTRIES must be positive"))
		}
	case PreferencesRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required when PREFERENCES_STORE=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported PREFERENCES_STORE %q", c.PreferencesStore))
	}
	if strings.TrimSpace(c.FirebaseProjectID) == "" {
		errs = append(errs, errors.New("FIREBASE_PROJECT_ID is required"))
	}
	if c.MaxTurnsPerConversation <= 0 {
		errs = append(errs, errors.New("MAX_TURNS_PER_CONVERSATION must be positive"))
	}
	if c.MaxMessageLength <= 0 {
		errs = append(errs, errors.New("MAX_MESSAGE_LENGTH must be positive"))
	}
	if c.CollectorWorkers <= 0 {
		errs = append(errs, errors.New("COLLECTOR_WORKERS must be positive"))
	}
	if c.CollectorTimeout <= 0 || c.WriteBackTimeout <= 0 {
		errs = append(errs, errors.New("COLLECTOR_TIMEOUT and WRITEBACK_TIMEOUT must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.AppMode == "development" || c.AppMode == "dev"
}
