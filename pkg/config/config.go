package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// ConfigFile is the optional YAML file read from the working directory.
const ConfigFile = "config.yaml"

// Config holds all configuration for aves-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	Auth        AuthConfig        `yaml:"auth"`
	Database    DatabaseConfig    `yaml:"database"`
	Vision      VisionConfig      `yaml:"vision"`
	CloudVision CloudVisionConfig `yaml:"cloud_vision"`
	Generation  GenerationConfig  `yaml:"generation"`
	Review      ReviewConfig      `yaml:"review"`
	Learning    LearningConfig    `yaml:"learning"`
	MCP         MCPConfig         `yaml:"mcp"`
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// EnableVerification controls whether JWT tokens are validated.
	// Set to false for local development without auth server.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs.
	// Format: "issuer1=url1,issuer2=url2"
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"JWKS_ENDPOINTS" env-default:""`

	// JWKSEndpoints is the parsed map from JWKSEndpointsStr (not from config file).
	JWKSEndpoints map[string]string `yaml:"-"`

	// ReviewerRolesStr lists the roles allowed to act on the review queue.
	ReviewerRolesStr string   `yaml:"reviewer_roles" env:"AUTH_REVIEWER_ROLES" env-default:"admin,reviewer"`
	ReviewerRoles    []string `yaml:"-"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host            string        `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port            int           `yaml:"port" env:"PGPORT" env-default:"5432"`
	User            string        `yaml:"user" env:"PGUSER" env-default:"aves"`
	Password        string        `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database        string        `yaml:"database" env:"PGDATABASE" env-default:"aves"`
	SSLMode         string        `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections  int32         `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"20"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" env:"PGMAX_CONN_LIFETIME" env-default:"1h"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" env:"PGMAX_CONN_IDLE_TIME" env-default:"30m"`
}

// VisionConfig selects and tunes the vision-language model used for generation.
type VisionConfig struct {
	// Provider is "openai" (any OpenAI-compatible endpoint) or "anthropic".
	Provider        string  `yaml:"provider" env:"VISION_PROVIDER" env-default:"openai"`
	BaseURL         string  `yaml:"base_url" env:"VISION_BASE_URL" env-default:""`
	Model           string  `yaml:"model" env:"VISION_MODEL" env-default:"gpt-4o"`
	OpenAIAPIKey    string  `yaml:"-" env:"OPENAI_API_KEY"`    // Secret - not in YAML
	AnthropicAPIKey string  `yaml:"-" env:"ANTHROPIC_API_KEY"` // Secret - not in YAML
	MaxFeatures     int     `yaml:"max_features" env:"VISION_MAX_FEATURES" env-default:"8"`
	MaxTokens       int     `yaml:"max_tokens" env:"VISION_MAX_TOKENS" env-default:"2000"`
	Temperature     float32 `yaml:"temperature" env:"VISION_TEMPERATURE" env-default:"0.2"`
	MaxImageBytes   int64   `yaml:"max_image_bytes" env:"VISION_MAX_IMAGE_BYTES" env-default:"10485760"`

	// Rate limiting for the provider (token bucket).
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"VISION_REQUESTS_PER_SECOND" env-default:"2"`
	Burst             int     `yaml:"burst" env:"VISION_BURST" env-default:"2"`

	// Circuit breaker around the provider.
	BreakerThreshold  int           `yaml:"breaker_threshold" env:"VISION_BREAKER_THRESHOLD" env-default:"5"`
	BreakerResetAfter time.Duration `yaml:"breaker_reset_after" env:"VISION_BREAKER_RESET_AFTER" env-default:"30s"`
}

// APIKey returns the key for the configured provider.
func (c *VisionConfig) APIKey() string {
	if c.Provider == "anthropic" {
		return c.AnthropicAPIKey
	}
	return c.OpenAIAPIKey
}

// CloudVisionConfig enables bird localization through Google Cloud Vision.
// Credentials come from Application Default Credentials.
type CloudVisionConfig struct {
	Enabled      bool    `yaml:"enabled" env:"CLOUD_VISION_ENABLED" env-default:"false"`
	RegionMargin float64 `yaml:"region_margin" env:"CLOUD_VISION_REGION_MARGIN" env-default:"0.1"`
}

// GenerationConfig controls asynchronous annotation generation.
type GenerationConfig struct {
	Timeout         time.Duration `yaml:"timeout" env:"GENERATION_TIMEOUT" env-default:"2m"`
	MaxConcurrent   int           `yaml:"max_concurrent" env:"GENERATION_MAX_CONCURRENT" env-default:"4"`
	MaxAttempts     int           `yaml:"max_attempts" env:"GENERATION_MAX_ATTEMPTS" env-default:"3"`
	BaseDelay       time.Duration `yaml:"base_delay" env:"GENERATION_BASE_DELAY" env-default:"1s"`
	MaxDelay        time.Duration `yaml:"max_delay" env:"GENERATION_MAX_DELAY" env-default:"8s"`
	MaxRetryElapsed time.Duration `yaml:"max_retry_elapsed" env:"GENERATION_MAX_RETRY_ELAPSED" env-default:"45s"`
	PersistAttempts int           `yaml:"persist_attempts" env:"GENERATION_PERSIST_ATTEMPTS" env-default:"3"`

	// DefaultConfidence is assigned to a detected feature when the model omits a confidence.
	DefaultConfidence float64 `yaml:"default_confidence" env:"GENERATION_DEFAULT_CONFIDENCE" env-default:"0.8"`

	// Watchdog reaps jobs left in processing past their deadline.
	WatchdogInterval time.Duration `yaml:"watchdog_interval" env:"GENERATION_WATCHDOG_INTERVAL" env-default:"30s"`
	WatchdogGrace    time.Duration `yaml:"watchdog_grace" env:"GENERATION_WATCHDOG_GRACE" env-default:"10s"`
}

// ReviewConfig holds review-queue thresholds and paging limits.
type ReviewConfig struct {
	TooSmallArea        float64 `yaml:"too_small_area" env:"REVIEW_TOO_SMALL_AREA" env-default:"0.02"`
	LowConfidence       float64 `yaml:"low_confidence" env:"REVIEW_LOW_CONFIDENCE" env-default:"0.70"`
	RecentActivityLimit int     `yaml:"recent_activity_limit" env:"REVIEW_RECENT_ACTIVITY_LIMIT" env-default:"10"`
	PriorityQueueLimit  int     `yaml:"priority_queue_limit" env:"REVIEW_PRIORITY_QUEUE_LIMIT" env-default:"25"`
	DefaultPageSize     int     `yaml:"default_page_size" env:"REVIEW_DEFAULT_PAGE_SIZE" env-default:"50"`
	MaxPageSize         int     `yaml:"max_page_size" env:"REVIEW_MAX_PAGE_SIZE" env-default:"200"`
}

// LearningConfig tunes the pattern learning engine.
type LearningConfig struct {
	// Store is "postgres" (shared across instances) or "memory".
	Store             string  `yaml:"store" env:"LEARNING_STORE" env-default:"postgres"`
	Alpha             float64 `yaml:"alpha" env:"LEARNING_ALPHA" env-default:"0.2"`
	PositionFixTarget float64 `yaml:"position_fix_target" env:"LEARNING_POSITION_FIX_TARGET" env-default:"0.75"`
	MinPriorSamples   int     `yaml:"min_prior_samples" env:"LEARNING_MIN_PRIOR_SAMPLES" env-default:"3"`
	MaxCenterDrift    float64 `yaml:"max_center_drift" env:"LEARNING_MAX_CENTER_DRIFT" env-default:"0.35"`
	MaxAreaRatio      float64 `yaml:"max_area_ratio" env:"LEARNING_MAX_AREA_RATIO" env-default:"4.0"`

	RecommendationLimit int     `yaml:"recommendation_limit" env:"LEARNING_RECOMMENDATION_LIMIT" env-default:"10"`
	AvoidBelow          float64 `yaml:"avoid_below" env:"LEARNING_AVOID_BELOW" env-default:"0.3"`
	AvoidMinRejections  int     `yaml:"avoid_min_rejections" env:"LEARNING_AVOID_MIN_REJECTIONS" env-default:"3"`
}

// MCPConfig toggles the read-only MCP endpoint.
type MCPConfig struct {
	Enabled bool `yaml:"enabled" env:"MCP_ENABLED" env-default:"false"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// A missing config.yaml is not an error; environment variables and defaults apply.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat(ConfigFile); err == nil {
		if err := cleanenv.ReadConfig(ConfigFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", ConfigFile, err)
		}
	} else if errors.Is(err, fs.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat %s: %w", ConfigFile, err)
	}

	cfg.parseComplexFields()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// parseComplexFields handles fields that need post-processing after loading.
func (c *Config) parseComplexFields() {
	c.Auth.JWKSEndpoints = parseJWKSEndpoints(c.Auth.JWKSEndpointsStr)
	c.Auth.ReviewerRoles = splitList(c.Auth.ReviewerRolesStr)
	c.Database.Host = ResolveHostForDocker(c.Database.Host)
	c.Vision.BaseURL = ResolveURLForDocker(c.Vision.BaseURL)
}

func (c *Config) validate() error {
	switch c.Vision.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("vision.provider must be openai or anthropic, got %q", c.Vision.Provider)
	}

	switch c.Learning.Store {
	case "postgres", "memory":
	default:
		return fmt.Errorf("learning.store must be postgres or memory, got %q", c.Learning.Store)
	}

	if c.Generation.DefaultConfidence < 0 || c.Generation.DefaultConfidence > 1 {
		return fmt.Errorf("generation.default_confidence must be within [0,1], got %v", c.Generation.DefaultConfidence)
	}
	if c.Generation.MaxAttempts < 1 {
		return fmt.Errorf("generation.max_attempts must be at least 1")
	}
	if c.Generation.Timeout <= 0 {
		return fmt.Errorf("generation.timeout must be positive")
	}
	if c.Learning.Alpha <= 0 || c.Learning.Alpha > 1 {
		return fmt.Errorf("learning.alpha must be within (0,1], got %v", c.Learning.Alpha)
	}
	if c.Review.MaxPageSize < c.Review.DefaultPageSize {
		return fmt.Errorf("review.max_page_size must not be smaller than review.default_page_size")
	}

	return nil
}

// parseJWKSEndpoints parses the JWKS endpoints string into a map.
// Format: "issuer1=url1,issuer2=url2"
func parseJWKSEndpoints(value string) map[string]string {
	endpoints := make(map[string]string)
	for _, pair := range splitList(value) {
		issuer, jwksURL, ok := strings.Cut(pair, "=")
		if ok {
			endpoints[strings.TrimSpace(issuer)] = strings.TrimSpace(jwksURL)
		}
	}
	return endpoints
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
