package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Tier determines which backing services are used by default
	Tier Tier `json:"tier" mapstructure:"tier"`

	// Case pipeline
	Pipeline   PipelineConfig   `json:"pipeline" mapstructure:"pipeline"`
	Scoring    ScoringConfig    `json:"scoring" mapstructure:"scoring"`
	Enrichment EnrichmentConfig `json:"enrichment" mapstructure:"enrichment"`
	Worker     WorkerConfig     `json:"worker" mapstructure:"worker"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" mapstructure:"repository"`
	Cache      CacheConfig      `json:"cache" mapstructure:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" mapstructure:"eventbus"`

	// Observability
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	ReadTimeout  int    `json:"readTimeout" mapstructure:"readtimeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" mapstructure:"writetimeout"` // seconds

	// APIKey enables X-API-Key authentication on /v1 routes when non-empty.
	APIKey string `json:"-" mapstructure:"apikey"`

	// RateLimitPerMinute caps requests per client; 0 disables the limiter.
	RateLimitPerMinute int `json:"rateLimitPerMinute" mapstructure:"ratelimitperminute"`
}

// PipelineConfig bounds how a single case moves through the orchestrator.
type PipelineConfig struct {
	// StepTimeout bounds every external step call (classification,
	// enrichment, recommendation). A step that exceeds it falls back.
	StepTimeout time.Duration `json:"stepTimeout" mapstructure:"steptimeout"`

	// MaxNarrativeLength is the length narratives are truncated to.
	MaxNarrativeLength int `json:"maxNarrativeLength" mapstructure:"maxnarrativelength"`

	// NarrativeHardCap rejects narratives longer than this outright.
	NarrativeHardCap int `json:"narrativeHardCap" mapstructure:"narrativehardcap"`
}

// ScoringConfig selects and tunes the scoring collaborators.
type ScoringConfig struct {
	// Provider is "rules" (keyword classifier + CEL policies) or "openai".
	Provider string `json:"provider" mapstructure:"provider"`

	// OpenAI-compatible provider settings
	APIKey              string        `json:"-" mapstructure:"apikey"`
	BaseURL             string        `json:"baseUrl" mapstructure:"baseurl"`
	ClassificationModel string        `json:"classificationModel" mapstructure:"classificationmodel"`
	RecommendationModel string        `json:"recommendationModel" mapstructure:"recommendationmodel"`
	RequestTimeout      time.Duration `json:"requestTimeout" mapstructure:"requesttimeout"`
	MaxRetries          int           `json:"maxRetries" mapstructure:"maxretries"`
	RetryDelay          time.Duration `json:"retryDelay" mapstructure:"retrydelay"`
	TokenBudgetPerCase  int           `json:"tokenBudgetPerCase" mapstructure:"tokenbudgetpercase"`

	// RedactPII strips personal data from narratives before they leave
	// the process.
	RedactPII bool `json:"redactPii" mapstructure:"redactpii"`

	// Policies replaces the built-in recommendation policies when set.
	Policies []Policy `json:"policies,omitempty" mapstructure:"policies"`
}

// EnrichmentConfig controls account context lookups.
type EnrichmentConfig struct {
	// Window is how far back recent transactions are counted.
	Window time.Duration `json:"window" mapstructure:"window"`

	// CacheTTL is how long computed counters are reused per customer.
	CacheTTL time.Duration `json:"cacheTtl" mapstructure:"cachettl"`
}

// WorkerConfig controls asynchronous case intake from the event bus.
type WorkerConfig struct {
	Enabled     bool `json:"enabled" mapstructure:"enabled"`
	Concurrency int  `json:"concurrency" mapstructure:"concurrency"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // json, text
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite, an in-process LRU cache and channels
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, Redis and NATS
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 60,
		},
		Tier: TierCommunity,
		Pipeline: PipelineConfig{
			StepTimeout:        30 * time.Second,
			MaxNarrativeLength: 5000,
			NarrativeHardCap:   50000,
		},
		Scoring: ScoringConfig{
			Provider:            "rules",
			BaseURL:             "https://api.openai.com/v1",
			ClassificationModel: "gpt-3.5-turbo",
			RecommendationModel: "gpt-3.5-turbo",
			RequestTimeout:      20 * time.Second,
			MaxRetries:          3,
			RetryDelay:          time.Second,
			TokenBudgetPerCase:  8000,
			RedactPII:           true,
		},
		Enrichment: EnrichmentConfig{
			Window:   30 * 24 * time.Hour,
			CacheTTL: time.Minute,
		},
		Worker: WorkerConfig{
			Enabled:     false,
			Concurrency: 4,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       30 * time.Second,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Worker.Enabled = true
	return cfg
}
