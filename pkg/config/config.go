package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Providers Providers
	Breaker   BreakerConfig
	Retry     RetryConfig
	Budget    BudgetConfig
	Embedding EmbeddingConfig
	Redis     RedisConfig
	Ledger    LedgerConfig
	Metrics   MetricsConfig
	Logging   LoggingConfig
}

type Providers struct {
	OpenAI OpenAIConfig
	Gemini GeminiConfig
}

type OpenAIConfig struct {
	APIKey         string
	Model          string
	EmbeddingModel string
	Temperature    float32
	MaxTokens      int
}

type GeminiConfig struct {
	APIKey         string
	Model          string
	EmbeddingModel string
}

type BreakerConfig struct {
	FailureThreshold uint32
	Cooldown         time.Duration
	MaxCooldown      time.Duration
}

type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	CallTimeout  time.Duration
}

type BudgetConfig struct {
	UserDailyCeilingUSD   float64
	GlobalDailyCeilingUSD float64
	Window                time.Duration
}

type EmbeddingConfig struct {
	CacheTTL  time.Duration
	BatchSize int
	Dimension int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type LedgerConfig struct {
	Path string
}

type MetricsConfig struct {
	Enabled bool
	Addr    string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/cvforge")

	viper.SetEnvPrefix("CVFORGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("providers.openai.model", "gpt-4o")
	viper.SetDefault("providers.openai.embeddingModel", "text-embedding-3-small")
	viper.SetDefault("providers.openai.temperature", 0.3)
	viper.SetDefault("providers.openai.maxTokens", 2048)

	viper.SetDefault("providers.gemini.model", "gemini-2.0-flash")
	viper.SetDefault("providers.gemini.embeddingModel", "text-embedding-004")

	viper.SetDefault("breaker.failureThreshold", 5)
	viper.SetDefault("breaker.cooldown", "30s")
	viper.SetDefault("breaker.maxCooldown", "4m")

	viper.SetDefault("retry.maxAttempts", 3)
	viper.SetDefault("retry.initialDelay", "500ms")
	viper.SetDefault("retry.maxDelay", "5s")
	viper.SetDefault("retry.callTimeout", "30s")

	viper.SetDefault("budget.userDailyCeilingUSD", 5.0)
	viper.SetDefault("budget.globalDailyCeilingUSD", 250.0)
	viper.SetDefault("budget.window", "24h")

	viper.SetDefault("embedding.cacheTTL", "2160h")
	viper.SetDefault("embedding.batchSize", 100)
	viper.SetDefault("embedding.dimension", 1536)

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("ledger.path", "./data/cvforge.db")

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.addr", ":9091")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
