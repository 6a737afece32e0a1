package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	MongoDB   MongoDBConfig   `mapstructure:"mongodb"`
	RabbitMQ  RabbitMQConfig  `mapstructure:"rabbitmq"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Resend    ResendConfig    `mapstructure:"resend"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
}

// MongoDBConfig holds MongoDB configuration
type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// RabbitMQConfig holds RabbitMQ configuration. An empty URL disables the
// trigger consumer and the job event publisher.
type RabbitMQConfig struct {
	URL string `mapstructure:"url"`
}

// RedisConfig holds the address of the daily cap counter store. Empty falls
// back to counting notification records in MongoDB.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// ResendConfig holds transactional email provider configuration
type ResendConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	FromEmail string        `mapstructure:"from_email"`
	FromName  string        `mapstructure:"from_name"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RPS       float64       `mapstructure:"rps"`
}

// LLMConfig holds LLM gateway configuration
type LLMConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	Model     string        `mapstructure:"model"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RPS       float64       `mapstructure:"rps"`
}

// WebhookConfig holds the shared secret used to sign job triggers
type WebhookConfig struct {
	Secret string `mapstructure:"secret"`
}

// JobsConfig holds job runner configuration
type JobsConfig struct {
	Concurrency   int           `mapstructure:"concurrency"`
	RunTimeout    time.Duration `mapstructure:"run_timeout"`
	DailyCap      int           `mapstructure:"daily_cap"`
	StaleRunAfter time.Duration `mapstructure:"stale_run_after"`
}

// SchedulerConfig holds in-process cron trigger configuration
type SchedulerConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	TargetURL        string `mapstructure:"target_url"`
	Timezone         string `mapstructure:"timezone"`
	MorningSpec      string `mapstructure:"morning_spec"`
	EveningSpec      string `mapstructure:"evening_spec"`
	TriviaStartSpec  string `mapstructure:"trivia_start_spec"`
	TriviaRemindSpec string `mapstructure:"trivia_remind_spec"`
	DigestSpec       string `mapstructure:"digest_spec"`
	ReaperSpec       string `mapstructure:"reaper_spec"`
}

// ServerConfig holds server configuration. An empty OperatorToken disables
// the job log API.
type ServerConfig struct {
	Port          string  `mapstructure:"port"`
	TriggerRPS    float64 `mapstructure:"trigger_rps"`
	TriggerBurst  int     `mapstructure:"trigger_burst"`
	OperatorToken string  `mapstructure:"operator_token"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Format string `mapstructure:"format"`
	Level  string `mapstructure:"level"`
}

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("mongodb.uri", "mongodb://localhost:27017")
	v.SetDefault("mongodb.database", "wellness_notifications")

	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("redis.url", "")

	v.SetDefault("resend.api_key", "")
	v.SetDefault("resend.base_url", "https://api.resend.com")
	v.SetDefault("resend.from_email", "noreply@example.com")
	v.SetDefault("resend.from_name", "Wellness")
	v.SetDefault("resend.timeout", 10*time.Second)
	v.SetDefault("resend.rps", 10.0)

	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("llm.model", "openai/gpt-4o-mini")
	v.SetDefault("llm.max_tokens", 120)
	v.SetDefault("llm.timeout", 20*time.Second)
	v.SetDefault("llm.rps", 5.0)

	v.SetDefault("webhook.secret", "")

	v.SetDefault("jobs.concurrency", 4)
	v.SetDefault("jobs.run_timeout", 10*time.Minute)
	v.SetDefault("jobs.daily_cap", 2)
	v.SetDefault("jobs.stale_run_after", 30*time.Minute)

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.target_url", "http://localhost:8084")
	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("scheduler.morning_spec", "0 8 * * *")
	v.SetDefault("scheduler.evening_spec", "0 20 * * *")
	v.SetDefault("scheduler.trivia_start_spec", "0 9 * * 1")
	v.SetDefault("scheduler.trivia_remind_spec", "0 18 * * 4")
	v.SetDefault("scheduler.digest_spec", "0 10 * * 0")
	v.SetDefault("scheduler.reaper_spec", "@every 10m")

	v.SetDefault("server.port", "8084")
	v.SetDefault("server.trigger_rps", 1.0)
	v.SetDefault("server.trigger_burst", 5)
	v.SetDefault("server.operator_token", "")

	v.SetDefault("log.format", "json")
	v.SetDefault("log.level", "info")
}

// LoadConfig loads configuration from environment variables.
// Nested keys map to upper-case env names, e.g. mongodb.uri -> MONGODB_URI.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	// NOTIFICATION_SERVICE_PORT is kept for existing deployments
	_ = v.BindEnv("server.port", "SERVER_PORT", "NOTIFICATION_SERVICE_PORT")

	return LoadWithViper(v)
}

// LoadWithViper unmarshals configuration from a prepared Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Jobs.Concurrency < 1 {
		cfg.Jobs.Concurrency = 1
	}
	return &cfg, nil
}
