package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	LLM       LLMConfig
	Storage   StorageConfig
	Fetch     FetchConfig
	Chat      ChatConfig
	Results   ResultsConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	AllowedOrigins []string
	Development    bool
}

type DatabaseConfig struct {
	// Driver is "sqlite3" or "postgres".
	Driver string
	DSN    string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	// TextCacheTTLMin is how long extracted PDF text stays cached.
	TextCacheTTLMin int
}

type LLMConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
}

type StorageConfig struct {
	QuestionsBucket string
	PublicBaseURL   string
	CredentialsFile string
	Endpoint        string
}

type FetchConfig struct {
	TimeoutSec  int
	MaxAttempts int
	MaxBytes    int64
}

type ChatConfig struct {
	TopK          int
	HistorySize   int
	DocumentChars int
	HistoryPolicy string
	SessionTTLMin int
}

type ResultsConfig struct {
	URL        string
	TimeoutSec int
}

type RateLimitConfig struct {
	Enabled              bool
	MaxRequestsPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/smartclass")

	viper.SetEnvPrefix("SMARTCLASS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	switch c.Chat.HistoryPolicy {
	case "append_then_call", "call_then_append":
	default:
		return fmt.Errorf("unsupported chat history policy %q", c.Chat.HistoryPolicy)
	}

	if c.Chat.TopK <= 0 {
		return fmt.Errorf("chat.topK must be positive, got %d", c.Chat.TopK)
	}
	if c.Chat.HistorySize <= 0 {
		return fmt.Errorf("chat.historySize must be positive, got %d", c.Chat.HistorySize)
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 120)
	v.SetDefault("server.bodyLimit", 10485760)
	v.SetDefault("server.allowedOrigins", []string{"*"})
	v.SetDefault("server.development", false)

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "./data/smartclass.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.textCacheTTLMin", 60)

	v.SetDefault("llm.baseURL", "https://api.openai.com/v1")
	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.maxTokens", 2048)
	v.SetDefault("llm.timeoutSec", 60)

	v.SetDefault("storage.questionsBucket", "questions")
	v.SetDefault("storage.publicBaseURL", "")
	v.SetDefault("storage.credentialsFile", "")
	v.SetDefault("storage.endpoint", "")

	v.SetDefault("fetch.timeoutSec", 60)
	v.SetDefault("fetch.maxAttempts", 3)
	v.SetDefault("fetch.maxBytes", 50<<20)

	v.SetDefault("chat.topK", 2)
	v.SetDefault("chat.historySize", 20)
	v.SetDefault("chat.documentChars", 2000)
	v.SetDefault("chat.historyPolicy", "append_then_call")
	v.SetDefault("chat.sessionTTLMin", 120)

	v.SetDefault("results.url", "https://results.tec-edu.in/")
	v.SetDefault("results.timeoutSec", 20)

	v.SetDefault("rateLimit.enabled", true)
	v.SetDefault("rateLimit.maxRequestsPerMinute", 60)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
