package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	Cache     CacheConfig
	Knowledge KnowledgeConfig
	Providers ProvidersConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type CacheConfig struct {
	TTLHours      int
	ScanLimit     int
	MaxEntries    int
	EvictionBatch int
	SimilarityMin float64
}

type KnowledgeConfig struct {
	MinConfidence        float64
	ContentMinConfidence float64
}

type ProvidersConfig struct {
	Priority        []string
	TimeoutSec      int
	HighPrioritySec int
	Accounts        []ProviderAccount
}

// ProviderAccount describes one configured backend account. All four
// supported providers speak the OpenAI chat API; they differ only in
// base URL, model and credentials.
type ProviderAccount struct {
	ID         string
	Provider   string
	Label      string
	APIKey     string
	BaseURL    string
	Model      string
	DailyLimit int
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
	viper.AddConfigPath("/etc/fisioflow")

	viper.SetEnvPrefix("FISIOFLOW")
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

func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 1048576)

	viper.SetDefault("sqlite.path", "./data/fisioflow.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("cache.ttlHours", 24)
	viper.SetDefault("cache.scanLimit", 50)
	viper.SetDefault("cache.maxEntries", 10000)
	viper.SetDefault("cache.evictionBatch", 1000)
	viper.SetDefault("cache.similarityMin", 0.75)

	viper.SetDefault("knowledge.minConfidence", 0.7)
	viper.SetDefault("knowledge.contentMinConfidence", 0.6)

	viper.SetDefault("providers.priority", []string{"openai", "deepseek", "groq", "openrouter"})
	viper.SetDefault("providers.timeoutSec", 30)
	viper.SetDefault("providers.highPrioritySec", 10)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
