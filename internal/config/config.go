package config

import (
	"log"
	"os"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

const (
	defaultConfigPath = "configs/config_local.toml"
	configPathEnv     = "DESKRELAY_CONFIG"
)

type MainConfig struct {
	AppName string `toml:"appName"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	TLS     bool   `toml:"tls"`
}

// DatabaseConfig driver 取值 postgres / mysql
type DatabaseConfig struct {
	Driver       string `toml:"driver"`
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	DatabaseName string `toml:"databaseName"`
	SSLMode      string `toml:"sslMode"`
	MaxOpenConns int    `toml:"maxOpenConns"`
	MaxIdleConns int    `toml:"maxIdleConns"`
	AutoMigrate  bool   `toml:"autoMigrate"`
}

type LogConfig struct {
	LogPath    string `toml:"logPath"`
	Level      string `toml:"level"`
	MaxSizeMB  int    `toml:"maxSizeMB"`
	MaxBackups int    `toml:"maxBackups"`
	MaxAgeDays int    `toml:"maxAgeDays"`
	Console    bool   `toml:"console"`
}

type JwtConfig struct {
	Key         string `toml:"key"`
	ExpireHours int    `toml:"expireHours"`
	Issuer      string `toml:"issuer"`
}

// AuthConfig DevBypass 仅用于本地环境：缺失凭证时以固定身份放行
type AuthConfig struct {
	DevBypass    bool   `toml:"devBypass"`
	DevAccountID string `toml:"devAccountID"`
	DevUserID    string `toml:"devUserID"`
}

type KafkaConfig struct {
	Enabled           bool     `toml:"enabled"`
	Brokers           []string `toml:"brokers"`
	ClientID          string   `toml:"clientID"`
	InboundTopic      string   `toml:"inboundTopic"`
	NotificationTopic string   `toml:"notificationTopic"`
	ConsumerGroupID   string   `toml:"consumerGroupID"`
	Partitions        int32    `toml:"partitions"`
	Replication       int16    `toml:"replication"`
}

type AIChatModelConfig struct {
	Provider        string `toml:"provider"`
	APIKey          string `toml:"apiKey"`
	AccessKey       string `toml:"accessKey"`
	SecretKey       string `toml:"secretKey"`
	BaseURL         string `toml:"baseURL"`
	Region          string `toml:"region"`
	Model           string `toml:"model"`
	TimeoutSeconds  int    `toml:"timeoutSeconds"`
	RetryTimes      int    `toml:"retryTimes"`
	ByAzure         bool   `toml:"byAzure"`
	AzureAPIVersion string `toml:"azureApiVersion"`
}

type AIConfig struct {
	ChatModel AIChatModelConfig `toml:"chatModel"`
}

// QueueOptions 单个队列的运行参数
type QueueOptions struct {
	Concurrency         int    `toml:"concurrency"`
	RateLimit           int    `toml:"rateLimit"`
	RateWindowMillis    int    `toml:"rateWindowMillis"`
	MaxAttempts         int    `toml:"maxAttempts"`
	BackoffType         string `toml:"backoffType"`
	BackoffDelayMillis  int    `toml:"backoffDelayMillis"`
	StallTimeoutSeconds int    `toml:"stallTimeoutSeconds"`
	JobTimeoutSeconds   int    `toml:"jobTimeoutSeconds"`
}

type QueueConfig struct {
	KeyPrefix           string       `toml:"keyPrefix"`
	PollIntervalMillis  int          `toml:"pollIntervalMillis"`
	RetentionHours      int          `toml:"retentionHours"`
	CleanCron           string       `toml:"cleanCron"`
	Classification      QueueOptions `toml:"classification"`
	Draft               QueueOptions `toml:"draft"`
	Notification        QueueOptions `toml:"notification"`
	HistoryMessageLimit int          `toml:"historyMessageLimit"`
}

type PresenceConfig struct {
	TTLSeconds          int    `toml:"ttlSeconds"`
	TypingWindowSeconds int    `toml:"typingWindowSeconds"`
	ResetOnBoot         bool   `toml:"resetOnBoot"`
	WakeCron            string `toml:"wakeCron"`
}

// NotifyConfig transport 取值 webhook / kafka / log
type NotifyConfig struct {
	Transport      string `toml:"transport"`
	WebhookURL     string `toml:"webhookURL"`
	WebhookSecret  string `toml:"webhookSecret"`
	TimeoutSeconds int    `toml:"timeoutSeconds"`
}

// MCPConfig 任务运维 MCP 端点
type MCPConfig struct {
	Enabled bool   `toml:"enabled"`
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

type RedisConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"poolSize"`
	MinIdleConns int    `toml:"minIdleConns"`
}

type Config struct {
	MainConfig     `toml:"mainConfig"`
	DatabaseConfig `toml:"databaseConfig"`
	JwtConfig      `toml:"jwtConfig"`
	AuthConfig     `toml:"authConfig"`
	KafkaConfig    `toml:"kafkaConfig"`
	AIConfig       `toml:"aiConfig"`
	LogConfig      `toml:"logConfig"`
	MCPConfig      `toml:"mcpConfig"`
	RedisConfig    `toml:"redisConfig"`
	QueueConfig    `toml:"queueConfig"`
	PresenceConfig `toml:"presenceConfig"`
	NotifyConfig   `toml:"notifyConfig"`
}

var (
	config *Config
	once   sync.Once
)

// Load 读取指定路径的配置并补齐默认值，文件不存在时返回纯默认配置和错误
func Load(path string) (*Config, error) {
	conf := new(Config)
	var err error
	if strings.TrimSpace(path) != "" {
		_, err = toml.DecodeFile(path, conf)
	}
	conf.applyDefaults()
	return conf, err
}

func LoadConfig() error {
	configPath := defaultConfigPath
	if p := strings.TrimSpace(os.Getenv(configPathEnv)); p != "" {
		configPath = p
	}
	conf, err := Load(configPath)
	config = conf
	if err != nil {
		log.Printf("load config %s failed: %v, using defaults", configPath, err)
		return err
	}
	return nil
}

func GetConfig() *Config {
	once.Do(func() {
		_ = LoadConfig()
	})
	return config
}

func (c *Config) applyDefaults() {
	if c.AppName == "" {
		c.AppName = "DeskRelay"
	}
	if c.MainConfig.Host == "" {
		c.MainConfig.Host = "0.0.0.0"
	}
	if c.MainConfig.Port == 0 {
		c.MainConfig.Port = 8000
	}
	if c.Driver == "" {
		c.Driver = "postgres"
	}
	if c.DatabaseConfig.Port == 0 {
		if c.Driver == "mysql" {
			c.DatabaseConfig.Port = 3306
		} else {
			c.DatabaseConfig.Port = 5432
		}
	}
	if c.DatabaseName == "" {
		c.DatabaseName = "deskrelay"
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.RedisConfig.Port == 0 {
		c.RedisConfig.Port = 6379
	}
	if c.JwtConfig.ExpireHours <= 0 {
		c.JwtConfig.ExpireHours = 24
	}
	if c.JwtConfig.Issuer == "" {
		c.JwtConfig.Issuer = c.AppName
	}
	if c.DevAccountID == "" {
		c.DevAccountID = "dev-account"
	}
	if c.DevUserID == "" {
		c.DevUserID = "dev-user"
	}
	if c.InboundTopic == "" {
		c.InboundTopic = "support.inbound"
	}
	if c.NotificationTopic == "" {
		c.NotificationTopic = "support.notifications"
	}
	if c.ConsumerGroupID == "" {
		c.ConsumerGroupID = "deskrelay-inbound"
	}
	if c.KafkaConfig.ClientID == "" {
		c.KafkaConfig.ClientID = "deskrelay"
	}
	if c.Partitions <= 0 {
		c.Partitions = 3
	}
	if c.Replication <= 0 {
		c.Replication = 1
	}
	if c.ChatModel.Provider == "" {
		c.ChatModel.Provider = "openai"
	}
	if c.ChatModel.TimeoutSeconds <= 0 {
		c.ChatModel.TimeoutSeconds = 30
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "q"
	}
	if c.PollIntervalMillis <= 0 {
		c.PollIntervalMillis = 200
	}
	if c.RetentionHours <= 0 {
		c.RetentionHours = 72
	}
	if c.CleanCron == "" {
		c.CleanCron = "@every 1h"
	}
	if c.HistoryMessageLimit <= 0 {
		c.HistoryMessageLimit = 20
	}
	c.Classification.fill(QueueOptions{Concurrency: 5, RateLimit: 10, RateWindowMillis: 1000, MaxAttempts: 3, BackoffType: "exponential", BackoffDelayMillis: 1000})
	c.Draft.fill(QueueOptions{Concurrency: 3, RateLimit: 5, RateWindowMillis: 1000, MaxAttempts: 3, BackoffType: "exponential", BackoffDelayMillis: 2000})
	c.Notification.fill(QueueOptions{Concurrency: 10, RateLimit: 50, RateWindowMillis: 60000, MaxAttempts: 5, BackoffType: "exponential", BackoffDelayMillis: 5000})
	if c.TTLSeconds <= 0 {
		c.TTLSeconds = 60
	}
	if c.TypingWindowSeconds <= 0 {
		c.TypingWindowSeconds = 5
	}
	if c.WakeCron == "" {
		c.WakeCron = "@every 30s"
	}
	if c.Transport == "" {
		c.Transport = "log"
	}
	if c.NotifyConfig.TimeoutSeconds <= 0 {
		c.NotifyConfig.TimeoutSeconds = 10
	}
	if c.MCPConfig.Name == "" {
		c.MCPConfig.Name = "deskrelay-jobs"
	}
	if c.MCPConfig.Version == "" {
		c.MCPConfig.Version = "1.0.0"
	}
}

func (o *QueueOptions) fill(def QueueOptions) {
	if o.Concurrency <= 0 {
		o.Concurrency = def.Concurrency
	}
	if o.RateLimit <= 0 {
		o.RateLimit = def.RateLimit
	}
	if o.RateWindowMillis <= 0 {
		o.RateWindowMillis = def.RateWindowMillis
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = def.MaxAttempts
	}
	if o.BackoffType == "" {
		o.BackoffType = def.BackoffType
	}
	if o.BackoffDelayMillis <= 0 {
		o.BackoffDelayMillis = def.BackoffDelayMillis
	}
	if o.StallTimeoutSeconds <= 0 {
		o.StallTimeoutSeconds = 30
	}
	if o.JobTimeoutSeconds <= 0 {
		o.JobTimeoutSeconds = 120
	}
}
