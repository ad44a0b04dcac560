package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	Env  string `mapstructure:"env"`
	Port int    `mapstructure:"port"`
}

type BackendConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type WSConfig struct {
	HeartbeatIntervalSeconds int   `mapstructure:"heartbeat_interval_seconds"`
	WriteDeadlineSeconds     int   `mapstructure:"write_deadline_seconds"`
	MaxMessageSizeBytes      int64 `mapstructure:"max_message_size_bytes"`
	SendBufferSize           int   `mapstructure:"send_buffer_size"`
	RateLimitPerSec          int   `mapstructure:"rate_limit_per_sec"`
}

type RedisConfig struct {
	Addr               string `mapstructure:"addr"`
	Password           string `mapstructure:"password"`
	DB                 int    `mapstructure:"db"`
	Prefix             string `mapstructure:"prefix"`
	PresenceTTLSeconds int    `mapstructure:"presence_ttl_seconds"`
}

type KafkaConfig struct {
	Brokers          []string `mapstructure:"brokers"`
	TopicMessageSent string   `mapstructure:"topic_message_sent"`
}

type LogConfig struct {
	Development bool `mapstructure:"development"`
}

type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Backend BackendConfig `mapstructure:"backend"`
	WS      WSConfig      `mapstructure:"ws"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Log     LogConfig     `mapstructure:"log"`

	// derived timeouts
	HeartbeatInterval time.Duration
	WriteDeadline     time.Duration
	BackendTimeout    time.Duration
	PresenceTTL       time.Duration
}

// Load reads the YAML file at path plus environment overrides. A missing
// file is not an error; defaults and env vars still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var pathErr *fs.PathError
		if !errors.As(err, &pathErr) {
			return nil, err
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}

	if c.App.Port == 0 {
		c.App.Port = 8080
	}
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = "https://watchtower.thewatchtower.ae/api"
	}
	if c.Backend.TimeoutSeconds == 0 {
		c.Backend.TimeoutSeconds = 10
	}
	if c.WS.HeartbeatIntervalSeconds == 0 {
		c.WS.HeartbeatIntervalSeconds = 15
	}
	if c.WS.WriteDeadlineSeconds == 0 {
		c.WS.WriteDeadlineSeconds = 10
	}
	if c.WS.MaxMessageSizeBytes == 0 {
		c.WS.MaxMessageSizeBytes = 65536
	}
	if c.WS.SendBufferSize == 0 {
		c.WS.SendBufferSize = 256
	}
	if c.WS.RateLimitPerSec == 0 {
		c.WS.RateLimitPerSec = 20
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "ws"
	}
	if c.Redis.PresenceTTLSeconds == 0 {
		c.Redis.PresenceTTLSeconds = 60
	}
	if c.Kafka.TopicMessageSent == "" {
		c.Kafka.TopicMessageSent = "chat.message_sent"
	}

	c.HeartbeatInterval = time.Duration(c.WS.HeartbeatIntervalSeconds) * time.Second
	c.WriteDeadline = time.Duration(c.WS.WriteDeadlineSeconds) * time.Second
	c.BackendTimeout = time.Duration(c.Backend.TimeoutSeconds) * time.Second
	c.PresenceTTL = time.Duration(c.Redis.PresenceTTLSeconds) * time.Second
	return &c, nil
}

func (c *Config) PortString() string {
	return fmt.Sprintf("%d", c.App.Port)
}
