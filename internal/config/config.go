package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"expenseflow/pkg/config"
)

// DispatcherConfig 调度器配置
type DispatcherConfig struct {
	// worker 内置定时器间隔，<= 0 时只响应 HTTP/MQ 触发
	IntervalSeconds int `yaml:"interval_seconds"`
	// bcrypt 哈希，为空时 HTTP 触发入口不校验密钥
	TriggerSecretHash string `yaml:"trigger_secret_hash"`
	DedupEnabled      bool   `yaml:"dedup_enabled"`
	DedupTTLSeconds   int    `yaml:"dedup_ttl_seconds"`
	// MQ 消费队列
	Queue string `yaml:"queue"`
}

// OutboxConfig outbox 投递参数，<= 0 时使用 outbox.Dispatcher 的默认值
type OutboxConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
	BatchSize       int `yaml:"batch_size"`
	MaxRetries      int `yaml:"max_retries"`
}

type Config struct {
	ServiceName string              `yaml:"service_name"`
	DB          config.DBConfig     `yaml:"db"`
	MQ          config.MQConfig     `yaml:"mq"`
	Redis       config.RedisConfig  `yaml:"redis"`
	JWT         config.JWTConfig    `yaml:"jwt"`
	Server      config.ServerConfig `yaml:"server"`
	Push        config.PushConfig   `yaml:"push"`
	Assist      config.AssistConfig `yaml:"assist"`
	Otel        config.OtelConfig   `yaml:"otel"`
	Dispatcher  DispatcherConfig    `yaml:"dispatcher"`
	Outbox      OutboxConfig        `yaml:"outbox"`
}

// Load 读取 CONFIG_DIR（默认 config）下的 base.yaml + <CONFIG_ENV>.yaml，再用环境变量覆盖
func Load() (*Config, error) {
	return LoadFrom(config.GetConfigEnv(), config.GetEnv("CONFIG_DIR", "config"))
}

func LoadFrom(env, dir string) (*Config, error) {
	raw, err := config.LoadConfig(env, dir)
	if err != nil {
		return nil, err
	}

	// map -> yaml -> struct
	data, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode merged config: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// 环境变量覆盖
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverridePushFromEnv(&cfg.Push)
	config.OverrideAssistFromEnv(&cfg.Assist)
	config.OverrideOtelFromEnv(&cfg.Otel)
	overrideDispatcherFromEnv(&cfg.Dispatcher)

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		ServiceName: "expenseflow",
		Server:      config.ServerConfig{Port: ":8080"},
		Push:        config.PushConfig{APIURL: "https://api.onesignal.com/notifications", TimeoutSeconds: 10},
		Assist:      config.AssistConfig{Model: "gpt-4o-mini", TimeoutSeconds: 15},
		Dispatcher: DispatcherConfig{
			IntervalSeconds: 60,
			DedupTTLSeconds: 600,
			Queue:           "notification.dispatch",
		},
	}
}

func overrideDispatcherFromEnv(cfg *DispatcherConfig) {
	if v := os.Getenv("DISPATCH_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.IntervalSeconds = n
		}
	}
	if v := os.Getenv("DISPATCH_TRIGGER_SECRET_HASH"); v != "" {
		cfg.TriggerSecretHash = v
	}
	if v := os.Getenv("DISPATCH_DEDUP_ENABLED"); v != "" {
		cfg.DedupEnabled = strings.EqualFold(v, "true") || v == "1"
	}
}
