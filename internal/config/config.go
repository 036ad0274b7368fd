package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
)

type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Logging  LoggingConfig  `json:"logging"`
	Redis    RedisConfig    `json:"redis"`
	Metrics  MetricsConfig  `json:"metrics"`
	Alerting AlertingConfig `json:"alerting"`
}

type ServerConfig struct {
	BindAddr  string `json:"bindAddr"`
	AuthToken string `json:"authToken"`
}

type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type LoggingConfig struct {
	Level string `json:"level"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type MetricsConfig struct {
	BindAddr string `json:"bindAddr"`
}

type AlertingConfig struct {
	Scheduler SchedulerConfig `json:"scheduler"`
	Delivery  DeliveryConfig  `json:"delivery"`
	RateLimit RateLimitConfig `json:"rateLimit"`
	Breaker   BreakerConfig   `json:"breaker"`
	Policy    PolicyConfig    `json:"policy"`
}

type SchedulerConfig struct {
	Interval string `json:"interval"` // e.g. "5m"
	Batch    int    `json:"batch"`
	Workers  int    `json:"workers"`
	PollIdle string `json:"pollIdle"` // queue poll interval when empty
}

type DeliveryConfig struct {
	MaxAttempts  int    `json:"maxAttempts"`
	BackoffBase  string `json:"backoffBase"` // e.g. "30s"
	BackoffMax   string `json:"backoffMax"`  // e.g. "1h"
	SendTimeout  string `json:"sendTimeout"` // per external call
	EmailGateway string `json:"emailGateway"`
	SMSGateway   string `json:"smsGateway"`
}

type RateLimitConfig struct {
	HourlyLimit int `json:"hourlyLimit"`
	DailyLimit  int `json:"dailyLimit"`
}

type BreakerConfig struct {
	FailureThreshold int    `json:"failureThreshold"`
	FailureWindow    string `json:"failureWindow"` // e.g. "2m"
	OpenCooldown     string `json:"openCooldown"`  // e.g. "1m"
}

type PolicyConfig struct {
	// File points to an optional YAML policy file with per-type
	// cooldown overrides and milestone sets.
	File string `json:"file"`
}

func Load() (*Config, error) {
	configFile := flag.String("f", "", "Path to configuration file")
	flag.Parse()

	cfg := &Config{
		Server: ServerConfig{
			BindAddr:  getEnv("SERVER_BIND_ADDR", "0.0.0.0:8080"),
			AuthToken: getEnv("SERVER_AUTH_TOKEN", ""),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "admin"),
			Password: getEnv("DB_PASSWORD", "password"),
			DBName:   getEnv("DB_NAME", "pfm_alerts"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "debug"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Metrics: MetricsConfig{
			BindAddr: getEnv("METRICS_BIND_ADDR", "0.0.0.0:9091"),
		},
		Alerting: AlertingConfig{
			Scheduler: SchedulerConfig{
				Interval: getEnv("ALERT_SCAN_INTERVAL", "5m"),
				Batch:    getEnvInt("ALERT_SCAN_BATCH", 200),
				Workers:  getEnvInt("ALERT_WORKERS", 4),
				PollIdle: getEnv("ALERT_QUEUE_POLL_IDLE", "1s"),
			},
			Delivery: DeliveryConfig{
				MaxAttempts:  getEnvInt("DELIVERY_MAX_ATTEMPTS", 5),
				BackoffBase:  getEnv("DELIVERY_BACKOFF_BASE", "30s"),
				BackoffMax:   getEnv("DELIVERY_BACKOFF_MAX", "1h"),
				SendTimeout:  getEnv("DELIVERY_SEND_TIMEOUT", "10s"),
				EmailGateway: getEnv("EMAIL_GATEWAY_URL", "http://localhost:8025/v1/messages"),
				SMSGateway:   getEnv("SMS_GATEWAY_URL", "http://localhost:8026/v1/messages"),
			},
			RateLimit: RateLimitConfig{
				HourlyLimit: getEnvInt("RATE_LIMIT_HOURLY", 10),
				DailyLimit:  getEnvInt("RATE_LIMIT_DAILY", 50),
			},
			Breaker: BreakerConfig{
				FailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
				FailureWindow:    getEnv("BREAKER_FAILURE_WINDOW", "2m"),
				OpenCooldown:     getEnv("BREAKER_OPEN_COOLDOWN", "1m"),
			},
			Policy: PolicyConfig{
				File: getEnv("ALERT_POLICY_FILE", ""),
			},
		},
	}

	if *configFile != "" {
		if err := loadFromFile(cfg, *configFile); err != nil {
			log.Err(err)
			return nil, err
		}
	}

	// fill reasonable defaults when fields omitted in file
	if cfg.Server.BindAddr == "" {
		cfg.Server.BindAddr = "0.0.0.0:8080"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Alerting.Scheduler.Interval == "" {
		cfg.Alerting.Scheduler.Interval = "5m"
	}
	if cfg.Alerting.Scheduler.Batch == 0 {
		cfg.Alerting.Scheduler.Batch = 200
	}
	if cfg.Alerting.Scheduler.Workers == 0 {
		cfg.Alerting.Scheduler.Workers = 4
	}
	if cfg.Alerting.Delivery.MaxAttempts == 0 {
		cfg.Alerting.Delivery.MaxAttempts = 5
	}
	if cfg.Alerting.RateLimit.HourlyLimit == 0 {
		cfg.Alerting.RateLimit.HourlyLimit = 10
	}
	if cfg.Alerting.RateLimit.DailyLimit == 0 {
		cfg.Alerting.RateLimit.DailyLimit = 50
	}
	if cfg.Alerting.Breaker.FailureThreshold == 0 {
		cfg.Alerting.Breaker.FailureThreshold = 5
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filePath, err)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
