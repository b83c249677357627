package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/vultisig/ton-confirmer/internal/logging"
	"github.com/vultisig/ton-confirmer/internal/metrics"
	"github.com/vultisig/ton-confirmer/internal/wallet"
	confirmer "github.com/vultisig/ton-confirmer/tx_confirmer/pkg/config"
)

type Config struct {
	Server struct {
		Host string `mapstructure:"host" json:"host,omitempty"`
		Port int64  `mapstructure:"port" json:"port,omitempty"`
	} `mapstructure:"server" json:"server"`
	Redis   RedisConfig               `mapstructure:"redis" json:"redis,omitempty"`
	Sources confirmer.SourcesConfig   `mapstructure:"sources" json:"sources,omitempty"`
	Poll    confirmer.PollConfig      `mapstructure:"poll" json:"poll,omitempty"`
	Submit  confirmer.SubmitConfig    `mapstructure:"submit" json:"submit,omitempty"`
	Wallet  wallet.Config             `mapstructure:"wallet" json:"wallet,omitempty"`
	Worker  WorkerConfig              `mapstructure:"worker" json:"worker,omitempty"`
	History HistoryConfig             `mapstructure:"history" json:"history,omitempty"`
	Metrics metrics.Config            `mapstructure:"metrics" json:"metrics,omitempty"`
	// HealthPort serves /healthz for the worker, 0 disables it.
	HealthPort int               `mapstructure:"health_port" json:"health_port,omitempty"`
	LogFormat  logging.LogFormat `mapstructure:"log_format" json:"log_format,omitempty"`
	LogLevel   string            `mapstructure:"log_level" json:"log_level,omitempty"`
}

type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency" json:"concurrency,omitempty"`
}

type HistoryConfig struct {
	Key string `mapstructure:"key" json:"key,omitempty"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host" json:"host,omitempty"`
	Port     string `mapstructure:"port" json:"port,omitempty"`
	User     string `mapstructure:"user" json:"user,omitempty"`
	Password string `mapstructure:"password" json:"password,omitempty"`
	DB       int    `mapstructure:"db" json:"db,omitempty"`
	ConnURI  string `mapstructure:"conn_uri" json:"conn_uri,omitempty"`
}

func (r RedisConfig) GetRedisOptions() (*redis.Options, error) {
	if r.ConnURI != "" {
		opts, err := redis.ParseURL(r.ConnURI)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis URI: %w", err)
		}
		return opts, nil
	}

	if r.Host == "" {
		return nil, fmt.Errorf("redis host is required when conn_uri is not provided")
	}

	port := r.Port
	if port == "" {
		port = "6379"
	}
	return &redis.Options{
		Addr:     r.Host + ":" + port,
		Username: r.User,
		Password: r.Password,
		DB:       r.DB,
	}, nil
}

// AsynqConnOpt returns the same connection settings for the task queue.
func (r RedisConfig) AsynqConnOpt() (asynq.RedisConnOpt, error) {
	if r.ConnURI != "" {
		opt, err := asynq.ParseRedisURI(r.ConnURI)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis URI: %w", err)
		}
		return opt, nil
	}
	opts, err := r.GetRedisOptions()
	if err != nil {
		return nil, err
	}
	return asynq.RedisClientOpt{
		Addr:     opts.Addr,
		Username: opts.Username,
		Password: opts.Password,
		DB:       opts.DB,
	}, nil
}

// ApplyDefaults fills whatever the config file left out.
func (c *Config) ApplyDefaults() {
	c.Poll.ApplyDefaults()
	c.Submit.ApplyDefaults()

	def := confirmer.DefaultSourcesConfig()
	if c.Sources.TonAPI.URL == "" && c.Sources.TonCenterV3.URL == "" && c.Sources.TonCenterV2.URL == "" {
		c.Sources = def
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = 10
	}
	if c.LogFormat == "" {
		c.LogFormat = logging.FormatText
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *Config) Validate() error {
	format := c.LogFormat
	if err := format.UnmarshalText([]byte(c.LogFormat)); err != nil {
		return err
	}
	if c.Redis.ConnURI == "" && c.Redis.Host == "" {
		return fmt.Errorf("redis: host or conn_uri is required")
	}
	if _, err := c.Submit.Minimum(); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	if c.Sources.TonAPI.URL == "" && c.Sources.TonCenterV3.URL == "" {
		return fmt.Errorf("sources: at least one of tonapi or toncenter_v3 is required")
	}
	return nil
}

func (c *Config) ServerAddr() string {
	return c.Server.Host + ":" + strconv.FormatInt(c.Server.Port, 10)
}

func GetConfigure() (*Config, error) {
	configName := os.Getenv("TON_CONFIRMER_CONFIG_NAME")
	if configName == "" {
		configName = "config"
	}
	return ReadConfig(configName)
}

func ReadConfig(configName string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(configName)
	v.AddConfigPath(".")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("fail to reading config file, %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config, %w", err)
	}
	return &cfg, nil
}
