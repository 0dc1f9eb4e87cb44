package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Host string `mapstructure:"host"`
		Port int64  `mapstructure:"port"`
	} `mapstructure:"server"`

	Redis struct {
		Host     string `mapstructure:"host"`
		Port     string `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Database struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"database"`

	Datadog struct {
		Host string `mapstructure:"host"`
		Port string `mapstructure:"port"`
	} `mapstructure:"datadog"`

	Worker struct {
		Concurrency int    `mapstructure:"concurrency"`
		Queue       string `mapstructure:"queue"`
	} `mapstructure:"worker"`

	LogLevel string        `mapstructure:"log_level"`
	Engine   EngineConfig  `mapstructure:"engine"`
	Chains   []ChainConfig `mapstructure:"chains"`

	// Wallets maps wallet ids to hex private keys. Development only, production
	// deployments resolve keys through the wallet decryption service.
	Wallets map[string]string `mapstructure:"wallets"`
}

type EngineConfig struct {
	LockAttempts        int           `mapstructure:"lock_attempts"`
	LockRetryInterval   time.Duration `mapstructure:"lock_retry_interval"`
	LockTTL             time.Duration `mapstructure:"lock_ttl"`
	NonceLockAttempts   int           `mapstructure:"nonce_lock_attempts"`
	NonceCounterTTL     time.Duration `mapstructure:"nonce_counter_ttl"`
	NonceUsedTTL        time.Duration `mapstructure:"nonce_used_ttl"`
	GasRefreshInterval  time.Duration `mapstructure:"gas_refresh_interval"`
	GasFetchTimeout     time.Duration `mapstructure:"gas_fetch_timeout"`
	GasWarmSchedule     string        `mapstructure:"gas_warm_schedule"`
	ConfirmationTimeout time.Duration `mapstructure:"confirmation_timeout"`
}

type ChainConfig struct {
	Name             string   `mapstructure:"name"`
	ChainID          int64    `mapstructure:"chain_id"`
	RPCURLs          []string `mapstructure:"rpc_urls"`
	GasSupplementWei string   `mapstructure:"gas_supplement_wei"`
	MinGasPriceWei   string   `mapstructure:"min_gas_price_wei"`
	MaxGasPriceWei   string   `mapstructure:"max_gas_price_wei"`
	Forwarder        string   `mapstructure:"forwarder"`
	ForwarderName    string   `mapstructure:"forwarder_name"`
	ForwarderVersion string   `mapstructure:"forwarder_version"`
	RelayerWallet    string   `mapstructure:"relayer_wallet"`
}

func (c Config) RedisAddr() string {
	return c.Redis.Host + ":" + c.Redis.Port
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("log_level", "info")
	v.SetDefault("worker.concurrency", 10)
	v.SetDefault("worker.queue", "txengine")
	v.SetDefault("engine.lock_attempts", 10)
	v.SetDefault("engine.lock_retry_interval", 100*time.Millisecond)
	v.SetDefault("engine.lock_ttl", 10*time.Second)
	v.SetDefault("engine.nonce_lock_attempts", 300)
	v.SetDefault("engine.nonce_counter_ttl", 2*time.Minute)
	v.SetDefault("engine.nonce_used_ttl", time.Minute)
	v.SetDefault("engine.gas_refresh_interval", 5*time.Second)
	v.SetDefault("engine.gas_fetch_timeout", 3*time.Second)
	v.SetDefault("engine.gas_warm_schedule", "@every 5s")
	v.SetDefault("engine.confirmation_timeout", 2*time.Minute)
}

// ReadConfig loads <configName>.yaml from the working directory. Environment
// variables override file values, e.g. REDIS_HOST for redis.host.
func ReadConfig(configName string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(configName)
	v.AddConfigPath(".")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("fail to reading config file, %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %w", err)
	}
	return &cfg, nil
}
