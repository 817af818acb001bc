package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"rateScope/internal/chain"
	"rateScope/internal/dex"
)

const (
	// DefaultRPCTemplate builds the endpoint from the API key.
	DefaultRPCTemplate = "https://mainnet.infura.io/v3/%s"
	// MaxDrainTimeout keeps the per-poll drain far below the poll interval.
	MaxDrainTimeout = 100 * time.Millisecond
	maxProbeExp     = 30
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	APIKey        string
	RPCURL        string
	RPCTemplate   string
	Factory       string
	Pools         []string
	DBPath        string
	PollInterval  time.Duration
	DrainTimeout  time.Duration
	UnitTimeout   time.Duration
	QueueTimeout  time.Duration
	MaxConcurrent int
	ProbeMinExp   uint
	ProbeMaxExp   uint
	PinBlock      bool
	EnumBatchSize uint64
	EnumWorkers   int
	MaxRetries    int
	RetryBackoff  time.Duration
	Journal       string
	PGDSN         string
	MetricsAddr   string
	LogLevel      string
}

// Load merges an optional .env file, config file, environment variables,
// and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	envFile := ".env"
	if flags != nil && flags.Lookup("env-file") != nil {
		envFile, _ = flags.GetString("env-file")
	}
	if err := loadDotEnv(envFile); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("RATES")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// Names used by earlier deployments.
	for key, legacy := range map[string]string{
		"api-key":          "APIKEY",
		"db-path":          "DB_PATH",
		"poll-interval-ms": "POLL_INTERVAL_MS",
	} {
		envName := "RATES_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
		if err := v.BindEnv(key, envName, legacy); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	v.SetDefault("rpc-template", DefaultRPCTemplate)
	v.SetDefault("factory", dex.DefaultFactory)
	v.SetDefault("db-path", "./db")
	v.SetDefault("poll-interval-ms", 2000)
	v.SetDefault("drain-timeout", time.Millisecond)
	v.SetDefault("unit-timeout", 30*time.Second)
	v.SetDefault("queue-timeout", time.Duration(0))
	v.SetDefault("max-concurrent", 64)
	v.SetDefault("probe-min-exp", 0)
	v.SetDefault("probe-max-exp", 14)
	v.SetDefault("pin-block", false)
	v.SetDefault("enum-batch-size", uint64(100))
	v.SetDefault("enum-workers", 4)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		APIKey:        strings.TrimSpace(v.GetString("api-key")),
		RPCURL:        strings.TrimSpace(v.GetString("rpc")),
		RPCTemplate:   v.GetString("rpc-template"),
		Factory:       v.GetString("factory"),
		Pools:         getStringSlice(v, "pool"),
		DBPath:        v.GetString("db-path"),
		PollInterval:  time.Duration(v.GetInt64("poll-interval-ms")) * time.Millisecond,
		DrainTimeout:  v.GetDuration("drain-timeout"),
		UnitTimeout:   v.GetDuration("unit-timeout"),
		QueueTimeout:  v.GetDuration("queue-timeout"),
		MaxConcurrent: v.GetInt("max-concurrent"),
		ProbeMinExp:   v.GetUint("probe-min-exp"),
		ProbeMaxExp:   v.GetUint("probe-max-exp"),
		PinBlock:      v.GetBool("pin-block"),
		EnumBatchSize: v.GetUint64("enum-batch-size"),
		EnumWorkers:   v.GetInt("enum-workers"),
		MaxRetries:    v.GetInt("max-retries"),
		RetryBackoff:  v.GetDuration("retry-backoff"),
		Journal:       v.GetString("journal"),
		PGDSN:         v.GetString("pg-dsn"),
		MetricsAddr:   v.GetString("metrics-addr"),
		LogLevel:      v.GetString("log-level"),
	}

	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.APIKey == "" && c.RPCURL == "" {
		return fmt.Errorf("api key is required (set RATES_API_KEY, APIKEY or --rpc)")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.DrainTimeout <= 0 || c.DrainTimeout >= MaxDrainTimeout {
		return fmt.Errorf("drain timeout %s must be in (0, %s)", c.DrainTimeout, MaxDrainTimeout)
	}
	if c.ProbeMinExp > c.ProbeMaxExp {
		return fmt.Errorf("probe min exponent %d > max exponent %d", c.ProbeMinExp, c.ProbeMaxExp)
	}
	if c.ProbeMaxExp > maxProbeExp {
		return fmt.Errorf("probe max exponent %d exceeds %d", c.ProbeMaxExp, maxProbeExp)
	}
	if c.QueueTimeout < 0 {
		return fmt.Errorf("queue timeout must not be negative")
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max concurrent must be at least 1")
	}
	if _, err := c.FactoryAddress(); err != nil {
		return err
	}
	if _, err := c.PoolAddresses(); err != nil {
		return err
	}
	return nil
}

// RPCEndpoint returns the explicit RPC URL or builds one from the API key.
func (c Config) RPCEndpoint() (string, error) {
	if c.RPCURL != "" {
		return c.RPCURL, nil
	}
	return chain.EndpointURL(c.RPCTemplate, c.APIKey)
}

// FactoryAddress parses the configured factory.
func (c Config) FactoryAddress() (common.Address, error) {
	addrs, err := ParseAddresses([]string{c.Factory})
	if err != nil {
		return common.Address{}, fmt.Errorf("factory: %w", err)
	}
	if len(addrs) == 0 {
		return common.Address{}, fmt.Errorf("factory address is required")
	}
	return addrs[0], nil
}

// PoolAddresses parses the explicit pool list.
func (c Config) PoolAddresses() ([]common.Address, error) {
	return ParseAddresses(c.Pools)
}

// ParseAddresses converts string addresses into common.Address.
func ParseAddresses(inputs []string) ([]common.Address, error) {
	addresses := make([]common.Address, 0, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if !common.IsHexAddress(input) {
			return nil, fmt.Errorf("invalid address: %s", input)
		}
		addresses = append(addresses, common.HexToAddress(input))
	}
	return addresses, nil
}

func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
