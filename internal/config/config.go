package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tendrel/signalforge/internal/risk"
)

// Config is the root configuration for the decision service.
type Config struct {
	Environment string         `mapstructure:"environment"`
	LogLevel    string         `mapstructure:"log_level"`
	Server      ServerConfig   `mapstructure:"server"`
	Database    DatabaseConfig `mapstructure:"database"`
	Redis       RedisConfig    `mapstructure:"redis"`
	Sentry      SentryConfig   `mapstructure:"sentry"`
	Market      MarketConfig   `mapstructure:"market"`
	Trading     TradingConfig  `mapstructure:"trading"`
	Learning    LearningConfig `mapstructure:"learning"`
}

// MarketConfig points at the market-data sidecar.
type MarketConfig struct {
	ServiceURL string        `mapstructure:"service_url"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"ssl_mode"`
	DatabaseURL     string `mapstructure:"database_url"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
	SQLitePath      string `mapstructure:"sqlite_path"`
}

// ConnectionString builds a postgres DSN unless an explicit URL is set.
func (c DatabaseConfig) ConnectionString() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type SentryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// TradingConfig carries the tunables of the decision and risk layers.
// The defaults intentionally sit mid-range; deployments tune them per
// market.
type TradingConfig struct {
	Symbols               []string      `mapstructure:"symbols"`
	RiskPercentPerTrade   float64       `mapstructure:"risk_percent_per_trade"`
	MinScoreGap           float64       `mapstructure:"min_score_gap"`
	HighVolScoreGap       float64       `mapstructure:"high_vol_score_gap"`
	HighVolThreshold      float64       `mapstructure:"high_vol_threshold"`
	TakeProfitMultipliers []float64     `mapstructure:"take_profit_multipliers"`
	DecisionCyclePeriod   time.Duration `mapstructure:"decision_cycle_period"`
	OutcomeCyclePeriod    time.Duration `mapstructure:"outcome_cycle_period"`
	MaxSignalsRetained    int           `mapstructure:"max_signals_retained"`
}

type LearningConfig struct {
	AggregationPeriod   time.Duration `mapstructure:"aggregation_period"`
	MinRuleObservations int           `mapstructure:"min_rule_observations"`
	RuleDecayThreshold  float64       `mapstructure:"rule_decay_threshold"`
	AvoidWinRate        float64       `mapstructure:"avoid_win_rate"`
	AvoidMinTrades      int           `mapstructure:"avoid_min_trades"`
}

// Load reads configuration from config.yaml (working directory or
// /etc/signalforge) with SIGNALFORGE_* environment overrides.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/signalforge")

	v.SetEnvPrefix("SIGNALFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Missing file is fine, defaults plus env carry the service.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the core cannot run with.
func (c *Config) Validate() error {
	if c.Trading.RiskPercentPerTrade <= 0 || c.Trading.RiskPercentPerTrade > 0.1 {
		return fmt.Errorf("trading.risk_percent_per_trade must be in (0, 0.1], got %v", c.Trading.RiskPercentPerTrade)
	}
	if len(c.Trading.TakeProfitMultipliers) != 3 {
		return fmt.Errorf("trading.take_profit_multipliers must have exactly 3 entries, got %d", len(c.Trading.TakeProfitMultipliers))
	}
	last := 0.0
	for i, m := range c.Trading.TakeProfitMultipliers {
		if m <= last {
			return fmt.Errorf("trading.take_profit_multipliers must be strictly increasing, entry %d is %v", i, m)
		}
		last = m
	}
	if c.Trading.TakeProfitMultipliers[0] < risk.MinRiskReward {
		// A first multiplier below the reward floor would force the
		// ladder calculator to rescale every signal's take-profits.
		return fmt.Errorf("trading.take_profit_multipliers[0] must be >= %v, got %v",
			risk.MinRiskReward, c.Trading.TakeProfitMultipliers[0])
	}
	if c.Trading.MinScoreGap <= 0 {
		return fmt.Errorf("trading.min_score_gap must be positive, got %v", c.Trading.MinScoreGap)
	}
	if c.Trading.HighVolScoreGap < c.Trading.MinScoreGap {
		return fmt.Errorf("trading.high_vol_score_gap must be >= min_score_gap")
	}
	if c.Trading.HighVolThreshold <= 0 {
		return fmt.Errorf("trading.high_vol_threshold must be positive, got %v", c.Trading.HighVolThreshold)
	}
	if c.Trading.DecisionCyclePeriod <= 0 || c.Trading.OutcomeCyclePeriod <= 0 {
		return fmt.Errorf("trading cycle periods must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "change-me-in-production")
	v.SetDefault("database.dbname", "signalforge")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "300s")
	v.SetDefault("database.sqlite_path", "data/signalforge.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")

	v.SetDefault("market.service_url", "http://localhost:3001")
	v.SetDefault("market.api_key", "")
	v.SetDefault("market.timeout", 30*time.Second)

	v.SetDefault("trading.symbols", []string{"XAUUSD", "EURUSD", "GBPUSD", "BTCUSD"})
	v.SetDefault("trading.risk_percent_per_trade", 0.02)
	v.SetDefault("trading.min_score_gap", 3.0)
	v.SetDefault("trading.high_vol_score_gap", 5.0)
	v.SetDefault("trading.high_vol_threshold", 0.03)
	v.SetDefault("trading.take_profit_multipliers", []float64{2.0, 3.0, 4.0})
	v.SetDefault("trading.decision_cycle_period", 15*time.Minute)
	v.SetDefault("trading.outcome_cycle_period", time.Minute)
	v.SetDefault("trading.max_signals_retained", 200)

	v.SetDefault("learning.aggregation_period", 10*time.Minute)
	v.SetDefault("learning.min_rule_observations", 3)
	v.SetDefault("learning.rule_decay_threshold", 0.2)
	v.SetDefault("learning.avoid_win_rate", 0.3)
	v.SetDefault("learning.avoid_min_trades", 10)
}
