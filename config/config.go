package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/market/strategies"
	"gopkg.in/yaml.v3"
)

// Config is the complete bot configuration. It is loaded once at startup
// and treated as read-only afterwards.
type Config struct {
	Account   AccountConfig   `json:"account" yaml:"account"`
	Safety    SafetyConfig    `json:"safety" yaml:"safety"`
	Sizing    SizingConfig    `json:"sizing" yaml:"sizing"`
	Broker    BrokerConfig    `json:"broker" yaml:"broker"`
	Execution ExecutionConfig `json:"execution" yaml:"execution"`
	Scan      ScanConfig      `json:"scan" yaml:"scan"`
	Reconcile ReconcileConfig `json:"reconcile" yaml:"reconcile"`
	Webhook   WebhookConfig   `json:"webhook" yaml:"webhook"`
	Journal   JournalConfig   `json:"journal" yaml:"journal"`
	Stats     StatsConfig     `json:"stats" yaml:"stats"`
	Log       LogConfig       `json:"log" yaml:"log"`
}

type AccountConfig struct {
	Currency string `json:"currency" yaml:"currency"`
	Timezone string `json:"timezone" yaml:"timezone"` // trading-day boundary
}

// SafetyConfig holds the risk limits. Fractions are of account balance.
type SafetyConfig struct {
	MaxRiskPerTrade         float64 `json:"max_risk_per_trade" yaml:"max_risk_per_trade"`
	MaxDailyRisk            float64 `json:"max_daily_risk" yaml:"max_daily_risk"`
	MaxDailyDrawdown        float64 `json:"max_daily_drawdown" yaml:"max_daily_drawdown"`
	MaxConsecutiveLosses    int     `json:"max_consecutive_losses" yaml:"max_consecutive_losses"`
	MaxConcurrentTrades     int     `json:"max_concurrent_trades" yaml:"max_concurrent_trades"`
	MaxTradesPerDay         int     `json:"max_trades_per_day" yaml:"max_trades_per_day"`
	MinConfidence           float64 `json:"min_confidence" yaml:"min_confidence"`
	MinRiskReward           float64 `json:"min_risk_reward" yaml:"min_risk_reward"`
	MinTrendStrength        float64 `json:"min_trend_strength" yaml:"min_trend_strength"`
	MinAccountBalance       float64 `json:"min_account_balance" yaml:"min_account_balance"`
	EmergencyStopDrawdown   float64 `json:"emergency_stop_drawdown" yaml:"emergency_stop_drawdown"`
	WarningDrawdown         float64 `json:"warning_drawdown" yaml:"warning_drawdown"`
	ThrottleSizeFactor      float64 `json:"throttle_size_factor" yaml:"throttle_size_factor"`
	ThrottleConfidenceBoost float64 `json:"throttle_confidence_boost" yaml:"throttle_confidence_boost"`
	CloseAllOnHalt          bool    `json:"close_all_on_halt" yaml:"close_all_on_halt"`
}

// SizingConfig is expressed in standard lots.
type SizingConfig struct {
	LotIncrement float64 `json:"lot_increment" yaml:"lot_increment"`
	MinLots      float64 `json:"min_lots" yaml:"min_lots"`
	MaxLots      float64 `json:"max_lots" yaml:"max_lots"`
}

type BrokerConfig struct {
	Type        string      `json:"type" yaml:"type"` // "sim" or "oanda"
	AccountID   string      `json:"account_id,omitempty" yaml:"account_id,omitempty"`
	Token       string      `json:"token,omitempty" yaml:"token,omitempty"`
	Practice    bool        `json:"practice" yaml:"practice"`
	BaseURL     string      `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	CallTimeout string      `json:"call_timeout" yaml:"call_timeout"`
	Retry       RetryConfig `json:"retry" yaml:"retry"`
	Sim         SimConfig   `json:"sim" yaml:"sim"`
}

type RetryConfig struct {
	MaxAttempts    int     `json:"max_attempts" yaml:"max_attempts"`
	InitialBackoff string  `json:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff     string  `json:"max_backoff" yaml:"max_backoff"`
	Multiplier     float64 `json:"multiplier" yaml:"multiplier"`
}

type SimConfig struct {
	Balance    float64 `json:"balance" yaml:"balance"`
	SpreadPips float64 `json:"spread_pips" yaml:"spread_pips"`
}

type ExecutionConfig struct {
	Scorer            string  `json:"scorer" yaml:"scorer"` // "static" or "trend"
	DefaultConfidence float64 `json:"default_confidence" yaml:"default_confidence"`
}

type ScanConfig struct {
	Enabled     bool     `json:"enabled" yaml:"enabled"`
	Interval    string   `json:"interval" yaml:"interval"`
	Instruments []string `json:"instruments" yaml:"instruments"`
	Strategy    string   `json:"strategy" yaml:"strategy"`
	Granularity string   `json:"granularity" yaml:"granularity"`
	Candles     int      `json:"candles" yaml:"candles"`
	StopATR     float64  `json:"stop_atr" yaml:"stop_atr"`
	TargetRR    float64  `json:"target_rr" yaml:"target_rr"`
	Concurrency int      `json:"concurrency" yaml:"concurrency"`
}

type ReconcileConfig struct {
	Interval    string `json:"interval" yaml:"interval"`
	OrphanGrace string `json:"orphan_grace" yaml:"orphan_grace"`
}

type WebhookConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
	Secret  string `json:"secret,omitempty" yaml:"secret,omitempty"`
}

type JournalConfig struct {
	Type       string `json:"type" yaml:"type"` // "sqlite", "csv" or "none"
	DBPath     string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	CSVPath    string `json:"csv_path,omitempty" yaml:"csv_path,omitempty"`
	BufferSize int    `json:"buffer_size" yaml:"buffer_size"`
}

type StatsConfig struct {
	Dir       string `json:"dir" yaml:"dir"`
	MaxAlerts int    `json:"max_alerts" yaml:"max_alerts"`
}

type LogConfig struct {
	Level      string `json:"level" yaml:"level"`
	Format     string `json:"format" yaml:"format"`
	File       string `json:"file,omitempty" yaml:"file,omitempty"`
	MaxSize    int    `json:"max_size" yaml:"max_size"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAge     int    `json:"max_age" yaml:"max_age"`
	Compress   bool   `json:"compress" yaml:"compress"`
}

func (b BrokerConfig) Timeout() time.Duration { return mustDuration(b.CallTimeout) }

func (r RetryConfig) Initial() time.Duration { return mustDuration(r.InitialBackoff) }
func (r RetryConfig) Max() time.Duration     { return mustDuration(r.MaxBackoff) }

func (s ScanConfig) Every() time.Duration { return mustDuration(s.Interval) }

func (r ReconcileConfig) Every() time.Duration { return mustDuration(r.Interval) }
func (r ReconcileConfig) Grace() time.Duration { return mustDuration(r.OrphanGrace) }

// Location returns the trading-day time zone.
func (a AccountConfig) Location() *time.Location {
	if a.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// mustDuration is only called on validated configs.
func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// LoadFromFile loads configuration from a file (JSON or YAML based on
// extension). Unknown keys are rejected.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if isJSON(path) {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.expandEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if isJSON(path) {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

var envRef = regexp.MustCompile(`\$\{(\w+)\}`)

func expand(val string) string {
	return envRef.ReplaceAllStringFunc(val, func(match string) string {
		return os.Getenv(strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}"))
	})
}

func (c *Config) expandEnv() {
	c.Broker.Token = expand(c.Broker.Token)
	c.Broker.AccountID = expand(c.Broker.AccountID)
	c.Webhook.Secret = expand(c.Webhook.Secret)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Account.Currency == "" {
		return fmt.Errorf("account.currency is required")
	}
	if c.Account.Timezone != "" {
		if _, err := time.LoadLocation(c.Account.Timezone); err != nil {
			return fmt.Errorf("account.timezone: %w", err)
		}
	}
	if err := c.Safety.Validate(); err != nil {
		return err
	}

	s := c.Sizing
	if s.LotIncrement <= 0 {
		return fmt.Errorf("sizing.lot_increment must be positive")
	}
	if s.MinLots < s.LotIncrement {
		return fmt.Errorf("sizing.min_lots must be >= lot_increment")
	}
	if s.MaxLots < s.MinLots {
		return fmt.Errorf("sizing.max_lots must be >= min_lots")
	}

	switch c.Broker.Type {
	case "sim":
		if c.Broker.Sim.Balance <= 0 {
			return fmt.Errorf("broker.sim.balance must be positive")
		}
	case "oanda":
		if c.Broker.Token == "" || c.Broker.AccountID == "" {
			return fmt.Errorf("broker token and account_id required for oanda")
		}
	default:
		return fmt.Errorf("broker.type must be 'sim' or 'oanda'")
	}
	if err := positiveDuration("broker.call_timeout", c.Broker.CallTimeout); err != nil {
		return err
	}
	r := c.Broker.Retry
	if r.MaxAttempts < 1 {
		return fmt.Errorf("broker.retry.max_attempts must be >= 1")
	}
	if err := positiveDuration("broker.retry.initial_backoff", r.InitialBackoff); err != nil {
		return err
	}
	if err := positiveDuration("broker.retry.max_backoff", r.MaxBackoff); err != nil {
		return err
	}
	if r.Multiplier < 1 {
		return fmt.Errorf("broker.retry.multiplier must be >= 1")
	}

	switch c.Execution.Scorer {
	case "static", "trend":
	default:
		return fmt.Errorf("execution.scorer must be 'static' or 'trend'")
	}
	if c.Execution.DefaultConfidence < 0 || c.Execution.DefaultConfidence > 1 {
		return fmt.Errorf("execution.default_confidence must be between 0 and 1")
	}

	if c.Scan.Enabled {
		if err := positiveDuration("scan.interval", c.Scan.Interval); err != nil {
			return err
		}
		if len(c.Scan.Instruments) == 0 {
			return fmt.Errorf("scan.instruments is required when scan is enabled")
		}
		for _, inst := range c.Scan.Instruments {
			if _, err := market.Lookup(inst); err != nil {
				return fmt.Errorf("scan.instruments: %w", err)
			}
		}
		if _, err := strategies.New(c.Scan.Strategy); err != nil {
			return fmt.Errorf("scan.strategy: %w", err)
		}
		if c.Scan.StopATR <= 0 || c.Scan.TargetRR <= 0 {
			return fmt.Errorf("scan.stop_atr and scan.target_rr must be positive")
		}
		if c.Scan.Candles < 50 {
			return fmt.Errorf("scan.candles must be >= 50")
		}
	}

	if err := positiveDuration("reconcile.interval", c.Reconcile.Interval); err != nil {
		return err
	}
	if err := positiveDuration("reconcile.orphan_grace", c.Reconcile.OrphanGrace); err != nil {
		return err
	}

	if c.Webhook.Enabled && c.Webhook.Addr == "" {
		return fmt.Errorf("webhook.addr is required when webhook is enabled")
	}

	switch c.Journal.Type {
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal db_path required for SQLite type")
		}
	case "csv":
		if c.Journal.CSVPath == "" {
			return fmt.Errorf("journal csv_path required for CSV type")
		}
	case "none":
	default:
		return fmt.Errorf("journal.type must be 'sqlite', 'csv' or 'none'")
	}

	if c.Stats.Dir == "" {
		return fmt.Errorf("stats.dir is required")
	}
	return nil
}

// Validate checks the risk limits on their own so they can be reused by
// callers that build a SafetyConfig in code.
func (s SafetyConfig) Validate() error {
	fractions := []struct {
		name string
		v    float64
	}{
		{"max_risk_per_trade", s.MaxRiskPerTrade},
		{"max_daily_risk", s.MaxDailyRisk},
		{"max_daily_drawdown", s.MaxDailyDrawdown},
		{"emergency_stop_drawdown", s.EmergencyStopDrawdown},
		{"throttle_size_factor", s.ThrottleSizeFactor},
	}
	for _, f := range fractions {
		if f.v <= 0 || f.v > 1 {
			return fmt.Errorf("safety.%s must be between 0 and 1", f.name)
		}
	}
	if s.MaxRiskPerTrade > s.MaxDailyRisk {
		return fmt.Errorf("safety.max_risk_per_trade must not exceed max_daily_risk")
	}
	if s.WarningDrawdown < 0 || s.WarningDrawdown >= s.MaxDailyDrawdown {
		return fmt.Errorf("safety.warning_drawdown must be below max_daily_drawdown")
	}
	if s.MaxConsecutiveLosses < 1 || s.MaxConcurrentTrades < 1 || s.MaxTradesPerDay < 1 {
		return fmt.Errorf("safety trade count limits must be >= 1")
	}
	if s.MinConfidence < 0 || s.MinConfidence > 1 {
		return fmt.Errorf("safety.min_confidence must be between 0 and 1")
	}
	if s.ThrottleConfidenceBoost < 0 || s.MinConfidence+s.ThrottleConfidenceBoost > 1 {
		return fmt.Errorf("safety.throttle_confidence_boost must keep min_confidence <= 1")
	}
	if s.MinRiskReward < 0 || s.MinTrendStrength < 0 || s.MinAccountBalance < 0 {
		return fmt.Errorf("safety minimums must not be negative")
	}
	return nil
}

func positiveDuration(name, s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive", name)
	}
	return nil
}

// Default returns a configuration with sensible defaults for a small
// practice account running against the simulated broker.
func Default() *Config {
	return &Config{
		Account: AccountConfig{
			Currency: "USD",
			Timezone: "UTC",
		},
		Safety: DefaultSafety(),
		Sizing: SizingConfig{
			LotIncrement: 0.01,
			MinLots:      0.01,
			MaxLots:      5,
		},
		Broker: BrokerConfig{
			Type:        "sim",
			Practice:    true,
			CallTimeout: "10s",
			Retry: RetryConfig{
				MaxAttempts:    3,
				InitialBackoff: "250ms",
				MaxBackoff:     "5s",
				Multiplier:     2,
			},
			Sim: SimConfig{
				Balance:    1000,
				SpreadPips: 1,
			},
		},
		Execution: ExecutionConfig{
			Scorer:            "static",
			DefaultConfidence: 0.5,
		},
		Scan: ScanConfig{
			Enabled:     false,
			Interval:    "5m",
			Instruments: []string{"EUR_USD", "GBP_USD", "USD_JPY"},
			Strategy:    "ema_cross_adx",
			Granularity: "M15",
			Candles:     200,
			StopATR:     1.5,
			TargetRR:    2.5,
			Concurrency: 4,
		},
		Reconcile: ReconcileConfig{
			Interval:    "15s",
			OrphanGrace: "2m",
		},
		Webhook: WebhookConfig{
			Enabled: true,
			Addr:    ":8080",
		},
		Journal: JournalConfig{
			Type:       "sqlite",
			DBPath:     "./trader.sqlite",
			BufferSize: 256,
		},
		Stats: StatsConfig{
			Dir:       "./stats",
			MaxAlerts: 20,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     30,
		},
	}
}

func DefaultSafety() SafetyConfig {
	return SafetyConfig{
		MaxRiskPerTrade:         0.02,
		MaxDailyRisk:            0.06,
		MaxDailyDrawdown:        0.05,
		MaxConsecutiveLosses:    3,
		MaxConcurrentTrades:     3,
		MaxTradesPerDay:         5,
		MinConfidence:           0.70,
		MinRiskReward:           2.0,
		MinTrendStrength:        20,
		MinAccountBalance:       100,
		EmergencyStopDrawdown:   0.25,
		WarningDrawdown:         0.03,
		ThrottleSizeFactor:      0.5,
		ThrottleConfidenceBoost: 0.1,
		CloseAllOnHalt:          true,
	}
}
