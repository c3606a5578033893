// Package config loads the engine's configuration: a structured file
// (YAML or JSON, selected by extension) for the domain parameters spec.md
// §6 lists, plus .env-sourced secrets for exchange/bot credentials — kept
// as two separate sources because the teacher (loader.go) never put
// secrets in a checked-in file.
//
// Grounded on rustyeddy-trader/internal/config (Default/Validate/
// LoadFromFile/SaveToFile, sectioned Config struct, PriceStep-style small
// duration-parsing helper types) for the structured side, and the
// teacher's loader.go (godotenv.Load + os.Getenv with fallbacks) for the
// secrets side.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// MarketConfig names the traded symbol and the bar intervals the pipeline
// ingests (spec.md §6 symbol/intervals).
type MarketConfig struct {
	Symbol          string         `yaml:"symbol" json:"symbol"`
	Intervals       []string       `yaml:"intervals" json:"intervals"`
	WarmupBars      map[string]int `yaml:"warmup_bars" json:"warmup_bars"`
	BufferCapacity  map[string]int `yaml:"buffer_capacity" json:"buffer_capacity"`
}

// IndicatorConfig sizes the incremental EMA/RSI/MACD/ATR engines.
type IndicatorConfig struct {
	EMAFast    int `yaml:"ema_fast" json:"ema_fast"`
	EMASlow    int `yaml:"ema_slow" json:"ema_slow"`
	RSILength  int `yaml:"rsi_length" json:"rsi_length"`
	MACDFast   int `yaml:"macd_fast" json:"macd_fast"`
	MACDSlow   int `yaml:"macd_slow" json:"macd_slow"`
	MACDSignal int `yaml:"macd_signal" json:"macd_signal"`
	ATRLength  int `yaml:"atr_length" json:"atr_length"`
}

// StrategyConfig configures one instance of the reference trend+pullback
// strategy.
type StrategyConfig struct {
	ID                      string  `yaml:"id" json:"id"`
	HigherInterval          string  `yaml:"higher_interval" json:"higher_interval"`
	ExecInterval            string  `yaml:"exec_interval" json:"exec_interval"`
	TrendStrengthMin        float64 `yaml:"trend_strength_min" json:"trend_strength_min"`
	ATRStopMult             float64 `yaml:"atr_stop_mult" json:"atr_stop_mult"`
	CooldownAfterStop       int     `yaml:"cooldown_after_stop" json:"cooldown_after_stop"`
	RSILongLo               float64 `yaml:"rsi_long_lo" json:"rsi_long_lo"`
	RSILongHi               float64 `yaml:"rsi_long_hi" json:"rsi_long_hi"`
	RSIShortLo              float64 `yaml:"rsi_short_lo" json:"rsi_short_lo"`
	RSIShortHi              float64 `yaml:"rsi_short_hi" json:"rsi_short_hi"`
	RSISlopeRequired        bool    `yaml:"rsi_slope_required" json:"rsi_slope_required"`
	MaxPositionNotional     float64 `yaml:"max_position_notional" json:"max_position_notional"`
	MaxPositionPctEquity    float64 `yaml:"max_position_pct_equity" json:"max_position_pct_equity"`
	StructuralSwingLookback int     `yaml:"structural_swing_lookback" json:"structural_swing_lookback"`
}

// CapitalConfig configures each strategy's paper account.
type CapitalConfig struct {
	InitialCapital float64 `yaml:"initial_capital" json:"initial_capital"`
	MaxLeverage    int     `yaml:"max_leverage" json:"max_leverage"`
	FeeRate        float64 `yaml:"fee_rate" json:"fee_rate"`
	MaxDailyLoss   float64 `yaml:"max_daily_loss" json:"max_daily_loss"`
	MaxConsecutive int     `yaml:"max_consecutive_losses" json:"max_consecutive_losses"`
}

// MarginTierConfig is one row of the tiered maintenance-margin schedule.
type MarginTierConfig struct {
	NotionalCap float64 `yaml:"notional_cap" json:"notional_cap"`
	MMR         float64 `yaml:"mmr" json:"mmr"`
	MaintAmount float64 `yaml:"maint_amount" json:"maint_amount"`
}

// FundingConfig gates the optional periodic funding-ledger accrual.
type FundingConfig struct {
	Enabled  bool    `yaml:"enabled" json:"enabled"`
	Interval string  `yaml:"interval" json:"interval"` // parsed with time.ParseDuration
	RatePct  float64 `yaml:"rate_pct" json:"rate_pct"`
}

// AlertsConfig selects which alert transports are active; credentials for
// each come from the environment (TELEGRAM_BOT_TOKEN, serviceAccountKey.json),
// never from this file.
type AlertsConfig struct {
	TelegramEnabled bool `yaml:"telegram_enabled" json:"telegram_enabled"`
	PushEnabled     bool `yaml:"push_enabled" json:"push_enabled"`
}

// APIConfig configures the HTTP/WS surface.
type APIConfig struct {
	ListenAddr  string `yaml:"listen_addr" json:"listen_addr"`
	AuthEnabled bool   `yaml:"auth_enabled" json:"auth_enabled"`
}

// StorageConfig configures the Persistence DAO.
type StorageConfig struct {
	DBPath string `yaml:"db_path" json:"db_path"`
}

// Config is the structured, file-sourced side of the engine's
// configuration (spec.md §6).
type Config struct {
	Market     MarketConfig       `yaml:"market" json:"market"`
	Indicators IndicatorConfig    `yaml:"indicators" json:"indicators"`
	Strategies []StrategyConfig   `yaml:"strategies" json:"strategies"`
	Capital    CapitalConfig      `yaml:"capital" json:"capital"`
	MarginTiers []MarginTierConfig `yaml:"margin_tiers" json:"margin_tiers"`
	Funding    FundingConfig      `yaml:"funding" json:"funding"`
	Alerts     AlertsConfig       `yaml:"alerts" json:"alerts"`
	API        APIConfig          `yaml:"api" json:"api"`
	Storage    StorageConfig      `yaml:"storage" json:"storage"`
}

// Default returns the reference configuration: one trend+pullback instance
// on BTCUSDT, 15m execution / 1h permission filter.
func Default() *Config {
	return &Config{
		Market: MarketConfig{
			Symbol:         "BTCUSDT",
			Intervals:      []string{"15m", "1h"},
			WarmupBars:     map[string]int{"15m": 200, "1h": 200},
			BufferCapacity: map[string]int{"15m": 1000, "1h": 1000},
		},
		Indicators: IndicatorConfig{EMAFast: 9, EMASlow: 21, RSILength: 14, MACDFast: 12, MACDSlow: 26, MACDSignal: 9, ATRLength: 14},
		Strategies: []StrategyConfig{{
			ID: "trend_pullback_1", HigherInterval: "1h", ExecInterval: "15m",
			TrendStrengthMin: 0.003, ATRStopMult: 1.5, CooldownAfterStop: 4,
			RSILongLo: 40, RSILongHi: 60, RSIShortLo: 40, RSIShortHi: 60, RSISlopeRequired: true,
			MaxPositionNotional: 5000, MaxPositionPctEquity: 0.5, StructuralSwingLookback: 20,
		}},
		Capital: CapitalConfig{InitialCapital: 10_000, MaxLeverage: 10, FeeRate: 0.0004, MaxDailyLoss: 500, MaxConsecutive: 4},
		MarginTiers: []MarginTierConfig{
			{NotionalCap: 50_000, MMR: 0.004, MaintAmount: 0},
			{NotionalCap: 250_000, MMR: 0.005, MaintAmount: 50},
			{NotionalCap: 1_000_000, MMR: 0.01, MaintAmount: 1300},
		},
		Funding: FundingConfig{Enabled: false, Interval: "8h", RatePct: 0.0001},
		Alerts:  AlertsConfig{TelegramEnabled: true, PushEnabled: false},
		API:     APIConfig{ListenAddr: ":8080", AuthEnabled: false},
		Storage: StorageConfig{DBPath: "papertrade.db"},
	}
}

// Validate checks the invariants the pipeline wiring assumes hold.
func (c *Config) Validate() error {
	if c.Market.Symbol == "" {
		return fmt.Errorf("market.symbol is required")
	}
	if len(c.Market.Intervals) == 0 {
		return fmt.Errorf("market.intervals must not be empty")
	}
	if len(c.Strategies) == 0 {
		return fmt.Errorf("at least one strategy must be configured")
	}
	if c.Capital.InitialCapital <= 0 {
		return fmt.Errorf("capital.initial_capital must be positive")
	}
	if c.Capital.FeeRate < 0 {
		return fmt.Errorf("capital.fee_rate must not be negative")
	}
	seen := map[string]bool{}
	for _, s := range c.Strategies {
		if s.ID == "" {
			return fmt.Errorf("strategy id is required")
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate strategy id %q", s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

// LoadFromFile reads a Config from a .yaml/.yml or .json file.
func LoadFromFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, cfg)
	case ".json":
		err = json.Unmarshal(raw, cfg)
	default:
		return nil, fmt.Errorf("unsupported config extension %q", ext)
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveToFile writes a Config back out, format chosen by extension.
func (c *Config) SaveToFile(path string) error {
	var raw []byte
	var err error
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		raw, err = yaml.Marshal(c)
	case ".json":
		raw, err = json.MarshalIndent(c, "", "  ")
	default:
		return fmt.Errorf("unsupported config extension %q", ext)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0644)
}

// Secrets holds the .env-sourced credentials the teacher's loader.go read
// directly from the environment; these never live in the structured file.
type Secrets struct {
	BinanceAPIKey    string
	BinanceAPISecret string
	TelegramToken    string
	TelegramChatID   int64
}

// LoadSecrets loads .env (if present) then reads the credential
// environment variables, exactly as loader.go's LoadConfig did.
func LoadSecrets() *Secrets {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "config: .env file not found, relying on system environment variables")
	}

	apiKey := os.Getenv("BINANCE_API_KEY")
	apiSecret := os.Getenv("BINANCE_API_SECRET")
	if apiSecret == "" {
		apiSecret = os.Getenv("BINANCE_SECRET_KEY")
	}
	if apiKey == "" || apiSecret == "" {
		fmt.Fprintln(os.Stderr, "config: Binance credentials missing")
	}

	var chatID int64
	if raw := os.Getenv("TELEGRAM_CHAT_ID"); raw != "" {
		chatID, _ = strconv.ParseInt(raw, 10, 64)
	}

	return &Secrets{
		BinanceAPIKey:    apiKey,
		BinanceAPISecret: apiSecret,
		TelegramToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   chatID,
	}
}
