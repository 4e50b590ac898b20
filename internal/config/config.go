// Package config loads the tradelab configuration from YAML with .env and
// environment variable overrides, and converts it into the option structs of
// the engine, the cost model and the strategies.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"tradelab/internal/broker"
	"tradelab/internal/domain"
	"tradelab/internal/engine"
	"tradelab/internal/strategy"
)

// EnvPath names the environment variable holding the config file path.
const EnvPath = "TRADELAB_CONFIG"

// DefaultPath is used when EnvPath is unset.
const DefaultPath = "config/tradelab.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for tradelab.
type Config struct {
	Storage     Storage               `yaml:"storage"`
	Server      Server                `yaml:"server"`
	Logging     Logging               `yaml:"logging"`
	Backtest    Backtest              `yaml:"backtest"`
	Strategy    Strategy              `yaml:"strategy"`
	Instruments map[string]Instrument `yaml:"instruments"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Backtest holds the account and execution cost settings of a run.
type Backtest struct {
	InitialCapital float64 `yaml:"initial_capital"`
	Commission     float64 `yaml:"commission"`
	CommissionPct  float64 `yaml:"commission_pct"`
	SlippagePct    float64 `yaml:"slippage_pct"`
	Leverage       float64 `yaml:"leverage"`
	MarginUsage    float64 `yaml:"margin_usage"`
	UseSpread      bool    `yaml:"use_spread"`
	RiskFreeRate   float64 `yaml:"risk_free_rate"`
}

// Strategy selects the default strategy and its risk settings. Params
// applies to the strategy called Name; Overrides holds parameters for any
// other strategy keyed by name.
type Strategy struct {
	Name            string                    `yaml:"name"`
	RiskPerTrade    float64                   `yaml:"risk_per_trade"`
	UseTrailingStop bool                      `yaml:"use_trailing_stop"`
	TrailingStopPct float64                   `yaml:"trailing_stop_pct"`
	RiskReward      float64                   `yaml:"risk_reward"`
	FixedStopPct    float64                   `yaml:"fixed_stop_pct"`
	Params          map[string]any            `yaml:"params"`
	Overrides       map[string]map[string]any `yaml:"overrides"`
}

// Instrument holds the broker metadata of one symbol.
type Instrument struct {
	Point        float64 `yaml:"point"`
	ContractSize float64 `yaml:"contract_size"`
	Spread       float64 `yaml:"spread"`
	VolumeMin    float64 `yaml:"volume_min"`
	VolumeMax    float64 `yaml:"volume_max"`
	VolumeStep   float64 `yaml:"volume_step"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns the built-in configuration.
func Default() *Config {
	risk := strategy.DefaultRiskParams()
	return &Config{
		Storage: Storage{
			DataDir:    "data",
			SQLitePath: "data/tradelab.db",
		},
		Server: Server{
			Host:     "0.0.0.0",
			Port:     8080,
			GRPCPort: 9090,
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
		Backtest: Backtest{
			InitialCapital: 10000,
			SlippagePct:    0.01,
			Leverage:       100,
			MarginUsage:    0.9,
			UseSpread:      true,
		},
		Strategy: Strategy{
			Name:            "ma_cross",
			RiskPerTrade:    risk.RiskPerTrade,
			UseTrailingStop: risk.UseTrailingStop,
			TrailingStopPct: risk.TrailingStopPct,
			RiskReward:      risk.RiskReward,
			FixedStopPct:    risk.FixedStopPct,
		},
	}
}

// Path returns the config file path from TRADELAB_CONFIG, or DefaultPath.
func Path() string {
	if v := os.Getenv(EnvPath); v != "" {
		return v
	}
	return DefaultPath
}

// Load builds the configuration from the defaults, the YAML file at path, a
// .env file in the working directory if present, and TRADELAB_*
// environment variables, in increasing order of precedence. A missing YAML
// file leaves the defaults in place.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("TRADELAB_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("TRADELAB_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("TRADELAB_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	floats := []struct {
		key string
		dst *float64
	}{
		{"TRADELAB_INITIAL_CAPITAL", &cfg.Backtest.InitialCapital},
		{"TRADELAB_SLIPPAGE_PCT", &cfg.Backtest.SlippagePct},
	}
	for _, f := range floats {
		v := os.Getenv(f.key)
		if v == "" {
			continue
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", f.key, err)
		}
		*f.dst = n
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"TRADELAB_HTTP_PORT", &cfg.Server.Port},
		{"TRADELAB_GRPC_PORT", &cfg.Server.GRPCPort},
	}
	for _, i := range ints {
		v := os.Getenv(i.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", i.key, err)
		}
		*i.dst = n
	}
	return nil
}

// Validate reports every out-of-range setting in one error.
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}
	b := c.Backtest
	check(b.InitialCapital > 0, "backtest.initial_capital %v must be positive", b.InitialCapital)
	check(b.Leverage > 0, "backtest.leverage %v must be positive", b.Leverage)
	check(b.MarginUsage > 0 && b.MarginUsage <= 1, "backtest.margin_usage %v must be in (0, 1]", b.MarginUsage)
	check(b.Commission >= 0, "backtest.commission %v must not be negative", b.Commission)
	check(b.CommissionPct >= 0, "backtest.commission_pct %v must not be negative", b.CommissionPct)
	check(b.SlippagePct >= 0, "backtest.slippage_pct %v must not be negative", b.SlippagePct)

	s := c.Strategy
	check(s.RiskPerTrade > 0 && s.RiskPerTrade <= 1, "strategy.risk_per_trade %v must be in (0, 1]", s.RiskPerTrade)
	check(s.TrailingStopPct >= 0, "strategy.trailing_stop_pct %v must not be negative", s.TrailingStopPct)
	check(s.FixedStopPct >= 0, "strategy.fixed_stop_pct %v must not be negative", s.FixedStopPct)
	check(s.RiskReward >= 0, "strategy.risk_reward %v must not be negative", s.RiskReward)

	for sym, inst := range c.Instruments {
		check(inst.toDomain(sym).Valid(), "instruments.%s: point, contract_size and volume limits must be positive", sym)
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

// EngineConfig returns the account settings of a simulation.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		InitialCapital: c.Backtest.InitialCapital,
		Leverage:       c.Backtest.Leverage,
		MarginUsage:    c.Backtest.MarginUsage,
	}
}

// CostConfig returns the execution cost settings.
func (c *Config) CostConfig() broker.CostConfig {
	return broker.CostConfig{
		Commission:    c.Backtest.Commission,
		CommissionPct: c.Backtest.CommissionPct,
		SlippagePct:   c.Backtest.SlippagePct,
		UseSpread:     c.Backtest.UseSpread,
	}
}

// BacktestConfig returns the full run configuration for a Backtester.
func (c *Config) BacktestConfig() strategy.Config {
	return strategy.Config{
		Engine:       c.EngineConfig(),
		Costs:        c.CostConfig(),
		RiskFreeRate: c.Backtest.RiskFreeRate,
	}
}

// RiskParams returns the shared strategy risk settings. Fields not exposed
// in the config keep their defaults.
func (c *Config) RiskParams() strategy.RiskParams {
	risk := strategy.DefaultRiskParams()
	risk.RiskPerTrade = c.Strategy.RiskPerTrade
	risk.UseTrailingStop = c.Strategy.UseTrailingStop
	risk.TrailingStopPct = c.Strategy.TrailingStopPct
	risk.RiskReward = c.Strategy.RiskReward
	risk.FixedStopPct = c.Strategy.FixedStopPct
	return risk
}

// StrategyParams returns the configured parameters keyed by strategy name.
func (c *Config) StrategyParams() map[string]strategy.Params {
	out := make(map[string]strategy.Params, len(c.Strategy.Overrides)+1)
	for name, p := range c.Strategy.Overrides {
		out[name] = strategy.Params(p)
	}
	if c.Strategy.Name != "" && c.Strategy.Params != nil {
		out[c.Strategy.Name] = strategy.Params(c.Strategy.Params)
	}
	return out
}

// Instrument returns the metadata configured for symbol, or nil so that the
// simulation falls back to the default instrument.
func (c *Config) Instrument(symbol string) *domain.InstrumentInfo {
	inst, ok := c.Instruments[symbol]
	if !ok {
		inst, ok = c.Instruments[strings.ToUpper(symbol)]
	}
	if !ok {
		return nil
	}
	info := inst.toDomain(symbol)
	return &info
}

func (i Instrument) toDomain(symbol string) domain.InstrumentInfo {
	return domain.InstrumentInfo{
		Symbol:       symbol,
		Point:        i.Point,
		ContractSize: i.ContractSize,
		Spread:       i.Spread,
		VolumeMin:    i.VolumeMin,
		VolumeMax:    i.VolumeMax,
		VolumeStep:   i.VolumeStep,
	}
}
