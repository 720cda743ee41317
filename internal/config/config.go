package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the static risk-limits document. It is loaded once at startup;
// editing the backing file requires a restart.
type Config struct {
	HTTPAddr string `yaml:"http_addr"`

	Capital struct {
		InitialCapital float64 `yaml:"initial_capital"`
		CurrentEquity  float64 `yaml:"current_equity"`
	} `yaml:"capital"`

	PositionLimits struct {
		MaxPositionSize  int     `yaml:"max_position_size"`  // shares per symbol
		MaxPositionValue float64 `yaml:"max_position_value"` // exposure per symbol
		PerSymbol        map[string]struct {
			MaxPositionSize  int     `yaml:"max_position_size"`
			MaxPositionValue float64 `yaml:"max_position_value"`
		} `yaml:"per_symbol"`
	} `yaml:"position_limits"`

	PortfolioLimits struct {
		MaxTotalExposure float64 `yaml:"max_total_exposure"`
	} `yaml:"portfolio_limits"`

	LossLimits struct {
		MaxDailyLoss  float64 `yaml:"max_daily_loss"` // lockdown threshold
		DefensiveLoss float64 `yaml:"defensive_loss"` // defensive threshold
	} `yaml:"loss_limits"`

	Drawdown struct {
		DefensiveThreshold float64 `yaml:"defensive_threshold"` // fraction, e.g. 0.05
		LockdownThreshold  float64 `yaml:"lockdown_threshold"`
	} `yaml:"drawdown"`

	Frequency struct {
		MaxTradesPerSymbol int `yaml:"max_trades_per_symbol"` // per day
		MaxTradesPerMinute int `yaml:"max_trades_per_minute"`
		WindowSize         int `yaml:"window_size"` // recent-timestamp ring capacity
	} `yaml:"frequency"`

	BuyingPower struct {
		MaxLeverage float64 `yaml:"max_leverage"`
	} `yaml:"buying_power"`

	Evaluation struct {
		TimeoutMs int `yaml:"timeout_ms"` // per-batch evaluator deadline
	} `yaml:"evaluation"`

	Reconcile struct {
		IntervalSeconds int `yaml:"interval_seconds"`
	} `yaml:"reconcile"`

	Persistence struct {
		IntervalSeconds int `yaml:"interval_seconds"`
	} `yaml:"persistence"`
}

// SymbolLimits resolves the position caps for a symbol, falling back to the
// global defaults when no per-symbol override exists.
func (c *Config) SymbolLimits(symbol string) (maxSize int, maxValue float64) {
	maxSize = c.PositionLimits.MaxPositionSize
	maxValue = c.PositionLimits.MaxPositionValue
	if o, ok := c.PositionLimits.PerSymbol[symbol]; ok {
		if o.MaxPositionSize > 0 {
			maxSize = o.MaxPositionSize
		}
		if o.MaxPositionValue > 0 {
			maxValue = o.MaxPositionValue
		}
	}
	return maxSize, maxValue
}

func (c *Config) Validate() error {
	if c.Capital.InitialCapital <= 0 {
		return fmt.Errorf("capital.initial_capital must be positive, got %.2f", c.Capital.InitialCapital)
	}
	if c.LossLimits.MaxDailyLoss <= 0 {
		return fmt.Errorf("loss_limits.max_daily_loss must be positive, got %.2f", c.LossLimits.MaxDailyLoss)
	}
	if c.LossLimits.DefensiveLoss > c.LossLimits.MaxDailyLoss {
		return fmt.Errorf("loss_limits.defensive_loss (%.2f) must not exceed max_daily_loss (%.2f)",
			c.LossLimits.DefensiveLoss, c.LossLimits.MaxDailyLoss)
	}
	if c.Drawdown.DefensiveThreshold <= 0 || c.Drawdown.DefensiveThreshold >= 1 {
		return fmt.Errorf("drawdown.defensive_threshold must be in (0,1), got %.3f", c.Drawdown.DefensiveThreshold)
	}
	if c.Drawdown.LockdownThreshold <= c.Drawdown.DefensiveThreshold || c.Drawdown.LockdownThreshold >= 1 {
		return fmt.Errorf("drawdown.lockdown_threshold must be in (defensive_threshold,1), got %.3f", c.Drawdown.LockdownThreshold)
	}
	if c.BuyingPower.MaxLeverage <= 0 {
		return fmt.Errorf("buying_power.max_leverage must be positive, got %.2f", c.BuyingPower.MaxLeverage)
	}
	return nil
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8085"
	}
	if c.Capital.CurrentEquity == 0 {
		c.Capital.CurrentEquity = c.Capital.InitialCapital
	}
	if c.LossLimits.DefensiveLoss == 0 {
		c.LossLimits.DefensiveLoss = c.LossLimits.MaxDailyLoss / 2
	}
	if c.Frequency.MaxTradesPerSymbol == 0 {
		c.Frequency.MaxTradesPerSymbol = 20
	}
	if c.Frequency.MaxTradesPerMinute == 0 {
		c.Frequency.MaxTradesPerMinute = 100
	}
	if c.Frequency.WindowSize == 0 {
		c.Frequency.WindowSize = 100
	}
	if c.BuyingPower.MaxLeverage == 0 {
		c.BuyingPower.MaxLeverage = 1.0
	}
	if c.Evaluation.TimeoutMs == 0 {
		c.Evaluation.TimeoutMs = 1000
	}
	if c.Reconcile.IntervalSeconds == 0 {
		c.Reconcile.IntervalSeconds = 300
	}
	if c.Persistence.IntervalSeconds == 0 {
		c.Persistence.IntervalSeconds = 60
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &c, nil
}
