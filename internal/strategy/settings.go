// Package strategy holds the CCI averaging-down strategy configuration, the
// breakout/recovery signal detector, and live signal evaluation.
//
// Everything here is pure: callers pass settings and candles in and get
// values back. No network, storage, or credential concepts live in this package.
package strategy

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Defaults for every recognized option. ApplyDefaults fills zero fields from here.
const (
	DefaultSymbol            = "BTCUSDT"
	DefaultTimeframe         = "15m"
	DefaultCCILength         = 14
	DefaultEntryThreshold    = 90.0
	DefaultBreakoutThreshold = 100.0
	DefaultSeedMoney         = 10000.0
	DefaultStartAmountRatio  = 0.20
	DefaultProfitTarget      = 1.0
	DefaultHalfSellProfit    = 0.5
	DefaultStopLossPercent   = 2.0
	DefaultStage1Loss        = 2.0
	DefaultStage2Loss        = 4.0
	DefaultStage3Loss        = 8.0
	DefaultFinalStopLoss     = 10.0
	DefaultFeeRate           = 0.1
	DefaultCheckInterval     = 15 * time.Minute
	DefaultLookbackCandles   = 200

	// MinCCILength is the shortest CCI window accepted.
	MinCCILength = 5
)

var timeframes = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
}

// TimeframeDuration returns the bar length of a timeframe label such as "15m".
func TimeframeDuration(tf string) (time.Duration, bool) {
	d, ok := timeframes[tf]
	return d, ok
}

// Settings configures one strategy instance (one symbol + timeframe + user).
// Percent fields are expressed in percent units (1.0 == 1%).
type Settings struct {
	ID       string `json:"id" yaml:"id"`
	Username string `json:"username" yaml:"username"`

	Symbol    string `json:"symbol" yaml:"symbol"`
	Timeframe string `json:"timeframe" yaml:"timeframe"`

	CCILength         int     `json:"cciLength" yaml:"cci_length"`
	EntryThreshold    float64 `json:"entryThreshold" yaml:"entry_threshold"`
	BreakoutThreshold float64 `json:"breakoutThreshold" yaml:"breakout_threshold"`

	SeedMoney        float64 `json:"seedMoney" yaml:"seed_money"`
	StartAmountRatio float64 `json:"startAmountRatio" yaml:"start_amount_ratio"`

	ProfitTarget    float64 `json:"profitTarget" yaml:"profit_target"`
	HalfSellProfit  float64 `json:"halfSellProfit" yaml:"half_sell_profit"`
	StopLossPercent float64 `json:"stopLossPercent" yaml:"stop_loss_percent"`

	Stage1Loss    float64 `json:"stage1Loss" yaml:"stage1_loss"`
	Stage2Loss    float64 `json:"stage2Loss" yaml:"stage2_loss"`
	Stage3Loss    float64 `json:"stage3Loss" yaml:"stage3_loss"`
	FinalStopLoss float64 `json:"finalStopLoss" yaml:"final_stop_loss"`

	FeeRate float64 `json:"feeRate" yaml:"fee_rate"`

	CheckInterval   Duration `json:"checkInterval" yaml:"check_interval"`
	LookbackCandles int      `json:"lookbackCandles" yaml:"lookback_candles"`
	Enabled         bool     `json:"enabled" yaml:"enabled"`
}

// DefaultSettings returns a Settings value with every option at its default.
func DefaultSettings() Settings {
	s := Settings{Enabled: true}
	s.ApplyDefaults()
	return s
}

// ApplyDefaults fills zero-valued fields with their defaults. Explicit values,
// valid or not, are left alone so Validate can reject them.
func (s *Settings) ApplyDefaults() {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Symbol == "" {
		s.Symbol = DefaultSymbol
	}
	s.Symbol = strings.ToUpper(s.Symbol)
	if s.Timeframe == "" {
		s.Timeframe = DefaultTimeframe
	}
	if s.CCILength == 0 {
		s.CCILength = DefaultCCILength
	}
	if s.EntryThreshold == 0 {
		s.EntryThreshold = DefaultEntryThreshold
	}
	if s.BreakoutThreshold == 0 {
		s.BreakoutThreshold = DefaultBreakoutThreshold
	}
	if s.SeedMoney == 0 {
		s.SeedMoney = DefaultSeedMoney
	}
	if s.StartAmountRatio == 0 {
		s.StartAmountRatio = DefaultStartAmountRatio
	}
	if s.ProfitTarget == 0 {
		s.ProfitTarget = DefaultProfitTarget
	}
	if s.HalfSellProfit == 0 {
		s.HalfSellProfit = DefaultHalfSellProfit
	}
	if s.StopLossPercent == 0 {
		s.StopLossPercent = DefaultStopLossPercent
	}
	if s.Stage1Loss == 0 && s.Stage2Loss == 0 && s.Stage3Loss == 0 && s.FinalStopLoss == 0 {
		s.Stage1Loss = DefaultStage1Loss
		s.Stage2Loss = DefaultStage2Loss
		s.Stage3Loss = DefaultStage3Loss
		s.FinalStopLoss = DefaultFinalStopLoss
	}
	if s.CheckInterval == 0 {
		s.CheckInterval = Duration(DefaultCheckInterval)
	}
	if s.LookbackCandles == 0 {
		s.LookbackCandles = DefaultLookbackCandles
	}
}

// StartAmount is the quote amount of the initial entry.
func (s Settings) StartAmount() float64 {
	return s.SeedMoney * s.StartAmountRatio
}

// StageLoss returns the adverse-move threshold (percent) that fires from the
// given LONG stage. Stage 3 returns the final stop-loss.
func (s Settings) StageLoss(stage int) float64 {
	switch stage {
	case 0:
		return s.Stage1Loss
	case 1:
		return s.Stage2Loss
	case 2:
		return s.Stage3Loss
	default:
		return s.FinalStopLoss
	}
}

// Validate rejects inconsistent settings before any computation starts.
// Values are never clamped.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.Symbol) == "" {
		return invalid("symbol", "must not be empty")
	}
	if _, ok := TimeframeDuration(s.Timeframe); !ok {
		return invalid("timeframe", fmt.Sprintf("unknown timeframe %q", s.Timeframe))
	}
	if s.CCILength < MinCCILength {
		return invalid("cciLength", fmt.Sprintf("must be >= %d, got %d", MinCCILength, s.CCILength))
	}
	if s.EntryThreshold <= 0 || s.BreakoutThreshold <= 0 {
		return invalid("entryThreshold/breakoutThreshold", "thresholds must be positive")
	}
	if s.EntryThreshold >= s.BreakoutThreshold {
		return invalid("entryThreshold", fmt.Sprintf("entry threshold %.2f must be below breakout threshold %.2f",
			s.EntryThreshold, s.BreakoutThreshold))
	}
	if s.SeedMoney <= 0 {
		return invalid("seedMoney", "must be positive")
	}
	if s.StartAmountRatio <= 0 || s.StartAmountRatio > 1 {
		return invalid("startAmountRatio", "must be in (0, 1]")
	}
	if s.ProfitTarget <= 0 {
		return invalid("profitTarget", "must be positive")
	}
	if s.HalfSellProfit <= 0 {
		return invalid("halfSellProfit", "must be positive")
	}
	if s.StopLossPercent <= 0 {
		return invalid("stopLossPercent", "must be positive")
	}
	if s.Stage1Loss <= 0 || !(s.Stage1Loss < s.Stage2Loss && s.Stage2Loss < s.Stage3Loss && s.Stage3Loss < s.FinalStopLoss) {
		return invalid("stageLoss", fmt.Sprintf("stage thresholds must be positive and ascending, got %.2f/%.2f/%.2f/%.2f",
			s.Stage1Loss, s.Stage2Loss, s.Stage3Loss, s.FinalStopLoss))
	}
	if s.FeeRate < 0 {
		return invalid("feeRate", "must not be negative")
	}
	return nil
}

// ValidateLive adds the checks for fields only live polling reads.
func (s Settings) ValidateLive() error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.CheckInterval < 0 {
		return invalid("checkInterval", "must not be negative")
	}
	if s.LookbackCandles <= s.CCILength {
		return invalid("lookbackCandles", fmt.Sprintf("must exceed cciLength (%d), got %d", s.CCILength, s.LookbackCandles))
	}
	return nil
}

// InvalidConfigurationError reports a settings field that failed validation.
type InvalidConfigurationError struct {
	Field  string
	Reason string
}

func (e *InvalidConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &InvalidConfigurationError{Field: field, Reason: reason}
}

// Duration is a time.Duration that encodes as a string ("15m") in JSON and YAML.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// Accept raw nanoseconds as well.
		var n int64
		if err2 := json.Unmarshal(b, &n); err2 != nil {
			return fmt.Errorf("duration: %w", err)
		}
		*d = Duration(n)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	*d = Duration(parsed)
	return nil
}

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	*d = Duration(parsed)
	return nil
}
