package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"cci-trader/internal/strategy"
)

// StrategyFile is the on-disk list of strategy instances.
//
//	strategies:
//	  - id: btc-15m
//	    username: alice
//	    symbol: BTCUSDT
//	    timeframe: 15m
//	    check_interval: 15m
type StrategyFile struct {
	Strategies []strategy.Settings `yaml:"strategies"`
}

// LoadStrategies reads a YAML strategy file, applies defaults and validates
// every entry. IDs must be unique.
func LoadStrategies(path string) ([]strategy.Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read strategy file: %w", err)
	}
	return ParseStrategies(data)
}

// ParseStrategies decodes and validates a strategy document.
func ParseStrategies(data []byte) ([]strategy.Settings, error) {
	var f StrategyFile
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("parse strategy file: %w", err)
	}
	if len(f.Strategies) == 0 {
		return nil, fmt.Errorf("strategy file lists no strategies")
	}

	seen := make(map[string]bool, len(f.Strategies))
	for i := range f.Strategies {
		s := &f.Strategies[i]
		s.ApplyDefaults()
		if err := s.ValidateLive(); err != nil {
			return nil, fmt.Errorf("strategy %d (%s): %w", i, s.ID, err)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("strategy %d: duplicate id %q", i, s.ID)
		}
		seen[s.ID] = true
	}
	return f.Strategies, nil
}
