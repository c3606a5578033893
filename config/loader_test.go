package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.NotNil(t, cfg)
	assert.Equal(t, "BTCUSDT", cfg.Market.Symbol)
	assert.Equal(t, 10_000.0, cfg.Capital.InitialCapital)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr string
	}{
		{"missing symbol", &Config{}, "market.symbol is required"},
		{
			"no intervals",
			&Config{Market: MarketConfig{Symbol: "BTCUSDT"}},
			"market.intervals must not be empty",
		},
		{
			"no strategies",
			&Config{Market: MarketConfig{Symbol: "BTCUSDT", Intervals: []string{"15m"}}},
			"at least one strategy must be configured",
		},
		{
			"duplicate strategy id",
			&Config{
				Market:     MarketConfig{Symbol: "BTCUSDT", Intervals: []string{"15m"}},
				Strategies: []StrategyConfig{{ID: "a"}, {ID: "a"}},
				Capital:    CapitalConfig{InitialCapital: 100},
			},
			"duplicate strategy id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSaveAndLoad_RoundTripsYAMLAndJSON(t *testing.T) {
	dir := t.TempDir()
	for _, ext := range []string{".yaml", ".json"} {
		t.Run(ext, func(t *testing.T) {
			cfg := Default()
			path := filepath.Join(dir, "cfg"+ext)
			require.NoError(t, cfg.SaveToFile(path))

			loaded, err := LoadFromFile(path)
			require.NoError(t, err)
			assert.Equal(t, cfg.Market.Symbol, loaded.Market.Symbol)
			assert.Equal(t, cfg.Capital.InitialCapital, loaded.Capital.InitialCapital)
			assert.Len(t, loaded.Strategies, len(cfg.Strategies))
		})
	}
}

func TestLoadFromFile_MissingPathErrors(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path.yaml")
	assert.Error(t, err)
}
