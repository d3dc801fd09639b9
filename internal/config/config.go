package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"lendbook/internal/book"
	"lendbook/internal/wad"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	Listen           string
	PostgresDSN      string
	Journal          string
	SnapshotInterval time.Duration
	LogLevel         string

	QuoteSymbol string
	BaseSymbol  string
	OraclePrice float64

	BaseRate        float64
	RateSlope       float64
	MaxLTV          float64
	LiquidationFee  float64
	InitialPrice    float64
	PriceStep       float64
	MinPoolID       int64
	MaxPoolID       int64
	MinDepositQuote int64
	MinDepositBase  int64

	MaxOrdersPerUser     int
	MaxPositionsPerUser  int
	MinLiquidationRounds int
	MaxLiquidationOps    int
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LENDBOOK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen", ":8080")
	v.SetDefault("journal", "./data/journal.jsonl")
	v.SetDefault("snapshot-interval", time.Minute)
	v.SetDefault("log-level", "info")
	v.SetDefault("quote-symbol", "USDC")
	v.SetDefault("base-symbol", "WETH")
	v.SetDefault("oracle-price", 100.0)
	v.SetDefault("base-rate", 0.02)
	v.SetDefault("rate-slope", 0.08)
	v.SetDefault("max-ltv", 0.99)
	v.SetDefault("liquidation-fee", 0.02)
	v.SetDefault("initial-price", 100.0)
	v.SetDefault("price-step", 1.1)
	v.SetDefault("min-pool-id", int64(-50))
	v.SetDefault("max-pool-id", int64(50))
	v.SetDefault("min-deposit-quote", int64(100))
	v.SetDefault("min-deposit-base", int64(2))
	v.SetDefault("max-orders-per-user", 8)
	v.SetDefault("max-positions-per-user", 5)
	v.SetDefault("min-liquidation-rounds", 3)
	v.SetDefault("max-liquidation-ops", 64)

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
		Listen:               v.GetString("listen"),
		PostgresDSN:          v.GetString("postgres-dsn"),
		Journal:              v.GetString("journal"),
		SnapshotInterval:     v.GetDuration("snapshot-interval"),
		LogLevel:             v.GetString("log-level"),
		QuoteSymbol:          v.GetString("quote-symbol"),
		BaseSymbol:           v.GetString("base-symbol"),
		OraclePrice:          v.GetFloat64("oracle-price"),
		BaseRate:             v.GetFloat64("base-rate"),
		RateSlope:            v.GetFloat64("rate-slope"),
		MaxLTV:               v.GetFloat64("max-ltv"),
		LiquidationFee:       v.GetFloat64("liquidation-fee"),
		InitialPrice:         v.GetFloat64("initial-price"),
		PriceStep:            v.GetFloat64("price-step"),
		MinPoolID:            v.GetInt64("min-pool-id"),
		MaxPoolID:            v.GetInt64("max-pool-id"),
		MinDepositQuote:      v.GetInt64("min-deposit-quote"),
		MinDepositBase:       v.GetInt64("min-deposit-base"),
		MaxOrdersPerUser:     v.GetInt("max-orders-per-user"),
		MaxPositionsPerUser:  v.GetInt("max-positions-per-user"),
		MinLiquidationRounds: v.GetInt("min-liquidation-rounds"),
		MaxLiquidationOps:    v.GetInt("max-liquidation-ops"),
	}

	return cfg, nil
}

// BookParams converts the loaded protocol settings into engine parameters.
func (c Config) BookParams() book.Params {
	return book.Params{
		BaseRate:             toWad(c.BaseRate),
		RateSlope:            toWad(c.RateSlope),
		MaxLTV:               toWad(c.MaxLTV),
		LiquidationFee:       toWad(c.LiquidationFee),
		InitialPrice:         toWad(c.InitialPrice),
		PriceStep:            toWad(c.PriceStep),
		MinPoolID:            c.MinPoolID,
		MaxPoolID:            c.MaxPoolID,
		MinDepositQuote:      toWad(float64(c.MinDepositQuote)),
		MinDepositBase:       toWad(float64(c.MinDepositBase)),
		MaxOrdersPerUser:     c.MaxOrdersPerUser,
		MaxPositionsPerUser:  c.MaxPositionsPerUser,
		MinLiquidationRounds: c.MinLiquidationRounds,
		MaxLiquidationOps:    c.MaxLiquidationOps,
	}
}

// OracleWad is the configured oracle bootstrap price in WAD.
func (c Config) OracleWad() *big.Int {
	return toWad(c.OraclePrice)
}

func toWad(v float64) *big.Int {
	scaled := new(big.Float).Mul(big.NewFloat(v), new(big.Float).SetInt(wad.One))
	out, _ := scaled.Int(nil)
	return out
}
