// Package params holds the demo node's bootstrap configuration: default
// RiskParams/MarketConfig values for a freshly-initialized market, plus
// the node's storage path and listen address. Same godotenv-then-env-vars
// precedence and Default()/LoadFromEnv() shape as a consensus-node config
// loader, but carrying market/risk bootstrap values instead of a
// validator set, since this engine has no consensus layer of its own (a
// single fixed-size in-memory region, not a replicated state machine).
//
// Fee and threshold configuration is expressed here in human units (bps,
// whole collateral units) and converted to the engine's native e6/fx128
// units before ever reaching slab.RiskParams: per spec.md §1 Non-goals,
// "configuration of fees in human units" is an external collaborator's
// job, not the engine's.
package params

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/hyperslab/percolator/pkg/fx128"
	"github.com/hyperslab/percolator/pkg/slab"
)

// MarketBootstrap holds MarketConfig's human-unit inputs, before the
// oracle identities (supplied separately, since they're not representable
// as plain env var scalars) are attached.
type MarketBootstrap struct {
	MaxStalenessSlots  uint64
	ConfFilterBps      uint16
	Invert             bool
	UnitScale          uint32
	InitialMarkPriceE6 uint64
	OraclePriceCapE2Bps uint32
}

// RiskBootstrap holds RiskParams' human-unit inputs: bps fields pass
// straight through, collateral-unit fields are whole units converted to
// fx128.UInt128 at e6 scale by ToRiskParams.
type RiskBootstrap struct {
	WarmupPeriodSlots      uint64
	MaintenanceMarginBps   uint64
	InitialMarginBps       uint64
	TradingFeeBps          uint64
	MaxAccounts            uint64
	NewAccountFeeUnits     uint64
	RiskReductionThreshold uint64 // whole collateral units, 0 disables the gate
	MaintenanceFeePerSlot  uint64 // whole collateral units
	MaxCrankStalenessSlots uint64
	LiquidationFeeBps      uint64
	LiquidationFeeCapUnits uint64
	LiquidationBufferBps   uint64
	MinLiquidationAbsUnits uint64
}

// ToRiskParams converts b's human-unit fields into the engine's native
// slab.RiskParams, scaling whole-collateral-unit fields to e6 fixed point.
func (b RiskBootstrap) ToRiskParams() slab.RiskParams {
	toE6 := func(units uint64) fx128.UInt128 {
		return fx128.U128FromUint64(units * 1_000_000)
	}
	return slab.RiskParams{
		WarmupPeriodSlots:      b.WarmupPeriodSlots,
		MaintenanceMarginBps:   b.MaintenanceMarginBps,
		InitialMarginBps:       b.InitialMarginBps,
		TradingFeeBps:          b.TradingFeeBps,
		MaxAccounts:            b.MaxAccounts,
		NewAccountFee:          toE6(b.NewAccountFeeUnits),
		RiskReductionThreshold: toE6(b.RiskReductionThreshold),
		MaintenanceFeePerSlot:  toE6(b.MaintenanceFeePerSlot),
		MaxCrankStalenessSlots: b.MaxCrankStalenessSlots,
		LiquidationFeeBps:      b.LiquidationFeeBps,
		LiquidationFeeCap:      toE6(b.LiquidationFeeCapUnits),
		LiquidationBufferBps:   b.LiquidationBufferBps,
		MinLiquidationAbs:      toE6(b.MinLiquidationAbsUnits),
	}
}

// Node carries the demo dispatcher's own operational settings: where it
// persists slab snapshots and what it listens on.
type Node struct {
	DataDir    string
	ListenAddr string
}

type Config struct {
	Market MarketBootstrap
	Risk   RiskBootstrap
	Node   Node
}

func Default() Config {
	return Config{
		Market: MarketBootstrap{
			MaxStalenessSlots:   150,
			ConfFilterBps:       50,
			Invert:              false,
			UnitScale:           0,
			InitialMarkPriceE6:  1_000_000,
			OraclePriceCapE2Bps: 0,
		},
		Risk: RiskBootstrap{
			WarmupPeriodSlots:      100,
			MaintenanceMarginBps:   500,
			InitialMarginBps:       1000,
			TradingFeeBps:          10,
			MaxAccounts:            slab.MaxAccountsCap,
			NewAccountFeeUnits:     0,
			RiskReductionThreshold: 0,
			MaintenanceFeePerSlot:  0,
			MaxCrankStalenessSlots: 1000,
			LiquidationFeeBps:      500,
			LiquidationFeeCapUnits: 1_000_000,
			LiquidationBufferBps:   100,
			MinLiquidationAbsUnits: 1,
		},
		Node: Node{
			DataDir:    "data/percolator",
			ListenAddr: ":8080",
		},
	}
}

// LoadFromEnv loads configuration from .env (if present) and environment
// variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("MARKET_MAX_STALENESS_SLOTS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Market.MaxStalenessSlots = n
		}
	}
	if v := os.Getenv("MARKET_CONF_FILTER_BPS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 16); err == nil {
			cfg.Market.ConfFilterBps = uint16(n)
		}
	}
	if v := os.Getenv("MARKET_INVERT"); v != "" {
		cfg.Market.Invert = v == "true"
	}
	if v := os.Getenv("MARKET_UNIT_SCALE"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.Market.UnitScale = uint32(n)
		}
	}
	if v := os.Getenv("MARKET_INITIAL_MARK_E6"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Market.InitialMarkPriceE6 = n
		}
	}

	if v := os.Getenv("RISK_WARMUP_PERIOD_SLOTS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Risk.WarmupPeriodSlots = n
		}
	}
	if v := os.Getenv("RISK_MAINTENANCE_MARGIN_BPS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Risk.MaintenanceMarginBps = n
		}
	}
	if v := os.Getenv("RISK_INITIAL_MARGIN_BPS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Risk.InitialMarginBps = n
		}
	}
	if v := os.Getenv("RISK_TRADING_FEE_BPS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Risk.TradingFeeBps = n
		}
	}
	if v := os.Getenv("RISK_MAX_ACCOUNTS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Risk.MaxAccounts = n
		}
	}
	if v := os.Getenv("RISK_REDUCTION_THRESHOLD_UNITS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Risk.RiskReductionThreshold = n
		}
	}
	if v := os.Getenv("RISK_LIQUIDATION_FEE_BPS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Risk.LiquidationFeeBps = n
		}
	}
	if v := os.Getenv("RISK_LIQUIDATION_BUFFER_BPS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Risk.LiquidationBufferBps = n
		}
	}

	if v := os.Getenv("NODE_DATA_DIR"); v != "" {
		cfg.Node.DataDir = v
	}
	if v := os.Getenv("LISTEN"); v != "" {
		cfg.Node.ListenAddr = v
	}

	return cfg
}
