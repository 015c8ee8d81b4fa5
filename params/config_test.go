package params

import "testing"

func TestDefaultProducesValidRiskParams(t *testing.T) {
	cfg := Default()
	rp := cfg.Risk.ToRiskParams()

	if rp.MaxAccounts == 0 {
		t.Fatal("default MaxAccounts is zero")
	}
	if rp.MaintenanceMarginBps == 0 || rp.InitialMarginBps <= rp.MaintenanceMarginBps {
		t.Fatalf("expected InitialMarginBps > MaintenanceMarginBps, got %d <= %d", rp.InitialMarginBps, rp.MaintenanceMarginBps)
	}
	if !rp.RiskReductionThreshold.IsZero() {
		t.Fatalf("expected default risk-reduction threshold disabled (zero), got %s", rp.RiskReductionThreshold)
	}
	if rp.LiquidationFeeCap.IsZero() {
		t.Fatal("expected a nonzero default liquidation fee cap")
	}
}

func TestRiskBootstrapScalesUnitsToE6(t *testing.T) {
	b := RiskBootstrap{MinLiquidationAbsUnits: 5}
	rp := b.ToRiskParams()
	if rp.MinLiquidationAbs.Uint64() != 5_000_000 {
		t.Fatalf("MinLiquidationAbs = %s, want 5000000", rp.MinLiquidationAbs)
	}
}

func TestLoadFromEnvOverridesDefaults(t *testing.T) {
	t.Setenv("RISK_MAINTENANCE_MARGIN_BPS", "750")
	t.Setenv("NODE_DATA_DIR", "/tmp/percolator-test")

	cfg := LoadFromEnv("/nonexistent/.env")
	if cfg.Risk.MaintenanceMarginBps != 750 {
		t.Fatalf("MaintenanceMarginBps = %d, want 750", cfg.Risk.MaintenanceMarginBps)
	}
	if cfg.Node.DataDir != "/tmp/percolator-test" {
		t.Fatalf("DataDir = %q, want /tmp/percolator-test", cfg.Node.DataDir)
	}
}
