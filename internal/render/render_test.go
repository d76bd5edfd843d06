package render

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ggonzalez94/defi-advisor/internal/filter"
	"github.com/ggonzalez94/defi-advisor/internal/model"
)

func TestFormatNumber(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{2_000_000, "2,000,000"},
		{1_234_567.891, "1,234,567.89"},
		{1_000_000, "1,000,000"},
		{999_999.5, "999999.5"},
		{42.123456789, "42.123457"},
		{0.5, "0.5"},
		{100, "100"},
	}
	for _, c := range cases {
		if got := FormatNumber(c.in); got != c.want {
			t.Errorf("FormatNumber(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestOpportunitiesBulletsAndTrace(t *testing.T) {
	res := filter.Result{
		Pools: []model.YieldPool{
			{PoolID: "p1", Project: "aave-v3", Chain: "Ethereum", Symbol: "USDC", APY: 3.1, TVLUSD: 2_000_000},
		},
		Applied: []string{"token USDC", "chain Ethereum"},
	}
	out := Opportunities(res)
	if !strings.Contains(out, "• aave-v3 on Ethereum: USDC - APY 3.10% · TVL $2,000,000 (pool p1)") {
		t.Fatalf("unexpected bullet: %q", out)
	}
	if !strings.Contains(out, "Filters applied: token USDC, chain Ethereum") {
		t.Fatalf("missing applied trace: %q", out)
	}
}

func TestNoResultsListsStepCounts(t *testing.T) {
	out := NoResults([]filter.Step{
		{Name: "chain", Before: 100, After: 100, Dropped: true},
		{Name: "apy", Before: 100, After: 12, Relaxed: true},
	})
	if !strings.Contains(out, "chain: 100 candidates, none matched") {
		t.Fatalf("dropped step missing: %q", out)
	}
	if !strings.Contains(out, "apy (relaxed): 100 → 12") {
		t.Fatalf("relaxed step missing: %q", out)
	}
}

func TestPortfolioSummary(t *testing.T) {
	records := []model.PositionRecord{
		{Protocol: "Aave", Chain: "eth", Module: model.ModuleSupply, TokenSymbol: "USDC", BalanceUSD: decimal.NewFromFloat(1500)},
		{Protocol: "Uniswap", Chain: "arb", Module: model.ModuleLiquidityPool, TokenSymbol: "WETH/USDT", BalanceUSD: decimal.NewFromFloat(600)},
	}
	out := Portfolio(records)
	if !strings.Contains(out, "Total portfolio value: $2100") {
		t.Fatalf("missing total: %q", out)
	}
	if !strings.Contains(out, "1. Aave on eth (Supply): USDC - $1500") {
		t.Fatalf("positions must be numbered from 1: %q", out)
	}
	if !strings.Contains(out, "• Uniswap: $600") {
		t.Fatalf("missing protocol subtotal: %q", out)
	}
}

func TestChartSummary(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	points := []model.SeriesPoint{
		{Timestamp: base, APY: 2.0},
		{Timestamp: base.AddDate(0, 0, 1), APY: 5.0},
		{Timestamp: base.AddDate(0, 0, 2), APY: 3.5},
	}
	out := Chart("p1", points)
	if !strings.Contains(out, "2024-03-01 to 2024-03-03") {
		t.Fatalf("missing date range: %q", out)
	}
	if !strings.Contains(out, "Latest 3.50% · low 2.00% · high 5.00% over 3 points") {
		t.Fatalf("missing extremes line: %q", out)
	}
}

func TestChartEmptySeries(t *testing.T) {
	out := Chart("p1", nil)
	if !strings.Contains(out, "doesn't have enough historical data") {
		t.Fatalf("empty series must degrade to a message: %q", out)
	}
}

func TestOpportunityTableHeader(t *testing.T) {
	out := OpportunityTable([]model.YieldPool{{PoolID: "p1", Project: "aave-v3", Chain: "Ethereum", Symbol: "USDC", APY: 3.1, TVLUSD: 10}})
	if !strings.Contains(out, "PROJECT") || !strings.Contains(out, "aave-v3") {
		t.Fatalf("unexpected table: %q", out)
	}
}
