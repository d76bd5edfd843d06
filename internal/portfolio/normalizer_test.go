package portfolio

import (
	"testing"

	"github.com/ggonzalez94/defi-advisor/internal/model"
)

const samplePayload = `[
  {
    "chain": "eth",
    "commonName": "Aave",
    "portfolio": [
      {
        "module": "Supply",
        "detailed": {"supply": [
          {"tokenSymbol": "USDC", "balanceUSD": 1250.1234567},
          {"tokenSymbol": "DUST", "balanceUSD": 4.99}
        ]}
      }
    ]
  },
  {
    "chain": "arb",
    "commonName": "Uniswap",
    "portfolio": [
      {
        "module": "Liquidity Pool",
        "detailed": {"supply": [
          {"tokenSymbol": "WETH", "balanceUSD": 300.5},
          {"tokenSymbol": "USDT", "balanceUSD": 299.5},
          {"tokenSymbol": "IGNORED", "balanceUSD": 50}
        ]}
      }
    ]
  }
]`

func TestNormalizeFlattensAndMergesLP(t *testing.T) {
	records := Normalize("0xabc", []byte(samplePayload))
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d: %+v", len(records), records)
	}

	supply := records[0]
	if supply.TokenSymbol != "USDC" || supply.Module != model.ModuleSupply {
		t.Fatalf("unexpected supply record: %+v", supply)
	}
	if got := supply.BalanceUSD.String(); got != "1250.123457" {
		t.Fatalf("expected 6dp rounding, got %s", got)
	}

	lp := records[1]
	if lp.TokenSymbol != "WETH/USDT" {
		t.Fatalf("expected merged pair symbol, got %q", lp.TokenSymbol)
	}
	if got := lp.BalanceUSD.String(); got != "600" {
		t.Fatalf("expected summed pair balance, got %s", got)
	}
	if lp.Wallet != "0xabc" || lp.Chain != "arb" {
		t.Fatalf("unexpected lp provenance: %+v", lp)
	}
}

func TestNormalizeSkipsMalformedTokenOnly(t *testing.T) {
	payload := `[{"chain":"eth","commonName":"Aave","portfolio":[{"module":"Supply","detailed":{"supply":[
		{"tokenSymbol":"BROKEN","balanceUSD":{"nested":true}},
		{"tokenSymbol":"DAI","balanceUSD":"42.5"}
	]}}]}]`
	records := Normalize("0xabc", []byte(payload))
	if len(records) != 1 || records[0].TokenSymbol != "DAI" {
		t.Fatalf("expected surviving DAI record, got %+v", records)
	}
}

func TestNormalizeDustAtThresholdExcluded(t *testing.T) {
	payload := `[{"chain":"eth","commonName":"X","portfolio":[{"module":"Supply","detailed":{"supply":[
		{"tokenSymbol":"EDGE","balanceUSD":5.0}
	]}}]}]`
	if records := Normalize("0xabc", []byte(payload)); len(records) != 0 {
		t.Fatalf("balance exactly at threshold must not surface: %+v", records)
	}
}

func TestNormalizeNonListPayload(t *testing.T) {
	if records := Normalize("0xabc", []byte(`{"error":"no data"}`)); len(records) != 0 {
		t.Fatalf("expected empty result for non-list payload, got %+v", records)
	}
	if records := Normalize("0xabc", nil); len(records) != 0 {
		t.Fatalf("expected empty result for empty payload, got %+v", records)
	}
}

func TestNormalizeLPWithSingleTokenFallsThrough(t *testing.T) {
	payload := `[{"chain":"eth","commonName":"Curve","portfolio":[{"module":"Liquidity Pool","detailed":{"supply":[
		{"tokenSymbol":"CRV","balanceUSD":77.7}
	]}}]}]`
	records := Normalize("0xabc", []byte(payload))
	if len(records) != 1 || records[0].TokenSymbol != "CRV" {
		t.Fatalf("single-token lp module should surface per token: %+v", records)
	}
	if records[0].Module != model.ModuleLiquidityPool {
		t.Fatalf("module kind should be preserved: %+v", records[0])
	}
}

func TestAggregations(t *testing.T) {
	records := Normalize("0xabc", []byte(samplePayload))
	if got := TotalBalance(records).String(); got != "1850.123457" {
		t.Fatalf("unexpected total: %s", got)
	}
	order, sums := ByProtocol(records)
	if len(order) != 2 || order[0] != "Aave" || order[1] != "Uniswap" {
		t.Fatalf("unexpected protocol order: %v", order)
	}
	if sums["Uniswap"].String() != "600" {
		t.Fatalf("unexpected protocol sum: %v", sums)
	}
}
