package portfolio

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ggonzalez94/defi-advisor/internal/model"
)

// The positions collaborator returns deeply nested, loosely typed JSON.
// Every field is extracted defensively: a malformed token entry is skipped
// on its own, never aborting the surrounding protocol entry.

type rawProtocol struct {
	Chain      any         `json:"chain"`
	CommonName any         `json:"commonName"`
	Portfolio  []rawModule `json:"portfolio"`
}

type rawModule struct {
	Module   any `json:"module"`
	Detailed struct {
		Supply json.RawMessage `json:"supply"`
	} `json:"detailed"`
}

type rawToken struct {
	TokenSymbol any `json:"tokenSymbol"`
	BalanceUSD  any `json:"balanceUSD"`
}

// Normalize flattens one wallet's raw position payload into PositionRecord
// rows. Liquidity-pool modules with at least two supplied tokens merge the
// first two into a single composite record, because a pooled position is
// economically one unit. Records at or below the dust threshold never
// surface; surviving balances are rounded to 6 decimal places. Empty or
// non-list input yields an empty result.
func Normalize(wallet string, payload []byte) []model.PositionRecord {
	var protocols []rawProtocol
	if err := json.Unmarshal(payload, &protocols); err != nil {
		return nil
	}

	var out []model.PositionRecord
	for _, protocol := range protocols {
		chain := asString(protocol.Chain)
		name := asString(protocol.CommonName)

		for _, mod := range protocol.Portfolio {
			kind := classifyModule(asString(mod.Module))

			var tokens []rawToken
			if err := json.Unmarshal(mod.Detailed.Supply, &tokens); err != nil || len(tokens) == 0 {
				continue
			}

			if kind == model.ModuleLiquidityPool && len(tokens) >= 2 {
				balance0, ok0 := asDecimal(tokens[0].BalanceUSD)
				balance1, ok1 := asDecimal(tokens[1].BalanceUSD)
				if !ok0 || !ok1 {
					continue
				}
				out = appendIfSurfaced(out, model.PositionRecord{
					Wallet:      wallet,
					Chain:       chain,
					Protocol:    name,
					Module:      kind,
					TokenSymbol: asString(tokens[0].TokenSymbol) + "/" + asString(tokens[1].TokenSymbol),
					BalanceUSD:  balance0.Add(balance1),
				})
				continue
			}

			for _, token := range tokens {
				balance, ok := asDecimal(token.BalanceUSD)
				if !ok {
					continue
				}
				out = appendIfSurfaced(out, model.PositionRecord{
					Wallet:      wallet,
					Chain:       chain,
					Protocol:    name,
					Module:      kind,
					TokenSymbol: asString(token.TokenSymbol),
					BalanceUSD:  balance,
				})
			}
		}
	}
	return out
}

func appendIfSurfaced(records []model.PositionRecord, record model.PositionRecord) []model.PositionRecord {
	if !record.BalanceUSD.GreaterThan(model.DustThresholdUSD) {
		return records
	}
	record.BalanceUSD = record.BalanceUSD.Round(6)
	return append(records, record)
}

func classifyModule(raw string) model.Module {
	norm := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case norm == "liquidity pool":
		return model.ModuleLiquidityPool
	case strings.Contains(norm, "supply"), strings.Contains(norm, "deposit"), strings.Contains(norm, "lending"):
		return model.ModuleSupply
	default:
		return model.ModuleOther
	}
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		buf, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return strings.Trim(string(buf), `"`)
	}
}

func asDecimal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case float64:
		return decimal.NewFromFloat(t), true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(t))
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	default:
		return decimal.Zero, false
	}
}

// TotalBalance sums the surfaced balances of a record set.
func TotalBalance(records []model.PositionRecord) decimal.Decimal {
	total := decimal.Zero
	for _, r := range records {
		total = total.Add(r.BalanceUSD)
	}
	return total
}

// ByProtocol groups balances per protocol, preserving first-seen order.
func ByProtocol(records []model.PositionRecord) ([]string, map[string]decimal.Decimal) {
	order := make([]string, 0)
	sums := make(map[string]decimal.Decimal)
	for _, r := range records {
		if _, ok := sums[r.Protocol]; !ok {
			order = append(order, r.Protocol)
		}
		sums[r.Protocol] = sums[r.Protocol].Add(r.BalanceUSD)
	}
	return order, sums
}
