package query

import "strings"

// canonicalChains maps lowercase aliases to the chain names DeFiLlama
// uses in its catalog. Unrecognized chains pass through capitalized so a
// user can still filter on chains this table has never heard of.
var canonicalChains = map[string]string{
	"avalanche": "Avalanche",
	"avax":      "Avalanche",
	"ethereum":  "Ethereum",
	"eth":       "Ethereum",
	"arbitrum":  "Arbitrum",
	"arb":       "Arbitrum",
	"optimism":  "Optimism",
	"op":        "Optimism",
	"polygon":   "Polygon",
	"poly":      "Polygon",
	"matic":     "Polygon",
	"mantle":    "Mantle",
	"mnt":       "Mantle",
	"bsc":       "BSC",
	"binance":   "BSC",
	"bnb":       "BSC",
}

// NormalizeChain resolves a user-supplied chain name to its canonical
// catalog spelling.
func NormalizeChain(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	if canonical, ok := canonicalChains[key]; ok {
		return canonical
	}
	return capitalize(key)
}

// KnownChain reports whether the word resolves through the alias table,
// which is how a bare "in <word>" is disambiguated between a chain and a
// protocol reference.
func KnownChain(raw string) bool {
	_, ok := canonicalChains[strings.ToLower(strings.TrimSpace(raw))]
	return ok
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
