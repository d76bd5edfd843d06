// Package filter applies a FilterContext against the yield catalog with
// progressive relaxation, so over-constrained queries degrade to the
// closest honorable match instead of an empty answer.
package filter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ggonzalez94/defi-advisor/internal/model"
)

// Result-set bounds per calling surface.
const (
	BoundChat      = 3
	BoundDashboard = 10
)

// Step records what one filter stage did, for the "why did I get zero
// results" diagnostic view.
type Step struct {
	Name    string
	Before  int
	After   int
	Relaxed bool
	Dropped bool
}

// Result is the ranked outcome of one engine run. Applied lists the
// filters that actually constrained the set, with relaxed ones flagged
// as "contains '...'" or "(reduced to ...)".
type Result struct {
	Pools   []model.YieldPool
	Applied []string
	Steps   []Step
}

// stablecoin bridging variants treated as equivalent to USDC.
var usdcVariants = []string{"USDC", "USDC.E", "AXLUSDC"}

// Run filters the catalog by the context in a fixed stage order: chain,
// token, protocol, exposure, TVL floor, APY floor. Each stage narrows
// the current set; a stage that would empty it is relaxed once (substring
// match over the original catalog for name filters, a halved threshold
// for numeric ones) and dropped entirely if relaxation also fails. The
// survivors are sorted by descending APY and truncated to bound.
func Run(catalog []model.YieldPool, fc *model.FilterContext, bound int) Result {
	res := Result{}
	current := catalog

	if fc.Chain != "" {
		current = res.nameStage(current, catalog, "chain", fc.Chain,
			func(p model.YieldPool, v string) bool { return strings.EqualFold(p.Chain, v) },
			func(p model.YieldPool, v string) bool {
				return strings.Contains(strings.ToLower(p.Chain), strings.ToLower(v))
			})
	}
	if fc.Token != "" {
		current = res.nameStage(current, catalog, "token", fc.Token, matchToken, matchToken)
	}
	if fc.Protocol != "" {
		current = res.nameStage(current, catalog, "protocol", fc.Protocol,
			func(p model.YieldPool, v string) bool {
				return strings.Contains(strings.ToLower(p.Project), strings.ToLower(v))
			},
			func(p model.YieldPool, v string) bool {
				return strings.Contains(strings.ToLower(p.Project), strings.ToLower(v))
			})
	}
	if fc.Exposure != model.ExposureNone {
		current = res.exposureStage(current, fc.Exposure)
	}
	if fc.MinTVL != nil {
		current = res.thresholdStage(current, "tvl", *fc.MinTVL,
			func(p model.YieldPool) float64 { return p.TVLUSD })
	}
	if fc.MinAPY != nil {
		current = res.thresholdStage(current, "apy", *fc.MinAPY,
			func(p model.YieldPool) float64 { return p.APY })
	}

	sorted := make([]model.YieldPool, len(current))
	copy(sorted, current)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].APY > sorted[j].APY })
	if bound > 0 && len(sorted) > bound {
		sorted = sorted[:bound]
	}
	res.Pools = sorted
	return res
}

type namePredicate func(model.YieldPool, string) bool

// nameStage applies a name filter with substring relaxation. The relaxed
// retry runs against the original catalog, not the current set: a wrong
// chain guess should not poison every later stage.
func (r *Result) nameStage(current, catalog []model.YieldPool, name, value string, strict, loose namePredicate) []model.YieldPool {
	before := len(current)

	matched := selectPools(current, value, strict)
	if len(matched) > 0 {
		r.Applied = append(r.Applied, fmt.Sprintf("%s %s", name, value))
		r.Steps = append(r.Steps, Step{Name: name, Before: before, After: len(matched)})
		return matched
	}

	relaxed := selectPools(catalog, value, loose)
	if len(relaxed) > 0 {
		r.Applied = append(r.Applied, fmt.Sprintf("%s contains '%s'", name, value))
		r.Steps = append(r.Steps, Step{Name: name, Before: before, After: len(relaxed), Relaxed: true})
		return relaxed
	}

	r.Steps = append(r.Steps, Step{Name: name, Before: before, After: before, Dropped: true})
	return current
}

func (r *Result) exposureStage(current []model.YieldPool, kind model.ExposureKind) []model.YieldPool {
	before := len(current)
	matched := make([]model.YieldPool, 0, len(current))
	for _, p := range current {
		if p.Exposure == kind {
			matched = append(matched, p)
		}
	}
	if len(matched) == 0 {
		r.Steps = append(r.Steps, Step{Name: "exposure", Before: before, After: before, Dropped: true})
		return current
	}
	r.Applied = append(r.Applied, fmt.Sprintf("exposure %s", kind))
	r.Steps = append(r.Steps, Step{Name: "exposure", Before: before, After: len(matched)})
	return matched
}

func (r *Result) thresholdStage(current []model.YieldPool, name string, th model.Threshold, value func(model.YieldPool) float64) []model.YieldPool {
	before := len(current)

	matched := selectByThreshold(current, th, value)
	if len(matched) > 0 {
		r.Applied = append(r.Applied, fmt.Sprintf("%s %s", name, th))
		r.Steps = append(r.Steps, Step{Name: name, Before: before, After: len(matched)})
		return matched
	}

	relaxed := th.Relax()
	matched = selectByThreshold(current, relaxed, value)
	if len(matched) > 0 {
		r.Applied = append(r.Applied, fmt.Sprintf("%s %s (reduced to %s)", name, th, relaxed))
		r.Steps = append(r.Steps, Step{Name: name, Before: before, After: len(matched), Relaxed: true})
		return matched
	}

	r.Steps = append(r.Steps, Step{Name: name, Before: before, After: before, Dropped: true})
	return current
}

func selectPools(pools []model.YieldPool, value string, pred namePredicate) []model.YieldPool {
	out := make([]model.YieldPool, 0, len(pools))
	for _, p := range pools {
		if pred(p, value) {
			out = append(out, p)
		}
	}
	return out
}

func selectByThreshold(pools []model.YieldPool, th model.Threshold, value func(model.YieldPool) float64) []model.YieldPool {
	out := make([]model.YieldPool, 0, len(pools))
	for _, p := range pools {
		if th.Matches(value(p)) {
			out = append(out, p)
		}
	}
	return out
}

// matchToken matches a token symbol as a substring of the pool symbol.
// Composite "A/B" symbols from pooled positions match on either leg.
// USDC additionally matches its bridged variants, which are economically
// equivalent for yield comparison.
func matchToken(p model.YieldPool, token string) bool {
	symbol := strings.ToUpper(p.Symbol)
	for _, leg := range strings.Split(strings.ToUpper(token), "/") {
		if leg == "" {
			continue
		}
		if leg == "USDC" {
			for _, variant := range usdcVariants {
				if strings.Contains(symbol, variant) {
					return true
				}
			}
			continue
		}
		if strings.Contains(symbol, leg) {
			return true
		}
	}
	return false
}
