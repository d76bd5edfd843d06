// Package render turns filter results, portfolio records and chart
// series into the text shown to the user.
package render

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/ggonzalez94/defi-advisor/internal/filter"
	"github.com/ggonzalez94/defi-advisor/internal/model"
	"github.com/ggonzalez94/defi-advisor/internal/portfolio"
)

// FormatNumber renders a USD magnitude: comma-grouped with two decimals
// from a million up, fixed six decimals below, both trimmed of trailing
// zeros.
func FormatNumber(v float64) string {
	var s string
	if v >= 1_000_000 {
		s = humanize.CommafWithDigits(v, 2)
	} else {
		s = fmt.Sprintf("%.6f", v)
	}
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimRight(s, ".")
	}
	return s
}

// Opportunities renders one engine run as a bullet summary plus the
// applied-filter trace.
func Opportunities(res filter.Result) string {
	if len(res.Pools) == 0 {
		return NoResults(res.Steps)
	}

	var b strings.Builder
	if len(res.Pools) == 1 {
		b.WriteString("Here is the best opportunity I found:\n")
	} else {
		fmt.Fprintf(&b, "Here are the top %d opportunities I found:\n", len(res.Pools))
	}
	for _, p := range res.Pools {
		fmt.Fprintf(&b, "• %s on %s: %s - APY %.2f%% · TVL $%s (pool %s)\n",
			p.Project, p.Chain, p.Symbol, p.APY, FormatNumber(p.TVLUSD), p.PoolID)
	}
	if len(res.Applied) > 0 {
		fmt.Fprintf(&b, "Filters applied: %s\n", strings.Join(res.Applied, ", "))
	}
	return b.String()
}

// NoResults explains an empty result set with the per-stage counts, so
// the user can see which filter emptied the funnel.
func NoResults(steps []filter.Step) string {
	var b strings.Builder
	b.WriteString("I couldn't find any opportunities matching all of that, even after loosening the filters.\n")
	if len(steps) == 0 {
		return b.String()
	}
	b.WriteString("Here is how each filter narrowed the set:\n")
	for _, step := range steps {
		switch {
		case step.Dropped:
			fmt.Fprintf(&b, "• %s: %d candidates, none matched - filter dropped\n", step.Name, step.Before)
		case step.Relaxed:
			fmt.Fprintf(&b, "• %s (relaxed): %d → %d\n", step.Name, step.Before, step.After)
		default:
			fmt.Fprintf(&b, "• %s: %d → %d\n", step.Name, step.Before, step.After)
		}
	}
	return b.String()
}

// OpportunityTable renders the result set as an aligned plain table.
func OpportunityTable(pools []model.YieldPool) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROJECT\tCHAIN\tSYMBOL\tAPY\tTVL (USD)\tPOOL")
	for _, p := range pools {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f%%\t%s\t%s\n",
			p.Project, p.Chain, p.Symbol, p.APY, FormatNumber(p.TVLUSD), p.PoolID)
	}
	w.Flush()
	return b.String()
}

// Portfolio renders normalized positions: total, per-protocol subtotals
// and one numbered bullet per position. The numbering is what users
// reference as "position N" in chat.
func Portfolio(records []model.PositionRecord) string {
	if len(records) == 0 {
		return "I didn't find any positions above the $5 dust threshold for this wallet.\n"
	}

	var b strings.Builder
	total := portfolio.TotalBalance(records)
	fmt.Fprintf(&b, "Total portfolio value: $%s\n", FormatNumber(total.InexactFloat64()))

	order, sums := portfolio.ByProtocol(records)
	b.WriteString("By protocol:\n")
	for _, name := range order {
		fmt.Fprintf(&b, "• %s: $%s\n", name, FormatNumber(sums[name].InexactFloat64()))
	}

	b.WriteString("Positions:\n")
	for i, r := range records {
		fmt.Fprintf(&b, "%d. %s on %s (%s): %s - $%s\n",
			i+1, r.Protocol, r.Chain, r.Module, r.TokenSymbol, FormatNumber(r.BalanceUSD.InexactFloat64()))
	}
	return b.String()
}

// Chart summarizes an APY time series as text: range, extremes and the
// most recent points.
func Chart(poolID string, points []model.SeriesPoint) string {
	if len(points) == 0 {
		return fmt.Sprintf("Pool %s doesn't have enough historical data to chart yet.\n", poolID)
	}
	var b strings.Builder
	first, last := points[0], points[len(points)-1]
	low, high := points[0].APY, points[0].APY
	for _, p := range points {
		if p.APY < low {
			low = p.APY
		}
		if p.APY > high {
			high = p.APY
		}
	}
	fmt.Fprintf(&b, "APY history for pool %s (%s to %s):\n",
		poolID, first.Timestamp.Format("2006-01-02"), last.Timestamp.Format("2006-01-02"))
	fmt.Fprintf(&b, "Latest %.2f%% · low %.2f%% · high %.2f%% over %d points\n", last.APY, low, high, len(points))

	tail := points
	if len(tail) > 7 {
		tail = tail[len(tail)-7:]
	}
	b.WriteString("Recent:\n")
	for _, p := range tail {
		fmt.Fprintf(&b, "• %s: %.2f%%\n", p.Timestamp.Format("2006-01-02"), p.APY)
	}
	return b.String()
}

// Position renders one selected position for a "position N" turn.
func Position(surfaceNumber int, r model.PositionRecord) string {
	return fmt.Sprintf("Position %d: %s on %s (%s) holding %s worth $%s.\n",
		surfaceNumber, r.Protocol, r.Chain, r.Module, r.TokenSymbol, FormatNumber(r.BalanceUSD.InexactFloat64()))
}
