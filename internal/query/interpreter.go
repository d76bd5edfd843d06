// Package query turns free-text user turns into structured filter
// updates. Deterministic pattern extraction runs first; a model-backed
// symbol extractor is consulted only when patterns fail to identify a
// token and the turn is not a pure filter adjustment.
package query

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/ggonzalez94/defi-advisor/internal/model"
)

// Fallback thresholds for bare "higher apy" / "higher tvl" phrases when
// no prior result set exists to anchor on.
const (
	FallbackMinAPY = 5.0
	FallbackMinTVL = 1_000_000
)

// SymbolExtractor is the model-backed fallback classifier. Failures are
// treated as "nothing extracted", never as fatal.
type SymbolExtractor interface {
	ExtractToken(ctx context.Context, query string) (string, error)
	ExtractPosition(ctx context.Context, query string) (int, error)
}

// Update is the structured diff one turn produces. Nil fields leave the
// session's FilterContext untouched, keeping prior filters sticky.
type Update struct {
	PositionIndex *int // 0-based; surface references are 1-based
	Chain         *string
	Protocol      *string
	Token         *string
	Exposure      *model.ExposureKind
	MinAPY        *model.Threshold
	MinTVL        *model.Threshold
	WantChart     bool
	ChartPoolID   string
	Reset         bool
}

func (u Update) IsEmpty() bool {
	return u.PositionIndex == nil && u.Chain == nil && u.Protocol == nil &&
		u.Token == nil && u.Exposure == nil && u.MinAPY == nil && u.MinTVL == nil &&
		!u.WantChart && !u.Reset
}

type Interpreter struct {
	extractor SymbolExtractor
}

// New builds an Interpreter. The extractor may be nil, in which case the
// deterministic patterns are all there is.
func New(extractor SymbolExtractor) *Interpreter {
	return &Interpreter{extractor: extractor}
}

var (
	positionRe  = regexp.MustCompile(`(?i)\bposition\s*#?\s*(\d+)\b`)
	positionWd  = regexp.MustCompile(`(?i)\bposition\b`)
	chainTagRe  = regexp.MustCompile(`(?i)\b(?:chain|blockchain):\s*([a-z0-9.\-]+)`)
	connectorRe = regexp.MustCompile(`(?i)\b(?:on|in)\s+([a-z0-9.\-]+)`)
	protocolRe  = regexp.MustCompile(`(?i)\bprotocol:\s*([a-z0-9.\-]+)`)
	tokenTagRe  = regexp.MustCompile(`(?i)\b(?:token|symbol|crypto):\s*([a-z0-9.\-/]+)`)
	altForRe    = regexp.MustCompile(`(?i)\balternativ(?:es|as)\s+(?:for|to|para)\s+([a-z0-9.\-/]+)`)
	bareTokenRe = regexp.MustCompile(`\b[A-Z][A-Z0-9.]{1,9}\b`)
	apyCmpRe    = regexp.MustCompile(`(?i)\bapy\s*(>=|<=|>|<|=)\s*([\d,_]+(?:\.\d+)?)`)
	tvlCmpRe    = regexp.MustCompile(`(?i)\btvl\s*(>=|<=|>|<|=)\s*([\d,_]+(?:\.\d+)?\s*[kmb]?)`)
	bareAPYRe   = regexp.MustCompile(`(?i)\b(?:higher|more|better|best)\s+apy\b`)
	bareTVLRe   = regexp.MustCompile(`(?i)\b(?:higher|more|bigger|deeper)\s+tvl\b`)
	exposureRe  = regexp.MustCompile(`(?i)\bexposure:\s*(single|yield|multi|lp)\b`)
	poolIDRe    = regexp.MustCompile(`(?i)\bpool:\s*([a-z0-9\-]+)`)
	chartRe     = regexp.MustCompile(`(?i)\b(?:chart|graph)\b`)
	resetRe     = regexp.MustCompile(`(?i)\b(?:new analysis|re-?analy[sz]e|start over|reset)\b`)
)

// stopwords are never treated as protocol or token candidates.
var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "my": {}, "me": {}, "for": {}, "with": {},
	"and": {}, "or": {}, "of": {}, "to": {}, "apy": {}, "tvl": {}, "usd": {},
	"position": {}, "chain": {}, "protocol": {}, "token": {}, "pool": {},
	"pools": {}, "chart": {}, "graph": {}, "higher": {}, "more": {},
	"better": {}, "best": {}, "show": {}, "find": {}, "yield": {},
	"yields": {}, "opportunities": {}, "defi": {}, "on": {}, "in": {},
}

// Interpret parses one raw user turn. lastResults is the previous
// alternatives set, used to anchor bare "higher apy/tvl" phrases. The
// raw query is always appended to the context's history by Apply.
func (i *Interpreter) Interpret(ctx context.Context, raw string, lastResults []model.YieldPool) Update {
	var u Update
	if resetRe.MatchString(raw) {
		u.Reset = true
		return u
	}

	consumed := map[string]struct{}{}

	if m := positionRe.FindStringSubmatch(raw); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n >= 1 {
			idx := n - 1
			u.PositionIndex = &idx
		}
	} else if positionWd.MatchString(raw) && i.extractor != nil {
		if n, err := i.extractor.ExtractPosition(ctx, raw); err == nil && n >= 1 {
			idx := n - 1
			u.PositionIndex = &idx
		}
	}

	if m := chainTagRe.FindStringSubmatch(raw); m != nil {
		chain := NormalizeChain(m[1])
		u.Chain = &chain
		consumed[strings.ToLower(m[1])] = struct{}{}
	}
	if m := protocolRe.FindStringSubmatch(raw); m != nil {
		protocol := strings.ToLower(m[1])
		u.Protocol = &protocol
		consumed[protocol] = struct{}{}
	}
	for _, m := range connectorRe.FindAllStringSubmatch(raw, -1) {
		word := strings.ToLower(m[1])
		if _, done := consumed[word]; done {
			continue
		}
		if _, stop := stopwords[word]; stop {
			continue
		}
		if KnownChain(word) {
			if u.Chain == nil {
				chain := NormalizeChain(word)
				u.Chain = &chain
			}
		} else if u.Protocol == nil {
			u.Protocol = &word
		}
		consumed[word] = struct{}{}
	}

	if m := apyCmpRe.FindStringSubmatch(raw); m != nil {
		if value, ok := parseAmount(m[2]); ok {
			u.MinAPY = &model.Threshold{Op: model.OpFromString(m[1]), Value: value}
		}
	} else if bareAPYRe.MatchString(raw) {
		u.MinAPY = &model.Threshold{Op: model.OpGT, Value: anchorAPY(lastResults)}
	}
	if m := tvlCmpRe.FindStringSubmatch(raw); m != nil {
		if value, ok := parseAmount(m[2]); ok {
			u.MinTVL = &model.Threshold{Op: model.OpFromString(m[1]), Value: value}
		}
	} else if bareTVLRe.MatchString(raw) {
		u.MinTVL = &model.Threshold{Op: model.OpGT, Value: anchorTVL(lastResults)}
	}

	if m := exposureRe.FindStringSubmatch(raw); m != nil {
		kind := model.ExposureYield
		switch strings.ToLower(m[1]) {
		case "multi", "lp":
			kind = model.ExposureLP
		}
		u.Exposure = &kind
	}

	if chartRe.MatchString(raw) {
		u.WantChart = true
		if m := poolIDRe.FindStringSubmatch(raw); m != nil {
			u.ChartPoolID = m[1]
		}
	}

	if m := tokenTagRe.FindStringSubmatch(raw); m != nil {
		token := strings.ToUpper(m[1])
		u.Token = &token
	} else if m := altForRe.FindStringSubmatch(raw); m != nil && !isStopword(m[1]) {
		token := strings.ToUpper(m[1])
		u.Token = &token
	} else if u.Token == nil {
		if token := bareSymbol(raw, consumed); token != "" {
			u.Token = &token
		}
	}

	// The model fallback runs only when nothing identified a token and
	// the turn was not a pure filter adjustment.
	if u.Token == nil && i.extractor != nil && !i.filterOnly(u) {
		if token, err := i.extractor.ExtractToken(ctx, raw); err == nil {
			if cleaned := cleanSymbol(token); cleaned != "" {
				u.Token = &cleaned
			}
		}
	}
	return u
}

func (i *Interpreter) filterOnly(u Update) bool {
	return u.Chain != nil || u.Protocol != nil || u.MinAPY != nil || u.MinTVL != nil ||
		u.Exposure != nil || u.PositionIndex != nil || u.WantChart
}

// Apply folds an Update into a clone of the given FilterContext and
// returns it. The caller commits the clone only once the whole turn
// succeeds, so a failed turn never leaves the session half-mutated.
func Apply(fc *model.FilterContext, raw string, u Update) *model.FilterContext {
	next := fc.Clone()
	next.QueryHistory = append(next.QueryHistory, raw)

	if u.Reset {
		reset := &model.FilterContext{QueryHistory: next.QueryHistory}
		return reset
	}
	if u.PositionIndex != nil {
		next.SelectedPosition = u.PositionIndex
	}
	if u.Chain != nil {
		next.Chain = *u.Chain
	}
	if u.Protocol != nil {
		next.Protocol = *u.Protocol
	}
	if u.Token != nil {
		next.Token = *u.Token
	}
	if u.Exposure != nil {
		next.Exposure = *u.Exposure
	}
	if u.MinAPY != nil {
		next.MinAPY = u.MinAPY
	}
	if u.MinTVL != nil {
		next.MinTVL = u.MinTVL
	}
	return &next
}

func isStopword(word string) bool {
	_, stop := stopwords[strings.ToLower(word)]
	return stop
}

func bareSymbol(raw string, consumed map[string]struct{}) string {
	for _, candidate := range bareTokenRe.FindAllString(raw, -1) {
		lower := strings.ToLower(candidate)
		if _, stop := stopwords[lower]; stop {
			continue
		}
		if _, done := consumed[lower]; done {
			continue
		}
		if KnownChain(lower) {
			continue
		}
		return candidate
	}
	return ""
}

func cleanSymbol(raw string) string {
	cleaned := strings.ToUpper(strings.TrimSpace(raw))
	cleaned = strings.Trim(cleaned, `"'.`)
	if cleaned == "" || len(cleaned) > 12 || strings.ContainsAny(cleaned, " \n\t") {
		return ""
	}
	switch cleaned {
	case "NONE", "N/A", "UNKNOWN":
		return ""
	}
	return cleaned
}

func anchorAPY(last []model.YieldPool) float64 {
	best := 0.0
	for _, pool := range last {
		if pool.APY > best {
			best = pool.APY
		}
	}
	if best == 0 {
		return FallbackMinAPY
	}
	return best
}

func anchorTVL(last []model.YieldPool) float64 {
	best := 0.0
	for _, pool := range last {
		if pool.TVLUSD > best {
			best = pool.TVLUSD
		}
	}
	if best == 0 {
		return FallbackMinTVL
	}
	return best
}

// parseAmount reads "1,000", "2_500.5" or suffixed "1.5m" style numbers.
func parseAmount(raw string) (float64, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer(",", "", "_", "", " ", "").Replace(s)
	multiplier := 1.0
	switch {
	case strings.HasSuffix(s, "k"):
		multiplier, s = 1_000, strings.TrimSuffix(s, "k")
	case strings.HasSuffix(s, "m"):
		multiplier, s = 1_000_000, strings.TrimSuffix(s, "m")
	case strings.HasSuffix(s, "b"):
		multiplier, s = 1_000_000_000, strings.TrimSuffix(s, "b")
	}
	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return value * multiplier, true
}
