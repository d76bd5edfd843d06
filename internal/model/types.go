package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const EnvelopeVersion = "v1"

// Module classifies a position inside a protocol.
type Module string

const (
	ModuleSupply        Module = "Supply"
	ModuleLiquidityPool Module = "Liquidity Pool"
	ModuleOther         Module = "Other"
)

// DustThresholdUSD is the minimum balance a position must exceed to be
// reported at all. Positions at or below it are dropped at creation time.
var DustThresholdUSD = decimal.NewFromInt(5)

// PositionRecord is one flattened wallet position. Pooled pairs carry a
// composite "A/B" token symbol and the summed balance of the pair.
type PositionRecord struct {
	Wallet      string          `json:"wallet"`
	Chain       string          `json:"chain"`
	Protocol    string          `json:"protocol"`
	Module      Module          `json:"module"`
	TokenSymbol string          `json:"token_symbol"`
	BalanceUSD  decimal.Decimal `json:"balance_usd"`
}

// YieldPool is one yield opportunity from the catalog collaborator.
type YieldPool struct {
	PoolID   string       `json:"pool_id"`
	Symbol   string       `json:"symbol"`
	Project  string       `json:"project"`
	Chain    string       `json:"chain"`
	APY      float64      `json:"apy"`
	TVLUSD   float64      `json:"tvl_usd"`
	Exposure ExposureKind `json:"exposure,omitempty"`
	ILRisk   string       `json:"il_risk,omitempty"`
}

// ExposureKind is the user-facing pool-shape filter.
type ExposureKind string

const (
	ExposureNone  ExposureKind = ""
	ExposureYield ExposureKind = "yield" // single-asset pools
	ExposureLP    ExposureKind = "lp"    // multi-asset pools
)

// Op is a comparison operator recognized in APY/TVL filters.
type Op string

const (
	OpGT Op = ">"
	OpGE Op = ">="
	OpLT Op = "<"
	OpLE Op = "<="
	OpEQ Op = "="
)

// OpFromString maps a raw comparator token to an Op, defaulting to OpGT
// for anything unrecognized.
func OpFromString(raw string) Op {
	switch Op(strings.TrimSpace(raw)) {
	case OpGE:
		return OpGE
	case OpLT:
		return OpLT
	case OpLE:
		return OpLE
	case OpEQ:
		return OpEQ
	default:
		return OpGT
	}
}

// Threshold is an (operator, value) pair for a numeric filter.
type Threshold struct {
	Op    Op      `json:"op"`
	Value float64 `json:"value"`
}

func (t Threshold) Matches(v float64) bool {
	switch t.Op {
	case OpGT:
		return v > t.Value
	case OpGE:
		return v >= t.Value
	case OpLT:
		return v < t.Value
	case OpLE:
		return v <= t.Value
	case OpEQ:
		return v == t.Value
	default:
		return false
	}
}

// Relax halves the threshold value. Applied exactly once when the strict
// predicate empties the candidate set.
func (t Threshold) Relax() Threshold {
	return Threshold{Op: t.Op, Value: t.Value / 2}
}

func (t Threshold) String() string {
	return fmt.Sprintf("%s %s", t.Op, trimFloat(t.Value))
}

func trimFloat(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}

// FilterContext is the sticky per-session filter state. Unset fields persist
// across turns until overridden; only an explicit reset clears everything.
type FilterContext struct {
	// SelectedPosition is a 0-based index into the session's positions.
	// The chat surface is 1-based: "position 1" selects index 0.
	SelectedPosition *int         `json:"selected_position,omitempty"`
	Chain            string       `json:"chain,omitempty"`
	Protocol         string       `json:"protocol,omitempty"`
	Token            string       `json:"token,omitempty"`
	Exposure         ExposureKind `json:"exposure,omitempty"`
	MinAPY           *Threshold   `json:"min_apy,omitempty"`
	MinTVL           *Threshold   `json:"min_tvl,omitempty"`
	AppliedFilters   []string     `json:"applied_filters,omitempty"`
	QueryHistory     []string     `json:"query_history,omitempty"`
}

// Clone returns a deep copy so a turn can be interpreted without mutating
// the session until the update commits.
func (c FilterContext) Clone() FilterContext {
	out := c
	if c.SelectedPosition != nil {
		idx := *c.SelectedPosition
		out.SelectedPosition = &idx
	}
	if c.MinAPY != nil {
		th := *c.MinAPY
		out.MinAPY = &th
	}
	if c.MinTVL != nil {
		th := *c.MinTVL
		out.MinTVL = &th
	}
	out.AppliedFilters = append([]string(nil), c.AppliedFilters...)
	out.QueryHistory = append([]string(nil), c.QueryHistory...)
	return out
}

// HasFilters reports whether any pool filter is set.
func (c FilterContext) HasFilters() bool {
	return c.Chain != "" || c.Protocol != "" || c.Token != "" ||
		c.Exposure != ExposureNone || c.MinAPY != nil || c.MinTVL != nil
}

// Role identifies the author of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationMessage is one entry of the append-only chat transcript.
type ConversationMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SeriesPoint is one cleaned sample of a pool's APY history.
type SeriesPoint struct {
	Timestamp time.Time `json:"timestamp"`
	APY       float64   `json:"apy"`
}

// Envelope wraps command output for --json mode.
type Envelope struct {
	Version string       `json:"version"`
	Success bool         `json:"success"`
	Data    any          `json:"data,omitempty"`
	Error   *ErrorBody   `json:"error"`
	Meta    EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type EnvelopeMeta struct {
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Command   string    `json:"command"`
}
