package query

import (
	"context"
	"errors"
	"testing"

	"github.com/ggonzalez94/defi-advisor/internal/model"
)

type fakeExtractor struct {
	token    string
	position int
	err      error
	calls    int
}

func (f *fakeExtractor) ExtractToken(ctx context.Context, query string) (string, error) {
	f.calls++
	return f.token, f.err
}

func (f *fakeExtractor) ExtractPosition(ctx context.Context, query string) (int, error) {
	f.calls++
	return f.position, f.err
}

func TestInterpretPositionReferenceIsOneBased(t *testing.T) {
	u := New(nil).Interpret(context.Background(), "tell me about position 2", nil)
	if u.PositionIndex == nil || *u.PositionIndex != 1 {
		t.Fatalf("expected stored index 1 for surface position 2, got %+v", u.PositionIndex)
	}
}

func TestInterpretChainAliasAndThresholds(t *testing.T) {
	u := New(nil).Interpret(context.Background(), "opportunities on avax with apy > 4.5 and tvl >= 2m", nil)
	if u.Chain == nil || *u.Chain != "Avalanche" {
		t.Fatalf("expected avax alias resolved, got %+v", u.Chain)
	}
	if u.MinAPY == nil || u.MinAPY.Op != model.OpGT || u.MinAPY.Value != 4.5 {
		t.Fatalf("unexpected apy threshold: %+v", u.MinAPY)
	}
	if u.MinTVL == nil || u.MinTVL.Op != model.OpGE || u.MinTVL.Value != 2_000_000 {
		t.Fatalf("unexpected tvl threshold: %+v", u.MinTVL)
	}
}

func TestInterpretProtocolViaConnector(t *testing.T) {
	u := New(nil).Interpret(context.Background(), "what can I do in aave", nil)
	if u.Protocol == nil || *u.Protocol != "aave" {
		t.Fatalf("expected protocol aave, got %+v", u.Protocol)
	}
	if u.Chain != nil {
		t.Fatalf("aave is not a chain: %+v", u.Chain)
	}
}

func TestInterpretBareHigherAPYAnchorsOnLastResults(t *testing.T) {
	last := []model.YieldPool{{APY: 3.2}, {APY: 7.8}}
	u := New(nil).Interpret(context.Background(), "show me something with higher apy", last)
	if u.MinAPY == nil || u.MinAPY.Value != 7.8 || u.MinAPY.Op != model.OpGT {
		t.Fatalf("expected anchor on best prior apy, got %+v", u.MinAPY)
	}

	u = New(nil).Interpret(context.Background(), "show me something with higher apy", nil)
	if u.MinAPY == nil || u.MinAPY.Value != FallbackMinAPY {
		t.Fatalf("expected fallback constant without prior results, got %+v", u.MinAPY)
	}
}

func TestInterpretBareSymbolSkipsNoiseWords(t *testing.T) {
	u := New(nil).Interpret(context.Background(), "best APY for WETH please", nil)
	if u.Token == nil || *u.Token != "WETH" {
		t.Fatalf("expected WETH token, got %+v", u.Token)
	}
}

func TestInterpretAlternativesForPhrase(t *testing.T) {
	u := New(nil).Interpret(context.Background(), "alternatives for wbtc", nil)
	if u.Token == nil || *u.Token != "WBTC" {
		t.Fatalf("expected WBTC from the alternatives phrase, got %+v", u.Token)
	}

	ext := &fakeExtractor{token: "SHOULD-NOT-RUN"}
	New(ext).Interpret(context.Background(), "show alternatives for usdc", nil)
	if ext.calls != 0 {
		t.Fatalf("deterministic phrase must not hit the extractor")
	}

	u = New(nil).Interpret(context.Background(), "alternatives for my portfolio", nil)
	if u.Token != nil {
		t.Fatalf("noise words after the phrase must not become tokens, got %+v", u.Token)
	}
}

func TestInterpretChartWithPoolID(t *testing.T) {
	u := New(nil).Interpret(context.Background(), "graph pool: 747c1d2a-c668-4682-b9f9-296708a3dd90", nil)
	if !u.WantChart || u.ChartPoolID != "747c1d2a-c668-4682-b9f9-296708a3dd90" {
		t.Fatalf("unexpected chart request: %+v", u)
	}
}

func TestInterpretModelFallbackOnlyWhenNeeded(t *testing.T) {
	ext := &fakeExtractor{token: "pepe"}
	u := New(ext).Interpret(context.Background(), "what about that frog coin everyone talks about", nil)
	if u.Token == nil || *u.Token != "PEPE" {
		t.Fatalf("expected extractor token normalized uppercase, got %+v", u.Token)
	}
	if ext.calls != 1 {
		t.Fatalf("expected one extractor call, got %d", ext.calls)
	}

	ext = &fakeExtractor{token: "USDC"}
	u = New(ext).Interpret(context.Background(), "filter by chain: polygon", nil)
	if ext.calls != 0 {
		t.Fatalf("filter-only turn must not hit the extractor")
	}
	if u.Chain == nil || *u.Chain != "Polygon" {
		t.Fatalf("expected polygon chain, got %+v", u.Chain)
	}
}

func TestInterpretExtractorFailureIsSilent(t *testing.T) {
	ext := &fakeExtractor{err: errors.New("model timeout")}
	u := New(ext).Interpret(context.Background(), "anything interesting out there", nil)
	if u.Token != nil {
		t.Fatalf("extractor failure must yield no token, got %+v", u.Token)
	}
}

func TestApplyKeepsStickyFiltersAndHistory(t *testing.T) {
	fc := &model.FilterContext{Chain: "Ethereum", QueryHistory: []string{"first"}}
	token := "USDC"
	next := Apply(fc, "usdc pools", Update{Token: &token})

	if next.Chain != "Ethereum" {
		t.Fatalf("unset fields must persist, got %+v", next)
	}
	if next.Token != "USDC" {
		t.Fatalf("token update not applied: %+v", next)
	}
	if len(next.QueryHistory) != 2 || next.QueryHistory[1] != "usdc pools" {
		t.Fatalf("raw query must be appended to history: %v", next.QueryHistory)
	}
	if fc.Token != "" || len(fc.QueryHistory) != 1 {
		t.Fatalf("input context must not be mutated: %+v", fc)
	}
}

func TestApplyResetClearsFiltersKeepsHistory(t *testing.T) {
	idx := 0
	fc := &model.FilterContext{Chain: "Ethereum", Token: "USDC", SelectedPosition: &idx, QueryHistory: []string{"old"}}
	next := Apply(fc, "start over", Update{Reset: true})
	if next.Chain != "" || next.Token != "" || next.SelectedPosition != nil {
		t.Fatalf("reset must clear filters: %+v", next)
	}
	if len(next.QueryHistory) != 2 {
		t.Fatalf("reset keeps query history: %v", next.QueryHistory)
	}
}
