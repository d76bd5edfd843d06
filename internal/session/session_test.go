package session

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ggonzalez94/defi-advisor/internal/model"
)

func TestNewSessionStartsWithGreeting(t *testing.T) {
	s := New()
	if s.ID == "" {
		t.Fatal("session must carry an id")
	}
	transcript := s.Transcript()
	if len(transcript) != 1 || transcript[0].Role != model.RoleAssistant || transcript[0].Content != Greeting {
		t.Fatalf("unexpected initial transcript: %+v", transcript)
	}
}

func TestCommitReplacesContextAndResults(t *testing.T) {
	s := New()
	next := s.Context()
	next.Token = "USDC"
	results := []model.YieldPool{{PoolID: "p1", APY: 4.2}}
	s.Commit(next, results)

	if got := s.Context(); got.Token != "USDC" {
		t.Fatalf("committed context not visible: %+v", got)
	}
	if got := s.LastResults(); len(got) != 1 || got[0].PoolID != "p1" {
		t.Fatalf("committed results not visible: %+v", got)
	}
}

func TestSetContextLeavesResultsAlone(t *testing.T) {
	s := New()
	s.Commit(s.Context(), []model.YieldPool{{PoolID: "p1", APY: 4.2}})

	next := s.Context()
	next.QueryHistory = append(next.QueryHistory, "chain: arbitrum")
	next.Chain = "Arbitrum"
	s.SetContext(next)

	if got := s.Context(); got.Chain != "Arbitrum" || len(got.QueryHistory) != 1 {
		t.Fatalf("installed context not visible: %+v", got)
	}
	if got := s.LastResults(); len(got) != 1 || got[0].PoolID != "p1" {
		t.Fatalf("installing a context must not touch results: %+v", got)
	}
}

func TestContextReturnsCopy(t *testing.T) {
	s := New()
	first := s.Context()
	first.Chain = "Ethereum"
	if s.Context().Chain != "" {
		t.Fatal("mutating the returned context must not touch the session")
	}
}

func TestPositionLookupIsZeroBased(t *testing.T) {
	s := New()
	s.SetPositions([]model.PositionRecord{
		{TokenSymbol: "USDC", BalanceUSD: decimal.NewFromInt(100)},
		{TokenSymbol: "WETH", BalanceUSD: decimal.NewFromInt(200)},
	})

	record, ok := s.Position(1)
	if !ok || record.TokenSymbol != "WETH" {
		t.Fatalf("expected WETH at index 1, got %+v (ok=%v)", record, ok)
	}
	if _, ok := s.Position(2); ok {
		t.Fatal("out-of-range index must not resolve")
	}
	if _, ok := s.Position(-1); ok {
		t.Fatal("negative index must not resolve")
	}
}

func TestResetKeepsTranscriptAndHistory(t *testing.T) {
	s := New()
	ctx := s.Context()
	ctx.Token = "USDC"
	ctx.QueryHistory = append(ctx.QueryHistory, "usdc pools")
	s.Commit(ctx, []model.YieldPool{{PoolID: "p1"}})
	s.SetPositions([]model.PositionRecord{{TokenSymbol: "USDC"}})
	s.Append(model.RoleUser, "usdc pools")

	s.Reset()

	if got := s.Context(); got.Token != "" || len(got.QueryHistory) != 1 {
		t.Fatalf("reset must clear filters but keep history: %+v", got)
	}
	if len(s.Positions()) != 0 || len(s.LastResults()) != 0 {
		t.Fatal("reset must discard positions and results")
	}
	if len(s.Transcript()) != 2 {
		t.Fatalf("transcript must survive reset: %+v", s.Transcript())
	}
}
