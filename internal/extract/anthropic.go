// Package extract implements the model-backed fallback classifier for
// free-text turns that deterministic parsing cannot resolve.
package extract

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	apperrors "github.com/ggonzalez94/defi-advisor/internal/errors"
	"github.com/ggonzalez94/defi-advisor/internal/model"
	"github.com/ggonzalez94/defi-advisor/internal/render"
)

const (
	tokenSystemPrompt = "You extract cryptocurrency token symbols from user messages about DeFi yields. " +
		"Reply with only the token symbol in uppercase (e.g. USDC, WETH). " +
		"If no token is mentioned, reply with exactly NONE."

	positionSystemPrompt = "You extract portfolio position numbers from user messages. " +
		"Reply with only the number (e.g. 2). If no position is mentioned, reply with exactly NONE."

	analysisSystemPrompt = "You are a concise DeFi advisor. Briefly compare the user's current position " +
		"against the listed alternatives. Reply in under 100 words and end with one clear recommendation."

	extractMaxTokens  = 16
	analysisMaxTokens = 300
)

// Anthropic is a single-purpose classification client. Each call is one
// short completion with a constrained system prompt; the caller treats
// any failure as "nothing extracted".
type Anthropic struct {
	client anthropic.Client
	model  anthropic.Model
}

func NewAnthropic(apiKey, model string, opts ...option.RequestOption) (*Anthropic, error) {
	if apiKey == "" {
		return nil, apperrors.New(apperrors.CodeAuth, "anthropic api key is not configured")
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Anthropic{
		client: anthropic.NewClient(opts...),
		model:  anthropic.Model(model),
	}, nil
}

func (a *Anthropic) ExtractToken(ctx context.Context, query string) (string, error) {
	reply, err := a.complete(ctx, tokenSystemPrompt, query, extractMaxTokens)
	if err != nil {
		return "", err
	}
	reply = strings.ToUpper(reply)
	if reply == "" || reply == "NONE" {
		return "", nil
	}
	return reply, nil
}

func (a *Anthropic) ExtractPosition(ctx context.Context, query string) (int, error) {
	reply, err := a.complete(ctx, positionSystemPrompt, query, extractMaxTokens)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.ToUpper(reply))
	if err != nil || n < 1 {
		return 0, nil
	}
	return n, nil
}

// Analyze produces a short comparison of one portfolio position against
// the alternatives the filter engine found for it.
func (a *Anthropic) Analyze(ctx context.Context, position model.PositionRecord, alternatives []model.YieldPool) (string, error) {
	var b strings.Builder
	b.WriteString("Current position:\n")
	fmt.Fprintf(&b, "- Token: %s\n- Protocol: %s\n- Balance USD: $%s\n",
		position.TokenSymbol, position.Protocol, render.FormatNumber(position.BalanceUSD.InexactFloat64()))
	b.WriteString("\nAlternatives:\n")
	for _, alt := range alternatives {
		fmt.Fprintf(&b, "- %s on %s: %s (APY %.2f%%, TVL $%s)\n",
			alt.Project, alt.Chain, alt.Symbol, alt.APY, render.FormatNumber(alt.TVLUSD))
	}
	return a.complete(ctx, analysisSystemPrompt, b.String(), analysisMaxTokens)
}

func (a *Anthropic) complete(ctx context.Context, system, message string, maxTokens int64) (string, error) {
	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: maxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(message)),
		},
	})
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeUnavailable, "anthropic completion failed", err)
	}
	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(out.String()), nil
}
