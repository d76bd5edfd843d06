package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ggonzalez94/defi-advisor/internal/cache"
	apperrors "github.com/ggonzalez94/defi-advisor/internal/errors"
	"github.com/ggonzalez94/defi-advisor/internal/filter"
	"github.com/ggonzalez94/defi-advisor/internal/model"
	"github.com/ggonzalez94/defi-advisor/internal/providers/defillama"
	"github.com/ggonzalez94/defi-advisor/internal/query"
	"github.com/ggonzalez94/defi-advisor/internal/render"
	"github.com/ggonzalez94/defi-advisor/internal/session"
)

// runTurn processes one conversational turn end to end: interpret the
// raw query, fold it into the filter context, fetch and filter the
// catalog, and render the reply. The interpreted context is installed
// as soon as interpretation finishes, so the query history and filter
// updates survive any later fetch failure; the result set is committed
// only on success.
func (s *runtimeState) runTurn(ctx context.Context, sess *session.Session, raw string, bound int) string {
	sess.Append(model.RoleUser, raw)
	reply := s.answerTurn(ctx, sess, raw, bound)
	sess.Append(model.RoleAssistant, reply)
	return reply
}

func (s *runtimeState) answerTurn(ctx context.Context, sess *session.Session, raw string, bound int) string {
	update := s.interp.Interpret(ctx, raw, sess.LastResults())
	next := query.Apply(sess.Context(), raw, update)
	s.logger.Debug("interpreted turn",
		zap.String("query", raw),
		zap.Bool("reset", update.Reset),
		zap.Bool("chart", update.WantChart))

	if update.Reset {
		sess.Reset()
		sess.SetContext(next)
		return "Starting fresh. Your filters and cached positions are cleared - ask me anything.\n"
	}

	var prefix string
	var selected *model.PositionRecord
	if update.PositionIndex != nil {
		record, ok := sess.Position(*update.PositionIndex)
		if !ok {
			sess.SetContext(next)
			count := len(sess.Positions())
			if count == 0 {
				return "I don't have your positions yet. Run the portfolio command (or ask me to analyze a wallet) first.\n"
			}
			return fmt.Sprintf("I only see %d position(s), so position %d doesn't exist. Pick one between 1 and %d.\n",
				count, *update.PositionIndex+1, count)
		}
		// Seed the search with the selected position's chain and token so
		// "position N" alone already means "alternatives for it". Composite
		// "A/B" symbols stay intact; the token stage matches either leg.
		next.Chain = query.NormalizeChain(record.Chain)
		next.Token = strings.ToUpper(record.TokenSymbol)
		prefix = render.Position(*update.PositionIndex+1, record)
		selected = &record
	}

	// Interpretation is complete. Install the context before any fetch so
	// the query history and filter updates survive a collaborator failure.
	sess.SetContext(next)

	if update.WantChart {
		return prefix + s.answerChart(ctx, sess, next, update.ChartPoolID, bound)
	}

	catalog, warning, err := s.fetchCatalog(ctx)
	if err != nil {
		return "I couldn't reach the yields catalog right now (" + errMessage(err) + "). Your filters are saved - try again in a moment.\n"
	}

	if !next.HasFilters() {
		sess.Commit(next, nil)
		if prefix != "" {
			return prefix
		}
		return "Tell me what to look for: a token (USDC, WETH), a chain (arbitrum, base), a protocol, or a minimum APY/TVL.\n"
	}

	res := filter.Run(catalog, next, bound)
	next.AppliedFilters = res.Applied
	sess.Commit(next, res.Pools)
	s.logger.Debug("filtered catalog",
		zap.Int("catalog", len(catalog)),
		zap.Int("results", len(res.Pools)),
		zap.Strings("applied", res.Applied))
	return prefix + warning + render.Opportunities(res) + s.positionAnalysis(ctx, selected, res.Pools)
}

// positionAnalysis asks the model for a short comparison of the selected
// position against the alternatives. Keyless sessions and model failures
// degrade to no analysis at all.
func (s *runtimeState) positionAnalysis(ctx context.Context, selected *model.PositionRecord, alternatives []model.YieldPool) string {
	if selected == nil || s.analyzer == nil || len(alternatives) == 0 {
		return ""
	}
	analysis, err := s.analyzer.Analyze(ctx, *selected, alternatives)
	if err != nil || analysis == "" {
		s.logger.Debug("position analysis skipped", zap.Error(err))
		return ""
	}
	return "\nAnalysis: " + analysis + "\n"
}

func (s *runtimeState) answerChart(ctx context.Context, sess *session.Session, next *model.FilterContext, poolID string, bound int) string {
	if poolID == "" {
		// No explicit pool: chart the top result of this turn's filters,
		// or of the previous turn when no filters are set.
		pools := sess.LastResults()
		if next.HasFilters() {
			catalog, _, err := s.fetchCatalog(ctx)
			if err != nil {
				return "I couldn't reach the yields catalog right now (" + errMessage(err) + ").\n"
			}
			res := filter.Run(catalog, next, bound)
			pools = res.Pools
			next.AppliedFilters = res.Applied
			sess.Commit(next, res.Pools)
		}
		if len(pools) == 0 {
			return "I need a pool to chart. Search for opportunities first, or say \"chart pool: <id>\".\n"
		}
		poolID = pools[0].PoolID
	}

	points, err := s.fetchChart(ctx, poolID)
	if err != nil {
		if errors.Is(err, defillama.ErrInsufficientData) {
			return fmt.Sprintf("Pool %s doesn't have enough historical data to chart yet.\n", poolID)
		}
		return "I couldn't fetch the APY history (" + errMessage(err) + ").\n"
	}
	return render.Chart(poolID, points)
}

// fetchCatalog returns the yields catalog, through the cache when
// enabled. A fresh fetch failure falls back to a stale entry within the
// max-stale budget, with a warning the reply surfaces.
func (s *runtimeState) fetchCatalog(ctx context.Context) ([]model.YieldPool, string, error) {
	key := cache.PoolsKey()
	var stale []model.YieldPool
	staleAvailable := false

	if s.cacheEnabled() {
		cached, err := s.cache.Get(key, s.settings.MaxStale)
		if err == nil && cached.Hit && !cached.TooStale {
			var pools []model.YieldPool
			if err := json.Unmarshal(cached.Value, &pools); err == nil {
				if !cached.Stale {
					return pools, "", nil
				}
				stale = pools
				staleAvailable = true
			}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.settings.Timeout)
	defer cancel()
	pools, err := s.catalog.Pools(ctx)
	if err != nil {
		if staleAvailable && staleFallbackAllowed(err) {
			s.logger.Warn("serving stale catalog", zap.Error(err))
			return stale, "(using slightly stale catalog data; the yields source is unreachable)\n", nil
		}
		return nil, "", err
	}

	if s.cacheEnabled() {
		if payload, err := json.Marshal(pools); err == nil {
			_ = s.cache.Set(key, payload, s.settings.CatalogTTL)
		}
	}
	return pools, "", nil
}

func (s *runtimeState) fetchChart(ctx context.Context, poolID string) ([]model.SeriesPoint, error) {
	key := cache.ChartKey(poolID)
	if s.cacheEnabled() {
		cached, err := s.cache.Get(key, s.settings.MaxStale)
		if err == nil && cached.Hit && !cached.Stale {
			var points []model.SeriesPoint
			if err := json.Unmarshal(cached.Value, &points); err == nil {
				return points, nil
			}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.settings.Timeout)
	defer cancel()
	points, err := s.charts.Chart(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if s.cacheEnabled() {
		if payload, err := json.Marshal(points); err == nil {
			_ = s.cache.Set(key, payload, s.settings.CatalogTTL)
		}
	}
	return points, nil
}

// fetchPositions returns one wallet's raw position payload, through the
// cache.
func (s *runtimeState) fetchPositions(ctx context.Context, address string) (json.RawMessage, error) {
	key := cache.PositionsKey(address)
	if s.cacheEnabled() {
		cached, err := s.cache.Get(key, s.settings.MaxStale)
		if err == nil && cached.Hit && !cached.Stale {
			return json.RawMessage(cached.Value), nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.settings.Timeout)
	defer cancel()
	payload, err := s.positions.Positions(ctx, address)
	if err != nil {
		return nil, err
	}
	if s.cacheEnabled() {
		_ = s.cache.Set(key, payload, s.settings.CatalogTTL)
	}
	return payload, nil
}

func (s *runtimeState) cacheEnabled() bool {
	return s.settings.CacheEnabled && s.cache != nil
}

func staleFallbackAllowed(err error) bool {
	appErr, ok := apperrors.As(err)
	if !ok {
		return false
	}
	return appErr.Code == apperrors.CodeUnavailable || appErr.Code == apperrors.CodeRateLimited
}

func errMessage(err error) string {
	if appErr, ok := apperrors.As(err); ok {
		return appErr.Message
	}
	return err.Error()
}
