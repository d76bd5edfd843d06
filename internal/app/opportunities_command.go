package app

import (
	"strings"

	"github.com/spf13/cobra"

	apperrors "github.com/ggonzalez94/defi-advisor/internal/errors"
	"github.com/ggonzalez94/defi-advisor/internal/filter"
	"github.com/ggonzalez94/defi-advisor/internal/model"
	"github.com/ggonzalez94/defi-advisor/internal/query"
	"github.com/ggonzalez94/defi-advisor/internal/render"
	"github.com/ggonzalez94/defi-advisor/internal/session"
)

func (s *runtimeState) newOpportunitiesCommand() *cobra.Command {
	var chainArg, tokenArg, protocolArg, exposureArg string
	var minAPY, minTVL float64
	var limit int
	var table bool

	cmd := &cobra.Command{
		Use:   "opportunities [free-text query]",
		Short: "Search yield opportunities by query or structured filters",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess := session.New()
			raw := strings.TrimSpace(strings.Join(args, " "))

			fc := sess.Context()
			if raw != "" {
				update := s.interp.Interpret(cmd.Context(), raw, nil)
				fc = query.Apply(fc, raw, update)
			}
			if chainArg != "" {
				fc.Chain = query.NormalizeChain(chainArg)
			}
			if tokenArg != "" {
				fc.Token = strings.ToUpper(strings.TrimSpace(tokenArg))
			}
			if protocolArg != "" {
				fc.Protocol = strings.ToLower(strings.TrimSpace(protocolArg))
			}
			if exposureArg != "" {
				kind, err := parseExposure(exposureArg)
				if err != nil {
					return err
				}
				fc.Exposure = kind
			}
			if minAPY > 0 {
				fc.MinAPY = &model.Threshold{Op: model.OpGT, Value: minAPY}
			}
			if minTVL > 0 {
				fc.MinTVL = &model.Threshold{Op: model.OpGT, Value: minTVL}
			}
			if !fc.HasFilters() {
				return apperrors.New(apperrors.CodeUsage, "provide a query or at least one filter flag")
			}

			catalog, warning, err := s.fetchCatalog(cmd.Context())
			if err != nil {
				return err
			}
			bound := limit
			if bound <= 0 || bound > filter.BoundDashboard {
				bound = filter.BoundDashboard
			}
			res := filter.Run(catalog, fc, bound)
			fc.AppliedFilters = res.Applied
			sess.Commit(fc, res.Pools)

			text := warning + render.Opportunities(res)
			if table && len(res.Pools) > 0 {
				text += render.OpportunityTable(res.Pools)
			}
			return s.emit(sess.ID, text, map[string]any{
				"pools":           res.Pools,
				"applied_filters": res.Applied,
				"steps":           res.Steps,
			})
		},
	}
	cmd.Flags().StringVar(&chainArg, "chain", "", "Chain name or alias (eth, arb, avax, ...)")
	cmd.Flags().StringVar(&tokenArg, "token", "", "Token symbol (USDC matches bridged variants)")
	cmd.Flags().StringVar(&protocolArg, "protocol", "", "Protocol name (substring match on project)")
	cmd.Flags().StringVar(&exposureArg, "exposure", "", "Exposure kind (single|lp)")
	cmd.Flags().Float64Var(&minAPY, "min-apy", 0, "Minimum APY percent")
	cmd.Flags().Float64Var(&minTVL, "min-tvl", 0, "Minimum TVL in USD")
	cmd.Flags().IntVar(&limit, "limit", filter.BoundDashboard, "Maximum results (up to 10)")
	cmd.Flags().BoolVar(&table, "table", false, "Also print an aligned table")
	return cmd
}

func parseExposure(raw string) (model.ExposureKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "single", "yield":
		return model.ExposureYield, nil
	case "multi", "lp":
		return model.ExposureLP, nil
	default:
		return model.ExposureNone, apperrors.New(apperrors.CodeUsage, "exposure must be single or lp")
	}
}
