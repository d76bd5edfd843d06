package app

import (
	"strings"

	"github.com/spf13/cobra"

	apperrors "github.com/ggonzalez94/defi-advisor/internal/errors"
	"github.com/ggonzalez94/defi-advisor/internal/render"
	"github.com/ggonzalez94/defi-advisor/internal/session"
)

func (s *runtimeState) newPortfolioCommand() *cobra.Command {
	var addresses []string
	cmd := &cobra.Command{
		Use:   "portfolio --address <addr> [--address <addr>]",
		Short: "Fetch and summarize DeFi positions for up to 3 wallets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateAddresses(addresses); err != nil {
				return err
			}
			records, failures := s.loadPortfolio(cmd.Context(), addresses)
			if len(records) == 0 && len(failures) > 0 {
				return apperrors.New(apperrors.CodeUnavailable, strings.Join(failures, "; "))
			}
			sess := session.New()
			sess.SetPositions(records)

			var b strings.Builder
			for _, line := range failures {
				b.WriteString(line + "\n")
			}
			b.WriteString(render.Portfolio(records))
			return s.emit(sess.ID, b.String(), map[string]any{
				"positions": records,
				"failures":  failures,
			})
		},
	}
	cmd.Flags().StringSliceVar(&addresses, "address", nil, "Wallet address (may repeat, up to 3)")
	return cmd
}
