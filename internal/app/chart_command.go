package app

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	apperrors "github.com/ggonzalez94/defi-advisor/internal/errors"
	"github.com/ggonzalez94/defi-advisor/internal/providers/defillama"
	"github.com/ggonzalez94/defi-advisor/internal/render"
	"github.com/ggonzalez94/defi-advisor/internal/session"
)

func (s *runtimeState) newChartCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chart <pool-id>",
		Short: "Show APY history for one yield pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			poolID := strings.TrimSpace(args[0])
			points, err := s.fetchChart(cmd.Context(), poolID)
			if err != nil {
				if errors.Is(err, defillama.ErrInsufficientData) {
					return apperrors.New(apperrors.CodeUnavailable, "not enough historical data for pool "+poolID)
				}
				return err
			}
			return s.emit(session.New().ID, render.Chart(poolID, points), points)
		},
	}
	return cmd
}
