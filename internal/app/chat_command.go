package app

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	apperrors "github.com/ggonzalez94/defi-advisor/internal/errors"
	"github.com/ggonzalez94/defi-advisor/internal/filter"
	"github.com/ggonzalez94/defi-advisor/internal/model"
	"github.com/ggonzalez94/defi-advisor/internal/portfolio"
	"github.com/ggonzalez94/defi-advisor/internal/render"
	"github.com/ggonzalez94/defi-advisor/internal/session"
)

func (s *runtimeState) newChatCommand() *cobra.Command {
	var addresses []string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive conversation about your positions and yield opportunities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess := session.New()

			if len(addresses) > 0 {
				if err := validateAddresses(addresses); err != nil {
					return err
				}
				records, failures := s.loadPortfolio(cmd.Context(), addresses)
				for _, line := range failures {
					fmt.Fprintln(s.runner.stdout, line)
				}
				sess.SetPositions(records)
				if len(records) > 0 || len(failures) == 0 {
					fmt.Fprint(s.runner.stdout, render.Portfolio(records))
				}
			}

			fmt.Fprintln(s.runner.stdout, session.Greeting)
			scanner := bufio.NewScanner(s.runner.stdin)
			for {
				fmt.Fprint(s.runner.stdout, "you> ")
				if !scanner.Scan() {
					break
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if line == "exit" || line == "quit" {
					fmt.Fprintln(s.runner.stdout, "Bye!")
					break
				}
				if line == "portfolio" && len(sess.Positions()) > 0 {
					sess.Append(model.RoleUser, line)
					reply := render.Portfolio(sess.Positions())
					sess.Append(model.RoleAssistant, reply)
					fmt.Fprint(s.runner.stdout, reply)
					continue
				}
				reply := s.runTurn(cmd.Context(), sess, line, filter.BoundChat)
				fmt.Fprint(s.runner.stdout, reply)
			}
			return scanner.Err()
		},
	}
	cmd.Flags().StringSliceVar(&addresses, "address", nil, "Wallet address to preload (may repeat, up to 3)")
	return cmd
}

// loadPortfolio fetches and normalizes positions for each wallet,
// concatenating the records in the order the addresses were given. A
// wallet whose fetch fails produces one report line; the surviving
// wallets are still normalized and returned.
func (s *runtimeState) loadPortfolio(ctx context.Context, addresses []string) ([]model.PositionRecord, []string) {
	var records []model.PositionRecord
	var failures []string
	for _, addr := range addresses {
		payload, err := s.fetchPositions(ctx, addr)
		if err != nil {
			failures = append(failures, fmt.Sprintf("couldn't fetch positions for %s: %s", addr, errMessage(err)))
			continue
		}
		records = append(records, portfolio.Normalize(addr, payload)...)
	}
	return records, failures
}

func validateAddresses(addresses []string) error {
	if len(addresses) == 0 {
		return apperrors.New(apperrors.CodeUsage, "at least one wallet address is required")
	}
	if len(addresses) > 3 {
		return apperrors.New(apperrors.CodeUsage, "at most 3 wallet addresses are supported")
	}
	for _, addr := range addresses {
		if !common.IsHexAddress(addr) {
			return apperrors.New(apperrors.CodeUsage, fmt.Sprintf("invalid wallet address: %s", addr))
		}
	}
	return nil
}
