package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ggonzalez94/defi-advisor/internal/cache"
	"github.com/ggonzalez94/defi-advisor/internal/config"
	apperrors "github.com/ggonzalez94/defi-advisor/internal/errors"
	"github.com/ggonzalez94/defi-advisor/internal/extract"
	"github.com/ggonzalez94/defi-advisor/internal/httpx"
	"github.com/ggonzalez94/defi-advisor/internal/model"
	"github.com/ggonzalez94/defi-advisor/internal/providers/defillama"
	"github.com/ggonzalez94/defi-advisor/internal/providers/merlin"
	"github.com/ggonzalez94/defi-advisor/internal/query"
	"github.com/ggonzalez94/defi-advisor/internal/version"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	stdin  io.Reader
	now    func() time.Time
}

func NewRunner() *Runner {
	return NewRunnerWithStreams(os.Stdout, os.Stderr, os.Stdin)
}

func NewRunnerWithStreams(stdout, stderr io.Writer, stdin io.Reader) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		stdin:  stdin,
		now:    time.Now,
	}
}

// catalogFetcher, chartFetcher and positionsFetcher are the external
// collaborators a turn talks to. The concrete clients satisfy them; tests
// substitute fakes.
type catalogFetcher interface {
	Pools(ctx context.Context) ([]model.YieldPool, error)
}

type chartFetcher interface {
	Chart(ctx context.Context, poolID string) ([]model.SeriesPoint, error)
}

type positionsFetcher interface {
	Positions(ctx context.Context, address string) (json.RawMessage, error)
}

// positionAnalyzer compares a selected position against the alternatives
// found for it. Absent when no model key is configured.
type positionAnalyzer interface {
	Analyze(ctx context.Context, position model.PositionRecord, alternatives []model.YieldPool) (string, error)
}

type runtimeState struct {
	runner   *Runner
	flags    config.GlobalFlags
	settings config.Settings
	cache    *cache.Store
	logger   *zap.Logger

	catalog   catalogFetcher
	charts    chartFetcher
	positions positionsFetcher
	interp    *query.Interpreter
	analyzer  positionAnalyzer

	lastCommand string
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r, logger: zap.NewNop()}
	root := state.newRootCommand()
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := normalizeRunError(root.Execute())
	if state.cache != nil {
		_ = state.cache.Close()
	}
	_ = state.logger.Sync()
	if err == nil {
		return 0
	}
	state.renderError(err)
	return apperrors.ExitCode(err)
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Conversational DeFi portfolio and yield advisor",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return apperrors.Wrap(apperrors.CodeUsage, "load configuration", err)
			}
			s.settings = settings
			s.lastCommand = trimRootPath(cmd.CommandPath())

			if settings.Verbose {
				s.logger = newVerboseLogger(s.runner.stderr)
			}

			if s.catalog == nil {
				httpClient := httpx.New(settings.Timeout, settings.Retries)
				llama := defillama.New(httpClient, "")
				s.catalog = llama
				s.charts = llama
				s.positions = merlin.New(httpClient, settings.MerlinBaseURL, settings.MerlinAPIKey)
			}
			if s.interp == nil {
				var extractor query.SymbolExtractor
				if settings.AnthropicAPIKey != "" {
					if client, err := extract.NewAnthropic(settings.AnthropicAPIKey, settings.Model); err == nil {
						extractor = client
						s.analyzer = client
					}
				}
				s.interp = query.New(extractor)
			}

			if settings.CacheEnabled && s.cache == nil {
				store, err := cache.Open(settings.CachePath, settings.CacheLockPath)
				if err != nil {
					return apperrors.Wrap(apperrors.CodeInternal, "open cache", err)
				}
				s.cache = store
			}
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return apperrors.Wrap(apperrors.CodeUsage, "parse flags", err)
	})

	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")
	cmd.PersistentFlags().BoolVar(&s.flags.JSON, "json", false, "Output JSON envelopes")
	cmd.PersistentFlags().BoolVar(&s.flags.Plain, "plain", false, "Output plain text (default)")
	cmd.PersistentFlags().BoolVarP(&s.flags.Verbose, "verbose", "v", false, "Log turn diagnostics to stderr")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "External call timeout (e.g. 10s)")
	cmd.PersistentFlags().BoolVar(&s.flags.NoCache, "no-cache", false, "Disable catalog and position caching")

	cmd.AddCommand(s.newChatCommand())
	cmd.AddCommand(s.newPortfolioCommand())
	cmd.AddCommand(s.newOpportunitiesCommand())
	cmd.AddCommand(s.newChartCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

// emit writes one command result: a JSON envelope under --json, the
// pre-rendered text otherwise.
func (s *runtimeState) emit(sessionID, text string, data any) error {
	if s.settings.OutputMode == "json" {
		env := model.Envelope{
			Version: model.EnvelopeVersion,
			Success: true,
			Data:    data,
			Meta: model.EnvelopeMeta{
				SessionID: sessionID,
				Timestamp: s.runner.now().UTC(),
				Command:   s.lastCommand,
			},
		}
		enc := json.NewEncoder(s.runner.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(env)
	}
	_, err := fmt.Fprint(s.runner.stdout, text)
	return err
}

func (s *runtimeState) renderError(err error) {
	code := apperrors.ExitCode(err)
	typ := "internal_error"
	message := err.Error()
	if appErr, ok := apperrors.As(err); ok {
		message = appErr.Message
		if appErr.Cause != nil {
			message = fmt.Sprintf("%s: %v", appErr.Message, appErr.Cause)
		}
		switch appErr.Code {
		case apperrors.CodeUsage:
			typ = "usage_error"
		case apperrors.CodeAuth:
			typ = "auth_error"
		case apperrors.CodeRateLimited:
			typ = "rate_limited"
		case apperrors.CodeUnavailable:
			typ = "upstream_unavailable"
		case apperrors.CodeUnsupported:
			typ = "unsupported"
		case apperrors.CodeStale:
			typ = "stale_data"
		}
	}

	if s.settings.OutputMode == "json" {
		env := model.Envelope{
			Version: model.EnvelopeVersion,
			Success: false,
			Error:   &model.ErrorBody{Code: code, Type: typ, Message: message},
			Meta: model.EnvelopeMeta{
				Timestamp: s.runner.now().UTC(),
				Command:   s.lastCommand,
			},
		}
		enc := json.NewEncoder(s.runner.stderr)
		enc.SetIndent("", "  ")
		_ = enc.Encode(env)
		return
	}
	_, _ = fmt.Fprintf(s.runner.stderr, "error: %s\n", message)
}

func newVerboseLogger(w io.Writer) *zap.Logger {
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.AddSync(w),
		zapcore.DebugLevel,
	)
	return zap.New(core)
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return apperrors.Wrap(apperrors.CodeUsage, "invalid command input", err)
	}
	return apperrors.Wrap(apperrors.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}
