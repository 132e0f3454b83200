// Package cli implements the gema-grader command line tool for grading exam
// documents without the HTTP server.
package cli

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/noah-isme/gema-exam-grader/internal/app"
	"github.com/noah-isme/gema-exam-grader/internal/config"
	"github.com/noah-isme/gema-exam-grader/internal/grading"
)

// EvaluatorFactory builds the document evaluator used by the grade command.
type EvaluatorFactory func(ctx context.Context, cfg config.Config, logger zerolog.Logger) (grading.DocumentEvaluator, error)

// Options overrides the defaults the commands run with.
type Options struct {
	Out          io.Writer
	LoadConfig   func() (config.Config, error)
	NewEvaluator EvaluatorFactory
}

type runtime struct {
	opts   Options
	cfg    config.Config
	logger zerolog.Logger
}

// NewRootCommand assembles the command tree.
func NewRootCommand(opts Options) *cobra.Command {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.LoadConfig == nil {
		opts.LoadConfig = config.Load
	}
	if opts.NewEvaluator == nil {
		opts.NewEvaluator = func(ctx context.Context, cfg config.Config, logger zerolog.Logger) (grading.DocumentEvaluator, error) {
			return app.NewEvaluator(ctx, cfg, logger)
		}
	}

	rt := &runtime{opts: opts, logger: zerolog.Nop()}

	root := &cobra.Command{
		Use:           "gema-grader",
		Short:         "Grade exam documents against a weighted rubric",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rt.opts.LoadConfig()
			if err != nil {
				return err
			}
			rt.cfg = cfg

			level := zerolog.WarnLevel
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				level = zerolog.DebugLevel
			}
			rt.logger = zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).Level(level).With().Timestamp().Logger()
			return nil
		},
	}
	root.SetOut(opts.Out)
	root.PersistentFlags().Bool("debug", false, "enable debug logging")

	root.AddCommand(newSegmentCommand(rt), newGradeCommand(rt), newTokenCommand(rt))
	return root
}

func writeJSON(cmd *cobra.Command, value any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
