// Package cli provides the command-line interface for nagato.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/timmy/nagato/internal/app"
	"github.com/timmy/nagato/internal/config"
	"github.com/timmy/nagato/internal/logger"
)

// Version is set at build time.
var Version = "0.1.0"

// state is shared by every subcommand of one invocation.
type state struct {
	configPath string
	dbDriver   string
	verbose    bool

	app *app.App
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	s := &state{}

	root := &cobra.Command{
		Use:   "nagato",
		Short: "Ingest documents into vector stores and fine-tuned models",
		Long: `nagato chunks a document, embeds it into a vector store and synthesizes a
question/answer dataset from it to fine-tune a hosted model.

The same pipeline is served over HTTP by the api command.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" || cmd.Name() == "help" {
				return nil
			}
			return s.open(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			s.close()
		},
	}

	root.PersistentFlags().StringVarP(&s.configPath, "config", "c", "", "path to config file")
	root.PersistentFlags().StringVar(&s.dbDriver, "db", "", "override database.driver (postgres, sqlite, memory)")
	root.PersistentFlags().BoolVarP(&s.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newRunCmd(s),
		newEmbedCmd(s),
		newFinetuneCmd(s),
		newBatchCmd(s),
		newResumeCmd(s),
		newPredictCmd(s),
		newQueryCmd(s),
		newReconcileCmd(s),
	)
	return root
}

// Execute runs the CLI with ctx.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func (s *state) open(ctx context.Context) error {
	if s.verbose {
		env := logger.LoadFromEnv()
		env.Level = "debug"
		logger.SetDefaultLogger(logger.NewFromEnv(env))
	}

	cfg, err := config.Load(s.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if s.dbDriver != "" {
		cfg.Database.Driver = s.dbDriver
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	s.app, err = app.New(ctx, cfg)
	if err != nil {
		return err
	}
	return nil
}

func (s *state) close() {
	if s.app != nil {
		s.app.Close()
		s.app = nil
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
