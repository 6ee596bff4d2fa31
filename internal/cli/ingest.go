package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/timmy/nagato/internal/service"
)

func newRunCmd(s *state) *cobra.Command {
	var (
		req  service.IngestRequest
		file string
		wait bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest one document and run both flows",
		Long: `Ingest a document given by --url or --file, then build its embeddings and
fine-tune dataset. By default the command waits for both flows and prints
the final record.

Examples:
  nagato run --type PDF --url https://example.com/guide.pdf --provider OPENAI --base-model GPT_35_TURBO
  nagato run --type TXT --file notes.txt --provider REPLICATE --base-model LLAMA2_7B_CHAT`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				body, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read %s: %w", file, err)
				}
				req.Content = string(body)
			}

			ctx := cmd.Context()
			rec, err := s.app.Orchestrator.Ingest(ctx, req)
			if err != nil {
				return err
			}
			if !wait {
				return printJSON(cmd.OutOrStdout(), rec)
			}

			s.app.Orchestrator.Wait()
			rec, err = s.app.Orchestrator.Get(ctx, rec.ID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}

	cmd.Flags().StringVarP(&req.Type, "type", "t", "TXT", "document type (TXT, PDF, MARKDOWN)")
	cmd.Flags().StringVar(&req.URL, "url", "", "document url (http, https, s3, or file:// inside pipeline.staging_path or pipeline.local_roots)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the document body from a local file")
	cmd.Flags().StringVarP(&req.Provider, "provider", "p", "OPENAI", "fine-tune provider (OPENAI, REPLICATE)")
	cmd.Flags().StringVarP(&req.BaseModel, "base-model", "m", "GPT_35_TURBO", "base model to fine-tune")
	cmd.Flags().StringVar(&req.EmbeddingModel, "embedding-model", "", "embedding model (default from config)")
	cmd.Flags().StringVar(&req.WebhookURL, "webhook-url", "", "notify this url with the submitted job")
	cmd.Flags().BoolVar(&wait, "wait", true, "wait for both flows before printing")
	cmd.MarkFlagsMutuallyExclusive("url", "file")
	cmd.MarkFlagsOneRequired("url", "file")
	return cmd
}

func newEmbedCmd(s *state) *cobra.Command {
	return &cobra.Command{
		Use:   "embed <record-id>",
		Short: "Rebuild the embeddings of an existing record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rec, err := s.app.Orchestrator.Get(ctx, args[0])
			if err != nil {
				return err
			}
			n, err := s.app.Orchestrator.BuildEmbeddings(ctx, rec)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Upserted %d embeddings into namespace %s\n", n, rec.ID)
			return nil
		},
	}
}

func newFinetuneCmd(s *state) *cobra.Command {
	return &cobra.Command{
		Use:   "finetune <record-id>",
		Short: "Synthesize a dataset for a record and submit a fine-tune job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rec, err := s.app.Orchestrator.Get(ctx, args[0])
			if err != nil {
				return err
			}
			job, err := s.app.Orchestrator.BuildFinetune(ctx, rec)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}
}

func newBatchCmd(s *state) *cobra.Command {
	var (
		sourceID string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Ingest documents from a staged manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, ok := s.app.Sources[sourceID]
			if !ok {
				return fmt.Errorf("unknown source %q (staging path %s)", sourceID, s.app.Config.Pipeline.StagingPath)
			}

			ctx := cmd.Context()
			stats, err := s.app.Ingest.IngestFromSource(ctx, src, limit)
			if err != nil {
				return err
			}
			s.app.Orchestrator.Wait()
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}

	cmd.Flags().StringVarP(&sourceID, "source", "s", "", "staged source id")
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "maximum number of documents")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func newResumeCmd(s *state) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Restart fine-tuning for pending records that never got a job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := s.app.Orchestrator.ResumePending(cmd.Context(), limit)
			if err != nil {
				return err
			}
			s.app.Orchestrator.Wait()
			fmt.Fprintf(cmd.OutOrStdout(), "Resumed %d records\n", n)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of records (0 for all)")
	return cmd
}
