package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/timmy/nagato/internal/service"
)

type predictFlags struct {
	provider  string
	model     string
	system    string
	maxTokens int
	stream    bool
}

func (f *predictFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.provider, "provider", "p", "", "query provider (default from config)")
	cmd.Flags().StringVarP(&f.model, "model", "m", "", "model or fine-tuned model id (default from config)")
	cmd.Flags().StringVar(&f.system, "system", "", "system prompt")
	cmd.Flags().IntVar(&f.maxTokens, "max-tokens", 0, "completion token limit")
	cmd.Flags().BoolVar(&f.stream, "stream", false, "print tokens as they arrive")
}

func (f *predictFlags) request(input string, out io.Writer) service.PredictRequest {
	req := service.PredictRequest{
		Input:        input,
		SystemPrompt: f.system,
		MaxTokens:    f.maxTokens,
		Stream:       f.stream,
	}
	if f.stream {
		req.Sink = func(chunk string) error {
			_, err := io.WriteString(out, chunk)
			return err
		}
	}
	return req
}

func newPredictCmd(s *state) *cobra.Command {
	var flags predictFlags

	cmd := &cobra.Command{
		Use:   "predict <input>",
		Short: "Run a completion against a hosted model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			text, err := s.app.QueryService.Predict(cmd.Context(), flags.provider, flags.model, flags.request(args[0], out))
			if err != nil {
				return err
			}
			if !flags.stream {
				fmt.Fprint(out, text)
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newQueryCmd(s *state) *cobra.Command {
	var (
		flags  predictFlags
		opts   = service.DefaultRetrieveOptions()
		answer bool
	)

	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Search a namespace and optionally answer from the matches",
		Long: `Search the vector store for chunks similar to the question. With --answer the
matches are passed as context to the query model.

Examples:
  nagato query "how are refunds handled?" --namespace 3f6c...
  nagato query "how are refunds handled?" --namespace 3f6c... --answer --stream`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if opts.Namespace == "" {
				opts.Namespace = s.app.Config.Query.DefaultNamespace
			}

			if !answer {
				result, err := s.app.QueryService.Retrieve(ctx, args[0], opts)
				if err != nil {
					return err
				}
				if len(result.Matches) == 0 {
					fmt.Fprintln(out, "No matches found.")
					return nil
				}
				for i, m := range result.Matches {
					fmt.Fprintf(out, "%d. %s (score %.3f)\n   %s\n", i+1, m.ID, m.Score, m.Text())
				}
				return nil
			}

			result, err := s.app.QueryService.Ask(ctx, service.AskRequest{
				PredictRequest: flags.request(args[0], out),
				Provider:       flags.provider,
				Model:          flags.model,
				Retrieve:       opts,
			})
			if err != nil {
				return err
			}
			if !flags.stream {
				fmt.Fprint(out, result.Output)
			}
			fmt.Fprintf(out, "\n\nSources: %d chunks\n", len(result.Matches))
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&opts.Namespace, "namespace", "", "namespace to search, usually a record id")
	cmd.Flags().StringVar(&opts.EmbeddingModel, "embedding-model", "", "embedding model (default from config)")
	cmd.Flags().StringVar(&opts.VectorStore, "vector-store", "", "QDRANT, PINECONE or MEMORY (default from config)")
	cmd.Flags().IntVarP(&opts.TopK, "top-k", "k", service.DefaultTopK, "number of matches")
	cmd.Flags().BoolVar(&opts.Rerank, "rerank", true, "rerank matches by term overlap")
	cmd.Flags().BoolVar(&answer, "answer", false, "answer the question from the matches")
	return cmd
}
