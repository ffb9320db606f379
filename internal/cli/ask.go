package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ragchat/internal/domain"
)

var (
	askModel   string
	askSegment string
	askMetric  string
	askDebug   bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a single question and exit",
	Long: `Answer one question against the document collection and print the answer
followed by its source documents.

Examples:
  ragchat ask "What was the GOV growth in quick commerce?"
  ragchat ask --segment "Food Delivery" --metric Revenue "How did revenue trend?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVarP(&askModel, "model", "m", "", "model to answer with (default from config)")
	askCmd.Flags().StringVar(&askSegment, "segment", "", "restrict retrieval to a business segment, or ALL")
	askCmd.Flags().StringVar(&askMetric, "metric", "", "restrict retrieval to a metric type, or ALL")
	askCmd.Flags().BoolVar(&askDebug, "debug", false, "print the search query and raw retrieval response")
}

func runAsk(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	ctl := a.newSession()
	if askModel != "" {
		if err := ctl.SelectModel(askModel); err != nil {
			return err
		}
	}
	if askSegment != "" {
		if err := ctl.SelectSegment(askSegment); err != nil {
			return err
		}
	}
	if askMetric != "" {
		if err := ctl.SelectMetric(askMetric); err != nil {
			return err
		}
	}

	question := strings.Join(args, " ")
	res, err := ctl.Run(cmd.Context(), question)
	out := cmd.OutOrStdout()
	if askDebug || cfg.Session.Debug {
		printTrace(out, res.Trace)
	}
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), domain.UserMessage(err))
		return err
	}

	fmt.Fprintln(out, res.Answer)
	fmt.Fprintln(out)
	if len(res.Sources) == 0 {
		fmt.Fprintln(out, "No source documents")
		return nil
	}
	fmt.Fprintln(out, "Sources:")
	for _, p := range res.Sources {
		fmt.Fprintf(out, "  %s\n", p)
		u, err := a.catalog.PresignedURL(cmd.Context(), p, a.urlExpiry)
		if err != nil {
			logger.Warn("presigned url failed", zap.String("path", p), zap.Error(err))
			continue
		}
		fmt.Fprintf(out, "    %s\n", u)
	}
	return nil
}

func printTrace(w io.Writer, tr domain.Trace) {
	fmt.Fprintf(w, "search query: %s\n", tr.SearchQuery)
	if tr.Rewritten || tr.RawRewrite != "" {
		fmt.Fprintf(w, "rewritten query (raw): %s\n", tr.RawRewrite)
	}
	if tr.RawRetrieval != "" {
		fmt.Fprintf(w, "retrieval response:\n%s\n", tr.RawRetrieval)
	}
	fmt.Fprintln(w)
}
