package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var docsURLs bool

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "List the documents available to the assistant",
	Args:  cobra.NoArgs,
	RunE:  runDocs,
}

func init() {
	rootCmd.AddCommand(docsCmd)
	docsCmd.Flags().BoolVar(&docsURLs, "urls", false, "resolve a download link for each document")
}

func runDocs(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	docs, err := a.catalog.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}
	if len(docs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No documents available.")
		return nil
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tSIZE\tLAST MODIFIED")
	for _, d := range docs {
		modified := "-"
		if !d.LastModified.IsZero() {
			modified = d.LastModified.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\n", d.Path, d.Size, modified)
		if docsURLs {
			u, err := a.catalog.PresignedURL(cmd.Context(), d.Path, a.urlExpiry)
			if err != nil {
				logger.Warn("presigned url failed", zap.String("path", d.Path), zap.Error(err))
				continue
			}
			fmt.Fprintf(tw, "  %s\t\t\n", u)
		}
	}
	return tw.Flush()
}
