package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ragchat/internal/config"
	"ragchat/internal/logging"
)

var (
	cfgFile string
	verbose bool
	cfg     *config.AppConfig
	cfgPath string
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ragchat",
	Short: "Conversational assistant over a financial document collection",
	Long: `ragchat answers questions about a collection of financial documents.
Each answer is grounded in passages retrieved from a search service and lists
the documents it drew from.

Example usage:
  ragchat chat                                  # Interactive terminal chat
  ragchat ask "What was food delivery revenue?" # One-shot question
  ragchat docs --urls                           # List documents with links`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
			cfgPath = cfgFile
		} else {
			cfg, cfgPath, err = config.LoadDefault()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logger, err = logging.New(cfg.Logging, verbose && cmd.Name() != "chat")
		if err != nil {
			return fmt.Errorf("failed to init logger: %w", err)
		}
		logger.Debug("config loaded", zap.String("path", cfgPath))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml, then ~/.config/ragchat/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "also log to stderr (not in chat mode)")
}
