package cli

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ragchat/internal/tui"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Start the terminal chat. Type a question and press Enter; slash commands
change the model, filters and flags (/help lists them). ctrl+l clears the
conversation, ctrl+c quits.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	stop := serveMetrics(cfg.Metrics.Addr, logger)
	defer stop()

	ctl := a.newSession()
	logger.Info("chat session started", zap.String("session_id", ctl.SessionID()))
	m := tui.New(ctl, a.catalog, a.urlExpiry, logger)
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	return nil
}
