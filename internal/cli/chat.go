package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/projecthub/hubchat/internal/chat"
	"github.com/projecthub/hubchat/internal/models"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var chatCmd = &cobra.Command{
	Use:   "chat [conversation-id]",
	Short: "Open the interactive conversation view",
	Long: `Open the interactive conversation view: a sidebar of conversations with
unread counts, the open conversation's history and a composer. New messages,
edits and deletions arrive live.

Logs go to the log file only while the view is open.

Examples:
  hubchat chat
  hubchat chat 42`,
	Args: cobra.MaximumNArgs(1),
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("chat needs a terminal; use 'hubchat follow' for piped output")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	bridge := newBridge()
	view := chat.New(apiClient, bridge, sess.Identity.UserID, logger)

	// Subscribe before connecting so no early event is missed.
	if err := view.Start(ctx); err != nil {
		logger.Warn("initial conversation load failed", "error", err)
	}
	defer view.Stop()

	if err := bridge.Connect(sess.Identity); err != nil {
		return err
	}
	defer bridge.Disconnect()

	var open models.ID
	if len(args) == 1 {
		open = models.ID(args[0])
	}
	return RunChat(ctx, view, open)
}
