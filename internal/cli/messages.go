package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/projecthub/hubchat/internal/format"
	"github.com/projecthub/hubchat/internal/history"
	"github.com/projecthub/hubchat/internal/models"
	"github.com/spf13/cobra"
)

var (
	messagesMarkRead bool
	messagesLimit    int
)

var messagesCmd = &cobra.Command{
	Use:   "messages <conversation-id>",
	Short: "Show the message history of a conversation",
	Long: `Show the message history of a conversation, oldest first.
Deleted messages are shown as a placeholder.

Examples:
  hubchat messages 42
  hubchat messages 42 --mark-read
  hubchat messages 42 -n 20`,
	Args: cobra.ExactArgs(1),
	RunE: runMessages,
}

var readCmd = &cobra.Command{
	Use:   "read <conversation-id>",
	Short: "Mark a conversation as read",
	Args:  cobra.ExactArgs(1),
	RunE:  runRead,
}

func init() {
	messagesCmd.Flags().BoolVar(&messagesMarkRead, "mark-read", false, "mark the conversation as read")
	messagesCmd.Flags().IntVarP(&messagesLimit, "limit", "n", 0, "only the last n messages (0 = all)")
}

func runMessages(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	id := models.ID(args[0])

	cache := history.NewCache(apiClient, sess.Identity.UserID, logger)
	if err := cache.Open(ctx, id); err != nil {
		return err
	}

	msgs := cache.Snapshot().Messages
	if messagesLimit > 0 && len(msgs) > messagesLimit {
		msgs = msgs[len(msgs)-messagesLimit:]
	}

	out := cmd.OutOrStdout()
	if len(msgs) == 0 {
		fmt.Fprintln(out, "No messages yet.")
	} else {
		now := time.Now()
		for _, m := range msgs {
			printMessage(out, m, sess.Identity.UserID, now)
		}
	}

	if messagesMarkRead {
		if err := newStore().MarkRead(ctx, id); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
		}
	}
	return nil
}

func runRead(cmd *cobra.Command, args []string) error {
	if err := newStore().MarkRead(context.Background(), models.ID(args[0])); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Marked %s as read.\n", args[0])
	return nil
}

func senderName(m models.Message, viewer models.ID) string {
	switch {
	case models.SameID(m.Sender.UserID, viewer):
		return "You"
	case m.Sender.DisplayName != "":
		return m.Sender.DisplayName
	default:
		return m.Sender.UserID.String()
	}
}

func printMessage(w io.Writer, m models.Message, viewer models.ID, now time.Time) {
	fmt.Fprintf(w, "[%s] %s: %s\n", format.Timestamp(m.SentAt, now), senderName(m, viewer), format.MessageBody(m))
	for _, a := range m.VisibleAttachments() {
		fmt.Fprintf(w, "    📎 %s\n", format.Attachment(a))
		if verbose && a.FileURL != "" {
			fmt.Fprintf(w, "       %s\n", a.FileURL)
		}
	}
}
