package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/projecthub/hubchat/internal/conversation"
	"github.com/projecthub/hubchat/internal/format"
	"github.com/projecthub/hubchat/internal/models"
	"github.com/spf13/cobra"
)

var conversationsUnread bool

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"ls"},
	Short:   "List conversations, most recent first",
	Long: `List your direct and group conversations ordered by their latest message,
with unread counts.

Examples:
  hubchat conversations
  hubchat ls --unread
  hubchat conversations -v`,
	Args: cobra.NoArgs,
	RunE: runConversations,
}

func init() {
	conversationsCmd.Flags().BoolVarP(&conversationsUnread, "unread", "u", false, "only conversations with unread messages")
}

func newStore() *conversation.Store {
	return conversation.NewStore(apiClient, sess.Identity.UserID, logger)
}

func runConversations(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	store := newStore()
	if err := store.LoadAll(ctx); err != nil {
		return err
	}

	convs := store.List()
	if conversationsUnread {
		filtered := convs[:0]
		for _, c := range convs {
			if c.UnreadCount > 0 {
				filtered = append(filtered, c)
			}
		}
		convs = filtered
	}

	out := cmd.OutOrStdout()
	if len(convs) == 0 {
		fmt.Fprintln(out, "No conversations found.")
		return nil
	}

	fmt.Fprintf(out, "Conversations (%d, %d unread):\n\n", len(convs), store.TotalUnread())
	now := time.Now()
	for _, c := range convs {
		printConversation(out, c, sess.Identity.UserID, now)
	}
	return nil
}

func printConversation(w io.Writer, c models.Conversation, viewer models.ID, now time.Time) {
	badge := ""
	if b := format.UnreadBadge(c.UnreadCount); b != "" {
		badge = " (" + b + ")"
	}
	kind := ""
	if c.IsGroup() {
		kind = " [group]"
	}

	when := ""
	if c.HasMessages() {
		when = "  " + format.Timestamp(c.LastMessage.SentAt, now)
	}
	fmt.Fprintf(w, "- %s%s%s  %s%s\n", c.Title(viewer), kind, badge, c.ID, when)
	fmt.Fprintf(w, "  %s\n", format.LastMessage(c.LastMessage, viewer, 60))

	if verbose {
		if c.Description != "" {
			fmt.Fprintf(w, "  %s\n", c.Description)
		}
		for _, p := range c.Participants {
			fmt.Fprintf(w, "  · %s (%s)\n", p.DisplayName, p.UserID)
		}
	}
}
