package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/projecthub/hubchat/internal/format"
	"github.com/projecthub/hubchat/internal/models"
	"github.com/projecthub/hubchat/internal/realtime"
	"github.com/spf13/cobra"
)

var followConversation string

var followCmd = &cobra.Command{
	Use:   "follow",
	Short: "Print live message events as they arrive",
	Long: `Connect to the realtime channel and print new, edited and deleted
messages until interrupted. The connection is re-established automatically.

Examples:
  hubchat follow
  hubchat follow --conversation 42`,
	Args: cobra.NoArgs,
	RunE: runFollow,
}

func init() {
	followCmd.Flags().StringVar(&followConversation, "conversation", "", "only events for this conversation")
}

func runFollow(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	var mu sync.Mutex
	printf := func(layout string, a ...any) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, layout, a...)
	}

	bridge := newBridge()
	unwatch := bridge.Watch(func(s realtime.State) {
		printf("* %s\n", s)
	})
	defer unwatch()
	unsub := bridge.Subscribe(func(ev models.Event) {
		if followConversation != "" && ev.ConversationID != "" &&
			!models.SameID(ev.ConversationID, models.ID(followConversation)) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		printEvent(out, ev, sess.Identity.UserID, time.Now())
	})
	defer unsub()

	if err := bridge.Connect(sess.Identity); err != nil {
		return err
	}
	<-ctx.Done()
	bridge.Disconnect()

	// With -v the root command prints these already.
	if !verbose {
		printStats(cmd.ErrOrStderr(), stats.Snapshot())
	}
	return nil
}

func printEvent(w io.Writer, ev models.Event, viewer models.ID, now time.Time) {
	switch ev.Type {
	case models.EventNewMessage:
		fmt.Fprintf(w, "+ [%s] #%s ", ev.ConversationID, ev.Message.ID)
		printMessage(w, *ev.Message, viewer, now)
	case models.EventMessageUpdated:
		fmt.Fprintf(w, "~ #%s %s\n", ev.Message.ID, format.Preview(ev.Message.Content, 80))
	case models.EventMessageDeleted:
		fmt.Fprintf(w, "- #%s deleted\n", ev.MessageID)
	}
}
