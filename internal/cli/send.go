package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/projecthub/hubchat/internal/client"
	"github.com/projecthub/hubchat/internal/composer"
	"github.com/projecthub/hubchat/internal/format"
	"github.com/projecthub/hubchat/internal/models"
	"github.com/spf13/cobra"
)

var sendAttach []string

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> [text]",
	Short: "Send a message",
	Long: `Send a text message, optionally with attachments. Use "-" as text to
read it from stdin. Attachments are uploaded in the same request.

Examples:
  hubchat send 42 "Deployed to staging"
  hubchat send 42 "Invoice attached" --attach invoice.pdf
  hubchat send 42 --attach a.png --attach b.png
  git log -1 | hubchat send 42 -`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringArrayVarP(&sendAttach, "attach", "a", nil, "file to attach (repeatable)")
}

func runSend(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	id := models.ID(args[0])

	text := ""
	if len(args) > 1 {
		text = args[1]
	}
	if text == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		text = strings.TrimRight(string(data), "\n")
	}

	uploads := make([]client.Upload, 0, len(sendAttach))
	for _, path := range sendAttach {
		u, err := client.FileUpload(path)
		if err != nil {
			return err
		}
		uploads = append(uploads, u)
	}

	msg, err := composer.New(apiClient, nil, logger).Send(ctx, id, text, uploads)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Sent message %s\n", msg.ID)
	for _, a := range msg.Attachments {
		fmt.Fprintf(out, "  📎 %s\n", format.Attachment(a))
	}
	return nil
}
