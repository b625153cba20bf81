// Package cli provides the command-line interface for hubchat.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/projecthub/hubchat/internal/client"
	"github.com/projecthub/hubchat/internal/config"
	"github.com/projecthub/hubchat/internal/metrics"
	"github.com/projecthub/hubchat/internal/models"
	"github.com/projecthub/hubchat/internal/realtime"
	"github.com/projecthub/hubchat/internal/session"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose    bool
	configPath string

	// Global config, session and REST client
	cfg       config.Config
	logger    *slog.Logger
	closeLog  func() error
	sess      session.Session
	apiClient *client.Client
	stats     *metrics.Collector
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "hubchat",
	Short: "ProjectHub messaging from the terminal",
	Long: `hubchat is a terminal client for ProjectHub conversations.

It lists your direct and group conversations with unread counts, shows
message history, sends messages and attachments, and follows live events
over the realtime channel.

Configuration is read from --config (YAML), a .env file and HUBCHAT_*
environment variables. At minimum HUBCHAT_TOKEN must be set.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip session setup for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		level := cfg.Level()
		if verbose {
			level = slog.LevelDebug
		}
		// The interactive view owns the terminal.
		if cmd.Name() == "chat" {
			logger, closeLog = config.SetupFileLogger(cfg.LogFile, level)
		} else {
			logger, closeLog = config.SetupLogger(cfg.LogFile, level)
		}

		if cmd.Name() == "config" {
			return nil
		}

		sess, err = session.Resolve(cfg.Token, models.ID(cfg.UserID), cfg.Role, time.Now())
		if err != nil {
			return fmt.Errorf("resolve session (set HUBCHAT_TOKEN): %w", err)
		}

		stats = metrics.NewCollector()
		apiClient = client.New(cfg.APIURL, sess.Token,
			client.WithLogger(logger),
			client.WithMetrics(stats),
			client.WithTimeout(cfg.Timeout),
		)
		logger.Debug("session ready", "user_id", sess.Identity.UserID, "role", sess.Identity.Role, "api", cfg.APIURL)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if verbose && stats != nil {
			printStats(cmd.ErrOrStderr(), stats.Snapshot())
		}
		if closeLog != nil {
			if err := closeLog(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

// newBridge creates the realtime bridge for the current session.
func newBridge() *realtime.Bridge {
	return realtime.NewBridge(
		realtime.WebsocketDialer{URL: cfg.SocketURL, Token: sess.Token},
		realtime.WithLogger(logger),
		realtime.WithBackoff(cfg.ReconnectInitial, cfg.ReconnectMax),
		realtime.WithMetrics(stats),
	)
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output and request statistics")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	// Add subcommands
	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(dmCmd)
	rootCmd.AddCommand(groupCmd)
	rootCmd.AddCommand(followCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(configCmd)
}
