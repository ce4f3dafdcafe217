// acp-mockpeer serves a scripted ACP peer over WebSocket on /acp, the way
// `iflow --experimental-acp --port N` does. It is meant for trying the client
// without an agent installed.
//
// Usage:
//
//	acp-mockpeer --port 8090 [--require-auth] [--ask-permission write]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ricochet1k/iflowacp/internal/config"
	"github.com/ricochet1k/iflowacp/internal/logging"
	"github.com/ricochet1k/iflowacp/internal/mockpeer"
	"github.com/ricochet1k/iflowacp/internal/provider/process"
)

func main() {
	var (
		port          int
		requireAuth   bool
		askPermission string
		stopReason    string
		logLevel      string
	)

	cmd := &cobra.Command{
		Use:           "acp-mockpeer",
		Short:         "Serve a scripted ACP peer over WebSocket",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := logging.New(config.Logging{Enabled: true, Level: logLevel, Development: true})
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if process.IsPortListening(port) {
				return fmt.Errorf("port %d is already in use", port)
			}

			script := mockpeer.Script{
				Chatter:     []string{"//mockpeer starting"},
				RequireAuth: requireAuth,
				StopReason:  stopReason,
				Updates: func(prompt string) []map[string]any {
					return []map[string]any{
						mockpeer.Plan([3]string{"read the prompt", "high", "completed"}, [3]string{"echo it", "medium", "in_progress"}),
						mockpeer.ToolCall("call-1", "echo", "completed"),
						mockpeer.TextChunk("you said: "),
						mockpeer.TextChunk(prompt),
					}
				},
			}
			if askPermission != "" {
				script.Permission = &mockpeer.PermissionAsk{
					Title:   "Mock " + askPermission,
					Type:    askPermission,
					Options: []string{"proceed_once", "proceed_always", "cancel"},
				}
			}

			srv := mockpeer.New(script, logger)
			if err := srv.Start(fmt.Sprintf("127.0.0.1:%d", port)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), srv.URL())

			<-cmd.Context().Done()
			logger.Info("shutting down")

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn("shutdown", zap.Error(err))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", config.DefaultPort, "port to listen on")
	cmd.Flags().BoolVar(&requireAuth, "require-auth", false, "report isAuthenticated=false from initialize")
	cmd.Flags().StringVar(&askPermission, "ask-permission", "", "tool type to request permission for during each prompt")
	cmd.Flags().StringVar(&stopReason, "stop-reason", "", "stopReason to put on prompt responses")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug|info|warn|error)")
	// Accepted so the binary can replace `iflow` as the process command.
	cmd.Flags().Bool("experimental-acp", false, "ignored")
	_ = cmd.Flags().MarkHidden("experimental-acp")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "acp-mockpeer:", err)
		os.Exit(1)
	}
}
