// Command iflow-acp talks to an ACP agent from the shell.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/ricochet1k/iflowacp/internal/config"
	"github.com/ricochet1k/iflowacp/internal/logging"
	"github.com/ricochet1k/iflowacp/pkg/iflow"
)

var (
	configPath     string
	wsURL          string
	wsPort         int
	useStdio       bool
	timeout        time.Duration
	permissionMode = config.PermissionAuto
	cwd            string
	command        string
	noAutoStart    bool
	logLevel       string
)

var rootCmd = &cobra.Command{
	Use:   "iflow-acp",
	Short: "Query an ACP agent over stdio or WebSocket",
	Long: `iflow-acp connects to an agent speaking the Agent Client Protocol,
starting "iflow --experimental-acp" itself unless told otherwise, and sends
it prompts. Settings come from --config and are overridden by flags.`,
	SilenceUsage: true,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&configPath, "config", "", "YAML config file")
	f.StringVar(&wsURL, "url", "", "WebSocket URL of the agent (implies WebSocket mode)")
	f.IntVar(&wsPort, "port", 0, "port to start the agent on in WebSocket mode (implies WebSocket mode)")
	f.BoolVar(&useStdio, "stdio", false, "force stdio mode")
	f.DurationVar(&timeout, "timeout", config.DefaultTimeout, "timeout for each protocol exchange")
	f.Var(&permissionMode, "permission-mode", "how tool permission requests are answered (auto|manual|selective)")
	f.StringVar(&cwd, "cwd", "", "working directory sent to the agent (default: current directory)")
	f.StringVar(&command, "command", "", "agent command to start (default: iflow)")
	f.BoolVar(&noAutoStart, "no-auto-start", false, "connect to a running agent instead of starting one")
	f.StringVar(&logLevel, "log-level", "", "log level (debug|info|warn|error); logging is off when unset")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadOptions merges --config with the flags that were set explicitly.
func loadOptions(flags *pflag.FlagSet) (iflow.Options, error) {
	opts := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return iflow.Options{}, err
		}
		opts = loaded
	}

	if flags.Changed("timeout") {
		opts.Timeout = timeout
	}
	if flags.Changed("permission-mode") {
		opts.PermissionMode = permissionMode
	}
	if flags.Changed("cwd") {
		opts.Cwd = cwd
	}
	if flags.Changed("command") {
		opts.Process.Command = command
	}
	if noAutoStart {
		opts.Process.AutoStart = false
	}
	if wsURL != "" || wsPort != 0 {
		if opts.WebSocket == nil {
			opts.WebSocket = config.DefaultWebSocket()
		}
		if wsURL != "" {
			opts.WebSocket.URL = wsURL
		}
		if wsPort != 0 {
			opts.Process.StartPort = wsPort
		}
	}
	if useStdio {
		opts.WebSocket = nil
	}
	if logLevel != "" {
		opts.Logging.Enabled = true
		opts.Logging.Level = logLevel
		opts.Logging.Development = true
	}
	return opts, opts.Validate()
}

func newClient(opts iflow.Options) (*iflow.Client, *zap.Logger, error) {
	logger, err := logging.New(opts.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("logging: %w", err)
	}
	return iflow.New(opts, iflow.WithLogger(logger)), logger, nil
}
