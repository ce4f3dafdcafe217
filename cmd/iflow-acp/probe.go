package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ricochet1k/iflowacp/internal/config"
	"github.com/ricochet1k/iflowacp/internal/provider/process"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Report whether an agent port is accepting connections",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		port := wsPort
		if port == 0 && wsURL != "" {
			port = config.ParsePort(wsURL)
		}
		if port == 0 {
			port = config.DefaultPort
		}

		out := cmd.OutOrStdout()
		if process.IsPortListening(port) {
			fmt.Fprintf(out, "port %d: listening (%s)\n", port, config.WebSocketURL(port))
			return nil
		}
		fmt.Fprintf(out, "port %d: not listening\n", port)
		return fmt.Errorf("nothing is listening on port %d", port)
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
}
