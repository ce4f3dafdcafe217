package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ricochet1k/iflowacp/internal/logging"
	"github.com/ricochet1k/iflowacp/pkg/iflow"
)

var queryCmd = &cobra.Command{
	Use:   "query <prompt>...",
	Short: "Send one prompt and print the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := loadOptions(cmd.Flags())
		if err != nil {
			return err
		}
		logger, err := logging.New(opts.Logging)
		if err != nil {
			return fmt.Errorf("logging: %w", err)
		}
		defer func() { _ = logger.Sync() }()

		answer, err := iflow.Query(cmd.Context(), strings.Join(args, " "), opts, iflow.WithLogger(logger))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), answer)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(queryCmd)
}
