package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ricochet1k/iflowacp/pkg/iflow"
)

var streamJSON bool

var streamCmd = &cobra.Command{
	Use:   "stream <prompt>...",
	Short: "Send one prompt and print every event as it arrives",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := loadOptions(cmd.Flags())
		if err != nil {
			return err
		}
		client, logger, err := newClient(opts)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
		defer func() { _ = client.Close() }()

		ctx := cmd.Context()
		if err := client.Connect(ctx); err != nil {
			return err
		}

		sendDone := make(chan error, 1)
		go func() { sendDone <- client.Send(ctx, strings.Join(args, " ")) }()

		out := cmd.OutOrStdout()
		for {
			select {
			case err := <-sendDone:
				if err != nil {
					return err
				}
				sendDone = nil
			case ev, ok := <-client.Events():
				if !ok {
					return nil
				}
				if err := printEvent(out, ev); err != nil {
					return err
				}
				if ev.Type == iflow.EventTypeTaskFinished {
					if sendDone != nil {
						return <-sendDone
					}
					return nil
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(streamCmd)
	streamCmd.Flags().BoolVar(&streamJSON, "json", false, "print events as JSON lines")
}

func printEvent(w io.Writer, ev iflow.Event) error {
	if streamJSON {
		return json.NewEncoder(w).Encode(map[string]any{
			"type":       ev.Type.String(),
			"session_id": ev.SessionID,
			"timestamp":  ev.Timestamp,
			"data":       ev.Data,
		})
	}

	var err error
	switch d := ev.Data.(type) {
	case iflow.TextData:
		if ev.Type == iflow.EventTypeUserText {
			_, err = fmt.Fprintf(w, "> %s\n", d.Content)
		} else {
			_, err = fmt.Fprint(w, d.Content)
		}
	case iflow.ToolCallData:
		_, err = fmt.Fprintf(w, "\n[tool %s] %s (%s)\n", d.ID, d.Name, d.Status)
	case iflow.PlanData:
		for _, e := range d.Entries {
			if _, err = fmt.Fprintf(w, "[plan %s/%s] %s\n", e.Priority, e.Status, e.Content); err != nil {
				return err
			}
		}
	case iflow.TaskFinishedData:
		_, err = fmt.Fprintf(w, "\n[finished: %s]\n", d.Reason)
	case iflow.ErrorData:
		_, err = fmt.Fprintf(w, "\n[error %d] %s\n", d.Code, d.Message)
	}
	return err
}
