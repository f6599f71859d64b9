package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"lathe/internal/api"
)

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <batch-id|task-id>",
		Short: "Request cancellation of a batch or task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := ctx.apiClient()
			if err != nil {
				return err
			}
			var resp api.CancelResponse
			if taskID, parseErr := strconv.ParseInt(args[0], 10, 64); parseErr == nil {
				resp, err = cli.CancelTask(cmd.Context(), taskID)
			} else {
				resp, err = cli.CancelBatch(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}

			stdout := cmd.OutOrStdout()
			if len(resp.Cancelled) == 0 {
				fmt.Fprintln(stdout, "Cancellation requested; in-flight work stops at the next checkpoint")
				return nil
			}
			fmt.Fprintf(stdout, "Cancelled %d task(s)\n", len(resp.Cancelled))
			return nil
		},
	}
}
