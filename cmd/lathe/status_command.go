package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"lathe/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <batch-id|task-id>",
		Short: "Show the current state of a batch or task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := ctx.apiClient()
			if err != nil {
				return err
			}
			if taskID, parseErr := strconv.ParseInt(args[0], 10, 64); parseErr == nil {
				resp, err := cli.Task(cmd.Context(), taskID)
				if err != nil {
					return err
				}
				printTaskTable(cmd, []api.Task{resp.Task})
				return nil
			}

			resp, err := cli.Batch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printBatchSummary(cmd, resp.Batch)
			printTaskTable(cmd, resp.Tasks)
			return nil
		},
	}
}

func printBatchSummary(cmd *cobra.Command, batch api.Batch) {
	stdout := cmd.OutOrStdout()
	fmt.Fprintf(stdout, "Batch %s: %s (%d total, %d succeeded, %d failed, %d cancelled)\n",
		batch.ID, batch.Status, batch.Total, batch.Succeeded, batch.Failed, batch.Cancelled)
	if batch.CompletedAt != "" {
		fmt.Fprintf(stdout, "Completed at %s\n", batch.CompletedAt)
	}
}

func printTaskTable(cmd *cobra.Command, tasks []api.Task) {
	rows := make([][]string, 0, len(tasks))
	for _, task := range tasks {
		detail := task.Message
		if task.Status == "failed" && task.ErrorMessage != "" {
			detail = task.ErrorMessage
		}
		if task.Status == "succeeded" && task.ResultRef != "" {
			detail = task.ResultRef
		}
		rows = append(rows, []string{
			strconv.FormatInt(task.ID, 10),
			task.Kind,
			task.Queue,
			task.Status,
			fmt.Sprintf("%.0f%%", task.Percent),
			strconv.Itoa(task.Attempts),
			detail,
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"Task", "Kind", "Queue", "Status", "Progress", "Attempts", "Detail"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	))
}
