package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"lathe/internal/client"
	"lathe/internal/progress"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <batch-id|task-id>",
		Short: "Follow live progress for a batch or task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := ctx.apiClient()
			if err != nil {
				return err
			}
			if taskID, parseErr := strconv.ParseInt(args[0], 10, 64); parseErr == nil {
				return cli.WatchTask(cmd.Context(), taskID, func(evt progress.Event) {
					printEvent(cmd, evt)
				})
			}
			return watchBatch(cmd, cli, args[0])
		},
	}
}

func watchBatch(cmd *cobra.Command, cli *client.Client, batchID string) error {
	return cli.WatchBatch(cmd.Context(), batchID, func(evt progress.Event) {
		printEvent(cmd, evt)
	})
}

func printEvent(cmd *cobra.Command, evt progress.Event) {
	stdout := cmd.OutOrStdout()
	switch evt.Type {
	case progress.EventTask:
		if evt.Task == nil {
			return
		}
		task := evt.Task
		line := fmt.Sprintf("task %d  %-10s %3.0f%%", task.TaskID, task.Status, task.Percent)
		if task.Message != "" {
			line += "  " + task.Message
		}
		if task.ErrorMessage != "" {
			line += "  " + task.ErrorMessage
		}
		fmt.Fprintln(stdout, line)
	case progress.EventBatch:
		if evt.Batch == nil {
			return
		}
		batch := evt.Batch
		fmt.Fprintf(stdout, "batch %s  %-10s %3.0f%%  %d/%d done\n",
			batch.BatchID, batch.Status, batch.Percent,
			batch.Succeeded+batch.Failed+batch.Cancelled, batch.Total)
	}
}
